package events

import (
	"testing"

	"gather-events-backend/api/internal/models"
)

func intp(v int) *int { return &v }

func TestApplyMemberAdded(t *testing.T) {
	ev := &models.Event{}

	ApplyMemberAdded(ev, intp(30))
	if ev.MemberCount != 1 || ev.CumulativeAge != 30 || ev.AverageAge != 30 {
		t.Fatalf("after first join: count=%d cum=%d avg=%d", ev.MemberCount, ev.CumulativeAge, ev.AverageAge)
	}

	ApplyMemberAdded(ev, intp(20))
	if ev.MemberCount != 2 || ev.CumulativeAge != 50 || ev.AverageAge != 25 {
		t.Fatalf("after second join: count=%d cum=%d avg=%d", ev.MemberCount, ev.CumulativeAge, ev.AverageAge)
	}
}

func TestApplyMemberAddedUnknownAge(t *testing.T) {
	ev := &models.Event{MemberCount: 1, CumulativeAge: 40, AverageAge: 40}
	ApplyMemberAdded(ev, nil)
	if ev.MemberCount != 2 || ev.CumulativeAge != 40 || ev.AverageAge != 20 {
		t.Fatalf("nil age: count=%d cum=%d avg=%d", ev.MemberCount, ev.CumulativeAge, ev.AverageAge)
	}
}

func TestApplyMemberRemoved(t *testing.T) {
	ev := &models.Event{MemberCount: 2, CumulativeAge: 50, AverageAge: 25}

	ApplyMemberRemoved(ev, intp(20))
	if ev.MemberCount != 1 || ev.CumulativeAge != 30 || ev.AverageAge != 30 {
		t.Fatalf("after leave: count=%d cum=%d avg=%d", ev.MemberCount, ev.CumulativeAge, ev.AverageAge)
	}

	ApplyMemberRemoved(ev, intp(30))
	if ev.MemberCount != 0 || ev.CumulativeAge != 0 || ev.AverageAge != 0 {
		t.Fatalf("after last leave: count=%d cum=%d avg=%d", ev.MemberCount, ev.CumulativeAge, ev.AverageAge)
	}
}

func TestApplyMemberRemovedFloorsAtZero(t *testing.T) {
	ev := &models.Event{MemberCount: 0, CumulativeAge: 0}
	ApplyMemberRemoved(ev, intp(25))
	if ev.MemberCount != 0 || ev.CumulativeAge != 0 || ev.AverageAge != 0 {
		t.Fatalf("underflow: count=%d cum=%d avg=%d", ev.MemberCount, ev.CumulativeAge, ev.AverageAge)
	}

	ev = &models.Event{MemberCount: 2, CumulativeAge: 10}
	ApplyMemberRemoved(ev, intp(40))
	if ev.CumulativeAge != 0 {
		t.Fatalf("cumulative age went negative: %d", ev.CumulativeAge)
	}
}
