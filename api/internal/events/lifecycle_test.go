package events

import (
	"testing"

	"gather-events-backend/api/internal/models"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from string
		to   string
		want bool
	}{
		{models.EventStateActual, models.EventStateFinished, true},
		{models.EventStateActual, models.EventStateCancelled, true},
		{models.EventStateActual, models.EventStateUnpublished, true},
		{models.EventStateUnpublished, models.EventStateActual, true},
		{models.EventStateUnpublished, models.EventStateCancelled, true},
		{models.EventStateUnpublished, models.EventStateFinished, false},
		{models.EventStateFinished, models.EventStateActual, false},
		{models.EventStateCancelled, models.EventStateActual, false},
		{models.EventStateActual, models.EventStateActual, true},
		{"ACTUAL", "finished", true},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Fatalf("CanTransition(%q, %q) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	if !IsTerminal(models.EventStateFinished) || !IsTerminal(models.EventStateCancelled) {
		t.Fatalf("finished and cancelled must be terminal")
	}
	if IsTerminal(models.EventStateActual) || IsTerminal(models.EventStateUnpublished) {
		t.Fatalf("actual and unpublished must not be terminal")
	}
}
