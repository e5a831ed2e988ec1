package events

import (
	"math"

	"gather-events-backend/api/internal/models"
)

// ApplyMemberAdded maintains the member count and age aggregate when a
// member becomes joined. A nil age leaves the age fields untouched
// beyond the recomputed average.
func ApplyMemberAdded(ev *models.Event, age *int) {
	if ev.MemberCount < 0 {
		ev.MemberCount = 0
	}
	ev.MemberCount++
	if age != nil {
		ev.CumulativeAge += *age
	}
	ev.AverageAge = averageAge(ev.CumulativeAge, ev.MemberCount)
}

// ApplyMemberRemoved reverses ApplyMemberAdded. When the last member
// leaves, both age fields reset to zero.
func ApplyMemberRemoved(ev *models.Event, age *int) {
	ev.MemberCount--
	if ev.MemberCount < 0 {
		ev.MemberCount = 0
	}
	if ev.MemberCount == 0 {
		ev.CumulativeAge = 0
		ev.AverageAge = 0
		return
	}
	if age != nil {
		ev.CumulativeAge -= *age
		if ev.CumulativeAge < 0 {
			ev.CumulativeAge = 0
		}
	}
	ev.AverageAge = averageAge(ev.CumulativeAge, ev.MemberCount)
}

func averageAge(cumulative int, count int) int {
	if count <= 0 {
		return 0
	}
	return int(math.Round(float64(cumulative) / float64(count)))
}
