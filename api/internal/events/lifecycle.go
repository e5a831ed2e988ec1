package events

import (
	"strings"

	"gather-events-backend/api/internal/models"
)

var lifecycleTransitions = map[string]map[string]bool{
	models.EventStateActual: {
		models.EventStateFinished:    true,
		models.EventStateCancelled:   true,
		models.EventStateUnpublished: true,
	},
	models.EventStateUnpublished: {
		models.EventStateActual:    true,
		models.EventStateCancelled: true,
	},
}

func NormalizeState(state string) string {
	return strings.ToLower(strings.TrimSpace(state))
}

// CanTransition reports whether an event may move between lifecycle
// states; finished and cancelled are terminal.
func CanTransition(fromState string, toState string) bool {
	fromState = NormalizeState(fromState)
	toState = NormalizeState(toState)
	if fromState == toState {
		return true
	}
	next := lifecycleTransitions[fromState]
	if next == nil {
		return false
	}
	return next[toState]
}

func IsTerminal(state string) bool {
	state = NormalizeState(state)
	return state == models.EventStateFinished || state == models.EventStateCancelled
}

func AllStates() []string {
	return []string{
		models.EventStateActual,
		models.EventStateFinished,
		models.EventStateCancelled,
		models.EventStateUnpublished,
	}
}
