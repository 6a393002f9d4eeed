package monitor

import "github.com/oddbit-project/safekeep/store"

var recommendedActions = map[store.AlertCategory][]string{
	store.AlertUnknownDevice: {
		"confirm it's you",
		"approve device",
		"disconnect if unrecognized",
	},
	store.AlertSuspiciousActivity: {
		"review recent activity",
		"lock the session if this was not you",
	},
	store.AlertBreachAttempt: {
		"lock the session now",
		"change your master secret",
		"review recent activity",
	},
	store.AlertUnusualActivity: {
		"confirm it's you",
		"review recent activity",
	},
	store.AlertMultipleFailures: {
		"wait for the lockout to end",
		"change your master secret if someone else knows it",
	},
}

// RecommendedActions returns a copy of the fixed actions for category
func RecommendedActions(category store.AlertCategory) []string {
	return append([]string(nil), recommendedActions[category]...)
}
