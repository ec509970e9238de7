package store

import "clinicq/queue-service/internal/models"

// transitionMap lists the token states each staff action may start from.
// SERVING tokens leave only via serve-next (implicit completion); SKIPPED,
// CANCELLED and COMPLETED are terminal.
var transitionMap = map[string][]string{
	"arrive":   {models.StateBooked},
	"serve":    {models.StateArrived},
	"complete": {models.StateServing},
	"skip":     {models.StateBooked, models.StateArrived},
	"cancel":   {models.StateBooked, models.StateArrived},
}

func ValidTransition(action, fromState string) bool {
	allowed, ok := transitionMap[action]
	if !ok {
		return false
	}
	for _, state := range allowed {
		if state == fromState {
			return true
		}
	}
	return false
}

// AllowedFrom returns the from-states for an action, in the order the SQL
// layer should test them.
func AllowedFrom(action string) []string {
	return transitionMap[action]
}
