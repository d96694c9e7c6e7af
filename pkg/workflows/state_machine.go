package workflows

// StateMachine enforces sequence-run status transitions
type StateMachine struct {
	allowedTransitions map[string][]string
}

// NewRunStateMachine creates the state machine for sequence-run records.
// Completed is terminal; a failed run may re-enter running through resume.
func NewRunStateMachine() *StateMachine {
	return &StateMachine{
		allowedTransitions: map[string][]string{
			"pending":   {"running"},
			"running":   {"completed", "failed"},
			"failed":    {"running"}, // Allow resuming failed runs from their recorded stage
			"completed": {},
		},
	}
}

// CanTransition checks if a status transition is allowed
func (sm *StateMachine) CanTransition(from, to string) bool {
	allowed, exists := sm.allowedTransitions[from]
	if !exists {
		return false
	}
	for _, allowedTo := range allowed {
		if allowedTo == to {
			return true
		}
	}
	return false
}

// GetAllowedTransitions returns the allowed next statuses for a given status
func (sm *StateMachine) GetAllowedTransitions(from string) []string {
	allowed, exists := sm.allowedTransitions[from]
	if !exists {
		return []string{}
	}
	return allowed
}
