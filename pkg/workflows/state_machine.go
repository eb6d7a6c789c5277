package workflows

// StateMachine enforces document status transitions
type StateMachine struct {
	allowedTransitions map[string][]string
}

// NewDocumentStateMachine builds the transition table for the document
// signing lifecycle. Cancellation is reachable from every state except the
// completed and canceled terminals; expiry is entered when a sign attempt
// arrives past the deadline.
func NewDocumentStateMachine() *StateMachine {
	return &StateMachine{
		allowedTransitions: map[string][]string{
			"draft":          {"need_signature", "canceled", "expired"},
			"need_signature": {"waiting", "completed", "canceled", "expired"},
			"waiting":        {"waiting", "completed", "canceled", "expired"},
			"expired":        {"canceled"},
			"completed":      {},
			"canceled":       {},
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

// IsTerminal reports whether a status has no outgoing transitions.
func (sm *StateMachine) IsTerminal(status string) bool {
	return len(sm.allowedTransitions[status]) == 0
}
