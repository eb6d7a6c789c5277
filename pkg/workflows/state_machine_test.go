package workflows

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDocumentTransitions(t *testing.T) {
	sm := NewDocumentStateMachine()

	tests := []struct {
		from    string
		to      string
		allowed bool
	}{
		{"draft", "need_signature", true},
		{"draft", "canceled", true},
		{"draft", "completed", false},
		{"need_signature", "waiting", true},
		{"need_signature", "completed", true},
		{"waiting", "waiting", true},
		{"waiting", "completed", true},
		{"waiting", "expired", true},
		{"completed", "canceled", false},
		{"canceled", "need_signature", false},
		{"expired", "canceled", true},
		{"expired", "waiting", false},
		{"unknown", "draft", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.allowed, sm.CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestTerminalStates(t *testing.T) {
	sm := NewDocumentStateMachine()

	assert.True(t, sm.IsTerminal("completed"))
	assert.True(t, sm.IsTerminal("canceled"))
	assert.False(t, sm.IsTerminal("expired"))
	assert.False(t, sm.IsTerminal("draft"))
	assert.False(t, sm.IsTerminal("waiting"))
}

func TestGetAllowedTransitions(t *testing.T) {
	sm := NewDocumentStateMachine()

	assert.ElementsMatch(t, []string{"need_signature", "canceled", "expired"}, sm.GetAllowedTransitions("draft"))
	assert.Empty(t, sm.GetAllowedTransitions("completed"))
	assert.Empty(t, sm.GetAllowedTransitions("nonexistent"))
}
