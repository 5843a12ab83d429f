package workflows

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStageLifecycleTransitions(t *testing.T) {
	sm := NewStageLifecycle()

	assert.True(t, sm.CanTransition("upcoming", "current"))
	assert.True(t, sm.CanTransition("current", "completed"))

	assert.False(t, sm.CanTransition("upcoming", "completed"))
	assert.False(t, sm.CanTransition("completed", "current"))
	assert.False(t, sm.CanTransition("current", "upcoming"))
	assert.False(t, sm.CanTransition("unknown", "current"))
}

func TestStageLifecycleTerminal(t *testing.T) {
	sm := NewStageLifecycle()

	assert.True(t, sm.IsTerminal("completed"))
	assert.False(t, sm.IsTerminal("current"))
	assert.False(t, sm.IsTerminal("missing"))
	assert.True(t, sm.IsKnown("upcoming"))
	assert.False(t, sm.IsKnown("missing"))
}

func TestGetAllowedTransitionsReturnsCopy(t *testing.T) {
	sm := NewStageLifecycle()

	next := sm.GetAllowedTransitions("upcoming")
	assert.Equal(t, []string{"current"}, next)

	next[0] = "completed"
	assert.Equal(t, []string{"current"}, sm.GetAllowedTransitions("upcoming"))
	assert.Empty(t, sm.GetAllowedTransitions("missing"))
}

func TestNewStateMachineCopiesTable(t *testing.T) {
	table := map[string][]string{"a": {"b"}}
	sm := NewStateMachine(table)
	table["a"][0] = "c"

	assert.True(t, sm.CanTransition("a", "b"))
	assert.False(t, sm.CanTransition("a", "c"))
}
