package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_GetOrCreateSession_SeedsOnlyOnCreate(t *testing.T) {
	mgr := NewManager(NewInMemoryService())
	ctx := context.Background()

	sess, err := mgr.GetOrCreateSession(ctx, "app", "alice", "s1", "What is total headcount?")
	require.NoError(t, err)
	assert.Equal(t, "What is total headcount?", sess.State[StateKeyConversationTitle])
	assert.EqualValues(t, 0, sess.State[StateKeyTurn])

	// A later call with a different prompt must not reseed the state.
	again, err := mgr.GetOrCreateSession(ctx, "app", "alice", "s1", "another prompt entirely")
	require.NoError(t, err)
	assert.Equal(t, "What is total headcount?", again.State[StateKeyConversationTitle])
}

func TestManager_GetOrCreateSession_DefaultTitle(t *testing.T) {
	mgr := NewManager(NewInMemoryService())

	sess, err := mgr.GetOrCreateSession(context.Background(), "app", "alice", "s1", "")
	require.NoError(t, err)
	assert.Equal(t, "New Conversation", sess.State[StateKeyConversationTitle])
}

func TestManager_GetCurrentState_AbsentSession(t *testing.T) {
	mgr := NewManager(NewInMemoryService())

	state, err := mgr.GetCurrentState(context.Background(), "app", "alice", "missing")
	require.NoError(t, err)
	assert.NotNil(t, state)
	assert.Empty(t, state)
}

func TestManager_GetCurrentState_ReflectsAppendedDeltas(t *testing.T) {
	mgr := NewManager(NewInMemoryService())
	ctx := context.Background()

	sess, err := mgr.GetOrCreateSession(ctx, "app", "alice", "s1", "hello")
	require.NoError(t, err)

	_, err = mgr.AppendEvent(ctx, sess, &Event{
		InvocationID: "inv-1",
		Author:       "orchestrator",
		Actions:      &EventActions{StateDelta: map[string]any{StateKeyTurn: 3}},
	})
	require.NoError(t, err)

	state, err := mgr.GetCurrentState(ctx, "app", "alice", "s1")
	require.NoError(t, err)
	assert.EqualValues(t, 3, state[StateKeyTurn])
}
