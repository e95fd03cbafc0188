package executor

import (
	"context"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"trpc.group/trpc-go/trpc-a2a-go/protocol"
)

func TestKeepAlive_PassesEventsThrough(t *testing.T) {
	in := make(chan protocol.StreamingMessageEvent, 2)
	in <- statusEvent("t1", protocol.TaskStateWorking)
	in <- statusEvent("t1", protocol.TaskStateCompleted)
	close(in)

	out := KeepAlive(context.Background(), in, time.Minute, logr.Discard())

	var states []protocol.TaskState
	for ev := range out {
		states = append(states, ev.Result.(*protocol.TaskStatusUpdateEvent).Status.State)
	}
	assert.Equal(t, []protocol.TaskState{protocol.TaskStateWorking, protocol.TaskStateCompleted}, states)
}

func TestKeepAlive_InjectsOnSilence(t *testing.T) {
	in := make(chan protocol.StreamingMessageEvent)
	out := KeepAlive(context.Background(), in, 20*time.Millisecond, logr.Discard())

	select {
	case ev := <-out:
		update, ok := ev.Result.(*protocol.TaskStatusUpdateEvent)
		require.True(t, ok)
		assert.Equal(t, protocol.TaskStateWorking, update.Status.State)
		require.NotNil(t, update.Status.Message)
		assert.Equal(t, "keepalive", update.Status.Message.Metadata["type"])
	case <-time.After(2 * time.Second):
		t.Fatal("expected a keep-alive update")
	}

	close(in)
	for range out {
	}
}

func TestKeepAlive_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	in := make(chan protocol.StreamingMessageEvent)
	out := KeepAlive(ctx, in, time.Minute, logr.Discard())

	cancel()

	select {
	case _, open := <-out:
		assert.False(t, open)
	case <-time.After(2 * time.Second):
		t.Fatal("expected the output channel to close")
	}
}

func statusEvent(taskID string, state protocol.TaskState) protocol.StreamingMessageEvent {
	return protocol.StreamingMessageEvent{
		Result: &protocol.TaskStatusUpdateEvent{
			TaskID: taskID,
			Status: protocol.TaskStatus{State: state},
		},
	}
}
