package executor

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"trpc.group/trpc-go/trpc-a2a-go/protocol"

	"github.com/parley-ai/parley/pkg/auth"
	apperrors "github.com/parley-ai/parley/pkg/errors"
	"github.com/parley-ai/parley/pkg/runtime"
	"github.com/parley-ai/parley/pkg/session"
	"github.com/parley-ai/parley/pkg/stream"
)

// scriptedRuntime emits canned raw events or fails with a fixed error.
type scriptedRuntime struct {
	name   string
	script []*session.Event
	err    error
}

func (r *scriptedRuntime) AgentName() string { return r.name }

func (r *scriptedRuntime) Run(ctx context.Context, inv *runtime.Invocation, events chan<- *session.Event) error {
	if r.err != nil {
		return r.err
	}
	for _, ev := range r.script {
		ev.InvocationID = inv.InvocationID
		select {
		case events <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

const testSecret = "executor-test-secret"

func authedHeaders(t *testing.T, uid, name string) http.Header {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  uid,
		"name": name,
		"exp":  time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+signed)
	return headers
}

func newTestExecutor(rt runtime.Runtime, devMode bool) (*Executor, *session.Manager) {
	manager := session.NewManager(session.NewInMemoryService())
	retry := runtime.DefaultRetryPolicy()
	retry.BaseDelay = time.Millisecond
	retry.MaxDelay = 2 * time.Millisecond
	translator := stream.NewTranslator(rt, manager, retry, logr.Discard())
	authn := auth.NewBearerAuthenticator(auth.NewHMACVerifier(testSecret))
	return NewExecutor(translator, authn, devMode, logr.Discard()), manager
}

func runExecutor(t *testing.T, e *Executor, req *RequestContext) []*protocol.TaskStatusUpdateEvent {
	t.Helper()
	queue := make(chan protocol.StreamingMessageEvent, 64)
	err := e.Execute(context.Background(), req, queue)
	require.NoError(t, err)
	close(queue)

	var updates []*protocol.TaskStatusUpdateEvent
	for ev := range queue {
		update, ok := ev.Result.(*protocol.TaskStatusUpdateEvent)
		require.True(t, ok)
		updates = append(updates, update)
	}
	return updates
}

func finalEvent(author, text string) *session.Event {
	return &session.Event{
		Author:       author,
		Timestamp:    time.Now(),
		TurnComplete: true,
		Content:      session.NewTextContent(session.RoleModel, text),
	}
}

func TestExecutor_CompletedTurn(t *testing.T) {
	rt := &scriptedRuntime{
		name: "analyst",
		script: []*session.Event{
			{
				Author:    "analyst",
				Timestamp: time.Now(),
				Content: &session.Content{
					Role:  session.RoleModel,
					Parts: []*session.Part{{FunctionCall: &session.FunctionCall{Name: "lookup_headcount"}}},
				},
			},
			finalEvent("analyst", "Total headcount is 1234."),
		},
	}
	e, _ := newTestExecutor(rt, false)

	updates := runExecutor(t, e, &RequestContext{
		TaskID:    "task-1",
		ContextID: "ctx-1",
		Headers:   authedHeaders(t, "user-1", "Ada"),
		UserInput: "What is total headcount?",
	})
	require.NotEmpty(t, updates)

	// Every update before the terminal one is a non-final working state.
	for _, u := range updates[:len(updates)-1] {
		assert.Equal(t, protocol.TaskStateWorking, u.Status.State)
		assert.False(t, u.Final)
	}

	terminal := updates[len(updates)-1]
	assert.Equal(t, protocol.TaskStateCompleted, terminal.Status.State)
	assert.True(t, terminal.Final)
	assert.Equal(t, "task-1", terminal.TaskID)
	assert.Equal(t, "ctx-1", terminal.ContextID)

	require.NotNil(t, terminal.Status.Message)
	metadata := terminal.Status.Message.Metadata
	assert.Equal(t, true, metadata["finished"])
	assert.Equal(t, true, metadata["lastResponse"])
	assert.Equal(t, "status", metadata["type"])
	assert.Equal(t, "analyst", metadata["agent"])
	assert.EqualValues(t, 1, metadata[session.StateKeyTurn])

	// The first working update carries the function call vocabulary.
	first := updates[0]
	require.NotNil(t, first.Status.Message)
	assert.Equal(t, "function_call", first.Status.Message.Metadata["type"])
	assert.Equal(t, "lookup_headcount", first.Status.Message.Metadata["function_name"])
}

func TestExecutor_Unauthenticated(t *testing.T) {
	rt := &scriptedRuntime{name: "analyst", script: []*session.Event{finalEvent("analyst", "never runs")}}
	e, _ := newTestExecutor(rt, false)

	updates := runExecutor(t, e, &RequestContext{
		TaskID:    "task-2",
		ContextID: "ctx-2",
		Headers:   http.Header{},
		UserInput: "hello",
	})

	require.Len(t, updates, 1)
	assert.Equal(t, protocol.TaskStateAuthRequired, updates[0].Status.State)
	assert.True(t, updates[0].Final)
}

func TestExecutor_DevModeBypass(t *testing.T) {
	rt := &scriptedRuntime{name: "analyst", script: []*session.Event{finalEvent("analyst", "ok")}}
	e, manager := newTestExecutor(rt, true)

	updates := runExecutor(t, e, &RequestContext{
		TaskID:    "task-3",
		ContextID: "ctx-3",
		Headers:   http.Header{},
		UserInput: "hello",
	})

	terminal := updates[len(updates)-1]
	assert.Equal(t, protocol.TaskStateCompleted, terminal.Status.State)

	// The turn ran under the synthetic identity.
	state, err := manager.GetCurrentState(context.Background(), "analyst", devModeUserID, "ctx-3")
	require.NoError(t, err)
	assert.EqualValues(t, 1, state[session.StateKeyTurn])
}

func TestExecutor_ContextWindowRejects(t *testing.T) {
	rt := &scriptedRuntime{
		name: "analyst",
		err:  apperrors.New(apperrors.ErrCodeContextWindow, "prompt is too long", nil),
	}
	e, _ := newTestExecutor(rt, false)

	updates := runExecutor(t, e, &RequestContext{
		TaskID:    "task-4",
		ContextID: "ctx-4",
		Headers:   authedHeaders(t, "user-1", "Ada"),
		UserInput: "huge prompt",
	})

	var rejected, completed int
	for _, u := range updates {
		switch u.Status.State {
		case protocol.TaskStateRejected:
			rejected++
			assert.True(t, u.Final)
		case protocol.TaskStateCompleted:
			completed++
		}
	}
	assert.Equal(t, 1, rejected)
	assert.Zero(t, completed)
}

func TestExecutor_UnclassifiedErrorFails(t *testing.T) {
	rt := &scriptedRuntime{
		name: "analyst",
		err:  apperrors.New(apperrors.ErrCodeToolExecution, "boom", nil),
	}
	e, _ := newTestExecutor(rt, false)

	updates := runExecutor(t, e, &RequestContext{
		TaskID:    "task-5",
		ContextID: "ctx-5",
		Headers:   authedHeaders(t, "user-1", "Ada"),
		UserInput: "hello",
	})

	terminal := updates[len(updates)-1]
	assert.Equal(t, protocol.TaskStateFailed, terminal.Status.State)
	assert.True(t, terminal.Final)
	require.NotNil(t, terminal.Status.Message)
	require.Len(t, terminal.Status.Message.Parts, 1)
	textPart, ok := terminal.Status.Message.Parts[0].(*protocol.TextPart)
	require.True(t, ok)
	assert.Contains(t, textPart.Text, "An error occurred:")
}

func TestExecutor_CancelUnsupported(t *testing.T) {
	rt := &scriptedRuntime{name: "analyst"}
	e, _ := newTestExecutor(rt, false)

	err := e.Cancel(context.Background(), "task-6")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeCancelUnsupported))
}
