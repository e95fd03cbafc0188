// Package executor projects one conversational turn onto the A2A task
// lifecycle: authenticate, stream working status updates, and finish in
// exactly one terminal state (completed, failed, rejected) or
// auth-required before any work starts.
package executor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	"trpc.group/trpc-go/trpc-a2a-go/protocol"

	"github.com/parley-ai/parley/pkg/auth"
	apperrors "github.com/parley-ai/parley/pkg/errors"
	"github.com/parley-ai/parley/pkg/metrics"
	"github.com/parley-ai/parley/pkg/stream"
)

// Synthetic identity substituted when dev mode is on and authentication
// fails.
const (
	devModeUserID   = "test_user"
	devModeUserName = "Test User"
)

// RequestContext carries one incoming turn request.
type RequestContext struct {
	TaskID    string
	ContextID string
	Headers   http.Header
	UserInput string
}

// Executor drives the task state machine for single turns.
type Executor struct {
	translator *stream.Translator
	authn      auth.Authenticator
	devMode    bool
	log        logr.Logger
}

// NewExecutor creates an executor. devMode downgrades authentication
// failures to a synthetic identity and must never be enabled by default.
func NewExecutor(translator *stream.Translator, authn auth.Authenticator, devMode bool, log logr.Logger) *Executor {
	return &Executor{
		translator: translator,
		authn:      authn,
		devMode:    devMode,
		log:        log.WithName("executor"),
	}
}

// Execute runs one turn and sends task status updates on queue. Terminal
// outcomes are reported as status updates, not as a returned error; the
// returned error is reserved for delivery failures (context cancellation).
func (e *Executor) Execute(ctx context.Context, req *RequestContext, queue chan<- protocol.StreamingMessageEvent) error {
	start := time.Now()
	terminal := protocol.TaskStateFailed
	defer func() {
		metrics.TurnsTotal.WithLabelValues(string(terminal)).Inc()
		metrics.TurnDuration.WithLabelValues(string(terminal)).Observe(time.Since(start).Seconds())
	}()

	identity, err := e.authenticate(ctx, req)
	if err != nil {
		var authErr *auth.Error
		reason := "authentication failed"
		if errors.As(err, &authErr) {
			reason = authErr.Context
		}
		e.log.Info("request unauthenticated", "task", req.TaskID, "reason", reason)
		terminal = protocol.TaskStateAuthRequired
		return e.sendStatus(ctx, queue, req, protocol.TaskStateAuthRequired, true,
			e.textMessage(req, reason, nil))
	}

	e.log.V(1).Info("task started", "task", req.TaskID, "context", req.ContextID, "user", identity.UID)

	out := make(chan stream.Event, 32)
	var streamErr error
	streamDone := make(chan struct{})
	go func() {
		defer close(streamDone)
		defer close(out)
		streamErr = e.translator.Stream(ctx, req.UserInput, identity.UID, req.ContextID, out)
	}()

	var finalState map[string]any
	for ev := range out {
		if err := e.forward(ctx, queue, req, ev); err != nil {
			<-streamDone
			return err
		}
		if ev.Done {
			finalState = ev.State
		}
	}
	<-streamDone

	if streamErr != nil {
		state, message := e.classifyError(req, streamErr)
		terminal = state
		return e.sendStatus(ctx, queue, req, state, true, message)
	}
	terminal = protocol.TaskStateCompleted

	// Terminal completed update: "done" marker text plus the session
	// state folded into the metadata.
	metadata := map[string]any{}
	for k, v := range finalState {
		metadata[k] = v
	}
	metadata["type"] = "status"
	metadata["lastResponse"] = true
	metadata["finished"] = true
	metadata["agent"] = e.translator.AgentName()
	return e.sendStatus(ctx, queue, req, protocol.TaskStateCompleted, true,
		e.textMessage(req, "done", metadata))
}

// Cancel is not supported; every cancellation request is rejected.
func (e *Executor) Cancel(_ context.Context, taskID string) error {
	e.log.Info("cancel requested", "task", taskID)
	return apperrors.New(apperrors.ErrCodeCancelUnsupported, "cancel not supported", nil)
}

func (e *Executor) authenticate(ctx context.Context, req *RequestContext) (*auth.Identity, error) {
	identity, err := e.authn.Authenticate(ctx, req.Headers)
	if err == nil {
		return identity, nil
	}
	if e.devMode {
		e.log.Info("dev mode: substituting synthetic identity", "task", req.TaskID)
		return &auth.Identity{UID: devModeUserID, Name: devModeUserName}, nil
	}
	return nil, err
}

// forward maps one normalized event onto a working status update.
func (e *Executor) forward(ctx context.Context, queue chan<- protocol.StreamingMessageEvent, req *RequestContext, ev stream.Event) error {
	metadata := map[string]any{
		"type":         string(ev.Type),
		"lastResponse": ev.LastResponse,
		"finished":     false,
		"agent":        ev.Agent,
	}
	if !ev.LastResponse {
		metadata["function_name"] = ev.FunctionName
	}

	var message protocol.Message
	if payload, ok := ev.Content.(map[string]any); ok {
		message = e.dataMessage(req, payload, metadata)
	} else {
		text, _ := ev.Content.(string)
		message = e.textMessage(req, text, metadata)
	}
	return e.sendStatus(ctx, queue, req, protocol.TaskStateWorking, false, message)
}

// classifyError maps the error taxonomy onto the terminal state:
// context-window-exceeded rejects, authentication failures require auth,
// everything else fails with a wrapped description.
func (e *Executor) classifyError(req *RequestContext, err error) (protocol.TaskState, protocol.Message) {
	var authErr *auth.Error
	switch {
	case apperrors.IsContextWindowExceeded(err):
		e.log.Info("task rejected: context window exceeded", "task", req.TaskID)
		return protocol.TaskStateRejected, e.textMessage(req, err.Error(), nil)
	case errors.As(err, &authErr):
		return protocol.TaskStateAuthRequired, e.textMessage(req, authErr.Context, nil)
	default:
		e.log.Error(err, "task failed", "task", req.TaskID, "context", req.ContextID)
		return protocol.TaskStateFailed, e.textMessage(req, fmt.Sprintf("An error occurred: %v", err), nil)
	}
}

func (e *Executor) sendStatus(ctx context.Context, queue chan<- protocol.StreamingMessageEvent, req *RequestContext, state protocol.TaskState, final bool, message protocol.Message) error {
	event := protocol.StreamingMessageEvent{
		Result: &protocol.TaskStatusUpdateEvent{
			TaskID:    req.TaskID,
			ContextID: req.ContextID,
			Status: protocol.TaskStatus{
				State:   state,
				Message: &message,
			},
			Final: final,
		},
	}
	select {
	case queue <- event:
		metrics.StatusUpdatesTotal.WithLabelValues(string(state)).Inc()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Executor) textMessage(req *RequestContext, text string, metadata map[string]any) protocol.Message {
	return protocol.Message{
		Kind:      protocol.KindMessage,
		Role:      protocol.MessageRoleAgent,
		MessageID: protocol.GenerateMessageID(),
		TaskID:    &req.TaskID,
		ContextID: &req.ContextID,
		Parts:     []protocol.Part{&protocol.TextPart{Kind: protocol.KindText, Text: text}},
		Metadata:  metadata,
	}
}

func (e *Executor) dataMessage(req *RequestContext, payload map[string]any, metadata map[string]any) protocol.Message {
	return protocol.Message{
		Kind:      protocol.KindMessage,
		Role:      protocol.MessageRoleAgent,
		MessageID: protocol.GenerateMessageID(),
		TaskID:    &req.TaskID,
		ContextID: &req.ContextID,
		Parts:     []protocol.Part{protocol.NewDataPart(payload)},
		Metadata:  metadata,
	}
}
