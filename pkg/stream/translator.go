// Package stream sits between the agent runtime and the task layer. It
// turns the runtime's raw event stream into a small normalized
// vocabulary (function_call, function_response, text, final) and
// persists the turn's user message and final response to the session
// store as it goes.
package stream

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/parley-ai/parley/pkg/runtime"
	"github.com/parley-ai/parley/pkg/session"
)

// EventType classifies a normalized event.
type EventType string

const (
	TypeFunctionCall     EventType = "function_call"
	TypeFunctionResponse EventType = "function_response"
	TypeText             EventType = "text"
	TypeJSON             EventType = "json"
)

// Event is the translator's normalized output. Content is a string for
// every type except a final TypeJSON event, where it carries the decoded
// payload.
type Event struct {
	Agent        string         `json:"agent"`
	Type         EventType      `json:"type"`
	Content      any            `json:"content"`
	FunctionName string         `json:"function_name,omitempty"`
	Args         map[string]any `json:"args,omitempty"`
	ToolResponse map[string]any `json:"tool_response,omitempty"`
	LastResponse bool           `json:"lastResponse"`
	Done         bool           `json:"done"`
	State        map[string]any `json:"state,omitempty"`
}

// Translator normalizes one runtime's event stream. Turn execution is
// retried under the policy; only transient model validation errors are
// retried, so callers may observe redelivered non-final events across
// attempts.
type Translator struct {
	runtime runtime.Runtime
	manager *session.Manager
	retry   runtime.RetryPolicy
	log     logr.Logger
	now     func() time.Time
}

// NewTranslator creates a translator over the given runtime and session
// manager.
func NewTranslator(rt runtime.Runtime, manager *session.Manager, retry runtime.RetryPolicy, log logr.Logger) *Translator {
	return &Translator{
		runtime: rt,
		manager: manager,
		retry:   retry,
		log:     log.WithName("translator"),
		now:     time.Now,
	}
}

// AgentName returns the underlying runtime's agent name.
func (t *Translator) AgentName() string {
	return t.runtime.AgentName()
}

// Stream runs one turn and sends normalized events on out, in runtime
// order, with the final event last. It ensures the session exists first,
// using the prompt as the conversation title seed. The caller owns out.
func (t *Translator) Stream(ctx context.Context, prompt, userID, sessionID string, out chan<- Event) error {
	appName := t.runtime.AgentName()
	sess, err := t.manager.GetOrCreateSession(ctx, appName, userID, sessionID, prompt)
	if err != nil {
		return err
	}
	sessionID = sess.ID

	invocationID := uuid.NewString()
	userEvent := &session.Event{
		ID:           uuid.NewString(),
		InvocationID: invocationID,
		Author:       session.RoleUser,
		Timestamp:    t.now(),
		Content:      session.NewTextContent(session.RoleUser, prompt),
	}
	if _, err := t.manager.AppendEvent(ctx, sess, userEvent); err != nil {
		return err
	}

	inv := &runtime.Invocation{
		AppName:      appName,
		UserID:       userID,
		SessionID:    sessionID,
		InvocationID: invocationID,
	}
	return t.retry.Do(ctx, func() error {
		return t.runTurn(ctx, inv, sess, out)
	})
}

// Invoke runs one turn and returns all normalized events in order.
func (t *Translator) Invoke(ctx context.Context, prompt, userID, sessionID string) ([]Event, error) {
	out := make(chan Event, 64)
	var collected []Event
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range out {
			collected = append(collected, ev)
		}
	}()
	err := t.Stream(ctx, prompt, userID, sessionID, out)
	close(out)
	<-done
	if err != nil {
		return nil, err
	}
	return collected, nil
}

// runTurn executes a single attempt. The user message is already in the
// session log, so the runtime picks it up from history.
func (t *Translator) runTurn(ctx context.Context, inv *runtime.Invocation, sess *session.Session, out chan<- Event) error {
	raw := make(chan *session.Event, 32)
	var runErr error
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		defer close(raw)
		runErr = t.runtime.Run(ctx, inv, raw)
	}()

	for rawEvent := range raw {
		for _, normalized := range t.normalize(rawEvent) {
			if err := send(ctx, out, normalized); err != nil {
				<-runDone
				return err
			}
		}
		if rawEvent.IsFinalResponse() && rawEvent.Content != nil && len(rawEvent.Content.Parts) > 0 {
			final, err := t.finishTurn(ctx, inv, sess, rawEvent)
			if err != nil {
				<-runDone
				return err
			}
			if err := send(ctx, out, final); err != nil {
				<-runDone
				return err
			}
		}
	}
	<-runDone
	return runErr
}

// normalize maps one raw event's parts onto the event vocabulary. The
// final event is handled separately by finishTurn.
func (t *Translator) normalize(ev *session.Event) []Event {
	if ev.Content == nil {
		return nil
	}
	var events []Event
	for _, part := range ev.Content.Parts {
		switch {
		case part.FunctionCall != nil:
			events = append(events, Event{
				Agent:        ev.Author,
				Type:         TypeFunctionCall,
				Content:      "Running '" + part.FunctionCall.Name + "'...",
				FunctionName: part.FunctionCall.Name,
				Args:         part.FunctionCall.Args,
			})
		case part.FunctionResponse != nil:
			events = append(events, Event{
				Agent:        ev.Author,
				Type:         TypeFunctionResponse,
				Content:      "Finished running '" + part.FunctionResponse.Name + "'.",
				FunctionName: part.FunctionResponse.Name,
				ToolResponse: part.FunctionResponse.Response,
			})
		case part.Text != "" && ev.Partial:
			events = append(events, Event{
				Agent:   ev.Author,
				Type:    TypeText,
				Content: part.Text,
			})
		}
	}
	return events
}

// finishTurn persists the final response with a turn-counter bump, then
// builds the final normalized event with the session state attached.
func (t *Translator) finishTurn(ctx context.Context, inv *runtime.Invocation, sess *session.Session, rawEvent *session.Event) (Event, error) {
	rawEvent.Actions = &session.EventActions{
		StateDelta: map[string]any{session.StateKeyTurn: currentTurn(sess.State) + 1},
	}
	if _, err := t.manager.AppendEvent(ctx, sess, rawEvent); err != nil {
		return Event{}, err
	}
	state, err := t.manager.GetCurrentState(ctx, inv.AppName, inv.UserID, inv.SessionID)
	if err != nil {
		return Event{}, err
	}

	final := Event{
		Agent:        rawEvent.Author,
		LastResponse: true,
		Done:         true,
		State:        state,
	}
	// Structured finals decode to a JSON payload; anything else is the
	// concatenation of all text parts with no separator.
	var payload map[string]any
	firstText := ""
	if len(rawEvent.Content.Parts) > 0 {
		firstText = rawEvent.Content.Parts[0].Text
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(firstText)), &payload); err == nil && payload != nil {
		final.Type = TypeJSON
		final.Content = payload
	} else {
		final.Type = TypeText
		final.Content = rawEvent.Content.CombinedText()
	}
	return final, nil
}

func currentTurn(state map[string]any) int {
	switch v := state[session.StateKeyTurn].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

func send(ctx context.Context, out chan<- Event, ev Event) error {
	select {
	case out <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
