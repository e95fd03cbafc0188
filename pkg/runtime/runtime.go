// Package runtime drives one conversational turn: it feeds the session
// history and the incoming message to the model, executes requested
// tools, and emits the resulting events on a channel in order.
package runtime

import (
	"context"

	"github.com/parley-ai/parley/pkg/session"
)

// Invocation identifies one turn of a conversation.
type Invocation struct {
	AppName      string
	UserID       string
	SessionID    string
	InvocationID string
	Message      *session.Content
}

// Runtime executes a single turn. Implementations send every produced
// event on the events channel and return once the turn is finished; the
// caller owns and closes the channel. A non-nil error means the turn
// failed and any events already sent may be redelivered on retry.
type Runtime interface {
	Run(ctx context.Context, inv *Invocation, events chan<- *session.Event) error
	AgentName() string
}

// Tool is a callable exposed to the model.
type Tool interface {
	Name() string
	Description() string
	// Parameters returns the JSON-schema object describing the accepted
	// arguments.
	Parameters() map[string]any
	Call(ctx context.Context, args map[string]any) (map[string]any, error)
}
