package session

import (
	"strings"
	"time"
)

// TempStatePrefix marks state keys that are scratch values for a single
// turn. They are visible in memory while the turn runs but are stripped
// before any write to the store.
const TempStatePrefix = "temp:"

// DefaultRetention is the retention window recorded on a session at
// creation time. The store does not enforce it; an external garbage
// collector (or the purge command) acts on the ttl column.
const DefaultRetention = 180 * 24 * time.Hour

// Content roles.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// Session represents a series of interactions between a user and agents.
type Session struct {
	ID             string         `json:"id"`
	AppName        string         `json:"app_name"`
	UserID         string         `json:"user_id"`
	State          map[string]any `json:"state,omitempty"`
	Events         []*Event       `json:"events,omitempty"`
	LastUpdateTime time.Time      `json:"last_update_time"`
}

// Event is an immutable record appended to a session's log.
type Event struct {
	ID           string        `json:"id"`
	InvocationID string        `json:"invocation_id"`
	Author       string        `json:"author"`
	Branch       string        `json:"branch,omitempty"`
	Timestamp    time.Time     `json:"timestamp"`
	Content      *Content      `json:"content,omitempty"`
	Actions      *EventActions `json:"actions,omitempty"`
	Partial      bool          `json:"partial,omitempty"`
	TurnComplete bool          `json:"turn_complete,omitempty"`
	ErrorCode    string        `json:"error_code,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
}

// IsFinalResponse reports whether the event carries the turn's final
// response rather than a streaming increment.
func (e *Event) IsFinalResponse() bool {
	return !e.Partial && e.TurnComplete
}

// EventActions is the state-delta carried by one event. It is applied to
// the session's state map at append time and replayed in timestamp order
// to reconstruct the state deterministically.
type EventActions struct {
	StateDelta      map[string]any `json:"state_delta,omitempty"`
	TransferToAgent string         `json:"transfer_to_agent,omitempty"`
	Escalate        bool           `json:"escalate,omitempty"`
}

// Content holds a role and its ordered message parts.
type Content struct {
	Role  string  `json:"role"`
	Parts []*Part `json:"parts"`
}

// Part is one element of a content: text, a function call, or a function
// response. Exactly one field is set.
type Part struct {
	Text             string            `json:"text,omitempty"`
	FunctionCall     *FunctionCall     `json:"function_call,omitempty"`
	FunctionResponse *FunctionResponse `json:"function_response,omitempty"`
}

// FunctionCall describes a tool invocation requested by the model.
type FunctionCall struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// FunctionResponse carries a tool's raw result back to the model.
type FunctionResponse struct {
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response,omitempty"`
}

// NewTextContent builds a single-part text content with the given role.
func NewTextContent(role, text string) *Content {
	return &Content{Role: role, Parts: []*Part{{Text: text}}}
}

// CombinedText concatenates all text parts with no separator.
func (c *Content) CombinedText() string {
	if c == nil {
		return ""
	}
	var sb strings.Builder
	for _, p := range c.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String()
}

// GetSessionConfig controls event filtering on GetSession.
type GetSessionConfig struct {
	// NumRecentEvents, when > 0, limits the result to the last N events.
	NumRecentEvents int
	// AfterTimestamp, when set and NumRecentEvents is unset, selects the
	// maximal trailing run of events whose timestamp is >= the cutoff.
	AfterTimestamp time.Time
}

// StripTempState returns a copy of state with transient-prefixed keys
// removed. The input map is not modified.
func StripTempState(state map[string]any) map[string]any {
	filtered := make(map[string]any, len(state))
	for k, v := range state {
		if strings.HasPrefix(k, TempStatePrefix) {
			continue
		}
		filtered[k] = v
	}
	return filtered
}
