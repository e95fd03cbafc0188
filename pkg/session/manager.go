package session

import (
	"context"
)

// State keys seeded when a session is first created.
const (
	StateKeyConversationTitle = "conversationTitle"
	StateKeyTurn              = "turn"
)

// Manager is a thin composition over a Service that gives the pipeline
// get-or-create semantics and a non-failing state read.
type Manager struct {
	service Service
}

// NewManager creates a session manager.
func NewManager(service Service) *Manager {
	return &Manager{service: service}
}

// GetOrCreateSession returns the session, creating it with an initial
// state of {conversationTitle, turn: 0} when it does not exist yet. The
// seed is only applied on first creation.
func (m *Manager) GetOrCreateSession(ctx context.Context, appName, userID, sessionID, userPrompt string) (*Session, error) {
	sess, err := m.service.GetSession(ctx, appName, userID, sessionID, nil)
	if err != nil {
		return nil, err
	}
	if sess != nil {
		return sess, nil
	}

	if userPrompt == "" {
		userPrompt = "New Conversation"
	}
	return m.service.CreateSession(ctx, appName, userID, sessionID, map[string]any{
		StateKeyConversationTitle: userPrompt,
		StateKeyTurn:              0,
	})
}

// GetCurrentState returns the session's state map, or an empty map when
// the session is absent.
func (m *Manager) GetCurrentState(ctx context.Context, appName, userID, sessionID string) (map[string]any, error) {
	sess, err := m.service.GetSession(ctx, appName, userID, sessionID, nil)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return map[string]any{}, nil
	}
	return sess.State, nil
}

// AppendEvent forwards to the underlying service.
func (m *Manager) AppendEvent(ctx context.Context, sess *Session, event *Event) (*Event, error) {
	return m.service.AppendEvent(ctx, sess, event)
}
