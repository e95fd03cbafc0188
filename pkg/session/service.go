package session

import (
	"context"
)

// Service defines the interface for session storage.
type Service interface {
	// CreateSession creates a session for the (appName, userID, sessionID)
	// triple. It is idempotent: calling it twice with the same triple
	// returns the existing session without overwriting its state.
	CreateSession(ctx context.Context, appName, userID, sessionID string, state map[string]any) (*Session, error)

	// GetSession returns the session snapshot plus its filtered, ordered
	// events, or nil if the session does not exist.
	GetSession(ctx context.Context, appName, userID, sessionID string, config *GetSessionConfig) (*Session, error)

	// ListSessions returns the sessions for a user/app, without events.
	ListSessions(ctx context.Context, appName, userID string) ([]*Session, error)

	// AppendEvent merges the event's state-delta into the session state,
	// writes the event to the log, and updates the persisted snapshot and
	// timestamp as one atomic unit per session.
	AppendEvent(ctx context.Context, session *Session, event *Event) (*Event, error)

	// DeleteSession removes the session's event log, then the session
	// itself.
	DeleteSession(ctx context.Context, appName, userID, sessionID string) error
}
