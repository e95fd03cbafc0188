package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"dario.cat/mergo"
	"github.com/google/uuid"

	apperrors "github.com/parley-ai/parley/pkg/errors"
)

// InMemoryService is a non-durable Service for development and tests.
// It honors the same semantics as Store: idempotent creation, transient
// key stripping on the snapshot, and the trailing-window event filter.
type InMemoryService struct {
	mu       sync.RWMutex
	sessions map[string]*memorySession
	now      func() time.Time
}

type memorySession struct {
	appName string
	userID  string
	id      string
	state   map[string]any
	events  []*Event
	updated time.Time
}

var _ Service = (*InMemoryService)(nil)

// NewInMemoryService creates an empty in-memory session service.
func NewInMemoryService() *InMemoryService {
	return &InMemoryService{
		sessions: make(map[string]*memorySession),
		now:      time.Now,
	}
}

func memoryKey(appName, userID, sessionID string) string {
	return fmt.Sprintf("%s:%s:%s", appName, userID, sessionID)
}

func (s *InMemoryService) CreateSession(_ context.Context, appName, userID, sessionID string, state map[string]any) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	key := memoryKey(appName, userID, sessionID)
	if existing, ok := s.sessions[key]; ok {
		return existing.snapshot(nil), nil
	}
	ms := &memorySession{
		appName: appName,
		userID:  userID,
		id:      sessionID,
		state:   StripTempState(state),
		updated: s.now(),
	}
	s.sessions[key] = ms
	return ms.snapshot(nil), nil
}

func (s *InMemoryService) GetSession(_ context.Context, appName, userID, sessionID string, config *GetSessionConfig) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ms, ok := s.sessions[memoryKey(appName, userID, sessionID)]
	if !ok {
		return nil, nil
	}
	return ms.snapshot(config), nil
}

func (s *InMemoryService) ListSessions(_ context.Context, appName, userID string) ([]*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Session
	for _, ms := range s.sessions {
		if ms.appName != appName || ms.userID != userID {
			continue
		}
		sess := ms.snapshot(nil)
		sess.Events = nil
		out = append(out, sess)
	}
	return out, nil
}

func (s *InMemoryService) AppendEvent(_ context.Context, sess *Session, event *Event) (*Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ms, ok := s.sessions[memoryKey(sess.AppName, sess.UserID, sess.ID)]
	if !ok {
		return nil, apperrors.New(apperrors.ErrCodeAppendEvent, "session not found", nil)
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now()
	}
	if event.Actions != nil && len(event.Actions.StateDelta) > 0 {
		if sess.State == nil {
			sess.State = map[string]any{}
		}
		if err := mergo.Merge(&sess.State, event.Actions.StateDelta, mergo.WithOverride); err != nil {
			return nil, apperrors.New(apperrors.ErrCodeAppendEvent, "merging state delta", err)
		}
		if err := mergo.Merge(&ms.state, StripTempState(event.Actions.StateDelta), mergo.WithOverride); err != nil {
			return nil, apperrors.New(apperrors.ErrCodeAppendEvent, "merging state delta", err)
		}
	}
	ms.events = append(ms.events, event)
	ms.updated = event.Timestamp
	sess.LastUpdateTime = ms.updated
	return event, nil
}

func (s *InMemoryService) DeleteSession(_ context.Context, appName, userID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, memoryKey(appName, userID, sessionID))
	return nil
}

func (ms *memorySession) snapshot(config *GetSessionConfig) *Session {
	state := make(map[string]any, len(ms.state))
	for k, v := range ms.state {
		state[k] = v
	}
	events := make([]*Event, len(ms.events))
	copy(events, ms.events)
	events = filterEvents(events, config)
	return &Session{
		ID:             ms.id,
		AppName:        ms.appName,
		UserID:         ms.userID,
		State:          state,
		Events:         events,
		LastUpdateTime: ms.updated,
	}
}
