package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"dario.cat/mergo"
	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"gorm.io/gorm"

	apperrors "github.com/parley-ai/parley/pkg/errors"
	"github.com/parley-ai/parley/pkg/metrics"
)

func observeOp(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.SessionOpsTotal.WithLabelValues(op, result).Inc()
}

// sessionRow is the persisted session snapshot.
type sessionRow struct {
	Key        string    `gorm:"primaryKey;column:key"`
	AppName    string    `gorm:"index:idx_sessions_app_user"`
	UserID     string    `gorm:"index:idx_sessions_app_user"`
	SessionID  string    `gorm:"column:session_id"`
	State      []byte    `gorm:"column:state"`
	CreateTime time.Time `gorm:"column:create_time"`
	UpdateTime time.Time `gorm:"column:update_time"`
	TTL        time.Time `gorm:"column:ttl"`
}

func (sessionRow) TableName() string { return "sessions" }

// eventRow is one persisted log entry. Actions are stored as an opaque
// blob and decoded best-effort on read.
type eventRow struct {
	ID           string    `gorm:"primaryKey"`
	SessionKey   string    `gorm:"index:idx_events_session_ts"`
	Timestamp    time.Time `gorm:"index:idx_events_session_ts"`
	InvocationID string
	Author       string
	Branch       string
	Content      []byte
	Actions      []byte
	Partial      bool
	TurnComplete bool
	ErrorCode    string
	ErrorMessage string
}

func (eventRow) TableName() string { return "events" }

// Store is a GORM-backed Service implementation. It works against any
// dialect GORM supports; the service runs it on sqlite or postgres.
type Store struct {
	db  *gorm.DB
	log logr.Logger
	now func() time.Time
}

var _ Service = (*Store)(nil)

// NewStore creates a Store and migrates its tables.
func NewStore(db *gorm.DB, log logr.Logger) (*Store, error) {
	if db == nil {
		return nil, apperrors.New(apperrors.ErrCodeSessionCreate, "database connection cannot be nil", nil)
	}
	if err := db.AutoMigrate(&sessionRow{}, &eventRow{}); err != nil {
		return nil, apperrors.New(apperrors.ErrCodeSessionCreate, "failed to migrate session tables", err)
	}
	return &Store{db: db, log: log.WithName("session-store"), now: time.Now}, nil
}

func sessionKey(appName, userID, sessionID string) string {
	return fmt.Sprintf("%s:%s:%s", appName, userID, sessionID)
}

// CreateSession creates the session or returns the existing one. Existing
// state is never overwritten.
func (s *Store) CreateSession(ctx context.Context, appName, userID, sessionID string, state map[string]any) (_ *Session, retErr error) {
	defer func() { observeOp("create", retErr) }()
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	key := sessionKey(appName, userID, sessionID)
	now := s.now().UTC()

	var row sessionRow
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("key = ?", key).First(&row).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		stateBytes, err := json.Marshal(StripTempState(state))
		if err != nil {
			return err
		}
		row = sessionRow{
			Key:        key,
			AppName:    appName,
			UserID:     userID,
			SessionID:  sessionID,
			State:      stateBytes,
			CreateTime: now,
			UpdateTime: now,
			TTL:        now.Add(DefaultRetention),
		}
		return tx.Create(&row).Error
	})
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeSessionCreate, "failed to create session", err)
	}

	return s.rowToSession(&row), nil
}

// GetSession returns the snapshot plus filtered, ordered events, or nil
// when the session does not exist.
func (s *Store) GetSession(ctx context.Context, appName, userID, sessionID string, config *GetSessionConfig) (_ *Session, retErr error) {
	defer func() { observeOp("get", retErr) }()
	key := sessionKey(appName, userID, sessionID)

	var row sessionRow
	if err := s.db.WithContext(ctx).Where("key = ?", key).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, apperrors.New(apperrors.ErrCodeSessionGet, "failed to load session", err)
	}
	sess := s.rowToSession(&row)

	query := s.db.WithContext(ctx).
		Where("session_key = ?", key).
		Order("timestamp")
	if config != nil && !config.AfterTimestamp.IsZero() {
		query = query.Where("timestamp >= ?", config.AfterTimestamp.UTC())
	}

	var rows []eventRow
	if err := query.Find(&rows).Error; err != nil {
		return nil, apperrors.New(apperrors.ErrCodeSessionGet, "failed to load events", err)
	}

	events := make([]*Event, 0, len(rows))
	for i := range rows {
		ev := s.rowToEvent(&rows[i])
		// Events written after the snapshot are not visible yet.
		if ev.Timestamp.After(sess.LastUpdateTime) {
			continue
		}
		events = append(events, ev)
	}

	sess.Events = filterEvents(events, config)
	return sess, nil
}

// filterEvents applies the recency window. The after-timestamp branch is a
// trailing-window scan: walk backward while timestamps are >= the cutoff
// and keep that suffix. Callers depend on receiving only "events since
// last snapshot", so a forward filter is not equivalent.
func filterEvents(events []*Event, config *GetSessionConfig) []*Event {
	if config == nil {
		return events
	}
	if config.NumRecentEvents > 0 {
		if len(events) > config.NumRecentEvents {
			return events[len(events)-config.NumRecentEvents:]
		}
		return events
	}
	if !config.AfterTimestamp.IsZero() {
		i := len(events) - 1
		for i >= 0 && !events[i].Timestamp.Before(config.AfterTimestamp) {
			i--
		}
		return events[i+1:]
	}
	return events
}

// ListSessions returns the user's sessions without their event logs.
func (s *Store) ListSessions(ctx context.Context, appName, userID string) ([]*Session, error) {
	var rows []sessionRow
	err := s.db.WithContext(ctx).
		Where("app_name = ? AND user_id = ?", appName, userID).
		Find(&rows).Error
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeSessionGet, "failed to list sessions", err)
	}

	sessions := make([]*Session, len(rows))
	for i := range rows {
		sessions[i] = s.rowToSession(&rows[i])
	}
	return sessions, nil
}

// AppendEvent merges the event's state-delta into the in-memory session
// state, persists the event, and updates the snapshot and timestamp. The
// write is a single transaction so readers never observe the log and the
// snapshot diverging.
func (s *Store) AppendEvent(ctx context.Context, sess *Session, event *Event) (_ *Event, retErr error) {
	defer func() { observeOp("append", retErr) }()
	if sess == nil || event == nil {
		return nil, apperrors.New(apperrors.ErrCodeAppendEvent, "session and event are required", nil)
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now().UTC()
	}

	if sess.State == nil {
		sess.State = map[string]any{}
	}
	if event.Actions != nil && len(event.Actions.StateDelta) > 0 {
		if err := mergo.Merge(&sess.State, event.Actions.StateDelta, mergo.WithOverride); err != nil {
			return nil, apperrors.New(apperrors.ErrCodeAppendEvent, "failed to merge state delta", err)
		}
	}

	persistedState, err := json.Marshal(StripTempState(sess.State))
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeAppendEvent, "failed to encode session state", err)
	}

	row, err := s.eventToRow(sess, event)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeAppendEvent, "failed to encode event", err)
	}

	key := sessionKey(sess.AppName, sess.UserID, sess.ID)
	now := s.now().UTC()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(row).Error; err != nil {
			return err
		}
		res := tx.Model(&sessionRow{}).Where("key = ?", key).Updates(map[string]any{
			"state":       persistedState,
			"update_time": now,
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeAppendEvent, "failed to append event", err)
	}

	sess.Events = append(sess.Events, event)
	sess.LastUpdateTime = now
	return event, nil
}

// DeleteSession removes the event log before the session row. A crash
// between the two deletes can leave orphaned events; they are unreadable
// through GetSession and are left to external cleanup.
func (s *Store) DeleteSession(ctx context.Context, appName, userID, sessionID string) (retErr error) {
	defer func() { observeOp("delete", retErr) }()
	key := sessionKey(appName, userID, sessionID)
	db := s.db.WithContext(ctx)

	if err := db.Where("session_key = ?", key).Delete(&eventRow{}).Error; err != nil {
		return apperrors.New(apperrors.ErrCodeSessionDelete, "failed to delete events", err)
	}
	if err := db.Where("key = ?", key).Delete(&sessionRow{}).Error; err != nil {
		return apperrors.New(apperrors.ErrCodeSessionDelete, "failed to delete session", err)
	}
	return nil
}

// PurgeExpired deletes every session whose ttl lies before now. Failures
// are collected per session so one bad row does not abort the sweep.
func (s *Store) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	var rows []sessionRow
	err := s.db.WithContext(ctx).Where("ttl < ?", now.UTC()).Find(&rows).Error
	if err != nil {
		return 0, apperrors.New(apperrors.ErrCodeSessionDelete, "failed to list expired sessions", err)
	}

	var result *multierror.Error
	purged := 0
	for i := range rows {
		if err := s.DeleteSession(ctx, rows[i].AppName, rows[i].UserID, rows[i].SessionID); err != nil {
			result = multierror.Append(result, err)
			continue
		}
		purged++
	}
	return purged, result.ErrorOrNil()
}

func (s *Store) rowToSession(row *sessionRow) *Session {
	state := map[string]any{}
	if len(row.State) > 0 {
		if err := json.Unmarshal(row.State, &state); err != nil {
			s.log.Error(err, "failed to decode session state", "session", row.Key)
			state = map[string]any{}
		}
	}
	return &Session{
		ID:             row.SessionID,
		AppName:        row.AppName,
		UserID:         row.UserID,
		State:          state,
		LastUpdateTime: row.UpdateTime,
	}
}

func (s *Store) eventToRow(sess *Session, event *Event) (*eventRow, error) {
	var content []byte
	if event.Content != nil {
		b, err := json.Marshal(event.Content)
		if err != nil {
			return nil, err
		}
		content = b
	}

	var actions []byte
	if event.Actions != nil {
		b, err := json.Marshal(event.Actions)
		if err != nil {
			return nil, err
		}
		actions = b
	}

	return &eventRow{
		ID:           event.ID,
		SessionKey:   sessionKey(sess.AppName, sess.UserID, sess.ID),
		Timestamp:    event.Timestamp.UTC(),
		InvocationID: event.InvocationID,
		Author:       event.Author,
		Branch:       event.Branch,
		Content:      content,
		Actions:      actions,
		Partial:      event.Partial,
		TurnComplete: event.TurnComplete,
		ErrorCode:    event.ErrorCode,
		ErrorMessage: event.ErrorMessage,
	}, nil
}

func (s *Store) rowToEvent(row *eventRow) *Event {
	ev := &Event{
		ID:           row.ID,
		InvocationID: row.InvocationID,
		Author:       row.Author,
		Branch:       row.Branch,
		Timestamp:    row.Timestamp,
		Partial:      row.Partial,
		TurnComplete: row.TurnComplete,
		ErrorCode:    row.ErrorCode,
		ErrorMessage: row.ErrorMessage,
	}

	if len(row.Content) > 0 {
		var content Content
		if err := json.Unmarshal(row.Content, &content); err != nil {
			s.log.V(1).Info("failed to decode event content", "event", row.ID, "error", err.Error())
		} else {
			ev.Content = &content
		}
	}

	// Corrupt action blobs degrade to an empty action set so one bad
	// event cannot block replay of the whole session.
	ev.Actions = &EventActions{}
	if len(row.Actions) > 0 {
		var actions EventActions
		if err := json.Unmarshal(row.Actions, &actions); err != nil {
			s.log.V(1).Info("failed to decode event actions", "event", row.ID, "error", err.Error())
		} else {
			ev.Actions = &actions
		}
	}
	return ev
}
