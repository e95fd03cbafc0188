// Package server exposes the agent over HTTP: the agent card, a message
// endpoint with an SSE streaming variant, health and metrics, and a
// small session administration surface.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"trpc.group/trpc-go/trpc-a2a-go/protocol"

	"github.com/parley-ai/parley/pkg/config"
	"github.com/parley-ai/parley/pkg/executor"
	"github.com/parley-ai/parley/pkg/session"
)

const agentCardPath = "/.well-known/agent.json"

// agentCard is the public description served at the well-known path.
type agentCard struct {
	Name         string            `json:"name"`
	Description  string            `json:"description,omitempty"`
	URL          string            `json:"url,omitempty"`
	Version      string            `json:"version"`
	Capabilities agentCapabilities `json:"capabilities"`
}

type agentCapabilities struct {
	Streaming bool `json:"streaming"`
}

// messageRequest is the body of the message endpoints.
type messageRequest struct {
	Message   string `json:"message"`
	ContextID string `json:"contextId,omitempty"`
	TaskID    string `json:"taskId,omitempty"`
}

// Server hosts the HTTP surface.
type Server struct {
	router     *mux.Router
	exec       *executor.Executor
	sessions   session.Service
	store      *session.Store
	agent      config.AgentConfig
	httpServer *http.Server
	log        logr.Logger
}

// New creates a server. store may be nil when the memory backend is in
// use; the purge endpoint then reports that purging is unavailable.
func New(cfg config.ServerConfig, agent config.AgentConfig, exec *executor.Executor, sessions session.Service, store *session.Store, log logr.Logger) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		exec:     exec,
		sessions: sessions,
		store:    store,
		agent:    agent,
		log:      log.WithName("server"),
	}
	s.routes()
	s.httpServer = &http.Server{
		Addr:              cfg.Address(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc(agentCardPath, s.handleAgentCard).Methods(http.MethodGet)
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	s.router.HandleFunc("/v1/messages", s.handleMessage).Methods(http.MethodPost)
	s.router.HandleFunc("/v1/messages/stream", s.handleMessageStream).Methods(http.MethodPost)
	s.router.HandleFunc("/v1/tasks/{id}/cancel", s.handleCancel).Methods(http.MethodPost)

	s.router.HandleFunc("/v1/sessions", s.handleListSessions).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/sessions/{id}", s.handleDeleteSession).Methods(http.MethodDelete)
	s.router.HandleFunc("/v1/sessions/purge", s.handlePurge).Methods(http.MethodPost)
}

// Handler returns the HTTP handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until the context is canceled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleAgentCard(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, agentCard{
		Name:         s.agent.Name,
		Description:  s.agent.Description,
		URL:          s.agent.URL,
		Version:      s.agent.Version,
		Capabilities: agentCapabilities{Streaming: true},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) requestContext(r *http.Request) (*executor.RequestContext, error) {
	var body messageRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return nil, err
	}
	if body.Message == "" {
		return nil, errors.New("message is required")
	}
	if body.ContextID == "" {
		body.ContextID = uuid.NewString()
	}
	if body.TaskID == "" {
		body.TaskID = uuid.NewString()
	}
	return &executor.RequestContext{
		TaskID:    body.TaskID,
		ContextID: body.ContextID,
		Headers:   r.Header,
		UserInput: body.Message,
	}, nil
}

// handleMessage runs the turn to completion and returns every status
// update as one JSON array.
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	req, err := s.requestContext(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	queue := make(chan protocol.StreamingMessageEvent, 64)
	var execErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer close(queue)
		execErr = s.exec.Execute(r.Context(), req, queue)
	}()

	var updates []any
	for ev := range queue {
		updates = append(updates, ev.Result)
	}
	<-done
	if execErr != nil {
		writeError(w, http.StatusInternalServerError, execErr.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"taskId":    req.TaskID,
		"contextId": req.ContextID,
		"updates":   updates,
	})
}

// handleMessageStream runs the turn and forwards each status update as
// one SSE event.
func (s *Server) handleMessageStream(w http.ResponseWriter, r *http.Request) {
	req, err := s.requestContext(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	queue := make(chan protocol.StreamingMessageEvent, 64)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer close(queue)
		if err := s.exec.Execute(r.Context(), req, queue); err != nil {
			s.log.Error(err, "turn delivery failed", "task", req.TaskID)
		}
	}()

	// Long model calls can go quiet for longer than an intermediary's
	// idle timeout, so silent stretches get a keep-alive update.
	out := executor.KeepAlive(r.Context(), queue, executor.DefaultKeepAliveInterval, s.log)
	for ev := range out {
		data, err := json.Marshal(ev.Result)
		if err != nil {
			s.log.Error(err, "failed to encode status update", "task", req.TaskID)
			continue
		}
		if _, err := w.Write([]byte("event: status-update\ndata: " + string(data) + "\n\n")); err != nil {
			break
		}
		flusher.Flush()
	}
	<-done
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["id"]
	err := s.exec.Cancel(r.Context(), taskID)
	writeError(w, http.StatusNotImplemented, err.Error())
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user query parameter is required")
		return
	}
	sessions, err := s.sessions.ListSessions(r.Context(), s.agent.Name, userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user query parameter is required")
		return
	}
	sessionID := mux.Vars(r)["id"]
	if err := s.sessions.DeleteSession(r.Context(), s.agent.Name, userID, sessionID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePurge(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotImplemented, "purge requires a durable store")
		return
	}
	purged, err := s.store.PurgeExpired(r.Context(), time.Now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"purged": purged})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
