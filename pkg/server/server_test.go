package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parley-ai/parley/pkg/auth"
	"github.com/parley-ai/parley/pkg/config"
	"github.com/parley-ai/parley/pkg/executor"
	"github.com/parley-ai/parley/pkg/runtime"
	"github.com/parley-ai/parley/pkg/session"
	"github.com/parley-ai/parley/pkg/stream"
)

// replyRuntime answers every turn with one fixed final response.
type replyRuntime struct {
	name  string
	reply string
}

func (r *replyRuntime) AgentName() string { return r.name }

func (r *replyRuntime) Run(ctx context.Context, inv *runtime.Invocation, events chan<- *session.Event) error {
	final := &session.Event{
		InvocationID: inv.InvocationID,
		Author:       r.name,
		Timestamp:    time.Now(),
		TurnComplete: true,
		Content:      session.NewTextContent(session.RoleModel, r.reply),
	}
	select {
	case events <- final:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func newTestServer(t *testing.T) (*Server, *session.Manager) {
	t.Helper()
	manager := session.NewManager(session.NewInMemoryService())
	rt := &replyRuntime{name: "analyst", reply: "forty-two"}
	translator := stream.NewTranslator(rt, manager, runtime.DefaultRetryPolicy(), logr.Discard())
	authn := auth.NewBearerAuthenticator(auth.NewHMACVerifier("secret"))
	exec := executor.NewExecutor(translator, authn, true, logr.Discard())

	agent := config.AgentConfig{Name: "analyst", Description: "answers questions", Version: "1.2.3"}
	return New(config.ServerConfig{Host: "127.0.0.1", Port: 0}, agent, exec, session.NewInMemoryService(), nil, logr.Discard()), manager
}

func TestServer_AgentCard(t *testing.T) {
	s, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/.well-known/agent.json", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var card map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &card))
	assert.Equal(t, "analyst", card["name"])
	assert.Equal(t, "1.2.3", card["version"])
	caps, ok := card["capabilities"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, caps["streaming"])
}

func TestServer_Health(t *testing.T) {
	s, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_Message(t *testing.T) {
	s, _ := newTestServer(t)

	body := strings.NewReader(`{"message": "what is the answer?", "contextId": "ctx-1"}`)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/messages", body))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		TaskID    string           `json:"taskId"`
		ContextID string           `json:"contextId"`
		Updates   []map[string]any `json:"updates"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.TaskID)
	assert.Equal(t, "ctx-1", resp.ContextID)
	require.NotEmpty(t, resp.Updates)

	last := resp.Updates[len(resp.Updates)-1]
	status, ok := last["status"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "completed", status["state"])
	assert.Equal(t, true, last["final"])
}

func TestServer_MessageStream(t *testing.T) {
	s, _ := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/v1/messages/stream", "application/json",
		strings.NewReader(`{"message": "hello", "contextId": "ctx-2"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	var dataLines []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		if line := scanner.Text(); strings.HasPrefix(line, "data: ") {
			dataLines = append(dataLines, strings.TrimPrefix(line, "data: "))
		}
	}
	require.NotEmpty(t, dataLines)

	var last map[string]any
	require.NoError(t, json.Unmarshal([]byte(dataLines[len(dataLines)-1]), &last))
	status, ok := last["status"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "completed", status["state"])
}

func TestServer_BadRequest(t *testing.T) {
	s, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_CancelNotSupported(t *testing.T) {
	s, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/tasks/t-1/cancel", nil))
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestServer_SessionAdmin(t *testing.T) {
	s, _ := newTestServer(t)

	// Seed a session through the admin store.
	_, err := s.sessions.CreateSession(context.Background(), "analyst", "user-1", "sess-1", map[string]any{"conversationTitle": "x"})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/sessions?user=user-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var listResp struct {
		Sessions []map[string]any `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listResp))
	require.Len(t, listResp.Sessions, 1)

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/v1/sessions/sess-1?user=user-1", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/sessions?user=user-1", nil))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listResp))
	assert.Empty(t, listResp.Sessions)

	// Listing without a user is rejected.
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/sessions", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
