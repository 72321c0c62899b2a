package httpserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/isdmx/sandboxd/config"
	"github.com/isdmx/sandboxd/sandbox"
	"github.com/isdmx/sandboxd/session"
)

// MockBroker implements Broker for testing
type MockBroker struct {
	mu         sync.Mutex
	result     sandbox.ExecutionResult
	destroyErr error
	health     session.Health
	sessions   []session.Info

	lastWorkspace string
	lastCode      string
	lastTimeout   time.Duration
	destroyed     []string
}

func (m *MockBroker) Dispatch(_ context.Context, workspaceID, code string, timeout time.Duration) sandbox.ExecutionResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastWorkspace = workspaceID
	m.lastCode = code
	m.lastTimeout = timeout
	return m.result
}

func (m *MockBroker) Destroy(_ context.Context, workspaceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.destroyed = append(m.destroyed, workspaceID)
	return m.destroyErr
}

func (m *MockBroker) last() (workspaceID, code string, timeout time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastWorkspace, m.lastCode, m.lastTimeout
}

func (m *MockBroker) destroyedIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.destroyed...)
}

func (m *MockBroker) Health(context.Context) session.Health { return m.health }

func (m *MockBroker) Sessions() []session.Info { return m.sessions }

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Transport: "http", Host: "127.0.0.1", HTTPPort: 8765, ShutdownTimeoutSec: 5},
	}
}

func newTestServer(t *testing.T, broker *MockBroker) *httptest.Server {
	t.Helper()
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("sandboxd_sessions_active 0\n"))
	})
	s := New(testConfig(), zaptest.NewLogger(t), broker, metrics, nil)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var out map[string]any
	if len(data) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(data, &out))
	}
	return resp, out
}

func TestExecute(t *testing.T) {
	broker := &MockBroker{result: sandbox.ExecutionResult{
		Success:   true,
		Stdout:    "2\n",
		Artifacts: []sandbox.Artifact{{Type: sandbox.ArtifactTypeImage, Data: []byte("png")}},
	}}
	srv := newTestServer(t, broker)

	t.Run("Success", func(t *testing.T) {
		resp, body := do(t, http.MethodPost, srv.URL+"/execute", `{"workspace_id":"ws-1","code":"print(1+1)","timeout":5}`)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, true, body["success"])
		assert.Equal(t, "2\n", body["stdout"])
		assert.Equal(t, "", body["stderr"])
		assert.Equal(t, []any{map[string]any{"type": "image", "data": "cG5n"}}, body["artifacts"])

		workspaceID, code, timeout := broker.last()
		assert.Equal(t, "ws-1", workspaceID)
		assert.Equal(t, "print(1+1)", code)
		assert.Equal(t, 5*time.Second, timeout)
	})

	t.Run("TimeoutOmitted", func(t *testing.T) {
		resp, _ := do(t, http.MethodPost, srv.URL+"/execute", `{"workspace_id":"ws-1","code":"x"}`)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		_, _, timeout := broker.last()
		assert.Equal(t, time.Duration(0), timeout)
	})

	t.Run("FailureIsStill200", func(t *testing.T) {
		failing := &MockBroker{result: sandbox.Failure("", "Execution timed out after 1s")}
		fsrv := newTestServer(t, failing)

		resp, body := do(t, http.MethodPost, fsrv.URL+"/execute", `{"workspace_id":"ws-1","code":"while True: pass","timeout":1}`)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, false, body["success"])
		assert.Equal(t, "Execution timed out after 1s", body["stderr"])
		assert.Equal(t, []any{}, body["artifacts"])
	})

	t.Run("MalformedJSON", func(t *testing.T) {
		resp, body := do(t, http.MethodPost, srv.URL+"/execute", `{"workspace_id":`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Contains(t, body["error"], "invalid JSON")
	})

	t.Run("MissingWorkspace", func(t *testing.T) {
		resp, body := do(t, http.MethodPost, srv.URL+"/execute", `{"code":"print(1)"}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "workspace_id is required", body["error"])
	})

	t.Run("WrongMethod", func(t *testing.T) {
		resp, _ := do(t, http.MethodGet, srv.URL+"/execute", "")
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	})
}

func TestDestroySession(t *testing.T) {
	broker := &MockBroker{}
	srv := newTestServer(t, broker)

	for range 2 {
		resp, body := do(t, http.MethodDelete, srv.URL+"/sessions/ws-1", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, map[string]any{"status": "ok"}, body)
	}
	assert.Equal(t, []string{"ws-1", "ws-1"}, broker.destroyedIDs())

	failing := newTestServer(t, &MockBroker{destroyErr: context.Canceled})
	resp, _ := do(t, http.MethodDelete, failing.URL+"/sessions/ws-2", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	broker := &MockBroker{health: session.Health{
		Status:           "ok",
		SandboxAvailable: false,
		ActiveSessions:   2,
		DegradedSessions: 2,
		Backend:          "docker",
		Mode:             session.ModeDegraded,
	}}
	srv := newTestServer(t, broker)

	resp, body := do(t, http.MethodGet, srv.URL+"/health", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, false, body["sandbox_available"])
	assert.InDelta(t, 2, body["active_sessions"], 0)
	assert.Equal(t, "degraded", body["mode"])
}

func TestListSessions(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	empty := newTestServer(t, &MockBroker{})
	_, body := do(t, http.MethodGet, empty.URL+"/sessions", "")
	assert.Equal(t, []any{}, body["sessions"])

	srv := newTestServer(t, &MockBroker{sessions: []session.Info{{WorkspaceID: "ws-1", CreatedAt: created, LastUsed: created}}})
	_, body = do(t, http.MethodGet, srv.URL+"/sessions", "")
	sessions, ok := body["sessions"].([]any)
	require.True(t, ok)
	require.Len(t, sessions, 1)
	assert.Equal(t, "ws-1", sessions[0].(map[string]any)["workspace_id"])
}

func TestMetricsMounted(t *testing.T) {
	srv := newTestServer(t, &MockBroker{})

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp2, err := http.Get(srv.URL + "/mcp")
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp2.StatusCode, "mcp is not mounted without a handler")
}

func TestStartAndShutdown(t *testing.T) {
	cfg := testConfig()
	cfg.Server.HTTPPort = 0
	s := New(cfg, zaptest.NewLogger(t), &MockBroker{health: session.Health{Status: "ok"}}, nil, nil)

	require.NoError(t, s.Start(context.Background()))
	resp, err := http.Get("http://" + s.Addr().String() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, s.Shutdown(context.Background()))
}
