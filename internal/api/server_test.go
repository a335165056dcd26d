// ABOUTME: Tests for the HTTP API using httptest against real engines
// ABOUTME: Covers each endpoint, error-to-status mapping and the metrics endpoint

package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/agentstate/internal/engine"
	"github.com/2389/agentstate/internal/state"
	"github.com/2389/agentstate/internal/store"
)

var rules = engine.Options{SingleActivePhase: true, AutoAdvance: true}

func newTestServer(t *testing.T, backend store.Backend) http.Handler {
	t.Helper()
	t.Cleanup(func() { backend.Close() })
	eng := engine.New(backend, rules, nil)
	return NewServer(eng, Config{Version: "test", MetricsEnabled: true}, nil).Handler()
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	h := newTestServer(t, store.NewMemoryStorage())

	rec := do(t, h, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[map[string]string](t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test", body["version"])
	assert.Equal(t, "memory", body["backend"])
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestPlanWorkflow(t *testing.T) {
	h := newTestServer(t, store.NewMemoryStorage())

	rec := do(t, h, http.MethodPost, "/api/plan", CreatePlanRequest{Goal: "Build API", Phases: []string{"Design", "Implement"}})
	require.Equal(t, http.StatusCreated, rec.Code)
	plan := decodeBody[state.TaskPlan](t, rec)
	assert.Len(t, plan.Phases, 2)

	rec = do(t, h, http.MethodPost, "/api/phase/start", PhaseRequest{PhaseName: "Design"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/phase/complete", PhaseRequest{PhaseName: "Design"})
	require.Equal(t, http.StatusOK, rec.Code)
	plan = decodeBody[state.TaskPlan](t, rec)
	assert.Equal(t, state.PhaseInProgress, plan.Phase("Implement").Status)

	rec = do(t, h, http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decodeBody[engine.Status](t, rec)
	assert.True(t, status.HasPlan)
	assert.Equal(t, 50.0, status.Progress)
	assert.Equal(t, "Implement", status.CurrentPhase)

	rec = do(t, h, http.MethodPost, "/api/phase/fail", PhaseRequest{PhaseName: "Implement", Error: "blocked"})
	require.Equal(t, http.StatusOK, rec.Code)
	plan = decodeBody[state.TaskPlan](t, rec)
	assert.Equal(t, state.PhaseFailed, plan.Phase("Implement").Status)
	assert.Equal(t, "blocked", plan.Phase("Implement").ErrorMessage)
}

func TestEntries(t *testing.T) {
	h := newTestServer(t, store.NewMemoryStorage())

	rec := do(t, h, http.MethodPost, "/api/note", NoteRequest{Content: "paginate", Section: "api"})
	require.Equal(t, http.StatusCreated, rec.Code)
	do(t, h, http.MethodPost, "/api/note", NoteRequest{Content: "general"})

	rec = do(t, h, http.MethodGet, "/api/notes?section=api", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	notes := decodeBody[[]state.Note](t, rec)
	require.Len(t, notes, 1)
	assert.Equal(t, "paginate", notes[0].Content)

	rec = do(t, h, http.MethodGet, "/api/notes", nil)
	assert.Len(t, decodeBody[[]state.Note](t, rec), 2)

	rec = do(t, h, http.MethodPost, "/api/decision", DecisionRequest{Decision: "chi", Rationale: "small"})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = do(t, h, http.MethodGet, "/api/decisions", nil)
	assert.Len(t, decodeBody[[]state.Decision](t, rec), 1)

	rec = do(t, h, http.MethodPost, "/api/error", ErrorRequest{Error: "EOF"})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = do(t, h, http.MethodGet, "/api/errors", nil)
	assert.Len(t, decodeBody[[]state.ErrorLog](t, rec), 1)

	rec = do(t, h, http.MethodDelete, "/api/clear", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, h, http.MethodGet, "/api/notes", nil)
	assert.Empty(t, decodeBody[[]state.Note](t, rec))
}

func TestErrorMapping(t *testing.T) {
	h := newTestServer(t, store.NewMemoryStorage())

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"missing goal", http.MethodPost, "/api/plan", CreatePlanRequest{}, http.StatusBadRequest},
		{"bad json", http.MethodPost, "/api/note", nil, http.StatusBadRequest},
		{"missing phase name", http.MethodPost, "/api/phase/start", PhaseRequest{}, http.StatusBadRequest},
		{"no plan", http.MethodPost, "/api/phase/start", PhaseRequest{PhaseName: "x"}, http.StatusNotFound},
		{"empty note", http.MethodPost, "/api/note", NoteRequest{Content: " "}, http.StatusBadRequest},
		{"decision without rationale", http.MethodPost, "/api/decision", DecisionRequest{Decision: "d"}, http.StatusBadRequest},
		{"history unsupported", http.MethodGet, "/api/history", nil, http.StatusBadRequest},
		{"unknown route", http.MethodGet, "/api/nope", nil, http.StatusNotFound},
		{"wrong method", http.MethodGet, "/api/plan", nil, http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decodeBody[map[string]string](t, rec)["error"])
		})
	}
}

func TestPhaseConflicts(t *testing.T) {
	h := newTestServer(t, store.NewMemoryStorage())
	do(t, h, http.MethodPost, "/api/plan", CreatePlanRequest{Goal: "g", Phases: []string{"a", "b"}})
	do(t, h, http.MethodPost, "/api/phase/start", PhaseRequest{PhaseName: "a"})

	rec := do(t, h, http.MethodPost, "/api/phase/start", PhaseRequest{PhaseName: "b"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/phase/start", PhaseRequest{PhaseName: "missing"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/plan", CreatePlanRequest{Goal: "g", Phases: []string{"a", "a"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHistoryAndRollback(t *testing.T) {
	backend, err := store.NewHistoryStorage(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	h := newTestServer(t, backend)

	do(t, h, http.MethodPost, "/api/plan", CreatePlanRequest{Goal: "v1", Phases: []string{"a"}})
	do(t, h, http.MethodPost, "/api/plan", CreatePlanRequest{Goal: "v2", Phases: []string{"a"}})

	rec := do(t, h, http.MethodGet, "/api/history?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decodeBody[[]store.HistoryEntry](t, rec)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(2), entries[0].Version)

	rec = do(t, h, http.MethodPost, "/api/rollback", RollbackRequest{Version: 1})
	require.Equal(t, http.StatusOK, rec.Code)
	st := decodeBody[state.AgentState](t, rec)
	assert.Equal(t, "v1", st.Plan.Goal)

	rec = do(t, h, http.MethodPost, "/api/rollback", RollbackRequest{Version: 99})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/rollback", RollbackRequest{Version: 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/history?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/history", nil)
	assert.Len(t, decodeBody[[]store.HistoryEntry](t, rec), 3)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestServer(t, store.NewMemoryStorage())
	do(t, h, http.MethodGet, "/api/status", nil)

	rec := do(t, h, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "agentstate_store_operations_total"))
}

func TestMetricsDisabled(t *testing.T) {
	backend := store.NewMemoryStorage()
	t.Cleanup(func() { backend.Close() })
	h := NewServer(engine.New(backend, rules, nil), Config{}, nil).Handler()

	rec := do(t, h, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStorageFailureIsInternal(t *testing.T) {
	backend := store.NewMemoryStorage()
	eng := engine.New(backend, rules, nil)
	h := NewServer(eng, Config{}, nil).Handler()
	require.NoError(t, backend.Close())

	rec := do(t, h, http.MethodGet, "/api/status", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal server error", decodeBody[map[string]string](t, rec)["error"])
}

func TestMCPEndpoint(t *testing.T) {
	h := newTestServer(t, store.NewMemoryStorage())

	rec := do(t, h, http.MethodPost, "/mcp", map[string]any{"jsonrpc": "2.0", "id": 1, "method": "initialize", "params": map[string]any{}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	sessionID := rec.Header().Get("Mcp-Session-Id")
	require.NotEmpty(t, sessionID)

	body := `{"jsonrpc": "2.0", "id": 2, "method": "tools/call", "params": {"name": "add_note", "arguments": {"content": "via mcp"}}}`
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Mcp-Session-Id", sessionID)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), `"isError"`)

	notes := decodeBody[[]state.Note](t, do(t, h, http.MethodGet, "/api/notes", nil))
	require.Len(t, notes, 1)
	assert.Equal(t, "via mcp", notes[0].Content)

	rec = do(t, h, http.MethodGet, "/mcp", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
