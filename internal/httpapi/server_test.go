package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/subvert/internal/persistence"
	"github.com/MimeLyc/subvert/internal/service"
)

type fakeStatus struct {
	status service.Status
}

func (f fakeStatus) Status() service.Status {
	return f.status
}

type fakeLauncher struct {
	mu       sync.Mutex
	running  bool
	next     time.Time
	triggers []string
	ctx      context.Context
}

func (f *fakeLauncher) TriggerAsync(ctx context.Context, trigger string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return false
	}
	f.running = true
	f.ctx = ctx
	f.triggers = append(f.triggers, trigger)
	return true
}

func (f *fakeLauncher) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeLauncher) NextRun() time.Time {
	return f.next
}

func newStore(t *testing.T) *persistence.SQLiteStore {
	t.Helper()
	store, err := persistence.NewSQLiteStore(filepath.Join(t.TempDir(), "subvert.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func serve(t *testing.T, srv *Server, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_Health(t *testing.T) {
	srv := NewServer(fakeStatus{}, nil)
	rec := serve(t, srv, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
}

func TestServer_Status(t *testing.T) {
	next := time.Date(2026, 10, 19, 3, 0, 0, 0, time.UTC)
	status := fakeStatus{status: service.Status{
		Running:  true,
		RunID:    "r1",
		Total:    23,
		Visited:  10,
		Progress: 10.0 / 23.0,
		LastRun:  &service.Summary{RunID: "r0", Extracted: 4},
	}}
	srv := NewServer(status, &fakeLauncher{next: next})

	rec := serve(t, srv, http.MethodGet, "/api/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Running bool             `json:"running"`
		RunID   string           `json:"run_id"`
		Visited int              `json:"visited"`
		NextRun time.Time        `json:"next_run"`
		LastRun *service.Summary `json:"last_run"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Running)
	assert.Equal(t, "r1", body.RunID)
	assert.Equal(t, 10, body.Visited)
	assert.True(t, next.Equal(body.NextRun))
	require.NotNil(t, body.LastRun)
	assert.Equal(t, 4, body.LastRun.Extracted)

	rec = serve(t, srv, http.MethodPost, "/api/status")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServer_StatusWithoutSchedule(t *testing.T) {
	srv := NewServer(fakeStatus{}, &fakeLauncher{})
	rec := serve(t, srv, http.MethodGet, "/api/status")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "next_run")
}

func TestServer_TriggerRun(t *testing.T) {
	type ctxKey struct{}
	runCtx := context.WithValue(context.Background(), ctxKey{}, "server")
	launcher := &fakeLauncher{}
	srv := NewServer(fakeStatus{}, launcher, WithRunContext(runCtx))

	rec := serve(t, srv, http.MethodPost, "/api/runs")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"api"}, launcher.triggers)
	assert.Equal(t, "server", launcher.ctx.Value(ctxKey{}), "walk must not run under the request context")

	rec = serve(t, srv, http.MethodPost, "/api/runs")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "already running")
}

func TestServer_ListRuns(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	base := time.Date(2026, 10, 1, 3, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		run := persistence.Run{ID: id, Trigger: "cron", Status: persistence.RunCompleted, StartedAt: base.Add(time.Duration(i) * time.Hour)}
		require.NoError(t, store.StartRun(ctx, run))
	}
	srv := NewServer(fakeStatus{}, nil, WithHistory(store))

	rec := serve(t, srv, http.MethodGet, "/api/runs?limit=2")
	require.Equal(t, http.StatusOK, rec.Code)
	var runs []persistence.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	require.Len(t, runs, 2)
	assert.Equal(t, "c", runs[0].ID)
	assert.Equal(t, "b", runs[1].ID)

	rec = serve(t, srv, http.MethodGet, "/api/runs?limit=abc")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_ListRunsEmpty(t *testing.T) {
	srv := NewServer(fakeStatus{}, nil, WithHistory(newStore(t)))
	rec := serve(t, srv, http.MethodGet, "/api/runs")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestServer_RunDetails(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	run := persistence.Run{ID: "run-1", Trigger: "api", Status: persistence.RunRunning, StartedAt: time.Now()}
	require.NoError(t, store.StartRun(ctx, run))
	require.NoError(t, store.RecordOutcome(ctx, persistence.Outcome{
		RunID:     "run-1",
		Seq:       1,
		SceneID:   "11",
		MediaPath: "/media/a.mkv",
		Status:    "completed",
		Tracks:    2,
		Extracted: 2,
		Tagged:    true,
		Languages: []string{"en", "ja"},
	}))
	srv := NewServer(fakeStatus{}, nil, WithHistory(store))

	rec := serve(t, srv, http.MethodGet, "/api/runs/run-1")
	require.Equal(t, http.StatusOK, rec.Code)
	var body runDetailsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "run-1", body.Run.ID)
	require.Len(t, body.Outcomes, 1)
	assert.Equal(t, "11", body.Outcomes[0].SceneID)
	assert.Equal(t, []string{"en", "ja"}, body.Outcomes[0].Languages)

	rec = serve(t, srv, http.MethodGet, "/api/runs/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(t, srv, http.MethodGet, "/api/runs/run-1/extra")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_HistoryNotConfigured(t *testing.T) {
	srv := NewServer(fakeStatus{}, nil)
	assert.Equal(t, http.StatusNotImplemented, serve(t, srv, http.MethodGet, "/api/runs").Code)
	assert.Equal(t, http.StatusNotImplemented, serve(t, srv, http.MethodGet, "/api/runs/x").Code)
	assert.Equal(t, http.StatusNotImplemented, serve(t, srv, http.MethodPost, "/api/runs").Code)
}

func TestServer_StatusStream(t *testing.T) {
	srv := NewServer(fakeStatus{status: service.Status{RunID: "r1"}}, nil, WithStreamInterval(10*time.Millisecond))
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/status/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	reader := bufio.NewReader(resp.Body)
	events := 0
	for events < 2 {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "data: ") {
			assert.Contains(t, line, `"run_id":"r1"`)
			events++
		}
	}
}
