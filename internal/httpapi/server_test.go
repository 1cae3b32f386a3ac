package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dshills/gocontext-ingest/internal/ingest"
	"github.com/dshills/gocontext-ingest/internal/searcher"
	"github.com/dshills/gocontext-ingest/internal/status"
	"github.com/dshills/gocontext-ingest/internal/storage"
)

type fakeEngine struct {
	mu        sync.Mutex
	started   []ingest.Params
	startErr  error
	runs      map[string]status.Status
	cancelled []string
	removeErr error
	roots     []*storage.Root
}

func (f *fakeEngine) StartIngest(_ context.Context, p ingest.Params) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return "", f.startErr
	}
	f.started = append(f.started, p)
	return "run-1", nil
}

func (f *fakeEngine) GetStatus(runID string) (status.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.runs[runID]
	if !ok {
		return status.Status{}, ingest.ErrRunNotFound
	}
	return st, nil
}

func (f *fakeEngine) CancelRun(runID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.runs[runID]; !ok {
		return &ingest.ValidationError{Field: "run_id", Reason: "unknown run"}
	}
	f.cancelled = append(f.cancelled, runID)
	return nil
}

func (f *fakeEngine) ListRoots(context.Context) ([]*storage.Root, error) {
	return f.roots, nil
}

func (f *fakeEngine) RemoveRoot(context.Context, string) (ingest.RemoveResult, error) {
	if f.removeErr != nil {
		return ingest.RemoveResult{}, f.removeErr
	}
	return ingest.RemoveResult{Unlocked: true}, nil
}

type fakeSearcher struct {
	err error
}

func (f *fakeSearcher) Search(_ context.Context, req searcher.Request) (*searcher.Response, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &searcher.Response{Root: req.RootPath, Results: []searcher.Result{{RelPath: "a.go"}}}, nil
}

func setupTestServer(t *testing.T) (*Server, *fakeEngine, *status.Publisher) {
	t.Helper()
	eng := &fakeEngine{runs: map[string]status.Status{}}
	pub := status.NewPublisher(16)
	reg := prometheus.NewRegistry()
	ingest.NewMetrics(reg).RunStarted()

	s, err := NewServer(eng, &fakeSearcher{}, pub, zap.NewNop(), Config{DefaultModel: "model-a", Gatherer: reg})
	require.NoError(t, err)
	return s, eng, pub
}

func do(s *Server, method, target string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestNewServer(t *testing.T) {
	_, err := NewServer(nil, nil, status.NewPublisher(0), nil, Config{})
	assert.Error(t, err)
	_, err = NewServer(&fakeEngine{}, nil, nil, nil, Config{})
	assert.Error(t, err)
}

func TestHandleHealth(t *testing.T) {
	s, _, _ := setupTestServer(t)
	rec := do(s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestHandleMetrics(t *testing.T) {
	s, _, _ := setupTestServer(t)
	rec := do(s, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "gocontext_ingest_active_runs 1")
}

func TestHandleIngest(t *testing.T) {
	t.Run("accepted with defaults", func(t *testing.T) {
		s, eng, _ := setupTestServer(t)
		rec := do(s, http.MethodPost, "/api/v1/ingest", IngestRequest{Path: "/work/repo", DryRun: true})
		require.Equal(t, http.StatusAccepted, rec.Code)

		var resp IngestResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "run-1", resp.RunID)
		assert.Equal(t, status.StateQueued, resp.State)

		require.Len(t, eng.started, 1)
		assert.Equal(t, "repo", eng.started[0].Name)
		assert.Equal(t, "model-a", eng.started[0].Model)
		assert.True(t, eng.started[0].DryRun)
	})

	tests := []struct {
		name string
		err  error
		code int
	}{
		{"busy", &ingest.BusyError{ActiveRunID: "run-0"}, http.StatusConflict},
		{"validation", &ingest.ValidationError{Field: "model", Reason: "locked"}, http.StatusBadRequest},
		{"store down", ingest.ErrStoreUnavailable, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, eng, _ := setupTestServer(t)
			eng.startErr = tt.err
			rec := do(s, http.MethodPost, "/api/v1/ingest", IngestRequest{Path: "/work/repo"})
			assert.Equal(t, tt.code, rec.Code)
		})
	}

	t.Run("missing path", func(t *testing.T) {
		s, _, _ := setupTestServer(t)
		rec := do(s, http.MethodPost, "/api/v1/ingest", IngestRequest{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestRuns(t *testing.T) {
	s, eng, _ := setupTestServer(t)
	eng.runs["run-3"] = status.Status{RunID: "run-3", State: status.StateScanning}

	rec := do(s, http.MethodGet, "/api/v1/runs/run-3", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var st status.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, status.StateScanning, st.State)

	assert.Equal(t, http.StatusNotFound, do(s, http.MethodGet, "/api/v1/runs/missing", nil).Code)

	assert.Equal(t, http.StatusAccepted, do(s, http.MethodPost, "/api/v1/runs/run-3/cancel", nil).Code)
	assert.Equal(t, []string{"run-3"}, eng.cancelled)
	assert.Equal(t, http.StatusBadRequest, do(s, http.MethodPost, "/api/v1/runs/missing/cancel", nil).Code)
}

func TestRoots(t *testing.T) {
	s, eng, _ := setupTestServer(t)
	eng.roots = []*storage.Root{{Path: "/a", ModelID: "model-a"}}

	rec := do(s, http.MethodGet, "/api/v1/roots", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"modelId":"model-a"`)

	rec = do(s, http.MethodDelete, "/api/v1/roots?path=/a", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"unlocked":true}`, rec.Body.String())

	assert.Equal(t, http.StatusBadRequest, do(s, http.MethodDelete, "/api/v1/roots", nil).Code)

	eng.removeErr = ingest.ErrRootNotFound
	assert.Equal(t, http.StatusNotFound, do(s, http.MethodDelete, "/api/v1/roots?path=/b", nil).Code)

	eng.removeErr = &ingest.BusyError{ActiveRunID: "run-1"}
	assert.Equal(t, http.StatusConflict, do(s, http.MethodDelete, "/api/v1/roots?path=/a", nil).Code)
}

func TestSearch(t *testing.T) {
	s, _, _ := setupTestServer(t)
	rec := do(s, http.MethodPost, "/api/v1/search", SearchRequest{Path: "/a", Query: "q"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"relPath":"a.go"`)

	s.searcher = &fakeSearcher{err: searcher.ErrRootNotIndexed}
	assert.Equal(t, http.StatusNotFound, do(s, http.MethodPost, "/api/v1/search", SearchRequest{Path: "/b", Query: "q"}).Code)
	assert.Equal(t, http.StatusBadRequest, do(s, http.MethodPost, "/api/v1/search", SearchRequest{Query: "q"}).Code)
}

func dialStream(t *testing.T, s *Server, key string) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/status?key=" + key
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestStatusStream(t *testing.T) {
	s, _, pub := setupTestServer(t)
	pub.Publish("run-9", status.Status{RunID: "run-9", State: status.StateQueued})

	conn := dialStream(t, s, "run-9")
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var ev status.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, status.KindSnapshot, ev.Kind)
	assert.Equal(t, status.StateQueued, ev.Status.State)

	require.Eventually(t, func() bool { return pub.Subscribers("run-9") == 1 }, time.Second, 10*time.Millisecond)
	pub.Publish("run-9", status.Status{RunID: "run-9", State: status.StateScanning})
	pub.Publish("run-9", status.Status{RunID: "run-9", State: status.StateCompleted})

	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, status.StateScanning, ev.Status.State)
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, status.StateCompleted, ev.Status.State)
	assert.EqualValues(t, 3, ev.Seq)

	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))
}

func TestStatusStream_ActiveKeyStaysOpen(t *testing.T) {
	s, _, pub := setupTestServer(t)
	conn := dialStream(t, s, "")
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	require.Eventually(t, func() bool { return pub.Subscribers(status.ActiveKey) == 1 }, time.Second, 10*time.Millisecond)
	pub.Publish(status.ActiveKey, status.Status{RunID: "a", State: status.StateCompleted})
	pub.Publish(status.ActiveKey, status.Status{RunID: "b", State: status.StateQueued})

	var ev status.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "a", ev.Status.RunID)
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "b", ev.Status.RunID)
}
