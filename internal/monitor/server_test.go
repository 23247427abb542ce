package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johndauphine/sqlite-server-migrate/internal/orchestrator"
)

type fakeController struct {
	runs       map[string]orchestrator.Snapshot
	stopped    []string
	rolledBack map[string]string
}

func newFake() *fakeController {
	return &fakeController{
		runs: map[string]orchestrator.Snapshot{
			"abc12345": {
				Job:     orchestrator.Job{ID: "abc12345", Stage: orchestrator.StageInitialDataSync, IsRunning: true},
				Metrics: orchestrator.Metrics{TablesTotal: 2, RecordsMigrated: 40, RecordsTotal: 100},
			},
		},
		rolledBack: map[string]string{},
	}
}

func (f *fakeController) List() []orchestrator.Snapshot {
	out := make([]orchestrator.Snapshot, 0, len(f.runs))
	for _, s := range f.runs {
		out = append(out, s)
	}
	return out
}

func (f *fakeController) Status(id string) (orchestrator.Snapshot, error) {
	s, ok := f.runs[id]
	if !ok {
		return orchestrator.Snapshot{}, fmt.Errorf("run %s: %w", id, orchestrator.ErrUnknownRun)
	}
	return s, nil
}

func (f *fakeController) Stop(id string) error {
	if _, err := f.Status(id); err != nil {
		return err
	}
	f.stopped = append(f.stopped, id)
	return nil
}

func (f *fakeController) ForceRollback(id, reason string) error {
	s, err := f.Status(id)
	if err != nil {
		return err
	}
	if !s.IsRunning {
		return fmt.Errorf("run %s is not running", id)
	}
	f.rolledBack[id] = reason
	return nil
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestGetRun(t *testing.T) {
	h := Handler(newFake())

	rec := do(t, h, "GET", "/runs/abc12345", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "abc12345", got["run_id"])
	assert.Equal(t, "initial_data_sync", got["current_stage"])
	assert.Equal(t, true, got["is_running"])
	metrics := got["metrics"].(map[string]any)
	assert.Equal(t, float64(40), metrics["records_migrated"])

	rec = do(t, h, "GET", "/runs/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown run")
}

func TestListRuns(t *testing.T) {
	rec := do(t, Handler(newFake()), "GET", "/runs", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got []orchestrator.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, orchestrator.StageInitialDataSync, got[0].Stage)
}

func TestStopAndRollback(t *testing.T) {
	f := newFake()
	h := Handler(f)

	rec := do(t, h, "POST", "/runs/abc12345/stop", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"abc12345"}, f.stopped)

	rec = do(t, h, "POST", "/runs/abc12345/rollback", `{"reason":"bad data"}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "bad data", f.rolledBack["abc12345"])

	rec = do(t, h, "POST", "/runs/abc12345/rollback", `{`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, "GET", "/runs/abc12345/stop", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	f.runs["abc12345"] = orchestrator.Snapshot{Job: orchestrator.Job{ID: "abc12345"}}
	rec = do(t, h, "POST", "/runs/abc12345/rollback", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestServeShutsDownWithContext(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ServeListener(ctx, ln, newFake()) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestCrossOriginRequestsGetNoCORSHeaders(t *testing.T) {
	f := newFake()
	h := Handler(f)

	req := httptest.NewRequest("OPTIONS", "/runs/abc12345/stop", nil)
	req.Header.Set("Origin", "http://evil.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Methods"))

	req = httptest.NewRequest("POST", "/runs/abc12345/rollback", strings.NewReader(`{"reason":"x"}`))
	req.Header.Set("Origin", "http://evil.example")
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestIsLoopback(t *testing.T) {
	tests := []struct {
		addr string
		want bool
	}{
		{"127.0.0.1:8080", true},
		{"localhost:8080", true},
		{"[::1]:8080", true},
		{":8080", false},
		{"0.0.0.0:8080", false},
		{"10.1.2.3:8080", false},
		{"8080", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsLoopback(tt.addr), tt.addr)
	}
}
