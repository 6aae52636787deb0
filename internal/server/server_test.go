package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmud/AI-image-gen-battle/internal/events"
	"github.com/vmud/AI-image-gen-battle/internal/metrics"
	"github.com/vmud/AI-image-gen-battle/internal/models"
	"github.com/vmud/AI-image-gen-battle/internal/platform"
	"github.com/vmud/AI-image-gen-battle/internal/service"
)

type fakeJobs struct {
	mu        sync.Mutex
	starts    []service.StartRequest
	result    service.StartResult
	stops     int
	statusFor []string
	degraded  bool
}

func (f *fakeJobs) StartJob(_ context.Context, req service.StartRequest) service.StartResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts = append(f.starts, req)
	return f.result
}

func (f *fakeJobs) StopJob() service.StopResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return service.StopResult{Message: "No active generation"}
}

func (f *fakeJobs) ResetBackend() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	was := f.degraded
	f.degraded = false
	return was
}

func (f *fakeJobs) startRequests() []service.StartRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]service.StartRequest(nil), f.starts...)
}

func (f *fakeJobs) stopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops
}

func (f *fakeJobs) GetStatus(jobID string) models.StatusView {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusFor = append(f.statusFor, jobID)
	return models.StatusView{Status: "idle", Platform: models.PlatformIntel, CurrentJobID: jobID}
}

type fakeHealth struct{ summary models.HealthSummary }

func (f fakeHealth) Summary() models.HealthSummary { return f.summary }

type fixture struct {
	jobs    *fakeJobs
	dist    *events.Distributor
	metrics *metrics.Collector
	srv     *httptest.Server
	genDir  string
}

func newFixture(t *testing.T, health HealthReporter) *fixture {
	t.Helper()
	jobs := &fakeJobs{result: service.StartResult{Accepted: true, JobID: "job-1", Message: "Generation started"}}
	dist := events.NewDistributor(16)
	dist.SetSnapshotSource(func() models.StatusView { return jobs.GetStatus("") })
	collector := metrics.NewCollector()
	genDir := t.TempDir()

	s := New(Deps{
		Jobs:   jobs,
		Events: dist,
		Health: health,
		Platform: platform.NewState(models.Capabilities{
			Class:                 models.PlatformSnapdragon,
			Architecture:          "ARM64",
			ProcessorModel:        "Snapdragon X Elite",
			AccelerationKind:      "npu",
			AccelerationAvailable: true,
		}),
		Metrics:      collector,
		GeneratedDir: genDir,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		srv.Close()
		_ = dist.Close()
	})
	return &fixture{jobs: jobs, dist: dist, metrics: collector, srv: srv, genDir: genDir}
}

func (f *fixture) command(t *testing.T, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(f.srv.URL+"/command", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func TestStartCommand(t *testing.T) {
	f := newFixture(t, nil)

	resp, out := f.command(t, `{"command":"start_generation","data":{"prompt":"a cat","steps":8,"sync_time":1700000000.5,"mode":"remote"}}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, "job-1", out["job_id"])

	starts := f.jobs.startRequests()
	require.Len(t, starts, 1)
	req := starts[0]
	assert.Equal(t, "a cat", req.Prompt)
	assert.Equal(t, 8, req.Steps)
	assert.Equal(t, models.JobModeRemote, req.Mode)
	assert.Equal(t, time.Unix(1700000000, 500000000), req.SyncAt)
}

func TestStartCommandRejected(t *testing.T) {
	f := newFixture(t, nil)
	f.jobs.result = service.StartResult{Reason: service.ReasonJobActive, Message: "generation already in progress"}

	resp, out := f.command(t, `{"command":"start_generation","data":{"prompt":"a cat"}}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, false, out["success"])
	assert.Equal(t, "job_active", out["reason"])
	assert.True(t, f.jobs.startRequests()[0].SyncAt.IsZero())
}

func TestCommandErrors(t *testing.T) {
	f := newFixture(t, nil)
	tests := []struct {
		name string
		body string
		want string
	}{
		{"invalid json", `{not json`, "Invalid request body"},
		{"unknown command", `{"command":"dance"}`, `Unknown command: "dance"`},
		{"bad start data", `{"command":"start_generation","data":"oops"}`, "Invalid start data"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, out := f.command(t, tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Contains(t, out["message"], tt.want)
		})
	}
}

func TestStopAndStatusCommands(t *testing.T) {
	f := newFixture(t, nil)

	resp, out := f.command(t, `{"command":"stop_generation"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, 1, f.jobs.stopCount())

	_, out = f.command(t, `{"command":"get_status","data":{"job_id":"abc"}}`)
	assert.Equal(t, "idle", out["status"])
	assert.Equal(t, "abc", out["current_job_id"])

	httpResp, err := http.Get(f.srv.URL + "/status?job_id=xyz")
	require.NoError(t, err)
	defer httpResp.Body.Close()
	var view models.StatusView
	require.NoError(t, json.NewDecoder(httpResp.Body).Decode(&view))
	assert.Equal(t, "xyz", view.CurrentJobID)
}

func TestResetBackendCommand(t *testing.T) {
	f := newFixture(t, nil)
	f.jobs.mu.Lock()
	f.jobs.degraded = true
	f.jobs.mu.Unlock()

	resp, out := f.command(t, `{"command":"reset_backend"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, "Real backend restored", out["message"])

	_, out = f.command(t, `{"command":"reset_backend"}`)
	assert.Equal(t, "Real backend not degraded", out["message"])
}

func TestHealthEndpoint(t *testing.T) {
	tests := []struct {
		name       string
		health     HealthReporter
		wantStatus int
	}{
		{"no monitor", nil, http.StatusOK},
		{"healthy", fakeHealth{models.HealthSummary{Healthy: true}}, http.StatusOK},
		{"unhealthy", fakeHealth{models.HealthSummary{Healthy: false, Issues: []string{"out_of_memory"}}}, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.health)
			resp, err := http.Get(f.srv.URL + "/health")
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tt.wantStatus, resp.StatusCode)

			var sum models.HealthSummary
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&sum))
			assert.Equal(t, tt.wantStatus == http.StatusOK, sum.Healthy)
		})
	}
}

func TestInfoAndStats(t *testing.T) {
	f := newFixture(t, nil)
	f.metrics.Inc(metrics.CounterJobsStarted)

	resp, err := http.Get(f.srv.URL + "/info")
	require.NoError(t, err)
	var info map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	resp.Body.Close()
	assert.Equal(t, "snapdragon", info["platform"])
	assert.Equal(t, "npu", info["ai_acceleration"])
	assert.Equal(t, "Snapdragon X Elite", info["display_name"])
	assert.Equal(t, float64(4), info["default_steps"])

	resp, err = http.Get(f.srv.URL + "/stats")
	require.NoError(t, err)
	var stats StatsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	resp.Body.Close()
	assert.Equal(t, int64(1), stats.Runtime.Counters[metrics.CounterJobsStarted])
}

func TestGeneratedStatic(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, os.WriteFile(filepath.Join(f.genDir, "job-1.png"), []byte("png"), 0o644))

	resp, err := http.Get(f.srv.URL + service.GeneratedURLPrefix + "job-1.png")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "png", string(body))
}

func TestEventStream(t *testing.T) {
	f := newFixture(t, nil)
	wsURL := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/events"

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var first events.Event
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, events.TypeStatus, first.Type, "status snapshot on connect")

	f.dist.Publish(events.TypeProgress, events.Progress{JobID: "job-1", CurrentStep: 1, TotalSteps: 4})
	var raw struct {
		Type events.Type     `json:"type"`
		Data events.Progress `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&raw))
	assert.Equal(t, events.TypeProgress, raw.Type)
	assert.Equal(t, 1, raw.Data.CurrentStep)

	require.NoError(t, conn.WriteJSON(clientMessage{Type: MessageRequestStatus}))
	var resync events.Event
	require.NoError(t, conn.ReadJSON(&resync))
	assert.Equal(t, events.TypeStatus, resync.Type)

	conn.Close()
	assert.Eventually(t, func() bool { return f.dist.SubscriberCount() == 0 },
		2*time.Second, 10*time.Millisecond, "disconnect unsubscribes")
}

func TestLoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	h := LoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status?job_id=abc", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Contains(t, buf.String(), "request completed")
	assert.Contains(t, buf.String(), "status=418")
	assert.Contains(t, buf.String(), `query="job_id=abc"`)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
	assert.Equal(t, "ab", truncate("abcdef", 2))
}
