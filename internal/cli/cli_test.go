package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmud/AI-image-gen-battle/internal/client"
	"github.com/vmud/AI-image-gen-battle/internal/events"
	"github.com/vmud/AI-image-gen-battle/internal/fallback"
	"github.com/vmud/AI-image-gen-battle/internal/models"
	"github.com/vmud/AI-image-gen-battle/internal/platform"
	"github.com/vmud/AI-image-gen-battle/internal/server"
	"github.com/vmud/AI-image-gen-battle/internal/service"
)

// newAppliance runs a real orchestrator with a fast emergency generator
// behind the HTTP server.
func newAppliance(t *testing.T) *client.Client {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	state := platform.NewState(models.Capabilities{Class: models.PlatformIntel, Architecture: "x86_64"})
	gen := fallback.New(fallback.Options{
		Platform: state,
		TempDir:  t.TempDir(),
		Sleep: func(ctx context.Context, _ time.Duration) error {
			time.Sleep(time.Millisecond)
			return ctx.Err()
		},
		Logger: logger,
	})
	dist := events.NewDistributor(64)
	orch := service.New(service.Options{
		GeneratedDir: t.TempDir(),
		Fallback:     gen,
		Platform:     state,
		Events:       dist,
		Logger:       logger,
	})
	dist.SetSnapshotSource(func() models.StatusView { return orch.GetStatus("") })

	ts := httptest.NewServer(server.New(server.Deps{
		Jobs:     orch,
		Events:   dist,
		Platform: state,
		Logger:   logger,
	}).Handler())
	t.Cleanup(func() {
		orch.StopJob()
		orch.Wait()
		ts.Close()
		_ = dist.Close()
	})
	return client.New(ts.URL)
}

func mkEvent(t *testing.T, typ events.Type, payload any) client.Event {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return client.Event{Type: typ, Data: data, Time: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func TestProgressModelApply(t *testing.T) {
	m := newProgressModel("job-1", "a cat", nil)

	m = m.apply(mkEvent(t, events.TypeProgress, events.Progress{JobID: "job-1", CurrentStep: 2, TotalSteps: 4, ElapsedTime: 1.5}))
	assert.Equal(t, 2, m.current)
	assert.Equal(t, 4, m.total)
	assert.False(t, m.done)

	m = m.apply(mkEvent(t, events.TypeProgress, events.Progress{JobID: "other", CurrentStep: 3, TotalSteps: 4}))
	assert.Equal(t, 2, m.current, "other jobs are ignored")

	accel := 90.0
	m = m.apply(mkEvent(t, events.TypeTelemetry, models.Telemetry{CPU: 50, PowerW: 12, Accel: &accel}))
	require.NotNil(t, m.telemetry)
	assert.Contains(t, m.renderContent(), "NPU 90.0%")

	m = m.apply(mkEvent(t, events.TypeCompleted, events.Completed{JobID: "job-1", TotalSteps: 4, ElapsedTime: 4.2, ArtifactRef: "/static/generated/job-1.png"}))
	assert.True(t, m.done)
	assert.NoError(t, m.err)
	assert.Equal(t, 4, m.current)
	assert.Contains(t, m.finalView(), "/static/generated/job-1.png")
}

func TestProgressModelTerminalStates(t *testing.T) {
	tests := []struct {
		name    string
		event   func(t *testing.T) client.Event
		wantErr string
	}{
		{
			name: "error event",
			event: func(t *testing.T) client.Event {
				return mkEvent(t, events.TypeError, events.JobError{JobID: "job-1", Error: "boom"})
			},
			wantErr: "boom",
		},
		{
			name: "stopped via status",
			event: func(t *testing.T) client.Event {
				return mkEvent(t, events.TypeStatus, models.StatusView{Job: &models.JobView{ID: "job-1", Status: models.JobStatusStopped}})
			},
			wantErr: "job was stopped",
		},
		{
			name: "completed via status",
			event: func(t *testing.T) client.Event {
				return mkEvent(t, events.TypeStatus, models.StatusView{Job: &models.JobView{ID: "job-1", Status: models.JobStatusCompleted, ResultRef: "ref"}})
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newProgressModel("job-1", "", nil).apply(tt.event(t))
			assert.True(t, m.done)
			if tt.wantErr == "" {
				assert.NoError(t, m.err)
				return
			}
			require.Error(t, m.err)
			assert.Contains(t, m.err.Error(), tt.wantErr)
		})
	}
}

func TestProgressModelStreamEnd(t *testing.T) {
	m := newProgressModel("job-1", "", nil)
	next, _ := m.Update(streamEndMsg{})
	final := next.(progressModel)
	assert.True(t, final.done)
	assert.ErrorContains(t, final.err, "event stream closed")
}

func TestFormatEvent(t *testing.T) {
	tests := []struct {
		name string
		ev   func(t *testing.T) client.Event
		want string
	}{
		{"started", func(t *testing.T) client.Event {
			return mkEvent(t, events.TypeJobStarted, events.JobStarted{JobID: "0123456789", Prompt: "a cat", Steps: 4, Mode: models.JobModeLocal})
		}, `12:00:00.000 started    01234567  "a cat" (4 steps, local)`},
		{"progress", func(t *testing.T) client.Event {
			return mkEvent(t, events.TypeProgress, events.Progress{JobID: "abc", CurrentStep: 1, TotalSteps: 4, ProgressPercent: 25, ElapsedTime: 1})
		}, "12:00:00.000 progress   abc  1/4 (25%) 1.0s"},
		{"data uri artifact", func(t *testing.T) client.Event {
			return mkEvent(t, events.TypeCompleted, events.Completed{JobID: "abc", ElapsedTime: 2, ArtifactRef: "data:image/png;base64,AAAA"})
		}, "12:00:00.000 completed  abc  2.0s (inline image data)"},
		{"unknown", func(t *testing.T) client.Event {
			return mkEvent(t, events.Type("mystery"), map[string]int{"x": 1})
		}, `12:00:00.000 mystery    {"x":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatEvent(tt.ev(t)))
		})
	}
}

func TestStartAllSendsSameSyncTime(t *testing.T) {
	var (
		mu      sync.Mutex
		gotSync []float64
	)
	accept := func(jobID string) *httptest.Server {
		return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				Command string           `json:"command"`
				Data    server.StartData `json:"data"`
			}
			_ = json.NewDecoder(r.Body).Decode(&req)
			mu.Lock()
			gotSync = append(gotSync, req.Data.SyncTime)
			mu.Unlock()
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(server.CommandResponse{Success: true, JobID: jobID, Message: "Generation started"})
		}))
	}
	reject := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(server.CommandResponse{Reason: "job_active", Message: "generation already in progress"})
	}))
	a, b := accept("job-a"), accept("job-b")
	defer a.Close()
	defer b.Close()
	defer reject.Close()

	syncAt := time.Unix(1700000000, 0)
	results := startAll(context.Background(),
		[]*client.Client{client.New(a.URL), client.New(reject.URL), client.New(b.URL)},
		client.StartOptions{Prompt: "a cat", SyncAt: syncAt})

	require.Len(t, results, 3)
	assert.Equal(t, "job-a", results[0].jobID)
	assert.ErrorIs(t, results[1].err, client.ErrRejected)
	assert.True(t, strings.Contains(results[1].err.Error(), "already in progress"))
	assert.Equal(t, "job-b", results[2].jobID)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []float64{1700000000, 1700000000}, gotSync)
}

func TestFollowJob(t *testing.T) {
	c := newAppliance(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	resp, err := c.Start(ctx, client.StartOptions{Prompt: "a castle at night", Steps: 3})
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, followJob(ctx, &out, c, resp.JobID))
	assert.Contains(t, out.String(), "completed  "+short(resp.JobID))
}

func TestFollowJobStopped(t *testing.T) {
	c := newAppliance(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	resp, err := c.Start(ctx, client.StartOptions{Prompt: "a castle at night", Steps: 3, SyncAt: time.Now().Add(time.Hour)})
	require.NoError(t, err)
	_, err = c.Stop(ctx)
	require.NoError(t, err)

	var out bytes.Buffer
	err = followJob(ctx, &out, c, resp.JobID)
	assert.ErrorContains(t, err, "job was stopped")
}
