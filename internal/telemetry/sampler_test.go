package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmud/AI-image-gen-battle/internal/events"
	"github.com/vmud/AI-image-gen-battle/internal/models"
	"github.com/vmud/AI-image-gen-battle/internal/platform"
)

type fakeHost struct {
	cpu    float64
	mem    MemoryStats
	disk   DiskStats
	cpuErr error
}

func (f *fakeHost) CPUPercent(context.Context) (float64, error) { return f.cpu, f.cpuErr }
func (f *fakeHost) Memory(context.Context) (MemoryStats, error) { return f.mem, nil }
func (f *fakeHost) Disk(_ context.Context, path string) (DiskStats, error) {
	d := f.disk
	d.Path = path
	return d, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Type
}

func (p *recordingPublisher) Publish(t events.Type, _ any) {
	p.mu.Lock()
	p.events = append(p.events, t)
	p.mu.Unlock()
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func TestSynthesize(t *testing.T) {
	snap := platform.ProfileFor(models.PlatformSnapdragon)
	intel := platform.ProfileFor(models.PlatformIntel)
	lowNPU := snap
	lowNPU.NPUActive = 70

	tests := []struct {
		name      string
		profile   platform.Profile
		cpu       float64
		active    bool
		wantPower float64
		wantNPU   *float64
	}{
		{"snapdragon idle", snap, 0, false, 8, ptr(5)},
		{"snapdragon busy", snap, 100, true, 15, ptr(95)},
		{"snapdragon half", snap, 50, true, 11.5, ptr(60)},
		{"profile caps npu", lowNPU, 90, true, 14.3, ptr(70)},
		{"intel idle", intel, 0, false, 15, nil},
		{"intel busy", intel, 100, true, 28, nil},
		{"clamped cpu", intel, 150, false, 28, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Synthesize(tt.profile, tt.cpu, 3.2, tt.active)
			assert.InDelta(t, tt.wantPower, got.PowerW, 0.01)
			assert.Equal(t, 3.2, got.MemoryGB)
			if tt.wantNPU == nil {
				assert.Nil(t, got.Accel)
			} else {
				require.NotNil(t, got.Accel)
				assert.InDelta(t, *tt.wantNPU, *got.Accel, 0.01)
			}
		})
	}
}

func TestTickPublishesAndStoresLatest(t *testing.T) {
	host := &fakeHost{cpu: 40, mem: MemoryStats{UsedGB: 6}}
	pub := &recordingPublisher{}
	state := platform.NewState(models.Capabilities{Class: models.PlatformIntel})
	s := NewSampler(host, state, pub, time.Second, nil, nil)

	s.Tick(context.Background())

	assert.Equal(t, 1, pub.count())
	assert.Equal(t, 40.0, s.Latest().CPU)
	assert.InDelta(t, 20.2, s.Latest().PowerW, 0.01)
}

func TestTickSkipsOnHostError(t *testing.T) {
	host := &fakeHost{cpuErr: errors.New("no procfs")}
	pub := &recordingPublisher{}
	state := platform.NewState(models.Capabilities{Class: models.PlatformIntel})
	s := NewSampler(host, state, pub, time.Second, nil, nil)

	s.Tick(context.Background())

	assert.Zero(t, pub.count())
}

func TestRecordSuppressesHostSamples(t *testing.T) {
	host := &fakeHost{cpu: 10}
	pub := &recordingPublisher{}
	state := platform.NewState(models.Capabilities{Class: models.PlatformSnapdragon})
	s := NewSampler(host, state, pub, time.Second, func() bool { return true }, nil)

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	npu := 91.0
	s.Record(models.Telemetry{CPU: 77, Accel: &npu})
	s.Tick(context.Background())
	assert.Zero(t, pub.count())
	assert.Equal(t, 77.0, s.Latest().CPU)

	now = now.Add(3 * time.Second)
	s.Tick(context.Background())
	assert.Equal(t, 1, pub.count())
	assert.Equal(t, 10.0, s.Latest().CPU)
}

func TestRunStopsOnCancel(t *testing.T) {
	host := &fakeHost{cpu: 5}
	pub := &recordingPublisher{}
	state := platform.NewState(models.Capabilities{Class: models.PlatformIntel})
	s := NewSampler(host, state, pub, 5*time.Millisecond, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return pub.count() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sampler did not stop")
	}
}

func TestHostReadsMachine(t *testing.T) {
	if testing.Short() {
		t.Skip("reads host counters")
	}
	ctx := context.Background()

	m, err := Host{}.Memory(ctx)
	require.NoError(t, err)
	assert.Positive(t, m.TotalGB)

	d, err := Host{}.Disk(ctx, t.TempDir())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, d.FreeGB, 0.0)
}

func ptr(v float64) *float64 { return &v }
