package telemetry

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/vmud/AI-image-gen-battle/internal/events"
	"github.com/vmud/AI-image-gen-battle/internal/models"
	"github.com/vmud/AI-image-gen-battle/internal/platform"
)

// Publisher receives telemetry events.
type Publisher interface {
	Publish(t events.Type, payload any)
}

// Sampler reads host load on a fixed cadence, synthesizes power and
// accelerator figures from it, and publishes the result. Only the most
// recent sample is kept.
type Sampler struct {
	host     HostStats
	platform *platform.State
	pub      Publisher
	interval time.Duration
	logger   *slog.Logger

	// active reports whether a job is running; accelerator load is only
	// synthesized while one is.
	active func() bool

	mu             sync.RWMutex
	latest         models.Telemetry
	simulatedUntil time.Time
	now            func() time.Time
}

// NewSampler creates a sampler. A nil active func means "never active".
func NewSampler(host HostStats, state *platform.State, pub Publisher, interval time.Duration, active func() bool, logger *slog.Logger) *Sampler {
	if interval <= 0 {
		interval = time.Second
	}
	if active == nil {
		active = func() bool { return false }
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sampler{
		host:     host,
		platform: state,
		pub:      pub,
		interval: interval,
		active:   active,
		logger:   logger,
		now:      time.Now,
	}
}

// Latest returns the most recent sample.
func (s *Sampler) Latest() models.Telemetry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

// Record stores a simulated sample produced by a running backend. Host
// samples are suppressed for two intervals afterwards so viewers see a
// single coherent trace.
func (s *Sampler) Record(sample models.Telemetry) {
	s.mu.Lock()
	s.latest = sample
	s.simulatedUntil = s.now().Add(2 * s.interval)
	s.mu.Unlock()
}

// Run samples until ctx is done.
func (s *Sampler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick takes one sample and publishes it, unless a simulated trace is
// currently being recorded.
func (s *Sampler) Tick(ctx context.Context) {
	s.mu.RLock()
	suppressed := s.now().Before(s.simulatedUntil)
	s.mu.RUnlock()
	if suppressed {
		return
	}

	sample, err := s.Sample(ctx)
	if err != nil {
		s.logger.Debug("telemetry sample failed", "error", err)
		return
	}

	s.mu.Lock()
	s.latest = sample
	s.mu.Unlock()

	if s.pub != nil {
		s.pub.Publish(events.TypeTelemetry, sample)
	}
}

// Sample reads the host and synthesizes a telemetry sample.
func (s *Sampler) Sample(ctx context.Context) (models.Telemetry, error) {
	cpuPct, err := s.host.CPUPercent(ctx)
	if err != nil {
		return models.Telemetry{}, err
	}
	memStats, err := s.host.Memory(ctx)
	if err != nil {
		return models.Telemetry{}, err
	}

	profile := platform.ProfileFor(s.platform.Current().Class)
	return Synthesize(profile, cpuPct, memStats.UsedGB, s.active()), nil
}

// Synthesize derives power draw and accelerator load from CPU usage using
// the platform profile. Power scales linearly from base to peak with CPU.
func Synthesize(profile platform.Profile, cpuPct, memoryGB float64, jobActive bool) models.Telemetry {
	cpuPct = math.Max(0, math.Min(100, cpuPct))
	sample := models.Telemetry{
		CPU:      round1(cpuPct),
		MemoryGB: round1(memoryGB),
		PowerW:   round1(profile.BasePowerW + cpuPct/100*(profile.PeakPowerW-profile.BasePowerW)),
	}
	if profile.HasNPU {
		npu := profile.NPUIdle
		if jobActive {
			npu = math.Min(profile.NPUActive, cpuPct+10)
		}
		npu = round1(npu)
		sample.Accel = &npu
	}
	return sample
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
