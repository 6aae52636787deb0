// Package health runs the detect and recover cycle over a fixed table of
// appliance conditions.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/vmud/AI-image-gen-battle/internal/backend"
	"github.com/vmud/AI-image-gen-battle/internal/models"
	"github.com/vmud/AI-image-gen-battle/internal/platform"
	"github.com/vmud/AI-image-gen-battle/internal/telemetry"
)

// Severity ranks a condition.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
)

// Condition names a monitored failure mode.
type Condition string

const (
	ModelNotFound        Condition = "model_not_found"
	OutOfMemory          Condition = "out_of_memory"
	DiskSpace            Condition = "disk_space"
	ConcurrentGeneration Condition = "concurrent_generation"
	PlatformMismatch     Condition = "platform_mismatch"
	GenerationTimeout    Condition = "generation_timeout"
	AccelerationFailure  Condition = "acceleration_failure"
)

// Recovery limits.
const (
	memoryHistoryKeep  = 5
	memoryArtifactKeep = 10
	diskArtifactKeep   = 5
	staleTempAge       = time.Hour
	staleTempPattern   = "*.tmp"
)

// Controller is the job orchestrator as seen by recovery actions. Every
// mutation of job state or generated artifacts goes through it.
type Controller interface {
	ActiveCount() int
	ActiveSince() (time.Time, bool)
	TrimHistory(keep int) int
	PruneArtifacts(keep int) (int, error)
	FailActive(reason string) bool
	EmergencyMode() bool
	ActivateEmergency(reason string)
}

// Config holds thresholds and paths for the checks.
type Config struct {
	ModelPaths        []string
	MinFreeMemoryGB   float64
	MaxMemoryPercent  float64
	MinFreeDiskGB     float64
	DataDir           string
	TempDirs          []string
	MaxGenerationTime time.Duration
	// ForcedClass disables the platform mismatch check (SNAPDRAGON_NPU).
	ForcedClass bool
	// ForceCPU suppresses acceleration failure reports (FORCE_CPU_MODE).
	ForceCPU bool
	// AutoEmergency lets the missing-model recovery switch to the
	// emergency generator instead of blocking new jobs.
	AutoEmergency bool
	// HostArch overrides runtime.GOARCH (tests).
	HostArch string
}

// Recovery is the outcome of one recovery attempt.
type Recovery struct {
	Success     bool
	Message     string
	Suggestions []string
	Actions     []string
}

// Result is one detected condition in a snapshot.
type Result struct {
	Condition   Condition `json:"condition"`
	Severity    Severity  `json:"severity"`
	Recovered   bool      `json:"recovered"`
	Message     string    `json:"message"`
	Suggestions []string  `json:"suggestions,omitempty"`
	Actions     []string  `json:"actions,omitempty"`
}

// Snapshot is the outcome of one health check. Only the latest is kept.
type Snapshot struct {
	Timestamp time.Time `json:"timestamp"`
	Results   []Result  `json:"results"`
	// Blocking is set when a critical condition could not be recovered.
	Blocking bool `json:"blocking"`
}

// Detected reports whether c was detected.
func (s Snapshot) Detected(c Condition) bool {
	for _, r := range s.Results {
		if r.Condition == c {
			return true
		}
	}
	return false
}

// Guidance returns human-readable text for the blocking conditions.
func (s Snapshot) Guidance() []string {
	var out []string
	for _, r := range s.Results {
		if r.Severity != SeverityCritical || r.Recovered {
			continue
		}
		out = append(out, r.Message)
		out = append(out, r.Suggestions...)
	}
	return out
}

type check struct {
	condition Condition
	severity  Severity
	detect    func(ctx context.Context) (bool, error)
	recover   func(ctx context.Context) Recovery
}

// Monitor evaluates the condition table and keeps the latest snapshot.
type Monitor struct {
	cfg      Config
	host     telemetry.HostStats
	detector platform.Detector
	state    *platform.State
	devices  backend.DeviceReporter
	logger   *slog.Logger
	now      func() time.Time

	jobsMu sync.RWMutex
	jobs   Controller

	checkMu sync.Mutex
	checks  []check

	mu     sync.RWMutex
	latest Snapshot
}

// NewMonitor creates a monitor. devices may be nil when there is no real
// backend.
func NewMonitor(cfg Config, host telemetry.HostStats, detector platform.Detector, state *platform.State, devices backend.DeviceReporter, logger *slog.Logger) *Monitor {
	if cfg.HostArch == "" {
		cfg.HostArch = runtime.GOARCH
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := &Monitor{
		cfg:      cfg,
		host:     host,
		detector: detector,
		state:    state,
		devices:  devices,
		logger:   logger,
		now:      time.Now,
	}
	m.checks = []check{
		{ModelNotFound, SeverityCritical, m.detectModelMissing, m.recoverModelMissing},
		{OutOfMemory, SeverityHigh, m.detectMemory, m.recoverMemory},
		{ConcurrentGeneration, SeverityMedium, m.detectConcurrent, m.recoverConcurrent},
		{DiskSpace, SeverityHigh, m.detectDisk, m.recoverDisk},
		{PlatformMismatch, SeverityHigh, m.detectPlatformMismatch, m.recoverPlatformMismatch},
		{GenerationTimeout, SeverityMedium, m.detectTimeout, m.recoverTimeout},
		{AccelerationFailure, SeverityMedium, m.detectAcceleration, m.recoverAcceleration},
	}
	return m
}

// Attach connects the monitor to the job orchestrator.
func (m *Monitor) Attach(jobs Controller) {
	m.jobsMu.Lock()
	m.jobs = jobs
	m.jobsMu.Unlock()
}

func (m *Monitor) controller() Controller {
	m.jobsMu.RLock()
	defer m.jobsMu.RUnlock()
	return m.jobs
}

// CheckHealth evaluates every condition, attempts one recovery for each
// detected one, and stores the resulting snapshot.
func (m *Monitor) CheckHealth(ctx context.Context) Snapshot {
	m.checkMu.Lock()
	defer m.checkMu.Unlock()

	snap := Snapshot{Timestamp: m.now()}
	for _, c := range m.checks {
		detected, err := m.safeDetect(ctx, c)
		if err != nil {
			m.logger.Warn("health detector failed", "condition", c.condition, "error", err)
			continue
		}
		if !detected {
			continue
		}

		rec := m.safeRecover(ctx, c)
		res := Result{
			Condition:   c.condition,
			Severity:    c.severity,
			Recovered:   rec.Success,
			Message:     rec.Message,
			Suggestions: rec.Suggestions,
			Actions:     rec.Actions,
		}
		snap.Results = append(snap.Results, res)
		if c.severity == SeverityCritical && !rec.Success {
			snap.Blocking = true
		}

		m.logger.Info("health condition",
			"condition", c.condition,
			"severity", c.severity,
			"recovered", rec.Success,
			"message", rec.Message)
	}

	m.mu.Lock()
	m.latest = snap
	m.mu.Unlock()
	return snap
}

func (m *Monitor) safeDetect(ctx context.Context, c check) (detected bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return c.detect(ctx)
}

func (m *Monitor) safeRecover(ctx context.Context, c check) (rec Recovery) {
	defer func() {
		if r := recover(); r != nil {
			rec = Recovery{Message: fmt.Sprintf("recovery panicked: %v", r)}
		}
	}()
	return c.recover(ctx)
}

// Latest returns the most recent snapshot.
func (m *Monitor) Latest() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latest
}

// Summary condenses the latest snapshot for status reporting. Unrecovered
// critical and high conditions are issues; everything else detected is a
// degradation.
func (m *Monitor) Summary() models.HealthSummary {
	snap := m.Latest()
	sum := models.HealthSummary{
		Healthy:   true,
		Warnings:  len(snap.Results) > 0,
		Issues:    []string{},
		Degraded:  []string{},
		LastCheck: snap.Timestamp,
		MemoryOK:  !snap.Detected(OutOfMemory),
		DiskOK:    !snap.Detected(DiskSpace),
		ModelsOK:  !snap.Detected(ModelNotFound),
	}
	for _, r := range snap.Results {
		if !r.Recovered && (r.Severity == SeverityCritical || r.Severity == SeverityHigh) {
			sum.Healthy = false
			sum.Issues = append(sum.Issues, string(r.Condition))
			sum.Guidance = append(sum.Guidance, r.Suggestions...)
			continue
		}
		sum.Degraded = append(sum.Degraded, string(r.Condition))
	}
	return sum
}

// Run checks health right away and then every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	m.tick(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

func (m *Monitor) tick(ctx context.Context) {
	snap := m.CheckHealth(ctx)
	if snap.Blocking {
		m.logger.Error("health check blocking new jobs", "guidance", strings.Join(snap.Guidance(), "; "))
	}
}

// --- model_not_found ---

func (m *Monitor) detectModelMissing(context.Context) (bool, error) {
	if len(m.cfg.ModelPaths) == 0 {
		return false, nil
	}
	if jobs := m.controller(); jobs != nil && jobs.EmergencyMode() {
		return false, nil
	}
	for _, p := range m.cfg.ModelPaths {
		if _, err := os.Stat(p); err == nil {
			return false, nil
		}
	}
	return true, nil
}

func (m *Monitor) recoverModelMissing(context.Context) Recovery {
	rec := Recovery{
		Message: "AI models not found, download models first",
		Suggestions: []string{
			"Run the model preparation script for this platform",
			"Point BATTLE_MODEL_PATHS at existing model directories",
			"Set EMERGENCY_MODE=1 to run the demo without models",
		},
	}
	jobs := m.controller()
	if !m.cfg.AutoEmergency || jobs == nil {
		return rec
	}
	jobs.ActivateEmergency("models not found")
	rec.Success = true
	rec.Message = "AI models not found, emergency mode activated"
	rec.Actions = []string{"activated emergency mode"}
	return rec
}

// --- out_of_memory ---

func (m *Monitor) detectMemory(ctx context.Context) (bool, error) {
	stats, err := m.host.Memory(ctx)
	if err != nil {
		return false, err
	}
	return stats.AvailableGB < m.cfg.MinFreeMemoryGB || stats.UsedPercent > m.cfg.MaxMemoryPercent, nil
}

func (m *Monitor) recoverMemory(context.Context) Recovery {
	rec := Recovery{Success: true}
	if jobs := m.controller(); jobs != nil {
		trimmed := jobs.TrimHistory(memoryHistoryKeep)
		rec.Actions = append(rec.Actions, fmt.Sprintf("trimmed %d jobs from history", trimmed))

		pruned, err := jobs.PruneArtifacts(memoryArtifactKeep)
		if err != nil {
			rec.Actions = append(rec.Actions, fmt.Sprintf("artifact cleanup failed: %v", err))
		} else {
			rec.Actions = append(rec.Actions, fmt.Sprintf("removed %d generated images", pruned))
		}
	}
	runtime.GC()
	debug.FreeOSMemory()
	rec.Actions = append(rec.Actions, "released heap memory")
	rec.Message = "memory cleanup completed"
	return rec
}

// --- concurrent_generation ---

func (m *Monitor) detectConcurrent(context.Context) (bool, error) {
	jobs := m.controller()
	return jobs != nil && jobs.ActiveCount() > 1, nil
}

func (m *Monitor) recoverConcurrent(context.Context) Recovery {
	return Recovery{Message: "multiple active jobs, new starts are rejected until they finish"}
}

// --- disk_space ---

func (m *Monitor) detectDisk(ctx context.Context) (bool, error) {
	dir := m.cfg.DataDir
	if dir == "" {
		dir = "."
	}
	stats, err := m.host.Disk(ctx, dir)
	if err != nil {
		return false, err
	}
	return stats.FreeGB < m.cfg.MinFreeDiskGB, nil
}

func (m *Monitor) recoverDisk(context.Context) Recovery {
	rec := Recovery{Success: true, Message: "disk cleanup completed"}
	if jobs := m.controller(); jobs != nil {
		pruned, err := jobs.PruneArtifacts(diskArtifactKeep)
		if err != nil {
			rec.Actions = append(rec.Actions, fmt.Sprintf("artifact cleanup failed: %v", err))
		} else {
			rec.Actions = append(rec.Actions, fmt.Sprintf("removed %d generated images", pruned))
		}
	}
	removed, err := RemoveStale(m.cfg.TempDirs, staleTempPattern, staleTempAge, m.now())
	if err != nil {
		rec.Actions = append(rec.Actions, fmt.Sprintf("temp cleanup incomplete: %v", err))
	}
	rec.Actions = append(rec.Actions, fmt.Sprintf("removed %d stale temp files", removed))
	return rec
}

// --- platform_mismatch ---

func (m *Monitor) detectPlatformMismatch(context.Context) (bool, error) {
	if m.cfg.ForcedClass || m.state == nil {
		return false, nil
	}
	return m.state.Current().Class != platform.ClassForArch(m.cfg.HostArch), nil
}

func (m *Monitor) recoverPlatformMismatch(ctx context.Context) Recovery {
	if m.detector == nil {
		return Recovery{Message: "platform detection issue, restart recommended"}
	}
	caps, err := m.detector.DetectPlatform(ctx)
	if err != nil {
		return Recovery{Message: fmt.Sprintf("platform re-detection failed: %v", err)}
	}
	m.state.Adopt(caps)
	return Recovery{
		Success: true,
		Message: fmt.Sprintf("platform re-detected as %s", caps.Class),
		Actions: []string{"adopted detected platform"},
	}
}

// --- generation_timeout ---

func (m *Monitor) detectTimeout(context.Context) (bool, error) {
	jobs := m.controller()
	if jobs == nil || m.cfg.MaxGenerationTime <= 0 {
		return false, nil
	}
	since, ok := jobs.ActiveSince()
	return ok && m.now().Sub(since) > m.cfg.MaxGenerationTime, nil
}

func (m *Monitor) recoverTimeout(context.Context) Recovery {
	jobs := m.controller()
	if jobs == nil || !jobs.FailActive(fmt.Sprintf("generation timeout after %s", m.cfg.MaxGenerationTime)) {
		return Recovery{Message: "unable to stop generation"}
	}
	return Recovery{
		Success: true,
		Message: "generation stopped due to timeout",
		Suggestions: []string{
			"Try with fewer steps (10-15)",
			"Use a smaller resolution (512x512)",
			"Check that models are properly loaded",
		},
		Actions: []string{"failed active job"},
	}
}

// --- acceleration_failure ---

func (m *Monitor) detectAcceleration(context.Context) (bool, error) {
	if m.devices == nil || m.cfg.ForceCPU || m.state == nil {
		return false, nil
	}
	return m.devices.LastDevice() == "cpu" && m.state.Current().AccelerationAvailable, nil
}

func (m *Monitor) recoverAcceleration(context.Context) Recovery {
	rec := Recovery{Message: "using CPU fallback (slower performance)"}
	if m.state != nil && m.state.Current().Class == models.PlatformSnapdragon {
		rec.Suggestions = []string{
			"Install the Qualcomm AI Engine runtime",
			"Check ONNX Runtime with the QNN provider",
			"CPU fallback will be slower (~60s)",
		}
	} else {
		rec.Suggestions = []string{
			"Install torch-directml",
			"Update GPU drivers",
			"CPU fallback will be slower (~45s)",
		}
	}
	return rec
}
