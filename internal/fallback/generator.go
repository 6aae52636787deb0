package fallback

import (
	"context"
	"log/slog"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/vmud/AI-image-gen-battle/internal/backend"
	"github.com/vmud/AI-image-gen-battle/internal/models"
	"github.com/vmud/AI-image-gen-battle/internal/platform"
)

// warmupSteps are slowed down to mimic model loading.
const (
	warmupSteps      = 3
	warmupMultiplier = 1.2
)

// Selection methods reported in result metrics.
const (
	SelectedByCategory  = "category"
	SelectedByPlatform  = "platform"
	SelectedSynthesized = "synthesized"
)

// Options configures a Generator.
type Options struct {
	Catalog *Catalog
	// Platform supplies the class to simulate when a request leaves it unset.
	Platform *platform.State
	// TimeScale multiplies every simulated delay. Zero means 1.
	TimeScale float64
	// TempDir receives synthesized placeholders when the catalog dir is
	// not writable. Empty means os.TempDir().
	TempDir string
	// Rand and Sleep are injectable for tests.
	Rand   *rand.Rand
	Sleep  func(ctx context.Context, d time.Duration) error
	Logger *slog.Logger
}

// Generator is the emergency fallback backend.
type Generator struct {
	catalog   *Catalog
	platform  *platform.State
	timeScale float64
	tempDir   string
	sleep     func(ctx context.Context, d time.Duration) error
	logger    *slog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// Compile-time check that Generator implements backend.Generator.
var _ backend.Generator = (*Generator)(nil)

// New creates an emergency generator.
func New(opts Options) *Generator {
	g := &Generator{
		catalog:   opts.Catalog,
		platform:  opts.Platform,
		timeScale: opts.TimeScale,
		tempDir:   opts.TempDir,
		sleep:     opts.Sleep,
		rng:       opts.Rand,
		logger:    opts.Logger,
	}
	if g.timeScale <= 0 {
		g.timeScale = 1
	}
	if g.tempDir == "" {
		g.tempDir = os.TempDir()
	}
	if g.sleep == nil {
		g.sleep = sleepContext
	}
	if g.rng == nil {
		g.rng = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x5eed))
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	return g
}

// Kind reports that this is the fallback backend.
func (g *Generator) Kind() models.BackendKind { return models.BackendFallback }

// Available is always true.
func (g *Generator) Available(context.Context) bool { return true }

// Generate simulates a generation. It fails only when ctx is canceled.
func (g *Generator) Generate(ctx context.Context, req backend.Request, steps chan<- backend.Step) (backend.Result, error) {
	class := req.Platform
	if class == "" && g.platform != nil {
		class = g.platform.Current().Class
	}
	profile := platform.ProfileFor(class)
	class = profile.Class

	total := req.Steps
	if total <= 0 {
		total = profile.DefaultSteps
	}

	category := Categorize(req.Prompt)
	asset, method := g.selectAsset(class, category)
	timings := g.stepTimings(total, profile.StepsPerSecond)

	g.logger.Info("emergency generation",
		"job_id", req.JobID,
		"category", category,
		"asset", filepath.Base(asset),
		"selection", method,
		"steps", total)

	started := time.Now()
	trace := make([]models.Telemetry, 0, total)
	stepSeconds := make([]float64, 0, total)

	for i := range total {
		d := time.Duration(timings[i] * g.timeScale * float64(time.Second))
		if err := g.sleep(ctx, d); err != nil {
			return backend.Result{}, err
		}
		sample := g.stepTelemetry(i+1, total, profile)
		trace = append(trace, sample)
		stepSeconds = append(stepSeconds, d.Seconds())

		if err := backend.SendStep(ctx, steps, backend.Step{Current: i + 1, Total: total, Telemetry: &sample}); err != nil {
			return backend.Result{}, err
		}
	}

	elapsed := time.Since(started).Seconds()
	metrics := map[string]any{
		"generation_time":  elapsed,
		"steps":            total,
		"time_per_step_ms": elapsed / float64(total) * 1000,
		"steps_per_second": float64(total) / math.Max(elapsed, 1e-9),
		"step_timings":     stepSeconds,
		"category":         string(category),
		"asset":            filepath.Base(asset),
		"selection_method": method,
		"platform":         string(class),
		"emergency_mode":   true,
		"telemetry":        trace,
	}

	result := backend.Result{ArtifactRef: asset, Metrics: metrics}
	if !isDataURI(asset) {
		result.ArtifactPath = asset
	}
	return result, nil
}

// selectAsset picks a random image for the category, widening to the whole
// class and finally synthesizing one. It never fails.
func (g *Generator) selectAsset(class models.PlatformClass, category Category) (string, string) {
	if assets := g.catalog.ForCategory(class, category); len(assets) > 0 {
		return assets[g.intN(len(assets))].Path, SelectedByCategory
	}
	if assets := g.catalog.ForClass(class); len(assets) > 0 {
		return assets[g.intN(len(assets))].Path, SelectedByPlatform
	}
	return g.synthesize(class, category), SelectedSynthesized
}

// synthesize renders a placeholder into the catalog dir, then the temp
// dir, then inline.
func (g *Generator) synthesize(class models.PlatformClass, category Category) string {
	data, err := RenderPlaceholder(class, category, 0, PlaceholderSize)
	if err != nil {
		g.logger.Error("render placeholder failed", "error", err)
		return MinimalDataURI()
	}

	name := AssetName(category, 0, class)
	for _, dir := range []string{g.catalog.Dir(), g.tempDir} {
		if dir == "" {
			continue
		}
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			continue
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			g.logger.Warn("write placeholder failed", "path", path, "error", err)
			continue
		}
		return path
	}
	return DataURI(data)
}

// stepTimings returns per-step delays in seconds: the platform base
// interval with +/-15% jitter, slowed for the warm-up steps.
func (g *Generator) stepTimings(steps int, stepsPerSecond float64) []float64 {
	if stepsPerSecond <= 0 {
		stepsPerSecond = 1
	}
	base := 1 / stepsPerSecond
	out := make([]float64, steps)
	for i := range out {
		v := g.uniform(0.85, 1.15)
		if i < warmupSteps {
			v *= warmupMultiplier
		}
		out[i] = base * v
	}
	return out
}

// npuBand is the spread below the profile's active accelerator load.
const npuBand = 7

// stepTelemetry synthesizes load figures for a progress fraction.
func (g *Generator) stepTelemetry(step, total int, profile platform.Profile) models.Telemetry {
	progress := float64(step) / float64(total)

	cpu := math.Min(95, g.uniform(15, 25)+60*progress*g.uniform(0.9, 1.1))
	mem := g.uniform(3, 4) + 2*progress
	power := profile.BasePowerW + (profile.PeakPowerW-profile.BasePowerW)*progress

	sample := models.Telemetry{CPU: round1(cpu), MemoryGB: round1(mem)}
	if profile.HasNPU {
		sample.PowerW = round1(power * g.uniform(0.9, 1.1))
		npu := g.uniform(20, 40)
		if progress > 0.1 {
			npu = g.uniform(profile.NPUActive-npuBand, profile.NPUActive)
		}
		npu = round1(npu)
		sample.Accel = &npu
	} else {
		sample.PowerW = round1(power * g.uniform(0.95, 1.05))
	}
	return sample
}

func (g *Generator) uniform(lo, hi float64) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return lo + g.rng.Float64()*(hi-lo)
}

func (g *Generator) intN(n int) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rng.IntN(n)
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func isDataURI(ref string) bool {
	return strings.HasPrefix(ref, "data:")
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
