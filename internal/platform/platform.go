// Package platform detects the appliance hardware class and holds the
// per-class performance profiles used for timing and power synthesis.
package platform

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"sync"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/vmud/AI-image-gen-battle/internal/models"
)

// Detector reports the platform capabilities. It is called once at startup
// and again when a platform mismatch is being recovered.
type Detector interface {
	DetectPlatform(ctx context.Context) (models.Capabilities, error)
}

// HostDetector detects the platform of the machine this process runs on.
type HostDetector struct {
	// ForceSnapdragon mirrors SNAPDRAGON_NPU: treat the host as snapdragon.
	ForceSnapdragon bool
	// ForceCPU mirrors FORCE_CPU_MODE: report acceleration as unavailable.
	ForceCPU bool
	// Arch overrides runtime.GOARCH (tests).
	Arch string
}

// Compile-time check that HostDetector implements Detector.
var _ Detector = (*HostDetector)(nil)

// DetectPlatform inspects the CPU architecture and model name.
func (p *HostDetector) DetectPlatform(ctx context.Context) (models.Capabilities, error) {
	arch := p.Arch
	if arch == "" {
		arch = runtime.GOARCH
	}

	caps := models.Capabilities{Architecture: NormalizeArch(arch)}

	infos, err := cpu.InfoWithContext(ctx)
	if err != nil {
		slog.Debug("cpu info unavailable", "error", err)
	} else if len(infos) > 0 {
		caps.ProcessorModel = strings.TrimSpace(infos[0].ModelName)
	}

	model := strings.ToLower(caps.ProcessorModel)
	switch {
	case p.ForceSnapdragon:
		caps.Class = models.PlatformSnapdragon
		caps.Architecture = "ARM64"
	case strings.Contains(model, "snapdragon") || strings.Contains(model, "qualcomm"):
		caps.Class = models.PlatformSnapdragon
	case strings.Contains(model, "intel"):
		caps.Class = models.PlatformIntel
	case caps.Architecture == "ARM64":
		caps.Class = models.PlatformSnapdragon
	default:
		caps.Class = models.PlatformIntel
	}

	if caps.ProcessorModel == "" {
		caps.ProcessorModel = ProfileFor(caps.Class).DisplayName
	}
	caps.AccelerationKind = ProfileFor(caps.Class).AccelerationKind
	caps.AccelerationAvailable = !p.ForceCPU

	return caps, nil
}

// NormalizeArch maps Go and OS architecture names onto "ARM64" or "x86_64".
func NormalizeArch(arch string) string {
	a := strings.ToLower(arch)
	if strings.Contains(a, "arm") || strings.Contains(a, "aarch64") {
		return "ARM64"
	}
	return "x86_64"
}

// ClassForArch returns the class implied by an architecture name.
func ClassForArch(arch string) models.PlatformClass {
	if NormalizeArch(arch) == "ARM64" {
		return models.PlatformSnapdragon
	}
	return models.PlatformIntel
}

// ParseClass parses a configured class name.
func ParseClass(s string) (models.PlatformClass, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(models.PlatformSnapdragon):
		return models.PlatformSnapdragon, nil
	case string(models.PlatformIntel):
		return models.PlatformIntel, nil
	default:
		return "", fmt.Errorf("unknown platform class %q", s)
	}
}

// State holds the capabilities currently in effect. Recovery may replace
// them at runtime, so access goes through the accessor methods.
type State struct {
	mu   sync.RWMutex
	caps models.Capabilities
}

// NewState creates a state holder with the initial capabilities.
func NewState(caps models.Capabilities) *State {
	return &State{caps: caps}
}

// Current returns the capabilities in effect.
func (s *State) Current() models.Capabilities {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.caps
}

// Adopt replaces the capabilities in effect.
func (s *State) Adopt(caps models.Capabilities) {
	s.mu.Lock()
	s.caps = caps
	s.mu.Unlock()
}
