// Package backend defines the contract shared by every image generator and
// ships the remote inference-worker implementation.
package backend

import (
	"context"

	"github.com/vmud/AI-image-gen-battle/internal/models"
)

// DefaultResolution is the square output size requested from generators.
const DefaultResolution = 768

// Request describes one generation.
type Request struct {
	JobID    string
	Prompt   string
	Steps    int
	Width    int
	Height   int
	Platform models.PlatformClass
}

// Step reports that a generator finished step Current of Total. Telemetry
// is set by generators that simulate their own load figures.
type Step struct {
	Current   int
	Total     int
	Telemetry *models.Telemetry
}

// Result is a finished generation.
type Result struct {
	ArtifactRef string
	// ArtifactPath is the local file behind ArtifactRef, when there is one.
	ArtifactPath string
	Metrics      map[string]any
}

// Generator produces an image for a prompt, reporting each completed step
// on the steps channel. Implementations must not close steps and must stop
// sending once ctx is done.
type Generator interface {
	Kind() models.BackendKind
	Available(ctx context.Context) bool
	Generate(ctx context.Context, req Request, steps chan<- Step) (Result, error)
}

// DeviceReporter is implemented by generators that know which device the
// last generation actually ran on ("npu", "gpu", "cpu").
type DeviceReporter interface {
	LastDevice() string
}

// SendStep delivers a step unless ctx is done first.
func SendStep(ctx context.Context, steps chan<- Step, s Step) error {
	select {
	case steps <- s:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
