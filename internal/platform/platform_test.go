package platform

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmud/AI-image-gen-battle/internal/models"
)

func TestNormalizeArch(t *testing.T) {
	tests := map[string]string{
		"arm64":   "ARM64",
		"aarch64": "ARM64",
		"ARM":     "ARM64",
		"amd64":   "x86_64",
		"x86_64":  "x86_64",
		"386":     "x86_64",
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, want, NormalizeArch(in))
		})
	}
}

func TestClassForArch(t *testing.T) {
	assert.Equal(t, models.PlatformSnapdragon, ClassForArch("arm64"))
	assert.Equal(t, models.PlatformIntel, ClassForArch("amd64"))
}

func TestParseClass(t *testing.T) {
	c, err := ParseClass(" Snapdragon ")
	require.NoError(t, err)
	assert.Equal(t, models.PlatformSnapdragon, c)

	c, err = ParseClass("intel")
	require.NoError(t, err)
	assert.Equal(t, models.PlatformIntel, c)

	_, err = ParseClass("riscv")
	assert.Error(t, err)
}

func TestHostDetectorOverrides(t *testing.T) {
	ctx := context.Background()

	caps, err := (&HostDetector{ForceSnapdragon: true, Arch: "amd64"}).DetectPlatform(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.PlatformSnapdragon, caps.Class)
	assert.Equal(t, "ARM64", caps.Architecture)
	assert.Equal(t, "npu", caps.AccelerationKind)
	assert.True(t, caps.AccelerationAvailable)

	caps, err = (&HostDetector{ForceCPU: true}).DetectPlatform(ctx)
	require.NoError(t, err)
	assert.False(t, caps.AccelerationAvailable)
	assert.NotEmpty(t, caps.ProcessorModel)
}

func TestProfiles(t *testing.T) {
	snap := ProfileFor(models.PlatformSnapdragon)
	assert.Equal(t, 1.0, snap.StepsPerSecond)
	assert.Equal(t, 4, snap.DefaultSteps)
	assert.True(t, snap.HasNPU)

	intel := ProfileFor(models.PlatformIntel)
	assert.Equal(t, 0.8, intel.StepsPerSecond)
	assert.Equal(t, 25, intel.DefaultSteps)
	assert.False(t, intel.HasNPU)

	assert.Equal(t, intel, ProfileFor("unknown"))
	assert.Len(t, Classes(), 2)
}

func TestStateAdopt(t *testing.T) {
	s := NewState(models.Capabilities{Class: models.PlatformIntel})
	s.Adopt(models.Capabilities{Class: models.PlatformSnapdragon, AccelerationAvailable: true})
	assert.Equal(t, models.PlatformSnapdragon, s.Current().Class)
	assert.True(t, s.Current().AccelerationAvailable)
}
