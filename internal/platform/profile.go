package platform

import "github.com/vmud/AI-image-gen-battle/internal/models"

// Profile describes how a platform class performs during generation.
// NPUIdle and NPUActive are only meaningful when HasNPU is set; NPUActive
// is the highest accelerator load reported while a job runs.
type Profile struct {
	Class            models.PlatformClass
	DisplayName      string
	AccelerationKind string
	StepsPerSecond   float64
	DefaultSteps     int
	BasePowerW       float64
	PeakPowerW       float64
	HasNPU           bool
	NPUIdle          float64
	NPUActive        float64
}

var profiles = map[models.PlatformClass]Profile{
	models.PlatformSnapdragon: {
		Class:            models.PlatformSnapdragon,
		DisplayName:      "Snapdragon X Elite",
		AccelerationKind: "npu",
		StepsPerSecond:   1.0,
		DefaultSteps:     4,
		BasePowerW:       8,
		PeakPowerW:       15,
		HasNPU:           true,
		NPUIdle:          5,
		NPUActive:        95,
	},
	models.PlatformIntel: {
		Class:            models.PlatformIntel,
		DisplayName:      "Intel Core Ultra",
		AccelerationKind: "directml",
		StepsPerSecond:   0.8,
		DefaultSteps:     25,
		BasePowerW:       15,
		PeakPowerW:       28,
	},
}

// ProfileFor returns the profile for a class. Unknown classes get the
// general-purpose (intel) profile.
func ProfileFor(class models.PlatformClass) Profile {
	if p, ok := profiles[class]; ok {
		return p
	}
	return profiles[models.PlatformIntel]
}

// Classes lists every known platform class in a stable order.
func Classes() []models.PlatformClass {
	return []models.PlatformClass{models.PlatformSnapdragon, models.PlatformIntel}
}
