package models

// PlatformClass is the broad hardware family the appliance runs on.
type PlatformClass string

const (
	// PlatformSnapdragon is the ARM64 class with a dedicated NPU.
	PlatformSnapdragon PlatformClass = "snapdragon"
	// PlatformIntel is the x86_64 class accelerated through the integrated GPU.
	PlatformIntel PlatformClass = "intel"
)

// Capabilities is the static descriptor produced by platform detection.
type Capabilities struct {
	Class                 PlatformClass `json:"platform"`
	Architecture          string        `json:"architecture"`
	ProcessorModel        string        `json:"processor"`
	AccelerationKind      string        `json:"ai_acceleration"`
	AccelerationAvailable bool          `json:"acceleration_available"`
}
