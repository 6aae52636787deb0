package models

import "time"

// Telemetry is one sample of machine load, either measured or simulated.
// Accel is nil on platforms without a dedicated accelerator reading.
type Telemetry struct {
	CPU      float64  `json:"cpu"`
	MemoryGB float64  `json:"memory_gb"`
	PowerW   float64  `json:"power_w"`
	Accel    *float64 `json:"npu"`
}

// HealthSummary is the condensed health view carried by status snapshots
// and returned by the health endpoint.
type HealthSummary struct {
	Healthy   bool      `json:"healthy"`
	Warnings  bool      `json:"warnings"`
	Issues    []string  `json:"issues"`
	Degraded  []string  `json:"degraded"`
	Guidance  []string  `json:"guidance,omitempty"`
	LastCheck time.Time `json:"last_check"`
	MemoryOK  bool      `json:"memory_ok"`
	DiskOK    bool      `json:"disk_ok"`
	ModelsOK  bool      `json:"models_ok"`
}

// StatusView is the full state snapshot sent to viewers on connect and
// returned by status queries.
type StatusView struct {
	Status          string        `json:"status"` // "active" or "idle"
	Platform        PlatformClass `json:"platform"`
	CurrentJobID    string        `json:"current_job_id,omitempty"`
	Job             *JobView      `json:"job,omitempty"`
	Telemetry       Telemetry     `json:"telemetry"`
	Health          HealthSummary `json:"health"`
	ForceFallback   bool          `json:"emergency_mode"`
	EmergencyReason string        `json:"emergency_reason,omitempty"`
	RealBackend     bool          `json:"real_backend_available"`
	HistorySize     int           `json:"history_size"`
	Timestamp       time.Time     `json:"timestamp"`
}
