package events

import (
	"time"

	"github.com/vmud/AI-image-gen-battle/internal/models"
)

// Type names an event kind on the wire.
type Type string

const (
	TypeJobStarted Type = "job_started"
	TypeProgress   Type = "progress"
	TypeCompleted  Type = "completed"
	TypeError      Type = "error"
	TypeTelemetry  Type = "telemetry"
	TypeStatus     Type = "status"
)

// Event is one message delivered to a subscriber. Seq increases by one
// per publish across the whole distributor.
type Event struct {
	Type Type      `json:"type"`
	Data any       `json:"data"`
	Seq  uint64    `json:"seq"`
	Time time.Time `json:"time"`
}

// JobStarted is the payload of a job_started event.
type JobStarted struct {
	JobID  string         `json:"job_id"`
	Prompt string         `json:"prompt"`
	Steps  int            `json:"steps"`
	Mode   models.JobMode `json:"mode"`
}

// Progress is the payload of a progress event.
type Progress struct {
	JobID           string  `json:"job_id"`
	CurrentStep     int     `json:"current_step"`
	TotalSteps      int     `json:"total_steps"`
	ProgressPercent float64 `json:"progress_percent"`
	ElapsedTime     float64 `json:"elapsed_time"`
}

// Completed is the payload of a completed event.
type Completed struct {
	JobID       string  `json:"job_id"`
	Prompt      string  `json:"prompt"`
	ElapsedTime float64 `json:"elapsed_time"`
	ArtifactRef string  `json:"artifact_ref"`
	TotalSteps  int     `json:"total_steps"`
}

// JobError is the payload of an error event.
type JobError struct {
	JobID string `json:"job_id"`
	Error string `json:"error"`
}
