// Package models defines data structures shared across the demo appliance services.
package models

import (
	"time"
)

// JobStatus is the lifecycle state of a generation job.
type JobStatus string

const (
	JobStatusActive    JobStatus = "active"
	JobStatusCompleted JobStatus = "completed"
	JobStatusError     JobStatus = "error"
	JobStatusStopped   JobStatus = "stopped"
)

// Terminal reports whether the status can no longer change.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusError || s == JobStatusStopped
}

// JobMode records how a job was triggered. It is informational only.
type JobMode string

const (
	JobModeLocal  JobMode = "local"
	JobModeRemote JobMode = "remote"
)

// ParseJobMode maps a command-surface mode string to a JobMode, defaulting to local.
func ParseJobMode(s string) JobMode {
	switch s {
	case "remote", "remote-triggered", "remote_triggered":
		return JobModeRemote
	default:
		return JobModeLocal
	}
}

// BackendKind identifies which generator ran a job.
type BackendKind string

const (
	BackendReal     BackendKind = "real"
	BackendFallback BackendKind = "fallback"
)

// Job is one generation request.
type Job struct {
	ID             string
	Prompt         string
	RequestedSteps int
	Mode           JobMode
	Status         JobStatus
	CurrentStep    int
	TotalSteps     int
	Backend        BackendKind
	StartedAt      time.Time
	EndedAt        *time.Time
	ResultRef      string
	ErrorDetail    string
	Metrics        map[string]any
}

// Elapsed returns the time the job has been (or was) running as of now.
func (j *Job) Elapsed(now time.Time) time.Duration {
	if j.EndedAt != nil {
		return j.EndedAt.Sub(j.StartedAt)
	}
	return now.Sub(j.StartedAt)
}

// View returns an immutable copy of the job suitable for status reporting.
func (j *Job) View(now time.Time) JobView {
	v := JobView{
		ID:             j.ID,
		Prompt:         j.Prompt,
		RequestedSteps: j.RequestedSteps,
		Mode:           j.Mode,
		Status:         j.Status,
		CurrentStep:    j.CurrentStep,
		TotalSteps:     j.TotalSteps,
		Backend:        j.Backend,
		StartedAt:      j.StartedAt,
		ResultRef:      j.ResultRef,
		ErrorDetail:    j.ErrorDetail,
		ElapsedTime:    j.Elapsed(now).Seconds(),
	}
	if j.EndedAt != nil {
		ended := *j.EndedAt
		v.EndedAt = &ended
	}
	if j.TotalSteps > 0 {
		v.ProgressPercent = float64(j.CurrentStep) / float64(j.TotalSteps) * 100
	}
	if len(j.Metrics) > 0 {
		v.Metrics = make(map[string]any, len(j.Metrics))
		for k, val := range j.Metrics {
			v.Metrics[k] = val
		}
	}
	return v
}

// JobView is the externally visible snapshot of a Job.
type JobView struct {
	ID              string         `json:"id"`
	Prompt          string         `json:"prompt"`
	RequestedSteps  int            `json:"requested_steps"`
	Mode            JobMode        `json:"mode"`
	Status          JobStatus      `json:"status"`
	CurrentStep     int            `json:"current_step"`
	TotalSteps      int            `json:"total_steps"`
	ProgressPercent float64        `json:"progress_percent"`
	Backend         BackendKind    `json:"backend,omitempty"`
	StartedAt       time.Time      `json:"started_at"`
	EndedAt         *time.Time     `json:"ended_at,omitempty"`
	ElapsedTime     float64        `json:"elapsed_time"`
	ResultRef       string         `json:"result_ref,omitempty"`
	ErrorDetail     string         `json:"error,omitempty"`
	Metrics         map[string]any `json:"metrics,omitempty"`
}
