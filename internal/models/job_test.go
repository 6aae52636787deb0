package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobStatusTerminal(t *testing.T) {
	tests := []struct {
		status JobStatus
		want   bool
	}{
		{JobStatusActive, false},
		{JobStatusCompleted, true},
		{JobStatusError, true},
		{JobStatusStopped, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.status.Terminal())
		})
	}
}

func TestParseJobMode(t *testing.T) {
	tests := []struct {
		in   string
		want JobMode
	}{
		{"remote", JobModeRemote},
		{"remote-triggered", JobModeRemote},
		{"remote_triggered", JobModeRemote},
		{"local", JobModeLocal},
		{"", JobModeLocal},
		{"bogus", JobModeLocal},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseJobMode(tt.in))
		})
	}
}

func TestJobViewActive(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	job := &Job{
		ID:          "j1",
		Prompt:      "a cat",
		Status:      JobStatusActive,
		CurrentStep: 1,
		TotalSteps:  4,
		StartedAt:   start,
	}

	v := job.View(start.Add(1500 * time.Millisecond))
	assert.Equal(t, 25.0, v.ProgressPercent)
	assert.InDelta(t, 1.5, v.ElapsedTime, 1e-9)
	assert.Nil(t, v.EndedAt)
}

func TestJobViewIsACopy(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(2 * time.Second)
	job := &Job{
		ID:         "j1",
		Status:     JobStatusCompleted,
		TotalSteps: 0,
		StartedAt:  start,
		EndedAt:    &end,
		Metrics:    map[string]any{"category": "fantasy"},
	}

	v := job.View(start.Add(time.Hour))
	assert.Zero(t, v.ProgressPercent, "no division by zero total")
	assert.InDelta(t, 2.0, v.ElapsedTime, 1e-9, "ended jobs stop the clock")

	require.NotNil(t, v.EndedAt)
	*v.EndedAt = start
	v.Metrics["category"] = "changed"
	assert.Equal(t, end, *job.EndedAt)
	assert.Equal(t, "fantasy", job.Metrics["category"])
}
