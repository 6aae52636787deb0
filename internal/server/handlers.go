package server

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/vmud/AI-image-gen-battle/internal/events"
	"github.com/vmud/AI-image-gen-battle/internal/metrics"
	"github.com/vmud/AI-image-gen-battle/internal/models"
	"github.com/vmud/AI-image-gen-battle/internal/platform"
	"github.com/vmud/AI-image-gen-battle/internal/service"
)

// Command names accepted by POST /command.
const (
	CommandStart        = "start_generation"
	CommandStop         = "stop_generation"
	CommandStatus       = "get_status"
	CommandResetBackend = "reset_backend"
)

// CommandRequest is the body of POST /command.
type CommandRequest struct {
	Command string          `json:"command"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// StartData is the data of a start_generation command. SyncTime is a Unix
// timestamp in seconds; zero starts immediately.
type StartData struct {
	Prompt   string  `json:"prompt"`
	Steps    int     `json:"steps,omitempty"`
	SyncTime float64 `json:"sync_time,omitempty"`
	Mode     string  `json:"mode,omitempty"`
}

// StatusData is the data of a get_status command.
type StatusData struct {
	JobID string `json:"job_id,omitempty"`
}

// CommandResponse answers start and stop commands.
type CommandResponse struct {
	Success bool   `json:"success"`
	JobID   string `json:"job_id,omitempty"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message"`
}

// InfoResponse describes the appliance.
type InfoResponse struct {
	models.Capabilities
	DisplayName  string `json:"display_name"`
	DefaultSteps int    `json:"default_steps"`
}

// StatsResponse combines runtime metrics with event delivery counters.
type StatsResponse struct {
	Runtime metrics.Snapshot `json:"runtime"`
	Events  events.Stats     `json:"events"`
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, CommandResponse{Message: "Invalid request body"})
		return
	}

	switch req.Command {
	case CommandStart:
		var data StartData
		if err := decodeData(req.Data, &data); err != nil {
			writeJSON(w, http.StatusBadRequest, CommandResponse{Message: "Invalid start data: " + err.Error()})
			return
		}
		res := s.deps.Jobs.StartJob(r.Context(), service.StartRequest{
			Prompt: data.Prompt,
			Steps:  data.Steps,
			SyncAt: unixSeconds(data.SyncTime),
			Mode:   models.ParseJobMode(data.Mode),
		})
		status := http.StatusOK
		if !res.Accepted {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, CommandResponse{
			Success: res.Accepted,
			JobID:   res.JobID,
			Reason:  string(res.Reason),
			Message: res.Message,
		})

	case CommandStop:
		res := s.deps.Jobs.StopJob()
		writeJSON(w, http.StatusOK, CommandResponse{Success: true, JobID: res.JobID, Message: res.Message})

	case CommandStatus:
		var data StatusData
		if err := decodeData(req.Data, &data); err != nil {
			writeJSON(w, http.StatusBadRequest, CommandResponse{Message: "Invalid status data: " + err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, s.deps.Jobs.GetStatus(data.JobID))

	case CommandResetBackend:
		msg := "Real backend not degraded"
		if s.deps.Jobs.ResetBackend() {
			msg = "Real backend restored"
		}
		writeJSON(w, http.StatusOK, CommandResponse{Success: true, Message: msg})

	default:
		writeJSON(w, http.StatusBadRequest, CommandResponse{Message: fmt.Sprintf("Unknown command: %q", req.Command)})
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Jobs.GetStatus(r.URL.Query().Get("job_id")))
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	caps := s.deps.Platform.Current()
	profile := platform.ProfileFor(caps.Class)
	writeJSON(w, http.StatusOK, InfoResponse{
		Capabilities: caps,
		DisplayName:  profile.DisplayName,
		DefaultSteps: profile.DefaultSteps,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health == nil {
		writeJSON(w, http.StatusOK, models.HealthSummary{Healthy: true, Issues: []string{}, Degraded: []string{}, MemoryOK: true, DiskOK: true, ModelsOK: true})
		return
	}
	sum := s.deps.Health.Summary()
	status := http.StatusOK
	if !sum.Healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, sum)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	var resp StatsResponse
	if s.deps.Metrics != nil {
		resp.Runtime = s.deps.Metrics.Snapshot()
	}
	if s.deps.Events != nil {
		resp.Events = s.deps.Events.Stats()
	}
	writeJSON(w, http.StatusOK, resp)
}

func decodeData(raw json.RawMessage, dst any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

func unixSeconds(sec float64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	whole, frac := math.Modf(sec)
	return time.Unix(int64(whole), int64(frac*1e9))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
