// Package service coordinates generation jobs: the single-flight state
// machine, the bounded job history, orphan reaping and the hooks health
// recovery uses to touch job state.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vmud/AI-image-gen-battle/internal/backend"
	"github.com/vmud/AI-image-gen-battle/internal/events"
	"github.com/vmud/AI-image-gen-battle/internal/health"
	"github.com/vmud/AI-image-gen-battle/internal/metrics"
	"github.com/vmud/AI-image-gen-battle/internal/models"
	"github.com/vmud/AI-image-gen-battle/internal/platform"
)

// MaxSteps caps the number of denoising steps a job may request.
const MaxSteps = 150

// DefaultOrphanTimeout is how long a job may stay active before the reaper
// fails it.
const DefaultOrphanTimeout = 300 * time.Second

// OrphanMessage is the error detail recorded on reaped jobs.
const OrphanMessage = "job timeout - marked as failed"

var (
	ErrJobActive   = errors.New("generation already in progress")
	ErrEmptyPrompt = errors.New("prompt is required")
	ErrUnhealthy   = errors.New("system unhealthy")
)

// Reason explains why a start request was rejected.
type Reason string

const (
	ReasonEmptyPrompt Reason = "empty_prompt"
	ReasonJobActive   Reason = "job_active"
	ReasonUnhealthy   Reason = "unhealthy"
)

// StartRequest asks for a new generation job.
type StartRequest struct {
	Prompt string
	Steps  int
	SyncAt time.Time // zero starts immediately
	Mode   models.JobMode
}

// StartResult is the outcome of StartJob.
type StartResult struct {
	Accepted bool
	JobID    string
	Reason   Reason
	Message  string
}

// Err returns the sentinel matching a rejection, or nil when accepted.
func (r StartResult) Err() error {
	switch r.Reason {
	case ReasonEmptyPrompt:
		return ErrEmptyPrompt
	case ReasonJobActive:
		return ErrJobActive
	case ReasonUnhealthy:
		return fmt.Errorf("%w: %s", ErrUnhealthy, r.Message)
	}
	return nil
}

// StopResult is the outcome of StopJob.
type StopResult struct {
	Stopped bool
	JobID   string
	Message string
}

// HealthGate is the part of the health monitor the orchestrator consults.
type HealthGate interface {
	CheckHealth(ctx context.Context) health.Snapshot
	Summary() models.HealthSummary
}

// TelemetrySource supplies the latest sample and accepts simulated ones.
type TelemetrySource interface {
	Latest() models.Telemetry
	Record(sample models.Telemetry)
}

// Publisher delivers events to viewers.
type Publisher interface {
	Publish(t events.Type, payload any)
	PublishStatus()
}

// degradable is implemented by real backends that can be taken out of
// rotation after a fallback-worthy failure and put back by an operator.
type degradable interface {
	MarkDegraded(reason string)
	Degraded() string
	Reset()
}

// Options configures an Orchestrator. Fallback and Platform are required.
type Options struct {
	HistorySize   int
	OrphanTimeout time.Duration
	ForceFallback bool
	GeneratedDir  string

	Real      backend.Generator // nil when no real backend is configured
	Fallback  backend.Generator
	Platform  *platform.State
	Health    HealthGate
	Telemetry TelemetrySource
	Events    Publisher
	Metrics   *metrics.Collector
	Logger    *slog.Logger
}

// Orchestrator owns the active job slot and the job history.
type Orchestrator struct {
	mu              sync.RWMutex
	history         *History
	active          *models.Job
	cancel          context.CancelFunc
	forceFallback   bool
	emergencyReason string

	orphanTimeout time.Duration
	generatedDir  string
	real          backend.Generator
	fallback      backend.Generator
	platform      *platform.State
	health        HealthGate
	telemetry     TelemetrySource
	events        Publisher
	metrics       *metrics.Collector
	logger        *slog.Logger

	wg  sync.WaitGroup
	now func() time.Time
}

var _ health.Controller = (*Orchestrator)(nil)

// New creates an orchestrator.
func New(opts Options) *Orchestrator {
	if opts.OrphanTimeout <= 0 {
		opts.OrphanTimeout = DefaultOrphanTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	o := &Orchestrator{
		history:       NewHistory(opts.HistorySize),
		forceFallback: opts.ForceFallback,
		orphanTimeout: opts.OrphanTimeout,
		generatedDir:  opts.GeneratedDir,
		real:          opts.Real,
		fallback:      opts.Fallback,
		platform:      opts.Platform,
		health:        opts.Health,
		telemetry:     opts.Telemetry,
		events:        opts.Events,
		metrics:       opts.Metrics,
		logger:        opts.Logger,
		now:           time.Now,
	}
	if opts.ForceFallback {
		o.emergencyReason = "forced by configuration"
	}
	return o
}

// StartJob validates a request and, when accepted, starts the job in the
// background. Rejections are reported in the result, never as a panic or
// error return.
func (o *Orchestrator) StartJob(ctx context.Context, req StartRequest) StartResult {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return o.reject(ReasonEmptyPrompt, ErrEmptyPrompt.Error())
	}

	if o.ActiveCount() > 0 {
		return o.reject(ReasonJobActive, ErrJobActive.Error())
	}

	if o.health != nil {
		start := time.Now()
		snap := o.health.CheckHealth(ctx)
		o.metrics.RecordTiming(metrics.OpHealthCheck, time.Since(start))
		if snap.Blocking {
			msg := "System unhealthy"
			if guidance := snap.Guidance(); len(guidance) > 0 {
				msg += ": " + strings.Join(guidance, "; ")
			}
			return o.reject(ReasonUnhealthy, msg)
		}
	}

	steps := req.Steps
	if steps <= 0 {
		steps = platform.ProfileFor(o.platform.Current().Class).DefaultSteps
	}
	steps = min(steps, MaxSteps)

	mode := req.Mode
	if mode == "" {
		mode = models.JobModeLocal
	}

	o.mu.Lock()
	if o.active != nil {
		o.mu.Unlock()
		return o.reject(ReasonJobActive, ErrJobActive.Error())
	}
	job := &models.Job{
		ID:             uuid.New().String(),
		Prompt:         prompt,
		RequestedSteps: steps,
		Mode:           mode,
		Status:         models.JobStatusActive,
		TotalSteps:     steps,
		StartedAt:      o.now(),
	}
	jobCtx, cancel := context.WithCancel(context.Background())
	o.active = job
	o.cancel = cancel
	evicted := o.history.Add(job)
	o.wg.Add(1)
	o.mu.Unlock()

	o.logger.Info("job started", "job_id", job.ID, "steps", steps, "mode", mode, "evicted", len(evicted))
	o.metrics.Inc(metrics.CounterJobsStarted)
	o.publish(events.TypeJobStarted, events.JobStarted{
		JobID:  job.ID,
		Prompt: prompt,
		Steps:  steps,
		Mode:   mode,
	})

	go o.execute(jobCtx, cancel, job.ID, backend.Request{
		JobID:  job.ID,
		Prompt: prompt,
		Steps:  steps,
		Width:  backend.DefaultResolution,
		Height: backend.DefaultResolution,
	}, req.SyncAt)

	return StartResult{Accepted: true, JobID: job.ID, Message: "Generation started"}
}

func (o *Orchestrator) reject(reason Reason, msg string) StartResult {
	o.metrics.Inc(metrics.CounterJobsRejected)
	o.logger.Info("job rejected", "reason", reason, "message", msg)
	return StartResult{Reason: reason, Message: msg}
}

// StopJob stops the active job. It is a no-op when idle.
func (o *Orchestrator) StopJob() StopResult {
	o.mu.Lock()
	job := o.active
	if job == nil {
		o.mu.Unlock()
		return StopResult{Message: "No active generation"}
	}
	o.finishLocked(job, models.JobStatusStopped)
	o.mu.Unlock()

	o.logger.Info("job stopped", "job_id", job.ID)
	o.metrics.Inc(metrics.CounterJobsStopped)
	o.publishStatus()
	return StopResult{Stopped: true, JobID: job.ID, Message: "Generation stopped"}
}

// finishLocked moves job out of active and cancels its context. Caller
// must hold o.mu.
func (o *Orchestrator) finishLocked(job *models.Job, status models.JobStatus) {
	now := o.now()
	job.Status = status
	job.EndedAt = &now
	if o.cancel != nil {
		o.cancel()
	}
	o.active = nil
	o.cancel = nil
}

// GetStatus returns a snapshot of the named job, or of the current or most
// recent job when jobID is empty or unknown.
func (o *Orchestrator) GetStatus(jobID string) models.StatusView {
	now := o.now()

	o.mu.RLock()
	var job *models.Job
	if jobID != "" {
		job = o.history.Get(jobID)
	}
	if job == nil {
		job = o.active
	}
	if job == nil {
		job = o.history.Latest()
	}
	view := models.StatusView{
		Status:          "idle",
		ForceFallback:   o.forceFallback,
		EmergencyReason: o.emergencyReason,
		HistorySize:     o.history.Len(),
		Timestamp:       now,
	}
	if o.active != nil {
		view.Status = "active"
		view.CurrentJobID = o.active.ID
	}
	if job != nil {
		jv := job.View(now)
		view.Job = &jv
	}
	o.mu.RUnlock()

	view.Platform = o.platform.Current().Class
	view.RealBackend = o.realUsable()
	if o.telemetry != nil {
		view.Telemetry = o.telemetry.Latest()
	}
	if o.health != nil {
		view.Health = o.health.Summary()
	}
	return view
}

// Job returns a view of a job held in history.
func (o *Orchestrator) Job(jobID string) (models.JobView, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	job := o.history.Get(jobID)
	if job == nil {
		return models.JobView{}, false
	}
	return job.View(o.now()), true
}

// Jobs returns views of every job in history, oldest first.
func (o *Orchestrator) Jobs() []models.JobView {
	o.mu.RLock()
	defer o.mu.RUnlock()

	now := o.now()
	jobs := o.history.Jobs()
	out := make([]models.JobView, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.View(now))
	}
	return out
}

// SetForceFallback toggles emergency mode.
func (o *Orchestrator) SetForceFallback(on bool, reason string) {
	o.mu.Lock()
	changed := o.forceFallback != on
	o.forceFallback = on
	o.emergencyReason = reason
	if !on {
		o.emergencyReason = ""
	}
	o.mu.Unlock()

	if changed {
		o.logger.Warn("emergency mode changed", "enabled", on, "reason", reason)
		o.publishStatus()
	}
}

// ReapOrphans fails the active job when it has run longer than the orphan
// timeout. It returns the number of jobs reaped.
func (o *Orchestrator) ReapOrphans(now time.Time) int {
	o.mu.Lock()
	job := o.active
	if job == nil || now.Sub(job.StartedAt) <= o.orphanTimeout {
		o.mu.Unlock()
		return 0
	}
	job.ErrorDetail = OrphanMessage
	o.finishLocked(job, models.JobStatusError)
	o.mu.Unlock()

	o.logger.Warn("orphaned job reaped", "job_id", job.ID, "timeout", o.orphanTimeout)
	o.metrics.Inc(metrics.CounterJobsReaped)
	o.publish(events.TypeError, events.JobError{JobID: job.ID, Error: OrphanMessage})
	return 1
}

// RunReaper calls ReapOrphans every interval until ctx is done.
func (o *Orchestrator) RunReaper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.ReapOrphans(o.now())
		}
	}
}

// Wait blocks until every execution goroutine has returned.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Shutdown stops the active job and waits for its goroutine, or until ctx
// is done.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.StopJob()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for job goroutines: %w", ctx.Err())
	}
}

// ActiveCount returns the number of jobs in the active state.
func (o *Orchestrator) ActiveCount() int {
	o.mu.RLock()
	defer o.mu.RUnlock()

	n := 0
	for _, j := range o.history.Jobs() {
		if j.Status == models.JobStatusActive {
			n++
		}
	}
	return n
}

// ActiveSince returns the start time of the active job.
func (o *Orchestrator) ActiveSince() (time.Time, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if o.active == nil {
		return time.Time{}, false
	}
	return o.active.StartedAt, true
}

// TrimHistory evicts finished jobs until at most keep remain.
func (o *Orchestrator) TrimHistory(keep int) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.history.Trim(keep)
}

// PruneArtifacts deletes all but the newest keep generated images.
func (o *Orchestrator) PruneArtifacts(keep int) (int, error) {
	if o.generatedDir == "" {
		return 0, nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return pruneImages(o.generatedDir, keep)
}

// FailActive moves the active job to error with reason. It reports whether
// a job was failed.
func (o *Orchestrator) FailActive(reason string) bool {
	o.mu.Lock()
	job := o.active
	if job == nil {
		o.mu.Unlock()
		return false
	}
	job.ErrorDetail = reason
	o.finishLocked(job, models.JobStatusError)
	o.mu.Unlock()

	o.logger.Warn("active job failed by recovery", "job_id", job.ID, "reason", reason)
	o.metrics.Inc(metrics.CounterJobsFailed)
	o.publish(events.TypeError, events.JobError{JobID: job.ID, Error: reason})
	return true
}

// EmergencyMode reports whether every job is routed to the fallback.
func (o *Orchestrator) EmergencyMode() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.forceFallback
}

// ActivateEmergency routes all later jobs to the fallback generator.
func (o *Orchestrator) ActivateEmergency(reason string) {
	o.SetForceFallback(true, reason)
}

// ResetBackend returns a degraded real backend to rotation. It reports
// false when there is no degraded backend to restore.
func (o *Orchestrator) ResetBackend() bool {
	d, ok := o.real.(degradable)
	if !ok {
		return false
	}
	reason := d.Degraded()
	if reason == "" {
		return false
	}
	d.Reset()
	o.logger.Info("real backend restored", "was", reason)
	o.publishStatus()
	return true
}

func (o *Orchestrator) realUsable() bool {
	if o.real == nil {
		return false
	}
	if d, ok := o.real.(degradable); ok && d.Degraded() != "" {
		return false
	}
	return true
}

func (o *Orchestrator) publish(t events.Type, payload any) {
	if o.events != nil {
		o.events.Publish(t, payload)
	}
}

func (o *Orchestrator) publishStatus() {
	if o.events != nil {
		o.events.PublishStatus()
	}
}
