package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vmud/AI-image-gen-battle/internal/backend"
	"github.com/vmud/AI-image-gen-battle/internal/events"
	"github.com/vmud/AI-image-gen-battle/internal/metrics"
	"github.com/vmud/AI-image-gen-battle/internal/models"
)

// stepBuffer bounds how far a backend may run ahead of the step consumer.
const stepBuffer = 16

// execute runs one job to completion in its own goroutine.
func (o *Orchestrator) execute(ctx context.Context, cancel context.CancelFunc, jobID string, req backend.Request, syncAt time.Time) {
	defer o.wg.Done()
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("job goroutine panic", "job_id", jobID, "panic", r)
			o.fail(jobID, fmt.Errorf("internal error: %v", r))
		}
	}()

	if !syncAt.IsZero() {
		if err := waitUntil(ctx, syncAt, o.now()); err != nil {
			return
		}
	}

	req.Platform = o.platform.Current().Class

	gen := o.selectBackend(ctx)
	res, err := o.run(ctx, jobID, gen, req)

	if err != nil && gen.Kind() == models.BackendReal && ctx.Err() == nil &&
		backend.IsFallbackWorthy(err) && !o.stepReported(jobID) {
		o.degradeReal(err)
		o.metrics.Inc(metrics.CounterFallbackSwitch)
		o.logger.Warn("switching job to fallback", "job_id", jobID, "error", err)
		res, err = o.run(ctx, jobID, o.fallback, req)
	}

	if err != nil {
		o.fail(jobID, err)
		return
	}
	o.complete(jobID, res)
}

// selectBackend picks the real backend unless emergency mode is on, none
// is configured, it reports unavailable, or the platform has no
// acceleration.
func (o *Orchestrator) selectBackend(ctx context.Context) backend.Generator {
	o.mu.RLock()
	force := o.forceFallback
	o.mu.RUnlock()

	caps := o.platform.Current()
	switch {
	case force, !o.realUsable(), !caps.AccelerationAvailable:
		return o.fallback
	case !o.real.Available(ctx):
		o.logger.Info("real backend unavailable, using fallback")
		return o.fallback
	default:
		return o.real
	}
}

// run invokes gen and feeds its steps through a single consumer.
func (o *Orchestrator) run(ctx context.Context, jobID string, gen backend.Generator, req backend.Request) (backend.Result, error) {
	o.setBackend(jobID, gen.Kind())

	steps := make(chan backend.Step, stepBuffer)
	consumed := make(chan struct{})
	var reported int
	go func() {
		defer close(consumed)
		for s := range steps {
			reported++
			o.handleStep(jobID, s)
		}
	}()

	start := time.Now()
	res, err := safeGenerate(ctx, gen, req, steps)
	close(steps)
	<-consumed

	op := metrics.OpGenerationFallback
	if gen.Kind() == models.BackendReal {
		op = metrics.OpGenerationReal
	}
	o.metrics.RecordGeneration(op, time.Since(start), reported)
	return res, err
}

func safeGenerate(ctx context.Context, gen backend.Generator, req backend.Request, steps chan<- backend.Step) (res backend.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s backend panic: %v", gen.Kind(), r)
		}
	}()
	return gen.Generate(ctx, req, steps)
}

// handleStep applies one progress report to the job if it is still active.
func (o *Orchestrator) handleStep(jobID string, s backend.Step) {
	o.mu.Lock()
	job := o.activeJob(jobID)
	if job == nil {
		o.mu.Unlock()
		return
	}
	if s.Total > 0 && s.Total >= job.CurrentStep {
		job.TotalSteps = s.Total
	}
	advanced := false
	if cur := min(s.Current, job.TotalSteps); cur > job.CurrentStep {
		job.CurrentStep = cur
		advanced = true
	}
	progress := events.Progress{
		JobID:       job.ID,
		CurrentStep: job.CurrentStep,
		TotalSteps:  job.TotalSteps,
		ElapsedTime: job.Elapsed(o.now()).Seconds(),
	}
	if job.TotalSteps > 0 {
		progress.ProgressPercent = float64(job.CurrentStep) / float64(job.TotalSteps) * 100
	}
	o.mu.Unlock()

	if advanced {
		o.publish(events.TypeProgress, progress)
	}
	if s.Telemetry != nil {
		if o.telemetry != nil {
			o.telemetry.Record(*s.Telemetry)
		}
		o.publish(events.TypeTelemetry, *s.Telemetry)
	}
}

// complete records a successful result. Results for jobs that already left
// active are discarded.
func (o *Orchestrator) complete(jobID string, res backend.Result) {
	o.mu.Lock()
	job := o.activeJob(jobID)
	if job == nil {
		o.mu.Unlock()
		o.logger.Debug("discarding result of inactive job", "job_id", jobID)
		return
	}

	ref := res.ArtifactRef
	if res.ArtifactPath != "" && o.generatedDir != "" {
		if _, err := copyArtifact(res.ArtifactPath, o.generatedDir, jobID); err != nil {
			o.logger.Warn("copy artifact failed", "job_id", jobID, "error", err)
		} else {
			ref = GeneratedURLPrefix + jobID + ".png"
		}
	}

	job.ResultRef = ref
	job.Metrics = res.Metrics
	job.CurrentStep = job.TotalSteps
	o.finishLocked(job, models.JobStatusCompleted)
	done := events.Completed{
		JobID:       job.ID,
		Prompt:      job.Prompt,
		ElapsedTime: job.Elapsed(o.now()).Seconds(),
		ArtifactRef: ref,
		TotalSteps:  job.TotalSteps,
	}
	backendKind := job.Backend
	o.mu.Unlock()

	o.logger.Info("job completed", "job_id", jobID, "backend", backendKind, "elapsed", done.ElapsedTime)
	o.metrics.Inc(metrics.CounterJobsCompleted)
	o.publish(events.TypeCompleted, done)
}

// fail records a job error. Errors for jobs that already left active are
// discarded.
func (o *Orchestrator) fail(jobID string, err error) {
	o.mu.Lock()
	job := o.activeJob(jobID)
	if job == nil {
		o.mu.Unlock()
		if !errors.Is(err, context.Canceled) {
			o.logger.Debug("discarding error of inactive job", "job_id", jobID, "error", err)
		}
		return
	}
	job.ErrorDetail = err.Error()
	o.finishLocked(job, models.JobStatusError)
	o.mu.Unlock()

	o.logger.Error("job failed", "job_id", jobID, "error", err)
	o.metrics.Inc(metrics.CounterJobsFailed)
	o.publish(events.TypeError, events.JobError{JobID: jobID, Error: err.Error()})
}

// activeJob returns the active job if it has the given id. Caller must
// hold o.mu.
func (o *Orchestrator) activeJob(jobID string) *models.Job {
	if o.active == nil || o.active.ID != jobID {
		return nil
	}
	return o.active
}

func (o *Orchestrator) setBackend(jobID string, kind models.BackendKind) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if job := o.activeJob(jobID); job != nil {
		job.Backend = kind
	}
}

func (o *Orchestrator) stepReported(jobID string) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	job := o.activeJob(jobID)
	return job == nil || job.CurrentStep > 0
}

func (o *Orchestrator) degradeReal(err error) {
	if d, ok := o.real.(degradable); ok {
		d.MarkDegraded(err.Error())
	}
}

// waitUntil blocks until t or until ctx is done.
func waitUntil(ctx context.Context, t, now time.Time) error {
	d := t.Sub(now)
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
