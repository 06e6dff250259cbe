package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AppMana/golobulus/internal/debugstore"
	"github.com/AppMana/golobulus/internal/jobs"
	"github.com/AppMana/golobulus/internal/metrics"
	"github.com/AppMana/golobulus/internal/model"
	"github.com/AppMana/golobulus/internal/script"
	"github.com/AppMana/golobulus/internal/store"
)

// Engine errors.
var (
	ErrInvalidFrames = errors.New("total frames must be positive")
	ErrNoFactory     = errors.New("no script engine factory")
)

// StartRequest describes a render job.
type StartRequest struct {
	InstanceID  model.InstanceID
	TotalFrames int
	Factory     script.Factory
	Setup       script.Setup
}

// Engine orchestrates background render jobs.
type Engine struct {
	registry *jobs.Registry
	errors   *debugstore.Store
	store    store.Store
	logger   *slog.Logger
	wg       sync.WaitGroup
	broker   *LogBroker
}

// NewEngine creates a new render engine. Jobs are registered in reg and
// script failures are recorded in errs.
func NewEngine(reg *jobs.Registry, errs *debugstore.Store, s store.Store, logger *slog.Logger) *Engine {
	return &Engine{
		registry: reg,
		errors:   errs,
		store:    s,
		logger:   logger,
		broker:   NewLogBroker(),
	}
}

// Broker returns the engine's log broker for SSE subscription.
func (e *Engine) Broker() *LogBroker {
	return e.broker
}

// Registry returns the job registry the engine publishes to.
func (e *Engine) Registry() *jobs.Registry {
	return e.registry
}

// Start creates a job record, registers its task as pending and launches
// the worker goroutine. The returned id is active as soon as Start returns.
func (e *Engine) Start(ctx context.Context, req StartRequest) (model.JobID, error) {
	if req.TotalFrames <= 0 {
		return "", fmt.Errorf("%w: %d", ErrInvalidFrames, req.TotalFrames)
	}
	if req.Factory == nil {
		return "", ErrNoFactory
	}

	task := jobs.NewTask(model.NewJobID(), req.InstanceID, req.TotalFrames)
	if err := e.store.CreateJob(ctx, &model.Job{
		ID:          task.ID(),
		InstanceID:  req.InstanceID,
		Status:      model.StatusPending,
		TotalFrames: req.TotalFrames,
		CreatedAt:   task.CreatedAt(),
	}); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}
	if err := e.registry.Insert(task); err != nil {
		return "", fmt.Errorf("register job: %w", err)
	}
	e.broker.Open(task.ID())
	metrics.JobStarted()

	e.logger.Info("job started",
		"job_id", task.ID(),
		"instance_id", req.InstanceID,
		"total_frames", req.TotalFrames,
	)

	e.wg.Go(func() {
		e.execute(task, req)
	})

	return task.ID(), nil
}

// Cancel asks the job's worker to stop. The worker observes the request
// before its next frame, and the frame in flight sees its context cancelled.
func (e *Engine) Cancel(id model.JobID) error {
	if err := e.registry.Cancel(id); err != nil {
		return err
	}
	e.logger.Info("job cancel requested", "job_id", id)
	return nil
}

// IsActive reports whether the job still occupies the registry.
func (e *Engine) IsActive(id model.JobID) bool {
	return e.registry.Contains(id)
}

// CancelAll cancels every registered job.
func (e *Engine) CancelAll() {
	for _, p := range e.registry.Snapshot() {
		_ = e.registry.Cancel(p.JobID)
	}
}

// Wait blocks until all in-flight job goroutines complete.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// outcome is how a job's frame loop ended.
type outcome struct {
	status string
	err    error
}

// execute runs the job lifecycle: pending→running→completed/cancelled/failed,
// then removes the task from the registry.
func (e *Engine) execute(task *jobs.Task, req StartRequest) {
	defer e.broker.Close(task.ID())

	start := time.Now()
	out := e.run(task, req)

	if err := task.Transition(out.status); err != nil {
		e.logger.Error("job transition", "job_id", task.ID(), "status", out.status, "error", err)
	}
	e.finish(task, out, start)

	e.registry.Remove(task.ID())
	if err := task.Transition(model.StatusReaped); err != nil {
		e.logger.Error("job transition", "job_id", task.ID(), "status", model.StatusReaped, "error", err)
	}
	metrics.JobFinished(out.status)
}

// run executes the frame loop. Panics from the script engine are contained
// here and reported as a failed job.
func (e *Engine) run(task *jobs.Task, req StartRequest) (out outcome) {
	frame := -1
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("%w: panic: %v", script.ErrScriptExecution, r)
			e.recordFailure(task, debugstore.KindEngine, frame, err)
			out = outcome{status: model.StatusFailed, err: err}
		}
	}()

	if err := task.Transition(model.StatusRunning); err != nil {
		return outcome{status: model.StatusFailed, err: err}
	}
	if err := e.store.UpdateJobStatus(context.Background(), task.ID(), model.StatusRunning); err != nil {
		e.logger.Error("failed to transition to running", "job_id", task.ID(), "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	task.SetCancelFunc(cancel)

	eng := req.Factory()
	if err := script.Prepare(eng, req.Setup); err != nil {
		e.recordFailure(task, debugstore.KindLoad, frame, err)
		return outcome{status: model.StatusFailed, err: err}
	}

	logLine := e.logWriter(task.ID())
	total := task.TotalFrames()
	for frame = 0; frame < total; frame++ {
		if task.Cancelled() {
			return outcome{status: model.StatusCancelled}
		}

		frameStart := time.Now()
		err := eng.RenderFrame(ctx, script.Frame{
			Index:  frame,
			Total:  total,
			Params: req.Setup.Params,
			Log:    logLine,
		})
		if err != nil {
			if task.Cancelled() {
				return outcome{status: model.StatusCancelled}
			}
			e.recordFailure(task, debugstore.KindExecution, frame, err)
			return outcome{status: model.StatusFailed, err: err}
		}
		metrics.FrameRendered(time.Since(frameStart))
		task.Advance(frame + 1)
	}

	return outcome{status: model.StatusCompleted}
}

// logWriter persists each script line and publishes it to live subscribers.
func (e *Engine) logWriter(id model.JobID) func(string) {
	var seq atomic.Int32
	return func(line string) {
		n := int(seq.Add(1) - 1)
		if err := e.store.InsertLogLine(context.Background(), id, n, line); err != nil {
			e.logger.Error("failed to persist log line", "job_id", id, "seq", n, "error", err)
		}
		e.broker.Publish(id, line)
	}
}

// recordFailure files the error under the instance's start render parameter.
func (e *Engine) recordFailure(task *jobs.Task, kind string, frame int, err error) {
	c := debugstore.Contents{
		Kind:    kind,
		Message: err.Error(),
		JobID:   task.ID(),
	}
	if frame >= 0 {
		c.Frame = frame
	}
	e.errors.Record(task.InstanceID(), model.Named(model.ParamStartRender), c)
	e.logger.Warn("job failed",
		"job_id", task.ID(),
		"instance_id", task.InstanceID(),
		"frame", frame,
		"error", err,
	)
}

// finish stores the terminal state of the job.
func (e *Engine) finish(task *jobs.Task, out outcome, start time.Time) {
	now := time.Now().UTC()
	dur := int(time.Since(start).Milliseconds())
	started := start.UTC()

	j := &model.Job{
		ID:           task.ID(),
		Status:       out.status,
		CurrentFrame: task.CurrentFrame(),
		DurationMS:   &dur,
		StartedAt:    &started,
		FinishedAt:   &now,
	}
	if out.err != nil {
		j.Error = out.err.Error()
	}

	if err := e.store.FinishJob(context.Background(), j); err != nil {
		e.logger.Error("failed to update finished job", "job_id", task.ID(), "error", err)
	}

	e.logger.Info("job finished",
		"job_id", task.ID(),
		"status", out.status,
		"frames", j.CurrentFrame,
		"duration_ms", dur,
	)
}
