package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/AppMana/golobulus/internal/debugstore"
	"github.com/AppMana/golobulus/internal/engine"
	"github.com/AppMana/golobulus/internal/idle"
	"github.com/AppMana/golobulus/internal/instance"
	"github.com/AppMana/golobulus/internal/jobs"
	"github.com/AppMana/golobulus/internal/metrics"
	"github.com/AppMana/golobulus/internal/model"
	"github.com/AppMana/golobulus/internal/script"
	"github.com/AppMana/golobulus/internal/store"
)

// Host errors.
var (
	ErrUnknownInstance   = errors.New("unknown instance")
	ErrNotMainThread     = errors.New("main thread context used outside the host loop")
	ErrAlreadyRegistered = errors.New("plugin already registered")
	ErrStopped           = errors.New("host loop stopped")
	ErrAlreadyRunning    = errors.New("host loop already running")
	ErrNoScript          = errors.New("no script loaded")
	ErrRenderActive      = errors.New("render already active")
)

// Options configures a Host.
type Options struct {
	// Factory builds the script engines used for loading and rendering.
	Factory script.Factory

	// Store persists job history and flattened instances. Defaults to an
	// in-memory store.
	Store store.Store

	Logger *slog.Logger

	// IdleInterval is how often Run ticks the idle bridge. Defaults to
	// idle.DefaultInterval.
	IdleInterval time.Duration

	// ReadFile loads script files. Defaults to os.ReadFile.
	ReadFile func(name string) ([]byte, error)

	// OnScriptLoaded is called on the main thread after a script file was
	// loaded into an instance.
	OnScriptLoaded func(id model.InstanceID, path string)
}

type request struct {
	fn    func(*MainThread) error
	reply chan error
}

// Host owns the main-thread loop and the state shared with render workers.
type Host struct {
	registry *jobs.Registry
	errors   *debugstore.Store
	engine   *engine.Engine
	store    store.Store
	factory  script.Factory
	logger   *slog.Logger
	interval time.Duration
	readFile func(string) ([]byte, error)
	onLoaded func(model.InstanceID, string)

	requests chan request
	stopped  chan struct{}
	running  atomic.Bool
}

// New creates a host. Call Run to start its main-thread loop.
func New(opts Options) *Host {
	h := &Host{
		registry: jobs.NewRegistry(),
		store:    opts.Store,
		factory:  opts.Factory,
		logger:   opts.Logger,
		interval: opts.IdleInterval,
		readFile: opts.ReadFile,
		onLoaded: opts.OnScriptLoaded,
		requests: make(chan request),
		stopped:  make(chan struct{}),
	}
	if h.store == nil {
		h.store = store.NewMemoryStore()
	}
	if h.logger == nil {
		h.logger = slog.New(slog.DiscardHandler)
	}
	if h.interval <= 0 {
		h.interval = idle.DefaultInterval
	}
	if h.readFile == nil {
		h.readFile = os.ReadFile
	}
	h.errors = debugstore.New(debugstore.WithOnRecord(func(c debugstore.Contents) {
		metrics.DebugRecorded(c.Kind)
	}))
	h.engine = engine.NewEngine(h.registry, h.errors, h.store, h.logger)
	return h
}

// Engine returns the render engine.
func (h *Host) Engine() *engine.Engine {
	return h.engine
}

// Store returns the persistence store.
func (h *Host) Store() store.Store {
	return h.store
}

// Run serves commands and idle ticks until ctx is done. On return every
// render job has been cancelled and its worker has exited.
func (h *Host) Run(ctx context.Context) error {
	if !h.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(h.stopped)

	mt := newMainThread(h)
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.logger.Info("host loop started", "idle_interval_ms", h.interval.Milliseconds())
	for {
		select {
		case <-ctx.Done():
			h.engine.CancelAll()
			h.engine.Wait()
			h.logger.Info("host loop stopped")
			return nil
		case req := <-h.requests:
			req.reply <- mt.run(req.fn)
		case <-ticker.C:
			_ = mt.run(func(m *MainThread) error {
				m.Tick()
				return nil
			})
		}
	}
}

// Do runs fn on the main thread and returns its error. The MainThread passed
// to fn must not be retained after fn returns.
func (h *Host) Do(ctx context.Context, fn func(*MainThread) error) error {
	req := request{fn: fn, reply: make(chan error, 1)}
	select {
	case h.requests <- req:
	case <-h.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dispatch delivers a host command to the main thread.
func (h *Host) Dispatch(ctx context.Context, cmd Command) (Result, error) {
	var res Result
	err := h.Do(ctx, func(m *MainThread) error {
		var err error
		res, err = m.Handle(cmd)
		return err
	})
	return res, err
}

// BgRenderIsActive reports whether the job is still running. It reads the
// job registry directly and may be called from any goroutine.
func (h *Host) BgRenderIsActive(id model.JobID) bool {
	return h.engine.IsActive(id)
}

// CancelJob requests cancellation of a running job from any goroutine.
func (h *Host) CancelJob(id model.JobID) error {
	return h.engine.Cancel(id)
}

// StartJob starts a render of frames frames for an instance.
func (h *Host) StartJob(ctx context.Context, id model.InstanceID, frames int) (model.JobID, error) {
	var job model.JobID
	err := h.Do(ctx, func(m *MainThread) error {
		var err error
		job, err = m.StartRender(id, frames)
		return err
	})
	return job, err
}

// ReloadScript reloads every instance whose script came from path and
// returns the ids that reloaded cleanly.
func (h *Host) ReloadScript(ctx context.Context, path string) ([]model.InstanceID, error) {
	var ids []model.InstanceID
	err := h.Do(ctx, func(m *MainThread) error {
		ids = m.ReloadPath(path)
		return nil
	})
	return ids, err
}

// RecordError files a debug entry for an instance parameter.
func (h *Host) RecordError(id model.InstanceID, param model.ParamIdx, c debugstore.Contents) {
	h.errors.Record(id, param, c)
}

// QueryErrors returns a copy of the instance's debug entries.
func (h *Host) QueryErrors(id model.InstanceID) map[model.ParamIdx]debugstore.Contents {
	return h.errors.Query(id)
}

// Save flattens an instance and writes it to the store.
func (h *Host) Save(ctx context.Context, id model.InstanceID) error {
	var (
		version uint16
		data    []byte
	)
	err := h.Do(ctx, func(m *MainThread) error {
		inst, err := m.Instance(id)
		if err != nil {
			return err
		}
		version, data, err = instance.Flatten(inst)
		return err
	})
	if err != nil {
		return err
	}
	if err := h.store.SaveInstance(ctx, id, version, data); err != nil {
		return fmt.Errorf("save instance %s: %w", id, err)
	}
	h.logger.Info("instance saved", "instance_id", id, "version", version, "bytes", len(data))
	return nil
}

// Restore reads a stored instance and recreates it on the main thread.
func (h *Host) Restore(ctx context.Context, id model.InstanceID) (Result, error) {
	version, data, err := h.store.LoadInstance(ctx, id)
	if err != nil {
		return Result{}, fmt.Errorf("load instance %s: %w", id, err)
	}
	return h.Dispatch(ctx, SequenceResetup{Version: version, Data: data})
}
