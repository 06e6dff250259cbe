// Package idle reconciles the job registry into a progress cache owned by
// the host main thread. A Bridge is not safe for concurrent use: exactly one
// goroutine, the one the host delivers idle callbacks on, may touch it.
package idle

import (
	"log/slog"
	"sort"
	"time"

	"github.com/AppMana/golobulus/internal/jobs"
	"github.com/AppMana/golobulus/internal/metrics"
	"github.com/AppMana/golobulus/internal/model"
)

// DefaultInterval is how often the host is asked to run the idle tick.
const DefaultInterval = 1800 * time.Millisecond

// Source is the registry view a Bridge reads each tick.
type Source interface {
	Snapshot() []jobs.Progress
}

// Bundle is the cached progress of one job as of the last tick that saw it.
type Bundle struct {
	JobID        model.JobID
	InstanceID   model.InstanceID
	CurrentFrame int
	TotalFrames  int
	ObservedAt   time.Time
}

// Percent returns 100*current/total clamped to [0,100].
func (b Bundle) Percent() float32 {
	return jobs.Progress{CurrentFrame: b.CurrentFrame, TotalFrames: b.TotalFrames}.Percent()
}

// TickResult summarizes one tick.
type TickResult struct {
	Updated int
	Reaped  int
}

// Bridge caches job progress for the main thread.
type Bridge struct {
	source   Source
	bundles  map[model.JobID]Bundle
	tracked  map[model.JobID]model.InstanceID
	onReaped func(model.JobID, model.InstanceID)
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithOnReaped sets the callback run when a job the bridge knew about has
// left the registry. It runs inside Tick, on the main thread.
func WithOnReaped(fn func(model.JobID, model.InstanceID)) Option {
	return func(b *Bridge) {
		b.onReaped = fn
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) {
		b.logger = l
	}
}

// WithClock overrides the time source used for ObservedAt.
func WithClock(now func() time.Time) Option {
	return func(b *Bridge) {
		b.now = now
	}
}

// NewBridge creates a bridge reading from src.
func NewBridge(src Source, opts ...Option) *Bridge {
	b := &Bridge{
		source:  src,
		bundles: make(map[model.JobID]Bundle),
		tracked: make(map[model.JobID]model.InstanceID),
		logger:  slog.New(slog.DiscardHandler),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Track registers a job started on the main thread so the next tick reports
// it even if it finishes before ever being observed.
func (b *Bridge) Track(id model.JobID, instance model.InstanceID) {
	if _, ok := b.bundles[id]; ok {
		return
	}
	b.tracked[id] = instance
}

// Tick refreshes the cache from the registry. Bundles are created or
// updated for every registered job; bundles and tracked ids whose job is gone
// are dropped and reported through the reaped callback. Tick never waits on
// a worker.
func (b *Bridge) Tick() TickResult {
	start := time.Now()
	snap := b.source.Snapshot()
	if len(snap) == 0 && len(b.bundles) == 0 && len(b.tracked) == 0 {
		return TickResult{}
	}

	var res TickResult
	now := b.now()
	seen := make(map[model.JobID]struct{}, len(snap))
	for _, p := range snap {
		seen[p.JobID] = struct{}{}
		delete(b.tracked, p.JobID)
		b.bundles[p.JobID] = Bundle{
			JobID:        p.JobID,
			InstanceID:   p.InstanceID,
			CurrentFrame: p.CurrentFrame,
			TotalFrames:  p.TotalFrames,
			ObservedAt:   now,
		}
		res.Updated++
	}

	for id, bundle := range b.bundles {
		if _, ok := seen[id]; ok {
			continue
		}
		delete(b.bundles, id)
		res.Reaped++
		b.reaped(id, bundle.InstanceID)
	}
	for id, instance := range b.tracked {
		delete(b.tracked, id)
		res.Reaped++
		b.reaped(id, instance)
	}

	metrics.IdleTick(time.Since(start), len(b.bundles))
	if res.Reaped > 0 {
		b.logger.Debug("idle tick", "updated", res.Updated, "reaped", res.Reaped)
	}
	return res
}

func (b *Bridge) reaped(id model.JobID, instance model.InstanceID) {
	if b.onReaped != nil {
		b.onReaped(id, instance)
	}
}

// Progress returns the cached progress percentage of a job. It reports false
// when no tick has observed the job or the job has been reaped.
func (b *Bridge) Progress(id model.JobID) (float32, bool) {
	bundle, ok := b.Bundle(id)
	if !ok {
		return 0, false
	}
	return bundle.Percent(), true
}

// Bundle returns the cached bundle of a job.
func (b *Bridge) Bundle(id model.JobID) (Bundle, bool) {
	bundle, ok := b.bundles[id]
	return bundle, ok
}

// Bundles returns every cached bundle sorted by job id.
func (b *Bridge) Bundles() []Bundle {
	out := make([]Bundle, 0, len(b.bundles))
	for _, bundle := range b.bundles {
		out = append(out, bundle)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JobID < out[j].JobID })
	return out
}

// Len returns the number of cached bundles.
func (b *Bridge) Len() int {
	return len(b.bundles)
}
