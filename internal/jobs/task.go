package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AppMana/golobulus/internal/model"
)

// ErrInvalidTransition is returned when a task status transition is not allowed.
var ErrInvalidTransition = errors.New("invalid status transition")

// Progress is a point-in-time copy of a task's creation context.
type Progress struct {
	JobID        model.JobID
	InstanceID   model.InstanceID
	Status       string
	CurrentFrame int
	TotalFrames  int
}

// Percent returns 100*current/total clamped to [0,100].
func (p Progress) Percent() float32 {
	if p.TotalFrames <= 0 {
		return 0
	}
	v := 100 * float32(p.CurrentFrame) / float32(p.TotalFrames)
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	}
	return v
}

// Task is the state of one background render. The worker that owns it
// advances the frame counter and status; any goroutine may read it or
// request cancellation.
type Task struct {
	id        model.JobID
	instance  model.InstanceID
	total     int
	createdAt time.Time

	current   atomic.Int64
	cancelled atomic.Bool

	mu       sync.Mutex
	status   string
	cancelFn context.CancelFunc
	done     chan struct{}
}

// NewTask creates a pending task for totalFrames frames.
func NewTask(id model.JobID, instance model.InstanceID, totalFrames int) *Task {
	return &Task{
		id:        id,
		instance:  instance,
		total:     totalFrames,
		createdAt: time.Now().UTC(),
		status:    model.StatusPending,
		done:      make(chan struct{}),
	}
}

// ID returns the job identity.
func (t *Task) ID() model.JobID { return t.id }

// InstanceID returns the instance that started the job.
func (t *Task) InstanceID() model.InstanceID { return t.instance }

// TotalFrames returns the number of frames the job renders.
func (t *Task) TotalFrames() int { return t.total }

// CreatedAt returns when the task was built.
func (t *Task) CreatedAt() time.Time { return t.createdAt }

// CurrentFrame returns how many frames have completed.
func (t *Task) CurrentFrame() int { return int(t.current.Load()) }

// Advance records that frame frames have completed. The counter never moves
// backwards.
func (t *Task) Advance(frame int) {
	for {
		cur := t.current.Load()
		if int64(frame) <= cur {
			return
		}
		if t.current.CompareAndSwap(cur, int64(frame)) {
			return
		}
	}
}

// Progress returns a snapshot of the task.
func (t *Task) Progress() Progress {
	return Progress{
		JobID:        t.id,
		InstanceID:   t.instance,
		Status:       t.Status(),
		CurrentFrame: t.CurrentFrame(),
		TotalFrames:  t.total,
	}
}

// SetCancelFunc attaches the function that interrupts the frame currently
// executing. If the task was already cancelled, fn is called immediately.
func (t *Task) SetCancelFunc(fn context.CancelFunc) {
	t.mu.Lock()
	t.cancelFn = fn
	t.mu.Unlock()
	if t.cancelled.Load() {
		fn()
	}
}

// Cancel raises the cancellation flag and interrupts the running frame.
// It is safe to call more than once and from any goroutine.
func (t *Task) Cancel() {
	t.cancelled.Store(true)
	t.mu.Lock()
	fn := t.cancelFn
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Cancelled reports whether cancellation was requested.
func (t *Task) Cancelled() bool { return t.cancelled.Load() }

// Status returns the current lifecycle status.
func (t *Task) Status() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Transition moves the task to status to. Entering a terminal status closes
// the channel returned by Done.
func (t *Task) Transition(to string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !model.ValidTransition(t.status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.status, to)
	}
	wasTerminal := model.IsTerminal(t.status)
	t.status = to
	if model.IsTerminal(to) && !wasTerminal {
		close(t.done)
	}
	return nil
}

// Done is closed once the task reaches a terminal status.
func (t *Task) Done() <-chan struct{} { return t.done }
