package jobs

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/AppMana/golobulus/internal/model"
)

// Registry errors.
var (
	ErrNotFound  = errors.New("job not found")
	ErrDuplicate = errors.New("job already registered")
)

// Registry maps job identities to live tasks. A task is present from the
// moment its job starts until its worker reaps it.
type Registry struct {
	mu    sync.RWMutex
	tasks map[model.JobID]*Task
}

// NewRegistry creates an empty job registry.
func NewRegistry() *Registry {
	return &Registry{
		tasks: make(map[model.JobID]*Task),
	}
}

// Insert registers t under its job identity.
func (r *Registry) Insert(t *Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[t.ID()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, t.ID())
	}
	r.tasks[t.ID()] = t
	return nil
}

// Remove deletes the task for id and returns it. Removing an absent id is a
// no-op that reports false.
func (r *Registry) Remove(id model.JobID) (*Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if ok {
		delete(r.tasks, id)
	}
	return t, ok
}

// Get returns the task for id.
func (r *Registry) Get(id model.JobID) (*Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[id]
	return t, ok
}

// Contains reports whether a task for id currently occupies the registry.
func (r *Registry) Contains(id model.JobID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tasks[id]
	return ok
}

// Cancel requests cancellation of the task for id.
func (r *Registry) Cancel(id model.JobID) error {
	t, ok := r.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	t.Cancel()
	return nil
}

// Len returns the number of registered tasks.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tasks)
}

// Snapshot copies the progress of every registered task, sorted by job id.
// The lock is held only while collecting task pointers.
func (r *Registry) Snapshot() []Progress {
	r.mu.RLock()
	tasks := make([]*Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		tasks = append(tasks, t)
	}
	r.mu.RUnlock()

	out := make([]Progress, len(tasks))
	for i, t := range tasks {
		out[i] = t.Progress()
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].JobID < out[j].JobID
	})
	return out
}
