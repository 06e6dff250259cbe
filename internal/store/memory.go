package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/AppMana/golobulus/internal/model"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps job history and instances in process. It backs headless
// renders that have no database, and tests.
type MemoryStore struct {
	mu        sync.RWMutex
	jobs      map[model.JobID]*model.Job
	logs      map[model.JobID][]model.LogLine
	nextLogID int64
	instances map[model.InstanceID]storedInstance
}

type storedInstance struct {
	version   uint16
	data      []byte
	updatedAt time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:      make(map[model.JobID]*model.Job),
		logs:      make(map[model.JobID][]model.LogLine),
		instances: make(map[model.InstanceID]storedInstance),
	}
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

func copyJob(j *model.Job) *model.Job {
	c := *j
	return &c
}

// CreateJob inserts a new job record.
func (s *MemoryStore) CreateJob(_ context.Context, j *model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[j.ID]; ok {
		return fmt.Errorf("insert job: duplicate id %s", j.ID)
	}
	s.jobs[j.ID] = copyJob(j)
	return nil
}

// GetJob retrieves a job by ID.
func (s *MemoryStore) GetJob(_ context.Context, id model.JobID) (*model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyJob(j), nil
}

// ListJobs returns a page of jobs, newest first, and the total count.
func (s *MemoryStore) ListJobs(_ context.Context, limit, offset int) ([]*model.Job, int, error) {
	s.mu.RLock()
	all := make([]*model.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		all = append(all, copyJob(j))
	}
	s.mu.RUnlock()

	sort.Slice(all, func(a, b int) bool {
		if !all[a].CreatedAt.Equal(all[b].CreatedAt) {
			return all[a].CreatedAt.After(all[b].CreatedAt)
		}
		return all[a].ID > all[b].ID
	})

	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := min(offset+limit, total)
	return all[offset:end], total, nil
}

// UpdateJobStatus moves a job to status, validating the transition.
func (s *MemoryStore) UpdateJobStatus(_ context.Context, id model.JobID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if !model.ValidTransition(j.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, status)
	}
	now := time.Now().UTC()
	j.Status = status
	switch {
	case status == model.StatusRunning:
		j.StartedAt = &now
	case model.IsTerminal(status) && j.FinishedAt == nil:
		j.FinishedAt = &now
	}
	return nil
}

// FinishJob stores the terminal state of a job.
func (s *MemoryStore) FinishJob(_ context.Context, j *model.Job) error {
	if !model.IsTerminal(j.Status) {
		return fmt.Errorf("%w: %s is not terminal", ErrInvalidTransition, j.Status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.jobs[j.ID]
	if !ok {
		return ErrNotFound
	}
	stored.Status = j.Status
	stored.CurrentFrame = j.CurrentFrame
	stored.Error = j.Error
	stored.DurationMS = j.DurationMS
	if j.StartedAt != nil {
		stored.StartedAt = j.StartedAt
	}
	stored.FinishedAt = j.FinishedAt
	return nil
}

// GetJobStats returns aggregate statistics over all jobs.
func (s *MemoryStore) GetJobStats(_ context.Context) (*JobStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &JobStats{CountByStatus: make(map[string]int)}
	var durTotal, durCount int
	for _, j := range s.jobs {
		stats.Total++
		stats.CountByStatus[j.Status]++
		stats.FramesRendered += j.CurrentFrame
		if j.DurationMS != nil {
			durTotal += *j.DurationMS
			durCount++
		}
	}
	if durCount > 0 {
		stats.AvgDurationMS = float64(durTotal) / float64(durCount)
	}
	return stats, nil
}

// InsertLogLine appends a script output line for a job.
func (s *MemoryStore) InsertLogLine(_ context.Context, id model.JobID, seq int, line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextLogID++
	s.logs[id] = append(s.logs[id], model.LogLine{
		ID:        s.nextLogID,
		JobID:     id,
		Seq:       seq,
		Line:      line,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

// GetLogLines returns every stored line for a job in sequence order.
func (s *MemoryStore) GetLogLines(_ context.Context, id model.JobID) ([]model.LogLine, error) {
	s.mu.RLock()
	out := append([]model.LogLine(nil), s.logs[id]...)
	s.mu.RUnlock()
	sort.SliceStable(out, func(a, b int) bool { return out[a].Seq < out[b].Seq })
	return out, nil
}

// SaveInstance stores a flattened instance, replacing any previous version.
func (s *MemoryStore) SaveInstance(_ context.Context, id model.InstanceID, version uint16, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instances[id] = storedInstance{
		version:   version,
		data:      append([]byte(nil), data...),
		updatedAt: time.Now(),
	}
	return nil
}

// LoadInstance returns the stored version tag and payload of an instance.
func (s *MemoryStore) LoadInstance(_ context.Context, id model.InstanceID) (uint16, []byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	si, ok := s.instances[id]
	if !ok {
		return 0, nil, ErrNotFound
	}
	return si.version, append([]byte(nil), si.data...), nil
}

// ListInstances returns the ids of every stored instance, oldest update first.
func (s *MemoryStore) ListInstances(_ context.Context) ([]model.InstanceID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.InstanceID, 0, len(s.instances))
	for id := range s.instances {
		out = append(out, id)
	}
	sort.Slice(out, func(a, b int) bool {
		return s.instances[out[a]].updatedAt.Before(s.instances[out[b]].updatedAt)
	})
	return out, nil
}

// DeleteInstance removes a stored instance.
func (s *MemoryStore) DeleteInstance(_ context.Context, id model.InstanceID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.instances[id]; !ok {
		return ErrNotFound
	}
	delete(s.instances, id)
	return nil
}
