package store

import (
	"context"
	"errors"

	"github.com/AppMana/golobulus/internal/model"
)

// Store errors.
var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// JobStats holds aggregate render statistics.
type JobStats struct {
	Total          int            `json:"total"`
	CountByStatus  map[string]int `json:"count_by_status"`
	FramesRendered int            `json:"frames_rendered"`
	AvgDurationMS  float64        `json:"avg_duration_ms"`
}

// Store persists job history and host-managed instance state.
type Store interface {
	CreateJob(ctx context.Context, j *model.Job) error
	GetJob(ctx context.Context, id model.JobID) (*model.Job, error)
	ListJobs(ctx context.Context, limit, offset int) ([]*model.Job, int, error)
	UpdateJobStatus(ctx context.Context, id model.JobID, status string) error
	FinishJob(ctx context.Context, j *model.Job) error
	GetJobStats(ctx context.Context) (*JobStats, error)
	InsertLogLine(ctx context.Context, id model.JobID, seq int, line string) error
	GetLogLines(ctx context.Context, id model.JobID) ([]model.LogLine, error)

	SaveInstance(ctx context.Context, id model.InstanceID, version uint16, data []byte) error
	LoadInstance(ctx context.Context, id model.InstanceID) (uint16, []byte, error)
	ListInstances(ctx context.Context) ([]model.InstanceID, error)
	DeleteInstance(ctx context.Context, id model.InstanceID) error

	Close() error
}
