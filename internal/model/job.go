package model

import "time"

// Job status constants.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
	StatusFailed    = "failed"
	StatusReaped    = "reaped"
)

// validTransitions maps each status to the set of statuses it may transition to.
var validTransitions = map[string]map[string]bool{
	StatusPending: {
		StatusRunning:   true,
		StatusCancelled: true,
		StatusFailed:    true,
	},
	StatusRunning: {
		StatusCompleted: true,
		StatusCancelled: true,
		StatusFailed:    true,
	},
	StatusCompleted: {StatusReaped: true},
	StatusCancelled: {StatusReaped: true},
	StatusFailed:    {StatusReaped: true},
}

// ValidTransition reports whether transitioning from one status to another is allowed.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// IsTerminal reports whether a job in the given status has stopped executing.
func IsTerminal(status string) bool {
	switch status {
	case StatusCompleted, StatusCancelled, StatusFailed, StatusReaped:
		return true
	}
	return false
}

// Job is the persisted history record of one render attempt.
type Job struct {
	ID           JobID      `json:"id"`
	InstanceID   InstanceID `json:"instance_id"`
	Status       string     `json:"status"`
	CurrentFrame int        `json:"current_frame"`
	TotalFrames  int        `json:"total_frames"`
	Error        string     `json:"error,omitempty"`
	DurationMS   *int       `json:"duration_ms,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// LogLine represents a single line a script printed while rendering a job.
type LogLine struct {
	ID        int64     `json:"id"`
	JobID     JobID     `json:"job_id"`
	Seq       int       `json:"seq"`
	Line      string    `json:"line"`
	CreatedAt time.Time `json:"created_at"`
}
