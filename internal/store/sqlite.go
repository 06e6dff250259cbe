package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/AppMana/golobulus/internal/model"

	_ "modernc.org/sqlite"
)

const createJobsTable = `
CREATE TABLE IF NOT EXISTS jobs (
    id            TEXT PRIMARY KEY,
    instance_id   TEXT NOT NULL,
    status        TEXT NOT NULL,
    current_frame INTEGER NOT NULL DEFAULT 0,
    total_frames  INTEGER NOT NULL,
    error         TEXT NOT NULL DEFAULT '',
    duration_ms   INTEGER,
    created_at    DATETIME NOT NULL,
    started_at    DATETIME,
    finished_at   DATETIME
)`

const createLogLinesTable = `
CREATE TABLE IF NOT EXISTS log_lines (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    job_id     TEXT NOT NULL,
    seq        INTEGER NOT NULL,
    line       TEXT NOT NULL,
    created_at DATETIME NOT NULL
)`

const createInstancesTable = `
CREATE TABLE IF NOT EXISTS instances (
    id         TEXT PRIMARY KEY,
    version    INTEGER NOT NULL,
    payload    BLOB NOT NULL,
    updated_at DATETIME NOT NULL
)`

const jobColumns = `id, instance_id, status, current_frame, total_frames, error,
	duration_ms, created_at, started_at, finished_at`

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Every connection to :memory: is a separate database.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	for name, stmt := range map[string]string{
		"jobs":      createJobsTable,
		"log_lines": createLogLinesTable,
		"instances": createInstancesTable,
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("create %s table: %w", name, err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateJob inserts a new job record.
func (s *SQLiteStore) CreateJob(ctx context.Context, j *model.Job) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (`+jobColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(j.ID), j.InstanceID.String(), j.Status, j.CurrentFrame, j.TotalFrames, j.Error,
		j.DurationMS, j.CreatedAt, j.StartedAt, j.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*model.Job, error) {
	var (
		j        model.Job
		id       string
		instance string
	)
	if err := row.Scan(
		&id, &instance, &j.Status, &j.CurrentFrame, &j.TotalFrames, &j.Error,
		&j.DurationMS, &j.CreatedAt, &j.StartedAt, &j.FinishedAt,
	); err != nil {
		return nil, err
	}
	inst, err := model.ParseInstanceID(instance)
	if err != nil {
		return nil, fmt.Errorf("parse instance id %q: %w", instance, err)
	}
	j.ID = model.JobID(id)
	j.InstanceID = inst
	return &j, nil
}

// GetJob retrieves a job by ID.
func (s *SQLiteStore) GetJob(ctx context.Context, id model.JobID) (*model.Job, error) {
	j, err := scanJob(s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, string(id),
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

// ListJobs returns a page of jobs ordered by created_at DESC, along with the
// total number of jobs.
func (s *SQLiteStore) ListJobs(ctx context.Context, limit, offset int) ([]*model.Job, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM jobs").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []*model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate jobs: %w", err)
	}

	return out, total, nil
}

// UpdateJobStatus moves a job to status. The transition is validated against
// the stored status; entering running sets started_at.
func (s *SQLiteStore) UpdateJobStatus(ctx context.Context, id model.JobID, status string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, "SELECT status FROM jobs WHERE id = ?", string(id)).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read job status: %w", err)
	}
	if !model.ValidTransition(current, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, status)
	}

	now := time.Now().UTC()
	switch {
	case status == model.StatusRunning:
		_, err = tx.ExecContext(ctx,
			"UPDATE jobs SET status = ?, started_at = ? WHERE id = ?", status, now, string(id))
	case model.IsTerminal(status):
		_, err = tx.ExecContext(ctx,
			"UPDATE jobs SET status = ?, finished_at = COALESCE(finished_at, ?) WHERE id = ?", status, now, string(id))
	default:
		_, err = tx.ExecContext(ctx,
			"UPDATE jobs SET status = ? WHERE id = ?", status, string(id))
	}
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}

	return tx.Commit()
}

// FinishJob stores the terminal state of a job.
func (s *SQLiteStore) FinishJob(ctx context.Context, j *model.Job) error {
	if !model.IsTerminal(j.Status) {
		return fmt.Errorf("%w: %s is not terminal", ErrInvalidTransition, j.Status)
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, current_frame = ?, error = ?, duration_ms = ?,
			started_at = COALESCE(?, started_at), finished_at = ?
		WHERE id = ?`,
		j.Status, j.CurrentFrame, j.Error, j.DurationMS, j.StartedAt, j.FinishedAt, string(j.ID),
	)
	if err != nil {
		return fmt.Errorf("finish job: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetJobStats returns aggregate statistics over all jobs.
func (s *SQLiteStore) GetJobStats(ctx context.Context) (*JobStats, error) {
	stats := &JobStats{CountByStatus: make(map[string]int)}

	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM jobs GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		stats.CountByStatus[status] = n
		stats.Total += n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status counts: %w", err)
	}

	var avg sql.NullFloat64
	var frames sql.NullInt64
	if err := s.db.QueryRowContext(ctx,
		"SELECT AVG(duration_ms), SUM(current_frame) FROM jobs",
	).Scan(&avg, &frames); err != nil {
		return nil, fmt.Errorf("aggregate jobs: %w", err)
	}
	stats.AvgDurationMS = avg.Float64
	stats.FramesRendered = int(frames.Int64)

	return stats, nil
}

// InsertLogLine appends a script output line for a job.
func (s *SQLiteStore) InsertLogLine(ctx context.Context, id model.JobID, seq int, line string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO log_lines (job_id, seq, line, created_at) VALUES (?, ?, ?, ?)",
		string(id), seq, line, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert log line: %w", err)
	}
	return nil
}

// GetLogLines returns every stored line for a job in sequence order.
func (s *SQLiteStore) GetLogLines(ctx context.Context, id model.JobID) ([]model.LogLine, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, job_id, seq, line, created_at FROM log_lines WHERE job_id = ? ORDER BY seq",
		string(id),
	)
	if err != nil {
		return nil, fmt.Errorf("get log lines: %w", err)
	}
	defer rows.Close()

	var out []model.LogLine
	for rows.Next() {
		var l model.LogLine
		var jobID string
		if err := rows.Scan(&l.ID, &jobID, &l.Seq, &l.Line, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan log line: %w", err)
		}
		l.JobID = model.JobID(jobID)
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate log lines: %w", err)
	}
	return out, nil
}

// SaveInstance stores a flattened instance, replacing any previous version.
func (s *SQLiteStore) SaveInstance(ctx context.Context, id model.InstanceID, version uint16, data []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO instances (id, version, payload, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET version = excluded.version, payload = excluded.payload,
			updated_at = excluded.updated_at`,
		id.String(), int(version), data, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save instance: %w", err)
	}
	return nil
}

// LoadInstance returns the stored version tag and payload of an instance.
func (s *SQLiteStore) LoadInstance(ctx context.Context, id model.InstanceID) (uint16, []byte, error) {
	var version int
	var data []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT version, payload FROM instances WHERE id = ?", id.String(),
	).Scan(&version, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil, ErrNotFound
	}
	if err != nil {
		return 0, nil, fmt.Errorf("load instance: %w", err)
	}
	return uint16(version), data, nil
}

// ListInstances returns the ids of every stored instance.
func (s *SQLiteStore) ListInstances(ctx context.Context) ([]model.InstanceID, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM instances ORDER BY updated_at")
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	defer rows.Close()

	var out []model.InstanceID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan instance id: %w", err)
		}
		id, err := model.ParseInstanceID(raw)
		if err != nil {
			return nil, fmt.Errorf("parse instance id %q: %w", raw, err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate instances: %w", err)
	}
	return out, nil
}

// DeleteInstance removes a stored instance.
func (s *SQLiteStore) DeleteInstance(ctx context.Context, id model.InstanceID) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM instances WHERE id = ?", id.String())
	if err != nil {
		return fmt.Errorf("delete instance: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
