package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/AppMana/golobulus/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func makeTestJob() *model.Job {
	return &model.Job{
		ID:          model.NewJobID(),
		InstanceID:  model.NewInstanceID(),
		Status:      model.StatusPending,
		TotalFrames: 100,
		CreatedAt:   time.Now().UTC().Truncate(time.Second),
	}
}

func TestCreateAndGetJob(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	j := makeTestJob()

	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.ID != j.ID {
		t.Errorf("ID = %q, want %q", got.ID, j.ID)
	}
	if got.InstanceID != j.InstanceID {
		t.Errorf("InstanceID = %d, want %d", got.InstanceID, j.InstanceID)
	}
	if got.Status != model.StatusPending {
		t.Errorf("Status = %q, want pending", got.Status)
	}
	if got.TotalFrames != 100 {
		t.Errorf("TotalFrames = %d, want 100", got.TotalFrames)
	}
	if got.StartedAt != nil || got.FinishedAt != nil {
		t.Errorf("timestamps set on pending job: %v %v", got.StartedAt, got.FinishedAt)
	}
}

func TestGetJobNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetJob(context.Background(), "nonexistent")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetJob error = %v, want ErrNotFound", err)
	}
}

func TestUpdateJobStatusTransitions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	j := makeTestJob()
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	if err := s.UpdateJobStatus(ctx, j.ID, model.StatusCompleted); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("pending -> completed = %v, want ErrInvalidTransition", err)
	}

	if err := s.UpdateJobStatus(ctx, j.ID, model.StatusRunning); err != nil {
		t.Fatalf("pending -> running: %v", err)
	}
	got, _ := s.GetJob(ctx, j.ID)
	if got.Status != model.StatusRunning || got.StartedAt == nil {
		t.Errorf("after running: status=%q started_at=%v", got.Status, got.StartedAt)
	}

	if err := s.UpdateJobStatus(ctx, j.ID, model.StatusCancelled); err != nil {
		t.Fatalf("running -> cancelled: %v", err)
	}
	got, _ = s.GetJob(ctx, j.ID)
	if got.FinishedAt == nil {
		t.Error("finished_at not set on terminal status")
	}

	if err := s.UpdateJobStatus(ctx, "missing", model.StatusRunning); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing job = %v, want ErrNotFound", err)
	}
}

func TestFinishJob(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	j := makeTestJob()
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	start := time.Now().UTC().Truncate(time.Second)
	end := start.Add(2 * time.Second)
	dur := 2000
	err := s.FinishJob(ctx, &model.Job{
		ID:           j.ID,
		Status:       model.StatusFailed,
		CurrentFrame: 12,
		Error:        "frame 12: NameError",
		DurationMS:   &dur,
		StartedAt:    &start,
		FinishedAt:   &end,
	})
	if err != nil {
		t.Fatalf("FinishJob: %v", err)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != model.StatusFailed || got.CurrentFrame != 12 || got.Error != "frame 12: NameError" {
		t.Errorf("finished job = %+v", got)
	}
	if got.DurationMS == nil || *got.DurationMS != 2000 {
		t.Errorf("DurationMS = %v, want 2000", got.DurationMS)
	}

	if err := s.FinishJob(ctx, &model.Job{ID: j.ID, Status: model.StatusRunning}); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("FinishJob(running) = %v, want ErrInvalidTransition", err)
	}
	if err := s.FinishJob(ctx, &model.Job{ID: "missing", Status: model.StatusCompleted}); !errors.Is(err, ErrNotFound) {
		t.Errorf("FinishJob(missing) = %v, want ErrNotFound", err)
	}
}

func TestListJobsPagination(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		j := makeTestJob()
		j.CreatedAt = time.Now().UTC().Add(time.Duration(i) * time.Second).Truncate(time.Second)
		if err := s.CreateJob(ctx, j); err != nil {
			t.Fatalf("CreateJob[%d]: %v", i, err)
		}
	}

	jobs, total, err := s.ListJobs(ctx, 2, 0)
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if total != 5 {
		t.Errorf("total = %d, want 5", total)
	}
	if len(jobs) != 2 {
		t.Errorf("len(jobs) = %d, want 2", len(jobs))
	}

	rest, _, err := s.ListJobs(ctx, 10, 2)
	if err != nil {
		t.Fatalf("ListJobs page 2: %v", err)
	}
	if len(rest) != 3 {
		t.Errorf("len(jobs) page 2 = %d, want 3", len(rest))
	}
	if !jobs[0].CreatedAt.After(jobs[1].CreatedAt) {
		t.Error("jobs not ordered by created_at DESC")
	}
}

func TestGetJobStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	statuses := []string{model.StatusCompleted, model.StatusCompleted, model.StatusFailed}
	for i, status := range statuses {
		j := makeTestJob()
		if err := s.CreateJob(ctx, j); err != nil {
			t.Fatalf("CreateJob[%d]: %v", i, err)
		}
		dur := 100 * (i + 1)
		now := time.Now().UTC()
		if err := s.FinishJob(ctx, &model.Job{
			ID: j.ID, Status: status, CurrentFrame: 10, DurationMS: &dur, FinishedAt: &now,
		}); err != nil {
			t.Fatalf("FinishJob[%d]: %v", i, err)
		}
	}

	stats, err := s.GetJobStats(ctx)
	if err != nil {
		t.Fatalf("GetJobStats: %v", err)
	}
	if stats.Total != 3 {
		t.Errorf("Total = %d, want 3", stats.Total)
	}
	if stats.CountByStatus[model.StatusCompleted] != 2 || stats.CountByStatus[model.StatusFailed] != 1 {
		t.Errorf("CountByStatus = %v", stats.CountByStatus)
	}
	if stats.FramesRendered != 30 {
		t.Errorf("FramesRendered = %d, want 30", stats.FramesRendered)
	}
	if stats.AvgDurationMS != 200 {
		t.Errorf("AvgDurationMS = %v, want 200", stats.AvgDurationMS)
	}
}

func TestGetJobStatsEmpty(t *testing.T) {
	s := newTestStore(t)
	stats, err := s.GetJobStats(context.Background())
	if err != nil {
		t.Fatalf("GetJobStats: %v", err)
	}
	if stats.Total != 0 || stats.AvgDurationMS != 0 || stats.FramesRendered != 0 {
		t.Errorf("empty stats = %+v", stats)
	}
}

func TestLogLines(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := model.NewJobID()

	for i := 2; i >= 0; i-- {
		if err := s.InsertLogLine(ctx, id, i, fmt.Sprintf("line %d", i)); err != nil {
			t.Fatalf("InsertLogLine: %v", err)
		}
	}
	lines, err := s.GetLogLines(ctx, id)
	if err != nil {
		t.Fatalf("GetLogLines: %v", err)
	}
	if len(lines) != 3 {
		t.Fatalf("len(lines) = %d, want 3", len(lines))
	}
	for i, l := range lines {
		if l.Seq != i || l.Line != fmt.Sprintf("line %d", i) || l.JobID != id {
			t.Errorf("line[%d] = %+v", i, l)
		}
	}
}

func TestInstanceStorage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := model.InstanceID(1<<63 + 5)

	if _, _, err := s.LoadInstance(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("LoadInstance before save = %v, want ErrNotFound", err)
	}

	if err := s.SaveInstance(ctx, id, 1, []byte(`{"src":"a"}`)); err != nil {
		t.Fatalf("SaveInstance: %v", err)
	}
	if err := s.SaveInstance(ctx, id, 1, []byte(`{"src":"b"}`)); err != nil {
		t.Fatalf("SaveInstance overwrite: %v", err)
	}

	version, data, err := s.LoadInstance(ctx, id)
	if err != nil {
		t.Fatalf("LoadInstance: %v", err)
	}
	if version != 1 || string(data) != `{"src":"b"}` {
		t.Errorf("LoadInstance = %d, %q", version, data)
	}

	ids, err := s.ListInstances(ctx)
	if err != nil {
		t.Fatalf("ListInstances: %v", err)
	}
	if len(ids) != 1 || ids[0] != id {
		t.Errorf("ListInstances = %v, want [%d]", ids, id)
	}

	if err := s.DeleteInstance(ctx, id); err != nil {
		t.Fatalf("DeleteInstance: %v", err)
	}
	if err := s.DeleteInstance(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("second DeleteInstance = %v, want ErrNotFound", err)
	}
}
