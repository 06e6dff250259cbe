package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/AppMana/golobulus/internal/host"
	"github.com/AppMana/golobulus/internal/jobs"
	"github.com/AppMana/golobulus/internal/model"
	"github.com/AppMana/golobulus/internal/store"
)

// jobResponse is a stored job plus its live state.
type jobResponse struct {
	*model.Job
	InstanceID model.InstanceID `json:"instance_id,string"`
	Active     bool             `json:"active"`
}

// listJobsResponse wraps the paginated list response.
type listJobsResponse struct {
	Jobs   []jobResponse `json:"jobs"`
	Total  int           `json:"total"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

func (s *Server) toJobResponse(j *model.Job) jobResponse {
	return jobResponse{Job: j, InstanceID: j.InstanceID, Active: s.host.BgRenderIsActive(j.ID)}
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := model.JobID(chi.URLParam(r, "id"))

	j, err := s.host.Store().GetJob(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.logger.Error("get job", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get job")
		return
	}

	s.writeJSON(w, http.StatusOK, s.toJobResponse(j))
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultListLimit)
	offset := parseIntQuery(r, "offset", 0)

	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	list, total, err := s.host.Store().ListJobs(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list jobs", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}

	out := make([]jobResponse, len(list))
	for i, j := range list {
		out[i] = s.toJobResponse(j)
	}

	s.writeJSON(w, http.StatusOK, listJobsResponse{
		Jobs:   out,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

// handleCancelJob requests cancellation. The job stops before its next frame,
// so the response only acknowledges the request.
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := model.JobID(chi.URLParam(r, "id"))

	if err := s.host.CancelJob(id); err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "job not active")
			return
		}
		s.logger.Error("cancel job", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to cancel job")
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// progressEntry is one job as last seen by the idle tick.
type progressEntry struct {
	JobID        model.JobID      `json:"job_id"`
	InstanceID   model.InstanceID `json:"instance_id,string"`
	CurrentFrame int              `json:"current_frame"`
	TotalFrames  int              `json:"total_frames"`
	Percent      float32          `json:"percent"`
	ObservedAt   time.Time        `json:"observed_at"`
}

func (s *Server) handleListProgress(w http.ResponseWriter, r *http.Request) {
	out := []progressEntry{}
	err := s.host.Do(r.Context(), func(m *host.MainThread) error {
		for _, b := range m.Renders() {
			out = append(out, progressEntry{
				JobID:        b.JobID,
				InstanceID:   b.InstanceID,
				CurrentFrame: b.CurrentFrame,
				TotalFrames:  b.TotalFrames,
				Percent:      b.Percent(),
				ObservedAt:   b.ObservedAt,
			})
		}
		return nil
	})
	if err != nil {
		s.hostError(w, err, "list progress")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string][]progressEntry{"jobs": out})
}
