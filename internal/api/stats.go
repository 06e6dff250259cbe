package api

import (
	"net/http"
)

// statsResponse is the JSON response for GET /v1/stats.
type statsResponse struct {
	Total          int            `json:"total"`
	ByStatus       map[string]int `json:"by_status"`
	FramesRendered int            `json:"frames_rendered"`
	AvgDurationMS  float64        `json:"avg_duration_ms"`
	ActiveJobs     int            `json:"active_jobs"`
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.host.Store().GetJobStats(r.Context())
	if err != nil {
		s.logger.Error("get job stats", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	s.writeJSON(w, http.StatusOK, statsResponse{
		Total:          stats.Total,
		ByStatus:       stats.CountByStatus,
		FramesRendered: stats.FramesRendered,
		AvgDurationMS:  stats.AvgDurationMS,
		ActiveJobs:     s.host.Engine().Registry().Len(),
	})
}
