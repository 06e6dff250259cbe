package api

import (
	"net/http"

	"github.com/AppMana/golobulus/internal/host"
)

type healthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

type aboutResponse struct {
	Message        string `json:"message"`
	RegistrationID *int32 `json:"registration_id,omitempty"`
}

func (s *Server) handleAbout(w http.ResponseWriter, r *http.Request) {
	res, err := s.host.Dispatch(r.Context(), host.About{})
	if err != nil {
		s.hostError(w, err, "about")
		return
	}
	resp := aboutResponse{Message: res.Message}
	if id, ok := host.RegistrationID(); ok {
		resp.RegistrationID = &id
	}
	s.writeJSON(w, http.StatusOK, resp)
}
