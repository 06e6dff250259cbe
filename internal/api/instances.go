package api

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/AppMana/golobulus/internal/debugstore"
	"github.com/AppMana/golobulus/internal/engine"
	"github.com/AppMana/golobulus/internal/host"
	"github.com/AppMana/golobulus/internal/instance"
	"github.com/AppMana/golobulus/internal/model"
	"github.com/AppMana/golobulus/internal/store"
)

// errorEntry is one debug store entry keyed by the parameter it belongs to.
type errorEntry struct {
	Param model.ParamIdx `json:"param"`
	Name  string         `json:"name"`
	debugstore.Contents
}

// instanceResponse is the draw view of an instance.
type instanceResponse struct {
	ID           model.InstanceID  `json:"id,string"`
	ScriptLoaded bool              `json:"script_loaded"`
	ScriptPath   string            `json:"script_path,omitempty"`
	VenvPath     string            `json:"venv_path,omitempty"`
	ShowDebug    bool              `json:"show_debug"`
	ActiveJob    model.JobID       `json:"active_job,omitempty"`
	Rendering    bool              `json:"rendering"`
	Progress     *float32          `json:"progress,omitempty"`
	Params       []host.ParamEntry `json:"params"`
	Errors       []errorEntry      `json:"errors,omitempty"`
}

// commandResponse is returned by endpoints that dispatch a host command.
type commandResponse struct {
	Instance model.InstanceID `json:"instance,string"`
	Message  string           `json:"message,omitempty"`
	JobID    model.JobID      `json:"job_id,omitempty"`
}

type loadScriptRequest struct {
	Path string `json:"path"`
}

type startRenderRequest struct {
	Frames int `json:"frames"`
}

func errorEntries(m map[model.ParamIdx]debugstore.Contents) []errorEntry {
	out := make([]errorEntry, 0, len(m))
	for idx, c := range m {
		out = append(out, errorEntry{Param: idx, Name: idx.String(), Contents: c})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Param.HostIndex() < out[j].Param.HostIndex() })
	return out
}

func toInstanceResponse(v host.View) instanceResponse {
	resp := instanceResponse{
		ID:           v.Instance,
		ScriptLoaded: v.ScriptLoaded,
		ScriptPath:   v.ScriptPath,
		VenvPath:     v.VenvPath,
		ShowDebug:    v.ShowDebug,
		ActiveJob:    v.ActiveJob,
		Rendering:    v.Rendering,
		Progress:     v.Progress,
		Params:       v.Params,
	}
	if resp.Params == nil {
		resp.Params = []host.ParamEntry{}
	}
	if v.Errors != nil {
		resp.Errors = errorEntries(v.Errors)
	}
	return resp
}

// hostError maps host and store errors onto HTTP statuses.
func (s *Server) hostError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, host.ErrUnknownInstance), errors.Is(err, store.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, host.ErrNoScript), errors.Is(err, host.ErrRenderActive):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, engine.ErrInvalidFrames):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, instance.ErrDeserialization):
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, host.ErrStopped), errors.Is(err, context.Canceled):
		s.writeError(w, http.StatusServiceUnavailable, "host unavailable")
	default:
		s.logger.Error(op, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to "+op)
	}
}

// instanceID parses the {id} URL parameter, writing a 400 on failure.
func (s *Server) instanceID(w http.ResponseWriter, r *http.Request) (model.InstanceID, bool) {
	id, err := model.ParseInstanceID(chi.URLParam(r, "id"))
	if err != nil || id == 0 {
		s.writeError(w, http.StatusBadRequest, "invalid instance id")
		return 0, false
	}
	return id, true
}

func (s *Server) handleCreateInstance(w http.ResponseWriter, r *http.Request) {
	res, err := s.host.Dispatch(r.Context(), host.SequenceSetup{})
	if err != nil {
		s.hostError(w, err, "create instance")
		return
	}
	s.writeJSON(w, http.StatusCreated, commandResponse{Instance: res.Instance})
}

func (s *Server) handleListInstances(w http.ResponseWriter, r *http.Request) {
	var ids []model.InstanceID
	err := s.host.Do(r.Context(), func(m *host.MainThread) error {
		ids = m.Instances()
		return nil
	})
	if err != nil {
		s.hostError(w, err, "list instances")
		return
	}
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	s.writeJSON(w, http.StatusOK, map[string][]string{"instances": out})
}

func (s *Server) handleGetInstance(w http.ResponseWriter, r *http.Request) {
	id, ok := s.instanceID(w, r)
	if !ok {
		return
	}
	res, err := s.host.Dispatch(r.Context(), host.Event{Instance: id})
	if err != nil {
		s.hostError(w, err, "get instance")
		return
	}
	s.writeJSON(w, http.StatusOK, toInstanceResponse(*res.View))
}

func (s *Server) handleDeleteInstance(w http.ResponseWriter, r *http.Request) {
	id, ok := s.instanceID(w, r)
	if !ok {
		return
	}
	if _, err := s.host.Dispatch(r.Context(), host.SequenceSetdown{Instance: id}); err != nil {
		s.hostError(w, err, "delete instance")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetParams(w http.ResponseWriter, r *http.Request) {
	id, ok := s.instanceID(w, r)
	if !ok {
		return
	}
	res, err := s.host.Dispatch(r.Context(), host.UpdateParamsUI{Instance: id})
	if err != nil {
		s.hostError(w, err, "get params")
		return
	}
	s.writeJSON(w, http.StatusOK, res.Params)
}

// changeParam dispatches a parameter change and writes the command result.
// A non-empty message means the host rejected the interaction.
func (s *Server) changeParam(w http.ResponseWriter, r *http.Request, id model.InstanceID, idx model.ParamIdx, v host.ParamValue) {
	res, err := s.host.Dispatch(r.Context(), host.UserChangedParam{Instance: id, Index: idx, Value: v})
	if err != nil {
		s.hostError(w, err, "change param")
		return
	}
	status := http.StatusOK
	if res.Message != "" {
		status = http.StatusUnprocessableEntity
	}
	s.writeJSON(w, status, commandResponse{Instance: id, Message: res.Message, JobID: res.JobID})
}

func (s *Server) handleSetParam(w http.ResponseWriter, r *http.Request) {
	id, ok := s.instanceID(w, r)
	if !ok {
		return
	}
	raw, err := strconv.ParseInt(chi.URLParam(r, "index"), 10, 32)
	if err != nil || raw <= 0 {
		s.writeError(w, http.StatusBadRequest, "invalid parameter index")
		return
	}
	var v host.ParamValue
	if err := decodeBody(w, r, &v); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	s.changeParam(w, r, id, model.ParamFromHost(int32(raw)), v)
}

func (s *Server) handleLoadScript(w http.ResponseWriter, r *http.Request) {
	id, ok := s.instanceID(w, r)
	if !ok {
		return
	}
	var req loadScriptRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Path == "" {
		s.writeError(w, http.StatusBadRequest, "path is required")
		return
	}
	s.changeParam(w, r, id, model.Named(model.ParamLoadButton), host.ParamValue{Text: req.Path})
}

func (s *Server) handleStartRender(w http.ResponseWriter, r *http.Request) {
	id, ok := s.instanceID(w, r)
	if !ok {
		return
	}
	var req startRenderRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	job, err := s.host.StartJob(r.Context(), id, req.Frames)
	if err != nil {
		s.hostError(w, err, "start render")
		return
	}
	s.writeJSON(w, http.StatusAccepted, commandResponse{Instance: id, JobID: job})
}

func (s *Server) handleCancelRender(w http.ResponseWriter, r *http.Request) {
	id, ok := s.instanceID(w, r)
	if !ok {
		return
	}
	s.changeParam(w, r, id, model.Named(model.ParamCancelRender), host.ParamValue{})
}

func (s *Server) handleGetErrors(w http.ResponseWriter, r *http.Request) {
	id, ok := s.instanceID(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, errorEntries(s.host.QueryErrors(id)))
}

func (s *Server) handleSaveInstance(w http.ResponseWriter, r *http.Request) {
	id, ok := s.instanceID(w, r)
	if !ok {
		return
	}
	if err := s.host.Save(r.Context(), id); err != nil {
		s.hostError(w, err, "save instance")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRestoreInstance(w http.ResponseWriter, r *http.Request) {
	id, ok := s.instanceID(w, r)
	if !ok {
		return
	}
	res, err := s.host.Restore(r.Context(), id)
	if err != nil {
		s.hostError(w, err, "restore instance")
		return
	}
	s.writeJSON(w, http.StatusOK, commandResponse{Instance: res.Instance, Message: res.Message})
}

func (s *Server) handleListSaved(w http.ResponseWriter, r *http.Request) {
	ids, err := s.host.Store().ListInstances(r.Context())
	if err != nil {
		s.logger.Error("list saved instances", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list saved instances")
		return
	}
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	s.writeJSON(w, http.StatusOK, map[string][]string{"instances": out})
}
