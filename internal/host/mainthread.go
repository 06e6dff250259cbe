package host

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync/atomic"

	"github.com/AppMana/golobulus/internal/debugstore"
	"github.com/AppMana/golobulus/internal/engine"
	"github.com/AppMana/golobulus/internal/idle"
	"github.com/AppMana/golobulus/internal/instance"
	"github.com/AppMana/golobulus/internal/jobs"
	"github.com/AppMana/golobulus/internal/model"
	"github.com/AppMana/golobulus/internal/script"
)

// MainThread is the capability to touch main-thread state. A value is only
// valid while the host loop is running the callback it was passed to; using
// it afterwards panics with ErrNotMainThread.
type MainThread struct {
	h      *Host
	active atomic.Bool

	bridge    *idle.Bridge
	instances map[model.InstanceID]*slot
}

// slot is the main-thread state of one instance.
type slot struct {
	inst   *instance.Instance
	params *ParamTable
}

func newMainThread(h *Host) *MainThread {
	return &MainThread{
		h:         h,
		instances: make(map[model.InstanceID]*slot),
	}
}

func (m *MainThread) run(fn func(*MainThread) error) error {
	m.active.Store(true)
	defer m.active.Store(false)
	return fn(m)
}

func (m *MainThread) check() {
	if !m.active.Load() {
		panic(ErrNotMainThread)
	}
}

func (m *MainThread) lookup(id model.InstanceID) (*slot, error) {
	s, ok := m.instances[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownInstance, id)
	}
	return s, nil
}

// Handle executes one host command.
func (m *MainThread) Handle(cmd Command) (Result, error) {
	m.check()
	switch c := cmd.(type) {
	case About:
		return Result{Message: AboutMessage}, nil
	case GlobalSetup:
		return Result{}, m.globalSetup(c)
	case SequenceSetup:
		return m.sequenceSetup(), nil
	case SequenceResetup:
		return m.sequenceResetup(c)
	case SequenceSetdown:
		return Result{}, m.sequenceSetdown(c.Instance)
	case UserChangedParam:
		return m.userChangedParam(c)
	case UpdateParamsUI:
		params, err := m.ParamStates(c.Instance)
		return Result{Instance: c.Instance, Params: params}, err
	case Idle:
		m.Tick()
		return Result{}, nil
	case Event:
		v, err := m.View(c.Instance)
		if err != nil {
			return Result{}, err
		}
		return Result{Instance: c.Instance, View: &v}, nil
	default:
		return Result{}, fmt.Errorf("unsupported command %T", cmd)
	}
}

func (m *MainThread) globalSetup(c GlobalSetup) error {
	if err := Register(c.RegistrationID); err != nil {
		return err
	}
	if m.bridge == nil {
		m.bridge = idle.NewBridge(m.h.registry,
			idle.WithOnReaped(m.jobReaped),
			idle.WithLogger(m.h.logger),
		)
	}
	m.h.logger.Info("global setup", "registration_id", c.RegistrationID)
	return nil
}

func (m *MainThread) sequenceSetup() Result {
	inst := instance.New()
	for m.instances[inst.ID] != nil {
		inst.ID = model.NewInstanceID()
	}
	m.instances[inst.ID] = &slot{inst: inst, params: NewParamTable()}
	m.h.logger.Info("instance created", "instance_id", inst.ID)
	return Result{Instance: inst.ID}
}

// sequenceResetup restores a flattened instance. A recorded active job
// belonged to a previous session and is dropped. A script failing to load
// still yields the instance; the failure is returned as the message.
func (m *MainThread) sequenceResetup(c SequenceResetup) (Result, error) {
	inst, err := instance.Unflatten(c.Version, c.Data)
	if err != nil {
		return Result{}, err
	}
	if inst.ActiveJob != nil {
		m.h.logger.Debug("dropping stale job", "instance_id", inst.ID, "job_id", *inst.ActiveJob)
		inst.ActiveJob = nil
	}
	for inst.ID == 0 || m.instances[inst.ID] != nil {
		inst.ID = model.NewInstanceID()
	}
	s := &slot{inst: inst, params: NewParamTable()}
	m.instances[inst.ID] = s

	res := Result{Instance: inst.ID}
	if inst.HasScript() {
		path := ""
		if inst.LastKnownPath != nil {
			path = *inst.LastKnownPath
		}
		if err := m.load(s, *inst.Src, path); err != nil {
			res.Message = err.Error()
		}
	}
	m.h.logger.Info("instance restored", "instance_id", inst.ID, "script_loaded", inst.HasScript())
	return res, nil
}

// sequenceSetdown destroys an instance, cancels its render and evicts its
// debug entries.
func (m *MainThread) sequenceSetdown(id model.InstanceID) error {
	s, err := m.lookup(id)
	if err != nil {
		return err
	}
	if s.inst.ActiveJob != nil {
		if err := m.h.engine.Cancel(*s.inst.ActiveJob); err != nil {
			m.h.logger.Debug("setdown cancel", "instance_id", id, "error", err)
		}
	}
	m.h.errors.Clear(id)
	delete(m.instances, id)
	m.h.logger.Info("instance destroyed", "instance_id", id)
	return nil
}

func (m *MainThread) userChangedParam(c UserChangedParam) (Result, error) {
	s, err := m.lookup(c.Instance)
	if err != nil {
		return Result{}, err
	}
	res := Result{Instance: c.Instance}

	if c.Index.IsDynamic() {
		e, ok := s.params.Lookup(c.Index)
		if !ok {
			m.h.logger.Debug("unknown dynamic parameter", "instance_id", c.Instance, "param", c.Index)
			return res, nil
		}
		s.params.Set(c.Index, c.Value.Text)
		m.h.logger.Debug("parameter changed", "instance_id", c.Instance, "param", e.Name, "from", e.Value, "to", c.Value.Text)
		return res, nil
	}

	switch c.Index.Kind {
	case model.ParamLoadButton:
		if err := m.loadFile(s, c.Value.Text); err != nil {
			res.Message = err.Error()
		}
	case model.ParamReloadButton:
		if s.inst.LastKnownPath == nil {
			res.Message = "no script path to reload"
			break
		}
		if err := m.loadFile(s, *s.inst.LastKnownPath); err != nil {
			res.Message = err.Error()
		}
	case model.ParamUnloadButton:
		s.inst.ClearScript()
		s.params.Reset()
		m.h.errors.ClearParam(c.Instance, model.Named(model.ParamLoadButton))
	case model.ParamSetVenv, model.ParamUnsetVenv:
		path := c.Value.Text
		if c.Index.Kind == model.ParamUnsetVenv {
			path = ""
		}
		s.inst.SetVenv(path)
		if s.inst.HasScript() {
			if err := m.load(s, *s.inst.Src, ""); err != nil {
				res.Message = err.Error()
			}
		}
	case model.ParamShowDebug:
		s.inst.ShowDebug = c.Value.Bool
	case model.ParamStartRender:
		job, err := m.StartRender(c.Instance, c.Value.Int)
		if err != nil {
			res.Message = err.Error()
			break
		}
		res.JobID = job
	case model.ParamCancelRender:
		if err := m.CancelRender(c.Instance); err != nil {
			res.Message = err.Error()
		}
	}
	return res, nil
}

func (m *MainThread) loadFile(s *slot, path string) error {
	if path == "" {
		return fmt.Errorf("%w: empty script path", script.ErrScriptLoad)
	}
	src, err := m.h.readFile(path)
	if err != nil {
		err = fmt.Errorf("%w: %v", script.ErrScriptLoad, err)
		m.recordLoadError(s, err)
		return err
	}
	return m.load(s, string(src), path)
}

// load validates src with a fresh engine and, on success, makes it the
// instance script and rebuilds its dynamic parameters. On failure the
// previous script is kept.
func (m *MainThread) load(s *slot, src, path string) error {
	setup := m.setup(s.inst)
	setup.Src = src
	if path != "" {
		setup.Path = path
		setup.ParentDir = filepath.Dir(path)
	}

	eng := m.h.factory()
	if err := script.Prepare(eng, setup); err != nil {
		if !errors.Is(err, script.ErrScriptLoad) {
			err = fmt.Errorf("%w: %v", script.ErrScriptLoad, err)
		}
		m.recordLoadError(s, err)
		return err
	}

	s.inst.SetScript(src, path)
	previous := s.params.Values()
	s.params.Reset()
	if pl, ok := eng.(script.ParamLister); ok {
		for _, spec := range pl.Params() {
			idx := s.params.Declare(spec)
			if v, ok := previous[spec.Name]; ok {
				s.params.Set(idx, v)
			}
		}
	}
	m.h.errors.ClearParam(s.inst.ID, model.Named(model.ParamLoadButton))
	m.h.logger.Info("script loaded", "instance_id", s.inst.ID, "path", setup.Path, "params", s.params.Len())
	if m.h.onLoaded != nil && setup.Path != "" {
		m.h.onLoaded(s.inst.ID, setup.Path)
	}
	return nil
}

// ReloadPath re-reads path into every instance that has it loaded. Instances
// whose script was unloaded are left alone.
func (m *MainThread) ReloadPath(path string) []model.InstanceID {
	m.check()
	var out []model.InstanceID
	for _, id := range m.Instances() {
		s := m.instances[id]
		if !s.inst.HasScript() || s.inst.LastKnownPath == nil || !samePath(*s.inst.LastKnownPath, path) {
			continue
		}
		if err := m.loadFile(s, *s.inst.LastKnownPath); err != nil {
			continue
		}
		out = append(out, id)
	}
	return out
}

func samePath(a, b string) bool {
	if a == b {
		return true
	}
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	return errA == nil && errB == nil && absA == absB
}

func (m *MainThread) recordLoadError(s *slot, err error) {
	m.h.errors.Record(s.inst.ID, model.Named(model.ParamLoadButton), debugstore.Contents{
		Kind:    debugstore.KindLoad,
		Message: err.Error(),
	})
	m.h.logger.Warn("script load failed", "instance_id", s.inst.ID, "error", err)
}

func (m *MainThread) setup(inst *instance.Instance) script.Setup {
	var s script.Setup
	if inst.Src != nil {
		s.Src = *inst.Src
	}
	if inst.LastKnownPath != nil {
		s.Path = *inst.LastKnownPath
	}
	if dir, ok := inst.ScriptDir(); ok {
		s.ParentDir = dir
	}
	if inst.VenvPath != nil {
		s.VenvPath = *inst.VenvPath
	}
	return s
}

// jobReaped runs on the main thread when the bridge sees a job leave the
// registry.
func (m *MainThread) jobReaped(job model.JobID, id model.InstanceID) {
	s, ok := m.instances[id]
	if !ok {
		return
	}
	if s.inst.ActiveJob != nil && *s.inst.ActiveJob == job {
		s.inst.ActiveJob = nil
	}
}

// Tick runs one idle bridge step. It does nothing before global setup.
func (m *MainThread) Tick() idle.TickResult {
	m.check()
	if m.bridge == nil {
		return idle.TickResult{}
	}
	return m.bridge.Tick()
}

// RenderProgress returns the cached progress of a job in percent. It reports
// false until an idle tick has observed the job, and again after the job
// has been reaped.
func (m *MainThread) RenderProgress(job model.JobID) (float32, bool) {
	m.check()
	if m.bridge == nil {
		return 0, false
	}
	return m.bridge.Progress(job)
}

// Renders returns the cached progress of every job the idle tick is
// tracking, sorted by job id.
func (m *MainThread) Renders() []idle.Bundle {
	m.check()
	if m.bridge == nil {
		return nil
	}
	return m.bridge.Bundles()
}

// StartRender starts a background render of the instance's script.
func (m *MainThread) StartRender(id model.InstanceID, frames int) (model.JobID, error) {
	m.check()
	s, err := m.lookup(id)
	if err != nil {
		return "", err
	}
	if !s.inst.HasScript() {
		return "", ErrNoScript
	}
	if s.inst.ActiveJob != nil && m.h.engine.IsActive(*s.inst.ActiveJob) {
		return "", fmt.Errorf("%w: %s", ErrRenderActive, *s.inst.ActiveJob)
	}

	setup := m.setup(s.inst)
	setup.Params = s.params.Values()
	job, err := m.h.engine.Start(context.Background(), engine.StartRequest{
		InstanceID:  id,
		TotalFrames: frames,
		Factory:     m.h.factory,
		Setup:       setup,
	})
	if err != nil {
		return "", err
	}
	m.h.errors.ClearParam(id, model.Named(model.ParamStartRender))
	s.inst.ActiveJob = &job
	if m.bridge != nil {
		m.bridge.Track(job, id)
	}
	return job, nil
}

// CancelRender cancels the instance's active render, if any.
func (m *MainThread) CancelRender(id model.InstanceID) error {
	m.check()
	s, err := m.lookup(id)
	if err != nil {
		return err
	}
	if s.inst.ActiveJob == nil {
		return nil
	}
	err = m.h.engine.Cancel(*s.inst.ActiveJob)
	if errors.Is(err, jobs.ErrNotFound) {
		return nil
	}
	return err
}

// Instance returns a copy of an instance's durable state.
func (m *MainThread) Instance(id model.InstanceID) (*instance.Instance, error) {
	m.check()
	s, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	return s.inst.Clone(), nil
}

// Instances returns the ids of every live instance in ascending order.
func (m *MainThread) Instances() []model.InstanceID {
	m.check()
	out := make([]model.InstanceID, 0, len(m.instances))
	for id := range m.instances {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Params returns the instance's dynamic parameters.
func (m *MainThread) Params(id model.InstanceID) ([]ParamEntry, error) {
	m.check()
	s, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	return s.params.Entries(), nil
}

// interactive lists the fixed parameters whose enabled state depends on the
// instance.
var interactive = []model.ParamKind{
	model.ParamLoadButton,
	model.ParamUnloadButton,
	model.ParamSetVenv,
	model.ParamUnsetVenv,
	model.ParamReloadButton,
	model.ParamShowDebug,
	model.ParamStartRender,
	model.ParamCancelRender,
}

// ParamStates returns the UI state of the interactive parameters followed by
// the dynamic ones.
func (m *MainThread) ParamStates(id model.InstanceID) ([]ParamState, error) {
	m.check()
	s, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	loaded := s.inst.HasScript()
	rendering := s.inst.ActiveJob != nil && m.h.engine.IsActive(*s.inst.ActiveJob)

	out := make([]ParamState, 0, len(interactive)+s.params.Len())
	for _, k := range interactive {
		idx := model.Named(k)
		st := ParamState{Index: idx, Name: idx.String()}
		switch k {
		case model.ParamLoadButton, model.ParamSetVenv:
			st.Enabled = !rendering
		case model.ParamUnloadButton:
			st.Enabled = loaded && !rendering
		case model.ParamReloadButton:
			st.Enabled = s.inst.LastKnownPath != nil && !rendering
		case model.ParamUnsetVenv:
			st.Enabled = s.inst.VenvPath != nil && !rendering
		case model.ParamShowDebug:
			st.Enabled = true
			if s.inst.ShowDebug {
				st.Value = "true"
			}
		case model.ParamStartRender:
			st.Enabled = loaded && !rendering
		case model.ParamCancelRender:
			st.Enabled = rendering
		}
		out = append(out, st)
	}
	for _, e := range s.params.Entries() {
		out = append(out, ParamState{Index: e.Index, Name: e.Name, Enabled: !rendering, Value: e.Value})
	}
	for i := range out {
		if c, ok := m.h.errors.Get(id, out[i].Index); ok {
			out[i].Error = c.Message
		}
	}
	return out, nil
}

// View assembles what the draw path shows for an instance.
func (m *MainThread) View(id model.InstanceID) (View, error) {
	m.check()
	s, err := m.lookup(id)
	if err != nil {
		return View{}, err
	}
	v := View{
		Instance:     id,
		ScriptLoaded: s.inst.HasScript(),
		ShowDebug:    s.inst.ShowDebug,
		Params:       s.params.Entries(),
	}
	if s.inst.LastKnownPath != nil {
		v.ScriptPath = *s.inst.LastKnownPath
	}
	if s.inst.VenvPath != nil {
		v.VenvPath = *s.inst.VenvPath
	}
	if s.inst.ActiveJob != nil {
		v.ActiveJob = *s.inst.ActiveJob
		v.Rendering = m.h.engine.IsActive(v.ActiveJob)
		if p, ok := m.RenderProgress(v.ActiveJob); ok {
			v.Progress = &p
		}
	}
	if s.inst.ShowDebug {
		v.Errors = m.h.errors.Query(id)
	}
	return v, nil
}
