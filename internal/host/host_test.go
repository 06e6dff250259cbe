package host_test

import (
	"context"
	"errors"
	"io/fs"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/AppMana/golobulus/internal/debugstore"
	"github.com/AppMana/golobulus/internal/host"
	"github.com/AppMana/golobulus/internal/instance"
	"github.com/AppMana/golobulus/internal/model"
	"github.com/AppMana/golobulus/internal/script"
	"github.com/AppMana/golobulus/internal/store"
)

const scriptPath = "/scripts/blur.py"

// scriptFiles is an in-memory file system for LoadButton.
type scriptFiles map[string]string

func (f scriptFiles) read(name string) ([]byte, error) {
	src, ok := f[name]
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	return []byte(src), nil
}

// gatedRender renders frames only when released through the gate, so tests
// control exactly how far a job has progressed.
type gatedRender struct {
	gate chan struct{}

	mu     sync.Mutex
	params map[string]string
	failAt int
}

func newGatedRender() *gatedRender {
	return &gatedRender{gate: make(chan struct{}), failAt: -1}
}

func (g *gatedRender) render(ctx context.Context, fr script.Frame) error {
	g.mu.Lock()
	g.params = fr.Params
	failAt := g.failAt
	g.mu.Unlock()

	if fr.Index == failAt {
		return errors.New("boom")
	}
	select {
	case <-g.gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *gatedRender) release(n int) {
	for range n {
		g.gate <- struct{}{}
	}
}

func (g *gatedRender) lastParams() map[string]string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.params
}

type testHost struct {
	*host.Host
	files  scriptFiles
	render *gatedRender
	store  *store.MemoryStore
}

func startHost(t *testing.T, opts ...script.FuncOption) *testHost {
	t.Helper()
	th := &testHost{
		files:  scriptFiles{scriptPath: "blur()"},
		render: newGatedRender(),
		store:  store.NewMemoryStore(),
	}
	opts = append([]script.FuncOption{script.WithLoadCheck(func(src string) error {
		if src == "syntax error" {
			return errors.New("invalid syntax")
		}
		return nil
	})}, opts...)
	th.Host = host.New(host.Options{
		Factory:      script.NewFuncFactory(th.render.render, opts...),
		Store:        th.store,
		IdleInterval: time.Hour,
		ReadFile:     th.files.read,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- th.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})

	_, err := th.Dispatch(context.Background(), host.GlobalSetup{RegistrationID: testRegistrationID})
	require.NoError(t, err)
	return th
}

func (th *testHost) dispatch(t *testing.T, cmd host.Command) host.Result {
	t.Helper()
	res, err := th.Dispatch(context.Background(), cmd)
	require.NoError(t, err)
	return res
}

func (th *testHost) param(t *testing.T, id model.InstanceID, k model.ParamKind, v host.ParamValue) host.Result {
	t.Helper()
	return th.dispatch(t, host.UserChangedParam{Instance: id, Index: model.Named(k), Value: v})
}

// newLoadedInstance creates an instance with the default script loaded.
func (th *testHost) newLoadedInstance(t *testing.T) model.InstanceID {
	t.Helper()
	id := th.dispatch(t, host.SequenceSetup{}).Instance
	require.NotZero(t, id)
	res := th.param(t, id, model.ParamLoadButton, host.ParamValue{Text: scriptPath})
	require.Empty(t, res.Message)
	return id
}

func (th *testHost) progress(t *testing.T, job model.JobID) (float32, bool) {
	t.Helper()
	var (
		p  float32
		ok bool
	)
	require.NoError(t, th.Do(context.Background(), func(m *host.MainThread) error {
		p, ok = m.RenderProgress(job)
		return nil
	}))
	return p, ok
}

func (th *testHost) view(t *testing.T, id model.InstanceID) host.View {
	t.Helper()
	res := th.dispatch(t, host.Event{Instance: id})
	require.NotNil(t, res.View)
	return *res.View
}

func (th *testHost) currentFrame(job model.JobID) int {
	task, ok := th.Engine().Registry().Get(job)
	if !ok {
		return -1
	}
	return task.CurrentFrame()
}

func waitInactive(t *testing.T, th *testHost, job model.JobID) {
	t.Helper()
	require.Eventually(t, func() bool { return !th.BgRenderIsActive(job) },
		5*time.Second, 5*time.Millisecond, "job %s still active", job)
}

func TestAbout(t *testing.T) {
	th := startHost(t)
	res := th.dispatch(t, host.About{})
	require.Equal(t, "Golobulus: The adder plods where it ought not.", res.Message)
}

func TestRenderProgressThroughIdle(t *testing.T) {
	th := startHost(t)
	id := th.newLoadedInstance(t)

	res := th.param(t, id, model.ParamStartRender, host.ParamValue{Int: 4})
	require.Empty(t, res.Message)
	job := res.JobID
	require.NotEmpty(t, job)
	require.True(t, th.BgRenderIsActive(job))

	_, ok := th.progress(t, job)
	require.False(t, ok, "no progress before the first idle tick")

	th.render.release(1)
	require.Eventually(t, func() bool { return th.currentFrame(job) == 1 }, 5*time.Second, time.Millisecond)

	th.dispatch(t, host.Idle{})
	p, ok := th.progress(t, job)
	require.True(t, ok)
	require.InDelta(t, 25.0, p, 0.001)

	v := th.view(t, id)
	require.Equal(t, job, v.ActiveJob)
	require.True(t, v.Rendering)
	require.NotNil(t, v.Progress)

	th.render.release(3)
	waitInactive(t, th, job)

	p, ok = th.progress(t, job)
	require.True(t, ok, "cache holds until the next tick")
	require.InDelta(t, 25.0, p, 0.001)

	th.dispatch(t, host.Idle{})
	_, ok = th.progress(t, job)
	require.False(t, ok)

	v = th.view(t, id)
	require.Empty(t, v.ActiveJob, "reaped job is cleared from the instance")
	require.False(t, v.Rendering)

	rec, err := th.store.GetJob(context.Background(), job)
	require.NoError(t, err)
	require.Equal(t, model.StatusCompleted, rec.Status)
	require.Equal(t, 4, rec.CurrentFrame)
}

func TestStartJobRequiresScript(t *testing.T) {
	th := startHost(t)
	id := th.dispatch(t, host.SequenceSetup{}).Instance

	_, err := th.StartJob(context.Background(), id, 10)
	require.ErrorIs(t, err, host.ErrNoScript)

	res := th.param(t, id, model.ParamStartRender, host.ParamValue{Int: 10})
	require.NotEmpty(t, res.Message)
	require.Empty(t, res.JobID)
}

func TestStartJobRejectsSecondRender(t *testing.T) {
	th := startHost(t)
	id := th.newLoadedInstance(t)

	job, err := th.StartJob(context.Background(), id, 2)
	require.NoError(t, err)

	_, err = th.StartJob(context.Background(), id, 2)
	require.ErrorIs(t, err, host.ErrRenderActive)

	th.render.release(2)
	waitInactive(t, th, job)
}

func TestStartJobInvalidFrames(t *testing.T) {
	th := startHost(t)
	id := th.newLoadedInstance(t)

	res := th.param(t, id, model.ParamStartRender, host.ParamValue{Int: 0})
	require.NotEmpty(t, res.Message)
	require.Empty(t, th.view(t, id).ActiveJob)
}

func TestCancelRenderParam(t *testing.T) {
	th := startHost(t)
	id := th.newLoadedInstance(t)

	job, err := th.StartJob(context.Background(), id, 100)
	require.NoError(t, err)

	res := th.param(t, id, model.ParamCancelRender, host.ParamValue{})
	require.Empty(t, res.Message)
	waitInactive(t, th, job)

	rec, err := th.store.GetJob(context.Background(), job)
	require.NoError(t, err)
	require.Equal(t, model.StatusCancelled, rec.Status)
	require.Empty(t, th.QueryErrors(id), "cancellation is not an error")

	res = th.param(t, id, model.ParamCancelRender, host.ParamValue{})
	require.Empty(t, res.Message, "cancelling a finished job is a no-op")
}

func TestCancelJobFromOtherGoroutine(t *testing.T) {
	th := startHost(t)
	id := th.newLoadedInstance(t)
	job, err := th.StartJob(context.Background(), id, 100)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 4 {
		wg.Go(func() {
			_ = th.BgRenderIsActive(job)
			_ = th.CancelJob(job)
		})
	}
	wg.Wait()
	waitInactive(t, th, job)
}

func TestLoadFailureSurfacesMessage(t *testing.T) {
	th := startHost(t)
	id := th.newLoadedInstance(t)

	th.files["/scripts/bad.py"] = "syntax error"
	res := th.param(t, id, model.ParamLoadButton, host.ParamValue{Text: "/scripts/bad.py"})
	require.Contains(t, res.Message, "invalid syntax")

	errs := th.QueryErrors(id)
	entry, ok := errs[model.Named(model.ParamLoadButton)]
	require.True(t, ok)
	require.Equal(t, debugstore.KindLoad, entry.Kind)

	v := th.view(t, id)
	require.True(t, v.ScriptLoaded, "previous script is kept")
	require.Equal(t, scriptPath, v.ScriptPath)

	res = th.param(t, id, model.ParamLoadButton, host.ParamValue{Text: "/scripts/missing.py"})
	require.NotEmpty(t, res.Message)

	res = th.param(t, id, model.ParamLoadButton, host.ParamValue{Text: scriptPath})
	require.Empty(t, res.Message)
	require.NotContains(t, th.QueryErrors(id), model.Named(model.ParamLoadButton), "a good load clears the entry")
}

func TestRenderFailureRecordedUnderStartRender(t *testing.T) {
	th := startHost(t)
	id := th.newLoadedInstance(t)
	th.render.mu.Lock()
	th.render.failAt = 0
	th.render.mu.Unlock()

	job, err := th.StartJob(context.Background(), id, 3)
	require.NoError(t, err)
	waitInactive(t, th, job)

	entry, ok := th.QueryErrors(id)[model.Named(model.ParamStartRender)]
	require.True(t, ok)
	require.Equal(t, debugstore.KindExecution, entry.Kind)
	require.Equal(t, job, entry.JobID)
	require.Contains(t, entry.Message, "boom")

	require.Nil(t, th.view(t, id).Errors, "errors are hidden unless show debug is on")
	th.param(t, id, model.ParamShowDebug, host.ParamValue{Bool: true})
	v := th.view(t, id)
	require.Contains(t, v.Errors, model.Named(model.ParamStartRender))
}

func TestRecordErrorOverwrites(t *testing.T) {
	th := startHost(t)
	id := th.dispatch(t, host.SequenceSetup{}).Instance
	key := model.Named(model.ParamReloadButton)

	th.RecordError(id, key, debugstore.Contents{Kind: debugstore.KindLoad, Message: "first"})
	th.RecordError(id, key, debugstore.Contents{Kind: debugstore.KindLoad, Message: "second"})

	errs := th.QueryErrors(id)
	require.Len(t, errs, 1)
	require.Equal(t, "second", errs[key].Message)
}

func TestSetdownCancelsAndEvicts(t *testing.T) {
	th := startHost(t)
	id := th.newLoadedInstance(t)
	th.RecordError(id, model.Named(model.ParamLoadButton), debugstore.Contents{Message: "old"})

	job, err := th.StartJob(context.Background(), id, 50)
	require.NoError(t, err)

	th.dispatch(t, host.SequenceSetdown{Instance: id})
	waitInactive(t, th, job)
	require.Empty(t, th.QueryErrors(id))

	_, err = th.Dispatch(context.Background(), host.Event{Instance: id})
	require.ErrorIs(t, err, host.ErrUnknownInstance)

	// The reap of a job whose instance is gone is harmless.
	th.dispatch(t, host.Idle{})
}

func TestVenvChangesReload(t *testing.T) {
	th := startHost(t)
	id := th.newLoadedInstance(t)

	th.param(t, id, model.ParamSetVenv, host.ParamValue{Text: "/venvs/blur"})
	v := th.view(t, id)
	require.Equal(t, "/venvs/blur", v.VenvPath)
	require.True(t, v.ScriptLoaded)

	th.param(t, id, model.ParamUnsetVenv, host.ParamValue{})
	require.Empty(t, th.view(t, id).VenvPath)
}

func TestUnloadAndReload(t *testing.T) {
	th := startHost(t)
	id := th.newLoadedInstance(t)

	th.param(t, id, model.ParamUnloadButton, host.ParamValue{})
	v := th.view(t, id)
	require.False(t, v.ScriptLoaded)
	require.Equal(t, scriptPath, v.ScriptPath, "path is kept for reload")

	th.files[scriptPath] = "blur(2)"
	res := th.param(t, id, model.ParamReloadButton, host.ParamValue{})
	require.Empty(t, res.Message)

	var src string
	require.NoError(t, th.Do(context.Background(), func(m *host.MainThread) error {
		inst, err := m.Instance(id)
		if err != nil {
			return err
		}
		src = *inst.Src
		return nil
	}))
	require.Equal(t, "blur(2)", src)
}

func TestReloadWithoutPath(t *testing.T) {
	th := startHost(t)
	id := th.dispatch(t, host.SequenceSetup{}).Instance
	res := th.param(t, id, model.ParamReloadButton, host.ParamValue{})
	require.NotEmpty(t, res.Message)
}

func TestDynamicParamsReachScript(t *testing.T) {
	th := startHost(t, script.WithParams(script.ParamSpec{Name: "radius", Default: "4"}))
	id := th.newLoadedInstance(t)

	v := th.view(t, id)
	require.Len(t, v.Params, 1)
	idx := v.Params[0].Index
	require.True(t, idx.IsDynamic())

	th.dispatch(t, host.UserChangedParam{Instance: id, Index: idx, Value: host.ParamValue{Text: "9"}})
	th.dispatch(t, host.UserChangedParam{Instance: id, Index: model.Dynamic(999), Value: host.ParamValue{Text: "ignored"}})

	res := th.param(t, id, model.ParamReloadButton, host.ParamValue{})
	require.Empty(t, res.Message)
	require.Equal(t, "9", th.view(t, id).Params[0].Value, "values survive a reload")

	job, err := th.StartJob(context.Background(), id, 1)
	require.NoError(t, err)
	th.render.release(1)
	waitInactive(t, th, job)
	require.Equal(t, map[string]string{"radius": "9"}, th.render.lastParams())
}

func TestUpdateParamsUI(t *testing.T) {
	th := startHost(t)
	id := th.dispatch(t, host.SequenceSetup{}).Instance

	enabled := func(res host.Result) map[model.ParamKind]bool {
		out := make(map[model.ParamKind]bool)
		for _, p := range res.Params {
			out[p.Index.Kind] = p.Enabled
		}
		return out
	}

	ui := enabled(th.dispatch(t, host.UpdateParamsUI{Instance: id}))
	require.True(t, ui[model.ParamLoadButton])
	require.False(t, ui[model.ParamStartRender])
	require.False(t, ui[model.ParamCancelRender])
	require.False(t, ui[model.ParamUnsetVenv])

	th.param(t, id, model.ParamLoadButton, host.ParamValue{Text: scriptPath})
	job, err := th.StartJob(context.Background(), id, 10)
	require.NoError(t, err)

	ui = enabled(th.dispatch(t, host.UpdateParamsUI{Instance: id}))
	require.False(t, ui[model.ParamStartRender])
	require.True(t, ui[model.ParamCancelRender])
	require.False(t, ui[model.ParamLoadButton])

	require.NoError(t, th.CancelJob(job))
	waitInactive(t, th, job)
	ui = enabled(th.dispatch(t, host.UpdateParamsUI{Instance: id}))
	require.True(t, ui[model.ParamStartRender])
}

func TestUpdateParamsUIShowsErrors(t *testing.T) {
	th := startHost(t)
	th.files["/scripts/bad.py"] = "syntax error"
	id := th.dispatch(t, host.SequenceSetup{}).Instance

	res := th.param(t, id, model.ParamLoadButton, host.ParamValue{Text: "/scripts/bad.py"})
	require.Contains(t, res.Message, "invalid syntax")

	errs := make(map[model.ParamKind]string)
	for _, p := range th.dispatch(t, host.UpdateParamsUI{Instance: id}).Params {
		errs[p.Index.Kind] = p.Error
	}
	require.Contains(t, errs[model.ParamLoadButton], "invalid syntax")
	require.Empty(t, errs[model.ParamStartRender])

	th.param(t, id, model.ParamLoadButton, host.ParamValue{Text: scriptPath})
	for _, p := range th.dispatch(t, host.UpdateParamsUI{Instance: id}).Params {
		require.Empty(t, p.Error, "a successful load clears %s", p.Name)
	}
}

func TestSaveAndRestore(t *testing.T) {
	th := startHost(t)
	ctx := context.Background()
	id := th.newLoadedInstance(t)
	th.param(t, id, model.ParamSetVenv, host.ParamValue{Text: "/venvs/a"})
	th.param(t, id, model.ParamShowDebug, host.ParamValue{Bool: true})

	job, err := th.StartJob(ctx, id, 10)
	require.NoError(t, err)
	require.NoError(t, th.Save(ctx, id))
	require.NoError(t, th.CancelJob(job))
	waitInactive(t, th, job)

	th.dispatch(t, host.SequenceSetdown{Instance: id})

	res, err := th.Restore(ctx, id)
	require.NoError(t, err)
	require.Empty(t, res.Message)
	require.Equal(t, id, res.Instance, "a free id is kept")

	v := th.view(t, id)
	require.True(t, v.ScriptLoaded)
	require.Equal(t, "/venvs/a", v.VenvPath)
	require.Empty(t, v.ActiveJob, "the saved job is stale after restore")
	require.True(t, v.ShowDebug, "show debug survives the round trip")

	res, err = th.Restore(ctx, id)
	require.NoError(t, err)
	require.NotEqual(t, id, res.Instance, "restoring next to the original mints a new id")
}

func TestRestoreScriptLoadFailure(t *testing.T) {
	th := startHost(t)
	src := "syntax error"
	inst := &instance.Instance{ID: model.NewInstanceID(), Src: &src}
	version, data, err := instance.Flatten(inst)
	require.NoError(t, err)

	res := th.dispatch(t, host.SequenceResetup{Version: version, Data: data})
	require.Contains(t, res.Message, "invalid syntax")
	require.Equal(t, inst.ID, res.Instance)
}

func TestResetupUnknownVersion(t *testing.T) {
	th := startHost(t)
	_, err := th.Dispatch(context.Background(), host.SequenceResetup{Version: 2, Data: []byte("{}")})
	require.ErrorIs(t, err, instance.ErrDeserialization)
}

func TestSaveUnknownInstance(t *testing.T) {
	th := startHost(t)
	err := th.Save(context.Background(), 12345)
	require.ErrorIs(t, err, host.ErrUnknownInstance)

	_, err = th.Restore(context.Background(), 12345)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestMainThreadUnusableOutsideLoop(t *testing.T) {
	th := startHost(t)
	var leaked *host.MainThread
	require.NoError(t, th.Do(context.Background(), func(m *host.MainThread) error {
		leaked = m
		return nil
	}))

	require.PanicsWithValue(t, host.ErrNotMainThread, func() {
		leaked.RenderProgress("job")
	})
}

func TestRunLifecycle(t *testing.T) {
	h := host.New(host.Options{Factory: script.NewFuncFactory(nil)})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, err := h.Dispatch(context.Background(), host.About{})
		return err == nil
	}, time.Second, time.Millisecond)
	require.ErrorIs(t, h.Run(ctx), host.ErrAlreadyRunning)

	cancel()
	require.NoError(t, <-done)

	err := h.Do(context.Background(), func(*host.MainThread) error { return nil })
	require.ErrorIs(t, err, host.ErrStopped)
}

func TestIdleBeforeGlobalSetupIsNoop(t *testing.T) {
	h := host.New(host.Options{Factory: script.NewFuncFactory(nil)})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	_, err := h.Dispatch(context.Background(), host.Idle{})
	require.NoError(t, err)
}

func TestReloadScriptByPath(t *testing.T) {
	th := startHost(t)
	a := th.newLoadedInstance(t)
	b := th.newLoadedInstance(t)
	c := th.newLoadedInstance(t)
	th.param(t, c, model.ParamUnloadButton, host.ParamValue{})

	th.files[scriptPath] = "blur(3)"
	ids, err := th.ReloadScript(context.Background(), scriptPath)
	require.NoError(t, err)
	require.ElementsMatch(t, []model.InstanceID{a, b}, ids)
	require.False(t, th.view(t, c).ScriptLoaded, "unloaded instances stay unloaded")

	ids, err = th.ReloadScript(context.Background(), "/scripts/other.py")
	require.NoError(t, err)
	require.Empty(t, ids)
}

func TestOnScriptLoadedHook(t *testing.T) {
	var loaded []string
	files := scriptFiles{scriptPath: "blur()"}
	h := host.New(host.Options{
		Factory:  script.NewFuncFactory(nil),
		ReadFile: files.read,
		OnScriptLoaded: func(_ model.InstanceID, path string) {
			loaded = append(loaded, path)
		},
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	bg := context.Background()
	res, err := h.Dispatch(bg, host.SequenceSetup{})
	require.NoError(t, err)
	_, err = h.Dispatch(bg, host.UserChangedParam{
		Instance: res.Instance,
		Index:    model.Named(model.ParamLoadButton),
		Value:    host.ParamValue{Text: scriptPath},
	})
	require.NoError(t, err)

	// Read on the test goroutine after a round trip through the loop.
	require.NoError(t, h.Do(bg, func(*host.MainThread) error { return nil }))
	require.Equal(t, []string{scriptPath}, loaded)
}
