package host_test

import (
	"context"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/AppMana/golobulus/internal/host"
	"github.com/AppMana/golobulus/internal/model"
	"github.com/AppMana/golobulus/internal/script"
)

// TestIdleTickerDrivesProgress checks that progress only moves when the
// host loop's idle ticker fires, and that a finished job disappears on the
// tick after it was reaped.
func TestIdleTickerDrivesProgress(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		const interval = time.Second
		gate := make(chan struct{})
		render := func(ctx context.Context, fr script.Frame) error {
			if fr.Index == 0 {
				return nil
			}
			select {
			case <-gate:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		files := scriptFiles{scriptPath: "blur()"}
		h := host.New(host.Options{
			Factory:      script.NewFuncFactory(render),
			IdleInterval: interval,
			ReadFile:     files.read,
		})

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- h.Run(ctx) }()

		bg := context.Background()
		_, err := h.Dispatch(bg, host.GlobalSetup{RegistrationID: testRegistrationID})
		require.NoError(t, err)
		res, err := h.Dispatch(bg, host.SequenceSetup{})
		require.NoError(t, err)
		id := res.Instance
		res, err = h.Dispatch(bg, host.UserChangedParam{
			Instance: id,
			Index:    model.Named(model.ParamLoadButton),
			Value:    host.ParamValue{Text: scriptPath},
		})
		require.NoError(t, err)
		require.Empty(t, res.Message)

		job, err := h.StartJob(bg, id, 2)
		require.NoError(t, err)

		progress := func() (float32, bool) {
			var (
				p  float32
				ok bool
			)
			require.NoError(t, h.Do(bg, func(m *host.MainThread) error {
				p, ok = m.RenderProgress(job)
				return nil
			}))
			return p, ok
		}

		// Frame 0 is done and the worker waits inside frame 1.
		synctest.Wait()
		_, ok := progress()
		require.False(t, ok, "no tick has run yet")

		time.Sleep(interval + time.Millisecond)
		synctest.Wait()
		p, ok := progress()
		require.True(t, ok)
		require.InDelta(t, 50.0, p, 0.001)

		close(gate)
		synctest.Wait()
		require.False(t, h.BgRenderIsActive(job))
		p, ok = progress()
		require.True(t, ok, "the cache is only refreshed by the next tick")
		require.InDelta(t, 50.0, p, 0.001)

		time.Sleep(interval)
		synctest.Wait()
		_, ok = progress()
		require.False(t, ok)

		cancel()
		require.NoError(t, <-done)
	})
}
