package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/AppMana/golobulus/internal/host"
	"github.com/AppMana/golobulus/internal/model"
	"github.com/AppMana/golobulus/internal/script"
	"github.com/AppMana/golobulus/internal/store"
)

var (
	flagFrames int
	flagVenv   string
	flagParams []string
	flagPoll   time.Duration
)

var renderCmd = &cobra.Command{
	Use:   "render <script>",
	Short: "render a script headless and print progress",
	Args:  cobra.ExactArgs(1),
	RunE:  doRender,
}

func init() {
	renderCmd.Flags().IntVar(&flagFrames, "frames", 1, "number of frames to render")
	renderCmd.Flags().StringVar(&flagVenv, "venv", "", "virtual environment for the script")
	renderCmd.Flags().StringArrayVar(&flagParams, "param", nil, "script parameter as name=value, repeatable")
	renderCmd.Flags().DurationVar(&flagPoll, "poll", 500*time.Millisecond, "progress print interval")
}

func doRender(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	path, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}

	h := host.New(host.Options{
		Factory:      script.NewExecFactory(cfg.Interpreter),
		Store:        store.NewMemoryStore(),
		Logger:       logger,
		IdleInterval: flagPoll,
	})

	hostCtx, cancelHost := context.WithCancel(context.Background())
	var g errgroup.Group
	g.Go(func() error { return h.Run(hostCtx) })
	defer func() {
		cancelHost()
		_ = g.Wait()
	}()

	if _, err := h.Dispatch(ctx, host.GlobalSetup{RegistrationID: registrationID}); err != nil {
		return fmt.Errorf("global setup: %w", err)
	}
	res, err := h.Dispatch(ctx, host.SequenceSetup{})
	if err != nil {
		return err
	}
	id := res.Instance

	if flagVenv != "" {
		if err := change(ctx, h, id, model.Named(model.ParamSetVenv), host.ParamValue{Text: flagVenv}); err != nil {
			return err
		}
	}
	if err := change(ctx, h, id, model.Named(model.ParamLoadButton), host.ParamValue{Text: path}); err != nil {
		return err
	}
	if err := applyParams(ctx, h, id, flagParams); err != nil {
		return err
	}

	job, err := h.StartJob(ctx, id, flagFrames)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "job %s started: %d frames\n", job, flagFrames)

	if err := waitRender(ctx, h, job); err != nil {
		return err
	}

	j, err := h.Store().GetJob(context.Background(), job)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "job %s %s: %d/%d frames\n", job, j.Status, j.CurrentFrame, j.TotalFrames)
	if j.Status != model.StatusCompleted {
		if j.Error != "" {
			return fmt.Errorf("render %s: %s", j.Status, j.Error)
		}
		return fmt.Errorf("render %s", j.Status)
	}
	return nil
}

// change dispatches a parameter change and turns a rejected interaction into
// an error.
func change(ctx context.Context, h *host.Host, id model.InstanceID, idx model.ParamIdx, v host.ParamValue) error {
	res, err := h.Dispatch(ctx, host.UserChangedParam{Instance: id, Index: idx, Value: v})
	if err != nil {
		return err
	}
	if res.Message != "" {
		return fmt.Errorf("%s: %s", idx, res.Message)
	}
	return nil
}

func applyParams(ctx context.Context, h *host.Host, id model.InstanceID, raw []string) error {
	if len(raw) == 0 {
		return nil
	}
	var entries []host.ParamEntry
	err := h.Do(ctx, func(m *host.MainThread) error {
		var err error
		entries, err = m.Params(id)
		return err
	})
	if err != nil {
		return err
	}
	byName := make(map[string]model.ParamIdx, len(entries))
	for _, e := range entries {
		byName[e.Name] = e.Index
	}

	for _, kv := range raw {
		name, value, ok := strings.Cut(kv, "=")
		if !ok {
			return fmt.Errorf("invalid --param %q: want name=value", kv)
		}
		idx, ok := byName[name]
		if !ok {
			return fmt.Errorf("script declares no parameter %q", name)
		}
		if err := change(ctx, h, id, idx, host.ParamValue{Text: value}); err != nil {
			return err
		}
	}
	return nil
}

// waitRender prints the idle-cached progress until the job leaves the
// registry. An interrupt cancels the job and keeps waiting for its worker.
func waitRender(ctx context.Context, h *host.Host, job model.JobID) error {
	ticker := time.NewTicker(flagPoll)
	defer ticker.Stop()

	interrupted := false
	last := float32(-1)
	for h.BgRenderIsActive(job) {
		select {
		case <-ctx.Done():
			if !interrupted {
				interrupted = true
				fmt.Fprintln(os.Stdout, "cancelling render")
				if err := h.CancelJob(job); err != nil {
					logger.Debug("cancel render", "job_id", job, "error", err)
				}
			}
			time.Sleep(flagPoll)
		case <-ticker.C:
			var (
				p  float32
				ok bool
			)
			err := h.Do(context.Background(), func(m *host.MainThread) error {
				p, ok = m.RenderProgress(job)
				return nil
			})
			if err != nil {
				return err
			}
			if ok && p != last {
				fmt.Fprintf(os.Stdout, "progress: %.1f%%\n", p)
				last = p
			}
		}
	}
	return nil
}
