package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/AppMana/golobulus/internal/api"
	"github.com/AppMana/golobulus/internal/host"
	"github.com/AppMana/golobulus/internal/model"
	"github.com/AppMana/golobulus/internal/script"
	"github.com/AppMana/golobulus/internal/store"
	"github.com/AppMana/golobulus/internal/watch"
)

// registrationID is the id this build registers with the host.
const registrationID int32 = 1

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "run the host loop behind the HTTP API",
	RunE:  doServe,
}

func doServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("golobulus: starting",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"interpreter", cfg.Interpreter,
		"watch_scripts", cfg.WatchScripts,
	)

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	engines := script.NewRegistry()
	factory := script.NewExecFactory(cfg.Interpreter)
	engines.Register("exec", factory)

	var (
		h       *host.Host
		watcher *watch.Watcher
	)
	opts := host.Options{
		Factory:      factory,
		Store:        db,
		Logger:       logger,
		IdleInterval: cfg.IdleInterval,
	}
	if cfg.WatchScripts {
		watcher, err = watch.New(func(path string) {
			ids, err := h.ReloadScript(ctx, path)
			if err != nil {
				logger.Warn("script reload failed", "path", path, "error", err)
				return
			}
			logger.Info("script reloaded", "path", path, "instances", len(ids))
		}, watch.WithLogger(logger))
		if err != nil {
			return fmt.Errorf("create script watcher: %w", err)
		}
		opts.OnScriptLoaded = func(id model.InstanceID, path string) {
			if err := watcher.Add(path); err != nil {
				logger.Warn("watch script", "instance_id", id, "path", path, "error", err)
			}
		}
	}
	h = host.New(opts)
	srv := api.NewServer(cfg.ListenAddr, h, engines, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return h.Run(gctx) })
	g.Go(func() error { return srv.Run(gctx) })
	if watcher != nil {
		g.Go(func() error { return watcher.Run(gctx) })
	}

	if _, err := h.Dispatch(gctx, host.GlobalSetup{RegistrationID: registrationID}); err != nil {
		stop()
		_ = g.Wait()
		return fmt.Errorf("global setup: %w", err)
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("golobulus: stopped")
	return nil
}
