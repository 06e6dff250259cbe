// testserver starts a golobulus API server whose scripts render with a stub
// engine, for driving the HTTP surface without an interpreter.
// Usage: go run ./cmd/testserver
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AppMana/golobulus/internal/api"
	"github.com/AppMana/golobulus/internal/config"
	"github.com/AppMana/golobulus/internal/host"
	"github.com/AppMana/golobulus/internal/script"
	"github.com/AppMana/golobulus/internal/store"
)

// stubFrame pretends to render for delay and logs a line per frame.
func stubFrame(delay time.Duration) script.FrameFunc {
	return func(ctx context.Context, fr script.Frame) error {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if fr.Log != nil {
			fr.Log(fmt.Sprintf("[stub] frame %d/%d", fr.Index+1, fr.Total))
		}
		return nil
	}
}

func main() {
	addr := ":8080"
	if v := os.Getenv("GOLOB_LISTEN_ADDR"); v != "" {
		addr = v
	}
	delay := 200 * time.Millisecond
	if v := os.Getenv("GOLOB_STUB_FRAME_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms >= 0 {
			delay = time.Duration(ms) * time.Millisecond
		}
	}

	db, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	logger := config.NewLogger(os.Stdout, config.Load().LogLevel)
	factory := script.NewFuncFactory(stubFrame(delay), script.WithParams(
		script.ParamSpec{Name: "strength", Default: "1.0"},
	))
	engines := script.NewRegistry()
	engines.Register("stub", factory)

	h := host.New(host.Options{
		Factory:      factory,
		Store:        db,
		Logger:       logger,
		IdleInterval: 250 * time.Millisecond,
	})
	srv := api.NewServer(addr, h, engines, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return h.Run(ctx) })
	g.Go(func() error { return srv.Run(ctx) })
	if _, err := h.Dispatch(ctx, host.GlobalSetup{RegistrationID: 1}); err != nil {
		log.Fatalf("global setup: %v", err)
	}

	logger.Info("testserver: starting", "addr", addr, "frame_delay_ms", delay.Milliseconds())
	if err := g.Wait(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
