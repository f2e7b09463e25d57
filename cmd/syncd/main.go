package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/wp4odoo/bridge/internal/app"
	"github.com/wp4odoo/bridge/internal/config"
	httpx "github.com/wp4odoo/bridge/internal/http"
	"github.com/wp4odoo/bridge/internal/observability"
	"github.com/wp4odoo/bridge/internal/scheduler"
)

func main() {
	cfg := config.Load()

	logger := newLogger(cfg.Env)

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	shutdownTracer, err := observability.InitTracer(ctx, "syncd", cfg.OTLPEndpoint)
	if err != nil {
		logger.Warn("tracer init failed, continuing without traces", "error", err)
		shutdownTracer = func(context.Context) error { return nil }
	}

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("bootstrap failed: %v", err)
	}
	defer a.Close()

	router := httpx.NewRouter(httpx.Deps{
		Env:      cfg.Env,
		Log:      logger,
		Pool:     a.Pool,
		Redis:    a.Redis,
		Prom:     a.Prom,
		Registry: a.PromRegistry,
		Enqueuer: a.Enqueuer,
		Settings: a.Settings,
		Global:   a.Global,
		Modules:  a.Modules,
		Metrics:  a.Metrics,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("syncd listening", "port", cfg.Port, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
			stop()
		}
	}()

	tick := tickInterval()
	logger.Info("scheduler loop starting", "tick", tick, "blog_id", cfg.BlogID)

	ticker := time.NewTicker(tick)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			if _, err := a.Scheduler.Run(ctx, scheduler.Options{}); err != nil {
				logger.Error("scheduler run failed", "error", err)
			}
		}
	}

	logger.Info("syncd shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}
	if err := shutdownTracer(shutdownCtx); err != nil {
		logger.Warn("tracer shutdown failed", "error", err)
	}

	logger.Info("syncd shutdown complete")
}

// newLogger builds the JSON logger with trace ids attached when a span is in
// context.
func newLogger(env string) *slog.Logger {
	base := observability.NewLogger(env)
	return slog.New(observability.NewTraceHandler(base.Handler()))
}

func tickInterval() time.Duration {
	if v := os.Getenv("SYNC_TICK_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	return time.Minute
}
