package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/real-staging-ai/miniredis/internal/admin"
	"github.com/real-staging-ai/miniredis/internal/config"
	"github.com/real-staging-ai/miniredis/internal/diagnostics"
	"github.com/real-staging-ai/miniredis/internal/logging"
	"github.com/real-staging-ai/miniredis/internal/server"
	"github.com/real-staging-ai/miniredis/internal/store"
	"github.com/real-staging-ai/miniredis/internal/telemetry"
)

func main() {
	var (
		addr      = flag.String("addr", "", "listen address, overrides SERVER_ADDR (default :6379)")
		adminAddr = flag.String("admin-addr", "", "admin HTTP listen address, overrides ADMIN_ADDR (disabled if empty)")
		otel      = flag.Bool("otel", false, "enable OpenTelemetry tracing, overrides OTEL_ENABLED")
	)
	flag.Parse()

	ctx := context.Background()
	logger := logging.Default()

	cfg, err := config.Load()
	if err != nil {
		logger.Error(ctx, "failed to load configuration", "error", err.Error())
		fmt.Fprintf(os.Stderr, "Error: failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *adminAddr != "" {
		cfg.Admin.Addr = *adminAddr
	}
	if *otel {
		cfg.OTEL.Enabled = true
	}
	logger = logging.NewDefaultLoggerWithLevel(cfg.Logging.Level)

	if cfg.OTEL.Enabled {
		shutdown, err := telemetry.InitTracing(ctx, "miniredis")
		if err != nil {
			logger.Error(ctx, "failed to init tracing", "error", err.Error())
			os.Exit(1)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				logger.Warn(ctx, "tracing shutdown error", "error", err.Error())
			}
		}()
	}

	db := store.New(logger)
	defer db.Close()

	diag := diagnostics.New(db, logger, "@every 30s")
	if err := diag.Start(); err != nil {
		logger.Error(ctx, "failed to start diagnostics", "error", err.Error())
		os.Exit(1)
	}
	defer diag.Stop(context.Background())

	srvOpts := server.Options{
		Addr:            cfg.Server.Addr,
		MaxConnections:  int64(cfg.Server.MaxConnections),
		AcceptRateLimit: rate.Limit(cfg.Server.AcceptRateLimit),
		AcceptBurst:     cfg.Server.AcceptBurst,
	}
	if d, err := time.ParseDuration(cfg.Server.BackoffInitial); err == nil {
		srvOpts.BackoffInitial = d
	}
	if d, err := time.ParseDuration(cfg.Server.BackoffMax); err == nil {
		srvOpts.BackoffMax = d
	}
	srv := server.New(db, logger, srvOpts)

	var adm *admin.Server
	if cfg.Admin.Addr != "" {
		adm = admin.New(cfg.Admin.Addr, diag, logger, cfg.OTEL.Enabled)
	}

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 2)
	go func() {
		errCh <- srv.Run(runCtx)
	}()
	if adm != nil {
		go func() {
			errCh <- adm.ListenAndServe(runCtx)
		}()
	}

	logger.Info(ctx, "miniredis started", "addr", cfg.Server.Addr, "admin_addr", cfg.Admin.Addr)

	wantResults := 1
	if adm != nil {
		wantResults = 2
	}

	// Wait for either a shutdown signal or an early, unrecoverable
	// component failure (e.g. a bind failure or an accept loop that gave
	// up after exhausting its backoff) so the latter exits non-zero
	// instead of hanging until a signal that never comes.
	select {
	case err := <-errCh:
		wantResults--
		if err != nil {
			logger.Error(ctx, "component exited with error before shutdown", "error", err.Error())
			os.Exit(1)
		}
	case <-runCtx.Done():
		logger.Info(ctx, "shutdown signal received")
	}

	for i := 0; i < wantResults; i++ {
		select {
		case err := <-errCh:
			if err != nil {
				logger.Warn(ctx, "component exited with error", "error", err.Error())
			}
		case <-time.After(10 * time.Second):
			logger.Warn(ctx, "shutdown timed out waiting for component")
		}
	}

	logger.Info(ctx, "miniredis stopped")
}
