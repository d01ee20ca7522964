package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"netfuzz/config"
	"netfuzz/internal/stats"
	"netfuzz/internal/worker"
	"netfuzz/pkg/logger"
	"netfuzz/pkg/telemetry"

	_ "go.uber.org/automaxprocs"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "netfuzz-worker: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.LoadConfig()
	ident, err := config.LoadWorkerIdentity()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var telem telemetry.Telemetry
	if cfg.TelemetryEnabled {
		impl, shutdown, err := telemetry.Setup(cfg.ServiceName)
		if err != nil {
			return fmt.Errorf("failed to set up telemetry: %w", err)
		}
		defer shutdown(context.Background())
		telem = impl
	}

	lg := logger.NewWorkerLogger(ctx, cfg, ident.ID, telem)
	defer lg.Sync()

	var reporter stats.Reporter
	var console io.Writer
	if ident.StatsFD != 0 {
		// keep the pipe away from the target processes we spawn
		unix.CloseOnExec(ident.StatsFD)
		pipe := os.NewFile(uintptr(ident.StatsFD), "stats")
		if pipe == nil {
			return fmt.Errorf("stats fd %d is not open", ident.StatsFD)
		}
		defer pipe.Close()
		pipeReporter := stats.NewPipeReporter(pipe, lg)
		defer pipeReporter.Close()
		reporter = pipeReporter
	} else {
		// standalone run, nobody reads the messages
		reporter = stats.NewChanReporter(0)
		console = os.Stdout
	}

	tracer := telemetry.NewTracerFactoryFor(telem).
		NewTracerSpawnedFrom(ctx, os.Getenv(telemetry.TraceContextEnv), "worker run")

	w, err := worker.Assemble(ctx, cfg, ident, reporter, console, tracer, lg)
	if err != nil {
		lg.Error("worker startup failed", zap.Error(err))
		return err
	}
	if err := w.Run(ctx); err != nil {
		lg.Error("worker failed", zap.Error(err))
		return err
	}
	lg.Info("worker stopped")
	return nil
}
