package worker

import (
	"context"
	"fmt"
	"io"

	"netfuzz/config"
	"netfuzz/internal/asan"
	"netfuzz/internal/corpus"
	"netfuzz/internal/crash"
	"netfuzz/internal/mutator"
	"netfuzz/internal/network"
	"netfuzz/internal/stats"
	"netfuzz/internal/target"
	"netfuzz/pkg/telemetry"

	"go.uber.org/zap"
)

// Assemble wires a worker from the application config. Every error it
// returns wraps ErrStartup. console is only used in nofork mode.
func Assemble(ctx context.Context, cfg *config.AppConfig, ident config.WorkerIdentity, reporter stats.Reporter, console io.Writer, tracer telemetry.Tracer, logger *zap.Logger) (*Worker, error) {
	port := cfg.WorkerPort(ident.ID)

	inputs, err := corpus.Load(ctx, cfg.InputDir, logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStartup, err)
	}

	mut, err := mutator.New(mutator.Config{
		Name:        cfg.Fuzzer,
		WorkerID:    ident.ID,
		Seed:        ident.Seed,
		RadamsaPath: cfg.RadamsaPath,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStartup, err)
	}

	executor, err := target.NewClientExecutor(cfg.TargetBin, cfg.TargetCommandArgs(port), logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStartup, err)
	}

	server := network.NewTCPServer(network.ServerConfig{
		Port:           port,
		StartDelay:     cfg.Timing.ServerStartDelay,
		ConnectTimeout: cfg.Timing.ConnectTimeout,
		ProcessTimeout: cfg.Timing.ProcessTimeout,
	}, executor, logger)

	exporter, err := crash.NewExporter(crash.ExporterConfig{
		OutcomeDir: cfg.OutcomeDir,
		Fuzzer:     cfg.Fuzzer,
		TargetBin:  cfg.TargetBin,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStartup, err)
	}

	statsCfg := stats.Config{WorkerID: ident.ID, Interval: cfg.Timing.ReportInterval}
	if cfg.NoFork {
		statsCfg.Console = console
	}

	if tracer != nil {
		tracer.WithAttributes(telemetry.EmptySpanAttributes().
			WithFuzzer(cfg.Fuzzer).
			WithTargetBin(cfg.TargetBin))
	}

	return New(Config{
		ID:         ident.ID,
		Port:       port,
		Seed:       ident.Seed,
		Debug:      cfg.Debug,
		DebugDelay: cfg.Timing.DebugDelay,
	}, Deps{
		Corpus:   inputs,
		Mutator:  mut,
		Executor: executor,
		Server:   server,
		Parser:   asan.NewAsanParser(),
		Exporter: exporter,
		Tracker:  stats.NewTracker(statsCfg, reporter),
		Tracer:   tracer,
		Logger:   logger,
	}), nil
}
