// Package worker runs the fuzzing loop of a single worker process.
package worker

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"netfuzz/internal/asan"
	"netfuzz/internal/corpus"
	"netfuzz/internal/mutator"
	"netfuzz/internal/network"
	"netfuzz/internal/stats"
	"netfuzz/internal/target"
	"netfuzz/internal/types"
	"netfuzz/pkg/telemetry"

	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var (
	// ErrStartup means the worker never entered its loop.
	ErrStartup = errors.New("worker startup failed")
	// ErrMutation means the mutation engine failed and the loop was aborted.
	ErrMutation = errors.New("mutation failed")
)

type CrashExporter interface {
	Export(report *asan.CrashReport, record *types.IterationRecord, outcome types.ProcessOutcome) error
}

type Config struct {
	ID         int
	Port       int
	Seed       int64 // drives input selection
	Debug      bool
	DebugDelay time.Duration // sleep between iterations in debug mode
}

type Deps struct {
	Corpus   *corpus.Corpus
	Mutator  mutator.Mutator
	Executor target.Executor
	Server   network.ServerManager
	Parser   asan.Parser
	Exporter CrashExporter
	Tracker  *stats.Tracker
	Tracer   telemetry.Tracer
	Logger   *zap.Logger
}

type Worker struct {
	cfg   Config
	deps  Deps
	state atomic.Int32

	logger *zap.Logger
}

func New(cfg Config, deps Deps) *Worker {
	if deps.Tracer == nil {
		deps.Tracer = &telemetry.DummyTracer{}
	}
	if deps.Parser == nil {
		deps.Parser = asan.NewAsanParser()
	}
	return &Worker{
		cfg:    cfg,
		deps:   deps,
		logger: deps.Logger.With(zap.Int("port", cfg.Port)),
	}
}

// State is safe to call from other goroutines.
func (w *Worker) State() State {
	return State(w.state.Load())
}

func (w *Worker) setState(s State) {
	prev := State(w.state.Swap(int32(s)))
	if prev != s {
		w.logger.Debug("state transition", zap.Stringer("from", prev), zap.Stringer("to", s))
	}
}

// Run starts the server and loops until ctx is cancelled or a fatal error
// occurs. Cancellation is not an error.
func (w *Worker) Run(ctx context.Context) (err error) {
	tracer := w.deps.Tracer
	tracer.WithAttributes(telemetry.NewSpanAttributes(telemetry.Fuzzing).
		WithWorker(w.cfg.ID, w.cfg.Port).
		WithCorpusSize(w.deps.Corpus.Len()))
	tracer.Start()
	defer func() {
		st := w.deps.Tracker.Stats()
		tracer.WithAttributes(telemetry.EmptySpanAttributes().
			WithExtraAttribute("netfuzz.iterations", st.IterationCount).
			WithExtraAttribute("netfuzz.crashes", st.CrashCount))
		if err != nil {
			tracer.SetStatus(codes.Error, err.Error())
		}
		tracer.End()
		w.setState(Terminated)
	}()

	w.setState(ServerStarting)
	if !w.deps.Server.Start(ctx) {
		if ctx.Err() != nil {
			return nil
		}
		w.setState(Failed)
		return fmt.Errorf("%w: cannot start server on port %d", ErrStartup, w.cfg.Port)
	}
	defer w.deps.Server.Stop()

	rng := rand.New(rand.NewSource(w.cfg.Seed))
	w.deps.Tracker.Start()
	w.logger.Info("fuzzing started", zap.Int64("seed", w.cfg.Seed), zap.Int("inputs", w.deps.Corpus.Len()))

	for {
		w.setState(Looping)
		if ctx.Err() != nil {
			w.logger.Info("fuzzing interrupted", zap.Uint64("iterations", w.deps.Tracker.Stats().IterationCount))
			return nil
		}
		if err := w.iterate(ctx, rng); err != nil {
			w.setState(Failed)
			return err
		}
		if w.cfg.Debug && w.cfg.DebugDelay > 0 {
			select {
			case <-time.After(w.cfg.DebugDelay):
			case <-ctx.Done():
			}
		}
	}
}

func (w *Worker) iterate(ctx context.Context, rng *rand.Rand) error {
	w.setState(SelectInput)
	input := w.deps.Corpus.Pick(rng)

	w.setState(Mutate)
	record, err := w.deps.Mutator.Mutate(ctx, input)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("%w: input %s: %w", ErrMutation, input.Name, err)
	}

	w.setState(ConfigureTarget)
	w.deps.Server.SetFuzzData(record)

	w.setState(Execute)
	if err := w.deps.Executor.Execute(ctx); err != nil {
		w.logger.Error("failed to execute target", zap.String("seed", record.Seed), zap.Error(err))
		return nil
	}

	w.setState(AwaitOutcome)
	outcome := w.deps.Server.HandleConnection(ctx)
	if ctx.Err() != nil {
		// the target was killed by the interrupt, not by the input
		return nil
	}

	w.setState(UpdateStats)
	w.deps.Tracker.Tick()

	if outcome != nil && outcome.Crashed {
		w.handleCrash(outcome)
	}
	return nil
}

func (w *Worker) handleCrash(outcome *network.Outcome) {
	w.setState(CrashDetected)
	if outcome.Record == nil {
		w.logger.Error("crash without fuzz iteration, skipping export",
			zap.Int("signal", outcome.Process.Signal),
			zap.Int("server_pid", outcome.Process.ServerPID))
		return
	}
	w.deps.Tracker.RecordCrash()

	w.setState(ExportCrash)
	report := asan.ParseOrDegrade(w.deps.Parser, outcome.AnalyzerOutput, w.logger)
	w.logger.Info("crash detected",
		zap.String("seed", outcome.Record.Seed),
		zap.Stringer("cause", report.Cause),
		zap.Int("signal", outcome.Process.Signal))
	w.deps.Tracer.AddEvent("crash", telemetry.NewEventAttributes(map[string]string{
		"netfuzz.iteration.seed": outcome.Record.Seed,
		"netfuzz.crash.cause":    report.Cause.String(),
	}))

	if err := w.deps.Exporter.Export(report, outcome.Record, outcome.Process); err != nil {
		w.logger.Error("failed to export crash", zap.String("seed", outcome.Record.Seed), zap.Error(err))
	}
}
