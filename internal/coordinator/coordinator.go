// Package coordinator spawns the worker processes and aggregates their stats.
package coordinator

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"netfuzz/config"
	"netfuzz/internal/stats"
	"netfuzz/internal/types"
	"netfuzz/internal/worker"
	"netfuzz/pkg/metrics"
	"netfuzz/pkg/telemetry"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Coordinator struct {
	cfg        *config.AppConfig
	runID      types.RunID
	table      *Table
	metrics    *metrics.Metrics
	mirror     *RedisMirror
	tracers    *telemetry.TracerFactory
	shutdowner fx.Shutdowner
	logger     *zap.Logger

	statsChan chan types.StatsMessage
	alive     atomic.Int32
	done      chan struct{}
}

type CoordinatorParams struct {
	fx.In

	Lc          fx.Lifecycle
	Shutdowner  fx.Shutdowner
	AppConfig   *config.AppConfig
	RunID       types.RunID
	Metrics     *metrics.Metrics
	RedisClient *redis.Client `optional:"true"`
	Tracers     *telemetry.TracerFactory
	Logger      *zap.Logger
}

func NewCoordinator(p CoordinatorParams) *Coordinator {
	var mirror *RedisMirror
	if p.RedisClient != nil {
		mirror = NewRedisMirror(p.RedisClient, p.RunID)
	}
	c := &Coordinator{
		p.AppConfig,
		p.RunID,
		NewTable(),
		p.Metrics,
		mirror,
		p.Tracers,
		p.Shutdowner,
		p.Logger.With(zap.String("run_id", string(p.RunID))),
		make(chan types.StatsMessage, stats.QueueSize),
		atomic.Int32{},
		make(chan struct{}),
	}

	coordinatorCtx, cancel := context.WithCancel(context.Background())

	p.Lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := os.MkdirAll(c.cfg.OutcomeDir, 0755); err != nil {
				cancel()
				return fmt.Errorf("failed to create outcome directory: %w", err)
			}
			launch, err := c.launcher()
			if err != nil {
				cancel()
				return err
			}
			go c.start(coordinatorCtx, launch)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			<-c.done
			c.logger.Info("final stats\n" + c.table.String())
			return nil
		},
	})
	return c
}

// launchFunc runs worker id until it exits.
type launchFunc func(ctx context.Context, id int, seed int64, trace string) error

// launcher picks between worker processes and the single in-process worker.
func (c *Coordinator) launcher() (launchFunc, error) {
	if c.cfg.NoFork {
		return c.runInProcess, nil
	}
	bin, err := ResolveWorkerBin(c.cfg.WorkerBin)
	if err != nil {
		return nil, fmt.Errorf("worker binary not found: %w", err)
	}
	c.logger.Debug("using worker binary", zap.String("path", bin))
	return func(ctx context.Context, id int, seed int64, trace string) error {
		p := &workerProcess{
			ident:  config.WorkerIdentity{ID: id, Seed: seed},
			bin:    bin,
			trace:  trace,
			logger: c.logger.With(zap.Int("worker_id", id), zap.Int("port", c.cfg.WorkerPort(id))),
		}
		return p.run(ctx, c.deliver(ctx))
	}, nil
}

func (c *Coordinator) start(ctx context.Context, launch launchFunc) {
	defer close(c.done)

	tracer := c.tracers.NewTracer(ctx, "coordinator run")
	tracer.WithAttributes(telemetry.NewSpanAttributes(telemetry.Coordination).
		WithFuzzer(c.cfg.Fuzzer).
		WithTargetBin(c.cfg.TargetBin).
		WithExtraAttribute("netfuzz.run.id", string(c.runID)).
		WithExtraAttribute("netfuzz.workers", c.cfg.Workers))
	tracer.Start()
	defer tracer.End()

	initialSeed := c.cfg.InitialSeed
	if initialSeed == 0 {
		initialSeed = time.Now().UnixNano()
	}
	c.logger.Info("starting workers",
		zap.Int("workers", c.cfg.Workers),
		zap.Int("base_port", c.cfg.BasePort),
		zap.Int64("seed", initialSeed),
		zap.Bool("nofork", c.cfg.NoFork))

	consumerDone := make(chan struct{})
	go c.consume(consumerDone)

	g, gctx := errgroup.WithContext(ctx)
	for id := range c.cfg.Workers {
		c.alive.Add(1)
		c.metrics.SetAlive(int(c.alive.Load()))
		g.Go(func() error {
			defer func() { c.metrics.SetAlive(int(c.alive.Add(-1))) }()
			return launch(gctx, id, initialSeed+int64(id), tracer.Export())
		})
	}
	err := g.Wait()
	close(c.statsChan)
	<-consumerDone

	if err != nil {
		tracer.SetStatus(codes.Error, err.Error())
		c.logger.Error("coordinator failed", zap.Error(err))
	}
	if ctx.Err() == nil {
		// every worker is gone on its own, nothing left to coordinate
		c.logger.Info("all workers exited")
		if err := c.shutdowner.Shutdown(); err != nil {
			c.logger.Error("failed to shut down", zap.Error(err))
		}
	}
}

// deliver returns a sink that never blocks past cancellation.
func (c *Coordinator) deliver(ctx context.Context) func(types.StatsMessage) {
	return func(msg types.StatsMessage) {
		select {
		case c.statsChan <- msg:
		case <-ctx.Done():
		}
	}
}

func (c *Coordinator) consume(done chan<- struct{}) {
	defer close(done)
	for msg := range c.statsChan {
		c.handle(msg)
	}
}

func (c *Coordinator) handle(msg types.StatsMessage) {
	c.table.Update(msg)
	c.metrics.Observe(msg.WorkerID, msg.IterationsPerSecond, msg.TotalCount, msg.CrashCount)
	if c.mirror != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		if err := c.mirror.Mirror(ctx, msg); err != nil {
			c.logger.Warn("failed to mirror stats to redis", zap.Error(err))
		}
		cancel()
	}

	total := c.table.Totals()
	c.logger.Info("stats",
		zap.Int("worker_id", msg.WorkerID),
		zap.Float64("execs_per_second", msg.IterationsPerSecond),
		zap.Uint64("iterations", msg.TotalCount),
		zap.Uint64("crashes", msg.CrashCount),
		zap.Float64("total_execs_per_second", total.IterationsPerSecond),
		zap.Uint64("total_iterations", total.TotalCount),
		zap.Uint64("total_crashes", total.CrashCount))
}

// runInProcess runs the only worker inside the coordinator, mirroring its
// stats to stdout.
func (c *Coordinator) runInProcess(ctx context.Context, id int, seed int64, trace string) error {
	logger := c.logger.With(zap.Int("worker_id", id))
	reporter := stats.NewChanReporter(stats.QueueSize)
	tracer := c.tracers.NewTracerSpawnedFrom(ctx, trace, "worker run")

	w, err := worker.Assemble(ctx, c.cfg, config.WorkerIdentity{ID: id, Seed: seed}, reporter, os.Stdout, tracer, logger)
	if err != nil {
		logger.Error("worker failed", zap.Error(err))
		return nil
	}

	forwardDone := make(chan struct{})
	runDone := make(chan struct{})
	go func() {
		defer close(forwardDone)
		sink := c.deliver(ctx)
		for {
			select {
			case msg := <-reporter.C():
				sink(msg)
			case <-runDone:
				// flush what the worker reported before returning
				for {
					select {
					case msg := <-reporter.C():
						sink(msg)
					default:
						return
					}
				}
			}
		}
	}()

	err = w.Run(ctx)
	close(runDone)
	<-forwardDone
	if err != nil {
		logger.Error("worker failed", zap.Error(err))
	}
	return nil
}
