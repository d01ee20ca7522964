package crash

import (
	"context"
	"fmt"
	"os"
	"strings"

	"netfuzz/config"
	"netfuzz/internal/types"
	"netfuzz/pkg/database"
	"netfuzz/pkg/mq"
	"netfuzz/pkg/watchdog"

	"github.com/google/uuid"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CrashStore persists crash index rows.
type CrashStore interface {
	AddCrashes(ctx context.Context, crashes []*database.Crash) error
}

// Notifier announces new crashes to downstream triage.
type Notifier interface {
	Notify(ctx context.Context, msg types.CrashNotification) error
}

// Indexer follows the outcome directory and mirrors every new bundle into
// the optional database and message queue.
type Indexer struct {
	runID    types.RunID
	cfg      *config.AppConfig
	store    CrashStore
	notifier Notifier
	logger   *zap.Logger

	crashChan chan string
	done      chan struct{}
}

func NewIndexer(runID types.RunID, cfg *config.AppConfig, store CrashStore, notifier Notifier, logger *zap.Logger) *Indexer {
	return &Indexer{
		runID,
		cfg,
		store,
		notifier,
		logger.Named("indexer"),
		make(chan string, 1024),
		make(chan struct{}),
	}
}

// Enabled reports whether any sink is configured.
func (c *Indexer) Enabled() bool {
	return c.store != nil || c.notifier != nil
}

type IndexerParams struct {
	fx.In

	RunID     types.RunID
	Config    *config.AppConfig
	DB        *gorm.DB    `optional:"true"`
	RabbitMQ  mq.RabbitMQ `optional:"true"`
	Watchdogs *watchdog.WatchDogFactory
	Logger    *zap.Logger
	Lifecycle fx.Lifecycle
}

func NewIndexerFx(p IndexerParams) *Indexer {
	var store CrashStore
	if p.DB != nil {
		store = &gormStore{p.DB}
	}
	var notifier Notifier
	if p.RabbitMQ != nil {
		notifier = &queueNotifier{p.RabbitMQ}
	}
	c := NewIndexer(p.RunID, p.Config, store, notifier, p.Logger)
	if !c.Enabled() {
		p.Logger.Debug("no crash sinks configured, indexer disabled")
		return c
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if p.RabbitMQ != nil {
				if err := mq.DeclareQueue(p.RabbitMQ, mq.CrashQueueName); err != nil {
					cancel()
					return fmt.Errorf("failed to declare crash queue: %w", err)
				}
			}
			wd, err := p.Watchdogs.New(watchCtx, c.crashChan, func(path string) bool {
				return strings.HasSuffix(path, BundleExt)
			})
			if err != nil {
				cancel()
				return err
			}
			if err := os.MkdirAll(p.Config.OutcomeDir, 0755); err != nil {
				cancel()
				return fmt.Errorf("failed to create outcome directory: %w", err)
			}
			if err := wd.AddDir(p.Config.OutcomeDir); err != nil {
				cancel()
				return err
			}
			c.logger.Debug("starting crash indexer", zap.String("dir", p.Config.OutcomeDir))
			go c.start(watchCtx)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			c.logger.Info("stopping crash indexer")
			cancel()
			select {
			case <-c.done: // wait until the queued bundles are indexed
			case <-ctx.Done():
			}
			return nil
		},
	})
	return c
}

// start drains crashChan until the watchdog closes it.
func (c *Indexer) start(ctx context.Context) {
	defer close(c.done)
	indexed := 0
	for path := range c.crashChan {
		if err := c.Index(ctx, path); err != nil {
			c.logger.Error("failed to index crash bundle", zap.String("path", path), zap.Error(err))
			continue
		}
		indexed++
	}
	c.logger.Info("crash indexer finished", zap.Int("indexed", indexed))
}

// Index loads one bundle and hands it to every configured sink.
func (c *Indexer) Index(ctx context.Context, path string) error {
	bundle, err := LoadBundle(path)
	if err != nil {
		return err
	}
	data := bundle.FuzzerCrashData
	seed := bundle.FuzzIterData.Seed
	c.logger.Debug("new crash bundle", zap.String("seed", seed), zap.Stringer("cause", data.Cause))

	// sinks may outlive the watch context during shutdown
	ctx = context.WithoutCancel(ctx)

	if c.store != nil {
		row := database.NewCrash(
			string(c.runID),
			seed,
			c.cfg.Fuzzer,
			c.cfg.TargetBin,
			data.Cause.String(),
			data.FaultAddress,
			data.Signum,
			path,
			data.Backtrace,
		)
		if err := c.store.AddCrashes(ctx, []*database.Crash{row}); err != nil {
			return fmt.Errorf("failed to add crash: %w", err)
		}
	}

	if c.notifier != nil {
		msg := types.CrashNotification{
			ID:         uuid.NewString(),
			RunID:      string(c.runID),
			Seed:       seed,
			BundlePath: path,
			Cause:      data.Cause.String(),
			Fuzzer:     c.cfg.Fuzzer,
			Target:     c.cfg.TargetBin,
		}
		if err := c.notifier.Notify(ctx, msg); err != nil {
			return fmt.Errorf("failed to publish crash notification: %w", err)
		}
	}
	return nil
}

type gormStore struct {
	db *gorm.DB
}

func (s *gormStore) AddCrashes(ctx context.Context, crashes []*database.Crash) error {
	return database.AddCrashes(ctx, s.db, crashes)
}

type queueNotifier struct {
	mq mq.RabbitMQ
}

func (n *queueNotifier) Notify(ctx context.Context, msg types.CrashNotification) error {
	return mq.PublishJSON(ctx, n.mq, mq.CrashQueueName, msg)
}
