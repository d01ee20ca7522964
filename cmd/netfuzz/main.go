package main

import (
	"os/exec"

	"netfuzz/config"
	"netfuzz/internal/coordinator"
	"netfuzz/internal/crash"
	"netfuzz/internal/types"
	"netfuzz/pkg/database"
	"netfuzz/pkg/logger"
	"netfuzz/pkg/metrics"
	"netfuzz/pkg/mq"
	"netfuzz/pkg/telemetry"
	"netfuzz/pkg/watchdog"

	_ "go.uber.org/automaxprocs"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func setUpMmapRNDBits(logger *zap.Logger) {
	// ASAN targets fail to map their shadow memory with high mmap entropy
	if err := exec.Command("sysctl", "-w", "vm.mmap_rnd_bits=28").Run(); err != nil {
		logger.Warn("failed to set mmap_rnd_bits", zap.Error(err))
	} else {
		logger.Info("set mmap_rnd_bits to 28")
	}
}

func main() {
	app := fx.New(
		fx.Provide(
			config.LoadConfig,           // inject config
			types.NewRunID,              // inject run id
			database.NewDBConnection,    // inject db connection
			database.NewRedisClient,     // inject redis client
			logger.NewLogger,            // inject logger
			mq.NewRabbitMQ,              // inject rabbitmq service
			telemetry.NewTelemetry,      // inject telemetry
			telemetry.NewTracerFactory,  // inject telemetry tracer factory
			metrics.NewMetrics,          // inject prometheus metrics
			watchdog.NewWatchDogFactory, // inject watchdog factory
		),
		fx.Invoke(
			setUpMmapRNDBits, // set up mmap_rnd_bits
			crash.NewIndexerFx,
			coordinator.NewCoordinator,
		),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			zlogger := fxevent.ZapLogger{Logger: log}
			zlogger.UseLogLevel(zap.DebugLevel)
			return &zlogger
		}),
	)
	app.Run()
}
