package logger

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"netfuzz/config"
	"netfuzz/pkg/telemetry"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type LoggerParams struct {
	fx.In
	Lc        fx.Lifecycle
	AppConfig *config.AppConfig
	Telemetry telemetry.Telemetry `optional:"true"`
}

func NewLogger(p LoggerParams) *zap.Logger {
	loggerCtx, cancel := context.WithCancel(context.Background())
	lg := Build(loggerCtx, Options{Level: p.AppConfig.LogLevel, Telemetry: p.Telemetry, Action: "coordinator_log"})
	p.Lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			_ = lg.Sync()
			cancel()
			return nil
		},
	})
	return lg
}

// NewWorkerLogger builds the logger of one worker process. With
// DebugWithFile the log is also written to <log_dir>/worker-<id>.log.
func NewWorkerLogger(ctx context.Context, cfg *config.AppConfig, workerID int, telem telemetry.Telemetry) *zap.Logger {
	opts := Options{Level: cfg.LogLevel, Telemetry: telem, Action: "fuzzing_log"}
	if cfg.DebugWithFile {
		if err := os.MkdirAll(cfg.LogDir, 0755); err == nil {
			opts.Files = append(opts.Files, WorkerLogPath(cfg.LogDir, workerID))
		}
	}
	return Build(ctx, opts).With(zap.Int("worker_id", workerID))
}

func WorkerLogPath(logDir string, workerID int) string {
	return filepath.Join(logDir, fmt.Sprintf("worker-%d.log", workerID))
}

type Options struct {
	Level     string
	Telemetry telemetry.Telemetry // nil disables the OpenTelemetry log bridge
	Action    string
	Files     []string // extra output paths besides stderr
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	}
	return zapcore.InfoLevel
}

func Build(ctx context.Context, opts Options) *zap.Logger {
	level := parseLevel(opts.Level)

	var cfg zap.Config
	if level > zapcore.InfoLevel {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.OutputPaths = append(cfg.OutputPaths, opts.Files...)

	if opts.Telemetry == nil || opts.Telemetry.GetLogger() == nil {
		lg, err := cfg.Build()
		if err != nil {
			// log failed to build, return a default one
			return zap.NewExample()
		}
		return lg
	}

	lg, err := cfg.Build(
		zap.WrapCore(func(core zapcore.Core) zapcore.Core {
			return &telemetryCore{
				Core:  core,
				telem: opts.Telemetry,
				ctx:   ctx,
				attrsBase: []attribute.KeyValue{
					attribute.String("netfuzz.action.name", opts.Action),
				},
			}
		}),
		zap.AddCaller(),
	)
	if err != nil {
		lg, err := cfg.Build()
		if err != nil {
			return zap.NewExample()
		}
		return lg
	}
	lg.Debug("logger with telemetry enabled")
	return lg
}

// telemetryCore decorates a zapcore.Core to emit both through the original core
// and into OpenTelemetry, converting each zap.Field into an attribute.
type telemetryCore struct {
	zapcore.Core
	telem     telemetry.Telemetry
	ctx       context.Context
	attrsBase []attribute.KeyValue
}

// 1) With makes sure child cores (e.g. when you do logger.With(...)) keep the wrapper.
func (t *telemetryCore) With(fields []zapcore.Field) zapcore.Core {
	return &telemetryCore{
		Core:      t.Core.With(fields),
		telem:     t.telem,
		ctx:       t.ctx,
		attrsBase: t.attrsBase,
	}
}

// 2) Check tells Zap to add _this_ core (not the inner one) to the CheckedEntry.
func (t *telemetryCore) Check(ent zapcore.Entry, checked *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if t.Enabled(ent.Level) {
		return checked.AddCore(ent, t)
	}
	return checked
}

func (t *telemetryCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	if err := t.Core.Write(ent, fields); err != nil {
		return err
	}

	rec := log.Record{}
	rec.SetTimestamp(ent.Time)
	rec.SetBody(log.StringValue(ent.Message))
	rec.SetSeverityText(ent.Level.String())

	attrs := make([]attribute.KeyValue, 0, len(fields)+len(t.attrsBase))
	attrs = append(attrs, t.attrsBase...)
	for _, f := range fields {
		switch f.Type {
		case zapcore.BoolType:
			attrs = append(attrs, attribute.Bool(f.Key, f.Integer != 0))
		case zapcore.Float64Type:
			if v, ok := f.Interface.(float64); ok {
				attrs = append(attrs, attribute.Float64(f.Key, v))
			}
		case zapcore.Float32Type:
			if v, ok := f.Interface.(float32); ok {
				attrs = append(attrs, attribute.Float64(f.Key, float64(v)))
			}
		case zapcore.Int64Type:
			attrs = append(attrs, attribute.Int64(f.Key, f.Integer))
		case zapcore.Int32Type:
			attrs = append(attrs, attribute.Int64(f.Key, int64(int32(f.Integer))))
		case zapcore.Int16Type:
			attrs = append(attrs, attribute.Int64(f.Key, int64(int16(f.Integer))))
		case zapcore.Int8Type:
			attrs = append(attrs, attribute.Int64(f.Key, int64(int8(f.Integer))))
		case zapcore.Uint64Type:
			attrs = append(attrs, attribute.Int64(f.Key, int64(uint64(f.Integer))))
		case zapcore.Uint32Type:
			attrs = append(attrs, attribute.Int64(f.Key, int64(uint32(f.Integer))))
		case zapcore.Uint16Type:
			attrs = append(attrs, attribute.Int64(f.Key, int64(uint16(f.Integer))))
		case zapcore.Uint8Type:
			attrs = append(attrs, attribute.Int64(f.Key, int64(uint8(f.Integer))))
		case zapcore.StringType:
			attrs = append(attrs, attribute.String(f.Key, f.String))
		case zapcore.ErrorType:
			if errVal, ok := f.Interface.(error); ok {
				attrs = append(attrs, attribute.String(f.Key, errVal.Error()))
			}
		default:
			attrs = append(attrs, attribute.String(f.Key, fmt.Sprint(f.Interface)))
		}
	}

	for _, attr := range attrs {
		rec.AddAttributes(log.KeyValueFromAttribute(attr))
	}

	t.telem.GetLogger().Emit(t.ctx, rec)
	return nil
}
