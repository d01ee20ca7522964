package telemetry

import (
	"context"
	"errors"

	"netfuzz/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
)

type Telemetry interface {
	GetTracer() trace.Tracer
	GetLogger() log.Logger
}

type TelemetryImpl struct {
	tracer trace.Tracer
	logger log.Logger
}

// ShutdownFunc flushes and stops the exporters.
type ShutdownFunc func(ctx context.Context) error

// Setup installs the OTLP trace and log providers. Exporter endpoints come
// from the standard OTEL_EXPORTER_OTLP_* variables.
func Setup(serviceName string) (*TelemetryImpl, ShutdownFunc, error) {
	telemetryCtx, cancel := context.WithCancel(context.Background())

	// --- Tracing Setup ---
	tracerExp, err := otlptracegrpc.New(telemetryCtx)
	if err != nil {
		cancel()
		return nil, nil, err
	}

	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(tracerExp),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			attribute.String("service.name", serviceName),
		)),
	)
	otel.SetTracerProvider(traceProvider)
	tracer := traceProvider.Tracer(serviceName)

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	// --- Logging Setup ---
	// the log exporter is optional, tracing works without it
	logExp, err := otlploggrpc.New(telemetryCtx)
	var logProvider *sdklog.LoggerProvider
	var logger log.Logger
	if err == nil {
		processor := sdklog.NewBatchProcessor(logExp)
		logProvider = sdklog.NewLoggerProvider(sdklog.WithProcessor(processor))
		logger = logProvider.Logger(serviceName)
	}

	shutdown := func(ctx context.Context) error {
		defer cancel()
		errs := []error{traceProvider.Shutdown(ctx)}
		if logProvider != nil {
			errs = append(errs, logProvider.Shutdown(ctx))
		}
		return errors.Join(errs...)
	}
	return &TelemetryImpl{tracer, logger}, shutdown, nil
}

type TelemetryParams struct {
	fx.In
	Lifecyle fx.Lifecycle
	Config   *config.AppConfig
}

// NewTelemetry returns nil when no OTLP endpoint is configured.
func NewTelemetry(p TelemetryParams) (Telemetry, error) {
	if !p.Config.TelemetryEnabled {
		return nil, nil
	}
	telem, shutdown, err := Setup(p.Config.ServiceName)
	if err != nil {
		return nil, err
	}

	// when the app shuts down, stop the providers
	p.Lifecyle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return shutdown(ctx)
		},
	})
	return telem, nil
}

func (t *TelemetryImpl) GetTracer() trace.Tracer {
	return t.tracer
}

func (t *TelemetryImpl) GetLogger() log.Logger {
	return t.logger
}
