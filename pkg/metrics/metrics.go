package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"netfuzz/config"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Metrics exports the latest stats message of every worker.
type Metrics struct {
	registry   *prometheus.Registry
	execs      *prometheus.GaugeVec
	iterations *prometheus.GaugeVec
	crashes    *prometheus.GaugeVec
	alive      prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		execs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "netfuzz_worker_execs_per_second",
			Help: "Average iterations per second since the worker started",
		}, []string{"worker"}),
		iterations: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "netfuzz_worker_iterations",
			Help: "Iterations executed by the worker",
		}, []string{"worker"}),
		crashes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "netfuzz_worker_crashes",
			Help: "Crashes found by the worker",
		}, []string{"worker"}),
		alive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "netfuzz_workers_alive",
			Help: "Worker processes currently running",
		}),
	}
	m.registry.MustRegister(m.execs, m.iterations, m.crashes, m.alive)
	return m
}

func (m *Metrics) Observe(workerID int, execsPerSecond float64, iterations, crashes uint64) {
	label := strconv.Itoa(workerID)
	m.execs.WithLabelValues(label).Set(execsPerSecond)
	m.iterations.WithLabelValues(label).Set(float64(iterations))
	m.crashes.WithLabelValues(label).Set(float64(crashes))
}

func (m *Metrics) SetAlive(n int) {
	m.alive.Set(float64(n))
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

type MetricsParams struct {
	fx.In

	Config    *config.AppConfig
	Logger    *zap.Logger
	Lifecycle fx.Lifecycle
}

// NewMetrics serves /metrics on metrics_addr when it is set.
func NewMetrics(p MetricsParams) *Metrics {
	m := New()
	if p.Config.MetricsAddr == "" {
		return m
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: p.Config.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return err
			}
			p.Logger.Info("serving metrics", zap.String("addr", ln.Addr().String()))
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					p.Logger.Error("metrics server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
	return m
}
