package watchdog

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/loykin/watchdog/internal/config"
	"github.com/loykin/watchdog/internal/history"
	"github.com/loykin/watchdog/internal/history/factory"
	"github.com/loykin/watchdog/internal/manager"
	"github.com/loykin/watchdog/internal/metrics"
	"github.com/loykin/watchdog/internal/process"
	"github.com/loykin/watchdog/internal/registry"
	"github.com/loykin/watchdog/internal/server"
	"github.com/prometheus/client_golang/prometheus"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Spec = process.Spec

type ServiceStatus = manager.ServiceStatus

type Config = config.Config

type Monitor = manager.Monitor

type Option = manager.Option

type HistoryRecorder = history.Recorder

var (
	WithTickInterval     = manager.WithTickInterval
	WithProbeTimeout     = manager.WithProbeTimeout
	WithFailureThreshold = manager.WithFailureThreshold
	WithRestartGrace     = manager.WithRestartGrace
	WithLogger           = manager.WithLogger
	WithEnv              = manager.WithEnv
	WithHistory          = manager.WithHistory
	WithUsageSampling    = manager.WithUsageSampling
)

// ErrShutdownTimeout is returned by Monitor.Shutdown when children outlive the grace period.
var ErrShutdownTimeout = manager.ErrShutdownTimeout

func LoadConfig(path string) (*Config, error) { return config.Load(path) }

// New validates specs and builds a monitor for them. Call Run to start supervising.
func New(specs []Spec, opts ...Option) (*Monitor, error) {
	reg, err := registry.New(specs)
	if err != nil {
		return nil, err
	}
	return manager.New(reg, opts...), nil
}

// NewFromConfig builds a monitor from a loaded config. Options given here are
// applied after the ones derived from c.
func NewFromConfig(c *Config, opts ...Option) (*Monitor, error) {
	reg, err := c.Registry()
	if err != nil {
		return nil, err
	}
	e, err := c.BuildEnv()
	if err != nil {
		return nil, err
	}
	base := []Option{
		manager.WithTickInterval(c.TickInterval),
		manager.WithProbeTimeout(c.ProbeTimeout),
		manager.WithFailureThreshold(c.FailureThreshold),
		manager.WithRestartGrace(c.RestartGrace),
		manager.WithEnv(e),
		manager.WithUsageSampling(c.Metrics.ProcessUsage),
	}
	return manager.New(reg, append(base, opts...)...), nil
}

// OpenHistory opens one sink per DSN and starts a recorder over them.
// With no DSNs it returns nil, which WithHistory accepts.
func OpenHistory(dsns []string, log *slog.Logger) (*HistoryRecorder, error) {
	if len(dsns) == 0 {
		return nil, nil
	}
	sinks, err := factory.NewSinks(dsns)
	if err != nil {
		return nil, err
	}
	return history.NewRecorder(log, sinks...), nil
}

// NewStatusHandler returns the read-only status API for m mounted under basePath.
func NewStatusHandler(m *Monitor, basePath string) http.Handler {
	return server.NewRouter(m, basePath).Handler()
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }
func MetricsHandler() http.Handler                  { return metrics.Handler() }

// ServeMetrics starts an HTTP server on addr exposing /metrics using the default registry.
// It returns any immediate listen error; otherwise it runs the server in the caller goroutine.
func ServeMetrics(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}
