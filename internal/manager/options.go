package manager

import (
	"log/slog"
	"time"

	"github.com/loykin/watchdog/internal/env"
	"github.com/loykin/watchdog/internal/history"
)

// Option configures a Monitor.
type Option func(*Monitor)

// WithTickInterval sets how often every service is evaluated.
func WithTickInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.tick = d
		}
	}
}

// WithProbeTimeout bounds each health probe.
func WithProbeTimeout(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.probeTimeout = d
		}
	}
}

// WithFailureThreshold sets the consecutive probe failures that trigger a restart.
func WithFailureThreshold(n int) Option {
	return func(m *Monitor) {
		if n > 0 {
			m.engine.Threshold = n
		}
	}
}

// WithRestartGrace sets the SIGTERM grace used when restarting an unhealthy service.
func WithRestartGrace(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.restartGrace = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) {
		if l != nil {
			m.log = l
		}
	}
}

// WithEnv sets the environment composed into every child's environment.
func WithEnv(e *env.Env) Option {
	return func(m *Monitor) {
		if e != nil {
			m.env = e
		}
	}
}

// WithHistory exports lifecycle events through r.
func WithHistory(r *history.Recorder) Option {
	return func(m *Monitor) { m.rec = r }
}

// WithUsageSampling records CPU and memory gauges for live children on each probe.
func WithUsageSampling(on bool) Option {
	return func(m *Monitor) { m.sampleUsage = on }
}
