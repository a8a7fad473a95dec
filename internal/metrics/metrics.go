package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	serviceStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "watchdog",
			Subsystem: "service",
			Name:      "starts_total",
			Help:      "Number of successful process launches.",
		}, []string{"name"},
	)
	serviceRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "watchdog",
			Subsystem: "service",
			Name:      "restarts_total",
			Help:      "Number of launches after the first one.",
		}, []string{"name"},
	)
	serviceExits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "watchdog",
			Subsystem: "service",
			Name:      "exits_total",
			Help:      "Number of observed process exits.",
		}, []string{"name", "expected"},
	)
	spawnFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "watchdog",
			Subsystem: "service",
			Name:      "spawn_failures_total",
			Help:      "Number of launches that failed to produce a process.",
		}, []string{"name"},
	)
	forcedKills = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "watchdog",
			Subsystem: "service",
			Name:      "forced_kills_total",
			Help:      "Number of terminations that escalated to SIGKILL.",
		}, []string{"name"},
	)
	probes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "watchdog",
			Subsystem: "health",
			Name:      "probes_total",
			Help:      "Number of health probes by result.",
		}, []string{"name", "result"},
	)
	probeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "watchdog",
			Subsystem: "health",
			Name:      "probe_duration_seconds",
			Help:      "Health probe latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"name"},
	)
	consecutiveFailures = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "watchdog",
			Subsystem: "health",
			Name:      "consecutive_failures",
			Help:      "Current run of failed probes per service.",
		}, []string{"name"},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "watchdog",
			Subsystem: "service",
			Name:      "state_transitions_total",
			Help:      "Number of state transitions between service states.",
		}, []string{"name", "from", "to"},
	)
	currentStates = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "watchdog",
			Subsystem: "service",
			Name:      "current_state",
			Help:      "Current state of services (1 = active state, 0 = inactive).",
		}, []string{"name", "state"},
	)
	rssBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "watchdog",
			Subsystem: "process",
			Name:      "resident_memory_bytes",
			Help:      "Resident set size of the supervised process.",
		}, []string{"name"},
	)
	cpuPercent = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "watchdog",
			Subsystem: "process",
			Name:      "cpu_percent",
			Help:      "CPU usage of the supervised process since it started.",
		}, []string{"name"},
	)
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		serviceStarts, serviceRestarts, serviceExits, spawnFailures, forcedKills,
		probes, probeDuration, consecutiveFailures, stateTransitions, currentStates,
		rssBytes, cpuPercent,
	}
}

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	for _, c := range collectors() {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncStart(name string) {
	if regOK.Load() {
		serviceStarts.WithLabelValues(name).Inc()
	}
}

func IncRestart(name string) {
	if regOK.Load() {
		serviceRestarts.WithLabelValues(name).Inc()
	}
}

func IncExit(name string, expected bool) {
	if regOK.Load() {
		serviceExits.WithLabelValues(name, boolLabel(expected)).Inc()
	}
}

func IncSpawnFailure(name string) {
	if regOK.Load() {
		spawnFailures.WithLabelValues(name).Inc()
	}
}

func IncForcedKill(name string) {
	if regOK.Load() {
		forcedKills.WithLabelValues(name).Inc()
	}
}

func ObserveProbe(name string, ok bool, seconds float64) {
	if regOK.Load() {
		result := "failure"
		if ok {
			result = "success"
		}
		probes.WithLabelValues(name, result).Inc()
		probeDuration.WithLabelValues(name).Observe(seconds)
	}
}

func SetConsecutiveFailures(name string, n int) {
	if regOK.Load() {
		consecutiveFailures.WithLabelValues(name).Set(float64(n))
	}
}

func RecordStateTransition(name, from, to string) {
	if regOK.Load() {
		stateTransitions.WithLabelValues(name, from, to).Inc()
	}
}

func SetCurrentState(name, state string, active bool) {
	if regOK.Load() {
		var value float64
		if active {
			value = 1
		}
		currentStates.WithLabelValues(name, state).Set(value)
	}
}

func SetUsage(name string, rss uint64, cpu float64) {
	if regOK.Load() {
		rssBytes.WithLabelValues(name).Set(float64(rss))
		cpuPercent.WithLabelValues(name).Set(cpu)
	}
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
