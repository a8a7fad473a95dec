package manager

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loykin/watchdog/internal/detector"
	"github.com/loykin/watchdog/internal/env"
	"github.com/loykin/watchdog/internal/history"
	"github.com/loykin/watchdog/internal/logger"
	"github.com/loykin/watchdog/internal/metrics"
	"github.com/loykin/watchdog/internal/policy"
	"github.com/loykin/watchdog/internal/process"
	"github.com/loykin/watchdog/internal/registry"
)

const (
	DefaultTickInterval  = 5 * time.Second
	DefaultRestartGrace  = time.Second
	DefaultShutdownGrace = 2 * time.Second

	inboxSize = 4
)

// ErrClosed is returned by Run when the monitor is already running or has been shut down.
var ErrClosed = errors.New("monitor already running or shut down")

// Monitor owns the runtime table and drives every service through the
// restart policy on a fixed tick.
type Monitor struct {
	tick         time.Duration
	probeTimeout time.Duration
	restartGrace time.Duration
	engine       policy.Engine
	log          *slog.Logger
	env          *env.Env
	rec          *history.Recorder
	sampleUsage  bool

	entries []*entry
	byName  map[string]*entry

	mu sync.RWMutex // guards entry.snap

	lifeMu   sync.Mutex
	started  bool
	closed   bool
	cancel   context.CancelFunc
	loopDone chan struct{}

	// kill is cancelled once the shutdown grace has elapsed; every
	// termination in progress escalates to SIGKILL at that point.
	kill    context.Context
	killNow context.CancelFunc
}

// entry is the monitor's record for one service. rt and proc belong to
// whichever goroutine holds busy.
type entry struct {
	spec  process.Spec
	probe detector.Detector
	inbox chan process.Exit
	busy  atomic.Bool

	// evalDone is closed when the evaluation holding busy returns. Written
	// only by the tick loop.
	evalDone chan struct{}

	rt   policy.Runtime
	proc *process.Process

	snap policy.Runtime
}

// New builds a monitor for every service in reg. Nothing is started until Run.
func New(reg *registry.Registry, opts ...Option) *Monitor {
	m := &Monitor{
		tick:         DefaultTickInterval,
		probeTimeout: detector.DefaultProbeTimeout,
		restartGrace: DefaultRestartGrace,
		engine:       policy.Engine{Threshold: policy.DefaultFailureThreshold},
		log:          logger.Discard(),
		byName:       make(map[string]*entry),
		loopDone:     make(chan struct{}),
	}
	m.kill, m.killNow = context.WithCancel(context.Background())
	for _, o := range opts {
		o(m)
	}
	if m.env == nil {
		m.env = env.New()
		m.env.FromOS()
	}
	for _, spec := range reg.Specs() {
		e := &entry{
			spec:  spec,
			probe: detector.HTTPDetector{URL: spec.HealthCheckURL, Timeout: m.probeTimeout},
			inbox: make(chan process.Exit, inboxSize),
			rt:    policy.NewRuntime(spec.Name),
		}
		e.snap = e.rt
		m.entries = append(m.entries, e)
		m.byName[spec.Name] = e
		metrics.SetCurrentState(spec.Name, e.rt.Status.String(), true)
	}
	return m
}

// Run evaluates every service immediately and then once per tick until ctx is
// cancelled or Shutdown is called.
func (m *Monitor) Run(ctx context.Context) error {
	m.lifeMu.Lock()
	if m.started || m.closed {
		m.lifeMu.Unlock()
		return ErrClosed
	}
	m.started = true
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.lifeMu.Unlock()
	defer close(m.loopDone)
	defer cancel()

	m.log.Info("monitor started", "services", len(m.entries), "tick", m.tick.String())
	m.dispatch(ctx)

	t := time.NewTicker(m.tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			m.dispatch(ctx)
		}
	}
}

// dispatch starts one evaluation per idle service without waiting for any of them.
func (m *Monitor) dispatch(ctx context.Context) {
	for _, e := range m.entries {
		if !e.busy.CompareAndSwap(false, true) {
			m.log.Debug("previous evaluation still running", logger.Service(e.spec.Name))
			continue
		}
		done := make(chan struct{})
		e.evalDone = done
		go func(e *entry) {
			defer close(done)
			defer e.busy.Store(false)
			m.evaluate(ctx, e)
		}(e)
	}
}

func (m *Monitor) evaluate(ctx context.Context, e *entry) {
	if ctx.Err() != nil {
		return
	}
	m.drainInbox(e)
	m.reapIfExited(e)

	switch m.engine.Next(&e.rt) {
	case policy.DecisionStart:
		m.launch(ctx, e)
	case policy.DecisionProbe:
		m.probe(ctx, e)
	case policy.DecisionRestart:
		m.restart(ctx, e)
	}
}

// notify is the exit observer callback. It never blocks; a full inbox is
// covered by reapIfExited.
func (m *Monitor) notify(e *entry, x process.Exit) {
	select {
	case e.inbox <- x:
	default:
	}
}

func (m *Monitor) drainInbox(e *entry) {
	for {
		select {
		case x := <-e.inbox:
			m.handleExit(e, x)
		default:
			return
		}
	}
}

// reapIfExited catches exits whose notification has not reached the inbox yet.
func (m *Monitor) reapIfExited(e *entry) {
	if e.proc == nil || e.proc.Alive() {
		return
	}
	if x, ok := e.proc.ExitInfo(); ok {
		m.handleExit(e, x)
	}
}

// handleExit clears the handle if x belongs to the current process. Messages
// about earlier processes are ignored.
func (m *Monitor) handleExit(e *entry, x process.Exit) {
	if e.proc == nil || x.PID != e.proc.PID() || x.At.Before(e.proc.StartedAt()) {
		return
	}
	from := e.rt.Status
	e.proc = nil
	m.engine.Exited(&e.rt, x.String())
	metrics.IncExit(e.spec.Name, x.Stopping)
	if x.Stopping {
		m.log.Info("process stopped", logger.Service(e.spec.Name), "pid", x.PID, "code", x.Code)
	} else {
		m.log.Warn("process exited unexpectedly", logger.Service(e.spec.Name), "pid", x.PID, "code", x.Code)
	}
	m.record(e, history.EventExit, x.String())
	m.publish(e, from)
}

func (m *Monitor) launch(ctx context.Context, e *entry) {
	if ctx.Err() != nil {
		return
	}
	from := e.rt.Status
	m.engine.Starting(&e.rt)
	m.publish(e, from)

	from = e.rt.Status
	p, err := process.Start(e.spec, m.env.Merge(e.spec.Env), m.log, func(x process.Exit) { m.notify(e, x) })
	if err != nil {
		m.engine.SpawnFailed(&e.rt, err.Error())
		metrics.IncSpawnFailure(e.spec.Name)
		m.log.Error("failed to start process", logger.Service(e.spec.Name), "err", err,
			"retry_in", e.spec.RestartDelay.String())
		m.record(e, history.EventSpawnFailure, err.Error())
		m.publish(e, from)
		m.sleep(ctx, e.spec.RestartDelay)
		return
	}

	e.proc = p
	m.engine.Launched(&e.rt, p.PID(), p.StartedAt())
	metrics.IncStart(e.spec.Name)
	metrics.SetConsecutiveFailures(e.spec.Name, 0)
	if e.rt.Launches > 1 {
		metrics.IncRestart(e.spec.Name)
	}
	m.log.Info("process started", logger.Service(e.spec.Name), logger.Start(), "pid", p.PID())
	m.record(e, history.EventStart, "")
	m.publish(e, from)
}

func (m *Monitor) probe(ctx context.Context, e *entry) {
	pctx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	began := time.Now()
	ok, err := e.probe.Alive(pctx)
	cancel()
	if ctx.Err() != nil {
		// shutting down; a cancelled probe is not a failure
		return
	}
	metrics.ObserveProbe(e.spec.Name, ok, time.Since(began).Seconds())

	// the process may have died while the probe was in flight
	m.reapIfExited(e)
	if e.proc == nil {
		return
	}
	if m.sampleUsage {
		m.sample(e)
	}

	from := e.rt.Status
	d := m.engine.ProbeResult(&e.rt, ok, time.Now())
	metrics.SetConsecutiveFailures(e.spec.Name, e.rt.ConsecutiveFailures)
	switch {
	case !ok:
		m.log.Warn("health check failed", logger.Service(e.spec.Name),
			"url", e.spec.HealthCheckURL, "failures", e.rt.ConsecutiveFailures,
			"threshold", m.engine.Threshold, "err", err)
		m.record(e, history.EventUnhealthy, errString(err))
	case from == policy.StatusUnhealthy:
		m.log.Info("health check recovered", logger.Service(e.spec.Name))
	}
	m.publish(e, from)

	if d == policy.DecisionRestart {
		m.restart(ctx, e)
	}
}

// restart terminates the current process, waits the restart delay and
// launches a replacement. If the old process cannot be confirmed gone the
// handle is kept and the next tick retries the termination.
func (m *Monitor) restart(ctx context.Context, e *entry) {
	if e.proc != nil {
		pid := e.proc.PID()
		m.log.Warn("terminating unhealthy process", logger.Service(e.spec.Name), "pid", pid,
			"failures", e.rt.ConsecutiveFailures)
		m.record(e, history.EventRestart, "")
		if forced := e.proc.TerminateContext(m.kill, m.restartGrace); forced {
			metrics.IncForcedKill(e.spec.Name)
			m.log.Error("process ignored SIGTERM, killed", logger.Service(e.spec.Name), "pid", pid)
		}
		if e.proc.Alive() {
			m.log.Error("process still alive after kill", logger.Service(e.spec.Name), "pid", pid)
			return
		}
		x, _ := e.proc.ExitInfo()
		from := e.rt.Status
		e.proc = nil
		m.engine.Terminated(&e.rt)
		metrics.IncExit(e.spec.Name, true)
		m.log.Info("process stopped", logger.Service(e.spec.Name), "pid", pid, "code", x.Code)
		m.publish(e, from)
	}
	if !m.sleep(ctx, e.spec.RestartDelay) {
		return
	}
	m.launch(ctx, e)
}

func (m *Monitor) sample(e *entry) {
	u, err := e.proc.SampleUsage()
	if err != nil {
		m.log.Debug("usage sample failed", logger.Service(e.spec.Name), "err", err)
		return
	}
	metrics.SetUsage(e.spec.Name, u.RSSBytes, u.CPUPercent)
}

// sleep waits for d or until ctx is done. It reports whether the full delay elapsed.
func (m *Monitor) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// publish exposes the current runtime to readers and records the transition.
func (m *Monitor) publish(e *entry, from policy.Status) {
	snap := e.rt
	m.mu.Lock()
	e.snap = snap
	m.mu.Unlock()
	if from != snap.Status {
		metrics.RecordStateTransition(e.spec.Name, from.String(), snap.Status.String())
		metrics.SetCurrentState(e.spec.Name, from.String(), false)
		metrics.SetCurrentState(e.spec.Name, snap.Status.String(), true)
		m.log.Debug("state changed", logger.Service(e.spec.Name), "from", from.String(), "to", snap.Status.String())
	}
}

func (m *Monitor) record(e *entry, typ history.EventType, detail string) {
	if m.rec == nil {
		return
	}
	m.rec.Record(history.Event{
		Type:       typ,
		OccurredAt: time.Now().UTC(),
		Record: history.Record{
			Name:                e.spec.Name,
			PID:                 e.rt.PID,
			Status:              e.rt.Status.String(),
			Restarts:            e.rt.Restarts(),
			ConsecutiveFailures: e.rt.ConsecutiveFailures,
			Detail:              detail,
		},
	})
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
