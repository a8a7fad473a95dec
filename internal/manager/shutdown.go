package manager

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/loykin/watchdog/internal/history"
	"github.com/loykin/watchdog/internal/logger"
	"github.com/loykin/watchdog/internal/metrics"
)

// shutdownSlack is added to the grace period to bound the whole shutdown.
const shutdownSlack = time.Second

// ErrShutdownTimeout is returned when children were still being terminated at the deadline.
var ErrShutdownTimeout = errors.New("shutdown deadline exceeded")

// Shutdown stops the tick loop, marks every service as shutting down and
// terminates all live processes in parallel, each with the given grace
// period before SIGKILL. Evaluations still running (a restart terminating its
// process, for instance) are waited for; their terminations are escalated to
// SIGKILL once grace has elapsed. It returns within grace plus one second.
// Calling it again is a no-op.
func (m *Monitor) Shutdown(grace time.Duration) error {
	if grace <= 0 {
		grace = DefaultShutdownGrace
	}
	ctx, cancelDeadline := context.WithTimeout(context.Background(), grace+shutdownSlack)
	defer cancelDeadline()

	m.lifeMu.Lock()
	if m.closed {
		m.lifeMu.Unlock()
		return nil
	}
	m.closed = true
	started, cancel := m.started, m.cancel
	m.lifeMu.Unlock()

	m.log.Info("shutting down", "grace", grace.String())
	hurry := time.AfterFunc(grace, m.killNow)
	defer hurry.Stop()
	defer m.killNow()
	if cancel != nil {
		cancel()
	}
	if started {
		<-m.loopDone
	}

	var g errgroup.Group
	for _, e := range m.entries {
		g.Go(func() error {
			m.stopEntry(ctx, e, grace)
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()
	select {
	case <-done:
		m.log.Info("all services stopped")
		return nil
	case <-ctx.Done():
		m.log.Error("services still stopping at shutdown deadline")
		return ErrShutdownTimeout
	}
}

// stopEntry takes ownership of e for good, marks it shutting down and
// terminates its process.
func (m *Monitor) stopEntry(ctx context.Context, e *entry, grace time.Duration) {
	if !m.acquire(ctx, e) {
		m.log.Warn("evaluation still in progress at shutdown deadline", logger.Service(e.spec.Name))
		return
	}
	from := e.rt.Status
	m.engine.ShutDown(&e.rt)
	m.publish(e, from)

	p := e.proc
	if p == nil {
		return
	}
	pid := p.PID()
	if forced := p.TerminateContext(m.kill, grace); forced {
		metrics.IncForcedKill(e.spec.Name)
		m.log.Error("process ignored SIGTERM, killed", logger.Service(e.spec.Name), "pid", pid)
	}
	if p.Alive() {
		return
	}
	e.proc = nil
	m.engine.Exited(&e.rt, "stopped by supervisor")
	m.log.Info("process stopped", logger.Service(e.spec.Name), "pid", pid)
	m.record(e, history.EventStop, "")
	m.publish(e, e.rt.Status)
}

// acquire sets e.busy, waiting for an in-flight evaluation to return. The
// tick loop has stopped, so once that evaluation is done nothing else can
// take the flag. busy is never released again.
func (m *Monitor) acquire(ctx context.Context, e *entry) bool {
	for !e.busy.CompareAndSwap(false, true) {
		select {
		case <-e.evalDone:
		case <-ctx.Done():
			return false
		}
	}
	return true
}
