package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/loykin/watchdog/internal/logger"
)

// killWait bounds how long Terminate waits for the exit observer after SIGKILL.
const killWait = 5 * time.Second

// pipeDrainDelay bounds how long Wait keeps copying output after the child exits.
const pipeDrainDelay = 2 * time.Second

// Exit describes a finished child process.
type Exit struct {
	Name     string
	PID      int
	Code     int // -1 when terminated by a signal
	Err      error
	Stopping bool // true when the exit followed a Terminate request
	At       time.Time
}

func (e Exit) String() string {
	if e.Code >= 0 {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "exited"
}

// ExitFunc receives exit notifications from the observer goroutine.
type ExitFunc func(Exit)

// Process owns one running child. It is created by Start and never reused:
// a relaunch produces a new Process.
type Process struct {
	spec      Spec
	cmd       *exec.Cmd
	pid       int
	startedAt time.Time
	log       *slog.Logger

	done     chan struct{} // closed by the observer once cmd.Wait returns
	stopping atomic.Bool

	mu      sync.Mutex
	exit    *Exit
	closers []io.Closer
}

// Start spawns the child described by spec with the given environment and
// attaches an exit observer. Output lines are forwarded to log tagged with the
// service name. onExit, when non-nil, is called once from the observer
// goroutine after the process has been reaped.
func Start(spec Spec, env []string, log *slog.Logger, onExit ExitFunc) (*Process, error) {
	if log == nil {
		log = logger.Discard()
	}
	log = log.With(logger.Service(spec.Name))

	cmd := spec.BuildCommand()
	if spec.WorkDir != "" {
		cmd.Dir = spec.WorkDir
	}
	if len(env) > 0 {
		cmd.Env = env
	}
	configureSysProcAttr(cmd)
	cmd.WaitDelay = pipeDrainDelay

	p := &Process{spec: spec, cmd: cmd, log: log, done: make(chan struct{})}

	outFile, errFile, err := spec.Log.Writers(spec.Name)
	if err != nil {
		log.Warn("output files unavailable", "err", err)
	}
	stdout := newLineWriter(log, slog.LevelInfo, "stdout", outFile)
	stderr := newLineWriter(log, slog.LevelWarn, "stderr", errFile)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	p.closers = append(p.closers, stdout, stderr)

	if err := cmd.Start(); err != nil {
		p.closeWriters()
		return nil, fmt.Errorf("spawn %s: %w", spec.Name, err)
	}
	p.pid = cmd.Process.Pid
	p.startedAt = time.Now()

	go p.observe(onExit)
	return p, nil
}

// observe is the single waiter for the child.
func (p *Process) observe(onExit ExitFunc) {
	err := p.cmd.Wait()
	e := Exit{
		Name:     p.spec.Name,
		PID:      p.pid,
		Code:     exitCode(p.cmd, err),
		Err:      err,
		Stopping: p.stopping.Load(),
		At:       time.Now(),
	}
	p.closeWriters()

	p.mu.Lock()
	p.exit = &e
	p.mu.Unlock()
	close(p.done)

	if onExit != nil {
		onExit(e)
	}
}

func exitCode(cmd *exec.Cmd, err error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode()
	}
	return -1
}

// PID returns the OS process id.
func (p *Process) PID() int { return p.pid }

// StartedAt returns when the child was spawned.
func (p *Process) StartedAt() time.Time { return p.startedAt }

// Spec returns the spec the process was launched from.
func (p *Process) Spec() Spec { return p.spec }

// Done is closed once the child has exited and been reaped.
func (p *Process) Done() <-chan struct{} { return p.done }

// Alive reports, without blocking, whether the child is still running.
func (p *Process) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// ExitInfo returns the exit record once the child has exited.
func (p *Process) ExitInfo() (Exit, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exit == nil {
		return Exit{}, false
	}
	return *p.exit, true
}

// Terminate asks the process group to stop with SIGTERM, waits up to grace,
// and escalates to SIGKILL. It returns once the child has been reaped (or the
// post-kill wait expired) and reports whether the forced path was taken.
func (p *Process) Terminate(grace time.Duration) (forced bool) {
	return p.TerminateContext(context.Background(), grace)
}

// TerminateContext is Terminate with an early escalation: when ctx is done
// before grace elapses, SIGKILL is sent at that moment.
func (p *Process) TerminateContext(ctx context.Context, grace time.Duration) (forced bool) {
	if !p.Alive() {
		return false
	}
	p.stopping.Store(true)
	_ = signalGroup(p.pid, syscall.SIGTERM)

	t := time.NewTimer(grace)
	defer t.Stop()
	select {
	case <-p.done:
		return false
	case <-t.C:
	case <-ctx.Done():
	}

	_ = signalGroup(p.pid, syscall.SIGKILL)
	k := time.NewTimer(killWait)
	defer k.Stop()
	select {
	case <-p.done:
	case <-k.C:
		p.log.Error("process did not exit after SIGKILL", "pid", p.pid)
	}
	return true
}

func (p *Process) closeWriters() {
	p.mu.Lock()
	closers := p.closers
	p.closers = nil
	p.mu.Unlock()
	for _, c := range closers {
		_ = c.Close()
	}
}
