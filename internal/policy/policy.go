// Package policy holds the per-service restart state machine. It performs no
// I/O: the monitor reports observations and executes the returned decisions.
package policy

import "time"

// DefaultFailureThreshold is the number of consecutive failed probes that
// triggers a restart. One failure is tolerated to absorb transient stalls.
const DefaultFailureThreshold = 2

// Status is the lifecycle state of a supervised service.
type Status int32

const (
	StatusStopped Status = iota
	StatusStarting
	StatusRunning
	StatusUnhealthy
	StatusRestarting
	StatusShuttingDown
)

func (s Status) String() string {
	switch s {
	case StatusStopped:
		return "stopped"
	case StatusStarting:
		return "starting"
	case StatusRunning:
		return "running"
	case StatusUnhealthy:
		return "unhealthy"
	case StatusRestarting:
		return "restarting"
	case StatusShuttingDown:
		return "shutting_down"
	default:
		return "unknown"
	}
}

// Decision is the action the monitor must take next for a service.
type Decision int

const (
	DecisionNone    Decision = iota
	DecisionStart            // launch a new process
	DecisionProbe            // run a health probe
	DecisionRestart          // terminate, wait the restart delay, relaunch
)

func (d Decision) String() string {
	switch d {
	case DecisionNone:
		return "none"
	case DecisionStart:
		return "start"
	case DecisionProbe:
		return "probe"
	case DecisionRestart:
		return "restart"
	default:
		return "unknown"
	}
}

// Runtime is the mutable record of one service. It is created once per
// service and reused across restarts.
type Runtime struct {
	Name                string
	Status              Status
	Attached            bool // a process handle is held
	PID                 int
	ConsecutiveFailures int
	Launches            int
	StartedAt           time.Time
	LastExit            string
	LastProbeAt         time.Time
	LastProbeOK         bool
}

// NewRuntime returns the initial record for a service.
func NewRuntime(name string) Runtime {
	return Runtime{Name: name, Status: StatusStopped}
}

// Restarts counts launches after the first.
func (rt Runtime) Restarts() int {
	if rt.Launches <= 1 {
		return 0
	}
	return rt.Launches - 1
}

// Engine applies the restart policy.
type Engine struct {
	Threshold int // consecutive probe failures before a restart; DefaultFailureThreshold when <= 0
}

func (e Engine) threshold() int {
	if e.Threshold <= 0 {
		return DefaultFailureThreshold
	}
	return e.Threshold
}

// Next decides the tick action for a service.
func (e Engine) Next(rt *Runtime) Decision {
	switch {
	case rt.Status == StatusShuttingDown:
		return DecisionNone
	case !rt.Attached:
		return DecisionStart
	case rt.Status == StatusRestarting:
		// a previous termination could not be confirmed
		return DecisionRestart
	default:
		return DecisionProbe
	}
}

// Starting marks a launch attempt in progress.
func (e Engine) Starting(rt *Runtime) {
	if rt.Status == StatusShuttingDown {
		return
	}
	rt.Status = StatusStarting
}

// Launched records a successful spawn. The failure counter restarts from zero.
func (e Engine) Launched(rt *Runtime, pid int, at time.Time) {
	rt.Attached = true
	rt.PID = pid
	rt.StartedAt = at
	rt.ConsecutiveFailures = 0
	rt.Launches++
	if rt.Status != StatusShuttingDown {
		rt.Status = StatusRunning
	}
}

// SpawnFailed records a launch that never produced a process. It is treated
// as an immediate crash; the caller applies the restart delay.
func (e Engine) SpawnFailed(rt *Runtime, cause string) {
	rt.Attached = false
	rt.PID = 0
	rt.LastExit = cause
	if rt.Status != StatusShuttingDown {
		rt.Status = StatusRestarting
	}
}

// Exited records that the held process is gone.
func (e Engine) Exited(rt *Runtime, detail string) {
	rt.Attached = false
	rt.PID = 0
	rt.LastExit = detail
	if rt.Status != StatusShuttingDown {
		rt.Status = StatusStopped
	}
}

// ProbeResult folds a probe outcome into the runtime and reports whether the
// service must be restarted. Failures only accumulate while Running or
// Unhealthy.
func (e Engine) ProbeResult(rt *Runtime, ok bool, at time.Time) Decision {
	if rt.Status != StatusRunning && rt.Status != StatusUnhealthy {
		return DecisionNone
	}
	rt.LastProbeAt = at
	rt.LastProbeOK = ok
	if ok {
		rt.ConsecutiveFailures = 0
		rt.Status = StatusRunning
		return DecisionNone
	}
	rt.ConsecutiveFailures++
	rt.Status = StatusUnhealthy
	if rt.ConsecutiveFailures >= e.threshold() {
		rt.Status = StatusRestarting
		return DecisionRestart
	}
	return DecisionNone
}

// Terminated records that the monitor killed the process on purpose.
func (e Engine) Terminated(rt *Runtime) {
	rt.Attached = false
	rt.PID = 0
	if rt.Status != StatusShuttingDown {
		rt.Status = StatusRestarting
	}
}

// ShutDown excludes the service from further ticks.
func (e Engine) ShutDown(rt *Runtime) {
	rt.Status = StatusShuttingDown
}
