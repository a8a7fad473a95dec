package manager

import (
	"time"

	"github.com/loykin/watchdog/internal/policy"
)

// ServiceStatus is a read-only view of one service.
type ServiceStatus struct {
	Name                string    `json:"name"`
	Status              string    `json:"status"`
	Running             bool      `json:"running"`
	PID                 int       `json:"pid,omitempty"`
	StartedAt           time.Time `json:"started_at,omitzero"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	Restarts            int       `json:"restarts"`
	LastExit            string    `json:"last_exit,omitempty"`
	LastProbeAt         time.Time `json:"last_probe_at,omitzero"`
	LastProbeOK         bool      `json:"last_probe_ok"`
	HealthURL           string    `json:"health_url"`
}

func toStatus(rt policy.Runtime, healthURL string) ServiceStatus {
	return ServiceStatus{
		Name:                rt.Name,
		Status:              rt.Status.String(),
		Running:             rt.Attached,
		PID:                 rt.PID,
		StartedAt:           rt.StartedAt,
		ConsecutiveFailures: rt.ConsecutiveFailures,
		Restarts:            rt.Restarts(),
		LastExit:            rt.LastExit,
		LastProbeAt:         rt.LastProbeAt,
		LastProbeOK:         rt.LastProbeOK,
		HealthURL:           healthURL,
	}
}

// Snapshot returns the status of every service in registry order.
func (m *Monitor) Snapshot() []ServiceStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ServiceStatus, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, toStatus(e.snap, e.spec.HealthCheckURL))
	}
	return out
}

// Status returns the status of one service.
func (m *Monitor) Status(name string) (ServiceStatus, bool) {
	e, ok := m.byName[name]
	if !ok {
		return ServiceStatus{}, false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return toStatus(e.snap, e.spec.HealthCheckURL), true
}
