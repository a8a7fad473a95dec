package client

import "time"

// ServiceStatus is the status of one supervised service as reported by the API.
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

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}
