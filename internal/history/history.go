package history

import (
	"context"
	"time"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventStart        EventType = "start"
	EventExit         EventType = "exit"
	EventUnhealthy    EventType = "unhealthy"
	EventRestart      EventType = "restart"
	EventSpawnFailure EventType = "spawn_failure"
	EventStop         EventType = "stop"
)

// Record is the service state captured with an event.
type Record struct {
	Name                string `json:"name"`
	PID                 int    `json:"pid"`
	Status              string `json:"status"`
	Restarts            int    `json:"restarts"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	// Detail carries the exit description, spawn error or probe error.
	Detail string `json:"detail,omitempty"`
}

// Event represents a lifecycle event to be exported to external systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Record     Record    `json:"record"`
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}
