package detector

import "context"

// Detector is a strategy that determines if a service is healthy.
// It must be safe for concurrent use.
type Detector interface {
	// Alive returns true if the service is detected as healthy. Implementations
	// express ordinary failures as false; the error is informational.
	Alive(ctx context.Context) (bool, error)
	// Describe returns a human-readable description of the detection method.
	Describe() string
}
