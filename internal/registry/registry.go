// Package registry holds the validated, immutable set of supervised services.
package registry

import (
	"errors"
	"fmt"

	"github.com/loykin/watchdog/internal/process"
)

// Registry is the static service table. It is safe for concurrent reads.
type Registry struct {
	specs []process.Spec
	index map[string]int
}

// New validates every spec and freezes the table. All problems are reported
// together; any error is fatal for the supervisor.
func New(specs []process.Spec) (*Registry, error) {
	if len(specs) == 0 {
		return nil, errors.New("no services configured")
	}
	var errs []error
	index := make(map[string]int, len(specs))
	for i, s := range specs {
		if err := s.Validate(); err != nil {
			errs = append(errs, err)
		}
		if s.Name == "" {
			continue
		}
		if _, dup := index[s.Name]; dup {
			errs = append(errs, fmt.Errorf("duplicate service name %q", s.Name))
			continue
		}
		index[s.Name] = i
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("invalid service configuration: %w", err)
	}
	return &Registry{specs: clone(specs), index: index}, nil
}

// Specs returns a copy of the service table in configuration order.
func (r *Registry) Specs() []process.Spec { return clone(r.specs) }

// Lookup returns the spec registered under name.
func (r *Registry) Lookup(name string) (process.Spec, bool) {
	i, ok := r.index[name]
	if !ok {
		return process.Spec{}, false
	}
	return cloneSpec(r.specs[i]), true
}

// Len returns the number of services.
func (r *Registry) Len() int { return len(r.specs) }

func clone(in []process.Spec) []process.Spec {
	out := make([]process.Spec, len(in))
	for i, s := range in {
		out[i] = cloneSpec(s)
	}
	return out
}

func cloneSpec(s process.Spec) process.Spec {
	s.Args = append([]string(nil), s.Args...)
	s.Env = append([]string(nil), s.Env...)
	return s
}
