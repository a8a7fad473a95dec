// Package env composes the environment handed to supervised children.
package env

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultProduction is the override that tells children they run in production.
const DefaultProduction = "APP_ENV=production"

type Var map[string]string

type Env struct {
	Var   Var // global variables (K->V)
	env   Var // cached base from OS environment
	force Var // applied after per-service variables
}

func New() *Env {
	return &Env{
		Var: make(Var),
	}
}

// FromOS caches the current process environment as the base.
func (e *Env) FromOS() {
	e.env = parsePairs(os.Environ())
}

// Set sets a global variable K=V.
func (e *Env) Set(k, v string) {
	if e.Var == nil {
		e.Var = make(Var)
	}
	e.Var[k] = v
}

// SetPairs applies a list of "K=V" entries as global variables. Malformed
// entries are ignored.
func (e *Env) SetPairs(kvs []string) {
	for k, v := range parsePairs(kvs) {
		e.Set(k, v)
	}
}

// Force sets "K=V" entries that win over every other source, including
// per-service variables.
func (e *Env) Force(kvs ...string) {
	if e.force == nil {
		e.force = make(Var)
	}
	for k, v := range parsePairs(kvs) {
		e.force[k] = v
	}
}

// Unset removes a global variable.
func (e *Env) Unset(k string) {
	if e.Var != nil {
		delete(e.Var, k)
	}
}

// LoadFile applies a simple .env file (KEY=VALUE lines, # comments) as global
// variables.
func (e *Env) LoadFile(path string) error {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return err
	}
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i > 0 {
			e.Set(strings.TrimSpace(line[:i]), strings.TrimSpace(line[i+1:]))
		}
	}
	return nil
}

// Merge composes the final environment list applying order:
// base = OS env (or cached)
// then apply global e.Var overrides
// then apply perService (slice of "K=V") overrides
// then apply forced entries
// ${VAR} references are expanded against the composed map (no recursion).
// The result is sorted by key.
func (e *Env) Merge(perService []string) []string {
	if e.env == nil {
		e.FromOS()
	}
	m := make(Var, len(e.env)+len(e.Var)+len(perService))
	for k, v := range e.env {
		m[k] = v
	}
	for k, v := range e.Var {
		if k == "" {
			continue
		}
		m[k] = v
	}
	for k, v := range parsePairs(perService) {
		m[k] = v
	}
	for k, v := range e.force {
		m[k] = v
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+expand(m[k], m))
	}
	return out
}

func parsePairs(kvs []string) Var {
	m := make(Var, len(kvs))
	for _, kv := range kvs {
		if i := strings.IndexByte(kv, '='); i > 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	return m
}

func expand(s string, m Var) string {
	if !strings.Contains(s, "${") {
		return s
	}
	res := s
	for k, v := range m {
		res = strings.ReplaceAll(res, "${"+k+"}", v)
	}
	return res
}
