package process

import (
	"errors"
	"fmt"
	"net/url"
	"os/exec"
	"strings"
	"time"

	"github.com/loykin/watchdog/internal/logger"
)

// Spec describes a supervised service: how to launch it and how to probe it.
// A Spec is immutable once the registry has accepted it.
type Spec struct {
	Name           string        `json:"name"`
	Command        string        `json:"command"`        // executable, or a shell line when Args is empty
	Args           []string      `json:"args"`           // optional arguments passed verbatim
	WorkDir        string        `json:"work_dir"`       // optional working dir; defaults to the supervisor's
	Env            []string      `json:"env"`            // optional extra env
	HealthCheckURL string        `json:"health_url"`     // HTTP(S) liveness endpoint
	RestartDelay   time.Duration `json:"restart_delay"`  // wait after a kill or failed spawn before relaunching
	CheckInterval  time.Duration `json:"check_interval"` // nominal polling cadence, informational
	Log            logger.Config `json:"log"`            // optional rotated stdout/stderr files
}

// Validate reports every problem with the spec joined into one error.
func (s Spec) Validate() error {
	var errs []error
	if strings.TrimSpace(s.Name) == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if strings.TrimSpace(s.Command) == "" {
		errs = append(errs, fmt.Errorf("service %q: command is required", s.Name))
	}
	if err := validateHealthURL(s.HealthCheckURL); err != nil {
		errs = append(errs, fmt.Errorf("service %q: %w", s.Name, err))
	}
	if s.RestartDelay <= 0 {
		errs = append(errs, fmt.Errorf("service %q: restart_delay must be positive", s.Name))
	}
	if s.CheckInterval <= 0 {
		errs = append(errs, fmt.Errorf("service %q: check_interval must be positive", s.Name))
	}
	return errors.Join(errs...)
}

func validateHealthURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return errors.New("health_url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid health_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("health_url must use http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("health_url must include a host")
	}
	return nil
}

// BuildCommand constructs an *exec.Cmd for the spec.
// With explicit Args the command is executed directly. Without Args the
// Command string is split on whitespace, falling back to /bin/sh -c when shell
// metacharacters are present, and an explicit "sh -c ..." prefix is honoured
// without wrapping it in another shell.
func (s *Spec) BuildCommand() *exec.Cmd {
	cmdStr := strings.TrimSpace(s.Command)
	if len(s.Args) > 0 {
		// #nosec G204
		return exec.Command(cmdStr, s.Args...)
	}
	if afterC, ok := parseExplicitShell(cmdStr); ok {
		// #nosec G204
		return exec.Command("/bin/sh", "-c", afterC)
	}
	if strings.ContainsAny(cmdStr, "|&;<>*?`$\"'(){}[]~") {
		// #nosec G204
		return exec.Command("/bin/sh", "-c", cmdStr)
	}
	parts := strings.Fields(cmdStr)
	// #nosec G204
	return exec.Command(parts[0], parts[1:]...)
}

// parseExplicitShell detects "sh -c <ARG>" or "/bin/sh -c <ARG>" at the
// beginning of cmdStr and returns ARG with one pair of enclosing quotes removed.
func parseExplicitShell(cmdStr string) (string, bool) {
	trim := strings.TrimLeft(cmdStr, " \t")
	for _, p := range []string{"sh -c ", "/bin/sh -c ", "/usr/bin/sh -c "} {
		if !strings.HasPrefix(trim, p) {
			continue
		}
		after := trim[len(p):]
		if n := len(after); n >= 2 {
			if (after[0] == '\'' && after[n-1] == '\'') || (after[0] == '"' && after[n-1] == '"') {
				after = after[1 : n-1]
			}
		}
		return after, true
	}
	return "", false
}
