//go:build unix

package manager

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/loykin/watchdog/internal/history"
	"github.com/loykin/watchdog/internal/logger"
	"github.com/loykin/watchdog/internal/process"
	"github.com/loykin/watchdog/internal/registry"
)

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func testLogger(w *syncBuffer) *slog.Logger {
	return slog.New(logger.NewLineHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}, false))
}

// healthServer answers with the status returned by respond for the n-th request (1-based).
type healthServer struct {
	*httptest.Server
	hits atomic.Int32
}

func newHealthServer(t *testing.T, respond func(n int32) int) *healthServer {
	t.Helper()
	hs := &healthServer{}
	hs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(respond(hs.hits.Add(1)))
	}))
	t.Cleanup(hs.Close)
	return hs
}

func always(code int) func(int32) int { return func(int32) int { return code } }

func svc(name, healthURL, command string, args ...string) process.Spec {
	return process.Spec{
		Name:           name,
		Command:        command,
		Args:           args,
		HealthCheckURL: healthURL,
		RestartDelay:   50 * time.Millisecond,
		CheckInterval:  time.Second,
	}
}

func newMonitor(t *testing.T, specs []process.Spec, opts ...Option) *Monitor {
	t.Helper()
	reg, err := registry.New(specs)
	require.NoError(t, err)
	return New(reg, opts...)
}

// runMonitor starts m in the background and shuts it down when the test ends.
func runMonitor(t *testing.T, m *Monitor) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- m.Run(ctx) }()
	t.Cleanup(func() {
		_ = m.Shutdown(time.Second)
		cancel()
		<-errc
	})
}

func pidAlive(pid int) bool {
	return pid > 0 && syscall.Kill(pid, 0) == nil
}

func status(t *testing.T, m *Monitor, name string) ServiceStatus {
	t.Helper()
	st, ok := m.Status(name)
	require.True(t, ok, "unknown service %s", name)
	return st
}

type memSink struct {
	mu     sync.Mutex
	events []history.Event
}

func (s *memSink) Send(_ context.Context, e history.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *memSink) types(name string) []history.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []history.EventType
	for _, e := range s.events {
		if e.Record.Name == name {
			out = append(out, e.Type)
		}
	}
	return out
}

func readPIDs(t *testing.T, dir string) []int {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(dir, "pids"))
	if err != nil {
		return nil
	}
	var pids []int
	for _, f := range strings.Fields(string(b)) {
		if pid, err := strconv.Atoi(f); err == nil {
			pids = append(pids, pid)
		}
	}
	return pids
}
