package process

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/loykin/watchdog/internal/logger"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tests require sh/sleep on Unix-like systems")
	}
}

// syncBuffer is a goroutine-safe bytes.Buffer for capturing log output.
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

func waitExit(t *testing.T, p *Process, timeout time.Duration) {
	t.Helper()
	select {
	case <-p.Done():
	case <-time.After(timeout):
		t.Fatalf("process %d did not exit within %v", p.PID(), timeout)
	}
}

func TestStart_ForwardsOutputTaggedWithService(t *testing.T) {
	requireUnix(t)
	var buf syncBuffer
	spec := Spec{Name: "echoer", Command: "sh -c 'echo out-line; echo err-line 1>&2'"}
	p, err := Start(spec, nil, testLogger(&buf), nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	waitExit(t, p, 3*time.Second)

	out := buf.String()
	if !strings.Contains(out, "[echoer] "+logger.SymbolInfo+" out-line stream=stdout") {
		t.Fatalf("stdout line missing: %q", out)
	}
	if !strings.Contains(out, "[echoer] "+logger.SymbolWarn+" err-line stream=stderr") {
		t.Fatalf("stderr line missing: %q", out)
	}
}

func TestStart_AppliesEnvWorkdirAndFiles(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	work := filepath.Join(dir, "work")
	if err := os.MkdirAll(work, 0o755); err != nil {
		t.Fatal(err)
	}
	logs := filepath.Join(dir, "logs")
	spec := Spec{
		Name:    "cfg",
		Command: "sh -c 'echo $FOO; pwd'",
		WorkDir: work,
		Log:     logger.Config{Dir: logs},
	}
	p, err := Start(spec, []string{"FOO=bar", "PATH=" + os.Getenv("PATH")}, nil, nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	waitExit(t, p, 3*time.Second)

	b, err := os.ReadFile(filepath.Join(logs, "cfg.stdout.log"))
	if err != nil {
		t.Fatalf("read stdout file: %v", err)
	}
	if !strings.Contains(string(b), "bar") || !strings.Contains(string(b), "work") {
		t.Fatalf("env or workdir not applied: %q", string(b))
	}
}

func TestStart_SpawnFailure(t *testing.T) {
	spec := Spec{Name: "missing", Command: "/definitely/not/here", Args: []string{"x"}}
	p, err := Start(spec, nil, nil, nil)
	if err == nil {
		t.Fatalf("expected spawn error, got process %d", p.PID())
	}
	if !strings.Contains(err.Error(), "missing") {
		t.Fatalf("error should name the service: %v", err)
	}
}

func TestExitObserver_ReportsCodeOnce(t *testing.T) {
	requireUnix(t)
	var mu sync.Mutex
	var exits []Exit
	p, err := Start(Spec{Name: "crash", Command: "sh -c 'exit 3'"}, nil, nil, func(e Exit) {
		mu.Lock()
		exits = append(exits, e)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	waitExit(t, p, 3*time.Second)
	if p.Alive() {
		t.Fatal("Alive must be false after Done is closed")
	}
	// onExit runs right after Done is closed
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(exits)
		mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(exits) != 1 {
		t.Fatalf("expected exactly one exit notification, got %d", len(exits))
	}
	e := exits[0]
	if e.Code != 3 || e.Name != "crash" || e.PID != p.PID() || e.Stopping {
		t.Fatalf("unexpected exit record: %+v", e)
	}
	if e.String() != "exit status 3" {
		t.Fatalf("unexpected exit string %q", e.String())
	}
	info, ok := p.ExitInfo()
	if !ok || info.Code != 3 {
		t.Fatalf("ExitInfo = %+v, %v", info, ok)
	}
}

func TestTerminate_GracefulExit(t *testing.T) {
	requireUnix(t)
	p, err := Start(Spec{Name: "polite", Command: "sleep", Args: []string{"30"}}, nil, nil, nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if !p.Alive() {
		t.Fatal("expected process alive after start")
	}
	start := time.Now()
	forced := p.Terminate(2 * time.Second)
	if forced {
		t.Fatal("sleep exits on SIGTERM; forced kill should not be needed")
	}
	if p.Alive() {
		t.Fatal("process still alive after Terminate")
	}
	if time.Since(start) > time.Second {
		t.Fatalf("graceful terminate took too long: %v", time.Since(start))
	}
	info, _ := p.ExitInfo()
	if !info.Stopping {
		t.Fatalf("exit after Terminate should be flagged as stopping: %+v", info)
	}
}

func TestTerminate_EscalatesToKill(t *testing.T) {
	requireUnix(t)
	// The shell ignores SIGTERM; only SIGKILL ends it.
	spec := Spec{Name: "stubborn", Command: "sh -c 'trap \"\" TERM; while true; do sleep 0.05; done'"}
	p, err := Start(spec, nil, nil, nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	time.Sleep(100 * time.Millisecond) // let the trap install
	start := time.Now()
	forced := p.Terminate(300 * time.Millisecond)
	elapsed := time.Since(start)
	if !forced {
		t.Fatal("expected forced kill")
	}
	if p.Alive() {
		t.Fatal("process still alive after forced kill")
	}
	if elapsed < 300*time.Millisecond || elapsed > 3*time.Second {
		t.Fatalf("unexpected terminate duration %v", elapsed)
	}
}

func TestTerminateContext_CancelEscalatesEarly(t *testing.T) {
	requireUnix(t)
	spec := Spec{Name: "stubborn", Command: "sh -c 'trap \"\" TERM; while true; do sleep 0.05; done'"}
	p, err := Start(spec, nil, nil, nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	start := time.Now()
	forced := p.TerminateContext(ctx, 10*time.Second)
	elapsed := time.Since(start)
	if !forced {
		t.Fatal("expected forced kill")
	}
	if p.Alive() {
		t.Fatal("process still alive after forced kill")
	}
	if elapsed > 3*time.Second {
		t.Fatalf("cancellation did not cut the grace short: %v", elapsed)
	}
}

func TestTerminate_AlreadyExitedIsNoop(t *testing.T) {
	requireUnix(t)
	p, err := Start(Spec{Name: "quick", Command: "true"}, nil, nil, nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	waitExit(t, p, 3*time.Second)
	if p.Terminate(time.Second) {
		t.Fatal("terminating an exited process must not report a forced kill")
	}
}

func TestSampleUsage_LiveProcess(t *testing.T) {
	requireUnix(t)
	p, err := Start(Spec{Name: "sampled", Command: "sleep", Args: []string{"5"}}, nil, nil, nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer p.Terminate(time.Second)
	u, err := p.SampleUsage()
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	if u.PID != p.PID() || u.RSSBytes == 0 {
		t.Fatalf("unexpected usage: %+v", u)
	}
}

func TestLineWriter_SplitsAndFlushes(t *testing.T) {
	var buf syncBuffer
	w := newLineWriter(testLogger(&buf), slog.LevelInfo, "stdout", nil)
	_, _ = w.Write([]byte("first\nsec"))
	_, _ = w.Write([]byte("ond\r\n\npartial"))
	if strings.Contains(buf.String(), "partial") {
		t.Fatal("partial line must be buffered until newline or close")
	}
	_ = w.Close()
	out := buf.String()
	for _, want := range []string{" first stream=stdout", " second stream=stdout", " partial stream=stdout"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in %q", want, out)
		}
	}
	if strings.Count(out, "\n") != 3 {
		t.Fatalf("blank lines should be skipped: %q", out)
	}
}
