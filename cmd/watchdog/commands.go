package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/loykin/watchdog"
	"github.com/loykin/watchdog/internal/logger"
	"github.com/loykin/watchdog/internal/server"
	"github.com/loykin/watchdog/pkg/client"
)

const serverShutdownTimeout = 5 * time.Second

var errConfigRequired = errors.New("config file required. Use --config=watchdog.toml or provide it as argument")

func resolveConfigPath(flag string, args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return flag
}

// runWatchdog supervises the configured services until ctx is cancelled or
// the process receives SIGINT/SIGTERM.
func runWatchdog(ctx context.Context, path string) error {
	if path == "" {
		return errConfigRequired
	}
	cfg, err := watchdog.LoadConfig(path)
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	log, closer := logger.New(cfg.LoggerOptions())
	defer func() { _ = closer.Close() }()

	rec, err := watchdog.OpenHistory(cfg.History.DSN, log)
	if err != nil {
		return fmt.Errorf("history: %w", err)
	}
	defer func() { _ = rec.Close() }()

	mon, err := buildMonitor(cfg, log, rec)
	if err != nil {
		return err
	}

	var servers []*server.Server
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
		defer cancel()
		for _, s := range servers {
			_ = s.Shutdown(sctx)
		}
	}()

	if cfg.Metrics.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", watchdog.MetricsHandler())
		ms, err := server.NewServer(cfg.Metrics.Listen, mux, log)
		if err != nil {
			return fmt.Errorf("metrics server: %w", err)
		}
		servers = append(servers, ms)
		log.Info("metrics server listening", "addr", ms.Addr())
	}
	if cfg.Server.Listen != "" {
		as, err := server.NewServer(cfg.Server.Listen, watchdog.NewStatusHandler(mon, cfg.Server.BasePath), log)
		if err != nil {
			return fmt.Errorf("status server: %w", err)
		}
		servers = append(servers, as)
		log.Info("status server listening", "addr", as.Addr(), "base", cfg.Server.BasePath)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := make(chan error, 1)
	go func() { runErr <- mon.Run(ctx) }()

	select {
	case <-ctx.Done():
	case err := <-runErr:
		if err != nil {
			return err
		}
	}
	stop()
	return mon.Shutdown(cfg.ShutdownGrace)
}

// buildMonitor registers the metrics before the monitor exists so that the
// initial state gauges it sets are exported.
func buildMonitor(cfg *watchdog.Config, log *slog.Logger, rec *watchdog.HistoryRecorder) (*watchdog.Monitor, error) {
	if cfg.Metrics.Listen != "" {
		if err := watchdog.RegisterMetricsDefault(); err != nil {
			log.Warn("failed to register metrics", "error", err)
		}
	}
	return watchdog.NewFromConfig(cfg, watchdog.WithLogger(log), watchdog.WithHistory(rec))
}

// validateConfig loads the config and the services it declares, reporting
// the first problem found.
func validateConfig(w io.Writer, path string) error {
	if path == "" {
		return errConfigRequired
	}
	cfg, err := watchdog.LoadConfig(path)
	if err != nil {
		return err
	}
	reg, err := cfg.Registry()
	if err != nil {
		return fmt.Errorf("invalid services in %s: %w", path, err)
	}
	if _, err := cfg.BuildEnv(); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(w, "%s: OK (%d services)\n", path, reg.Len())
	for _, s := range reg.Specs() {
		_, _ = fmt.Fprintf(w, "  %s: %s %s -> %s\n", s.Name, s.Command, strings.Join(s.Args, " "), s.HealthCheckURL)
	}
	return nil
}

// showStatus prints the status of one or all services as JSON.
func showStatus(ctx context.Context, w io.Writer, f StatusFlags) error {
	if ctx == nil {
		ctx = context.Background()
	}
	base, err := statusBaseURL(f)
	if err != nil {
		return err
	}
	c := client.New(client.Config{
		BaseURL:  base,
		Timeout:  f.APITimeout,
		Insecure: f.Insecure,
		Logger:   logger.Discard(),
	})
	if !c.IsReachable(ctx) {
		return fmt.Errorf("watchdog API not reachable at %s", base)
	}

	var v any
	if f.Name != "" {
		v, err = c.ServiceStatus(ctx, f.Name)
	} else {
		v, err = c.Status(ctx)
	}
	if err != nil {
		return err
	}
	return printJSON(w, v)
}

// statusBaseURL picks the API URL: the flag, then [server] from the config,
// then the client default.
func statusBaseURL(f StatusFlags) (string, error) {
	if f.APIUrl != "" {
		return f.APIUrl, nil
	}
	if f.ConfigPath == "" {
		return client.DefaultConfig().BaseURL, nil
	}
	cfg, err := watchdog.LoadConfig(f.ConfigPath)
	if err != nil {
		return "", err
	}
	if cfg.Server.Listen == "" {
		return "", fmt.Errorf("%s has no [server] listen address; use --api-url", f.ConfigPath)
	}
	host := cfg.Server.Listen
	if strings.HasPrefix(host, ":") {
		host = "localhost" + host
	}
	return "http://" + host + cfg.Server.BasePath, nil
}

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
