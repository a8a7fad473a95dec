package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/watchdog/internal/env"
	"github.com/loykin/watchdog/internal/logger"
	"github.com/loykin/watchdog/internal/process"
	"github.com/loykin/watchdog/internal/registry"
)

// EnvPrefix is the prefix for environment overrides, e.g. WATCHDOG_TICK_INTERVAL.
const EnvPrefix = "WATCHDOG"

// Per-service defaults applied when a duration is omitted.
const (
	DefaultRestartDelay  = time.Second
	DefaultCheckInterval = 10 * time.Second
)

// Config represents the top-level TOML structure.
type Config struct {
	TickInterval     time.Duration `toml:"tick_interval" mapstructure:"tick_interval"`
	ProbeTimeout     time.Duration `toml:"probe_timeout" mapstructure:"probe_timeout"`
	FailureThreshold int           `toml:"failure_threshold" mapstructure:"failure_threshold"`
	RestartGrace     time.Duration `toml:"restart_grace" mapstructure:"restart_grace"`
	ShutdownGrace    time.Duration `toml:"shutdown_grace" mapstructure:"shutdown_grace"`
	ProductionEnv    string        `toml:"production_env" mapstructure:"production_env"`
	Env              []string      `toml:"env" mapstructure:"env"`
	EnvFiles         []string      `toml:"env_files" mapstructure:"env_files"`

	Log      LogConfig       `toml:"log" mapstructure:"log"`
	Metrics  MetricsConfig   `toml:"metrics" mapstructure:"metrics"`
	Server   ServerConfig    `toml:"server" mapstructure:"server"`
	History  HistoryConfig   `toml:"history" mapstructure:"history"`
	Services []ServiceConfig `toml:"services" mapstructure:"services"`

	// directory of the loaded file; relative env_files resolve against it
	baseDir string
}

// LogConfig configures the supervisor log and the default output files of
// children. Stdout and Stderr are only honored inside a service table.
type LogConfig struct {
	Level      string `toml:"level" mapstructure:"level"`
	File       string `toml:"file" mapstructure:"file"`
	Color      bool   `toml:"color" mapstructure:"color"`
	Dir        string `toml:"dir" mapstructure:"dir"`
	Stdout     string `toml:"stdout" mapstructure:"stdout"`
	Stderr     string `toml:"stderr" mapstructure:"stderr"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

type MetricsConfig struct {
	Listen       string `toml:"listen" mapstructure:"listen"`
	ProcessUsage bool   `toml:"process_usage" mapstructure:"process_usage"`
}

type ServerConfig struct {
	Listen   string `toml:"listen" mapstructure:"listen"`
	BasePath string `toml:"base_path" mapstructure:"base_path"`
}

type HistoryConfig struct {
	DSN []string `toml:"dsn" mapstructure:"dsn"`
}

type ServiceConfig struct {
	Name          string         `toml:"name" mapstructure:"name"`
	Command       string         `toml:"command" mapstructure:"command"`
	Args          []string       `toml:"args" mapstructure:"args"`
	WorkDir       string         `toml:"workdir" mapstructure:"workdir"`
	HealthURL     string         `toml:"health_url" mapstructure:"health_url"`
	RestartDelay  *time.Duration `toml:"restart_delay" mapstructure:"restart_delay"` // nil when omitted
	CheckInterval *time.Duration `toml:"check_interval" mapstructure:"check_interval"`
	Env           []string       `toml:"env" mapstructure:"env"`
	Log           *LogConfig     `toml:"log" mapstructure:"log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("tick_interval", "5s")
	v.SetDefault("probe_timeout", "3s")
	v.SetDefault("failure_threshold", 2)
	v.SetDefault("restart_grace", "1s")
	v.SetDefault("shutdown_grace", "2s")
	v.SetDefault("production_env", env.DefaultProduction)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.color", false)
	v.SetDefault("log.dir", "")
	v.SetDefault("metrics.listen", "")
	v.SetDefault("metrics.process_usage", false)
	v.SetDefault("server.listen", "")
	v.SetDefault("server.base_path", "/api")
}

// Load reads a TOML file. Values can be overridden by WATCHDOG_* environment
// variables (nested keys join with "_", e.g. WATCHDOG_LOG_LEVEL).
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	c.baseDir = filepath.Dir(path)
	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &c, nil
}

func (c *Config) validate() error {
	switch {
	case c.TickInterval <= 0:
		return fmt.Errorf("tick_interval must be positive")
	case c.ProbeTimeout <= 0:
		return fmt.Errorf("probe_timeout must be positive")
	case c.FailureThreshold <= 0:
		return fmt.Errorf("failure_threshold must be positive")
	case c.RestartGrace <= 0:
		return fmt.Errorf("restart_grace must be positive")
	case c.ShutdownGrace <= 0:
		return fmt.Errorf("shutdown_grace must be positive")
	case c.ProductionEnv != "" && !strings.Contains(c.ProductionEnv, "="):
		return fmt.Errorf("production_env must be KEY=VALUE")
	}
	return nil
}

// Specs converts the [[services]] tables into process specs. Per-service log
// settings override the top-level [log] defaults field by field.
func (c *Config) Specs() []process.Spec {
	out := make([]process.Spec, 0, len(c.Services))
	for _, sc := range c.Services {
		s := process.Spec{
			Name:           sc.Name,
			Command:        sc.Command,
			Args:           sc.Args,
			WorkDir:        sc.WorkDir,
			Env:            sc.Env,
			HealthCheckURL: sc.HealthURL,
			RestartDelay:   durationOr(sc.RestartDelay, DefaultRestartDelay),
			CheckInterval:  durationOr(sc.CheckInterval, DefaultCheckInterval),
			Log:            mergeLog(c.Log, sc.Log),
		}
		out = append(out, s)
	}
	return out
}

// Registry validates the services and freezes them into a registry.
func (c *Config) Registry() (*registry.Registry, error) {
	return registry.New(c.Specs())
}

// BuildEnv composes the environment handed to every child: the OS
// environment, env_files in order, the env list, and finally production_env.
func (c *Config) BuildEnv() (*env.Env, error) {
	e := env.New()
	e.FromOS()
	for _, p := range c.EnvFiles {
		if !filepath.IsAbs(p) && c.baseDir != "" {
			p = filepath.Join(c.baseDir, p)
		}
		if err := e.LoadFile(p); err != nil {
			return nil, fmt.Errorf("env file %s: %w", p, err)
		}
	}
	e.SetPairs(c.Env)
	if c.ProductionEnv != "" {
		e.Force(c.ProductionEnv)
	}
	return e, nil
}

// LoggerOptions returns the options for the supervisor's own logger.
func (c *Config) LoggerOptions() logger.Options {
	return logger.Options{
		Level: c.Log.Level,
		File:  c.Log.File,
		Color: c.Log.Color,
		Config: logger.Config{
			MaxSizeMB:  c.Log.MaxSizeMB,
			MaxBackups: c.Log.MaxBackups,
			MaxAgeDays: c.Log.MaxAgeDays,
			Compress:   c.Log.Compress,
		},
	}
}

// durationOr returns def for an omitted key. Explicit values, zero included,
// are kept so that validation can reject them.
func durationOr(d *time.Duration, def time.Duration) time.Duration {
	if d == nil {
		return def
	}
	return *d
}

func mergeLog(base LogConfig, over *LogConfig) logger.Config {
	lc := logger.Config{
		Dir:        base.Dir,
		MaxSizeMB:  base.MaxSizeMB,
		MaxBackups: base.MaxBackups,
		MaxAgeDays: base.MaxAgeDays,
		Compress:   base.Compress,
	}
	if over == nil {
		return lc
	}
	if over.Dir != "" {
		lc.Dir = over.Dir
	}
	if over.Stdout != "" {
		lc.StdoutPath = over.Stdout
	}
	if over.Stderr != "" {
		lc.StderrPath = over.Stderr
	}
	if over.MaxSizeMB != 0 {
		lc.MaxSizeMB = over.MaxSizeMB
	}
	if over.MaxBackups != 0 {
		lc.MaxBackups = over.MaxBackups
	}
	if over.MaxAgeDays != 0 {
		lc.MaxAgeDays = over.MaxAgeDays
	}
	if over.Compress {
		lc.Compress = true
	}
	return lc
}
