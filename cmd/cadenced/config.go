package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/xraph/cadence"
)

// fileConfig is the on-disk daemon configuration. Durations are Go
// duration strings. Zero values keep cadence.DefaultConfig.
type fileConfig struct {
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`

	HTTP struct {
		Addr string `yaml:"addr"`
	} `yaml:"http"`

	Store struct {
		Driver string `yaml:"driver"`
		DSN    string `yaml:"dsn"`
		Prefix string `yaml:"prefix"`
	} `yaml:"store"`

	Notify struct {
		Transport string   `yaml:"transport"`
		Channel   string   `yaml:"channel"`
		Events    []string `yaml:"events"`
	} `yaml:"notify"`

	Scheduler struct {
		Concurrency       int           `yaml:"concurrency"`
		Evaluators        int           `yaml:"evaluators"`
		PollInterval      time.Duration `yaml:"poll_interval"`
		ClaimBatch        int           `yaml:"claim_batch"`
		LeaseTTL          time.Duration `yaml:"lease_ttl"`
		ReaperInterval    time.Duration `yaml:"reaper_interval"`
		QueueCapacity     int           `yaml:"queue_capacity"`
		IntakeBuffer      int           `yaml:"intake_buffer"`
		DependencyTimeout time.Duration `yaml:"dependency_timeout"`
		MaxRetryDelay     time.Duration `yaml:"max_retry_delay"`
		CancelGrace       time.Duration `yaml:"cancel_grace"`
		ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
		CatchUp           string        `yaml:"catch_up"`
		MaxSkippedRecords int           `yaml:"max_skipped_records"`
	} `yaml:"scheduler"`
}

// loadConfig reads path (optional) and applies environment overrides.
func loadConfig(path string) (*fileConfig, error) {
	cfg := &fileConfig{}
	cfg.HTTP.Addr = ":8080"
	cfg.Store.Driver = "memory"
	cfg.Log.Level = "info"
	cfg.Log.Format = "text"
	cfg.Notify.Channel = "cadence:notifications"

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if v := os.Getenv("CADENCE_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("CADENCE_STORE_DSN"); v != "" {
		cfg.Store.DSN = v
	}
	if v := os.Getenv("CADENCE_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}

	switch cfg.Store.Driver {
	case "memory", "redis", "postgres":
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
	if cfg.Store.Driver != "memory" && cfg.Store.DSN == "" {
		return nil, fmt.Errorf("store driver %q needs a dsn", cfg.Store.Driver)
	}
	return cfg, nil
}

// schedulerConfig overlays the non-zero file values on the defaults.
func (c *fileConfig) schedulerConfig() cadence.Config {
	out := cadence.DefaultConfig()
	s := c.Scheduler
	setInt(&out.Concurrency, s.Concurrency)
	setInt(&out.Evaluators, s.Evaluators)
	setInt(&out.ClaimBatch, s.ClaimBatch)
	setInt(&out.QueueCapacity, s.QueueCapacity)
	setInt(&out.IntakeBuffer, s.IntakeBuffer)
	setInt(&out.MaxSkippedRecords, s.MaxSkippedRecords)
	setDuration(&out.PollInterval, s.PollInterval)
	setDuration(&out.LeaseTTL, s.LeaseTTL)
	setDuration(&out.ReaperInterval, s.ReaperInterval)
	setDuration(&out.DependencyTimeout, s.DependencyTimeout)
	setDuration(&out.MaxRetryDelay, s.MaxRetryDelay)
	setDuration(&out.CancelGrace, s.CancelGrace)
	setDuration(&out.ShutdownTimeout, s.ShutdownTimeout)
	if cu := cadence.CatchUp(s.CatchUp); cu.Valid() {
		out.DefaultCatchUp = cu
	}
	return out
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v time.Duration) {
	if v > 0 {
		*dst = v
	}
}

// newLogger builds a text or JSON slog handler at the configured level.
func (c *fileConfig) newLogger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	if strings.EqualFold(c.Log.Format, "json") {
		h = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(h)
}
