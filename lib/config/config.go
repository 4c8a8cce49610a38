// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/rtlog/lib/envelope"
	"github.com/bureau-foundation/rtlog/lib/rtsched"
	"github.com/bureau-foundation/rtlog/lib/segment"
)

// EnvironmentVariable names the variable Load reads the config path
// from.
const EnvironmentVariable = "RTLOG_CONFIG"

// Environment is the deployment type.
type Environment string

const (
	Development Environment = "development"
	Production  Environment = "production"
)

// Config is the complete pipeline configuration.
type Config struct {
	// Service names the process in dump files and logs.
	Service string `yaml:"service"`

	Environment Environment `yaml:"environment"`

	// Root is the base directory for store data.
	Root string `yaml:"root"`

	Log        LogConfig        `yaml:"log"`
	Queue      QueueConfig      `yaml:"queue"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
	Store      StoreConfig      `yaml:"store"`
	LiveTail   LiveTailConfig   `yaml:"live_tail"`
	Fatal      FatalConfig      `yaml:"fatal"`
	Scheduling SchedulingConfig `yaml:"scheduling"`

	// Schemas is an optional path to a JSONC schema manifest.
	Schemas string `yaml:"schemas"`

	Development *Overrides `yaml:"development,omitempty"`
	Production  *Overrides `yaml:"production,omitempty"`
}

// Overrides holds the per-environment fields.
type Overrides struct {
	Log        *LogConfig        `yaml:"log,omitempty"`
	Scheduling *SchedulingConfig `yaml:"scheduling,omitempty"`
}

// LogConfig configures the process's own slog output.
type LogConfig struct {
	// Level is debug, info, warn, or error.
	Level string `yaml:"level"`
	// Format is auto (text on a terminal, JSON otherwise), text, or json.
	Format string `yaml:"format"`
}

// QueueConfig sizes the shared queue and sets the initial telemetry
// threshold.
type QueueConfig struct {
	// Capacity is rounded up to a power of two.
	Capacity int `yaml:"capacity"`
	// MinSeverity is the lowest severity producers submit.
	MinSeverity string `yaml:"min_severity"`
}

// ConsumerConfig sets the consumer loop cadence.
type ConsumerConfig struct {
	DrainInterval time.Duration `yaml:"drain_interval"`
	DrainBatch    int           `yaml:"drain_batch"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	StatsInterval time.Duration `yaml:"stats_interval"`
}

// StoreConfig configures the segment store.
type StoreConfig struct {
	Directory      string `yaml:"directory"`
	SegmentRecords int    `yaml:"segment_records"`
	FlushEvery     int    `yaml:"flush_every"`
	// Compression archives sealed segments: none, lz4, or zstd.
	Compression string `yaml:"compression"`
}

// LiveTailConfig configures the observer socket.
type LiveTailConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Network          string        `yaml:"network"`
	Address          string        `yaml:"address"`
	SubscriberBuffer int           `yaml:"subscriber_buffer"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
}

// FatalConfig configures the fatal-termination path.
type FatalConfig struct {
	DumpDir     string        `yaml:"dump_dir"`
	HookTimeout time.Duration `yaml:"hook_timeout"`
}

// SchedulingConfig places the consumer and producer threads.
type SchedulingConfig struct {
	Consumer  ThreadConfig `yaml:"consumer"`
	Producers ThreadConfig `yaml:"producers"`
}

// ThreadConfig is the YAML form of rtsched.Settings.
type ThreadConfig struct {
	Policy   string `yaml:"policy"`
	Priority int    `yaml:"priority"`
	CPUs     []int  `yaml:"cpus"`
}

// Settings converts the YAML form.
func (t ThreadConfig) Settings() (rtsched.Settings, error) {
	policy, err := rtsched.ParsePolicy(t.Policy)
	if err != nil {
		return rtsched.Settings{}, err
	}
	return rtsched.Settings{Policy: policy, Priority: t.Priority, CPUs: t.CPUs}, nil
}

// Default returns the base configuration that a file is merged into.
func Default() *Config {
	return &Config{
		Service:     "rtlog",
		Environment: Development,
		Root:        "${HOME}/.cache/rtlog",
		Log: LogConfig{
			Level:  "info",
			Format: "auto",
		},
		Queue: QueueConfig{
			Capacity:    4096,
			MinSeverity: "debug",
		},
		Consumer: ConsumerConfig{
			DrainInterval: time.Millisecond,
			DrainBatch:    256,
			FlushInterval: 100 * time.Millisecond,
			StatsInterval: 10 * time.Second,
		},
		Store: StoreConfig{
			Directory:      "${RTLOG_ROOT}/segments",
			SegmentRecords: segment.DefaultSegmentRecords,
			FlushEvery:     1024,
			Compression:    "none",
		},
		LiveTail: LiveTailConfig{
			Enabled:          true,
			Network:          "unix",
			Address:          "${RTLOG_ROOT}/tail.sock",
			SubscriberBuffer: 256,
			WriteTimeout:     2 * time.Second,
		},
		Fatal: FatalConfig{
			DumpDir:     "/tmp",
			HookTimeout: 200 * time.Millisecond,
		},
	}
}

// Load loads the file named by RTLOG_CONFIG.
func Load() (*Config, error) {
	path := os.Getenv(EnvironmentVariable)
	if path == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your rtlog.yaml, or use --config", EnvironmentVariable)
	}
	return LoadFile(path)
}

// LoadFile loads path over Default, applies the environment section,
// and expands path variables. It does not validate.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	config, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if config.Schemas != "" && !filepath.IsAbs(config.Schemas) {
		config.Schemas = filepath.Join(filepath.Dir(path), config.Schemas)
	}
	return config, nil
}

// Parse decodes YAML over Default.
func Parse(data []byte) (*Config, error) {
	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, err
	}
	config.applyEnvironmentOverrides()
	config.expandVariables()
	return config, nil
}

func (c *Config) applyEnvironmentOverrides() {
	var overrides *Overrides
	switch c.Environment {
	case Development:
		overrides = c.Development
	case Production:
		overrides = c.Production
	}
	if overrides == nil {
		return
	}

	if overrides.Log != nil {
		if overrides.Log.Level != "" {
			c.Log.Level = overrides.Log.Level
		}
		if overrides.Log.Format != "" {
			c.Log.Format = overrides.Log.Format
		}
	}
	if overrides.Scheduling != nil {
		// Thread placement is replaced wholesale: a partially merged
		// policy/priority pair is never what anyone meant.
		c.Scheduling = *overrides.Scheduling
	}
}

func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME":          os.Getenv("HOME"),
		"RTLOG_SERVICE": c.Service,
	}
	c.Root = expandVars(c.Root, vars)
	vars["RTLOG_ROOT"] = c.Root

	c.Store.Directory = expandVars(c.Store.Directory, vars)
	c.LiveTail.Address = expandVars(c.LiveTail.Address, vars)
	c.Fatal.DumpDir = expandVars(c.Fatal.DumpDir, vars)
	c.Schemas = expandVars(c.Schemas, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars replaces ${VAR} and ${VAR:-default}, consulting vars
// before the process environment.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		name, defaultValue := parts[1], parts[2]
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate reports every problem in the configuration at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Service == "" {
		errs = append(errs, errors.New("service is required"))
	}
	if c.Environment != Development && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %q", c.Environment))
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level: invalid level %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "auto", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format: invalid format %q", c.Log.Format))
	}

	if c.Queue.Capacity < 2 || c.Queue.Capacity > 1<<20 {
		errs = append(errs, fmt.Errorf("queue.capacity: %d out of range 2-%d", c.Queue.Capacity, 1<<20))
	}
	if _, err := envelope.ParseSeverity(c.Queue.MinSeverity); err != nil {
		errs = append(errs, fmt.Errorf("queue.min_severity: %w", err))
	}

	if c.Consumer.DrainInterval <= 0 {
		errs = append(errs, errors.New("consumer.drain_interval must be positive"))
	}
	if c.Consumer.DrainBatch <= 0 {
		errs = append(errs, errors.New("consumer.drain_batch must be positive"))
	}
	if c.Consumer.FlushInterval <= 0 {
		errs = append(errs, errors.New("consumer.flush_interval must be positive"))
	}
	if c.Consumer.StatsInterval < 0 {
		errs = append(errs, errors.New("consumer.stats_interval must not be negative"))
	}

	if c.Store.Directory == "" {
		errs = append(errs, errors.New("store.directory is required"))
	}
	if c.Store.SegmentRecords <= 0 || c.Store.SegmentRecords > segment.MaxSegmentRecords {
		errs = append(errs, fmt.Errorf("store.segment_records: %d out of range 1-%d", c.Store.SegmentRecords, segment.MaxSegmentRecords))
	}
	if c.Store.FlushEvery < 0 {
		errs = append(errs, errors.New("store.flush_every must not be negative"))
	}
	if _, err := segment.ParseCompression(c.Store.Compression); err != nil {
		errs = append(errs, fmt.Errorf("store.compression: %w", err))
	}

	if c.LiveTail.Enabled {
		if c.LiveTail.Network != "unix" && c.LiveTail.Network != "tcp" {
			errs = append(errs, fmt.Errorf("live_tail.network: %q (want unix or tcp)", c.LiveTail.Network))
		}
		if c.LiveTail.Address == "" {
			errs = append(errs, errors.New("live_tail.address is required when live_tail is enabled"))
		}
	}

	if c.Fatal.DumpDir == "" {
		errs = append(errs, errors.New("fatal.dump_dir is required"))
	}

	for name, thread := range map[string]ThreadConfig{
		"scheduling.consumer":  c.Scheduling.Consumer,
		"scheduling.producers": c.Scheduling.Producers,
	} {
		settings, err := thread.Settings()
		if err == nil {
			err = settings.Validate()
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	return errors.Join(errs...)
}

// MinSeverity returns the parsed queue.min_severity.
func (c *Config) MinSeverity() envelope.Severity {
	severity, _ := envelope.ParseSeverity(c.Queue.MinSeverity)
	return severity
}

// Compression returns the parsed store.compression.
func (c *Config) Compression() segment.Compression {
	compression, _ := segment.ParseCompression(c.Store.Compression)
	return compression
}
