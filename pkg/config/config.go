// Package config layers memwatch settings: built-in defaults, then an optional
// YAML file, then MEMWATCH_* environment variables. Command-line flags are
// applied on top by the caller.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/srodi/memwatch/pkg/collector/memory"
	"github.com/srodi/memwatch/pkg/sampler"
	"github.com/srodi/memwatch/pkg/tree"
	"github.com/srodi/memwatch/pkg/types"
)

const EnvPrefix = "MEMWATCH_"

type Config struct {
	Interval         time.Duration `yaml:"interval"          env:"INTERVAL"`
	DrainGrace       time.Duration `yaml:"drain_grace"       env:"DRAIN_GRACE"`
	DrainTicks       int           `yaml:"drain_ticks"       env:"DRAIN_TICKS"`
	FailureThreshold int           `yaml:"failure_threshold" env:"FAILURE_THRESHOLD"`
	MaxDepth         int           `yaml:"max_depth"         env:"MAX_DEPTH"`
	Source           string        `yaml:"source"            env:"SOURCE"`
	Timeline         bool          `yaml:"timeline"          env:"TIMELINE"`
	CommandMaxLen    int           `yaml:"command_max_len"   env:"COMMAND_MAX_LEN"`
	LogLevel         string        `yaml:"log_level"         env:"LOG_LEVEL"`
	LogFormat        string        `yaml:"log_format"        env:"LOG_FORMAT"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Interval:         sampler.DefaultInterval,
		DrainGrace:       sampler.DefaultDrainGrace,
		DrainTicks:       sampler.DefaultDrainTicks,
		FailureThreshold: sampler.DefaultFailureThreshold,
		MaxDepth:         tree.DefaultMaxDepth,
		Source:           string(memory.SourceAuto),
		CommandMaxLen:    types.DefaultCommandMaxLen,
		LogLevel:         "warn",
		LogFormat:        "text",
	}
}

// Load reads path (if non-empty) over the defaults, then the process environment.
func Load(path string) (Config, error) {
	return load(path, nil)
}

// load takes an explicit environment so tests do not depend on os.Environ; nil means the real one.
func load(path string, environ map[string]string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config %s: %w", path, err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix, Environment: environ}); err != nil {
		return Config{}, fmt.Errorf("reading environment: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate rejects settings the sampler cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Interval <= 0 {
		errs = append(errs, fmt.Errorf("interval must be positive, got %s", c.Interval))
	}
	if c.DrainGrace < 0 {
		errs = append(errs, fmt.Errorf("drain_grace must not be negative, got %s", c.DrainGrace))
	}
	if c.DrainTicks < 0 || c.FailureThreshold < 0 || c.MaxDepth < 0 || c.CommandMaxLen < 0 {
		errs = append(errs, errors.New("drain_ticks, failure_threshold, max_depth and command_max_len must not be negative"))
	}
	if _, err := memory.ParseSourceKind(c.Source); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log_format %q (want text or json)", c.LogFormat))
	}
	return errors.Join(errs...)
}

// Sampler converts the settings into an engine configuration.
func (c Config) Sampler() sampler.Config {
	return sampler.Config{
		Interval:         c.Interval,
		DrainGrace:       c.DrainGrace,
		DrainTicks:       c.DrainTicks,
		FailureThreshold: c.FailureThreshold,
		MaxDepth:         c.MaxDepth,
		Timeline:         c.Timeline,
	}
}
