package logging

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/tcsd/internal/config"
	"go.uber.org/zap/zapcore"
)

// Config holds logging configuration.
type Config struct {
	Level    Level             `koanf:"level"`
	Format   string            `koanf:"format"`
	Output   OutputConfig      `koanf:"output"`
	Sampling SamplingConfig    `koanf:"sampling"`
	Caller   bool              `koanf:"caller"`
	Fields   map[string]string `koanf:"fields"`
}

// OutputConfig selects the log sinks.
type OutputConfig struct {
	Stdout bool `koanf:"stdout"`
	OTEL   bool `koanf:"otel"`
}

// SamplingConfig controls log volume per level.
type SamplingConfig struct {
	Enabled bool            `koanf:"enabled"`
	Tick    config.Duration `koanf:"tick"`
	// Levels without an entry are not sampled.
	Levels map[zapcore.Level]LevelSamplingConfig `koanf:"-"`
}

// LevelSamplingConfig keeps the first Initial entries with the same message
// per tick, then every Thereafter-th. Thereafter zero drops the rest.
type LevelSamplingConfig struct {
	Initial    int
	Thereafter int
}

// NewDefaultConfig returns the production logging defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Level:  Level(zapcore.InfoLevel),
		Format: "json",
		Output: OutputConfig{Stdout: true},
		Sampling: SamplingConfig{
			Enabled: true,
			Tick:    config.Duration(time.Second),
			Levels:  DefaultLevelSampling(),
		},
		Caller: true,
		Fields: map[string]string{"service": "tcsd"},
	}
}

// DefaultLevelSampling returns the default per-level sampling.
func DefaultLevelSampling() map[zapcore.Level]LevelSamplingConfig {
	return map[zapcore.Level]LevelSamplingConfig{
		TraceLevel:         {Initial: 1, Thereafter: 0},
		zapcore.DebugLevel: {Initial: 10, Thereafter: 0},
		zapcore.InfoLevel:  {Initial: 100, Thereafter: 10},
		zapcore.WarnLevel:  {Initial: 100, Thereafter: 100},
	}
}

// Validate checks config for errors.
func (c *Config) Validate() error {
	if c.Format != "json" && c.Format != "console" {
		return fmt.Errorf("format must be 'json' or 'console', got %q", c.Format)
	}
	if !c.Output.Stdout && !c.Output.OTEL {
		return fmt.Errorf("at least one output must be enabled (stdout or otel)")
	}
	if c.Sampling.Enabled && c.Sampling.Tick.Duration() <= 0 {
		return fmt.Errorf("sampling tick must be > 0 when sampling enabled")
	}
	for lvl, s := range c.Sampling.Levels {
		if lvl >= zapcore.ErrorLevel {
			return fmt.Errorf("level %s cannot be sampled", lvl)
		}
		if s.Initial < 0 || s.Thereafter < 0 {
			return fmt.Errorf("sampling for %s must be non-negative", lvl)
		}
	}
	for k, v := range c.Fields {
		if k == "" {
			return fmt.Errorf("field key cannot be empty")
		}
		if v == "" {
			return fmt.Errorf("field %q has empty value", k)
		}
	}
	return nil
}
