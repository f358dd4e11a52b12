// Package config loads strand's YAML configuration.
package config

import (
	"log/slog"
	"runtime"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Config is the full configuration. Command-line flags override it.
type Config struct {
	Run   RunConfig   `yaml:"run"`
	Store StoreConfig `yaml:"store"`
	Log   LogConfig   `yaml:"log"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.Run.Validate(); err != nil {
		return err
	}
	if err := c.Store.Validate(); err != nil {
		return err
	}
	return c.Log.Validate()
}

// Rejection policies accepted by run.reject_policy.
const (
	RejectSkip = "skip"
	RejectStop = "stop"
)

// RunConfig controls generated runs.
type RunConfig struct {
	// Runs is the number of seeded runs per fuzz invocation.
	Runs int `yaml:"runs"`

	// Length is the number of actions per run.
	Length int `yaml:"length"`

	// Seed is the first seed; run i uses Seed+i.
	Seed uint64 `yaml:"seed"`

	// Workers bounds concurrent runs.
	Workers int `yaml:"workers"`

	// Characters is the cast created before anything else.
	Characters int `yaml:"characters"`

	// Chaos is the share of generated actions that skip narrative checks.
	// Non-zero chaos needs Permissive to have any effect.
	Chaos float64 `yaml:"chaos"`

	Permissive     bool   `yaml:"permissive"`
	RejectPolicy   string `yaml:"reject_policy"`
	FirstViolation bool   `yaml:"first_violation"`
	Shrink         bool   `yaml:"shrink"`
}

// Validate validates the run configuration.
func (c *RunConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Runs, validation.Required, validation.Min(1)),
		validation.Field(&c.Length, validation.Required, validation.Min(1)),
		validation.Field(&c.Workers, validation.Required, validation.Min(1)),
		validation.Field(&c.Characters, validation.Min(0), validation.Max(c.Length)),
		validation.Field(&c.Chaos, validation.Min(0.0), validation.Max(1.0)),
		validation.Field(&c.RejectPolicy, validation.Required, validation.In(RejectSkip, RejectStop)),
	)
}

// StoreConfig locates the run log.
type StoreConfig struct {
	// Path is the SQLite file. Empty disables persistence.
	Path string `yaml:"path"`
}

// Validate validates the store configuration.
func (c *StoreConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Length(0, 4096)),
	)
}

// Enabled reports whether runs are persisted.
func (c *StoreConfig) Enabled() bool { return c.Path != "" }

// LogConfig controls logging.
type LogConfig struct {
	Level slog.Level `yaml:"level"`
}

// Validate validates the log configuration.
func (c *LogConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Level, validation.In(slog.LevelDebug, slog.LevelInfo, slog.LevelWarn, slog.LevelError)),
	)
}

// NewDefaultConfig returns a Config with default values.
func NewDefaultConfig() *Config {
	return &Config{
		Run: RunConfig{
			Runs:         100,
			Length:       40,
			Seed:         1,
			Workers:      runtime.GOMAXPROCS(0),
			Characters:   4,
			RejectPolicy: RejectSkip,
			Shrink:       true,
		},
		Store: StoreConfig{
			Path: "strand.db",
		},
		Log: LogConfig{
			Level: slog.LevelInfo,
		},
	}
}
