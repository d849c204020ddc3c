package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"

	"gopkg.in/yaml.v3"

	"github.com/me/stepsched/internal/logging"
)

// RunConfig holds configuration for a simulation run and the tooling around
// it. Keys missing from a YAML file keep their defaults; keys present,
// including explicit zeros, replace them and are checked by Validate.
type RunConfig struct {
	Workers   int     `yaml:"workers"`    // Worker goroutines in the pool (default runtime.NumCPU())
	Particles int     `yaml:"particles"`  // Particle count
	ChunkSize int     `yaml:"chunk_size"` // Particles per chunk job
	Steps     int     `yaml:"steps"`      // Simulation steps to run
	Dt        float64 `yaml:"dt"`         // Step length in seconds
	Gravity   float64 `yaml:"gravity"`    // Downward acceleration, m/s^2
	Damping   float64 `yaml:"damping"`    // Velocity kept after a ground bounce, 0..1
	Seed      int64   `yaml:"seed"`       // Initial-state seed

	LogLevel  string `yaml:"log_level"`  // debug, info, warn, error
	LogFormat string `yaml:"log_format"` // text, json
	DBPath    string `yaml:"db_path"`    // SQLite database path (default ~/.stepsim/stepsim.db, ":memory:" for testing)
	Addr      string `yaml:"addr"`       // Listen address for serve
}

// DefaultRunConfig returns sensible defaults.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		Workers:   runtime.NumCPU(),
		Particles: 10000,
		ChunkSize: 512,
		Steps:     100,
		Dt:        1.0 / 60,
		Gravity:   9.81,
		Damping:   0.8,
		Seed:      1,
		LogLevel:  "info",
		LogFormat: "text",
		Addr:      ":8080",
	}
}

// Load reads a YAML file over the defaults.
func Load(path string) (RunConfig, error) {
	cfg := DefaultRunConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Chunks returns the number of chunk jobs a step of this run is split into.
func (c RunConfig) Chunks() int {
	if c.ChunkSize <= 0 {
		return 0
	}
	return (c.Particles + c.ChunkSize - 1) / c.ChunkSize
}

// Validate reports every invalid field.
func (c RunConfig) Validate() error {
	var errs []error
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be at least 1, got %d", c.Workers))
	}
	if c.Particles < 0 {
		errs = append(errs, fmt.Errorf("particles must not be negative, got %d", c.Particles))
	}
	if c.ChunkSize < 1 {
		errs = append(errs, fmt.Errorf("chunk_size must be at least 1, got %d", c.ChunkSize))
	}
	if c.Steps < 0 {
		errs = append(errs, fmt.Errorf("steps must not be negative, got %d", c.Steps))
	}
	if c.Dt <= 0 {
		errs = append(errs, fmt.Errorf("dt must be positive, got %g", c.Dt))
	}
	if c.Damping < 0 || c.Damping > 1 {
		errs = append(errs, fmt.Errorf("damping must be within [0, 1], got %g", c.Damping))
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if !logging.ValidFormat(c.LogFormat) {
		errs = append(errs, fmt.Errorf("unknown log format %q", c.LogFormat))
	}
	return errors.Join(errs...)
}
