// Copyright (C) 2025 SimulateAI (engineering@simulateai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config defines the guard's configuration surface: detection
// thresholds, activation policy, and the daemon's server, storage,
// telemetry and logging sections.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Duration is a time.Duration that marshals to and from YAML strings like
// "250ms" or "2s".
type Duration time.Duration

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("duration must be a string like \"500ms\": %w", err)
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// validate is the package validator instance for struct tags.
var validate = validator.New()

// Config is the full guard configuration.
type Config struct {
	// Enabled activates detection. When false the guard still accepts
	// wrapped calls and registrations but never classifies.
	Enabled bool `yaml:"enabled"`

	// Window is the sliding window for call-frequency detection.
	Window Duration `yaml:"window" validate:"gt=0"`

	// MaxCallsPerWindow bounds a function's recent calls. Zero disables
	// the rule.
	MaxCallsPerWindow int `yaml:"max_calls_per_window" validate:"min=0"`

	// MaxStackDepth bounds the sampled stack depth. Zero disables the
	// rule.
	MaxStackDepth int `yaml:"max_stack_depth" validate:"min=0"`

	// MaxPatternRepeats bounds one function's stack occurrences. Zero
	// disables the rule.
	MaxPatternRepeats int `yaml:"max_pattern_repeats" validate:"min=0"`

	// IncidentLogSize bounds the in-memory incident log.
	IncidentLogSize int `yaml:"incident_log_size" validate:"gt=0"`

	// SampleLimit bounds frames captured per stack sample.
	SampleLimit int `yaml:"sample_limit" validate:"min=0"`

	// BlockOnIncident makes wrapped calls that raise an incident skip the
	// original function and return zero values.
	BlockOnIncident bool `yaml:"block_on_incident"`

	// AutoStop triggers the emergency stop automatically once
	// AutoStopThreshold incidents have been classified since the last
	// reset.
	AutoStop          bool `yaml:"auto_stop"`
	AutoStopThreshold int  `yaml:"auto_stop_threshold" validate:"min=0"`

	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig configures the guardd HTTP API.
type ServerConfig struct {
	Addr string `yaml:"addr"`

	// ShutdownGrace bounds graceful shutdown on SIGINT/SIGTERM.
	ShutdownGrace Duration `yaml:"shutdown_grace"`
}

// StorageConfig configures the incident archive.
type StorageConfig struct {
	// Enabled turns on durable incident archiving.
	Enabled bool `yaml:"enabled"`

	// Dir is the Badger database directory. Empty with Enabled selects an
	// in-memory database.
	Dir string `yaml:"dir"`
}

// TelemetryConfig configures trace and metric export.
type TelemetryConfig struct {
	Enabled bool `yaml:"enabled"`

	// TraceExporter is "stdout" or "otlp".
	TraceExporter string `yaml:"trace_exporter" validate:"omitempty,oneof=stdout otlp"`

	// OTLPEndpoint is the collector address for the otlp exporter.
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// LoggingConfig configures the slog setup.
type LoggingConfig struct {
	// Level is "debug", "info", "warn" or "error".
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`

	// Dir enables an additional JSON log file under this directory.
	Dir string `yaml:"dir"`

	// Quiet suppresses the stderr handler.
	Quiet bool `yaml:"quiet"`
}

// EnabledEnvVar force-overrides Config.Enabled when set ("1"/"true"/"0"/
// "false").
const EnabledEnvVar = "LOOPGUARD_ENABLED"

// Default returns the stock configuration. The thresholds mirror the
// detector's shipped tuning: 50 calls per second, 100 stack frames, 20
// repeats of one function on the stack.
func Default() Config {
	return Config{
		Enabled:           true,
		Window:            Duration(time.Second),
		MaxCallsPerWindow: 50,
		MaxStackDepth:     100,
		MaxPatternRepeats: 20,
		IncidentLogSize:   100,
		SampleLimit:       256,
		AutoStopThreshold: 10,
		Server: ServerConfig{
			Addr:          ":8099",
			ShutdownGrace: Duration(10 * time.Second),
		},
		Telemetry: TelemetryConfig{
			TraceExporter: "stdout",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// ApplyDefaults fills zero-valued fields that must not stay zero.
func (c *Config) ApplyDefaults() {
	def := Default()
	if c.Window <= 0 {
		c.Window = def.Window
	}
	if c.IncidentLogSize <= 0 {
		c.IncidentLogSize = def.IncidentLogSize
	}
	if c.SampleLimit <= 0 {
		c.SampleLimit = def.SampleLimit
	}
	if c.AutoStop && c.AutoStopThreshold <= 0 {
		c.AutoStopThreshold = def.AutoStopThreshold
	}
	if c.Server.Addr == "" {
		c.Server.Addr = def.Server.Addr
	}
	if c.Server.ShutdownGrace <= 0 {
		c.Server.ShutdownGrace = def.Server.ShutdownGrace
	}
	if c.Telemetry.TraceExporter == "" {
		c.Telemetry.TraceExporter = def.Telemetry.TraceExporter
	}
	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
}

// Validate checks tag constraints and cross-field rules. All failures are
// reported wrapped in ErrInvalidConfig.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.Enabled && c.MaxCallsPerWindow == 0 && c.MaxStackDepth == 0 && c.MaxPatternRepeats == 0 {
		return fmt.Errorf("%w: all detection thresholds are disabled while the guard is enabled", ErrInvalidConfig)
	}
	if c.AutoStop && c.AutoStopThreshold <= 0 {
		return fmt.Errorf("%w: auto_stop requires a positive auto_stop_threshold", ErrInvalidConfig)
	}
	if c.Telemetry.Enabled && c.Telemetry.TraceExporter == "otlp" && c.Telemetry.OTLPEndpoint == "" {
		return fmt.Errorf("%w: otlp trace exporter requires otlp_endpoint", ErrInvalidConfig)
	}
	return nil
}

// applyEnv applies process-environment overrides.
func (c *Config) applyEnv() {
	if raw, ok := os.LookupEnv(EnabledEnvVar); ok {
		if enabled, err := strconv.ParseBool(raw); err == nil {
			c.Enabled = enabled
		}
	}
}
