// Copyright (C) 2025 SimulateAI (engineering@simulateai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.Enabled)
	assert.Equal(t, Duration(time.Second), cfg.Window)
	assert.Equal(t, 50, cfg.MaxCallsPerWindow)
	assert.Equal(t, 100, cfg.MaxStackDepth)
	assert.Equal(t, 20, cfg.MaxPatternRepeats)
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero window", func(c *Config) { c.Window = 0 }},
		{"negative threshold", func(c *Config) { c.MaxCallsPerWindow = -1 }},
		{"zero log size", func(c *Config) { c.IncidentLogSize = 0 }},
		{"all rules disabled while enabled", func(c *Config) {
			c.MaxCallsPerWindow, c.MaxStackDepth, c.MaxPatternRepeats = 0, 0, 0
		}},
		{"auto stop without threshold", func(c *Config) {
			c.AutoStop = true
			c.AutoStopThreshold = 0
		}},
		{"unknown log level", func(c *Config) { c.Logging.Level = "chatty" }},
		{"unknown trace exporter", func(c *Config) { c.Telemetry.TraceExporter = "jaeger" }},
		{"otlp without endpoint", func(c *Config) {
			c.Telemetry.Enabled = true
			c.Telemetry.TraceExporter = "otlp"
			c.Telemetry.OTLPEndpoint = ""
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestDisabledGuardMayDisableAllRules(t *testing.T) {
	cfg := Default()
	cfg.Enabled = false
	cfg.MaxCallsPerWindow, cfg.MaxStackDepth, cfg.MaxPatternRepeats = 0, 0, 0
	assert.NoError(t, cfg.Validate())
}

func TestApplyDefaults(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()

	def := Default()
	assert.Equal(t, def.Window, cfg.Window)
	assert.Equal(t, def.IncidentLogSize, cfg.IncidentLogSize)
	assert.Equal(t, def.SampleLimit, cfg.SampleLimit)
	assert.Equal(t, def.Server.Addr, cfg.Server.Addr)
	assert.Equal(t, def.Logging.Level, cfg.Logging.Level)
	// Unrelated zero values stay put.
	assert.Equal(t, 0, cfg.MaxCallsPerWindow)
}

func TestLoadCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "loopguard.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Default().MaxCallsPerWindow, cfg.MaxCallsPerWindow)

	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestLoadAppliesFileValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loopguard.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_calls_per_window: 7\nwindow: 2s\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.MaxCallsPerWindow)
	assert.Equal(t, Duration(2*time.Second), cfg.Window)
	// Unspecified fields keep defaults.
	assert.Equal(t, Default().MaxStackDepth, cfg.MaxStackDepth)
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loopguard.yaml")
	require.NoError(t, os.WriteFile(path, []byte("incident_log_size: -5\n"), 0644))

	_, err := Load(path)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loopguard.yaml")
	require.NoError(t, os.WriteFile(path, []byte("enabled: [unterminated\n"), 0644))

	_, err := Load(path)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestEnabledEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loopguard.yaml")
	require.NoError(t, os.WriteFile(path, []byte("enabled: true\n"), 0644))

	t.Setenv(EnabledEnvVar, "false")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.False(t, cfg.Enabled)

	t.Setenv(EnabledEnvVar, "not-a-bool")
	cfg, err = Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.Enabled)
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "loopguard.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_calls_per_window: 10\n"), 0644))

	loaded := make(chan Config, 4)
	w, err := NewWatcher(path, nil, func(cfg Config) { loaded <- cfg })
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Let the watch settle before the write.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("max_calls_per_window: 99\n"), 0644))

	select {
	case cfg := <-loaded:
		assert.Equal(t, 99, cfg.MaxCallsPerWindow)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the config reload")
	}

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestWatcherSkipsInvalidEdits(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "loopguard.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_calls_per_window: 10\n"), 0644))

	loaded := make(chan Config, 4)
	w, err := NewWatcher(path, nil, func(cfg Config) { loaded <- cfg })
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("incident_log_size: -1\n"), 0644))

	select {
	case cfg := <-loaded:
		t.Fatalf("invalid edit should not reload, got %+v", cfg)
	case <-time.After(time.Second):
	}
}

func TestWatcherRequiresCallback(t *testing.T) {
	_, err := NewWatcher("ignored.yaml", nil, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
