// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, DefaultMaxServers, cfg.Supervisor.MaxServers)
	assert.Equal(t, float64(DefaultMaxMemoryMB), cfg.Supervisor.MaxMemoryMB)
	assert.True(t, cfg.Supervisor.Cleanup.Enabled)
	assert.Equal(t, DefaultCleanupInterval, cfg.Supervisor.Cleanup.Interval.Std())
	assert.Equal(t, DefaultGracefulTimeout, cfg.Supervisor.Cleanup.GracefulTimeout.Std())
	assert.Equal(t, DefaultListenAddr, cfg.Server.Listen)
	require.NoError(t, cfg.Validate())
}

func TestLoad(t *testing.T) {
	t.Run("missing file returns defaults", func(t *testing.T) {
		cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		require.NoError(t, err)
		assert.Equal(t, DefaultMaxServers, cfg.Supervisor.MaxServers)
	})

	t.Run("partial file keeps defaults for absent fields", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
supervisor:
  max_servers: 5
`), 0600))

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, 5, cfg.Supervisor.MaxServers)
		assert.Equal(t, float64(DefaultMaxMemoryMB), cfg.Supervisor.MaxMemoryMB)
		assert.True(t, cfg.Supervisor.Cleanup.Enabled)
	})

	t.Run("full file overrides everything", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
server:
  listen: 127.0.0.1:9999
  lock_file: /tmp/test.lock
  shutdown_timeout: 5s
supervisor:
  max_servers: 2
  max_memory_mb: 512
  cleanup:
    enabled: false
    interval: 45s
    graceful_timeout: 3s
log:
  level: debug
  format: text
`), 0600))

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "127.0.0.1:9999", cfg.Server.Listen)
		assert.Equal(t, 5*time.Second, cfg.Server.ShutdownTimeout.Std())
		assert.Equal(t, 2, cfg.Supervisor.MaxServers)
		assert.Equal(t, float64(512), cfg.Supervisor.MaxMemoryMB)
		assert.False(t, cfg.Supervisor.Cleanup.Enabled)
		assert.Equal(t, 45*time.Second, cfg.Supervisor.Cleanup.Interval.Std())
		assert.Equal(t, 3*time.Second, cfg.Supervisor.Cleanup.GracefulTimeout.Std())
		assert.Equal(t, "debug", cfg.Log.Level)

		lock, err := cfg.LockFilePath()
		require.NoError(t, err)
		assert.Equal(t, "/tmp/test.lock", lock)
	})

	t.Run("invalid yaml is rejected", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("supervisor: ["), 0600))

		_, err := Load(path)
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("invalid duration is rejected", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
supervisor:
  cleanup:
    interval: banana
`), 0600))

		_, err := Load(path)
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero max servers", func(c *Config) { c.Supervisor.MaxServers = 0 }},
		{"negative memory ceiling", func(c *Config) { c.Supervisor.MaxMemoryMB = -1 }},
		{"zero cleanup interval", func(c *Config) { c.Supervisor.Cleanup.Interval = 0 }},
		{"zero graceful timeout", func(c *Config) { c.Supervisor.Cleanup.GracefulTimeout = 0 }},
		{"empty listen addr", func(c *Config) { c.Server.Listen = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestHealthEndpoint(t *testing.T) {
	cfg := Default()
	cfg.Server.Listen = "127.0.0.1:7466"
	assert.Equal(t, "http://127.0.0.1:7466/healthz", cfg.HealthEndpoint())
}
