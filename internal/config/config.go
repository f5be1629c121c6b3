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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	// ErrInvalidConfig is returned when configuration validation fails.
	ErrInvalidConfig = errors.New("config: invalid configuration")
)

// Defaults for the supervisor ceilings and audit cadence.
const (
	// DefaultMaxServers is the admission ceiling on concurrently running
	// supervised server processes.
	DefaultMaxServers = 3

	// DefaultMaxMemoryMB is the aggregate resident-memory ceiling across all
	// supervised server processes.
	DefaultMaxMemoryMB = 2048

	// DefaultCleanupInterval is the audit period. It bounds the detection
	// latency for duplicates and memory breaches.
	DefaultCleanupInterval = 30 * time.Second

	// DefaultGracefulTimeout is how long a termination request waits before
	// escalating to a forced kill.
	DefaultGracefulTimeout = 10 * time.Second

	// DefaultShutdownTimeout bounds daemon graceful shutdown.
	DefaultShutdownTimeout = 15 * time.Second

	// DefaultListenAddr is the daemon's health/status/metrics listener.
	// Localhost only: the singleton guarantee is host-local.
	DefaultListenAddr = "127.0.0.1:7466"
)

// Signature is the process-launch signature used to identify supervised
// server processes. It must match the invocation used by the real entry
// point or duplicate detection will miss (or worse, kill bystanders).
const Signature = "mcpwarden server run"

// Duration wraps time.Duration so YAML values can be written as "30s", "5m".
type Duration time.Duration

// UnmarshalYAML decodes a duration from a YAML string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("%w: duration must be a string like \"30s\"", ErrInvalidConfig)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("%w: invalid duration %q", ErrInvalidConfig, s)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML encodes the duration as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config represents the complete mcpwarden configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
	Log        LogConfig        `yaml:"log"`
}

// ServerConfig configures the warden daemon process.
type ServerConfig struct {
	// Listen is the address for the health/status/metrics endpoints.
	// Default: 127.0.0.1:7466
	Listen string `yaml:"listen,omitempty"`

	// LockFile is the singleton lock path. Empty means
	// <data dir>/mcpwarden.lock.
	LockFile string `yaml:"lock_file,omitempty"`

	// LogFile is where a detached daemon's output is redirected. Empty means
	// <data dir>/server.log.
	LogFile string `yaml:"log_file,omitempty"`

	// JournalFile is the append-only supervision journal. Empty means
	// <data dir>/journal.log.
	JournalFile string `yaml:"journal_file,omitempty"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	ShutdownTimeout Duration `yaml:"shutdown_timeout,omitempty"`
}

// SupervisorConfig configures the process supervisor ceilings.
type SupervisorConfig struct {
	// MaxServers is the admission ceiling on supervised processes.
	MaxServers int `yaml:"max_servers,omitempty"`

	// MaxMemoryMB is the aggregate memory ceiling in megabytes.
	MaxMemoryMB float64 `yaml:"max_memory_mb,omitempty"`

	// Cleanup configures the periodic audit.
	Cleanup CleanupConfig `yaml:"cleanup,omitempty"`
}

// CleanupConfig configures the periodic audit cycle.
type CleanupConfig struct {
	// Enabled arms the periodic audit. Default: true.
	Enabled bool `yaml:"enabled"`

	// Interval is the audit period. This is also the bound on detection
	// latency for duplicates and memory breaches.
	Interval Duration `yaml:"interval,omitempty"`

	// GracefulTimeout is the grace period before a kill escalates.
	GracefulTimeout Duration `yaml:"graceful_timeout,omitempty"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	// Level sets the minimum log level (debug, info, warn, error).
	Level string `yaml:"level,omitempty"`

	// Format sets the output format (json, text).
	Format string `yaml:"format,omitempty"`
}

// Default returns a Config populated with defaults. Paths that depend on the
// data directory are left empty and resolved lazily by the accessors below.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:          DefaultListenAddr,
			ShutdownTimeout: Duration(DefaultShutdownTimeout),
		},
		Supervisor: SupervisorConfig{
			MaxServers:  DefaultMaxServers,
			MaxMemoryMB: DefaultMaxMemoryMB,
			Cleanup: CleanupConfig{
				Enabled:         true,
				Interval:        Duration(DefaultCleanupInterval),
				GracefulTimeout: Duration(DefaultGracefulTimeout),
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads the configuration from the given path. An empty path means the
// default XDG location. A missing file is not an error: defaults apply.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath == "" {
		var err error
		configPath, err = ConfigPath()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve config path: %w", err)
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Supervisor.MaxServers < 1 {
		return fmt.Errorf("%w: supervisor.max_servers must be at least 1, got %d",
			ErrInvalidConfig, c.Supervisor.MaxServers)
	}
	if c.Supervisor.MaxMemoryMB <= 0 {
		return fmt.Errorf("%w: supervisor.max_memory_mb must be positive, got %v",
			ErrInvalidConfig, c.Supervisor.MaxMemoryMB)
	}
	if c.Supervisor.Cleanup.Interval.Std() <= 0 {
		return fmt.Errorf("%w: supervisor.cleanup.interval must be positive, got %v",
			ErrInvalidConfig, c.Supervisor.Cleanup.Interval.Std())
	}
	if c.Supervisor.Cleanup.GracefulTimeout.Std() <= 0 {
		return fmt.Errorf("%w: supervisor.cleanup.graceful_timeout must be positive, got %v",
			ErrInvalidConfig, c.Supervisor.Cleanup.GracefulTimeout.Std())
	}
	if c.Server.Listen == "" {
		return fmt.Errorf("%w: server.listen must not be empty", ErrInvalidConfig)
	}
	return nil
}

// LockFilePath resolves the singleton lock file path.
func (c *Config) LockFilePath() (string, error) {
	if c.Server.LockFile != "" {
		return c.Server.LockFile, nil
	}
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "mcpwarden.lock"), nil
}

// LogFilePath resolves the detached daemon output log path.
func (c *Config) LogFilePath() (string, error) {
	if c.Server.LogFile != "" {
		return c.Server.LogFile, nil
	}
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "server.log"), nil
}

// JournalFilePath resolves the supervision journal path.
func (c *Config) JournalFilePath() (string, error) {
	if c.Server.JournalFile != "" {
		return c.Server.JournalFile, nil
	}
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "journal.log"), nil
}

// HealthEndpoint returns the daemon health check URL.
func (c *Config) HealthEndpoint() string {
	return fmt.Sprintf("http://%s/healthz", c.Server.Listen)
}
