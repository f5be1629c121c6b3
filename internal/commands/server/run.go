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

package server

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mcpwarden/mcpwarden/internal/commands/shared"
	"github.com/mcpwarden/mcpwarden/internal/config"
	"github.com/mcpwarden/mcpwarden/internal/daemon"
	"github.com/mcpwarden/mcpwarden/internal/log"
)

// NewRunCommand creates the foreground server entry point. The start command
// spawns this same invocation detached; its command line is also the launch
// signature duplicate detection matches against.
func NewRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the server in the foreground",
		Long: `Run the mcpwarden server in the current terminal.

This is the actual daemon process: it acquires the singleton lock, starts
the supervisor, and serves the health, status, and metrics endpoints.
Normally invoked via 'mcpwarden server start', which runs it detached.
Use directly for systemd, docker, or debugging.`,
		Example: `  # Run in foreground (for systemd/docker)
  mcpwarden server run

  # Run with a specific config file
  mcpwarden --config /etc/mcpwarden/config.yaml server run`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd)
		},
	}
}

func runServer(cmd *cobra.Command) error {
	configPath := shared.GetConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logCfg := log.FromEnv()
	if cfg.Log.Level != "" {
		logCfg.Level = cfg.Log.Level
	}
	if cfg.Log.Format != "" {
		logCfg.Format = log.Format(cfg.Log.Format)
	}
	if shared.GetVerbose() {
		logCfg.Level = "debug"
	}
	logger := log.New(logCfg)

	if configPath == "" {
		// Watch the default location so edits there hot-reload limits too.
		if p, perr := config.ConfigPath(); perr == nil {
			configPath = p
		}
	}

	d, err := daemon.New(daemon.Options{
		Config:     cfg,
		ConfigPath: configPath,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	if err := d.Run(cmd.Context()); err != nil {
		if errors.Is(err, daemon.ErrAlreadyRunning) {
			return shared.NewAlreadyRunningError("cannot start", err)
		}
		return err
	}
	return nil
}
