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

// Package admin implements operator recovery commands: an on-demand audit
// pass, kill-all, and force-releasing the singleton lock.
package admin

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mcpwarden/mcpwarden/internal/commands/shared"
	"github.com/mcpwarden/mcpwarden/internal/config"
	"github.com/mcpwarden/mcpwarden/internal/journal"
	"github.com/mcpwarden/mcpwarden/internal/proc"
	"github.com/mcpwarden/mcpwarden/internal/supervisor"
)

// NewCleanupCommand creates the cleanup command.
func NewCleanupCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Run one audit pass over the supervised pool",
		Long: `Run a single audit pass immediately: kill duplicate servers (the longest
running instance survives) and, if the pool still exceeds its ceilings,
shed the heaviest processes until it is back under.

The running warden performs the same pass periodically; this command is for
forcing one without waiting for the next tick.`,
		Example: `  # Run an audit pass now
  mcpwarden cleanup`,
		RunE: runCleanup,
	}
}

func runCleanup(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
	defer cancel()

	sup, err := buildSupervisor()
	if err != nil {
		return err
	}

	killed, err := sup.Cleanup(ctx)
	if err != nil {
		return fmt.Errorf("audit pass failed: %w", err)
	}

	if shared.GetQuiet() {
		return nil
	}
	if killed == 0 {
		fmt.Println(shared.RenderOK("Pool is within limits, nothing to clean up"))
		return nil
	}
	fmt.Println(shared.RenderOK(fmt.Sprintf("Audit pass complete, %d process(es) terminated", killed)))
	return nil
}

// buildSupervisor wires a standalone supervisor from the configuration, for
// commands that act on the pool without a running warden.
func buildSupervisor() (*supervisor.Supervisor, error) {
	cfg, err := config.Load(shared.GetConfigPath())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	journalPath, err := cfg.JournalFilePath()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve journal path: %w", err)
	}

	inspector := proc.NewSystemInspector(config.Signature, nil)
	return supervisor.New(inspector, supervisor.Limits{
		MaxServers:      cfg.Supervisor.MaxServers,
		MaxMemoryMB:     cfg.Supervisor.MaxMemoryMB,
		CleanupEnabled:  true,
		GracefulTimeout: cfg.Supervisor.Cleanup.GracefulTimeout.Std(),
	}, nil, supervisor.WithJournal(journal.New(journalPath))), nil
}
