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
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mcpwarden/mcpwarden/internal/commands/shared"
	"github.com/mcpwarden/mcpwarden/internal/config"
	"github.com/mcpwarden/mcpwarden/internal/journal"
	"github.com/mcpwarden/mcpwarden/internal/lock"
	"github.com/mcpwarden/mcpwarden/internal/proc"
)

// NewStopCommand creates the server stop command.
func NewStopCommand() *cobra.Command {
	var (
		timeout time.Duration
		force   bool
	)

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the mcpwarden server",
		Long: `Stop the mcpwarden server gracefully.

By default, sends SIGTERM and waits for graceful shutdown. If the timeout
is exceeded, sends SIGKILL to prevent orphaned processes.

Use --force to skip graceful shutdown and send SIGKILL immediately.

The stop command is idempotent: if the server is not running, it exits
successfully after cleaning up a stale lock.`,
		Example: `  # Stop server gracefully (SIGKILL if timeout exceeded)
  mcpwarden server stop

  # Stop with custom timeout before force kill
  mcpwarden server stop --timeout 60s

  # Skip graceful shutdown, kill immediately
  mcpwarden server stop --force`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStop(cmd.Context(), stopOptions{
				timeout: timeout,
				force:   force,
			})
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Graceful shutdown timeout before SIGKILL")
	cmd.Flags().BoolVar(&force, "force", false, "Skip graceful shutdown, send SIGKILL immediately")

	return cmd
}

type stopOptions struct {
	timeout time.Duration
	force   bool
}

func runStop(ctx context.Context, opts stopOptions) error {
	cfg, err := config.Load(shared.GetConfigPath())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	lockPath, err := cfg.LockFilePath()
	if err != nil {
		return fmt.Errorf("failed to resolve lock path: %w", err)
	}
	journalPath, err := cfg.JournalFilePath()
	if err != nil {
		return fmt.Errorf("failed to resolve journal path: %w", err)
	}
	jnl := journal.New(journalPath)

	rec, err := lock.ReadRecord(lockPath)
	if err != nil {
		if os.IsNotExist(err) {
			if !shared.GetQuiet() {
				fmt.Println("Server is not running (no lock file)")
			}
			return nil
		}
		// Corrupt lock with no live owner to match: remove it.
		fmt.Fprintf(os.Stderr, "Warning: removing unreadable lock file: %v\n", err)
		if _, ferr := lock.ForceRelease(lockPath); ferr != nil {
			return ferr
		}
		return nil
	}

	if !proc.IsRunning(rec.PID) {
		if jerr := jnl.LogStaleLock(rec.PID, "process not running"); jerr != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to write journal: %v\n", jerr)
		}
		if !shared.GetQuiet() {
			fmt.Printf("Server process %d is not running (removing stale lock)\n", rec.PID)
		}
		if _, err := lock.ForceRelease(lockPath); err != nil {
			return fmt.Errorf("failed to remove stale lock: %w", err)
		}
		return nil
	}

	// Never signal a recycled pid that belongs to an unrelated process.
	if !proc.MatchesSignature(rec.PID, config.Signature) {
		return shared.NewRefusedError(
			fmt.Sprintf("PID %d is not an mcpwarden server process (refusing to stop)", rec.PID))
	}

	if err := jnl.LogStop(rec.PID, opts.force); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to write journal: %v\n", err)
	}

	startTime := time.Now()
	if !shared.GetQuiet() {
		fmt.Printf("Stopping server (PID %d)...\n", rec.PID)
	}

	if opts.force {
		err = proc.ForceKill(rec.PID)
		if err == nil {
			err = proc.WaitForExit(ctx, rec.PID, 5*time.Second)
		}
	} else {
		err = proc.GracefulStop(ctx, rec.PID, opts.timeout)
	}
	if err != nil {
		return fmt.Errorf("failed to stop server: %w", err)
	}

	// The daemon releases its own lock on SIGTERM; after SIGKILL it cannot,
	// so clear any leftover record for the pid we just stopped.
	if after, rerr := lock.ReadRecord(lockPath); rerr == nil && after.PID == rec.PID {
		if _, ferr := lock.ForceRelease(lockPath); ferr != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to remove lock file: %v\n", ferr)
		}
	}

	if err := jnl.LogStopSuccess(rec.PID, time.Since(startTime)); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to write journal: %v\n", err)
	}

	if !shared.GetQuiet() {
		fmt.Println(shared.RenderOK("Server stopped successfully"))
	}
	return nil
}
