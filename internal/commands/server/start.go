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
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mcpwarden/mcpwarden/internal/commands/shared"
	"github.com/mcpwarden/mcpwarden/internal/config"
	"github.com/mcpwarden/mcpwarden/internal/daemon"
	"github.com/mcpwarden/mcpwarden/internal/journal"
	"github.com/mcpwarden/mcpwarden/internal/lock"
	"github.com/mcpwarden/mcpwarden/internal/proc"
)

// NewStartCommand creates the server start command.
func NewStartCommand() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the mcpwarden server",
		Long: `Start the mcpwarden server in the background.

The server is spawned detached and this command waits until its health
endpoint answers.

The start command is idempotent: if a server is already running and healthy,
it exits successfully without starting a new instance. A lock left behind by
a dead process is reclaimed automatically.`,
		Example: `  # Start server in background
  mcpwarden server start

  # Override health check timeout
  mcpwarden server start --timeout 60s`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(cmd.Context(), timeout)
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Health check timeout")

	return cmd
}

func runStart(ctx context.Context, timeout time.Duration) error {
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

	// Fast path: a live, matching lock holder that answers its health
	// endpoint means there is nothing to do.
	if rec, rerr := lock.ReadRecord(lockPath); rerr == nil {
		if proc.MatchesSignature(rec.PID, config.Signature) {
			checker := daemon.NewHealthChecker(cfg.HealthEndpoint())
			checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := checker.Check(checkCtx)
			cancel()
			if err == nil {
				if jerr := jnl.LogAlreadyRunning(rec.PID); jerr != nil {
					fmt.Fprintf(os.Stderr, "Warning: failed to write journal: %v\n", jerr)
				}
				if !shared.GetQuiet() {
					fmt.Printf("Server is already running (PID %d)\n", rec.PID)
				}
				return nil
			}
			fmt.Fprintf(os.Stderr, "Warning: server process exists (PID %d) but is unhealthy\n", rec.PID)
		} else {
			// Dead owner or recycled pid: the spawned daemon will reclaim the
			// lock, but surface it here for the operator.
			if jerr := jnl.LogStaleLock(rec.PID, "owner not running"); jerr != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to write journal: %v\n", jerr)
			}
			fmt.Fprintf(os.Stderr, "Warning: stale lock found (PID %d not running), will be reclaimed\n", rec.PID)
		}
	}

	binaryPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	args := []string{"server", "run"}
	if configPath := shared.GetConfigPath(); configPath != "" {
		args = append(args, "--config", configPath)
	}

	logPath, err := cfg.LogFilePath()
	if err != nil {
		return fmt.Errorf("failed to resolve log path: %w", err)
	}

	spawner := proc.NewSpawner()
	pid, err := spawner.SpawnDetached(binaryPath, args, logPath)
	if err != nil {
		if jerr := jnl.LogStartFailure(err); jerr != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to write journal: %v\n", jerr)
		}
		return fmt.Errorf("failed to spawn server: %w", err)
	}

	startTime := time.Now()
	if !shared.GetQuiet() {
		fmt.Printf("Starting server (PID %d)...\n", pid)
	}

	checker := daemon.NewHealthChecker(cfg.HealthEndpoint())
	if err := checker.WaitUntilHealthy(ctx, timeout); err != nil {
		// The spawn may have lost the lock race to another starter; if so the
		// surviving holder is the instance we wanted.
		if rec, rerr := lock.ReadRecord(lockPath); rerr == nil && rec.PID != pid &&
			proc.MatchesSignature(rec.PID, config.Signature) {
			if !shared.GetQuiet() {
				fmt.Printf("Server is already running (PID %d)\n", rec.PID)
			}
			return nil
		}

		_ = proc.SendSignal(pid, syscall.SIGTERM)
		if jerr := jnl.LogStartFailure(err); jerr != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to write journal: %v\n", jerr)
		}
		return fmt.Errorf("server failed to become healthy within %v: %w", timeout, err)
	}

	if err := jnl.LogStartSuccess(pid, time.Since(startTime)); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to write journal: %v\n", err)
	}

	if !shared.GetQuiet() {
		fmt.Println(shared.RenderOK(fmt.Sprintf("Server started successfully (PID %d)", pid)))
	}
	return nil
}
