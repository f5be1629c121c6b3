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

// Package status implements the status command: a read-only report of the
// warden, the singleton lock, and the supervised process pool.
package status

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mcpwarden/mcpwarden/internal/commands/shared"
	"github.com/mcpwarden/mcpwarden/internal/config"
	"github.com/mcpwarden/mcpwarden/internal/lock"
	"github.com/mcpwarden/mcpwarden/internal/proc"
	"github.com/mcpwarden/mcpwarden/internal/supervisor"
)

// NewCommand creates the status command.
func NewCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show warden and supervised pool status",
		Long: `Display the warden's state, the singleton lock holder, the supervised
process pool, and its health against the configured ceilings.

The report is built from the lock file and the live process table, so it
works whether or not the warden is running.`,
		Example: `  # Show status
  mcpwarden status

  # Status as JSON
  mcpwarden status --json

  # Extract pool health
  mcpwarden status --json | jq -r '.health.state'`,
		RunE: runStatus,
	}
}

type statusReport struct {
	Running    bool               `json:"running"`
	WardenPID  int                `json:"warden_pid,omitempty"`
	AcquiredAt *time.Time         `json:"lock_acquired_at,omitempty"`
	LockPath   string             `json:"lock_path"`
	Health     supervisor.Health  `json:"health"`
	Processes  []processReport    `json:"processes"`
}

type processReport struct {
	PID       int       `json:"pid"`
	Name      string    `json:"name"`
	MemoryMB  float64   `json:"memory_mb"`
	StartedAt time.Time `json:"started_at"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	cfg, err := config.Load(shared.GetConfigPath())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	lockPath, err := cfg.LockFilePath()
	if err != nil {
		return fmt.Errorf("failed to resolve lock path: %w", err)
	}

	report := statusReport{LockPath: lockPath, Processes: []processReport{}}

	if rec, rerr := lock.ReadRecord(lockPath); rerr == nil {
		if proc.MatchesSignature(rec.PID, config.Signature) {
			report.Running = true
			report.WardenPID = rec.PID
			at := rec.AcquiredAt
			report.AcquiredAt = &at
		}
	}

	inspector := proc.NewSystemInspector(config.Signature, nil)
	sup := supervisor.New(inspector, supervisor.Limits{
		MaxServers:  cfg.Supervisor.MaxServers,
		MaxMemoryMB: cfg.Supervisor.MaxMemoryMB,
	}, nil)

	summary, err := sup.ResourceSummary(ctx)
	if err != nil {
		return fmt.Errorf("failed to inspect process pool: %w", err)
	}
	health := summary.Health
	report.Health = health

	for _, p := range summary.Status.Processes {
		report.Processes = append(report.Processes, processReport{
			PID:       p.PID,
			Name:      p.Name,
			MemoryMB:  p.MemoryMB,
			StartedAt: p.StartedAt,
		})
	}

	if shared.GetJSON() {
		return json.NewEncoder(os.Stdout).Encode(report)
	}

	fmt.Println(shared.Header.Render("mcpwarden Status"))
	fmt.Println()

	if report.Running {
		fmt.Printf("%s %s %s\n",
			shared.Muted.Render("Warden:"),
			shared.StatusOK.Render("running"),
			shared.Muted.Render(fmt.Sprintf("(PID %d)", report.WardenPID)))
		if report.AcquiredAt != nil {
			fmt.Printf("%s %s\n",
				shared.Muted.Render("Lock held since:"),
				report.AcquiredAt.Local().Format(time.RFC1123))
		}
	} else {
		fmt.Printf("%s %s\n",
			shared.Muted.Render("Warden:"),
			shared.StatusError.Render("not running"))
	}

	fmt.Printf("%s %s\n", shared.Muted.Render("Health:"), shared.RenderHealth(health.State))
	fmt.Printf("%s %d / %d\n", shared.Muted.Render("Servers:"), health.ProcessCount, health.MaxServers)
	fmt.Printf("%s %.1f MB / %.1f MB\n", shared.Muted.Render("Memory:"), health.MemoryUsageMB, health.MaxMemoryMB)

	for _, reason := range health.Reasons {
		fmt.Println("  " + shared.RenderWarn(reason))
	}

	if len(report.Processes) > 0 {
		fmt.Println()
		fmt.Println(shared.Bold.Render("Supervised processes:"))
		for _, p := range report.Processes {
			uptime := time.Since(p.StartedAt).Round(time.Second)
			fmt.Printf("  %s %d  %.1f MB  %s\n",
				shared.Muted.Render("PID"), p.PID, p.MemoryMB,
				shared.Muted.Render(fmt.Sprintf("up %v", uptime)))
		}
	}

	return nil
}
