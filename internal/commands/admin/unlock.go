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

package admin

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mcpwarden/mcpwarden/internal/commands/shared"
	"github.com/mcpwarden/mcpwarden/internal/config"
	"github.com/mcpwarden/mcpwarden/internal/journal"
	"github.com/mcpwarden/mcpwarden/internal/lock"
	"github.com/mcpwarden/mcpwarden/internal/proc"
)

// NewUnlockCommand creates the unlock command.
func NewUnlockCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "unlock",
		Short: "Force-release the singleton lock",
		Long: `Delete the singleton lock file regardless of its owner.

Stale locks from dead processes are reclaimed automatically; this command
exists for the one case automatic detection cannot catch, such as a crashed
owner's pid being reused by an unrelated process. Removing the lock while a
real warden is running allows a second instance, so --force is required.`,
		Example: `  # Force-release the lock
  mcpwarden unlock --force`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				return shared.NewRefusedError("unlock removes the singleton lock unconditionally; re-run with --force to confirm")
			}
			return runUnlock()
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Confirm unconditional lock removal")

	return cmd
}

func runUnlock() error {
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

	if rec, rerr := lock.ReadRecord(lockPath); rerr == nil {
		if proc.MatchesSignature(rec.PID, config.Signature) {
			fmt.Fprintf(os.Stderr,
				"Warning: lock is held by a live server (PID %d); removing it breaks the singleton guarantee\n",
				rec.PID)
		}
	}

	removed, err := lock.ForceRelease(lockPath)
	if err != nil {
		return err
	}

	if jerr := jnl.LogForceUnlock(removed); jerr != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to write journal: %v\n", jerr)
	}

	if shared.GetQuiet() {
		return nil
	}
	if removed {
		fmt.Println(shared.RenderOK("Lock removed"))
	} else {
		fmt.Println("No lock file present")
	}
	return nil
}
