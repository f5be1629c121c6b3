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
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mcpwarden/mcpwarden/internal/commands/shared"
)

// NewKillAllCommand creates the killall command.
func NewKillAllCommand() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "killall",
		Short: "Terminate every supervised server process",
		Long: `Terminate every supervised server process, regardless of limits.

Each process gets a graceful shutdown request first and is force killed if
it does not exit within the grace period. This is a recovery hammer;
requires --yes to confirm.`,
		Example: `  # Kill all supervised servers
  mcpwarden killall --yes`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return shared.NewRefusedError("killall terminates every supervised server; re-run with --yes to confirm")
			}
			return runKillAll(cmd.Context())
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm killing all supervised servers")

	return cmd
}

func runKillAll(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	sup, err := buildSupervisor()
	if err != nil {
		return err
	}

	killed, err := sup.KillAll(ctx)
	if err != nil {
		return fmt.Errorf("killall failed: %w", err)
	}

	if shared.GetQuiet() {
		return nil
	}
	if killed == 0 {
		fmt.Println("No supervised servers running")
		return nil
	}
	fmt.Println(shared.RenderOK(fmt.Sprintf("Terminated %d supervised server(s)", killed)))
	return nil
}
