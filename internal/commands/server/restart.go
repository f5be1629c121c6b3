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
	"time"

	"github.com/spf13/cobra"
)

// NewRestartCommand creates the server restart command.
func NewRestartCommand() *cobra.Command {
	var (
		timeout time.Duration
		force   bool
	)

	cmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart the mcpwarden server",
		Long: `Restart the mcpwarden server by stopping and starting it.

This is equivalent to running 'mcpwarden server stop' followed by
'mcpwarden server start'. Use this after configuration changes that the
hot reload does not cover, such as the listen address.`,
		Example: `  # Restart server
  mcpwarden server restart

  # Restart with force stop
  mcpwarden server restart --force`,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Stop the server (ignore errors if not running)
			_ = runStop(cmd.Context(), stopOptions{
				timeout: timeout,
				force:   force,
			})

			// Give it a moment to fully stop
			time.Sleep(100 * time.Millisecond)

			return runStart(cmd.Context(), 30*time.Second)
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Graceful shutdown timeout before SIGKILL")
	cmd.Flags().BoolVar(&force, "force", false, "Skip graceful shutdown, send SIGKILL immediately")

	return cmd
}
