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

// Package cli builds the root Cobra command for mcpwarden.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/mcpwarden/mcpwarden/internal/commands/shared"
)

// SetVersion sets the version information (called from main)
func SetVersion(v, c, b string) {
	shared.SetVersion(v, c, b)
}

// NewRootCommand creates the root Cobra command for mcpwarden
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcpwarden",
		Short: "mcpwarden - singleton guard and supervisor for MCP servers",
		Long: `mcpwarden keeps exactly one MCP server manager running per host and
supervises the server processes it is responsible for: it bounds how many
run at once and how much memory they use, converges accidental duplicates
down to a single instance, and sheds the heaviest processes under memory
pressure.

Run 'mcpwarden server start' to launch the warden in the background.
Run 'mcpwarden status' to inspect the lock and the supervised pool.`,
		SilenceUsage:  true, // Don't show usage on errors
		SilenceErrors: true, // We handle errors ourselves for proper exit codes
	}

	// Get flag pointers from shared package
	verbose, quiet, json, config := shared.RegisterFlagPointers()

	// Add global flags
	cmd.PersistentFlags().BoolVarP(verbose, "verbose", "v", false, "Enable verbose output")
	cmd.PersistentFlags().BoolVarP(quiet, "quiet", "q", false, "Suppress non-error output")
	cmd.PersistentFlags().BoolVar(json, "json", false, "Output in JSON format")
	cmd.PersistentFlags().StringVar(config, "config", "", "Path to config file (default: ~/.config/mcpwarden/config.yaml)")

	return cmd
}

// HandleExitError handles exit errors with proper exit codes
func HandleExitError(err error) {
	shared.HandleExitError(err)
}
