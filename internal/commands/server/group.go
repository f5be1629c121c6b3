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

// Package server implements the warden daemon lifecycle commands:
// start, stop, restart, and the foreground run entry point.
package server

import (
	"github.com/spf13/cobra"
)

// NewCommand creates the server command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Manage the mcpwarden server",
		Long: `Commands for managing the mcpwarden server.

The server holds the host-wide singleton lock and supervises MCP server
processes: it audits the pool periodically, converges duplicates down to a
single instance, and sheds the heaviest processes under memory pressure.`,
	}

	cmd.AddCommand(NewStartCommand())
	cmd.AddCommand(NewStopCommand())
	cmd.AddCommand(NewRestartCommand())
	cmd.AddCommand(NewRunCommand())

	return cmd
}
