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

package main

import (
	"github.com/mcpwarden/mcpwarden/internal/cli"
	"github.com/mcpwarden/mcpwarden/internal/commands/admin"
	"github.com/mcpwarden/mcpwarden/internal/commands/server"
	"github.com/mcpwarden/mcpwarden/internal/commands/status"
	versioncmd "github.com/mcpwarden/mcpwarden/internal/commands/version"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	cli.SetVersion(version, commit, buildDate)

	root := cli.NewRootCommand()
	root.AddCommand(server.NewCommand())
	root.AddCommand(status.NewCommand())
	root.AddCommand(admin.NewCleanupCommand())
	root.AddCommand(admin.NewKillAllCommand())
	root.AddCommand(admin.NewUnlockCommand())
	root.AddCommand(versioncmd.NewCommand())

	if err := root.Execute(); err != nil {
		cli.HandleExitError(err)
	}
}
