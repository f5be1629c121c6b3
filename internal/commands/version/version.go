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

package version

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/mcpwarden/mcpwarden/internal/commands/shared"
)

// NewCommand creates the version command.
func NewCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Example: `  # Show version
  mcpwarden version

  # Version as JSON
  mcpwarden version --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, c, b := shared.GetVersion()

			if shared.GetJSON() {
				return json.NewEncoder(os.Stdout).Encode(map[string]string{
					"version":    v,
					"commit":     c,
					"build_date": b,
					"go_version": runtime.Version(),
					"os":         runtime.GOOS,
					"arch":       runtime.GOARCH,
				})
			}

			fmt.Printf("mcpwarden %s\n", v)
			fmt.Printf("  commit:     %s\n", c)
			fmt.Printf("  build date: %s\n", b)
			fmt.Printf("  go version: %s\n", runtime.Version())
			fmt.Printf("  platform:   %s/%s\n", runtime.GOOS, runtime.GOARCH)
			return nil
		},
	}
}
