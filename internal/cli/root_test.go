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

package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpwarden/mcpwarden/internal/commands/shared"
)

func TestNewRootCommand(t *testing.T) {
	cmd := NewRootCommand()

	assert.Equal(t, "mcpwarden", cmd.Use)
	assert.True(t, cmd.SilenceUsage)
	assert.True(t, cmd.SilenceErrors)

	for _, name := range []string{"verbose", "quiet", "json", "config"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), "missing persistent flag %q", name)
	}
}

func TestGlobalFlagsBindToShared(t *testing.T) {
	cmd := NewRootCommand()

	require.NoError(t, cmd.PersistentFlags().Set("json", "true"))
	require.NoError(t, cmd.PersistentFlags().Set("config", "/tmp/warden.yaml"))
	defer func() {
		_ = cmd.PersistentFlags().Set("json", "false")
		shared.SetConfigPathForTest("")
	}()

	assert.True(t, shared.GetJSON())
	assert.Equal(t, "/tmp/warden.yaml", shared.GetConfigPath())
}

func TestSetVersion(t *testing.T) {
	SetVersion("1.2.3", "abc123", "2026-01-01")
	defer SetVersion("dev", "unknown", "unknown")

	v, c, b := shared.GetVersion()
	assert.Equal(t, "1.2.3", v)
	assert.Equal(t, "abc123", c)
	assert.Equal(t, "2026-01-01", b)
}
