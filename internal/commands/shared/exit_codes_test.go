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

package shared

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExitError(t *testing.T) {
	t.Run("message without cause", func(t *testing.T) {
		err := NewNotRunningError("server is not running")
		assert.Equal(t, "server is not running", err.Error())
		assert.Equal(t, ExitNotRunning, err.Code)
		assert.Nil(t, err.Unwrap())
	})

	t.Run("message with cause", func(t *testing.T) {
		cause := errors.New("lock held by pid 42")
		err := NewAlreadyRunningError("cannot start", cause)
		assert.Equal(t, "cannot start: lock held by pid 42", err.Error())
		assert.Equal(t, ExitAlreadyRunning, err.Code)
		assert.Same(t, cause, err.Unwrap())
	})

	t.Run("errors.As finds an ExitError through wrapping", func(t *testing.T) {
		wrapped := fmt.Errorf("command failed: %w", NewRefusedError("refusing to stop"))

		var exitErr *ExitError
		require.True(t, errors.As(wrapped, &exitErr))
		assert.Equal(t, ExitRefused, exitErr.Code)
	})
}
