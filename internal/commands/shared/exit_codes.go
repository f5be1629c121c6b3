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
	"os"
)

// Exit codes for mcpwarden commands
const (
	ExitSuccess        = 0
	ExitFailure        = 1
	ExitAlreadyRunning = 10
	ExitNotRunning     = 11
	ExitRefused        = 12
)

// ExitError is an error that carries an exit code
type ExitError struct {
	Code    int
	Message string
	Cause   error
}

func (e *ExitError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Cause
}

// NewAlreadyRunningError creates an error for a start blocked by a live instance
func NewAlreadyRunningError(msg string, cause error) *ExitError {
	return &ExitError{
		Code:    ExitAlreadyRunning,
		Message: msg,
		Cause:   cause,
	}
}

// NewNotRunningError creates an error for operations that need a running warden
func NewNotRunningError(msg string) *ExitError {
	return &ExitError{
		Code:    ExitNotRunning,
		Message: msg,
	}
}

// NewRefusedError creates an error for operations refused for safety
func NewRefusedError(msg string) *ExitError {
	return &ExitError{
		Code:    ExitRefused,
		Message: msg,
	}
}

// HandleExitError checks if an error is an ExitError and exits with the appropriate code
func HandleExitError(err error) {
	if err == nil {
		return
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		fmt.Fprintln(os.Stderr, "Error:", exitErr.Error())
		os.Exit(exitErr.Code)
	}

	fmt.Fprintln(os.Stderr, "Error:", err.Error())
	os.Exit(ExitFailure)
}
