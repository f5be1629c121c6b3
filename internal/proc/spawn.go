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

package proc

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
)

// Spawner handles detached process spawning for daemon background mode.
type Spawner struct {
	// Environment variables to pass to the child process
	Env []string
}

// NewSpawner creates a new process spawner inheriting the current environment.
func NewSpawner() *Spawner {
	return &Spawner{
		Env: os.Environ(),
	}
}

// WithEnv sets the environment variables for the spawned process.
func (s *Spawner) WithEnv(env []string) *Spawner {
	s.Env = env
	return s
}

// SpawnDetached spawns a detached background process.
// The process:
//   - Runs in its own process group (not killed when parent exits)
//   - Has stdin closed, stdout/stderr redirected to logPath
//   - Has a new session ID (fully detached)
//
// Returns the PID of the spawned process.
func (s *Spawner) SpawnDetached(binary string, args []string, logPath string) (int, error) {
	logDir := filepath.Dir(logPath)
	if err := os.MkdirAll(logDir, 0700); err != nil {
		return 0, fmt.Errorf("failed to create log directory: %w", err)
	}

	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return 0, fmt.Errorf("failed to open log file: %w", err)
	}
	defer logFile.Close()

	cmd := exec.Command(binary, args...)
	cmd.Env = s.Env
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Stdin = nil

	cmd.SysProcAttr = &syscall.SysProcAttr{
		// New session: setsid already makes the child a session and process
		// group leader. Combining it with Setpgid would have the fresh
		// session leader call setpgid on itself, which the kernel rejects
		// with EPERM and the spawn never starts.
		Setsid: true,
	}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("failed to start process: %w", err)
	}

	pid := cmd.Process.Pid

	// Don't wait for it; the child outlives us.
	if err := cmd.Process.Release(); err != nil {
		return pid, fmt.Errorf("process started but failed to release: %w", err)
	}

	return pid, nil
}
