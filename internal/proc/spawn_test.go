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
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"
)

func TestSpawner_SpawnDetached(t *testing.T) {
	if os.Getenv("SKIP_SPAWN_TESTS") != "" {
		t.Skip("Skipping spawn tests (SKIP_SPAWN_TESTS is set)")
	}

	tmpDir := t.TempDir()

	t.Run("spawns a detached process that actually starts", func(t *testing.T) {
		logPath := filepath.Join(tmpDir, "test.log")
		spawner := NewSpawner()

		// A session leader must not also request setpgid: that combination
		// fails every fork with EPERM and no child ever starts.
		pid, err := spawner.SpawnDetached("sh", []string{"-c", "echo 'test output'; sleep 1"}, logPath)
		skipOnSpawnError(t, err)
		if err != nil {
			t.Fatalf("SpawnDetached() error = %v", err)
		}

		if !IsRunning(pid) {
			t.Error("Spawned process is not running")
		}

		// Wait for process to complete
		time.Sleep(2 * time.Second)

		content, err := os.ReadFile(logPath)
		if err != nil {
			t.Fatalf("Failed to read log file: %v", err)
		}
		if !strings.Contains(string(content), "test output") {
			t.Errorf("Log file does not contain expected output: %s", content)
		}
	})

	t.Run("creates log directory if missing", func(t *testing.T) {
		logPath := filepath.Join(tmpDir, "nested", "dir", "test.log")
		spawner := NewSpawner()

		pid, err := spawner.SpawnDetached("sh", []string{"-c", "echo 'test'"}, logPath)
		skipOnSpawnError(t, err)
		if err != nil {
			t.Fatalf("SpawnDetached() error = %v", err)
		}
		defer syscall.Kill(pid, syscall.SIGKILL)

		logDir := filepath.Dir(logPath)
		info, err := os.Stat(logDir)
		if err != nil {
			t.Fatalf("Log directory not created: %v", err)
		}
		if mode := info.Mode() & os.ModePerm; mode != 0700 {
			t.Errorf("Log directory mode = %04o, want 0700", mode)
		}
	})

	t.Run("child runs in its own session", func(t *testing.T) {
		logPath := filepath.Join(tmpDir, "detach.log")
		spawner := NewSpawner()

		pid, err := spawner.SpawnDetached("sleep", []string{"2"}, logPath)
		skipOnSpawnError(t, err)
		if err != nil {
			t.Fatalf("SpawnDetached() error = %v", err)
		}
		defer syscall.Kill(pid, syscall.SIGKILL)

		pgid, err := syscall.Getpgid(pid)
		if err != nil {
			t.Fatalf("Getpgid(%d) error = %v", pid, err)
		}
		if pgid != pid {
			t.Errorf("child pgid = %d, want %d (own process group leader)", pgid, pid)
		}
		if pgid == syscall.Getpgrp() {
			t.Error("child shares the test's process group, not detached")
		}
	})

	t.Run("sets correct log file permissions", func(t *testing.T) {
		logPath := filepath.Join(tmpDir, "perms.log")
		spawner := NewSpawner()

		pid, err := spawner.SpawnDetached("echo", []string{"test"}, logPath)
		skipOnSpawnError(t, err)
		if err != nil {
			t.Fatalf("SpawnDetached() error = %v", err)
		}
		defer syscall.Kill(pid, syscall.SIGKILL)

		// Wait for file to be created
		time.Sleep(100 * time.Millisecond)

		info, err := os.Stat(logPath)
		if err != nil {
			t.Fatalf("Failed to stat log file: %v", err)
		}
		if mode := info.Mode() & os.ModePerm; mode != 0600 {
			t.Errorf("Log file mode = %04o, want 0600", mode)
		}
	})

	t.Run("appends to existing log file", func(t *testing.T) {
		logPath := filepath.Join(tmpDir, "append.log")

		if err := os.WriteFile(logPath, []byte("initial\n"), 0600); err != nil {
			t.Fatalf("Failed to create initial log: %v", err)
		}

		spawner := NewSpawner()
		pid, err := spawner.SpawnDetached("echo", []string{"appended"}, logPath)
		skipOnSpawnError(t, err)
		if err != nil {
			t.Fatalf("SpawnDetached() error = %v", err)
		}
		defer syscall.Kill(pid, syscall.SIGKILL)

		// Wait for output
		time.Sleep(500 * time.Millisecond)

		content := string(mustRead(t, logPath))
		if !strings.Contains(content, "initial") {
			t.Error("Original content was overwritten")
		}
		if !strings.Contains(content, "appended") {
			t.Error("New content was not appended")
		}
	})

	t.Run("handles invalid binary path", func(t *testing.T) {
		logPath := filepath.Join(tmpDir, "error.log")
		spawner := NewSpawner()

		_, err := spawner.SpawnDetached("/nonexistent/binary", []string{}, logPath)
		if err == nil {
			t.Error("SpawnDetached() with invalid binary succeeded, want error")
		}
	})
}

func TestSpawner_WithEnv(t *testing.T) {
	if os.Getenv("SKIP_SPAWN_TESTS") != "" {
		t.Skip("Skipping spawn tests (SKIP_SPAWN_TESTS is set)")
	}

	t.Run("passes environment variables to child", func(t *testing.T) {
		logPath := filepath.Join(t.TempDir(), "env.log")
		spawner := NewSpawner().WithEnv([]string{"TEST_VAR=test_value"})

		pid, err := spawner.SpawnDetached("sh", []string{"-c", "echo $TEST_VAR"}, logPath)
		skipOnSpawnError(t, err)
		if err != nil {
			t.Fatalf("SpawnDetached() error = %v", err)
		}
		defer syscall.Kill(pid, syscall.SIGKILL)

		// Wait for output
		time.Sleep(500 * time.Millisecond)

		if !strings.Contains(string(mustRead(t, logPath)), "test_value") {
			t.Error("Environment variable not passed to child")
		}
	})
}

func mustRead(t *testing.T, path string) []byte {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read %s: %v", path, err)
	}
	return content
}
