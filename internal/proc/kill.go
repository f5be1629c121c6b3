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
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"
)

var (
	// ErrShutdownTimeout is returned when a process doesn't exit within the
	// grace period.
	ErrShutdownTimeout = errors.New("shutdown timeout exceeded")
)

// exitPollInterval is how often WaitForExit re-probes a terminating process.
const exitPollInterval = 100 * time.Millisecond

// IsRunning checks if a process with the given PID exists.
func IsRunning(pid int) bool {
	// On Unix, FindProcess always succeeds; signal 0 checks existence
	// without delivering anything.
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// SendSignal sends a signal to the given process.
func SendSignal(pid int, sig syscall.Signal) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process %d: %w", pid, err)
	}

	if err := proc.Signal(sig); err != nil {
		return fmt.Errorf("failed to send signal %v to process %d: %w", sig, pid, err)
	}

	return nil
}

// WaitForExit waits for the process to exit, polling every 100ms. Returns
// ErrShutdownTimeout if the process is still running after timeout, or the
// context error if cancelled first.
func WaitForExit(ctx context.Context, pid int, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		if !IsRunning(pid) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(exitPollInterval):
		}
	}

	return ErrShutdownTimeout
}

// GracefulStop sends SIGTERM, waits up to timeout, then escalates to SIGKILL.
// This is the two-phase escalation contract: the grace period is never
// skipped and the wait is never unbounded. A process that is already gone at
// any point is a benign outcome, not an error.
func GracefulStop(ctx context.Context, pid int, timeout time.Duration) error {
	if !IsRunning(pid) {
		return nil
	}

	if err := SendSignal(pid, syscall.SIGTERM); err != nil {
		if !IsRunning(pid) {
			return nil
		}
		return fmt.Errorf("failed to send SIGTERM: %w", err)
	}

	err := WaitForExit(ctx, pid, timeout)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrShutdownTimeout) {
		return err
	}

	// Grace period exhausted: force kill.
	if err := ForceKill(pid); err != nil {
		return err
	}

	// SIGKILL cannot be ignored, but give the kernel a moment to reap.
	if err := WaitForExit(ctx, pid, 5*time.Second); err != nil {
		return fmt.Errorf("process %d did not die after SIGKILL: %w", pid, err)
	}

	return nil
}

// ForceKill sends SIGKILL immediately. A vanished process is benign.
func ForceKill(pid int) error {
	err := SendSignal(pid, syscall.SIGKILL)
	if err == nil || !IsRunning(pid) {
		return nil
	}
	return err
}
