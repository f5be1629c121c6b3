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

// Package journal records supervision events to an append-only JSON-lines
// file for audit purposes: daemon starts and stops, stale lock reclaims,
// duplicate and emergency kills.
package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Event is one journal entry. Every event carries a unique ID so external
// tooling can correlate entries across files and restarts.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Event     string    `json:"event"`
	PID       int       `json:"pid,omitempty"`
	KeptPID   int       `json:"kept_pid,omitempty"`
	MemoryMB  float64   `json:"memory_mb,omitempty"`
	Count     int       `json:"count,omitempty"`
	Forced    bool      `json:"forced,omitempty"`
	Success   bool      `json:"success"`
	Message   string    `json:"message,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Journal appends supervision events to a log file.
type Journal struct {
	path string
}

// New creates a journal writing to the given path.
func New(path string) *Journal {
	return &Journal{path: path}
}

// LogStart records a daemon start attempt.
func (j *Journal) LogStart(pid int) error {
	return j.write(Event{
		Event:   "start",
		PID:     pid,
		Success: true,
		Message: "server start initiated",
	})
}

// LogStartSuccess records a daemon that came up healthy.
func (j *Journal) LogStartSuccess(pid int, duration time.Duration) error {
	return j.write(Event{
		Event:   "start_success",
		PID:     pid,
		Success: true,
		Message: fmt.Sprintf("server started successfully (duration: %v)", duration),
	})
}

// LogStartFailure records a daemon that failed to start.
func (j *Journal) LogStartFailure(err error) error {
	return j.write(Event{
		Event:   "start_failure",
		Success: false,
		Message: "server failed to start",
		Error:   err.Error(),
	})
}

// LogAlreadyRunning records a start attempt that found a healthy instance.
func (j *Journal) LogAlreadyRunning(pid int) error {
	return j.write(Event{
		Event:   "already_running",
		PID:     pid,
		Success: true,
		Message: "server already running",
	})
}

// LogStaleLock records detection of a lock owned by a dead process.
func (j *Journal) LogStaleLock(pid int, reason string) error {
	return j.write(Event{
		Event:   "stale_lock",
		PID:     pid,
		Success: true,
		Message: fmt.Sprintf("stale lock detected: %s", reason),
	})
}

// LogStop records a stop request.
func (j *Journal) LogStop(pid int, force bool) error {
	msg := "server stop initiated"
	if force {
		msg = "server force stop initiated"
	}
	return j.write(Event{
		Event:   "stop",
		PID:     pid,
		Forced:  force,
		Success: true,
		Message: msg,
	})
}

// LogStopSuccess records a completed shutdown.
func (j *Journal) LogStopSuccess(pid int, duration time.Duration) error {
	return j.write(Event{
		Event:   "stop_success",
		PID:     pid,
		Success: true,
		Message: fmt.Sprintf("server stopped (duration: %v)", duration),
	})
}

// LogCleanupRun records one completed audit pass.
func (j *Journal) LogCleanupRun(killed int, duration time.Duration) error {
	return j.write(Event{
		Event:   "cleanup_run",
		Count:   killed,
		Success: true,
		Message: fmt.Sprintf("audit pass complete (killed: %d, duration: %v)", killed, duration),
	})
}

// LogDuplicateKilled records a duplicate server being terminated.
func (j *Journal) LogDuplicateKilled(pid, keptPID int) error {
	return j.write(Event{
		Event:   "duplicate_killed",
		PID:     pid,
		KeptPID: keptPID,
		Success: true,
		Message: "duplicate server terminated",
	})
}

// LogEmergencyKill records a kill made to relieve memory pressure.
func (j *Journal) LogEmergencyKill(pid int, memoryMB float64, forced bool) error {
	return j.write(Event{
		Event:    "emergency_kill",
		PID:      pid,
		MemoryMB: memoryMB,
		Forced:   forced,
		Success:  true,
		Message:  "server terminated to relieve memory pressure",
	})
}

// LogKillAll records the administrative kill-all operation.
func (j *Journal) LogKillAll(count int) error {
	return j.write(Event{
		Event:   "kill_all",
		Count:   count,
		Success: true,
		Message: fmt.Sprintf("all supervised servers terminated (count: %d)", count),
	})
}

// LogForceUnlock records an operator force-releasing the singleton lock.
func (j *Journal) LogForceUnlock(removed bool) error {
	return j.write(Event{
		Event:   "force_unlock",
		Success: removed,
		Message: fmt.Sprintf("singleton lock force-released (removed: %v)", removed),
	})
}

// write appends an event to the journal file.
func (j *Journal) write(event Event) error {
	event.ID = uuid.NewString()
	event.Timestamp = time.Now().UTC()

	dir := filepath.Dir(j.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create journal directory: %w", err)
	}

	f, err := os.OpenFile(j.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}

	return nil
}
