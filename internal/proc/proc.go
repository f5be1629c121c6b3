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

// Package proc wraps the OS process table for the supervisor: enumerating
// supervised server processes with their memory usage, matching processes
// against the launch signature, and delivering signals with a bounded
// graceful-then-forceful escalation.
package proc

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/mcpwarden/mcpwarden/internal/log"
)

// Process is one supervised OS process as observed in a snapshot. Snapshots
// are taken fresh on every call; nothing is cached across audits.
type Process struct {
	PID       int
	Name      string
	Cmdline   string
	MemoryMB  float64
	StartedAt time.Time
}

// Inspector enumerates the supervised processes currently alive.
type Inspector interface {
	// Snapshot returns every live process whose command line matches the
	// supervised launch signature. Processes that vanish or deny inspection
	// mid-enumeration are skipped, never an error: a partial snapshot is
	// better than no audit.
	Snapshot(ctx context.Context) ([]Process, error)
}

// SystemInspector is the gopsutil-backed Inspector used in production.
type SystemInspector struct {
	signature string
	logger    *slog.Logger
}

// NewSystemInspector creates an inspector matching processes whose command
// line contains the given launch signature.
func NewSystemInspector(signature string, logger *slog.Logger) *SystemInspector {
	if logger == nil {
		logger = slog.Default()
	}
	return &SystemInspector{
		signature: signature,
		logger:    log.WithComponent(logger, "proc"),
	}
}

// Snapshot implements Inspector.
func (s *SystemInspector) Snapshot(ctx context.Context) ([]Process, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}

	var out []Process
	for _, p := range procs {
		cmdline, err := p.CmdlineWithContext(ctx)
		if err != nil || !strings.Contains(cmdline, s.signature) {
			continue
		}

		info := Process{
			PID:     int(p.Pid),
			Cmdline: cmdline,
		}

		if name, err := p.NameWithContext(ctx); err == nil {
			info.Name = name
		}

		mem, err := p.MemoryInfoWithContext(ctx)
		if err != nil {
			// Process vanished or denied inspection between the cmdline read
			// and here. Skip it rather than fail the snapshot.
			s.logger.Debug("skipping unreadable process",
				slog.Int(log.PIDKey, info.PID), log.Error(err))
			continue
		}
		info.MemoryMB = float64(mem.RSS) / (1024 * 1024)

		if createMS, err := p.CreateTimeWithContext(ctx); err == nil {
			info.StartedAt = time.UnixMilli(createMS)
		}

		out = append(out, info)
	}

	return out, nil
}

// MatchesSignature reports whether the process with the given pid is running
// with the supervised launch signature. Used to avoid signalling unrelated
// processes when a recorded pid has been recycled.
func MatchesSignature(pid int, signature string) bool {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return false
	}
	cmdline, err := p.Cmdline()
	if err != nil {
		return false
	}
	return strings.Contains(cmdline, signature)
}
