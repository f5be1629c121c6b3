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

package daemon

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mcpwarden/mcpwarden/internal/config"
	"github.com/mcpwarden/mcpwarden/internal/proc"
	"github.com/mcpwarden/mcpwarden/internal/supervisor"
)

type staticInspector struct {
	procs []proc.Process
}

func (s *staticInspector) Snapshot(_ context.Context) ([]proc.Process, error) {
	return s.procs, nil
}

func testDaemon(t *testing.T, procs []proc.Process) *Daemon {
	t.Helper()
	cfg := config.Default()
	sup := supervisor.New(&staticInspector{procs: procs}, supervisor.Limits{
		MaxServers:      3,
		MaxMemoryMB:     2048,
		CleanupEnabled:  true,
		CleanupInterval: 30 * time.Second,
		GracefulTimeout: time.Second,
	}, slog.Default())
	return &Daemon{
		cfg:    cfg,
		logger: slog.Default(),
		sup:    sup,
	}
}

func TestHandleHealthz(t *testing.T) {
	t.Run("reports healthy pool", func(t *testing.T) {
		d := testDaemon(t, []proc.Process{{PID: 100, MemoryMB: 100}})

		rec := httptest.NewRecorder()
		d.handleHealthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		var h supervisor.Health
		if err := json.Unmarshal(rec.Body.Bytes(), &h); err != nil {
			t.Fatalf("invalid JSON body: %v", err)
		}
		if h.State != supervisor.HealthHealthy {
			t.Errorf("State = %q, want healthy", h.State)
		}
	})

	t.Run("reports critical pool with 200", func(t *testing.T) {
		d := testDaemon(t, []proc.Process{
			{PID: 100, MemoryMB: 1500},
			{PID: 101, MemoryMB: 1500},
		})

		rec := httptest.NewRecorder()
		d.handleHealthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		// Degradation goes in the body; answering at all is what readiness
		// polling checks.
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		var h supervisor.Health
		if err := json.Unmarshal(rec.Body.Bytes(), &h); err != nil {
			t.Fatalf("invalid JSON body: %v", err)
		}
		if h.State != supervisor.HealthCritical {
			t.Errorf("State = %q, want critical", h.State)
		}
	})
}

func TestHandleStatus(t *testing.T) {
	d := testDaemon(t, []proc.Process{
		{PID: 100, Name: "mcpwarden", MemoryMB: 150, StartedAt: time.Now()},
		{PID: 101, Name: "mcpwarden", MemoryMB: 250, StartedAt: time.Now()},
	})

	rec := httptest.NewRecorder()
	d.handleStatus(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp struct {
		ProcessCount  int     `json:"process_count"`
		MemoryUsageMB float64 `json:"memory_usage_mb"`
		MaxServers    int     `json:"max_servers"`
		Processes     []struct {
			PID int `json:"pid"`
		} `json:"processes"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if resp.ProcessCount != 2 {
		t.Errorf("ProcessCount = %d, want 2", resp.ProcessCount)
	}
	if resp.MemoryUsageMB != 400 {
		t.Errorf("MemoryUsageMB = %v, want 400", resp.MemoryUsageMB)
	}
	if resp.MaxServers != 3 {
		t.Errorf("MaxServers = %d, want 3", resp.MaxServers)
	}
	if len(resp.Processes) != 2 {
		t.Errorf("Processes = %d entries, want 2", len(resp.Processes))
	}
}

func TestNew(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	d, err := New(Options{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if d.server.Addr != config.DefaultListenAddr {
		t.Errorf("listen addr = %q, want %q", d.server.Addr, config.DefaultListenAddr)
	}
	if d.Supervisor() == nil {
		t.Error("Supervisor() = nil")
	}
	if got := d.Supervisor().Limits().MaxServers; got != config.DefaultMaxServers {
		t.Errorf("MaxServers = %d, want %d", got, config.DefaultMaxServers)
	}
}

func TestLimitsFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Supervisor.MaxServers = 7
	cfg.Supervisor.MaxMemoryMB = 4096
	cfg.Supervisor.Cleanup.Enabled = false
	cfg.Supervisor.Cleanup.Interval = config.Duration(time.Minute)

	limits := limitsFromConfig(cfg)
	if limits.MaxServers != 7 || limits.MaxMemoryMB != 4096 {
		t.Errorf("limits = %+v, want ceilings 7/4096", limits)
	}
	if limits.CleanupEnabled {
		t.Error("CleanupEnabled = true, want false")
	}
	if limits.CleanupInterval != time.Minute {
		t.Errorf("CleanupInterval = %v, want 1m", limits.CleanupInterval)
	}
}
