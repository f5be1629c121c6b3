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

package supervisor

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Kill reason labels for the kills counter.
const (
	KillReasonDuplicate = "duplicate"
	KillReasonEmergency = "emergency"
	KillReasonKillAll   = "kill_all"
)

// Metrics holds the Prometheus collectors for the supervisor.
type Metrics struct {
	processes      prometheus.Gauge
	memoryMB       prometheus.Gauge
	health         prometheus.Gauge
	cleanupRuns    prometheus.Counter
	cleanupSkipped prometheus.Counter
	kills          *prometheus.CounterVec
}

// NewMetrics creates and registers the supervisor collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		processes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mcpwarden",
			Name:      "supervised_processes",
			Help:      "Number of supervised server processes currently running.",
		}),
		memoryMB: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mcpwarden",
			Name:      "memory_usage_mb",
			Help:      "Total resident memory of supervised processes in megabytes.",
		}),
		health: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mcpwarden",
			Name:      "health_status",
			Help:      "Pool health: 0 healthy, 1 warning, 2 critical.",
		}),
		cleanupRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mcpwarden",
			Name:      "cleanup_runs_total",
			Help:      "Completed audit passes.",
		}),
		cleanupSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mcpwarden",
			Name:      "cleanup_skipped_total",
			Help:      "Audit passes skipped because one was already in flight.",
		}),
		kills: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mcpwarden",
			Name:      "kills_total",
			Help:      "Supervised processes terminated, by reason.",
		}, []string{"reason"}),
	}

	reg.MustRegister(m.processes, m.memoryMB, m.health, m.cleanupRuns, m.cleanupSkipped, m.kills)
	return m
}

// ObserveStatus records a pool snapshot.
func (m *Metrics) ObserveStatus(st Status) {
	m.processes.Set(float64(st.ProcessCount))
	m.memoryMB.Set(st.MemoryUsageMB)
}

// ObserveHealth records the classified health state.
func (m *Metrics) ObserveHealth(state string) {
	switch state {
	case HealthCritical:
		m.health.Set(2)
	case HealthWarning:
		m.health.Set(1)
	default:
		m.health.Set(0)
	}
}

// ObserveCleanupRun counts a completed audit pass.
func (m *Metrics) ObserveCleanupRun() {
	m.cleanupRuns.Inc()
}

// ObserveCleanupSkipped counts a pass skipped due to overlap.
func (m *Metrics) ObserveCleanupSkipped() {
	m.cleanupSkipped.Inc()
}

// ObserveKill counts a terminated process.
func (m *Metrics) ObserveKill(reason string) {
	m.kills.WithLabelValues(reason).Inc()
}
