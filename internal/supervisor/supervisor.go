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

// Package supervisor enforces a resource ceiling over supervised server
// processes: bounding how many run at once and how much memory they use,
// converging duplicates down to a single instance, and shedding the
// heaviest processes under memory pressure.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mcpwarden/mcpwarden/internal/journal"
	"github.com/mcpwarden/mcpwarden/internal/log"
	"github.com/mcpwarden/mcpwarden/internal/proc"
)

const (
	// warningFraction of a ceiling at which health degrades to warning.
	warningFraction = 0.8

	// severeMemoryFactor: at or beyond this multiple of the memory ceiling,
	// processes are killed immediately without a grace period.
	severeMemoryFactor = 1.5
)

// Health states, ordered by severity.
const (
	HealthHealthy  = "healthy"
	HealthWarning  = "warning"
	HealthCritical = "critical"
)

// Limits are the resource ceilings the supervisor enforces. They can be
// swapped at runtime via SetLimits when the configuration file changes.
type Limits struct {
	MaxServers      int
	MaxMemoryMB     float64
	CleanupEnabled  bool
	CleanupInterval time.Duration
	GracefulTimeout time.Duration
}

// Status is a point-in-time view of the supervised process pool.
type Status struct {
	ProcessCount  int            `json:"process_count"`
	MemoryUsageMB float64        `json:"memory_usage_mb"`
	Processes     []proc.Process `json:"-"`
}

// Health is the classified state of the pool against the limits.
type Health struct {
	State         string   `json:"state"`
	ProcessCount  int      `json:"process_count"`
	MaxServers    int      `json:"max_servers"`
	MemoryUsageMB float64  `json:"memory_usage_mb"`
	MaxMemoryMB   float64  `json:"max_memory_mb"`
	Reasons       []string `json:"reasons,omitempty"`
}

// Killer terminates processes. Extracted so tests can observe kills without
// signalling real processes.
type Killer interface {
	// GracefulStop requests termination, waits up to timeout, then forces.
	GracefulStop(ctx context.Context, pid int, timeout time.Duration) error
	// ForceKill terminates immediately with no grace period.
	ForceKill(pid int) error
}

// systemKiller delivers real signals.
type systemKiller struct{}

func (systemKiller) GracefulStop(ctx context.Context, pid int, timeout time.Duration) error {
	return proc.GracefulStop(ctx, pid, timeout)
}

func (systemKiller) ForceKill(pid int) error {
	return proc.ForceKill(pid)
}

// Supervisor audits the supervised process pool and enforces the limits.
// All methods are safe for concurrent use; overlapping audit passes are
// skipped, not queued.
type Supervisor struct {
	inspector proc.Inspector
	killer    Killer
	journal   *journal.Journal
	logger    *slog.Logger
	metrics   *Metrics

	mu     sync.RWMutex
	limits Limits

	cleaning atomic.Bool

	tickerMu sync.Mutex
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithKiller overrides the process killer. Used by tests.
func WithKiller(k Killer) Option {
	return func(s *Supervisor) { s.killer = k }
}

// WithJournal attaches an audit journal.
func WithJournal(j *journal.Journal) Option {
	return func(s *Supervisor) { s.journal = j }
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *Metrics) Option {
	return func(s *Supervisor) { s.metrics = m }
}

// New creates a Supervisor over the given inspector with the given limits.
func New(inspector proc.Inspector, limits Limits, logger *slog.Logger, opts ...Option) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	logger = log.WithComponent(logger, "supervisor")
	s := &Supervisor{
		inspector: inspector,
		killer:    systemKiller{},
		logger:    logger,
		limits:    limits,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Limits returns the current limits.
func (s *Supervisor) Limits() Limits {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.limits
}

// SetLimits replaces the limits. Takes effect on the next audit pass; it
// does not restart the periodic ticker.
func (s *Supervisor) SetLimits(limits Limits) {
	s.mu.Lock()
	s.limits = limits
	s.mu.Unlock()
	s.logger.Info("supervisor limits updated",
		slog.Int("max_servers", limits.MaxServers),
		slog.Float64("max_memory_mb", limits.MaxMemoryMB))
}

// SystemStatus snapshots the supervised pool.
func (s *Supervisor) SystemStatus(ctx context.Context) (Status, error) {
	procs, err := s.inspector.Snapshot(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("failed to snapshot processes: %w", err)
	}

	st := Status{
		ProcessCount: len(procs),
		Processes:    procs,
	}
	for _, p := range procs {
		st.MemoryUsageMB += p.MemoryMB
	}

	if s.metrics != nil {
		s.metrics.ObserveStatus(st)
	}
	return st, nil
}

// CanSpawnServer reports whether the pool has headroom for one more server.
// The returned reason is empty when spawning is allowed.
func (s *Supervisor) CanSpawnServer(ctx context.Context) (bool, string, error) {
	st, err := s.SystemStatus(ctx)
	if err != nil {
		return false, "", err
	}
	limits := s.Limits()

	if st.ProcessCount >= limits.MaxServers {
		return false, fmt.Sprintf("server count %d at limit %d", st.ProcessCount, limits.MaxServers), nil
	}
	if st.MemoryUsageMB >= limits.MaxMemoryMB {
		return false, fmt.Sprintf("memory usage %.1f MB at limit %.1f MB", st.MemoryUsageMB, limits.MaxMemoryMB), nil
	}
	return true, "", nil
}

// Summary is a combined pool snapshot and health classification, taken from
// a single process-table read so the two views cannot disagree.
type Summary struct {
	Status Status `json:"status"`
	Health Health `json:"health"`
}

// ResourceSummary reports the pool and its health in one pass. It is
// read-only and safe to call while an audit pass is in flight.
func (s *Supervisor) ResourceSummary(ctx context.Context) (Summary, error) {
	st, err := s.SystemStatus(ctx)
	if err != nil {
		return Summary{}, err
	}
	h := s.classify(st)
	if s.metrics != nil {
		s.metrics.ObserveHealth(h.State)
	}
	return Summary{Status: st, Health: h}, nil
}

// HealthStatus classifies the pool against the limits. A pool running at
// exactly the server limit is healthy full utilisation; only exceeding a
// ceiling is critical, and approaching one is a warning.
func (s *Supervisor) HealthStatus(ctx context.Context) (Health, error) {
	st, err := s.SystemStatus(ctx)
	if err != nil {
		return Health{}, err
	}
	h := s.classify(st)
	if s.metrics != nil {
		s.metrics.ObserveHealth(h.State)
	}
	return h, nil
}

func (s *Supervisor) classify(st Status) Health {
	limits := s.Limits()

	h := Health{
		State:         HealthHealthy,
		ProcessCount:  st.ProcessCount,
		MaxServers:    limits.MaxServers,
		MemoryUsageMB: st.MemoryUsageMB,
		MaxMemoryMB:   limits.MaxMemoryMB,
	}

	degrade := func(state, reason string) {
		if state == HealthCritical || h.State == HealthHealthy {
			h.State = state
		}
		h.Reasons = append(h.Reasons, reason)
	}

	if st.MemoryUsageMB >= limits.MaxMemoryMB {
		degrade(HealthCritical, fmt.Sprintf("memory usage %.1f MB at or above limit %.1f MB", st.MemoryUsageMB, limits.MaxMemoryMB))
	} else if st.MemoryUsageMB >= warningFraction*limits.MaxMemoryMB {
		degrade(HealthWarning, fmt.Sprintf("memory usage %.1f MB approaching limit %.1f MB", st.MemoryUsageMB, limits.MaxMemoryMB))
	}

	warnCount := int(math.Ceil(warningFraction * float64(limits.MaxServers)))
	if st.ProcessCount > limits.MaxServers {
		degrade(HealthCritical, fmt.Sprintf("server count %d exceeds limit %d", st.ProcessCount, limits.MaxServers))
	} else if st.ProcessCount >= warnCount && st.ProcessCount < limits.MaxServers {
		degrade(HealthWarning, fmt.Sprintf("server count %d approaching limit %d", st.ProcessCount, limits.MaxServers))
	}

	return h
}

// KillDuplicates terminates every supervised process except the longest
// running one. Oldest start time wins; ties break to the lowest pid. Returns
// how many were killed.
func (s *Supervisor) KillDuplicates(ctx context.Context) (int, error) {
	st, err := s.SystemStatus(ctx)
	if err != nil {
		return 0, err
	}
	if st.ProcessCount <= 1 {
		return 0, nil
	}

	procs := append([]proc.Process(nil), st.Processes...)
	sort.Slice(procs, func(i, j int) bool {
		if !procs[i].StartedAt.Equal(procs[j].StartedAt) {
			return procs[i].StartedAt.Before(procs[j].StartedAt)
		}
		return procs[i].PID < procs[j].PID
	})

	keep := procs[0]
	limits := s.Limits()
	killed := 0
	for _, p := range procs[1:] {
		s.logger.Warn("killing duplicate server",
			slog.String(log.EventKey, "duplicate_kill"),
			slog.Int(log.PIDKey, p.PID),
			slog.Int("kept_pid", keep.PID))
		if err := s.killer.GracefulStop(ctx, p.PID, limits.GracefulTimeout); err != nil {
			s.logger.Error("failed to kill duplicate",
				slog.Int(log.PIDKey, p.PID), log.Error(err))
			continue
		}
		killed++
		if s.metrics != nil {
			s.metrics.ObserveKill(KillReasonDuplicate)
		}
		if s.journal != nil {
			if err := s.journal.LogDuplicateKilled(p.PID, keep.PID); err != nil {
				s.logger.Warn("failed to journal duplicate kill", log.Error(err))
			}
		}
	}
	return killed, nil
}

// EmergencyCleanup sheds processes until the pool is back under both
// ceilings, killing the heaviest first. When memory is at or beyond
// severeMemoryFactor times the ceiling, kills skip the grace period.
func (s *Supervisor) EmergencyCleanup(ctx context.Context) (int, error) {
	st, err := s.SystemStatus(ctx)
	if err != nil {
		return 0, err
	}
	limits := s.Limits()

	if st.ProcessCount <= limits.MaxServers && st.MemoryUsageMB < limits.MaxMemoryMB {
		return 0, nil
	}

	severe := st.MemoryUsageMB >= severeMemoryFactor*limits.MaxMemoryMB
	s.logger.Warn("emergency cleanup triggered",
		slog.String(log.EventKey, "emergency_cleanup"),
		slog.Int("process_count", st.ProcessCount),
		slog.Float64(log.MemoryKey, st.MemoryUsageMB),
		slog.Bool("severe", severe))

	procs := append([]proc.Process(nil), st.Processes...)
	sort.Slice(procs, func(i, j int) bool {
		return procs[i].MemoryMB > procs[j].MemoryMB
	})

	count := st.ProcessCount
	memory := st.MemoryUsageMB
	killed := 0
	for _, p := range procs {
		if count <= limits.MaxServers && memory < limits.MaxMemoryMB {
			break
		}

		var killErr error
		if severe {
			killErr = s.killer.ForceKill(p.PID)
		} else {
			killErr = s.killer.GracefulStop(ctx, p.PID, limits.GracefulTimeout)
		}
		if killErr != nil {
			s.logger.Error("failed to kill server during emergency cleanup",
				slog.Int(log.PIDKey, p.PID), log.Error(killErr))
			continue
		}

		killed++
		count--
		memory -= p.MemoryMB
		if s.metrics != nil {
			s.metrics.ObserveKill(KillReasonEmergency)
		}
		if s.journal != nil {
			if err := s.journal.LogEmergencyKill(p.PID, p.MemoryMB, severe); err != nil {
				s.logger.Warn("failed to journal emergency kill", log.Error(err))
			}
		}
	}
	return killed, nil
}

// Cleanup runs one audit pass: duplicates first, then limit enforcement.
// If a pass is already in flight the call returns immediately; overlapping
// passes are skipped, never queued.
func (s *Supervisor) Cleanup(ctx context.Context) (int, error) {
	if !s.Limits().CleanupEnabled {
		return 0, nil
	}
	if !s.cleaning.CompareAndSwap(false, true) {
		s.logger.Debug("audit pass already running, skipping")
		if s.metrics != nil {
			s.metrics.ObserveCleanupSkipped()
		}
		return 0, nil
	}
	defer s.cleaning.Store(false)

	started := time.Now()
	killed, err := s.KillDuplicates(ctx)
	if err != nil {
		return killed, err
	}

	n, err := s.EmergencyCleanup(ctx)
	killed += n
	if err != nil {
		return killed, err
	}

	duration := time.Since(started)
	if s.metrics != nil {
		s.metrics.ObserveCleanupRun()
	}
	if s.journal != nil && killed > 0 {
		if jerr := s.journal.LogCleanupRun(killed, duration); jerr != nil {
			s.logger.Warn("failed to journal audit pass", log.Error(jerr))
		}
	}
	if killed > 0 {
		s.logger.Info("audit pass complete",
			slog.Int("killed", killed),
			log.Duration("duration", duration.Milliseconds()))
	}
	return killed, nil
}

// KillAll terminates every supervised process, regardless of limits. Used
// by the administrative kill-all command. Returns how many were killed.
func (s *Supervisor) KillAll(ctx context.Context) (int, error) {
	st, err := s.SystemStatus(ctx)
	if err != nil {
		return 0, err
	}
	limits := s.Limits()

	killed := 0
	for _, p := range st.Processes {
		if err := s.killer.GracefulStop(ctx, p.PID, limits.GracefulTimeout); err != nil {
			s.logger.Error("failed to kill server",
				slog.Int(log.PIDKey, p.PID), log.Error(err))
			continue
		}
		killed++
		if s.metrics != nil {
			s.metrics.ObserveKill(KillReasonKillAll)
		}
	}

	if s.journal != nil && killed > 0 {
		if err := s.journal.LogKillAll(killed); err != nil {
			s.logger.Warn("failed to journal kill-all", log.Error(err))
		}
	}
	return killed, nil
}

// StartPeriodicCleanup launches the background audit ticker. Idempotent:
// a second call while running is a no-op.
func (s *Supervisor) StartPeriodicCleanup(ctx context.Context) {
	s.tickerMu.Lock()
	defer s.tickerMu.Unlock()

	if s.stopCh != nil {
		return
	}

	limits := s.Limits()
	if !limits.CleanupEnabled {
		s.logger.Info("periodic audits disabled by configuration")
		return
	}

	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	go s.run(ctx, s.stopCh, s.doneCh, limits.CleanupInterval)
	s.logger.Info("periodic audits started",
		log.Duration("interval", limits.CleanupInterval.Milliseconds()))
}

// StopPeriodicCleanup stops the background ticker and waits for any
// in-flight pass to finish. Idempotent.
func (s *Supervisor) StopPeriodicCleanup() {
	s.tickerMu.Lock()
	defer s.tickerMu.Unlock()

	if s.stopCh == nil {
		return
	}
	close(s.stopCh)
	<-s.doneCh
	s.stopCh = nil
	s.doneCh = nil
	s.logger.Info("periodic audits stopped")
}

func (s *Supervisor) run(ctx context.Context, stopCh <-chan struct{}, doneCh chan<- struct{}, interval time.Duration) {
	defer close(doneCh)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Cleanup(ctx); err != nil {
				s.logger.Error("audit pass failed", log.Error(err))
			}
		}
	}
}
