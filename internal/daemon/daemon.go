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

// Package daemon assembles the warden server process: singleton lock
// acquisition, the supervisor with its periodic audits, the localhost
// HTTP endpoints, and graceful shutdown.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mcpwarden/mcpwarden/internal/config"
	"github.com/mcpwarden/mcpwarden/internal/journal"
	"github.com/mcpwarden/mcpwarden/internal/lock"
	"github.com/mcpwarden/mcpwarden/internal/log"
	"github.com/mcpwarden/mcpwarden/internal/proc"
	"github.com/mcpwarden/mcpwarden/internal/supervisor"
)

var (
	// ErrAlreadyRunning is returned when another live instance holds the
	// singleton lock.
	ErrAlreadyRunning = errors.New("another instance is already running")
)

// Options configures a daemon run.
type Options struct {
	Config *config.Config

	// ConfigPath, when non-empty, is watched for changes and supervisor
	// limits are hot-reloaded.
	ConfigPath string

	Logger *slog.Logger
}

// Daemon is the long-running warden process.
type Daemon struct {
	cfg        *config.Config
	configPath string
	logger     *slog.Logger

	lock    *lock.Lock
	journal *journal.Journal
	sup     *supervisor.Supervisor
	server  *http.Server
}

// New wires up a daemon from the given options. The singleton lock is not
// touched until Run.
func New(opts Options) (*Daemon, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = log.WithComponent(logger, "daemon")

	lockPath, err := cfg.LockFilePath()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve lock path: %w", err)
	}
	journalPath, err := cfg.JournalFilePath()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve journal path: %w", err)
	}

	jnl := journal.New(journalPath)

	// The owner check requires the recorded pid to still be running with the
	// supervised launch signature. A recycled pid on an unrelated process
	// therefore reads as stale, not as a live holder.
	lk := lock.New(lockPath,
		lock.WithLogger(logger),
		lock.WithOwnerCheck(func(pid int) bool {
			return proc.MatchesSignature(pid, config.Signature)
		}),
	)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := supervisor.NewMetrics(registry)

	inspector := proc.NewSystemInspector(config.Signature, logger)
	sup := supervisor.New(inspector, limitsFromConfig(cfg), logger,
		supervisor.WithJournal(jnl),
		supervisor.WithMetrics(metrics),
	)

	d := &Daemon{
		cfg:        cfg,
		configPath: opts.ConfigPath,
		logger:     logger,
		lock:       lk,
		journal:    jnl,
		sup:        sup,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", d.handleHealthz)
	mux.HandleFunc("/status", d.handleStatus)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	d.server = &http.Server{
		Addr:         cfg.Server.Listen,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return d, nil
}

// Supervisor exposes the supervisor for in-process administrative commands.
func (d *Daemon) Supervisor() *supervisor.Supervisor {
	return d.sup
}

// Run acquires the singleton lock and serves until the context is cancelled
// or a termination signal arrives. Returns ErrAlreadyRunning when a live
// instance holds the lock.
func (d *Daemon) Run(ctx context.Context) error {
	acquired, err := d.lock.Acquire()
	if err != nil {
		return fmt.Errorf("failed to acquire singleton lock: %w", err)
	}
	if !acquired {
		if rec, rerr := lock.ReadRecord(d.lock.Path()); rerr == nil {
			if jerr := d.journal.LogAlreadyRunning(rec.PID); jerr != nil {
				d.logger.Warn("failed to journal event", log.Error(jerr))
			}
			return fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, rec.PID)
		}
		return ErrAlreadyRunning
	}
	defer d.lock.Release()
	// SIGINT/SIGTERM release via the graceful path below; SIGHUP would
	// otherwise kill the process with the lock still on disk.
	d.lock.ReleaseOnSignals(syscall.SIGHUP)

	if err := d.journal.LogStart(os.Getpid()); err != nil {
		d.logger.Warn("failed to journal start", log.Error(err))
	}

	started := time.Now()
	runLogger := log.WithPID(d.logger, os.Getpid())
	runLogger.Info("warden started",
		slog.String("listen", d.cfg.Server.Listen),
		slog.String("lock", d.lock.Path()))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	d.sup.StartPeriodicCleanup(runCtx)
	defer d.sup.StopPeriodicCleanup()

	if d.configPath != "" {
		watcher := config.NewWatcher(d.configPath, d.logger, func(cfg *config.Config) {
			d.sup.SetLimits(limitsFromConfig(cfg))
		})
		go func() {
			if err := watcher.Run(runCtx); err != nil {
				d.logger.Warn("config watcher stopped", log.Error(err))
			}
		}()
	}

	serveErr := make(chan error, 1)
	go func() {
		err := d.server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		d.logger.Info("shutdown signal received", slog.String("signal", sig.String()))
	case <-ctx.Done():
		d.logger.Info("context cancelled, shutting down")
	case err, ok := <-serveErr:
		if ok && err != nil {
			if jerr := d.journal.LogStartFailure(err); jerr != nil {
				d.logger.Warn("failed to journal event", log.Error(jerr))
			}
			return fmt.Errorf("http server failed: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), d.cfg.Server.ShutdownTimeout.Std())
	defer shutdownCancel()

	if err := d.server.Shutdown(shutdownCtx); err != nil {
		d.logger.Warn("http server shutdown incomplete", log.Error(err))
	}

	if err := d.journal.LogStopSuccess(os.Getpid(), time.Since(started)); err != nil {
		d.logger.Warn("failed to journal stop", log.Error(err))
	}
	runLogger.Info("warden stopped",
		log.Duration("uptime", time.Since(started).Milliseconds()))
	return nil
}

func (d *Daemon) handleHealthz(w http.ResponseWriter, r *http.Request) {
	h, err := d.sup.HealthStatus(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	// Health degradations are reported in the body; the daemon itself
	// answering is what the start path's readiness polling waits for.
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h); err != nil {
		d.logger.Warn("failed to encode health response", log.Error(err))
	}
}

func (d *Daemon) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := d.sup.SystemStatus(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	type processView struct {
		PID       int       `json:"pid"`
		Name      string    `json:"name"`
		MemoryMB  float64   `json:"memory_mb"`
		StartedAt time.Time `json:"started_at"`
	}
	resp := struct {
		PID           int           `json:"pid"`
		ProcessCount  int           `json:"process_count"`
		MemoryUsageMB float64       `json:"memory_usage_mb"`
		MaxServers    int           `json:"max_servers"`
		MaxMemoryMB   float64       `json:"max_memory_mb"`
		Processes     []processView `json:"processes"`
	}{
		PID:           os.Getpid(),
		ProcessCount:  st.ProcessCount,
		MemoryUsageMB: st.MemoryUsageMB,
		MaxServers:    d.sup.Limits().MaxServers,
		MaxMemoryMB:   d.sup.Limits().MaxMemoryMB,
		Processes:     []processView{},
	}
	for _, p := range st.Processes {
		resp.Processes = append(resp.Processes, processView{
			PID:       p.PID,
			Name:      p.Name,
			MemoryMB:  p.MemoryMB,
			StartedAt: p.StartedAt,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		d.logger.Warn("failed to encode status response", log.Error(err))
	}
}

// limitsFromConfig maps configuration to supervisor limits.
func limitsFromConfig(cfg *config.Config) supervisor.Limits {
	return supervisor.Limits{
		MaxServers:      cfg.Supervisor.MaxServers,
		MaxMemoryMB:     cfg.Supervisor.MaxMemoryMB,
		CleanupEnabled:  cfg.Supervisor.Cleanup.Enabled,
		CleanupInterval: cfg.Supervisor.Cleanup.Interval.Std(),
		GracefulTimeout: cfg.Supervisor.Cleanup.GracefulTimeout.Std(),
	}
}
