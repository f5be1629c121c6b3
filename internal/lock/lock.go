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

// Package lock provides a filesystem-based singleton lock so that unrelated
// launch paths (CLI, editor integrations, restart scripts) agree on which
// process owns the server role. The guarantee is host-local only.
//
// The lock file holds a small JSON record identifying the owner:
//
//	{"pid": 12345, "acquiredAt": "2025-06-01T12:00:00Z"}
//
// Acquisition is a single create-exclusive operation, never a check-then-write
// sequence, so concurrent acquirers cannot both win. A lock whose recorded pid
// no longer belongs to a live, matching process is stale and silently
// reclaimed.
package lock

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"
)

var (
	// ErrLockDir is returned when the lock directory cannot be created.
	// Without the directory the singleton guarantee is void, so this is the
	// one acquisition failure that propagates as a hard error.
	ErrLockDir = errors.New("lock directory not creatable")
)

// Record is the persisted content of the lock file.
type Record struct {
	PID        int       `json:"pid"`
	AcquiredAt time.Time `json:"acquiredAt"`
}

// OwnerCheck reports whether the given pid belongs to a live process that
// matches the supervised role. The zero check is liveness only.
type OwnerCheck func(pid int) bool

// Lock is a PID-stamped exclusive lock at a fixed filesystem path.
// All methods are safe for concurrent use within one process; cross-process
// exclusion comes from the create-exclusive file semantics.
type Lock struct {
	path       string
	logger     *slog.Logger
	ownerCheck OwnerCheck

	mu       sync.Mutex
	acquired bool
}

// Option configures a Lock.
type Option func(*Lock)

// WithOwnerCheck sets the verification applied to an existing lock's pid
// before treating the lock as live. The daemon layer uses this to require a
// matching launch signature, so a recycled pid on an unrelated process does
// not keep the lock alive.
func WithOwnerCheck(check OwnerCheck) Option {
	return func(l *Lock) {
		l.ownerCheck = check
	}
}

// WithLogger sets the logger used for swallowed release errors.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Lock) {
		l.logger = logger
	}
}

// New creates a lock handle for the given path. Nothing touches the
// filesystem until Acquire.
func New(path string, opts ...Option) *Lock {
	l := &Lock{
		path:       path,
		logger:     slog.Default(),
		ownerCheck: pidAlive,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Path returns the lock file location.
func (l *Lock) Path() string {
	return l.path
}

// Acquire attempts to take ownership of the lock. It returns (true, nil) when
// the caller now owns the role and (false, nil) when another live process
// holds it. Transient filesystem errors also report (false, nil): contention
// is the fail-safe assumption. Only an uncreatable lock directory is a hard
// error.
//
// Safe to call repeatedly; acquiring a lock this process already holds
// returns true without touching the file.
func (l *Lock) Acquire() (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.acquired {
		return true, nil
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0700); err != nil {
		return false, fmt.Errorf("%w: %v", ErrLockDir, err)
	}

	// Two attempts: the first may discover a stale lock, remove it, and
	// retry. A second O_EXCL failure means another acquirer won the race.
	for attempt := 0; attempt < 2; attempt++ {
		created, err := l.tryCreate()
		if err != nil {
			l.logger.Warn("lock acquisition failed, assuming contention",
				slog.String("path", l.path), slog.Any("error", err))
			return false, nil
		}
		if created {
			l.acquired = true
			return true, nil
		}

		rec, err := ReadRecord(l.path)
		if err != nil {
			if os.IsNotExist(err) {
				// Holder released between our create attempt and read.
				continue
			}
			// Unreadable or corrupt record: stale.
			l.logger.Warn("removing unreadable lock file",
				slog.String("path", l.path), slog.Any("error", err))
			_ = os.Remove(l.path)
			continue
		}

		if l.ownerCheck(rec.PID) {
			// Live, matching owner: normal contention.
			return false, nil
		}

		l.logger.Info("reclaiming stale lock",
			slog.String("path", l.path), slog.Int("pid", rec.PID))
		_ = os.Remove(l.path)
	}

	return false, nil
}

// tryCreate atomically publishes the lock file with this process's record.
// The record is written to a temp file first and linked into place, so the
// lock either exists with its full content or not at all: no observer can
// read a torn record. Returns (false, nil) if the lock already exists.
func (l *Lock) tryCreate() (bool, error) {
	rec := Record{PID: os.Getpid(), AcquiredAt: time.Now().UTC()}
	data, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("failed to encode lock record: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(l.path), ".lock-*")
	if err != nil {
		return false, fmt.Errorf("failed to create temp lock file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return false, fmt.Errorf("failed to set lock file mode: %w", err)
	}
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return false, fmt.Errorf("failed to write lock record: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return false, fmt.Errorf("failed to sync lock file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return false, fmt.Errorf("failed to close lock file: %w", err)
	}

	// Link fails with EEXIST if another process holds the path: this is the
	// single atomic create-exclusive step.
	if err := os.Link(tmpName, l.path); err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, err
	}

	return true, nil
}

// Release removes the lock file if and only if its recorded pid is this
// process's pid. It never removes a lock acquired by a different, still-live
// process, and it is a no-op when the lock is not held. Errors are logged and
// swallowed: a failed release must never break the owner's shutdown path.
func (l *Lock) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.releaseLocked()
}

func (l *Lock) releaseLocked() {
	if !l.acquired {
		return
	}
	l.acquired = false

	rec, err := ReadRecord(l.path)
	if err != nil {
		if !os.IsNotExist(err) {
			l.logger.Warn("failed to read lock during release",
				slog.String("path", l.path), slog.Any("error", err))
		}
		return
	}

	if rec.PID != os.Getpid() {
		l.logger.Warn("lock owned by another process, leaving in place",
			slog.String("path", l.path), slog.Int("pid", rec.PID))
		return
	}

	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		l.logger.Warn("failed to remove lock file",
			slog.String("path", l.path), slog.Any("error", err))
	}
}

// IsAcquired reports whether this process currently holds the lock. It reads
// only the in-memory flag, never the filesystem.
func (l *Lock) IsAcquired() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.acquired
}

// ReleaseOnSignals installs a handler that releases the lock when any of the
// given signals arrives, then re-raises the signal with the default
// disposition so the process still dies with the conventional exit status.
// With no signals it defaults to SIGINT, SIGTERM, and SIGHUP.
func (l *Lock) ReleaseOnSignals(sigs ...os.Signal) {
	if len(sigs) == 0 {
		sigs = []os.Signal{syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP}
	}

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sigs...)

	go func() {
		sig := <-ch
		l.Release()
		signal.Reset(sig)
		if s, ok := sig.(syscall.Signal); ok {
			_ = syscall.Kill(os.Getpid(), s)
		} else {
			os.Exit(1)
		}
	}()
}

// ReadRecord reads and decodes the lock record at the given path.
func ReadRecord(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("invalid lock record: %w", err)
	}
	if rec.PID <= 0 {
		return nil, fmt.Errorf("invalid lock record: pid must be positive, got %d", rec.PID)
	}
	return &rec, nil
}

// ForceRelease unconditionally deletes the lock file regardless of owner.
// This is operator-invoked recovery for the case staleness detection cannot
// catch, such as a crashed owner's pid being reused by an unrelated process.
// It returns whether a file was actually removed.
func ForceRelease(path string) (bool, error) {
	err := os.Remove(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to remove lock file: %w", err)
}

// pidAlive is the default owner check: signal 0 probes process existence
// without delivering anything.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
