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
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestHealthChecker_Check(t *testing.T) {
	t.Run("2xx is healthy", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		checker := NewHealthChecker(srv.URL)
		if err := checker.Check(context.Background()); err != nil {
			t.Errorf("Check() error = %v", err)
		}
	})

	t.Run("5xx is unhealthy", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		checker := NewHealthChecker(srv.URL)
		if err := checker.Check(context.Background()); err == nil {
			t.Error("Check() = nil, want error for 500")
		}
	})

	t.Run("unreachable endpoint is unhealthy", func(t *testing.T) {
		checker := NewHealthChecker("http://127.0.0.1:1/healthz")
		if err := checker.Check(context.Background()); err == nil {
			t.Error("Check() = nil, want error for unreachable endpoint")
		}
	})
}

func TestHealthChecker_WaitUntilHealthy(t *testing.T) {
	t.Run("succeeds once the endpoint comes up", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		checker := NewHealthChecker(srv.URL).WithBackoff(10*time.Millisecond, 50*time.Millisecond, 2.0)
		if err := checker.WaitUntilHealthy(context.Background(), 5*time.Second); err != nil {
			t.Errorf("WaitUntilHealthy() error = %v", err)
		}
		if calls.Load() < 3 {
			t.Errorf("expected at least 3 attempts, got %d", calls.Load())
		}
	})

	t.Run("times out against a dead endpoint", func(t *testing.T) {
		checker := NewHealthChecker("http://127.0.0.1:1/healthz").
			WithBackoff(10*time.Millisecond, 20*time.Millisecond, 2.0)

		err := checker.WaitUntilHealthy(context.Background(), 200*time.Millisecond)
		if !errors.Is(err, ErrHealthCheckTimeout) {
			t.Errorf("WaitUntilHealthy() error = %v, want ErrHealthCheckTimeout", err)
		}
	})
}
