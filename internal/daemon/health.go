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
	"fmt"
	"net/http"
	"time"
)

var (
	// ErrHealthCheckTimeout is returned when readiness polling exceeds the
	// timeout.
	ErrHealthCheckTimeout = errors.New("health check timeout")
)

// HealthChecker polls the daemon's health endpoint with exponential backoff.
// The start path uses it to confirm a freshly spawned daemon is answering
// before declaring success.
type HealthChecker struct {
	endpoint        string
	client          *http.Client
	initialInterval time.Duration
	maxInterval     time.Duration
	multiplier      float64
}

// NewHealthChecker creates a checker for the given endpoint.
// Default backoff: 50ms initial, 2x multiplier, 1s max interval.
func NewHealthChecker(endpoint string) *HealthChecker {
	return &HealthChecker{
		endpoint: endpoint,
		client: &http.Client{
			Timeout: 5 * time.Second,
		},
		initialInterval: 50 * time.Millisecond,
		maxInterval:     1 * time.Second,
		multiplier:      2.0,
	}
}

// WithBackoff configures custom backoff parameters.
func (h *HealthChecker) WithBackoff(initial, max time.Duration, multiplier float64) *HealthChecker {
	h.initialInterval = initial
	h.maxInterval = max
	h.multiplier = multiplier
	return h
}

// WithHTTPClient sets a custom HTTP client.
func (h *HealthChecker) WithHTTPClient(client *http.Client) *HealthChecker {
	h.client = client
	return h
}

// Check performs a single probe. Any 2xx response counts as healthy.
func (h *HealthChecker) Check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

// WaitUntilHealthy polls the endpoint until it answers with success or the
// timeout elapses.
func (h *HealthChecker) WaitUntilHealthy(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	interval := h.initialInterval
	attempts := 0

	for {
		attempts++
		err := h.Check(ctx)
		if err == nil {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w after %d attempts: %v", ErrHealthCheckTimeout, attempts, err)
		case <-time.After(interval):
		}

		interval = time.Duration(float64(interval) * h.multiplier)
		if interval > h.maxInterval {
			interval = h.maxInterval
		}
	}
}
