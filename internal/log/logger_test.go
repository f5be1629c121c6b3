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

package log

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	t.Run("json format produces valid JSON lines", func(t *testing.T) {
		var buf bytes.Buffer
		logger := New(&Config{Level: "info", Format: FormatJSON, Output: &buf})

		logger.Info("test message", slog.Int(PIDKey, 1234))

		var entry map[string]any
		if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
			t.Fatalf("output is not valid JSON: %v", err)
		}
		if entry["msg"] != "test message" {
			t.Errorf("msg = %v, want %q", entry["msg"], "test message")
		}
		if entry[PIDKey] != float64(1234) {
			t.Errorf("pid = %v, want 1234", entry[PIDKey])
		}
	})

	t.Run("text format includes message", func(t *testing.T) {
		var buf bytes.Buffer
		logger := New(&Config{Level: "info", Format: FormatText, Output: &buf})

		logger.Info("hello")

		if !strings.Contains(buf.String(), "hello") {
			t.Errorf("text output missing message: %s", buf.String())
		}
	})

	t.Run("respects level filtering", func(t *testing.T) {
		var buf bytes.Buffer
		logger := New(&Config{Level: "warn", Format: FormatJSON, Output: &buf})

		logger.Info("filtered")
		if buf.Len() != 0 {
			t.Errorf("info message logged at warn level: %s", buf.String())
		}

		logger.Warn("kept")
		if buf.Len() == 0 {
			t.Error("warn message not logged at warn level")
		}
	})

	t.Run("nil config uses defaults", func(t *testing.T) {
		logger := New(nil)
		if logger == nil {
			t.Fatal("New(nil) returned nil")
		}
	})
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"ERROR", slog.LevelError},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := parseLevel(tt.input); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestFromEnv(t *testing.T) {
	t.Run("debug flag enables debug level and source", func(t *testing.T) {
		t.Setenv("MCPWARDEN_DEBUG", "1")
		cfg := FromEnv()
		if cfg.Level != "debug" {
			t.Errorf("Level = %q, want debug", cfg.Level)
		}
		if !cfg.AddSource {
			t.Error("AddSource = false, want true")
		}
	})

	t.Run("MCPWARDEN_LOG_LEVEL takes precedence over LOG_LEVEL", func(t *testing.T) {
		t.Setenv("MCPWARDEN_DEBUG", "")
		t.Setenv("MCPWARDEN_LOG_LEVEL", "error")
		t.Setenv("LOG_LEVEL", "debug")
		cfg := FromEnv()
		if cfg.Level != "error" {
			t.Errorf("Level = %q, want error", cfg.Level)
		}
	})

	t.Run("format from environment", func(t *testing.T) {
		t.Setenv("LOG_FORMAT", "text")
		cfg := FromEnv()
		if cfg.Format != FormatText {
			t.Errorf("Format = %q, want text", cfg.Format)
		}
	})
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "info", Format: FormatJSON, Output: &buf})

	WithComponent(logger, "supervisor").Info("audit complete")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if entry[ComponentKey] != "supervisor" {
		t.Errorf("component = %v, want supervisor", entry[ComponentKey])
	}
}

func TestWithPID(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "info", Format: FormatJSON, Output: &buf})

	WithPID(logger, 4242).Info("server observed")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if entry[PIDKey] != float64(4242) {
		t.Errorf("pid = %v, want 4242", entry[PIDKey])
	}
}

func TestAttrHelpers(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "info", Format: FormatJSON, Output: &buf})

	logger.Info("pass complete",
		Error(errors.New("boom")),
		Duration("duration", 1500))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if entry["error"] != "boom" {
		t.Errorf("error = %v, want boom", entry["error"])
	}
	if entry[DurationKey] != float64(1500) {
		t.Errorf("%s = %v, want 1500", DurationKey, entry[DurationKey])
	}
}
