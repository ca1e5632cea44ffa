// Copyright (C) 2025 Pollen Hive (dev@pollenhive.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLevelString(t *testing.T) {
	cases := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(42), "UNKNOWN"},
	}
	for _, tc := range cases {
		if got := tc.level.String(); got != tc.want {
			t.Errorf("Level(%d).String() = %q, want %q", tc.level, got, tc.want)
		}
	}
}

func TestFileLogging(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{
		Level:   LevelInfo,
		LogDir:  dir,
		Service: "test-agent",
		Quiet:   true,
	})

	logger.Info("validation complete", "violations", 3)
	logger.Debug("should be filtered out")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	name := "test-agent_" + time.Now().Format("2006-01-02") + ".log"
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("log file not written: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected exactly 1 entry, got %d", len(lines))
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("file entry is not JSON: %v", err)
	}
	if entry["msg"] != "validation complete" {
		t.Errorf("msg = %v, want %q", entry["msg"], "validation complete")
	}
	if entry["service"] != "test-agent" {
		t.Errorf("service = %v, want %q", entry["service"], "test-agent")
	}
}

func TestWithSharesDestination(t *testing.T) {
	logger := New(Config{Quiet: true})
	child := logger.With("session_id", "abc")
	if child.Slog() == nil {
		t.Fatal("child logger has no slog backend")
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}
