// Copyright (C) 2025 Pollen Hive (dev@pollenhive.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// See the LICENSE.txt file for the full license text.

package wellness

import (
	"strings"
	"testing"
)

func TestNewPatternEngine(t *testing.T) {
	eng, err := NewPatternEngine()
	if err != nil {
		t.Fatalf("NewPatternEngine failed: %v", err)
	}
	if len(eng.entries) == 0 {
		t.Fatal("no compiled pattern entries")
	}
	// Every scanning entry must carry a load delta in the documented
	// band.
	for _, entry := range eng.entries {
		if entry.loadIncrease < 1.5 || entry.loadIncrease > 3.5 {
			t.Errorf("%s load increase %v outside [1.5, 3.5]", entry.kind, entry.loadIncrease)
		}
	}
}

func TestPatternEngineScan(t *testing.T) {
	eng, err := NewPatternEngine()
	if err != nil {
		t.Fatalf("NewPatternEngine failed: %v", err)
	}

	t.Run("infinite scroll trigger", func(t *testing.T) {
		violations := eng.Scan("feed.loadMore()")
		if len(violations) != 1 {
			t.Fatalf("got %d violations, want 1: %v", len(violations), violations)
		}
		v := violations[0]
		if v.Kind != KindInfiniteScroll {
			t.Errorf("kind = %s, want infinite_scroll", v.Kind)
		}
		if v.Severity != SeverityWarning {
			t.Errorf("severity = %s, want warning", v.Severity)
		}
		if v.CognitiveLoadIncrease != 2.5 {
			t.Errorf("load increase = %v, want 2.5", v.CognitiveLoadIncrease)
		}
		if v.WellnessImpact == "" {
			t.Error("wellness impact empty")
		}
		if !strings.Contains(v.SuggestedFix, "Intentional pagination") {
			t.Errorf("suggested fix missing alternative: %q", v.SuggestedFix)
		}
	})

	t.Run("matching is case insensitive", func(t *testing.T) {
		violations := eng.Scan("LOADMORE")
		if len(violations) != 1 {
			t.Fatalf("got %d violations, want 1", len(violations))
		}
	})

	t.Run("every match reported with line number", func(t *testing.T) {
		violations := eng.Scan("x = loadMore\ny = 1\nz = loadMore\n")
		if len(violations) != 2 {
			t.Fatalf("got %d violations, want 2", len(violations))
		}
		if violations[0].Location != "diff:1:0" {
			t.Errorf("first location = %q, want diff:1:0", violations[0].Location)
		}
		if violations[1].Location != "diff:3:0" {
			t.Errorf("second location = %q, want diff:3:0", violations[1].Location)
		}
	})

	t.Run("clean source yields nothing", func(t *testing.T) {
		if violations := eng.Scan("def add(a, b):\n    return a + b\n"); len(violations) != 0 {
			t.Errorf("got %d violations, want 0: %v", len(violations), violations)
		}
	})
}

func TestSuggestAlternative(t *testing.T) {
	eng, err := NewPatternEngine()
	if err != nil {
		t.Fatalf("NewPatternEngine failed: %v", err)
	}

	got := eng.SuggestAlternative(KindHighCognitiveLoad)
	if !strings.Contains(got, "Progressive disclosure") {
		t.Errorf("high_cognitive_load alternative = %q", got)
	}

	// cognitive_overload has no catalog alternative.
	got = eng.SuggestAlternative(KindCognitiveOverload)
	if got != "Review code for wellness impact" {
		t.Errorf("fallback = %q", got)
	}
}

func TestParseViolationKind(t *testing.T) {
	if _, err := ParseViolationKind("dark_pattern"); err != nil {
		t.Errorf("dark_pattern rejected: %v", err)
	}
	if _, err := ParseViolationKind("doom_scroll"); err == nil {
		t.Error("unknown kind accepted")
	}
}
