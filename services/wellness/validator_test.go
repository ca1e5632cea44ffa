// Copyright (C) 2025 Pollen Hive (dev@pollenhive.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// See the LICENSE.txt file for the full license text.

package wellness

import (
	"context"
	"strings"
	"testing"
)

func newTestValidator(t *testing.T, cfg Config) *Validator {
	t.Helper()
	v, err := NewValidator(cfg)
	if err != nil {
		t.Fatalf("NewValidator failed: %v", err)
	}
	return v
}

// minusLines builds a fragment of n lines that each begin with '-' yet
// still parse as Python unary-minus expressions.
func minusLines(n int) string {
	return strings.Repeat("-1\n", n)
}

func TestValidate(t *testing.T) {
	ctx := context.Background()

	t.Run("clean fragment is valid", func(t *testing.T) {
		v := newTestValidator(t, Config{})
		res := v.Validate(ctx, "def add(a, b):\n    return a + b\n", DefaultBiometricContext())

		if !res.IsValid {
			t.Errorf("expected valid, got violations: %v", res.Violations)
		}
		if len(res.Violations) != 0 {
			t.Errorf("got %d violations, want 0", len(res.Violations))
		}
		if res.Metadata.LoadReport == nil {
			t.Fatal("load report missing")
		}
		if len(res.Metadata.ValidationHash) != 16 {
			t.Errorf("validation hash %q, want 16 hex chars", res.Metadata.ValidationHash)
		}
	})

	t.Run("syntax error fails closed", func(t *testing.T) {
		v := newTestValidator(t, Config{})
		res := v.Validate(ctx, "def broken(:\n", DefaultBiometricContext())

		if res.IsValid {
			t.Error("expected invalid on parse failure")
		}
		if len(res.Violations) != 0 {
			t.Errorf("got %d violations, want 0 (parse failure discards them)", len(res.Violations))
		}
		if res.Metadata.ParseError == "" {
			t.Error("parse error not recorded in metadata")
		}
		if res.Metadata.ValidationHash != "" {
			t.Error("validation hash must be absent on parse failure")
		}
	})

	t.Run("low HRV blocks complex edit", func(t *testing.T) {
		v := newTestValidator(t, Config{HRVThreshold: 45})
		bio := BiometricContext{HRV: 40, SleepScore: 7, StressLevel: StressLow}

		// 120 changed lines: estimate 6.0, above the gate of 5.
		res := v.Validate(ctx, minusLines(120), bio)

		if res.IsValid {
			t.Error("expected invalid under low HRV")
		}
		var critical *WellnessViolation
		for i := range res.Violations {
			if res.Violations[i].Severity == SeverityCritical {
				critical = &res.Violations[i]
			}
		}
		if critical == nil {
			t.Fatalf("no critical violation in %v", res.Violations)
		}
		if critical.Kind != KindHighCognitiveLoad {
			t.Errorf("kind = %s, want high_cognitive_load", critical.Kind)
		}
		if critical.Location != "diff:global" {
			t.Errorf("location = %q, want diff:global", critical.Location)
		}
		if critical.CognitiveLoadIncrease != 3.0 {
			t.Errorf("load increase = %v, want 3.0 (estimate 6.0 halved)", critical.CognitiveLoadIncrease)
		}
	})

	t.Run("same edit passes at healthy HRV", func(t *testing.T) {
		v := newTestValidator(t, Config{HRVThreshold: 45})
		bio := BiometricContext{HRV: 50, SleepScore: 7, StressLevel: StressLow}

		res := v.Validate(ctx, minusLines(120), bio)
		if !res.IsValid {
			t.Errorf("expected valid at HRV 50, got %v", res.Violations)
		}
	})

	t.Run("small edit passes despite low HRV", func(t *testing.T) {
		v := newTestValidator(t, Config{HRVThreshold: 45})
		bio := BiometricContext{HRV: 40, SleepScore: 7, StressLevel: StressLow}

		// 40 changed lines: estimate 2.0, under the gate.
		res := v.Validate(ctx, minusLines(40), bio)
		if !res.IsValid {
			t.Errorf("expected valid for small edit, got %v", res.Violations)
		}
	})

	t.Run("poor sleep with high load warns", func(t *testing.T) {
		v := newTestValidator(t, Config{})
		bio := BiometricContext{HRV: 60, SleepScore: 5, StressLevel: StressLow}

		res := v.Validate(ctx, loadExampleFragment(), bio)

		if !res.IsValid {
			t.Errorf("warnings must not invalidate: %v", res.Violations)
		}
		var warned bool
		for _, viol := range res.Violations {
			if viol.Kind == KindHighCognitiveLoad && viol.Severity == SeverityWarning {
				warned = true
				// Overall score 9.35, delta is the excess over 6.
				if viol.CognitiveLoadIncrease < 3.34 || viol.CognitiveLoadIncrease > 3.36 {
					t.Errorf("load increase = %v, want 3.35", viol.CognitiveLoadIncrease)
				}
			}
		}
		if !warned {
			t.Errorf("no poor-sleep warning in %v", res.Violations)
		}
	})

	t.Run("adequate sleep suppresses warning", func(t *testing.T) {
		v := newTestValidator(t, Config{})
		bio := BiometricContext{HRV: 60, SleepScore: 7, StressLevel: StressLow}

		res := v.Validate(ctx, loadExampleFragment(), bio)
		for _, viol := range res.Violations {
			if viol.Kind == KindHighCognitiveLoad {
				t.Errorf("unexpected load violation: %v", viol)
			}
		}
	})

	t.Run("anti-pattern scan reports warnings", func(t *testing.T) {
		v := newTestValidator(t, Config{})
		res := v.Validate(ctx, "def feed():\n    loadMore()\n", DefaultBiometricContext())

		if !res.IsValid {
			t.Error("warnings alone must keep the edit valid")
		}
		if len(res.Violations) != 1 || res.Violations[0].Kind != KindInfiniteScroll {
			t.Errorf("violations = %v, want one infinite_scroll", res.Violations)
		}
	})
}

func TestValidatorHistory(t *testing.T) {
	ctx := context.Background()
	v := newTestValidator(t, Config{HistoryLimit: 3})

	for i := 0; i < 5; i++ {
		v.Validate(ctx, "loadMore\n", DefaultBiometricContext())
	}

	history := v.History()
	if len(history) != 3 {
		t.Fatalf("history length = %d, want 3", len(history))
	}
	for _, viol := range history {
		if viol.Kind != KindInfiniteScroll {
			t.Errorf("unexpected kind %s in history", viol.Kind)
		}
	}
}

func TestEstimateDiffComplexity(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want float64
	}{
		{"no change markers", "x = 1\ny = 2\n", 0},
		{"twenty changed lines", strings.Repeat("+a\n", 20), 1.0},
		{"mixed add and remove", strings.Repeat("+a\n-b\n", 10), 1.0},
		{"capped at ten", strings.Repeat("+a\n", 500), 10.0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := EstimateDiffComplexity(tc.in); got != tc.want {
				t.Errorf("EstimateDiffComplexity = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestLintDiff(t *testing.T) {
	ctx := context.Background()
	v := newTestValidator(t, Config{})

	t.Run("flags added anti-pattern lines per file", func(t *testing.T) {
		patch := `--- a/feed.py
+++ b/feed.py
@@ -1,2 +1,4 @@
 import os
+def load_feed():
+    loadMore()
 x = 1
`
		results, err := v.LintDiff(ctx, patch, DefaultBiometricContext())
		if err != nil {
			t.Fatalf("LintDiff failed: %v", err)
		}
		if len(results) != 1 {
			t.Fatalf("got %d file results, want 1", len(results))
		}
		fr := results[0]
		if fr.File != "feed.py" {
			t.Errorf("file = %q, want feed.py", fr.File)
		}
		if fr.LinesAdded != 2 {
			t.Errorf("lines added = %d, want 2", fr.LinesAdded)
		}
		if len(fr.Result.Violations) != 1 || fr.Result.Violations[0].Kind != KindInfiniteScroll {
			t.Errorf("violations = %v, want one infinite_scroll", fr.Result.Violations)
		}
	})

	t.Run("rejects malformed diff", func(t *testing.T) {
		if _, err := v.LintDiff(ctx, "not a diff", DefaultBiometricContext()); err == nil {
			t.Error("expected error for malformed diff")
		}
	})
}
