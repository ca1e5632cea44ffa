// Copyright (C) 2025 Pollen Hive (dev@pollenhive.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package wellness

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"
)

// =============================================================================
// Validator
// =============================================================================

// Config holds the validator thresholds. All dependencies are explicit;
// there is no package-level singleton.
type Config struct {
	// MaxCognitiveLoad is the advisory ceiling reported to callers when
	// a fragment's overall score exceeds it.
	MaxCognitiveLoad float64
	// HRVThreshold gates complex edits: below it, a complexity estimate
	// above 5 raises a critical violation.
	HRVThreshold float64
	// HistoryLimit bounds the retained violation history. Oldest
	// entries are evicted first. Zero means DefaultHistoryLimit.
	HistoryLimit int
	Logger       *slog.Logger
}

// DefaultHistoryLimit bounds violation history when Config leaves it
// unset.
const DefaultHistoryLimit = 256

// Validator checks code fragments against wellness thresholds. It is
// safe for concurrent use; the only mutable state is the bounded
// violation history.
type Validator struct {
	cfg      Config
	patterns *PatternEngine
	log      *slog.Logger

	mu      sync.Mutex
	history []WellnessViolation
}

// NewValidator builds a Validator with the embedded pattern catalog.
func NewValidator(cfg Config) (*Validator, error) {
	engine, err := NewPatternEngine()
	if err != nil {
		return nil, fmt.Errorf("failed to load pattern catalog: %w", err)
	}
	if cfg.MaxCognitiveLoad == 0 {
		cfg.MaxCognitiveLoad = 7.0
	}
	if cfg.HRVThreshold == 0 {
		cfg.HRVThreshold = 45.0
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Validator{cfg: cfg, patterns: engine, log: log}, nil
}

// Validate checks a code fragment against the wellness thresholds and
// returns the full result.
//
// The pipeline:
//  1. When HRV is below the threshold and the fragment's line-change
//     estimate exceeds 5, a critical high_cognitive_load violation is
//     raised.
//  2. The fragment is parsed; a parse failure fails closed with an
//     empty violation list and the error recorded in metadata. Earlier
//     violations are discarded.
//  3. The canonical source is scanned against the anti-pattern catalog
//     and walked for tight loops.
//  4. Sleep score below 6 combined with an overall load above 6 raises
//     a warning whose load delta is the excess over 6.
//
// The result is valid iff no violation is critical. All violations from
// a successful run are appended to the bounded history.
func (v *Validator) Validate(ctx context.Context, fragment string, bio BiometricContext) ValidationResult {
	var violations []WellnessViolation

	if bio.HRV < v.cfg.HRVThreshold {
		complexity := EstimateDiffComplexity(fragment)
		if complexity > 5 {
			violations = append(violations, WellnessViolation{
				Kind:                  KindHighCognitiveLoad,
				Severity:              SeverityCritical,
				Location:              "diff:global",
				Message:               fmt.Sprintf("Low HRV (%v) suggests stress. Complex edits not recommended.", bio.HRV),
				SuggestedFix:          fmt.Sprintf("Take a breathing break, try again when HRV > %v", v.cfg.HRVThreshold),
				WellnessImpact:        "Coding during stress impairs decision-making and increases error rates",
				CognitiveLoadIncrease: complexity * 0.5,
			})
		}
	}

	parsed, err := parseFragment(ctx, fragment)
	if err != nil {
		v.log.Error("failed to parse code fragment", "error", err)
		return ValidationResult{
			IsValid:    false,
			Violations: []WellnessViolation{},
			Metadata:   ValidationMetadata{ParseError: err.Error()},
		}
	}
	defer parsed.Close()

	violations = append(violations, v.patterns.Scan(fragment)...)
	violations = append(violations, detectTightLoops(parsed)...)

	report := AnalyzeCognitiveLoad(ctx, fragment)
	if bio.SleepScore < 6 && report.OverallScore > 6 {
		violations = append(violations, WellnessViolation{
			Kind:                  KindHighCognitiveLoad,
			Severity:              SeverityWarning,
			Location:              "diff:global",
			Message:               fmt.Sprintf("High cognitive load code (%.1f) during poor sleep (%v)", report.OverallScore, bio.SleepScore),
			SuggestedFix:          "Simplify logic or wait for better rest",
			WellnessImpact:        "Sleep-deprived coding increases technical debt",
			CognitiveLoadIncrease: report.OverallScore - 6,
		})
	}

	isValid := true
	for _, viol := range violations {
		if viol.Severity == SeverityCritical {
			isValid = false
			break
		}
	}

	v.recordHistory(violations)

	if violations == nil {
		violations = []WellnessViolation{}
	}
	return ValidationResult{
		IsValid:    isValid,
		Violations: violations,
		Metadata: ValidationMetadata{
			LoadReport:     report,
			HRV:            bio.HRV,
			SleepScore:     bio.SleepScore,
			ValidationHash: validationHash(fragment, bio.HRV, time.Now()),
		},
	}
}

// CognitiveLoad analyzes a fragment without applying biometric gates.
func (v *Validator) CognitiveLoad(ctx context.Context, fragment string) *CognitiveLoadReport {
	return AnalyzeCognitiveLoad(ctx, fragment)
}

// SuggestAlternative exposes the healing alternative for a violation
// kind.
func (v *Validator) SuggestAlternative(kind ViolationKind) string {
	return v.patterns.SuggestAlternative(kind)
}

// MaxCognitiveLoad returns the configured advisory ceiling.
func (v *Validator) MaxCognitiveLoad() float64 { return v.cfg.MaxCognitiveLoad }

// History returns a copy of the retained violations, oldest first.
func (v *Validator) History() []WellnessViolation {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]WellnessViolation, len(v.history))
	copy(out, v.history)
	return out
}

func (v *Validator) recordHistory(violations []WellnessViolation) {
	if len(violations) == 0 {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.history = append(v.history, violations...)
	if over := len(v.history) - v.cfg.HistoryLimit; over > 0 {
		v.history = append(v.history[:0], v.history[over:]...)
	}
}

// =============================================================================
// Helpers
// =============================================================================

// EstimateDiffComplexity estimates edit complexity from raw text: the
// count of lines beginning with '+' or '-' divided by 20, capped at
// 10.0. File headers ("+++", "---") count too; the gate is a heuristic,
// not a diff parser.
func EstimateDiffComplexity(fragment string) float64 {
	var changed int
	for _, line := range strings.Split(fragment, "\n") {
		if strings.HasPrefix(line, "+") || strings.HasPrefix(line, "-") {
			changed++
		}
	}
	return math.Min(10.0, float64(changed)/20)
}

// validationHash derives the 16-hex-character proof reference for the
// honey ledger: sha256 over fragment, HRV and the validation timestamp.
// Embedding the timestamp makes hashes unique per validation, which the
// ledger's append-only proof trail relies on.
func validationHash(fragment string, hrv float64, at time.Time) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%v:%d", fragment, hrv, at.UnixNano())))
	return hex.EncodeToString(sum[:])[:16]
}
