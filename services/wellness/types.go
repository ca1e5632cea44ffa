// Copyright (C) 2025 Pollen Hive (dev@pollenhive.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package wellness validates code fragments against stress and cognitive
// load thresholds.
//
// The validator detects addiction-inducing anti-patterns (regex over the
// canonical source), structural stressors (tree-sitter walk), and computes
// a 0-10 cognitive load score from AST metrics. Validation is gated on a
// caller-supplied biometric context: low heart-rate variability blocks
// complex edits, poor sleep flags high-load code.
package wellness

import "fmt"

// =============================================================================
// Violation Kinds
// =============================================================================

// ViolationKind tags the category of a wellness violation.
type ViolationKind string

const (
	KindInfiniteScroll      ViolationKind = "infinite_scroll"
	KindDarkPattern         ViolationKind = "dark_pattern"
	KindNotificationSpam    ViolationKind = "notification_spam"
	KindCognitiveOverload   ViolationKind = "cognitive_overload"
	KindAnxietyInducing     ViolationKind = "anxiety_inducing"
	KindSleepDisrupting     ViolationKind = "sleep_disrupting"
	KindAttentionExtraction ViolationKind = "attention_extraction"
	KindHighCognitiveLoad   ViolationKind = "high_cognitive_load"
)

// ParseViolationKind converts a string tag to a ViolationKind.
// Unrecognized input yields a typed error rather than a panic or a silent
// zero value.
func ParseViolationKind(s string) (ViolationKind, error) {
	switch k := ViolationKind(s); k {
	case KindInfiniteScroll, KindDarkPattern, KindNotificationSpam,
		KindCognitiveOverload, KindAnxietyInducing, KindSleepDisrupting,
		KindAttentionExtraction, KindHighCognitiveLoad:
		return k, nil
	}
	return "", fmt.Errorf("unrecognized violation kind %q", s)
}

// =============================================================================
// Severity
// =============================================================================

// Severity ranks a violation. Any critical violation makes the overall
// validation result invalid; warnings and infos are advisory.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// =============================================================================
// Stress Level
// =============================================================================

// StressLevel is the caller-reported qualitative stress bucket.
type StressLevel string

const (
	StressLow    StressLevel = "low"
	StressMedium StressLevel = "medium"
	StressHigh   StressLevel = "high"
)

// ParseStressLevel converts a string to a StressLevel, returning a typed
// error for unrecognized input.
func ParseStressLevel(s string) (StressLevel, error) {
	switch l := StressLevel(s); l {
	case StressLow, StressMedium, StressHigh:
		return l, nil
	}
	return "", fmt.Errorf("unrecognized stress level %q", s)
}

// =============================================================================
// Biometric Context
// =============================================================================

// Default biometric values applied when the caller supplies no data.
// Absence of biometrics must never block an operation, so the defaults are
// deliberately permissive: HRV above the gate, adequate sleep, low stress.
const (
	DefaultHRV        = 50.0
	DefaultSleepScore = 7.0
)

// BiometricContext carries the physiological inputs that gate validation.
// It is ephemeral: supplied fresh per call, never persisted by this
// package.
type BiometricContext struct {
	HRV         float64     `json:"hrv"`
	SleepScore  float64     `json:"sleep_score"`
	StressLevel StressLevel `json:"stress_level"`
}

// DefaultBiometricContext returns the permissive fallback context.
func DefaultBiometricContext() BiometricContext {
	return BiometricContext{
		HRV:         DefaultHRV,
		SleepScore:  DefaultSleepScore,
		StressLevel: StressLow,
	}
}

// =============================================================================
// Violations
// =============================================================================

// WellnessViolation describes one detected issue in a validated fragment.
type WellnessViolation struct {
	Kind     ViolationKind `json:"type"`
	Severity Severity      `json:"severity"`
	// Location is an opaque "scope:line:column" reference into the
	// fragment, e.g. "diff:14:0" or "diff:global".
	Location string `json:"location"`
	Message  string `json:"message"`
	// SuggestedFix is the wellness-positive replacement pattern.
	SuggestedFix string `json:"suggested_fix"`
	// WellnessImpact describes the qualitative health impact.
	WellnessImpact string `json:"wellness_impact"`
	// CognitiveLoadIncrease is an additive, informational delta in the
	// 0.0-10.0 range. It decorates output; it is not summed into any
	// hard limit.
	CognitiveLoadIncrease float64 `json:"cognitive_load_increase"`
}

// =============================================================================
// Cognitive Load
// =============================================================================

// CognitiveLoadReport is the structural analysis of one fragment. It is a
// pure computation result and is never mutated after creation.
type CognitiveLoadReport struct {
	OverallScore          float64 `json:"overall_score"`
	CyclomaticComplexity  int     `json:"cyclomatic_complexity"`
	NestingDepth          int     `json:"nesting_depth"`
	FunctionCount         int     `json:"function_count"`
	AverageFunctionLength float64 `json:"average_function_length"`
	// HRVImpactEstimate buckets OverallScore: low <4, moderate <6,
	// high <8, severe otherwise.
	HRVImpactEstimate string   `json:"hrv_impact_estimate"`
	StressIndicators  []string `json:"stress_indicators"`
}

// =============================================================================
// Validation Result
// =============================================================================

// ValidationMetadata accompanies every validation result.
type ValidationMetadata struct {
	LoadReport *CognitiveLoadReport `json:"cognitive_load_report,omitempty"`
	HRV        float64              `json:"hrv_at_validation"`
	SleepScore float64              `json:"sleep_score_at_validation"`
	// ValidationHash is sha256(fragment:hrv:timestamp) truncated to 16
	// hex characters, used as an external proof reference. It embeds
	// wall-clock time and is therefore NOT reproducible across calls
	// with identical input. External ledger integration relies on this
	// freshness property; do not make it content-only.
	ValidationHash string `json:"validation_hash,omitempty"`
	// ParseError is set when the fragment failed to parse. A parse
	// failure short-circuits all other checks (fail closed).
	ParseError string `json:"error,omitempty"`
}

// ValidationResult is the outcome of a single Validate call.
type ValidationResult struct {
	// IsValid is true iff no violation carries SeverityCritical.
	IsValid    bool                `json:"is_valid"`
	Violations []WellnessViolation `json:"violations"`
	Metadata   ValidationMetadata  `json:"metadata"`
}
