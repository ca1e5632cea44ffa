// Copyright (C) 2025 Pollen Hive (dev@pollenhive.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package wellness

import (
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pollenhive/pollen/services/wellness/enforcement"
)

// =============================================================================
// Pattern Catalog
// =============================================================================

// healingAlternative is the wellness-positive replacement for a violation
// kind.
type healingAlternative struct {
	Pattern        string `yaml:"pattern"`
	Implementation string `yaml:"implementation"`
	WellnessGain   string `yaml:"wellness_gain"`
}

// catalogEntry is one violation kind as declared in the YAML catalog.
type catalogEntry struct {
	Kind         string             `yaml:"kind"`
	Impact       string             `yaml:"impact"`
	LoadIncrease float64            `yaml:"load_increase"`
	Patterns     []string           `yaml:"patterns"`
	Alternative  healingAlternative `yaml:"alternative"`
}

// patternCatalog is the unmarshalled anti_addiction_patterns.yaml.
type patternCatalog struct {
	Version    string         `yaml:"version"`
	Violations []catalogEntry `yaml:"violations"`
}

// compiledEntry pairs one catalog entry with its compiled regexes.
type compiledEntry struct {
	kind         ViolationKind
	impact       string
	loadIncrease float64
	alternative  healingAlternative
	regexes      []*regexp.Regexp
}

// PatternEngine detects addiction-inducing anti-patterns by scanning
// source text against the embedded catalog. It is immutable after
// construction and safe for concurrent use.
type PatternEngine struct {
	entries      []compiledEntry
	alternatives map[ViolationKind]healingAlternative
}

// NewPatternEngine compiles the embedded catalog. All regexes are
// anchored case-insensitively.
func NewPatternEngine() (*PatternEngine, error) {
	return newPatternEngineFrom(enforcement.AntiAddictionPatterns)
}

func newPatternEngineFrom(raw []byte) (*PatternEngine, error) {
	var catalog patternCatalog
	if err := yaml.Unmarshal(raw, &catalog); err != nil {
		return nil, fmt.Errorf("failed to parse pattern catalog: %w", err)
	}

	eng := &PatternEngine{
		alternatives: make(map[ViolationKind]healingAlternative, len(catalog.Violations)),
	}
	for _, entry := range catalog.Violations {
		kind, err := ParseViolationKind(entry.Kind)
		if err != nil {
			return nil, fmt.Errorf("invalid catalog entry: %w", err)
		}
		eng.alternatives[kind] = entry.Alternative

		if len(entry.Patterns) == 0 {
			continue
		}
		compiled := compiledEntry{
			kind:         kind,
			impact:       entry.Impact,
			loadIncrease: entry.LoadIncrease,
			alternative:  entry.Alternative,
		}
		for _, pattern := range entry.Patterns {
			re, err := regexp.Compile("(?i)" + pattern)
			if err != nil {
				return nil, fmt.Errorf("failed to compile pattern %q for %s: %w", pattern, kind, err)
			}
			compiled.regexes = append(compiled.regexes, re)
		}
		eng.entries = append(eng.entries, compiled)
	}
	return eng, nil
}

// Scan matches every catalog regex against source and returns one
// warning-severity violation per match. Overlapping matches from
// different patterns are all reported; no de-duplication happens here.
func (e *PatternEngine) Scan(source string) []WellnessViolation {
	var violations []WellnessViolation
	for _, entry := range e.entries {
		for _, re := range entry.regexes {
			for _, loc := range re.FindAllStringIndex(source, -1) {
				line := strings.Count(source[:loc[0]], "\n") + 1
				matched := source[loc[0]:loc[1]]
				violations = append(violations, WellnessViolation{
					Kind:                  entry.kind,
					Severity:              SeverityWarning,
					Location:              fmt.Sprintf("diff:%d:0", line),
					Message:               fmt.Sprintf("Detected %s: %s...", entry.kind, truncate(matched, 50)),
					SuggestedFix:          e.SuggestAlternative(entry.kind),
					WellnessImpact:        entry.impact,
					CognitiveLoadIncrease: entry.loadIncrease,
				})
			}
		}
	}
	return violations
}

// SuggestAlternative renders the healing alternative for a violation
// kind. Kinds without an alternative get a generic review prompt.
func (e *PatternEngine) SuggestAlternative(kind ViolationKind) string {
	alt, ok := e.alternatives[kind]
	if !ok {
		return "Review code for wellness impact"
	}
	return fmt.Sprintf("Replace with: %s\nImplementation: %s\nWellness gain: %s",
		alt.Pattern, alt.Implementation, alt.WellnessGain)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
