// Copyright (C) 2025 Pollen Hive (dev@pollenhive.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package creator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/pollenhive/pollen/services/wellness"
)

// Complexity preferences for surgical generation.
const (
	ComplexityAuto    = "auto"
	ComplexityMinimal = "minimal"
	ComplexityFull    = "full"
)

// TokenEstimate is the MINE/WELL reward or cost pair.
type TokenEstimate struct {
	MINE float64 `json:"MINE"`
	WELL float64 `json:"WELL"`
}

// WellnessCreation pairs a creation with its validation outcome and
// reward estimate.
type WellnessCreation struct {
	Creation      *Creation                     `json:"creation"`
	ProofHash     string                        `json:"wellness_proof_hash"`
	TokenEstimate TokenEstimate                 `json:"token_reward_estimate"`
	Violations    []wellness.WellnessViolation  `json:"wellness_violations"`
	LoadReport    *wellness.CognitiveLoadReport `json:"cognitive_load_report,omitempty"`
	Biometrics    wellness.BiometricContext     `json:"biometric_context_at_creation"`
	Complexity    string                        `json:"complexity"`
}

// GenerateWithWellnessConstraints generates code with the validator in
// the loop:
//
//  1. Low HRV or poor sleep downgrades the complexity preference to
//     minimal before any generation happens.
//  2. The generated code is validated; violations and the load report
//     travel with the creation instead of blocking it. The caller
//     decides what to do with an invalid result.
//  3. A wellness proof hash binds the creation to its violation count
//     and the biometric state at creation time.
func (e *Engine) GenerateWithWellnessConstraints(ctx context.Context, intent string, bio wellness.BiometricContext, validator *wellness.Validator, complexity string) (*WellnessCreation, error) {
	if complexity == "" {
		complexity = ComplexityAuto
	}
	if bio.HRV < 45 {
		e.log.Warn("low HRV, downgrading to minimal complexity", "hrv", bio.HRV)
		complexity = ComplexityMinimal
	}
	if bio.SleepScore < 6 {
		e.log.Warn("poor sleep, downgrading to minimal complexity", "sleep_score", bio.SleepScore)
		complexity = ComplexityMinimal
	}

	creation, err := e.GenerateCode(ctx, intent+" (complexity: "+complexity+")", "python", "")
	if err != nil {
		return nil, err
	}

	code, _ := creation.Content["code"].(string)
	result := validator.Validate(ctx, code, bio)

	proofHash, err := wellnessProofHash(creation.CreationID, len(result.Violations), bio.HRV)
	if err != nil {
		return nil, err
	}

	wc := &WellnessCreation{
		Creation:      creation,
		ProofHash:     proofHash,
		TokenEstimate: estimateTokenRewards(len(result.Violations), bio.HRV),
		Violations:    result.Violations,
		LoadReport:    result.Metadata.LoadReport,
		Biometrics:    bio,
		Complexity:    complexity,
	}
	e.log.Info("wellness-constrained creation complete",
		"creation_id", creation.CreationID,
		"violations", len(result.Violations),
		"valid", result.IsValid,
	)
	return wc, nil
}

// wellnessProofHash binds a creation to its validation outcome and the
// biometric state, truncated to 32 hex characters for ledger proofs.
func wellnessProofHash(creationID string, violationCount int, hrv float64) (string, error) {
	proof, err := json.Marshal(map[string]any{
		"creation_id":     creationID,
		"violation_count": violationCount,
		"hrv_at_creation": hrv,
		"timestamp":       time.Now().UTC().Format(time.RFC3339Nano),
		"wellness_score":  math.Max(0, float64(10-violationCount*2)),
	})
	if err != nil {
		return "", fmt.Errorf("failed to build wellness proof: %w", err)
	}
	sum := sha256.Sum256(proof)
	return hex.EncodeToString(sum[:])[:32], nil
}

// estimateTokenRewards computes the MINE/WELL estimate: clean creations
// earn a 1.5x bonus, high HRV a further 1.2x on MINE, and every
// violation costs 5 MINE / 0.05 WELL off the base.
func estimateTokenRewards(violationCount int, hrv float64) TokenEstimate {
	baseMine, baseWell := 20.0, 0.2
	if violationCount == 0 {
		baseMine *= 1.5
		baseWell *= 1.5
	}
	if hrv > 60 {
		baseMine *= 1.2
	}
	return TokenEstimate{
		MINE: math.Max(0, round2(baseMine-float64(violationCount)*5)),
		WELL: math.Max(0, round3(baseWell-float64(violationCount)*0.05)),
	}
}

// GenerationCost is the WELL cost charged before generation.
func GenerationCost(complexity string) TokenEstimate {
	switch complexity {
	case ComplexityMinimal:
		return TokenEstimate{WELL: 0.5}
	case ComplexityFull:
		return TokenEstimate{WELL: 2.0}
	default:
		return TokenEstimate{WELL: 1.0}
	}
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round3(v float64) float64 { return math.Round(v*1000) / 1000 }
