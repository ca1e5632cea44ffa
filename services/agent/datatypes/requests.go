// Copyright (C) 2025 Pollen Hive (dev@pollenhive.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes defines the request and response shapes of the
// Pollen agent API.
package datatypes

import (
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/pollenhive/pollen/services/ledger"
	"github.com/pollenhive/pollen/services/wellness"
)

// RegisterValidators installs the custom binding rules. Call once at
// startup before serving.
func RegisterValidators() {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return
	}
	v.RegisterValidation("activitytype", func(fl validator.FieldLevel) bool {
		_, err := ledger.ParseActivityType(fl.Field().String())
		return err == nil
	})
	v.RegisterValidation("stresslevel", func(fl validator.FieldLevel) bool {
		if fl.Field().String() == "" {
			return true
		}
		_, err := wellness.ParseStressLevel(fl.Field().String())
		return err == nil
	})
}

// ValidateCodeRequest asks for a wellness validation of a code
// fragment. Biometrics are optional; zero values take the permissive
// defaults.
type ValidateCodeRequest struct {
	CodeFragment string  `json:"code_fragment" binding:"required"`
	HRV          float64 `json:"hrv" binding:"omitempty,gt=0"`
	SleepScore   float64 `json:"sleep_score" binding:"omitempty,gte=0,lte=10"`
	StressLevel  string  `json:"stress_level" binding:"stresslevel"`
}

// Biometrics folds the request's optional readings into a context.
func (r ValidateCodeRequest) Biometrics() wellness.BiometricContext {
	bio := wellness.DefaultBiometricContext()
	if r.HRV > 0 {
		bio.HRV = r.HRV
	}
	if r.SleepScore > 0 {
		bio.SleepScore = r.SleepScore
	}
	if level, err := wellness.ParseStressLevel(r.StressLevel); err == nil {
		bio.StressLevel = level
	}
	return bio
}

// CognitiveLoadRequest asks for a load report only.
type CognitiveLoadRequest struct {
	CodeFragment string `json:"code_fragment" binding:"required"`
}

// LintDiffRequest validates the added lines of a unified diff.
type LintDiffRequest struct {
	Patch       string  `json:"patch" binding:"required"`
	HRV         float64 `json:"hrv" binding:"omitempty,gt=0"`
	SleepScore  float64 `json:"sleep_score" binding:"omitempty,gte=0,lte=10"`
	StressLevel string  `json:"stress_level" binding:"stresslevel"`
}

// Biometrics folds the request's optional readings into a context.
func (r LintDiffRequest) Biometrics() wellness.BiometricContext {
	return ValidateCodeRequest{
		HRV: r.HRV, SleepScore: r.SleepScore, StressLevel: r.StressLevel,
	}.Biometrics()
}

// AlternativeRequest asks for the healing alternative of a violation
// kind.
type AlternativeRequest struct {
	ViolationType string `json:"violation_type" binding:"required"`
}

// SubmitProofRequest records a validated activity in the shadow
// ledger. Negative honey amounts are accepted; corrections are issued
// as negative entries.
type SubmitProofRequest struct {
	ActivityType string         `json:"activity_type" binding:"required,activitytype"`
	Description  string         `json:"description"`
	HoneyAmount  float64        `json:"honey_amount" binding:"required"`
	ProofHash    string         `json:"proof_hash" binding:"required"`
	Metadata     map[string]any `json:"metadata"`
}

// ValidateProofRequest marks a pending ledger entry as validated.
type ValidateProofRequest struct {
	EntryID string `json:"entry_id" binding:"required"`
}

// CreateRequest generates a creation. Fields beyond ContentType are
// interpreted per medium.
type CreateRequest struct {
	ContentType string `json:"content_type" binding:"required"`
	Title       string `json:"title"`
	Content     string `json:"content"`
	Description string `json:"description"`
	Language    string `json:"language"`
	Format      string `json:"format"`
	Template    string `json:"template"`
	Prompt      string `json:"prompt"`
	Style       string `json:"style"`
	// Complexity is the surgical generation preference: auto,
	// minimal, or full.
	Complexity string `json:"complexity" binding:"omitempty,oneof=auto minimal full"`
	// Wellness gates code generation through the validator.
	Wellness bool `json:"wellness"`
}

// ApprovePostRequest releases a pending social post for publishing.
type ApprovePostRequest struct {
	PostID string `json:"post_id" binding:"required"`
}

// ErrorResponse is the uniform error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}
