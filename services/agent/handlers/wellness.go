// Copyright (C) 2025 Pollen Hive (dev@pollenhive.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pollenhive/pollen/services/agent/datatypes"
	"github.com/pollenhive/pollen/services/agent/observability"
	"github.com/pollenhive/pollen/services/wellness"
)

// HandleValidateCode runs the wellness validator over a code fragment.
func HandleValidateCode(v *wellness.Validator, metrics *observability.AgentMetrics, bus *EventBus) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.ValidateCodeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: err.Error()})
			return
		}

		result := v.Validate(c.Request.Context(), req.CodeFragment, req.Biometrics())

		kinds := make([]string, 0, len(result.Violations))
		for _, violation := range result.Violations {
			kinds = append(kinds, string(violation.Kind))
		}
		var loadScore float64
		if result.Metadata.LoadReport != nil {
			loadScore = result.Metadata.LoadReport.OverallScore
		}
		metrics.RecordValidation(result.IsValid, result.Metadata.ParseError != "", loadScore, kinds)
		bus.Publish("validation", map[string]any{
			"is_valid":   result.IsValid,
			"violations": len(result.Violations),
			"load_score": loadScore,
		})

		c.JSON(http.StatusOK, result)
	}
}

// HandleCognitiveLoad returns the load report for a fragment without
// full validation.
func HandleCognitiveLoad(v *wellness.Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.CognitiveLoadRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: err.Error()})
			return
		}
		c.JSON(http.StatusOK, v.CognitiveLoad(c.Request.Context(), req.CodeFragment))
	}
}

// HandleLintDiff validates the added lines of a unified diff, one
// result per touched file.
func HandleLintDiff(v *wellness.Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.LintDiffRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: err.Error()})
			return
		}

		results, err := v.LintDiff(c.Request.Context(), req.Patch, req.Biometrics())
		if err != nil {
			c.JSON(http.StatusUnprocessableEntity, datatypes.ErrorResponse{Error: err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"files": results})
	}
}

// HandleSuggestAlternative returns the healing alternative for a
// violation kind.
func HandleSuggestAlternative(v *wellness.Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.AlternativeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: err.Error()})
			return
		}
		kind, err := wellness.ParseViolationKind(req.ViolationType)
		if err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"violation_type": kind,
			"alternative":    v.SuggestAlternative(kind),
		})
	}
}

// HandleViolationHistory returns the recent violation window.
func HandleViolationHistory(v *wellness.Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		history := v.History()
		c.JSON(http.StatusOK, gin.H{
			"violations": history,
			"count":      len(history),
		})
	}
}
