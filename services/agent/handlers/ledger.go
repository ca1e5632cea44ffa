// Copyright (C) 2025 Pollen Hive (dev@pollenhive.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/pollenhive/pollen/services/agent/datatypes"
	"github.com/pollenhive/pollen/services/agent/observability"
	"github.com/pollenhive/pollen/services/ledger"
)

// HandleSubmitProof records an activity proof in the shadow ledger.
func HandleSubmitProof(acc *ledger.Accumulator, metrics *observability.AgentMetrics, bus *EventBus) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.SubmitProofRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: err.Error()})
			return
		}

		activity, err := ledger.ParseActivityType(req.ActivityType)
		if err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: err.Error()})
			return
		}

		entry, err := acc.AddEntry(c.Request.Context(), activity, req.Description, req.HoneyAmount, req.ProofHash)
		if err != nil {
			c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: err.Error()})
			return
		}

		metrics.RecordHoney(string(activity), req.HoneyAmount)
		bus.Publish("proof_submitted", map[string]any{
			"entry_id":      entry.EntryID,
			"activity_type": activity,
			"honey_value":   req.HoneyAmount,
		})

		c.JSON(http.StatusCreated, entry)
	}
}

// HandleValidateProof marks a pending entry as validated.
func HandleValidateProof(acc *ledger.Accumulator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.ValidateProofRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: err.Error()})
			return
		}

		ok, err := acc.ValidateEntry(c.Request.Context(), req.EntryID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: err.Error()})
			return
		}
		if !ok {
			c.JSON(http.StatusNotFound, datatypes.ErrorResponse{Error: "entry not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"entry_id": req.EntryID, "validated": true})
	}
}

// HandleBalance reports accumulated honey against the graduation
// threshold.
func HandleBalance(acc *ledger.Accumulator) gin.HandlerFunc {
	return func(c *gin.Context) {
		balance, err := acc.Balance(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: err.Error()})
			return
		}
		c.JSON(http.StatusOK, balance)
	}
}

// HandleGraduate forces a graduation attempt regardless of the
// auto-graduate setting.
func HandleGraduate(acc *ledger.Accumulator, metrics *observability.AgentMetrics, bus *EventBus) gin.HandlerFunc {
	return func(c *gin.Context) {
		record, err := acc.TriggerGraduation(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusConflict, datatypes.ErrorResponse{Error: err.Error()})
			return
		}

		metrics.RecordGraduation()
		bus.Publish("graduation", map[string]any{
			"new_level":         record.NewLevel,
			"honey_transferred": record.HoneyTransferred,
		})

		c.JSON(http.StatusOK, record)
	}
}

// HandleHistory lists ledger entries, optionally filtered by activity
// type via ?type= and capped via ?limit=.
func HandleHistory(acc *ledger.Accumulator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var activity ledger.ActivityType
		if raw := c.Query("type"); raw != "" {
			parsed, err := ledger.ParseActivityType(raw)
			if err != nil {
				c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: err.Error()})
				return
			}
			activity = parsed
		}

		limit := 0
		if raw := c.Query("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 0 {
				c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "limit must be a non-negative integer"})
				return
			}
			limit = parsed
		}

		entries, err := acc.History(c.Request.Context(), activity, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
	}
}

// HandleExport produces the wallet-creation bundle.
func HandleExport(acc *ledger.Accumulator) gin.HandlerFunc {
	return func(c *gin.Context) {
		bundle, err := acc.ExportForWalletCreation(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: err.Error()})
			return
		}
		c.JSON(http.StatusOK, bundle)
	}
}
