// Copyright (C) 2025 Pollen Hive (dev@pollenhive.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pollenhive/pollen/services/agent/datatypes"
	"github.com/pollenhive/pollen/services/agent/observability"
	"github.com/pollenhive/pollen/services/creator"
	"github.com/pollenhive/pollen/services/wellness"
)

// BiometricSource yields the current biometric context. The Terracare
// bridge implements it; a nil source falls back to permissive defaults.
type BiometricSource interface {
	Current(ctx context.Context) wellness.BiometricContext
}

// HandleCreate dispatches a generation request to the medium-specific
// engine path. Code requests with wellness=true go through the
// validator-in-the-loop path and return the full wellness creation.
func HandleCreate(eng *creator.Engine, v *wellness.Validator, bio BiometricSource, metrics *observability.AgentMetrics, bus *EventBus) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.CreateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: err.Error()})
			return
		}

		ct, err := creator.ParseContentType(req.ContentType)
		if err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: err.Error()})
			return
		}

		ctx := c.Request.Context()

		if ct == creator.ContentCode && req.Wellness {
			bioCtx := wellness.DefaultBiometricContext()
			if bio != nil {
				bioCtx = bio.Current(ctx)
			}
			wc, err := eng.GenerateWithWellnessConstraints(ctx, req.Description, bioCtx, v, req.Complexity)
			if err != nil {
				c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: err.Error()})
				return
			}
			metrics.RecordCreation(string(ct))
			bus.Publish("creation", map[string]any{
				"creation_id":  wc.Creation.CreationID,
				"content_type": ct,
				"wellness":     true,
			})
			c.JSON(http.StatusCreated, wc)
			return
		}

		var creation *creator.Creation
		switch ct {
		case creator.ContentWebsite:
			creation, err = eng.GenerateWebsite(ctx, req.Title, req.Content, req.Template)
		case creator.ContentDocument:
			creation, err = eng.GenerateDocument(ctx, req.Title, req.Content, req.Format)
		case creator.ContentCode:
			creation, err = eng.GenerateCode(ctx, req.Description, req.Language, req.Content)
		case creator.ContentImage:
			creation, err = eng.GenerateImage(ctx, req.Prompt, req.Style)
		default:
			c.JSON(http.StatusNotImplemented, datatypes.ErrorResponse{Error: "content type not yet supported: " + string(ct)})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: err.Error()})
			return
		}

		metrics.RecordCreation(string(ct))
		bus.Publish("creation", map[string]any{
			"creation_id":  creation.CreationID,
			"content_type": ct,
		})

		c.JSON(http.StatusCreated, creation)
	}
}

// HandleListCreations lists vault summaries, optionally filtered by
// ?type=.
func HandleListCreations(eng *creator.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var ct creator.ContentType
		if raw := c.Query("type"); raw != "" {
			parsed, err := creator.ParseContentType(raw)
			if err != nil {
				c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: err.Error()})
				return
			}
			ct = parsed
		}
		creations := eng.ListCreations(ct)
		c.JSON(http.StatusOK, gin.H{"creations": creations, "count": len(creations)})
	}
}

// HandleGetCreation returns one decrypted creation by ID.
func HandleGetCreation(eng *creator.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		creation, err := eng.GetCreation(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: err.Error()})
			return
		}
		if creation == nil {
			c.JSON(http.StatusNotFound, datatypes.ErrorResponse{Error: "creation not found"})
			return
		}
		c.JSON(http.StatusOK, creation)
	}
}

// HandlePreparePublish builds the consent preview for a creation.
func HandlePreparePublish(eng *creator.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		preview, err := eng.PrepareForPublish(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusNotFound, datatypes.ErrorResponse{Error: err.Error()})
			return
		}
		c.JSON(http.StatusOK, preview)
	}
}

// HandleCreatorStats reports vault totals by content type.
func HandleCreatorStats(eng *creator.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := eng.GetStats()
		if err != nil {
			c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: err.Error()})
			return
		}
		c.JSON(http.StatusOK, stats)
	}
}
