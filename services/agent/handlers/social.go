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
	"github.com/pollenhive/pollen/services/social"
)

// HandlePendingPosts lists posts waiting for owner consent.
func HandlePendingPosts(mgr *social.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		posts := mgr.PendingPosts()
		c.JSON(http.StatusOK, gin.H{"posts": posts, "count": len(posts)})
	}
}

// HandleApprovePost releases a pending post to the scheduler.
func HandleApprovePost(mgr *social.Manager, bus *EventBus) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.ApprovePostRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: err.Error()})
			return
		}
		if !mgr.ApprovePost(req.PostID) {
			c.JSON(http.StatusNotFound, datatypes.ErrorResponse{Error: "post not found or not pending approval"})
			return
		}
		bus.Publish("post_approved", map[string]any{"post_id": req.PostID})
		c.JSON(http.StatusOK, gin.H{"post_id": req.PostID, "status": "scheduled"})
	}
}

// HandleSocialStats reports publishing totals and average engagement.
func HandleSocialStats(mgr *social.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, mgr.GetStats())
	}
}
