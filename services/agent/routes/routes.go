// Copyright (C) 2025 Pollen Hive (dev@pollenhive.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pollenhive/pollen/services/agent/handlers"
	"github.com/pollenhive/pollen/services/agent/middleware"
	"github.com/pollenhive/pollen/services/agent/observability"
	"github.com/pollenhive/pollen/services/creator"
	"github.com/pollenhive/pollen/services/ledger"
	"github.com/pollenhive/pollen/services/social"
	"github.com/pollenhive/pollen/services/wellness"
)

// Deps bundles the services the route tree serves.
type Deps struct {
	Validator   *wellness.Validator
	Accumulator *ledger.Accumulator
	Engine      *creator.Engine
	Social      *social.Manager
	Biometrics  handlers.BiometricSource
	Metrics     *observability.AgentMetrics
	Bus         *handlers.EventBus
	// APIToken guards the v1 group. Empty means open local access.
	APIToken string
}

func SetupRoutes(router *gin.Engine, deps Deps) {
	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API version 1 group
	v1 := router.Group("/v1")
	v1.Use(middleware.Auth(deps.APIToken))
	{
		wellnessRoutes := v1.Group("/wellness")
		{
			wellnessRoutes.POST("/validate", handlers.HandleValidateCode(deps.Validator, deps.Metrics, deps.Bus))
			wellnessRoutes.POST("/cognitive-load", handlers.HandleCognitiveLoad(deps.Validator))
			wellnessRoutes.POST("/lint-diff", handlers.HandleLintDiff(deps.Validator))
			wellnessRoutes.POST("/alternative", handlers.HandleSuggestAlternative(deps.Validator))
			wellnessRoutes.GET("/violations", handlers.HandleViolationHistory(deps.Validator))
		}

		proofs := v1.Group("/proofs")
		{
			proofs.POST("", handlers.HandleSubmitProof(deps.Accumulator, deps.Metrics, deps.Bus))
			proofs.POST("/validate", handlers.HandleValidateProof(deps.Accumulator))
			proofs.GET("/balance", handlers.HandleBalance(deps.Accumulator))
			proofs.POST("/graduate", handlers.HandleGraduate(deps.Accumulator, deps.Metrics, deps.Bus))
			proofs.GET("/history", handlers.HandleHistory(deps.Accumulator))
			proofs.GET("/export", handlers.HandleExport(deps.Accumulator))
		}

		create := v1.Group("/create")
		{
			create.POST("", handlers.HandleCreate(deps.Engine, deps.Validator, deps.Biometrics, deps.Metrics, deps.Bus))
			create.GET("/creations", handlers.HandleListCreations(deps.Engine))
			create.GET("/creations/:id", handlers.HandleGetCreation(deps.Engine))
			create.GET("/creations/:id/publish-preview", handlers.HandlePreparePublish(deps.Engine))
			create.GET("/stats", handlers.HandleCreatorStats(deps.Engine))
		}

		if deps.Social != nil {
			socialRoutes := v1.Group("/social")
			{
				socialRoutes.GET("/pending", handlers.HandlePendingPosts(deps.Social))
				socialRoutes.POST("/approve", handlers.HandleApprovePost(deps.Social, deps.Bus))
				socialRoutes.GET("/stats", handlers.HandleSocialStats(deps.Social))
			}
		}

		v1.GET("/events/ws", handlers.HandleEventStream(deps.Bus, deps.Metrics))
	}
}
