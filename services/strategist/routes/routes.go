// Copyright (C) 2025 StraTech Labs (ashish-admin)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"github.com/ashish-admin/stra-tech-sub000/services/strategist/handlers"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRoutes registers the full strategist HTTP surface.
func SetupRoutes(router *gin.Engine, analysis *handlers.AnalysisHandler, admin *handlers.AdminHandler) {
	router.GET("/healthz", handlers.HandleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		strategist := v1.Group("/strategist")
		{
			strategist.GET("/:ward", analysis.HandleAnalyze)
			strategist.POST("/:ward", analysis.HandleAnalyze)
			strategist.GET("/:ward/feed", analysis.HandleFeed)
			strategist.POST("/:ward/feed", analysis.HandleFeed)
			strategist.GET("/:ward/ws", analysis.HandleFeedWS)
		}

		adminGroup := v1.Group("/admin")
		{
			adminGroup.GET("/providers", admin.HandleProviders)
			adminGroup.POST("/circuit/:provider/reset", admin.HandleCircuitReset)
			adminGroup.POST("/budget/:provider/reset", admin.HandleBudgetReset)
			adminGroup.POST("/cache/invalidate", admin.HandleCacheInvalidate)
		}
	}
}
