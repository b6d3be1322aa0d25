// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/AleutianForge/services/improver/graph"
	"github.com/AleutianAI/AleutianForge/services/improver/handlers"
	"github.com/AleutianAI/AleutianForge/services/improver/pipeline"
)

func SetupRoutes(router *gin.Engine, orc *pipeline.Orchestrator, store *graph.Store) {

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API version 1 group
	v1 := router.Group("/v1")
	{
		v1.POST("/enhance", handlers.SubmitEnhancement(orc))

		jobs := v1.Group("/jobs")
		{
			jobs.GET("", handlers.ListJobs(orc.Registry()))
			jobs.GET("/:jobId", handlers.GetJob(orc.Registry()))
			jobs.POST("/:jobId/cancel", handlers.CancelJob(orc.Registry()))
		}

		repoGraph := v1.Group("/graph/:repoId")
		{
			repoGraph.GET("/symbols", handlers.GetSymbols(store))
			repoGraph.GET("/callgraph", handlers.GetCallGraph(store))
			repoGraph.GET("/orphans", handlers.GetOrphans(store))
			repoGraph.GET("/cycles", handlers.GetCycles(store))
			repoGraph.GET("/validation-gaps", handlers.GetValidationGaps(store))
			repoGraph.GET("/findings", handlers.GetFindings(store))
			repoGraph.GET("/proposals", handlers.GetProposals(store))
			repoGraph.GET("/outcomes", handlers.GetOutcomes(store))
			repoGraph.GET("/export", handlers.ExportGraph(store))
			repoGraph.POST("/import", handlers.ImportGraph(store))
		}
	}
}
