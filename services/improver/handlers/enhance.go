// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers contains the gin handlers for the improver API.
// Handlers are constructor functions so route wiring can inject the
// orchestrator and graph store explicitly.
package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianForge/services/improver/core"
	"github.com/AleutianAI/AleutianForge/services/improver/observability"
	"github.com/AleutianAI/AleutianForge/services/improver/pipeline"
)

// EnhanceRequest is the POST /v1/enhance payload.
type EnhanceRequest struct {
	URL             string   `json:"url" binding:"required"`
	Branch          string   `json:"branch"`
	Commit          string   `json:"commit"`
	Languages       []string `json:"languages"`
	Paths           []string `json:"paths"`
	ExcludePatterns []string `json:"exclude_patterns"`
	DryRun          bool     `json:"dry_run"`
}

// SubmitEnhancement accepts a repository spec and starts a pipeline
// job. Responds 202 with the job and repo ids to poll.
func SubmitEnhancement(orc *pipeline.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req EnhanceRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			observability.DefaultMetrics.RecordRequest("enhance", false)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		spec := core.RepoSpec{
			ID:              uuid.New(),
			URL:             req.URL,
			Branch:          req.Branch,
			Commit:          req.Commit,
			Paths:           req.Paths,
			ExcludePatterns: req.ExcludePatterns,
		}
		for _, lang := range req.Languages {
			spec.Languages = append(spec.Languages, core.Language(lang))
		}

		job, err := orc.Submit(spec, req.DryRun)
		if err != nil {
			observability.DefaultMetrics.RecordRequest("enhance", false)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		slog.Info("accepted enhancement job",
			"job_id", job.ID, "repo_id", spec.ID, "url", req.URL)
		observability.DefaultMetrics.RecordRequest("enhance", true)
		if observability.DefaultMetrics != nil {
			observability.DefaultMetrics.JobsSubmitted.Inc()
		}
		c.JSON(http.StatusAccepted, gin.H{
			"job_id":  job.ID,
			"repo_id": spec.ID,
			"status":  job.Status,
		})
	}
}

// GetJob returns the current snapshot of one job.
func GetJob(reg *pipeline.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("jobId"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
			return
		}
		job, ok := reg.Get(id)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		c.JSON(http.StatusOK, job)
	}
}

// ListJobs returns every known job.
func ListJobs(reg *pipeline.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"jobs": reg.List()})
	}
}

// CancelJob requests cooperative cancellation of a job. Terminal and
// unknown jobs respond 409.
func CancelJob(reg *pipeline.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("jobId"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
			return
		}
		if !reg.RequestCancel(id) {
			c.JSON(http.StatusConflict, gin.H{"error": "job is not cancellable"})
			return
		}
		slog.Info("cancellation requested", "job_id", id)
		c.JSON(http.StatusAccepted, gin.H{"job_id": id, "status": "cancel_requested"})
	}
}

// HealthCheck reports liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
