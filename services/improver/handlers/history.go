// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianForge/services/improver/graph"
)

// historyLimit reads the optional limit query parameter. Zero lets the
// store apply its default.
func historyLimit(c *gin.Context) int {
	raw := c.Query("limit")
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0
	}
	return n
}

// GetFindings returns a repository's stored analysis findings, newest
// first.
func GetFindings(store *graph.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		repoID, ok := repoParam(c)
		if !ok {
			return
		}
		findings, err := store.FindingsByRepo(c.Request.Context(), repoID, historyLimit(c))
		if err != nil {
			slog.Error("finding history query failed", "repo_id", repoID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "finding history query failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"repo_id": repoID, "findings": findings})
	}
}

// GetProposals returns a repository's stored feature proposals, newest
// first.
func GetProposals(store *graph.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		repoID, ok := repoParam(c)
		if !ok {
			return
		}
		proposals, err := store.ProposalsByRepo(c.Request.Context(), repoID, historyLimit(c))
		if err != nil {
			slog.Error("proposal history query failed", "repo_id", repoID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "proposal history query failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"repo_id": repoID, "proposals": proposals})
	}
}

// GetOutcomes returns a repository's run outcomes, newest first,
// together with the overall success rate.
func GetOutcomes(store *graph.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		repoID, ok := repoParam(c)
		if !ok {
			return
		}
		outcomes, err := store.OutcomesByRepo(c.Request.Context(), repoID, historyLimit(c))
		if err != nil {
			slog.Error("outcome history query failed", "repo_id", repoID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "outcome history query failed"})
			return
		}
		rate, err := store.SuccessRate(c.Request.Context(), repoID)
		if err != nil {
			slog.Error("success rate query failed", "repo_id", repoID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "success rate query failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"repo_id":      repoID,
			"outcomes":     outcomes,
			"success_rate": rate,
		})
	}
}
