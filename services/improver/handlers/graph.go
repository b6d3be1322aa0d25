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

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianForge/services/improver/graph"
)

func repoParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("repoId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid repo id"})
		return uuid.Nil, false
	}
	return id, true
}

// GetCallGraph returns the caller to callee adjacency for one repo.
func GetCallGraph(store *graph.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		repoID, ok := repoParam(c)
		if !ok {
			return
		}
		calls, err := store.CallGraph(c.Request.Context(), repoID)
		if err != nil {
			slog.Error("call graph query failed", "repo_id", repoID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "call graph query failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"repo_id": repoID, "calls": calls})
	}
}

// GetOrphans returns symbols with no incoming relationships.
func GetOrphans(store *graph.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		repoID, ok := repoParam(c)
		if !ok {
			return
		}
		orphans, err := store.OrphanSymbols(c.Request.Context(), repoID)
		if err != nil {
			slog.Error("orphan query failed", "repo_id", repoID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "orphan query failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"repo_id": repoID, "orphans": orphans})
	}
}

// GetCycles returns call cycles as closed name paths.
func GetCycles(store *graph.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		repoID, ok := repoParam(c)
		if !ok {
			return
		}
		cycles, err := store.Cycles(c.Request.Context(), repoID)
		if err != nil {
			slog.Error("cycle query failed", "repo_id", repoID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "cycle query failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"repo_id": repoID, "cycles": cycles})
	}
}

// GetValidationGaps returns parameterized functions that never call a
// validator.
func GetValidationGaps(store *graph.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		repoID, ok := repoParam(c)
		if !ok {
			return
		}
		gaps, err := store.EndpointsWithoutValidation(c.Request.Context(), repoID)
		if err != nil {
			slog.Error("validation gap query failed", "repo_id", repoID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "validation gap query failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"repo_id": repoID, "gaps": gaps})
	}
}

// ExportGraph streams one repository's subgraph as GraphML.
func ExportGraph(store *graph.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		repoID, ok := repoParam(c)
		if !ok {
			return
		}
		c.Header("Content-Type", "application/xml")
		c.Header("Content-Disposition", `attachment; filename="graph.graphml"`)
		if err := store.Export(c.Request.Context(), repoID, c.Writer); err != nil {
			slog.Error("graph export failed", "repo_id", repoID, "error", err)
			c.Status(http.StatusInternalServerError)
		}
	}
}

// ImportGraph loads a GraphML document into one repository's subgraph.
// Records are re-homed under the path repo id.
func ImportGraph(store *graph.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		repoID, ok := repoParam(c)
		if !ok {
			return
		}
		doc, err := graph.DecodeGraphML(c.Request.Body, repoID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		symbols, edges, err := store.ImportBulk(c.Request.Context(), doc)
		if err != nil {
			slog.Error("graph import failed", "repo_id", repoID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "graph import failed"})
			return
		}
		slog.Info("imported graph", "repo_id", repoID, "symbols", symbols, "edges", edges)
		c.JSON(http.StatusOK, gin.H{
			"repo_id": repoID,
			"symbols": symbols,
			"edges":   edges,
		})
	}
}

// GetSymbols returns one repository's symbols, optionally filtered to
// a single file via the path query parameter.
func GetSymbols(store *graph.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		repoID, ok := repoParam(c)
		if !ok {
			return
		}
		var err error
		var symbols any
		if path := c.Query("path"); path != "" {
			symbols, err = store.SymbolsByFile(c.Request.Context(), repoID, path)
		} else {
			symbols, err = store.SymbolsByRepo(c.Request.Context(), repoID)
		}
		if err != nil {
			slog.Error("symbol query failed", "repo_id", repoID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "symbol query failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"repo_id": repoID, "symbols": symbols})
	}
}
