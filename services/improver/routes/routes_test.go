// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianForge/services/improver/core"
	"github.com/AleutianAI/AleutianForge/services/improver/extract"
	"github.com/AleutianAI/AleutianForge/services/improver/graph"
	"github.com/AleutianAI/AleutianForge/services/improver/ingest"
	"github.com/AleutianAI/AleutianForge/services/improver/pipeline"
)

func init() {
	// Set Gin to test mode to reduce noise in test output
	gin.SetMode(gin.TestMode)
}

func newTestRouter(t *testing.T) (*gin.Engine, *graph.Store) {
	t.Helper()

	store := graph.NewInMemory()
	require.NoError(t, store.Connect(context.Background()))
	t.Cleanup(func() { _ = store.Close() })

	reg := pipeline.NewRegistry(nil)
	orc, err := pipeline.NewOrchestrator(reg, pipeline.Options{
		Cloner: ingest.NewCloner(
			ingest.WithCloneBaseDir(t.TempDir()),
			ingest.WithCloneTimeout(5*time.Second)),
		Indexer:   ingest.NewIndexer(),
		Parser:    ingest.NewParser(nil),
		Extractor: extract.New(nil),
		Graph:     store,
	})
	require.NoError(t, err)

	router := gin.New()
	SetupRoutes(router, orc, store)
	return router, store
}

func TestSetupRoutesRegistersEndpoints(t *testing.T) {
	router, _ := newTestRouter(t)

	expected := []struct {
		method string
		path   string
	}{
		{"GET", "/health"},
		{"GET", "/metrics"},
		{"POST", "/v1/enhance"},
		{"GET", "/v1/jobs"},
		{"GET", "/v1/jobs/:jobId"},
		{"POST", "/v1/jobs/:jobId/cancel"},
		{"GET", "/v1/graph/:repoId/symbols"},
		{"GET", "/v1/graph/:repoId/callgraph"},
		{"GET", "/v1/graph/:repoId/orphans"},
		{"GET", "/v1/graph/:repoId/cycles"},
		{"GET", "/v1/graph/:repoId/validation-gaps"},
		{"GET", "/v1/graph/:repoId/findings"},
		{"GET", "/v1/graph/:repoId/proposals"},
		{"GET", "/v1/graph/:repoId/outcomes"},
		{"GET", "/v1/graph/:repoId/export"},
		{"POST", "/v1/graph/:repoId/import"},
	}

	routes := router.Routes()
	for _, want := range expected {
		found := false
		for _, r := range routes {
			if r.Method == want.method && r.Path == want.path {
				found = true
				break
			}
		}
		assert.True(t, found, "missing route %s %s", want.method, want.path)
	}
}

func TestHealthEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ok")
}

func TestEnhanceRejectsMissingURL(t *testing.T) {
	router, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/enhance",
		bytes.NewBufferString(`{"branch": "main"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEnhanceRejectsBadScheme(t *testing.T) {
	router, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/enhance",
		bytes.NewBufferString(`{"url": "ftp://example.com/repo"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEnhanceAcceptsJob(t *testing.T) {
	router, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/enhance",
		bytes.NewBufferString(`{"url": "https://github.com/acme/widgets", "dry_run": true}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusAccepted, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	jobID, err := uuid.Parse(body["job_id"].(string))
	require.NoError(t, err)

	// The job exists and is pollable right away.
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/v1/jobs/"+jobID.String(), nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGetJobUnknownID(t *testing.T) {
	router, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/"+uuid.NewString(), nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/v1/jobs/not-a-uuid", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCancelUnknownJobConflicts(t *testing.T) {
	router, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost,
		"/v1/jobs/"+uuid.NewString()+"/cancel", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestGraphQueryEndpoints(t *testing.T) {
	router, store := newTestRouter(t)
	repoID := uuid.New()

	sym := &core.Symbol{
		ID: uuid.New(), RepoID: repoID, Name: "main",
		Kind: core.KindFunction, FilePath: "main.py", Language: core.LangPython,
		Span: core.Span{StartLine: 1, EndLine: 2, StartCol: 1, EndCol: 1},
	}
	require.NoError(t, store.UpsertSymbol(context.Background(), sym))

	for _, path := range []string{"symbols", "callgraph", "orphans", "cycles", "validation-gaps"} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet,
			fmt.Sprintf("/v1/graph/%s/%s", repoID, path), nil)
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code, path)
	}

	// Bad repo ids are rejected before hitting the store.
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/graph/nope/callgraph", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHistoryEndpoints(t *testing.T) {
	router, store := newTestRouter(t)
	repoID := uuid.New()

	finding := core.Finding{
		ID: uuid.New(), RepoID: repoID, Tool: "ruff",
		Severity: core.SeverityLow, Title: "unused import",
		FilePath: "main.py", StartLine: 3, CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.SaveFindings(context.Background(), []core.Finding{finding}))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet,
		fmt.Sprintf("/v1/graph/%s/findings", repoID), nil)
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "unused import")

	// Proposals and outcomes respond even when empty.
	for _, path := range []string{"proposals", "outcomes"} {
		w = httptest.NewRecorder()
		req = httptest.NewRequest(http.MethodGet,
			fmt.Sprintf("/v1/graph/%s/%s", repoID, path), nil)
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code, path)
	}
}

func TestGraphExportImportRoundTrip(t *testing.T) {
	router, store := newTestRouter(t)
	repoID := uuid.New()

	sym := &core.Symbol{
		ID: uuid.New(), RepoID: repoID, Name: "helper",
		Kind: core.KindFunction, FilePath: "util.py", Language: core.LangPython,
		Span: core.Span{StartLine: 1, EndLine: 3, StartCol: 1, EndCol: 1},
	}
	require.NoError(t, store.UpsertSymbol(context.Background(), sym))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet,
		fmt.Sprintf("/v1/graph/%s/export", repoID), nil)
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	exported := w.Body.Bytes()
	assert.Contains(t, string(exported), "graphml")

	otherRepo := uuid.New()
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost,
		fmt.Sprintf("/v1/graph/%s/import", otherRepo), bytes.NewReader(exported))
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, float64(1), body["symbols"])
}

func TestGraphImportRejectsGarbage(t *testing.T) {
	router, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost,
		fmt.Sprintf("/v1/graph/%s/import", uuid.New()),
		bytes.NewBufferString("this is not xml"))
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
