// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package improver assembles the code improvement service: the badger
// backed knowledge graph, the ingestion and extraction pipeline, the
// analysis and modification stages, and the HTTP API on top of them.
//
// # Usage
//
//	cfg, err := config.Load(path)
//	svc, err := improver.New(cfg, slog.Default())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run())
//
// # Thread Safety
//
// Service is safe for concurrent use after New returns. Run blocks and
// should be called once per instance.
package improver

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianForge/services/improver/analysis"
	"github.com/AleutianAI/AleutianForge/services/improver/brains"
	"github.com/AleutianAI/AleutianForge/services/improver/config"
	"github.com/AleutianAI/AleutianForge/services/improver/extract"
	"github.com/AleutianAI/AleutianForge/services/improver/graph"
	"github.com/AleutianAI/AleutianForge/services/improver/ingest"
	"github.com/AleutianAI/AleutianForge/services/improver/llm"
	"github.com/AleutianAI/AleutianForge/services/improver/modify"
	"github.com/AleutianAI/AleutianForge/services/improver/observability"
	"github.com/AleutianAI/AleutianForge/services/improver/pipeline"
	"github.com/AleutianAI/AleutianForge/services/improver/pr"
	"github.com/AleutianAI/AleutianForge/services/improver/routes"
	"github.com/AleutianAI/AleutianForge/services/improver/verify"
)

// Service is the assembled improver service.
type Service interface {
	// Run starts the HTTP server and blocks until it stops.
	Run() error

	// Router returns the configured engine for integration tests.
	Router() *gin.Engine

	// Close releases the graph store and other resources.
	Close() error
}

type service struct {
	cfg    config.Config
	router *gin.Engine
	store  *graph.Store
	orc    *pipeline.Orchestrator
	logger *slog.Logger
}

// New wires the service from configuration. The graph store is opened
// eagerly so a bad data directory fails fast.
func New(cfg config.Config, logger *slog.Logger) (Service, error) {
	if logger == nil {
		logger = slog.Default()
	}

	store := graph.New(graph.Config{
		DataDir:    cfg.Graph.DataDir,
		InMemory:   cfg.Graph.InMemory,
		SyncWrites: cfg.Graph.SyncWrites,
		Logger:     logger,
	})
	if err := store.Connect(context.Background()); err != nil {
		return nil, fmt.Errorf("open graph store: %w", err)
	}

	s := &service{cfg: cfg, store: store, logger: logger}

	observability.InitMetrics()

	opts := pipeline.Options{
		Cloner: ingest.NewCloner(
			ingest.WithCloneBaseDir(cfg.Pipeline.CloneBaseDir),
			ingest.WithCloneTimeout(cfg.Pipeline.CloneTimeout),
			ingest.WithCloneLogger(logger)),
		Indexer: ingest.NewIndexer(
			ingest.WithMaxFileSize(cfg.Pipeline.MaxFileSize),
			ingest.WithIndexerLogger(logger)),
		Parser:    ingest.NewParser(logger),
		Extractor: extract.New(logger),
		Graph:     store,
		Static: analysis.NewStaticPipeline(
			analysis.WithToolTimeout(cfg.Pipeline.ToolTimeout),
			analysis.WithStaticLogger(logger)),
		Dynamic:     analysis.NewDynamicPipeline(),
		Mutation:    analysis.NewMutationPipeline(analysis.WithMutationLogger(logger)),
		Memory:      store,
		Verifier:    verify.NewRunner(verify.WithLogger(logger)),
		Applier:     modify.NewApplier(logger),
		Summarize:   brains.BuildCodebaseSummary,
		FileWorkers: cfg.Pipeline.FileWorkers,
		Logger:      logger,
	}

	// The LLM stages are optional; without a key the pipeline stops
	// after analysis.
	if key := cfg.LLM.APIKey(); key != "" {
		client := llm.New(llm.Config{
			BaseURL:    cfg.LLM.BaseURL,
			APIKey:     key,
			Model:      cfg.LLM.Model,
			MaxRetries: cfg.LLM.MaxRetries,
			Logger:     logger,
		})
		opts.Discoverer = brains.NewInnovator(client, logger)
		opts.Planner = modify.NewPlanner(client, logger)
	} else {
		logger.Info("no LLM API key configured, discovery and planning disabled")
	}

	if token := cfg.GitHub.Token(); token != "" {
		prOpts := []pr.ClientOption{pr.WithLogger(logger)}
		if cfg.GitHub.BaseURL != "" {
			prOpts = append(prOpts, pr.WithBaseURL(cfg.GitHub.BaseURL))
		}
		opts.PRs = pr.NewClient(token, prOpts...)
	}

	registry := pipeline.NewRegistry(logger)
	orc, err := pipeline.NewOrchestrator(registry, opts)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	s.orc = orc

	gin.SetMode(ginMode(cfg.Server.Mode))
	s.router = gin.New()
	s.router.Use(gin.Recovery())
	routes.SetupRoutes(s.router, orc, store)

	return s, nil
}

func ginMode(mode string) string {
	switch mode {
	case gin.DebugMode, gin.TestMode:
		return mode
	default:
		return gin.ReleaseMode
	}
}

func (s *service) Run() error {
	addr := fmt.Sprintf(":%d", s.cfg.Server.Port)
	s.logger.Info("starting improver server", "port", s.cfg.Server.Port)
	defer func() {
		if err := s.store.Close(); err != nil {
			s.logger.Warn("graph store close error", "error", err)
		}
	}()
	return s.router.Run(addr)
}

func (s *service) Router() *gin.Engine {
	return s.router
}

func (s *service) Close() error {
	return s.store.Close()
}

var _ Service = (*service)(nil)
