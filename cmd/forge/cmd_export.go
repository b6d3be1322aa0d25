// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianForge/services/improver/graph"
)

var exportOut string

var exportCmd = &cobra.Command{
	Use:   "export [repo-id]",
	Short: "Export one repository's knowledge graph as GraphML",
	Long: `Opens the graph store from the config and writes the repository's
symbols and resolved relationships as a GraphML document. Writes to
stdout unless --out is given.`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVar(&exportOut, "out", "", "output file (default stdout)")
}

func runExport(cmd *cobra.Command, args []string) error {
	repoID, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid repo id %q: %w", args[0], err)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store := graph.New(graph.Config{
		DataDir:  cfg.Graph.DataDir,
		InMemory: cfg.Graph.InMemory,
	})
	ctx := context.Background()
	if err := store.Connect(ctx); err != nil {
		return fmt.Errorf("open graph store: %w", err)
	}
	defer func() { _ = store.Close() }()

	out := os.Stdout
	if exportOut != "" {
		f, err := os.Create(exportOut)
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		out = f
	}

	return store.Export(ctx, repoID, out)
}
