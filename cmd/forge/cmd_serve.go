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
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianForge/pkg/logging"
	"github.com/AleutianAI/AleutianForge/services/improver"
)

var logDir string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the improver HTTP server",
	Long: `Starts the HTTP API: job submission, job status, graph queries,
and GraphML export/import. Blocks until the server stops.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&logDir, "log-dir", "",
		"directory for JSON log files (empty disables file logging)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.Logging.Level),
		LogDir:  logDir,
		Service: "improver",
		JSON:    cfg.Logging.Format == "json",
	})
	defer func() { _ = logger.Close() }()
	slog.SetDefault(logger.Slog())

	svc, err := improver.New(cfg, logger.Slog())
	if err != nil {
		return fmt.Errorf("initialize service: %w", err)
	}

	return svc.Run()
}
