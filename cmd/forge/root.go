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
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianForge/services/improver/config"
)

var (
	configPath string

	rootCmd = &cobra.Command{
		Use:   "forge",
		Short: "A service that maps, analyzes, and improves codebases",
		Long: `Forge clones repositories, extracts their symbols and call
relationships into a knowledge graph, runs static and dynamic analysis,
and can propose, plan, and apply improvements.`,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"path to the forge YAML config file (env FORGE_* overrides it)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(doctorCmd)
}

// loadConfig resolves configuration for every subcommand.
func loadConfig() (config.Config, error) {
	return config.Load(configPath)
}
