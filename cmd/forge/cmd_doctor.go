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
	"os/exec"

	"github.com/spf13/cobra"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the external tools the pipeline shells out to",
	Long: `The pipeline invokes git for cloning and, when present, ruff,
bandit, pytest, mutmut and npx for analysis and verification. doctor
reports which of them are on PATH. Only git is required; the rest
degrade to skipped stages.`,
	Run: runDoctor,
}

type toolCheck struct {
	name     string
	required bool
	purpose  string
}

var doctorTools = []toolCheck{
	{"git", true, "repository cloning"},
	{"ruff", false, "python lint findings"},
	{"bandit", false, "python security findings"},
	{"pytest", false, "python test execution"},
	{"mutmut", false, "python mutation testing"},
	{"npx", false, "javascript lint and tests"},
	{"go", false, "go test execution"},
}

func runDoctor(cmd *cobra.Command, args []string) {
	missing := 0
	for _, tool := range doctorTools {
		path, err := exec.LookPath(tool.name)
		switch {
		case err == nil:
			fmt.Printf("  ok       %-8s %s (%s)\n", tool.name, path, tool.purpose)
		case tool.required:
			missing++
			fmt.Printf("  MISSING  %-8s required for %s\n", tool.name, tool.purpose)
		default:
			fmt.Printf("  absent   %-8s %s will be skipped\n", tool.name, tool.purpose)
		}
	}
	if missing > 0 {
		fmt.Println("\nrequired tools are missing; the pipeline cannot run")
	}
}
