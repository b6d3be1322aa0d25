// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package verify gates applied changes by re-running the repository's
// own test suite. A change that breaks the suite gets rolled back by
// the caller.
package verify

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// DefaultTimeout bounds one verification run.
const DefaultTimeout = 10 * time.Minute

// Report is the outcome of one verification run.
type Report struct {
	Runner   string        `json:"runner"`
	Passed   bool          `json:"passed"`
	Skipped  bool          `json:"skipped"`
	Duration time.Duration `json:"duration"`
	Output   string        `json:"output,omitempty"`
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithTimeout bounds the verification run.
func WithTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// Runner picks a test command from the repository layout and runs it.
type Runner struct {
	timeout time.Duration
	logger  *slog.Logger
}

// NewRunner creates a Runner with a ten minute timeout.
func NewRunner(opts ...RunnerOption) *Runner {
	r := &Runner{timeout: DefaultTimeout, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// commandFor picks the test runner by repository markers. Returns a
// nil slice when no known runner applies.
func commandFor(root string) []string {
	exists := func(name string) bool {
		_, err := os.Stat(filepath.Join(root, name))
		return err == nil
	}
	switch {
	case exists("pytest.ini") || exists("pyproject.toml") || exists("setup.py"):
		return []string{"pytest", "--quiet", "--color=no"}
	case exists("go.mod"):
		return []string{"go", "test", "./..."}
	case exists("package.json"):
		return []string{"npm", "test", "--silent"}
	default:
		return nil
	}
}

// Verify runs the repository's test suite. A repo with no recognizable
// runner, or a runner binary that is not installed, yields a skipped
// report rather than a failure.
func (r *Runner) Verify(ctx context.Context, root string) Report {
	args := commandFor(root)
	if args == nil {
		r.logger.Info("no test runner recognized, skipping verification",
			slog.String("root", root))
		return Report{Skipped: true}
	}
	if _, err := exec.LookPath(args[0]); err != nil {
		r.logger.Warn("test runner not installed",
			slog.String("runner", args[0]))
		return Report{Runner: args[0], Skipped: true}
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = root
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()

	report := Report{
		Runner:   args[0],
		Passed:   err == nil,
		Duration: time.Since(start),
		Output:   tail(out.String(), 4000),
	}
	r.logger.Info("verification finished",
		slog.String("runner", report.Runner),
		slog.Bool("passed", report.Passed),
		slog.Duration("duration", report.Duration))
	return report
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
