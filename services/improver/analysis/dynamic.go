// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analysis

import (
	"bytes"
	"context"
	"log/slog"
	"os/exec"
	"regexp"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianForge/services/improver/core"
)

// DefaultTestTimeout bounds one test-suite probe.
const DefaultTestTimeout = 10 * time.Minute

// DynamicOption configures a DynamicPipeline.
type DynamicOption func(*DynamicPipeline)

// WithTestTimeout bounds the test-suite probe.
func WithTestTimeout(d time.Duration) DynamicOption {
	return func(p *DynamicPipeline) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithDynamicLogger sets the logger.
func WithDynamicLogger(logger *slog.Logger) DynamicOption {
	return func(p *DynamicPipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// DynamicPipeline probes a working copy by running its test suite and
// converting failures into findings. Like the static pipeline it is
// strictly best-effort.
type DynamicPipeline struct {
	timeout time.Duration
	logger  *slog.Logger
}

// NewDynamicPipeline creates a pipeline with default timeouts.
func NewDynamicPipeline(opts ...DynamicOption) *DynamicPipeline {
	p := &DynamicPipeline{timeout: DefaultTestTimeout, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

var pytestFailures = regexp.MustCompile(`(\d+) failed`)

// Analyze runs the pytest probe for Python repositories. Absent test
// runners or green suites contribute no findings.
func (p *DynamicPipeline) Analyze(ctx context.Context, repoPath string, spec core.RepoSpec) []core.Finding {
	if !spec.WantsLanguage(core.LangPython) {
		return nil
	}
	if _, err := exec.LookPath("pytest"); err != nil {
		p.logger.Debug("pytest not installed, skipping dynamic analysis")
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "pytest", "--quiet", "--color=no")
	cmd.Dir = repoPath
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	if err == nil {
		p.logger.Info("test suite passed", slog.String("repo_path", repoPath))
		return nil
	}

	failed := 0
	if m := pytestFailures.FindSubmatch(out.Bytes()); m != nil {
		failed, _ = strconv.Atoi(string(m[1]))
	}
	title := "test suite failed"
	if failed > 0 {
		title = strconv.Itoa(failed) + " test(s) failed"
	}

	return []core.Finding{{
		ID:          uuid.New(),
		RepoID:      spec.ID,
		Tool:        "pytest",
		Severity:    core.SeverityHigh,
		Title:       title,
		Description: tail(out.String(), 2000),
		CreatedAt:   time.Now().UTC(),
	}}
}

// tail keeps the last n bytes of s; test output ends with the summary.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
