// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package analysis runs external analyzers over a working copy and
// maps their JSON reports onto findings. Every analyzer is optional:
// a missing binary downgrades to a log line, never a stage failure.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianForge/services/improver/core"
)

// DefaultToolTimeout bounds one analyzer invocation.
const DefaultToolTimeout = 2 * time.Minute

// StaticOption configures a StaticPipeline.
type StaticOption func(*StaticPipeline)

// WithToolTimeout bounds each analyzer run.
func WithToolTimeout(d time.Duration) StaticOption {
	return func(p *StaticPipeline) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithStaticLogger sets the logger.
func WithStaticLogger(logger *slog.Logger) StaticOption {
	return func(p *StaticPipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// StaticPipeline shells out to ruff and bandit for Python and eslint
// for TypeScript/JavaScript.
type StaticPipeline struct {
	timeout time.Duration
	logger  *slog.Logger
}

// NewStaticPipeline creates a pipeline with default timeouts.
func NewStaticPipeline(opts ...StaticOption) *StaticPipeline {
	p := &StaticPipeline{timeout: DefaultToolTimeout, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Analyze runs every applicable analyzer and returns the merged
// findings. Analyzer failures are logged and skipped.
func (p *StaticPipeline) Analyze(ctx context.Context, repoPath string, spec core.RepoSpec) []core.Finding {
	var findings []core.Finding

	if spec.WantsLanguage(core.LangPython) {
		findings = append(findings, p.runRuff(ctx, repoPath, spec.ID)...)
		findings = append(findings, p.runBandit(ctx, repoPath, spec.ID)...)
	}
	if spec.WantsLanguage(core.LangTypeScript) || spec.WantsLanguage(core.LangJavaScript) {
		findings = append(findings, p.runESLint(ctx, repoPath, spec.ID)...)
	}

	p.logger.Info("static analysis finished",
		slog.String("repo_path", repoPath),
		slog.Int("findings", len(findings)))
	return findings
}

// run executes one analyzer and returns its stdout. Lint tools exit
// nonzero when they find issues, so only a missing binary or an empty
// report counts as a skip.
func (p *StaticPipeline) run(ctx context.Context, dir, name string, args ...string) []byte {
	if _, err := exec.LookPath(name); err != nil {
		p.logger.Debug("analyzer not installed", slog.String("tool", name))
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil && stdout.Len() == 0 {
		p.logger.Warn("analyzer produced no output",
			slog.String("tool", name),
			slog.String("error", err.Error()))
		return nil
	}
	return stdout.Bytes()
}

func (p *StaticPipeline) runRuff(ctx context.Context, dir string, repoID uuid.UUID) []core.Finding {
	out := p.run(ctx, dir, "ruff", "check", "--output-format=json", ".")
	if len(out) == 0 {
		return nil
	}
	findings, err := parseRuff(out, repoID)
	if err != nil {
		p.logger.Warn("cannot parse ruff output", slog.String("error", err.Error()))
		return nil
	}
	return findings
}

func (p *StaticPipeline) runBandit(ctx context.Context, dir string, repoID uuid.UUID) []core.Finding {
	out := p.run(ctx, dir, "bandit", "-r", "-f", "json", "-q", ".")
	if len(out) == 0 {
		return nil
	}
	findings, err := parseBandit(out, repoID)
	if err != nil {
		p.logger.Warn("cannot parse bandit output", slog.String("error", err.Error()))
		return nil
	}
	return findings
}

func (p *StaticPipeline) runESLint(ctx context.Context, dir string, repoID uuid.UUID) []core.Finding {
	out := p.run(ctx, dir, "npx", "--no-install", "eslint", "-f", "json", ".")
	if len(out) == 0 {
		return nil
	}
	findings, err := parseESLint(out, repoID)
	if err != nil {
		p.logger.Warn("cannot parse eslint output", slog.String("error", err.Error()))
		return nil
	}
	return findings
}

type ruffDiagnostic struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Filename string `json:"filename"`
	Location struct {
		Row int `json:"row"`
	} `json:"location"`
	EndLocation struct {
		Row int `json:"row"`
	} `json:"end_location"`
}

func parseRuff(out []byte, repoID uuid.UUID) ([]core.Finding, error) {
	var diags []ruffDiagnostic
	if err := json.Unmarshal(out, &diags); err != nil {
		return nil, err
	}
	findings := make([]core.Finding, 0, len(diags))
	for _, d := range diags {
		findings = append(findings, core.Finding{
			ID:        uuid.New(),
			RepoID:    repoID,
			Tool:      "ruff",
			RuleID:    d.Code,
			Severity:  core.SeverityLow,
			Title:     d.Message,
			FilePath:  filepath.ToSlash(d.Filename),
			StartLine: d.Location.Row,
			EndLine:   d.EndLocation.Row,
			CreatedAt: time.Now().UTC(),
		})
	}
	return findings, nil
}

type banditReport struct {
	Results []struct {
		Filename      string `json:"filename"`
		TestID        string `json:"test_id"`
		IssueText     string `json:"issue_text"`
		IssueSeverity string `json:"issue_severity"`
		LineNumber    int    `json:"line_number"`
	} `json:"results"`
}

func parseBandit(out []byte, repoID uuid.UUID) ([]core.Finding, error) {
	var report banditReport
	if err := json.Unmarshal(out, &report); err != nil {
		return nil, err
	}
	findings := make([]core.Finding, 0, len(report.Results))
	for _, r := range report.Results {
		findings = append(findings, core.Finding{
			ID:        uuid.New(),
			RepoID:    repoID,
			Tool:      "bandit",
			RuleID:    r.TestID,
			Severity:  banditSeverity(r.IssueSeverity),
			Title:     r.IssueText,
			FilePath:  filepath.ToSlash(r.Filename),
			StartLine: r.LineNumber,
			EndLine:   r.LineNumber,
			CreatedAt: time.Now().UTC(),
		})
	}
	return findings, nil
}

func banditSeverity(s string) core.Severity {
	switch strings.ToUpper(s) {
	case "HIGH":
		return core.SeverityHigh
	case "MEDIUM":
		return core.SeverityMedium
	case "LOW":
		return core.SeverityLow
	default:
		return core.SeverityInfo
	}
}

type eslintFile struct {
	FilePath string `json:"filePath"`
	Messages []struct {
		RuleID   string `json:"ruleId"`
		Severity int    `json:"severity"`
		Message  string `json:"message"`
		Line     int    `json:"line"`
		EndLine  int    `json:"endLine"`
	} `json:"messages"`
}

func parseESLint(out []byte, repoID uuid.UUID) ([]core.Finding, error) {
	var files []eslintFile
	if err := json.Unmarshal(out, &files); err != nil {
		return nil, err
	}
	var findings []core.Finding
	for _, f := range files {
		for _, m := range f.Messages {
			severity := core.SeverityLow
			if m.Severity >= 2 {
				severity = core.SeverityMedium
			}
			findings = append(findings, core.Finding{
				ID:        uuid.New(),
				RepoID:    repoID,
				Tool:      "eslint",
				RuleID:    m.RuleID,
				Severity:  severity,
				Title:     m.Message,
				FilePath:  filepath.ToSlash(f.FilePath),
				StartLine: m.Line,
				EndLine:   m.EndLine,
				CreatedAt: time.Now().UTC(),
			})
		}
	}
	return findings, nil
}
