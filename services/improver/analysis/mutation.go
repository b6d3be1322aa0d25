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
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianForge/services/improver/core"
)

// DefaultMutationTimeout bounds one mutation run. Mutation testing
// re-runs the suite once per mutant, so this is far above the other
// tool timeouts.
const DefaultMutationTimeout = 10 * time.Minute

// lowScoreThreshold is the mutation score below which a summary
// finding is raised.
const lowScoreThreshold = 0.8

// MutationOption configures a MutationPipeline.
type MutationOption func(*MutationPipeline)

// WithMutationTimeout bounds the mutation run.
func WithMutationTimeout(d time.Duration) MutationOption {
	return func(p *MutationPipeline) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithMutationLogger sets the logger.
func WithMutationLogger(logger *slog.Logger) MutationOption {
	return func(p *MutationPipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// MutationPipeline gauges test suite effectiveness by running mutmut
// over Python working copies. Survived mutants become findings, and a
// low overall score raises a summary finding. Like the other analysis
// pipelines it is strictly best-effort.
type MutationPipeline struct {
	timeout time.Duration
	logger  *slog.Logger
}

// NewMutationPipeline creates a pipeline with default timeouts.
func NewMutationPipeline(opts ...MutationOption) *MutationPipeline {
	p := &MutationPipeline{timeout: DefaultMutationTimeout, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// mutationStats aggregates one mutmut run.
type mutationStats struct {
	total    int
	killed   int
	timedOut int
}

func (m mutationStats) survived() int {
	return m.total - m.killed - m.timedOut
}

func (m mutationStats) score() float64 {
	if m.total == 0 {
		return 0
	}
	return float64(m.killed) / float64(m.total)
}

// Analyze runs mutmut for Python repositories. A missing binary or an
// unparseable report contributes no findings.
func (p *MutationPipeline) Analyze(ctx context.Context, repoPath string, spec core.RepoSpec) []core.Finding {
	if !spec.WantsLanguage(core.LangPython) {
		return nil
	}
	if _, err := exec.LookPath("mutmut"); err != nil {
		p.logger.Debug("mutmut not installed, skipping mutation testing")
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if _, err := p.run(ctx, repoPath, "run", "--paths-to-mutate", "."); err != nil {
		// mutmut exits nonzero when mutants survive; the results call
		// below decides whether the run produced anything usable.
		p.logger.Debug("mutmut run exited nonzero", slog.String("error", err.Error()))
	}

	resultsOut, err := p.run(ctx, repoPath, "results")
	if err != nil {
		p.logger.Warn("cannot read mutmut results", slog.String("error", err.Error()))
		return nil
	}
	stats, ok := parseMutmutStats(resultsOut)
	if !ok || stats.total == 0 {
		p.logger.Info("mutation testing produced no mutants", slog.String("repo_path", repoPath))
		return nil
	}

	var findings []core.Finding
	if stats.survived() > 0 {
		showOut, err := p.run(ctx, repoPath, "show", "all")
		if err != nil {
			p.logger.Warn("cannot read survived mutants", slog.String("error", err.Error()))
		} else {
			findings = append(findings, parseSurvivedMutants(showOut, spec.ID)...)
		}
	}

	if score := stats.score(); score < lowScoreThreshold {
		severity := core.SeverityHigh
		if score > 0.5 {
			severity = core.SeverityMedium
		}
		findings = append(findings, core.Finding{
			ID:       uuid.New(),
			RepoID:   spec.ID,
			Tool:     "mutmut",
			Severity: severity,
			Title:    "low mutation testing score",
			Description: "the mutation score is " + strconv.FormatFloat(score*100, 'f', 1, 64) +
				"%, indicating gaps in test coverage (" +
				strconv.Itoa(stats.killed) + "/" + strconv.Itoa(stats.total) + " mutants killed)",
			CreatedAt: time.Now().UTC(),
		})
	}

	p.logger.Info("mutation testing finished",
		slog.String("repo_path", repoPath),
		slog.Int("total_mutants", stats.total),
		slog.Int("survived", stats.survived()),
		slog.Int("findings", len(findings)))
	return findings
}

func (p *MutationPipeline) run(ctx context.Context, dir string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "mutmut", args...)
	cmd.Dir = dir
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	err := cmd.Run()
	return stdout.Bytes(), err
}

// parseMutmutStats reads the totals line out of a mutmut results
// report. The line reads "To kill a mutant ... <total> ... <killed>
// ... <timeout> ..."; survived mutants are derived from the rest.
func parseMutmutStats(out []byte) (mutationStats, bool) {
	for _, line := range strings.Split(string(out), "\n") {
		if !strings.HasPrefix(line, "To kill a mutant") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 10 {
			continue
		}
		total, err1 := strconv.Atoi(parts[4])
		killed, err2 := strconv.Atoi(parts[6])
		timedOut, err3 := strconv.Atoi(parts[8])
		if err1 != nil || err2 != nil || err3 != nil {
			continue
		}
		return mutationStats{total: total, killed: killed, timedOut: timedOut}, true
	}
	return mutationStats{}, false
}

// parseSurvivedMutants maps "mutmut show all" output onto findings.
// Files are announced as "#path" headers, mutants as "- type:line"
// entries underneath.
func parseSurvivedMutants(out []byte, repoID uuid.UUID) []core.Finding {
	var findings []core.Finding
	currentFile := ""
	for _, line := range strings.Split(string(out), "\n") {
		switch {
		case strings.HasPrefix(line, "#"):
			currentFile = strings.TrimSpace(line[1:])
		case strings.HasPrefix(line, "- "):
			mutantType, lineNo, ok := strings.Cut(line[2:], ":")
			if !ok {
				continue
			}
			mutantType = strings.TrimSpace(mutantType)
			start, _ := strconv.Atoi(strings.TrimSpace(lineNo))
			findings = append(findings, core.Finding{
				ID:       uuid.New(),
				RepoID:   repoID,
				Tool:     "mutmut",
				Severity: core.SeverityMedium,
				Title:    "survived mutant: " + mutantType,
				Description: "a mutant of type '" + mutantType +
					"' survived the test suite, indicating a coverage gap",
				FilePath:  currentFile,
				StartLine: start,
				EndLine:   start,
				CreatedAt: time.Now().UTC(),
			})
		}
	}
	return findings
}
