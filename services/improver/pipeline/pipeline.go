// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	sitter "github.com/smacker/go-tree-sitter"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianForge/services/improver/core"
	"github.com/AleutianAI/AleutianForge/services/improver/ingest"
	"github.com/AleutianAI/AleutianForge/services/improver/verify"
)

// ErrMissingDependency is returned by NewOrchestrator when a required
// collaborator is nil.
var ErrMissingDependency = errors.New("missing pipeline dependency")

// Stage progress milestones. Extraction interpolates between its
// bounds per finished file.
const (
	progressCloned       = 0.10
	progressIndexed      = 0.20
	progressExtractStart = 0.20
	progressExtractEnd   = 0.40
	progressStatic       = 0.50
	progressDynamic      = 0.60
	progressMutation     = 0.70
	progressProposals    = 0.80
	progressPlans        = 0.90
	progressApplied      = 0.95
)

// planLimit caps how many proposals get planned per job.
const planLimit = 3

// Narrow collaborator interfaces. The concrete implementations live in
// their own packages; the orchestrator only consumes these slices so
// tests can substitute fakes.

// RepoAcquirer checks a repository out and releases the working copy.
type RepoAcquirer interface {
	Clone(ctx context.Context, spec core.RepoSpec) (string, *ingest.RepoMetadata, error)
	Release(path string) error
}

// FileIndexer walks the working copy into parse units.
type FileIndexer interface {
	Index(ctx context.Context, root string, spec core.RepoSpec) ([]core.ParseUnit, error)
}

// TreeParser parses one unit's content into a syntax tree.
type TreeParser interface {
	Parse(ctx context.Context, unit *core.ParseUnit) error
}

// SymbolExtractor converts a tree into symbols and edges.
type SymbolExtractor interface {
	Extract(root *sitter.Node, src []byte, path string, lang core.Language, repoID uuid.UUID) ([]core.Symbol, []core.Edge)
}

// GraphWriter persists extraction output.
type GraphWriter interface {
	UpsertSymbol(ctx context.Context, sym *core.Symbol) error
	UpsertEdge(ctx context.Context, edge *core.Edge) error
}

// Analyzer produces findings from a working copy.
type Analyzer interface {
	Analyze(ctx context.Context, repoPath string, spec core.RepoSpec) []core.Finding
}

// FeatureDiscoverer proposes improvements from a codebase summary.
type FeatureDiscoverer interface {
	DiscoverFeatures(ctx context.Context, repoID uuid.UUID, summary string, findings []core.Finding) ([]core.FeatureProposal, error)
}

// ChangePlanner turns a proposal into a concrete plan.
type ChangePlanner interface {
	CreatePlan(ctx context.Context, proposal core.FeatureProposal, files map[string]string) (*core.RefactorPlan, error)
}

// ChangeApplier renders and writes patches.
type ChangeApplier interface {
	BuildPatches(root string, plan *core.RefactorPlan) ([]core.Patch, error)
	Apply(root string, patch *core.Patch) error
	Rollback(root string, patch *core.Patch) error
}

// Verifier re-runs the repository's test suite after an apply.
type Verifier interface {
	Verify(ctx context.Context, root string) verify.Report
}

// PRCreator opens a pull request for applied changes.
type PRCreator interface {
	Create(ctx context.Context, repoID uuid.UUID, owner, repo, head, base, title, body string) (*core.PRSummary, error)
}

// RunRecorder keeps cross-run history of what the pipeline produced:
// findings, proposals, plans and terminal outcomes. Recording is
// advisory; failures never fail the job.
type RunRecorder interface {
	SaveFindings(ctx context.Context, findings []core.Finding) error
	SaveProposals(ctx context.Context, proposals []core.FeatureProposal) error
	SavePlans(ctx context.Context, plans []core.RefactorPlan) error
	RecordOutcome(ctx context.Context, outcome *core.JobOutcome) error
}

// Options wires the orchestrator. Cloner, Indexer, Parser, Extractor
// and Graph are required; everything downstream of extraction is
// optional and skipped when nil.
type Options struct {
	Cloner     RepoAcquirer
	Indexer    FileIndexer
	Parser     TreeParser
	Extractor  SymbolExtractor
	Graph      GraphWriter
	Static     Analyzer
	Dynamic    Analyzer
	Mutation   Analyzer
	Memory     RunRecorder
	Discoverer FeatureDiscoverer
	Planner    ChangePlanner
	Applier    ChangeApplier
	Verifier   Verifier
	PRs        PRCreator

	// Summarize renders the discovery prompt context. Defaults to
	// brains.BuildCodebaseSummary via the cmd wiring.
	Summarize func(units []core.ParseUnit, symbolCount, edgeCount int) string

	// FileWorkers bounds extraction parallelism. Defaults to NumCPU.
	FileWorkers int

	Logger *slog.Logger
}

// Orchestrator drives jobs through the staged pipeline. One goroutine
// per running job; all job state flows through the registry.
type Orchestrator struct {
	opts     Options
	registry *Registry
	logger   *slog.Logger
}

// NewOrchestrator validates the wiring and creates an Orchestrator.
func NewOrchestrator(registry *Registry, opts Options) (*Orchestrator, error) {
	switch {
	case registry == nil:
		return nil, fmt.Errorf("%w: registry", ErrMissingDependency)
	case opts.Cloner == nil:
		return nil, fmt.Errorf("%w: cloner", ErrMissingDependency)
	case opts.Indexer == nil:
		return nil, fmt.Errorf("%w: indexer", ErrMissingDependency)
	case opts.Parser == nil:
		return nil, fmt.Errorf("%w: parser", ErrMissingDependency)
	case opts.Extractor == nil:
		return nil, fmt.Errorf("%w: extractor", ErrMissingDependency)
	case opts.Graph == nil:
		return nil, fmt.Errorf("%w: graph", ErrMissingDependency)
	}
	if opts.FileWorkers <= 0 {
		opts.FileWorkers = runtime.NumCPU()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	initMetrics()
	return &Orchestrator{opts: opts, registry: registry, logger: opts.Logger}, nil
}

// Registry exposes the job table for the HTTP layer.
func (o *Orchestrator) Registry() *Registry {
	return o.registry
}

// Submit registers a new job for spec and starts it in the background.
// The returned snapshot carries the job id to poll.
func (o *Orchestrator) Submit(spec core.RepoSpec, dryRun bool) (core.Job, error) {
	if err := spec.Validate(); err != nil {
		return core.Job{}, err
	}
	job := o.registry.Create("enhance", spec.ID)
	go o.run(job.ID, spec, dryRun)
	return job, nil
}

// cancelled checks the cooperative flag between stages and finalizes
// the job when set.
func (o *Orchestrator) cancelled(jobID uuid.UUID) bool {
	if !o.registry.cancelRequested(jobID) {
		return false
	}
	o.registry.markCancelled(jobID)
	jobsCancelled.Add(context.Background(), 1)
	return true
}

// run executes every stage for one job. Unhandled stage errors mark
// the job failed with the captured message; the working copy is
// released on every exit path.
func (o *Orchestrator) run(jobID uuid.UUID, spec core.RepoSpec, dryRun bool) {
	ctx, span := tracer.Start(context.Background(), "pipeline.run",
		trace.WithAttributes(
			attribute.String("job_id", jobID.String()),
			attribute.String("repo_id", spec.ID.String()),
			attribute.Bool("dry_run", dryRun),
		))
	defer span.End()

	o.registry.start(jobID)
	jobsStarted.Add(ctx, 1)

	fail := func(err error) {
		o.logger.Error("pipeline stage failed",
			slog.String("job_id", jobID.String()),
			slog.String("error", err.Error()))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.registry.fail(jobID, err.Error())
		jobsFailed.Add(ctx, 1)
		o.recordOutcome(ctx, jobID, spec, core.JobFailed, nil)
	}

	defer func() {
		if r := recover(); r != nil {
			fail(fmt.Errorf("panic: %v", r))
		}
	}()

	// Stage 1: acquire.
	repoPath, meta, err := o.opts.Cloner.Clone(ctx, spec)
	if err != nil {
		fail(fmt.Errorf("clone: %w", err))
		return
	}
	defer func() {
		if err := o.opts.Cloner.Release(repoPath); err != nil {
			o.logger.Warn("release failed",
				slog.String("path", repoPath),
				slog.String("error", err.Error()))
		}
	}()
	o.registry.setProgress(jobID, progressCloned)
	if o.cancelled(jobID) {
		return
	}

	// Stage 2: index.
	units, err := o.opts.Indexer.Index(ctx, repoPath, spec)
	if err != nil {
		fail(fmt.Errorf("index: %w", err))
		return
	}
	o.registry.setProgress(jobID, progressIndexed)
	if o.cancelled(jobID) {
		return
	}

	// Stage 3: extract into the graph, parallel across files.
	symbolCount, edgeCount, parsedFiles, err := o.extract(ctx, jobID, spec, units)
	if err != nil {
		fail(fmt.Errorf("extract: %w", err))
		return
	}
	o.registry.setProgress(jobID, progressExtractEnd)
	if o.cancelled(jobID) {
		return
	}

	result := map[string]any{
		"files_indexed": len(units),
		"files_parsed":  parsedFiles,
		"symbols":       symbolCount,
		"edges":         edgeCount,
	}
	if meta != nil {
		result["commit"] = meta.Commit
		result["branch"] = meta.Branch
	}

	// Stage 4: analysis.
	var findings []core.Finding
	if o.opts.Static != nil {
		findings = append(findings, o.opts.Static.Analyze(ctx, repoPath, spec)...)
	}
	o.registry.setProgress(jobID, progressStatic)
	if o.cancelled(jobID) {
		return
	}
	if o.opts.Dynamic != nil {
		findings = append(findings, o.opts.Dynamic.Analyze(ctx, repoPath, spec)...)
	}
	o.registry.setProgress(jobID, progressDynamic)
	if o.cancelled(jobID) {
		return
	}
	if o.opts.Mutation != nil {
		findings = append(findings, o.opts.Mutation.Analyze(ctx, repoPath, spec)...)
	}
	result["findings"] = findingSummaries(findings)
	if o.opts.Memory != nil && len(findings) > 0 {
		if err := o.opts.Memory.SaveFindings(ctx, findings); err != nil {
			o.logger.Warn("cannot persist findings",
				slog.String("job_id", jobID.String()),
				slog.String("error", err.Error()))
		}
	}
	o.registry.setProgress(jobID, progressMutation)
	if o.cancelled(jobID) {
		return
	}

	// Stage 5: discovery.
	var proposals []core.FeatureProposal
	if o.opts.Discoverer != nil && o.opts.Summarize != nil {
		summary := o.opts.Summarize(units, symbolCount, edgeCount)
		proposals, err = o.opts.Discoverer.DiscoverFeatures(ctx, spec.ID, summary, findings)
		if err != nil {
			// Discovery is advisory; log and move on with none.
			o.logger.Warn("feature discovery failed",
				slog.String("job_id", jobID.String()),
				slog.String("error", err.Error()))
		}
		result["proposals"] = proposalTitles(proposals)
		if o.opts.Memory != nil && len(proposals) > 0 {
			if err := o.opts.Memory.SaveProposals(ctx, proposals); err != nil {
				o.logger.Warn("cannot persist proposals",
					slog.String("job_id", jobID.String()),
					slog.String("error", err.Error()))
			}
		}
	}
	o.registry.setProgress(jobID, progressProposals)
	if o.cancelled(jobID) {
		return
	}

	// Stage 6: planning.
	var plans []*core.RefactorPlan
	if o.opts.Planner != nil {
		plans = o.plan(ctx, jobID, repoPath, proposals)
		result["plans"] = len(plans)
		if o.opts.Memory != nil && len(plans) > 0 {
			records := make([]core.RefactorPlan, 0, len(plans))
			for _, p := range plans {
				records = append(records, *p)
			}
			if err := o.opts.Memory.SavePlans(ctx, records); err != nil {
				o.logger.Warn("cannot persist plans",
					slog.String("job_id", jobID.String()),
					slog.String("error", err.Error()))
			}
		}
	}
	o.registry.setProgress(jobID, progressPlans)
	if o.cancelled(jobID) {
		return
	}

	// Stage 7: apply, verify, and open a PR. Skipped entirely for dry
	// runs.
	if !dryRun && o.opts.Applier != nil && len(plans) > 0 {
		applied, prURL := o.apply(ctx, spec, meta, repoPath, plans)
		result["patches_applied"] = applied
		if prURL != "" {
			result["pr_url"] = prURL
		}
	}
	o.registry.setProgress(jobID, progressApplied)
	if o.cancelled(jobID) {
		return
	}

	span.SetStatus(codes.Ok, "")
	o.registry.complete(jobID, result)
	jobsCompleted.Add(ctx, 1)
	o.recordOutcome(ctx, jobID, spec, core.JobCompleted, result)
}

// recordOutcome persists the run's terminal state for cross-run
// history.
func (o *Orchestrator) recordOutcome(ctx context.Context, jobID uuid.UUID, spec core.RepoSpec, status core.JobStatus, metrics map[string]any) {
	if o.opts.Memory == nil {
		return
	}
	outcome := &core.JobOutcome{
		RepoID:    spec.ID,
		JobID:     jobID,
		Kind:      "enhance",
		Status:    status,
		Metrics:   metrics,
		CreatedAt: time.Now().UTC(),
	}
	if err := o.opts.Memory.RecordOutcome(ctx, outcome); err != nil {
		o.logger.Warn("cannot record run outcome",
			slog.String("job_id", jobID.String()),
			slog.String("error", err.Error()))
	}
}

// extract parses every unit and stores its symbols and edges. Per-file
// failures are logged and skipped; file order within a file is
// preserved by upserting symbols before edges, sequentially per file.
func (o *Orchestrator) extract(ctx context.Context, jobID uuid.UUID, spec core.RepoSpec, units []core.ParseUnit) (int, int, int, error) {
	total := len(units)
	if total == 0 {
		return 0, 0, 0, nil
	}

	var symbols, edges, parsed, done atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.FileWorkers)
	for i := range units {
		unit := &units[i]
		g.Go(func() error {
			defer func() {
				finished := done.Add(1)
				width := progressExtractEnd - progressExtractStart
				o.registry.setProgress(jobID,
					progressExtractStart+width*float64(finished)/float64(total))
			}()

			if err := o.opts.Parser.Parse(gctx, unit); err != nil {
				if !errors.Is(err, ingest.ErrUnsupportedLanguage) {
					o.logger.Warn("parse failed",
						slog.String("file", unit.Path),
						slog.String("error", err.Error()))
				}
				fileFailures.Add(gctx, 1)
				return nil
			}
			defer func() {
				unit.Tree.Close()
				unit.Tree = nil
			}()

			syms, eds := o.opts.Extractor.Extract(
				unit.Tree.RootNode(), []byte(unit.Content), unit.Path, unit.Language, spec.ID)
			unit.Symbols = syms
			unit.Edges = eds

			for j := range syms {
				if err := o.opts.Graph.UpsertSymbol(gctx, &syms[j]); err != nil {
					return fmt.Errorf("store symbol %s: %w", syms[j].Name, err)
				}
			}
			for j := range eds {
				if err := o.opts.Graph.UpsertEdge(gctx, &eds[j]); err != nil {
					return fmt.Errorf("store edge %s: %w", eds[j].ID, err)
				}
			}

			symbols.Add(int64(len(syms)))
			edges.Add(int64(len(eds)))
			parsed.Add(1)
			filesExtracted.Add(gctx, 1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, 0, 0, err
	}
	return int(symbols.Load()), int(edges.Load()), int(parsed.Load()), nil
}

// plan creates refactor plans for the top proposals, reading target
// file contents from the working copy. Plan failures skip the
// proposal.
func (o *Orchestrator) plan(ctx context.Context, jobID uuid.UUID, repoPath string, proposals []core.FeatureProposal) []*core.RefactorPlan {
	var plans []*core.RefactorPlan
	for i, proposal := range proposals {
		if i >= planLimit {
			break
		}
		files := make(map[string]string, len(proposal.TargetFiles))
		for _, rel := range proposal.TargetFiles {
			content, err := os.ReadFile(filepath.Join(repoPath, filepath.FromSlash(rel)))
			if err != nil {
				continue
			}
			files[rel] = string(content)
		}
		plan, err := o.opts.Planner.CreatePlan(ctx, proposal, files)
		if err != nil {
			o.logger.Warn("planning failed",
				slog.String("job_id", jobID.String()),
				slog.String("proposal", proposal.Title),
				slog.String("error", err.Error()))
			continue
		}
		plans = append(plans, plan)
	}
	return plans
}

// apply writes each plan's patches, verifies the suite, and rolls the
// plan back when verification fails. Returns the number of applied
// patches and the PR URL when one was opened.
func (o *Orchestrator) apply(ctx context.Context, spec core.RepoSpec, meta *ingest.RepoMetadata, repoPath string, plans []*core.RefactorPlan) (int, string) {
	applied := 0
	var appliedTitles []string

	for _, plan := range plans {
		patches, err := o.opts.Applier.BuildPatches(repoPath, plan)
		if err != nil {
			o.logger.Warn("patch rendering failed",
				slog.String("plan", plan.Title),
				slog.String("error", err.Error()))
			continue
		}

		var written []*core.Patch
		ok := true
		for i := range patches {
			if err := o.opts.Applier.Apply(repoPath, &patches[i]); err != nil {
				o.logger.Warn("patch apply failed",
					slog.String("file", patches[i].FilePath),
					slog.String("error", err.Error()))
				ok = false
				break
			}
			written = append(written, &patches[i])
		}

		if ok && o.opts.Verifier != nil {
			report := o.opts.Verifier.Verify(ctx, repoPath)
			if !report.Skipped && !report.Passed {
				o.logger.Warn("verification failed, rolling plan back",
					slog.String("plan", plan.Title))
				ok = false
			}
		}

		if !ok {
			for i := len(written) - 1; i >= 0; i-- {
				if err := o.opts.Applier.Rollback(repoPath, written[i]); err != nil {
					o.logger.Error("rollback failed",
						slog.String("file", written[i].FilePath),
						slog.String("error", err.Error()))
				}
			}
			continue
		}
		applied += len(written)
		appliedTitles = append(appliedTitles, plan.Title)
	}

	prURL := ""
	if applied > 0 && o.opts.PRs != nil && meta != nil {
		owner, repo, ok := parseGitHubRepo(spec.URL)
		if ok {
			sum, err := o.opts.PRs.Create(ctx, spec.ID, owner, repo,
				meta.Branch, "main",
				"Automated improvements",
				"Applied plans:\n- "+strings.Join(appliedTitles, "\n- "))
			if err != nil {
				o.logger.Warn("pull request creation failed",
					slog.String("error", err.Error()))
			} else {
				prURL = sum.URL
			}
		}
	}
	return applied, prURL
}

// parseGitHubRepo extracts owner and repository from an https GitHub
// URL. Non-GitHub remotes return ok=false and skip the PR stage.
func parseGitHubRepo(rawURL string) (string, string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil || !strings.Contains(u.Host, "github") {
		return "", "", false
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 {
		return "", "", false
	}
	return parts[0], strings.TrimSuffix(parts[1], ".git"), true
}

func findingSummaries(findings []core.Finding) []string {
	out := make([]string, 0, len(findings))
	for _, f := range findings {
		out = append(out, fmt.Sprintf("[%s/%s] %s", f.Tool, f.Severity, f.Title))
	}
	return out
}

func proposalTitles(proposals []core.FeatureProposal) []string {
	out := make([]string, 0, len(proposals))
	for _, p := range proposals {
		out = append(out, p.Title)
	}
	return out
}
