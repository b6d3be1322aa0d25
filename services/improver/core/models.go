// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package core defines the data model shared by the improver service:
// parse units produced by ingestion, symbols and edges extracted from
// syntax trees, jobs tracked by the pipeline, and the payload types the
// downstream analysis and modification stages exchange.
//
// All identities are UUIDs. Spans are 1-based and end-exclusive. Symbols
// and edges carry a repo_id so one store can hold many repositories.
package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	sitter "github.com/smacker/go-tree-sitter"
)

// Language identifies a source language supported by the indexer.
type Language string

// Supported languages. Only Python, TypeScript and JavaScript have
// extraction heuristics today; the rest are indexed for statistics.
const (
	LangPython     Language = "python"
	LangTypeScript Language = "typescript"
	LangJavaScript Language = "javascript"
	LangGo         Language = "go"
	LangJava       Language = "java"
	LangRust       Language = "rust"
	LangC          Language = "c"
	LangCPP        Language = "cpp"
	LangCSharp     Language = "csharp"
)

// SymbolKind classifies an extracted symbol.
type SymbolKind string

const (
	KindFunction  SymbolKind = "function"
	KindMethod    SymbolKind = "method"
	KindClass     SymbolKind = "class"
	KindInterface SymbolKind = "interface"
	KindModule    SymbolKind = "module"
	KindPackage   SymbolKind = "package"
	KindVariable  SymbolKind = "variable"
	KindConstant  SymbolKind = "constant"
	KindParameter SymbolKind = "parameter"
	KindType      SymbolKind = "type"
	KindEnum      SymbolKind = "enum"
	KindStruct    SymbolKind = "struct"
	KindTrait     SymbolKind = "trait"
)

// EdgeKind classifies a relationship between symbols.
type EdgeKind string

const (
	EdgeCalls        EdgeKind = "calls"
	EdgeImports      EdgeKind = "imports"
	EdgeInherits     EdgeKind = "inherits"
	EdgeImplements   EdgeKind = "implements"
	EdgeReferences   EdgeKind = "references"
	EdgeDefines      EdgeKind = "defines"
	EdgeUses         EdgeKind = "uses"
	EdgeContains     EdgeKind = "contains"
	EdgeDependsOn    EdgeKind = "depends_on"
	EdgeInstantiates EdgeKind = "instantiates"
	EdgeThrows       EdgeKind = "throws"
	EdgeCatches      EdgeKind = "catches"
	EdgeOverrides    EdgeKind = "overrides"
	EdgeExtends      EdgeKind = "extends"
)

// Span is a half-open source range. Lines and columns are 1-based;
// End positions are exclusive.
type Span struct {
	StartLine int `json:"start_line"`
	EndLine   int `json:"end_line"`
	StartCol  int `json:"start_col"`
	EndCol    int `json:"end_col"`
}

// Valid reports whether the span is well formed.
func (s Span) Valid() bool {
	if s.StartLine < 1 || s.EndLine < s.StartLine {
		return false
	}
	if s.StartCol < 1 || s.EndCol < 1 {
		return false
	}
	if s.StartLine == s.EndLine && s.EndCol < s.StartCol {
		return false
	}
	return true
}

// Contains reports whether other lies entirely within s.
func (s Span) Contains(other Span) bool {
	if other.StartLine < s.StartLine || other.EndLine > s.EndLine {
		return false
	}
	if other.StartLine == s.StartLine && other.StartCol < s.StartCol {
		return false
	}
	if other.EndLine == s.EndLine && other.EndCol > s.EndCol {
		return false
	}
	return true
}

// Validation errors for model types.
var (
	ErrEmptyName    = errors.New("symbol name is empty")
	ErrEmptyPath    = errors.New("file path is empty")
	ErrInvalidSpan  = errors.New("invalid source span")
	ErrInvalidKind  = errors.New("invalid kind")
	ErrMissingRepo  = errors.New("repo id is unset")
	ErrInvalidURL   = errors.New("repository url must be https:// or git@")
	ErrEmptySource  = errors.New("edge source id is unset")
	ErrBadProgress  = errors.New("progress outside [0,1]")
)

// Symbol is a named code entity extracted from one file of one repository.
// ParentID links methods to their enclosing class. Attrs holds free-form
// extraction metadata such as parameter names or superclasses.
type Symbol struct {
	ID        uuid.UUID      `json:"id"`
	RepoID    uuid.UUID      `json:"repo_id"`
	Name      string         `json:"name"`
	Kind      SymbolKind     `json:"kind"`
	FilePath  string         `json:"file_path"`
	Language  Language       `json:"language"`
	Span      Span           `json:"span"`
	Docstring string         `json:"docstring,omitempty"`
	Signature string         `json:"signature,omitempty"`
	ParentID  *uuid.UUID     `json:"parent_id,omitempty"`
	Attrs     map[string]any `json:"attrs,omitempty"`
}

// Validate checks the structural invariants a symbol must satisfy before
// it may enter the graph store.
func (s *Symbol) Validate() error {
	if s.Name == "" {
		return ErrEmptyName
	}
	if s.FilePath == "" {
		return ErrEmptyPath
	}
	if s.RepoID == uuid.Nil {
		return ErrMissingRepo
	}
	if s.Kind == "" {
		return ErrInvalidKind
	}
	if !s.Span.Valid() {
		return fmt.Errorf("%w: %+v", ErrInvalidSpan, s.Span)
	}
	return nil
}

// StringParams returns the "parameters" attr as a string slice when
// present. Extraction stores parameter names there; queries over
// endpoint-like symbols read them back.
func (s *Symbol) StringParams() []string {
	raw, ok := s.Attrs["parameters"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, p := range v {
			if sp, ok := p.(string); ok {
				out = append(out, sp)
			}
		}
		return out
	}
	return nil
}

// Edge is a directed relationship between two symbols. TargetID is nil
// when the target could not be resolved inside the repository, for
// example an import of an external module; the module name then lives
// in Attrs.
type Edge struct {
	ID       uuid.UUID      `json:"id"`
	RepoID   uuid.UUID      `json:"repo_id"`
	SourceID uuid.UUID      `json:"source_id"`
	TargetID *uuid.UUID     `json:"target_id,omitempty"`
	Kind     EdgeKind       `json:"kind"`
	Attrs    map[string]any `json:"attrs,omitempty"`
}

// Validate checks the structural invariants an edge must satisfy.
func (e *Edge) Validate() error {
	if e.SourceID == uuid.Nil {
		return ErrEmptySource
	}
	if e.RepoID == uuid.Nil {
		return ErrMissingRepo
	}
	if e.Kind == "" {
		return ErrInvalidKind
	}
	return nil
}

// Resolved reports whether the edge points at a known symbol.
func (e *Edge) Resolved() bool {
	return e.TargetID != nil && *e.TargetID != uuid.Nil
}

// ParseUnit is one source file prepared for parsing: path relative to
// the repository root, detected language, raw content, and after the
// parse stage the syntax tree plus the symbols and edges extracted
// from it.
type ParseUnit struct {
	ID        uuid.UUID    `json:"id"`
	RepoID    uuid.UUID    `json:"repo_id"`
	Path      string       `json:"path"`
	Language  Language     `json:"language"`
	Content   string       `json:"content"`
	SizeBytes int          `json:"size_bytes"`
	ParsedAt  *time.Time   `json:"parsed_at,omitempty"`
	Tree      *sitter.Tree `json:"-"`
	Symbols   []Symbol     `json:"symbols,omitempty"`
	Edges     []Edge       `json:"edges,omitempty"`
}

// NewParseUnit builds a unit for one file, deriving the byte size from
// the content.
func NewParseUnit(repoID uuid.UUID, path string, lang Language, content string) ParseUnit {
	return ParseUnit{
		ID:        uuid.New(),
		RepoID:    repoID,
		Path:      path,
		Language:  lang,
		Content:   content,
		SizeBytes: len(content),
	}
}

// RepoSpec describes the repository a job operates on and how to scope
// the walk: which languages to keep, which subtrees to include, and
// which paths to exclude.
type RepoSpec struct {
	ID              uuid.UUID  `json:"id"`
	URL             string     `json:"url"`
	Branch          string     `json:"branch,omitempty"`
	Commit          string     `json:"commit,omitempty"`
	Languages       []Language `json:"languages,omitempty"`
	Paths           []string   `json:"paths,omitempty"`
	ExcludePatterns []string   `json:"exclude_patterns,omitempty"`
}

// Validate checks that the spec identifies a cloneable repository.
// file:// URLs are accepted for local mirrors and tests.
func (r *RepoSpec) Validate() error {
	if r.ID == uuid.Nil {
		return ErrMissingRepo
	}
	for _, prefix := range []string{"https://", "git@", "file://"} {
		if strings.HasPrefix(r.URL, prefix) {
			return nil
		}
	}
	return ErrInvalidURL
}

// WantsLanguage reports whether lang is in scope for this spec. An
// empty language list means every supported language.
func (r *RepoSpec) WantsLanguage(lang Language) bool {
	if len(r.Languages) == 0 {
		return true
	}
	for _, l := range r.Languages {
		if l == lang {
			return true
		}
	}
	return false
}

// JobStatus is the lifecycle state of a pipeline job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Terminal reports whether the status is final. Terminal jobs never
// change state again.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// Job tracks one pipeline execution. Progress moves monotonically from
// 0 to 1. Result carries stage summaries for completed jobs;
// ErrorMessage carries the failure cause for failed ones.
type Job struct {
	ID           uuid.UUID      `json:"id"`
	Kind         string         `json:"kind"`
	RepoID       uuid.UUID      `json:"repo_id"`
	Status       JobStatus      `json:"status"`
	Progress     float64        `json:"progress"`
	CreatedAt    time.Time      `json:"created_at"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Result       map[string]any `json:"result,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Clone returns a deep enough copy for handing snapshots across
// goroutine boundaries. Maps are copied one level deep.
func (j *Job) Clone() Job {
	out := *j
	if j.Result != nil {
		out.Result = make(map[string]any, len(j.Result))
		for k, v := range j.Result {
			out.Result[k] = v
		}
	}
	if j.Metadata != nil {
		out.Metadata = make(map[string]any, len(j.Metadata))
		for k, v := range j.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// Severity grades findings and plan risk.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Finding is one issue reported by a static or dynamic analyzer.
type Finding struct {
	ID          uuid.UUID `json:"id"`
	RepoID      uuid.UUID `json:"repo_id"`
	Tool        string    `json:"tool"`
	RuleID      string    `json:"rule_id,omitempty"`
	Severity    Severity  `json:"severity"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	FilePath    string    `json:"file_path,omitempty"`
	StartLine   int       `json:"start_line,omitempty"`
	EndLine     int       `json:"end_line,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// FeatureProposal is a candidate improvement produced by the discovery
// stage.
type FeatureProposal struct {
	ID                 uuid.UUID `json:"id"`
	RepoID             uuid.UUID `json:"repo_id"`
	Title              string    `json:"title"`
	Description        string    `json:"description"`
	Rationale          string    `json:"rationale,omitempty"`
	AcceptanceCriteria []string  `json:"acceptance_criteria,omitempty"`
	TargetFiles        []string  `json:"target_files,omitempty"`
	RiskLevel          Severity  `json:"risk_level,omitempty"`
	EstimatedEffort    string    `json:"estimated_effort,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

// PlannedChange is one file-level change inside a refactor plan.
type PlannedChange struct {
	FilePath    string `json:"file_path"`
	Description string `json:"description"`
	Replacement string `json:"replacement,omitempty"`
}

// RefactorPlan is an ordered set of changes addressing a proposal or a
// group of findings.
type RefactorPlan struct {
	ID              uuid.UUID       `json:"id"`
	RepoID          uuid.UUID       `json:"repo_id"`
	Title           string          `json:"title"`
	Description     string          `json:"description,omitempty"`
	TargetFiles     []string        `json:"target_files,omitempty"`
	RiskLevel       Severity        `json:"risk_level,omitempty"`
	EstimatedEffort string          `json:"estimated_effort,omitempty"`
	Changes         []PlannedChange `json:"changes,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Patch is the concrete rewrite of one file: original and modified
// content plus the unified diff between them.
type Patch struct {
	ID        uuid.UUID  `json:"id"`
	RepoID    uuid.UUID  `json:"repo_id"`
	PlanID    *uuid.UUID `json:"plan_id,omitempty"`
	FilePath  string     `json:"file_path"`
	Original  string     `json:"original"`
	Modified  string     `json:"modified"`
	Diff      string     `json:"diff"`
	Applied   bool       `json:"applied"`
	AppliedAt *time.Time `json:"applied_at,omitempty"`
}

// JobOutcome is the durable record of how one pipeline run ended.
// Outcomes accumulate across runs so per-repository success rates can
// be computed later.
type JobOutcome struct {
	ID        uuid.UUID      `json:"id"`
	RepoID    uuid.UUID      `json:"repo_id"`
	JobID     uuid.UUID      `json:"job_id"`
	Kind      string         `json:"kind"`
	Status    JobStatus      `json:"status"`
	Metrics   map[string]any `json:"metrics,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// PRSummary records a pull request opened for applied changes.
type PRSummary struct {
	ID          uuid.UUID `json:"id"`
	RepoID      uuid.UUID `json:"repo_id"`
	Number      int       `json:"number"`
	URL         string    `json:"url"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
