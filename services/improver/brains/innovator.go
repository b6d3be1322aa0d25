// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package brains holds the LLM-backed reasoning stages. The innovator
// reads a codebase summary plus analyzer findings and proposes concrete
// improvements.
package brains

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianForge/services/improver/core"
)

// ErrNoProposals is returned when the model answer carries no parsable
// proposal array.
var ErrNoProposals = errors.New("no parsable proposals in model output")

// TextGenerator is the narrow slice of the LLM client the brains use.
type TextGenerator interface {
	Generate(ctx context.Context, systemPrompt, prompt string) (string, error)
}

const innovatorSystemPrompt = `You are a senior software engineer reviewing a codebase.
Propose small, concrete, low-risk improvements.
Answer with a JSON array only. Each element has the fields:
title, description, rationale, acceptance_criteria (array of strings),
target_files (array of strings), risk_level (low|medium|high),
estimated_effort (small|medium|large).`

// Innovator proposes features and improvements from a codebase summary.
type Innovator struct {
	llm    TextGenerator
	logger *slog.Logger
}

// NewInnovator creates an Innovator. A nil logger falls back to
// slog.Default().
func NewInnovator(llm TextGenerator, logger *slog.Logger) *Innovator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Innovator{llm: llm, logger: logger}
}

// proposalPayload is the wire shape the model is asked for.
type proposalPayload struct {
	Title              string   `json:"title"`
	Description        string   `json:"description"`
	Rationale          string   `json:"rationale"`
	AcceptanceCriteria []string `json:"acceptance_criteria"`
	TargetFiles        []string `json:"target_files"`
	RiskLevel          string   `json:"risk_level"`
	EstimatedEffort    string   `json:"estimated_effort"`
}

// DiscoverFeatures prompts the model with the summary and the top
// findings, then parses the proposal array out of the answer. Models
// like to wrap JSON in prose, so parsing tolerates surrounding text.
func (in *Innovator) DiscoverFeatures(ctx context.Context, repoID uuid.UUID, summary string, findings []core.Finding) ([]core.FeatureProposal, error) {
	var b strings.Builder
	b.WriteString("Codebase summary:\n")
	b.WriteString(summary)
	if len(findings) > 0 {
		b.WriteString("\n\nKnown issues:\n")
		for i, f := range findings {
			if i >= 20 {
				break
			}
			fmt.Fprintf(&b, "- [%s/%s] %s (%s:%d)\n", f.Tool, f.Severity, f.Title, f.FilePath, f.StartLine)
		}
	}
	b.WriteString("\nPropose improvements.")

	answer, err := in.llm.Generate(ctx, innovatorSystemPrompt, b.String())
	if err != nil {
		return nil, fmt.Errorf("feature discovery: %w", err)
	}

	payloads, err := parseProposals(answer)
	if err != nil {
		return nil, err
	}

	proposals := make([]core.FeatureProposal, 0, len(payloads))
	for _, p := range payloads {
		if p.Title == "" {
			continue
		}
		proposals = append(proposals, core.FeatureProposal{
			ID:                 uuid.New(),
			RepoID:             repoID,
			Title:              p.Title,
			Description:        p.Description,
			Rationale:          p.Rationale,
			AcceptanceCriteria: p.AcceptanceCriteria,
			TargetFiles:        p.TargetFiles,
			RiskLevel:          core.Severity(strings.ToLower(p.RiskLevel)),
			EstimatedEffort:    p.EstimatedEffort,
			CreatedAt:          time.Now().UTC(),
		})
	}
	in.logger.Info("feature discovery produced proposals",
		slog.Int("count", len(proposals)))
	return proposals, nil
}

func parseProposals(answer string) ([]proposalPayload, error) {
	raw := ExtractJSONArray(answer)
	if raw == "" {
		return nil, ErrNoProposals
	}
	var payloads []proposalPayload
	if err := json.Unmarshal([]byte(raw), &payloads); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoProposals, err)
	}
	return payloads, nil
}

// ExtractJSONArray returns the first balanced top-level JSON array in
// s, or "" when none exists. Bracket counting ignores brackets inside
// string literals.
func ExtractJSONArray(s string) string {
	start := strings.IndexByte(s, '[')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
