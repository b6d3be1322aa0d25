// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package modify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianForge/services/improver/brains"
	"github.com/AleutianAI/AleutianForge/services/improver/core"
)

// ErrNoPlan is returned when the model output carries no parsable plan.
var ErrNoPlan = errors.New("no parsable plan in model output")

const plannerSystemPrompt = `You are a careful refactoring assistant.
Given a proposal and the current content of its target files, produce a
minimal change plan. Answer with a JSON object only, with the fields:
title, description, risk_level (low|medium|high), estimated_effort
(small|medium|large), changes: array of {file_path, description,
replacement} where replacement is the complete new file content.`

// Planner turns proposals into concrete refactor plans.
type Planner struct {
	llm    brains.TextGenerator
	logger *slog.Logger
}

// NewPlanner creates a Planner. A nil logger falls back to
// slog.Default().
func NewPlanner(llm brains.TextGenerator, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{llm: llm, logger: logger}
}

type planPayload struct {
	Title           string `json:"title"`
	Description     string `json:"description"`
	RiskLevel       string `json:"risk_level"`
	EstimatedEffort string `json:"estimated_effort"`
	Changes         []struct {
		FilePath    string `json:"file_path"`
		Description string `json:"description"`
		Replacement string `json:"replacement"`
	} `json:"changes"`
}

// CreatePlan asks the model for a change plan implementing proposal
// against the given file contents (path to current content).
func (p *Planner) CreatePlan(ctx context.Context, proposal core.FeatureProposal, files map[string]string) (*core.RefactorPlan, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Proposal: %s\n%s\n", proposal.Title, proposal.Description)
	for path, content := range files {
		fmt.Fprintf(&b, "\n===== %s =====\n%s\n", path, content)
	}

	answer, err := p.llm.Generate(ctx, plannerSystemPrompt, b.String())
	if err != nil {
		return nil, fmt.Errorf("plan creation: %w", err)
	}

	raw := extractJSONObject(answer)
	if raw == "" {
		return nil, ErrNoPlan
	}
	var payload planPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoPlan, err)
	}
	if payload.Title == "" {
		payload.Title = proposal.Title
	}

	plan := &core.RefactorPlan{
		ID:              uuid.New(),
		RepoID:          proposal.RepoID,
		Title:           payload.Title,
		Description:     payload.Description,
		RiskLevel:       core.Severity(strings.ToLower(payload.RiskLevel)),
		EstimatedEffort: payload.EstimatedEffort,
		CreatedAt:       time.Now().UTC(),
	}
	for _, c := range payload.Changes {
		if c.FilePath == "" {
			continue
		}
		plan.TargetFiles = append(plan.TargetFiles, c.FilePath)
		plan.Changes = append(plan.Changes, core.PlannedChange{
			FilePath:    c.FilePath,
			Description: c.Description,
			Replacement: c.Replacement,
		})
	}
	p.logger.Info("created refactor plan",
		slog.String("title", plan.Title),
		slog.Int("changes", len(plan.Changes)))
	return plan, nil
}

// extractJSONObject returns the first balanced top-level JSON object
// in s, ignoring braces inside string literals.
func extractJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
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
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
