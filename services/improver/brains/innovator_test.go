// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package brains

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianForge/services/improver/core"
)

type fakeGenerator struct {
	answer string
	err    error
	prompt string
}

func (f *fakeGenerator) Generate(_ context.Context, _ string, prompt string) (string, error) {
	f.prompt = prompt
	return f.answer, f.err
}

func TestDiscoverFeaturesParsesWrappedJSON(t *testing.T) {
	gen := &fakeGenerator{answer: `Here are my suggestions:
[
  {"title": "Add request validation", "description": "Validate payloads",
   "rationale": "create_user takes raw input",
   "acceptance_criteria": ["rejects empty body"],
   "target_files": ["api.py"], "risk_level": "Low", "estimated_effort": "small"}
]
Hope this helps!`}

	in := NewInnovator(gen, nil)
	repoID := uuid.New()
	proposals, err := in.DiscoverFeatures(context.Background(), repoID, "summary", nil)
	require.NoError(t, err)
	require.Len(t, proposals, 1)

	p := proposals[0]
	assert.Equal(t, "Add request validation", p.Title)
	assert.Equal(t, core.SeverityLow, p.RiskLevel)
	assert.Equal(t, []string{"api.py"}, p.TargetFiles)
	assert.Equal(t, repoID, p.RepoID)
}

func TestDiscoverFeaturesIncludesFindingsInPrompt(t *testing.T) {
	gen := &fakeGenerator{answer: `[]`}
	in := NewInnovator(gen, nil)

	findings := []core.Finding{{
		Tool: "bandit", Severity: core.SeverityHigh,
		Title: "shell injection", FilePath: "run.py", StartLine: 12,
	}}
	_, err := in.DiscoverFeatures(context.Background(), uuid.New(), "summary", findings)
	require.NoError(t, err)
	assert.Contains(t, gen.prompt, "shell injection")
	assert.Contains(t, gen.prompt, "run.py")
}

func TestDiscoverFeaturesNoArray(t *testing.T) {
	gen := &fakeGenerator{answer: "I cannot help with that."}
	in := NewInnovator(gen, nil)
	_, err := in.DiscoverFeatures(context.Background(), uuid.New(), "summary", nil)
	assert.ErrorIs(t, err, ErrNoProposals)
}

func TestExtractJSONArray(t *testing.T) {
	assert.Equal(t, `[1, 2, [3]]`, ExtractJSONArray(`noise [1, 2, [3]] trailing`))
	assert.Equal(t, `["a ] b"]`, ExtractJSONArray(`["a ] b"]`), "brackets inside strings ignored")
	assert.Equal(t, "", ExtractJSONArray("no array here"))
	assert.Equal(t, "", ExtractJSONArray("[unbalanced"))
}

func TestBuildCodebaseSummary(t *testing.T) {
	repoID := uuid.New()
	units := []core.ParseUnit{
		core.NewParseUnit(repoID, "a.py", core.LangPython, "x = 1\n"),
		core.NewParseUnit(repoID, "b.py", core.LangPython, "y = 2\n"),
		core.NewParseUnit(repoID, "c.ts", core.LangTypeScript, "let z = 3\n"),
	}

	summary := BuildCodebaseSummary(units, 12, 7)
	assert.Contains(t, summary, "3 source files")
	assert.Contains(t, summary, "python: 2 files")
	assert.Contains(t, summary, "typescript: 1 files")
	assert.Contains(t, summary, "12 symbols, 7 edges")
	assert.Contains(t, summary, "a.py")
}
