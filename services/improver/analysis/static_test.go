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
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianForge/services/improver/core"
)

func TestParseRuff(t *testing.T) {
	out := []byte(`[
	  {"code": "F401", "message": "'os' imported but unused",
	   "filename": "app/main.py",
	   "location": {"row": 1, "column": 8},
	   "end_location": {"row": 1, "column": 10}}
	]`)
	repoID := uuid.New()

	findings, err := parseRuff(out, repoID)
	require.NoError(t, err)
	require.Len(t, findings, 1)

	f := findings[0]
	assert.Equal(t, "ruff", f.Tool)
	assert.Equal(t, "F401", f.RuleID)
	assert.Equal(t, "app/main.py", f.FilePath)
	assert.Equal(t, 1, f.StartLine)
	assert.Equal(t, repoID, f.RepoID)
}

func TestParseBanditSeverities(t *testing.T) {
	out := []byte(`{"results": [
	  {"filename": "a.py", "test_id": "B602", "issue_text": "subprocess with shell=True",
	   "issue_severity": "HIGH", "line_number": 12},
	  {"filename": "b.py", "test_id": "B110", "issue_text": "try/except/pass",
	   "issue_severity": "LOW", "line_number": 3}
	]}`)

	findings, err := parseBandit(out, uuid.New())
	require.NoError(t, err)
	require.Len(t, findings, 2)
	assert.Equal(t, core.SeverityHigh, findings[0].Severity)
	assert.Equal(t, core.SeverityLow, findings[1].Severity)
	assert.Equal(t, 12, findings[0].StartLine)
}

func TestParseESLintFlattensMessages(t *testing.T) {
	out := []byte(`[
	  {"filePath": "src/a.ts", "messages": [
	    {"ruleId": "no-unused-vars", "severity": 2, "message": "x is unused", "line": 4, "endLine": 4},
	    {"ruleId": "eqeqeq", "severity": 1, "message": "use ===", "line": 9, "endLine": 9}
	  ]},
	  {"filePath": "src/b.ts", "messages": []}
	]`)

	findings, err := parseESLint(out, uuid.New())
	require.NoError(t, err)
	require.Len(t, findings, 2)
	assert.Equal(t, core.SeverityMedium, findings[0].Severity)
	assert.Equal(t, core.SeverityLow, findings[1].Severity)
	assert.Equal(t, "eslint", findings[0].Tool)
}

func TestParseRuffRejectsGarbage(t *testing.T) {
	_, err := parseRuff([]byte("ruff exploded"), uuid.New())
	assert.Error(t, err)
}

func TestTail(t *testing.T) {
	assert.Equal(t, "short", tail("short", 100))
	assert.Equal(t, "cdef", tail("abcdef", 4))
}
