// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package modify plans and applies source changes: an LLM-backed
// planner produces per-file rewrites, a diff layer renders and
// validates unified diffs, and the applier writes them into a working
// copy with drift checks.
package modify

import (
	"fmt"
	"strings"

	"github.com/sourcegraph/go-diff/diff"
)

// diffContext is the number of unchanged lines kept around each hunk.
const diffContext = 3

type opKind byte

const (
	opEqual  opKind = ' '
	opDelete opKind = '-'
	opInsert opKind = '+'
)

type lineOp struct {
	kind opKind
	line string
}

// noNewlineMarker flags a final line without a trailing newline, per
// the unified diff convention.
const noNewlineMarker = "\\ No newline at end of file\n"

// UnifiedDiff renders the unified diff between two versions of one
// file, with standard a/ b/ prefixes and three lines of context.
// Identical contents yield "". Files whose last line has no trailing
// newline get the conventional backslash marker.
func UnifiedDiff(path, original, modified string) string {
	if original == modified {
		return ""
	}
	ops := diffOps(splitLines(original), splitLines(modified))

	aNoEOL := original != "" && !strings.HasSuffix(original, "\n")
	bNoEOL := modified != "" && !strings.HasSuffix(modified, "\n")

	// The line split normalizes the trailing newline away. When only
	// one side ends without it, the shared last line must become an
	// explicit rewrite or the change would vanish from the hunks.
	if aNoEOL != bNoEOL && len(ops) > 0 {
		if last := ops[len(ops)-1]; last.kind == opEqual {
			ops = append(ops[:len(ops)-1],
				lineOp{opDelete, last.line},
				lineOp{opInsert, last.line})
		}
	}

	// Positions of the ops that consume the final line of each side,
	// where the no-newline markers belong.
	lastA, lastB := -1, -1
	for k, op := range ops {
		if op.kind != opInsert {
			lastA = k
		}
		if op.kind != opDelete {
			lastB = k
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "--- a/%s\n+++ b/%s\n", path, path)

	i := 0
	aLine, bLine := 1, 1
	for i < len(ops) {
		if ops[i].kind == opEqual {
			aLine++
			bLine++
			i++
			continue
		}

		// Back up into leading context.
		start := i - diffContext
		if start < 0 {
			start = 0
		}
		hunkA := aLine - (i - start)
		hunkB := bLine - (i - start)

		// Extend until a gap of more than two context windows of
		// unchanged lines separates the next change.
		end := i + 1
		equals := 0
		for j := i + 1; j < len(ops); j++ {
			if ops[j].kind == opEqual {
				equals++
				if equals > 2*diffContext {
					break
				}
			} else {
				equals = 0
				end = j + 1
			}
		}
		stop := end + diffContext
		if stop > len(ops) {
			stop = len(ops)
		}

		aCount, bCount := 0, 0
		var body strings.Builder
		for k := start; k < stop; k++ {
			switch ops[k].kind {
			case opEqual:
				aCount++
				bCount++
			case opDelete:
				aCount++
			case opInsert:
				bCount++
			}
			body.WriteByte(byte(ops[k].kind))
			body.WriteString(ops[k].line)
			body.WriteByte('\n')
			switch {
			case k == lastA && ops[k].kind != opInsert && aNoEOL:
				body.WriteString(noNewlineMarker)
			case k == lastB && ops[k].kind == opInsert && bNoEOL:
				body.WriteString(noNewlineMarker)
			}
		}
		fmt.Fprintf(&sb, "@@ -%d,%d +%d,%d @@\n", hunkA, aCount, hunkB, bCount)
		sb.WriteString(body.String())

		for k := i; k < stop; k++ {
			switch ops[k].kind {
			case opEqual:
				aLine++
				bLine++
			case opDelete:
				aLine++
			case opInsert:
				bLine++
			}
		}
		i = stop
	}
	return sb.String()
}

// ValidateDiff parses a unified diff and returns an error when it is
// not structurally sound. Used as a gate before anything touches the
// working copy.
func ValidateDiff(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("empty diff")
	}
	if _, err := diff.ParseFileDiff([]byte(raw)); err != nil {
		return fmt.Errorf("malformed diff: %w", err)
	}
	return nil
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.Split(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// diffOps produces the edit script between two line slices via a
// longest-common-subsequence table. Quadratic, which is fine for
// single source files.
func diffOps(a, b []string) []lineOp {
	n, m := len(a), len(b)
	lcs := make([][]int, n+1)
	for i := range lcs {
		lcs[i] = make([]int, m+1)
	}
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if a[i] == b[j] {
				lcs[i][j] = lcs[i+1][j+1] + 1
			} else if lcs[i+1][j] >= lcs[i][j+1] {
				lcs[i][j] = lcs[i+1][j]
			} else {
				lcs[i][j] = lcs[i][j+1]
			}
		}
	}

	ops := make([]lineOp, 0, n+m)
	i, j := 0, 0
	for i < n && j < m {
		switch {
		case a[i] == b[j]:
			ops = append(ops, lineOp{opEqual, a[i]})
			i++
			j++
		case lcs[i+1][j] >= lcs[i][j+1]:
			ops = append(ops, lineOp{opDelete, a[i]})
			i++
		default:
			ops = append(ops, lineOp{opInsert, b[j]})
			j++
		}
	}
	for ; i < n; i++ {
		ops = append(ops, lineOp{opDelete, a[i]})
	}
	for ; j < m; j++ {
		ops = append(ops, lineOp{opInsert, b[j]})
	}
	return ops
}
