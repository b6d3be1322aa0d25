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
	"fmt"
	"sort"
	"strings"

	"github.com/AleutianAI/AleutianForge/services/improver/core"
)

// BuildCodebaseSummary renders a compact, prompt-friendly description
// of an indexed repository: file counts per language, total size, and
// the extracted symbol inventory.
func BuildCodebaseSummary(units []core.ParseUnit, symbolCount, edgeCount int) string {
	byLanguage := make(map[core.Language]int)
	totalBytes := 0
	for _, u := range units {
		byLanguage[u.Language]++
		totalBytes += u.SizeBytes
	}

	languages := make([]string, 0, len(byLanguage))
	for lang := range byLanguage {
		languages = append(languages, string(lang))
	}
	sort.Strings(languages)

	var b strings.Builder
	fmt.Fprintf(&b, "%d source files, %d bytes total.\n", len(units), totalBytes)
	for _, lang := range languages {
		fmt.Fprintf(&b, "- %s: %d files\n", lang, byLanguage[core.Language(lang)])
	}
	fmt.Fprintf(&b, "Knowledge graph: %d symbols, %d edges.\n", symbolCount, edgeCount)

	// A few concrete paths anchor the model better than counts alone.
	limit := len(units)
	if limit > 15 {
		limit = 15
	}
	if limit > 0 {
		b.WriteString("Example files:\n")
		for _, u := range units[:limit] {
			fmt.Fprintf(&b, "- %s\n", u.Path)
		}
	}
	return b.String()
}
