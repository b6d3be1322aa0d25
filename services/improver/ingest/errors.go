// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ingest acquires repositories and turns their files into parse
// units: clone via the git binary, walk and filter the tree, and parse
// each kept file with tree-sitter.
package ingest

import "errors"

// Sentinel errors for ingestion.
var (
	// ErrCloneFailed is returned when the git subprocess exits nonzero
	// or cannot be started.
	ErrCloneFailed = errors.New("git clone failed")

	// ErrUnsupportedLanguage is returned by Parse for languages without
	// a grammar. Callers treat it as a per-file skip.
	ErrUnsupportedLanguage = errors.New("unsupported language")
)
