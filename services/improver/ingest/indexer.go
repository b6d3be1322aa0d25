// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ingest

import (
	"bytes"
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	gitignore "github.com/sabhiram/go-gitignore"

	"github.com/AleutianAI/AleutianForge/services/improver/core"
)

// DefaultMaxFileSize is the largest file the indexer will read.
const DefaultMaxFileSize = 10 * 1024 * 1024

// binarySniffLen is how many leading bytes get checked for NUL.
const binarySniffLen = 1024

// extLanguages maps file extensions to languages. Headers are counted
// as C++ rather than guessing per file.
var extLanguages = map[string]core.Language{
	".py":  core.LangPython,
	".js":  core.LangJavaScript,
	".jsx": core.LangJavaScript,
	".ts":  core.LangTypeScript,
	".tsx": core.LangTypeScript,
	".go":  core.LangGo,
	".java": core.LangJava,
	".rs":  core.LangRust,
	".c":   core.LangC,
	".cpp": core.LangCPP,
	".cc":  core.LangCPP,
	".cxx": core.LangCPP,
	".h":   core.LangCPP,
	".hpp": core.LangCPP,
	".cs":  core.LangCSharp,
}

// DetectLanguage maps a file name to its language by extension, or ""
// when unsupported.
func DetectLanguage(name string) core.Language {
	return extLanguages[strings.ToLower(filepath.Ext(name))]
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithMaxFileSize overrides the size cap.
func WithMaxFileSize(n int64) IndexerOption {
	return func(ix *Indexer) {
		if n > 0 {
			ix.maxFileSize = n
		}
	}
}

// WithIndexerLogger sets the logger.
func WithIndexerLogger(logger *slog.Logger) IndexerOption {
	return func(ix *Indexer) {
		if logger != nil {
			ix.logger = logger
		}
	}
}

// Indexer walks a working copy and produces one parse unit per kept
// file. Safe for concurrent use.
type Indexer struct {
	maxFileSize int64
	logger      *slog.Logger
}

// NewIndexer creates an Indexer with a 10MB size cap.
func NewIndexer(opts ...IndexerOption) *Indexer {
	ix := &Indexer{maxFileSize: DefaultMaxFileSize, logger: slog.Default()}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// Index walks root and returns parse units in deterministic walk
// order. Files are dropped when they match an exclude pattern, sit
// outside the requested paths, have an unsupported or unwanted
// language, look binary, exceed the size cap, or are not valid UTF-8.
func (ix *Indexer) Index(ctx context.Context, root string, spec core.RepoSpec) ([]core.ParseUnit, error) {
	var excludes *gitignore.GitIgnore
	if len(spec.ExcludePatterns) > 0 {
		excludes = gitignore.CompileIgnoreLines(spec.ExcludePatterns...)
	}

	var units []core.ParseUnit
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if excludes != nil && excludes.MatchesPath(rel) {
			ix.logger.Debug("skipping excluded file", slog.String("file", rel))
			return nil
		}
		if !inScope(rel, spec.Paths) {
			return nil
		}

		lang := DetectLanguage(rel)
		if lang == "" || !spec.WantsLanguage(lang) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.Size() > ix.maxFileSize {
			ix.logger.Warn("skipping large file",
				slog.String("file", rel),
				slog.Int64("size_bytes", info.Size()))
			return nil
		}

		content, err := os.ReadFile(path)
		if err != nil {
			ix.logger.Warn("skipping unreadable file",
				slog.String("file", rel),
				slog.String("error", err.Error()))
			return nil
		}
		if isBinary(content) {
			ix.logger.Debug("skipping binary file", slog.String("file", rel))
			return nil
		}
		if !utf8.Valid(content) {
			ix.logger.Warn("skipping file with encoding issues", slog.String("file", rel))
			return nil
		}

		units = append(units, core.NewParseUnit(spec.ID, rel, lang, string(content)))
		return nil
	})
	if err != nil {
		return nil, err
	}

	ix.logger.Info("indexed repository",
		slog.String("root", root),
		slog.Int("files", len(units)))
	return units, nil
}

// inScope reports whether rel falls under one of the requested path
// prefixes. An empty list keeps everything.
func inScope(rel string, paths []string) bool {
	if len(paths) == 0 {
		return true
	}
	for _, p := range paths {
		p = strings.Trim(filepath.ToSlash(p), "/")
		if p == "" || rel == p || strings.HasPrefix(rel, p+"/") {
			return true
		}
	}
	return false
}

// isBinary sniffs the first kilobyte for a NUL byte.
func isBinary(content []byte) bool {
	n := len(content)
	if n > binarySniffLen {
		n = binarySniffLen
	}
	return bytes.IndexByte(content[:n], 0x00) >= 0
}
