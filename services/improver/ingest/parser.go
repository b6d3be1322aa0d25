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
	"context"
	"fmt"
	"log/slog"
	"time"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	tsx "github.com/smacker/go-tree-sitter/typescript/typescript"

	"github.com/AleutianAI/AleutianForge/services/improver/core"
)

// grammar returns the tree-sitter grammar for lang, or nil when no
// grammar is wired in.
func grammar(lang core.Language) *sitter.Language {
	switch lang {
	case core.LangPython:
		return python.GetLanguage()
	case core.LangTypeScript:
		return tsx.GetLanguage()
	case core.LangJavaScript:
		return javascript.GetLanguage()
	default:
		return nil
	}
}

// Parser turns a parse unit's content into a syntax tree. Each Parse
// call creates its own tree-sitter parser, so a single Parser is safe
// for concurrent use.
type Parser struct {
	logger *slog.Logger
}

// NewParser creates a Parser. A nil logger falls back to slog.Default().
func NewParser(logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{logger: logger}
}

// Parse populates unit.Tree and unit.ParsedAt. Languages without a
// grammar return ErrUnsupportedLanguage; callers skip those files.
// Tree-sitter is error tolerant, so syntactically broken files still
// produce a (partial) tree.
func (p *Parser) Parse(ctx context.Context, unit *core.ParseUnit) error {
	lang := grammar(unit.Language)
	if lang == nil {
		return fmt.Errorf("%w: %s (%s)", ErrUnsupportedLanguage, unit.Language, unit.Path)
	}

	parser := sitter.NewParser()
	parser.SetLanguage(lang)

	tree, err := parser.ParseCtx(ctx, nil, []byte(unit.Content))
	if err != nil {
		return fmt.Errorf("parse %s: %w", unit.Path, err)
	}
	if tree.RootNode() != nil && tree.RootNode().HasError() {
		p.logger.Debug("source contains syntax errors",
			slog.String("file", unit.Path))
	}

	now := time.Now().UTC()
	unit.Tree = tree
	unit.ParsedAt = &now
	return nil
}
