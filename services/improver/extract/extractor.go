// Package extract walks tree-sitter syntax trees and produces the symbols
// and edges that feed the code knowledge graph.
//
// Extraction is best-effort by design: a node that cannot be converted is
// logged and skipped, and never fails the file. The heuristics are
// deliberately name-based rather than scope-aware; the known precision
// gaps (import fan-out to every function and class in the file, call
// attribution to the first function in the file) are part of the
// contract downstream consumers rely on.
package extract

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	sitter "github.com/smacker/go-tree-sitter"

	"github.com/AleutianAI/AleutianForge/services/improver/core"
)

// Extractor converts parsed syntax trees into graph inputs. Safe for
// concurrent use; all state lives on the stack of each call.
type Extractor struct {
	logger *slog.Logger
}

// New creates an Extractor. A nil logger falls back to slog.Default().
func New(logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{logger: logger}
}

// Extract dispatches on language and returns the symbols and edges found
// in one file's tree. Unsupported languages yield empty results, not an
// error; the file simply contributes nothing to the graph.
func (e *Extractor) Extract(root *sitter.Node, src []byte, path string, lang core.Language, repoID uuid.UUID) ([]core.Symbol, []core.Edge) {
	if root == nil {
		return nil, nil
	}

	switch lang {
	case core.LangPython:
		return e.extractPython(root, src, path, repoID)
	case core.LangTypeScript, core.LangJavaScript:
		return e.extractTypeScript(root, src, path, lang, repoID)
	default:
		e.logger.Debug("no extraction heuristics for language",
			slog.String("language", string(lang)),
			slog.String("file", path))
		return nil, nil
	}
}

// spanOf converts tree-sitter's 0-based points to the 1-based,
// end-exclusive spans the data model uses.
func spanOf(node *sitter.Node) core.Span {
	return core.Span{
		StartLine: int(node.StartPoint().Row) + 1,
		EndLine:   int(node.EndPoint().Row) + 1,
		StartCol:  int(node.StartPoint().Column) + 1,
		EndCol:    int(node.EndPoint().Column) + 1,
	}
}

// stripQuotes removes string delimiters from a docstring literal,
// handling triple and single quoting in either style.
func stripQuotes(s string) string {
	for _, q := range []string{`"""`, "'''", `"`, "'"} {
		if strings.HasPrefix(s, q) && strings.HasSuffix(s, q) && len(s) >= 2*len(q) {
			return strings.TrimSpace(s[len(q) : len(s)-len(q)])
		}
	}
	return strings.TrimSpace(s)
}

// signature renders the compact name(params) form stored on function and
// method symbols.
func signature(name string, params []string) string {
	return fmt.Sprintf("%s(%s)", name, strings.Join(params, ", "))
}

// firstCallable returns the first function or method symbol in file
// order, which the call heuristics treat as the caller for every call
// expression in the file.
func firstCallable(symbols []core.Symbol) *core.Symbol {
	for i := range symbols {
		if symbols[i].Kind == core.KindFunction || symbols[i].Kind == core.KindMethod {
			return &symbols[i]
		}
	}
	return nil
}
