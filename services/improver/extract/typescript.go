package extract

import (
	"log/slog"

	"github.com/google/uuid"
	sitter "github.com/smacker/go-tree-sitter"

	"github.com/AleutianAI/AleutianForge/services/improver/core"
)

// extractTypeScript runs the reduced heuristic set shared by TypeScript
// and JavaScript: top-level functions, classes, their methods, and
// contains edges. Import and call heuristics are Python-only today.
func (e *Extractor) extractTypeScript(root *sitter.Node, src []byte, path string, lang core.Language, repoID uuid.UUID) ([]core.Symbol, []core.Edge) {
	var symbols []core.Symbol
	var edges []core.Edge

	for i := 0; i < int(root.NamedChildCount()); i++ {
		node := root.NamedChild(i)
		switch node.Type() {
		case "function_declaration":
			if sym, ok := e.tsFunction(node, src, path, lang, repoID, nil); ok {
				symbols = append(symbols, sym)
			}
		case "class_declaration":
			classSyms, classEdges := e.tsClass(node, src, path, lang, repoID)
			symbols = append(symbols, classSyms...)
			edges = append(edges, classEdges...)
		case "export_statement":
			// Exported declarations wrap the real node one level down.
			if decl := node.ChildByFieldName("declaration"); decl != nil {
				switch decl.Type() {
				case "function_declaration":
					if sym, ok := e.tsFunction(decl, src, path, lang, repoID, nil); ok {
						symbols = append(symbols, sym)
					}
				case "class_declaration":
					classSyms, classEdges := e.tsClass(decl, src, path, lang, repoID)
					symbols = append(symbols, classSyms...)
					edges = append(edges, classEdges...)
				}
			}
		}
	}
	return symbols, edges
}

func (e *Extractor) tsFunction(node *sitter.Node, src []byte, path string, lang core.Language, repoID uuid.UUID, parentID *uuid.UUID) (core.Symbol, bool) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		e.logger.Warn("function declaration without a name node",
			slog.String("file", path),
			slog.Int("line", int(node.StartPoint().Row)+1))
		return core.Symbol{}, false
	}
	name := nameNode.Content(src)
	params := tsParams(node.ChildByFieldName("parameters"), src)

	kind := core.KindFunction
	if parentID != nil {
		kind = core.KindMethod
	}

	return core.Symbol{
		ID:        uuid.New(),
		RepoID:    repoID,
		Name:      name,
		Kind:      kind,
		FilePath:  path,
		Language:  lang,
		Span:      spanOf(node),
		Signature: signature(name, params),
		ParentID:  parentID,
		Attrs:     map[string]any{"parameters": params},
	}, true
}

func (e *Extractor) tsClass(node *sitter.Node, src []byte, path string, lang core.Language, repoID uuid.UUID) ([]core.Symbol, []core.Edge) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		e.logger.Warn("class declaration without a name node",
			slog.String("file", path),
			slog.Int("line", int(node.StartPoint().Row)+1))
		return nil, nil
	}

	class := core.Symbol{
		ID:       uuid.New(),
		RepoID:   repoID,
		Name:     nameNode.Content(src),
		Kind:     core.KindClass,
		FilePath: path,
		Language: lang,
		Span:     spanOf(node),
		Attrs:    map[string]any{},
	}
	symbols := []core.Symbol{class}
	var edges []core.Edge

	body := node.ChildByFieldName("body")
	if body == nil {
		return symbols, edges
	}
	for i := 0; i < int(body.NamedChildCount()); i++ {
		member := body.NamedChild(i)
		if member.Type() != "method_definition" {
			continue
		}
		method, ok := e.tsFunction(member, src, path, lang, repoID, &class.ID)
		if !ok {
			continue
		}
		symbols = append(symbols, method)
		target := method.ID
		edges = append(edges, core.Edge{
			ID:       uuid.New(),
			RepoID:   repoID,
			SourceID: class.ID,
			TargetID: &target,
			Kind:     core.EdgeContains,
		})
	}
	return symbols, edges
}

// tsParams collects parameter names from formal_parameters, descending
// into required and optional parameter wrappers.
func tsParams(paramsNode *sitter.Node, src []byte) []string {
	params := []string{}
	if paramsNode == nil {
		return params
	}
	for i := 0; i < int(paramsNode.NamedChildCount()); i++ {
		p := paramsNode.NamedChild(i)
		switch p.Type() {
		case "identifier":
			params = append(params, p.Content(src))
		case "required_parameter", "optional_parameter":
			if pat := p.ChildByFieldName("pattern"); pat != nil && pat.Type() == "identifier" {
				params = append(params, pat.Content(src))
			}
		}
	}
	return params
}
