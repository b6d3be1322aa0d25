package extract

import (
	"log/slog"

	"github.com/google/uuid"
	sitter "github.com/smacker/go-tree-sitter"

	"github.com/AleutianAI/AleutianForge/services/improver/core"
)

// extractPython runs the full Python heuristic set: top-level functions,
// classes with their methods and contains edges, import fan-out edges,
// and name-matched call edges attributed to the first callable in the
// file. Passes run in that fixed order so the caller heuristic sees
// top-level functions before methods.
func (e *Extractor) extractPython(root *sitter.Node, src []byte, path string, repoID uuid.UUID) ([]core.Symbol, []core.Edge) {
	var symbols []core.Symbol
	var edges []core.Edge

	for i := 0; i < int(root.NamedChildCount()); i++ {
		node := unwrapDecorated(root.NamedChild(i))
		if node.Type() != "function_definition" {
			continue
		}
		if sym, ok := e.pythonFunction(node, src, path, repoID, nil); ok {
			symbols = append(symbols, sym)
		}
	}

	for i := 0; i < int(root.NamedChildCount()); i++ {
		node := unwrapDecorated(root.NamedChild(i))
		if node.Type() != "class_definition" {
			continue
		}
		classSyms, classEdges := e.pythonClass(node, src, path, repoID)
		symbols = append(symbols, classSyms...)
		edges = append(edges, classEdges...)
	}

	edges = append(edges, e.pythonImports(root, src, symbols, repoID)...)
	edges = append(edges, e.pythonCalls(root, src, symbols, repoID)...)

	return symbols, edges
}

// unwrapDecorated descends through a decorated_definition to the
// definition it wraps so decorated functions and classes are treated
// like undecorated ones.
func unwrapDecorated(node *sitter.Node) *sitter.Node {
	if node.Type() == "decorated_definition" {
		if inner := node.ChildByFieldName("definition"); inner != nil {
			return inner
		}
	}
	return node
}

// pythonFunction converts a function_definition node. parentID is the
// enclosing class symbol for methods and nil for top-level functions;
// the distinction decides the symbol kind.
func (e *Extractor) pythonFunction(node *sitter.Node, src []byte, path string, repoID uuid.UUID, parentID *uuid.UUID) (core.Symbol, bool) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		e.logger.Warn("function definition without a name node",
			slog.String("file", path),
			slog.Int("line", int(node.StartPoint().Row)+1))
		return core.Symbol{}, false
	}
	name := nameNode.Content(src)

	params := pythonParams(node.ChildByFieldName("parameters"), src)

	kind := core.KindFunction
	if parentID != nil {
		kind = core.KindMethod
	}

	sym := core.Symbol{
		ID:        uuid.New(),
		RepoID:    repoID,
		Name:      name,
		Kind:      kind,
		FilePath:  path,
		Language:  core.LangPython,
		Span:      spanOf(node),
		Docstring: pythonDocstring(node.ChildByFieldName("body"), src),
		Signature: signature(name, params),
		ParentID:  parentID,
		Attrs:     map[string]any{"parameters": params},
	}
	return sym, true
}

// pythonParams collects plain identifier parameters, descending one
// level into typed and defaulted parameters to find their names.
func pythonParams(paramsNode *sitter.Node, src []byte) []string {
	params := []string{}
	if paramsNode == nil {
		return params
	}
	for i := 0; i < int(paramsNode.NamedChildCount()); i++ {
		p := paramsNode.NamedChild(i)
		switch p.Type() {
		case "identifier":
			params = append(params, p.Content(src))
		case "typed_parameter", "default_parameter", "typed_default_parameter":
			for j := 0; j < int(p.NamedChildCount()); j++ {
				if c := p.NamedChild(j); c.Type() == "identifier" {
					params = append(params, c.Content(src))
					break
				}
			}
		}
	}
	return params
}

// pythonDocstring returns the quote-stripped docstring when the first
// statement of a body is a bare string literal, and "" otherwise.
func pythonDocstring(body *sitter.Node, src []byte) string {
	if body == nil || body.NamedChildCount() == 0 {
		return ""
	}
	first := body.NamedChild(0)
	if first.Type() != "expression_statement" || first.ChildCount() == 0 {
		return ""
	}
	str := first.Child(0)
	if str.Type() != "string" {
		return ""
	}
	return stripQuotes(str.Content(src))
}

// pythonClass converts a class_definition node into a class symbol, one
// method symbol per function in its body, and a contains edge from the
// class to each method.
func (e *Extractor) pythonClass(node *sitter.Node, src []byte, path string, repoID uuid.UUID) ([]core.Symbol, []core.Edge) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		e.logger.Warn("class definition without a name node",
			slog.String("file", path),
			slog.Int("line", int(node.StartPoint().Row)+1))
		return nil, nil
	}

	attrs := map[string]any{}
	if supers := node.ChildByFieldName("superclasses"); supers != nil {
		var names []string
		for i := 0; i < int(supers.NamedChildCount()); i++ {
			names = append(names, supers.NamedChild(i).Content(src))
		}
		if len(names) > 0 {
			attrs["superclasses"] = names
		}
	}

	class := core.Symbol{
		ID:        uuid.New(),
		RepoID:    repoID,
		Name:      nameNode.Content(src),
		Kind:      core.KindClass,
		FilePath:  path,
		Language:  core.LangPython,
		Span:      spanOf(node),
		Docstring: pythonDocstring(node.ChildByFieldName("body"), src),
		Attrs:     attrs,
	}

	symbols := []core.Symbol{class}
	var edges []core.Edge

	body := node.ChildByFieldName("body")
	if body == nil {
		return symbols, edges
	}
	for i := 0; i < int(body.NamedChildCount()); i++ {
		member := unwrapDecorated(body.NamedChild(i))
		if member.Type() != "function_definition" {
			continue
		}
		method, ok := e.pythonFunction(member, src, path, repoID, &class.ID)
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

// pythonImports emits import edges for top-level import statements.
//
// Plain `import X` fans out to every function and class symbol in the
// file with an unresolved target carrying the module name. The
// `from X import a, b` form only links symbols whose name matches an
// imported name.
func (e *Extractor) pythonImports(root *sitter.Node, src []byte, symbols []core.Symbol, repoID uuid.UUID) []core.Edge {
	var edges []core.Edge

	for i := 0; i < int(root.NamedChildCount()); i++ {
		node := root.NamedChild(i)
		switch node.Type() {
		case "import_statement":
			for _, module := range importedModules(node, src) {
				for _, sym := range symbols {
					if sym.Kind != core.KindFunction && sym.Kind != core.KindClass {
						continue
					}
					edges = append(edges, core.Edge{
						ID:       uuid.New(),
						RepoID:   repoID,
						SourceID: sym.ID,
						Kind:     core.EdgeImports,
						Attrs:    map[string]any{"module": module},
					})
				}
			}
		case "import_from_statement":
			module := ""
			moduleNode := node.ChildByFieldName("module_name")
			if moduleNode != nil {
				module = moduleNode.Content(src)
			}
			for _, name := range importedNames(node, moduleNode, src) {
				for _, sym := range symbols {
					if sym.Name != name {
						continue
					}
					edges = append(edges, core.Edge{
						ID:       uuid.New(),
						RepoID:   repoID,
						SourceID: sym.ID,
						Kind:     core.EdgeImports,
						Attrs:    map[string]any{"module": module, "name": name},
					})
				}
			}
		}
	}
	return edges
}

// importedModules lists the module names of an import_statement,
// unwrapping `import X as Y` aliases to the real module name.
func importedModules(node *sitter.Node, src []byte) []string {
	var modules []string
	for i := 0; i < int(node.NamedChildCount()); i++ {
		c := node.NamedChild(i)
		switch c.Type() {
		case "dotted_name":
			modules = append(modules, c.Content(src))
		case "aliased_import":
			if real := c.ChildByFieldName("name"); real != nil {
				modules = append(modules, real.Content(src))
			}
		}
	}
	return modules
}

// importedNames lists the names brought in by an import_from_statement,
// skipping the module node itself.
func importedNames(node *sitter.Node, moduleNode *sitter.Node, src []byte) []string {
	var names []string
	for i := 0; i < int(node.NamedChildCount()); i++ {
		c := node.NamedChild(i)
		if moduleNode != nil && c.StartByte() == moduleNode.StartByte() {
			continue
		}
		switch c.Type() {
		case "dotted_name", "identifier":
			names = append(names, c.Content(src))
		case "aliased_import":
			if real := c.ChildByFieldName("name"); real != nil {
				names = append(names, real.Content(src))
			}
		}
	}
	return names
}

// pythonCalls walks the whole tree for call expressions in document
// order and emits call edges. The callee is matched by bare name
// against the file's functions and methods (attribute calls match
// methods only); the caller is always the first callable symbol in the
// file. Every matching symbol contributes one edge, so shadowed names
// produce multiple edges on purpose.
func (e *Extractor) pythonCalls(root *sitter.Node, src []byte, symbols []core.Symbol, repoID uuid.UUID) []core.Edge {
	caller := firstCallable(symbols)
	if caller == nil {
		return nil
	}

	var edges []core.Edge
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if n.Type() == "call" {
			fn := n.ChildByFieldName("function")
			if fn != nil {
				var calleeName string
				methodOnly := false
				switch fn.Type() {
				case "identifier":
					calleeName = fn.Content(src)
				case "attribute":
					if attr := fn.ChildByFieldName("attribute"); attr != nil {
						calleeName = attr.Content(src)
						methodOnly = true
					}
				}
				if calleeName != "" {
					line := int(n.StartPoint().Row) + 1
					for _, sym := range symbols {
						if sym.Name != calleeName {
							continue
						}
						if methodOnly {
							if sym.Kind != core.KindMethod {
								continue
							}
						} else if sym.Kind != core.KindFunction && sym.Kind != core.KindMethod {
							continue
						}
						target := sym.ID
						edges = append(edges, core.Edge{
							ID:       uuid.New(),
							RepoID:   repoID,
							SourceID: caller.ID,
							TargetID: &target,
							Kind:     core.EdgeCalls,
							Attrs:    map[string]any{"call_site_line": line},
						})
					}
				}
			}
		}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			walk(n.NamedChild(i))
		}
	}
	walk(root)
	return edges
}
