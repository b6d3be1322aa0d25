package extract

import (
	"context"
	"testing"

	"github.com/google/uuid"
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	tsx "github.com/smacker/go-tree-sitter/typescript/typescript"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianForge/services/improver/core"
)

const pythonFixture = `import os
from utils import helper

def helper(x):
    """Help things."""
    return os.path.join(x)

def main(argv):
    helper(argv)

class Runner:
    """Runs tasks."""

    def run(self, task):
        self.stop()

    def stop(self):
        pass
`

func parseSource(t *testing.T, lang *sitter.Language, src string) *sitter.Tree {
	t.Helper()
	parser := sitter.NewParser()
	parser.SetLanguage(lang)
	tree, err := parser.ParseCtx(context.Background(), nil, []byte(src))
	require.NoError(t, err)
	t.Cleanup(tree.Close)
	return tree
}

func symbolByName(t *testing.T, symbols []core.Symbol, name string) core.Symbol {
	t.Helper()
	for _, s := range symbols {
		if s.Name == name {
			return s
		}
	}
	t.Fatalf("symbol %q not found", name)
	return core.Symbol{}
}

func edgesOfKind(edges []core.Edge, kind core.EdgeKind) []core.Edge {
	var out []core.Edge
	for _, e := range edges {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func TestPythonFunctionsAndDocstrings(t *testing.T) {
	tree := parseSource(t, python.GetLanguage(), pythonFixture)
	ex := New(nil)
	repoID := uuid.New()

	symbols, _ := ex.Extract(tree.RootNode(), []byte(pythonFixture), "app/main.py", core.LangPython, repoID)
	require.Len(t, symbols, 5)

	helper := symbolByName(t, symbols, "helper")
	assert.Equal(t, core.KindFunction, helper.Kind)
	assert.Equal(t, "helper(x)", helper.Signature)
	assert.Equal(t, "Help things.", helper.Docstring)
	assert.Equal(t, repoID, helper.RepoID)
	assert.Equal(t, 4, helper.Span.StartLine)
	assert.Nil(t, helper.ParentID)
	require.NoError(t, helper.Validate())

	main := symbolByName(t, symbols, "main")
	assert.Empty(t, main.Docstring, "no bare string literal, no docstring")
	assert.Equal(t, []string{"argv"}, main.StringParams())
}

func TestPythonClassMethodsAndContains(t *testing.T) {
	tree := parseSource(t, python.GetLanguage(), pythonFixture)
	ex := New(nil)

	symbols, edges := ex.Extract(tree.RootNode(), []byte(pythonFixture), "app/main.py", core.LangPython, uuid.New())

	runner := symbolByName(t, symbols, "Runner")
	assert.Equal(t, core.KindClass, runner.Kind)
	assert.Equal(t, "Runs tasks.", runner.Docstring)

	run := symbolByName(t, symbols, "run")
	assert.Equal(t, core.KindMethod, run.Kind)
	require.NotNil(t, run.ParentID)
	assert.Equal(t, runner.ID, *run.ParentID)
	assert.True(t, runner.Span.Contains(run.Span), "method span lies inside its class span")

	contains := edgesOfKind(edges, core.EdgeContains)
	require.Len(t, contains, 2)
	for _, e := range contains {
		assert.Equal(t, runner.ID, e.SourceID)
		require.NotNil(t, e.TargetID)
	}
}

func TestPythonImportFanOut(t *testing.T) {
	tree := parseSource(t, python.GetLanguage(), pythonFixture)
	ex := New(nil)

	symbols, edges := ex.Extract(tree.RootNode(), []byte(pythonFixture), "app/main.py", core.LangPython, uuid.New())
	imports := edgesOfKind(edges, core.EdgeImports)

	// "import os" fans out to every function and class symbol (helper,
	// main, Runner); methods are excluded. "from utils import helper"
	// links only the symbol named helper.
	var osEdges, utilsEdges []core.Edge
	for _, e := range imports {
		switch e.Attrs["module"] {
		case "os":
			osEdges = append(osEdges, e)
		case "utils":
			utilsEdges = append(utilsEdges, e)
		}
	}
	assert.Len(t, osEdges, 3)
	for _, e := range osEdges {
		assert.Nil(t, e.TargetID, "external module targets stay unresolved")
	}

	require.Len(t, utilsEdges, 1)
	assert.Equal(t, symbolByName(t, symbols, "helper").ID, utilsEdges[0].SourceID)
}

func TestPythonCallEdgesAttributeToFirstCallable(t *testing.T) {
	tree := parseSource(t, python.GetLanguage(), pythonFixture)
	ex := New(nil)

	symbols, edges := ex.Extract(tree.RootNode(), []byte(pythonFixture), "app/main.py", core.LangPython, uuid.New())
	calls := edgesOfKind(edges, core.EdgeCalls)

	helper := symbolByName(t, symbols, "helper")
	stop := symbolByName(t, symbols, "stop")

	// helper(argv) resolves to the helper function; self.stop() resolves
	// to the stop method. os.path.join matches nothing. Both edges carry
	// the first callable in the file as the caller.
	require.Len(t, calls, 2)
	targets := map[uuid.UUID]bool{}
	for _, e := range calls {
		assert.Equal(t, helper.ID, e.SourceID)
		require.NotNil(t, e.TargetID)
		targets[*e.TargetID] = true
	}
	assert.True(t, targets[helper.ID])
	assert.True(t, targets[stop.ID])
}

func TestPythonAttributeCallMatchesMethodsOnly(t *testing.T) {
	src := `def save(x):
    db.save(x)

class Store:
    def save(self, x):
        pass
`
	tree := parseSource(t, python.GetLanguage(), src)
	ex := New(nil)

	symbols, edges := ex.Extract(tree.RootNode(), []byte(src), "store.py", core.LangPython, uuid.New())
	calls := edgesOfKind(edges, core.EdgeCalls)

	// db.save() is an attribute call, so only the save *method* matches,
	// not the save function sharing the name.
	require.Len(t, calls, 1)
	fn := symbolByName(t, symbols, "save")
	assert.Equal(t, core.KindFunction, fn.Kind, "first save in symbol order is the function")
	assert.Equal(t, fn.ID, calls[0].SourceID, "caller is the first callable")
	for _, s := range symbols {
		if s.Kind == core.KindMethod && s.Name == "save" {
			assert.Equal(t, s.ID, *calls[0].TargetID)
		}
	}
}

func TestPythonDecoratedDefinitions(t *testing.T) {
	src := `@app.route("/ping")
def ping():
    """Pong."""
    return "pong"
`
	tree := parseSource(t, python.GetLanguage(), src)
	ex := New(nil)

	symbols, _ := ex.Extract(tree.RootNode(), []byte(src), "api.py", core.LangPython, uuid.New())
	require.Len(t, symbols, 1)
	assert.Equal(t, "ping", symbols[0].Name)
	assert.Equal(t, "Pong.", symbols[0].Docstring)
}

func TestTypeScriptReducedSet(t *testing.T) {
	src := `export function greet(name: string): string {
  return name;
}

class Greeter {
  greet(name: string) { return name; }
  shout() {}
}
`
	tree := parseSource(t, tsx.GetLanguage(), src)
	ex := New(nil)

	symbols, edges := ex.Extract(tree.RootNode(), []byte(src), "src/greet.ts", core.LangTypeScript, uuid.New())
	require.Len(t, symbols, 4)

	fn := symbolByName(t, symbols, "greet")
	assert.Equal(t, core.KindFunction, fn.Kind)
	assert.Equal(t, "greet(name)", fn.Signature)

	greeter := symbolByName(t, symbols, "Greeter")
	assert.Equal(t, core.KindClass, greeter.Kind)

	contains := edgesOfKind(edges, core.EdgeContains)
	assert.Len(t, contains, 2)
	assert.Empty(t, edgesOfKind(edges, core.EdgeCalls), "call heuristics are Python-only")
}

func TestJavaScriptUsesSameHeuristics(t *testing.T) {
	src := `function add(a, b) {
  return a + b;
}
`
	tree := parseSource(t, javascript.GetLanguage(), src)
	ex := New(nil)

	symbols, _ := ex.Extract(tree.RootNode(), []byte(src), "lib/add.js", core.LangJavaScript, uuid.New())
	require.Len(t, symbols, 1)
	assert.Equal(t, core.LangJavaScript, symbols[0].Language)
	assert.Equal(t, "add(a, b)", symbols[0].Signature)
}

func TestUnsupportedLanguageYieldsNothing(t *testing.T) {
	tree := parseSource(t, python.GetLanguage(), "def f():\n    pass\n")
	ex := New(nil)

	symbols, edges := ex.Extract(tree.RootNode(), []byte("def f():\n    pass\n"), "main.rs", core.LangRust, uuid.New())
	assert.Empty(t, symbols)
	assert.Empty(t, edges)
}
