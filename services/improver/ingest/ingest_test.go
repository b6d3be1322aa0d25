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
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianForge/services/improver/core"
)

func writeFile(t *testing.T, root, rel string, content []byte) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, content, 0o644))
}

func testSpec(patterns ...string) core.RepoSpec {
	return core.RepoSpec{
		ID:              uuid.New(),
		URL:             "https://example.test/repo.git",
		ExcludePatterns: patterns,
	}
}

func unitPaths(units []core.ParseUnit) []string {
	paths := make([]string, 0, len(units))
	for _, u := range units {
		paths = append(paths, u.Path)
	}
	return paths
}

func TestIndexKeepsSupportedTextFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "app/main.py", []byte("def main():\n    pass\n"))
	writeFile(t, root, "web/index.ts", []byte("export function f() {}\n"))
	writeFile(t, root, "README.md", []byte("# readme\n"))
	writeFile(t, root, ".git/config", []byte("[core]\n"))

	units, err := NewIndexer().Index(context.Background(), root, testSpec())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"app/main.py", "web/index.ts"}, unitPaths(units))

	for _, u := range units {
		assert.Equal(t, len(u.Content), u.SizeBytes)
		assert.NotEqual(t, uuid.Nil, u.ID)
	}
}

func TestIndexExcludePatterns(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "app/main.py", []byte("x = 1\n"))
	writeFile(t, root, "vendor/dep.py", []byte("y = 2\n"))
	writeFile(t, root, "app/main_test.py", []byte("z = 3\n"))

	units, err := NewIndexer().Index(context.Background(), root, testSpec("vendor/", "*_test.py"))
	require.NoError(t, err)
	assert.Equal(t, []string{"app/main.py"}, unitPaths(units))
}

func TestIndexSkipsBinaryAndOversize(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "ok.py", []byte("a = 1\n"))
	writeFile(t, root, "blob.py", []byte{0x89, 0x50, 0x00, 0x47})

	big := make([]byte, 64)
	for i := range big {
		big[i] = 'x'
	}
	writeFile(t, root, "huge.py", big)

	ix := NewIndexer(WithMaxFileSize(32))
	units, err := ix.Index(context.Background(), root, testSpec())
	require.NoError(t, err)
	assert.Equal(t, []string{"ok.py"}, unitPaths(units))
}

func TestIndexLanguageScoping(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.py", []byte("a = 1\n"))
	writeFile(t, root, "b.go", []byte("package b\n"))

	spec := testSpec()
	spec.Languages = []core.Language{core.LangPython}

	units, err := NewIndexer().Index(context.Background(), root, spec)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.py"}, unitPaths(units))
}

func TestIndexPathScoping(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "src/a.py", []byte("a = 1\n"))
	writeFile(t, root, "tools/b.py", []byte("b = 2\n"))

	spec := testSpec()
	spec.Paths = []string{"src"}

	units, err := NewIndexer().Index(context.Background(), root, spec)
	require.NoError(t, err)
	assert.Equal(t, []string{"src/a.py"}, unitPaths(units))
}

func TestDetectLanguage(t *testing.T) {
	assert.Equal(t, core.LangPython, DetectLanguage("x/y/z.py"))
	assert.Equal(t, core.LangTypeScript, DetectLanguage("a.TSX"))
	assert.Equal(t, core.LangCPP, DetectLanguage("lib.h"))
	assert.Equal(t, core.Language(""), DetectLanguage("Makefile"))
}

func TestParsePopulatesTree(t *testing.T) {
	unit := core.NewParseUnit(uuid.New(), "m.py", core.LangPython, "def f():\n    return 1\n")
	p := NewParser(nil)

	require.NoError(t, p.Parse(context.Background(), &unit))
	t.Cleanup(func() { unit.Tree.Close() })

	require.NotNil(t, unit.Tree)
	require.NotNil(t, unit.ParsedAt)
	assert.Equal(t, "module", unit.Tree.RootNode().Type())
}

func TestParseUnsupportedLanguage(t *testing.T) {
	unit := core.NewParseUnit(uuid.New(), "m.rs", core.LangRust, "fn main() {}\n")
	err := NewParser(nil).Parse(context.Background(), &unit)
	assert.ErrorIs(t, err, ErrUnsupportedLanguage)
	assert.Nil(t, unit.Tree)
}

func TestParseToleratesBrokenSource(t *testing.T) {
	unit := core.NewParseUnit(uuid.New(), "broken.py", core.LangPython, "def f(:\n")
	require.NoError(t, NewParser(nil).Parse(context.Background(), &unit))
	t.Cleanup(func() { unit.Tree.Close() })
	assert.NotNil(t, unit.Tree)
}

func TestReleaseIsIdempotent(t *testing.T) {
	c := NewCloner()

	dir := t.TempDir()
	scratch := filepath.Join(dir, "copy")
	require.NoError(t, os.MkdirAll(scratch, 0o755))

	require.NoError(t, c.Release(scratch))
	require.NoError(t, c.Release(scratch), "second release of the same path succeeds")
	require.NoError(t, c.Release(""), "empty path is a no-op")

	_, err := os.Stat(scratch)
	assert.True(t, os.IsNotExist(err))
}

func TestCloneRejectsInvalidSpec(t *testing.T) {
	c := NewCloner()
	_, _, err := c.Clone(context.Background(), core.RepoSpec{ID: uuid.New(), URL: "not-a-url"})
	assert.ErrorIs(t, err, core.ErrInvalidURL)
}

func TestCloneLocalRepository(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}

	// Build a tiny local repository to clone through a file URL.
	origin := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", append([]string{"-C", origin}, args...)...)
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@test",
			"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@test")
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, string(out))
	}
	run("init", "--quiet")
	writeFile(t, origin, "main.py", []byte("x = 1\n"))
	run("add", ".")
	run("commit", "--quiet", "-m", "init")

	c := NewCloner(WithCloneBaseDir(t.TempDir()))
	spec := core.RepoSpec{ID: uuid.New(), URL: "file://" + origin}

	dest, meta, err := c.Clone(context.Background(), spec)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Release(dest) })

	require.NotNil(t, meta)
	assert.Len(t, meta.Commit, 40)
	_, statErr := os.Stat(filepath.Join(dest, "main.py"))
	assert.NoError(t, statErr)
}
