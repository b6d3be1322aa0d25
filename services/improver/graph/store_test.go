// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianForge/services/improver/core"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store := NewInMemory()
	require.NoError(t, store.Connect(context.Background()))
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func makeSymbol(repoID uuid.UUID, name string, kind core.SymbolKind, path string, line int) core.Symbol {
	return core.Symbol{
		ID:       uuid.New(),
		RepoID:   repoID,
		Name:     name,
		Kind:     kind,
		FilePath: path,
		Language: core.LangPython,
		Span:     core.Span{StartLine: line, EndLine: line + 3, StartCol: 1, EndCol: 1},
	}
}

func makeEdge(repoID uuid.UUID, source uuid.UUID, target *uuid.UUID, kind core.EdgeKind) core.Edge {
	return core.Edge{
		ID:       uuid.New(),
		RepoID:   repoID,
		SourceID: source,
		TargetID: target,
		Kind:     kind,
	}
}

func TestOperationsBeforeConnect(t *testing.T) {
	store := NewInMemory()
	ctx := context.Background()
	repoID := uuid.New()
	sym := makeSymbol(repoID, "f", core.KindFunction, "a.py", 1)

	assert.ErrorIs(t, store.UpsertSymbol(ctx, &sym), ErrNotConnected)

	_, err := store.GetSymbol(ctx, sym.ID)
	assert.ErrorIs(t, err, ErrNotConnected)

	_, err = store.SymbolsByRepo(ctx, repoID)
	assert.ErrorIs(t, err, ErrNotConnected)

	_, err = store.CallGraph(ctx, repoID)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestConnectAndCloseAreIdempotent(t *testing.T) {
	store := NewInMemory()
	ctx := context.Background()
	require.NoError(t, store.Connect(ctx))
	require.NoError(t, store.Connect(ctx))
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	sym := makeSymbol(uuid.New(), "f", core.KindFunction, "a.py", 1)
	assert.ErrorIs(t, store.UpsertSymbol(ctx, &sym), ErrNotConnected)
}

func TestGetMissingIsNotAnError(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sym, err := store.GetSymbol(ctx, uuid.New())
	require.NoError(t, err)
	assert.Nil(t, sym)

	edge, err := store.GetEdge(ctx, uuid.New())
	require.NoError(t, err)
	assert.Nil(t, edge)
}

func TestUpsertSymbolMergesInsteadOfDuplicating(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	repoID := uuid.New()

	sym := makeSymbol(repoID, "handler", core.KindFunction, "app.py", 10)
	require.NoError(t, store.UpsertSymbol(ctx, &sym))

	sym.Docstring = "Handles requests."
	sym.Name = "request_handler"
	require.NoError(t, store.UpsertSymbol(ctx, &sym))

	got, err := store.GetSymbol(ctx, sym.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "request_handler", got.Name)
	assert.Equal(t, "Handles requests.", got.Docstring)

	all, err := store.SymbolsByRepo(ctx, repoID)
	require.NoError(t, err)
	assert.Len(t, all, 1, "same identity must not duplicate")
}

func TestUpsertSymbolRejectsInvalid(t *testing.T) {
	store := newTestStore(t)
	sym := makeSymbol(uuid.New(), "", core.KindFunction, "a.py", 1)
	assert.ErrorIs(t, store.UpsertSymbol(context.Background(), &sym), core.ErrEmptyName)
}

func TestUpsertEdgeIdempotence(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	repoID := uuid.New()

	a := makeSymbol(repoID, "a", core.KindFunction, "m.py", 1)
	b := makeSymbol(repoID, "b", core.KindFunction, "m.py", 10)
	require.NoError(t, store.UpsertSymbol(ctx, &a))
	require.NoError(t, store.UpsertSymbol(ctx, &b))

	edge := makeEdge(repoID, a.ID, &b.ID, core.EdgeCalls)
	require.NoError(t, store.UpsertEdge(ctx, &edge))
	require.NoError(t, store.UpsertEdge(ctx, &edge))

	edges, err := store.EdgesByRepo(ctx, repoID)
	require.NoError(t, err)
	assert.Len(t, edges, 1)

	cg, err := store.CallGraph(ctx, repoID)
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{"a": {"b"}}, cg, "relationship materialized once per edge identity")
}

func TestUnresolvedEdgeSkipsMaterialization(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	repoID := uuid.New()

	a := makeSymbol(repoID, "a", core.KindFunction, "m.py", 1)
	require.NoError(t, store.UpsertSymbol(ctx, &a))

	edge := makeEdge(repoID, a.ID, nil, core.EdgeImports)
	edge.Attrs = map[string]any{"module": "os"}
	require.NoError(t, store.UpsertEdge(ctx, &edge))

	edges, err := store.EdgesByRepo(ctx, repoID)
	require.NoError(t, err)
	assert.Len(t, edges, 1, "edge record persists")

	orphans, err := store.OrphanSymbols(ctx, repoID)
	require.NoError(t, err)
	assert.Len(t, orphans, 1, "no incoming relationship was created")
}

func TestSymbolsByRepoOrdering(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	repoID := uuid.New()

	symbols := []core.Symbol{
		makeSymbol(repoID, "z_late", core.KindFunction, "b.py", 40),
		makeSymbol(repoID, "a_early", core.KindFunction, "b.py", 5),
		makeSymbol(repoID, "other", core.KindFunction, "a.py", 100),
	}
	for i := range symbols {
		require.NoError(t, store.UpsertSymbol(ctx, &symbols[i]))
	}

	got, err := store.SymbolsByRepo(ctx, repoID)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "other", got[0].Name)
	assert.Equal(t, "a_early", got[1].Name)
	assert.Equal(t, "z_late", got[2].Name)
}

func TestSymbolsByFileOrdering(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	repoID := uuid.New()

	s1 := makeSymbol(repoID, "second", core.KindFunction, "m.py", 20)
	s2 := makeSymbol(repoID, "first", core.KindFunction, "m.py", 3)
	s3 := makeSymbol(repoID, "elsewhere", core.KindFunction, "other.py", 1)
	for _, s := range []*core.Symbol{&s1, &s2, &s3} {
		require.NoError(t, store.UpsertSymbol(ctx, s))
	}

	got, err := store.SymbolsByFile(ctx, repoID, "m.py")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "first", got[0].Name)
	assert.Equal(t, "second", got[1].Name)
}

func TestRepoIsolation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	repoA := uuid.New()
	repoB := uuid.New()

	sa := makeSymbol(repoA, "only_in_a", core.KindFunction, "a.py", 1)
	sb := makeSymbol(repoB, "only_in_b", core.KindFunction, "b.py", 1)
	require.NoError(t, store.UpsertSymbol(ctx, &sa))
	require.NoError(t, store.UpsertSymbol(ctx, &sb))

	got, err := store.SymbolsByRepo(ctx, repoA)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "only_in_a", got[0].Name)
}

func TestUpsertEdgeRetargetsRelationship(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	repoID := uuid.New()

	a := makeSymbol(repoID, "a", core.KindFunction, "m.py", 1)
	b := makeSymbol(repoID, "b", core.KindFunction, "m.py", 10)
	c := makeSymbol(repoID, "c", core.KindFunction, "m.py", 20)
	for _, s := range []*core.Symbol{&a, &b, &c} {
		require.NoError(t, store.UpsertSymbol(ctx, s))
	}

	edge := makeEdge(repoID, a.ID, &b.ID, core.EdgeCalls)
	require.NoError(t, store.UpsertEdge(ctx, &edge))

	edge.TargetID = &c.ID
	require.NoError(t, store.UpsertEdge(ctx, &edge))

	cg, err := store.CallGraph(ctx, repoID)
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{"a": {"c"}}, cg, "old materialization removed on retarget")
}
