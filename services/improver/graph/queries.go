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
	"strings"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianForge/services/improver/core"
)

// MaxCycles caps how many cycles a single Cycles call reports.
const MaxCycles = 100

// ValidationGap is a parameterized function with no outgoing
// relationship to anything that looks like a validator.
type ValidationGap struct {
	Name       string   `json:"name"`
	FilePath   string   `json:"file_path"`
	Parameters []string `json:"parameters"`
}

// CallGraph maps each caller name to the ordered list of callee names
// it reaches through materialized call relationships. Multiple edges
// between the same pair contribute one entry per edge; duplicates are
// information, not noise.
func (s *Store) CallGraph(ctx context.Context, repoID uuid.UUID) (map[string][]string, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := make(map[string][]string)
	err = db.View(func(txn *badger.Txn) error {
		prefix := indexKey(prefixRelKind, repoID.String(), string(core.EdgeCalls), "")
		rels, err := scanRels(txn, prefix)
		if err != nil {
			return err
		}
		names := make(map[uuid.UUID]string)
		for _, rel := range rels {
			caller, ok, err := symbolName(txn, names, rel.SourceID)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			callee, ok, err := symbolName(txn, names, rel.TargetID)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			result[caller] = append(result[caller], callee)
		}
		return nil
	})
	if err != nil {
		return nil, storageErr(err)
	}
	return result, nil
}

// OrphanSymbols returns every non-module symbol with zero incoming
// relationships, ordered like SymbolsByRepo.
func (s *Store) OrphanSymbols(ctx context.Context, repoID uuid.UUID) ([]core.Symbol, error) {
	symbols, err := s.SymbolsByRepo(ctx, repoID)
	if err != nil {
		return nil, err
	}
	db, err := s.handle()
	if err != nil {
		return nil, err
	}

	var orphans []core.Symbol
	err = db.View(func(txn *badger.Txn) error {
		for _, sym := range symbols {
			if sym.Kind == core.KindModule {
				continue
			}
			prefix := indexKey(prefixRelIn, repoID.String(), sym.ID.String(), "")
			incoming, err := hasKeyWithPrefix(txn, prefix)
			if err != nil {
				return err
			}
			if !incoming {
				orphans = append(orphans, sym)
			}
		}
		return nil
	})
	if err != nil {
		return nil, storageErr(err)
	}
	return orphans, nil
}

func hasKeyWithPrefix(txn *badger.Txn, prefix []byte) (bool, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()
	it.Rewind()
	return it.Valid(), nil
}

// Cycles finds relationship cycles and reports each as the ordered
// symbol-name path, closed on the starting name. Results are capped at
// MaxCycles; large tangles are better inspected through an export.
func (s *Store) Cycles(ctx context.Context, repoID uuid.UUID) ([][]string, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var cycles [][]string
	err = db.View(func(txn *badger.Txn) error {
		prefix := indexKey(prefixRelOut, repoID.String(), "")
		rels, err := scanRels(txn, prefix)
		if err != nil {
			return err
		}

		adjacency := make(map[uuid.UUID][]uuid.UUID)
		for _, rel := range rels {
			adjacency[rel.SourceID] = append(adjacency[rel.SourceID], rel.TargetID)
		}

		names := make(map[uuid.UUID]string)
		seen := make(map[string]bool)
		var stack []uuid.UUID
		onStack := make(map[uuid.UUID]int)
		visited := make(map[uuid.UUID]bool)

		var visit func(node uuid.UUID) error
		visit = func(node uuid.UUID) error {
			if len(cycles) >= MaxCycles {
				return nil
			}
			onStack[node] = len(stack)
			stack = append(stack, node)

			for _, next := range adjacency[node] {
				if idx, ok := onStack[next]; ok {
					cycle := append([]uuid.UUID{}, stack[idx:]...)
					if sig := cycleSignature(cycle); !seen[sig] {
						seen[sig] = true
						path, err := cycleNames(txn, names, cycle)
						if err != nil {
							return err
						}
						if path != nil {
							cycles = append(cycles, path)
						}
					}
					continue
				}
				if visited[next] {
					continue
				}
				if err := visit(next); err != nil {
					return err
				}
			}

			stack = stack[:len(stack)-1]
			delete(onStack, node)
			visited[node] = true
			return nil
		}

		for node := range adjacency {
			if visited[node] {
				continue
			}
			if err := visit(node); err != nil {
				return err
			}
			if len(cycles) >= MaxCycles {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, storageErr(err)
	}
	return cycles, nil
}

// cycleSignature canonicalizes a cycle to its rotation starting at the
// smallest id, so the same loop discovered from different entry points
// is reported once.
func cycleSignature(cycle []uuid.UUID) string {
	min := 0
	for i := 1; i < len(cycle); i++ {
		if cycle[i].String() < cycle[min].String() {
			min = i
		}
	}
	var b strings.Builder
	for i := 0; i < len(cycle); i++ {
		b.WriteString(cycle[(min+i)%len(cycle)].String())
		b.WriteByte('>')
	}
	return b.String()
}

// cycleNames resolves a cycle's ids to names and closes the path on
// the starting name. Cycles touching deleted symbols are dropped.
func cycleNames(txn *badger.Txn, cache map[uuid.UUID]string, cycle []uuid.UUID) ([]string, error) {
	path := make([]string, 0, len(cycle)+1)
	for _, id := range cycle {
		name, ok, err := symbolName(txn, cache, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}
		path = append(path, name)
	}
	return append(path, path[0]), nil
}

// EndpointsWithoutValidation returns parameterized functions with no
// outgoing relationship to a symbol whose name suggests validation
// ("validate" or "check", case-insensitive). A name-based screen, so
// expect false positives; it exists to focus review, not to prove
// safety.
func (s *Store) EndpointsWithoutValidation(ctx context.Context, repoID uuid.UUID) ([]ValidationGap, error) {
	symbols, err := s.SymbolsByRepo(ctx, repoID)
	if err != nil {
		return nil, err
	}
	db, err := s.handle()
	if err != nil {
		return nil, err
	}

	var gaps []ValidationGap
	err = db.View(func(txn *badger.Txn) error {
		names := make(map[uuid.UUID]string)
		for _, sym := range symbols {
			if sym.Kind != core.KindFunction {
				continue
			}
			params := sym.StringParams()
			if len(params) == 0 {
				continue
			}

			prefix := indexKey(prefixRelOut, repoID.String(), sym.ID.String(), "")
			rels, err := scanRels(txn, prefix)
			if err != nil {
				return err
			}
			validated := false
			for _, rel := range rels {
				target, ok, err := symbolName(txn, names, rel.TargetID)
				if err != nil {
					return err
				}
				if !ok {
					continue
				}
				lower := strings.ToLower(target)
				if strings.Contains(lower, "validate") || strings.Contains(lower, "check") {
					validated = true
					break
				}
			}
			if !validated {
				gaps = append(gaps, ValidationGap{
					Name:       sym.Name,
					FilePath:   sym.FilePath,
					Parameters: params,
				})
			}
		}
		return nil
	})
	if err != nil {
		return nil, storageErr(err)
	}
	return gaps, nil
}
