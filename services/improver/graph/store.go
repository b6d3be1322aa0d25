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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianForge/services/improver/core"
)

// Key families. Record keys carry the full entity; index keys are
// key-only except the relationship families, whose values carry a
// small relationship record for prefix scans.
//
//	s<id>                              symbol record
//	e<id>                              edge record
//	R<repo>\x00<id>                    symbol by repo
//	F<repo>\x00<path>\x00<id>          symbol by file
//	N<repo>\x00<name>\x00<id>          symbol by name
//	K<repo>\x00<kind>\x00<id>          symbol by kind
//	E<repo>\x00<edge id>               edge by repo
//	o<repo>\x00<source>\x00<edge id>   outgoing relationship
//	i<repo>\x00<target>\x00<edge id>   incoming relationship
//	k<repo>\x00<kind>\x00<edge id>     relationship by kind
//
// UUIDs appear in their 36-char string form so the separator byte
// never collides with key content.
const (
	prefixSymbol      = 's'
	prefixEdge        = 'e'
	prefixSymRepoIdx  = 'R'
	prefixSymFileIdx  = 'F'
	prefixSymNameIdx  = 'N'
	prefixSymKindIdx  = 'K'
	prefixEdgeRepoIdx = 'E'
	prefixRelOut      = 'o'
	prefixRelIn       = 'i'
	prefixRelKind     = 'k'
)

const keySep byte = 0x00

// uuidKeyLen is the length of a UUID in string form, used to slice the
// trailing identity off index keys.
const uuidKeyLen = 36

// relRecord is the materialized relationship stored under the
// relationship key families. It exists only for resolved edges whose
// endpoints are both present in the store.
type relRecord struct {
	EdgeID   uuid.UUID `json:"edge_id"`
	SourceID uuid.UUID `json:"source_id"`
	TargetID uuid.UUID `json:"target_id"`
	Kind     string    `json:"kind"`
}

// Config controls how the backing database is opened.
type Config struct {
	// DataDir is the on-disk location. Ignored when InMemory is set.
	DataDir string
	// InMemory keeps everything in RAM. Used by tests and the doctor
	// command.
	InMemory bool
	// SyncWrites forces an fsync per write batch.
	SyncWrites bool
	// Logger receives store-level logs. Defaults to slog.Default().
	Logger *slog.Logger
}

// Store is the BadgerDB-backed knowledge graph. Create with New, then
// Connect before use.
type Store struct {
	mu     sync.RWMutex
	cfg    Config
	db     *badger.DB
	logger *slog.Logger
}

// New creates an unconnected Store.
func New(cfg Config) *Store {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{cfg: cfg, logger: logger}
}

// NewInMemory creates an unconnected in-memory Store. Intended for
// tests and preflight checks.
func NewInMemory() *Store {
	return New(Config{InMemory: true})
}

// Connect opens the backing database. Calling Connect on an already
// connected store is a no-op.
func (s *Store) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return nil
	}

	opts := badger.DefaultOptions(s.cfg.DataDir).
		WithInMemory(s.cfg.InMemory).
		WithSyncWrites(s.cfg.SyncWrites).
		WithLogger(nil)
	if s.cfg.InMemory {
		opts.Dir = ""
		opts.ValueDir = ""
	}

	db, err := badger.Open(opts)
	if err != nil {
		return fmt.Errorf("%w: open badger at %q: %v", ErrUnavailable, s.cfg.DataDir, err)
	}
	s.db = db
	s.logger.Info("graph store connected",
		slog.String("data_dir", s.cfg.DataDir),
		slog.Bool("in_memory", s.cfg.InMemory))
	return nil
}

// Close releases the backing database. Safe to call more than once.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	if err != nil {
		return fmt.Errorf("%w: close: %v", ErrUnavailable, err)
	}
	return nil
}

// handle returns the open database or ErrNotConnected.
func (s *Store) handle() (*badger.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, ErrNotConnected
	}
	return s.db, nil
}

// storageErr folds Badger transaction failures into ErrUnavailable.
func storageErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func recordKey(prefix byte, id uuid.UUID) []byte {
	return append([]byte{prefix}, id.String()...)
}

func indexKey(prefix byte, parts ...string) []byte {
	key := []byte{prefix}
	for i, p := range parts {
		if i > 0 {
			key = append(key, keySep)
		}
		key = append(key, p...)
	}
	return key
}

// trailingID parses the UUID at the end of an index key.
func trailingID(key []byte) (uuid.UUID, error) {
	if len(key) < uuidKeyLen {
		return uuid.Nil, fmt.Errorf("%w: short index key", ErrDecode)
	}
	return uuid.Parse(string(key[len(key)-uuidKeyLen:]))
}

// symbolIndexKeys returns every secondary index key a symbol owns.
func symbolIndexKeys(sym *core.Symbol) [][]byte {
	repo := sym.RepoID.String()
	id := sym.ID.String()
	return [][]byte{
		indexKey(prefixSymRepoIdx, repo, id),
		indexKey(prefixSymFileIdx, repo, sym.FilePath, id),
		indexKey(prefixSymNameIdx, repo, sym.Name, id),
		indexKey(prefixSymKindIdx, repo, string(sym.Kind), id),
	}
}

// relKeys returns the three relationship keys for a resolved edge.
func relKeys(repoID, sourceID, targetID, edgeID uuid.UUID, kind core.EdgeKind) [][]byte {
	repo := repoID.String()
	id := edgeID.String()
	return [][]byte{
		indexKey(prefixRelOut, repo, sourceID.String(), id),
		indexKey(prefixRelIn, repo, targetID.String(), id),
		indexKey(prefixRelKind, repo, string(kind), id),
	}
}

// UpsertSymbol inserts or merges a symbol keyed by its identity.
// Re-upserting the same identity replaces attributes instead of
// duplicating the record, and keeps the secondary indexes consistent
// when name, kind or path changed.
func (s *Store) UpsertSymbol(ctx context.Context, sym *core.Symbol) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := sym.Validate(); err != nil {
		return fmt.Errorf("upsert symbol %s: %w", sym.ID, err)
	}

	value, err := json.Marshal(sym)
	if err != nil {
		return fmt.Errorf("%w: marshal symbol: %v", ErrDecode, err)
	}

	err = db.Update(func(txn *badger.Txn) error {
		key := recordKey(prefixSymbol, sym.ID)

		// Drop stale index entries when the indexed fields moved.
		if old, err := getSymbolTxn(txn, sym.ID); err != nil {
			return err
		} else if old != nil {
			for _, k := range symbolIndexKeys(old) {
				if err := txn.Delete(k); err != nil {
					return err
				}
			}
		}

		if err := txn.Set(key, value); err != nil {
			return err
		}
		for _, k := range symbolIndexKeys(sym) {
			if err := txn.Set(k, nil); err != nil {
				return err
			}
		}
		return nil
	})
	return storageErr(err)
}

// UpsertEdge inserts or merges an edge keyed by its identity, then
// materializes the relationship index for resolved edges whose
// endpoints both exist. Unresolved targets (external imports) keep the
// edge record but skip materialization, so derived queries only see
// relationships between known symbols.
func (s *Store) UpsertEdge(ctx context.Context, edge *core.Edge) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := edge.Validate(); err != nil {
		return fmt.Errorf("upsert edge %s: %w", edge.ID, err)
	}

	value, err := json.Marshal(edge)
	if err != nil {
		return fmt.Errorf("%w: marshal edge: %v", ErrDecode, err)
	}

	err = db.Update(func(txn *badger.Txn) error {
		// Remove any previous materialization; endpoints or kind may
		// have changed under the same edge identity.
		if old, err := getEdgeTxn(txn, edge.ID); err != nil {
			return err
		} else if old != nil && old.Resolved() {
			for _, k := range relKeys(old.RepoID, old.SourceID, *old.TargetID, old.ID, old.Kind) {
				if err := txn.Delete(k); err != nil {
					return err
				}
			}
		}

		if err := txn.Set(recordKey(prefixEdge, edge.ID), value); err != nil {
			return err
		}
		repo := edge.RepoID.String()
		if err := txn.Set(indexKey(prefixEdgeRepoIdx, repo, edge.ID.String()), nil); err != nil {
			return err
		}

		if !edge.Resolved() {
			return nil
		}
		srcExists, err := existsTxn(txn, recordKey(prefixSymbol, edge.SourceID))
		if err != nil {
			return err
		}
		dstExists, err := existsTxn(txn, recordKey(prefixSymbol, *edge.TargetID))
		if err != nil {
			return err
		}
		if !srcExists || !dstExists {
			s.logger.Debug("skipping relationship for edge with missing endpoint",
				slog.String("edge_id", edge.ID.String()))
			return nil
		}

		rel := relRecord{
			EdgeID:   edge.ID,
			SourceID: edge.SourceID,
			TargetID: *edge.TargetID,
			Kind:     string(edge.Kind),
		}
		relValue, err := json.Marshal(rel)
		if err != nil {
			return err
		}
		for _, k := range relKeys(edge.RepoID, edge.SourceID, *edge.TargetID, edge.ID, edge.Kind) {
			if err := txn.Set(k, relValue); err != nil {
				return err
			}
		}
		return nil
	})
	return storageErr(err)
}

func existsTxn(txn *badger.Txn, key []byte) (bool, error) {
	_, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func getSymbolTxn(txn *badger.Txn, id uuid.UUID) (*core.Symbol, error) {
	item, err := txn.Get(recordKey(prefixSymbol, id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var sym core.Symbol
	if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &sym) }); err != nil {
		return nil, err
	}
	return &sym, nil
}

func getEdgeTxn(txn *badger.Txn, id uuid.UUID) (*core.Edge, error) {
	item, err := txn.Get(recordKey(prefixEdge, id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var edge core.Edge
	if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &edge) }); err != nil {
		return nil, err
	}
	return &edge, nil
}

// GetSymbol looks a symbol up by identity. A missing symbol returns
// (nil, nil); absence is not an error.
func (s *Store) GetSymbol(ctx context.Context, id uuid.UUID) (*core.Symbol, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var sym *core.Symbol
	err = db.View(func(txn *badger.Txn) error {
		var err error
		sym, err = getSymbolTxn(txn, id)
		return err
	})
	return sym, storageErr(err)
}

// GetEdge looks an edge up by identity. A missing edge returns
// (nil, nil).
func (s *Store) GetEdge(ctx context.Context, id uuid.UUID) (*core.Edge, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var edge *core.Edge
	err = db.View(func(txn *badger.Txn) error {
		var err error
		edge, err = getEdgeTxn(txn, id)
		return err
	})
	return edge, storageErr(err)
}

// scanTrailingIDs collects the UUIDs at the end of every key under
// prefix.
func scanTrailingIDs(txn *badger.Txn, prefix []byte) ([]uuid.UUID, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	var ids []uuid.UUID
	for it.Rewind(); it.Valid(); it.Next() {
		id, err := trailingID(it.Item().Key())
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// scanRels decodes every relationship record under prefix.
func scanRels(txn *badger.Txn, prefix []byte) ([]relRecord, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	var rels []relRecord
	for it.Rewind(); it.Valid(); it.Next() {
		var rel relRecord
		err := it.Item().Value(func(v []byte) error { return json.Unmarshal(v, &rel) })
		if err != nil {
			return nil, err
		}
		rels = append(rels, rel)
	}
	return rels, nil
}

// loadSymbols fetches symbol records for ids, skipping dangling index
// entries.
func loadSymbols(txn *badger.Txn, ids []uuid.UUID) ([]core.Symbol, error) {
	out := make([]core.Symbol, 0, len(ids))
	for _, id := range ids {
		sym, err := getSymbolTxn(txn, id)
		if err != nil {
			return nil, err
		}
		if sym != nil {
			out = append(out, *sym)
		}
	}
	return out, nil
}

// SymbolsByRepo returns every symbol of a repository ordered by file
// path then start line.
func (s *Store) SymbolsByRepo(ctx context.Context, repoID uuid.UUID) ([]core.Symbol, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var symbols []core.Symbol
	err = db.View(func(txn *badger.Txn) error {
		prefix := indexKey(prefixSymRepoIdx, repoID.String(), "")
		ids, err := scanTrailingIDs(txn, prefix)
		if err != nil {
			return err
		}
		symbols, err = loadSymbols(txn, ids)
		return err
	})
	if err != nil {
		return nil, storageErr(err)
	}
	sort.Slice(symbols, func(i, j int) bool {
		if symbols[i].FilePath != symbols[j].FilePath {
			return symbols[i].FilePath < symbols[j].FilePath
		}
		if symbols[i].Span.StartLine != symbols[j].Span.StartLine {
			return symbols[i].Span.StartLine < symbols[j].Span.StartLine
		}
		return symbols[i].Name < symbols[j].Name
	})
	return symbols, nil
}

// SymbolsByFile returns the symbols of one file ordered by start line.
func (s *Store) SymbolsByFile(ctx context.Context, repoID uuid.UUID, path string) ([]core.Symbol, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var symbols []core.Symbol
	err = db.View(func(txn *badger.Txn) error {
		prefix := indexKey(prefixSymFileIdx, repoID.String(), path, "")
		ids, err := scanTrailingIDs(txn, prefix)
		if err != nil {
			return err
		}
		symbols, err = loadSymbols(txn, ids)
		return err
	})
	if err != nil {
		return nil, storageErr(err)
	}
	sort.Slice(symbols, func(i, j int) bool {
		if symbols[i].Span.StartLine != symbols[j].Span.StartLine {
			return symbols[i].Span.StartLine < symbols[j].Span.StartLine
		}
		return symbols[i].Name < symbols[j].Name
	})
	return symbols, nil
}

// EdgesByRepo returns every edge of a repository, resolved or not.
func (s *Store) EdgesByRepo(ctx context.Context, repoID uuid.UUID) ([]core.Edge, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var edges []core.Edge
	err = db.View(func(txn *badger.Txn) error {
		prefix := indexKey(prefixEdgeRepoIdx, repoID.String(), "")
		ids, err := scanTrailingIDs(txn, prefix)
		if err != nil {
			return err
		}
		for _, id := range ids {
			edge, err := getEdgeTxn(txn, id)
			if err != nil {
				return err
			}
			if edge != nil {
				edges = append(edges, *edge)
			}
		}
		return nil
	})
	if err != nil {
		return nil, storageErr(err)
	}
	return edges, nil
}

// symbolName resolves a symbol id to its name with a per-query cache.
func symbolName(txn *badger.Txn, cache map[uuid.UUID]string, id uuid.UUID) (string, bool, error) {
	if name, ok := cache[id]; ok {
		return name, true, nil
	}
	sym, err := getSymbolTxn(txn, id)
	if err != nil || sym == nil {
		return "", false, err
	}
	cache[id] = sym.Name
	return sym.Name, true, nil
}
