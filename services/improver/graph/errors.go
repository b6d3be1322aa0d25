// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graph is the persistent code knowledge graph store.
//
// Symbols and edges are keyed by repository so one store holds many
// repositories side by side. The store is backed by an embedded
// BadgerDB instance; secondary index key families stand in for the
// uniqueness constraints and lookup indexes a server-side graph
// database would declare, so derived queries never scan the whole
// keyspace.
//
// # Lifecycle
//
// A Store must be connected before use:
//  1. Create with New(cfg) or NewInMemory()
//  2. Call Connect() to open the backing database
//  3. Upsert and query
//  4. Call Close() when done
//
// Operations invoked before Connect return ErrNotConnected. Failures
// of the backing database surface as ErrUnavailable so callers can
// tell infrastructure trouble from bad input.
//
// # Thread Safety
//
// Store is safe for concurrent use. Writes run in serializable Badger
// transactions; reads see a consistent snapshot.
package graph

import "errors"

// Sentinel errors for graph store operations.
var (
	// ErrNotConnected is returned when an operation runs before
	// Connect() or after Close().
	ErrNotConnected = errors.New("graph store is not connected")

	// ErrUnavailable is returned when the backing database cannot be
	// opened or a transaction fails at the storage layer.
	ErrUnavailable = errors.New("graph store unavailable")

	// ErrDecode is returned when a stored record or an imported
	// document cannot be decoded.
	ErrDecode = errors.New("cannot decode graph record")
)
