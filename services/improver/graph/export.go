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
	"encoding/xml"
	"fmt"
	"io"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianForge/services/improver/core"
)

// GraphML attribute keys. Nodes carry name, kind, file path, language
// and the line span; edges carry the relationship kind.
const (
	keyName     = "d0"
	keyKind     = "d1"
	keyFilePath = "d2"
	keyLanguage = "d3"
	keyStart    = "d4"
	keyEnd      = "d5"
	keyEdgeKind = "d6"
)

type graphmlDoc struct {
	XMLName xml.Name     `xml:"graphml"`
	Xmlns   string       `xml:"xmlns,attr"`
	Keys    []graphmlKey `xml:"key"`
	Graph   graphmlGraph `xml:"graph"`
}

type graphmlKey struct {
	ID       string `xml:"id,attr"`
	For      string `xml:"for,attr"`
	AttrName string `xml:"attr.name,attr"`
	AttrType string `xml:"attr.type,attr"`
}

type graphmlGraph struct {
	ID          string        `xml:"id,attr"`
	EdgeDefault string        `xml:"edgedefault,attr"`
	Nodes       []graphmlNode `xml:"node"`
	Edges       []graphmlEdge `xml:"edge"`
}

type graphmlNode struct {
	ID   string        `xml:"id,attr"`
	Data []graphmlData `xml:"data"`
}

type graphmlEdge struct {
	ID     string        `xml:"id,attr"`
	Source string        `xml:"source,attr"`
	Target string        `xml:"target,attr"`
	Data   []graphmlData `xml:"data"`
}

type graphmlData struct {
	Key   string `xml:"key,attr"`
	Value string `xml:",chardata"`
}

func graphmlKeys() []graphmlKey {
	return []graphmlKey{
		{ID: keyName, For: "node", AttrName: "name", AttrType: "string"},
		{ID: keyKind, For: "node", AttrName: "kind", AttrType: "string"},
		{ID: keyFilePath, For: "node", AttrName: "file_path", AttrType: "string"},
		{ID: keyLanguage, For: "node", AttrName: "language", AttrType: "string"},
		{ID: keyStart, For: "node", AttrName: "start_line", AttrType: "int"},
		{ID: keyEnd, For: "node", AttrName: "end_line", AttrType: "int"},
		{ID: keyEdgeKind, For: "edge", AttrName: "kind", AttrType: "string"},
	}
}

// Export writes one repository's materialized graph as a GraphML
// document. Only resolved, materialized relationships appear as edges;
// unresolved imports have no node to point at.
func (s *Store) Export(ctx context.Context, repoID uuid.UUID, w io.Writer) error {
	symbols, err := s.SymbolsByRepo(ctx, repoID)
	if err != nil {
		return err
	}
	db, err := s.handle()
	if err != nil {
		return err
	}

	var rels []relRecord
	err = db.View(func(txn *badger.Txn) error {
		prefix := indexKey(prefixRelOut, repoID.String(), "")
		var err error
		rels, err = scanRels(txn, prefix)
		return err
	})
	if err != nil {
		return storageErr(err)
	}

	doc := graphmlDoc{
		Xmlns: "http://graphml.graphdrawing.org/xmlns",
		Keys:  graphmlKeys(),
		Graph: graphmlGraph{ID: repoID.String(), EdgeDefault: "directed"},
	}
	for _, sym := range symbols {
		doc.Graph.Nodes = append(doc.Graph.Nodes, graphmlNode{
			ID: sym.ID.String(),
			Data: []graphmlData{
				{Key: keyName, Value: sym.Name},
				{Key: keyKind, Value: string(sym.Kind)},
				{Key: keyFilePath, Value: sym.FilePath},
				{Key: keyLanguage, Value: string(sym.Language)},
				{Key: keyStart, Value: fmt.Sprintf("%d", sym.Span.StartLine)},
				{Key: keyEnd, Value: fmt.Sprintf("%d", sym.Span.EndLine)},
			},
		})
	}
	for _, rel := range rels {
		doc.Graph.Edges = append(doc.Graph.Edges, graphmlEdge{
			ID:     rel.EdgeID.String(),
			Source: rel.SourceID.String(),
			Target: rel.TargetID.String(),
			Data:   []graphmlData{{Key: keyEdgeKind, Value: rel.Kind}},
		})
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode graphml: %w", err)
	}
	return enc.Close()
}

// GraphDocument is the bulk-import form: symbols first, then edges,
// each batch applied with the usual upsert semantics.
type GraphDocument struct {
	Symbols []core.Symbol `json:"symbols"`
	Edges   []core.Edge   `json:"edges"`
}

// DecodeGraphML parses a GraphML document produced by Export back into
// a GraphDocument, re-homing every record under repoID. Column
// information is not part of the export and defaults to 1.
func DecodeGraphML(r io.Reader, repoID uuid.UUID) (*GraphDocument, error) {
	var doc graphmlDoc
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: parse graphml: %v", ErrDecode, err)
	}

	out := &GraphDocument{}
	for _, node := range doc.Graph.Nodes {
		id, err := uuid.Parse(node.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: node id %q", ErrDecode, node.ID)
		}
		sym := core.Symbol{
			ID:     id,
			RepoID: repoID,
			Span:   core.Span{StartLine: 1, EndLine: 1, StartCol: 1, EndCol: 1},
		}
		for _, d := range node.Data {
			switch d.Key {
			case keyName:
				sym.Name = d.Value
			case keyKind:
				sym.Kind = core.SymbolKind(d.Value)
			case keyFilePath:
				sym.FilePath = d.Value
			case keyLanguage:
				sym.Language = core.Language(d.Value)
			case keyStart:
				fmt.Sscanf(d.Value, "%d", &sym.Span.StartLine)
			case keyEnd:
				fmt.Sscanf(d.Value, "%d", &sym.Span.EndLine)
			}
		}
		out.Symbols = append(out.Symbols, sym)
	}
	for _, e := range doc.Graph.Edges {
		id, err := uuid.Parse(e.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: edge id %q", ErrDecode, e.ID)
		}
		source, err := uuid.Parse(e.Source)
		if err != nil {
			return nil, fmt.Errorf("%w: edge source %q", ErrDecode, e.Source)
		}
		target, err := uuid.Parse(e.Target)
		if err != nil {
			return nil, fmt.Errorf("%w: edge target %q", ErrDecode, e.Target)
		}
		edge := core.Edge{ID: id, RepoID: repoID, SourceID: source, TargetID: &target}
		for _, d := range e.Data {
			if d.Key == keyEdgeKind {
				edge.Kind = core.EdgeKind(d.Value)
			}
		}
		out.Edges = append(out.Edges, edge)
	}
	return out, nil
}

// ImportBulk upserts a document's symbols, then its edges. Returns the
// number of symbols and edges applied. Re-importing the same document
// is a no-op by upsert semantics.
func (s *Store) ImportBulk(ctx context.Context, doc *GraphDocument) (int, int, error) {
	if doc == nil {
		return 0, 0, fmt.Errorf("%w: nil document", ErrDecode)
	}
	symCount := 0
	for i := range doc.Symbols {
		if err := s.UpsertSymbol(ctx, &doc.Symbols[i]); err != nil {
			return symCount, 0, err
		}
		symCount++
	}
	edgeCount := 0
	for i := range doc.Edges {
		if err := s.UpsertEdge(ctx, &doc.Edges[i]); err != nil {
			return symCount, edgeCount, err
		}
		edgeCount++
	}
	return symCount, edgeCount, nil
}
