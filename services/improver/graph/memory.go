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
	"sort"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianForge/services/improver/core"
)

// Run history key families. Each record is keyed by repo and identity,
// so re-saving the same record is an upsert, and one prefix scan reads
// a repository's whole history.
//
//	f<repo>\x00<id>   finding
//	p<repo>\x00<id>   feature proposal
//	q<repo>\x00<id>   refactor plan
//	O<repo>\x00<id>   job outcome
const (
	prefixFinding  = 'f'
	prefixProposal = 'p'
	prefixPlan     = 'q'
	prefixOutcome  = 'O'
)

// defaultHistoryLimit bounds history queries when the caller passes no
// limit of its own.
const defaultHistoryLimit = 100

// SaveFindings persists analysis findings keyed by identity. Saving
// the same finding twice replaces it.
func (s *Store) SaveFindings(ctx context.Context, findings []core.Finding) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	wb := db.NewWriteBatch()
	defer wb.Cancel()
	for i := range findings {
		if err := setHistoryRecord(wb, prefixFinding, findings[i].RepoID, findings[i].ID, &findings[i]); err != nil {
			return err
		}
	}
	return storageErr(wb.Flush())
}

// SaveProposals persists discovery proposals keyed by identity.
func (s *Store) SaveProposals(ctx context.Context, proposals []core.FeatureProposal) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	wb := db.NewWriteBatch()
	defer wb.Cancel()
	for i := range proposals {
		if err := setHistoryRecord(wb, prefixProposal, proposals[i].RepoID, proposals[i].ID, &proposals[i]); err != nil {
			return err
		}
	}
	return storageErr(wb.Flush())
}

// SavePlans persists refactor plans keyed by identity.
func (s *Store) SavePlans(ctx context.Context, plans []core.RefactorPlan) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	wb := db.NewWriteBatch()
	defer wb.Cancel()
	for i := range plans {
		if err := setHistoryRecord(wb, prefixPlan, plans[i].RepoID, plans[i].ID, &plans[i]); err != nil {
			return err
		}
	}
	return storageErr(wb.Flush())
}

// RecordOutcome persists how one pipeline run ended. A nil ID gets a
// fresh identity so every run leaves its own record.
func (s *Store) RecordOutcome(ctx context.Context, outcome *core.JobOutcome) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if outcome.ID == uuid.Nil {
		outcome.ID = uuid.New()
	}
	wb := db.NewWriteBatch()
	defer wb.Cancel()
	if err := setHistoryRecord(wb, prefixOutcome, outcome.RepoID, outcome.ID, outcome); err != nil {
		return err
	}
	return storageErr(wb.Flush())
}

// FindingsByRepo returns a repository's stored findings, newest first.
// A non-positive limit applies the default.
func (s *Store) FindingsByRepo(ctx context.Context, repoID uuid.UUID, limit int) ([]core.Finding, error) {
	var findings []core.Finding
	err := s.scanHistory(ctx, prefixFinding, repoID, func(val []byte) error {
		var f core.Finding
		if err := json.Unmarshal(val, &f); err != nil {
			return err
		}
		findings = append(findings, f)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(findings, func(i, j int) bool {
		return findings[i].CreatedAt.After(findings[j].CreatedAt)
	})
	return capSlice(findings, limit), nil
}

// ProposalsByRepo returns a repository's stored proposals, newest
// first.
func (s *Store) ProposalsByRepo(ctx context.Context, repoID uuid.UUID, limit int) ([]core.FeatureProposal, error) {
	var proposals []core.FeatureProposal
	err := s.scanHistory(ctx, prefixProposal, repoID, func(val []byte) error {
		var p core.FeatureProposal
		if err := json.Unmarshal(val, &p); err != nil {
			return err
		}
		proposals = append(proposals, p)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(proposals, func(i, j int) bool {
		return proposals[i].CreatedAt.After(proposals[j].CreatedAt)
	})
	return capSlice(proposals, limit), nil
}

// PlansByRepo returns a repository's stored refactor plans, newest
// first.
func (s *Store) PlansByRepo(ctx context.Context, repoID uuid.UUID, limit int) ([]core.RefactorPlan, error) {
	var plans []core.RefactorPlan
	err := s.scanHistory(ctx, prefixPlan, repoID, func(val []byte) error {
		var p core.RefactorPlan
		if err := json.Unmarshal(val, &p); err != nil {
			return err
		}
		plans = append(plans, p)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(plans, func(i, j int) bool {
		return plans[i].CreatedAt.After(plans[j].CreatedAt)
	})
	return capSlice(plans, limit), nil
}

// OutcomesByRepo returns a repository's run outcomes, newest first.
func (s *Store) OutcomesByRepo(ctx context.Context, repoID uuid.UUID, limit int) ([]core.JobOutcome, error) {
	var outcomes []core.JobOutcome
	err := s.scanHistory(ctx, prefixOutcome, repoID, func(val []byte) error {
		var o core.JobOutcome
		if err := json.Unmarshal(val, &o); err != nil {
			return err
		}
		outcomes = append(outcomes, o)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(outcomes, func(i, j int) bool {
		return outcomes[i].CreatedAt.After(outcomes[j].CreatedAt)
	})
	return capSlice(outcomes, limit), nil
}

// SuccessRate returns the fraction of all recorded runs that
// completed. Repositories with no recorded outcomes report 0.
func (s *Store) SuccessRate(ctx context.Context, repoID uuid.UUID) (float64, error) {
	total, completed := 0, 0
	err := s.scanHistory(ctx, prefixOutcome, repoID, func(val []byte) error {
		var o core.JobOutcome
		if err := json.Unmarshal(val, &o); err != nil {
			return err
		}
		total++
		if o.Status == core.JobCompleted {
			completed++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if total == 0 {
		return 0, nil
	}
	return float64(completed) / float64(total), nil
}

func setHistoryRecord(wb *badger.WriteBatch, prefix byte, repoID, id uuid.UUID, record any) error {
	if repoID == uuid.Nil {
		return core.ErrMissingRepo
	}
	if id == uuid.Nil {
		id = uuid.New()
	}
	val, err := json.Marshal(record)
	if err != nil {
		return err
	}
	if err := wb.Set(indexKey(prefix, repoID.String(), id.String()), val); err != nil {
		return storageErr(err)
	}
	return nil
}

// scanHistory walks one history family of one repository, handing each
// stored value to fn.
func (s *Store) scanHistory(ctx context.Context, prefix byte, repoID uuid.UUID, fn func(val []byte) error) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	err = db.View(func(txn *badger.Txn) error {
		keyPrefix := indexKey(prefix, repoID.String(), "")
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(keyPrefix); it.ValidForPrefix(keyPrefix); it.Next() {
			if err := it.Item().Value(fn); err != nil {
				return err
			}
		}
		return nil
	})
	return storageErr(err)
}

func capSlice[T any](in []T, limit int) []T {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if len(in) > limit {
		return in[:limit]
	}
	return in
}
