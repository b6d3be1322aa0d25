// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package modify

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianForge/services/improver/core"
)

// Apply errors.
var (
	// ErrDrift is returned when the on-disk file no longer matches the
	// content the patch was generated from.
	ErrDrift = errors.New("file changed since patch was generated")

	// ErrOutsideRepo is returned for patch paths escaping the working
	// copy.
	ErrOutsideRepo = errors.New("patch path escapes working copy")
)

// Applier writes plans into a working copy. Patches carry the original
// content, so every apply is reversible through Rollback.
type Applier struct {
	logger *slog.Logger
}

// NewApplier creates an Applier. A nil logger falls back to
// slog.Default().
func NewApplier(logger *slog.Logger) *Applier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Applier{logger: logger}
}

// BuildPatches turns a plan's full-file replacements into patches with
// rendered, validated unified diffs. Changes whose replacement equals
// the current content are dropped.
func (a *Applier) BuildPatches(root string, plan *core.RefactorPlan) ([]core.Patch, error) {
	var patches []core.Patch
	for _, change := range plan.Changes {
		abs, err := insideRepo(root, change.FilePath)
		if err != nil {
			return nil, err
		}
		current, err := os.ReadFile(abs)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read %s: %w", change.FilePath, err)
		}

		original := string(current)
		if original == change.Replacement {
			continue
		}
		rendered := UnifiedDiff(change.FilePath, original, change.Replacement)
		if err := ValidateDiff(rendered); err != nil {
			return nil, fmt.Errorf("%s: %w", change.FilePath, err)
		}

		planID := plan.ID
		patches = append(patches, core.Patch{
			ID:       uuid.New(),
			RepoID:   plan.RepoID,
			PlanID:   &planID,
			FilePath: change.FilePath,
			Original: original,
			Modified: change.Replacement,
			Diff:     rendered,
		})
	}
	return patches, nil
}

// Apply writes one patch after checking the working copy still matches
// the patch's original content.
func (a *Applier) Apply(root string, patch *core.Patch) error {
	abs, err := insideRepo(root, patch.FilePath)
	if err != nil {
		return err
	}
	current, err := os.ReadFile(abs)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read %s: %w", patch.FilePath, err)
	}
	if string(current) != patch.Original {
		return fmt.Errorf("%w: %s", ErrDrift, patch.FilePath)
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(abs, []byte(patch.Modified), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", patch.FilePath, err)
	}

	now := time.Now().UTC()
	patch.Applied = true
	patch.AppliedAt = &now
	a.logger.Info("applied patch", slog.String("file", patch.FilePath))
	return nil
}

// Rollback restores a previously applied patch's original content.
func (a *Applier) Rollback(root string, patch *core.Patch) error {
	if !patch.Applied {
		return nil
	}
	abs, err := insideRepo(root, patch.FilePath)
	if err != nil {
		return err
	}
	if err := os.WriteFile(abs, []byte(patch.Original), 0o644); err != nil {
		return fmt.Errorf("rollback %s: %w", patch.FilePath, err)
	}
	patch.Applied = false
	patch.AppliedAt = nil
	return nil
}

// insideRepo resolves rel under root and rejects traversal outside it.
func insideRepo(root, rel string) (string, error) {
	abs := filepath.Join(root, filepath.FromSlash(rel))
	cleanRoot := filepath.Clean(root) + string(filepath.Separator)
	if !strings.HasPrefix(abs, cleanRoot) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRepo, rel)
	}
	return abs, nil
}
