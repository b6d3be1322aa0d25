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
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianForge/services/improver/core"
)

// DefaultCloneTimeout bounds a single git invocation.
const DefaultCloneTimeout = 5 * time.Minute

// RepoMetadata is what the cloner reads back from the working copy.
type RepoMetadata struct {
	RemoteURL string `json:"remote_url"`
	Branch    string `json:"branch"`
	Commit    string `json:"commit"`
}

// ClonerOption configures a Cloner.
type ClonerOption func(*Cloner)

// WithCloneBaseDir places working copies under dir instead of the
// system temp directory.
func WithCloneBaseDir(dir string) ClonerOption {
	return func(c *Cloner) {
		if dir != "" {
			c.baseDir = dir
		}
	}
}

// WithCloneTimeout bounds each git invocation.
func WithCloneTimeout(d time.Duration) ClonerOption {
	return func(c *Cloner) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithCloneLogger sets the logger.
func WithCloneLogger(logger *slog.Logger) ClonerOption {
	return func(c *Cloner) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Cloner checks repositories out into throwaway working copies using
// the git binary. Safe for concurrent use.
type Cloner struct {
	baseDir string
	timeout time.Duration
	logger  *slog.Logger
}

// NewCloner creates a Cloner with defaults: system temp dir, five
// minute timeout.
func NewCloner(opts ...ClonerOption) *Cloner {
	c := &Cloner{
		baseDir: os.TempDir(),
		timeout: DefaultCloneTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Clone checks spec.URL out into a fresh temp directory and returns
// its path plus the metadata read back from the working copy. Shallow
// clones are used unless a specific commit is pinned. The directory is
// removed again on any failure.
func (c *Cloner) Clone(ctx context.Context, spec core.RepoSpec) (string, *RepoMetadata, error) {
	if err := spec.Validate(); err != nil {
		return "", nil, err
	}

	dest, err := os.MkdirTemp(c.baseDir, "forge-clone-*")
	if err != nil {
		return "", nil, fmt.Errorf("%w: temp dir: %v", ErrCloneFailed, err)
	}

	args := []string{"clone", "--quiet"}
	if spec.Commit == "" {
		args = append(args, "--depth", "1")
		if spec.Branch != "" {
			args = append(args, "--branch", spec.Branch, "--single-branch")
		}
	}
	args = append(args, spec.URL, dest)

	c.logger.Info("cloning repository",
		slog.String("url", spec.URL),
		slog.String("branch", spec.Branch),
		slog.String("dest", dest))

	if err := c.git(ctx, "", args...); err != nil {
		_ = os.RemoveAll(dest)
		return "", nil, err
	}

	if spec.Commit != "" {
		if err := c.git(ctx, dest, "checkout", "--quiet", spec.Commit); err != nil {
			_ = os.RemoveAll(dest)
			return "", nil, err
		}
	}

	meta, err := c.readMetadata(ctx, dest, spec.URL)
	if err != nil {
		_ = os.RemoveAll(dest)
		return "", nil, err
	}
	return dest, meta, nil
}

// Release removes a working copy. Releasing a path twice, or a path
// that never existed, is not an error.
func (c *Cloner) Release(path string) error {
	if path == "" {
		return nil
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("release working copy %q: %w", path, err)
	}
	return nil
}

// git runs one git command, in dir when set, with the cloner timeout.
func (c *Cloner) git(ctx context.Context, dir string, args ...string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if dir != "" {
		args = append([]string{"-C", dir}, args...)
	}
	cmd := exec.CommandContext(ctx, "git", args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: git %s: %v: %s",
			ErrCloneFailed, strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

func (c *Cloner) gitOutput(ctx context.Context, dir string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", dir}, args...)...)
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("%w: git %s: %v", ErrCloneFailed, strings.Join(args, " "), err)
	}
	return strings.TrimSpace(string(out)), nil
}

func (c *Cloner) readMetadata(ctx context.Context, dir, url string) (*RepoMetadata, error) {
	commit, err := c.gitOutput(ctx, dir, "rev-parse", "HEAD")
	if err != nil {
		return nil, err
	}
	branch, err := c.gitOutput(ctx, dir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return nil, err
	}
	return &RepoMetadata{RemoteURL: url, Branch: branch, Commit: commit}, nil
}
