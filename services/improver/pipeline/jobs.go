// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pipeline runs the improvement pipeline: acquire a
// repository, index and extract it into the knowledge graph, analyze,
// propose, plan, and optionally apply changes. Jobs are tracked in an
// in-memory registry; state survives as long as the process does.
package pipeline

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianForge/services/improver/core"
)

// trackedJob pairs the job record with its cooperative cancel flag.
type trackedJob struct {
	job             core.Job
	cancelRequested bool
}

// Registry is the mutex-guarded job table. Reads return snapshot
// copies so callers never observe a job mid-update and never block the
// pipeline. Terminal jobs are immutable; every mutator checks before
// writing.
type Registry struct {
	mu     sync.RWMutex
	jobs   map[uuid.UUID]*trackedJob
	logger *slog.Logger
}

// NewRegistry creates an empty Registry. A nil logger falls back to
// slog.Default().
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{jobs: make(map[uuid.UUID]*trackedJob), logger: logger}
}

// Create registers a new pending job and returns its snapshot. Every
// submission gets a fresh identity; there is no resumption.
func (r *Registry) Create(kind string, repoID uuid.UUID) core.Job {
	job := core.Job{
		ID:        uuid.New(),
		Kind:      kind,
		RepoID:    repoID,
		Status:    core.JobPending,
		CreatedAt: time.Now().UTC(),
	}
	r.mu.Lock()
	r.jobs[job.ID] = &trackedJob{job: job}
	r.mu.Unlock()
	return job
}

// Get returns a snapshot of the job, or false when the id is unknown.
func (r *Registry) Get(id uuid.UUID) (core.Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tracked, ok := r.jobs[id]
	if !ok {
		return core.Job{}, false
	}
	return tracked.job.Clone(), true
}

// List returns snapshots of every known job.
func (r *Registry) List() []core.Job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.Job, 0, len(r.jobs))
	for _, tracked := range r.jobs {
		out = append(out, tracked.job.Clone())
	}
	return out
}

// RequestCancel flips the cooperative cancel flag. The pipeline checks
// it between stages; a pending job that has not started yet is
// cancelled immediately. Returns false for unknown or already terminal
// jobs.
func (r *Registry) RequestCancel(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	tracked, ok := r.jobs[id]
	if !ok || tracked.job.Status.Terminal() {
		return false
	}
	tracked.cancelRequested = true
	if tracked.job.Status == core.JobPending {
		r.finishLocked(tracked, core.JobCancelled, "")
	}
	return true
}

// cancelRequested reports the cooperative flag.
func (r *Registry) cancelRequested(id uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tracked, ok := r.jobs[id]
	return ok && tracked.cancelRequested
}

// start moves a pending job to running.
func (r *Registry) start(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tracked, ok := r.jobs[id]
	if !ok || tracked.job.Status.Terminal() {
		return
	}
	now := time.Now().UTC()
	tracked.job.Status = core.JobRunning
	tracked.job.StartedAt = &now
}

// setProgress raises the progress value. Progress is monotonic;
// regressions and out-of-range values are clamped away.
func (r *Registry) setProgress(id uuid.UUID, p float64) {
	if p < 0 || p > 1 {
		r.logger.Warn("clamping job progress",
			slog.String("job_id", id.String()),
			slog.Float64("progress", p),
			slog.String("error", core.ErrBadProgress.Error()))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	tracked, ok := r.jobs[id]
	if !ok || tracked.job.Status.Terminal() {
		return
	}
	if p > 1 {
		p = 1
	}
	if p > tracked.job.Progress {
		tracked.job.Progress = p
	}
}

// complete marks a job completed with its result payload and full
// progress.
func (r *Registry) complete(id uuid.UUID, result map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tracked, ok := r.jobs[id]
	if !ok || tracked.job.Status.Terminal() {
		return
	}
	tracked.job.Result = result
	tracked.job.Progress = 1
	r.finishLocked(tracked, core.JobCompleted, "")
}

// fail marks a job failed with the captured message. No retry happens;
// resubmission creates a new job.
func (r *Registry) fail(id uuid.UUID, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tracked, ok := r.jobs[id]
	if !ok || tracked.job.Status.Terminal() {
		return
	}
	r.finishLocked(tracked, core.JobFailed, message)
}

// markCancelled finalizes a cooperatively cancelled job.
func (r *Registry) markCancelled(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tracked, ok := r.jobs[id]
	if !ok || tracked.job.Status.Terminal() {
		return
	}
	r.finishLocked(tracked, core.JobCancelled, "")
}

// finishLocked stamps a terminal state. Callers hold the write lock.
func (r *Registry) finishLocked(tracked *trackedJob, status core.JobStatus, message string) {
	now := time.Now().UTC()
	tracked.job.Status = status
	tracked.job.CompletedAt = &now
	tracked.job.ErrorMessage = message
	r.logger.Info("job finished",
		slog.String("job_id", tracked.job.ID.String()),
		slog.String("status", string(status)))
}
