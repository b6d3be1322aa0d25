// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianForge/services/improver/core"
)

func TestRegistryCreateAndGet(t *testing.T) {
	reg := NewRegistry(nil)
	repoID := uuid.New()

	job := reg.Create("enhance", repoID)
	assert.Equal(t, core.JobPending, job.Status)
	assert.Equal(t, repoID, job.RepoID)
	assert.Zero(t, job.Progress)

	got, ok := reg.Get(job.ID)
	require.True(t, ok)
	assert.Equal(t, job.ID, got.ID)

	_, ok = reg.Get(uuid.New())
	assert.False(t, ok)
}

func TestRegistryProgressIsMonotonic(t *testing.T) {
	reg := NewRegistry(nil)
	job := reg.Create("enhance", uuid.New())
	reg.start(job.ID)

	reg.setProgress(job.ID, 0.5)
	reg.setProgress(job.ID, 0.3)
	got, _ := reg.Get(job.ID)
	assert.Equal(t, 0.5, got.Progress)

	reg.setProgress(job.ID, 7)
	got, _ = reg.Get(job.ID)
	assert.Equal(t, 1.0, got.Progress)
}

func TestRegistryProgressRejectsNegativeValues(t *testing.T) {
	reg := NewRegistry(nil)
	job := reg.Create("enhance", uuid.New())
	reg.start(job.ID)

	reg.setProgress(job.ID, 0.4)
	reg.setProgress(job.ID, -0.5)
	got, _ := reg.Get(job.ID)
	assert.Equal(t, 0.4, got.Progress)

	fresh := reg.Create("enhance", uuid.New())
	reg.start(fresh.ID)
	reg.setProgress(fresh.ID, -3)
	got, _ = reg.Get(fresh.ID)
	assert.Equal(t, 0.0, got.Progress)
}

func TestRegistryTerminalStatesAreImmutable(t *testing.T) {
	reg := NewRegistry(nil)
	job := reg.Create("enhance", uuid.New())
	reg.start(job.ID)
	reg.complete(job.ID, map[string]any{"symbols": 3})

	reg.fail(job.ID, "too late")
	reg.setProgress(job.ID, 0.1)
	reg.markCancelled(job.ID)

	got, _ := reg.Get(job.ID)
	assert.Equal(t, core.JobCompleted, got.Status)
	assert.Empty(t, got.ErrorMessage)
	assert.Equal(t, 1.0, got.Progress)
	require.NotNil(t, got.CompletedAt)
}

func TestRegistryFailRecordsMessage(t *testing.T) {
	reg := NewRegistry(nil)
	job := reg.Create("enhance", uuid.New())
	reg.start(job.ID)
	reg.fail(job.ID, "clone: exit status 128")

	got, _ := reg.Get(job.ID)
	assert.Equal(t, core.JobFailed, got.Status)
	assert.Equal(t, "clone: exit status 128", got.ErrorMessage)
}

func TestRequestCancelPendingJobFinishesImmediately(t *testing.T) {
	reg := NewRegistry(nil)
	job := reg.Create("enhance", uuid.New())

	require.True(t, reg.RequestCancel(job.ID))
	got, _ := reg.Get(job.ID)
	assert.Equal(t, core.JobCancelled, got.Status)

	// A second cancel on a terminal job is refused.
	assert.False(t, reg.RequestCancel(job.ID))
	assert.False(t, reg.RequestCancel(uuid.New()))
}

func TestRequestCancelRunningJobSetsFlag(t *testing.T) {
	reg := NewRegistry(nil)
	job := reg.Create("enhance", uuid.New())
	reg.start(job.ID)

	require.True(t, reg.RequestCancel(job.ID))
	assert.True(t, reg.cancelRequested(job.ID))

	got, _ := reg.Get(job.ID)
	assert.Equal(t, core.JobRunning, got.Status)

	reg.markCancelled(job.ID)
	got, _ = reg.Get(job.ID)
	assert.Equal(t, core.JobCancelled, got.Status)
}

func TestRegistrySnapshotsAreIndependent(t *testing.T) {
	reg := NewRegistry(nil)
	job := reg.Create("enhance", uuid.New())
	reg.start(job.ID)
	reg.complete(job.ID, map[string]any{"symbols": 3})

	got, _ := reg.Get(job.ID)
	got.Result["symbols"] = 999

	again, _ := reg.Get(job.ID)
	assert.Equal(t, 3, again.Result["symbols"])
}

func TestRegistryList(t *testing.T) {
	reg := NewRegistry(nil)
	a := reg.Create("enhance", uuid.New())
	b := reg.Create("enhance", uuid.New())

	jobs := reg.List()
	require.Len(t, jobs, 2)
	ids := []uuid.UUID{jobs[0].ID, jobs[1].ID}
	assert.ElementsMatch(t, []uuid.UUID{a.ID, b.ID}, ids)
}
