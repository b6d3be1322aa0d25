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
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var (
	tracer = otel.Tracer("aleutian.improver.pipeline")
	meter  = otel.Meter("aleutian.improver.pipeline")
)

var (
	metricsOnce    sync.Once
	jobsStarted    metric.Int64Counter
	jobsCompleted  metric.Int64Counter
	jobsFailed     metric.Int64Counter
	jobsCancelled  metric.Int64Counter
	filesExtracted metric.Int64Counter
	fileFailures   metric.Int64Counter
)

// initMetrics creates the counters once. The global meter always
// returns a usable instrument, so creation errors are ignored.
func initMetrics() {
	metricsOnce.Do(func() {
		jobsStarted, _ = meter.Int64Counter("improver.jobs.started",
			metric.WithDescription("Pipeline jobs started"))
		jobsCompleted, _ = meter.Int64Counter("improver.jobs.completed",
			metric.WithDescription("Pipeline jobs completed"))
		jobsFailed, _ = meter.Int64Counter("improver.jobs.failed",
			metric.WithDescription("Pipeline jobs failed"))
		jobsCancelled, _ = meter.Int64Counter("improver.jobs.cancelled",
			metric.WithDescription("Pipeline jobs cancelled"))
		filesExtracted, _ = meter.Int64Counter("improver.files.extracted",
			metric.WithDescription("Files extracted into the knowledge graph"))
		fileFailures, _ = meter.Int64Counter("improver.files.failed",
			metric.WithDescription("Files skipped due to parse or store errors"))
	})
}
