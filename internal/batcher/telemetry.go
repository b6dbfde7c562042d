// Copyright (C) 2025-2026 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package batcher

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

var (
	tracer = otel.Tracer("github.com/cardinalhq/spanrunner/internal/batcher")

	recordsReceivedCounter otelmetric.Int64Counter
	recordsRejectedCounter otelmetric.Int64Counter
	batchesCounter         otelmetric.Int64Counter
	batchRecordsCounter    otelmetric.Int64Counter
	flushDuration          otelmetric.Float64Histogram
	queueDepthGauge        otelmetric.Int64Gauge
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/spanrunner/internal/batcher")

	var err error
	recordsReceivedCounter, err = meter.Int64Counter(
		"spanrunner.batcher.records.received",
		otelmetric.WithDescription("Number of records offered to the intake queue"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create records.received counter: %w", err))
	}

	recordsRejectedCounter, err = meter.Int64Counter(
		"spanrunner.batcher.records.rejected",
		otelmetric.WithDescription("Number of records rejected by admission control or lost to a processing error"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create records.rejected counter: %w", err))
	}

	batchesCounter, err = meter.Int64Counter(
		"spanrunner.batcher.batches",
		otelmetric.WithDescription("Number of partition batches handed to the sink"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create batches counter: %w", err))
	}

	batchRecordsCounter, err = meter.Int64Counter(
		"spanrunner.batcher.batch.records",
		otelmetric.WithDescription("Number of records contained in flushed batches"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create batch.records counter: %w", err))
	}

	flushDuration, err = meter.Float64Histogram(
		"spanrunner.batcher.flush.duration",
		otelmetric.WithUnit("s"),
		otelmetric.WithDescription("The duration in seconds of a single sink store call"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create flush.duration histogram: %w", err))
	}

	queueDepthGauge, err = meter.Int64Gauge(
		"spanrunner.batcher.queue.depth",
		otelmetric.WithDescription("Number of records waiting in the intake queue"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create queue.depth gauge: %w", err))
	}
}

func recordRejectedMetric(ctx context.Context, reason string) {
	recordsRejectedCounter.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("reason", reason)))
}

func recordFlushMetrics(ctx context.Context, reason FlushReason, records int, elapsed time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	attrs := otelmetric.WithAttributes(
		attribute.String("reason", reason.String()),
		attribute.String("outcome", outcome),
	)
	batchesCounter.Add(ctx, 1, attrs)
	batchRecordsCounter.Add(ctx, int64(records), attrs)
	flushDuration.Record(ctx, elapsed.Seconds(), attrs)
}
