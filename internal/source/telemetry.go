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

package source

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	decodedSpans   metric.Int64Counter
	droppedSpans   metric.Int64Counter
	enqueueRetries metric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/spanrunner/internal/source")

	var err error
	decodedSpans, err = meter.Int64Counter(
		"spanrunner.source.spans.decoded",
		metric.WithDescription("Spans decoded from consumed messages"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create spans.decoded counter: %w", err))
	}

	droppedSpans, err = meter.Int64Counter(
		"spanrunner.source.spans.dropped",
		metric.WithDescription("Spans or messages dropped before reaching the engine, by reason"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create spans.dropped counter: %w", err))
	}

	enqueueRetries, err = meter.Int64Counter(
		"spanrunner.source.enqueue.retries",
		metric.WithDescription("Enqueue attempts that found the intake queue full and backed off"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create enqueue.retries counter: %w", err))
	}
}

func recordDropped(ctx context.Context, reason string, n int) {
	if n <= 0 {
		return
	}
	droppedSpans.Add(ctx, int64(n), metric.WithAttributes(attribute.String("reason", reason)))
}
