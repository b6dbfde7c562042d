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

package sink

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/cardinalhq/spanrunner/internal/batcher"
	"github.com/cardinalhq/spanrunner/internal/logctx"
	"github.com/cardinalhq/spanrunner/internal/spans"
)

var (
	sinkBatches metric.Int64Counter
	sinkRecords metric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/spanrunner/internal/sink")

	var err error
	sinkBatches, err = meter.Int64Counter(
		"spanrunner.sink.batches",
		metric.WithDescription("Batches handed to each sink, by outcome"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create sink.batches counter: %w", err))
	}

	sinkRecords, err = meter.Int64Counter(
		"spanrunner.sink.records",
		metric.WithDescription("Spans stored by each sink"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create sink.records counter: %w", err))
	}
}

// Named pairs a sink with the name it reports under.
type Named struct {
	Name string
	Sink batcher.Sink
}

// Multi fans each batch out to every member concurrently. A batch is
// stored only if every member stored it.
type Multi struct {
	members []Named
}

var _ batcher.Sink = (*Multi)(nil)

func NewMulti(members ...Named) *Multi {
	return &Multi{members: members}
}

func (m *Multi) Store(ctx context.Context, key spans.PartitionKey, records []spans.Record) error {
	if len(m.members) == 1 {
		return m.store(ctx, m.members[0], key, records)
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs *multierror.Error
	)
	for _, member := range m.members {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.store(ctx, member, key, records); err != nil {
				mu.Lock()
				errs = multierror.Append(errs, err)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return errs.ErrorOrNil()
}

func (m *Multi) store(ctx context.Context, member Named, key spans.PartitionKey, records []spans.Record) error {
	ctx = logctx.With(ctx, "sink", member.Name)
	err := member.Sink.Store(ctx, key, records)

	outcome := "success"
	if err != nil {
		outcome = "failure"
		err = fmt.Errorf("%s: %w", member.Name, err)
	}
	attrs := metric.WithAttributes(
		attribute.String("sink", member.Name),
		attribute.String("outcome", outcome),
	)
	sinkBatches.Add(ctx, 1, attrs)
	if err == nil {
		sinkRecords.Add(ctx, int64(len(records)), metric.WithAttributes(attribute.String("sink", member.Name)))
	}
	return err
}

// HealthCheck is healthy only when every member is.
func (m *Multi) HealthCheck(ctx context.Context) bool {
	healthy := true
	for _, member := range m.members {
		if !member.Sink.HealthCheck(ctx) {
			logctx.FromContext(ctx).Warn("Sink unhealthy", "sink", member.Name)
			healthy = false
		}
	}
	return healthy
}

// Names lists the member names in configuration order.
func (m *Multi) Names() []string {
	names := make([]string, len(m.members))
	for i, member := range m.members {
		names[i] = member.Name
	}
	return names
}
