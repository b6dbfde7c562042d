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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/spanrunner/internal/spans"
)

func TestFlushPolicyEvaluate(t *testing.T) {
	policy := FlushPolicy{SizeThreshold: 10, AgeThreshold: 5 * time.Second}
	opened := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		count int
		age   time.Duration
		want  FlushReason
	}{
		{"empty never due", 0, time.Hour, FlushReasonNone},
		{"below both", 9, 4 * time.Second, FlushReasonNone},
		{"size reached", 10, 0, FlushReasonSize},
		{"size exceeded", 11, time.Second, FlushReasonSize},
		{"age reached", 1, 5 * time.Second, FlushReasonAge},
		{"size wins over age", 10, time.Minute, FlushReasonSize},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, policy.Evaluate(tt.count, opened, opened.Add(tt.age)))
		})
	}
}

func TestFlushReasonString(t *testing.T) {
	assert.Equal(t, "size", FlushReasonSize.String())
	assert.Equal(t, "age", FlushReasonAge.String())
	assert.Equal(t, "shutdown", FlushReasonShutdown.String())
	assert.Equal(t, "none", FlushReasonNone.String())
	assert.Equal(t, "unknown", FlushReason(99).String())
}

func TestBatchTableStampsOpenTimeOnFirstRecord(t *testing.T) {
	table := NewBatchTable()
	key := spans.NewPartitionKey("p1", "dev")
	policy := FlushPolicy{SizeThreshold: 100, AgeThreshold: 10 * time.Second}
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	table.Add(key, makeRecord("p1", "dev", 0), t0)
	table.Add(key, makeRecord("p1", "dev", 1), t0.Add(9*time.Second))

	assert.Empty(t, table.Due(policy, t0.Add(9*time.Second)))
	due := table.Due(policy, t0.Add(10*time.Second))
	require.Len(t, due, 1)
	assert.Equal(t, DueBatch{Key: key, Reason: FlushReasonAge}, due[0])
}

func TestBatchTableTakeClearsAndResets(t *testing.T) {
	table := NewBatchTable()
	key := spans.NewPartitionKey("p1", "dev")
	policy := FlushPolicy{SizeThreshold: 100, AgeThreshold: 10 * time.Second}
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := range 3 {
		table.Add(key, makeRecord("p1", "dev", i), t0)
	}
	records := table.Take(key, t0.Add(time.Second))
	require.Len(t, records, 3)
	for i, rec := range records {
		assert.Equal(t, makeRecord("p1", "dev", i).SpanID, rec.SpanID, "insertion order")
	}

	assert.Equal(t, 0, table.Len(key))
	assert.Nil(t, table.Take(key, t0.Add(2*time.Second)))
	assert.Empty(t, table.NonEmpty())

	// A record arriving long after the flush opens a fresh window.
	table.Add(key, makeRecord("p1", "dev", 3), t0.Add(time.Minute))
	assert.Empty(t, table.Due(policy, t0.Add(time.Minute+time.Second)))
}

func TestBatchTableDueInFirstSeenOrder(t *testing.T) {
	table := NewBatchTable()
	policy := FlushPolicy{SizeThreshold: 1, AgeThreshold: time.Hour}
	now := time.Now()

	keys := []spans.PartitionKey{
		spans.NewPartitionKey("p3", "dev"),
		spans.NewPartitionKey("p1", "dev"),
		spans.NewPartitionKey("p2", "prod"),
	}
	for i, k := range keys {
		table.Add(k, makeRecord(k.Project, k.Environment, i), now)
	}

	due := table.Due(policy, now)
	require.Len(t, due, 3)
	for i, k := range keys {
		assert.Equal(t, k, due[i].Key)
		assert.Equal(t, FlushReasonSize, due[i].Reason)
	}
}

func TestBatchTableTotals(t *testing.T) {
	table := NewBatchTable()
	now := time.Now()
	a := spans.NewPartitionKey("p1", "dev")
	b := spans.NewPartitionKey("p2", "dev")

	table.Add(a, makeRecord("p1", "dev", 0), now)
	table.Add(a, makeRecord("p1", "dev", 1), now)
	table.Add(b, makeRecord("p2", "dev", 2), now)

	partitions, pending := table.Totals()
	assert.Equal(t, 2, partitions)
	assert.Equal(t, 3, pending)

	table.Take(a, now)
	partitions, pending = table.Totals()
	assert.Equal(t, 1, partitions)
	assert.Equal(t, 1, pending)
	assert.Equal(t, []spans.PartitionKey{b}, table.NonEmpty())
	assert.Equal(t, 0, table.Len(spans.NewPartitionKey("nope", "dev")))
}
