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
	"sync"
	"time"

	"github.com/cardinalhq/spanrunner/internal/spans"
)

type partitionBatch struct {
	records  []spans.Record
	openedAt time.Time
}

// DueBatch names a partition the policy wants flushed.
type DueBatch struct {
	Key    spans.PartitionKey
	Reason FlushReason
}

// BatchTable accumulates records per partition. Every method takes the
// same mutex and none of them performs I/O while holding it.
type BatchTable struct {
	mu      sync.Mutex
	batches map[spans.PartitionKey]*partitionBatch
	// order is first-seen order, so evaluation is deterministic.
	order []spans.PartitionKey
}

func NewBatchTable() *BatchTable {
	return &BatchTable{
		batches: make(map[spans.PartitionKey]*partitionBatch),
	}
}

// Add appends rec to the partition batch. The first record since the last
// flush stamps the batch open time.
func (t *BatchTable) Add(key spans.PartitionKey, rec spans.Record, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	b, ok := t.batches[key]
	if !ok {
		b = &partitionBatch{}
		t.batches[key] = b
		t.order = append(t.order, key)
	}
	if len(b.records) == 0 {
		b.openedAt = now
	}
	b.records = append(b.records, rec)
}

// Due evaluates the policy against every non-empty partition.
func (t *BatchTable) Due(policy FlushPolicy, now time.Time) []DueBatch {
	t.mu.Lock()
	defer t.mu.Unlock()

	var due []DueBatch
	for _, key := range t.order {
		b := t.batches[key]
		if reason := policy.Evaluate(len(b.records), b.openedAt, now); reason != FlushReasonNone {
			due = append(due, DueBatch{Key: key, Reason: reason})
		}
	}
	return due
}

// NonEmpty lists every partition currently holding records.
func (t *BatchTable) NonEmpty() []spans.PartitionKey {
	t.mu.Lock()
	defer t.mu.Unlock()

	var keys []spans.PartitionKey
	for _, key := range t.order {
		if len(t.batches[key].records) > 0 {
			keys = append(keys, key)
		}
	}
	return keys
}

// Take removes and returns the records of a partition, resetting its open
// time to now. The entry itself is kept for reuse.
func (t *BatchTable) Take(key spans.PartitionKey, now time.Time) []spans.Record {
	t.mu.Lock()
	defer t.mu.Unlock()

	b, ok := t.batches[key]
	if !ok || len(b.records) == 0 {
		return nil
	}
	records := b.records
	b.records = nil
	b.openedAt = now
	return records
}

// Len returns the number of records waiting in one partition.
func (t *BatchTable) Len(key spans.PartitionKey) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	if b, ok := t.batches[key]; ok {
		return len(b.records)
	}
	return 0
}

// Totals returns how many partitions hold records and how many records
// are pending across all of them.
func (t *BatchTable) Totals() (partitions, pending int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, b := range t.batches {
		if n := len(b.records); n > 0 {
			partitions++
			pending += n
		}
	}
	return partitions, pending
}
