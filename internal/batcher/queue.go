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
	"time"

	"github.com/cardinalhq/spanrunner/internal/spans"
)

// IntakeQueue is a fixed capacity FIFO between producers and the single
// consumer. Enqueue never blocks.
type IntakeQueue struct {
	items chan spans.Record
}

// NewIntakeQueue returns a queue holding at most capacity records.
func NewIntakeQueue(capacity int) *IntakeQueue {
	return &IntakeQueue{items: make(chan spans.Record, capacity)}
}

// Enqueue admits rec or returns ErrQueueFull immediately.
func (q *IntakeQueue) Enqueue(rec spans.Record) error {
	select {
	case q.items <- rec:
		return nil
	default:
		return ErrQueueFull
	}
}

// Dequeue waits up to timeout for the next record. It returns false when
// the timeout elapses or ctx is done first.
func (q *IntakeQueue) Dequeue(ctx context.Context, timeout time.Duration) (spans.Record, bool) {
	// Fast path so a busy queue is not starved by the timer allocation.
	select {
	case rec := <-q.items:
		return rec, true
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case rec := <-q.items:
		return rec, true
	case <-timer.C:
		return spans.Record{}, false
	case <-ctx.Done():
		return spans.Record{}, false
	}
}

// TryDequeue returns the next record without waiting.
func (q *IntakeQueue) TryDequeue() (spans.Record, bool) {
	select {
	case rec := <-q.items:
		return rec, true
	default:
		return spans.Record{}, false
	}
}

// Len is the current occupancy.
func (q *IntakeQueue) Len() int {
	return len(q.items)
}

// Cap is the fixed capacity.
func (q *IntakeQueue) Cap() int {
	return cap(q.items)
}
