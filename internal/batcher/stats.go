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

	"github.com/DataDog/sketches-go/ddsketch"
	"github.com/axiomhq/hyperloglog"
)

// Counters is a consistent copy of the statistics at one instant.
type Counters struct {
	StartedAt          time.Time
	RecordsReceived    int64
	RecordsAccepted    int64
	RecordsRejected    int64
	BatchesFlushed     int64
	BatchesFailed      int64
	FlushDurationTotal time.Duration
	FlushDurationP50   time.Duration
	FlushDurationP99   time.Duration
	DistinctTraces     uint64
}

// AvgFlushDuration is the mean duration of successful flushes.
func (c Counters) AvgFlushDuration() time.Duration {
	if c.BatchesFlushed == 0 {
		return 0
	}
	return c.FlushDurationTotal / time.Duration(c.BatchesFlushed)
}

// Stats aggregates engine counters. All counters only ever increase. One
// mutex covers every field so Counters never returns a torn view.
type Stats struct {
	mu sync.Mutex

	startedAt          time.Time
	received           int64
	accepted           int64
	rejected           int64
	flushed            int64
	failed             int64
	flushDurationTotal time.Duration

	// flushLatency holds successful flush durations in seconds.
	flushLatency *ddsketch.DDSketch
	traces       *hyperloglog.Sketch
}

func NewStats() *Stats {
	s := &Stats{
		startedAt: time.Now(),
		traces:    hyperloglog.New14(),
	}
	if sk, err := ddsketch.NewDefaultDDSketch(0.01); err == nil {
		s.flushLatency = sk
	}
	return s
}

func (s *Stats) RecordReceived() {
	s.mu.Lock()
	s.received++
	s.mu.Unlock()
}

// RecordAccepted counts a record added to a batch and feeds its trace id
// into the distinct trace estimate.
func (s *Stats) RecordAccepted(traceID string) {
	s.mu.Lock()
	s.accepted++
	if traceID != "" {
		s.traces.Insert([]byte(traceID))
	}
	s.mu.Unlock()
}

func (s *Stats) RecordRejected() {
	s.mu.Lock()
	s.rejected++
	s.mu.Unlock()
}

func (s *Stats) RecordFlushSuccess(d time.Duration) {
	s.mu.Lock()
	s.flushed++
	s.flushDurationTotal += d
	if s.flushLatency != nil {
		_ = s.flushLatency.Add(d.Seconds())
	}
	s.mu.Unlock()
}

func (s *Stats) RecordFlushFailure() {
	s.mu.Lock()
	s.failed++
	s.mu.Unlock()
}

// Counters returns a consistent copy of every counter.
func (s *Stats) Counters() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := Counters{
		StartedAt:          s.startedAt,
		RecordsReceived:    s.received,
		RecordsAccepted:    s.accepted,
		RecordsRejected:    s.rejected,
		BatchesFlushed:     s.flushed,
		BatchesFailed:      s.failed,
		FlushDurationTotal: s.flushDurationTotal,
		DistinctTraces:     s.traces.Estimate(),
	}
	if s.flushLatency != nil && s.flushed > 0 {
		c.FlushDurationP50 = quantile(s.flushLatency, 0.50)
		c.FlushDurationP99 = quantile(s.flushLatency, 0.99)
	}
	return c
}

func quantile(sk *ddsketch.DDSketch, q float64) time.Duration {
	v, err := sk.GetValueAtQuantile(q)
	if err != nil || v < 0 {
		return 0
	}
	return time.Duration(v * float64(time.Second))
}
