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

// Package heartbeat runs a callback on a fixed interval for the life of
// the service. serve uses it to log engine statistics.
package heartbeat

import (
	"context"
	"log/slog"
	"time"

	"github.com/cardinalhq/spanrunner/internal/batcher"
)

// HeartbeatFunc is the function signature for heartbeat callbacks
type HeartbeatFunc func(ctx context.Context) error

// Heartbeater manages periodic execution of a heartbeat function
type Heartbeater struct {
	heartbeatFunc HeartbeatFunc
	ll            *slog.Logger
	interval      time.Duration
}

// New creates a heartbeater. A nil logger selects slog.Default.
func New(heartbeatFunc HeartbeatFunc, interval time.Duration, logger *slog.Logger) *Heartbeater {
	if logger == nil {
		logger = slog.Default()
	}

	return &Heartbeater{
		heartbeatFunc: heartbeatFunc,
		ll:            logger.With("component", "heartbeater"),
		interval:      interval,
	}
}

// Start runs the first beat immediately and then one per interval until
// ctx is done or stop is called. stop waits for the loop to exit.
func (h *Heartbeater) Start(ctx context.Context) (stop func()) {
	heartbeatCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		h.run(heartbeatCtx)
	}()

	return func() {
		cancel()
		<-done
	}
}

func (h *Heartbeater) run(ctx context.Context) {
	h.ll.Debug("Starting heartbeat loop", "interval", h.interval)

	h.beat(ctx)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.ll.Debug("Context cancelled, stopping heartbeat loop")
			return
		case <-ticker.C:
			h.beat(ctx)
		}
	}
}

func (h *Heartbeater) beat(ctx context.Context) {
	err := h.heartbeatFunc(ctx)
	if err != nil && ctx.Err() == nil {
		h.ll.Error("Heartbeat failed (continuing)", "error", err)
	}
}

// SnapshotSource is anything that can report engine statistics.
type SnapshotSource interface {
	Snapshot() batcher.Snapshot
}

// LogStats returns a heartbeat that logs a one line summary of the
// engine's statistics, at Warn when the engine is not healthy.
func LogStats(src SnapshotSource, logger *slog.Logger) HeartbeatFunc {
	return func(ctx context.Context) error {
		s := src.Snapshot()
		level := slog.LevelInfo
		if s.Health != batcher.HealthHealthy {
			level = slog.LevelWarn
		}
		logger.Log(ctx, level, "Engine stats",
			slog.String("health", s.Health.String()),
			slog.Int64("received", s.RecordsReceived),
			slog.Int64("accepted", s.RecordsAccepted),
			slog.Int64("rejected", s.RecordsRejected),
			slog.Int64("batchesFlushed", s.BatchesFlushed),
			slog.Int64("batchesFailed", s.BatchesFailed),
			slog.Duration("avgFlush", s.AvgFlushDuration()),
			slog.Duration("p99Flush", s.FlushDurationP99),
			slog.Int("queueLength", s.QueueLength),
			slog.Int("partitions", s.Partitions),
			slog.Int("pending", s.PendingRecords),
			slog.Uint64("distinctTraces", s.DistinctTraces))
		return nil
	}
}
