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

// Package batcher implements the span ingestion batching engine: a bounded
// intake queue drained by a single consumer goroutine that groups records
// per partition and flushes each group to a Sink on size or age.
package batcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/cardinalhq/spanrunner/internal/logctx"
	"github.com/cardinalhq/spanrunner/internal/spans"
)

// Engine owns the intake queue, the partition table and the consumer
// goroutine. Enqueue may be called from any number of goroutines.
type Engine struct {
	cfg    Config
	policy FlushPolicy
	sink   Sink
	logger *slog.Logger

	queue *IntakeQueue
	table *BatchTable
	stats *Stats

	now func() time.Time

	lifecycleMu sync.Mutex
	cancel      context.CancelFunc
	done        chan struct{}
	running     atomic.Bool
}

// NewEngine validates cfg and builds an engine that is not yet started.
func NewEngine(cfg Config, sink Sink, logger *slog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sink == nil {
		return nil, fmt.Errorf("%w: sink is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()

	return &Engine{
		cfg: cfg,
		policy: FlushPolicy{
			SizeThreshold: cfg.SizeThreshold,
			AgeThreshold:  cfg.AgeThreshold,
		},
		sink:   sink,
		logger: logger,
		queue:  NewIntakeQueue(cfg.QueueCapacity),
		table:  NewBatchTable(),
		stats:  NewStats(),
		now:    time.Now,
	}, nil
}

// Enqueue offers rec to the intake queue. It never blocks; when the queue
// is full it returns ErrQueueFull and the record is not admitted.
// Enqueueing before Start is allowed, the records wait for the consumer.
func (e *Engine) Enqueue(rec spans.Record) error {
	e.stats.RecordReceived()
	recordsReceivedCounter.Add(context.Background(), 1)

	if err := e.queue.Enqueue(rec); err != nil {
		e.stats.RecordRejected()
		recordRejectedMetric(context.Background(), "queue_full")
		return err
	}
	return nil
}

// EnqueueBatch offers records in order and stops at the first rejection.
// It returns how many records were admitted.
func (e *Engine) EnqueueBatch(records []spans.Record) (int, error) {
	for i, rec := range records {
		if err := e.Enqueue(rec); err != nil {
			return i, err
		}
	}
	return len(records), nil
}

// Start launches the consumer goroutine. Calling it while the consumer is
// running does nothing.
func (e *Engine) Start() {
	e.lifecycleMu.Lock()
	defer e.lifecycleMu.Unlock()

	if e.done != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.done = make(chan struct{})
	e.running.Store(true)

	go e.run(ctx, e.done)
}

// Shutdown stops the consumer and waits until it has drained the queue and
// flushed every non-empty partition. It returns ctx.Err() if ctx ends
// first; the consumer keeps flushing in that case and a later Shutdown
// waits for it again. Calling Shutdown on a stopped engine does nothing.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.lifecycleMu.Lock()
	defer e.lifecycleMu.Unlock()

	if e.done == nil {
		return nil
	}

	e.cancel()
	select {
	case <-e.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	e.cancel = nil
	e.done = nil
	return nil
}

// Running reports whether the consumer goroutine is alive.
func (e *Engine) Running() bool {
	return e.running.Load()
}

// PendingRecords returns how many records are batched for key.
func (e *Engine) PendingRecords(key spans.PartitionKey) int {
	return e.table.Len(key)
}

// SinkHealthy forwards to the sink health check.
func (e *Engine) SinkHealthy(ctx context.Context) bool {
	return e.sink.HealthCheck(ctx)
}

// Snapshot returns the current statistics and derived health.
func (e *Engine) Snapshot() Snapshot {
	counters := e.stats.Counters()
	partitions, pending := e.table.Totals()
	running := e.Running()
	queueLen := e.queue.Len()

	return Snapshot{
		Counters:       counters,
		QueueLength:    queueLen,
		QueueCapacity:  e.queue.Cap(),
		Partitions:     partitions,
		PendingRecords: pending,
		Uptime:         time.Since(counters.StartedAt),
		Running:        running,
		Health:         ClassifyHealth(running, queueLen, e.queue.Cap(), counters.RecordsReceived, counters.RecordsRejected),
	}
}

func (e *Engine) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer e.running.Store(false)
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Span batcher consumer exited unexpectedly", slog.Any("panic", r))
		}
	}()

	e.logger.Info("Span batcher consumer started",
		slog.Int("sizeThreshold", e.cfg.SizeThreshold),
		slog.Duration("ageThreshold", e.cfg.AgeThreshold),
		slog.Int("queueCapacity", e.cfg.QueueCapacity),
		slog.Duration("tickInterval", e.cfg.TickInterval))

	for ctx.Err() == nil {
		e.tick(ctx)
	}

	drained := e.drain()
	flushed := e.flushAll(FlushReasonShutdown)
	e.logger.Info("Span batcher consumer stopped",
		slog.Int("drainedRecords", drained),
		slog.Int("flushedPartitions", flushed))
}

// tick is one iteration of the consumer loop. Nothing that happens inside
// it may stop the loop.
func (e *Engine) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Recovered panic in span batcher tick", slog.Any("panic", r))
		}
	}()

	if rec, ok := e.queue.Dequeue(ctx, e.cfg.TickInterval); ok {
		e.accept(rec)
	}
	queueDepthGauge.Record(ctx, int64(e.queue.Len()))

	for _, due := range e.table.Due(e.policy, e.now()) {
		e.flushPartition(due.Key, due.Reason)
	}
}

func (e *Engine) accept(rec spans.Record) {
	defer func() {
		if r := recover(); r != nil {
			e.stats.RecordRejected()
			recordRejectedMetric(context.Background(), "processing_error")
			e.logger.Error("Dropped record after processing error",
				slog.String("partition", rec.Key.String()),
				slog.String("spanID", rec.SpanID),
				slog.Any("panic", r))
		}
	}()

	e.table.Add(rec.Key, rec, e.now())
	e.stats.RecordAccepted(rec.TraceID)
}

// drain moves everything still queued into the table without flushing,
// so the final flush stores each partition exactly once. The queue is
// bounded, which bounds what a partition can hold here.
func (e *Engine) drain() int {
	n := 0
	for {
		rec, ok := e.queue.TryDequeue()
		if !ok {
			return n
		}
		e.accept(rec)
		n++
	}
}

func (e *Engine) flushAll(reason FlushReason) int {
	keys := e.table.NonEmpty()
	for _, key := range keys {
		e.flushPartition(key, reason)
	}
	return len(keys)
}

// flushPartition takes the partition records under the table lock and
// stores them with the lock released.
func (e *Engine) flushPartition(key spans.PartitionKey, reason FlushReason) {
	records := e.table.Take(key, e.now())
	if len(records) == 0 {
		return
	}

	logger := e.logger.With(
		slog.String("partition", key.String()),
		slog.String("reason", reason.String()),
		slog.Int("records", len(records)))
	ctx, cancel := context.WithTimeout(logctx.WithLogger(context.Background(), logger), e.cfg.FlushTimeout)
	defer cancel()

	ctx, span := tracer.Start(ctx, "batcher.flush",
		trace.WithAttributes(
			attribute.String("project", key.Project),
			attribute.String("environment", key.Environment),
			attribute.String("reason", reason.String()),
			attribute.Int("records", len(records)),
		),
	)
	defer span.End()

	start := time.Now()
	err := e.store(ctx, key, records)
	elapsed := time.Since(start)
	recordFlushMetrics(ctx, reason, len(records), elapsed, err)

	if err != nil {
		e.stats.RecordFlushFailure()
		serr := &StorageError{Key: key, Records: len(records), Err: err}
		span.RecordError(serr)
		span.SetStatus(codes.Error, "store failed")
		logger.Error("Failed to flush partition batch",
			slog.Duration("elapsed", elapsed),
			slog.Any("error", serr))
		return
	}

	e.stats.RecordFlushSuccess(elapsed)
	logger.Debug("Flushed partition batch", slog.Duration("elapsed", elapsed))
}

// store calls the sink, turning a panic into an error so it is counted as
// a failed batch.
func (e *Engine) store(ctx context.Context, key spans.PartitionKey, records []spans.Record) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panicked: %v", r)
		}
	}()
	return e.sink.Store(ctx, key, records)
}
