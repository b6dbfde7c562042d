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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/collector/pdata/pcommon"
	"go.opentelemetry.io/collector/pdata/ptrace"
	"go.uber.org/goleak"

	"github.com/cardinalhq/spanrunner/internal/batcher"
	"github.com/cardinalhq/spanrunner/internal/fly"
	"github.com/cardinalhq/spanrunner/internal/spans"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeEngine rejects the first fullFor calls with ErrQueueFull.
type fakeEngine struct {
	mu         sync.Mutex
	fullFor    int
	alwaysFull bool
	err        error
	calls      int
	accepted   []spans.Record
}

func (e *fakeEngine) Enqueue(rec spans.Record) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.err != nil {
		return e.err
	}
	if e.alwaysFull || e.calls <= e.fullFor {
		return batcher.ErrQueueFull
	}
	e.accepted = append(e.accepted, rec)
	return nil
}

func (e *fakeEngine) Accepted() []spans.Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]spans.Record(nil), e.accepted...)
}

// scriptedConsumer hands each batch to the handler, records which were
// committed, then waits for ctx.
type scriptedConsumer struct {
	batches   [][]fly.ConsumedMessage
	committed int
}

func (c *scriptedConsumer) Consume(ctx context.Context, handler fly.MessageHandler) error {
	for _, batch := range c.batches {
		if err := handler(ctx, batch); err != nil {
			return fmt.Errorf("handler failed: %w", err)
		}
		c.committed++
	}
	<-ctx.Done()
	return ctx.Err()
}

func (c *scriptedConsumer) CommitMessages(context.Context, ...fly.ConsumedMessage) error {
	return nil
}

func (c *scriptedConsumer) Close() error { return nil }

func envelopeMessage(t *testing.T, offset int64, project, span string) fly.ConsumedMessage {
	t.Helper()
	rec := spans.NewRecord(spans.NewPartitionKey(project, "prod"), "trace-1", span, json.RawMessage(`{"ok":true}`))
	value, err := rec.MarshalEnvelope()
	require.NoError(t, err)
	return fly.ConsumedMessage{
		Message: fly.Message{Value: value},
		Offset:  offset,
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RetryInitial = time.Millisecond
	cfg.RetryMax = 5 * time.Millisecond
	return cfg
}

func TestHandleDecodesEveryFormat(t *testing.T) {
	engine := &fakeEngine{}
	src := NewKafkaSource(&scriptedConsumer{}, engine, testConfig(), quietLogger())

	cborRec := spans.NewRecord(spans.NewPartitionKey("p2", "dev"), "trace-2", "span-c", json.RawMessage(`{}`))
	cborValue, err := cborRec.MarshalCBOR()
	require.NoError(t, err)

	messages := []fly.ConsumedMessage{
		envelopeMessage(t, 1, "p1", "span-a"),
		{Message: fly.Message{
			Value:   cborValue,
			Headers: map[string]string{spans.HeaderContentType: spans.ContentTypeCBOR},
		}, Offset: 2},
		{Message: fly.Message{
			Value: buildTraces(t, 2),
			Headers: map[string]string{
				spans.HeaderContentType: "application/x-protobuf; charset=binary",
				spans.HeaderProjectID:   "p3",
				spans.HeaderEnvironment: "staging",
			},
		}, Offset: 3},
	}

	require.NoError(t, src.Handle(context.Background(), messages))
	accepted := engine.Accepted()
	require.Len(t, accepted, 4)
	assert.Equal(t, "span-a", accepted[0].SpanID)
	assert.Equal(t, spans.NewPartitionKey("p2", "dev"), accepted[1].Key)
	assert.Equal(t, spans.NewPartitionKey("p3", "staging"), accepted[2].Key)
	assert.Equal(t, spans.NewPartitionKey("p3", "staging"), accepted[3].Key)
}

func TestHandleSkipsUndecodableMessages(t *testing.T) {
	engine := &fakeEngine{}
	src := NewKafkaSource(&scriptedConsumer{}, engine, testConfig(), quietLogger())

	messages := []fly.ConsumedMessage{
		{Message: fly.Message{Value: []byte("not json")}, Offset: 1},
		{Message: fly.Message{Value: []byte(`{"project_id":"p1"}`)}, Offset: 2},
		envelopeMessage(t, 3, "p1", "span-ok"),
	}
	require.NoError(t, src.Handle(context.Background(), messages))
	require.Len(t, engine.Accepted(), 1)
	assert.Equal(t, "span-ok", engine.Accepted()[0].SpanID)
}

func TestHandleOTLPDefaultEnvironment(t *testing.T) {
	engine := &fakeEngine{}
	cfg := testConfig()
	cfg.DefaultEnvironment = "unknown"
	src := NewKafkaSource(&scriptedConsumer{}, engine, cfg, quietLogger())

	msg := fly.ConsumedMessage{Message: fly.Message{
		Value: buildTraces(t, 1),
		Headers: map[string]string{
			spans.HeaderContentType: spans.ContentTypeOTLP,
			spans.HeaderProjectID:   "p1",
		},
	}}
	require.NoError(t, src.Handle(context.Background(), []fly.ConsumedMessage{msg}))
	require.Len(t, engine.Accepted(), 1)
	assert.Equal(t, spans.NewPartitionKey("p1", "unknown"), engine.Accepted()[0].Key)
}

func TestHandleSuppressesDuplicates(t *testing.T) {
	engine := &fakeEngine{}
	src := NewKafkaSource(&scriptedConsumer{}, engine, testConfig(), quietLogger())

	batch := []fly.ConsumedMessage{
		envelopeMessage(t, 1, "p1", "span-a"),
		envelopeMessage(t, 2, "p1", "span-a"),
		envelopeMessage(t, 3, "p2", "span-a"),
	}
	require.NoError(t, src.Handle(context.Background(), batch))
	// Redelivery of the same batch admits nothing new.
	require.NoError(t, src.Handle(context.Background(), batch))
	assert.Len(t, engine.Accepted(), 2)
}

func TestHandleWithoutDedup(t *testing.T) {
	engine := &fakeEngine{}
	cfg := testConfig()
	cfg.DedupTTL = 0
	src := NewKafkaSource(&scriptedConsumer{}, engine, cfg, quietLogger())

	batch := []fly.ConsumedMessage{
		envelopeMessage(t, 1, "p1", "span-a"),
		envelopeMessage(t, 2, "p1", "span-a"),
	}
	require.NoError(t, src.Handle(context.Background(), batch))
	assert.Len(t, engine.Accepted(), 2)
}

func TestHandleRetriesWhileQueueFull(t *testing.T) {
	engine := &fakeEngine{fullFor: 3}
	src := NewKafkaSource(&scriptedConsumer{}, engine, testConfig(), quietLogger())

	require.NoError(t, src.Handle(context.Background(), []fly.ConsumedMessage{envelopeMessage(t, 1, "p1", "span-a")}))
	assert.Len(t, engine.Accepted(), 1)
	assert.Equal(t, 4, engine.calls)
}

func TestHandleReportsBackpressure(t *testing.T) {
	engine := &fakeEngine{fullFor: 2}
	src := NewKafkaSource(&scriptedConsumer{}, engine, testConfig(), quietLogger())

	var states []bool
	src.OnBackpressure(func(blocked bool) { states = append(states, blocked) })

	batch := []fly.ConsumedMessage{
		envelopeMessage(t, 1, "p1", "span-a"),
		envelopeMessage(t, 2, "p1", "span-b"),
	}
	require.NoError(t, src.Handle(context.Background(), batch))
	assert.Len(t, engine.Accepted(), 2)
	// Only the first span met a full queue.
	assert.Equal(t, []bool{true, false}, states)
}

func TestHandleGivesUpWhenContextEnds(t *testing.T) {
	engine := &fakeEngine{alwaysFull: true}
	src := NewKafkaSource(&scriptedConsumer{}, engine, testConfig(), quietLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := src.Handle(ctx, []fly.ConsumedMessage{envelopeMessage(t, 1, "p1", "span-a")})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, engine.Accepted())

	// The span was never admitted, so a redelivery is not a duplicate.
	engine.alwaysFull = false
	require.NoError(t, src.Handle(context.Background(), []fly.ConsumedMessage{envelopeMessage(t, 1, "p1", "span-a")}))
	assert.Len(t, engine.Accepted(), 1)
}

func TestHandlePropagatesOtherEnqueueErrors(t *testing.T) {
	boom := errors.New("boom")
	engine := &fakeEngine{err: boom}
	src := NewKafkaSource(&scriptedConsumer{}, engine, testConfig(), quietLogger())

	err := src.Handle(context.Background(), []fly.ConsumedMessage{envelopeMessage(t, 1, "p1", "span-a")})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, engine.calls, "no retry for errors other than a full queue")
}

func TestRunStopsCleanlyOnCancel(t *testing.T) {
	engine := &fakeEngine{}
	consumer := &scriptedConsumer{batches: [][]fly.ConsumedMessage{
		{envelopeMessage(t, 1, "p1", "span-a")},
		{envelopeMessage(t, 2, "p1", "span-b")},
	}}
	src := NewKafkaSource(consumer, engine, testConfig(), quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx) }()

	assert.Eventually(t, func() bool { return len(engine.Accepted()) == 2 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, 2, consumer.committed)
}

func TestRunReturnsHandlerFailure(t *testing.T) {
	engine := &fakeEngine{err: errors.New("engine gone")}
	consumer := &scriptedConsumer{batches: [][]fly.ConsumedMessage{
		{envelopeMessage(t, 1, "p1", "span-a")},
	}}
	src := NewKafkaSource(consumer, engine, testConfig(), quietLogger())

	err := src.Run(context.Background())
	assert.ErrorContains(t, err, "engine gone")
	assert.Equal(t, 0, consumer.committed)
}

// failingConsumer fails before fetching anything.
type failingConsumer struct{ err error }

func (c *failingConsumer) Consume(context.Context, fly.MessageHandler) error { return c.err }

func (c *failingConsumer) CommitMessages(context.Context, ...fly.ConsumedMessage) error {
	return nil
}

func (c *failingConsumer) Close() error { return nil }

func TestRunConsumerFailsImmediately(t *testing.T) {
	defer goleak.VerifyNone(t)

	broker := errors.New("broker unreachable")
	for range 20 {
		src := NewKafkaSource(&failingConsumer{err: broker}, &fakeEngine{}, testConfig(), quietLogger())
		assert.ErrorIs(t, src.Run(context.Background()), broker)
	}
}

func TestHandleAdmitsAgainAfterDedupTTL(t *testing.T) {
	engine := &fakeEngine{}
	cfg := testConfig()
	cfg.DedupTTL = 20 * time.Millisecond
	src := NewKafkaSource(&scriptedConsumer{}, engine, cfg, quietLogger())

	batch := []fly.ConsumedMessage{envelopeMessage(t, 1, "p1", "span-a")}
	require.NoError(t, src.Handle(context.Background(), batch))
	require.NoError(t, src.Handle(context.Background(), batch))
	require.Len(t, engine.Accepted(), 1)

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, src.Handle(context.Background(), batch))
	assert.Len(t, engine.Accepted(), 2)
	assert.Equal(t, 1, src.seen.Len())
}

func TestMediaType(t *testing.T) {
	assert.Equal(t, "application/json", mediaType(" Application/JSON ; charset=utf-8"))
	assert.Equal(t, "", mediaType(""))
}

func buildTraces(t *testing.T, spanCount int) []byte {
	t.Helper()
	td := ptrace.NewTraces()
	rs := td.ResourceSpans().AppendEmpty()
	rs.Resource().Attributes().PutStr("service.name", "checkout")
	ss := rs.ScopeSpans().AppendEmpty()
	for i := range spanCount {
		span := ss.Spans().AppendEmpty()
		span.SetTraceID(pcommon.TraceID([16]byte{7, byte(i + 1)}))
		span.SetSpanID(pcommon.SpanID([8]byte{8, byte(i + 1)}))
		span.SetName("op")
	}
	var m ptrace.ProtoMarshaler
	data, err := m.MarshalTraces(td)
	require.NoError(t, err)
	return data
}
