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
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/klauspost/compress/gzip"
	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/spanrunner/internal/cloudstorage"
	"github.com/cardinalhq/spanrunner/internal/fly"
	"github.com/cardinalhq/spanrunner/internal/spans"
)

var (
	testKey = spans.NewPartitionKey("p1", "prod")
	errDown = errors.New("down")
)

func testRecords(n int) []spans.Record {
	out := make([]spans.Record, n)
	for i := range n {
		rec := spans.NewRecord(testKey,
			fmt.Sprintf("trace-%d", i%2),
			fmt.Sprintf("span-%d", i),
			json.RawMessage(fmt.Sprintf(`{"n":%d}`, i)))
		rec.ReceivedAt = time.UnixMilli(1735700000000 + int64(i))
		out[i] = rec
	}
	return out
}

func TestParseEncoding(t *testing.T) {
	for in, want := range map[string]Encoding{
		"":         EncodingJSONL,
		"jsonl":    EncodingJSONL,
		"JSONL.GZ": EncodingJSONL,
		"parquet":  EncodingParquet,
	} {
		got, err := ParseEncoding(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseEncoding("avro")
	assert.Error(t, err)
}

func TestEncodeJSONL(t *testing.T) {
	records := testRecords(3)
	body, err := Encode(EncodingJSONL, 1, records)
	require.NoError(t, err)

	gz, err := gzip.NewReader(bytes.NewReader(body))
	require.NoError(t, err)
	scanner := bufio.NewScanner(gz)

	var got []spans.Record
	for scanner.Scan() {
		rec, err := spans.DecodeEnvelope(scanner.Bytes())
		require.NoError(t, err)
		got = append(got, rec)
	}
	require.NoError(t, scanner.Err())
	require.Len(t, got, 3)
	for i := range records {
		assert.Equal(t, records[i].SpanID, got[i].SpanID)
		assert.Equal(t, records[i].Key, got[i].Key)
		assert.JSONEq(t, string(records[i].Payload), string(got[i].Payload))
		assert.Equal(t, records[i].ReceivedAt.UnixMilli(), got[i].ReceivedAt.UnixMilli())
	}
}

func TestEncodeParquet(t *testing.T) {
	records := testRecords(4)
	body, err := Encode(EncodingParquet, 42, records)
	require.NoError(t, err)

	rows, err := parquet.Read[spanRow](bytes.NewReader(body), int64(len(body)))
	require.NoError(t, err)
	require.Len(t, rows, 4)
	for i, row := range rows {
		assert.Equal(t, int64(42), row.BatchID)
		assert.Equal(t, "p1", row.ProjectID)
		assert.Equal(t, "prod", row.Environment)
		assert.Equal(t, records[i].Key.Fingerprint(), row.Fingerprint)
		assert.Equal(t, records[i].SpanID, row.SpanID)
		assert.Equal(t, records[i].TraceID, row.TraceID)
		assert.Equal(t, records[i].ReceivedAt.UnixMilli(), row.ReceivedAtMs)
		assert.JSONEq(t, string(records[i].Payload), row.Span)
	}
}

func TestObjectKey(t *testing.T) {
	ts := time.Date(2025, 3, 9, 4, 30, 0, 0, time.FixedZone("x", 3600))
	got := ObjectKey("spans", spans.NewPartitionKey("acme/web", "prod"), ts, "01ABC", "parquet")
	assert.Equal(t, "spans/project=acme%2Fweb/environment=prod/dt=2025-03-09/hour=03/01ABC.parquet", got)

	got = ObjectKey("", testKey, ts, "01ABC", "jsonl.gz")
	assert.Equal(t, "project=p1/environment=prod/dt=2025-03-09/hour=03/01ABC.jsonl.gz", got)
}

type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	putErr  error
	pingErr error
}

func newMemStore() *memStore {
	return &memStore{objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *memStore) PutObject(_ context.Context, key string, body []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	m.objects[key] = body
	m.types[key] = contentType
	return nil
}

func (m *memStore) Ping(context.Context) error { return m.pingErr }

var _ cloudstorage.Client = (*memStore)(nil)

func TestObjectSinkStore(t *testing.T) {
	store := newMemStore()
	s := NewObjectSink(store, "raw", EncodingJSONL)
	s.now = func() time.Time { return time.Date(2025, 1, 1, 13, 0, 0, 0, time.UTC) }

	require.NoError(t, s.Store(context.Background(), testKey, testRecords(2)))
	require.NoError(t, s.Store(context.Background(), testKey, testRecords(1)))
	require.NoError(t, s.Store(context.Background(), testKey, nil))

	require.Len(t, store.objects, 2, "one object per non-empty batch")
	for key, ct := range store.types {
		assert.Regexp(t, `^raw/project=p1/environment=prod/dt=2025-01-01/hour=13/[0-9A-Z]{26}\.jsonl\.gz$`, key)
		assert.Equal(t, "application/x-ndjson", ct)
	}
}

func TestObjectSinkErrors(t *testing.T) {
	store := newMemStore()
	store.putErr = errDown
	s := NewObjectSink(store, "raw", EncodingParquet)

	err := s.Store(context.Background(), testKey, testRecords(1))
	assert.ErrorIs(t, err, errDown)

	assert.True(t, s.HealthCheck(context.Background()))
	store.pingErr = errDown
	assert.False(t, s.HealthCheck(context.Background()))
}

func TestObjectSinkWithFileStore(t *testing.T) {
	client, err := cloudstorage.NewClient(context.Background(), cloudstorage.Config{Provider: "file", Bucket: "b", Path: t.TempDir()})
	require.NoError(t, err)

	s := NewObjectSink(client, "spans", EncodingParquet)
	require.NoError(t, s.Store(context.Background(), testKey, testRecords(5)))
	assert.True(t, s.HealthCheck(context.Background()))
}

type fakeProducer struct {
	mu     sync.Mutex
	topic  string
	sent   []fly.Message
	err    error
	closed bool
}

func (p *fakeProducer) Send(ctx context.Context, topic string, m fly.Message) error {
	return p.BatchSend(ctx, topic, []fly.Message{m})
}

func (p *fakeProducer) BatchSend(_ context.Context, topic string, msgs []fly.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.topic = topic
	p.sent = append(p.sent, msgs...)
	return nil
}

func (p *fakeProducer) Close() error {
	p.closed = true
	return nil
}

func TestKafkaSinkStore(t *testing.T) {
	producer := &fakeProducer{}
	s := NewKafkaSink(producer, "out", false)
	records := testRecords(3)

	require.NoError(t, s.Store(context.Background(), testKey, records))
	assert.Equal(t, "out", producer.topic)
	require.Len(t, producer.sent, 3)

	batchID := producer.sent[0].Headers[spans.HeaderBatchID]
	assert.NotEmpty(t, batchID)
	for i, msg := range producer.sent {
		assert.Equal(t, records[i].TraceID, string(msg.Key))
		assert.Equal(t, "p1", msg.Headers[spans.HeaderProjectID])
		assert.Equal(t, "prod", msg.Headers[spans.HeaderEnvironment])
		assert.Equal(t, spans.ContentTypeJSON, msg.Headers[spans.HeaderContentType])
		assert.Equal(t, batchID, msg.Headers[spans.HeaderBatchID], "one batch id per batch")

		rec, err := spans.DecodeEnvelope(msg.Value)
		require.NoError(t, err)
		assert.Equal(t, records[i].SpanID, rec.SpanID)
	}
	assert.True(t, s.HealthCheck(context.Background()))
}

func TestKafkaSinkCBOR(t *testing.T) {
	producer := &fakeProducer{}
	s := NewKafkaSink(producer, "out", true)
	require.NoError(t, s.Store(context.Background(), testKey, testRecords(1)))

	require.Len(t, producer.sent, 1)
	assert.Equal(t, spans.ContentTypeCBOR, producer.sent[0].Headers[spans.HeaderContentType])
	rec, err := spans.DecodeCBOREnvelope(producer.sent[0].Value)
	require.NoError(t, err)
	assert.Equal(t, "span-0", rec.SpanID)
}

func TestKafkaSinkHealthFollowsLastSend(t *testing.T) {
	producer := &fakeProducer{err: errDown}
	s := NewKafkaSink(producer, "out", false)

	assert.True(t, s.HealthCheck(context.Background()))
	assert.ErrorIs(t, s.Store(context.Background(), testKey, testRecords(1)), errDown)
	assert.False(t, s.HealthCheck(context.Background()))

	producer.err = nil
	require.NoError(t, s.Store(context.Background(), testKey, testRecords(1)))
	assert.True(t, s.HealthCheck(context.Background()))
}

type fakePool struct {
	table   pgx.Identifier
	columns []string
	rows    [][]any
	copyErr error
	pingErr error
	short   bool
}

func (p *fakePool) CopyFrom(_ context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error) {
	if p.copyErr != nil {
		return 0, p.copyErr
	}
	p.table = table
	p.columns = columns
	for src.Next() {
		values, err := src.Values()
		if err != nil {
			return 0, err
		}
		p.rows = append(p.rows, values)
	}
	if p.short {
		return int64(len(p.rows)) - 1, nil
	}
	return int64(len(p.rows)), src.Err()
}

func (p *fakePool) Ping(context.Context) error { return p.pingErr }

func TestPostgresSinkStore(t *testing.T) {
	pool := &fakePool{}
	s := NewPostgresSink(pool)
	records := testRecords(2)

	require.NoError(t, s.Store(context.Background(), testKey, records))
	assert.Equal(t, pgx.Identifier{"spans"}, pool.table)
	assert.Equal(t, spanColumns, pool.columns)
	require.Len(t, pool.rows, 2)

	row := pool.rows[1]
	require.Len(t, row, len(spanColumns))
	assert.Equal(t, row[0], pool.rows[0][0], "one batch id per batch")
	assert.Equal(t, "p1", row[1])
	assert.Equal(t, "prod", row[2])
	assert.Equal(t, testKey.Fingerprint(), row[3])
	assert.Equal(t, "trace-1", row[4])
	assert.Equal(t, "span-1", row[5])
	assert.Equal(t, records[1].ReceivedAt, row[6])
	assert.Equal(t, []byte(`{"n":1}`), row[7])
}

func TestPostgresSinkErrors(t *testing.T) {
	pool := &fakePool{copyErr: errDown}
	s := NewPostgresSink(pool)
	assert.ErrorIs(t, s.Store(context.Background(), testKey, testRecords(1)), errDown)

	pool.copyErr = nil
	pool.short = true
	assert.Error(t, s.Store(context.Background(), testKey, testRecords(2)))

	assert.True(t, s.HealthCheck(context.Background()))
	pool.pingErr = errDown
	assert.False(t, s.HealthCheck(context.Background()))
}
