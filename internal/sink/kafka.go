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
	"strconv"
	"sync/atomic"

	"github.com/cardinalhq/spanrunner/internal/batcher"
	"github.com/cardinalhq/spanrunner/internal/fly"
	"github.com/cardinalhq/spanrunner/internal/idgen"
	"github.com/cardinalhq/spanrunner/internal/logctx"
	"github.com/cardinalhq/spanrunner/internal/spans"
)

// KafkaSink republishes each batch to a topic, one message per span.
// Messages are keyed by trace id so a trace stays on one partition.
type KafkaSink struct {
	producer fly.Producer
	topic    string
	cbor     bool

	healthy atomic.Bool
}

var _ batcher.Sink = (*KafkaSink)(nil)

func NewKafkaSink(producer fly.Producer, topic string, useCBOR bool) *KafkaSink {
	s := &KafkaSink{producer: producer, topic: topic, cbor: useCBOR}
	s.healthy.Store(true)
	return s
}

func (s *KafkaSink) Store(ctx context.Context, key spans.PartitionKey, records []spans.Record) error {
	if len(records) == 0 {
		return nil
	}

	batchID := strconv.FormatInt(idgen.NextBatchID(), 10)
	contentType := spans.ContentTypeJSON
	if s.cbor {
		contentType = spans.ContentTypeCBOR
	}

	messages := make([]fly.Message, 0, len(records))
	for _, rec := range records {
		value, err := s.encode(rec)
		if err != nil {
			return fmt.Errorf("failed to encode span %s: %w", rec.SpanID, err)
		}
		messages = append(messages, fly.Message{
			Key:   []byte(rec.TraceID),
			Value: value,
			Headers: map[string]string{
				spans.HeaderProjectID:   key.Project,
				spans.HeaderEnvironment: key.Environment,
				spans.HeaderBatchID:     batchID,
				spans.HeaderContentType: contentType,
			},
		})
	}

	err := s.producer.BatchSend(ctx, s.topic, messages)
	s.healthy.Store(err == nil)
	if err != nil {
		return fmt.Errorf("failed to publish %d spans to %s: %w", len(messages), s.topic, err)
	}

	logctx.FromContext(ctx).Debug("Published batch", "topic", s.topic, "batchID", batchID)
	return nil
}

func (s *KafkaSink) encode(rec spans.Record) ([]byte, error) {
	if s.cbor {
		return rec.MarshalCBOR()
	}
	return rec.MarshalEnvelope()
}

// HealthCheck reports the outcome of the most recent publish.
func (s *KafkaSink) HealthCheck(context.Context) bool {
	return s.healthy.Load()
}
