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
	"time"

	"github.com/cardinalhq/spanrunner/internal/batcher"
	"github.com/cardinalhq/spanrunner/internal/cloudstorage"
	"github.com/cardinalhq/spanrunner/internal/idgen"
	"github.com/cardinalhq/spanrunner/internal/logctx"
	"github.com/cardinalhq/spanrunner/internal/spans"
)

// ObjectSink writes each batch as one object in a bucket or directory.
type ObjectSink struct {
	client   cloudstorage.Client
	prefix   string
	encoding Encoding
	keys     *idgen.ObjectKeyGenerator
	now      func() time.Time
}

var _ batcher.Sink = (*ObjectSink)(nil)

func NewObjectSink(client cloudstorage.Client, prefix string, encoding Encoding) *ObjectSink {
	return &ObjectSink{
		client:   client,
		prefix:   prefix,
		encoding: encoding,
		keys:     idgen.NewObjectKeyGenerator(),
		now:      time.Now,
	}
}

func (s *ObjectSink) Store(ctx context.Context, key spans.PartitionKey, records []spans.Record) error {
	if len(records) == 0 {
		return nil
	}

	batchID := idgen.NextBatchID()
	body, err := Encode(s.encoding, batchID, records)
	if err != nil {
		return err
	}

	now := s.now()
	objectKey := ObjectKey(s.prefix, key, now, s.keys.Make(now), s.encoding.Ext())
	if err := s.client.PutObject(ctx, objectKey, body, s.encoding.ContentType()); err != nil {
		return fmt.Errorf("failed to write object %s: %w", objectKey, err)
	}

	logctx.FromContext(ctx).Debug("Wrote batch object",
		"key", objectKey,
		"batchID", batchID,
		"bytes", len(body))
	return nil
}

func (s *ObjectSink) HealthCheck(ctx context.Context) bool {
	if err := s.client.Ping(ctx); err != nil {
		logctx.FromContext(ctx).Warn("Object store ping failed", "error", err)
		return false
	}
	return true
}
