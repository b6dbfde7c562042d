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

	"github.com/jackc/pgx/v5"

	"github.com/cardinalhq/spanrunner/internal/batcher"
	"github.com/cardinalhq/spanrunner/internal/idgen"
	"github.com/cardinalhq/spanrunner/internal/logctx"
	"github.com/cardinalhq/spanrunner/internal/spans"
)

// copyPool is the slice of *pgxpool.Pool the postgres sink needs.
type copyPool interface {
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
	Ping(ctx context.Context) error
}

var spanColumns = []string{
	"batch_id",
	"project_id",
	"environment",
	"partition_fingerprint",
	"trace_id",
	"span_id",
	"received_at",
	"span",
}

// PostgresSink bulk loads each batch into the spans table.
type PostgresSink struct {
	pool copyPool
}

var _ batcher.Sink = (*PostgresSink)(nil)

func NewPostgresSink(pool copyPool) *PostgresSink {
	return &PostgresSink{pool: pool}
}

func (s *PostgresSink) Store(ctx context.Context, key spans.PartitionKey, records []spans.Record) error {
	if len(records) == 0 {
		return nil
	}

	batchID := idgen.NextBatchID()
	fingerprint := key.Fingerprint()
	src := pgx.CopyFromSlice(len(records), func(i int) ([]any, error) {
		rec := records[i]
		return []any{
			batchID,
			key.Project,
			key.Environment,
			fingerprint,
			rec.TraceID,
			rec.SpanID,
			rec.ReceivedAt,
			[]byte(rec.Payload),
		}, nil
	})

	n, err := s.pool.CopyFrom(ctx, pgx.Identifier{"spans"}, spanColumns, src)
	if err != nil {
		return fmt.Errorf("failed to copy spans: %w", err)
	}
	if n != int64(len(records)) {
		return fmt.Errorf("copied %d of %d spans", n, len(records))
	}

	logctx.FromContext(ctx).Debug("Copied batch", "batchID", batchID, "rows", n)
	return nil
}

func (s *PostgresSink) HealthCheck(ctx context.Context) bool {
	if err := s.pool.Ping(ctx); err != nil {
		logctx.FromContext(ctx).Warn("Database ping failed", "error", err)
		return false
	}
	return true
}
