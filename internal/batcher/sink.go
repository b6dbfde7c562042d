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

	"github.com/cardinalhq/spanrunner/internal/spans"
)

// Sink durably persists flushed batches.
type Sink interface {
	// Store persists records for one partition. It may be called many
	// times for the same key and must not assume it sees a key only once.
	// Records are in acceptance order.
	Store(ctx context.Context, key spans.PartitionKey, records []spans.Record) error

	// HealthCheck reports whether the sink can currently accept writes.
	HealthCheck(ctx context.Context) bool
}
