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

// Package spans holds the record types that flow through the ingestion
// batching engine.
package spans

import (
	"encoding/binary"
	"encoding/json"
	"time"

	"github.com/cespare/xxhash/v2"
)

// PartitionKey identifies an independent batch. It is comparable and is
// used directly as a map key.
type PartitionKey struct {
	Project     string `json:"project_id"`
	Environment string `json:"environment"`
}

// NewPartitionKey returns the key for a project and environment.
func NewPartitionKey(project, environment string) PartitionKey {
	return PartitionKey{Project: project, Environment: environment}
}

func (k PartitionKey) String() string {
	return k.Project + "/" + k.Environment
}

// Fingerprint returns a stable 64 bit hash of the key. Each field is
// length prefixed, so no choice of field contents makes two distinct keys
// hash the same input. Stored sinks index partitions by it.
func (k PartitionKey) Fingerprint() int64 {
	buf := make([]byte, 0, 8+len(k.Project)+len(k.Environment))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(k.Project)))
	buf = append(buf, k.Project...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(k.Environment)))
	buf = append(buf, k.Environment...)
	return int64(xxhash.Sum64(buf))
}

// Record is one span handed to the engine. Records are values and are
// never mutated once built.
type Record struct {
	Key        PartitionKey
	TraceID    string
	SpanID     string
	ReceivedAt time.Time
	Payload    json.RawMessage
}

// NewRecord builds a record stamped with the current time.
func NewRecord(key PartitionKey, traceID, spanID string, payload json.RawMessage) Record {
	return Record{
		Key:        key,
		TraceID:    traceID,
		SpanID:     spanID,
		ReceivedAt: time.Now(),
		Payload:    payload,
	}
}
