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
	"errors"
	"fmt"

	"github.com/cardinalhq/spanrunner/internal/spans"
)

var (
	// ErrQueueFull is returned by Enqueue when the intake queue is at
	// capacity. The record was not admitted; the caller decides whether
	// to retry, drop or push back upstream.
	ErrQueueFull = errors.New("intake queue is full")

	// ErrInvalidConfig wraps every configuration validation failure.
	ErrInvalidConfig = errors.New("invalid batcher config")
)

// StorageError describes a batch the sink failed to persist. The records
// of that batch have been dropped from memory.
type StorageError struct {
	Key     spans.PartitionKey
	Records int
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("failed to store %d records for partition %s: %v", e.Records, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
