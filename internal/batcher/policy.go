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

import "time"

// FlushReason records why a partition was flushed.
type FlushReason int

const (
	FlushReasonNone FlushReason = iota
	FlushReasonSize
	FlushReasonAge
	FlushReasonShutdown
)

func (r FlushReason) String() string {
	switch r {
	case FlushReasonNone:
		return "none"
	case FlushReasonSize:
		return "size"
	case FlushReasonAge:
		return "age"
	case FlushReasonShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// FlushPolicy flushes a partition once it holds SizeThreshold records or
// its batch has been open for AgeThreshold, whichever comes first.
type FlushPolicy struct {
	SizeThreshold int
	AgeThreshold  time.Duration
}

// Evaluate returns why a batch of count records opened at openedAt is due,
// or FlushReasonNone. Empty batches are never due.
func (p FlushPolicy) Evaluate(count int, openedAt, now time.Time) FlushReason {
	if count == 0 {
		return FlushReasonNone
	}
	if count >= p.SizeThreshold {
		return FlushReasonSize
	}
	if now.Sub(openedAt) >= p.AgeThreshold {
		return FlushReasonAge
	}
	return FlushReasonNone
}
