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
	"fmt"
	"time"
)

type Health int

const (
	HealthHealthy Health = iota
	HealthDegraded
	HealthUnhealthy
)

const (
	degradedQueueRatio  = 0.8
	degradedRejectRatio = 0.05
)

func (h Health) String() string {
	switch h {
	case HealthHealthy:
		return "healthy"
	case HealthDegraded:
		return "degraded"
	case HealthUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

func (h Health) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *Health) UnmarshalText(b []byte) error {
	switch string(b) {
	case "healthy":
		*h = HealthHealthy
	case "degraded":
		*h = HealthDegraded
	case "unhealthy":
		*h = HealthUnhealthy
	default:
		return fmt.Errorf("unknown health %q", string(b))
	}
	return nil
}

// ClassifyHealth derives the engine health. A consumer that is not running
// is unhealthy. A queue above 80% of capacity or a rejection rate above 5%
// is degraded.
func ClassifyHealth(running bool, queueLen, queueCap int, received, rejected int64) Health {
	if !running {
		return HealthUnhealthy
	}
	if float64(queueLen) > degradedQueueRatio*float64(queueCap) {
		return HealthDegraded
	}
	if float64(rejected)/float64(max(1, received)) > degradedRejectRatio {
		return HealthDegraded
	}
	return HealthHealthy
}

// Snapshot is the statistics surface handed to the presentation layer.
type Snapshot struct {
	Counters
	QueueLength    int
	QueueCapacity  int
	Partitions     int
	PendingRecords int
	Uptime         time.Duration
	Running        bool
	Health         Health
}
