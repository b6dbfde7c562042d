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

package idgen

import (
	crand "crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ObjectKeyGenerator issues ULIDs that sort by creation time, so object
// listings under one hour prefix come back in write order.
type ObjectKeyGenerator struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

func NewObjectKeyGenerator() *ObjectKeyGenerator {
	return &ObjectKeyGenerator{
		entropy: ulid.Monotonic(crand.Reader, 0),
	}
}

func (g *ObjectKeyGenerator) Make(t time.Time) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), g.entropy).String()
}
