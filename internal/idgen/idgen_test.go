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
	"errors"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatchIDsIncrease(t *testing.T) {
	gen, err := NewBatchIDGenerator()
	require.NoError(t, err)

	id := gen.NextID()
	id2 := gen.NextID()
	assert.Greater(t, id2, id)

	s := gen.NextString()
	v, err := strconv.ParseInt(s, 36, 64)
	require.NoError(t, err)
	assert.Greater(t, v, id2)

	assert.NotZero(t, NextBatchID())
}

func TestMachineID(t *testing.T) {
	ipnet := func(s string) net.Addr {
		return &net.IPNet{IP: net.ParseIP(s), Mask: net.CIDRMask(8, 32)}
	}
	hostname := func() (string, error) { return "span-worker-1", nil }
	noHostname := func() (string, error) { return "", errors.New("no hostname") }

	addrs := func() ([]net.Addr, error) {
		return []net.Addr{ipnet("127.0.0.1"), ipnet("8.8.8.8"), ipnet("10.1.2.3")}, nil
	}
	assert.Equal(t, uint16(0x0203), machineID(addrs, hostname))

	publicOnly := func() ([]net.Addr, error) {
		return []net.Addr{ipnet("127.0.0.1"), ipnet("8.8.8.8")}, nil
	}
	id := machineID(publicOnly, hostname)
	assert.Equal(t, id, machineID(publicOnly, hostname), "hostname fallback is stable")

	failing := func() ([]net.Addr, error) { return nil, errors.New("no interfaces") }
	assert.Equal(t, id, machineID(failing, hostname))

	// Neither source available still yields an id.
	_ = machineID(failing, noHostname)
}

func TestObjectKeysSortByTime(t *testing.T) {
	gen := NewObjectKeyGenerator()
	t0 := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	a := gen.Make(t0)
	b := gen.Make(t0)
	c := gen.Make(t0.Add(time.Millisecond))
	assert.Less(t, a, b, "monotonic within one millisecond")
	assert.Less(t, b, c)

	parsed, err := ulid.Parse(a)
	require.NoError(t, err)
	assert.Equal(t, t0.UnixMilli(), int64(parsed.Time()))
}

func TestObjectKeysConcurrent(t *testing.T) {
	gen := NewObjectKeyGenerator()
	now := time.Now()

	var mu sync.Mutex
	seen := map[string]bool{}
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				id := gen.Make(now)
				mu.Lock()
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 800)
}
