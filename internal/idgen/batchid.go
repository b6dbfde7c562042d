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
	"math/rand/v2"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/sony/sonyflake"
)

// DefaultBatchIDs stamps every stored batch with a sortable numeric id.
var DefaultBatchIDs *BatchIDGenerator

func init() {
	var err error
	DefaultBatchIDs, err = NewBatchIDGenerator()
	if err != nil {
		panic(err)
	}
}

type BatchIDGenerator struct {
	sf *sonyflake.Sonyflake
}

func NewBatchIDGenerator() (*BatchIDGenerator, error) {
	sf, err := sonyflake.New(sonyflake.Settings{
		StartTime: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		MachineID: func() (uint16, error) {
			return machineID(net.InterfaceAddrs, os.Hostname), nil
		},
	})
	if err != nil {
		return nil, err
	}
	if sf == nil {
		return nil, errors.New("failed to create Sonyflake instance")
	}
	return &BatchIDGenerator{sf: sf}, nil
}

func (g *BatchIDGenerator) NextID() int64 {
	v, err := g.sf.NextID()
	if err != nil {
		return rand.Int64()
	}
	return int64(v)
}

// NextString is NextID in base 36.
func (g *BatchIDGenerator) NextString() string {
	return strconv.FormatInt(g.NextID(), 36)
}

func NextBatchID() int64 {
	return DefaultBatchIDs.NextID()
}

// machineID is the low 16 bits of the first private IPv4 address, as
// sonyflake does by default. Hosts without one fall back to a hash of the
// hostname, then to a random id.
func machineID(addrs func() ([]net.Addr, error), hostname func() (string, error)) uint16 {
	if list, err := addrs(); err == nil {
		for _, a := range list {
			ipnet, ok := a.(*net.IPNet)
			if !ok || ipnet.IP.IsLoopback() {
				continue
			}
			if ip := ipnet.IP.To4(); ip != nil && ip.IsPrivate() {
				return uint16(ip[2])<<8 | uint16(ip[3])
			}
		}
	}
	if host, err := hostname(); err == nil && host != "" {
		return uint16(xxhash.Sum64String(host))
	}
	return uint16(rand.UintN(1 << 16))
}
