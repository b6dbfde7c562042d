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

package heartbeat

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/cardinalhq/spanrunner/internal/batcher"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func counting(count *int64) HeartbeatFunc {
	return func(context.Context) error {
		atomic.AddInt64(count, 1)
		return nil
	}
}

func TestHeartbeater_BasicOperation(t *testing.T) {
	var callCount int64

	stop := New(counting(&callCount), 20*time.Millisecond, nil).Start(context.Background())
	assert.Eventually(t, func() bool { return atomic.LoadInt64(&callCount) >= 3 }, time.Second, 5*time.Millisecond)
	stop()
}

func TestHeartbeater_InitialHeartbeat(t *testing.T) {
	var callCount int64

	stop := New(counting(&callCount), time.Hour, nil).Start(context.Background())
	assert.Eventually(t, func() bool { return atomic.LoadInt64(&callCount) == 1 }, time.Second, time.Millisecond)
	stop()

	assert.Equal(t, int64(1), atomic.LoadInt64(&callCount), "Should call heartbeat function immediately on start")
}

func TestHeartbeater_StopWaitsForLoop(t *testing.T) {
	var callCount int64

	stop := New(counting(&callCount), 10*time.Millisecond, nil).Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	stop()

	callsAfterStop := atomic.LoadInt64(&callCount)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, callsAfterStop, atomic.LoadInt64(&callCount), "Should not beat after stop returns")
}

func TestHeartbeater_ContextCancellation(t *testing.T) {
	var callCount int64

	ctx, parentCancel := context.WithCancel(context.Background())
	stop := New(counting(&callCount), 10*time.Millisecond, nil).Start(ctx)
	parentCancel()
	stop()

	calls := atomic.LoadInt64(&callCount)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, calls, atomic.LoadInt64(&callCount), "Should stop calling after context cancellation")
}

func TestHeartbeater_ContinuesAfterError(t *testing.T) {
	var callCount int64
	heartbeatFunc := func(context.Context) error {
		if atomic.AddInt64(&callCount, 1) == 2 {
			return errors.New("heartbeat failed")
		}
		return nil
	}

	var buf syncBuffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	stop := New(heartbeatFunc, 10*time.Millisecond, logger).Start(context.Background())
	assert.Eventually(t, func() bool { return atomic.LoadInt64(&callCount) >= 3 }, time.Second, 5*time.Millisecond)
	stop()

	assert.Contains(t, buf.String(), "heartbeat failed")
}

type fakeSource struct{ snap batcher.Snapshot }

func (f fakeSource) Snapshot() batcher.Snapshot { return f.snap }

func TestLogStats(t *testing.T) {
	var buf syncBuffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	src := fakeSource{snap: batcher.Snapshot{Health: batcher.HealthHealthy, Running: true}}
	src.snap.RecordsAccepted = 12
	require.NoError(t, LogStats(src, logger)(context.Background()))
	assert.Contains(t, buf.String(), "level=INFO")
	assert.Contains(t, buf.String(), "accepted=12")

	buf.Reset()
	src.snap.Health = batcher.HealthDegraded
	require.NoError(t, LogStats(src, logger)(context.Background()))
	assert.Contains(t, buf.String(), "level=WARN")
	assert.Contains(t, buf.String(), "health=degraded")
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *syncBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.Reset()
}
