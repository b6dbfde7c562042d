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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/spanrunner/internal/cloudstorage"
	"github.com/cardinalhq/spanrunner/internal/fly"
)

func TestMultiStoresToEveryMember(t *testing.T) {
	a, b := newMemStore(), &fakeProducer{}
	m := NewMulti(
		Named{Name: "objects", Sink: NewObjectSink(a, "", EncodingJSONL)},
		Named{Name: "kafka", Sink: NewKafkaSink(b, "out", false)},
	)

	require.NoError(t, m.Store(context.Background(), testKey, testRecords(2)))
	assert.Len(t, a.objects, 1)
	assert.Len(t, b.sent, 2)
	assert.Equal(t, []string{"objects", "kafka"}, m.Names())
	assert.True(t, m.HealthCheck(context.Background()))
}

func TestMultiCombinesFailures(t *testing.T) {
	bad := newMemStore()
	bad.putErr = errDown
	good := &fakeProducer{}
	m := NewMulti(
		Named{Name: "objects", Sink: NewObjectSink(bad, "", EncodingJSONL)},
		Named{Name: "kafka", Sink: NewKafkaSink(good, "out", false)},
	)

	err := m.Store(context.Background(), testKey, testRecords(1))
	require.Error(t, err)
	assert.ErrorIs(t, err, errDown)
	assert.Contains(t, err.Error(), "objects")
	assert.Len(t, good.sent, 1, "healthy members still receive the batch")
}

func TestMultiHealthRequiresAll(t *testing.T) {
	store := newMemStore()
	store.pingErr = errDown
	m := NewMulti(
		Named{Name: "objects", Sink: NewObjectSink(store, "", EncodingJSONL)},
		Named{Name: "kafka", Sink: NewKafkaSink(&fakeProducer{}, "out", false)},
	)
	assert.False(t, m.HealthCheck(context.Background()))
}

func TestNormalizedKinds(t *testing.T) {
	kinds, err := Config{Kinds: []string{" Kafka", "objectstore", "kafka", ""}}.NormalizedKinds()
	require.NoError(t, err)
	assert.Equal(t, []string{KindKafka, KindObjectStore}, kinds)

	_, err = Config{}.NormalizedKinds()
	assert.Error(t, err)

	_, err = Config{Kinds: []string{"s3", "objectstore", "redis"}}.NormalizedKinds()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis, s3")
}

func TestBuildObjectStore(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ObjectStore = cloudstorage.Config{Provider: "file", Bucket: "spans", Path: t.TempDir()}

	set, err := Build(context.Background(), cfg, fly.DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, []string{KindObjectStore}, set.Names())
	assert.True(t, set.HealthCheck(context.Background()))
	require.NoError(t, set.Store(context.Background(), testKey, testRecords(3)))
	assert.NoError(t, set.Close())
}

func TestBuildRejectsBadConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ObjectStore = cloudstorage.Config{Provider: "file", Bucket: "spans", Path: t.TempDir()}
	cfg.Encoding = "avro"
	_, err := Build(context.Background(), cfg, fly.DefaultConfig())
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.Kinds = []string{KindKafka}
	cfg.Topic = ""
	_, err = Build(context.Background(), cfg, fly.DefaultConfig())
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.Kinds = []string{KindPostgres}
	cfg.Database.Host = ""
	cfg.Database.URL = ""
	_, err = Build(context.Background(), cfg, fly.DefaultConfig())
	assert.Error(t, err)
}
