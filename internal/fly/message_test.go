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

package fly

import (
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
)

func TestMessageToKafkaMessage(t *testing.T) {
	msg := Message{
		Key:   []byte("trace-1"),
		Value: []byte(`{"span_id":"a"}`),
		Headers: map[string]string{
			"project_id":  "p1",
			"environment": "dev",
		},
	}

	km := msg.ToKafkaMessage()
	assert.Equal(t, msg.Key, km.Key)
	assert.Equal(t, msg.Value, km.Value)
	assert.ElementsMatch(t, []kafka.Header{
		{Key: "project_id", Value: []byte("p1")},
		{Key: "environment", Value: []byte("dev")},
	}, km.Headers)

	empty := (&Message{}).ToKafkaMessage()
	assert.Empty(t, empty.Headers)
}

func TestFromKafkaMessage(t *testing.T) {
	ts := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	cm := FromKafkaMessage(kafka.Message{
		Topic:     "spans",
		Partition: 3,
		Offset:    42,
		Key:       []byte("k"),
		Value:     []byte("v"),
		Headers:   []kafka.Header{{Key: "h", Value: []byte("x")}},
		Time:      ts,
	})

	assert.Equal(t, "spans", cm.Topic)
	assert.Equal(t, 3, cm.Partition)
	assert.Equal(t, int64(42), cm.Offset)
	assert.Equal(t, ts, cm.Timestamp)
	assert.Equal(t, []byte("v"), cm.Value)
	assert.Equal(t, map[string]string{"h": "x"}, cm.Headers)

	assert.Nil(t, FromKafkaMessage(kafka.Message{}).Headers)
}

func TestCommitPointsKeepsHighestOffsetPerPartition(t *testing.T) {
	msgs := []ConsumedMessage{
		{Topic: "spans", Partition: 0, Offset: 5},
		{Topic: "spans", Partition: 1, Offset: 9},
		{Topic: "spans", Partition: 0, Offset: 7},
		{Topic: "spans", Partition: 0, Offset: 6},
		{Topic: "other", Partition: 0, Offset: 1},
	}

	assert.Equal(t, []kafka.Message{
		{Topic: "spans", Partition: 0, Offset: 7},
		{Topic: "spans", Partition: 1, Offset: 9},
		{Topic: "other", Partition: 0, Offset: 1},
	}, commitPoints(msgs))

	assert.Empty(t, commitPoints(nil))
}
