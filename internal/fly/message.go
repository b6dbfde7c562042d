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
	"time"

	"github.com/segmentio/kafka-go"
)

// Message is a record to publish.
type Message struct {
	Key     []byte
	Value   []byte
	Headers map[string]string
}

// ConsumedMessage is a fetched record with the coordinates needed to commit it.
type ConsumedMessage struct {
	Message
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
}

func (m *Message) ToKafkaMessage() kafka.Message {
	headers := make([]kafka.Header, 0, len(m.Headers))
	for k, v := range m.Headers {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	return kafka.Message{
		Key:     m.Key,
		Value:   m.Value,
		Headers: headers,
	}
}

func FromKafkaMessage(km kafka.Message) ConsumedMessage {
	var headers map[string]string
	if len(km.Headers) > 0 {
		headers = make(map[string]string, len(km.Headers))
		for _, h := range km.Headers {
			headers[h.Key] = string(h.Value)
		}
	}
	return ConsumedMessage{
		Message: Message{
			Key:     km.Key,
			Value:   km.Value,
			Headers: headers,
		},
		Topic:     km.Topic,
		Partition: km.Partition,
		Offset:    km.Offset,
		Timestamp: km.Time,
	}
}

// commitPoints reduces a batch to the highest offset seen per topic and
// partition, which is all a consumer group commit needs.
func commitPoints(messages []ConsumedMessage) []kafka.Message {
	type tp struct {
		topic     string
		partition int
	}
	highest := make(map[tp]int64, len(messages))
	var order []tp
	for _, msg := range messages {
		k := tp{msg.Topic, msg.Partition}
		off, ok := highest[k]
		if !ok {
			order = append(order, k)
		}
		if !ok || msg.Offset > off {
			highest[k] = msg.Offset
		}
	}

	out := make([]kafka.Message, 0, len(order))
	for _, k := range order {
		out = append(out, kafka.Message{Topic: k.topic, Partition: k.partition, Offset: highest[k]})
	}
	return out
}
