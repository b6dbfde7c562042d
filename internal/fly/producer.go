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
	"context"
	"fmt"
	"sync"

	"github.com/segmentio/kafka-go"
)

type Producer interface {
	// Send publishes one message, partitioned by key hash.
	Send(ctx context.Context, topic string, message Message) error

	// BatchSend publishes messages in a single writer call.
	BatchSend(ctx context.Context, topic string, messages []Message) error

	Close() error
}

type kafkaProducer struct {
	cfg         Config
	transport   *kafka.Transport
	compression kafka.Compression

	writersMu sync.RWMutex
	writers   map[string]*kafka.Writer
}

// NewProducer builds a producer with one lazily created writer per topic.
func NewProducer(cfg Config) (Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("no Kafka brokers configured")
	}
	compression, err := cfg.Compression()
	if err != nil {
		return nil, err
	}
	transport, err := cfg.transport()
	if err != nil {
		return nil, err
	}
	return &kafkaProducer{
		cfg:         cfg,
		transport:   transport,
		compression: compression,
		writers:     make(map[string]*kafka.Writer),
	}, nil
}

func (p *kafkaProducer) writer(topic string) *kafka.Writer {
	p.writersMu.RLock()
	w, ok := p.writers[topic]
	p.writersMu.RUnlock()
	if ok {
		return w
	}

	p.writersMu.Lock()
	defer p.writersMu.Unlock()

	if w, ok := p.writers[topic]; ok {
		return w
	}

	w = &kafka.Writer{
		Addr:         kafka.TCP(p.cfg.Brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    p.cfg.ProducerBatchSize,
		BatchTimeout: p.cfg.ProducerBatchTimeout,
		RequiredAcks: kafka.RequireAll,
		Transport:    p.transport,
		Compression:  p.compression,
	}
	p.writers[topic] = w
	return w
}

func (p *kafkaProducer) Send(ctx context.Context, topic string, message Message) error {
	return p.BatchSend(ctx, topic, []Message{message})
}

func (p *kafkaProducer) BatchSend(ctx context.Context, topic string, messages []Message) error {
	if len(messages) == 0 {
		return nil
	}

	kmsgs := make([]kafka.Message, len(messages))
	for i := range messages {
		kmsgs[i] = messages[i].ToKafkaMessage()
	}

	err := p.writer(topic).WriteMessages(ctx, kmsgs...)
	recordSentMetrics(ctx, topic, messages, err)
	if err != nil {
		return fmt.Errorf("failed to write %d messages to %s: %w", len(messages), topic, err)
	}
	return nil
}

func (p *kafkaProducer) Close() error {
	p.writersMu.Lock()
	defer p.writersMu.Unlock()

	var firstErr error
	for _, w := range p.writers {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	p.writers = make(map[string]*kafka.Writer)
	return firstErr
}
