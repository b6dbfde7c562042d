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
	"errors"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"
)

// MessageHandler processes one fetched batch. The batch is committed only
// when the handler returns nil.
type MessageHandler func(ctx context.Context, messages []ConsumedMessage) error

type Consumer interface {
	// Consume fetches batches until ctx ends or the handler fails.
	Consume(ctx context.Context, handler MessageHandler) error

	CommitMessages(ctx context.Context, messages ...ConsumedMessage) error

	Close() error
}

// fetcher is the subset of *kafka.Reader the consumer drives.
type fetcher interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type kafkaConsumer struct {
	topic   string
	groupID string
	cfg     Config
	reader  fetcher
}

// NewConsumer joins cfg.ConsumerGroup on topic. Offsets are committed
// synchronously after each successfully handled batch.
func NewConsumer(cfg Config, topic string) (Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("no Kafka brokers configured")
	}
	if topic == "" {
		return nil, fmt.Errorf("consumer topic is required")
	}
	dialer, err := cfg.dialer()
	if err != nil {
		return nil, err
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          topic,
		GroupID:        cfg.ConsumerGroup,
		MinBytes:       cfg.ConsumerMinBytes,
		MaxBytes:       cfg.ConsumerMaxBytes,
		MaxWait:        cfg.ConsumerMaxWait,
		StartOffset:    kafka.FirstOffset,
		Dialer:         dialer,
		CommitInterval: 0,
	})
	return newConsumer(cfg, topic, reader), nil
}

func newConsumer(cfg Config, topic string, reader fetcher) *kafkaConsumer {
	if cfg.ConsumerBatchSize <= 0 {
		cfg.ConsumerBatchSize = 1
	}
	return &kafkaConsumer{
		topic:   topic,
		groupID: cfg.ConsumerGroup,
		cfg:     cfg,
		reader:  reader,
	}
}

func (c *kafkaConsumer) Consume(ctx context.Context, handler MessageHandler) error {
	slog.Debug("Starting Kafka consumer",
		slog.String("topic", c.topic),
		slog.String("consumerGroup", c.groupID),
		slog.Int("batchSize", c.cfg.ConsumerBatchSize),
		slog.Duration("maxWait", c.cfg.ConsumerMaxWait))

	batch := make([]ConsumedMessage, 0, c.cfg.ConsumerBatchSize)

	for {
		if err := ctx.Err(); err != nil {
			// Uncommitted messages in a partial batch are redelivered.
			return err
		}

		readCtx, cancel := context.WithTimeout(ctx, c.cfg.ConsumerMaxWait)
		msg, err := c.reader.FetchMessage(readCtx)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, context.DeadlineExceeded) {
				if len(batch) > 0 {
					if err := c.processBatch(ctx, handler, batch); err != nil {
						return err
					}
					batch = batch[:0]
				}
				continue
			}
			return fmt.Errorf("failed to fetch message: %w", err)
		}

		batch = append(batch, FromKafkaMessage(msg))
		if len(batch) >= c.cfg.ConsumerBatchSize {
			if err := c.processBatch(ctx, handler, batch); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
}

func (c *kafkaConsumer) processBatch(ctx context.Context, handler MessageHandler, messages []ConsumedMessage) error {
	messagesFetchedCounter.Add(ctx, int64(len(messages)), topicAttr(c.topic))
	if err := handler(ctx, messages); err != nil {
		return fmt.Errorf("handler failed: %w", err)
	}
	if err := c.CommitMessages(ctx, messages...); err != nil {
		return fmt.Errorf("failed to commit messages: %w", err)
	}
	return nil
}

func (c *kafkaConsumer) CommitMessages(ctx context.Context, messages ...ConsumedMessage) error {
	if len(messages) == 0 {
		return nil
	}
	points := commitPoints(messages)
	if err := c.reader.CommitMessages(ctx, points...); err != nil {
		return err
	}
	messagesCommittedCounter.Add(ctx, int64(len(messages)), topicAttr(c.topic))
	return nil
}

func (c *kafkaConsumer) Close() error {
	return c.reader.Close()
}
