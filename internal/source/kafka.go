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

// Package source feeds spans consumed from Kafka into the batching engine.
package source

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jellydator/ttlcache/v3"

	"github.com/cardinalhq/spanrunner/internal/batcher"
	"github.com/cardinalhq/spanrunner/internal/fly"
	"github.com/cardinalhq/spanrunner/internal/spans"
)

// Enqueuer is the part of the engine a source needs.
type Enqueuer interface {
	Enqueue(rec spans.Record) error
}

type Config struct {
	Topic string `mapstructure:"topic" yaml:"topic"`

	// DedupTTL is how long a span id is remembered. Zero disables
	// duplicate suppression.
	DedupTTL      time.Duration `mapstructure:"dedup_ttl" yaml:"dedup_ttl"`
	DedupCapacity uint64        `mapstructure:"dedup_capacity" yaml:"dedup_capacity"`

	RetryInitial time.Duration `mapstructure:"retry_initial" yaml:"retry_initial"`
	RetryMax     time.Duration `mapstructure:"retry_max" yaml:"retry_max"`

	// DefaultEnvironment fills in OTLP exports that carry neither an
	// environment attribute nor an environment header.
	DefaultEnvironment string `mapstructure:"default_environment" yaml:"default_environment"`
}

func DefaultConfig() Config {
	return Config{
		Topic:         "spanrunner.spans.raw",
		DedupTTL:      5 * time.Minute,
		DedupCapacity: 100_000,
		RetryInitial:  50 * time.Millisecond,
		RetryMax:      2 * time.Second,
	}
}

// KafkaSource decodes consumed messages and enqueues their spans. A
// batch of messages is committed only once every span in it has been
// admitted to the engine, so a crash or shutdown mid batch redelivers it.
type KafkaSource struct {
	consumer fly.Consumer
	engine   Enqueuer
	cfg      Config
	logger   *slog.Logger
	seen     *ttlcache.Cache[spanID, struct{}]

	// backpressure, when set, is told when the source starts and stops
	// waiting on a full intake queue.
	backpressure func(blocked bool)
}

func NewKafkaSource(consumer fly.Consumer, engine Enqueuer, cfg Config, logger *slog.Logger) *KafkaSource {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.RetryInitial <= 0 {
		cfg.RetryInitial = def.RetryInitial
	}
	if cfg.RetryMax < cfg.RetryInitial {
		cfg.RetryMax = max(def.RetryMax, cfg.RetryInitial)
	}

	s := &KafkaSource{
		consumer: consumer,
		engine:   engine,
		cfg:      cfg,
		logger:   logger.With(slog.String("topic", cfg.Topic)),
	}
	if cfg.DedupTTL > 0 {
		opts := []ttlcache.Option[spanID, struct{}]{
			ttlcache.WithTTL[spanID, struct{}](cfg.DedupTTL),
			ttlcache.WithDisableTouchOnHit[spanID, struct{}](),
		}
		if cfg.DedupCapacity > 0 {
			opts = append(opts, ttlcache.WithCapacity[spanID, struct{}](cfg.DedupCapacity))
		}
		s.seen = ttlcache.New(opts...)
	}
	return s
}

// OnBackpressure registers fn to be called with true when the source
// starts waiting on a full intake queue and with false once it stops.
// It must be set before Run.
func (s *KafkaSource) OnBackpressure(fn func(blocked bool)) {
	s.backpressure = fn
}

// Run consumes until ctx is done or the consumer fails. Cancellation is
// not an error.
func (s *KafkaSource) Run(ctx context.Context) error {
	s.logger.Info("Starting span source")
	err := s.consumer.Consume(ctx, s.Handle)
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return nil
	}
	return err
}

// Handle processes one fetched batch. Undecodable messages are logged and
// skipped so they do not block the partition. A non-nil return leaves the
// batch uncommitted.
func (s *KafkaSource) Handle(ctx context.Context, messages []fly.ConsumedMessage) error {
	// Expired ids are pruned per batch; the cache runs no cleanup goroutine.
	if s.seen != nil {
		s.seen.DeleteExpired()
	}

	for _, msg := range messages {
		records, err := s.decode(ctx, msg)
		if err != nil {
			recordDropped(ctx, "decode", 1)
			s.logger.Warn("Dropping undecodable message",
				slog.Int("partition", msg.Partition),
				slog.Int64("offset", msg.Offset),
				slog.Any("error", err))
			continue
		}
		decodedSpans.Add(ctx, int64(len(records)))

		for _, rec := range records {
			id := dedupKey(rec)
			if s.seen != nil && s.seen.Has(id) {
				recordDropped(ctx, "duplicate", 1)
				continue
			}
			if err := s.enqueue(ctx, rec); err != nil {
				return err
			}
			if s.seen != nil {
				s.seen.Set(id, struct{}{}, ttlcache.DefaultTTL)
			}
		}
	}
	return nil
}

func (s *KafkaSource) decode(ctx context.Context, msg fly.ConsumedMessage) ([]spans.Record, error) {
	switch mediaType(msg.Headers[spans.HeaderContentType]) {
	case spans.ContentTypeOTLP:
		env := msg.Headers[spans.HeaderEnvironment]
		if env == "" {
			env = s.cfg.DefaultEnvironment
		}
		fallback := spans.NewPartitionKey(msg.Headers[spans.HeaderProjectID], env)
		records, skipped, err := spans.DecodeOTLP(msg.Value, fallback)
		if skipped > 0 {
			recordDropped(ctx, "incomplete", skipped)
			s.logger.Debug("Skipped incomplete OTLP spans",
				slog.Int64("offset", msg.Offset),
				slog.Int("skipped", skipped))
		}
		return records, err
	case spans.ContentTypeCBOR:
		rec, err := spans.DecodeCBOREnvelope(msg.Value)
		if err != nil {
			return nil, err
		}
		return []spans.Record{rec}, nil
	default:
		rec, err := spans.DecodeEnvelope(msg.Value)
		if err != nil {
			return nil, err
		}
		return []spans.Record{rec}, nil
	}
}

// enqueue admits rec, backing off while the intake queue is full. It
// gives up only when ctx is done.
func (s *KafkaSource) enqueue(ctx context.Context, rec spans.Record) error {
	err := s.engine.Enqueue(rec)
	if !errors.Is(err, batcher.ErrQueueFull) {
		return err
	}
	if s.backpressure != nil {
		s.backpressure(true)
		defer s.backpressure(false)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.cfg.RetryInitial
	bo.MaxInterval = s.cfg.RetryMax

	operation := func() (struct{}, error) {
		enqueueRetries.Add(ctx, 1)
		err := s.engine.Enqueue(rec)
		if err != nil && !errors.Is(err, batcher.ErrQueueFull) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}
	_, err = backoff.Retry(ctx, operation, backoff.WithBackOff(bo), backoff.WithMaxElapsedTime(0))
	return err
}

// spanID identifies a span for duplicate suppression.
type spanID struct {
	key   spans.PartitionKey
	trace string
	span  string
}

func dedupKey(rec spans.Record) spanID {
	return spanID{key: rec.Key, trace: rec.TraceID, span: rec.SpanID}
}

func mediaType(v string) string {
	v, _, _ = strings.Cut(v, ";")
	return strings.ToLower(strings.TrimSpace(v))
}
