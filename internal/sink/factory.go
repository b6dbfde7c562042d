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
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/hashicorp/go-multierror"

	"github.com/cardinalhq/spanrunner/internal/cloudstorage"
	"github.com/cardinalhq/spanrunner/internal/fly"
	"github.com/cardinalhq/spanrunner/internal/spandb"
	"github.com/cardinalhq/spanrunner/internal/spandb/migrations"
)

const (
	KindObjectStore = "objectstore"
	KindKafka       = "kafka"
	KindPostgres    = "postgres"
)

var knownKinds = mapset.NewSet(KindObjectStore, KindKafka, KindPostgres)

type Config struct {
	// Kinds lists the sinks every batch is written to.
	Kinds       []string            `mapstructure:"kinds" yaml:"kinds"`
	Encoding    string              `mapstructure:"encoding" yaml:"encoding"`
	Prefix      string              `mapstructure:"prefix" yaml:"prefix"`
	ObjectStore cloudstorage.Config `mapstructure:"objectstore" yaml:"objectstore"`
	Topic       string              `mapstructure:"topic" yaml:"topic"`
	CBOR        bool                `mapstructure:"cbor" yaml:"cbor"`
	Database    spandb.Config       `mapstructure:"database" yaml:"database"`
}

func DefaultConfig() Config {
	return Config{
		Kinds:       []string{KindObjectStore},
		Encoding:    string(EncodingJSONL),
		Prefix:      "spans",
		ObjectStore: cloudstorage.DefaultConfig(),
		Topic:       "spanrunner.spans.batched",
		Database:    spandb.DefaultConfig(),
	}
}

// NormalizedKinds lowercases, dedupes and checks the configured kinds.
// Order of first mention is kept.
func (c Config) NormalizedKinds() ([]string, error) {
	seen := mapset.NewSet[string]()
	var kinds []string
	for _, k := range c.Kinds {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" || !seen.Add(k) {
			continue
		}
		kinds = append(kinds, k)
	}
	if len(kinds) == 0 {
		return nil, errors.New("at least one sink kind is required")
	}

	if unknown := seen.Difference(knownKinds); unknown.Cardinality() > 0 {
		bad := unknown.ToSlice()
		sort.Strings(bad)
		return nil, fmt.Errorf("unknown sink kind(s): %s", strings.Join(bad, ", "))
	}
	return kinds, nil
}

// Set is the sink built from configuration plus the resources it owns.
type Set struct {
	*Multi
	closers []io.Closer
}

// Close releases producers and pools held by the sinks.
func (s *Set) Close() error {
	var errs *multierror.Error
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

type closerFunc func()

func (f closerFunc) Close() error {
	f()
	return nil
}

// Build constructs every configured sink. Anything already opened is
// closed again if a later sink fails to build.
func Build(ctx context.Context, cfg Config, kafkaCfg fly.Config) (_ *Set, err error) {
	kinds, err := cfg.NormalizedKinds()
	if err != nil {
		return nil, err
	}

	set := &Set{}
	defer func() {
		if err != nil {
			_ = set.Close()
		}
	}()

	var members []Named
	for _, kind := range kinds {
		var s Named
		switch kind {
		case KindObjectStore:
			s, err = buildObjectSink(ctx, cfg)
		case KindKafka:
			s, err = buildKafkaSink(cfg, kafkaCfg, set)
		case KindPostgres:
			s, err = buildPostgresSink(ctx, cfg, set)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to build %s sink: %w", kind, err)
		}
		members = append(members, s)
	}

	set.Multi = NewMulti(members...)
	return set, nil
}

func buildObjectSink(ctx context.Context, cfg Config) (Named, error) {
	enc, err := ParseEncoding(cfg.Encoding)
	if err != nil {
		return Named{}, err
	}
	client, err := cloudstorage.NewClient(ctx, cfg.ObjectStore)
	if err != nil {
		return Named{}, err
	}
	return Named{Name: KindObjectStore, Sink: NewObjectSink(client, cfg.Prefix, enc)}, nil
}

func buildKafkaSink(cfg Config, kafkaCfg fly.Config, set *Set) (Named, error) {
	if cfg.Topic == "" {
		return Named{}, errors.New("topic is required")
	}
	producer, err := fly.NewProducer(kafkaCfg)
	if err != nil {
		return Named{}, err
	}
	set.closers = append(set.closers, producer)
	return Named{Name: KindKafka, Sink: NewKafkaSink(producer, cfg.Topic, cfg.CBOR)}, nil
}

func buildPostgresSink(ctx context.Context, cfg Config, set *Set) (Named, error) {
	pool, err := spandb.NewConnectionPool(ctx, cfg.Database)
	if err != nil {
		return Named{}, err
	}
	set.closers = append(set.closers, closerFunc(pool.Close))

	if cfg.Database.Migrate {
		res, err := migrations.RunMigrationsUp(ctx, pool)
		if err != nil {
			return Named{}, err
		}
		if res.Changed() {
			slog.Info("Applied spandb migrations",
				slog.Uint64("fromVersion", uint64(res.From)),
				slog.Uint64("toVersion", uint64(res.To)))
		}
	}
	return Named{Name: KindPostgres, Sink: NewPostgresSink(pool)}, nil
}
