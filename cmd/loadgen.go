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

package cmd

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/collector/pdata/pcommon"
	"go.opentelemetry.io/collector/pdata/ptrace"

	"github.com/cardinalhq/spanrunner/internal/fly"
	"github.com/cardinalhq/spanrunner/internal/spans"
)

type loadgenOptions struct {
	Traces        int
	SpansPerTrace int
	Projects      int
	Environments  []string
	Format        string
	Topic         string
}

var loadgenOpts = loadgenOptions{
	Traces:        100,
	SpansPerTrace: 5,
	Projects:      3,
	Environments:  []string{"dev", "prod"},
	Format:        "json",
}

func init() {
	f := loadgenCmd.Flags()
	f.IntVar(&loadgenOpts.Traces, "traces", loadgenOpts.Traces, "Number of traces to publish")
	f.IntVar(&loadgenOpts.SpansPerTrace, "spans-per-trace", loadgenOpts.SpansPerTrace, "Spans in each trace")
	f.IntVar(&loadgenOpts.Projects, "projects", loadgenOpts.Projects, "Number of distinct projects")
	f.StringSliceVar(&loadgenOpts.Environments, "environments", loadgenOpts.Environments, "Environments to spread traces over")
	f.StringVar(&loadgenOpts.Format, "format", loadgenOpts.Format, "Message format: json, cbor or otlp")
	f.StringVar(&loadgenOpts.Topic, "topic", "", "Topic to publish to (default: source.topic)")
	rootCmd.AddCommand(loadgenCmd)
}

var loadgenCmd = &cobra.Command{
	Use:   "loadgen",
	Short: "Publish synthetic spans to the intake topic",
	RunE: func(c *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		opts := loadgenOpts
		if opts.Topic == "" {
			opts.Topic = cfg.Source.Topic
		}

		messages, err := generateMessages(opts, rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)))
		if err != nil {
			return err
		}

		producer, err := fly.NewProducer(cfg.Kafka)
		if err != nil {
			return err
		}
		defer func() { _ = producer.Close() }()

		ctx, cancel := context.WithTimeout(c.Context(), time.Minute)
		defer cancel()
		start := time.Now()
		if err := producer.BatchSend(ctx, opts.Topic, messages); err != nil {
			return fmt.Errorf("failed to publish: %w", err)
		}
		slog.Info("Published synthetic spans",
			slog.String("topic", opts.Topic),
			slog.String("format", opts.Format),
			slog.Int("messages", len(messages)),
			slog.Duration("elapsed", time.Since(start)))
		return nil
	},
}

type syntheticTrace struct {
	key     spans.PartitionKey
	traceID [16]byte
	spanIDs [][8]byte
}

// generateMessages builds the messages for opts. JSON and CBOR publish
// one message per span; OTLP publishes one export per trace.
func generateMessages(opts loadgenOptions, rng *rand.Rand) ([]fly.Message, error) {
	if opts.Traces <= 0 || opts.SpansPerTrace <= 0 || opts.Projects <= 0 || len(opts.Environments) == 0 {
		return nil, fmt.Errorf("traces, spans-per-trace, projects and environments must all be positive")
	}

	var messages []fly.Message
	for range opts.Traces {
		tr := newSyntheticTrace(opts, rng)
		switch opts.Format {
		case "json", "cbor":
			for i, spanID := range tr.spanIDs {
				msg, err := envelopeMessage(tr, i, spanID, opts.Format == "cbor")
				if err != nil {
					return nil, err
				}
				messages = append(messages, msg)
			}
		case "otlp":
			msg, err := otlpMessage(tr)
			if err != nil {
				return nil, err
			}
			messages = append(messages, msg)
		default:
			return nil, fmt.Errorf("unsupported format: %s", opts.Format)
		}
	}
	return messages, nil
}

func newSyntheticTrace(opts loadgenOptions, rng *rand.Rand) syntheticTrace {
	tr := syntheticTrace{
		key: spans.NewPartitionKey(
			fmt.Sprintf("project-%d", rng.IntN(opts.Projects)),
			opts.Environments[rng.IntN(len(opts.Environments))],
		),
		traceID: uuid.New(),
	}
	for range opts.SpansPerTrace {
		var id [8]byte
		u := uuid.New()
		copy(id[:], u[:8])
		tr.spanIDs = append(tr.spanIDs, id)
	}
	return tr
}

func envelopeMessage(tr syntheticTrace, i int, spanID [8]byte, useCBOR bool) (fly.Message, error) {
	payload, err := json.Marshal(map[string]any{
		"name":        fmt.Sprintf("operation-%d", i),
		"duration_ms": 1 + i,
	})
	if err != nil {
		return fly.Message{}, err
	}
	traceID := hex.EncodeToString(tr.traceID[:])
	rec := spans.NewRecord(tr.key, traceID, hex.EncodeToString(spanID[:]), payload)

	contentType := spans.ContentTypeJSON
	var value []byte
	if useCBOR {
		contentType = spans.ContentTypeCBOR
		value, err = rec.MarshalCBOR()
	} else {
		value, err = rec.MarshalEnvelope()
	}
	if err != nil {
		return fly.Message{}, err
	}
	return fly.Message{
		Key:     []byte(traceID),
		Value:   value,
		Headers: map[string]string{spans.HeaderContentType: contentType},
	}, nil
}

func otlpMessage(tr syntheticTrace) (fly.Message, error) {
	td := ptrace.NewTraces()
	rs := td.ResourceSpans().AppendEmpty()
	rs.Resource().Attributes().PutStr(spans.ProjectAttribute, tr.key.Project)
	rs.Resource().Attributes().PutStr(spans.EnvironmentAttribute, tr.key.Environment)
	rs.Resource().Attributes().PutStr("service.name", "loadgen")

	ss := rs.ScopeSpans().AppendEmpty()
	ss.Scope().SetName("spanrunner-loadgen")
	now := time.Now()
	for i, spanID := range tr.spanIDs {
		span := ss.Spans().AppendEmpty()
		span.SetTraceID(pcommon.TraceID(tr.traceID))
		span.SetSpanID(pcommon.SpanID(spanID))
		if i > 0 {
			span.SetParentSpanID(pcommon.SpanID(tr.spanIDs[0]))
		}
		span.SetName(fmt.Sprintf("operation-%d", i))
		span.SetKind(ptrace.SpanKindInternal)
		span.SetStartTimestamp(pcommon.NewTimestampFromTime(now))
		span.SetEndTimestamp(pcommon.NewTimestampFromTime(now.Add(time.Duration(i+1) * time.Millisecond)))
	}

	var m ptrace.ProtoMarshaler
	value, err := m.MarshalTraces(td)
	if err != nil {
		return fly.Message{}, err
	}
	return fly.Message{
		Key:     []byte(hex.EncodeToString(tr.traceID[:])),
		Value:   value,
		Headers: map[string]string{spans.HeaderContentType: spans.ContentTypeOTLP},
	}, nil
}
