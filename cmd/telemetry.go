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
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cardinalhq/oteltools/pkg/telemetry"
	slogmulti "github.com/samber/slog-multi"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/instrumentation/host"
	iruntime "go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/cardinalhq/spanrunner/config"
	"github.com/cardinalhq/spanrunner/internal/batcher"
	"github.com/cardinalhq/spanrunner/internal/idgen"
)

var (
	commonAttributes attribute.Set

	meter = otel.Meter("github.com/cardinalhq/spanrunner")

	myInstanceID int64

	// existsGauge is a gauge that indicates if the service is running (1) or not (0).
	// It is set to 1, and never changes.
	// nolint:unused
	existsGauge metric.Int64Gauge
)

// setupTelemetry installs the default logger and, when ENABLE_OTLP_TELEMETRY
// is "true", the OTel SDK with runtime and host metrics. The returned
// context ends on SIGINT or SIGTERM; the returned func stops telemetry.
func setupTelemetry(servicename string, extra ...attribute.KeyValue) (context.Context, func() error, error) {
	myInstanceID = idgen.DefaultBatchIDs.NextID()
	commonAttributes = attribute.NewSet(append([]attribute.KeyValue{
		attribute.Int64("instanceID", myInstanceID),
	}, extra...)...)

	doneCtx, doneCancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	exportOTLP := os.Getenv("OTEL_SERVICE_NAME") != "" && os.Getenv("ENABLE_OTLP_TELEMETRY") == "true"
	slog.SetDefault(newLogger(servicename, exportOTLP))

	setupGlobalMetrics()

	if !exportOTLP {
		return doneCtx, func() error {
			doneCancel()
			return nil
		}, nil
	}

	slog.Info("OpenTelemetry exporting enabled")
	otelShutdown, err := telemetry.SetupOTelSDK(doneCtx)
	if err != nil {
		doneCancel()
		return doneCtx, nil, fmt.Errorf("failed to setup OpenTelemetry SDK: %w", err)
	}
	if err := iruntime.Start(iruntime.WithMinimumReadMemStatsInterval(10 * time.Second)); err != nil {
		slog.Warn("Failed to start runtime metrics", slog.Any("error", err))
	}
	if err := host.Start(); err != nil {
		slog.Warn("Failed to start host metrics", slog.Any("error", err))
	}

	return doneCtx, func() error {
		defer doneCancel()
		slog.Info("Shutting down OpenTelemetry SDK")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return otelShutdown(ctx)
	}, nil
}

// newLogger builds the process logger. SPANRUNNER_LOG_LEVEL takes a slog
// level name; DEBUG or SPANRUNNER_DEBUG force debug. SPANRUNNER_LOG_FORMAT
// selects "json" or the default text output.
func newLogger(servicename string, exportOTLP bool) *slog.Logger {
	level := slog.LevelInfo
	if v := os.Getenv(config.EnvPrefix + "_LOG_LEVEL"); v != "" {
		if err := level.UnmarshalText([]byte(v)); err != nil {
			level = slog.LevelInfo
		}
	}
	if os.Getenv("DEBUG") != "" || os.Getenv(config.EnvPrefix+"_DEBUG") != "" {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler = slog.NewTextHandler(os.Stdout, opts)
	if strings.EqualFold(os.Getenv(config.EnvPrefix+"_LOG_FORMAT"), "json") {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	if exportOTLP {
		handler = slogmulti.Fanout(handler, otelslog.NewHandler(servicename))
	}

	return slog.New(handler).With(
		slog.String("service", servicename),
		slog.Int64("instanceID", myInstanceID),
	)
}

func setupGlobalMetrics() {
	mg, err := meter.Int64Gauge(
		"spanrunner.exists",
		metric.WithDescription("Indicates if the service is running (1) or not (0)"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create exists.gauge: %w", err))
	}
	existsGauge = mg
	mg.Record(context.Background(), 1, metric.WithAttributeSet(commonAttributes))
}

// registerEngineGauges publishes the engine's point-in-time state on
// every metric collection.
func registerEngineGauges(engine *batcher.Engine) (metric.Registration, error) {
	queueLength, err := meter.Int64ObservableGauge(
		"spanrunner.batcher.queue.length",
		metric.WithDescription("Records waiting in the intake queue"),
	)
	if err != nil {
		return nil, err
	}
	partitions, err := meter.Int64ObservableGauge(
		"spanrunner.batcher.partitions",
		metric.WithDescription("Partitions holding an open batch"),
	)
	if err != nil {
		return nil, err
	}
	pending, err := meter.Int64ObservableGauge(
		"spanrunner.batcher.pending.records",
		metric.WithDescription("Records accepted but not yet flushed"),
	)
	if err != nil {
		return nil, err
	}
	distinctTraces, err := meter.Int64ObservableGauge(
		"spanrunner.batcher.traces.distinct",
		metric.WithDescription("Estimated distinct trace ids accepted since start"),
	)
	if err != nil {
		return nil, err
	}

	return meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		s := engine.Snapshot()
		attrs := metric.WithAttributeSet(commonAttributes)
		o.ObserveInt64(queueLength, int64(s.QueueLength), attrs)
		o.ObserveInt64(partitions, int64(s.Partitions), attrs)
		o.ObserveInt64(pending, int64(s.PendingRecords), attrs)
		o.ObserveInt64(distinctTraces, int64(s.DistinctTraces), attrs)
		return nil
	}, queueLength, partitions, pending, distinctTraces)
}
