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

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cardinalhq/spanrunner/config"
	"github.com/cardinalhq/spanrunner/internal/batcher"
	"github.com/cardinalhq/spanrunner/internal/debugging"
	"github.com/cardinalhq/spanrunner/internal/fly"
	"github.com/cardinalhq/spanrunner/internal/healthcheck"
	"github.com/cardinalhq/spanrunner/internal/heartbeat"
	"github.com/cardinalhq/spanrunner/internal/sink"
	"github.com/cardinalhq/spanrunner/internal/source"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Consume spans and flush them in per partition batches",
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, doneFx, err := setupTelemetry(config.ServiceName)
		if err != nil {
			return fmt.Errorf("failed to setup telemetry: %w", err)
		}
		defer func() {
			if err := doneFx(); err != nil {
				slog.Error("Error shutting down telemetry", slog.Any("error", err))
			}
		}()

		return serve(ctx, cfg)
	},
}

// Readiness conditions reported on /readyz.
const (
	readySource = "source"
	readyIntake = "intake"
)

func serve(ctx context.Context, cfg *config.Config) (err error) {
	sinks, err := sink.Build(ctx, cfg.Sink, cfg.Kafka)
	if err != nil {
		return fmt.Errorf("failed to build sinks: %w", err)
	}
	defer func() {
		if cerr := sinks.Close(); cerr != nil {
			slog.Error("Failed to close sinks", slog.Any("error", cerr))
		}
	}()
	slog.Info("Sinks configured", slog.Any("sinks", sinks.Names()))

	engine, err := batcher.NewEngine(cfg.Batcher, sinks, slog.Default())
	if err != nil {
		return err
	}

	reg, err := registerEngineGauges(engine)
	if err != nil {
		return fmt.Errorf("failed to register engine gauges: %w", err)
	}
	defer func() { _ = reg.Unregister() }()

	consumer, err := fly.NewConsumer(cfg.Kafka, cfg.Source.Topic)
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}
	defer func() {
		if cerr := consumer.Close(); cerr != nil {
			slog.Error("Failed to close consumer", slog.Any("error", cerr))
		}
	}()

	health := healthcheck.NewServer(cfg.Health, engine)
	health.SetReadyCondition(readySource, false)
	health.SetReadyCondition(readyIntake, true)

	src := source.NewKafkaSource(consumer, engine, cfg.Source, slog.Default())
	src.OnBackpressure(func(blocked bool) {
		health.SetReadyCondition(readyIntake, !blocked)
	})

	engine.Start()
	health.SetStatus(healthcheck.StatusHealthy)
	health.SetReady(true)

	if cfg.StatsInterval > 0 {
		stopStats := heartbeat.New(heartbeat.LogStats(engine, slog.Default()), cfg.StatsInterval, slog.Default()).Start(ctx)
		defer stopStats()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return health.Start(gctx) })
	g.Go(func() error { return debugging.RunPprof(gctx, cfg.PprofPort) })
	g.Go(func() error {
		health.SetReadyCondition(readySource, true)
		err := src.Run(gctx)
		health.SetReadyCondition(readySource, false)
		if err != nil {
			health.SetStatus(healthcheck.StatusUnhealthy)
		}
		return err
	})

	var errs *multierror.Error
	if err := g.Wait(); err != nil {
		errs = multierror.Append(errs, err)
	}

	slog.Info("Shutting down", slog.Duration("timeout", cfg.ShutdownTimeout))
	health.SetReady(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := engine.Shutdown(shutdownCtx); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("engine shutdown: %w", err))
	}

	snap := engine.Snapshot()
	slog.Info("Engine stopped",
		slog.Int64("received", snap.RecordsReceived),
		slog.Int64("accepted", snap.RecordsAccepted),
		slog.Int64("rejected", snap.RecordsRejected),
		slog.Int64("batchesFlushed", snap.BatchesFlushed),
		slog.Int64("batchesFailed", snap.BatchesFailed))

	return errs.ErrorOrNil()
}
