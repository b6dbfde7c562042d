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
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/cardinalhq/spanrunner/internal/spandb"
	"github.com/cardinalhq/spanrunner/internal/spandb/migrations"
)

func init() {
	rootCmd.AddCommand(MigrateCmd)
}

var MigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
	Long:  "Create or upgrade the spans table used by the postgres sink",
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return migrate(cfg.Sink.Database)
	},
}

func migrate(cfg spandb.Config) error {
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(5*time.Minute))
	defer cancel()

	pool, err := spandb.NewConnectionPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	latest, err := migrations.LatestVersion()
	if err != nil {
		return err
	}
	slog.Info("Running spandb migrations", slog.Uint64("latestVersion", uint64(latest)))
	res, err := migrations.RunMigrationsUp(ctx, pool)
	if err != nil {
		return err
	}
	if !res.Changed() {
		slog.Info("spandb schema already up to date", slog.Uint64("version", uint64(res.To)))
		return nil
	}
	slog.Info("spandb migrations completed",
		slog.Uint64("fromVersion", uint64(res.From)),
		slog.Uint64("toVersion", uint64(res.To)))
	return nil
}
