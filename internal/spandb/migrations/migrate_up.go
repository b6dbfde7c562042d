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

package migrations

import (
	"context"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/pgx"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
)

//go:embed *.sql
var migrationFiles embed.FS

const migrationsTable = "gomigrate_spandb"

// ErrDirty means a previous migration failed part way and the schema
// needs a manual fix before spanrunner will touch it again.
var ErrDirty = errors.New("spandb schema is dirty")

// Result reports the schema version before and after a run. From is zero
// for a fresh database.
type Result struct {
	From uint
	To   uint
}

func (r Result) Changed() bool {
	return r.From != r.To
}

// RunMigrationsUp applies every embedded up migration. Cancelling ctx
// stops the run after the migration in progress.
func RunMigrationsUp(ctx context.Context, pool *pgxpool.Pool) (Result, error) {
	var res Result
	err := withMigrator(pool, func(m *migrate.Migrate) error {
		from, err := currentVersion(m)
		if err != nil {
			return err
		}
		res.From = from

		stop := context.AfterFunc(ctx, func() {
			select {
			case m.GracefulStop <- true:
			default:
			}
		})
		defer stop()

		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("migration failed: %w", err)
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		res.To, err = currentVersion(m)
		return err
	})
	return res, err
}

func withMigrator(pool *pgxpool.Pool, fn func(*migrate.Migrate) error) error {
	src, err := iofs.New(migrationFiles, ".")
	if err != nil {
		return fmt.Errorf("failed to open embedded migrations: %w", err)
	}

	sqlDB := stdlib.OpenDBFromPool(pool)
	defer func() { _ = sqlDB.Close() }()

	driver, err := pgx.WithInstance(sqlDB, &pgx.Config{MigrationsTable: migrationsTable})
	if err != nil {
		return fmt.Errorf("failed to create pgx migrate driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	return fn(m)
}

func currentVersion(m *migrate.Migrate) (uint, error) {
	v, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		return 0, nil
	case err != nil:
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	case dirty:
		return v, fmt.Errorf("%w at version %d", ErrDirty, v)
	}
	return v, nil
}

// LatestVersion is the highest version among the embedded migrations.
func LatestVersion() (uint, error) {
	src, err := iofs.New(migrationFiles, ".")
	if err != nil {
		return 0, err
	}
	defer func() { _ = src.Close() }()

	v, err := src.First()
	if err != nil {
		return 0, err
	}
	for {
		next, err := src.Next(v)
		if err != nil {
			return v, nil
		}
		v = next
	}
}
