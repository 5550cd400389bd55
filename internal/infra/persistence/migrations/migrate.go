// Package migrations wires golang-migrate execution for the loyalty-bridge persistence layer.
package migrations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/golang-migrate/migrate/v4"
	pgxv5 "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	dbmigrations "github.com/loyaltyengage/loyalty-bridge/db/migrations"
	"github.com/loyaltyengage/loyalty-bridge/internal/observability"
	"github.com/loyaltyengage/loyalty-bridge/internal/telemetry"
)

var (
	migrationsCounter   metric.Int64Counter
	migrationsCounterMu sync.Once
)

// Apply ensures the embedded SQL migrations are applied to the Postgres
// instance reachable via dsn. A nil logger disables informational logging.
func Apply(ctx context.Context, dsn string, logger observability.Logger) error {
	if logger == nil {
		logger = observability.NewNop()
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open migrations connection: %w", err)
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			logger.Warn("database migrations close", observability.F("error", cerr))
		}
	}()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping migrations database: %w", err)
	}

	var driverConfig pgxv5.Config
	driver, err := pgxv5.WithInstance(db, &driverConfig)
	if err != nil {
		return fmt.Errorf("initialise pgx v5 driver: %w", err)
	}

	source, err := iofs.New(dbmigrations.Files, ".")
	if err != nil {
		return fmt.Errorf("initialise migrations source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "pgx5", driver)
	if err != nil {
		return fmt.Errorf("initialise migrate instance: %w", err)
	}
	defer func() {
		sourceErr, dbErr := m.Close()
		if sourceErr != nil {
			logger.Warn("database migrations source close", observability.F("error", sourceErr))
		}
		if dbErr != nil {
			logger.Warn("database migrations db close", observability.F("error", dbErr))
		}
	}()

	logger.Info("running database migrations")

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			recordMigrationMetric(ctx, "noop")
			logger.Info("database migrations up-to-date")
			return nil
		}
		recordMigrationMetric(ctx, "failed")
		return fmt.Errorf("apply migrations: %w", err)
	}

	logger.Info("database migrations applied successfully")
	recordMigrationMetric(ctx, "applied")

	return nil
}

func recordMigrationMetric(ctx context.Context, result string) {
	migrationsCounterMu.Do(func() {
		meter := otel.Meter("persistence.migrations")
		counter, err := meter.Int64Counter("loyalty_db_migrations_total",
			metric.WithDescription("Total migrations executed via golang-migrate"),
			metric.WithUnit("{migration}"))
		if err == nil {
			migrationsCounter = counter
		}
	})
	if migrationsCounter == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("environment", telemetry.Environment()),
		attribute.String("result", result),
	}
	migrationsCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
}
