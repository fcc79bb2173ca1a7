package database

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Migration is one ordered schema change. Statements run in a single transaction.
type Migration struct {
	Version    int
	Name       string
	Statements []string
}

// Migrations lists the schema history in application order.
var Migrations = []Migration{
	{
		Version: 1,
		Name:    "pump curves and derived data",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS pump_curves (
				id BIGSERIAL PRIMARY KEY,
				pump_id TEXT NOT NULL,
				version INTEGER NOT NULL,
				version_tag TEXT,
				points JSONB NOT NULL,
				rated_frequency DOUBLE PRECISION NOT NULL CHECK (rated_frequency > 0),
				base_stages INTEGER NOT NULL DEFAULT 1 CHECK (base_stages >= 1),
				data_source TEXT NOT NULL DEFAULT 'vendor',
				active BOOLEAN NOT NULL DEFAULT TRUE,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				UNIQUE (pump_id, version)
			)`,
			`CREATE UNIQUE INDEX IF NOT EXISTS pump_curves_single_active ON pump_curves (pump_id) WHERE active`,
			`CREATE TABLE IF NOT EXISTS enhanced_parameters (
				pump_id TEXT NOT NULL,
				curve_version INTEGER NOT NULL,
				records JSONB NOT NULL,
				computed_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				PRIMARY KEY (pump_id, curve_version)
			)`,
			`CREATE TABLE IF NOT EXISTS maintenance_records (
				id BIGSERIAL PRIMARY KEY,
				pump_id TEXT NOT NULL,
				recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				years_in_service DOUBLE PRECISION NOT NULL,
				efficiency DOUBLE PRECISION,
				maintenance_cost NUMERIC(14, 2) NOT NULL DEFAULT 0,
				notes TEXT
			)`,
			`CREATE INDEX IF NOT EXISTS maintenance_records_pump ON maintenance_records (pump_id, years_in_service)`,
			`CREATE TABLE IF NOT EXISTS predictions (
				id UUID PRIMARY KEY,
				pump_id TEXT NOT NULL,
				kind TEXT NOT NULL,
				payload JSONB NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`,
			`CREATE INDEX IF NOT EXISTS predictions_pump_kind ON predictions (pump_id, kind, created_at DESC)`,
		},
	},
}

// RunMigrations applies every migration newer than the recorded schema version.
func RunMigrations(ctx context.Context, pool DatabasePool, logger *logrus.Logger) error {
	return runMigrations(ctx, pool, Migrations, logger)
}

func runMigrations(ctx context.Context, pool DatabasePool, migrations []Migration, logger *logrus.Logger) error {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	_, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`)
	if err != nil {
		return fmt.Errorf("failed to create schema_version table: %w", err)
	}

	var currentVersion int
	if err := pool.QueryRow(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&currentVersion); err != nil {
		return fmt.Errorf("failed to get current schema version: %w", err)
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}
		log := logger.WithFields(logrus.Fields{"version": migration.Version, "name": migration.Name})
		log.Info("Running migration")

		if err := applyMigration(ctx, pool, migration); err != nil {
			return err
		}
		log.Info("Migration completed")
	}
	return nil
}

func applyMigration(ctx context.Context, pool DatabasePool, migration Migration) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for migration %d: %w", migration.Version, err)
	}

	for _, stmt := range migration.Statements {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("migration %d failed: %w", migration.Version, err)
		}
	}

	if _, err := tx.Exec(ctx, "INSERT INTO schema_version (version) VALUES ($1)", migration.Version); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
	}
	return nil
}
