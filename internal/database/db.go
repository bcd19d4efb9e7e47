package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"equity-waterfall-engine/config"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewDB creates a new database connection
func NewDB(cfg config.DatabaseConfig, logger zerolog.Logger) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	dbLogger := logger.With().Str("component", "Database").Logger()
	dbLogger.Info().Str("database", cfg.Database).Msg("Connected to PostgreSQL")

	return &DB{Pool: pool, logger: dbLogger}, nil
}

// Close closes the database connection
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		db.logger.Info().Msg("Database connection closed")
	}
}

// RunMigrations executes database migrations
func (db *DB) RunMigrations(ctx context.Context) error {
	db.logger.Info().Msg("Running database migrations")

	migrations := []string{
		// Completed waterfall runs. input_hash fingerprints the exact input a
		// stored result was computed from.
		`CREATE TABLE IF NOT EXISTS waterfall_runs (
			id UUID PRIMARY KEY,
			input_hash VARCHAR(64) NOT NULL,
			day_count VARCHAR(10) NOT NULL,
			input JSONB NOT NULL,
			result JSONB NOT NULL,
			deal_irr DOUBLE PRECISION,
			equity_multiple DECIMAL(30, 10) NOT NULL,
			total_distributed DECIMAL(30, 10) NOT NULL,
			period_count INT NOT NULL,
			partner_count INT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)`,

		`CREATE INDEX IF NOT EXISTS idx_waterfall_runs_input_hash
			ON waterfall_runs(input_hash)`,

		`CREATE INDEX IF NOT EXISTS idx_waterfall_runs_created_at
			ON waterfall_runs(created_at DESC)`,

		// Flattened distribution rows for per-partner and per-tier reporting
		// queries without unpacking the result JSONB.
		`CREATE TABLE IF NOT EXISTS waterfall_distributions (
			id SERIAL PRIMARY KEY,
			run_id UUID NOT NULL REFERENCES waterfall_runs(id) ON DELETE CASCADE,
			period_index INT NOT NULL,
			partner_id VARCHAR(64) NOT NULL,
			tier_number INT NOT NULL,
			tier_type VARCHAR(32) NOT NULL,
			amount DECIMAL(30, 10) NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_waterfall_distributions_run
			ON waterfall_distributions(run_id)`,

		`CREATE INDEX IF NOT EXISTS idx_waterfall_distributions_partner
			ON waterfall_distributions(run_id, partner_id)`,
	}

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	db.logger.Info().Int("count", len(migrations)).Msg("Database migrations completed")
	return nil
}
