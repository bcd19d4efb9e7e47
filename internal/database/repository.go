package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"equity-waterfall-engine/internal/waterfall"
)

// Repository handles waterfall run persistence
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// SaveRun persists a completed run and its flattened distribution rows in a
// single transaction. Returns the generated run ID.
func (r *Repository) SaveRun(ctx context.Context, input waterfall.RunInput, result *waterfall.RunResult, inputHash, dayCount string) (string, error) {
	inputJSON, err := json.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("failed to encode run input: %w", err)
	}
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("failed to encode run result: %w", err)
	}

	runID := uuid.New().String()

	totalDistributed := decimal.Zero
	for _, acct := range result.Accounts {
		totalDistributed = totalDistributed.Add(acct.CumulativeDistributions)
	}

	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO waterfall_runs
			(id, input_hash, day_count, input, result, deal_irr, equity_multiple,
			 total_distributed, period_count, partner_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		runID, inputHash, dayCount, inputJSON, resultJSON,
		result.DealIRR, result.EquityMultiple, totalDistributed,
		len(input.Periods), len(input.Partners), time.Now().UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert run: %w", err)
	}

	for _, d := range result.Distributions {
		_, err = tx.Exec(ctx, `
			INSERT INTO waterfall_distributions
				(run_id, period_index, partner_id, tier_number, tier_type, amount)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			runID, d.PeriodIndex, d.PartnerID, d.TierNumber, string(d.TierType), d.Amount,
		)
		if err != nil {
			return "", fmt.Errorf("failed to insert distribution row: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("failed to commit run: %w", err)
	}

	return runID, nil
}

// GetRun fetches a run by ID. Returns (nil, nil) when no run exists.
func (r *Repository) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	row := r.db.Pool.QueryRow(ctx, `
		SELECT id, input_hash, day_count, input, result, deal_irr,
		       equity_multiple, total_distributed, period_count, partner_count, created_at
		FROM waterfall_runs WHERE id = $1`, id)

	rec, err := scanRunRecord(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch run %s: %w", id, err)
	}
	return rec, nil
}

// GetRunByHash fetches the most recent run computed from the given input
// hash. Returns (nil, nil) when no run exists.
func (r *Repository) GetRunByHash(ctx context.Context, inputHash string) (*RunRecord, error) {
	row := r.db.Pool.QueryRow(ctx, `
		SELECT id, input_hash, day_count, input, result, deal_irr,
		       equity_multiple, total_distributed, period_count, partner_count, created_at
		FROM waterfall_runs WHERE input_hash = $1
		ORDER BY created_at DESC LIMIT 1`, inputHash)

	rec, err := scanRunRecord(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch run by hash: %w", err)
	}
	return rec, nil
}

// ListRuns returns summaries of the most recent runs, newest first.
func (r *Repository) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, input_hash, day_count, deal_irr, equity_multiple,
		       total_distributed, period_count, partner_count, created_at
		FROM waterfall_runs
		ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	summaries := make([]RunSummary, 0, limit)
	for rows.Next() {
		var s RunSummary
		if err := rows.Scan(&s.ID, &s.InputHash, &s.DayCount, &s.DealIRR,
			&s.EquityMultiple, &s.TotalDistributed, &s.PeriodCount,
			&s.PartnerCount, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run summary: %w", err)
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// GetDistributions returns the flattened distribution rows for a run.
func (r *Repository) GetDistributions(ctx context.Context, runID string) ([]DistributionRecord, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT run_id, period_index, partner_id, tier_number, tier_type, amount
		FROM waterfall_distributions
		WHERE run_id = $1
		ORDER BY period_index, tier_number, partner_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch distributions: %w", err)
	}
	defer rows.Close()

	var records []DistributionRecord
	for rows.Next() {
		var d DistributionRecord
		if err := rows.Scan(&d.RunID, &d.PeriodIndex, &d.PartnerID,
			&d.TierNumber, &d.TierType, &d.Amount); err != nil {
			return nil, fmt.Errorf("failed to scan distribution row: %w", err)
		}
		records = append(records, d)
	}
	return records, rows.Err()
}

func scanRunRecord(row pgx.Row) (*RunRecord, error) {
	var rec RunRecord
	err := row.Scan(&rec.ID, &rec.InputHash, &rec.DayCount, &rec.Input, &rec.Result,
		&rec.DealIRR, &rec.EquityMultiple, &rec.TotalDistributed,
		&rec.PeriodCount, &rec.PartnerCount, &rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
