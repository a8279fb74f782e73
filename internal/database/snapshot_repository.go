package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/launchsentry/launchsentry/internal/models"
)

// SnapshotRepository owns the append-only analysis time series.
type SnapshotRepository struct {
	pool DBPool
}

// NewSnapshotRepository creates a snapshot repository.
func NewSnapshotRepository(pool DBPool) *SnapshotRepository {
	return &SnapshotRepository{pool: pool}
}

// InsertHolderSnapshot appends a holder-concentration measurement.
func (r *SnapshotRepository) InsertHolderSnapshot(ctx context.Context, s *models.HolderSnapshot) error {
	query := `
		INSERT INTO holder_snapshots
			(chain, token_address, top10_percent, top20_percent, creator_percent,
			 holder_count, total_supply, concentration_score, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
	`
	_, err := r.pool.Exec(ctx, query,
		s.Chain, s.TokenAddress, s.Top10Percent, s.Top20Percent,
		s.CreatorPercent, s.HolderCount, s.TotalSupply, s.ConcentrationScore)
	if err != nil {
		return fmt.Errorf("failed to insert holder snapshot: %w", err)
	}
	return nil
}

// LatestHolderSnapshot returns the newest holder snapshot for a token, or
// ErrNotFound.
func (r *SnapshotRepository) LatestHolderSnapshot(ctx context.Context, chain, token string) (*models.HolderSnapshot, error) {
	query := `
		SELECT chain, token_address, top10_percent, top20_percent, creator_percent,
		       holder_count, total_supply, concentration_score, created_at
		FROM holder_snapshots
		WHERE chain = $1 AND token_address = $2
		ORDER BY created_at DESC
		LIMIT 1
	`
	var s models.HolderSnapshot
	err := r.pool.QueryRow(ctx, query, chain, token).Scan(
		&s.Chain, &s.TokenAddress, &s.Top10Percent, &s.Top20Percent,
		&s.CreatorPercent, &s.HolderCount, &s.TotalSupply,
		&s.ConcentrationScore, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get holder snapshot: %w", err)
	}
	return &s, nil
}

// InsertLiquiditySnapshot appends a pool reserves measurement.
func (r *SnapshotRepository) InsertLiquiditySnapshot(ctx context.Context, s *models.LiquiditySnapshot) error {
	query := `
		INSERT INTO liquidity_snapshots
			(chain, token_address, pool_address, liquidity_usd, liquidity_token,
			 liquidity_eth, timestamp, event_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.pool.Exec(ctx, query,
		s.Chain, s.TokenAddress, s.PoolAddress, s.LiquidityUsd,
		s.LiquidityToken, s.LiquidityEth, s.Timestamp, s.EventType)
	if err != nil {
		return fmt.Errorf("failed to insert liquidity snapshot: %w", err)
	}
	return nil
}

// LatestLiquiditySnapshot returns the newest liquidity snapshot for a
// token, or ErrNotFound.
func (r *SnapshotRepository) LatestLiquiditySnapshot(ctx context.Context, chain, token string) (*models.LiquiditySnapshot, error) {
	query := `
		SELECT chain, token_address, pool_address, liquidity_usd, liquidity_token,
		       liquidity_eth, timestamp, event_type
		FROM liquidity_snapshots
		WHERE chain = $1 AND token_address = $2
		ORDER BY timestamp DESC
		LIMIT 1
	`
	var s models.LiquiditySnapshot
	err := r.pool.QueryRow(ctx, query, chain, token).Scan(
		&s.Chain, &s.TokenAddress, &s.PoolAddress, &s.LiquidityUsd,
		&s.LiquidityToken, &s.LiquidityEth, &s.Timestamp, &s.EventType)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get liquidity snapshot: %w", err)
	}
	return &s, nil
}

// HolderSnapshotExistsSince reports whether a token was already analyzed in
// the current window.
func (r *SnapshotRepository) HolderSnapshotExistsSince(ctx context.Context, chain, token string, since time.Time) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM holder_snapshots WHERE chain = $1 AND token_address = $2 AND created_at >= $3)`,
		chain, token, since).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check holder snapshot: %w", err)
	}
	return exists, nil
}

// InsertCoverageResult appends one verification run.
func (r *SnapshotRepository) InsertCoverageResult(ctx context.Context, c *models.CoverageResult) error {
	query := `
		INSERT INTO coverage_results
			(chain, venue, window_start, window_end, detected_count,
			 estimated_total, coverage_percent, block_start, block_end)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.pool.Exec(ctx, query,
		c.Chain, c.Venue, c.WindowStart, c.WindowEnd, c.DetectedCount,
		c.EstimatedTotal, c.CoveragePercent, c.BlockStart, c.BlockEnd)
	if err != nil {
		return fmt.Errorf("failed to insert coverage result: %w", err)
	}
	return nil
}
