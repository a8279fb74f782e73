package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/launchsentry/launchsentry/internal/models"
)

// LaunchRepository persists detected launches and connector cursors.
type LaunchRepository struct {
	pool DBPool
}

// NewLaunchRepository creates a launch repository.
func NewLaunchRepository(pool DBPool) *LaunchRepository {
	return &LaunchRepository{pool: pool}
}

// UpsertDetectedLaunch inserts a launch or refreshes its metadata if the
// (chain, token_address) row already exists. Returns whether a new row was
// created. Duplicate-key races are benign and reported as created=false.
func (r *LaunchRepository) UpsertDetectedLaunch(ctx context.Context, launch *models.DetectedLaunch) (bool, error) {
	meta, err := json.Marshal(launch.Meta)
	if err != nil {
		return false, fmt.Errorf("failed to marshal launch meta: %w", err)
	}

	query := `
		INSERT INTO detected_launches
			(chain, token_address, creator_address, factory_address, tx_hash,
			 block_number, block_timestamp, venue, meta, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (chain, token_address)
		DO UPDATE SET meta = EXCLUDED.meta
		RETURNING (xmax = 0)
	`

	var created bool
	err = r.pool.QueryRow(ctx, query,
		launch.Chain,
		launch.TokenAddress,
		launch.CreatorAddress,
		launch.FactoryAddress,
		launch.TxHash,
		launch.BlockNumber,
		launch.BlockTimestamp,
		launch.Venue,
		meta,
	).Scan(&created)
	if err != nil {
		if isDuplicateKey(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to upsert detected launch: %w", err)
	}
	return created, nil
}

// ListLaunchesSince returns launches on a chain created after the cutoff.
func (r *LaunchRepository) ListLaunchesSince(ctx context.Context, chain string, since time.Time) ([]models.DetectedLaunch, error) {
	query := `
		SELECT chain, token_address, creator_address, factory_address, tx_hash,
		       block_number, block_timestamp, venue, meta, created_at
		FROM detected_launches
		WHERE chain = $1 AND created_at >= $2
		ORDER BY created_at
	`

	rows, err := r.pool.Query(ctx, query, chain, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list launches: %w", err)
	}
	defer rows.Close()

	var launches []models.DetectedLaunch
	for rows.Next() {
		var l models.DetectedLaunch
		var meta []byte
		if err := rows.Scan(&l.Chain, &l.TokenAddress, &l.CreatorAddress, &l.FactoryAddress,
			&l.TxHash, &l.BlockNumber, &l.BlockTimestamp, &l.Venue, &meta, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan launch row: %w", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &l.Meta); err != nil {
				return nil, fmt.Errorf("failed to decode launch meta: %w", err)
			}
		}
		launches = append(launches, l)
	}
	return launches, rows.Err()
}

// CountLaunchesInWindow counts stored detections for a chain/venue window.
func (r *LaunchRepository) CountLaunchesInWindow(ctx context.Context, chain, venue string, start, end time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM detected_launches
		WHERE chain = $1 AND venue = $2 AND created_at >= $3 AND created_at < $4
	`
	var count int
	if err := r.pool.QueryRow(ctx, query, chain, venue, start, end).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count launches: %w", err)
	}
	return count, nil
}

// GetConnectorCursor returns the persisted resume position for a connector,
// or ErrNotFound when the connector has never committed one.
func (r *LaunchRepository) GetConnectorCursor(ctx context.Context, connectorID string) (string, error) {
	var cursor string
	err := r.pool.QueryRow(ctx,
		`SELECT cursor FROM connector_cursors WHERE connector_id = $1`,
		connectorID,
	).Scan(&cursor)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get connector cursor: %w", err)
	}
	return cursor, nil
}

// SetConnectorCursor persists a connector's resume position.
func (r *LaunchRepository) SetConnectorCursor(ctx context.Context, connectorID, cursor string) error {
	query := `
		INSERT INTO connector_cursors (connector_id, cursor, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (connector_id)
		DO UPDATE SET cursor = EXCLUDED.cursor, updated_at = NOW()
	`
	if _, err := r.pool.Exec(ctx, query, connectorID, cursor); err != nil {
		return fmt.Errorf("failed to set connector cursor: %w", err)
	}
	return nil
}
