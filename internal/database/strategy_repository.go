package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/launchsentry/launchsentry/internal/models"
)

// StrategyRepository reads persisted strategy definitions and records
// runtime status transitions.
type StrategyRepository struct {
	pool DBPool
}

// NewStrategyRepository creates a strategy repository.
func NewStrategyRepository(pool DBPool) *StrategyRepository {
	return &StrategyRepository{pool: pool}
}

// ListStrategies returns all persisted strategy definitions.
func (r *StrategyRepository) ListStrategies(ctx context.Context) ([]models.Strategy, error) {
	query := `
		SELECT id, type, status, config, poll_interval_seconds
		FROM strategies
		ORDER BY id
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list strategies: %w", err)
	}
	defer rows.Close()

	var strategies []models.Strategy
	for rows.Next() {
		var s models.Strategy
		var rawConfig []byte
		if err := rows.Scan(&s.ID, &s.Type, &s.Status, &rawConfig, &s.PollIntervalSeconds); err != nil {
			return nil, fmt.Errorf("failed to scan strategy row: %w", err)
		}
		if len(rawConfig) > 0 {
			cfg, err := models.UnmarshalConfig(s.Type, rawConfig)
			if err != nil {
				return nil, fmt.Errorf("strategy %s: %w", s.ID, err)
			}
			s.Config = cfg
		}
		strategies = append(strategies, s)
	}
	return strategies, rows.Err()
}

// UpdateStrategyStatus records a strategy's lifecycle transition.
func (r *StrategyRepository) UpdateStrategyStatus(ctx context.Context, id string, status models.StrategyStatus) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE strategies SET status = $2, updated_at = NOW() WHERE id = $1`,
		id, status)
	if err != nil {
		return fmt.Errorf("failed to update strategy status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// marshalConfig is used by fixtures and tests to store typed configs.
func marshalConfig(cfg models.StrategyConfig) ([]byte, error) {
	switch {
	case cfg.Molt != nil:
		return json.Marshal(cfg.Molt)
	case cfg.Heartbeat != nil:
		return json.Marshal(cfg.Heartbeat)
	}
	return []byte("{}"), nil
}
