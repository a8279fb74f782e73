package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/launchsentry/launchsentry/internal/models"
)

// RiskRepository persists the singleton risk policy.
type RiskRepository struct {
	pool DBPool
}

// NewRiskRepository creates a risk repository.
func NewRiskRepository(pool DBPool) *RiskRepository {
	return &RiskRepository{pool: pool}
}

// GetRiskPolicy loads the policy row, or ErrNotFound when none has been
// stored yet.
func (r *RiskRepository) GetRiskPolicy(ctx context.Context) (*models.RiskPolicy, error) {
	query := `
		SELECT max_order_usd, max_position_usd, max_daily_loss_usd,
		       max_slippage_bps, cooldown_seconds, token_allowlist,
		       token_denylist, venue_allowlist, chain_allowlist,
		       kill_switch_active, dry_run_mode, updated_at
		FROM risk_policy
		WHERE id = 1
	`
	var p models.RiskPolicy
	err := r.pool.QueryRow(ctx, query).Scan(
		&p.MaxOrderUsd, &p.MaxPositionUsd, &p.MaxDailyLossUsd,
		&p.MaxSlippageBps, &p.CooldownSeconds, &p.TokenAllowlist,
		&p.TokenDenylist, &p.VenueAllowlist, &p.ChainAllowlist,
		&p.KillSwitchActive, &p.DryRunMode, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get risk policy: %w", err)
	}
	return &p, nil
}

// UpdateRiskPolicy writes the full effective policy.
func (r *RiskRepository) UpdateRiskPolicy(ctx context.Context, p *models.RiskPolicy) error {
	query := `
		INSERT INTO risk_policy
			(id, max_order_usd, max_position_usd, max_daily_loss_usd,
			 max_slippage_bps, cooldown_seconds, token_allowlist,
			 token_denylist, venue_allowlist, chain_allowlist,
			 kill_switch_active, dry_run_mode, updated_at)
		VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
		ON CONFLICT (id) DO UPDATE SET
			max_order_usd = EXCLUDED.max_order_usd,
			max_position_usd = EXCLUDED.max_position_usd,
			max_daily_loss_usd = EXCLUDED.max_daily_loss_usd,
			max_slippage_bps = EXCLUDED.max_slippage_bps,
			cooldown_seconds = EXCLUDED.cooldown_seconds,
			token_allowlist = EXCLUDED.token_allowlist,
			token_denylist = EXCLUDED.token_denylist,
			venue_allowlist = EXCLUDED.venue_allowlist,
			chain_allowlist = EXCLUDED.chain_allowlist,
			kill_switch_active = EXCLUDED.kill_switch_active,
			dry_run_mode = EXCLUDED.dry_run_mode,
			updated_at = NOW()
	`
	_, err := r.pool.Exec(ctx, query,
		p.MaxOrderUsd, p.MaxPositionUsd, p.MaxDailyLossUsd,
		p.MaxSlippageBps, p.CooldownSeconds, p.TokenAllowlist,
		p.TokenDenylist, p.VenueAllowlist, p.ChainAllowlist,
		p.KillSwitchActive, p.DryRunMode,
	)
	if err != nil {
		return fmt.Errorf("failed to update risk policy: %w", err)
	}
	return nil
}
