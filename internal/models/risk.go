package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// RiskPolicy is the singleton policy the risk engine enforces. Versioned by
// UpdatedAt; mutated only through RiskEngine.UpdatePolicy. KillSwitchActive
// overrides every other field.
type RiskPolicy struct {
	MaxOrderUsd      decimal.Decimal `json:"max_order_usd" db:"max_order_usd"`
	MaxPositionUsd   decimal.Decimal `json:"max_position_usd" db:"max_position_usd"`
	MaxDailyLossUsd  decimal.Decimal `json:"max_daily_loss_usd" db:"max_daily_loss_usd"`
	MaxSlippageBps   int             `json:"max_slippage_bps" db:"max_slippage_bps"`
	CooldownSeconds  int             `json:"cooldown_seconds" db:"cooldown_seconds"`
	TokenAllowlist   []string        `json:"token_allowlist" db:"token_allowlist"`
	TokenDenylist    []string        `json:"token_denylist" db:"token_denylist"`
	VenueAllowlist   []string        `json:"venue_allowlist" db:"venue_allowlist"`
	ChainAllowlist   []string        `json:"chain_allowlist" db:"chain_allowlist"`
	KillSwitchActive bool            `json:"kill_switch_active" db:"kill_switch_active"`
	DryRunMode       bool            `json:"dry_run_mode" db:"dry_run_mode"`
	UpdatedAt        time.Time       `json:"updated_at" db:"updated_at"`
}

// RiskPolicyPatch carries partial policy updates; nil fields are untouched.
type RiskPolicyPatch struct {
	MaxOrderUsd      *decimal.Decimal
	MaxPositionUsd   *decimal.Decimal
	MaxDailyLossUsd  *decimal.Decimal
	MaxSlippageBps   *int
	CooldownSeconds  *int
	TokenAllowlist   []string
	TokenDenylist    []string
	VenueAllowlist   []string
	ChainAllowlist   []string
	KillSwitchActive *bool
	DryRunMode       *bool
}

// ActionRequest describes an action an external code path wants to take.
// The core never executes it; it only gets checked.
type ActionRequest struct {
	Venue        string          `json:"venue"`
	Chain        string          `json:"chain"`
	Token        string          `json:"token"`
	OrderUsd     decimal.Decimal `json:"order_usd"`
	PositionUsd  decimal.Decimal `json:"position_usd"`
	DailyLossUsd decimal.Decimal `json:"daily_loss_usd"`
	SlippageBps  int             `json:"slippage_bps"`
}

// RiskCheckResult is the structured verdict of RiskEngine.Check.
// Violations deny; warnings do not.
type RiskCheckResult struct {
	Allowed    bool     `json:"allowed"`
	Reason     string   `json:"reason,omitempty"`
	Violations []string `json:"violations"`
	Warnings   []string `json:"warnings"`
}
