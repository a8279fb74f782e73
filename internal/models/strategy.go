package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// StrategyStatus is the persisted lifecycle state of a strategy definition.
type StrategyStatus string

const (
	StrategyEnabled  StrategyStatus = "enabled"
	StrategyDisabled StrategyStatus = "disabled"
	StrategyErrored  StrategyStatus = "error"
)

// StrategyType discriminates the strategy config variants.
type StrategyType string

const (
	StrategyTypeMolt      StrategyType = "molt"
	StrategyTypeHeartbeat StrategyType = "heartbeat"
)

// Strategy is a persisted strategy definition. The scheduler owns the
// runtime instance while the strategy is enabled.
type Strategy struct {
	ID                  string         `json:"id" db:"id"`
	Type                StrategyType   `json:"type" db:"type"`
	Status              StrategyStatus `json:"status" db:"status"`
	Config              StrategyConfig `json:"config" db:"config"`
	PollIntervalSeconds int            `json:"poll_interval_seconds" db:"poll_interval_seconds"`
}

// StrategyConfig is a tagged variant: exactly one of the typed configs is
// set, matching the strategy's Type.
type StrategyConfig struct {
	Molt      *MoltConfig      `json:"molt,omitempty"`
	Heartbeat *HeartbeatConfig `json:"heartbeat,omitempty"`
}

// MoltConfig configures wallet-rotation detection.
type MoltConfig struct {
	Wallets           []string        `json:"wallets"`
	DropPercentMedium decimal.Decimal `json:"drop_percent_medium"`
	DropPercentHigh   decimal.Decimal `json:"drop_percent_high"`
	WindowMinutes     int             `json:"window_minutes"`
}

// HeartbeatConfig configures a plain recurring health strategy.
type HeartbeatConfig struct {
	Note string `json:"note,omitempty"`
}

// UnmarshalConfig decodes raw JSON into the variant matching typ.
func UnmarshalConfig(typ StrategyType, raw []byte) (StrategyConfig, error) {
	var cfg StrategyConfig
	switch typ {
	case StrategyTypeMolt:
		var m MoltConfig
		if err := json.Unmarshal(raw, &m); err != nil {
			return cfg, fmt.Errorf("failed to decode molt config: %w", err)
		}
		cfg.Molt = &m
	case StrategyTypeHeartbeat:
		var h HeartbeatConfig
		if err := json.Unmarshal(raw, &h); err != nil {
			return cfg, fmt.Errorf("failed to decode heartbeat config: %w", err)
		}
		cfg.Heartbeat = &h
	default:
		return cfg, fmt.Errorf("unknown strategy type: %s", typ)
	}
	return cfg, nil
}

// ChainEvent is a normalized on-chain event fed to event-driven strategies.
type ChainEvent struct {
	Chain        string          `json:"chain"`
	Kind         string          `json:"kind"` // "transfer", "swap", "liquidity"
	TokenAddress string          `json:"token_address"`
	From         string          `json:"from"`
	To           string          `json:"to"`
	Amount       decimal.Decimal `json:"amount"`
	TxHash       string          `json:"tx_hash"`
	BlockNumber  uint64          `json:"block_number"`
	Timestamp    time.Time       `json:"timestamp"`
}
