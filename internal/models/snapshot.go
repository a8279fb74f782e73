package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// HolderSnapshot is one holder-concentration measurement for a token.
// Append-only time series, one row per token per analysis window.
type HolderSnapshot struct {
	TokenAddress       string          `json:"token_address" db:"token_address"`
	Chain              string          `json:"chain" db:"chain"`
	Top10Percent       decimal.Decimal `json:"top10_percent" db:"top10_percent"`
	Top20Percent       decimal.Decimal `json:"top20_percent" db:"top20_percent"`
	CreatorPercent     decimal.Decimal `json:"creator_percent" db:"creator_percent"`
	HolderCount        int             `json:"holder_count" db:"holder_count"`
	TotalSupply        decimal.Decimal `json:"total_supply" db:"total_supply"`
	ConcentrationScore decimal.Decimal `json:"concentration_score" db:"concentration_score"`
	CreatedAt          time.Time       `json:"created_at" db:"created_at"`
}

// LiquiditySnapshot records pool reserves at one point in time.
// Append-only; consecutive snapshots of a token feed delta comparisons.
type LiquiditySnapshot struct {
	TokenAddress   string          `json:"token_address" db:"token_address"`
	Chain          string          `json:"chain" db:"chain"`
	PoolAddress    string          `json:"pool_address" db:"pool_address"`
	LiquidityUsd   decimal.Decimal `json:"liquidity_usd" db:"liquidity_usd"`
	LiquidityToken decimal.Decimal `json:"liquidity_token" db:"liquidity_token"`
	LiquidityEth   decimal.Decimal `json:"liquidity_eth" db:"liquidity_eth"`
	Timestamp      time.Time       `json:"timestamp" db:"timestamp"`
	EventType      string          `json:"event_type" db:"event_type"`
}

// CoverageResult records one coverage-verification run. Append-only.
type CoverageResult struct {
	Chain           string          `json:"chain" db:"chain"`
	Venue           string          `json:"venue" db:"venue"`
	WindowStart     time.Time       `json:"window_start" db:"window_start"`
	WindowEnd       time.Time       `json:"window_end" db:"window_end"`
	DetectedCount   int             `json:"detected_count" db:"detected_count"`
	EstimatedTotal  int             `json:"estimated_total" db:"estimated_total"`
	CoveragePercent decimal.Decimal `json:"coverage_percent" db:"coverage_percent"`
	BlockStart      uint64          `json:"block_start" db:"block_start"`
	BlockEnd        uint64          `json:"block_end" db:"block_end"`
}
