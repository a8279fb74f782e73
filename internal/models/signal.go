package models

import (
	"time"
)

// Severity ranks how urgent a signal is.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Well-known signal types. The field is an open string enum: strategies may
// emit types not listed here.
const (
	SignalLaunchDetected = "LaunchDetected"
	SignalConcentration  = "HolderConcentration"
	SignalLiquidityRisk  = "LiquidityRisk"
	SignalCoverageReport = "CoverageReport"
	SignalWalletRotation = "WalletRotation"
	SignalStrategyHealth = "StrategyHealth"
)

// Signal is the normalized output of every detector and intelligence job.
// Immutable after creation except for the Acknowledged flag.
type Signal struct {
	ID                string                 `json:"id" db:"id"`
	Timestamp         time.Time              `json:"timestamp" db:"timestamp"`
	Severity          Severity               `json:"severity" db:"severity"`
	SignalType        string                 `json:"signal_type" db:"signal_type"`
	Title             string                 `json:"title" db:"title"`
	Summary           string                 `json:"summary" db:"summary"`
	Token             string                 `json:"token,omitempty" db:"token"`
	TokenSymbol       string                 `json:"token_symbol,omitempty" db:"token_symbol"`
	Chain             string                 `json:"chain,omitempty" db:"chain"`
	Wallet            string                 `json:"wallet,omitempty" db:"wallet"`
	StrategyID        string                 `json:"strategy_id" db:"strategy_id"`
	Evidence          map[string]interface{} `json:"evidence" db:"evidence"`
	RecommendedAction string                 `json:"recommended_action" db:"recommended_action"`
	Acknowledged      bool                   `json:"acknowledged" db:"acknowledged"`
}

// SignalInput is what callers provide to SignalService.Create; id and
// timestamp are assigned by the service.
type SignalInput struct {
	Severity          Severity
	SignalType        string
	Title             string
	Summary           string
	Token             string
	TokenSymbol       string
	Chain             string
	Wallet            string
	StrategyID        string
	Evidence          map[string]interface{}
	RecommendedAction string
}

// SignalFilter narrows ListSignals results.
type SignalFilter struct {
	SignalType   string
	Chain        string
	Severity     Severity
	Acknowledged *bool
	Since        *time.Time
}
