package models

import (
	"time"
)

// ConnectorKind categorizes what a connector watches.
type ConnectorKind string

const (
	ConnectorKindCEX       ConnectorKind = "cex"
	ConnectorKindDEX       ConnectorKind = "dex"
	ConnectorKindLaunchpad ConnectorKind = "launchpad"
	ConnectorKindWallet    ConnectorKind = "wallet"
)

// ConnectorStatus is the lifecycle state of a runtime connector.
type ConnectorStatus string

const (
	ConnectorStopped ConnectorStatus = "stopped"
	ConnectorRunning ConnectorStatus = "running"
	ConnectorErrored ConnectorStatus = "error"
)

// ConnectorHealth is the unified status reported across runtime and
// externally configured connectors.
type ConnectorHealth string

const (
	HealthConnected ConnectorHealth = "connected"
	HealthDegraded  ConnectorHealth = "degraded"
	HealthOffline   ConnectorHealth = "offline"
	HealthError     ConnectorHealth = "error"
)

// ConnectorState is the registry's view of one connector.
type ConnectorState struct {
	ID        string          `json:"id"`
	Kind      ConnectorKind   `json:"kind"`
	Venue     string          `json:"venue"`
	Chain     string          `json:"chain,omitempty"`
	Status    ConnectorStatus `json:"status"`
	Health    ConnectorHealth `json:"health"`
	Cursor    string          `json:"cursor"`
	LastError string          `json:"last_error,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// DetectedLaunch is a newly created token observed by a connector scan.
// Unique by (chain, token_address); immutable after creation except for a
// metadata refresh on re-sync.
type DetectedLaunch struct {
	TokenAddress   string            `json:"token_address" db:"token_address"`
	CreatorAddress string            `json:"creator_address" db:"creator_address"`
	FactoryAddress string            `json:"factory_address" db:"factory_address"`
	Chain          string            `json:"chain" db:"chain"`
	TxHash         string            `json:"tx_hash" db:"tx_hash"`
	BlockNumber    uint64            `json:"block_number" db:"block_number"`
	BlockTimestamp *time.Time        `json:"block_timestamp,omitempty" db:"block_timestamp"`
	Venue          string            `json:"venue" db:"venue"`
	Meta           map[string]string `json:"meta" db:"meta"`
	CreatedAt      time.Time         `json:"created_at" db:"created_at"`
}

// Key returns the dedup identity of a launch.
func (d *DetectedLaunch) Key() string {
	return d.Chain + ":" + d.TokenAddress
}
