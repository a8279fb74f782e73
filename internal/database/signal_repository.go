package database

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/launchsentry/launchsentry/internal/models"
)

// SignalRepository persists the append-only signal store. Only the
// acknowledged flag is ever updated after insert.
type SignalRepository struct {
	pool DBPool
}

// NewSignalRepository creates a signal repository.
func NewSignalRepository(pool DBPool) *SignalRepository {
	return &SignalRepository{pool: pool}
}

// CreateSignal inserts a signal row.
func (r *SignalRepository) CreateSignal(ctx context.Context, sig *models.Signal) error {
	evidence, err := json.Marshal(sig.Evidence)
	if err != nil {
		return fmt.Errorf("failed to marshal signal evidence: %w", err)
	}

	query := `
		INSERT INTO signals
			(id, timestamp, severity, signal_type, title, summary, token,
			 token_symbol, chain, wallet, strategy_id, evidence,
			 recommended_action, acknowledged)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err = r.pool.Exec(ctx, query,
		sig.ID, sig.Timestamp, sig.Severity, sig.SignalType, sig.Title,
		sig.Summary, sig.Token, sig.TokenSymbol, sig.Chain, sig.Wallet,
		sig.StrategyID, evidence, sig.RecommendedAction, sig.Acknowledged,
	)
	if err != nil {
		return fmt.Errorf("failed to create signal: %w", err)
	}
	return nil
}

// AcknowledgeSignal sets the acknowledged flag. Row-level atomic update;
// no other field is mutable.
func (r *SignalRepository) AcknowledgeSignal(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE signals SET acknowledged = true WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to acknowledge signal: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListSignals returns signals matching the filter, newest first.
func (r *SignalRepository) ListSignals(ctx context.Context, filter models.SignalFilter, limit, offset int) ([]models.Signal, error) {
	var conditions []string
	var args []interface{}

	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conditions = append(conditions, cond+"$"+strconv.Itoa(len(args)))
	}

	if filter.SignalType != "" {
		add("signal_type = ", filter.SignalType)
	}
	if filter.Chain != "" {
		add("chain = ", filter.Chain)
	}
	if filter.Severity != "" {
		add("severity = ", filter.Severity)
	}
	if filter.Acknowledged != nil {
		add("acknowledged = ", *filter.Acknowledged)
	}
	if filter.Since != nil {
		add("timestamp >= ", *filter.Since)
	}

	query := `
		SELECT id, timestamp, severity, signal_type, title, summary, token,
		       token_symbol, chain, wallet, strategy_id, evidence,
		       recommended_action, acknowledged
		FROM signals
	`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY timestamp DESC"
	if limit > 0 {
		args = append(args, limit)
		query += " LIMIT $" + strconv.Itoa(len(args))
	}
	if offset > 0 {
		args = append(args, offset)
		query += " OFFSET $" + strconv.Itoa(len(args))
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list signals: %w", err)
	}
	defer rows.Close()

	var signals []models.Signal
	for rows.Next() {
		var s models.Signal
		var evidence []byte
		if err := rows.Scan(&s.ID, &s.Timestamp, &s.Severity, &s.SignalType, &s.Title,
			&s.Summary, &s.Token, &s.TokenSymbol, &s.Chain, &s.Wallet,
			&s.StrategyID, &evidence, &s.RecommendedAction, &s.Acknowledged); err != nil {
			return nil, fmt.Errorf("failed to scan signal row: %w", err)
		}
		if len(evidence) > 0 {
			if err := json.Unmarshal(evidence, &s.Evidence); err != nil {
				return nil, fmt.Errorf("failed to decode signal evidence: %w", err)
			}
		}
		signals = append(signals, s)
	}
	return signals, rows.Err()
}
