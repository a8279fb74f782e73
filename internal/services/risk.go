package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/launchsentry/launchsentry/internal/config"
	"github.com/launchsentry/launchsentry/internal/database"
	"github.com/launchsentry/launchsentry/internal/models"
)

// RiskStore is the slice of the persistence contract the risk engine needs.
type RiskStore interface {
	GetRiskPolicy(ctx context.Context) (*models.RiskPolicy, error)
	UpdateRiskPolicy(ctx context.Context, policy *models.RiskPolicy) error
}

// RiskEngine holds the active policy and kill switch. Every
// action-producing code path must consult Check before acting; the engine
// itself never initiates anything.
type RiskEngine struct {
	store  RiskStore
	logger *logrus.Logger

	mu         sync.RWMutex
	policy     models.RiskPolicy
	lastAction map[string]time.Time // venue → last allowed action
}

// NewRiskEngine creates an uninitialized engine; call Initialize before
// Check.
func NewRiskEngine(store RiskStore, logger *logrus.Logger) *RiskEngine {
	return &RiskEngine{
		store:      store,
		logger:     logger,
		lastAction: make(map[string]time.Time),
	}
}

// Initialize loads the persisted policy, seeding storage from config
// defaults when none exists.
func (e *RiskEngine) Initialize(ctx context.Context, defaults config.RiskConfig) error {
	policy, err := e.store.GetRiskPolicy(ctx)
	if errors.Is(err, database.ErrNotFound) {
		seeded := policyFromConfig(defaults)
		if err := e.store.UpdateRiskPolicy(ctx, &seeded); err != nil {
			return fmt.Errorf("failed to seed risk policy: %w", err)
		}
		policy = &seeded
		e.logger.Info("Seeded risk policy from config defaults")
	} else if err != nil {
		return fmt.Errorf("failed to load risk policy: %w", err)
	}

	e.mu.Lock()
	e.policy = *policy
	e.mu.Unlock()
	return nil
}

// Check evaluates an action request against the active policy. Rules are
// evaluated in order: kill switch, allow/deny lists, numeric thresholds.
// Any single violation denies the whole request; warnings never deny.
func (e *RiskEngine) Check(req models.ActionRequest) models.RiskCheckResult {
	e.mu.RLock()
	policy := e.policy
	lastAction, hasLast := e.lastAction[req.Venue]
	e.mu.RUnlock()

	result := models.RiskCheckResult{
		Violations: []string{},
		Warnings:   []string{},
	}

	if policy.KillSwitchActive {
		result.Allowed = false
		result.Reason = "kill switch is active"
		result.Violations = append(result.Violations, "kill_switch_active")
		return result
	}

	if len(policy.ChainAllowlist) > 0 && !contains(policy.ChainAllowlist, req.Chain) {
		result.Violations = append(result.Violations,
			fmt.Sprintf("chain %s is not allowlisted", req.Chain))
	}
	if len(policy.VenueAllowlist) > 0 && !contains(policy.VenueAllowlist, req.Venue) {
		result.Violations = append(result.Violations,
			fmt.Sprintf("venue %s is not allowlisted", req.Venue))
	}
	if contains(policy.TokenDenylist, req.Token) {
		result.Violations = append(result.Violations,
			fmt.Sprintf("token %s is denylisted", req.Token))
	}
	if len(policy.TokenAllowlist) > 0 && !contains(policy.TokenAllowlist, req.Token) {
		result.Violations = append(result.Violations,
			fmt.Sprintf("token %s is not allowlisted", req.Token))
	}

	if policy.MaxOrderUsd.IsPositive() && req.OrderUsd.GreaterThan(policy.MaxOrderUsd) {
		result.Violations = append(result.Violations,
			fmt.Sprintf("order size %s exceeds max %s", req.OrderUsd, policy.MaxOrderUsd))
	}
	if policy.MaxPositionUsd.IsPositive() && req.PositionUsd.GreaterThan(policy.MaxPositionUsd) {
		result.Violations = append(result.Violations,
			fmt.Sprintf("position size %s exceeds max %s", req.PositionUsd, policy.MaxPositionUsd))
	}
	if policy.MaxDailyLossUsd.IsPositive() && req.DailyLossUsd.GreaterThanOrEqual(policy.MaxDailyLossUsd) {
		result.Violations = append(result.Violations,
			fmt.Sprintf("daily loss %s reached max %s", req.DailyLossUsd, policy.MaxDailyLossUsd))
	}
	if req.SlippageBps > policy.MaxSlippageBps {
		result.Violations = append(result.Violations,
			fmt.Sprintf("slippage %d bps exceeds max %d bps", req.SlippageBps, policy.MaxSlippageBps))
	}
	if policy.CooldownSeconds > 0 && hasLast {
		elapsed := time.Since(lastAction)
		if elapsed < time.Duration(policy.CooldownSeconds)*time.Second {
			result.Violations = append(result.Violations,
				fmt.Sprintf("cooldown active for venue %s (%.0fs remaining)",
					req.Venue, (time.Duration(policy.CooldownSeconds)*time.Second-elapsed).Seconds()))
		}
	}

	if policy.DryRunMode {
		result.Warnings = append(result.Warnings, "dry-run mode active: action will be logged, not executed")
	}

	result.Allowed = len(result.Violations) == 0
	if !result.Allowed {
		result.Reason = result.Violations[0]
	}
	return result
}

// RecordAction stamps the cooldown clock for a venue. Call it after an
// allowed action is actually taken.
func (e *RiskEngine) RecordAction(venue string) {
	e.mu.Lock()
	e.lastAction[venue] = time.Now()
	e.mu.Unlock()
}

// SetKillSwitch toggles the global override and returns the effective
// policy. Atomic with respect to concurrent Check calls.
func (e *RiskEngine) SetKillSwitch(ctx context.Context, active bool) (models.RiskPolicy, error) {
	return e.UpdatePolicy(ctx, models.RiskPolicyPatch{KillSwitchActive: &active})
}

// UpdatePolicy applies a partial update, persists the result and returns
// the new effective policy. No Check call ever observes a half-updated
// policy.
func (e *RiskEngine) UpdatePolicy(ctx context.Context, patch models.RiskPolicyPatch) (models.RiskPolicy, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	updated := e.policy
	if patch.MaxOrderUsd != nil {
		updated.MaxOrderUsd = *patch.MaxOrderUsd
	}
	if patch.MaxPositionUsd != nil {
		updated.MaxPositionUsd = *patch.MaxPositionUsd
	}
	if patch.MaxDailyLossUsd != nil {
		updated.MaxDailyLossUsd = *patch.MaxDailyLossUsd
	}
	if patch.MaxSlippageBps != nil {
		if *patch.MaxSlippageBps < 0 || *patch.MaxSlippageBps > 10000 {
			return e.policy, fmt.Errorf("max slippage must be in [0,10000] bps, got %d", *patch.MaxSlippageBps)
		}
		updated.MaxSlippageBps = *patch.MaxSlippageBps
	}
	if patch.CooldownSeconds != nil {
		updated.CooldownSeconds = *patch.CooldownSeconds
	}
	if patch.TokenAllowlist != nil {
		updated.TokenAllowlist = patch.TokenAllowlist
	}
	if patch.TokenDenylist != nil {
		updated.TokenDenylist = patch.TokenDenylist
	}
	if patch.VenueAllowlist != nil {
		updated.VenueAllowlist = patch.VenueAllowlist
	}
	if patch.ChainAllowlist != nil {
		updated.ChainAllowlist = patch.ChainAllowlist
	}
	if patch.KillSwitchActive != nil {
		updated.KillSwitchActive = *patch.KillSwitchActive
	}
	if patch.DryRunMode != nil {
		updated.DryRunMode = *patch.DryRunMode
	}
	updated.UpdatedAt = time.Now().UTC()

	if err := e.store.UpdateRiskPolicy(ctx, &updated); err != nil {
		return e.policy, fmt.Errorf("failed to persist risk policy: %w", err)
	}

	e.policy = updated
	e.logger.WithFields(logrus.Fields{
		"kill_switch": updated.KillSwitchActive,
		"dry_run":     updated.DryRunMode,
	}).Info("Risk policy updated")
	return updated, nil
}

// Policy returns a copy of the active policy.
func (e *RiskEngine) Policy() models.RiskPolicy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.policy
}

func policyFromConfig(cfg config.RiskConfig) models.RiskPolicy {
	return models.RiskPolicy{
		MaxOrderUsd:     decimal.NewFromFloat(cfg.MaxOrderUsd),
		MaxPositionUsd:  decimal.NewFromFloat(cfg.MaxPositionUsd),
		MaxDailyLossUsd: decimal.NewFromFloat(cfg.MaxDailyLossUsd),
		MaxSlippageBps:  cfg.MaxSlippageBps,
		CooldownSeconds: cfg.CooldownSeconds,
		DryRunMode:      cfg.DryRunMode,
		UpdatedAt:       time.Now().UTC(),
	}
}

func contains(list []string, value string) bool {
	for _, v := range list {
		if v == value {
			return true
		}
	}
	return false
}
