package services

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/launchsentry/launchsentry/internal/config"
	"github.com/launchsentry/launchsentry/internal/database"
	"github.com/launchsentry/launchsentry/internal/models"
)

// fakeRiskStore holds at most one policy row.
type fakeRiskStore struct {
	mu      sync.Mutex
	policy  *models.RiskPolicy
	updates int
}

func (s *fakeRiskStore) GetRiskPolicy(ctx context.Context) (*models.RiskPolicy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.policy == nil {
		return nil, database.ErrNotFound
	}
	copied := *s.policy
	return &copied, nil
}

func (s *fakeRiskStore) UpdateRiskPolicy(ctx context.Context, policy *models.RiskPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *policy
	s.policy = &copied
	s.updates++
	return nil
}

func testRiskDefaults() config.RiskConfig {
	return config.RiskConfig{
		MaxOrderUsd:     500,
		MaxPositionUsd:  2000,
		MaxDailyLossUsd: 1000,
		MaxSlippageBps:  300,
		CooldownSeconds: 60,
		DryRunMode:      true,
	}
}

func newTestRiskEngine(t *testing.T) (*RiskEngine, *fakeRiskStore) {
	t.Helper()
	store := &fakeRiskStore{}
	engine := NewRiskEngine(store, testLogger())
	require.NoError(t, engine.Initialize(context.Background(), testRiskDefaults()))
	return engine, store
}

func okRequest() models.ActionRequest {
	return models.ActionRequest{
		Chain:       "base",
		Venue:       "uniswap-v2",
		Token:       "0xabc",
		OrderUsd:    decimal.NewFromInt(100),
		PositionUsd: decimal.NewFromInt(500),
		SlippageBps: 100,
	}
}

func TestRiskInitializeSeedsFromDefaults(t *testing.T) {
	engine, store := newTestRiskEngine(t)

	assert.Equal(t, 1, store.updates, "missing policy is seeded once")
	policy := engine.Policy()
	assert.True(t, policy.DryRunMode)
	assert.True(t, policy.MaxOrderUsd.Equal(decimal.NewFromInt(500)))
}

func TestRiskAllowsCleanRequest(t *testing.T) {
	engine, _ := newTestRiskEngine(t)

	result := engine.Check(okRequest())
	assert.True(t, result.Allowed)
	assert.Empty(t, result.Violations)
	assert.Contains(t, result.Warnings[0], "dry-run")
}

func TestRiskKillSwitchOverridesEverything(t *testing.T) {
	engine, _ := newTestRiskEngine(t)

	_, err := engine.SetKillSwitch(context.Background(), true)
	require.NoError(t, err)

	result := engine.Check(okRequest())
	assert.False(t, result.Allowed)
	assert.Equal(t, "kill switch is active", result.Reason)
	require.Len(t, result.Violations, 1, "kill switch short-circuits other checks")

	_, err = engine.SetKillSwitch(context.Background(), false)
	require.NoError(t, err)
	assert.True(t, engine.Check(okRequest()).Allowed)
}

func TestRiskThresholdViolations(t *testing.T) {
	engine, _ := newTestRiskEngine(t)

	req := okRequest()
	req.OrderUsd = decimal.NewFromInt(600)
	req.SlippageBps = 500
	result := engine.Check(req)

	assert.False(t, result.Allowed)
	assert.Len(t, result.Violations, 2, "all violated rules are reported")
	assert.NotEmpty(t, result.Reason)
}

func TestRiskDailyLossBoundaryDenies(t *testing.T) {
	engine, _ := newTestRiskEngine(t)

	req := okRequest()
	req.DailyLossUsd = decimal.NewFromInt(1000)
	assert.False(t, engine.Check(req).Allowed, "loss equal to the cap denies")
}

func TestRiskDenylistBeatsAllowlist(t *testing.T) {
	engine, _ := newTestRiskEngine(t)

	deny := []string{"0xbad"}
	allow := []string{"0xbad"}
	_, err := engine.UpdatePolicy(context.Background(), models.RiskPolicyPatch{
		TokenDenylist:  deny,
		TokenAllowlist: allow,
	})
	require.NoError(t, err)

	req := okRequest()
	req.Token = "0xbad"
	assert.False(t, engine.Check(req).Allowed)
}

func TestRiskVenueCooldown(t *testing.T) {
	engine, _ := newTestRiskEngine(t)

	engine.RecordAction("uniswap-v2")

	result := engine.Check(okRequest())
	assert.False(t, result.Allowed)
	assert.Contains(t, result.Reason, "cooldown")

	other := okRequest()
	other.Venue = "pumpfun"
	assert.True(t, engine.Check(other).Allowed, "cooldown is per venue")
}

func TestRiskUpdatePolicyRejectsBadSlippage(t *testing.T) {
	engine, store := newTestRiskEngine(t)
	before := store.updates

	bad := 20000
	_, err := engine.UpdatePolicy(context.Background(), models.RiskPolicyPatch{MaxSlippageBps: &bad})
	require.Error(t, err)
	assert.Equal(t, before, store.updates, "invalid patch never persists")
	assert.Equal(t, 300, engine.Policy().MaxSlippageBps)
}

func TestRiskUpdatePolicyPartial(t *testing.T) {
	engine, _ := newTestRiskEngine(t)

	newMax := decimal.NewFromInt(250)
	updated, err := engine.UpdatePolicy(context.Background(), models.RiskPolicyPatch{MaxOrderUsd: &newMax})
	require.NoError(t, err)

	assert.True(t, updated.MaxOrderUsd.Equal(newMax))
	assert.Equal(t, 300, updated.MaxSlippageBps, "untouched fields keep their values")
}
