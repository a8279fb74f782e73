package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/launchsentry/launchsentry/internal/models"
)

type fakeStrategyStore struct {
	mu         sync.Mutex
	strategies []models.Strategy
	statuses   map[string]models.StrategyStatus
}

func newFakeStrategyStore(strategies ...models.Strategy) *fakeStrategyStore {
	return &fakeStrategyStore{
		strategies: strategies,
		statuses:   make(map[string]models.StrategyStatus),
	}
}

func (s *fakeStrategyStore) ListStrategies(ctx context.Context) ([]models.Strategy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Strategy, len(s.strategies))
	copy(out, s.strategies)
	return out, nil
}

func (s *fakeStrategyStore) UpdateStrategyStatus(ctx context.Context, id string, status models.StrategyStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[id] = status
	return nil
}

func moltStrategyDef(id string, status models.StrategyStatus, wallets ...string) models.Strategy {
	return models.Strategy{
		ID:     id,
		Type:   models.StrategyTypeMolt,
		Status: status,
		Config: models.StrategyConfig{Molt: &models.MoltConfig{
			Wallets:       wallets,
			WindowMinutes: 60,
		}},
	}
}

func tokenEvent(token, from, to string, amount decimal.Decimal, at time.Time) models.ChainEvent {
	return models.ChainEvent{
		Chain:        "base",
		Kind:         "transfer",
		TokenAddress: token,
		From:         from,
		To:           to,
		Amount:       amount,
		Timestamp:    at,
	}
}

func rotationEvent(from string, amount int64, at time.Time) models.ChainEvent {
	return tokenEvent("0xtok", from, "0xfresh", decimal.NewFromInt(amount), at)
}

func fundingEvent(to string, amount int64, at time.Time) models.ChainEvent {
	return tokenEvent("0xtok", "0xfunder", to, decimal.NewFromInt(amount), at)
}

func TestMoltDetectsRotation(t *testing.T) {
	strategy := NewMoltStrategy("molt-1", models.MoltConfig{
		Wallets:       []string{"0xWatched"},
		WindowMinutes: 60,
	})
	now := time.Now().UTC()

	assert.Empty(t, strategy.OnEvent(fundingEvent("0xwatched", 100, now)))

	signals := strategy.OnEvent(rotationEvent("0xwatched", 60, now.Add(time.Minute)))
	require.Len(t, signals, 1)
	assert.Equal(t, models.SignalWalletRotation, signals[0].SignalType)
	assert.Equal(t, models.SeverityMedium, signals[0].Severity)
	assert.Equal(t, "0xwatched", signals[0].Wallet)
}

func TestMoltEscalatesToHigh(t *testing.T) {
	strategy := NewMoltStrategy("molt-1", models.MoltConfig{
		Wallets:       []string{"0xwatched"},
		WindowMinutes: 60,
	})
	now := time.Now().UTC()

	strategy.OnEvent(fundingEvent("0xwatched", 100, now))
	first := strategy.OnEvent(rotationEvent("0xwatched", 60, now.Add(time.Minute)))
	require.Len(t, first, 1)
	require.Equal(t, models.SeverityMedium, first[0].Severity)

	// balance now 40 of 100 peak; draining to 15 crosses the 80% line
	second := strategy.OnEvent(rotationEvent("0xwatched", 25, now.Add(2*time.Minute)))
	require.Len(t, second, 1)
	assert.Equal(t, models.SeverityHigh, second[0].Severity)
}

func TestMoltOneAlertPerWindow(t *testing.T) {
	strategy := NewMoltStrategy("molt-1", models.MoltConfig{
		Wallets:       []string{"0xwatched"},
		WindowMinutes: 60,
	})
	now := time.Now().UTC()

	strategy.OnEvent(fundingEvent("0xwatched", 100, now))
	require.Len(t, strategy.OnEvent(rotationEvent("0xwatched", 60, now.Add(time.Minute))), 1)

	// another medium-grade drain inside the window stays silent
	assert.Empty(t, strategy.OnEvent(rotationEvent("0xwatched", 5, now.Add(2*time.Minute))))
}

func TestMoltTracksTokensIndependently(t *testing.T) {
	strategy := NewMoltStrategy("molt-1", models.MoltConfig{
		Wallets:       []string{"0xwatched"},
		WindowMinutes: 60,
	})
	now := time.Now().UTC()

	// a large 18-decimal position in token B next to a small one in token A
	strategy.OnEvent(tokenEvent("0xtokb", "0xfunder", "0xwatched", decimal.New(1, 18), now))
	strategy.OnEvent(tokenEvent("0xtoka", "0xfunder", "0xwatched", decimal.NewFromInt(100), now))

	// a complete exit from token A alerts even though the aggregate balance
	// across both tokens barely moved
	signals := strategy.OnEvent(tokenEvent("0xtoka", "0xwatched", "0xfresh", decimal.NewFromInt(100), now.Add(time.Minute)))
	require.Len(t, signals, 1)
	assert.Equal(t, models.SeverityHigh, signals[0].Severity)
	assert.Equal(t, "0xtoka", signals[0].Token)
	assert.Equal(t, 100.0, signals[0].Evidence["dropPercent"])

	// token B is untouched, so a later small drain there starts from its
	// own peak and stays quiet
	assert.Empty(t, strategy.OnEvent(tokenEvent("0xtokb", "0xwatched", "0xfresh", decimal.New(1, 17), now.Add(2*time.Minute))))
}

func TestMoltIgnoresUnwatchedWallets(t *testing.T) {
	strategy := NewMoltStrategy("molt-1", models.MoltConfig{
		Wallets:       []string{"0xwatched"},
		WindowMinutes: 60,
	})
	now := time.Now().UTC()

	strategy.OnEvent(fundingEvent("0xother", 100, now))
	assert.Empty(t, strategy.OnEvent(rotationEvent("0xother", 90, now.Add(time.Minute))))
}

func TestSchedulerStartEnablesPersistedStrategies(t *testing.T) {
	store := newFakeStrategyStore(
		moltStrategyDef("molt-1", models.StrategyEnabled, "0xwatched"),
		moltStrategyDef("molt-2", models.StrategyDisabled, "0xidle"),
	)
	scheduler := NewStrategyScheduler(store, newTestSignals(&fakeSignalStore{}), testLogger())
	defer scheduler.StopAll()

	require.NoError(t, scheduler.Start(context.Background()))

	assert.ElementsMatch(t, []string{"molt-1"}, scheduler.Enabled())
}

func TestSchedulerProcessEventPublishesSignals(t *testing.T) {
	store := newFakeStrategyStore(moltStrategyDef("molt-1", models.StrategyEnabled, "0xwatched"))
	sigStore := &fakeSignalStore{}
	scheduler := NewStrategyScheduler(store, newTestSignals(sigStore), testLogger())
	defer scheduler.StopAll()
	require.NoError(t, scheduler.Start(context.Background()))

	now := time.Now().UTC()
	scheduler.ProcessEvent(context.Background(), fundingEvent("0xwatched", 100, now))
	scheduler.ProcessEvent(context.Background(), rotationEvent("0xwatched", 60, now.Add(time.Minute)))

	signals := sigStore.created()
	require.Len(t, signals, 1)
	assert.Equal(t, "molt-1", signals[0].StrategyID)
	assert.Equal(t, models.SignalWalletRotation, signals[0].SignalType)
}

func TestSchedulerEnableDisable(t *testing.T) {
	store := newFakeStrategyStore(moltStrategyDef("molt-1", models.StrategyDisabled, "0xwatched"))
	scheduler := NewStrategyScheduler(store, newTestSignals(&fakeSignalStore{}), testLogger())
	defer scheduler.StopAll()
	require.NoError(t, scheduler.Start(context.Background()))
	require.Empty(t, scheduler.Enabled())

	require.NoError(t, scheduler.Enable(context.Background(), "molt-1"))
	assert.Equal(t, models.StrategyEnabled, store.statuses["molt-1"])
	assert.Len(t, scheduler.Enabled(), 1)

	require.NoError(t, scheduler.Enable(context.Background(), "molt-1"), "re-enabling is a no-op")

	require.NoError(t, scheduler.Disable(context.Background(), "molt-1"))
	assert.Equal(t, models.StrategyDisabled, store.statuses["molt-1"])
	assert.Empty(t, scheduler.Enabled())

	require.NoError(t, scheduler.Disable(context.Background(), "molt-1"), "re-disabling is a no-op")
}

func TestSchedulerEnableUnknownStrategy(t *testing.T) {
	store := newFakeStrategyStore()
	scheduler := NewStrategyScheduler(store, newTestSignals(&fakeSignalStore{}), testLogger())

	assert.Error(t, scheduler.Enable(context.Background(), "ghost"))
}

func TestSchedulerMarksBrokenStrategyErrored(t *testing.T) {
	broken := models.Strategy{
		ID:     "broken",
		Type:   models.StrategyTypeMolt,
		Status: models.StrategyEnabled,
		// missing molt config
	}
	store := newFakeStrategyStore(broken, moltStrategyDef("molt-1", models.StrategyEnabled, "0xwatched"))
	scheduler := NewStrategyScheduler(store, newTestSignals(&fakeSignalStore{}), testLogger())
	defer scheduler.StopAll()

	require.NoError(t, scheduler.Start(context.Background()))

	assert.Equal(t, models.StrategyErrored, store.statuses["broken"])
	assert.ElementsMatch(t, []string{"molt-1"}, scheduler.Enabled(), "healthy strategies still start")
}

func TestHeartbeatTickEmitsHealthSignal(t *testing.T) {
	h := &heartbeatStrategy{id: "hb-1", note: "all quiet"}

	signals := h.OnTick()
	require.Len(t, signals, 1)
	assert.Equal(t, models.SignalStrategyHealth, signals[0].SignalType)
	assert.Equal(t, models.SeverityInfo, signals[0].Severity)
	assert.Equal(t, "all quiet", signals[0].Summary)
	assert.Empty(t, h.OnEvent(models.ChainEvent{Kind: "transfer"}))
}
