package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/launchsentry/launchsentry/internal/chain"
	"github.com/launchsentry/launchsentry/internal/models"
)

func watchedTransferLog(from, to string, amount int64, block uint64, tx string) chain.Log {
	lg := transferLog(from, to, amount)
	lg.BlockNumber = chain.Uint64ToHex(block)
	lg.TransactionHash = tx
	lg.LogIndex = "0x0"
	return lg
}

func newPumpFixture(t *testing.T) (*EventPump, *fakeChainReader, *fakeSignalStore) {
	t.Helper()
	store := newFakeStrategyStore(moltStrategyDef("molt-1", models.StrategyEnabled,
		"0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"))
	sigStore := &fakeSignalStore{}
	scheduler := NewStrategyScheduler(store, newTestSignals(sigStore), testLogger())
	t.Cleanup(scheduler.StopAll)
	require.NoError(t, scheduler.Start(context.Background()))

	reader := newFakeChainReader("base", 100)
	return NewEventPump("base", reader, scheduler, testLogger()), reader, sigStore
}

func TestEventPumpAnchorsAtHeadFirst(t *testing.T) {
	pump, reader, sigStore := newPumpFixture(t)
	reader.logs = []chain.Log{watchedTransferLog(
		"0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", "0xfresh0000000000000000000000000000000000", 100, 50, "0xt1")}

	require.NoError(t, pump.Run(context.Background()))

	assert.Empty(t, sigStore.created(), "the first run only anchors the cursor")
}

func TestEventPumpDeliversWalletTransfers(t *testing.T) {
	pump, reader, sigStore := newPumpFixture(t)
	require.NoError(t, pump.Run(context.Background())) // anchor at 100

	wallet := "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	reader.mu.Lock()
	reader.head = 110
	reader.logs = []chain.Log{
		watchedTransferLog("0xfunder000000000000000000000000000000000", wallet, 100, 105, "0xt1"),
		watchedTransferLog(wallet, "0xfresh0000000000000000000000000000000000", 60, 106, "0xt2"),
	}
	reader.mu.Unlock()

	require.NoError(t, pump.Run(context.Background()))

	// 60% drain past the 50% default threshold
	signals := sigStore.created()
	require.Len(t, signals, 1)
	assert.Equal(t, models.SignalWalletRotation, signals[0].SignalType)
	assert.Equal(t, "molt-1", signals[0].StrategyID)
}

func TestEventPumpDeduplicatesOverlappingScans(t *testing.T) {
	pump, reader, sigStore := newPumpFixture(t)
	require.NoError(t, pump.Run(context.Background()))

	// a watched-to-watched transfer shows up in both scans but must be
	// processed once, otherwise the balance math double-counts
	wallet := "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	reader.mu.Lock()
	reader.head = 110
	reader.logs = []chain.Log{
		watchedTransferLog("0xfunder000000000000000000000000000000000", wallet, 100, 105, "0xt1"),
	}
	reader.mu.Unlock()

	require.NoError(t, pump.Run(context.Background()))
	assert.Empty(t, sigStore.created(), "funding alone never alerts")
}

func TestTransferToEventParsesLog(t *testing.T) {
	lg := watchedTransferLog(
		"0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		"0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb", 42, 7, "0xt9")
	lg.Address = "0xT0KEN00000000000000000000000000000000000"

	event, ok := transferToEvent("base", lg)
	require.True(t, ok)
	assert.Equal(t, "transfer", event.Kind)
	assert.Equal(t, "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", event.From)
	assert.Equal(t, "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb", event.To)
	assert.Equal(t, "42", event.Amount.String())
	assert.Equal(t, uint64(7), event.BlockNumber)

	lg.Removed = true
	_, ok = transferToEvent("base", lg)
	assert.False(t, ok)
}

func TestWalletTopicPadding(t *testing.T) {
	topic := walletTopic("0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA")
	assert.Len(t, topic, 66)
	assert.Equal(t, chain.TopicToAddress(topic), "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
}

// transfer timestamps default to wall clock; pin that they stay recent so
// molt windows behave
func TestTransferToEventTimestamp(t *testing.T) {
	lg := watchedTransferLog(
		"0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		"0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb", 1, 1, "0xt1")
	event, ok := transferToEvent("base", lg)
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().UTC(), event.Timestamp, time.Minute)
}
