package connectors

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/launchsentry/launchsentry/internal/cache"
	"github.com/launchsentry/launchsentry/internal/database"
	"github.com/launchsentry/launchsentry/internal/models"
)

// fakeLaunchStore is an in-memory LaunchStore.
type fakeLaunchStore struct {
	mu       sync.Mutex
	launches map[string]*models.DetectedLaunch
	cursors  map[string]string
	upserts  int
}

func newFakeLaunchStore() *fakeLaunchStore {
	return &fakeLaunchStore{
		launches: make(map[string]*models.DetectedLaunch),
		cursors:  make(map[string]string),
	}
}

func (s *fakeLaunchStore) UpsertDetectedLaunch(ctx context.Context, launch *models.DetectedLaunch) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts++
	if _, exists := s.launches[launch.Key()]; exists {
		return false, nil
	}
	s.launches[launch.Key()] = launch
	return true, nil
}

func (s *fakeLaunchStore) GetConnectorCursor(ctx context.Context, connectorID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cursor, ok := s.cursors[connectorID]
	if !ok {
		return "", database.ErrNotFound
	}
	return cursor, nil
}

func (s *fakeLaunchStore) SetConnectorCursor(ctx context.Context, connectorID, cursor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[connectorID] = cursor
	return nil
}

// fakeSignals records created signals.
type fakeSignals struct {
	mu      sync.Mutex
	signals []models.SignalInput
}

func (f *fakeSignals) Create(ctx context.Context, input models.SignalInput) (*models.Signal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signals = append(f.signals, input)
	return &models.Signal{ID: "sig", SignalType: input.SignalType}, nil
}

func (f *fakeSignals) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.signals)
}

func newTestRegistry(store *fakeLaunchStore, signals *fakeSignals) *Registry {
	seen := cache.NewTokenCache(nil, 0, nil)
	return NewRegistry(store, signals, seen, testLogger())
}

func TestHandleDetection_UpsertsAndSignals(t *testing.T) {
	store := newFakeLaunchStore()
	signals := &fakeSignals{}
	r := newTestRegistry(store, signals)

	launch := &models.DetectedLaunch{
		Chain:        "base",
		TokenAddress: "0xtoken",
		Venue:        "pumpfun",
		BlockNumber:  100,
		Meta:         map[string]string{"detection_mode": "event"},
	}
	require.NoError(t, r.handleDetection(context.Background(), launch))

	assert.Len(t, store.launches, 1)
	require.Equal(t, 1, signals.count())
	assert.Equal(t, models.SignalLaunchDetected, signals.signals[0].SignalType)
}

// The same detection arriving twice produces one row and one signal.
func TestHandleDetection_Idempotent(t *testing.T) {
	store := newFakeLaunchStore()
	signals := &fakeSignals{}
	r := newTestRegistry(store, signals)

	launch := &models.DetectedLaunch{Chain: "base", TokenAddress: "0xtoken", Venue: "pumpfun"}
	require.NoError(t, r.handleDetection(context.Background(), launch))
	require.NoError(t, r.handleDetection(context.Background(), launch))

	assert.Len(t, store.launches, 1)
	assert.Equal(t, 1, signals.count())
	// the second detection still reaches the store so metadata refreshes
	assert.Equal(t, 2, store.upserts)
}

// A warm seen cache, e.g. after a restart with an empty local table, must
// not block the upsert; it only keeps the launch signal quiet.
func TestHandleDetection_CacheHitStillRefreshesRow(t *testing.T) {
	store := newFakeLaunchStore()
	signals := &fakeSignals{}
	r := newTestRegistry(store, signals)

	launch := &models.DetectedLaunch{Chain: "base", TokenAddress: "0xtoken", Venue: "pumpfun"}
	r.seen.Mark(context.Background(), launch.Key())

	require.NoError(t, r.handleDetection(context.Background(), launch))

	assert.Len(t, store.launches, 1)
	assert.Equal(t, 0, signals.count())
}

func TestPersistCursor_Monotonic(t *testing.T) {
	store := newFakeLaunchStore()
	r := newTestRegistry(store, &fakeSignals{})
	ctx := context.Background()

	require.NoError(t, r.persistCursor(ctx, "c1", 100))
	require.NoError(t, r.persistCursor(ctx, "c1", 90)) // stale, ignored
	require.NoError(t, r.persistCursor(ctx, "c1", 150))

	cursor, err := store.GetConnectorCursor(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "150", cursor)
}

func TestRegistry_StartResumesFromPersistedCursor(t *testing.T) {
	store := newFakeLaunchStore()
	store.cursors["pumpfun-base"] = "500"
	r := newTestRegistry(store, &fakeSignals{})

	reader := &fakeReader{head: 510}
	conn, err := r.Register(LaunchpadConfig{
		ID:           "pumpfun-base",
		Venue:        "pumpfun",
		Chain:        "base",
		PollInterval: time.Hour,
	}, reader)
	require.NoError(t, err)

	require.NoError(t, r.Start(context.Background(), "pumpfun-base"))
	defer r.StopAll()

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, uint64(510), conn.Cursor())
}

func TestRegistry_FreshConnectorStartsAtHead(t *testing.T) {
	store := newFakeLaunchStore()
	r := newTestRegistry(store, &fakeSignals{})

	reader := &fakeReader{head: 9000}
	conn, err := r.Register(LaunchpadConfig{
		ID:           "fresh",
		Venue:        "pumpfun",
		Chain:        "base",
		PollInterval: time.Hour,
	}, reader)
	require.NoError(t, err)

	require.NoError(t, r.Start(context.Background(), "fresh"))
	defer r.StopAll()

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, uint64(9000), conn.Cursor())
}

func TestRegistry_DuplicateRegisterRejected(t *testing.T) {
	r := newTestRegistry(newFakeLaunchStore(), &fakeSignals{})
	cfg := LaunchpadConfig{ID: "dup", Venue: "v", Chain: "base", PollInterval: time.Hour}

	_, err := r.Register(cfg, &fakeReader{})
	require.NoError(t, err)
	_, err = r.Register(cfg, &fakeReader{})
	require.Error(t, err)
}

func TestRegistry_StopAllIdempotent(t *testing.T) {
	r := newTestRegistry(newFakeLaunchStore(), &fakeSignals{})
	_, err := r.Register(LaunchpadConfig{ID: "a", Venue: "v", Chain: "base", PollInterval: time.Hour}, &fakeReader{head: 1})
	require.NoError(t, err)
	_, err = r.Register(LaunchpadConfig{ID: "b", Venue: "v", Chain: "base", PollInterval: time.Hour}, &fakeReader{head: 1})
	require.NoError(t, err)

	r.StartAll(context.Background())
	r.StopAll()
	r.StopAll() // second call must not panic or block

	for _, state := range r.Status() {
		assert.Equal(t, models.ConnectorStopped, state.Status)
	}
}

func TestRegistry_UnknownConnector(t *testing.T) {
	r := newTestRegistry(newFakeLaunchStore(), &fakeSignals{})
	require.Error(t, r.Start(context.Background(), "nope"))
	require.Error(t, r.Stop("nope"))
}
