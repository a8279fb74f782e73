package connectors

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/launchsentry/launchsentry/internal/cache"
	"github.com/launchsentry/launchsentry/internal/chain"
	"github.com/launchsentry/launchsentry/internal/database"
	"github.com/launchsentry/launchsentry/internal/models"
)

// LaunchStore is the slice of the persistence contract the registry needs.
type LaunchStore interface {
	UpsertDetectedLaunch(ctx context.Context, launch *models.DetectedLaunch) (bool, error)
	GetConnectorCursor(ctx context.Context, connectorID string) (string, error)
	SetConnectorCursor(ctx context.Context, connectorID, cursor string) error
}

// SignalCreator publishes normalized signals.
type SignalCreator interface {
	Create(ctx context.Context, input models.SignalInput) (*models.Signal, error)
}

// Registry owns one connector per configured venue: lifecycle, cursor
// persistence and fan-in of detections to the signal pipeline.
type Registry struct {
	store   LaunchStore
	signals SignalCreator
	seen    *cache.TokenCache
	logger  *logrus.Logger

	mu         sync.Mutex
	connectors map[string]*LaunchpadConnector
}

// NewRegistry creates an empty registry.
func NewRegistry(store LaunchStore, signals SignalCreator, seen *cache.TokenCache, logger *logrus.Logger) *Registry {
	return &Registry{
		store:      store,
		signals:    signals,
		seen:       seen,
		logger:     logger,
		connectors: make(map[string]*LaunchpadConnector),
	}
}

// Register adds a launchpad connector for a venue. The connector is wired
// to the registry's detection and cursor handlers but not started.
func (r *Registry) Register(cfg LaunchpadConfig, client chain.Reader) (*LaunchpadConnector, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.connectors[cfg.ID]; exists {
		return nil, fmt.Errorf("connector %s is already registered", cfg.ID)
	}

	conn := NewLaunchpad(cfg, client, r.logger)
	conn.OnDetection(r.handleDetection)
	conn.OnCursorAdvance(r.persistCursor)
	r.connectors[cfg.ID] = conn
	return conn, nil
}

// Start launches one connector, resuming from its persisted cursor. A
// connector that never committed a cursor starts at the current head so a
// fresh deployment does not scan from genesis.
func (r *Registry) Start(ctx context.Context, id string) error {
	r.mu.Lock()
	conn, ok := r.connectors[id]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown connector: %s", id)
	}

	fromBlock, err := r.loadCursor(ctx, conn)
	if err != nil {
		return err
	}
	return conn.Start(ctx, fromBlock)
}

// Stop stops one connector. Stopping an already stopped connector is a
// no-op.
func (r *Registry) Stop(id string) error {
	r.mu.Lock()
	conn, ok := r.connectors[id]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown connector: %s", id)
	}
	conn.Stop()
	return nil
}

// StartAll starts every registered connector. Individual start failures are
// logged and do not prevent the rest from starting.
func (r *Registry) StartAll(ctx context.Context) {
	for _, id := range r.ids() {
		if err := r.Start(ctx, id); err != nil {
			r.logger.WithField("connector", id).WithError(err).Error("Failed to start connector")
		}
	}
}

// StopAll stops every connector. Idempotent; used at process shutdown.
func (r *Registry) StopAll() {
	for _, id := range r.ids() {
		r.mu.Lock()
		conn := r.connectors[id]
		r.mu.Unlock()
		conn.Stop()
	}
}

// Status reports the unified view across all connectors.
func (r *Registry) Status() []models.ConnectorState {
	r.mu.Lock()
	defer r.mu.Unlock()

	states := make([]models.ConnectorState, 0, len(r.connectors))
	for _, conn := range r.connectors {
		states = append(states, conn.State())
	}
	return states
}

func (r *Registry) ids() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.connectors))
	for id := range r.connectors {
		ids = append(ids, id)
	}
	return ids
}

func (r *Registry) loadCursor(ctx context.Context, conn *LaunchpadConnector) (uint64, error) {
	raw, err := r.store.GetConnectorCursor(ctx, conn.ID())
	if errors.Is(err, database.ErrNotFound) {
		head, err := conn.client.BlockNumber(ctx)
		if err != nil {
			return 0, fmt.Errorf("failed to read head for initial cursor: %w", err)
		}
		return head, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load cursor for %s: %w", conn.ID(), err)
	}
	cursor, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("connector %s has malformed cursor %q: %w", conn.ID(), raw, err)
	}
	return cursor, nil
}

// handleDetection upserts the launch and emits a LaunchDetected signal for
// new rows. The shared cache suppresses only the signal: a token
// re-detected after a restart still reaches the upsert so its metadata is
// refreshed. Duplicate upserts are benign: a token detected by both modes,
// or by two connectors, lands exactly one row.
func (r *Registry) handleDetection(ctx context.Context, launch *models.DetectedLaunch) error {
	key := launch.Key()
	known := r.seen != nil && r.seen.Seen(ctx, key)

	created, err := r.store.UpsertDetectedLaunch(ctx, launch)
	if err != nil {
		return fmt.Errorf("failed to persist detection: %w", err)
	}
	if r.seen != nil {
		r.seen.Mark(ctx, key)
	}
	if !created || known {
		return nil
	}

	_, err = r.signals.Create(ctx, models.SignalInput{
		Severity:   models.SeverityInfo,
		SignalType: models.SignalLaunchDetected,
		Title:      fmt.Sprintf("New token on %s", launch.Venue),
		Summary: fmt.Sprintf("Token %s deployed on %s via %s at block %d",
			launch.TokenAddress, launch.Chain, launch.Venue, launch.BlockNumber),
		Token:      launch.TokenAddress,
		Chain:      launch.Chain,
		StrategyID: "connector:" + launch.Venue,
		Evidence: map[string]interface{}{
			"txHash":         launch.TxHash,
			"blockNumber":    launch.BlockNumber,
			"creatorAddress": launch.CreatorAddress,
			"factoryAddress": launch.FactoryAddress,
			"detectionMode":  launch.Meta["detection_mode"],
		},
		RecommendedAction: "review",
	})
	if err != nil {
		return fmt.Errorf("failed to emit launch signal: %w", err)
	}
	return nil
}

// persistCursor commits a connector's resume position. Cursors are
// monotonically non-decreasing: a stale value is never written over a newer
// one.
func (r *Registry) persistCursor(ctx context.Context, connectorID string, cursor uint64) error {
	raw, err := r.store.GetConnectorCursor(ctx, connectorID)
	if err == nil {
		if prev, perr := strconv.ParseUint(raw, 10, 64); perr == nil && cursor <= prev {
			return nil
		}
	} else if !errors.Is(err, database.ErrNotFound) {
		return err
	}
	return r.store.SetConnectorCursor(ctx, connectorID, strconv.FormatUint(cursor, 10))
}
