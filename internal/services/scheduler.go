package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/launchsentry/launchsentry/internal/models"
)

// StrategyStore is the slice of the persistence contract the scheduler
// needs.
type StrategyStore interface {
	ListStrategies(ctx context.Context) ([]models.Strategy, error)
	UpdateStrategyStatus(ctx context.Context, id string, status models.StrategyStatus) error
}

// StrategyRunner is a live strategy instance. OnEvent and OnTick return
// signals to publish; they must be safe for concurrent use.
type StrategyRunner interface {
	ID() string
	OnEvent(event models.ChainEvent) []models.SignalInput
	OnTick() []models.SignalInput
}

// heartbeatStrategy emits a recurring health signal. It exists so
// operators can verify the whole pipeline end to end.
type heartbeatStrategy struct {
	id   string
	note string
}

func (h *heartbeatStrategy) ID() string { return h.id }

func (h *heartbeatStrategy) OnEvent(models.ChainEvent) []models.SignalInput { return nil }

func (h *heartbeatStrategy) OnTick() []models.SignalInput {
	summary := "strategy scheduler is alive"
	if h.note != "" {
		summary = h.note
	}
	return []models.SignalInput{{
		Severity:   models.SeverityInfo,
		SignalType: models.SignalStrategyHealth,
		Title:      "Heartbeat",
		Summary:    summary,
		StrategyID: h.id,
	}}
}

type strategyInstance struct {
	strategy models.Strategy
	runner   StrategyRunner
	stopTick func()
}

// StrategyScheduler owns the runtime lifecycle of persisted strategies:
// it instantiates enabled ones, fans chain events to them, drives their
// tick intervals and publishes whatever signals they produce.
type StrategyScheduler struct {
	store   StrategyStore
	signals *SignalService
	logger  *logrus.Logger

	mu        sync.Mutex
	instances map[string]*strategyInstance
	baseCtx   context.Context
}

// NewStrategyScheduler creates an empty scheduler; call Start to load
// persisted strategies.
func NewStrategyScheduler(store StrategyStore, signals *SignalService, logger *logrus.Logger) *StrategyScheduler {
	return &StrategyScheduler{
		store:     store,
		signals:   signals,
		logger:    logger,
		instances: make(map[string]*strategyInstance),
		baseCtx:   context.Background(),
	}
}

// Start loads persisted strategies and enables every one whose stored
// status is enabled. A strategy that fails to instantiate is marked
// errored and skipped; the rest still start.
func (s *StrategyScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()

	strategies, err := s.store.ListStrategies(ctx)
	if err != nil {
		return fmt.Errorf("failed to list strategies: %w", err)
	}

	for _, strategy := range strategies {
		if strategy.Status != models.StrategyEnabled {
			continue
		}
		if err := s.enable(ctx, strategy); err != nil {
			s.logger.WithField("strategy_id", strategy.ID).WithError(err).Error("Strategy failed to start")
			if uerr := s.store.UpdateStrategyStatus(ctx, strategy.ID, models.StrategyErrored); uerr != nil {
				s.logger.WithField("strategy_id", strategy.ID).WithError(uerr).Warn("Failed to persist errored status")
			}
		}
	}

	s.logger.WithField("enabled", len(s.instances)).Info("Strategy scheduler started")
	return nil
}

// Enable instantiates and starts one strategy by id, persisting the status
// change. Enabling an already enabled strategy is a no-op.
func (s *StrategyScheduler) Enable(ctx context.Context, id string) error {
	s.mu.Lock()
	_, running := s.instances[id]
	s.mu.Unlock()
	if running {
		return nil
	}

	strategies, err := s.store.ListStrategies(ctx)
	if err != nil {
		return fmt.Errorf("failed to list strategies: %w", err)
	}
	for _, strategy := range strategies {
		if strategy.ID != id {
			continue
		}
		if err := s.enable(ctx, strategy); err != nil {
			return err
		}
		return s.store.UpdateStrategyStatus(ctx, id, models.StrategyEnabled)
	}
	return fmt.Errorf("strategy %s not found", id)
}

// Disable stops a running strategy and persists the status change.
// Disabling a stopped strategy is a no-op.
func (s *StrategyScheduler) Disable(ctx context.Context, id string) error {
	s.mu.Lock()
	instance, ok := s.instances[id]
	if ok {
		delete(s.instances, id)
	}
	s.mu.Unlock()

	if !ok {
		return nil
	}
	if instance.stopTick != nil {
		instance.stopTick()
	}
	s.logger.WithField("strategy_id", id).Info("Strategy disabled")
	return s.store.UpdateStrategyStatus(ctx, id, models.StrategyDisabled)
}

// StopAll stops every running strategy without touching persisted status,
// so the same set restarts on the next boot.
func (s *StrategyScheduler) StopAll() {
	s.mu.Lock()
	instances := make([]*strategyInstance, 0, len(s.instances))
	for _, instance := range s.instances {
		instances = append(instances, instance)
	}
	s.instances = make(map[string]*strategyInstance)
	s.mu.Unlock()

	for _, instance := range instances {
		if instance.stopTick != nil {
			instance.stopTick()
		}
	}
	s.logger.Info("Strategy scheduler stopped")
}

// ProcessEvent fans one chain event to every enabled strategy. A failing
// or panicking strategy is isolated; the rest still see the event.
func (s *StrategyScheduler) ProcessEvent(ctx context.Context, event models.ChainEvent) {
	s.mu.Lock()
	runners := make([]StrategyRunner, 0, len(s.instances))
	for _, instance := range s.instances {
		runners = append(runners, instance.runner)
	}
	s.mu.Unlock()

	for _, runner := range runners {
		s.publish(ctx, runner.ID(), s.runSafely(runner, event))
	}
}

// WatchedWallets unions the wallet sets of every enabled strategy that
// tracks wallets. The event pump uses it to scope transfer-log scans.
func (s *StrategyScheduler) WatchedWallets() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool)
	var wallets []string
	for _, instance := range s.instances {
		watcher, ok := instance.runner.(interface{ WatchedWallets() []string })
		if !ok {
			continue
		}
		for _, w := range watcher.WatchedWallets() {
			if !seen[w] {
				seen[w] = true
				wallets = append(wallets, w)
			}
		}
	}
	return wallets
}

// Enabled returns the ids of currently running strategies.
func (s *StrategyScheduler) Enabled() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.instances))
	for id := range s.instances {
		ids = append(ids, id)
	}
	return ids
}

func (s *StrategyScheduler) enable(ctx context.Context, strategy models.Strategy) error {
	runner, err := buildRunner(strategy)
	if err != nil {
		return err
	}

	// tickers outlive the caller's context, e.g. an admin request enabling
	// a strategy mid-flight
	s.mu.Lock()
	tickCtx := s.baseCtx
	s.mu.Unlock()

	instance := &strategyInstance{strategy: strategy, runner: runner}
	if strategy.PollIntervalSeconds > 0 {
		interval := time.Duration(strategy.PollIntervalSeconds) * time.Second
		instance.stopTick = StartPeriodic(tickCtx, "strategy:"+strategy.ID, interval, s.logger,
			func(tickCtx context.Context) error {
				s.publish(tickCtx, strategy.ID, runner.OnTick())
				return nil
			})
	}

	s.mu.Lock()
	s.instances[strategy.ID] = instance
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"strategy_id": strategy.ID,
		"type":        strategy.Type,
	}).Info("Strategy enabled")
	return nil
}

func (s *StrategyScheduler) runSafely(runner StrategyRunner, event models.ChainEvent) (signals []models.SignalInput) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.WithFields(logrus.Fields{
				"strategy_id": runner.ID(),
				"panic":       r,
			}).Error("Strategy panicked on event")
			signals = nil
		}
	}()
	return runner.OnEvent(event)
}

func (s *StrategyScheduler) publish(ctx context.Context, strategyID string, signals []models.SignalInput) {
	for _, input := range signals {
		if input.StrategyID == "" {
			input.StrategyID = strategyID
		}
		if _, err := s.signals.Create(ctx, input); err != nil {
			s.logger.WithField("strategy_id", strategyID).WithError(err).Warn("Failed to publish strategy signal")
		}
	}
}

func buildRunner(strategy models.Strategy) (StrategyRunner, error) {
	switch strategy.Type {
	case models.StrategyTypeMolt:
		if strategy.Config.Molt == nil {
			return nil, fmt.Errorf("strategy %s: missing molt config", strategy.ID)
		}
		return NewMoltStrategy(strategy.ID, *strategy.Config.Molt), nil
	case models.StrategyTypeHeartbeat:
		note := ""
		if strategy.Config.Heartbeat != nil {
			note = strategy.Config.Heartbeat.Note
		}
		return &heartbeatStrategy{id: strategy.ID, note: note}, nil
	default:
		return nil, fmt.Errorf("strategy %s: unknown type %s", strategy.ID, strategy.Type)
	}
}
