// Package services contains the signal pipeline, risk engine, intelligence
// jobs and strategy scheduler.
package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/launchsentry/launchsentry/internal/models"
)

// SignalStore is the slice of the persistence contract the signal service
// needs.
type SignalStore interface {
	CreateSignal(ctx context.Context, sig *models.Signal) error
	AcknowledgeSignal(ctx context.Context, id string) error
	ListSignals(ctx context.Context, filter models.SignalFilter, limit, offset int) ([]models.Signal, error)
}

// Subscriber handles one signal. Delivery is best-effort and bounded by the
// service's per-subscriber budget.
type Subscriber func(ctx context.Context, sig *models.Signal)

// SignalService creates, persists and fans out normalized signals.
type SignalService struct {
	store  SignalStore
	logger *logrus.Logger
	budget time.Duration

	mu     sync.Mutex
	subs   map[int]Subscriber
	nextID int
}

// NewSignalService creates a signal service. budget bounds how long one
// subscriber may hold up fan-out; <=0 defaults to 2s.
func NewSignalService(store SignalStore, budget time.Duration, logger *logrus.Logger) *SignalService {
	if budget <= 0 {
		budget = 2 * time.Second
	}
	return &SignalService{
		store:  store,
		logger: logger,
		budget: budget,
		subs:   make(map[int]Subscriber),
	}
}

// Create assigns id and timestamp, persists the signal, and synchronously
// notifies all current subscribers. Fan-out is at-most-once per subscriber
// per signal; a slow subscriber is cut off at the budget and does not stall
// ingestion.
func (s *SignalService) Create(ctx context.Context, input models.SignalInput) (*models.Signal, error) {
	if err := models.ValidateEvidence(input.SignalType, input.Evidence); err != nil {
		return nil, err
	}

	severity := input.Severity
	if severity == "" {
		severity = models.SeverityInfo
	}
	sig := &models.Signal{
		ID:                uuid.New().String(),
		Timestamp:         time.Now().UTC(),
		Severity:          severity,
		SignalType:        input.SignalType,
		Title:             input.Title,
		Summary:           input.Summary,
		Token:             input.Token,
		TokenSymbol:       input.TokenSymbol,
		Chain:             input.Chain,
		Wallet:            input.Wallet,
		StrategyID:        input.StrategyID,
		Evidence:          input.Evidence,
		RecommendedAction: input.RecommendedAction,
	}

	if err := s.store.CreateSignal(ctx, sig); err != nil {
		return nil, fmt.Errorf("failed to persist signal: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"signal_id":   sig.ID,
		"signal_type": sig.SignalType,
		"severity":    sig.Severity,
		"token":       sig.Token,
	}).Info("Signal created")

	s.fanOut(ctx, sig)
	return sig, nil
}

// Subscribe registers a handler and returns its unsubscribe function. A
// subscriber detached mid-fan-out may miss that signal.
func (s *SignalService) Subscribe(sub Subscriber) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = sub
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Acknowledge flips the acknowledged flag, the only allowed post-creation
// mutation.
func (s *SignalService) Acknowledge(ctx context.Context, id string) error {
	return s.store.AcknowledgeSignal(ctx, id)
}

// List returns persisted signals matching the filter.
func (s *SignalService) List(ctx context.Context, filter models.SignalFilter, limit, offset int) ([]models.Signal, error) {
	return s.store.ListSignals(ctx, filter, limit, offset)
}

func (s *SignalService) fanOut(ctx context.Context, sig *models.Signal) {
	s.mu.Lock()
	subs := make([]Subscriber, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		s.deliver(ctx, sub, sig)
	}
}

// deliver invokes one subscriber with a bounded budget. The handler runs in
// its own goroutine so a stuck subscriber cannot block the pipeline past
// the deadline; panics are contained.
func (s *SignalService) deliver(ctx context.Context, sub Subscriber, sig *models.Signal) {
	subCtx, cancel := context.WithTimeout(ctx, s.budget)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				s.logger.WithFields(logrus.Fields{
					"signal_id": sig.ID,
					"panic":     r,
				}).Error("Subscriber panicked")
			}
		}()
		sub(subCtx, sig)
	}()

	select {
	case <-done:
	case <-subCtx.Done():
		s.logger.WithField("signal_id", sig.ID).Warn("Subscriber exceeded delivery budget, dropping")
	}
}
