package chain

import (
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// BreakerState represents the current state of the provider breaker.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

// ErrBreakerOpen is returned while the provider is considered down.
var ErrBreakerOpen = errors.New("provider circuit breaker is open")

// BreakerConfig holds thresholds for the provider breaker.
type BreakerConfig struct {
	FailureThreshold int           // consecutive failures before opening
	SuccessThreshold int           // successes to close from half-open
	OpenTimeout      time.Duration // time to wait before trying half-open
}

// Breaker fails provider calls fast once an RPC endpoint looks dead, so the
// retry budget is not burned against a host that stopped answering.
type Breaker struct {
	name   string
	config BreakerConfig
	logger *logrus.Logger

	mu              sync.Mutex
	state           BreakerState
	failureCount    int
	successCount    int
	lastStateChange time.Time
}

// NewBreaker creates a provider breaker with defaults filled in.
func NewBreaker(name string, config BreakerConfig, logger *logrus.Logger) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 2
	}
	if config.OpenTimeout <= 0 {
		config.OpenTimeout = 30 * time.Second
	}
	return &Breaker{
		name:            name,
		config:          config,
		logger:          logger,
		state:           BreakerClosed,
		lastStateChange: time.Now(),
	}
}

// Allow reports whether a call may proceed right now.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerOpen {
		if time.Since(b.lastStateChange) < b.config.OpenTimeout {
			return ErrBreakerOpen
		}
		b.transition(BreakerHalfOpen)
	}
	return nil
}

// RecordSuccess feeds a successful call back into the breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount = 0
	if b.state == BreakerHalfOpen {
		b.successCount++
		if b.successCount >= b.config.SuccessThreshold {
			b.transition(BreakerClosed)
		}
	}
}

// RecordFailure feeds a failed call back into the breaker.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.successCount = 0
	if b.state == BreakerHalfOpen {
		b.transition(BreakerOpen)
		return
	}
	b.failureCount++
	if b.state == BreakerClosed && b.failureCount >= b.config.FailureThreshold {
		b.transition(BreakerOpen)
	}
}

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) transition(to BreakerState) {
	if b.state == to {
		return
	}
	b.state = to
	b.failureCount = 0
	b.successCount = 0
	b.lastStateChange = time.Now()
	if b.logger != nil {
		b.logger.WithFields(logrus.Fields{
			"breaker": b.name,
			"state":   to,
		}).Info("Provider breaker state changed")
	}
}
