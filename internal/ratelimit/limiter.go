// Package ratelimit provides token-bucket admission control for outbound
// calls against rate-limited providers.
package ratelimit

import (
	"context"

	"golang.org/x/time/rate"
)

// Limiter is a token bucket refilled continuously at Rate tokens/sec with
// capacity Burst. Safe for concurrent callers.
type Limiter struct {
	lim *rate.Limiter
}

// New creates a limiter at rps tokens/sec with the given bucket capacity.
// A non-positive maxTokens defaults to 2×rps (minimum 1).
func New(rps float64, maxTokens int) *Limiter {
	if maxTokens <= 0 {
		maxTokens = int(2 * rps)
	}
	if maxTokens < 1 {
		maxTokens = 1
	}
	return &Limiter{lim: rate.NewLimiter(rate.Limit(rps), maxTokens)}
}

// Acquire blocks until a token is available or ctx is cancelled.
func (l *Limiter) Acquire(ctx context.Context) error {
	return l.lim.Wait(ctx)
}

// Available reports whether a token could be taken right now, without
// consuming one.
func (l *Limiter) Available() bool {
	return l.lim.Tokens() >= 1
}

// Rate returns the refill rate in tokens/sec.
func (l *Limiter) Rate() float64 {
	return float64(l.lim.Limit())
}

// Burst returns the bucket capacity.
func (l *Limiter) Burst() int {
	return l.lim.Burst()
}
