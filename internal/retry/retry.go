// Package retry classifies provider errors and re-invokes fallible remote
// calls with exponential backoff and jitter.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Kind buckets a provider error for retry decisions.
type Kind string

const (
	KindRateLimited    Kind = "RATE_LIMITED"
	KindTimeout        Kind = "TIMEOUT"
	KindServerError    Kind = "SERVER_ERROR"
	KindInvalidRequest Kind = "INVALID_REQUEST"
	KindNetworkError   Kind = "NETWORK_ERROR"
	KindUnknown        Kind = "UNKNOWN"
)

// HTTPError carries a provider HTTP status for classification.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("provider returned %d: %s", e.StatusCode, e.Body)
}

// Classify inspects an error's status and text to bucket it.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.StatusCode == 429:
			return KindRateLimited
		case httpErr.StatusCode == 408:
			return KindTimeout
		case httpErr.StatusCode >= 500:
			return KindServerError
		case httpErr.StatusCode >= 400:
			return KindInvalidRequest
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindNetworkError
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests") || strings.Contains(msg, "429"):
		return KindRateLimited
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out") || strings.Contains(msg, "deadline exceeded"):
		return KindTimeout
	case strings.Contains(msg, "connection refused") || strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "no such host") || strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "eof"):
		return KindNetworkError
	case strings.Contains(msg, "internal server error") || strings.Contains(msg, "bad gateway") ||
		strings.Contains(msg, "service unavailable") || strings.Contains(msg, "502") ||
		strings.Contains(msg, "503"):
		return KindServerError
	case strings.Contains(msg, "invalid") || strings.Contains(msg, "bad request") || strings.Contains(msg, "400"):
		return KindInvalidRequest
	}
	return KindUnknown
}

// Retryable reports whether a kind is worth retrying.
func Retryable(kind Kind) bool {
	switch kind {
	case KindRateLimited, KindTimeout, KindServerError, KindNetworkError:
		return true
	}
	return false
}

// Policy controls backoff for Do.
type Policy struct {
	MaxRetries   int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	JitterFactor float64
}

// DefaultPolicy matches the provider defaults used across connectors.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:   3,
		BaseDelay:    500 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		JitterFactor: 0.2,
	}
}

// Delay computes the backoff before retry attempt k (0-based):
// min(base·2^k, maxDelay), randomly perturbed by ±JitterFactor.
func (p Policy) Delay(attempt int) time.Duration {
	d := float64(p.BaseDelay) * math.Pow(2, float64(attempt))
	if max := float64(p.MaxDelay); d > max {
		d = max
	}
	if p.JitterFactor > 0 {
		d *= 1 + p.JitterFactor*(2*rand.Float64()-1)
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// Do invokes fn, retrying up to MaxRetries additional times on retryable
// failures. Non-retryable errors propagate immediately; exhausting retries
// propagates the last error.
func (p Policy) Do(ctx context.Context, logger *logrus.Logger, op string, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := p.Delay(attempt - 1)
			if logger != nil {
				logger.WithFields(logrus.Fields{
					"operation": op,
					"attempt":   attempt,
					"delay":     delay.String(),
				}).Debug("Retrying after backoff")
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		kind := Classify(lastErr)
		if !Retryable(kind) {
			return lastErr
		}
		if logger != nil {
			logger.WithFields(logrus.Fields{
				"operation": op,
				"kind":      string(kind),
				"attempt":   attempt,
			}).WithError(lastErr).Warn("Retryable provider error")
		}
	}
	return lastErr
}
