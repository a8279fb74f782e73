package services

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/launchsentry/launchsentry/internal/models"
)

// MoltStrategy watches a set of wallets for rotation behavior: a wallet
// rapidly draining a token position to fresh addresses. Positions are
// tracked per wallet and token, in raw token units, from observed transfer
// events only, so the baseline is the peak balance seen inside the window,
// not the true chain balance.
type MoltStrategy struct {
	id     string
	config models.MoltConfig

	mu      sync.Mutex
	watched map[string]bool
	tracks  map[positionKey]*positionTrack
}

type positionKey struct {
	wallet string
	token  string
}

type positionTrack struct {
	balance    decimal.Decimal
	samples    []balanceSample
	alertedAt  time.Time
	alertedSev models.Severity
}

type balanceSample struct {
	at      time.Time
	balance decimal.Decimal
}

// NewMoltStrategy creates a wallet-rotation detector from a persisted
// definition. Threshold defaults: 50% medium, 80% high, 60 minute window.
func NewMoltStrategy(id string, cfg models.MoltConfig) *MoltStrategy {
	if cfg.DropPercentMedium.IsZero() {
		cfg.DropPercentMedium = decimal.NewFromInt(50)
	}
	if cfg.DropPercentHigh.IsZero() {
		cfg.DropPercentHigh = decimal.NewFromInt(80)
	}
	if cfg.WindowMinutes <= 0 {
		cfg.WindowMinutes = 60
	}

	watched := make(map[string]bool, len(cfg.Wallets))
	for _, w := range cfg.Wallets {
		watched[strings.ToLower(w)] = true
	}
	return &MoltStrategy{
		id:      id,
		config:  cfg,
		watched: watched,
		tracks:  make(map[positionKey]*positionTrack),
	}
}

// ID returns the strategy's persisted id.
func (s *MoltStrategy) ID() string { return s.id }

// WatchedWallets returns the lowercased wallet set this strategy tracks.
func (s *MoltStrategy) WatchedWallets() []string {
	wallets := make([]string, 0, len(s.watched))
	for w := range s.watched {
		wallets = append(wallets, w)
	}
	return wallets
}

// OnEvent updates wallet token positions from a transfer event and emits a
// rotation signal when a watched wallet's position in that token has
// dropped past a threshold within the window. Tokens are evaluated
// independently: an exit from one token is never masked by holdings in
// another. At most one signal per position per window unless the severity
// escalates.
func (s *MoltStrategy) OnEvent(event models.ChainEvent) []models.SignalInput {
	if event.Kind != "transfer" || !event.Amount.IsPositive() {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := event.Timestamp
	if now.IsZero() {
		now = time.Now().UTC()
	}
	token := strings.ToLower(event.TokenAddress)

	var signals []models.SignalInput
	if to := strings.ToLower(event.To); s.watched[to] {
		track := s.track(to, token)
		track.balance = track.balance.Add(event.Amount)
		s.observe(track, now)
	}
	if from := strings.ToLower(event.From); s.watched[from] {
		track := s.track(from, token)
		track.balance = track.balance.Sub(event.Amount)
		if track.balance.IsNegative() {
			track.balance = decimal.Zero
		}
		s.observe(track, now)
		if sig := s.evaluate(from, token, track, now); sig != nil {
			signals = append(signals, *sig)
		}
	}
	return signals
}

// OnTick is a no-op; molt is purely event-driven.
func (s *MoltStrategy) OnTick() []models.SignalInput { return nil }

func (s *MoltStrategy) track(wallet, token string) *positionTrack {
	key := positionKey{wallet: wallet, token: token}
	track, ok := s.tracks[key]
	if !ok {
		track = &positionTrack{}
		s.tracks[key] = track
	}
	return track
}

func (s *MoltStrategy) window() time.Duration {
	return time.Duration(s.config.WindowMinutes) * time.Minute
}

func (s *MoltStrategy) observe(track *positionTrack, now time.Time) {
	track.samples = append(track.samples, balanceSample{at: now, balance: track.balance})

	cutoff := now.Add(-s.window())
	kept := track.samples[:0]
	for _, sample := range track.samples {
		if sample.at.After(cutoff) {
			kept = append(kept, sample)
		}
	}
	track.samples = kept
}

func (s *MoltStrategy) evaluate(wallet, token string, track *positionTrack, now time.Time) *models.SignalInput {
	peak := decimal.Zero
	for _, sample := range track.samples {
		if sample.balance.GreaterThan(peak) {
			peak = sample.balance
		}
	}
	if !peak.IsPositive() {
		return nil
	}

	drop := peak.Sub(track.balance).Mul(decimal.NewFromInt(100)).Div(peak)
	if drop.LessThan(s.config.DropPercentMedium) {
		return nil
	}

	severity := models.SeverityMedium
	if drop.GreaterThanOrEqual(s.config.DropPercentHigh) {
		severity = models.SeverityHigh
	}

	// one alert per position per window, unless severity escalated
	inWindow := now.Sub(track.alertedAt) < s.window()
	if inWindow && !severityAbove(severity, track.alertedSev) {
		return nil
	}
	track.alertedAt = now
	track.alertedSev = severity

	return &models.SignalInput{
		Severity:   severity,
		SignalType: models.SignalWalletRotation,
		Title:      "Wallet rotation detected",
		Summary: fmt.Sprintf("Wallet %s position in %s dropped %s%% within %dm",
			wallet, token, drop.StringFixed(1), s.config.WindowMinutes),
		Token:      token,
		Wallet:     wallet,
		StrategyID: s.id,
		Evidence: map[string]interface{}{
			"tokenAddress":   token,
			"peakBalance":    peak.String(),
			"currentBalance": track.balance.String(),
			"dropPercent":    drop.InexactFloat64(),
			"windowMinutes":  s.config.WindowMinutes,
		},
		RecommendedAction: "review wallet successor candidates",
	}
}

func severityAbove(a, b models.Severity) bool {
	return severityRank(a) > severityRank(b)
}

func severityRank(s models.Severity) int {
	switch s {
	case models.SeverityCritical:
		return 4
	case models.SeverityHigh:
		return 3
	case models.SeverityMedium:
		return 2
	case models.SeverityLow:
		return 1
	default:
		return 0
	}
}
