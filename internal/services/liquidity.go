package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/launchsentry/launchsentry/internal/chain"
	"github.com/launchsentry/launchsentry/internal/database"
	"github.com/launchsentry/launchsentry/internal/models"
)

// ErrNoPool means a token has no tracked liquidity pool yet. Monitoring
// skips such tokens without noise; a pool may appear later.
var ErrNoPool = errors.New("no liquidity pool for token")

// PoolInfo is one observation of a token's primary pool.
type PoolInfo struct {
	PoolAddress    string
	LiquidityUsd   decimal.Decimal
	LiquidityToken decimal.Decimal
	LiquidityEth   decimal.Decimal
}

// PoolLocator resolves a token's primary pool and reads its current
// reserves. Implementations return ErrNoPool when no pool exists.
type PoolLocator interface {
	Locate(ctx context.Context, token string) (*PoolInfo, error)
}

// LiquiditySnapshotStore persists liquidity observations and serves the
// previous one for delta comparison.
type LiquiditySnapshotStore interface {
	InsertLiquiditySnapshot(ctx context.Context, snapshot *models.LiquiditySnapshot) error
	LatestLiquiditySnapshot(ctx context.Context, chain, token string) (*models.LiquiditySnapshot, error)
}

// LiquidityMonitor periodically re-reads pool reserves for recently
// launched tokens and raises a signal when liquidity drops sharply against
// the previous observation.
type LiquidityMonitor struct {
	chainID       string
	locator       PoolLocator
	launches      DistributionLaunchStore
	snapshots     LiquiditySnapshotStore
	signals       *SignalService
	window        time.Duration
	dropThreshold decimal.Decimal // percent, e.g. 50 means alert at -50%
	logger        *logrus.Logger
}

// NewLiquidityMonitor creates the liquidity job for one chain.
func NewLiquidityMonitor(
	chainID string,
	locator PoolLocator,
	launches DistributionLaunchStore,
	snapshots LiquiditySnapshotStore,
	signals *SignalService,
	window time.Duration,
	dropThreshold decimal.Decimal,
	logger *logrus.Logger,
) *LiquidityMonitor {
	if window <= 0 {
		window = 24 * time.Hour
	}
	return &LiquidityMonitor{
		chainID:       chainID,
		locator:       locator,
		launches:      launches,
		snapshots:     snapshots,
		signals:       signals,
		window:        window,
		dropThreshold: dropThreshold,
		logger:        logger,
	}
}

// Run checks every token launched within the window. Per-token failures are
// logged and the batch continues.
func (m *LiquidityMonitor) Run(ctx context.Context) error {
	since := time.Now().UTC().Add(-m.window)
	launches, err := m.launches.ListLaunchesSince(ctx, m.chainID, since)
	if err != nil {
		return fmt.Errorf("failed to list recent launches: %w", err)
	}

	for _, launch := range launches {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := m.checkToken(ctx, launch.TokenAddress); err != nil {
			m.logger.WithFields(logrus.Fields{
				"job":   "liquidity",
				"token": launch.TokenAddress,
			}).WithError(err).Warn("Liquidity check failed, continuing")
		}
	}
	return nil
}

func (m *LiquidityMonitor) checkToken(ctx context.Context, token string) error {
	info, err := m.locator.Locate(ctx, token)
	if errors.Is(err, ErrNoPool) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to locate pool: %w", err)
	}

	previous, err := m.snapshots.LatestLiquiditySnapshot(ctx, m.chainID, token)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return fmt.Errorf("failed to load previous snapshot: %w", err)
	}

	snapshot := &models.LiquiditySnapshot{
		TokenAddress:   token,
		Chain:          m.chainID,
		PoolAddress:    info.PoolAddress,
		LiquidityUsd:   info.LiquidityUsd,
		LiquidityToken: info.LiquidityToken,
		LiquidityEth:   info.LiquidityEth,
		Timestamp:      time.Now().UTC(),
		EventType:      "poll",
	}
	if err := m.snapshots.InsertLiquiditySnapshot(ctx, snapshot); err != nil {
		return fmt.Errorf("failed to persist liquidity snapshot: %w", err)
	}

	if previous == nil || !previous.LiquidityUsd.IsPositive() {
		return nil
	}

	drop := LiquidityDropPercent(previous.LiquidityUsd, info.LiquidityUsd)
	if drop.LessThan(m.dropThreshold) {
		return nil
	}

	_, err = m.signals.Create(ctx, models.SignalInput{
		Severity:   liquidityDropSeverity(drop),
		SignalType: models.SignalLiquidityRisk,
		Title:      "Liquidity drained",
		Summary: fmt.Sprintf("Pool liquidity for %s fell %s%% ($%s to $%s)",
			token, drop.StringFixed(1),
			previous.LiquidityUsd.StringFixed(2), info.LiquidityUsd.StringFixed(2)),
		Token:      token,
		Chain:      m.chainID,
		StrategyID: "job:liquidity",
		Evidence: map[string]interface{}{
			"poolAddress":  info.PoolAddress,
			"previousUsd":  previous.LiquidityUsd.InexactFloat64(),
			"currentUsd":   info.LiquidityUsd.InexactFloat64(),
			"deltaPercent": drop.Neg().InexactFloat64(),
		},
		RecommendedAction: "exit immediately",
	})
	return err
}

func liquidityDropSeverity(drop decimal.Decimal) models.Severity {
	switch {
	case drop.GreaterThanOrEqual(decimal.NewFromInt(80)):
		return models.SeverityCritical
	case drop.GreaterThanOrEqual(decimal.NewFromInt(60)):
		return models.SeverityHigh
	default:
		return models.SeverityMedium
	}
}

// LiquidityDropPercent computes how far current fell below previous, in
// percent. Growth yields a negative value.
func LiquidityDropPercent(previous, current decimal.Decimal) decimal.Decimal {
	if !previous.IsPositive() {
		return decimal.Zero
	}
	return previous.Sub(current).Mul(decimal.NewFromInt(100)).Div(previous)
}

const (
	getPairSelector   = "0xe6a43905" // getPair(address,address)
	balanceOfSelector = "0x70a08231" // balanceOf(address)
)

// UniswapV2Locator resolves pools through a v2-style factory's getPair and
// reads reserves as token balances held by the pair contract. USD value is
// derived from the quote-side reserve and a configured quote price.
type UniswapV2Locator struct {
	client       chain.Reader
	factory      string
	quoteToken   string // pool counter-asset, usually wrapped native
	quoteUsd     decimal.Decimal
	quoteDecimal int32
}

// NewUniswapV2Locator creates a pool locator against one factory.
func NewUniswapV2Locator(client chain.Reader, factory, quoteToken string, quoteUsd decimal.Decimal, quoteDecimals int32) *UniswapV2Locator {
	return &UniswapV2Locator{
		client:       client,
		factory:      factory,
		quoteToken:   quoteToken,
		quoteUsd:     quoteUsd,
		quoteDecimal: quoteDecimals,
	}
}

// Locate resolves the token/quote pair and reads both side balances.
func (l *UniswapV2Locator) Locate(ctx context.Context, token string) (*PoolInfo, error) {
	data := getPairSelector + encodeAddress(token) + encodeAddress(l.quoteToken)
	raw, err := l.client.CallContract(ctx, l.factory, data)
	if err != nil {
		return nil, fmt.Errorf("getPair call failed: %w", err)
	}
	pool := decodeAddress(raw)
	if pool == "" || pool == chain.ZeroAddress {
		return nil, ErrNoPool
	}

	tokenBal, err := l.balanceOf(ctx, token, pool)
	if err != nil {
		return nil, err
	}
	quoteBal, err := l.balanceOf(ctx, l.quoteToken, pool)
	if err != nil {
		return nil, err
	}

	quoteUnits := quoteBal.Shift(-l.quoteDecimal)
	return &PoolInfo{
		PoolAddress:    pool,
		LiquidityToken: tokenBal,
		LiquidityEth:   quoteUnits,
		// the quote side is half the pool, so double it for total depth
		LiquidityUsd: quoteUnits.Mul(l.quoteUsd).Mul(decimal.NewFromInt(2)),
	}, nil
}

func (l *UniswapV2Locator) balanceOf(ctx context.Context, token, holder string) (decimal.Decimal, error) {
	raw, err := l.client.CallContract(ctx, token, balanceOfSelector+encodeAddress(holder))
	if err != nil {
		return decimal.Zero, fmt.Errorf("balanceOf call failed: %w", err)
	}
	bal, err := chain.HexToBig(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("bad balanceOf result %q: %w", raw, err)
	}
	return decimal.NewFromBigInt(bal, 0), nil
}

// encodeAddress left-pads an address to a 32-byte ABI word, no 0x prefix.
func encodeAddress(addr string) string {
	hex := strings.ToLower(strings.TrimPrefix(addr, "0x"))
	return strings.Repeat("0", 64-len(hex)) + hex
}

// decodeAddress extracts an address from a 32-byte ABI return word.
func decodeAddress(word string) string {
	hex := strings.ToLower(strings.TrimPrefix(word, "0x"))
	if len(hex) < 40 {
		return ""
	}
	return "0x" + hex[len(hex)-40:]
}
