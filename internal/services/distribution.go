package services

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/launchsentry/launchsentry/internal/chain"
	"github.com/launchsentry/launchsentry/internal/database"
	"github.com/launchsentry/launchsentry/internal/models"
)

// DistributionLaunchStore lists recent launches for analysis.
type DistributionLaunchStore interface {
	ListLaunchesSince(ctx context.Context, chain string, since time.Time) ([]models.DetectedLaunch, error)
}

// HolderSnapshotStore persists holder analyses, answers window checks and
// serves the previous measurement for trend comparison.
type HolderSnapshotStore interface {
	InsertHolderSnapshot(ctx context.Context, snapshot *models.HolderSnapshot) error
	HolderSnapshotExistsSince(ctx context.Context, chain, token string, since time.Time) (bool, error)
	LatestHolderSnapshot(ctx context.Context, chain, token string) (*models.HolderSnapshot, error)
}

// DistributionThresholds holds the analyzer alert thresholds in percent.
type DistributionThresholds struct {
	Top10Percent   decimal.Decimal
	CreatorPercent decimal.Decimal
}

// DistributionAnalyzer reconstructs holder balances for recently launched
// tokens by replaying transfer logs and scores concentration risk.
type DistributionAnalyzer struct {
	chainID    string
	client     chain.Reader
	launches   DistributionLaunchStore
	snapshots  HolderSnapshotStore
	signals    *SignalService
	window     time.Duration
	thresholds DistributionThresholds
	logger     *logrus.Logger
}

// NewDistributionAnalyzer creates the holder-concentration job for one
// chain.
func NewDistributionAnalyzer(
	chainID string,
	client chain.Reader,
	launches DistributionLaunchStore,
	snapshots HolderSnapshotStore,
	signals *SignalService,
	window time.Duration,
	thresholds DistributionThresholds,
	logger *logrus.Logger,
) *DistributionAnalyzer {
	if window <= 0 {
		window = 24 * time.Hour
	}
	return &DistributionAnalyzer{
		chainID:    chainID,
		client:     client,
		launches:   launches,
		snapshots:  snapshots,
		signals:    signals,
		window:     window,
		thresholds: thresholds,
		logger:     logger,
	}
}

// Run analyzes every token launched within the window that has not been
// snapshotted in the current window yet. Per-token failures are logged and
// the batch continues.
func (a *DistributionAnalyzer) Run(ctx context.Context) error {
	since := time.Now().UTC().Add(-a.window)
	launches, err := a.launches.ListLaunchesSince(ctx, a.chainID, since)
	if err != nil {
		return fmt.Errorf("failed to list recent launches: %w", err)
	}

	for _, launch := range launches {
		if err := ctx.Err(); err != nil {
			return err
		}

		analyzed, err := a.snapshots.HolderSnapshotExistsSince(ctx, a.chainID, launch.TokenAddress, since)
		if err != nil {
			a.logger.WithField("token", launch.TokenAddress).WithError(err).Warn("Window check failed, skipping token")
			continue
		}
		if analyzed {
			continue
		}

		if err := a.analyzeToken(ctx, &launch); err != nil {
			a.logger.WithFields(logrus.Fields{
				"job":   "distribution",
				"token": launch.TokenAddress,
			}).WithError(err).Warn("Token analysis failed, continuing")
		}
	}
	return nil
}

func (a *DistributionAnalyzer) analyzeToken(ctx context.Context, launch *models.DetectedLaunch) error {
	head, err := a.client.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("failed to read head block: %w", err)
	}

	logs, err := a.client.GetLogs(ctx,
		[]string{launch.TokenAddress},
		[][]string{{chain.TransferTopic}},
		launch.BlockNumber, head)
	if err != nil {
		return fmt.Errorf("failed to fetch transfer logs: %w", err)
	}

	dist := ReplayTransfers(logs)
	if dist.TotalMinted.Sign() <= 0 {
		return fmt.Errorf("token %s has no mints to analyze", launch.TokenAddress)
	}

	snapshot := dist.Snapshot(a.chainID, launch.TokenAddress, launch.CreatorAddress)

	previous, err := a.snapshots.LatestHolderSnapshot(ctx, a.chainID, launch.TokenAddress)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return fmt.Errorf("failed to load previous snapshot: %w", err)
	}

	if err := a.snapshots.InsertHolderSnapshot(ctx, snapshot); err != nil {
		return fmt.Errorf("failed to persist holder snapshot: %w", err)
	}

	if snapshot.Top10Percent.GreaterThanOrEqual(a.thresholds.Top10Percent) ||
		snapshot.CreatorPercent.GreaterThanOrEqual(a.thresholds.CreatorPercent) {
		evidence := map[string]interface{}{
			"top10Percent":       snapshot.Top10Percent.InexactFloat64(),
			"top20Percent":       snapshot.Top20Percent.InexactFloat64(),
			"creatorPercent":     snapshot.CreatorPercent.InexactFloat64(),
			"holderCount":        snapshot.HolderCount,
			"concentrationScore": snapshot.ConcentrationScore.InexactFloat64(),
		}
		if previous != nil {
			evidence["previousScore"] = previous.ConcentrationScore.InexactFloat64()
			evidence["scoreDelta"] = snapshot.ConcentrationScore.Sub(previous.ConcentrationScore).InexactFloat64()
		}
		_, err := a.signals.Create(ctx, models.SignalInput{
			Severity:   concentrationSeverity(snapshot),
			SignalType: models.SignalConcentration,
			Title:      "Concentrated holder distribution",
			Summary: fmt.Sprintf("Top 10 hold %s%% of %s; creator holds %s%% (%d holders)",
				snapshot.Top10Percent.StringFixed(1), launch.TokenAddress,
				snapshot.CreatorPercent.StringFixed(1), snapshot.HolderCount),
			Token:             launch.TokenAddress,
			Chain:             a.chainID,
			StrategyID:        "job:distribution",
			Evidence:          evidence,
			RecommendedAction: "avoid",
		})
		return err
	}
	return nil
}

func concentrationSeverity(s *models.HolderSnapshot) models.Severity {
	switch {
	case s.Top10Percent.GreaterThanOrEqual(decimal.NewFromInt(80)) ||
		s.CreatorPercent.GreaterThanOrEqual(decimal.NewFromInt(60)):
		return models.SeverityCritical
	case s.Top10Percent.GreaterThanOrEqual(decimal.NewFromInt(60)) ||
		s.CreatorPercent.GreaterThanOrEqual(decimal.NewFromInt(40)):
		return models.SeverityHigh
	default:
		return models.SeverityMedium
	}
}

// Distribution is a reconstructed holder balance table.
type Distribution struct {
	Balances    map[string]*big.Int
	TotalMinted *big.Int
}

// ReplayTransfers rebuilds holder balances from transfer logs in order.
// Transfers from the zero address are mints accumulating TotalMinted;
// otherwise the sender is debited and the receiver credited. Non-positive
// balances are discarded.
func ReplayTransfers(logs []chain.Log) *Distribution {
	dist := &Distribution{
		Balances:    make(map[string]*big.Int),
		TotalMinted: new(big.Int),
	}
	for _, lg := range logs {
		if len(lg.Topics) < 3 || lg.Topics[0] != chain.TransferTopic || lg.Removed {
			continue
		}
		amount, err := chain.HexToBig(lg.Data)
		if err != nil || amount.Sign() <= 0 {
			continue
		}
		from := chain.TopicToAddress(lg.Topics[1])
		to := chain.TopicToAddress(lg.Topics[2])

		if from == chain.ZeroAddress {
			dist.TotalMinted.Add(dist.TotalMinted, amount)
		} else {
			dist.debit(from, amount)
		}
		if to != chain.ZeroAddress {
			dist.credit(to, amount)
		}
	}

	for addr, bal := range dist.Balances {
		if bal.Sign() <= 0 {
			delete(dist.Balances, addr)
		}
	}
	return dist
}

func (d *Distribution) debit(addr string, amount *big.Int) {
	bal, ok := d.Balances[addr]
	if !ok {
		bal = new(big.Int)
		d.Balances[addr] = bal
	}
	bal.Sub(bal, amount)
}

func (d *Distribution) credit(addr string, amount *big.Int) {
	bal, ok := d.Balances[addr]
	if !ok {
		bal = new(big.Int)
		d.Balances[addr] = bal
	}
	bal.Add(bal, amount)
}

// Snapshot ranks holders and computes the concentration metrics.
func (d *Distribution) Snapshot(chainID, token, creator string) *models.HolderSnapshot {
	type holder struct {
		addr string
		bal  *big.Int
	}
	holders := make([]holder, 0, len(d.Balances))
	for addr, bal := range d.Balances {
		holders = append(holders, holder{addr, bal})
	}
	sort.Slice(holders, func(i, j int) bool {
		return holders[i].bal.Cmp(holders[j].bal) > 0
	})

	total := decimal.NewFromBigInt(d.TotalMinted, 0)
	sumTop := func(n int) decimal.Decimal {
		if n > len(holders) {
			n = len(holders)
		}
		sum := new(big.Int)
		for i := 0; i < n; i++ {
			sum.Add(sum, holders[i].bal)
		}
		return percentOf(decimal.NewFromBigInt(sum, 0), total)
	}

	creatorBal := new(big.Int)
	if bal, ok := d.Balances[strings.ToLower(creator)]; ok {
		creatorBal = bal
	}

	snapshot := &models.HolderSnapshot{
		Chain:          chainID,
		TokenAddress:   token,
		Top10Percent:   sumTop(10),
		Top20Percent:   sumTop(20),
		CreatorPercent: percentOf(decimal.NewFromBigInt(creatorBal, 0), total),
		HolderCount:    len(holders),
		TotalSupply:    total,
	}
	snapshot.ConcentrationScore = ConcentrationScore(
		snapshot.Top10Percent, snapshot.CreatorPercent, snapshot.HolderCount)
	return snapshot
}

// ConcentrationScore is the bounded [0,100] rug-risk heuristic:
// min(100, 0.5·top10 + 2·creator + 0.3·(100−min(holders,100))).
func ConcentrationScore(top10, creator decimal.Decimal, holderCount int) decimal.Decimal {
	holders := holderCount
	if holders > 100 {
		holders = 100
	}
	score := top10.Mul(decimal.NewFromFloat(0.5)).
		Add(creator.Mul(decimal.NewFromInt(2))).
		Add(decimal.NewFromInt(int64(100 - holders)).Mul(decimal.NewFromFloat(0.3)))

	hundred := decimal.NewFromInt(100)
	if score.GreaterThan(hundred) {
		return hundred
	}
	if score.IsNegative() {
		return decimal.Zero
	}
	return score
}

func percentOf(part, total decimal.Decimal) decimal.Decimal {
	if total.IsZero() {
		return decimal.Zero
	}
	return part.Mul(decimal.NewFromInt(100)).Div(total)
}
