package services

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/launchsentry/launchsentry/internal/chain"
	"github.com/launchsentry/launchsentry/internal/config"
	"github.com/launchsentry/launchsentry/internal/models"
)

// CoverageLaunchStore counts stored detections for a window.
type CoverageLaunchStore interface {
	CountLaunchesInWindow(ctx context.Context, chain, venue string, start, end time.Time) (int, error)
}

// CoverageResultWriter appends verification runs.
type CoverageResultWriter interface {
	InsertCoverageResult(ctx context.Context, result *models.CoverageResult) error
}

// CoverageVerifier estimates ground-truth launch counts per venue and
// compares them against what the connectors actually stored.
//
// The estimate counts every distinct transaction that emitted a log from a
// configured factory address, whether or not it produced a token. That
// overcounts launch attempts, but downstream dashboards depend on the
// percentage keeping those semantics, so it is preserved as a documented
// approximation.
type CoverageVerifier struct {
	venues   []config.VenueConfig
	clients  map[string]chain.Reader
	launches CoverageLaunchStore
	results  CoverageResultWriter
	signals  *SignalService
	window   time.Duration
	logger   *logrus.Logger
}

// NewCoverageVerifier creates the hourly coverage job. clients is keyed by
// venue id.
func NewCoverageVerifier(
	venues []config.VenueConfig,
	clients map[string]chain.Reader,
	launches CoverageLaunchStore,
	results CoverageResultWriter,
	signals *SignalService,
	window time.Duration,
	logger *logrus.Logger,
) *CoverageVerifier {
	if window <= 0 {
		window = time.Hour
	}
	return &CoverageVerifier{
		venues:   venues,
		clients:  clients,
		launches: launches,
		results:  results,
		signals:  signals,
		window:   window,
		logger:   logger,
	}
}

// Run verifies every venue once. Per-venue failures are logged and the
// batch continues.
func (v *CoverageVerifier) Run(ctx context.Context) error {
	for _, venue := range v.venues {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := v.verifyVenue(ctx, venue); err != nil {
			v.logger.WithFields(logrus.Fields{
				"job":   "coverage",
				"venue": venue.ID,
			}).WithError(err).Warn("Venue verification failed, continuing")
		}
	}
	return nil
}

func (v *CoverageVerifier) verifyVenue(ctx context.Context, venue config.VenueConfig) error {
	client, ok := v.clients[venue.ID]
	if !ok {
		return fmt.Errorf("no chain client for venue %s", venue.ID)
	}

	windowEnd := time.Now().UTC()
	windowStart := windowEnd.Add(-v.window)

	blockStart, blockEnd, err := v.windowBlocks(ctx, client)
	if err != nil {
		return err
	}

	estimated, err := v.estimateLaunches(ctx, client, venue.FactoryAddresses, blockStart, blockEnd)
	if err != nil {
		return err
	}

	detected, err := v.launches.CountLaunchesInWindow(ctx, venue.Chain, venue.Venue, windowStart, windowEnd)
	if err != nil {
		return fmt.Errorf("failed to count detections: %w", err)
	}

	result := &models.CoverageResult{
		Chain:           venue.Chain,
		Venue:           venue.Venue,
		WindowStart:     windowStart,
		WindowEnd:       windowEnd,
		DetectedCount:   detected,
		EstimatedTotal:  estimated,
		CoveragePercent: CoveragePercent(detected, estimated),
		BlockStart:      blockStart,
		BlockEnd:        blockEnd,
	}
	if err := v.results.InsertCoverageResult(ctx, result); err != nil {
		return err
	}

	v.logger.WithFields(logrus.Fields{
		"venue":     venue.ID,
		"detected":  detected,
		"estimated": estimated,
		"coverage":  result.CoveragePercent.String(),
	}).Info("Coverage verified")

	// only alert on meaningful gaps
	if estimated > 0 && result.CoveragePercent.LessThan(decimal.NewFromInt(80)) {
		_, err := v.signals.Create(ctx, models.SignalInput{
			Severity:   models.SeverityMedium,
			SignalType: models.SignalCoverageReport,
			Title:      fmt.Sprintf("Coverage gap on %s", venue.Venue),
			Summary: fmt.Sprintf("Detected %d of ~%d launches on %s/%s (%s%%)",
				detected, estimated, venue.Chain, venue.Venue, result.CoveragePercent.StringFixed(1)),
			Chain:      venue.Chain,
			StrategyID: "job:coverage",
			Evidence: map[string]interface{}{
				"detectedCount":   detected,
				"estimatedTotal":  estimated,
				"coveragePercent": result.CoveragePercent.InexactFloat64(),
				"blockStart":      blockStart,
				"blockEnd":        blockEnd,
			},
			RecommendedAction: "inspect connector health",
		})
		return err
	}
	return nil
}

// windowBlocks maps the time window onto a block range by sampling recent
// block timestamps to estimate the chain's block time.
func (v *CoverageVerifier) windowBlocks(ctx context.Context, client chain.Reader) (uint64, uint64, error) {
	head, err := client.BlockNumber(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read head block: %w", err)
	}

	const sampleDepth = 1000
	sampleFrom := uint64(0)
	if head > sampleDepth {
		sampleFrom = head - sampleDepth
	}

	headBlock, err := client.GetBlock(ctx, head, false)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to fetch head block: %w", err)
	}
	oldBlock, err := client.GetBlock(ctx, sampleFrom, false)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to fetch sample block: %w", err)
	}

	headTs, err := chain.HexToUint64(headBlock.Timestamp)
	if err != nil {
		return 0, 0, err
	}
	oldTs, err := chain.HexToUint64(oldBlock.Timestamp)
	if err != nil {
		return 0, 0, err
	}

	blockTime := 2.0 // sensible default for L2s
	if head > sampleFrom && headTs > oldTs {
		blockTime = float64(headTs-oldTs) / float64(head-sampleFrom)
	}

	blocksInWindow := uint64(v.window.Seconds() / blockTime)
	if blocksInWindow == 0 {
		blocksInWindow = 1
	}
	blockStart := uint64(0)
	if head > blocksInWindow {
		blockStart = head - blocksInWindow
	}
	return blockStart, head, nil
}

// estimateLaunches counts distinct transactions emitting logs from the
// factory addresses in the block range.
func (v *CoverageVerifier) estimateLaunches(ctx context.Context, client chain.Reader, factories []string, fromBlock, toBlock uint64) (int, error) {
	if len(factories) == 0 {
		return 0, nil
	}
	logs, err := client.GetLogs(ctx, factories, nil, fromBlock, toBlock)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch factory logs: %w", err)
	}
	txs := make(map[string]bool)
	for _, lg := range logs {
		if !lg.Removed {
			txs[lg.TransactionHash] = true
		}
	}
	return len(txs), nil
}

// CoveragePercent computes detected/estimated × 100, defined as 100 when
// the estimate is zero.
func CoveragePercent(detected, estimated int) decimal.Decimal {
	if estimated == 0 {
		return decimal.NewFromInt(100)
	}
	return decimal.NewFromInt(int64(detected)).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(int64(estimated)))
}
