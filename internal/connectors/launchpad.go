// Package connectors scans launch venues for newly created tokens and owns
// connector lifecycles.
package connectors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/launchsentry/launchsentry/internal/chain"
	"github.com/launchsentry/launchsentry/internal/models"
)

// DetectionHandler receives each newly detected token. Handler failures are
// logged by the connector and never abort the poll loop.
type DetectionHandler func(ctx context.Context, launch *models.DetectedLaunch) error

// CursorHandler is invoked after each successful scan with the new cursor.
type CursorHandler func(ctx context.Context, connectorID string, cursor uint64) error

// LaunchpadConfig configures one venue scanner.
type LaunchpadConfig struct {
	ID               string
	Venue            string
	Chain            string
	FactoryAddresses []string
	PollInterval     time.Duration
	MaxBlocksPerScan uint64
}

// ScanStats summarizes connector progress for health reporting.
type ScanStats struct {
	Polls         int
	BlocksScanned uint64
	Detections    int
	FailedPolls   int
}

// maxConsecutivePollFailures is how many polls in a row may fail before
// the connector gives up and transitions to the error state. A restart via
// Start clears it.
const maxConsecutivePollFailures = 5

// defaultSeenLimit caps the connector-local dedup set. The registry's
// shared cache and the launch upsert still dedup across evictions.
const defaultSeenLimit = 10000

// LaunchpadConnector polls one chain venue for token launches. State
// machine: stopped → running → {stopped, error}. Cursor advancement is
// strictly sequential; there is never more than one in-flight poll.
type LaunchpadConnector struct {
	cfg       LaunchpadConfig
	client    chain.Reader
	logger    *logrus.Logger
	factories map[string]bool

	onDetection DetectionHandler
	onCursor    CursorHandler

	mu               sync.Mutex
	status           models.ConnectorStatus
	cursor           uint64
	lastErr          error
	stats            ScanStats
	seen             map[string]bool
	seenLimit        int
	consecutiveFails int
	cancel           context.CancelFunc
	done             chan struct{}
}

// NewLaunchpad creates a connector in the stopped state.
func NewLaunchpad(cfg LaunchpadConfig, client chain.Reader, logger *logrus.Logger) *LaunchpadConnector {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.MaxBlocksPerScan == 0 {
		cfg.MaxBlocksPerScan = 1000
	}
	factories := make(map[string]bool, len(cfg.FactoryAddresses))
	for _, addr := range cfg.FactoryAddresses {
		factories[strings.ToLower(addr)] = true
	}
	return &LaunchpadConnector{
		cfg:       cfg,
		client:    client,
		logger:    logger,
		factories: factories,
		status:    models.ConnectorStopped,
		seen:      make(map[string]bool),
		seenLimit: defaultSeenLimit,
	}
}

// OnDetection registers the detection subscriber. Must be called before
// Start.
func (c *LaunchpadConnector) OnDetection(h DetectionHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDetection = h
}

// OnCursorAdvance registers the cursor persistence hook. Must be called
// before Start.
func (c *LaunchpadConnector) OnCursorAdvance(h CursorHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onCursor = h
}

// ID returns the connector id.
func (c *LaunchpadConnector) ID() string { return c.cfg.ID }

// Start begins the polling loop from the given block. Returns an error if
// the connector is already running.
func (c *LaunchpadConnector) Start(ctx context.Context, fromBlock uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status == models.ConnectorRunning {
		return fmt.Errorf("connector %s is already running", c.cfg.ID)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.cursor = fromBlock
	c.status = models.ConnectorRunning
	c.lastErr = nil
	c.consecutiveFails = 0

	go c.loop(loopCtx)

	c.logger.WithFields(logrus.Fields{
		"connector":  c.cfg.ID,
		"venue":      c.cfg.Venue,
		"chain":      c.cfg.Chain,
		"from_block": fromBlock,
	}).Info("Connector started")
	return nil
}

// Stop cancels the poll loop and waits for in-flight work to reach a safe
// point. Stopping a stopped connector is a no-op.
func (c *LaunchpadConnector) Stop() {
	c.mu.Lock()
	if c.status != models.ConnectorRunning {
		c.mu.Unlock()
		return
	}
	cancel := c.cancel
	done := c.done
	c.mu.Unlock()

	cancel()
	<-done

	c.mu.Lock()
	c.status = models.ConnectorStopped
	c.mu.Unlock()

	c.logger.WithField("connector", c.cfg.ID).Info("Connector stopped")
}

// State returns the registry's view of this connector.
func (c *LaunchpadConnector) State() models.ConnectorState {
	c.mu.Lock()
	defer c.mu.Unlock()

	state := models.ConnectorState{
		ID:        c.cfg.ID,
		Kind:      models.ConnectorKindLaunchpad,
		Venue:     c.cfg.Venue,
		Chain:     c.cfg.Chain,
		Status:    c.status,
		Cursor:    fmt.Sprintf("%d", c.cursor),
		UpdatedAt: time.Now().UTC(),
	}
	if c.lastErr != nil {
		state.LastError = c.lastErr.Error()
	}
	switch {
	case c.status == models.ConnectorErrored:
		state.Health = models.HealthError
	case c.status == models.ConnectorStopped:
		state.Health = models.HealthOffline
	case c.lastErr != nil:
		state.Health = models.HealthDegraded
	default:
		state.Health = models.HealthConnected
	}
	return state
}

// Stats returns a copy of the scan counters.
func (c *LaunchpadConnector) Stats() ScanStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Cursor returns the current resume position.
func (c *LaunchpadConnector) Cursor() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cursor
}

func (c *LaunchpadConnector) loop(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	// first poll immediately rather than one interval in
	if !c.pollOnce(ctx) {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !c.pollOnce(ctx) {
				return
			}
		}
	}
}

// pollOnce runs one poll and reports whether the loop should keep going.
// Too many consecutive failures flip the connector to the error state and
// end the loop; a later Start resets it.
func (c *LaunchpadConnector) pollOnce(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}

	err := c.poll(ctx)

	c.mu.Lock()
	c.stats.Polls++
	if err != nil && !errors.Is(err, context.Canceled) {
		c.stats.FailedPolls++
		c.lastErr = err
		c.consecutiveFails++
	} else if err == nil {
		c.lastErr = nil
		c.consecutiveFails = 0
	}
	errored := c.consecutiveFails >= maxConsecutivePollFailures
	var cancel context.CancelFunc
	if errored {
		c.status = models.ConnectorErrored
		cancel = c.cancel
	}
	c.mu.Unlock()

	if err != nil && !errors.Is(err, context.Canceled) {
		c.logger.WithField("connector", c.cfg.ID).WithError(err).Warn("Poll failed")
	}
	if errored {
		c.logger.WithFields(logrus.Fields{
			"connector": c.cfg.ID,
			"failures":  maxConsecutivePollFailures,
		}).Error("Consecutive poll failures exhausted, connector errored")
		if cancel != nil {
			cancel()
		}
	}
	return !errored
}

// poll runs one scan. The cursor advances to toBlock only when the scan
// completes without a fatal error; per-chunk provider failures inside
// GetLogs are recorded upstream and do not block advancement, since
// coverage jobs audit completeness independently.
func (c *LaunchpadConnector) poll(ctx context.Context) error {
	head, err := c.client.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("failed to read head block: %w", err)
	}

	c.mu.Lock()
	cursor := c.cursor
	c.mu.Unlock()

	fromBlock := cursor + 1
	if fromBlock > head {
		return nil
	}
	toBlock := cursor + c.cfg.MaxBlocksPerScan
	if toBlock > head {
		toBlock = head
	}

	// two independent detection modes over the same range
	var eventHits, receiptHits []*models.DetectedLaunch
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		eventHits, err = c.scanEvents(gctx, fromBlock, toBlock)
		return err
	})
	g.Go(func() error {
		var err error
		receiptHits, err = c.scanReceipts(gctx, fromBlock, toBlock)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	merged := c.merge(receiptHits, eventHits)

	c.mu.Lock()
	if toBlock > c.cursor {
		c.cursor = toBlock
	}
	c.stats.BlocksScanned += toBlock - fromBlock + 1
	c.stats.Detections += len(merged)
	onDetection := c.onDetection
	onCursor := c.onCursor
	c.mu.Unlock()

	for _, launch := range merged {
		if onDetection == nil {
			break
		}
		if err := onDetection(ctx, launch); err != nil {
			c.logger.WithFields(logrus.Fields{
				"connector": c.cfg.ID,
				"token":     launch.TokenAddress,
			}).WithError(err).Warn("Detection handler failed")
		}
	}

	if onCursor != nil {
		if err := onCursor(ctx, c.cfg.ID, toBlock); err != nil {
			c.logger.WithField("connector", c.cfg.ID).WithError(err).Warn("Cursor persistence failed")
		}
	}

	c.logger.WithFields(logrus.Fields{
		"connector":  c.cfg.ID,
		"from_block": fromBlock,
		"to_block":   toBlock,
		"detections": len(merged),
	}).Debug("Scan completed")
	return nil
}

// scanEvents filters the range for ERC-20 mint transfers (from the zero
// address). The emitting contract is the token.
func (c *LaunchpadConnector) scanEvents(ctx context.Context, fromBlock, toBlock uint64) ([]*models.DetectedLaunch, error) {
	topics := [][]string{
		{chain.TransferTopic},
		{chain.ZeroTopicAddress},
	}
	logs, err := c.client.GetLogs(ctx, nil, topics, fromBlock, toBlock)
	if err != nil {
		return nil, fmt.Errorf("event scan failed: %w", err)
	}

	byToken := make(map[string]*models.DetectedLaunch)
	for _, lg := range logs {
		if len(lg.Topics) < 3 || lg.Removed {
			continue
		}
		token := strings.ToLower(lg.Address)
		if _, ok := byToken[token]; ok {
			continue
		}
		blockNumber, err := chain.HexToUint64(lg.BlockNumber)
		if err != nil {
			continue
		}
		byToken[token] = &models.DetectedLaunch{
			TokenAddress:   token,
			CreatorAddress: chain.TopicToAddress(lg.Topics[2]),
			Chain:          c.cfg.Chain,
			TxHash:         lg.TransactionHash,
			BlockNumber:    blockNumber,
			Venue:          c.cfg.Venue,
			Meta:           map[string]string{"detection_mode": "event"},
		}
	}

	out := make([]*models.DetectedLaunch, 0, len(byToken))
	for _, l := range byToken {
		out = append(out, l)
	}
	return out, nil
}

// scanReceipts walks block transactions addressed to a configured factory
// and inspects their receipts for a created contract or a qualifying mint
// log. Per-block failures are logged and skipped.
func (c *LaunchpadConnector) scanReceipts(ctx context.Context, fromBlock, toBlock uint64) ([]*models.DetectedLaunch, error) {
	if len(c.factories) == 0 {
		return nil, nil
	}

	var out []*models.DetectedLaunch
	for n := fromBlock; n <= toBlock; n++ {
		if err := ctx.Err(); err != nil {
			return out, err
		}

		block, err := c.client.GetBlock(ctx, n, true)
		if err != nil {
			c.logger.WithFields(logrus.Fields{
				"connector": c.cfg.ID,
				"block":     n,
			}).WithError(err).Warn("Block fetch failed, skipping")
			continue
		}

		var blockTime *time.Time
		if ts, err := chain.HexToUint64(block.Timestamp); err == nil {
			t := time.Unix(int64(ts), 0).UTC()
			blockTime = &t
		}

		for _, tx := range block.Transactions {
			if !c.factories[strings.ToLower(tx.To)] {
				continue
			}
			launch, err := c.inspectReceipt(ctx, &tx, n, blockTime)
			if err != nil {
				c.logger.WithFields(logrus.Fields{
					"connector": c.cfg.ID,
					"tx":        tx.Hash,
				}).WithError(err).Warn("Receipt inspection failed, skipping")
				continue
			}
			if launch != nil {
				out = append(out, launch)
			}
		}
	}
	return out, nil
}

func (c *LaunchpadConnector) inspectReceipt(ctx context.Context, tx *chain.Transaction, blockNumber uint64, blockTime *time.Time) (*models.DetectedLaunch, error) {
	receipt, err := c.client.GetTransactionReceipt(ctx, tx.Hash)
	if err != nil {
		return nil, err
	}
	if !receipt.Succeeded() {
		return nil, nil
	}

	token := strings.ToLower(receipt.ContractAddress)
	if token == "" || token == chain.ZeroAddress {
		// factory calls often create the token internally; fall back to the
		// first mint log in the receipt
		token = ""
		for _, lg := range receipt.Logs {
			if len(lg.Topics) >= 3 && lg.Topics[0] == chain.TransferTopic && lg.Topics[1] == chain.ZeroTopicAddress {
				token = strings.ToLower(lg.Address)
				break
			}
		}
	}
	if token == "" {
		return nil, nil
	}

	return &models.DetectedLaunch{
		TokenAddress:   token,
		CreatorAddress: strings.ToLower(tx.From),
		FactoryAddress: strings.ToLower(tx.To),
		Chain:          c.cfg.Chain,
		TxHash:         tx.Hash,
		BlockNumber:    blockNumber,
		BlockTimestamp: blockTime,
		Venue:          c.cfg.Venue,
		Meta:           map[string]string{"detection_mode": "receipt"},
	}, nil
}

// merge combines both modes' results, deduplicating by (chain, token).
// Receipt-mode entries win on conflict since they carry creator and factory
// attribution; tokens this connector already reported are dropped. The seen
// set is bounded: once full it resets rather than grow for the process
// lifetime, leaving cross-reset dedup to the registry.
func (c *LaunchpadConnector) merge(primary, secondary []*models.DetectedLaunch) []*models.DetectedLaunch {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []*models.DetectedLaunch
	byKey := make(map[string]bool)
	for _, list := range [][]*models.DetectedLaunch{primary, secondary} {
		for _, launch := range list {
			key := launch.Key()
			if byKey[key] || c.seen[key] {
				continue
			}
			if len(c.seen) >= c.seenLimit {
				c.seen = make(map[string]bool, c.seenLimit)
			}
			byKey[key] = true
			c.seen[key] = true
			out = append(out, launch)
		}
	}
	return out
}
