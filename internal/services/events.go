package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/launchsentry/launchsentry/internal/chain"
	"github.com/launchsentry/launchsentry/internal/models"
)

// maxPumpBlocksPerRun bounds one catch-up scan so a long gap never turns
// into an unbounded log query.
const maxPumpBlocksPerRun = 2000

// EventPump polls transfer logs touching the scheduler's watched wallets
// and replays them as normalized chain events. It keeps its cursor in
// memory: after a restart it resumes from the current head, matching the
// at-least-once-while-running delivery the strategies are built for.
type EventPump struct {
	chainID   string
	client    chain.Reader
	scheduler *StrategyScheduler
	logger    *logrus.Logger

	cursor uint64
}

// NewEventPump creates a transfer-event pump for one chain.
func NewEventPump(chainID string, client chain.Reader, scheduler *StrategyScheduler, logger *logrus.Logger) *EventPump {
	return &EventPump{
		chainID:   chainID,
		client:    client,
		scheduler: scheduler,
		logger:    logger,
	}
}

// Run scans from the cursor to the head and fans matched transfers to the
// scheduler. The first run only anchors the cursor at the head.
func (p *EventPump) Run(ctx context.Context) error {
	head, err := p.client.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("failed to read head block: %w", err)
	}

	if p.cursor == 0 || head <= p.cursor {
		p.cursor = head
		return nil
	}

	from := p.cursor + 1
	to := head
	if to-from >= maxPumpBlocksPerRun {
		to = from + maxPumpBlocksPerRun - 1
	}

	wallets := p.scheduler.WatchedWallets()
	if len(wallets) == 0 {
		p.cursor = to
		return nil
	}

	topics := make([]string, len(wallets))
	for i, w := range wallets {
		topics[i] = walletTopic(w)
	}

	// two scans: wallets as sender, wallets as receiver
	outgoing, err := p.client.GetLogs(ctx, nil,
		[][]string{{chain.TransferTopic}, topics}, from, to)
	if err != nil {
		return fmt.Errorf("failed to scan outgoing transfers: %w", err)
	}
	incoming, err := p.client.GetLogs(ctx, nil,
		[][]string{{chain.TransferTopic}, nil, topics}, from, to)
	if err != nil {
		return fmt.Errorf("failed to scan incoming transfers: %w", err)
	}

	delivered := make(map[string]bool)
	for _, lg := range append(outgoing, incoming...) {
		event, ok := transferToEvent(p.chainID, lg)
		if !ok {
			continue
		}
		key := lg.TransactionHash + ":" + lg.LogIndex
		if delivered[key] {
			continue
		}
		delivered[key] = true
		p.scheduler.ProcessEvent(ctx, event)
	}

	if len(delivered) > 0 {
		p.logger.WithFields(logrus.Fields{
			"chain":  p.chainID,
			"events": len(delivered),
			"blocks": to - from + 1,
		}).Debug("Pumped wallet transfer events")
	}
	p.cursor = to
	return nil
}

func transferToEvent(chainID string, lg chain.Log) (models.ChainEvent, bool) {
	if len(lg.Topics) < 3 || lg.Removed {
		return models.ChainEvent{}, false
	}
	amount, err := chain.HexToBig(lg.Data)
	if err != nil {
		return models.ChainEvent{}, false
	}
	blockNumber, err := chain.HexToUint64(lg.BlockNumber)
	if err != nil {
		return models.ChainEvent{}, false
	}
	return models.ChainEvent{
		Chain:        chainID,
		Kind:         "transfer",
		TokenAddress: strings.ToLower(lg.Address),
		From:         chain.TopicToAddress(lg.Topics[1]),
		To:           chain.TopicToAddress(lg.Topics[2]),
		Amount:       decimal.NewFromBigInt(amount, 0),
		TxHash:       lg.TransactionHash,
		BlockNumber:  blockNumber,
		Timestamp:    time.Now().UTC(),
	}, true
}

// walletTopic pads an address into a 32-byte topic.
func walletTopic(addr string) string {
	hex := strings.ToLower(strings.TrimPrefix(addr, "0x"))
	return "0x" + strings.Repeat("0", 64-len(hex)) + hex
}
