package services

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/launchsentry/launchsentry/internal/chain"
	"github.com/launchsentry/launchsentry/internal/database"
	"github.com/launchsentry/launchsentry/internal/models"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// fakeSignalStore records persisted signals.
type fakeSignalStore struct {
	mu      sync.Mutex
	signals []*models.Signal
	acked   []string
	fail    bool
}

func (s *fakeSignalStore) CreateSignal(ctx context.Context, sig *models.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return fmt.Errorf("store down")
	}
	s.signals = append(s.signals, sig)
	return nil
}

func (s *fakeSignalStore) AcknowledgeSignal(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sig := range s.signals {
		if sig.ID == id {
			sig.Acknowledged = true
			s.acked = append(s.acked, id)
			return nil
		}
	}
	return database.ErrNotFound
}

func (s *fakeSignalStore) ListSignals(ctx context.Context, filter models.SignalFilter, limit, offset int) ([]models.Signal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Signal, 0, len(s.signals))
	for _, sig := range s.signals {
		if filter.SignalType != "" && sig.SignalType != filter.SignalType {
			continue
		}
		out = append(out, *sig)
	}
	return out, nil
}

func (s *fakeSignalStore) created() []*models.Signal {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Signal, len(s.signals))
	copy(out, s.signals)
	return out
}

func newTestSignals(store *fakeSignalStore) *SignalService {
	return NewSignalService(store, 200*time.Millisecond, testLogger())
}

// fakeChainReader serves canned chain data.
type fakeChainReader struct {
	mu       sync.Mutex
	chainID  string
	head     uint64
	blocks   map[uint64]*chain.Block
	logs     []chain.Log
	logsErr  error
	calls    map[string]string // call data -> return word
	callsErr error
}

func newFakeChainReader(chainID string, head uint64) *fakeChainReader {
	return &fakeChainReader{
		chainID: chainID,
		head:    head,
		blocks:  make(map[uint64]*chain.Block),
		calls:   make(map[string]string),
	}
}

func (f *fakeChainReader) Chain() string { return f.chainID }

func (f *fakeChainReader) BlockNumber(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.head, nil
}

func (f *fakeChainReader) GetLogs(ctx context.Context, addresses []string, topics [][]string, fromBlock, toBlock uint64) ([]chain.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.logsErr != nil {
		return nil, f.logsErr
	}
	out := make([]chain.Log, len(f.logs))
	copy(out, f.logs)
	return out, nil
}

func (f *fakeChainReader) GetBlock(ctx context.Context, number uint64, withTxs bool) (*chain.Block, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.blocks[number]; ok {
		return b, nil
	}
	return nil, fmt.Errorf("block %d not found", number)
}

func (f *fakeChainReader) GetTransactionReceipt(ctx context.Context, txHash string) (*chain.Receipt, error) {
	return nil, fmt.Errorf("receipt %s not found", txHash)
}

func (f *fakeChainReader) CallContract(ctx context.Context, to, data string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.callsErr != nil {
		return "", f.callsErr
	}
	if result, ok := f.calls[to+":"+data]; ok {
		return result, nil
	}
	return "0x" + zeroWord, nil
}

const zeroWord = "0000000000000000000000000000000000000000000000000000000000000000"

// encodeUint renders a 32-byte ABI word, no 0x prefix.
func encodeUint(n uint64) string {
	return fmt.Sprintf("%064x", n)
}

// fakeLaunchLister serves recent launches.
type fakeLaunchLister struct {
	launches []models.DetectedLaunch
}

func (f *fakeLaunchLister) ListLaunchesSince(ctx context.Context, chainID string, since time.Time) ([]models.DetectedLaunch, error) {
	return f.launches, nil
}
