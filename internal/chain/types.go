package chain

import (
	"fmt"
	"math/big"
	"strings"
)

// Topic0 of an ERC-20 Transfer(address,address,uint256) event.
const TransferTopic = "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"

// ZeroAddress padded to a 32-byte log topic. Transfers from this address
// are mints.
const ZeroTopicAddress = "0x0000000000000000000000000000000000000000000000000000000000000000"

// ZeroAddress is the EVM zero address.
const ZeroAddress = "0x0000000000000000000000000000000000000000"

// Log is one EVM event log entry.
type Log struct {
	Address          string   `json:"address"`
	Topics           []string `json:"topics"`
	Data             string   `json:"data"`
	BlockNumber      string   `json:"blockNumber"`
	TransactionHash  string   `json:"transactionHash"`
	TransactionIndex string   `json:"transactionIndex"`
	LogIndex         string   `json:"logIndex"`
	Removed          bool     `json:"removed"`
}

// Transaction is a block transaction as returned by eth_getBlockByNumber
// with full bodies.
type Transaction struct {
	Hash  string `json:"hash"`
	From  string `json:"from"`
	To    string `json:"to"`
	Value string `json:"value"`
	Input string `json:"input"`
}

// Block is an EVM block header plus optional transaction bodies.
type Block struct {
	Number       string        `json:"number"`
	Hash         string        `json:"hash"`
	Timestamp    string        `json:"timestamp"`
	Transactions []Transaction `json:"transactions"`
}

// Receipt is an EVM transaction receipt.
type Receipt struct {
	TransactionHash string `json:"transactionHash"`
	From            string `json:"from"`
	To              string `json:"to"`
	ContractAddress string `json:"contractAddress"`
	Status          string `json:"status"`
	BlockNumber     string `json:"blockNumber"`
	Logs            []Log  `json:"logs"`
}

// Succeeded reports whether the receipt status is 0x1.
func (r *Receipt) Succeeded() bool {
	return r.Status == "0x1"
}

// HexToUint64 parses an 0x-prefixed hex quantity.
func HexToUint64(s string) (uint64, error) {
	n, ok := new(big.Int).SetString(strings.TrimPrefix(s, "0x"), 16)
	if !ok {
		return 0, fmt.Errorf("invalid hex quantity: %q", s)
	}
	if !n.IsUint64() {
		return 0, fmt.Errorf("hex quantity out of uint64 range: %q", s)
	}
	return n.Uint64(), nil
}

// HexToBig parses an 0x-prefixed hex quantity of arbitrary width.
func HexToBig(s string) (*big.Int, error) {
	trimmed := strings.TrimPrefix(s, "0x")
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	n, ok := new(big.Int).SetString(trimmed, 16)
	if !ok {
		return nil, fmt.Errorf("invalid hex quantity: %q", s)
	}
	return n, nil
}

// Uint64ToHex formats a block number as an 0x-prefixed hex quantity.
func Uint64ToHex(n uint64) string {
	return fmt.Sprintf("0x%x", n)
}

// TopicToAddress extracts the 20-byte address from a 32-byte log topic.
func TopicToAddress(topic string) string {
	t := strings.TrimPrefix(strings.ToLower(topic), "0x")
	if len(t) != 64 {
		return ""
	}
	return "0x" + t[24:]
}
