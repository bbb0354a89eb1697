package bridge

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Queue topics for the asynchronous attestation stage.
const (
	TopicTransferPending   = "bridge.transfers.pending.v1"
	TopicTransferCompleted = "bridge.transfers.completed.v1"

	eventVersionPending   = "bridge.transfer.pending.v1"
	eventVersionCompleted = "bridge.transfer.completed.v1"
)

var ErrInvalidEvent = errors.New("bridge: invalid transfer event")

// TransferEvent is the versioned payload published for each transfer state
// change. Completed events additionally carry the attestation.
type TransferEvent struct {
	Version     string `json:"version"`
	ChainID     uint64 `json:"chain_id"`
	TxHash      string `json:"tx_hash"`
	MessageHash string `json:"message_hash"`
	Network     string `json:"network"`
	Amount      uint64 `json:"amount"`
	Recipient   string `json:"recipient"`
	Attestation string `json:"attestation,omitempty"`
}

func EncodePendingEvent(tx Transaction) ([]byte, error) {
	return encodeEvent(eventVersionPending, tx)
}

func EncodeCompletedEvent(tx Transaction) ([]byte, error) {
	return encodeEvent(eventVersionCompleted, tx)
}

func encodeEvent(version string, tx Transaction) ([]byte, error) {
	if tx.MessageHash == (common.Hash{}) {
		return nil, fmt.Errorf("%w: missing message hash", ErrInvalidEvent)
	}
	ev := TransferEvent{
		Version:     version,
		ChainID:     tx.ChainID,
		TxHash:      tx.TxHash.Hex(),
		MessageHash: tx.MessageHash.Hex(),
		Network:     tx.Network.String(),
		Amount:      tx.Amount,
		Recipient:   tx.Recipient,
	}
	if version == eventVersionCompleted {
		if len(tx.Attestation) == 0 {
			return nil, fmt.Errorf("%w: completed event without attestation", ErrInvalidEvent)
		}
		ev.Attestation = "0x" + hex.EncodeToString(tx.Attestation)
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("bridge: marshal transfer event: %w", err)
	}
	return payload, nil
}

// DecodePendingEvent parses a pending-transfer payload and returns the
// message hash the attestation stage keys on.
func DecodePendingEvent(payload []byte) (TransferEvent, common.Hash, error) {
	var ev TransferEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return TransferEvent{}, common.Hash{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if strings.TrimSpace(ev.Version) != eventVersionPending {
		return TransferEvent{}, common.Hash{}, fmt.Errorf("%w: unknown version %q", ErrInvalidEvent, ev.Version)
	}
	h, err := parseHash(ev.MessageHash)
	if err != nil {
		return TransferEvent{}, common.Hash{}, fmt.Errorf("%w: message hash: %v", ErrInvalidEvent, err)
	}
	return ev, h, nil
}

func parseHash(s string) (common.Hash, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if len(s) != 64 {
		return common.Hash{}, fmt.Errorf("expected 32-byte hex, got len %d", len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return common.Hash{}, err
	}
	var out common.Hash
	copy(out[:], b)
	return out, nil
}
