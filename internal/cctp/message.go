package cctp

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	// ErrNoMessageEvent means the receipt carried no MessageSent event:
	// the transaction was not a bridge deposit. Distinct from RPC failures.
	ErrNoMessageEvent = errors.New("cctp: no MessageSent event in receipt")

	ErrMalformedEvent = errors.New("cctp: malformed MessageSent event data")
)

// ExtractMessage returns the raw protocol message bytes from a confirmed
// deposit receipt.
//
// The event data encodes a single dynamic `bytes` argument in standard ABI
// layout: a 32-byte offset word, a 32-byte length word at that offset, then
// the message bytes right-padded to a 32-byte boundary. Offset and length
// are decoded exactly; the padding never leaks into the result.
func ExtractMessage(receipt *types.Receipt) ([]byte, error) {
	if receipt == nil {
		return nil, fmt.Errorf("%w: nil receipt", ErrMalformedEvent)
	}

	for _, lg := range receipt.Logs {
		if lg == nil || len(lg.Topics) == 0 || lg.Topics[0] != MessageSentTopic {
			continue
		}
		return decodeMessageData(lg.Data)
	}
	return nil, ErrNoMessageEvent
}

// ExtractMessageHash returns keccak256 of the exact message bytes. This is
// the key the attestation service indexes by; hashing even one padding byte
// produces a hash no attestation will ever match.
func ExtractMessageHash(receipt *types.Receipt) (common.Hash, error) {
	msg, err := ExtractMessage(receipt)
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(msg), nil
}

func decodeMessageData(data []byte) ([]byte, error) {
	if len(data) < 64 {
		return nil, fmt.Errorf("%w: %d bytes, want at least 64", ErrMalformedEvent, len(data))
	}

	size := uint64(len(data))

	offset, ok := wordToInt(data[:32])
	if !ok || offset > size-32 {
		return nil, fmt.Errorf("%w: offset word out of range", ErrMalformedEvent)
	}
	length, ok := wordToInt(data[offset : offset+32])
	if !ok {
		return nil, fmt.Errorf("%w: length word out of range", ErrMalformedEvent)
	}

	start := offset + 32
	if length > size-start {
		return nil, fmt.Errorf("%w: message length %d exceeds data", ErrMalformedEvent, length)
	}

	out := make([]byte, length)
	copy(out, data[start:start+length])
	return out, nil
}

func wordToInt(word []byte) (uint64, bool) {
	v := new(big.Int).SetBytes(word)
	if !v.IsUint64() {
		return 0, false
	}
	return v.Uint64(), true
}
