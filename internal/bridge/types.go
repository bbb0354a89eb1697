// Package bridge drives a burn deposit on the source chain from request
// validation through confirmed message extraction, and records the transfer
// for the asynchronous attestation stage.
package bridge

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/stableport/bridge-orchestrator/internal/chaincfg"
)

var (
	// ErrInvalidRequest covers every pre-flight rejection: bad amount, bad
	// recipient, network mismatch, out-of-range slippage. Raised before any
	// chain call.
	ErrInvalidRequest = errors.New("bridge: invalid request")

	// ErrTransactionFailed means the deposit reverted on-chain or the RPC
	// rejected it. Not retried here.
	ErrTransactionFailed = errors.New("bridge: deposit transaction failed")
)

// Slippage bounds in basis points: 0.1% to 1%. Out-of-range values fail
// validation instead of clamping.
const (
	MinSlippageBps = 10
	MaxSlippageBps = 100
)

type Status uint8

const (
	StatusUnknown Status = iota
	StatusPending
	StatusCompleted
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Request describes one transfer. Exactly one of MinAmountOut and
// SlippageBps must be set; an explicit MinAmountOut overrides the slippage
// computation.
type Request struct {
	// Amount in 6-decimal base units of the burn token.
	Amount uint64

	// Recipient is the destination identity in its chain-native base58check
	// form.
	Recipient string

	// ChainID selects the source chain.
	ChainID uint64

	MinAmountOut uint64
	SlippageBps  int
}

// Transaction is the durable record of one transfer.
type Transaction struct {
	ChainID        uint64
	TxHash         common.Hash
	ApprovalTxHash *common.Hash

	// MessageHash is derived from the confirmed receipt; zero until the
	// deposit confirms.
	MessageHash common.Hash

	Network chaincfg.Network
	Status  Status

	Amount       uint64
	Recipient    string
	MinAmountOut uint64

	Attestation []byte
	LastError   string

	CreatedAt time.Time
}

// MinAmountOut computes floor(amount * (10000 - slippageBps) / 10000) in
// exact integer arithmetic. SlippageBps outside [MinSlippageBps,
// MaxSlippageBps] is rejected.
func MinAmountOut(amount uint64, slippageBps int) (uint64, error) {
	if slippageBps < MinSlippageBps || slippageBps > MaxSlippageBps {
		return 0, fmt.Errorf("%w: slippage %d bps outside [%d, %d]", ErrInvalidRequest, slippageBps, MinSlippageBps, MaxSlippageBps)
	}
	out := new(big.Int).SetUint64(amount)
	out.Mul(out, big.NewInt(10_000-int64(slippageBps)))
	out.Div(out, big.NewInt(10_000))
	return out.Uint64(), nil
}
