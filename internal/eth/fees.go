package eth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/core/types"

	"github.com/stableport/bridge-orchestrator/internal/chaincfg"
)

var ErrInvalidFeeConfig = errors.New("eth: invalid fee config")

// FeeQuote is an EIP-1559 fee bid. Quotes are derived per transaction and
// never reused: fee markets move between blocks.
type FeeQuote struct {
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
}

// FeeBackend is the fee-market slice of Backend.
type FeeBackend interface {
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// Fee multipliers in basis points.
//
// Fast-settlement chains trade a larger tip for near-immediate inclusion;
// everything else biases the fee cap toward reliability instead.
const (
	fastTipBps    = 15_000 // 1.5x suggested tip
	fastFeeCapBps = 11_000 // 1.1x (base fee + tip)

	conservativeTipBps    = 12_000 // 1.2x suggested tip
	conservativeFeeCapBps = 11_500 // 1.15x (base fee + tip)

	// legacyGasPriceBps buffers the flat gas price used when the chain does
	// not answer EIP-1559 queries.
	legacyGasPriceBps = 12_000
)

// FeeEstimator computes gas bids tuned per source chain. Quote never fails:
// when the fee market is unreadable it degrades to a buffered legacy gas
// price, and past that to the chain's configured fallback.
type FeeEstimator struct {
	backend FeeBackend
	log     *slog.Logger
}

func NewFeeEstimator(backend FeeBackend, log *slog.Logger) (*FeeEstimator, error) {
	if backend == nil {
		return nil, ErrInvalidFeeConfig
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &FeeEstimator{backend: backend, log: log}, nil
}

// Quote returns a usable fee bid for the given chain.
func (e *FeeEstimator) Quote(ctx context.Context, chain chaincfg.Chain) FeeQuote {
	if q, ok := e.quote1559(ctx, chain); ok {
		return q
	}

	if gasPrice, err := e.backend.SuggestGasPrice(ctx); err == nil && gasPrice != nil && gasPrice.Sign() > 0 {
		buffered := mulBps(gasPrice, legacyGasPriceBps)
		e.log.Warn("fee market query failed, using buffered legacy gas price",
			"chain", chain.Name, "gasPrice", buffered)
		return FeeQuote{
			MaxFeePerGas:         buffered,
			MaxPriorityFeePerGas: new(big.Int).Set(buffered),
		}
	}

	e.log.Warn("all fee queries failed, using static fallback",
		"chain", chain.Name, "fallbackGasPrice", chain.FallbackGasPrice)
	return FeeQuote{
		MaxFeePerGas:         new(big.Int).Set(chain.FallbackGasPrice),
		MaxPriorityFeePerGas: new(big.Int).Set(chain.FallbackGasPrice),
	}
}

func (e *FeeEstimator) quote1559(ctx context.Context, chain chaincfg.Chain) (FeeQuote, bool) {
	header, err := e.backend.HeaderByNumber(ctx, nil)
	if err != nil || header == nil || header.BaseFee == nil || header.BaseFee.Sign() < 0 {
		return FeeQuote{}, false
	}
	suggestedTip, err := e.backend.SuggestGasTipCap(ctx)
	if err != nil || suggestedTip == nil || suggestedTip.Sign() < 0 {
		return FeeQuote{}, false
	}

	tipBps, feeCapBps := int64(conservativeTipBps), int64(conservativeFeeCapBps)
	if chain.FastSettlement {
		tipBps, feeCapBps = fastTipBps, fastFeeCapBps
	}

	tip := mulBps(suggestedTip, tipBps)
	needed := new(big.Int).Add(header.BaseFee, tip)
	feeCap := mulBps(needed, feeCapBps)

	// maxFeePerGas must cover base fee + tip; clamp upward if the bps math
	// rounded below it.
	if feeCap.Cmp(needed) < 0 {
		feeCap.Set(needed)
	}

	return FeeQuote{
		MaxFeePerGas:         feeCap,
		MaxPriorityFeePerGas: tip,
	}, true
}

func mulBps(v *big.Int, bps int64) *big.Int {
	out := new(big.Int).Mul(v, big.NewInt(bps))
	return out.Div(out, big.NewInt(10_000))
}
