package eth

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/core/types"

	"github.com/stableport/bridge-orchestrator/internal/chaincfg"
)

type fakeFeeBackend struct {
	baseFee   *big.Int
	headerErr error

	tip    *big.Int
	tipErr error

	gasPrice    *big.Int
	gasPriceErr error
}

func (b *fakeFeeBackend) HeaderByNumber(_ context.Context, _ *big.Int) (*types.Header, error) {
	if b.headerErr != nil {
		return nil, b.headerErr
	}
	return &types.Header{BaseFee: new(big.Int).Set(b.baseFee)}, nil
}

func (b *fakeFeeBackend) SuggestGasTipCap(_ context.Context) (*big.Int, error) {
	if b.tipErr != nil {
		return nil, b.tipErr
	}
	return new(big.Int).Set(b.tip), nil
}

func (b *fakeFeeBackend) SuggestGasPrice(_ context.Context) (*big.Int, error) {
	if b.gasPriceErr != nil {
		return nil, b.gasPriceErr
	}
	return new(big.Int).Set(b.gasPrice), nil
}

func mustChain(t *testing.T, id uint64) chaincfg.Chain {
	t.Helper()
	c, err := chaincfg.ByChainID(id)
	if err != nil {
		t.Fatalf("ByChainID(%d): %v", id, err)
	}
	return c
}

func TestQuote_FastProfile(t *testing.T) {
	backend := &fakeFeeBackend{baseFee: big.NewInt(1000), tip: big.NewInt(100)}
	est, err := NewFeeEstimator(backend, nil)
	if err != nil {
		t.Fatalf("NewFeeEstimator: %v", err)
	}

	base := mustChain(t, 8453)
	if !base.FastSettlement {
		t.Fatalf("expected base to be fast-settlement")
	}

	q := est.Quote(context.Background(), base)

	// tip = 100 * 1.5 = 150; cap = (1000 + 150) * 1.1 = 1265
	if q.MaxPriorityFeePerGas.Cmp(big.NewInt(150)) != 0 {
		t.Fatalf("tip: got %s want 150", q.MaxPriorityFeePerGas)
	}
	if q.MaxFeePerGas.Cmp(big.NewInt(1265)) != 0 {
		t.Fatalf("cap: got %s want 1265", q.MaxFeePerGas)
	}
}

func TestQuote_ConservativeProfile(t *testing.T) {
	backend := &fakeFeeBackend{baseFee: big.NewInt(1000), tip: big.NewInt(100)}
	est, err := NewFeeEstimator(backend, nil)
	if err != nil {
		t.Fatalf("NewFeeEstimator: %v", err)
	}

	mainnet := mustChain(t, 1)
	if mainnet.FastSettlement {
		t.Fatalf("expected mainnet to be conservative")
	}

	q := est.Quote(context.Background(), mainnet)

	// tip = 100 * 1.2 = 120; cap = (1000 + 120) * 1.15 = 1288
	if q.MaxPriorityFeePerGas.Cmp(big.NewInt(120)) != 0 {
		t.Fatalf("tip: got %s want 120", q.MaxPriorityFeePerGas)
	}
	if q.MaxFeePerGas.Cmp(big.NewInt(1288)) != 0 {
		t.Fatalf("cap: got %s want 1288", q.MaxFeePerGas)
	}
}

func TestQuote_CapAlwaysCoversBaseFeePlusTip(t *testing.T) {
	for _, id := range []uint64{1, 8453} {
		backend := &fakeFeeBackend{baseFee: big.NewInt(7), tip: big.NewInt(1)}
		est, err := NewFeeEstimator(backend, nil)
		if err != nil {
			t.Fatalf("NewFeeEstimator: %v", err)
		}
		q := est.Quote(context.Background(), mustChain(t, id))
		needed := new(big.Int).Add(big.NewInt(7), q.MaxPriorityFeePerGas)
		if q.MaxFeePerGas.Cmp(needed) < 0 {
			t.Fatalf("chain %d: cap %s below base+tip %s", id, q.MaxFeePerGas, needed)
		}
	}
}

func TestQuote_FallsBackToLegacyGasPrice(t *testing.T) {
	backend := &fakeFeeBackend{
		headerErr: errors.New("eth_feeHistory unsupported"),
		gasPrice:  big.NewInt(1000),
	}
	est, err := NewFeeEstimator(backend, nil)
	if err != nil {
		t.Fatalf("NewFeeEstimator: %v", err)
	}

	q := est.Quote(context.Background(), mustChain(t, 1))

	// 1000 * 1.2 = 1200 for both fields.
	if q.MaxFeePerGas.Cmp(big.NewInt(1200)) != 0 {
		t.Fatalf("cap: got %s want 1200", q.MaxFeePerGas)
	}
	if q.MaxPriorityFeePerGas.Cmp(big.NewInt(1200)) != 0 {
		t.Fatalf("tip: got %s want 1200", q.MaxPriorityFeePerGas)
	}
}

func TestQuote_FallsBackToStaticConstants(t *testing.T) {
	backend := &fakeFeeBackend{
		headerErr:   errors.New("rpc down"),
		gasPriceErr: errors.New("rpc down"),
	}
	est, err := NewFeeEstimator(backend, nil)
	if err != nil {
		t.Fatalf("NewFeeEstimator: %v", err)
	}

	chain := mustChain(t, 1)
	q := est.Quote(context.Background(), chain)

	if q.MaxFeePerGas.Cmp(chain.FallbackGasPrice) != 0 {
		t.Fatalf("cap: got %s want fallback %s", q.MaxFeePerGas, chain.FallbackGasPrice)
	}
	if q.MaxPriorityFeePerGas.Cmp(chain.FallbackGasPrice) != 0 {
		t.Fatalf("tip: got %s want fallback %s", q.MaxPriorityFeePerGas, chain.FallbackGasPrice)
	}
}
