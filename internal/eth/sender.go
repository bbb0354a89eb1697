package eth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/stableport/bridge-orchestrator/internal/chaincfg"
)

var ErrInvalidSenderConfig = errors.New("eth: invalid sender config")

const defaultGasBufferBps = 12_000 // 1.2x the dry-run estimate

// SenderConfig tunes transaction construction for one chain.
type SenderConfig struct {
	// GasBufferBps pads dry-run gas estimates; defaults to 20%.
	GasBufferBps int64

	// FallbackGasLimit is used when gas estimation fails.
	FallbackGasLimit uint64

	// ReceiptPollInterval defaults to the chain's configured confirmation
	// cadence.
	ReceiptPollInterval time.Duration

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error

	Log *slog.Logger
}

// Sender signs and broadcasts EIP-1559 transactions for a single account on
// a single chain. It separates submission from confirmation so callers can
// pipeline in-flight transactions.
type Sender struct {
	backend Backend
	signer  Signer
	fees    *FeeEstimator
	chain   chaincfg.Chain
	nonce   *NonceManager
	cfg     SenderConfig
}

type TxRequest struct {
	To       common.Address
	Data     []byte
	Value    *big.Int
	GasLimit uint64 // 0 => estimate
}

func NewSender(backend Backend, signer Signer, fees *FeeEstimator, chain chaincfg.Chain, cfg SenderConfig) (*Sender, error) {
	if backend == nil || signer == nil || fees == nil {
		return nil, fmt.Errorf("%w: nil backend/signer/fees", ErrInvalidSenderConfig)
	}
	if (signer.Address() == common.Address{}) {
		return nil, fmt.Errorf("%w: signer has zero address", ErrInvalidSenderConfig)
	}
	if chain.ChainID == 0 {
		return nil, fmt.Errorf("%w: zero chain id", ErrInvalidSenderConfig)
	}
	if cfg.GasBufferBps < 0 {
		return nil, fmt.Errorf("%w: negative gas buffer", ErrInvalidSenderConfig)
	}
	if cfg.GasBufferBps == 0 {
		cfg.GasBufferBps = defaultGasBufferBps
	}
	if cfg.FallbackGasLimit == 0 {
		return nil, fmt.Errorf("%w: FallbackGasLimit is required", ErrInvalidSenderConfig)
	}
	if cfg.ReceiptPollInterval <= 0 {
		cfg.ReceiptPollInterval = chain.ConfirmationPollInterval
	}
	if cfg.ReceiptPollInterval <= 0 {
		return nil, fmt.Errorf("%w: no receipt poll interval", ErrInvalidSenderConfig)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Sleep == nil {
		cfg.Sleep = SleepCtx
	}
	if cfg.Log == nil {
		cfg.Log = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	return &Sender{
		backend: backend,
		signer:  signer,
		fees:    fees,
		chain:   chain,
		nonce:   NewNonceManager(backend, signer.Address()),
		cfg:     cfg,
	}, nil
}

func (s *Sender) From() common.Address { return s.signer.Address() }

func (s *Sender) Chain() chaincfg.Chain { return s.chain }

// EstimateGas dry-runs the call and pads the estimate. Estimation failures
// degrade to the configured fallback limit; they are never surfaced.
func (s *Sender) EstimateGas(ctx context.Context, req TxRequest) uint64 {
	value := req.Value
	if value == nil {
		value = big.NewInt(0)
	}
	from := s.signer.Address()
	to := req.To

	est, err := s.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:  from,
		To:    &to,
		Value: value,
		Data:  req.Data,
	})
	if err != nil {
		s.cfg.Log.Warn("gas estimation failed, using fallback limit",
			"chain", s.chain.Name, "to", to, "fallback", s.cfg.FallbackGasLimit, "err", err)
		return s.cfg.FallbackGasLimit
	}
	return bufferGas(est, s.cfg.GasBufferBps)
}

// Send signs and broadcasts the transaction and returns its hash without
// waiting for inclusion.
func (s *Sender) Send(ctx context.Context, req TxRequest) (common.Hash, error) {
	value := req.Value
	if value == nil {
		value = big.NewInt(0)
	}
	gasLimit := req.GasLimit
	if gasLimit == 0 {
		gasLimit = s.EstimateGas(ctx, req)
	}

	quote := s.fees.Quote(ctx, s.chain)

	nonce, err := s.nonce.Next(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("eth: reserve nonce: %w", err)
	}

	to := req.To
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   new(big.Int).SetUint64(s.chain.ChainID),
		Nonce:     nonce,
		GasTipCap: quote.MaxPriorityFeePerGas,
		GasFeeCap: quote.MaxFeePerGas,
		Gas:       gasLimit,
		To:        &to,
		Value:     value,
		Data:      req.Data,
	})
	signed, err := s.signer.SignTx(tx, new(big.Int).SetUint64(s.chain.ChainID))
	if err != nil {
		return common.Hash{}, fmt.Errorf("eth: sign tx: %w", err)
	}
	if err := s.backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("eth: broadcast tx: %w", err)
	}
	return signed.Hash(), nil
}

// WaitMined polls for the transaction receipt until the context is canceled.
func (s *Sender) WaitMined(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	for {
		receipt, err := s.backend.TransactionReceipt(ctx, txHash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("eth: receipt %s: %w", txHash, err)
		}
		if err := s.cfg.Sleep(ctx, s.cfg.ReceiptPollInterval); err != nil {
			return nil, err
		}
	}
}

// SendAndWaitMined broadcasts and blocks until the receipt is available.
func (s *Sender) SendAndWaitMined(ctx context.Context, req TxRequest) (common.Hash, *types.Receipt, error) {
	h, err := s.Send(ctx, req)
	if err != nil {
		return common.Hash{}, nil, err
	}
	receipt, err := s.WaitMined(ctx, h)
	if err != nil {
		return h, nil, err
	}
	return h, receipt, nil
}

func bufferGas(est uint64, bps int64) uint64 {
	out := new(big.Int).SetUint64(est)
	out.Mul(out, big.NewInt(bps))
	out.Div(out, big.NewInt(10_000))
	if !out.IsUint64() {
		return est
	}
	v := out.Uint64()
	if v < est {
		// A sub-1x buffer never shrinks the estimate.
		return est
	}
	return v
}
