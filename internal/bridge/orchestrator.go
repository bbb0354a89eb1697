package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/stableport/bridge-orchestrator/internal/addrcodec"
	"github.com/stableport/bridge-orchestrator/internal/cctp"
	"github.com/stableport/bridge-orchestrator/internal/chaincfg"
	"github.com/stableport/bridge-orchestrator/internal/eth"
)

var ErrInvalidConfig = errors.New("bridge: invalid config")

// AllowanceEnsurer guarantees the token messenger may spend the deposit
// amount before the burn goes out.
type AllowanceEnsurer interface {
	EnsureAllowance(ctx context.Context, amount uint64) (*common.Hash, error)
}

// DepositSender submits and confirms transactions on the source chain.
// *eth.Sender satisfies it.
type DepositSender interface {
	From() common.Address
	EstimateGas(ctx context.Context, req eth.TxRequest) uint64
	Send(ctx context.Context, req eth.TxRequest) (common.Hash, error)
	WaitMined(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Producer publishes transfer events. Optional.
type Producer interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Archiver stores raw receipts and attestations for audit. Optional.
type Archiver interface {
	Put(ctx context.Context, key string, body []byte) error
}

type OrchestratorConfig struct {
	Chain chaincfg.Chain

	Now func() time.Time
	Log *slog.Logger
}

// Orchestrator runs the full deposit flow: validate, ensure allowance, burn,
// confirm, extract the message hash, persist. Attestation completion is a
// separate asynchronous stage keyed by the recorded message hash, so a
// caller can resume after a restart.
//
// Concurrent Bridge calls for different requests share no mutable state
// beyond the store and the per-owner allowance serialization.
type Orchestrator struct {
	cfg       OrchestratorConfig
	allowance AllowanceEnsurer
	sender    DepositSender
	store     Store

	producer Producer
	archiver Archiver

	log *slog.Logger
}

func NewOrchestrator(cfg OrchestratorConfig, allowance AllowanceEnsurer, sender DepositSender, store Store, producer Producer, archiver Archiver) (*Orchestrator, error) {
	if allowance == nil || sender == nil || store == nil {
		return nil, fmt.Errorf("%w: nil allowance/sender/store", ErrInvalidConfig)
	}
	if cfg.Chain.ChainID == 0 {
		return nil, fmt.Errorf("%w: missing chain config", ErrInvalidConfig)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Log == nil {
		cfg.Log = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &Orchestrator{
		cfg:       cfg,
		allowance: allowance,
		sender:    sender,
		store:     store,
		producer:  producer,
		archiver:  archiver,
		log:       cfg.Log,
	}, nil
}

// Bridge executes one transfer and returns its record in pending state. The
// record already carries the message hash; the attestation stage completes
// it asynchronously.
func (o *Orchestrator) Bridge(ctx context.Context, req Request) (Transaction, error) {
	minOut, err := o.validate(req)
	if err != nil {
		return Transaction{}, err
	}

	recipient, err := addrcodec.EncodeRecipient(req.Recipient)
	if err != nil {
		return Transaction{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	approvalHash, err := o.allowance.EnsureAllowance(ctx, req.Amount)
	if err != nil {
		return Transaction{}, fmt.Errorf("bridge: ensure allowance: %w", err)
	}

	calldata, err := cctp.PackDepositForBurn(
		new(big.Int).SetUint64(req.Amount),
		chaincfg.DestinationDomain,
		recipient,
		o.cfg.Chain.USDC,
		new(big.Int).SetUint64(chaincfg.DepositMaxFee),
		nil,
	)
	if err != nil {
		return Transaction{}, fmt.Errorf("bridge: pack deposit call: %w", err)
	}

	txReq := eth.TxRequest{
		To:   o.cfg.Chain.TokenMessenger,
		Data: calldata,
	}
	txReq.GasLimit = o.sender.EstimateGas(ctx, txReq)

	txHash, err := o.sender.Send(ctx, txReq)
	if err != nil {
		return Transaction{}, fmt.Errorf("%w: %v", ErrTransactionFailed, err)
	}

	tx := Transaction{
		ChainID:        o.cfg.Chain.ChainID,
		TxHash:         txHash,
		ApprovalTxHash: approvalHash,
		Network:        o.cfg.Chain.Network,
		Status:         StatusPending,
		Amount:         req.Amount,
		Recipient:      req.Recipient,
		MinAmountOut:   minOut,
		CreatedAt:      o.cfg.Now().UTC(),
	}
	if err := o.store.Create(ctx, tx); err != nil {
		return Transaction{}, fmt.Errorf("bridge: persist transfer: %w", err)
	}
	o.log.Info("deposit submitted",
		"chain", o.cfg.Chain.Name, "tx", txHash, "amount", req.Amount, "recipient", req.Recipient)

	receipt, err := o.sender.WaitMined(ctx, txHash)
	if err != nil {
		return Transaction{}, fmt.Errorf("bridge: wait for deposit %s: %w", txHash, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		o.markFailed(ctx, txHash, "deposit reverted")
		return Transaction{}, fmt.Errorf("%w: deposit %s reverted", ErrTransactionFailed, txHash)
	}

	messageHash, err := cctp.ExtractMessageHash(receipt)
	if err != nil {
		o.markFailed(ctx, txHash, err.Error())
		return Transaction{}, fmt.Errorf("bridge: deposit %s: %w", txHash, err)
	}
	if err := o.store.AttachMessage(ctx, txHash, messageHash); err != nil {
		return Transaction{}, fmt.Errorf("bridge: record message hash: %w", err)
	}
	tx.MessageHash = messageHash

	o.archiveReceipt(ctx, messageHash, receipt)
	o.publishPending(ctx, tx)

	o.log.Info("deposit confirmed",
		"chain", o.cfg.Chain.Name, "tx", txHash, "message_hash", messageHash)
	return tx, nil
}

// validate fail-fasts every request problem before the first RPC.
func (o *Orchestrator) validate(req Request) (uint64, error) {
	if req.Amount == 0 {
		return 0, fmt.Errorf("%w: zero amount", ErrInvalidRequest)
	}
	if req.Amount < chaincfg.MinDepositAmount {
		return 0, fmt.Errorf("%w: amount %d below protocol minimum %d", ErrInvalidRequest, req.Amount, chaincfg.MinDepositAmount)
	}
	if !chaincfg.Supported(req.ChainID) {
		return 0, fmt.Errorf("%w: %v", ErrInvalidRequest, chaincfg.ErrUnsupportedChain)
	}
	if req.ChainID != o.cfg.Chain.ChainID {
		return 0, fmt.Errorf("%w: request chain %d does not match configured chain %d", ErrInvalidRequest, req.ChainID, o.cfg.Chain.ChainID)
	}
	if err := addrcodec.ValidateForNetwork(req.Recipient, o.cfg.Chain.Network); err != nil {
		// Keep the codec's wrong-network vs malformed distinction inspectable.
		return 0, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	if req.MinAmountOut != 0 {
		if req.MinAmountOut > req.Amount {
			return 0, fmt.Errorf("%w: min amount out %d exceeds amount %d", ErrInvalidRequest, req.MinAmountOut, req.Amount)
		}
		return req.MinAmountOut, nil
	}
	return MinAmountOut(req.Amount, req.SlippageBps)
}

func (o *Orchestrator) markFailed(ctx context.Context, txHash common.Hash, reason string) {
	if err := o.store.MarkFailed(ctx, txHash, reason); err != nil {
		o.log.Warn("mark transfer failed", "tx", txHash, "err", err)
	}
}

func (o *Orchestrator) archiveReceipt(ctx context.Context, messageHash common.Hash, receipt *types.Receipt) {
	if o.archiver == nil {
		return
	}
	body, err := json.Marshal(receipt)
	if err != nil {
		o.log.Warn("marshal receipt for archive", "message_hash", messageHash, "err", err)
		return
	}
	key := "receipts/" + messageHash.Hex() + ".json"
	if err := o.archiver.Put(ctx, key, body); err != nil {
		o.log.Warn("archive receipt", "key", key, "err", err)
	}
}

func (o *Orchestrator) publishPending(ctx context.Context, tx Transaction) {
	if o.producer == nil {
		return
	}
	payload, err := EncodePendingEvent(tx)
	if err != nil {
		o.log.Warn("encode pending event", "tx", tx.TxHash, "err", err)
		return
	}
	if err := o.producer.Publish(ctx, TopicTransferPending, payload); err != nil {
		o.log.Warn("publish pending event", "tx", tx.TxHash, "err", err)
	}
}
