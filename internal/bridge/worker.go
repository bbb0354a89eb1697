package bridge

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/stableport/bridge-orchestrator/internal/attestation"
	"github.com/stableport/bridge-orchestrator/internal/queue"
)

// Fetcher blocks until a message hash is attested or the retry budget runs
// out. *attestation.Poller satisfies it.
type Fetcher interface {
	FetchWithRetry(ctx context.Context, messageHash common.Hash) (attestation.Status, error)
}

type WorkerConfig struct {
	// RecoveryBatchSize bounds one RecoverPending pass.
	RecoveryBatchSize int

	AckTimeout time.Duration

	Log *slog.Logger
}

// Worker drives pending transfers to their terminal state: it polls the
// attestation service per message hash, persists the result, and publishes
// the completion event. It consumes pending events from the queue and can
// also sweep the store directly to resume after a restart.
type Worker struct {
	cfg     WorkerConfig
	store   Store
	fetcher Fetcher

	producer Producer
	archiver Archiver

	log *slog.Logger
}

func NewWorker(cfg WorkerConfig, store Store, fetcher Fetcher, producer Producer, archiver Archiver) (*Worker, error) {
	if store == nil || fetcher == nil {
		return nil, fmt.Errorf("%w: nil store/fetcher", ErrInvalidConfig)
	}
	if cfg.RecoveryBatchSize <= 0 {
		cfg.RecoveryBatchSize = 100
	}
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = 5 * time.Second
	}
	if cfg.Log == nil {
		cfg.Log = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &Worker{
		cfg:      cfg,
		store:    store,
		fetcher:  fetcher,
		producer: producer,
		archiver: archiver,
		log:      cfg.Log,
	}, nil
}

// RecoverPending makes one pass over transfers recorded as pending and
// processes each. Transfers whose deposit never confirmed (no message hash
// yet) are left alone.
func (w *Worker) RecoverPending(ctx context.Context) error {
	txs, err := w.store.ListByStatus(ctx, StatusPending, w.cfg.RecoveryBatchSize)
	if err != nil {
		return fmt.Errorf("bridge: list pending transfers: %w", err)
	}
	for _, tx := range txs {
		if tx.MessageHash == (common.Hash{}) {
			continue
		}
		if err := w.Process(ctx, tx.MessageHash); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			w.log.Error("recover transfer", "message_hash", tx.MessageHash, "err", err)
		}
	}
	return nil
}

// Run consumes pending-transfer events until ctx is cancelled.
func (w *Worker) Run(ctx context.Context, consumer queue.Consumer) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err, ok := <-consumer.Errors():
			if !ok {
				continue
			}
			if err != nil {
				w.log.Error("consume pending events", "err", err)
			}
		case msg, ok := <-consumer.Messages():
			if !ok {
				return errors.New("bridge: pending event consumer closed")
			}
			w.handleMessage(ctx, msg)
		}
	}
}

func (w *Worker) handleMessage(ctx context.Context, msg queue.Message) {
	defer w.ack(msg)

	_, messageHash, err := DecodePendingEvent(msg.Value)
	if err != nil {
		w.log.Warn("ignore invalid pending event", "err", err)
		return
	}
	if err := w.Process(ctx, messageHash); err != nil &&
		!errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		w.log.Error("process transfer", "message_hash", messageHash, "err", err)
	}
}

// Process resolves one message hash to its terminal state. Unknown hashes
// and already completed transfers are no-ops.
func (w *Worker) Process(ctx context.Context, messageHash common.Hash) error {
	tx, err := w.store.GetByMessageHash(ctx, messageHash)
	if errors.Is(err, ErrNotFound) {
		w.log.Warn("pending event for unknown transfer", "message_hash", messageHash)
		return nil
	}
	if err != nil {
		return fmt.Errorf("bridge: load transfer: %w", err)
	}
	if tx.Status != StatusPending {
		return nil
	}

	st, err := w.fetcher.FetchWithRetry(ctx, messageHash)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		w.markFailed(ctx, tx.TxHash, err.Error())
		return fmt.Errorf("bridge: attestation for %s: %w", messageHash, err)
	}

	if err := w.store.SetAttestation(ctx, messageHash, st.Attestation); err != nil {
		return fmt.Errorf("bridge: persist attestation: %w", err)
	}
	tx.Status = StatusCompleted
	tx.Attestation = append([]byte(nil), st.Attestation...)

	w.archiveAttestation(ctx, messageHash, st.Attestation)
	w.publishCompleted(ctx, tx)

	w.log.Info("transfer completed",
		"message_hash", messageHash, "tx", tx.TxHash, "attempts", st.Attempts)
	return nil
}

func (w *Worker) markFailed(ctx context.Context, txHash common.Hash, reason string) {
	if err := w.store.MarkFailed(ctx, txHash, reason); err != nil {
		w.log.Warn("mark transfer failed", "tx", txHash, "err", err)
	}
}

func (w *Worker) archiveAttestation(ctx context.Context, messageHash common.Hash, payload []byte) {
	if w.archiver == nil {
		return
	}
	body, err := json.Marshal(map[string]string{
		"message_hash": messageHash.Hex(),
		"attestation":  "0x" + hex.EncodeToString(payload),
	})
	if err != nil {
		w.log.Warn("marshal attestation for archive", "message_hash", messageHash, "err", err)
		return
	}
	key := "attestations/" + messageHash.Hex() + ".json"
	if err := w.archiver.Put(ctx, key, body); err != nil {
		w.log.Warn("archive attestation", "key", key, "err", err)
	}
}

func (w *Worker) publishCompleted(ctx context.Context, tx Transaction) {
	if w.producer == nil {
		return
	}
	payload, err := EncodeCompletedEvent(tx)
	if err != nil {
		w.log.Warn("encode completed event", "tx", tx.TxHash, "err", err)
		return
	}
	if err := w.producer.Publish(ctx, TopicTransferCompleted, payload); err != nil {
		w.log.Warn("publish completed event", "tx", tx.TxHash, "err", err)
	}
}

func (w *Worker) ack(msg queue.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.AckTimeout)
	defer cancel()
	if err := msg.Ack(ctx); err != nil && !errors.Is(err, context.Canceled) {
		w.log.Warn("ack pending event", "err", err)
	}
}
