// Package postgres is the durable bridge.Store used in deployments where
// transfers must survive process restarts.
package postgres

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stableport/bridge-orchestrator/internal/bridge"
	"github.com/stableport/bridge-orchestrator/internal/chaincfg"
)

var ErrInvalidConfig = errors.New("bridge/postgres: invalid config")

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("%w: nil pool", ErrInvalidConfig)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("bridge/postgres: ensure schema: %w", err)
	}
	return nil
}

func (s *Store) Create(ctx context.Context, tx bridge.Transaction) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if tx.Amount == 0 || tx.Amount > math.MaxInt64 {
		return fmt.Errorf("%w: amount out of range", ErrInvalidConfig)
	}
	if tx.ChainID == 0 || tx.ChainID > math.MaxInt64 {
		return fmt.Errorf("%w: chain id out of range", ErrInvalidConfig)
	}

	var approval []byte
	if tx.ApprovalTxHash != nil {
		approval = tx.ApprovalTxHash.Bytes()
	}
	var messageHash []byte
	if tx.MessageHash != (common.Hash{}) {
		messageHash = tx.MessageHash.Bytes()
	}
	createdAt := tx.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO bridge_transfers (
			tx_hash,
			chain_id,
			amount,
			recipient,
			min_amount_out,
			network,
			approval_tx_hash,
			message_hash,
			status,
			attestation,
			last_error,
			created_at,
			updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,now())
		ON CONFLICT (tx_hash) DO NOTHING
	`, tx.TxHash.Bytes(), int64(tx.ChainID), int64(tx.Amount), tx.Recipient, int64(tx.MinAmountOut),
		int16(tx.Network), approval, messageHash, int16(tx.Status), tx.Attestation, nullableText(tx.LastError), createdAt)
	if err != nil {
		return fmt.Errorf("bridge/postgres: insert: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return bridge.ErrDuplicate
	}
	return nil
}

func (s *Store) Get(ctx context.Context, txHash common.Hash) (bridge.Transaction, error) {
	return s.getWhere(ctx, "tx_hash = $1", txHash.Bytes())
}

func (s *Store) GetByMessageHash(ctx context.Context, messageHash common.Hash) (bridge.Transaction, error) {
	return s.getWhere(ctx, "message_hash = $1", messageHash.Bytes())
}

const selectColumns = `
	tx_hash,
	chain_id,
	amount,
	recipient,
	min_amount_out,
	network,
	approval_tx_hash,
	message_hash,
	status,
	attestation,
	last_error,
	created_at
`

func (s *Store) getWhere(ctx context.Context, where string, arg any) (bridge.Transaction, error) {
	if s == nil || s.pool == nil {
		return bridge.Transaction{}, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	row := s.pool.QueryRow(ctx, `SELECT `+selectColumns+` FROM bridge_transfers WHERE `+where, arg)
	tx, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return bridge.Transaction{}, bridge.ErrNotFound
		}
		return bridge.Transaction{}, fmt.Errorf("bridge/postgres: get: %w", err)
	}
	return tx, nil
}

func (s *Store) ListByStatus(ctx context.Context, status bridge.Status, limit int) ([]bridge.Transaction, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+selectColumns+`
		FROM bridge_transfers
		WHERE status = $1
		ORDER BY created_at ASC, tx_hash ASC
		LIMIT $2
	`, int16(status), limit)
	if err != nil {
		return nil, fmt.Errorf("bridge/postgres: list by status: %w", err)
	}
	defer rows.Close()

	out := make([]bridge.Transaction, 0, limit)
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("bridge/postgres: scan list row: %w", err)
		}
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("bridge/postgres: list rows: %w", err)
	}
	return out, nil
}

func (s *Store) AttachMessage(ctx context.Context, txHash, messageHash common.Hash) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE bridge_transfers
		SET message_hash = $2, updated_at = now()
		WHERE tx_hash = $1 AND (message_hash IS NULL OR message_hash = $2)
	`, txHash.Bytes(), messageHash.Bytes())
	if err != nil {
		return fmt.Errorf("bridge/postgres: attach message: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	// Either the row is missing or it already carries a different hash.
	if _, err := s.Get(ctx, txHash); err != nil {
		return err
	}
	return bridge.ErrInvalidTransition
}

func (s *Store) SetAttestation(ctx context.Context, messageHash common.Hash, attestation []byte) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE bridge_transfers
		SET status = $2, attestation = $3, last_error = NULL, updated_at = now()
		WHERE message_hash = $1 AND status = $4
	`, messageHash.Bytes(), int16(bridge.StatusCompleted), attestation, int16(bridge.StatusPending))
	if err != nil {
		return fmt.Errorf("bridge/postgres: set attestation: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	existing, err := s.GetByMessageHash(ctx, messageHash)
	if err != nil {
		return err
	}
	if existing.Status == bridge.StatusCompleted && bytes.Equal(existing.Attestation, attestation) {
		return nil
	}
	return bridge.ErrInvalidTransition
}

func (s *Store) MarkFailed(ctx context.Context, txHash common.Hash, reason string) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE bridge_transfers
		SET status = $2, last_error = $3, updated_at = now()
		WHERE tx_hash = $1 AND status <> $4
	`, txHash.Bytes(), int16(bridge.StatusFailed), reason, int16(bridge.StatusCompleted))
	if err != nil {
		return fmt.Errorf("bridge/postgres: mark failed: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	if _, err := s.Get(ctx, txHash); err != nil {
		return err
	}
	return bridge.ErrInvalidTransition
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (bridge.Transaction, error) {
	var (
		txHashRaw      []byte
		chainID        int64
		amount         int64
		recipient      string
		minAmountOut   int64
		network        int16
		approvalRaw    []byte
		messageHashRaw []byte
		status         int16
		attestation    []byte
		lastError      *string
		createdAt      time.Time
	)
	if err := row.Scan(
		&txHashRaw,
		&chainID,
		&amount,
		&recipient,
		&minAmountOut,
		&network,
		&approvalRaw,
		&messageHashRaw,
		&status,
		&attestation,
		&lastError,
		&createdAt,
	); err != nil {
		return bridge.Transaction{}, err
	}

	if chainID < 0 || amount < 0 || minAmountOut < 0 {
		return bridge.Transaction{}, errors.New("negative values in db")
	}

	tx := bridge.Transaction{
		ChainID:      uint64(chainID),
		TxHash:       common.BytesToHash(txHashRaw),
		Network:      chaincfg.Network(network),
		Status:       bridge.Status(status),
		Amount:       uint64(amount),
		Recipient:    recipient,
		MinAmountOut: uint64(minAmountOut),
		CreatedAt:    createdAt.UTC(),
	}
	if approvalRaw != nil {
		h := common.BytesToHash(approvalRaw)
		tx.ApprovalTxHash = &h
	}
	if messageHashRaw != nil {
		tx.MessageHash = common.BytesToHash(messageHashRaw)
	}
	if attestation != nil {
		tx.Attestation = append([]byte(nil), attestation...)
	}
	if lastError != nil {
		tx.LastError = *lastError
	}
	return tx, nil
}

func nullableText(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
