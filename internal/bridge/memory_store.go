package bridge

import (
	"bytes"
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

type MemoryStore struct {
	mu    sync.Mutex
	txs   map[common.Hash]Transaction
	byMsg map[common.Hash]common.Hash // message hash -> tx hash
	order []common.Hash
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		txs:   make(map[common.Hash]Transaction),
		byMsg: make(map[common.Hash]common.Hash),
	}
}

func (s *MemoryStore) Create(_ context.Context, tx Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.txs[tx.TxHash]; ok {
		return ErrDuplicate
	}
	if tx.MessageHash != (common.Hash{}) {
		if _, ok := s.byMsg[tx.MessageHash]; ok {
			return ErrDuplicate
		}
		s.byMsg[tx.MessageHash] = tx.TxHash
	}
	s.txs[tx.TxHash] = copyTx(tx)
	s.order = append(s.order, tx.TxHash)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, txHash common.Hash) (Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.txs[txHash]
	if !ok {
		return Transaction{}, ErrNotFound
	}
	return copyTx(tx), nil
}

func (s *MemoryStore) GetByMessageHash(_ context.Context, messageHash common.Hash) (Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	txHash, ok := s.byMsg[messageHash]
	if !ok {
		return Transaction{}, ErrNotFound
	}
	return copyTx(s.txs[txHash]), nil
}

func (s *MemoryStore) ListByStatus(_ context.Context, status Status, limit int) ([]Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		return nil, nil
	}
	out := make([]Transaction, 0, limit)
	for _, h := range s.order {
		tx := s.txs[h]
		if tx.Status != status {
			continue
		}
		out = append(out, copyTx(tx))
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) AttachMessage(_ context.Context, txHash, messageHash common.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.txs[txHash]
	if !ok {
		return ErrNotFound
	}
	if tx.MessageHash == messageHash {
		return nil
	}
	if tx.MessageHash != (common.Hash{}) {
		return ErrInvalidTransition
	}
	if prior, ok := s.byMsg[messageHash]; ok && prior != txHash {
		return ErrDuplicate
	}
	tx.MessageHash = messageHash
	s.byMsg[messageHash] = txHash
	s.txs[txHash] = tx
	return nil
}

func (s *MemoryStore) SetAttestation(_ context.Context, messageHash common.Hash, attestation []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	txHash, ok := s.byMsg[messageHash]
	if !ok {
		return ErrNotFound
	}
	tx := s.txs[txHash]

	if tx.Status == StatusCompleted {
		if !bytes.Equal(tx.Attestation, attestation) {
			return ErrInvalidTransition
		}
		return nil
	}
	if tx.Status != StatusPending {
		return ErrInvalidTransition
	}

	tx.Status = StatusCompleted
	tx.Attestation = append([]byte(nil), attestation...)
	tx.LastError = ""
	s.txs[txHash] = tx
	return nil
}

func (s *MemoryStore) MarkFailed(_ context.Context, txHash common.Hash, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.txs[txHash]
	if !ok {
		return ErrNotFound
	}
	if tx.Status == StatusCompleted {
		return ErrInvalidTransition
	}
	tx.Status = StatusFailed
	tx.LastError = reason
	s.txs[txHash] = tx
	return nil
}

func copyTx(tx Transaction) Transaction {
	out := tx
	if tx.Attestation != nil {
		out.Attestation = append([]byte(nil), tx.Attestation...)
	}
	if tx.ApprovalTxHash != nil {
		h := *tx.ApprovalTxHash
		out.ApprovalTxHash = &h
	}
	return out
}
