package bridge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/stableport/bridge-orchestrator/internal/chaincfg"
)

func newPendingTx(n byte) Transaction {
	return Transaction{
		ChainID:      8453,
		TxHash:       common.Hash{n},
		MessageHash:  common.Hash{0xF0, n},
		Network:      chaincfg.NetworkProduction,
		Status:       StatusPending,
		Amount:       25_000_000,
		Recipient:    "recipient",
		MinAmountOut: 24_750_000,
		CreatedAt:    time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestMemoryStore_CreateAndLookup(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	tx := newPendingTx(1)

	if err := s.Create(ctx, tx); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Create(ctx, tx); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("duplicate Create: got %v, want ErrDuplicate", err)
	}

	got, err := s.Get(ctx, tx.TxHash)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Amount != tx.Amount || got.Status != StatusPending {
		t.Fatalf("Get returned %+v", got)
	}

	byMsg, err := s.GetByMessageHash(ctx, tx.MessageHash)
	if err != nil {
		t.Fatalf("GetByMessageHash: %v", err)
	}
	if byMsg.TxHash != tx.TxHash {
		t.Fatalf("GetByMessageHash: got tx %s want %s", byMsg.TxHash, tx.TxHash)
	}

	if _, err := s.Get(ctx, common.Hash{0xEE}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing Get: got %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_AttachMessage(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	tx := newPendingTx(1)
	tx.MessageHash = common.Hash{}
	if err := s.Create(ctx, tx); err != nil {
		t.Fatalf("Create: %v", err)
	}

	msg := common.Hash{0xAA}
	if err := s.AttachMessage(ctx, tx.TxHash, msg); err != nil {
		t.Fatalf("AttachMessage: %v", err)
	}
	// Same hash again is a no-op; a different one is refused.
	if err := s.AttachMessage(ctx, tx.TxHash, msg); err != nil {
		t.Fatalf("repeat AttachMessage: %v", err)
	}
	if err := s.AttachMessage(ctx, tx.TxHash, common.Hash{0xBB}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("conflicting AttachMessage: got %v, want ErrInvalidTransition", err)
	}

	got, err := s.GetByMessageHash(ctx, msg)
	if err != nil {
		t.Fatalf("GetByMessageHash after attach: %v", err)
	}
	if got.TxHash != tx.TxHash {
		t.Fatalf("message index points at %s, want %s", got.TxHash, tx.TxHash)
	}
}

func TestMemoryStore_SetAttestationIsIdempotent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	tx := newPendingTx(1)
	if err := s.Create(ctx, tx); err != nil {
		t.Fatalf("Create: %v", err)
	}

	sig := []byte{0x01, 0x02}
	if err := s.SetAttestation(ctx, tx.MessageHash, sig); err != nil {
		t.Fatalf("SetAttestation: %v", err)
	}
	if err := s.SetAttestation(ctx, tx.MessageHash, sig); err != nil {
		t.Fatalf("repeat SetAttestation: %v", err)
	}
	if err := s.SetAttestation(ctx, tx.MessageHash, []byte{0xFF}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("conflicting SetAttestation: got %v, want ErrInvalidTransition", err)
	}

	got, err := s.Get(ctx, tx.TxHash)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != StatusCompleted {
		t.Fatalf("status: got %s want completed", got.Status)
	}
	if string(got.Attestation) != string(sig) {
		t.Fatalf("attestation: got %x want %x", got.Attestation, sig)
	}

	// Completed transfers cannot be failed afterwards.
	if err := s.MarkFailed(ctx, tx.TxHash, "late failure"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("MarkFailed after completion: got %v, want ErrInvalidTransition", err)
	}
}

func TestMemoryStore_MarkFailed(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	tx := newPendingTx(1)
	if err := s.Create(ctx, tx); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := s.MarkFailed(ctx, tx.TxHash, "reverted"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	got, err := s.Get(ctx, tx.TxHash)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != StatusFailed || got.LastError != "reverted" {
		t.Fatalf("after MarkFailed: %+v", got)
	}
}

func TestMemoryStore_ListByStatusPreservesOrder(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for n := byte(1); n <= 4; n++ {
		if err := s.Create(ctx, newPendingTx(n)); err != nil {
			t.Fatalf("Create %d: %v", n, err)
		}
	}
	if err := s.SetAttestation(ctx, common.Hash{0xF0, 2}, []byte{0x01}); err != nil {
		t.Fatalf("SetAttestation: %v", err)
	}

	pending, err := s.ListByStatus(ctx, StatusPending, 10)
	if err != nil {
		t.Fatalf("ListByStatus: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("pending: got %d want 3", len(pending))
	}
	if pending[0].TxHash != (common.Hash{1}) || pending[2].TxHash != (common.Hash{4}) {
		t.Fatalf("order not preserved: %v", pending)
	}

	limited, err := s.ListByStatus(ctx, StatusPending, 2)
	if err != nil {
		t.Fatalf("ListByStatus limited: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("limited: got %d want 2", len(limited))
	}
}

func TestMemoryStore_DefensiveCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	tx := newPendingTx(1)
	if err := s.Create(ctx, tx); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.SetAttestation(ctx, tx.MessageHash, []byte{0x01}); err != nil {
		t.Fatalf("SetAttestation: %v", err)
	}

	got, _ := s.Get(ctx, tx.TxHash)
	got.Attestation[0] = 0xFF

	again, _ := s.Get(ctx, tx.TxHash)
	if again.Attestation[0] != 0x01 {
		t.Fatalf("store aliased caller's attestation slice")
	}
}
