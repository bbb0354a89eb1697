package bridge

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrNotFound          = errors.New("bridge: not found")
	ErrDuplicate         = errors.New("bridge: duplicate transaction")
	ErrInvalidTransition = errors.New("bridge: invalid status transition")
)

// Store persists transfer records keyed by deposit transaction hash, with a
// unique secondary index on message hash. Records are never deleted here;
// eviction belongs to the operator.
type Store interface {
	Create(ctx context.Context, tx Transaction) error
	Get(ctx context.Context, txHash common.Hash) (Transaction, error)
	GetByMessageHash(ctx context.Context, messageHash common.Hash) (Transaction, error)
	ListByStatus(ctx context.Context, status Status, limit int) ([]Transaction, error)

	// AttachMessage records the message hash derived from the confirmed
	// receipt.
	AttachMessage(ctx context.Context, txHash, messageHash common.Hash) error

	// SetAttestation stores the signed payload and moves the record to
	// completed. Repeating the call with the same payload is a no-op.
	SetAttestation(ctx context.Context, messageHash common.Hash, attestation []byte) error

	MarkFailed(ctx context.Context, txHash common.Hash, reason string) error
}
