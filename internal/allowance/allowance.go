// Package allowance keeps the token messenger authorized to move exactly the
// capped deposit amount of the burn token.
package allowance

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/stableport/bridge-orchestrator/internal/chaincfg"
	"github.com/stableport/bridge-orchestrator/internal/eth"
)

var (
	ErrInvalidConfig = errors.New("allowance: invalid config")
	ErrApproveFailed = errors.New("allowance: approval transaction reverted")
)

// Reader is the read-only chain access the manager needs.
type Reader interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// TxSender submits approval transactions and waits for inclusion.
type TxSender interface {
	From() common.Address
	SendAndWaitMined(ctx context.Context, req eth.TxRequest) (common.Hash, *types.Receipt, error)
}

var (
	erc20Once sync.Once
	erc20Err  error
	erc20ABI  abi.ABI
)

func initERC20() error {
	erc20Once.Do(func() {
		var err error
		erc20ABI, err = abi.JSON(strings.NewReader(erc20ABIJSON))
		if err != nil {
			erc20Err = fmt.Errorf("allowance: parse ERC-20 ABI: %w", err)
		}
	})
	return erc20Err
}

// Manager ensures spending authorization on one chain. The zero-then-set
// sequence for a given owner never interleaves with another sequence for the
// same owner; different owners proceed in parallel.
type Manager struct {
	reader Reader
	sender TxSender
	chain  chaincfg.Chain
	log    *slog.Logger

	mu    sync.Mutex
	locks map[common.Address]*sync.Mutex
}

func New(reader Reader, sender TxSender, chain chaincfg.Chain, log *slog.Logger) (*Manager, error) {
	if reader == nil || sender == nil {
		return nil, fmt.Errorf("%w: nil reader/sender", ErrInvalidConfig)
	}
	if chain.ChainID == 0 || (chain.USDC == common.Address{}) || (chain.TokenMessenger == common.Address{}) {
		return nil, fmt.Errorf("%w: incomplete chain config", ErrInvalidConfig)
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &Manager{
		reader: reader,
		sender: sender,
		chain:  chain,
		log:    log,
		locks:  make(map[common.Address]*sync.Mutex),
	}, nil
}

// EnsureAllowance guarantees the token messenger may spend at least amount
// on behalf of the sender account. Returns the approval transaction hash, or
// nil when the existing allowance already suffices.
//
// A stale non-zero allowance is reset to zero and the reset confirmed before
// the new approval goes out; racing a live allowance with a direct overwrite
// opens a double-spend window against the spender.
func (m *Manager) EnsureAllowance(ctx context.Context, amount uint64) (*common.Hash, error) {
	if err := initERC20(); err != nil {
		return nil, err
	}
	if amount == 0 {
		return nil, fmt.Errorf("%w: zero amount", ErrInvalidConfig)
	}

	owner := m.sender.From()
	lock := m.ownerLock(owner)
	lock.Lock()
	defer lock.Unlock()

	current, err := m.readAllowance(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("allowance: read current allowance: %w", err)
	}

	want := new(big.Int).SetUint64(amount)
	if current.Cmp(want) >= 0 {
		return nil, nil
	}

	if current.Sign() > 0 {
		if err := m.approve(ctx, big.NewInt(0)); err != nil {
			return nil, fmt.Errorf("allowance: reset stale allowance: %w", err)
		}
	}

	grant := amount
	if grant > chaincfg.ApprovalCap {
		grant = chaincfg.ApprovalCap
	}

	txHash, err := m.approveHash(ctx, new(big.Int).SetUint64(grant))
	if err != nil {
		return nil, err
	}
	m.log.Info("granted allowance",
		"chain", m.chain.Name, "owner", owner, "spender", m.chain.TokenMessenger,
		"amount", grant, "tx", txHash)
	return &txHash, nil
}

func (m *Manager) ownerLock(owner common.Address) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[owner]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[owner] = lock
	}
	return lock
}

func (m *Manager) readAllowance(ctx context.Context, owner common.Address) (*big.Int, error) {
	data, err := erc20ABI.Pack("allowance", owner, m.chain.TokenMessenger)
	if err != nil {
		return nil, err
	}
	token := m.chain.USDC
	ret, err := m.reader.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	vals, err := erc20ABI.Unpack("allowance", ret)
	if err != nil {
		return nil, err
	}
	current, ok := vals[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("allowance: unexpected allowance return type %T", vals[0])
	}
	return current, nil
}

func (m *Manager) approve(ctx context.Context, amount *big.Int) error {
	_, err := m.approveHash(ctx, amount)
	return err
}

func (m *Manager) approveHash(ctx context.Context, amount *big.Int) (common.Hash, error) {
	data, err := erc20ABI.Pack("approve", m.chain.TokenMessenger, amount)
	if err != nil {
		return common.Hash{}, err
	}
	txHash, receipt, err := m.sender.SendAndWaitMined(ctx, eth.TxRequest{
		To:   m.chain.USDC,
		Data: data,
	})
	if err != nil {
		return common.Hash{}, err
	}
	if receipt == nil || receipt.Status != types.ReceiptStatusSuccessful {
		return common.Hash{}, fmt.Errorf("%w: tx %s", ErrApproveFailed, txHash)
	}
	return txHash, nil
}

const erc20ABIJSON = `[
  {
    "inputs": [
      {"internalType":"address","name":"owner","type":"address"},
      {"internalType":"address","name":"spender","type":"address"}
    ],
    "name":"allowance",
    "outputs":[{"internalType":"uint256","name":"","type":"uint256"}],
    "stateMutability":"view",
    "type":"function"
  },
  {
    "inputs": [
      {"internalType":"address","name":"spender","type":"address"},
      {"internalType":"uint256","name":"amount","type":"uint256"}
    ],
    "name":"approve",
    "outputs":[{"internalType":"bool","name":"","type":"bool"}],
    "stateMutability":"nonpayable",
    "type":"function"
  }
]`
