// Package cctp owns the wire-format contracts with the burn/mint message
// protocol: the depositForBurn calldata layout and the MessageSent event.
package cctp

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var ErrInvalidInput = errors.New("cctp: invalid input")

// MessageSentTopic is topic[0] of the message transmitter's
// MessageSent(bytes) event.
var MessageSentTopic = crypto.Keccak256Hash([]byte("MessageSent(bytes)"))

var (
	initOnce sync.Once
	initErr  error

	messengerABI abi.ABI
)

func initABI() error {
	initOnce.Do(func() {
		var err error
		messengerABI, err = abi.JSON(strings.NewReader(depositForBurnABIJSON))
		if err != nil {
			initErr = fmt.Errorf("cctp: parse depositForBurn ABI: %w", err)
		}
	})
	return initErr
}

// PackDepositForBurn builds the token messenger deposit calldata.
func PackDepositForBurn(amount *big.Int, destinationDomain uint32, mintRecipient [32]byte, burnToken common.Address, maxFee *big.Int, hookData []byte) ([]byte, error) {
	if err := initABI(); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amount must be > 0", ErrInvalidInput)
	}
	if maxFee == nil || maxFee.Sign() < 0 {
		return nil, fmt.Errorf("%w: maxFee must be >= 0", ErrInvalidInput)
	}
	if (burnToken == common.Address{}) {
		return nil, fmt.Errorf("%w: burnToken must be non-zero", ErrInvalidInput)
	}
	if mintRecipient == ([32]byte{}) {
		return nil, fmt.Errorf("%w: mintRecipient must be non-zero", ErrInvalidInput)
	}
	if hookData == nil {
		hookData = []byte{}
	}

	b, err := messengerABI.Pack("depositForBurn", amount, destinationDomain, mintRecipient, burnToken, maxFee, hookData)
	if err != nil {
		return nil, fmt.Errorf("cctp: pack depositForBurn calldata: %w", err)
	}
	return b, nil
}

const depositForBurnABIJSON = `[
  {
    "inputs": [
      {"internalType":"uint256","name":"amount","type":"uint256"},
      {"internalType":"uint32","name":"destinationDomain","type":"uint32"},
      {"internalType":"bytes32","name":"mintRecipient","type":"bytes32"},
      {"internalType":"address","name":"burnToken","type":"address"},
      {"internalType":"uint256","name":"maxFee","type":"uint256"},
      {"internalType":"bytes","name":"hookData","type":"bytes"}
    ],
    "name":"depositForBurn",
    "outputs":[],
    "stateMutability":"nonpayable",
    "type":"function"
  }
]`
