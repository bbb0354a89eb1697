// Package chaincfg is the single registry of per-chain bridge configuration.
//
// Every chain-id-keyed constant the orchestrator needs (domain ids, contract
// addresses, fee fallbacks, confirmation cadence) lives here so that the
// individual components cannot drift apart on duplicated tables.
package chaincfg

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var ErrUnsupportedChain = errors.New("chaincfg: unsupported chain")

// Network distinguishes production deployments from test deployments.
// Destination recipient identities carry the same split in their address
// version byte.
type Network uint8

const (
	NetworkNone Network = iota
	NetworkProduction
	NetworkTest
)

func (n Network) String() string {
	switch n {
	case NetworkProduction:
		return "production"
	case NetworkTest:
		return "test"
	default:
		return "none"
	}
}

// Protocol constants. These are wire-format contracts with the bridge
// deployment, not tunables.
const (
	// MinDepositAmount is the protocol minimum deposit: 10 USDC in 6-decimal
	// base units.
	MinDepositAmount uint64 = 10_000_000

	// ApprovalCap bounds any single ERC-20 approval granted to the token
	// messenger: 1,000,000 USDC in base units. Limits the blast radius of a
	// compromised spender contract.
	ApprovalCap uint64 = 1_000_000_000_000

	// DestinationDomain is the message-transmitter domain id of the
	// destination chain. Domain ids are protocol identifiers, distinct from
	// EVM chain ids.
	DestinationDomain uint32 = 9

	// DepositMaxFee is the on-chain fee ceiling passed to depositForBurn.
	// Standard-finality transfers pay no protocol fee.
	DepositMaxFee uint64 = 0
)

// Attestation service endpoints, one per network.
const (
	productionAttestationBaseURL = "https://iris-api.circle.com/v1"
	testAttestationBaseURL       = "https://iris-api-sandbox.circle.com/v1"
)

// Chain holds the full per-chain configuration.
type Chain struct {
	Name    string
	ChainID uint64
	Network Network

	// SourceDomain is this chain's message-transmitter domain id.
	SourceDomain uint32

	// TokenMessenger is the deposit/burn entrypoint contract.
	TokenMessenger common.Address

	// USDC is the burn token.
	USDC common.Address

	// FastSettlement marks chains with sub-second block cadence where a
	// larger tip buys near-immediate inclusion (rollups and sidechains).
	FastSettlement bool

	// FallbackGasPrice is the last-resort fee used when both the EIP-1559
	// fee query and the legacy gas-price query fail.
	FallbackGasPrice *big.Int

	// ConfirmationPollInterval is how often the orchestrator polls for the
	// deposit receipt on this chain.
	ConfirmationPollInterval time.Duration
}

func gwei(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000))
}

var chains = map[uint64]Chain{
	1: {
		Name:                     "ethereum",
		ChainID:                  1,
		Network:                  NetworkProduction,
		SourceDomain:             0,
		TokenMessenger:           common.HexToAddress("0xBd3fa81B58Ba92a82136038B25aDec7066af3155"),
		USDC:                     common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"),
		FastSettlement:           false,
		FallbackGasPrice:         gwei(30),
		ConfirmationPollInterval: 12 * time.Second,
	},
	10: {
		Name:                     "optimism",
		ChainID:                  10,
		Network:                  NetworkProduction,
		SourceDomain:             2,
		TokenMessenger:           common.HexToAddress("0x2B4069517957735bE00ceE0fadAE88a26365528f"),
		USDC:                     common.HexToAddress("0x0b2C639c533813f4Aa9D7837CAf62653d097Ff85"),
		FastSettlement:           true,
		FallbackGasPrice:         gwei(1),
		ConfirmationPollInterval: 2 * time.Second,
	},
	137: {
		Name:                     "polygon",
		ChainID:                  137,
		Network:                  NetworkProduction,
		SourceDomain:             7,
		TokenMessenger:           common.HexToAddress("0x9daF8c91AEFAE50b9c0E69629D3F6Ca40cA3B3FE"),
		USDC:                     common.HexToAddress("0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359"),
		FastSettlement:           true,
		FallbackGasPrice:         gwei(60),
		ConfirmationPollInterval: 4 * time.Second,
	},
	8453: {
		Name:                     "base",
		ChainID:                  8453,
		Network:                  NetworkProduction,
		SourceDomain:             6,
		TokenMessenger:           common.HexToAddress("0x1682Ae6375C4E4A97e4B583BC394c861A46D8962"),
		USDC:                     common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"),
		FastSettlement:           true,
		FallbackGasPrice:         gwei(1),
		ConfirmationPollInterval: 2 * time.Second,
	},
	42161: {
		Name:                     "arbitrum",
		ChainID:                  42161,
		Network:                  NetworkProduction,
		SourceDomain:             3,
		TokenMessenger:           common.HexToAddress("0x19330d10D9Cc8751218eaf51E8885D058642E08A"),
		USDC:                     common.HexToAddress("0xaf88d065e77c8cC2239327C5EDb3A432268e5831"),
		FastSettlement:           true,
		FallbackGasPrice:         gwei(1),
		ConfirmationPollInterval: 2 * time.Second,
	},
	43114: {
		Name:                     "avalanche",
		ChainID:                  43114,
		Network:                  NetworkProduction,
		SourceDomain:             1,
		TokenMessenger:           common.HexToAddress("0x6B25532e1060CE10cc3B0A99e5683b91BFDe6982"),
		USDC:                     common.HexToAddress("0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E"),
		FastSettlement:           false,
		FallbackGasPrice:         gwei(30),
		ConfirmationPollInterval: 3 * time.Second,
	},
	11155111: {
		Name:                     "sepolia",
		ChainID:                  11155111,
		Network:                  NetworkTest,
		SourceDomain:             0,
		TokenMessenger:           common.HexToAddress("0x9f3B8679c73C2Fef8b59B4f3444d4e156fb70AA5"),
		USDC:                     common.HexToAddress("0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238"),
		FastSettlement:           false,
		FallbackGasPrice:         gwei(20),
		ConfirmationPollInterval: 12 * time.Second,
	},
	84532: {
		Name:                     "base-sepolia",
		ChainID:                  84532,
		Network:                  NetworkTest,
		SourceDomain:             6,
		TokenMessenger:           common.HexToAddress("0x9f3B8679c73C2Fef8b59B4f3444d4e156fb70AA5"),
		USDC:                     common.HexToAddress("0x036CbD53842c5426634e7929541eC2318f3dCF7e"),
		FastSettlement:           true,
		FallbackGasPrice:         gwei(1),
		ConfirmationPollInterval: 2 * time.Second,
	},
	421614: {
		Name:                     "arbitrum-sepolia",
		ChainID:                  421614,
		Network:                  NetworkTest,
		SourceDomain:             3,
		TokenMessenger:           common.HexToAddress("0x9f3B8679c73C2Fef8b59B4f3444d4e156fb70AA5"),
		USDC:                     common.HexToAddress("0x75faf114eafb1BDbe2F0316DF893fd58CE46AA4d"),
		FastSettlement:           true,
		FallbackGasPrice:         gwei(1),
		ConfirmationPollInterval: 2 * time.Second,
	},
	43113: {
		Name:                     "avalanche-fuji",
		ChainID:                  43113,
		Network:                  NetworkTest,
		SourceDomain:             1,
		TokenMessenger:           common.HexToAddress("0xeb08f243E5d3FCFF26A9E38Ae5520A669f4019d0"),
		USDC:                     common.HexToAddress("0x5425890298aed601595a70AB815c96711a31Bc65"),
		FastSettlement:           false,
		FallbackGasPrice:         gwei(30),
		ConfirmationPollInterval: 3 * time.Second,
	},
}

// ByChainID returns the configuration for a supported source chain.
func ByChainID(id uint64) (Chain, error) {
	c, ok := chains[id]
	if !ok {
		return Chain{}, fmt.Errorf("%w: chain id %d", ErrUnsupportedChain, id)
	}
	return c, nil
}

// Supported reports whether a chain id can act as a bridge source.
func Supported(id uint64) bool {
	_, ok := chains[id]
	return ok
}

// ChainIDs returns all configured chain ids. Order is unspecified.
func ChainIDs() []uint64 {
	out := make([]uint64, 0, len(chains))
	for id := range chains {
		out = append(out, id)
	}
	return out
}

// AttestationBaseURL returns the attestation service endpoint for a network.
func AttestationBaseURL(n Network) (string, error) {
	switch n {
	case NetworkProduction:
		return productionAttestationBaseURL, nil
	case NetworkTest:
		return testAttestationBaseURL, nil
	default:
		return "", fmt.Errorf("%w: no attestation endpoint for network %q", ErrUnsupportedChain, n)
	}
}
