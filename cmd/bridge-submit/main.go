// bridge-submit submits one burn deposit: it validates the request, tops up
// the token messenger allowance if needed, broadcasts depositForBurn, waits
// for confirmation, and records the transfer with its extracted message hash.
// The resulting transfer record is printed as JSON on stdout; the
// attestation-worker completes the transfer asynchronously.
package main

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stableport/bridge-orchestrator/internal/allowance"
	"github.com/stableport/bridge-orchestrator/internal/archive"
	"github.com/stableport/bridge-orchestrator/internal/bridge"
	bridgepg "github.com/stableport/bridge-orchestrator/internal/bridge/postgres"
	"github.com/stableport/bridge-orchestrator/internal/chaincfg"
	"github.com/stableport/bridge-orchestrator/internal/eth"
	"github.com/stableport/bridge-orchestrator/internal/queue"
	"github.com/stableport/bridge-orchestrator/internal/secrets"
)

type transferOutput struct {
	ChainID        uint64 `json:"chainId"`
	TxHash         string `json:"txHash"`
	ApprovalTxHash string `json:"approvalTxHash,omitempty"`
	MessageHash    string `json:"messageHash"`
	Network        string `json:"network"`
	Status         string `json:"status"`
	Amount         uint64 `json:"amount"`
	Recipient      string `json:"recipient"`
	MinAmountOut   uint64 `json:"minAmountOut"`
	CreatedAt      string `json:"createdAt"`
}

func main() {
	var (
		rpcURL  = flag.String("rpc-url", "", "source chain JSON-RPC endpoint (required)")
		chainID = flag.Uint64("chain-id", 0, "source chain id (required)")

		amount       = flag.Uint64("amount", 0, "deposit amount in 6-decimal base units (required)")
		recipient    = flag.String("recipient", "", "destination recipient in base58check form (required)")
		slippageBps  = flag.Int("slippage-bps", 50, "slippage tolerance in basis points (10-100)")
		minAmountOut = flag.Uint64("min-amount-out", 0, "explicit minimum destination amount; overrides --slippage-bps when set")

		signerKeyEnv    = flag.String("signer-key-env", "BRIDGE_SIGNER_KEY", "env var holding the hex signer key")
		signerKeySecret = flag.String("signer-key-secret", "", "AWS Secrets Manager id holding the signer key; overrides --signer-key-env")

		storeDriver = flag.String("store-driver", "memory", "transfer store driver: postgres|memory")
		postgresDSN = flag.String("postgres-dsn", "", "Postgres DSN (required when --store-driver=postgres)")

		queueDriver  = flag.String("queue-driver", "", "optional event queue driver: kafka|stdio (empty disables publishing)")
		queueBrokers = flag.String("queue-brokers", "", "comma-separated queue brokers (required for kafka)")

		archiveDriver = flag.String("archive-driver", "", "optional receipt archive driver: s3|memory (empty disables archiving)")
		archiveBucket = flag.String("archive-bucket", "", "S3 bucket for the receipt archive (required for s3)")
		archivePrefix = flag.String("archive-prefix", "", "key prefix for archived documents")

		fallbackGasLimit = flag.Uint64("fallback-gas-limit", 220_000, "gas limit used when estimation fails")
		submitTimeout    = flag.Duration("submit-timeout", 10*time.Minute, "end-to-end deadline for the deposit flow")
	)
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if *rpcURL == "" || *chainID == 0 || *amount == 0 || *recipient == "" {
		fmt.Fprintln(os.Stderr, "error: --rpc-url, --chain-id, --amount, and --recipient are required")
		os.Exit(2)
	}
	if *submitTimeout <= 0 || *fallbackGasLimit == 0 {
		fmt.Fprintln(os.Stderr, "error: --submit-timeout and --fallback-gas-limit must be > 0")
		os.Exit(2)
	}

	chain, err := chaincfg.ByChainID(*chainID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	key, err := loadSignerKey(ctx, *signerKeySecret, *signerKeyEnv)
	if err != nil {
		log.Error("load signer key", "err", err)
		os.Exit(2)
	}
	signer := eth.NewLocalSigner(key)

	client, err := ethclient.DialContext(ctx, *rpcURL)
	if err != nil {
		log.Error("dial rpc", "url", *rpcURL, "err", err)
		os.Exit(2)
	}
	defer client.Close()

	fees, err := eth.NewFeeEstimator(client, log)
	if err != nil {
		log.Error("init fee estimator", "err", err)
		os.Exit(2)
	}
	sender, err := eth.NewSender(client, signer, fees, chain, eth.SenderConfig{
		FallbackGasLimit: *fallbackGasLimit,
		Log:              log,
	})
	if err != nil {
		log.Error("init sender", "err", err)
		os.Exit(2)
	}
	allowanceMgr, err := allowance.New(client, sender, chain, log)
	if err != nil {
		log.Error("init allowance manager", "err", err)
		os.Exit(2)
	}

	store, cleanup, err := initStore(ctx, *storeDriver, *postgresDSN, log)
	if err != nil {
		log.Error("init transfer store", "err", err)
		os.Exit(2)
	}
	defer cleanup()

	var producer queue.Producer
	if strings.TrimSpace(*queueDriver) != "" {
		producer, err = queue.NewProducer(queue.ProducerConfig{
			Driver:  *queueDriver,
			Brokers: queue.SplitCommaList(*queueBrokers),
		})
		if err != nil {
			log.Error("init queue producer", "err", err)
			os.Exit(2)
		}
		defer func() { _ = producer.Close() }()
	}

	archiver, err := initArchive(ctx, *archiveDriver, *archiveBucket, *archivePrefix)
	if err != nil {
		log.Error("init archive", "err", err)
		os.Exit(2)
	}

	orch, err := bridge.NewOrchestrator(bridge.OrchestratorConfig{
		Chain: chain,
		Log:   log,
	}, allowanceMgr, sender, store, producer, archiver)
	if err != nil {
		log.Error("init orchestrator", "err", err)
		os.Exit(2)
	}

	log.Info("submitting deposit",
		"chain", chain.Name,
		"from", sender.From(),
		"amount", *amount,
		"recipient", *recipient,
	)

	cctx, cancel := context.WithTimeout(ctx, *submitTimeout)
	defer cancel()
	tx, err := orch.Bridge(cctx, bridge.Request{
		Amount:       *amount,
		Recipient:    *recipient,
		ChainID:      *chainID,
		MinAmountOut: *minAmountOut,
		SlippageBps:  *slippageBps,
	})
	if err != nil {
		log.Error("bridge deposit", "err", err)
		os.Exit(1)
	}

	out := transferOutput{
		ChainID:      tx.ChainID,
		TxHash:       tx.TxHash.Hex(),
		MessageHash:  tx.MessageHash.Hex(),
		Network:      tx.Network.String(),
		Status:       tx.Status.String(),
		Amount:       tx.Amount,
		Recipient:    tx.Recipient,
		MinAmountOut: tx.MinAmountOut,
		CreatedAt:    tx.CreatedAt.Format(time.RFC3339),
	}
	if tx.ApprovalTxHash != nil {
		out.ApprovalTxHash = tx.ApprovalTxHash.Hex()
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		log.Error("encode output", "err", err)
		os.Exit(1)
	}
}

func loadSignerKey(ctx context.Context, secretID, envKey string) (*ecdsa.PrivateKey, error) {
	if strings.TrimSpace(secretID) != "" {
		provider, err := secrets.NewAWS(ctx)
		if err != nil {
			return nil, err
		}
		return secrets.SignerKey(ctx, provider, secretID)
	}
	return secrets.SignerKey(ctx, secrets.NewEnv(), envKey)
}

func initStore(ctx context.Context, driver, dsn string, log *slog.Logger) (bridge.Store, func(), error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "postgres":
		if strings.TrimSpace(dsn) == "" {
			return nil, nil, fmt.Errorf("--postgres-dsn is required when --store-driver=postgres")
		}
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("init pgx pool: %w", err)
		}
		pgStore, err := bridgepg.New(pool)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		if err := pgStore.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return pgStore, pool.Close, nil
	case "memory":
		return bridge.NewMemoryStore(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unsupported --store-driver %q", driver)
	}
}

func initArchive(ctx context.Context, driver, bucket, prefix string) (archive.Store, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "":
		return nil, nil
	case archive.DriverMemory:
		return archive.New(archive.Config{
			Driver: archive.DriverMemory,
			Prefix: prefix,
		})
	case archive.DriverS3:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		return archive.New(archive.Config{
			Driver:   archive.DriverS3,
			Prefix:   prefix,
			Bucket:   bucket,
			S3Client: s3.NewFromConfig(awsCfg),
		})
	default:
		return nil, fmt.Errorf("unsupported --archive-driver %q", driver)
	}
}
