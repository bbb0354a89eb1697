// attestation-worker completes recorded transfers: it consumes pending
// transfer events, polls the attestation service for each message hash with
// exponential backoff, persists the attestation, and publishes the
// completion event. On startup it sweeps the store once so transfers that
// were pending across a restart are resumed without replaying the queue.
package main

import (
	"context"
	"errors"
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
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stableport/bridge-orchestrator/internal/archive"
	"github.com/stableport/bridge-orchestrator/internal/attestation"
	"github.com/stableport/bridge-orchestrator/internal/bridge"
	bridgepg "github.com/stableport/bridge-orchestrator/internal/bridge/postgres"
	"github.com/stableport/bridge-orchestrator/internal/chaincfg"
	"github.com/stableport/bridge-orchestrator/internal/queue"
)

func main() {
	var (
		network            = flag.String("network", "production", "attestation network: production|test")
		attestationBaseURL = flag.String("attestation-base-url", "", "override the attestation service base URL")
		httpTimeout        = flag.Duration("http-timeout", 10*time.Second, "attestation request timeout")

		pollInitialDelay = flag.Duration("poll-initial-delay", 2*time.Second, "first backoff delay between attestation polls")
		pollMaxDelay     = flag.Duration("poll-max-delay", 60*time.Second, "backoff delay ceiling")
		pollMaxRetries   = flag.Int("poll-max-retries", 10, "retry budget per message hash")

		postgresDSN = flag.String("postgres-dsn", "", "Postgres DSN (required)")

		queueDriver   = flag.String("queue-driver", queue.DriverKafka, "queue driver: kafka|stdio")
		queueBrokers  = flag.String("queue-brokers", "", "comma-separated queue brokers (required for kafka)")
		queueGroup    = flag.String("queue-group", "attestation-worker", "queue consumer group (required for kafka)")
		maxLineBytes  = flag.Int("max-line-bytes", 1<<20, "maximum stdin line size for stdio driver (bytes)")
		queueMaxBytes = flag.Int("queue-max-bytes", 10<<20, "maximum kafka message size for consumer reads (bytes)")
		ackTimeout    = flag.Duration("queue-ack-timeout", 5*time.Second, "timeout for queue message acknowledgements")
		publish       = flag.Bool("publish-completed", true, "publish completion events back to the queue")

		recoveryBatch = flag.Int("recovery-batch", 100, "maximum pending transfers swept per startup recovery pass")

		archiveDriver = flag.String("archive-driver", "", "optional attestation archive driver: s3|memory (empty disables archiving)")
		archiveBucket = flag.String("archive-bucket", "", "S3 bucket for the attestation archive (required for s3)")
		archivePrefix = flag.String("archive-prefix", "", "key prefix for archived documents")
	)
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if strings.TrimSpace(*postgresDSN) == "" {
		fmt.Fprintln(os.Stderr, "error: --postgres-dsn is required")
		os.Exit(2)
	}
	if *recoveryBatch <= 0 || *maxLineBytes <= 0 || *queueMaxBytes <= 0 {
		fmt.Fprintln(os.Stderr, "error: --recovery-batch, --max-line-bytes, and --queue-max-bytes must be > 0")
		os.Exit(2)
	}
	if *ackTimeout <= 0 || *httpTimeout <= 0 {
		fmt.Fprintln(os.Stderr, "error: --queue-ack-timeout and --http-timeout must be > 0")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := initAttestationClient(*network, *attestationBaseURL, *httpTimeout)
	if err != nil {
		log.Error("init attestation client", "err", err)
		os.Exit(2)
	}
	poller, err := attestation.NewPoller(attestation.PollerConfig{
		Client:       client,
		InitialDelay: *pollInitialDelay,
		MaxDelay:     *pollMaxDelay,
		MaxRetries:   *pollMaxRetries,
		Log:          log,
	})
	if err != nil {
		log.Error("init attestation poller", "err", err)
		os.Exit(2)
	}

	pool, err := pgxpool.New(ctx, *postgresDSN)
	if err != nil {
		log.Error("init pgx pool", "err", err)
		os.Exit(2)
	}
	defer pool.Close()
	store, err := bridgepg.New(pool)
	if err != nil {
		log.Error("init transfer store", "err", err)
		os.Exit(2)
	}
	if err := store.EnsureSchema(ctx); err != nil {
		log.Error("ensure transfer schema", "err", err)
		os.Exit(2)
	}

	var producer queue.Producer
	if *publish {
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

	worker, err := bridge.NewWorker(bridge.WorkerConfig{
		RecoveryBatchSize: *recoveryBatch,
		AckTimeout:        *ackTimeout,
		Log:               log,
	}, store, poller, producer, archiver)
	if err != nil {
		log.Error("init worker", "err", err)
		os.Exit(2)
	}

	consumer, err := queue.NewConsumer(ctx, queue.ConsumerConfig{
		Driver:        *queueDriver,
		Brokers:       queue.SplitCommaList(*queueBrokers),
		Group:         *queueGroup,
		Topics:        []string{bridge.TopicTransferPending},
		KafkaMaxBytes: *queueMaxBytes,
		MaxLineBytes:  *maxLineBytes,
		StdioTopic:    bridge.TopicTransferPending,
	})
	if err != nil {
		log.Error("init queue consumer", "err", err)
		os.Exit(2)
	}
	defer func() { _ = consumer.Close() }()

	log.Info("attestation worker started",
		"network", *network,
		"queueDriver", *queueDriver,
		"recoveryBatch", *recoveryBatch,
		"pollMaxRetries", *pollMaxRetries,
	)

	if err := worker.RecoverPending(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		log.Error("recover pending transfers", "err", err)
		os.Exit(1)
	}

	if err := worker.Run(ctx, consumer); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("worker stopped", "err", err)
		os.Exit(1)
	}
	log.Info("shutdown", "reason", ctx.Err())
}

func initAttestationClient(network, baseURL string, timeout time.Duration) (attestation.Client, error) {
	if strings.TrimSpace(baseURL) != "" {
		return attestation.NewHTTPClient(baseURL, attestation.WithTimeout(timeout))
	}
	switch strings.ToLower(strings.TrimSpace(network)) {
	case "production":
		return attestation.NewForNetwork(chaincfg.NetworkProduction, attestation.WithTimeout(timeout))
	case "test":
		return attestation.NewForNetwork(chaincfg.NetworkTest, attestation.WithTimeout(timeout))
	default:
		return nil, fmt.Errorf("unsupported --network %q", network)
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
