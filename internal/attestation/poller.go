package attestation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/stableport/bridge-orchestrator/internal/eth"
)

var (
	// ErrAttestationTimeout means the retry budget ran out while the
	// service still reported the message pending or unreachable.
	ErrAttestationTimeout = errors.New("attestation: retry budget exhausted")

	// ErrAttestationFailed means the service terminally rejected the
	// message. Retrying cannot succeed.
	ErrAttestationFailed = errors.New("attestation: service reported failure")
)

// StateFetching marks an in-flight poll in Status snapshots.
const StateFetching State = "fetching"

// Status is the poller's record of one message.
type Status struct {
	MessageHash common.Hash
	State       State
	Attempts    int
	LastAttempt time.Time
	Attestation []byte
	LastError   string
}

type PollerConfig struct {
	Client Client

	// InitialDelay is the wait after the first pending attempt; each
	// subsequent wait is multiplied by BackoffMultiplier up to MaxDelay.
	InitialDelay      time.Duration
	BackoffMultiplier int
	MaxDelay          time.Duration

	// MaxRetries bounds the attempts made after the first one, so a
	// budget of n allows n+1 calls in total. Transport errors spend the
	// budget the same way pending responses do.
	MaxRetries int

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error

	Log *slog.Logger
}

// Poller polls the attestation service with exponential backoff and keeps
// completed attestations so repeat lookups never touch the network.
type Poller struct {
	cfg PollerConfig

	mu   sync.Mutex
	done map[common.Hash]Status
}

func NewPoller(cfg PollerConfig) (*Poller, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("%w: client is required", ErrInvalidConfig)
	}
	if cfg.InitialDelay < 0 || cfg.MaxDelay < 0 || cfg.BackoffMultiplier < 0 || cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("%w: negative retry parameter", ErrInvalidConfig)
	}
	if cfg.InitialDelay == 0 {
		cfg.InitialDelay = 2 * time.Second
	}
	if cfg.BackoffMultiplier == 0 {
		cfg.BackoffMultiplier = 2
	}
	if cfg.MaxDelay == 0 {
		cfg.MaxDelay = 60 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 10
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Sleep == nil {
		cfg.Sleep = eth.SleepCtx
	}
	if cfg.Log == nil {
		cfg.Log = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &Poller{
		cfg:  cfg,
		done: make(map[common.Hash]Status),
	}, nil
}

// FetchWithRetry blocks until the message is attested, the service reports
// a terminal failure, the retry budget runs out, or ctx is cancelled. A
// previously completed message returns from cache without any network
// calls.
func (p *Poller) FetchWithRetry(ctx context.Context, messageHash common.Hash) (Status, error) {
	if messageHash == (common.Hash{}) {
		return Status{}, fmt.Errorf("%w: zero message hash", ErrInvalidConfig)
	}

	if st, ok := p.cached(messageHash); ok {
		return st, nil
	}

	st := Status{
		MessageHash: messageHash,
		State:       StateFetching,
	}
	delay := p.cfg.InitialDelay

	for {
		st.Attempts++
		st.LastAttempt = p.cfg.Now().UTC()

		resp, err := p.cfg.Client.Attestation(ctx, messageHash)
		switch {
		case err != nil:
			st.LastError = err.Error()
			p.cfg.Log.Warn("attestation fetch failed",
				"message_hash", messageHash, "attempt", st.Attempts, "err", err)
		case resp.State == StateComplete:
			st.State = StateComplete
			st.Attestation = append([]byte(nil), resp.Attestation...)
			st.LastError = ""
			p.store(st)
			p.cfg.Log.Info("attestation complete",
				"message_hash", messageHash, "attempts", st.Attempts)
			return st, nil
		case resp.State == StateFailed:
			st.State = StateFailed
			st.LastError = ErrAttestationFailed.Error()
			return st, fmt.Errorf("%w: message %s after %d attempts", ErrAttestationFailed, messageHash, st.Attempts)
		default:
			// Pending: spend a retry and wait.
		}

		if st.Attempts > p.cfg.MaxRetries {
			st.State = StateFailed
			err := fmt.Errorf("%w: message %s still unattested after %d attempts", ErrAttestationTimeout, messageHash, st.Attempts)
			if st.LastError != "" {
				err = fmt.Errorf("%w (last error: %s)", err, st.LastError)
			}
			return st, err
		}

		if err := p.cfg.Sleep(ctx, delay); err != nil {
			return st, err
		}
		delay *= time.Duration(p.cfg.BackoffMultiplier)
		if delay > p.cfg.MaxDelay {
			delay = p.cfg.MaxDelay
		}
	}
}

// Completed returns the cached status for an already attested message.
func (p *Poller) Completed(messageHash common.Hash) (Status, bool) {
	return p.cached(messageHash)
}

func (p *Poller) cached(messageHash common.Hash) (Status, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.done[messageHash]
	if !ok {
		return Status{}, false
	}
	st.Attestation = append([]byte(nil), st.Attestation...)
	return st, true
}

func (p *Poller) store(st Status) {
	cp := st
	cp.Attestation = append([]byte(nil), st.Attestation...)
	p.mu.Lock()
	p.done[st.MessageHash] = cp
	p.mu.Unlock()
}
