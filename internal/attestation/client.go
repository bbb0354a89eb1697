// Package attestation fetches signed mint authorizations for confirmed
// deposits, keyed by the keccak256 hash of the exact message bytes.
package attestation

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/stableport/bridge-orchestrator/internal/chaincfg"
)

var (
	ErrInvalidConfig    = errors.New("attestation: invalid config")
	ErrResponseTooLarge = errors.New("attestation: response too large")
	ErrBadResponse      = errors.New("attestation: unexpected service response")
)

// State is the attestation service's view of a message.
type State string

const (
	StatePending  State = "pending"
	StateComplete State = "complete"
	StateFailed   State = "failed"
)

// Response is one poll result. Attestation is set only when State is
// StateComplete.
type Response struct {
	State       State
	Attestation []byte
}

// Client fetches the current attestation state for a message hash. A
// pending message is not an error; transport and decode failures are.
type Client interface {
	Attestation(ctx context.Context, messageHash common.Hash) (Response, error)
}

type Option func(*HTTPClient) error

func WithHTTPClient(hc *http.Client) Option {
	return func(c *HTTPClient) error {
		if hc == nil {
			return fmt.Errorf("%w: nil http client", ErrInvalidConfig)
		}
		c.hc = hc
		return nil
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *HTTPClient) error {
		if d <= 0 {
			return fmt.Errorf("%w: timeout must be > 0", ErrInvalidConfig)
		}
		if c.hc == nil {
			c.hc = &http.Client{}
		}
		c.hc.Timeout = d
		return nil
	}
}

func WithMaxResponseBytes(n int64) Option {
	return func(c *HTTPClient) error {
		if n <= 0 {
			return fmt.Errorf("%w: max response bytes must be > 0", ErrInvalidConfig)
		}
		c.maxRespBytes = n
		return nil
	}
}

// HTTPClient talks to the hosted attestation API. A 404 means the service
// has not observed the message yet and maps to StatePending.
type HTTPClient struct {
	baseURL      string
	hc           *http.Client
	maxRespBytes int64
}

func NewHTTPClient(baseURL string, opts ...Option) (*HTTPClient, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("%w: missing base url", ErrInvalidConfig)
	}
	c := &HTTPClient{
		baseURL:      baseURL,
		hc:           &http.Client{Timeout: 10 * time.Second},
		maxRespBytes: 1 << 20, // 1 MiB
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// NewForNetwork builds a client against the canonical endpoint for the
// given network.
func NewForNetwork(network chaincfg.Network, opts ...Option) (*HTTPClient, error) {
	baseURL, err := chaincfg.AttestationBaseURL(network)
	if err != nil {
		return nil, err
	}
	return NewHTTPClient(baseURL, opts...)
}

func (c *HTTPClient) Attestation(ctx context.Context, messageHash common.Hash) (Response, error) {
	if messageHash == (common.Hash{}) {
		return Response{}, fmt.Errorf("%w: zero message hash", ErrInvalidConfig)
	}

	url := c.baseURL + "/attestations/" + messageHash.Hex()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Response{}, fmt.Errorf("attestation: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("attestation: http do: %w", err)
	}
	defer resp.Body.Close()

	body, err := readAllLimited(resp.Body, c.maxRespBytes)
	if err != nil {
		return Response{}, err
	}

	switch resp.StatusCode {
	case http.StatusOK:
		// Decoded below.
	case http.StatusNotFound:
		return Response{State: StatePending}, nil
	default:
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = resp.Status
		}
		return Response{}, fmt.Errorf("%w: http status %d: %s", ErrBadResponse, resp.StatusCode, msg)
	}

	var payload struct {
		Status      string `json:"status"`
		Attestation string `json:"attestation"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return Response{}, fmt.Errorf("%w: unmarshal body: %v", ErrBadResponse, err)
	}

	switch strings.ToLower(strings.TrimSpace(payload.Status)) {
	case "complete":
		sig, err := decodeHex(payload.Attestation)
		if err != nil {
			return Response{}, fmt.Errorf("%w: decode attestation hex: %v", ErrBadResponse, err)
		}
		if len(sig) == 0 {
			return Response{}, fmt.Errorf("%w: complete status with empty attestation", ErrBadResponse)
		}
		return Response{State: StateComplete, Attestation: sig}, nil
	case "pending", "pending_confirmations":
		return Response{State: StatePending}, nil
	case "failed":
		return Response{State: StateFailed}, nil
	default:
		return Response{}, fmt.Errorf("%w: unknown status %q", ErrBadResponse, payload.Status)
	}
}

func readAllLimited(r io.Reader, maxBytes int64) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("attestation: read response: %w", err)
	}
	if int64(len(b)) > maxBytes {
		return nil, ErrResponseTooLarge
	}
	return b, nil
}

func decodeHex(v string) ([]byte, error) {
	s := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(v), "0x"))
	if s == "" {
		return nil, nil
	}
	return hex.DecodeString(s)
}
