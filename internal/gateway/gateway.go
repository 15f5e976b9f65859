// Package gateway provides read-only access to ledger metadata.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/eldtechnologies/sequencer/internal/backoff"
	"github.com/eldtechnologies/sequencer/internal/metrics"
)

var (
	ErrUnavailable = errors.New("ledger gateway unavailable")
	ErrNotFound    = errors.New("transaction not found on gateway")
)

const maxBundleBytes = 64 << 20

// Gateway exposes the current confirmed ledger height.
// Implementations must be safe for concurrent use.
type Gateway interface {
	Height(ctx context.Context) (uint64, error)
}

// NetworkInfo is the subset of the gateway's /info response we read.
type NetworkInfo struct {
	Network string `json:"network"`
	Height  uint64 `json:"height"`
	Current string `json:"current"`
}

// HTTPGateway queries {BaseURL}/info.
type HTTPGateway struct {
	baseURL string
	client  *http.Client
	timeout time.Duration
	policy  backoff.Policy
}

// NewHTTPGateway creates a gateway client. Every query is bounded by timeout.
func NewHTTPGateway(baseURL string, timeout time.Duration, policy backoff.Policy) *HTTPGateway {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPGateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
		timeout: timeout,
		policy:  policy,
	}
}

// Height returns the current ledger height, retrying transient failures.
func (g *HTTPGateway) Height(ctx context.Context) (uint64, error) {
	start := time.Now()
	defer func() {
		metrics.GatewayLatency.Observe(time.Since(start).Seconds())
	}()

	var info NetworkInfo
	err := backoff.Retry(ctx, g.policy, func(int) error {
		var err error
		info, err = g.networkInfo(ctx)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return info.Height, nil
}

func (g *HTTPGateway) networkInfo(ctx context.Context) (NetworkInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	var info NetworkInfo
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/info", nil)
	if err != nil {
		return info, backoff.Stop(err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return info, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return info, err
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return info, fmt.Errorf("gateway status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return info, backoff.Stop(fmt.Errorf("gateway status %d", resp.StatusCode))
	}

	if err := json.Unmarshal(body, &info); err != nil {
		return info, backoff.Stop(fmt.Errorf("decode network info: %w", err))
	}
	return info, nil
}

// Get downloads the raw data of transaction id from {BaseURL}/{id}.
func (g *HTTPGateway) Get(ctx context.Context, id string) ([]byte, error) {
	if id == "" || strings.ContainsAny(id, "/?#") {
		return nil, fmt.Errorf("%w: invalid id %q", ErrNotFound, id)
	}

	var data []byte
	err := backoff.Retry(ctx, g.policy, func(int) error {
		var err error
		data, err = g.fetch(ctx, id)
		return err
	})
	if errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return data, nil
}

func (g *HTTPGateway) fetch(ctx context.Context, id string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/"+id, nil)
	if err != nil {
		return nil, backoff.Stop(err)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, backoff.Stop(fmt.Errorf("%w: %s", ErrNotFound, id))
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("gateway status %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, backoff.Stop(fmt.Errorf("gateway status %d", resp.StatusCode))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBundleBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxBundleBytes {
		return nil, backoff.Stop(fmt.Errorf("transaction %s exceeds %d bytes", id, maxBundleBytes))
	}
	return data, nil
}
