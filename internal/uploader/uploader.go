// Package uploader commits bundle binaries to the ledger's upload service.
package uploader

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/eldtechnologies/sequencer/internal/backoff"
	"github.com/eldtechnologies/sequencer/internal/cidutil"
	"github.com/eldtechnologies/sequencer/internal/metrics"
	"github.com/eldtechnologies/sequencer/internal/models"
)

var (
	ErrRejected    = errors.New("upload rejected")
	ErrBadReceipt  = errors.New("malformed upload receipt")
	ErrUnavailable = errors.New("upload service unavailable")
)

// IdempotencyHeader carries the content id of the uploaded binary so the
// service can collapse retries of the same bundle.
const IdempotencyHeader = "Idempotency-Key"

// UploadError is returned by every failed upload.
type UploadError struct {
	Key    string // idempotency key of the binary
	Status int    // last HTTP status seen, 0 if none
	Err    error
}

func (e *UploadError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("upload %s (status %d): %v", e.Key, e.Status, e.Err)
	}
	return fmt.Sprintf("upload %s: %v", e.Key, e.Err)
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

// Uploader durably commits a binary and returns the service's receipt.
// Calling Upload more than once with the same binary must not produce
// conflicting ledger state. Implementations must be safe for concurrent use.
type Uploader interface {
	Upload(ctx context.Context, binary []byte) (*models.Receipt, error)
}

// IdempotencyKey returns the content id used to deduplicate uploads of binary.
func IdempotencyKey(binary []byte) string {
	return cidutil.String(binary)
}

// HTTPUploader posts binaries to {endpoint}/tx.
type HTTPUploader struct {
	endpoint string
	client   *http.Client
	timeout  time.Duration
	policy   backoff.Policy
}

// NewHTTPUploader creates an uploader. Each attempt is bounded by timeout;
// transient failures are retried according to policy under the same key.
func NewHTTPUploader(endpoint string, timeout time.Duration, policy backoff.Policy) *HTTPUploader {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPUploader{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   &http.Client{},
		timeout:  timeout,
		policy:   policy,
	}
}

// Upload posts binary and decodes the receipt.
func (u *HTTPUploader) Upload(ctx context.Context, binary []byte) (*models.Receipt, error) {
	start := time.Now()
	defer func() {
		metrics.UploadDuration.Observe(time.Since(start).Seconds())
	}()

	key := IdempotencyKey(binary)
	var (
		receipt *models.Receipt
		status  int
	)
	err := backoff.Retry(ctx, u.policy, func(attempt int) error {
		if attempt > 0 {
			metrics.Uploads.WithLabelValues("retry").Inc()
		}
		var err error
		receipt, status, err = u.post(ctx, key, binary)
		return err
	})
	if err != nil {
		if !errors.Is(err, ErrRejected) && !errors.Is(err, ErrBadReceipt) {
			err = fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		if errors.Is(err, ErrRejected) {
			metrics.Uploads.WithLabelValues("rejected").Inc()
		} else {
			metrics.Uploads.WithLabelValues("failed").Inc()
		}
		return nil, &UploadError{Key: key, Status: status, Err: err}
	}

	metrics.Uploads.WithLabelValues("ok").Inc()
	return receipt, nil
}

// retryable reports whether a status may succeed if sent again.
func retryable(status int) bool {
	switch status {
	case http.StatusRequestTimeout, http.StatusTooEarly, http.StatusTooManyRequests:
		return true
	}
	return status >= 500
}

func (u *HTTPUploader) post(ctx context.Context, key string, binary []byte) (*models.Receipt, int, error) {
	ctx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.endpoint+"/tx", bytes.NewReader(binary))
	if err != nil {
		return nil, 0, backoff.Stop(err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(IdempotencyHeader, key)

	resp, err := u.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, resp.StatusCode, err
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	case retryable(resp.StatusCode):
		return nil, resp.StatusCode, fmt.Errorf("upload status %d", resp.StatusCode)
	default:
		return nil, resp.StatusCode, backoff.Stop(fmt.Errorf("%w: status %d: %s",
			ErrRejected, resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var receipt models.Receipt
	if err := json.Unmarshal(body, &receipt); err != nil {
		return nil, resp.StatusCode, backoff.Stop(fmt.Errorf("%w: %v", ErrBadReceipt, err))
	}
	if receipt.ID == "" {
		return nil, resp.StatusCode, backoff.Stop(fmt.Errorf("%w: missing id", ErrBadReceipt))
	}
	return &receipt, resp.StatusCode, nil
}
