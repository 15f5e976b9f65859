package uploader

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/sequencer/internal/metrics"
	"github.com/eldtechnologies/sequencer/internal/models"
)

// ReceiptCache remembers receipts by idempotency key. GetReceipt returns nil
// and no error when the key is unknown. store.RedisStore implements it with
// a 24 hour TTL.
type ReceiptCache interface {
	GetReceipt(ctx context.Context, key string) (*models.Receipt, error)
	PutReceipt(ctx context.Context, key string, r *models.Receipt) error
}

// CachedUploader answers repeated uploads of the same binary from a
// ReceiptCache instead of the network.
//
// A hit needs byte-identical input. The write pipeline builds a fresh bundle
// per request, so its own retries never hit; hits come from callers that
// re-upload a bundle they already hold, for example after a timeout that hid
// a successful upload. With a shared Redis cache those callers may be other
// replicas.
type CachedUploader struct {
	next  Uploader
	cache ReceiptCache
	log   zerolog.Logger
}

// WithCache wraps next with cache. Cache failures are logged to logger.
func WithCache(next Uploader, cache ReceiptCache, logger zerolog.Logger) *CachedUploader {
	return &CachedUploader{next: next, cache: cache, log: logger}
}

// Upload returns the cached receipt for binary if there is one. Cache
// failures fall through to the wrapped uploader.
func (u *CachedUploader) Upload(ctx context.Context, binary []byte) (*models.Receipt, error) {
	key := IdempotencyKey(binary)
	r, err := u.cache.GetReceipt(ctx, key)
	switch {
	case err != nil:
		metrics.ReceiptCacheErrors.WithLabelValues("get").Inc()
		u.log.Warn().Err(err).Str("key", key).Msg("receipt cache read failed")
	case r != nil:
		metrics.Uploads.WithLabelValues("cached").Inc()
		return r, nil
	}

	r, err = u.next.Upload(ctx, binary)
	if err != nil {
		return nil, err
	}
	if err := u.cache.PutReceipt(ctx, key, r); err != nil {
		metrics.ReceiptCacheErrors.WithLabelValues("put").Inc()
		u.log.Warn().Err(err).Str("key", key).Str("receipt", r.ID).Msg("receipt cache write failed")
	}
	return r, nil
}
