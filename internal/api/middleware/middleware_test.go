package middleware

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	dto "github.com/prometheus/client_model/go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/sequencer/internal/bundle"
	"github.com/eldtechnologies/sequencer/internal/crypto"
	"github.com/eldtechnologies/sequencer/internal/metrics"
	"github.com/eldtechnologies/sequencer/internal/models"
)

var ok = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write([]byte("{}"))
})

func counterValue(t *testing.T, c interface{ Write(*dto.Metric) error }) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestMetricsLabelsRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Metrics)
	r.Get("/message/{id}", func(w http.ResponseWriter, r *http.Request) {})

	matched := metrics.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/message/{id}", "200")
	unmatched := metrics.HTTPRequestsTotal.WithLabelValues(http.MethodGet, unmatchedRoute, "404")
	beforeMatched, beforeUnmatched := counterValue(t, matched), counterValue(t, unmatched)

	for _, path := range []string{"/message/a", "/message/b", "/nowhere/x"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Equal(t, beforeMatched+2, counterValue(t, matched))
	assert.Equal(t, beforeUnmatched+1, counterValue(t, unmatched))
}

func TestValidateRequest(t *testing.T) {
	h := ValidateRequest(ok)

	tests := []struct {
		name, method, target, contentType, body string
		want                                    int
	}{
		{"item", http.MethodPost, "/message", "application/json", "{}", http.StatusCreated},
		{"item with charset", http.MethodPost, "/process", "application/json; charset=utf-8", "{}", http.StatusCreated},
		{"item as binary", http.MethodPost, "/", "application/octet-stream", "x", http.StatusUnsupportedMediaType},
		{"item as text", http.MethodPost, "/message", "text/plain", "x", http.StatusUnsupportedMediaType},
		{"bundle", http.MethodPost, "/recover", "application/octet-stream", "x", http.StatusCreated},
		{"bundle as json", http.MethodPost, "/recover", "application/json", "{}", http.StatusUnsupportedMediaType},
		{"empty body", http.MethodPost, "/message", "", "", http.StatusCreated},
		{"recover by id", http.MethodPost, "/recover/bafkreiabc", "", "", http.StatusCreated},
		{"recover by id with body", http.MethodPost, "/recover/bafkreiabc", "application/octet-stream", "x", http.StatusBadRequest},
		{"message id", http.MethodGet, "/message/Abc-_123", "", "", http.StatusCreated},
		{"traversal", http.MethodGet, "/message/..%2Fetc", "", "", http.StatusBadRequest},
		{"script in id", http.MethodGet, "/processes/%3Cscript%3E", "", "", http.StatusBadRequest},
		{"cursors", http.MethodGet, "/messages/p1?from=01HV&to=01HZ", "", "", http.StatusCreated},
		{"empty cursor", http.MethodGet, "/messages/p1?from=", "", "", http.StatusCreated},
		{"bad cursor", http.MethodGet, "/messages/p1?to=a%20b", "", "", http.StatusBadRequest},
		{"long id", http.MethodGet, "/message/" + strings.Repeat("a", maxIDLength+1), "", "", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.target, strings.NewReader(tt.body))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
			if tt.want >= 400 {
				assert.Contains(t, rec.Body.String(), `"kind":"input"`)
			}
		})
	}
}

func TestMaxBodySize(t *testing.T) {
	h := MaxBodySize(4)(ok)
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("too large"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityHeaders(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/timestamp", nil))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Contains(t, rec.Header().Get("Content-Security-Policy"), "default-src 'none'")
}

func TestLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	fail := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	Logger(logger)(fail).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/timestamp", nil))

	out := buf.String()
	assert.Contains(t, out, `"level":"error"`)
	assert.Contains(t, out, `"status":502`)
	assert.Contains(t, out, `"path":"/timestamp"`)
}

func newTestLimiter(whitelist ...string) *RateLimiter {
	// The client is never dialled by the tests that use this.
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	return NewRateLimiter(client, zerolog.Nop(), RateLimiterConfig{Whitelist: whitelist})
}

func TestFindLimit(t *testing.T) {
	rl := newTestLimiter()

	tests := []struct {
		method, path string
		want         int // requests per window, 0 for no limit
		scope        Scope
	}{
		{http.MethodPost, "/", 60, ScopeOwner},
		{http.MethodPost, "/message", 120, ScopeOwner},
		{http.MethodPost, "/process", 10, ScopeOwner},
		{http.MethodPost, "/recover/abc", 30, ScopeIP},
		{http.MethodGet, "/messages/p1", 300, ScopeIP},
		{http.MethodGet, "/message/m1", 600, ScopeIP},
		{http.MethodGet, "/health", 0, ScopeIP},
		{http.MethodPost, "/unknown", 0, ScopeIP},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(tt.method, tt.path, nil)
		_, limit, found := rl.findLimit(req)
		if tt.want == 0 {
			assert.False(t, found, tt.path)
			continue
		}
		require.True(t, found, tt.path)
		assert.Equal(t, tt.want, limit.Requests, tt.method+" "+tt.path)
		assert.Equal(t, tt.scope, limit.Scope, tt.method+" "+tt.path)
	}
}

func TestWhitelist(t *testing.T) {
	rl := newTestLimiter("10.0.0.0/8", "192.168.1.5", "2001:db8::1", "not-a-cidr/99")

	assert.True(t, rl.isWhitelisted("10.1.2.3"))
	assert.True(t, rl.isWhitelisted("192.168.1.5"))
	assert.True(t, rl.isWhitelisted("2001:db8::1"))
	assert.False(t, rl.isWhitelisted("192.168.1.6"))
	assert.False(t, rl.isWhitelisted("garbage"))
}

func TestRealIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "1.2.3.4:5678"
	assert.Equal(t, "1.2.3.4", RealIP(req))

	req.Header.Set("X-Forwarded-For", "9.9.9.9, 8.8.8.8")
	assert.Equal(t, "9.9.9.9", RealIP(req))

	req.Header.Set("Fly-Client-IP", "7.7.7.7")
	assert.Equal(t, "7.7.7.7", RealIP(req))
}

func newSigner(t *testing.T) *crypto.Ed25519Signer {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return crypto.NewEd25519Signer(crypto.NewWallet(priv))
}

func signedItem(t *testing.T, signer crypto.Signer, data string) (*bundle.DataItem, []byte) {
	t.Helper()
	it := &bundle.DataItem{
		Tags: []models.Tag{{Name: bundle.TypeTag, Value: bundle.TypeProcess}},
		Data: []byte(data),
	}
	require.NoError(t, it.Sign(signer))
	raw, err := json.Marshal(it)
	require.NoError(t, err)
	return it, raw
}

func TestSubject(t *testing.T) {
	it, raw := signedItem(t, newSigner(t), "module")

	post := func(body []byte) *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/process", bytes.NewReader(body))
		req.RemoteAddr = "1.2.3.4:5678"
		return req
	}

	t.Run("signed item is charged to its owner", func(t *testing.T) {
		req := post(raw)
		assert.Equal(t, "owner:"+it.Owner, subject(req, ScopeOwner))

		// The handler still sees the whole body.
		body, err := io.ReadAll(req.Body)
		require.NoError(t, err)
		assert.Equal(t, raw, body)
	})

	t.Run("ip scope ignores the body", func(t *testing.T) {
		assert.Equal(t, "ip:1.2.3.4", subject(post(raw), ScopeIP))
	})

	t.Run("claimed owner without a valid signature", func(t *testing.T) {
		forged := *it
		forged.Data = []byte("other")
		body, err := json.Marshal(&forged)
		require.NoError(t, err)
		assert.Equal(t, "ip:1.2.3.4", subject(post(body), ScopeOwner))
	})

	t.Run("read errors reach the handler", func(t *testing.T) {
		req := post(raw)
		req.Body = http.MaxBytesReader(httptest.NewRecorder(), req.Body, 8)
		assert.Equal(t, "ip:1.2.3.4", subject(req, ScopeOwner))

		body, err := io.ReadAll(req.Body)
		var tooLarge *http.MaxBytesError
		assert.True(t, errors.As(err, &tooLarge))
		assert.Len(t, body, 8)
	})
}

// testRedis returns a client for TEST_REDIS_URL or skips.
func testRedis(t *testing.T) *redis.Client {
	t.Helper()
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	t.Cleanup(func() { client.Close() })
	require.NoError(t, client.Ping(context.Background()).Err())
	return client
}

func TestOwnerBudgetFollowsSigner(t *testing.T) {
	rl := NewRateLimiter(testRedis(t), zerolog.Nop(), RateLimiterConfig{AutoBlockEnabled: true})
	rl.limits["POST /process"] = RateLimit{Requests: 2, Window: time.Hour, Scope: ScopeOwner}
	h := rl.Middleware(ok)

	send := func(signer crypto.Signer, ip, data string) int {
		_, raw := signedItem(t, signer, data)
		req := httptest.NewRequest(http.MethodPost, "/process", bytes.NewReader(raw))
		req.RemoteAddr = ip + ":1000"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	alice, bob := newSigner(t), newSigner(t)

	// Changing address does not reset a signer's budget.
	assert.Equal(t, http.StatusCreated, send(alice, "10.9.0.1", "a1"))
	assert.Equal(t, http.StatusCreated, send(alice, "10.9.0.2", "a2"))
	assert.Equal(t, http.StatusTooManyRequests, send(alice, "10.9.0.3", "a3"))

	// Another signer on a used address has its own budget.
	assert.Equal(t, http.StatusCreated, send(bob, "10.9.0.1", "b1"))
}

func TestBlockerBlocksOwners(t *testing.T) {
	ctx := context.Background()
	client := testRedis(t)
	rl := NewRateLimiter(client, zerolog.Nop(), RateLimiterConfig{})
	h := rl.Middleware(ok)

	signer := newSigner(t)
	it, raw := signedItem(t, signer, "x")
	subj := "owner:" + it.Owner
	require.NoError(t, rl.blocker.Block(ctx, subj, time.Minute, "test"))
	t.Cleanup(func() { rl.blocker.Unblock(ctx, subj) })

	req := httptest.NewRequest(http.MethodPost, "/process", bytes.NewReader(raw))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	require.NoError(t, rl.blocker.Unblock(ctx, subj))
	_, raw = signedItem(t, signer, "y")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/process", bytes.NewReader(raw)))
	assert.Equal(t, http.StatusCreated, rec.Code)
}
