package middleware

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/sequencer/internal/bundle"
	"github.com/eldtechnologies/sequencer/internal/metrics"
)

// Scope selects what a limit counts against.
type Scope int

const (
	// ScopeIP counts per client address.
	ScopeIP Scope = iota
	// ScopeOwner counts per signing key of the submitted data item. Bodies
	// that are not a validly signed item are counted per client address.
	ScopeOwner
)

// RateLimit is a fixed-window request budget for one route.
type RateLimit struct {
	Requests int
	Window   time.Duration
	Scope    Scope
}

// Violations within violationWindow before a subject is blocked for blockFor.
const (
	violationThreshold = 10
	violationWindow    = time.Hour
	blockFor           = 24 * time.Hour
)

// RateLimiterConfig holds configuration for the rate limiter.
type RateLimiterConfig struct {
	Whitelist        []string // IPs or CIDRs exempt from rate limiting
	AutoBlockEnabled bool     // block subjects after repeated violations
}

// RateLimiter enforces per-route budgets in Redis. Writes are charged to the
// key that signed the data item so one owner cannot spread load across
// addresses; everything else is charged to the client address.
type RateLimiter struct {
	client    *redis.Client
	limits    map[string]RateLimit
	blocker   *Blocker
	logger    zerolog.Logger
	whitelist []*net.IPNet
	autoBlock bool
	now       func() time.Time
}

// NewRateLimiter creates a rate limiter with the sequencer's route budgets.
func NewRateLimiter(client *redis.Client, logger zerolog.Logger, cfg RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		client:    client,
		blocker:   NewBlocker(client),
		logger:    logger,
		autoBlock: cfg.AutoBlockEnabled,
		now:       time.Now,
		limits: map[string]RateLimit{
			"POST /":          {60, time.Minute, ScopeOwner},
			"POST /message":   {120, time.Minute, ScopeOwner},
			"POST /process":   {10, time.Minute, ScopeOwner},
			"POST /recover":   {30, time.Minute, ScopeIP},
			"GET /messages/":  {300, time.Minute, ScopeIP},
			"GET /message/":   {600, time.Minute, ScopeIP},
			"GET /processes/": {600, time.Minute, ScopeIP},
			"GET /timestamp":  {600, time.Minute, ScopeIP},
		},
	}

	for _, entry := range cfg.Whitelist {
		if !strings.Contains(entry, "/") {
			if ip := net.ParseIP(entry); ip != nil && ip.To4() != nil {
				entry += "/32"
			} else {
				entry += "/128"
			}
		}
		_, ipNet, err := net.ParseCIDR(entry)
		if err != nil {
			logger.Warn().Str("entry", entry).Err(err).Msg("invalid whitelist entry")
			continue
		}
		rl.whitelist = append(rl.whitelist, ipNet)
	}
	if len(rl.whitelist) > 0 {
		logger.Info().Int("entries", len(rl.whitelist)).Msg("rate limit whitelist configured")
	}

	return rl
}

func (rl *RateLimiter) isWhitelisted(ipStr string) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, n := range rl.whitelist {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// RealIP extracts the client address from proxy headers or the connection.
func RealIP(r *http.Request) string {
	if ip := r.Header.Get("Fly-Client-IP"); ip != "" {
		return ip
	}
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return strings.TrimSpace(strings.Split(ip, ",")[0])
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// subject returns the rate limit subject, "ip:<addr>" or "owner:<key>".
// Reading the owner consumes the body, so it is replaced with an identical
// reader that also replays any read error.
func subject(r *http.Request, scope Scope) string {
	ipSubject := "ip:" + RealIP(r)
	if scope != ScopeOwner || r.Body == nil {
		return ipSubject
	}

	body, err := io.ReadAll(r.Body)
	r.Body = io.NopCloser(io.MultiReader(bytes.NewReader(body), errReader{err}))
	if err != nil || len(body) == 0 {
		return ipSubject
	}

	// Only a verified signature proves the owner; anyone could name a key.
	item, err := bundle.ParseDataItem(body)
	if err != nil {
		return ipSubject
	}
	return "owner:" + item.Owner
}

type errReader struct{ err error }

func (e errReader) Read([]byte) (int, error) {
	if e.err != nil {
		return 0, e.err
	}
	return 0, io.EOF
}

// allow charges one request to subject under the named route limit.
func (rl *RateLimiter) allow(ctx context.Context, route, subject string, limit RateLimit) (allowed bool, remaining int, resetAt time.Time, err error) {
	window := limit.Window.Milliseconds()
	bucket := rl.now().UnixMilli() / window
	resetAt = time.UnixMilli((bucket + 1) * window)
	key := fmt.Sprintf("ratelimit:%s:%s:%d", route, subject, bucket)

	var incr *redis.IntCmd
	_, err = rl.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.ExpireAt(ctx, key, resetAt.Add(time.Second))
		return nil
	})
	if err != nil {
		return true, limit.Requests, resetAt, err
	}

	used := int(incr.Val())
	remaining = limit.Requests - used
	if remaining < 0 {
		remaining = 0
	}
	return used <= limit.Requests, remaining, resetAt, nil
}

// Middleware returns the rate limiting middleware. Redis failures let the
// request through.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		ip := RealIP(r)
		if rl.isWhitelisted(ip) {
			next.ServeHTTP(w, r)
			return
		}
		if rl.refuseBlocked(w, r, "ip:"+ip) {
			return
		}

		route, limit, ok := rl.findLimit(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		subj := subject(r, limit.Scope)
		if subj != "ip:"+ip && rl.refuseBlocked(w, r, subj) {
			return
		}

		allowed, remaining, resetAt, err := rl.allow(ctx, route, subj, limit)
		if err != nil {
			rl.logger.Warn().Err(err).Str("subject", subj).Msg("rate limit check failed")
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit.Requests))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

		if !allowed {
			kind, _, _ := strings.Cut(subj, ":")
			metrics.RateLimited.WithLabelValues(kind).Inc()
			rl.trackViolation(ctx, subj)
			rl.logger.Warn().
				Str("type", "security").
				Str("event", "rate_limit_exceeded").
				Str("subject", subj).
				Str("route", route).
				Msg("rate limit exceeded")

			retry := int(time.Until(resetAt).Seconds()) + 1
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"rate limit exceeded"}`))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) refuseBlocked(w http.ResponseWriter, r *http.Request, subj string) bool {
	if !rl.blocker.IsBlocked(r.Context(), subj) {
		return false
	}
	rl.logger.Warn().
		Str("type", "security").
		Str("event", "blocked_request").
		Str("subject", subj).
		Str("endpoint", r.URL.Path).
		Msg("blocked subject attempted request")
	http.Error(w, `{"error":"temporarily blocked"}`, http.StatusForbidden)
	return true
}

// findLimit returns the limit with the longest pattern matching the request.
// "POST /" only matches the root path itself.
func (rl *RateLimiter) findLimit(r *http.Request) (string, RateLimit, bool) {
	key := r.Method + " " + r.URL.Path

	var (
		route string
		best  RateLimit
		found bool
	)
	for pattern, limit := range rl.limits {
		if strings.HasSuffix(pattern, " /") && key != pattern {
			continue
		}
		if !strings.HasPrefix(key, pattern) || (found && len(pattern) <= len(route)) {
			continue
		}
		route, best, found = pattern, limit, true
	}
	return route, best, found
}

// trackViolation counts refusals for subj and blocks it past the threshold.
func (rl *RateLimiter) trackViolation(ctx context.Context, subj string) {
	if !rl.autoBlock {
		return
	}

	key := "violations:" + subj
	var incr *redis.IntCmd
	if _, err := rl.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, violationWindow)
		return nil
	}); err != nil {
		rl.logger.Warn().Err(err).Str("subject", subj).Msg("violation tracking failed")
		return
	}

	if count := incr.Val(); count >= violationThreshold {
		if err := rl.blocker.Block(ctx, subj, blockFor, "repeated rate limit violations"); err != nil {
			rl.logger.Warn().Err(err).Str("subject", subj).Msg("block failed")
			return
		}
		rl.logger.Warn().
			Str("type", "security").
			Str("event", "auto_blocked").
			Str("subject", subj).
			Int64("violations", count).
			Msg("subject auto-blocked for repeated violations")
	}
}

// Blocker keeps temporary blocks on rate limit subjects (client addresses
// and signing keys).
type Blocker struct {
	client *redis.Client
}

// NewBlocker creates a Blocker.
func NewBlocker(client *redis.Client) *Blocker {
	return &Blocker{client: client}
}

func blockKey(subj string) string { return "blocked:" + subj }

// IsBlocked reports whether subj is blocked. Redis errors count as not blocked.
func (b *Blocker) IsBlocked(ctx context.Context, subj string) bool {
	n, err := b.client.Exists(ctx, blockKey(subj)).Result()
	return err == nil && n > 0
}

// Block blocks subj for d, recording reason.
func (b *Blocker) Block(ctx context.Context, subj string, d time.Duration, reason string) error {
	return b.client.Set(ctx, blockKey(subj), reason, d).Err()
}

// Unblock lifts a block on subj.
func (b *Blocker) Unblock(ctx context.Context, subj string) error {
	return b.client.Del(ctx, blockKey(subj)).Err()
}
