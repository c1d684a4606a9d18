package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var rateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "gateway_rate_limited_total",
	Help: "Requests rejected by the gateway token bucket, by scope.",
}, []string{"scope"})

// Scope names a family of marketplace requests sharing one bucket per caller.
type Scope string

const (
	ScopeRead    Scope = "read"
	ScopeWrite   Scope = "write"
	ScopeSearch  Scope = "search"
	ScopeBooking Scope = "booking"
	ScopeAuth    Scope = "auth"
)

// ClassifyRequest maps a marketplace request to its scope. Nearby searches,
// booking mutations and credential endpoints get their own buckets; anything
// else is a plain read or write.
func ClassifyRequest(r *http.Request) Scope {
	path := strings.TrimSuffix(r.URL.Path, "/")
	read := isReadMethod(r.Method)
	switch {
	case read && path == "/v1/offers/nearby":
		return ScopeSearch
	case !read && (path == "/v1/auth/login" || path == "/v1/auth/register"):
		return ScopeAuth
	case !read && (path == "/v1/bookings" || strings.HasPrefix(path, "/v1/bookings/")):
		return ScopeBooking
	case read:
		return ScopeRead
	default:
		return ScopeWrite
	}
}

// RateConfig is a token bucket: Rate tokens per second up to Burst.
type RateConfig struct {
	Rate  float64
	Burst float64
}

func (c RateConfig) enabled() bool { return c.Rate > 0 && c.Burst > 0 }

// Limits holds one bucket shape per scope. Search falls back to Read, and
// Booking and Auth fall back to Write, when left unset.
type Limits struct {
	Read    RateConfig
	Write   RateConfig
	Search  RateConfig
	Booking RateConfig
	Auth    RateConfig
}

func (l Limits) forScope(scope Scope) RateConfig {
	pick := func(specific, fallback RateConfig) RateConfig {
		if specific.enabled() {
			return specific
		}
		return fallback
	}
	switch scope {
	case ScopeSearch:
		return pick(l.Search, l.Read)
	case ScopeBooking:
		return pick(l.Booking, l.Write)
	case ScopeAuth:
		return pick(l.Auth, l.Write)
	case ScopeRead:
		return l.Read
	default:
		return l.Write
	}
}

func (l Limits) any() bool {
	for _, c := range []RateConfig{l.Read, l.Write, l.Search, l.Booking, l.Auth} {
		if c.enabled() {
			return true
		}
	}
	return false
}

// RateLimiter keeps a token bucket per caller and scope in Redis so gateway
// replicas share state.
type RateLimiter struct {
	client redis.Scripter
	prefix string
	limits Limits
	script *redis.Script
	logger *zap.Logger
	now    func() time.Time
}

// NewRateLimiter returns nil when client is nil; a nil limiter passes every request.
func NewRateLimiter(client redis.Scripter, prefix string, limits Limits, logger *zap.Logger) *RateLimiter {
	if client == nil {
		return nil
	}
	if prefix == "" {
		prefix = "rl"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateLimiter{
		client: client,
		prefix: prefix,
		limits: limits,
		script: redis.NewScript(tokenBucketLua),
		logger: logger,
		now:    time.Now,
	}
}

// decision is the outcome of one bucket take.
type decision struct {
	allowed    bool
	remaining  int64
	retryAfter time.Duration
}

func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	if l == nil || !l.limits.any() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scope := ClassifyRequest(r)
		cfg := l.limits.forScope(scope)
		if !cfg.enabled() {
			next.ServeHTTP(w, r)
			return
		}

		caller := clientIdentifier(r)
		if caller == "" {
			caller = "anonymous"
		}
		d, err := l.take(r.Context(), scope, caller, cfg)
		if err != nil {
			// Fail open.
			l.logger.Warn("rate limit check failed, letting request through", zap.String("scope", string(scope)), zap.Error(err))
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Scope", string(scope))
		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(d.remaining, 10))
		if !d.allowed {
			rateLimited.WithLabelValues(string(scope)).Inc()
			w.Header().Set("Retry-After", formatRetryAfter(d.retryAfter))
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *RateLimiter) take(ctx context.Context, scope Scope, caller string, cfg RateConfig) (decision, error) {
	key := l.prefix + ":" + string(scope) + ":" + caller
	res, err := l.script.Run(ctx, l.client, []string{key}, l.now().UnixMilli(), cfg.Rate, cfg.Burst).Int64Slice()
	if err != nil {
		return decision{}, fmt.Errorf("token bucket %s: %w", key, err)
	}
	if len(res) != 3 {
		return decision{}, errors.New("token bucket: unexpected reply")
	}
	return decision{
		allowed:    res[0] == 1,
		remaining:  res[1],
		retryAfter: time.Duration(res[2]) * time.Millisecond,
	}, nil
}

func isReadMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}

// clientIdentifier prefers an explicit client id, then a bearer token
// fingerprint, then the client address.
func clientIdentifier(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get("X-Client-ID")); id != "" {
		return id
	}
	if authz := strings.TrimSpace(r.Header.Get("Authorization")); authz != "" {
		sum := sha256.Sum256([]byte(authz))
		return "tok-" + hex.EncodeToString(sum[:8])
	}
	if fwd := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func formatRetryAfter(d time.Duration) string {
	seconds := int(math.Ceil(d.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	return strconv.Itoa(seconds)
}

// tokenBucketLua takes one token from the bucket at KEYS[1].
// ARGV: now in ms, refill rate per second, capacity.
// Reply: {allowed 0|1, whole tokens left, wait in ms}. Redis truncates Lua
// numbers to integers, hence whole tokens and milliseconds.
const tokenBucketLua = `
local now = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local capacity = tonumber(ARGV[3])

local bucket = redis.call('HMGET', KEYS[1], 'tokens', 'ts')
local tokens = tonumber(bucket[1]) or capacity
local ts = tonumber(bucket[2]) or now

if now > ts then
  tokens = math.min(capacity, tokens + (now - ts) * rate / 1000)
  ts = now
end

local allowed = 0
local wait = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
else
  wait = math.ceil((1 - tokens) * 1000 / rate)
end

redis.call('HSET', KEYS[1], 'tokens', tokens, 'ts', ts)
redis.call('PEXPIRE', KEYS[1], math.ceil(capacity * 1000 / rate))
return {allowed, math.floor(tokens), wait}
`
