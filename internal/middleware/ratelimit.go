package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/5l1v3r1/tellecast-sub000/pkg/apperr"
)

const (
	// TokenIssueWindow and TokenIssueMax bound password attempts against
	// POST /api/tokens per client IP.
	TokenIssueWindow = 120 * time.Second
	TokenIssueMax    = 25

	rateLimitKeyPrefix = "ratelimit:"
)

// WindowLimiter counts requests per IP in fixed Redis windows, shared by
// every API process. Redis failures let the request through.
type WindowLimiter struct {
	// ClientIP keys the counters; nil means clientip.RealClientIP.
	ClientIP func(*http.Request) string

	rdb    *redis.Client
	name   string
	max    int64
	window time.Duration
	log    *zap.Logger
}

func NewWindowLimiter(rdb *redis.Client, name string, max int64, window time.Duration, log *zap.Logger) *WindowLimiter {
	return &WindowLimiter{rdb: rdb, name: name, max: max, window: window, log: log}
}

func (l *WindowLimiter) key(ip string) string {
	return rateLimitKeyPrefix + l.name + ":" + ip
}

// Hit records one request from ip and returns the count in the current
// window. ok is false when Redis could not be reached.
func (l *WindowLimiter) Hit(ctx context.Context, ip string) (count int64, ok bool) {
	if l == nil || l.rdb == nil {
		return 0, false
	}
	key := l.key(ip)
	count, err := l.rdb.Incr(ctx, key).Result()
	if err != nil {
		l.log.Warn("rate limit counter unavailable", zap.String("limiter", l.name), zap.Error(err))
		return 0, false
	}
	if count == 1 {
		l.rdb.Expire(ctx, key, l.window)
	}
	return count, true
}

func (l *WindowLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count, ok := l.Hit(r.Context(), keyOf(l.ClientIP, r))
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		remaining := l.max - count
		if remaining < 0 {
			remaining = 0
		}
		w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(l.max, 10))
		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
		if count > l.max {
			w.Header().Set("Retry-After", strconv.Itoa(int(l.window.Seconds())))
			WriteError(w, apperr.E(apperr.RateLimited, "too many attempts, try again later"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
