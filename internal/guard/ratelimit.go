package guard

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"eic-pathway/internal/observability"
	"eic-pathway/internal/response"
)

// Policy is one independent per-IP bucket.
type Policy struct {
	Bucket string
	Limit  int
	Window time.Duration
}

var (
	LoginPolicy        = Policy{Bucket: "login", Limit: 5, Window: 15 * time.Minute}
	RegisterPolicy     = Policy{Bucket: "register", Limit: 3, Window: time.Hour}
	VerificationPolicy = Policy{Bucket: "verification", Limit: 3, Window: 5 * time.Minute}
)

type ErrRateLimited struct {
	RetryAfter time.Duration
}

func (e *ErrRateLimited) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

type RateLimiter struct {
	policy   Policy
	counters CounterStore
	logger   *observability.Logger
}

func NewRateLimiter(policy Policy, counters CounterStore, logger *observability.Logger) *RateLimiter {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &RateLimiter{policy: policy, counters: counters, logger: logger}
}

func (l *RateLimiter) Policy() Policy { return l.policy }

// Allow records a hit for ip and reports *ErrRateLimited once the bucket is
// over its limit. Counter failures let the request through.
func (l *RateLimiter) Allow(ctx context.Context, ip string) error {
	count, resetIn, err := l.counters.Hit(ctx, l.policy.Bucket+":"+ip, l.policy.Window)
	if err != nil {
		l.logger.Error("rate_limit_counter_failed", map[string]any{
			"bucket": l.policy.Bucket,
			"error":  err,
		})
		return nil
	}

	if count > int64(l.policy.Limit) {
		if resetIn < time.Second {
			resetIn = time.Second
		}
		return &ErrRateLimited{RetryAfter: resetIn}
	}
	return nil
}

func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := observability.ClientIP(r)

		var limited *ErrRateLimited
		if err := l.Allow(r.Context(), ip); errors.As(err, &limited) {
			l.logger.Warn("rate_limited", map[string]any{
				"bucket":      l.policy.Bucket,
				"ip":          ip,
				"retry_after": limited.RetryAfter.String(),
			})
			response.RetryAfter(w, limited.RetryAfter)
			response.Error(w, http.StatusTooManyRequests, response.StatusRateLimited, "too many requests, try again later")
			return
		}

		next.ServeHTTP(w, r)
	})
}
