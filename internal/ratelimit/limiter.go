// Package ratelimit throttles login and refresh attempts with fixed-window
// counters in Redis, keyed per normalized email and per client IP.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrRateLimited is returned when a key has exhausted its window budget.
	ErrRateLimited = errors.New("rate limited")
	// ErrUnavailable is returned when Redis cannot be reached. Callers decide
	// whether to fail open or closed.
	ErrUnavailable = errors.New("rate limiter unavailable")
)

// Limiter enforces a fixed-window attempt budget per key.
type Limiter struct {
	rdb    *redis.Client
	max    int
	window time.Duration
}

// NewLimiter returns a Limiter allowing max attempts per window per key.
func NewLimiter(rdb *redis.Client, max int, window time.Duration) *Limiter {
	return &Limiter{rdb: rdb, max: max, window: window}
}

// Allow counts one attempt for key and returns ErrRateLimited once the window
// budget is exceeded. The first attempt in a window sets the expiry.
func (l *Limiter) Allow(ctx context.Context, key string) error {
	if l == nil || l.rdb == nil {
		return nil
	}
	count, err := l.rdb.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if count == 1 {
		if err := l.rdb.Expire(ctx, key, l.window).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	if count > int64(l.max) {
		return ErrRateLimited
	}
	return nil
}

// AllowLogin enforces the budget for a login attempt, throttling both the
// normalized email and the client IP when present.
func (l *Limiter) AllowLogin(ctx context.Context, email, ip string) error {
	if l == nil {
		return nil
	}
	if err := l.Allow(ctx, loginEmailKey(email)); err != nil {
		return err
	}
	if ip != "" {
		return l.Allow(ctx, loginIPKey(ip))
	}
	return nil
}

// AllowRefresh enforces the budget for a refresh attempt per client IP.
func (l *Limiter) AllowRefresh(ctx context.Context, ip string) error {
	if l == nil || ip == "" {
		return nil
	}
	return l.Allow(ctx, refreshIPKey(ip))
}

func loginEmailKey(email string) string {
	return "login:e:" + strings.TrimSpace(strings.ToLower(email))
}

func loginIPKey(ip string) string {
	return "login:ip:" + ip
}

func refreshIPKey(ip string) string {
	return "refresh:ip:" + ip
}
