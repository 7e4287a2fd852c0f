package rate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RouteConfig is the per-route limit policy held in the hot-reloadable
// registry. A route with no config, or Enabled=false, is not limited.
type RouteConfig struct {
	Enabled bool
	Limit   int
	Window  time.Duration
}

// Result reports one CheckAndIncrement outcome.
type Result struct {
	Allowed bool
	Blocked bool
	Count   int64
	Limit   int
	Window  time.Duration
	RetryIn time.Duration
}

// BreachFunc is invoked once per over-limit window observation so the caller
// can raise a security event. It must not block.
type BreachFunc func(ctx context.Context, identifier, route string, count int64, limit int, window time.Duration)

// Limiter is the fixed-window counter plus explicit block engine. Counting
// is cheap and always on; blocking is a deliberate escalation set through
// Block, never a side effect of a noisy window.
type Limiter struct {
	redis    redis.UniversalClient
	prefix   string
	onBreach BreachFunc

	mu     sync.RWMutex
	routes map[string]RouteConfig
}

// New creates a Limiter. routes seeds the registry; onBreach may be nil.
func New(redisClient redis.UniversalClient, prefix string, routes map[string]RouteConfig, onBreach BreachFunc) *Limiter {
	if prefix == "" {
		prefix = "rl"
	}
	l := &Limiter{
		redis:    redisClient,
		prefix:   prefix,
		onBreach: onBreach,
		routes:   make(map[string]RouteConfig, len(routes)),
	}
	for route, cfg := range routes {
		l.routes[route] = cfg
	}
	return l
}

// SetRoute installs or replaces the policy for a route. Safe to call while
// traffic is flowing; the next check sees the new policy.
func (l *Limiter) SetRoute(route string, cfg RouteConfig) {
	l.mu.Lock()
	l.routes[route] = cfg
	l.mu.Unlock()
}

// DeleteRoute removes a route policy, disabling limiting for it.
func (l *Limiter) DeleteRoute(route string) {
	l.mu.Lock()
	delete(l.routes, route)
	l.mu.Unlock()
}

// Route returns the current policy for a route.
func (l *Limiter) Route(route string) (RouteConfig, bool) {
	l.mu.RLock()
	cfg, ok := l.routes[route]
	l.mu.RUnlock()
	return cfg, ok
}

func (l *Limiter) windowKey(identifier, route string, windowID int64) string {
	return l.prefix + ":w:" + route + ":" + identifier + ":" + strconv.FormatInt(windowID, 10)
}

func (l *Limiter) blockKey(identifier, route string) string {
	return l.prefix + ":b:" + route + ":" + identifier
}

// Check applies the registered policy for route, falling back to not-limited
// when none exists.
func (l *Limiter) Check(ctx context.Context, identifier, route string) (Result, error) {
	cfg, ok := l.Route(route)
	if !ok || !cfg.Enabled {
		return Result{Allowed: true}, nil
	}
	return l.CheckAndIncrement(ctx, identifier, route, cfg.Limit, cfg.Window)
}

// CheckAndIncrement performs one fixed-window check: the block marker is
// consulted first (blocked callers do not consume window budget), then the
// window counter is incremented atomically, with the TTL set on the first
// hit. Exceeding the limit reports Allowed=false and fires the breach hook;
// it never sets a block by itself.
func (l *Limiter) CheckAndIncrement(ctx context.Context, identifier, route string, limit int, window time.Duration) (Result, error) {
	// Sub-second windows are rejected at config validation; treat them as
	// unlimited rather than divide by zero.
	if limit <= 0 || window < time.Second {
		return Result{Allowed: true}, nil
	}

	blocked, retryIn, err := l.IsBlocked(ctx, identifier, route)
	if err != nil {
		return Result{}, err
	}
	if blocked {
		return Result{
			Allowed: false,
			Blocked: true,
			Limit:   limit,
			Window:  window,
			RetryIn: retryIn,
		}, nil
	}

	now := time.Now()
	windowID := now.Unix() / int64(window/time.Second)
	key := l.windowKey(identifier, route, windowID)

	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, window).Err(); err != nil {
			return Result{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	result := Result{
		Allowed: count <= int64(limit),
		Count:   count,
		Limit:   limit,
		Window:  window,
	}
	if !result.Allowed {
		windowEnd := time.Unix((windowID+1)*int64(window/time.Second), 0)
		result.RetryIn = time.Until(windowEnd)
		if l.onBreach != nil {
			l.onBreach(ctx, identifier, route, count, limit, window)
		}
	}
	return result, nil
}

// Block escalates an identifier+route pair. A zero blockedUntil blocks until
// explicitly cleared; otherwise the block key carries the remaining TTL.
func (l *Limiter) Block(ctx context.Context, identifier, route string, blockedUntil time.Time) error {
	key := l.blockKey(identifier, route)

	var ttl time.Duration
	if !blockedUntil.IsZero() {
		ttl = time.Until(blockedUntil)
		if ttl <= 0 {
			return nil
		}
	}
	if err := l.redis.Set(ctx, key, blockedUntil.Unix(), ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Unblock clears an explicit block. Reports whether a block existed.
func (l *Limiter) Unblock(ctx context.Context, identifier, route string) (bool, error) {
	n, err := l.redis.Del(ctx, l.blockKey(identifier, route)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return n > 0, nil
}

// IsBlocked reports the block marker state and, for expiring blocks, the
// remaining duration.
func (l *Limiter) IsBlocked(ctx context.Context, identifier, route string) (bool, time.Duration, error) {
	key := l.blockKey(identifier, route)

	err := l.redis.Get(ctx, key).Err()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, 0, nil
		}
		return false, 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	ttl, err := l.redis.TTL(ctx, key).Result()
	if err != nil {
		return false, 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if ttl < 0 {
		// Permanent block.
		return true, 0, nil
	}
	return true, ttl, nil
}

// ResetWindow clears the current window counter, e.g. after a successful
// login should forgive earlier failures.
func (l *Limiter) ResetWindow(ctx context.Context, identifier, route string, window time.Duration) error {
	if window < time.Second {
		return nil
	}
	windowID := time.Now().Unix() / int64(window/time.Second)
	if err := l.redis.Del(ctx, l.windowKey(identifier, route, windowID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}
