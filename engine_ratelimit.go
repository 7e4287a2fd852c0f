package gatekit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nocturnesec/gatekit/internal/rate"
)

// RouteLogin is the route name the engine's own login flow counts against.
const RouteLogin = "auth:login"

// RateLimitResult defines a public type used by the authentication engine APIs.
type RateLimitResult struct {
	Allowed bool
	Blocked bool
	Count   int64
	Limit   int
	Window  time.Duration
	RetryIn time.Duration
}

// CheckAndIncrement counts one hit for the identifier on the route and
// reports whether it stays inside the window limit. Routes without an
// explicit policy fall back to the configured defaults; a disabled route is
// never limited but an explicit block still denies. Exceeding the limit
// never blocks by itself; blocking is a separate escalation via
// [Engine.Block].
func (e *Engine) CheckAndIncrement(ctx context.Context, identifier, route string) (RateLimitResult, error) {
	if e == nil || e.rateLimiter == nil {
		return RateLimitResult{}, ErrEngineNotReady
	}

	policy, ok := e.rateLimiter.Route(route)
	if !ok {
		policy = rate.RouteConfig{
			Enabled: true,
			Limit:   e.config.RateLimit.DefaultLimit,
			Window:  e.config.RateLimit.DefaultWindow,
		}
	}
	if !policy.Enabled {
		// Explicit blocks apply even on unlimited routes.
		blocked, retryIn, err := e.rateLimiter.IsBlocked(ctx, identifier, route)
		if err != nil {
			return RateLimitResult{}, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
		}
		return RateLimitResult{
			Allowed: !blocked,
			Blocked: blocked,
			RetryIn: retryIn,
		}, nil
	}

	result, err := e.rateLimiter.CheckAndIncrement(ctx, identifier, route, policy.Limit, policy.Window)
	if err != nil {
		return RateLimitResult{}, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return publicRateResult(result), nil
}

// Block denies the identifier on the route until the given time. A zero
// time blocks permanently; only [Engine.Unblock] lifts it.
func (e *Engine) Block(ctx context.Context, identifier, route string, until time.Time) error {
	if e == nil || e.rateLimiter == nil {
		return ErrEngineNotReady
	}
	if err := e.rateLimiter.Block(ctx, identifier, route, until); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	e.metricInc(MetricBlockSet)
	e.Push(ctx, AuditEntry{
		Type:       "rate_limit_block_set",
		Level:      SeverityHigh,
		EntityType: "rate_limit",
		EntityID:   route + ":" + identifier,
		Payload: map[string]string{
			"route":      route,
			"identifier": identifier,
			"until":      blockUntilLabel(until),
		},
	})
	return nil
}

// Unblock lifts an explicit block. Returns false when no block existed.
func (e *Engine) Unblock(ctx context.Context, identifier, route string) (bool, error) {
	if e == nil || e.rateLimiter == nil {
		return false, ErrEngineNotReady
	}
	existed, err := e.rateLimiter.Unblock(ctx, identifier, route)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return existed, nil
}

// IsBlocked reports whether the identifier is explicitly blocked on the
// route and for how much longer. A zero duration with blocked=true means
// permanent.
func (e *Engine) IsBlocked(ctx context.Context, identifier, route string) (bool, time.Duration, error) {
	if e == nil || e.rateLimiter == nil {
		return false, 0, ErrEngineNotReady
	}
	blocked, retryIn, err := e.rateLimiter.IsBlocked(ctx, identifier, route)
	if err != nil {
		return false, 0, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return blocked, retryIn, nil
}

// SetRouteLimit installs or replaces a route policy at runtime.
func (e *Engine) SetRouteLimit(route string, limit RouteLimit) error {
	if e == nil || e.rateLimiter == nil {
		return ErrEngineNotReady
	}
	if limit.Enabled && (limit.Limit <= 0 || limit.Window < time.Second) {
		return errors.New("enabled route limits need limit >= 1 and window >= 1s")
	}
	e.rateLimiter.SetRoute(route, rate.RouteConfig{
		Enabled: limit.Enabled,
		Limit:   limit.Limit,
		Window:  limit.Window,
	})
	return nil
}

// DeleteRouteLimit removes a route policy; the route falls back to the
// configured defaults.
func (e *Engine) DeleteRouteLimit(route string) {
	if e == nil || e.rateLimiter == nil {
		return
	}
	e.rateLimiter.DeleteRoute(route)
}

// RouteLimitFor returns the installed policy for a route.
func (e *Engine) RouteLimitFor(route string) (RouteLimit, bool) {
	if e == nil || e.rateLimiter == nil {
		return RouteLimit{}, false
	}
	policy, ok := e.rateLimiter.Route(route)
	if !ok {
		return RouteLimit{}, false
	}
	return RouteLimit{
		Enabled: policy.Enabled,
		Limit:   policy.Limit,
		Window:  policy.Window,
	}, true
}

// ResetRateLimit clears the identifier's current window on the route.
func (e *Engine) ResetRateLimit(ctx context.Context, identifier, route string) error {
	if e == nil || e.rateLimiter == nil {
		return ErrEngineNotReady
	}
	policy, ok := e.rateLimiter.Route(route)
	if !ok {
		policy = rate.RouteConfig{
			Limit:  e.config.RateLimit.DefaultLimit,
			Window: e.config.RateLimit.DefaultWindow,
		}
	}
	if err := e.rateLimiter.ResetWindow(ctx, identifier, route, policy.Window); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return nil
}

// checkLoginRate enforces the login route for every identifier the attempt
// presents. Blocked identifiers map to [ErrBlocked], exhausted windows to
// [ErrRateLimited].
func (e *Engine) checkLoginRate(ctx context.Context, identifiers ...string) error {
	for _, identifier := range identifiers {
		if identifier == "" {
			continue
		}
		result, err := e.CheckAndIncrement(ctx, identifier, RouteLogin)
		if err != nil {
			return err
		}
		if result.Blocked {
			return ErrBlocked
		}
		if !result.Allowed {
			e.metricInc(MetricLoginRateLimited)
			return ErrRateLimited
		}
	}
	return nil
}

func publicRateResult(result rate.Result) RateLimitResult {
	return RateLimitResult{
		Allowed: result.Allowed,
		Blocked: result.Blocked,
		Count:   result.Count,
		Limit:   result.Limit,
		Window:  result.Window,
		RetryIn: result.RetryIn,
	}
}

func blockUntilLabel(until time.Time) string {
	if until.IsZero() {
		return "permanent"
	}
	return until.UTC().Format(time.RFC3339)
}
