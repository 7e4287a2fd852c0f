package gatekit

import (
	"context"
	"testing"
	"time"
)

func TestCheckAndIncrementWindow(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.Routes = map[string]RouteLimit{
		"api:test": {Enabled: true, Limit: 3, Window: time.Hour},
	}
	env := newTestEnv(t, cfg)

	for i := 1; i <= 3; i++ {
		result, err := env.engine.CheckAndIncrement(context.Background(), "client-1", "api:test")
		if err != nil {
			t.Fatalf("CheckAndIncrement %d failed: %v", i, err)
		}
		if !result.Allowed || result.Count != int64(i) {
			t.Fatalf("hit %d: expected allowed with count %d, got %+v", i, i, result)
		}
	}

	result, err := env.engine.CheckAndIncrement(context.Background(), "client-1", "api:test")
	if err != nil {
		t.Fatalf("CheckAndIncrement failed: %v", err)
	}
	if result.Allowed || result.Blocked {
		t.Fatalf("expected denied-but-not-blocked, got %+v", result)
	}
	if result.RetryIn <= 0 {
		t.Fatalf("expected a positive RetryIn, got %v", result.RetryIn)
	}

	// Another identifier has its own window.
	other, err := env.engine.CheckAndIncrement(context.Background(), "client-2", "api:test")
	if err != nil {
		t.Fatalf("CheckAndIncrement failed: %v", err)
	}
	if !other.Allowed || other.Count != 1 {
		t.Fatalf("expected a fresh window per identifier, got %+v", other)
	}
}

func TestBreachEventCarriesWindowDetails(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.Routes = map[string]RouteLimit{
		"api:test": {Enabled: true, Limit: 1, Window: time.Hour},
	}
	env := newTestEnv(t, cfg)

	for i := 0; i < 2; i++ {
		if _, err := env.engine.CheckAndIncrement(context.Background(), "client-1", "api:test"); err != nil {
			t.Fatalf("CheckAndIncrement %d failed: %v", i, err)
		}
	}

	waitFor(t, "suspicious_activity event", func() bool {
		return len(env.events.byType(EventSuspiciousActivity)) == 1
	})
	event := env.events.byType(EventSuspiciousActivity)[0]
	want := map[string]string{
		"reason":         "rate_limit_exceeded",
		"route":          "api:test",
		"identifier":     "client-1",
		"count":          "2",
		"limit":          "1",
		"window_seconds": "3600",
	}
	for key, value := range want {
		if event.Metadata[key] != value {
			t.Errorf("metadata[%q] = %q, want %q", key, event.Metadata[key], value)
		}
	}
}

func TestCheckAndIncrementDefaultPolicy(t *testing.T) {
	env := newTestEnv(t, testConfig())

	result, err := env.engine.CheckAndIncrement(context.Background(), "client-1", "api:unregistered")
	if err != nil {
		t.Fatalf("CheckAndIncrement failed: %v", err)
	}
	if !result.Allowed {
		t.Fatalf("expected allowed, got %+v", result)
	}
	if result.Limit != env.engine.Config().RateLimit.DefaultLimit {
		t.Fatalf("expected the default limit, got %d", result.Limit)
	}
}

func TestResetRateLimitClearsWindow(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.Routes = map[string]RouteLimit{
		"api:test": {Enabled: true, Limit: 1, Window: time.Hour},
	}
	env := newTestEnv(t, cfg)

	if _, err := env.engine.CheckAndIncrement(context.Background(), "client-1", "api:test"); err != nil {
		t.Fatalf("CheckAndIncrement failed: %v", err)
	}
	denied, err := env.engine.CheckAndIncrement(context.Background(), "client-1", "api:test")
	if err != nil {
		t.Fatalf("CheckAndIncrement failed: %v", err)
	}
	if denied.Allowed {
		t.Fatal("expected the window to be spent")
	}

	if err := env.engine.ResetRateLimit(context.Background(), "client-1", "api:test"); err != nil {
		t.Fatalf("ResetRateLimit failed: %v", err)
	}
	fresh, err := env.engine.CheckAndIncrement(context.Background(), "client-1", "api:test")
	if err != nil {
		t.Fatalf("CheckAndIncrement failed: %v", err)
	}
	if !fresh.Allowed || fresh.Count != 1 {
		t.Fatalf("expected a cleared window, got %+v", fresh)
	}
}

func TestBlockDeniesWithoutCountingAndUnblockLifts(t *testing.T) {
	env := newTestEnv(t, testConfig())

	if err := env.engine.Block(context.Background(), "client-1", "api:test", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Block failed: %v", err)
	}

	result, err := env.engine.CheckAndIncrement(context.Background(), "client-1", "api:test")
	if err != nil {
		t.Fatalf("CheckAndIncrement failed: %v", err)
	}
	if result.Allowed || !result.Blocked {
		t.Fatalf("expected blocked, got %+v", result)
	}
	if result.Count != 0 {
		t.Fatal("expected blocked callers to consume no window budget")
	}

	blocked, retryIn, err := env.engine.IsBlocked(context.Background(), "client-1", "api:test")
	if err != nil {
		t.Fatalf("IsBlocked failed: %v", err)
	}
	if !blocked || retryIn <= 0 {
		t.Fatalf("expected an expiring block, got blocked=%v retryIn=%v", blocked, retryIn)
	}

	existed, err := env.engine.Unblock(context.Background(), "client-1", "api:test")
	if err != nil {
		t.Fatalf("Unblock failed: %v", err)
	}
	if !existed {
		t.Fatal("expected the block to have existed")
	}

	result, err = env.engine.CheckAndIncrement(context.Background(), "client-1", "api:test")
	if err != nil {
		t.Fatalf("CheckAndIncrement failed: %v", err)
	}
	if !result.Allowed {
		t.Fatalf("expected allowed after unblock, got %+v", result)
	}
}

func TestPermanentBlock(t *testing.T) {
	env := newTestEnv(t, testConfig())

	if err := env.engine.Block(context.Background(), "client-1", "api:test", time.Time{}); err != nil {
		t.Fatalf("Block failed: %v", err)
	}

	env.redis.FastForward(240 * time.Hour)

	blocked, retryIn, err := env.engine.IsBlocked(context.Background(), "client-1", "api:test")
	if err != nil {
		t.Fatalf("IsBlocked failed: %v", err)
	}
	if !blocked {
		t.Fatal("expected the block to survive indefinitely")
	}
	if retryIn != 0 {
		t.Fatalf("expected no retry hint for a permanent block, got %v", retryIn)
	}
}

func TestBlockExpires(t *testing.T) {
	env := newTestEnv(t, testConfig())

	if err := env.engine.Block(context.Background(), "client-1", "api:test", time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("Block failed: %v", err)
	}

	env.redis.FastForward(2 * time.Minute)

	blocked, _, err := env.engine.IsBlocked(context.Background(), "client-1", "api:test")
	if err != nil {
		t.Fatalf("IsBlocked failed: %v", err)
	}
	if blocked {
		t.Fatal("expected the block to expire with its TTL")
	}
}

func TestRouteLimitHotReload(t *testing.T) {
	env := newTestEnv(t, testConfig())

	if err := env.engine.SetRouteLimit("api:new", RouteLimit{Enabled: true, Limit: 5, Window: time.Minute}); err != nil {
		t.Fatalf("SetRouteLimit failed: %v", err)
	}
	policy, ok := env.engine.RouteLimitFor("api:new")
	if !ok || policy.Limit != 5 {
		t.Fatalf("expected the installed policy, got %+v ok=%v", policy, ok)
	}

	if err := env.engine.SetRouteLimit("api:bad", RouteLimit{Enabled: true, Limit: 0, Window: time.Minute}); err == nil {
		t.Fatal("expected a validation error for a zero limit")
	}

	env.engine.DeleteRouteLimit("api:new")
	if _, ok := env.engine.RouteLimitFor("api:new"); ok {
		t.Fatal("expected the policy to be removed")
	}
}

func TestDisabledRouteHonorsExplicitBlock(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.Routes = map[string]RouteLimit{
		"api:open": {Enabled: false},
	}
	env := newTestEnv(t, cfg)

	for i := 0; i < 100; i++ {
		result, err := env.engine.CheckAndIncrement(context.Background(), "client-1", "api:open")
		if err != nil {
			t.Fatalf("CheckAndIncrement failed: %v", err)
		}
		if !result.Allowed {
			t.Fatalf("expected a disabled route to never limit, got %+v", result)
		}
	}

	if err := env.engine.Block(context.Background(), "client-1", "api:open", time.Time{}); err != nil {
		t.Fatalf("Block failed: %v", err)
	}
	result, err := env.engine.CheckAndIncrement(context.Background(), "client-1", "api:open")
	if err != nil {
		t.Fatalf("CheckAndIncrement failed: %v", err)
	}
	if result.Allowed || !result.Blocked {
		t.Fatalf("expected the block to apply, got %+v", result)
	}
}
