package gatekit

import (
	"context"
	"errors"
	"log"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oschwald/geoip2-golang"
	"github.com/redis/go-redis/v9"

	"github.com/nocturnesec/gatekit/internal/audit"
	"github.com/nocturnesec/gatekit/internal/cache"
	"github.com/nocturnesec/gatekit/internal/rate"
	"github.com/nocturnesec/gatekit/internal/security"
	"github.com/nocturnesec/gatekit/internal/stores"
)

// Builder defines a public type used by the authentication engine APIs.
//
// Builder instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Builder struct {
	config Config
	err    error

	redis redis.UniversalClient
	db    *pgxpool.Pool
	geo   *geoip2.Reader

	userProvider   UserProvider
	sessionService SessionService
	otpSender      OTPSender
	settings       Settings
	auditStore     AuditStore
	securityStore  SecurityEventStore

	warnf func(format string, args ...any)

	built bool
}

// New describes the new operation and its observable behavior.
//
// New does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig describes the withconfig operation and its observable behavior.
//
// WithConfig does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithConfigFile loads a TOML configuration file over the defaults. A load
// failure is reported by Build.
func (b *Builder) WithConfigFile(path string) *Builder {
	cfg, err := LoadConfig(path)
	if err != nil {
		b.err = err
		return b
	}
	b.config = cfg
	return b
}

// WithRedis describes the withredis operation and its observable behavior.
//
// WithRedis does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithDB wires the PostgreSQL pool backing the built-in audit and
// security-event stores. Optional when custom stores are injected.
func (b *Builder) WithDB(pool *pgxpool.Pool) *Builder {
	b.db = pool
	return b
}

// WithGeoIP enables the country-change risk rule. Optional; without a reader
// the rule is skipped.
func (b *Builder) WithGeoIP(reader *geoip2.Reader) *Builder {
	b.geo = reader
	return b
}

// WithUserProvider describes the withuserprovider operation and its observable behavior.
//
// WithUserProvider does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithUserProvider(up UserProvider) *Builder {
	b.userProvider = up
	return b
}

// WithSessionService describes the withsessionservice operation and its observable behavior.
//
// WithSessionService does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithSessionService(ss SessionService) *Builder {
	b.sessionService = ss
	return b
}

// WithOTPSender describes the withotpsender operation and its observable behavior.
//
// WithOTPSender does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithOTPSender(sender OTPSender) *Builder {
	b.otpSender = sender
	return b
}

// WithSettings describes the withsettings operation and its observable behavior.
//
// WithSettings does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithSettings(s Settings) *Builder {
	b.settings = s
	return b
}

// WithAuditStore overrides the durable audit backend. Takes precedence over
// the pool given to WithDB.
func (b *Builder) WithAuditStore(store AuditStore) *Builder {
	b.auditStore = store
	return b
}

// WithSecurityEventStore overrides the durable security-event backend. Takes
// precedence over the pool given to WithDB.
func (b *Builder) WithSecurityEventStore(store SecurityEventStore) *Builder {
	b.securityStore = store
	return b
}

// WithWarnf redirects the engine's warning log output. Defaults to the
// standard library logger.
func (b *Builder) WithWarnf(warnf func(format string, args ...any)) *Builder {
	b.warnf = warnf
	return b
}

// WithMetricsEnabled describes the withmetricsenabled operation and its observable behavior.
//
// WithMetricsEnabled does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build describes the build operation and its observable behavior.
//
// Build may return an error when input validation, dependency calls, or security checks fail.
// Build does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.err != nil {
		return nil, b.err
	}

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.userProvider == nil {
		return nil, errors.New("user provider required")
	}
	if b.sessionService == nil {
		return nil, errors.New("session service required")
	}

	cfg := b.config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	warnf := b.warnf
	if warnf == nil {
		warnf = log.Printf
	}

	engine := &Engine{
		config:         cfg,
		userProvider:   b.userProvider,
		sessionService: b.sessionService,
		otpSender:      b.otpSender,
		settings:       b.settings,
		warnf:          warnf,
	}

	engine.cache = cache.New(b.redis, cfg.Cache.Prefix)
	engine.authTxStore = stores.NewAuthTxStore(b.redis, cfg.Cache.Prefix+":atx")
	engine.mfaSetupStore = stores.NewMFASetupStore(b.redis, cfg.Cache.Prefix+":mst")
	engine.otpStore = stores.NewOTPStore(b.redis, cfg.Cache.Prefix+":otp")
	engine.metrics = NewMetrics(cfg.Metrics)
	engine.totp = newTOTPManager(cfg.MFA.Issuer)

	// -------- SECURITY EVENTS --------
	var secStore security.Store
	switch {
	case b.securityStore != nil:
		secStore = &securityStoreAdapter{store: b.securityStore}
	case b.db != nil:
		secStore = security.NewPGStore(b.db)
	default:
		secStore = discardSecurityStore{}
	}
	engine.securityEvents = security.NewService(security.ServiceConfig{
		BufferSize: cfg.Audit.BufferSize,
	}, secStore, warnf)

	// -------- RISK MONITOR --------
	engine.monitor = security.NewMonitor(b.redis, cfg.Cache.Prefix+":sec", security.MonitorConfig{
		NewDeviceScore:     cfg.Security.NewDeviceScore,
		NewIPScore:         cfg.Security.NewIPScore,
		CountryChangeScore: cfg.Security.CountryChangeScore,
		ChallengeThreshold: cfg.Security.ChallengeThreshold,
		DenyThreshold:      cfg.Security.DenyThreshold,
		KnownDeviceTTL:     cfg.DeviceVerify.KnownDeviceTTL,
	}, b.geo)

	// -------- RATE LIMITER --------
	routes := make(map[string]rate.RouteConfig, len(cfg.RateLimit.Routes))
	for route, rl := range cfg.RateLimit.Routes {
		routes[route] = rate.RouteConfig{
			Enabled: rl.Enabled,
			Limit:   rl.Limit,
			Window:  rl.Window,
		}
	}
	engine.rateLimiter = rate.New(b.redis, cfg.Cache.Prefix+":rl", routes, engine.onRateLimitBreach)

	// -------- AUDIT PIPELINE --------
	if cfg.Audit.Enabled {
		engine.auditQueue = audit.NewQueue(b.redis, cfg.Cache.Prefix+":auditq")
		engine.auditDispatcher = audit.NewDispatcher(audit.Config{
			Enabled:    true,
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
		}, engine.auditQueue, warnf)

		var durableStore audit.Store
		switch {
		case b.auditStore != nil:
			target := b.auditStore
			durableStore = audit.StoreFunc(func(ctx context.Context, entries []audit.Entry) error {
				batch := make([]AuditEntry, len(entries))
				for i, entry := range entries {
					batch[i] = fromInternalAuditEntry(entry)
				}
				return target.InsertAuditBatch(ctx, batch)
			})
		case b.db != nil:
			durableStore = audit.NewPGStore(b.db)
		}
		// Without a durable store the queue still accumulates for an
		// external drain; no worker runs in-process.
		if durableStore != nil {
			engine.auditWorker = audit.NewWorker(audit.WorkerConfig{
				FlushInterval: cfg.Audit.FlushInterval,
				FlushTimeout:  cfg.Audit.FlushTimeout,
				MaxBatch:      cfg.Audit.MaxBatch,
			}, engine.auditQueue, durableStore, warnf)
		}
	}

	b.built = true

	return engine, nil
}

// onRateLimitBreach raises a security event for each over-limit observation.
// Registered as the limiter's breach hook.
func (e *Engine) onRateLimitBreach(ctx context.Context, identifier, route string, count int64, limit int, window time.Duration) {
	e.metricInc(MetricRateLimitHit)
	e.securityEvents.Create(ctx, &security.Event{
		Type:      string(EventSuspiciousActivity),
		IP:        clientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
		Metadata: map[string]string{
			"reason":         "rate_limit_exceeded",
			"route":          route,
			"identifier":     identifier,
			"count":          strconv.FormatInt(count, 10),
			"limit":          strconv.Itoa(limit),
			"window_seconds": strconv.FormatInt(int64(window/time.Second), 10),
		},
	})
}

// securityStoreAdapter bridges a caller-supplied SecurityEventStore to the
// internal service contract.
type securityStoreAdapter struct {
	store SecurityEventStore
}

func (a *securityStoreAdapter) Insert(ctx context.Context, event *security.Event) error {
	pub := fromInternalSecurityEvent(*event)
	return a.store.InsertSecurityEvent(ctx, &pub)
}

func (a *securityStoreAdapter) Resolve(ctx context.Context, eventID, resolvedBy string, resolvedAt time.Time) (bool, error) {
	return a.store.ResolveSecurityEvent(ctx, eventID, resolvedBy, resolvedAt)
}

func (a *securityStoreAdapter) List(ctx context.Context, filter security.ListFilter) ([]security.Event, error) {
	events, err := a.store.ListSecurityEvents(ctx, SecurityEventFilter{
		UserID:     filter.UserID,
		Type:       EventType(filter.Type),
		Severity:   Severity(filter.Severity),
		Unresolved: filter.Unresolved,
		Limit:      filter.Limit,
	})
	if err != nil {
		return nil, err
	}
	out := make([]security.Event, len(events))
	for i, event := range events {
		out[i] = toInternalSecurityEvent(event)
	}
	return out, nil
}

// discardSecurityStore is the fallback when neither a pool nor a custom
// store is configured. Events are dropped; lookups find nothing.
type discardSecurityStore struct{}

func (discardSecurityStore) Insert(ctx context.Context, event *security.Event) error {
	return nil
}

func (discardSecurityStore) Resolve(ctx context.Context, eventID, resolvedBy string, resolvedAt time.Time) (bool, error) {
	return false, nil
}

func (discardSecurityStore) List(ctx context.Context, filter security.ListFilter) ([]security.Event, error) {
	return nil, nil
}
