package gatekit

import (
	"context"
	"log"

	"github.com/nocturnesec/gatekit/internal/audit"
	"github.com/nocturnesec/gatekit/internal/cache"
	"github.com/nocturnesec/gatekit/internal/rate"
	"github.com/nocturnesec/gatekit/internal/security"
	"github.com/nocturnesec/gatekit/internal/stores"
)

// Engine defines a public type used by the authentication engine APIs.
//
// Engine instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Engine struct {
	config Config

	cache         *cache.Cache
	authTxStore   *stores.AuthTxStore
	mfaSetupStore *stores.MFASetupStore
	otpStore      *stores.OTPStore
	rateLimiter   *rate.Limiter
	monitor       *security.Monitor

	securityEvents  *security.Service
	auditQueue      *audit.Queue
	auditDispatcher *audit.Dispatcher
	auditWorker     *audit.Worker

	metrics *Metrics
	totp    *totpManager

	userProvider   UserProvider
	sessionService SessionService
	otpSender      OTPSender
	settings       Settings

	warnf func(format string, args ...any)
}

// Close drains the asynchronous pipelines and stops their goroutines. The
// dispatcher closes first so every pushed entry reaches the queue, then the
// worker runs its final flush, then the security-event writer drains. Close
// is idempotent and safe on a nil receiver.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.auditDispatcher != nil {
		e.auditDispatcher.Close()
	}
	if e.auditWorker != nil {
		e.auditWorker.Close()
	}
	if e.securityEvents != nil {
		e.securityEvents.Close()
	}
}

// Metrics describes the metrics operation and its observable behavior.
//
// Metrics does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) Metrics() *Metrics {
	if e == nil {
		return nil
	}
	return e.metrics
}

// MetricsSnapshot describes the metricssnapshot operation and its observable behavior.
//
// MetricsSnapshot does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}
	return e.metrics.Snapshot()
}

// Config returns a copy of the configuration the engine was built with.
func (e *Engine) Config() Config {
	return e.config
}

func (e *Engine) metricInc(id MetricID) {
	e.metrics.Inc(id)
}

func (e *Engine) warn(format string, args ...any) {
	if e.warnf != nil {
		e.warnf(format, args...)
		return
	}
	log.Printf(format, args...)
}

/*
====================================
TENANT POLICY RESOLUTION
====================================
*/

// Policy flags come from the injected Settings service when one exists and
// fall back to the static config otherwise. The tenant id always comes from
// the context carrier.

func (e *Engine) mfaRequired(ctx context.Context, tenantID string) bool {
	if e.settings != nil {
		return e.settings.MFARequired(ctx, tenantID)
	}
	return e.config.MFA.Enabled && e.config.MFA.RequiredForAll
}

func (e *Engine) deviceVerifyEnabled(ctx context.Context, tenantID string) bool {
	if e.settings != nil {
		return e.settings.DeviceVerificationEnabled(ctx, tenantID)
	}
	return e.config.DeviceVerify.Enabled
}

func (e *Engine) captchaRequired(ctx context.Context, tenantID, route string) bool {
	if e.settings != nil {
		return e.settings.CaptchaRequired(ctx, tenantID, route)
	}
	return e.config.Login.RequireCaptcha
}

func (e *Engine) singleSessionEnforced(ctx context.Context, tenantID string) bool {
	if e.settings != nil {
		return e.settings.SingleSessionEnforced(ctx, tenantID)
	}
	return e.config.Login.SingleSession
}
