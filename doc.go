// Package gatekit provides a multi-tenant authentication transaction engine:
// password login with risk-based challenges (TOTP, device verification,
// backup codes), Redis-backed rate limiting with explicit blocks, and an
// asynchronous, idempotent audit/security-event pipeline.
//
// The package is designed for concurrent server workloads: Engine methods are
// safe to call from multiple goroutines after initialization through
// [Builder.Build]. All ephemeral state (pending logins, one-time codes, MFA
// setup, rate-limit counters) lives in Redis with TTLs; durable audit rows
// are flushed to PostgreSQL by a background worker that never blocks the
// request path.
package gatekit
