// Package security implements the security-event service (fire-and-forget
// creation, severity defaults, auto-resolution, durable PostgreSQL store)
// and the login risk monitor (known-device and known-IP sets in Redis,
// optional GeoIP country-change rule, score-to-action thresholds).
package security
