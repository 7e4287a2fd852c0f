// Package session is the bundled Redis-backed implementation of the
// [gatekit.SessionService] contract: HS256 access tokens, opaque refresh
// tokens, a per-user index for bulk revocation, and optional single-session
// enforcement. Hosts with their own session layer can ignore this package
// and inject their implementation instead.
package session
