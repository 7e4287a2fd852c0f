// Package internal holds shared primitives (token generation, code hashing,
// device fingerprints) used across gatekit subsystems. Nothing here is part
// of the public API.
package internal
