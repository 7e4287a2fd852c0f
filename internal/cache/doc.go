// Package cache provides the namespaced, TTL-capable key/value store every
// gatekit subsystem shares. It is a thin view over Redis: all mutations that
// must be atomic (increments, set-if-absent) map 1:1 to Redis primitives so
// no caller ever does client-side check-then-set.
package cache
