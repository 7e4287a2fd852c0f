// Package rate implements the fixed-window rate limit engine backed by Redis
// counters, plus the explicit block registry that overrides window checks.
// Per-route policies live in a hot-reloadable in-process table.
package rate
