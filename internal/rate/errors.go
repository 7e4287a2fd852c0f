package rate

import "errors"

var (
	// ErrRateLimited is an exported constant or variable used by the rate engine.
	ErrRateLimited = errors.New("rate limited")
	// ErrBlocked is an exported constant or variable used by the rate engine.
	ErrBlocked = errors.New("identifier blocked")
	// ErrRedisUnavailable is an exported constant or variable used by the rate engine.
	ErrRedisUnavailable = errors.New("redis unavailable")
)
