package rate

import "errors"

var (
	// ErrRateLimited is returned once a window budget is exhausted.
	ErrRateLimited = errors.New("rate limited")
	// ErrRedisUnavailable wraps any Redis failure. Callers decide whether to fail open.
	ErrRedisUnavailable = errors.New("redis unavailable")
)
