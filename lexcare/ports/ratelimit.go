package ports

import "context"

// RateLimiter coordinates throughput across inference models.
type RateLimiter interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}
