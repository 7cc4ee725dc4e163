package ports

import "context"

// Cache is the ephemeral keyed turn cache. Entries expire after ttlSeconds.
type Cache interface {
	Get(ctx context.Context, key string) (value []byte, ok bool)
	Set(ctx context.Context, key string, value []byte, ttlSeconds int) error
	Delete(ctx context.Context, key string) error
}
