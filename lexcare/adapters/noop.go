package adapters

import (
	"context"
	"time"

	"github.com/ZanzyTHEbar/lexcare/lexcare/ports"
	"github.com/ZanzyTHEbar/lexcare/lexcare/profile"
)

// NoOpCache never stores anything.
type NoOpCache struct{}

func (NoOpCache) Get(ctx context.Context, key string) ([]byte, bool) { return nil, false }
func (NoOpCache) Set(ctx context.Context, key string, value []byte, ttlSeconds int) error {
	return nil
}
func (NoOpCache) Delete(ctx context.Context, key string) error { return nil }

// NoOpRateLimiter admits every call.
type NoOpRateLimiter struct{}

func (NoOpRateLimiter) Acquire(ctx context.Context, key string) (func(), error) {
	return func() {}, nil
}

// NoOpTracer discards spans and events.
type NoOpTracer struct{}

func (NoOpTracer) StartSpan(ctx context.Context, name string, attrs map[string]any) (context.Context, func(error)) {
	return ctx, func(error) {}
}
func (NoOpTracer) Event(ctx context.Context, name string, attrs map[string]any) {}

// MemoryStore keeps profiles and turns in process. It serves as the store when
// no database is configured.
type MemoryStore struct {
	profiles *memoryProfiles
	turns    *memoryTurns
	limits   profile.Limits
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore(limits profile.Limits) *MemoryStore {
	return &MemoryStore{
		profiles: newMemoryProfiles(),
		turns:    newMemoryTurns(),
		limits:   limits,
	}
}

func (s *MemoryStore) GetProfile(ctx context.Context, userID string) (*profile.Profile, error) {
	return s.profiles.get(userID)
}

func (s *MemoryStore) MergeProfile(ctx context.Context, update *profile.Profile) error {
	s.profiles.merge(update, s.limits)
	return nil
}

func (s *MemoryStore) SaveTurn(ctx context.Context, rec ports.TurnRecord, ttl time.Duration) error {
	s.turns.save(rec, ttl)
	return nil
}

func (s *MemoryStore) RecentTurns(ctx context.Context, userID string, limit int) ([]ports.TurnRecord, error) {
	return s.turns.recent(userID, limit), nil
}

func (s *MemoryStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	return s.turns.purge(now), nil
}

var (
	_ ports.Cache        = NoOpCache{}
	_ ports.RateLimiter  = NoOpRateLimiter{}
	_ ports.Tracer       = NoOpTracer{}
	_ ports.ProfileStore = (*MemoryStore)(nil)
	_ ports.TurnStore    = (*MemoryStore)(nil)
)
