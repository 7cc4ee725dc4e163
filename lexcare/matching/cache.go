package matching

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math"

	"github.com/ZanzyTHEbar/lexcare/lexcare/ports"
)

const cacheKeyPrefix = "match:"

// fingerprintInput is the normalized query a cached result is keyed on.
// Emotional state is bucketed so small score changes reuse the same entry.
type fingerprintInput struct {
	Preferences      Preferences `json:"preferences"`
	DistressBucket   int         `json:"distress_bucket"`
	EngagementBucket int         `json:"engagement_bucket"`
	PageSize         int         `json:"page_size"`
}

// Fingerprint returns the cache key for a preference set.
func Fingerprint(p Preferences, pageSize int) string {
	in := fingerprintInput{
		DistressBucket:   bucket(p.Distress),
		EngagementBucket: bucket(p.Engagement),
		PageSize:         pageSize,
	}
	p.Distress, p.Engagement = 0, 0
	in.Preferences = p

	// Preferences holds only plain values, so marshalling cannot fail.
	data, _ := json.Marshal(in)
	sum := sha256.Sum256(data)
	return cacheKeyPrefix + hex.EncodeToString(sum[:])
}

func bucket(score float64) int {
	return int(math.Floor(math.Max(0, math.Min(10, score)) / 2))
}

// resultCache stores finished results in the shared turn cache.
type resultCache struct {
	cache ports.Cache
	ttl   int
}

func (c resultCache) get(ctx context.Context, key string) (*Result, bool) {
	if c.cache == nil {
		return nil, false
	}
	data, ok := c.cache.Get(ctx, key)
	if !ok {
		return nil, false
	}
	var r Result
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, false
	}
	return &r, true
}

func (c resultCache) set(ctx context.Context, key string, r *Result) error {
	if c.cache == nil {
		return nil
	}
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return c.cache.Set(ctx, key, data, c.ttl)
}
