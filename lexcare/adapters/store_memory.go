package adapters

import (
	"sort"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/lexcare/lexcare/ports"
	"github.com/ZanzyTHEbar/lexcare/lexcare/profile"
)

type memoryProfiles struct {
	mu    sync.Mutex
	byKey map[string]*profile.Profile
}

func newMemoryProfiles() *memoryProfiles {
	return &memoryProfiles{byKey: make(map[string]*profile.Profile)}
}

func (m *memoryProfiles) get(userID string) (*profile.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.byKey[userID]
	if !ok {
		return nil, ports.ErrNotFound
	}
	return p.Clone(), nil
}

func (m *memoryProfiles) merge(update *profile.Profile, limits profile.Limits) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.byKey[update.UserID]
	if !ok {
		p = profile.New(update.UserID)
		m.byKey[update.UserID] = p
	}
	p.Merge(update, limits)
}

type storedTurn struct {
	rec     ports.TurnRecord
	expires time.Time
}

type memoryTurns struct {
	mu     sync.Mutex
	byUser map[string][]storedTurn
}

func newMemoryTurns() *memoryTurns {
	return &memoryTurns{byUser: make(map[string][]storedTurn)}
}

func (m *memoryTurns) save(rec ports.TurnRecord, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	turns := m.byUser[rec.UserID]
	for i := range turns {
		if turns[i].rec.TurnID == rec.TurnID {
			// append-only: a replayed turn id keeps its first record
			return
		}
	}
	m.byUser[rec.UserID] = append(turns, storedTurn{rec: rec, expires: rec.CreatedAt.Add(ttl)})
}

func (m *memoryTurns) recent(userID string, limit int) []ports.TurnRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	turns := m.byUser[userID]
	out := make([]ports.TurnRecord, 0, len(turns))
	for _, t := range turns {
		out = append(out, t.rec)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (m *memoryTurns) purge(now time.Time) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for user, turns := range m.byUser {
		kept := turns[:0]
		for _, t := range turns {
			if now.After(t.expires) {
				n++
				continue
			}
			kept = append(kept, t)
		}
		if len(kept) == 0 {
			delete(m.byUser, user)
			continue
		}
		m.byUser[user] = kept
	}
	return n
}
