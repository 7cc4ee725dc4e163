package ports

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ZanzyTHEbar/lexcare/lexcare/profile"
)

// TurnRecord is the persisted form of one finalized turn.
type TurnRecord struct {
	UserID         string          `json:"user_id"`
	TurnID         string          `json:"turn_id"`
	ConversationID string          `json:"conversation_id"`
	Text           string          `json:"text"`
	Response       string          `json:"response"`
	Stage          string          `json:"stage"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// TurnStore persists turn records append-only per (user, turn) with a TTL.
type TurnStore interface {
	SaveTurn(ctx context.Context, rec TurnRecord, ttl time.Duration) error
	RecentTurns(ctx context.Context, userID string, limit int) ([]TurnRecord, error)
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// ProfileStore holds one durable profile per user, updated by merge.
type ProfileStore interface {
	GetProfile(ctx context.Context, userID string) (*profile.Profile, error)
	MergeProfile(ctx context.Context, update *profile.Profile) error
}
