package turn

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ZanzyTHEbar/lexcare/lexcare/ports"
)

// Checkpoint carries conversation continuity between turns.
type Checkpoint struct {
	ConversationID   string            `json:"conversation_id"`
	TurnIndex        int               `json:"turn_index"`
	ActiveSpecialist string            `json:"active_specialist,omitempty"`
	IntakeAnswers    map[string]string `json:"intake_answers,omitempty"`
	IntakeAsked      int               `json:"intake_asked,omitempty"`
	LastStage        Stage             `json:"last_stage"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// CheckpointKey is the cache key for a conversation's checkpoint.
func CheckpointKey(conversationID string) string {
	return "checkpoint:" + conversationID
}

// CheckpointStore keeps checkpoints in the turn cache.
type CheckpointStore struct {
	cache ports.Cache
	ttl   int
}

// NewCheckpointStore creates a store; a nil cache disables checkpoints.
func NewCheckpointStore(cache ports.Cache, ttlSeconds int) *CheckpointStore {
	return &CheckpointStore{cache: cache, ttl: ttlSeconds}
}

// Load returns the checkpoint for conversationID. An unreadable entry is
// treated as missing.
func (s *CheckpointStore) Load(ctx context.Context, conversationID string) (Checkpoint, bool) {
	if s == nil || s.cache == nil {
		return Checkpoint{}, false
	}
	data, ok := s.cache.Get(ctx, CheckpointKey(conversationID))
	if !ok {
		return Checkpoint{}, false
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return Checkpoint{}, false
	}
	return cp, true
}

// Save writes cp under its conversation key.
func (s *CheckpointStore) Save(ctx context.Context, cp Checkpoint) error {
	if s == nil || s.cache == nil {
		return nil
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	if err := s.cache.Set(ctx, CheckpointKey(cp.ConversationID), data, s.ttl); err != nil {
		return fmt.Errorf("failed to store checkpoint: %w", err)
	}
	return nil
}

// restore seeds a fresh state from the previous turn's checkpoint.
func (cp Checkpoint) restore(st *State) {
	st.TurnIndex = cp.TurnIndex + 1
	st.Intake.Specialist = cp.ActiveSpecialist
	st.Intake.Answers = cp.IntakeAnswers
	st.Intake.Asked = cp.IntakeAsked
}

// checkpointFor captures the continuity a finished state hands to the next turn.
func checkpointFor(st *State, now time.Time) Checkpoint {
	return Checkpoint{
		ConversationID:   st.ConversationID,
		TurnIndex:        st.TurnIndex,
		ActiveSpecialist: st.Intake.Specialist,
		IntakeAnswers:    st.Intake.Answers,
		IntakeAsked:      st.Intake.Asked,
		LastStage:        st.Stage,
		UpdatedAt:        now,
	}
}
