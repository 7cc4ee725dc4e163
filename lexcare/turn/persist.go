package turn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ZanzyTHEbar/lexcare/lexcare/ports"
	"github.com/ZanzyTHEbar/lexcare/lexcare/profile"
)

// Persister writes a finished turn. Any of its collaborators may be nil.
type Persister struct {
	turns       ports.TurnStore
	profiles    ports.ProfileStore
	checkpoints *CheckpointStore
	turnTTL     time.Duration
}

// NewPersister creates a persister.
func NewPersister(turns ports.TurnStore, profiles ports.ProfileStore, checkpoints *CheckpointStore, turnTTL time.Duration) *Persister {
	return &Persister{
		turns:       turns,
		profiles:    profiles,
		checkpoints: checkpoints,
		turnTTL:     turnTTL,
	}
}

// Persist saves the turn record, merges the profile delta and stores the
// conversation checkpoint. Every write is attempted; the returned error joins
// whatever failed. Callers log it and move on.
func (p *Persister) Persist(ctx context.Context, st *State, res *Result, now time.Time) error {
	var errs []error

	if p.turns != nil {
		payload, err := json.Marshal(res)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to marshal turn payload: %w", err))
		}
		rec := ports.TurnRecord{
			UserID:         st.UserID,
			TurnID:         st.TurnID,
			ConversationID: st.ConversationID,
			Text:           st.Text,
			Response:       st.Response,
			Stage:          string(st.Stage),
			Payload:        payload,
			CreatedAt:      now,
		}
		if err := p.turns.SaveTurn(ctx, rec, p.turnTTL); err != nil {
			errs = append(errs, fmt.Errorf("failed to save turn: %w", err))
		}
	}

	if p.profiles != nil {
		if err := p.profiles.MergeProfile(ctx, ProfileDelta(st, now)); err != nil {
			errs = append(errs, fmt.Errorf("failed to merge profile: %w", err))
		}
	}

	if err := p.checkpoints.Save(ctx, checkpointFor(st, now)); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// ProfileDelta is the additive profile change contributed by one turn.
func ProfileDelta(st *State, now time.Time) *profile.Profile {
	delta := profile.New(st.UserID)
	for k, v := range st.Facts {
		delta.Facts[k] = v
	}
	delta.Intents = append(delta.Intents, st.Intents...)
	if st.EmotionScored() {
		delta.Emotional = append(delta.Emotional, profile.EmotionPoint{
			At:         now,
			Distress:   st.Distress,
			Engagement: st.Engagement,
			Sentiment:  st.Sentiment.Coarse,
			Emotion:    st.Sentiment.Emotion,
		})
	}
	if st.AllianceScored() {
		delta.Alliance = append(delta.Alliance, profile.AlliancePoint{
			At:   now,
			Bond: st.Alliance.Bond,
			Goal: st.Alliance.Goal,
			Task: st.Alliance.Task,
		})
	}
	delta.Milestones = profile.NewMilestoneSet(st.Markers...)
	delta.TurnCount = 1
	delta.UpdatedAt = now
	return delta
}
