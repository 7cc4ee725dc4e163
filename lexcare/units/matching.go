package units

import (
	"context"

	"github.com/ZanzyTHEbar/lexcare/lexcare/matching"
	"github.com/ZanzyTHEbar/lexcare/lexcare/turn"
)

// Matcher runs one matching request.
type Matcher interface {
	Match(ctx context.Context, req matching.Request) (*matching.Result, error)
}

// MatchingUnit asks the matching engine for professionals.
type MatchingUnit struct {
	engine Matcher
}

// NewMatchingUnit wraps a matcher.
func NewMatchingUnit(engine Matcher) *MatchingUnit {
	return &MatchingUnit{engine: engine}
}

func (u *MatchingUnit) Name() string { return turn.UnitMatching }

// Process matches on everything known so far. Seeing candidates completes the
// reviewed_matches milestone.
func (u *MatchingUnit) Process(ctx context.Context, st *turn.State) (turn.Update, error) {
	res, err := u.engine.Match(ctx, matching.Request{
		Text:       st.Text,
		Facts:      st.Facts,
		Intents:    st.Intents,
		Distress:   st.Distress,
		Engagement: st.Engagement,
	})
	if err != nil {
		return turn.Update{}, err
	}
	up := turn.Update{Match: res}
	if len(res.Candidates) > 0 {
		up.Markers = []string{MilestoneReviewedMatches}
	}
	return up, nil
}
