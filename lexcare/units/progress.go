package units

import (
	"context"

	"github.com/ZanzyTHEbar/lexcare/lexcare/profile"
	"github.com/ZanzyTHEbar/lexcare/lexcare/turn"
)

// Milestone ids reached by rules in this package.
const (
	MilestoneFirstContact    = "first_contact"
	MilestoneSharedSituation = "shared_situation"
	MilestoneIdentifiedIssue = "identified_issue"
	MilestoneSharedLocation  = "shared_location"
	MilestoneDiscussedBudget = "discussed_budget"
	MilestoneReviewedMatches = "reviewed_matches"
	MilestoneExpressedRelief = "expressed_relief"
	MilestoneSetNextStep     = "set_next_step"
)

// situationWords is the message length treated as describing the situation.
const situationWords = 12

// ProgressUnit tracks milestones across the conversation.
type ProgressUnit struct {
	sig *Signals
}

// NewProgressUnit creates the milestone tracker.
func NewProgressUnit() *ProgressUnit {
	return &ProgressUnit{sig: mustSignals()}
}

func (u *ProgressUnit) Name() string { return turn.UnitProgress }

// Process reports the milestones completed so far, including any reached this
// turn. Newly reached ids are also returned as markers for persistence.
func (u *ProgressUnit) Process(_ context.Context, st *turn.State) (turn.Update, error) {
	var done profile.MilestoneSet
	if st.Profile != nil {
		done = st.Profile.Milestones.Clone()
	}

	reached := append([]string{MilestoneFirstContact}, st.Markers...)
	if wordCount(st.Text) >= situationWords {
		reached = append(reached, MilestoneSharedSituation)
	}
	if len(st.Intents) > 0 {
		reached = append(reached, MilestoneIdentifiedIssue)
	}
	if _, ok := st.Facts["location"]; ok {
		reached = append(reached, MilestoneSharedLocation)
	}
	_, tier := st.Facts["budget_tier"]
	_, rate := st.Facts["hourly_rate"]
	if tier || rate {
		reached = append(reached, MilestoneDiscussedBudget)
	}
	if countPhrases(u.sig.Relief, st.Text) > 0 {
		reached = append(reached, MilestoneExpressedRelief)
	}
	if countPhrases(u.sig.NextStep, st.Text) > 0 {
		reached = append(reached, MilestoneSetNextStep)
	}

	fresh := profile.NewMilestoneSet()
	for _, id := range reached {
		if done.Add(id) {
			fresh.Add(id)
		}
	}

	p := &turn.Progress{
		Completed: done.IDs(),
		New:       fresh.IDs(),
		Percent:   done.Percent(),
	}
	for _, id := range p.New {
		if ms, ok := profile.LookupMilestone(id); ok && ms.Insight != "" {
			p.Insights = append(p.Insights, ms.Insight)
		}
	}
	return turn.Update{Progress: p, Markers: p.New}, nil
}
