package units

import (
	"context"

	"github.com/ZanzyTHEbar/lexcare/lexcare/matching"
	"github.com/ZanzyTHEbar/lexcare/lexcare/turn"
)

// PreferenceSource derives structured preferences from a request.
type PreferenceSource interface {
	Preferences(req matching.Request) matching.Preferences
}

// ExtractionUnit pulls legal intents and facts out of the current message.
// Facts already on the profile are not repeated; the state merge keeps them.
type ExtractionUnit struct {
	prefs PreferenceSource
}

// NewExtractionUnit creates the fact extractor.
func NewExtractionUnit(prefs PreferenceSource) *ExtractionUnit {
	return &ExtractionUnit{prefs: prefs}
}

func (u *ExtractionUnit) Name() string { return turn.UnitExtraction }

func (u *ExtractionUnit) Process(_ context.Context, st *turn.State) (turn.Update, error) {
	p := u.prefs.Preferences(matching.Request{Text: st.Text})
	return turn.Update{
		Intents: p.Categories,
		Facts:   Facts(p),
	}, nil
}

// Facts flattens the stated parts of p into profile facts. Categories travel
// as intents; the case type fact belongs to intake.
func Facts(p matching.Preferences) map[string]any {
	facts := map[string]any{}
	if p.HasLocation() {
		facts["location"] = p.Location.String()
	}
	if p.BudgetTier > 0 {
		facts["budget_tier"] = p.BudgetTier
	}
	if p.HourlyRate > 0 {
		facts["hourly_rate"] = p.HourlyRate
	}
	if p.Urgency != "" && p.Urgency != matching.UrgencyRoutine {
		facts["urgency"] = string(p.Urgency)
	}
	if len(p.Languages) > 0 {
		facts["languages"] = p.Languages
	}
	if p.GenderPreference != "" {
		facts["gender_preference"] = p.GenderPreference
	}
	if len(p.Vulnerabilities) > 0 {
		facts["vulnerabilities"] = p.Vulnerabilities
	}
	return facts
}
