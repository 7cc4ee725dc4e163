package matching

import (
	"github.com/ZanzyTHEbar/lexcare/lexcare/config"
	"gonum.org/v1/gonum/floats"
)

// SubScores are the per-dimension fit values, each in [0,1].
type SubScores struct {
	Category     float64 `json:"category"`
	Location     float64 `json:"location"`
	Budget       float64 `json:"budget"`
	Availability float64 `json:"availability"`
	Quality      float64 `json:"quality"`
	Reputation   float64 `json:"reputation"`
	Style        float64 `json:"style"`
	Cultural     float64 `json:"cultural"`
}

// Weights has one weight per sub-score and sums to 1 once normalized.
type Weights SubScores

func (s SubScores) vector() []float64 {
	return []float64{s.Category, s.Location, s.Budget, s.Availability, s.Quality, s.Reputation, s.Style, s.Cultural}
}

func (w Weights) vector() []float64 { return SubScores(w).vector() }

func weightsFromVector(v []float64) Weights {
	return Weights{
		Category:     v[0],
		Location:     v[1],
		Budget:       v[2],
		Availability: v[3],
		Quality:      v[4],
		Reputation:   v[5],
		Style:        v[6],
		Cultural:     v[7],
	}
}

// BaseWeights converts configured weights, normalized to sum to 1.
func BaseWeights(cfg config.WeightsConfig) Weights {
	return Weights{
		Category:     cfg.Category,
		Location:     cfg.Location,
		Budget:       cfg.Budget,
		Availability: cfg.Availability,
		Quality:      cfg.Quality,
		Reputation:   cfg.Reputation,
		Style:        cfg.Style,
		Cultural:     cfg.Cultural,
	}.Normalize()
}

// Normalize rescales w to sum to 1. Non-positive totals fall back to equal weights.
func (w Weights) Normalize() Weights {
	v := w.vector()
	for i, x := range v {
		if x < 0 {
			v[i] = 0
		}
	}
	sum := floats.Sum(v)
	if sum <= 0 {
		for i := range v {
			v[i] = 1
		}
		sum = float64(len(v))
	}
	floats.Scale(1/sum, v)
	return weightsFromVector(v)
}

// Apply returns the weighted sum of s.
func (w Weights) Apply(s SubScores) float64 {
	return floats.Dot(w.vector(), s.vector())
}

// AdjustWeights shifts emphasis for the user's state: high distress favors
// style and cultural fit over credentials, high engagement favors preference
// fit, and an immediate need favors availability. The result is renormalized.
func AdjustWeights(base Weights, p Preferences, cfg *config.MatchingConfig) Weights {
	w := base
	if p.Distress >= cfg.HighDistress {
		w.Style *= cfg.DistressPreferenceBoost
		w.Cultural *= cfg.DistressPreferenceBoost
		w.Quality *= cfg.DistressQualityDamp
		w.Reputation *= cfg.DistressQualityDamp
	}
	if p.Engagement >= cfg.HighEngagement {
		w.Style *= cfg.EngagementPreferenceBoost
		w.Cultural *= cfg.EngagementPreferenceBoost
	}
	if p.Urgency == UrgencyImmediate {
		w.Availability *= cfg.ImmediateAvailabilityBoost
	}
	return w.Normalize()
}
