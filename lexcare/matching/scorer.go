package matching

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/ZanzyTHEbar/lexcare/lexcare/config"
	"github.com/ZanzyTHEbar/lexcare/lexcare/ports"
)

// neutral is the sub-score used when the user expressed no preference.
const neutral = 0.5

// ScoredCandidate is a candidate with its score breakdown.
type ScoredCandidate struct {
	Candidate   ports.Candidate `json:"candidate"`
	SubScores   SubScores       `json:"sub_scores"`
	Adjustment  float64         `json:"adjustment"`
	Total       float64         `json:"total"`
	Reasons     []string        `json:"reasons"`
	Concerns    []string        `json:"concerns,omitempty"`
	Provenance  []StrategyName  `json:"provenance"`
	Relevance   float64         `json:"relevance"`
	Explanation string          `json:"explanation,omitempty"`
}

// Scorer computes sub-scores, adjustments and totals. It holds no mutable
// state, so the same inputs always produce the same score.
type Scorer struct {
	lex *Lexicon
	cfg *config.MatchingConfig
}

// NewScorer creates a scorer.
func NewScorer(lex *Lexicon, cfg *config.MatchingConfig) *Scorer {
	return &Scorer{lex: lex, cfg: cfg}
}

// Score evaluates one candidate against preferences and weights.
func (s *Scorer) Score(c ports.Candidate, p Preferences, w Weights) ScoredCandidate {
	sc := ScoredCandidate{
		Candidate: c,
		SubScores: SubScores{
			Category:     s.category(c, p),
			Location:     LocationScore(p.Location, c.Location),
			Budget:       BudgetScore(p.BudgetTier, c.FeeTier),
			Availability: availability(c.ResponseHours),
			Quality:      quality(c),
			Reputation:   reputation(c.Rating, c.ReviewCount, c.ExternalRating),
			Style:        s.style(c, p),
			Cultural:     cultural(c, p),
		},
	}
	s.Finalize(&sc, p, w)
	return sc
}

// Finalize recomputes the total, reasons and concerns from the current sub-scores.
func (s *Scorer) Finalize(sc *ScoredCandidate, p Preferences, w Weights) {
	adj := s.adjust(sc.Candidate, p)
	sc.Adjustment = adj.total
	sc.Total = clamp01(w.Apply(sc.SubScores) + adj.total)
	sc.Reasons = append(s.reasons(sc, p), adj.reasons...)
	if len(sc.Reasons) == 0 {
		sc.Reasons = []string{"Matches your search"}
	}
	sc.Concerns = adj.concerns
}

func (s *Scorer) category(c ports.Candidate, p Preferences) float64 {
	if !p.HasCategory() {
		return neutral
	}
	best := 0.0
	for _, want := range p.Categories {
		for _, have := range c.Categories {
			switch {
			case have == want:
				return 1
			case s.lex.CategoryGroup(have) == s.lex.CategoryGroup(want):
				best = 0.6
			}
		}
	}
	return best
}

// LocationScore grades proximity by the most specific shared component.
func LocationScore(want, have ports.Location) float64 {
	switch {
	case want.IsZero():
		return neutral
	case want.Zip != "" && want.Zip == have.Zip:
		return 1
	case want.Area != "" && want.Area == have.Area && want.City == have.City:
		return 1
	case want.City != "" && want.City == have.City:
		return 0.8
	case want.Region != "" && want.Region == have.Region:
		return 0.5
	}
	return 0.2
}

// BudgetScore is 1 for an exact tier, decays slowly below the requested tier
// and quickly above it. It never increases as the candidate's tier rises past
// the request.
func BudgetScore(requested, actual int) float64 {
	if requested <= 0 || actual <= 0 {
		return 0.6
	}
	d := float64(actual - requested)
	if d <= 0 {
		return clamp01(1 - 0.1*math.Abs(d))
	}
	return clamp01(1 - 0.35*d)
}

func availability(responseHours float64) float64 {
	switch {
	case responseHours <= 0:
		return neutral
	case responseHours <= 4:
		return 1
	case responseHours <= 24:
		return 0.8
	case responseHours <= 72:
		return 0.5
	}
	return 0.2
}

// quality blends credentials with review volume and rating.
func quality(c ports.Candidate) float64 {
	creds := 0.5*math.Min(1, float64(c.YearsExperience)/20) + 0.5*math.Min(1, float64(len(c.Credentials))/3)
	volume := math.Min(1, math.Log1p(float64(c.ReviewCount))/math.Log1p(200))
	reviews := (c.Rating / 5) * (0.5 + 0.5*volume)
	return clamp01(0.4*creds + 0.6*reviews)
}

// reputation blends the directory rating with any external rating and adds a
// small boost for review volume.
func reputation(rating float64, reviews int, external float64) float64 {
	r := rating
	switch {
	case external > 0 && rating > 0:
		r = 0.6*rating + 0.4*external
	case external > 0:
		r = external
	}
	if r <= 0 {
		return neutral * 0.6
	}
	boost := math.Min(0.15, 0.05*math.Log10(1+float64(reviews)))
	return clamp01(r/5 + boost)
}

// styleDensityScale maps keyword density in a profile onto [0,1].
const styleDensityScale = 10

func (s *Scorer) style(c ports.Candidate, p Preferences) float64 {
	if p.Style == StyleDefault || p.Style == "" {
		return neutral
	}
	t := newText(c.Profile)
	words := t.words()
	if words == 0 {
		return neutral * 0.6
	}
	hits := t.count(s.lex.Styles[string(p.Style)])
	// A profile that leans the opposite way counts against the match.
	var opposing int
	for id, kws := range s.lex.Styles {
		if id != string(p.Style) && opposes(p.Style, Style(id)) {
			opposing += t.count(kws)
		}
	}
	density := float64(hits-opposing) / float64(words)
	return clamp01(0.3 + density*styleDensityScale)
}

func opposes(a, b Style) bool {
	pair := func(x, y Style) bool { return (a == x && b == y) || (a == y && b == x) }
	return pair(StyleGentle, StyleAggressive) || pair(StyleCollaborative, StyleAggressive)
}

// cultural is the share of requested languages, communities and
// accessibility needs the candidate covers.
func cultural(c ports.Candidate, p Preferences) float64 {
	requested := len(p.Languages) + len(p.Communities) + len(p.Accessibility)
	if requested == 0 {
		return neutral
	}
	covered := countIn(p.Languages, c.Languages) + countIn(p.Communities, c.Communities) + countIn(p.Accessibility, c.Accessibility)
	return float64(covered) / float64(requested)
}

func countIn(want, have []string) int {
	n := 0
	for _, w := range want {
		if slices.Contains(have, w) {
			n++
		}
	}
	return n
}

type adjustment struct {
	total    float64
	reasons  []string
	concerns []string
}

func (s *Scorer) adjust(c ports.Candidate, p Preferences) adjustment {
	a := s.cfg.Adjustments
	var out adjustment

	if p.Location.Area != "" && c.Location.Area == p.Location.Area {
		out.total += a.NeighborhoodMatch
		out.reasons = append(out.reasons, "Located in "+ports.Location{Area: c.Location.Area}.String())
	}
	if slices.Contains(p.LikedIDs, c.ID) {
		out.total += a.PriorPositive
		out.reasons = append(out.reasons, "You had a good experience with them before")
	}
	if len(p.Languages) > 0 && countIn(p.Languages, c.Languages) == len(p.Languages) {
		out.total += a.LanguageMatch
		out.reasons = append(out.reasons, "Speaks "+titleJoin(p.Languages))
	}
	if len(c.Recognition) > 0 {
		out.total += a.Recognition
		out.reasons = append(out.reasons, "Recognized: "+c.Recognition[0])
	}

	if slices.Contains(p.DislikedIDs, c.ID) {
		out.total -= a.PriorNegative
		out.concerns = append(out.concerns, "You had a difficult experience with them before")
	}
	if c.Disciplinary {
		out.total -= a.Disciplinary
		out.concerns = append(out.concerns, "Has a disciplinary record on file")
	}
	if p.BudgetTier > 0 && c.FeeTier > p.BudgetTier {
		out.total -= a.BudgetMismatch
		out.concerns = append(out.concerns, fmt.Sprintf("Fees (%s) may be above your %s budget", TierLabel(c.FeeTier), TierLabel(p.BudgetTier)))
	}
	if p.Urgency == UrgencyImmediate && c.ResponseHours > 2*s.cfg.FastResponseHours {
		out.total -= a.UrgencyMismatch
		out.concerns = append(out.concerns, fmt.Sprintf("Typically responds in about %.0f hours", c.ResponseHours))
	}
	if p.GenderPreference != "" && c.Gender != "" && c.Gender != p.GenderPreference {
		out.total -= a.GenderMismatch
		out.concerns = append(out.concerns, "Does not match your preference for a "+p.GenderPreference+" professional")
	}
	return out
}

func (s *Scorer) reasons(sc *ScoredCandidate, p Preferences) []string {
	var out []string
	sub, c := sc.SubScores, sc.Candidate

	switch {
	case p.HasCategory() && sub.Category >= 1:
		out = append(out, "Practices "+label(firstShared(p.Categories, c.Categories))+" law")
	case p.HasCategory() && sub.Category > 0:
		out = append(out, "Handles related "+label(s.lex.CategoryGroup(p.Categories[0]))+" matters")
	}
	if p.HasLocation() && sub.Location >= 0.8 {
		out = append(out, "Based in "+c.Location.String())
	}
	if p.BudgetTier > 0 && sub.Budget >= 0.9 {
		out = append(out, "Fits your "+TierLabel(p.BudgetTier)+" budget")
	}
	if c.Rating >= 4.5 && c.ReviewCount >= 10 {
		out = append(out, fmt.Sprintf("Highly rated (%.1f from %d reviews)", c.Rating, c.ReviewCount))
	}
	if p.Urgency != UrgencyRoutine && sub.Availability >= 0.8 {
		out = append(out, "Usually responds within a day")
	}
	if p.Style != StyleDefault && sub.Style >= 0.7 {
		out = append(out, "Known for a "+string(p.Style)+" approach")
	}
	if p.GenderPreference != "" && c.Gender == p.GenderPreference {
		out = append(out, "Matches your preference for a "+p.GenderPreference+" professional")
	}
	if len(p.Communities) > 0 && countIn(p.Communities, c.Communities) > 0 {
		out = append(out, "Experienced serving your community")
	}
	return out
}

// TierLabel renders a fee tier as dollar signs.
func TierLabel(tier int) string {
	if tier <= 0 {
		return ""
	}
	return strings.Repeat("$", min(tier, 4))
}

func firstShared(want, have []string) string {
	for _, w := range want {
		if slices.Contains(have, w) {
			return w
		}
	}
	return want[0]
}

func label(id string) string {
	return strings.ReplaceAll(id, "_", " ")
}

func titleJoin(ids []string) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		l := label(id)
		parts[i] = strings.ToUpper(l[:1]) + l[1:]
	}
	return strings.Join(parts, ", ")
}

func clamp01(x float64) float64 {
	return math.Max(0, math.Min(1, x))
}
