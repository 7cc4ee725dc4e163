// Package profile holds the durable per-user record and its merge rules.
package profile

import (
	"maps"
	"slices"
	"time"
)

// EmotionPoint is one entry in the emotional timeline.
type EmotionPoint struct {
	At         time.Time `json:"at"`
	Distress   float64   `json:"distress"`
	Engagement float64   `json:"engagement"`
	Sentiment  string    `json:"sentiment,omitempty"`
	Emotion    string    `json:"emotion,omitempty"`
}

// AlliancePoint is one entry in the alliance history.
type AlliancePoint struct {
	At   time.Time `json:"at"`
	Bond float64   `json:"bond"`
	Goal float64   `json:"goal"`
	Task float64   `json:"task"`
}

// Mean returns the composite alliance score.
func (a AlliancePoint) Mean() float64 {
	return (a.Bond + a.Goal + a.Task) / 3
}

// Limits bounds the ring buffers kept on a profile.
type Limits struct {
	Timeline int
	Alliance int
}

// DefaultLimits matches the configured defaults.
var DefaultLimits = Limits{Timeline: 20, Alliance: 20}

// Profile is the durable per-user record.
type Profile struct {
	UserID     string          `json:"user_id"`
	Facts      map[string]any  `json:"facts"`
	Intents    []string        `json:"intents,omitempty"`
	Emotional  []EmotionPoint  `json:"emotional"`
	Alliance   []AlliancePoint `json:"alliance"`
	Milestones MilestoneSet    `json:"milestones"`
	Metrics    Metrics         `json:"metrics"`
	TurnCount  int             `json:"turn_count"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// New returns an empty profile for userID.
func New(userID string) *Profile {
	return &Profile{
		UserID: userID,
		Facts:  map[string]any{},
		Metrics: Metrics{
			DistressTrend: TrendInsufficient,
			AllianceTrend: TrendInsufficient,
		},
	}
}

// Clone returns a deep copy suitable for read-only sharing across goroutines.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	out := *p
	out.Facts = maps.Clone(p.Facts)
	if out.Facts == nil {
		out.Facts = map[string]any{}
	}
	out.Intents = slices.Clone(p.Intents)
	out.Emotional = slices.Clone(p.Emotional)
	out.Alliance = slices.Clone(p.Alliance)
	out.Milestones = p.Milestones.Clone()
	return &out
}

// Merge folds a per-turn delta into p. Facts are overwritten key by key,
// intents and milestones are unioned, and timelines are appended and bounded.
func (p *Profile) Merge(delta *Profile, limits Limits) {
	if delta == nil {
		return
	}
	if p.Facts == nil {
		p.Facts = map[string]any{}
	}
	maps.Copy(p.Facts, delta.Facts)

	for _, intent := range delta.Intents {
		if !slices.Contains(p.Intents, intent) {
			p.Intents = append(p.Intents, intent)
		}
	}
	slices.Sort(p.Intents)

	for _, pt := range delta.Emotional {
		p.Emotional = pushBounded(p.Emotional, pt, limits.Timeline)
	}
	for _, pt := range delta.Alliance {
		p.Alliance = pushBounded(p.Alliance, pt, limits.Alliance)
	}
	p.Milestones.Union(&delta.Milestones)

	p.TurnCount += delta.TurnCount
	if delta.UpdatedAt.After(p.UpdatedAt) {
		p.UpdatedAt = delta.UpdatedAt
	}
	p.Recompute()
}

// Recompute refreshes derived metrics from the timelines and milestones.
func (p *Profile) Recompute() {
	p.Metrics = computeMetrics(p.Emotional, p.Alliance, &p.Milestones)
}

// LastEmotion returns the most recent timeline entry.
func (p *Profile) LastEmotion() (EmotionPoint, bool) {
	if p == nil || len(p.Emotional) == 0 {
		return EmotionPoint{}, false
	}
	return p.Emotional[len(p.Emotional)-1], true
}

// LastAlliance returns the most recent alliance entry.
func (p *Profile) LastAlliance() (AlliancePoint, bool) {
	if p == nil || len(p.Alliance) == 0 {
		return AlliancePoint{}, false
	}
	return p.Alliance[len(p.Alliance)-1], true
}

func pushBounded[T any](buf []T, v T, n int) []T {
	buf = append(buf, v)
	if n > 0 && len(buf) > n {
		buf = slices.Clone(buf[len(buf)-n:])
	}
	return buf
}
