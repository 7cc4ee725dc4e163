// Package turn runs one conversational exchange through a fixed graph of
// phases. Analysis units contribute typed partial updates that the
// orchestrator merges into a single State; the graph always ends with a
// composed reply and a best-effort persistence step.
package turn

import (
	"maps"
	"slices"
	"time"

	"github.com/ZanzyTHEbar/lexcare/lexcare/matching"
	"github.com/ZanzyTHEbar/lexcare/lexcare/ports"
	"github.com/ZanzyTHEbar/lexcare/lexcare/profile"
)

// Stage is the conversational stage reported for a turn.
type Stage string

const (
	StageListening  Stage = "listening"
	StageAdvising   Stage = "advising"
	StageMatching   Stage = "matching"
	StageSafetyHold Stage = "safety_hold"
)

// Score bounds shared by distress, engagement and the alliance sub-scores.
const (
	MinScore = 0.0
	MaxScore = 10.0
)

// Sentiment is the coarse polarity plus a fine-grained emotion label.
type Sentiment struct {
	Coarse  string `json:"coarse"`            // positive, neutral, negative
	Emotion string `json:"emotion,omitempty"` // one of Emotions
}

// Emotions is the fine-grained label set.
var Emotions = []string{
	"admiration", "amusement", "anger", "annoyance", "approval", "caring",
	"confusion", "curiosity", "desire", "disappointment", "disapproval", "disgust",
	"embarrassment", "excitement", "fear", "gratitude", "grief", "joy",
	"love", "nervousness", "optimism", "pride", "realization", "relief",
	"remorse", "sadness", "surprise", "neutral",
}

// Alliance holds the three rapport sub-scores.
type Alliance struct {
	Bond float64 `json:"bond"`
	Goal float64 `json:"goal"`
	Task float64 `json:"task"`
}

// Mean is the composite alliance score.
func (a Alliance) Mean() float64 {
	return (a.Bond + a.Goal + a.Task) / 3
}

// Safety is the outcome of the crisis check.
type Safety struct {
	Score   float64  `json:"score"`
	Phrases []string `json:"phrases,omitempty"` // crisis phrases found in the text
	Hold    bool     `json:"hold"`
	Message string   `json:"message,omitempty"`
}

// Research is a short synthesis of general legal information.
type Research struct {
	Summary string   `json:"summary"`
	Sources []string `json:"sources,omitempty"`
}

// Progress reports milestone completion for the user.
type Progress struct {
	Completed []string `json:"completed"`
	New       []string `json:"new,omitempty"`
	Percent   float64  `json:"percent"`
	Insights  []string `json:"insights,omitempty"`
}

// Reflection is an optional reflective prompt surfaced with the reply.
type Reflection struct {
	NeedsReflection bool     `json:"needs_reflection"`
	Type            string   `json:"type,omitempty"`
	Prompts         []string `json:"prompts"`
	Insights        []string `json:"insights"`
}

// Intake tracks the legal-intake sub-flow for the conversation.
type Intake struct {
	Specialist string            // active specialist id, empty when none
	Answers    map[string]string // slots gathered by the active specialist
	Asked      int               // questions the active specialist has asked
	Question   string            // question asked this turn
	Slot       string
	Completed  bool // intake finished this turn
	Forced     bool // finished because the question cap was reached
}

// UnitFailure records a unit whose contribution was dropped.
type UnitFailure struct {
	Unit  string `json:"unit"`
	Phase Phase  `json:"phase"`
	Err   string `json:"error"`
}

// State is the shared record for one turn. Units read it and return an
// Update; only the orchestrator writes to it.
type State struct {
	TurnID         string
	UserID         string
	ConversationID string
	Text           string
	TurnIndex      int // zero for the first turn of a conversation
	StartedAt      time.Time

	Stage      Stage
	Sentiment  Sentiment
	Distress   float64
	Engagement float64
	Alliance   Alliance
	Intents    []string
	Facts      map[string]any
	Markers    []string // milestone ids reached this turn

	Profile       *profile.Profile
	History       []ports.TurnRecord
	Context       []string
	Safety        Safety
	SkipRemaining bool
	Intake        Intake

	Draft        string
	Research     *Research
	Progress     *Progress
	Match        *matching.Result
	MatchInvoked bool
	Reflection   *Reflection

	Response    string
	Suggestions []string
	ShowCards   bool

	Failures []UnitFailure
	Phases   []Phase

	emotionScored  bool
	allianceScored bool
}

// NewState returns a state with neutral defaults.
func NewState(turnID, userID, conversationID, text string, now time.Time) *State {
	return &State{
		TurnID:         turnID,
		UserID:         userID,
		ConversationID: conversationID,
		Text:           text,
		StartedAt:      now,
		Stage:          StageListening,
		Engagement:     5,
		Alliance:       Alliance{Bond: 5, Goal: 5, Task: 5},
		Facts:          map[string]any{},
	}
}

// Update is a partial state change returned by a unit. Nil and empty fields
// leave the state untouched.
type Update struct {
	Sentiment   *Sentiment
	Distress    *float64
	Engagement  *float64
	Alliance    *Alliance
	Intents     []string
	Facts       map[string]any
	Markers     []string
	Profile     *profile.Profile
	History     []ports.TurnRecord
	Safety      *Safety
	Draft       *string
	Research    *Research
	Progress    *Progress
	Match       *matching.Result
	Reflection  *Reflection
	Suggestions []string
}

// Ptr returns a pointer to v, for filling optional Update fields.
func Ptr[T any](v T) *T {
	return &v
}

// Apply merges u into s. Bounded scores are clamped on the way in, facts are
// merged key by key, and intents and markers are unioned.
func (s *State) Apply(u Update) {
	if u.Profile != nil {
		s.applyProfile(u.Profile)
	}
	if u.History != nil {
		s.History = u.History
	}
	if u.Safety != nil {
		s.Safety = *u.Safety
		s.Safety.Score = clampScore(s.Safety.Score)
	}
	if u.Sentiment != nil {
		s.Sentiment = *u.Sentiment
		s.emotionScored = true
	}
	if u.Distress != nil {
		s.Distress = clampScore(*u.Distress)
		s.emotionScored = true
	}
	if u.Engagement != nil {
		s.Engagement = clampScore(*u.Engagement)
	}
	if u.Alliance != nil {
		s.Alliance = Alliance{
			Bond: clampScore(u.Alliance.Bond),
			Goal: clampScore(u.Alliance.Goal),
			Task: clampScore(u.Alliance.Task),
		}
		s.allianceScored = true
	}
	if len(u.Facts) > 0 {
		if s.Facts == nil {
			s.Facts = map[string]any{}
		}
		maps.Copy(s.Facts, u.Facts)
	}
	s.Intents = union(s.Intents, u.Intents)
	for _, m := range u.Markers {
		if !slices.Contains(s.Markers, m) {
			s.Markers = append(s.Markers, m)
		}
	}
	if u.Draft != nil {
		s.Draft = *u.Draft
	}
	if u.Research != nil {
		s.Research = u.Research
	}
	if u.Progress != nil {
		s.Progress = u.Progress
	}
	if u.Match != nil {
		s.Match = u.Match
	}
	if u.Reflection != nil {
		s.Reflection = u.Reflection
	}
	for _, sg := range u.Suggestions {
		if !slices.Contains(s.Suggestions, sg) {
			s.Suggestions = append(s.Suggestions, sg)
		}
	}
}

// applyProfile installs the user's profile. Facts already known this turn win
// over stored ones, and the last recorded emotion seeds the scores until the
// emotion unit reports.
func (s *State) applyProfile(p *profile.Profile) {
	s.Profile = p
	if s.Facts == nil {
		s.Facts = map[string]any{}
	}
	for k, v := range p.Facts {
		if _, ok := s.Facts[k]; !ok {
			s.Facts[k] = v
		}
	}
	s.Intents = union(s.Intents, p.Intents)
	if s.emotionScored {
		return
	}
	if last, ok := p.LastEmotion(); ok {
		s.Distress = clampScore(last.Distress)
		s.Engagement = clampScore(last.Engagement)
	}
	if last, ok := p.LastAlliance(); ok && !s.allianceScored {
		s.Alliance = Alliance{
			Bond: clampScore(last.Bond),
			Goal: clampScore(last.Goal),
			Task: clampScore(last.Task),
		}
	}
}

// EmotionScored reports whether an emotion reading was merged this turn.
func (s *State) EmotionScored() bool { return s.emotionScored }

// AllianceScored reports whether alliance scores were merged this turn.
func (s *State) AllianceScored() bool { return s.allianceScored }

// Cards returns the candidate cards to show, if any.
func (s *State) Cards() []matching.Card {
	if !s.ShowCards || s.Match == nil || len(s.Match.Candidates) == 0 {
		return nil
	}
	return s.Match.Cards()
}

func (s *State) fail(unit string, phase Phase, err error) {
	s.Failures = append(s.Failures, UnitFailure{Unit: unit, Phase: phase, Err: err.Error()})
}

func clampScore(v float64) float64 {
	switch {
	case v != v: // NaN
		return MinScore
	case v < MinScore:
		return MinScore
	case v > MaxScore:
		return MaxScore
	}
	return v
}

func union(dst, src []string) []string {
	if len(src) == 0 {
		return dst
	}
	for _, v := range src {
		if v != "" && !slices.Contains(dst, v) {
			dst = append(dst, v)
		}
	}
	slices.Sort(dst)
	return dst
}
