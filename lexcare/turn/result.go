package turn

import (
	"math"

	"github.com/ZanzyTHEbar/lexcare/lexcare/matching"
)

// Input is one user message delivered by a transport.
type Input struct {
	UserID         string `json:"user_id"`
	Text           string `json:"text"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// Signals are the per-turn scores reported to the client.
type Signals struct {
	Distress     float64 `json:"distress"`
	Engagement   float64 `json:"engagement"`
	AllianceBond float64 `json:"alliance_bond"`
	AllianceGoal float64 `json:"alliance_goal"`
	AllianceTask float64 `json:"alliance_task"`
	Sentiment    string  `json:"sentiment"`
	Emotion      string  `json:"emotion,omitempty"`
}

// Result is the outcome of one turn.
type Result struct {
	TurnID           string              `json:"turn_id"`
	ConversationID   string              `json:"conversation_id"`
	Response         string              `json:"assistant_response"`
	Suggestions      []string            `json:"suggestions"`
	Cards            []matching.Card     `json:"candidate_cards"`
	Stage            Stage               `json:"stage"`
	Metrics          Signals             `json:"metrics"`
	Progress         Progress            `json:"progress"`
	Reflection       Reflection          `json:"reflection"`
	LegalIntent      []string            `json:"legal_intent"`
	ActiveSpecialist string              `json:"active_specialist,omitempty"`
	MatchReason      matching.ReasonCode `json:"match_reason,omitempty"`
	Failures         []UnitFailure       `json:"failures,omitempty"`
}

// newResult renders a finished state.
func newResult(st *State) *Result {
	res := &Result{
		TurnID:         st.TurnID,
		ConversationID: st.ConversationID,
		Response:       st.Response,
		Suggestions:    nonNil(st.Suggestions),
		Cards:          st.Cards(),
		Stage:          st.Stage,
		Metrics: Signals{
			Distress:     round2(st.Distress),
			Engagement:   round2(st.Engagement),
			AllianceBond: round2(st.Alliance.Bond),
			AllianceGoal: round2(st.Alliance.Goal),
			AllianceTask: round2(st.Alliance.Task),
			Sentiment:    st.Sentiment.Coarse,
			Emotion:      st.Sentiment.Emotion,
		},
		Reflection:       Reflection{Prompts: []string{}, Insights: []string{}},
		LegalIntent:      nonNil(st.Intents),
		ActiveSpecialist: st.Intake.Specialist,
		Failures:         st.Failures,
	}
	if res.Cards == nil {
		res.Cards = []matching.Card{}
	}
	if res.Metrics.Sentiment == "" {
		res.Metrics.Sentiment = "neutral"
	}
	if st.Progress != nil {
		res.Progress = *st.Progress
	}
	if res.Progress.Completed == nil {
		res.Progress.Completed = []string{}
	}
	if st.Reflection != nil {
		res.Reflection = *st.Reflection
		res.Reflection.Prompts = nonNil(res.Reflection.Prompts)
		res.Reflection.Insights = nonNil(res.Reflection.Insights)
	}
	if st.Match != nil {
		res.MatchReason = st.Match.Reason
	}
	return res
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
