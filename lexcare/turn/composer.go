package turn

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/ZanzyTHEbar/lexcare/lexcare/matching"
)

// maxSuggestions caps the follow-ups returned with a reply.
const maxSuggestions = 4

// Suggestions offered when matching lacks both a location and a category.
const (
	SuggestLocation = "Share your location (city or ZIP code)"
	SuggestCategory = "Tell me the type of legal issue, like divorce or eviction"
)

// Reply is the user-facing outcome of AdvisorCompose.
type Reply struct {
	Response    string
	Suggestions []string
	ShowCards   bool
}

// Composer merges the accumulated state into one reply.
type Composer interface {
	Compose(ctx context.Context, st *State) (Reply, error)
}

// AdvisorComposer is the default composer. It uses no external services.
type AdvisorComposer struct {
	safetyMessage   string
	fallbackMessage string
}

// NewAdvisorComposer creates a composer with the configured canned messages.
func NewAdvisorComposer(safetyMessage, fallbackMessage string) *AdvisorComposer {
	return &AdvisorComposer{safetyMessage: safetyMessage, fallbackMessage: fallbackMessage}
}

// Compose builds the reply. A safety hold replaces everything else; an open
// intake question ends the turn with that question.
func (c *AdvisorComposer) Compose(ctx context.Context, st *State) (Reply, error) {
	if st.Safety.Hold {
		msg := st.Safety.Message
		if msg == "" {
			msg = c.safetyMessage
		}
		return Reply{Response: msg}, nil
	}

	if st.Intake.Question != "" {
		return Reply{
			Response:    acknowledge(st) + " " + st.Intake.Question,
			Suggestions: capSuggestions(st.Suggestions),
		}, nil
	}

	var (
		parts       []string
		suggestions = st.Suggestions
		reply       Reply
	)
	if st.Draft != "" {
		parts = append(parts, st.Draft)
	} else if len(st.Intents) > 0 || st.EmotionScored() {
		parts = append(parts, acknowledge(st))
	}
	if st.Research != nil && st.Research.Summary != "" {
		parts = append(parts, st.Research.Summary)
	}

	if st.Match != nil {
		switch st.Match.Reason {
		case matching.ReasonInsufficientInfo:
			parts = append(parts, "To look for the right professional, could you tell me where you are located and what type of legal issue this is?")
			suggestions = prepend(suggestions, SuggestLocation, SuggestCategory)
		case matching.ReasonNoMatches:
			parts = append(parts, "I couldn't find a professional who fits everything you described yet. Widening the area or the budget may help.")
			suggestions = append(suggestions, "Widen the search area", "Adjust your budget")
		default:
			if n := len(st.Match.Candidates); n > 0 {
				parts = append(parts, matchIntro(n))
				reply.ShowCards = true
			}
		}
	}

	if st.Progress != nil && len(st.Progress.Insights) > 0 {
		parts = append(parts, st.Progress.Insights[0])
	}
	if st.Reflection != nil && st.Reflection.NeedsReflection && len(st.Reflection.Prompts) > 0 {
		parts = append(parts, st.Reflection.Prompts[0])
	}

	reply.Response = strings.TrimSpace(strings.Join(parts, "\n\n"))
	if reply.Response == "" {
		reply.Response = c.fallbackMessage
	}
	reply.Suggestions = capSuggestions(suggestions)
	return reply, nil
}

func acknowledge(st *State) string {
	switch {
	case st.Distress >= 6:
		return "That sounds really hard, and I'm glad you reached out."
	case st.Sentiment.Coarse == "positive":
		return "I'm glad to hear from you."
	default:
		return "Thank you for sharing that with me."
	}
}

func matchIntro(n int) string {
	if n == 1 {
		return "Based on what you've shared, here is one professional who may be a good fit."
	}
	return fmt.Sprintf("Based on what you've shared, here are %d professionals who may be a good fit.", n)
}

func prepend(list []string, items ...string) []string {
	out := make([]string, 0, len(list)+len(items))
	out = append(out, items...)
	for _, s := range list {
		if !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}

func capSuggestions(in []string) []string {
	var out []string
	for _, s := range in {
		if s == "" || slices.Contains(out, s) {
			continue
		}
		out = append(out, s)
		if len(out) == maxSuggestions {
			break
		}
	}
	return out
}
