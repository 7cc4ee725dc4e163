package units

import (
	"context"
	"fmt"
	"slices"

	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/lexcare/lexcare/inference"
	"github.com/ZanzyTHEbar/lexcare/lexcare/ports"
	"github.com/ZanzyTHEbar/lexcare/lexcare/profile"
	"github.com/ZanzyTHEbar/lexcare/lexcare/turn"
)

// Reflection types, in priority order.
const (
	ReflectionEmotionalCheckIn    = "emotional_check_in"
	ReflectionAllianceRepair      = "alliance_repair"
	ReflectionProgressCelebration = "progress_celebration"
	ReflectionPeriodicSummary     = "periodic_summary"
)

const (
	checkInDistress = 6.0
	repairAlliance  = 4.0
	celebrateNew    = 2
	summaryInterval = 5
)

var reflectionPrompts = map[string][]string{
	ReflectionEmotionalCheckIn: {
		"It sounds like this has been weighing on you more lately. How are you holding up?",
		"Would it help to take this one step at a time?",
	},
	ReflectionAllianceRepair: {
		"I want to make sure I'm actually helping. Is there something I've missed or gotten wrong?",
		"What would be most useful to focus on right now?",
	},
	ReflectionProgressCelebration: {
		"You've made real progress today. Take a moment to notice how far you've come.",
		"What feels clearer now than when we started?",
	},
	ReflectionPeriodicSummary: {
		"We've covered a lot together. Would a quick recap of where things stand be helpful?",
		"Is there anything you'd like to revisit?",
	},
}

type reflectionContent struct {
	Prompts  []string `json:"prompts"`
	Insights []string `json:"insights"`
}

const reflectionSystemPrompt = `You help a legal help assistant pause and reflect with the person.
Given the reflection type and the conversation signals, write one or two short reflective prompts
and up to two insights about their progress. Be warm and specific. Answer only with JSON matching the schema.`

// ReflectionUnit decides whether to surface a reflective prompt.
type ReflectionUnit struct {
	llm    *inference.Client
	logger zerolog.Logger
}

// NewReflectionUnit creates the reflection check. llm may be nil.
func NewReflectionUnit(llm *inference.Client, logger zerolog.Logger) *ReflectionUnit {
	return &ReflectionUnit{
		llm:    llm,
		logger: logger.With().Str("unit", turn.UnitReflection).Logger(),
	}
}

func (u *ReflectionUnit) Name() string { return turn.UnitReflection }

// Process runs after the analysis waves, so progress and alliance are final.
func (u *ReflectionUnit) Process(ctx context.Context, st *turn.State) (turn.Update, error) {
	kind := reflectionType(st)
	if kind == "" {
		return turn.Update{Reflection: &turn.Reflection{}}, nil
	}

	r := &turn.Reflection{
		NeedsReflection: true,
		Type:            kind,
		Prompts:         slices.Clone(reflectionPrompts[kind]),
		Insights:        reflectionInsights(st),
	}

	if u.llm.Available() {
		c, err := inference.Structured[reflectionContent](ctx, u.llm, "reflection", ports.Prompt{
			System: reflectionSystemPrompt,
			User: fmt.Sprintf("Reflection type: %s\nDistress: %.1f\nAlliance: %.1f\nMilestones: %v\nMessage: %s",
				kind, st.Distress, st.Alliance.Mean(), completed(st), st.Text),
		})
		switch {
		case err != nil:
			u.logger.Debug().Err(err).Msg("Reflection inference failed; using templates")
		case len(c.Prompts) > 0:
			r.Prompts = c.Prompts
			if len(c.Insights) > 0 {
				r.Insights = c.Insights
			}
		}
	}
	return turn.Update{Reflection: r}, nil
}

func reflectionType(st *turn.State) string {
	worsening := st.Profile != nil && st.Profile.Metrics.DistressTrend == profile.TrendWorsening
	switch {
	case st.Distress >= checkInDistress && worsening:
		return ReflectionEmotionalCheckIn
	case st.AllianceScored() && st.Alliance.Mean() < repairAlliance:
		return ReflectionAllianceRepair
	case st.Progress != nil && len(st.Progress.New) >= celebrateNew:
		return ReflectionProgressCelebration
	case st.TurnIndex > 0 && st.TurnIndex%summaryInterval == 0:
		return ReflectionPeriodicSummary
	}
	return ""
}

func reflectionInsights(st *turn.State) []string {
	var out []string
	if st.Progress != nil {
		out = append(out, fmt.Sprintf("You've completed %.0f%% of the steps toward getting help.", st.Progress.Percent))
	}
	if st.Profile != nil && st.Profile.Metrics.DistressTrend == profile.TrendImproving {
		out = append(out, "Your stress seems to be easing compared with earlier in our conversation.")
	}
	return out
}

func completed(st *turn.State) []string {
	if st.Progress == nil {
		return nil
	}
	return st.Progress.Completed
}
