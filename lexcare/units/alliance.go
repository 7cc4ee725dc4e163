package units

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/lexcare/lexcare/inference"
	"github.com/ZanzyTHEbar/lexcare/lexcare/ports"
	"github.com/ZanzyTHEbar/lexcare/lexcare/turn"
)

// AllianceUnit estimates rapport as bond, goal and task agreement.
type AllianceUnit struct {
	llm    *inference.Client
	logger zerolog.Logger
}

type allianceReading struct {
	Bond float64 `json:"bond" jsonschema:"minimum=0,maximum=10"`
	Goal float64 `json:"goal" jsonschema:"minimum=0,maximum=10"`
	Task float64 `json:"task" jsonschema:"minimum=0,maximum=10"`
}

const allianceSystemPrompt = `You rate the working relationship between a person and a legal help assistant from 0 to 10 on:
bond (trust and warmth), goal (agreement on what they want to achieve), task (agreement on the next steps).
Answer only with JSON matching the schema.`

// allianceCarry is the weight kept from the previous estimate.
const allianceCarry = 0.7

// NewAllianceUnit creates the alliance scorer. llm may be nil.
func NewAllianceUnit(llm *inference.Client, logger zerolog.Logger) *AllianceUnit {
	return &AllianceUnit{
		llm:    llm,
		logger: logger.With().Str("unit", turn.UnitAlliance).Logger(),
	}
}

func (u *AllianceUnit) Name() string { return turn.UnitAlliance }

// Process runs after sentiment, intents and facts are merged.
func (u *AllianceUnit) Process(ctx context.Context, st *turn.State) (turn.Update, error) {
	if u.llm.Available() {
		r, err := inference.Structured[allianceReading](ctx, u.llm, "alliance", ports.Prompt{
			System: allianceSystemPrompt,
			User: fmt.Sprintf("Previous scores: bond %.1f, goal %.1f, task %.1f.\nSentiment: %s (%s).\nMessage: %s",
				st.Alliance.Bond, st.Alliance.Goal, st.Alliance.Task, st.Sentiment.Coarse, st.Sentiment.Emotion, st.Text),
		})
		if err == nil {
			return turn.Update{Alliance: &turn.Alliance{Bond: r.Bond, Goal: r.Goal, Task: r.Task}}, nil
		}
		u.logger.Debug().Err(err).Msg("Alliance inference failed; using signal estimate")
	}
	return turn.Update{Alliance: estimateAlliance(st)}, nil
}

// estimateAlliance moves the previous scores toward what this turn shows.
func estimateAlliance(st *turn.State) *turn.Alliance {
	bond := st.Engagement
	switch st.Sentiment.Emotion {
	case "gratitude", "relief", "optimism":
		bond += 2
	case "anger", "annoyance", "disapproval":
		bond -= 2
	}
	goal := 4 + 2*min(float64(len(st.Intents)), 2)
	task := 4 + min(float64(len(st.Facts)), 5)

	blend := func(prev, now float64) float64 {
		return clamp(allianceCarry*prev+(1-allianceCarry)*now, turn.MinScore, turn.MaxScore)
	}
	return &turn.Alliance{
		Bond: blend(st.Alliance.Bond, bond),
		Goal: blend(st.Alliance.Goal, goal),
		Task: blend(st.Alliance.Task, task),
	}
}
