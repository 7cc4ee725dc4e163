package units

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/lexcare/lexcare/config"
	"github.com/ZanzyTHEbar/lexcare/lexcare/inference"
	"github.com/ZanzyTHEbar/lexcare/lexcare/matching"
	"github.com/ZanzyTHEbar/lexcare/lexcare/ports"
	"github.com/ZanzyTHEbar/lexcare/lexcare/turn"
)

// SafetyUnit screens a message for crisis risk. A configured crisis phrase
// always holds; otherwise the risk classifier scores the text.
type SafetyUnit struct {
	crisis    map[string][]string
	risk      []string
	threshold float64
	message   string
	llm       *inference.Client
	logger    zerolog.Logger
}

type riskAssessment struct {
	Score     float64 `json:"risk_score" jsonschema:"minimum=0,maximum=10"`
	Rationale string  `json:"rationale"`
}

const safetySystemPrompt = `You screen messages sent to a legal help service for risk of self-harm or harm to others.
Score risk from 0 (none) to 10 (imminent danger). Stress about a legal problem is not risk by itself.
Answer only with JSON matching the schema.`

// NewSafetyUnit creates the crisis screen. llm may be nil.
func NewSafetyUnit(cfg config.TurnConfig, llm *inference.Client, logger zerolog.Logger) *SafetyUnit {
	crisis := make(map[string][]string, len(cfg.CrisisPhrases))
	for _, p := range cfg.CrisisPhrases {
		crisis[p] = []string{p}
	}
	message := cfg.SafetyMessage
	if message == "" {
		message = config.DefaultSafetyMessage
	}
	threshold := cfg.SafetyHoldThreshold
	if threshold <= 0 {
		threshold = 8
	}
	return &SafetyUnit{
		crisis:    crisis,
		risk:      mustSignals().Risk,
		threshold: threshold,
		message:   message,
		llm:       llm,
		logger:    logger.With().Str("unit", turn.UnitSafety).Logger(),
	}
}

func (u *SafetyUnit) Name() string { return turn.UnitSafety }

// Process returns the safety verdict. A crisis phrase pins distress at the top
// of the scale.
func (u *SafetyUnit) Process(ctx context.Context, st *turn.State) (turn.Update, error) {
	if found := matching.MatchTable(u.crisis, st.Text); len(found) > 0 {
		return turn.Update{
			Safety: &turn.Safety{
				Score:   turn.MaxScore,
				Phrases: found,
				Hold:    true,
				Message: u.message,
			},
			Distress: turn.Ptr(turn.MaxScore),
		}, nil
	}

	score := u.keywordScore(st.Text)
	if u.llm.Available() {
		a, err := inference.Structured[riskAssessment](ctx, u.llm, "safety", ports.Prompt{
			System: safetySystemPrompt,
			User:   st.Text,
		}, inference.WithTemperature(0))
		if err != nil {
			// Keep the keyword score
			u.logger.Debug().Err(err).Msg("Risk classification failed")
		} else {
			score = max(score, a.Score)
		}
	}

	verdict := &turn.Safety{Score: score, Hold: score >= u.threshold}
	if verdict.Hold {
		verdict.Message = u.message
	}
	return turn.Update{Safety: verdict}, nil
}

// keywordScore rates concerning language below the hold threshold; keywords
// alone never hold a turn.
func (u *SafetyUnit) keywordScore(text string) float64 {
	n := countPhrases(u.risk, text)
	if n == 0 {
		return 0
	}
	return min(3+2*float64(n), u.threshold-1)
}
