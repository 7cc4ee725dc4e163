package units

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/lexcare/lexcare/inference"
	"github.com/ZanzyTHEbar/lexcare/lexcare/matching"
	"github.com/ZanzyTHEbar/lexcare/lexcare/ports"
	"github.com/ZanzyTHEbar/lexcare/lexcare/turn"
)

// ResearchUnit adds a short note of general legal information for the
// recognized problem area.
type ResearchUnit struct {
	lex    *matching.Lexicon
	notes  map[string]string
	llm    *inference.Client
	logger zerolog.Logger
}

const researchSystemPrompt = `You provide general legal information, never legal advice. In two or three sentences,
explain how the person's type of problem usually works and what they can prepare. Mention that rules vary by location.`

// NewResearchUnit creates the research note writer. llm may be nil.
func NewResearchUnit(lex *matching.Lexicon, llm *inference.Client, logger zerolog.Logger) *ResearchUnit {
	return &ResearchUnit{
		lex:    lex,
		notes:  mustSignals().Research,
		llm:    llm,
		logger: logger.With().Str("unit", turn.UnitResearch).Logger(),
	}
}

func (u *ResearchUnit) Name() string { return turn.UnitResearch }

// Process needs at least one intent; otherwise it contributes nothing.
func (u *ResearchUnit) Process(ctx context.Context, st *turn.State) (turn.Update, error) {
	if len(st.Intents) == 0 {
		return turn.Update{}, nil
	}

	if u.llm.Available() {
		user := fmt.Sprintf("Problem areas: %s.", strings.Join(st.Intents, ", "))
		if loc, ok := st.Facts["location"].(string); ok && loc != "" {
			user += fmt.Sprintf(" Location: %s.", loc)
		}
		user += "\nMessage: " + st.Text
		summary, err := u.llm.Text(ctx, "research", ports.Prompt{
			System: researchSystemPrompt,
			User:   user,
		}, inference.WithMaxTokens(220))
		if err == nil {
			return turn.Update{Research: &turn.Research{Summary: summary, Sources: []string{"inference"}}}, nil
		}
		u.logger.Debug().Err(err).Msg("Research inference failed; using stored note")
	}

	for _, intent := range st.Intents {
		if note, ok := u.notes[u.lex.CategoryGroup(intent)]; ok {
			return turn.Update{Research: &turn.Research{Summary: note, Sources: []string{"lexcare notes"}}}, nil
		}
	}
	return turn.Update{}, nil
}
