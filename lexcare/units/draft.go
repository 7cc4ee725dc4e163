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

// DraftUnit writes the empathetic opening of the reply.
type DraftUnit struct {
	lex    *matching.Lexicon
	llm    *inference.Client
	logger zerolog.Logger
}

const draftSystemPrompt = `You are a warm intake assistant for a legal help service. Write two or three sentences that
acknowledge what the person shared and show you understood their situation.
Do not give legal advice, do not name lawyers, and do not ask more than one question.`

// groupOpenings acknowledge a recognized kind of legal problem.
var groupOpenings = map[string]string{
	"family":      "Family legal matters can be exhausting, especially when people you care about are involved.",
	"housing":     "Problems with your home can feel urgent and unsettling, and it makes sense to want clarity quickly.",
	"employment":  "Trouble at work affects so much more than a paycheck, and it's reasonable to want to understand your options.",
	"immigration": "Immigration questions can carry a lot of weight for you and your family.",
	"criminal":    "Facing a criminal matter is stressful, and getting the right help early matters.",
	"consumer":    "Money and debt problems can be draining, and you don't have to work through them alone.",
	"injury":      "I'm sorry you were hurt. Dealing with an injury and a legal claim at the same time is a lot.",
	"estate":      "Planning for the future or settling an estate can raise a lot of questions.",
}

// NewDraftUnit creates the draft writer. llm may be nil.
func NewDraftUnit(lex *matching.Lexicon, llm *inference.Client, logger zerolog.Logger) *DraftUnit {
	return &DraftUnit{
		lex:    lex,
		llm:    llm,
		logger: logger.With().Str("unit", turn.UnitDraft).Logger(),
	}
}

func (u *DraftUnit) Name() string { return turn.UnitDraft }

// Process drafts an opening. Without inference it returns a fixed opening for
// the first recognized problem area, or nothing.
func (u *DraftUnit) Process(ctx context.Context, st *turn.State) (turn.Update, error) {
	if u.llm.Available() {
		text, err := u.llm.Text(ctx, "draft", ports.Prompt{
			System: draftSystemPrompt,
			User:   draftPrompt(st),
		}, inference.WithMaxTokens(200))
		if err == nil {
			return turn.Update{Draft: turn.Ptr(text)}, nil
		}
		u.logger.Debug().Err(err).Msg("Draft inference failed; using fixed opening")
	}

	for _, cat := range u.lex.DetectCategories(st.Text) {
		if opening, ok := groupOpenings[u.lex.CategoryGroup(cat)]; ok {
			return turn.Update{Draft: turn.Ptr(opening)}, nil
		}
	}
	return turn.Update{}, nil
}

func draftPrompt(st *turn.State) string {
	var b strings.Builder
	if len(st.Context) > 0 {
		b.WriteString("Earlier in the conversation:\n")
		for _, c := range st.Context {
			fmt.Fprintf(&b, "- %s\n", c)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "The person says: %s", st.Text)
	return b.String()
}
