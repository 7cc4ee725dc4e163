package units

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/lexcare/lexcare/inference"
	"github.com/ZanzyTHEbar/lexcare/lexcare/ports"
	"github.com/ZanzyTHEbar/lexcare/lexcare/turn"
)

// EmotionUnit scores sentiment, distress and engagement.
type EmotionUnit struct {
	sig    *Signals
	llm    *inference.Client
	logger zerolog.Logger
}

type emotionReading struct {
	Sentiment  string  `json:"sentiment" jsonschema:"enum=positive,enum=neutral,enum=negative"`
	Emotion    string  `json:"emotion"`
	Distress   float64 `json:"distress" jsonschema:"minimum=0,maximum=10"`
	Engagement float64 `json:"engagement" jsonschema:"minimum=0,maximum=10"`
}

var emotionSystemPrompt = fmt.Sprintf(`You read one message sent to a legal help service and rate the writer's emotional state.
distress: 0 calm to 10 overwhelmed. engagement: 0 withdrawn to 10 actively working the problem.
emotion must be one of: %s.
Answer only with JSON matching the schema.`, strings.Join(turn.Emotions, ", "))

// NewEmotionUnit creates the emotion scorer. llm may be nil.
func NewEmotionUnit(llm *inference.Client, logger zerolog.Logger) *EmotionUnit {
	return &EmotionUnit{
		sig:    mustSignals(),
		llm:    llm,
		logger: logger.With().Str("unit", turn.UnitEmotion).Logger(),
	}
}

func (u *EmotionUnit) Name() string { return turn.UnitEmotion }

// Process scores the message. Inference output with an unknown emotion label
// keeps the keyword label.
func (u *EmotionUnit) Process(ctx context.Context, st *turn.State) (turn.Update, error) {
	r := u.heuristic(st.Text)

	if u.llm.Available() {
		got, err := inference.Structured[emotionReading](ctx, u.llm, "emotion", ports.Prompt{
			System: emotionSystemPrompt,
			User:   st.Text,
		})
		if err != nil {
			u.logger.Debug().Err(err).Msg("Emotion inference failed; using keyword scores")
		} else {
			if !slices.Contains(turn.Emotions, got.Emotion) {
				got.Emotion = r.Emotion
			}
			r = got
		}
	}

	return turn.Update{
		Sentiment:  &turn.Sentiment{Coarse: r.Sentiment, Emotion: r.Emotion},
		Distress:   turn.Ptr(r.Distress),
		Engagement: turn.Ptr(r.Engagement),
	}, nil
}

// heuristic scores the message from the keyword tables.
func (u *EmotionUnit) heuristic(text string) emotionReading {
	r := emotionReading{Sentiment: "neutral", Emotion: "neutral"}
	for _, label := range u.sig.EmotionOrder {
		if countPhrases(u.sig.Emotions[label], text) > 0 {
			r.Emotion = label
			break
		}
	}
	switch {
	case slices.Contains(u.sig.Negative, r.Emotion):
		r.Sentiment = "negative"
	case slices.Contains(u.sig.Positive, r.Emotion):
		r.Sentiment = "positive"
	}

	high := countPhrases(u.sig.DistressHigh, text)
	moderate := countPhrases(u.sig.DistressModerate, text)
	distress := 2 + 3*float64(high) + 1.5*float64(moderate)
	if strings.Contains(text, "!") {
		distress++
	}
	r.Distress = clamp(distress, turn.MinScore, turn.MaxScore)

	engagement := 3 + min(float64(wordCount(text)/10), 4)
	if strings.Contains(text, "?") {
		engagement++
	}
	if strings.ContainsAny(text, "0123456789$") {
		engagement++
	}
	r.Engagement = clamp(engagement, turn.MinScore, turn.MaxScore)
	return r
}
