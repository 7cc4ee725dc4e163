package units

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/lexcare/lexcare/adapters"
	"github.com/ZanzyTHEbar/lexcare/lexcare/config"
	"github.com/ZanzyTHEbar/lexcare/lexcare/inference"
	"github.com/ZanzyTHEbar/lexcare/lexcare/matching"
	"github.com/ZanzyTHEbar/lexcare/lexcare/ports"
	"github.com/ZanzyTHEbar/lexcare/lexcare/profile"
	"github.com/ZanzyTHEbar/lexcare/lexcare/turn"
)

type stubBackend struct {
	reply string
	err   error
}

func (s stubBackend) Complete(ctx context.Context, prompt ports.Prompt, opts ports.InferenceOptions) (string, error) {
	return s.reply, s.err
}

func llmReplying(reply string) *inference.Client {
	return inference.NewClient(stubBackend{reply: reply}, nil, config.InferenceConfig{Timeout: time.Second}, zerolog.Nop())
}

func llmFailing() *inference.Client {
	return inference.NewClient(stubBackend{err: errors.New("upstream 503")}, nil, config.InferenceConfig{Timeout: time.Second}, zerolog.Nop())
}

func newState(text string) *turn.State {
	return turn.NewState("t1", "u1", "c1", text, time.Now())
}

func lexicon(t *testing.T) *matching.Lexicon {
	t.Helper()
	lex, err := matching.DefaultLexicon()
	require.NoError(t, err)
	return lex
}

type emptyIndex struct{}

func (emptyIndex) Search(ctx context.Context, q ports.SearchQuery) ([]ports.SearchHit, error) {
	return nil, nil
}

func (emptyIndex) Get(ctx context.Context, id string) (*ports.Candidate, error) {
	return nil, ports.ErrNotFound
}

func (emptyIndex) Suggest(ctx context.Context, prefix string, limit int) ([]string, error) {
	return nil, nil
}

func TestDefaultSignals(t *testing.T) {
	sig, err := DefaultSignals()
	require.NoError(t, err)

	for _, label := range sig.EmotionOrder {
		assert.Contains(t, turn.Emotions, label)
		assert.NotEmpty(t, sig.Emotions[label], label)
	}
	assert.NotEmpty(t, sig.Research["family"])
}

func TestSafety_CrisisPhraseHolds(t *testing.T) {
	u := NewSafetyUnit(config.Default().Turn, nil, zerolog.Nop())

	up, err := u.Process(context.Background(), newState("Honestly I want to end my life"))
	require.NoError(t, err)

	require.NotNil(t, up.Safety)
	assert.True(t, up.Safety.Hold)
	assert.Equal(t, []string{"end my life"}, up.Safety.Phrases)
	assert.Contains(t, up.Safety.Message, "988")
	require.NotNil(t, up.Distress)
	assert.Equal(t, turn.MaxScore, *up.Distress)
}

func TestSafety_RiskKeywordsStayBelowHold(t *testing.T) {
	cfg := config.Default().Turn
	u := NewSafetyUnit(cfg, llmFailing(), zerolog.Nop())

	up, err := u.Process(context.Background(), newState("I feel hopeless, like I should give up on this case"))
	require.NoError(t, err)

	assert.False(t, up.Safety.Hold)
	assert.Greater(t, up.Safety.Score, 0.0)
	assert.Less(t, up.Safety.Score, cfg.SafetyHoldThreshold)
}

func TestSafety_ClassifierScoreHolds(t *testing.T) {
	u := NewSafetyUnit(config.Default().Turn, llmReplying(`{"risk_score": 9, "rationale": "explicit plan"}`), zerolog.Nop())

	up, err := u.Process(context.Background(), newState("I have a plan for tonight"))
	require.NoError(t, err)

	assert.True(t, up.Safety.Hold)
	assert.Equal(t, 9.0, up.Safety.Score)
	assert.NotEmpty(t, up.Safety.Message)
}

func TestProfile_NewUserGetsEmptyProfile(t *testing.T) {
	store := adapters.NewMemoryStore(profile.DefaultLimits)
	u := NewProfileUnit(store)

	up, err := u.Process(context.Background(), newState("hello"))
	require.NoError(t, err)
	require.NotNil(t, up.Profile)
	assert.Equal(t, "u1", up.Profile.UserID)
	assert.Zero(t, up.Profile.TurnCount)
}

func TestEmotion_Heuristic(t *testing.T) {
	u := NewEmotionUnit(nil, zerolog.Nop())

	up, err := u.Process(context.Background(), newState("I'm terrified and overwhelmed, I don't know what to do!"))
	require.NoError(t, err)

	assert.Equal(t, turn.Sentiment{Coarse: "negative", Emotion: "fear"}, *up.Sentiment)
	assert.GreaterOrEqual(t, *up.Distress, 8.0)
	assert.LessOrEqual(t, *up.Distress, turn.MaxScore)

	up, err = u.Process(context.Background(), newState("Thank you, that is really helpful"))
	require.NoError(t, err)
	assert.Equal(t, "positive", up.Sentiment.Coarse)
	assert.Equal(t, "gratitude", up.Sentiment.Emotion)
	assert.Less(t, *up.Distress, 4.0)
}

func TestEmotion_InferenceReading(t *testing.T) {
	u := NewEmotionUnit(llmReplying(`{"sentiment":"negative","emotion":"grief","distress":7,"engagement":6}`), zerolog.Nop())

	up, err := u.Process(context.Background(), newState("My father passed and the will is missing"))
	require.NoError(t, err)
	assert.Equal(t, "grief", up.Sentiment.Emotion)
	assert.Equal(t, 7.0, *up.Distress)
	assert.Equal(t, 6.0, *up.Engagement)
}

func TestEmotion_UnknownLabelKeepsKeywordLabel(t *testing.T) {
	u := NewEmotionUnit(llmReplying(`{"sentiment":"negative","emotion":"sorrow","distress":6,"engagement":5}`), zerolog.Nop())

	up, err := u.Process(context.Background(), newState("I'm so sad about all of this"))
	require.NoError(t, err)
	assert.Equal(t, "sadness", up.Sentiment.Emotion)
	assert.Equal(t, 6.0, *up.Distress)
}

func TestExtraction_DivorceScenario(t *testing.T) {
	engine, err := matching.NewEngine(config.Default().Matching, matching.Deps{Index: emptyIndex{}, Logger: zerolog.Nop()})
	require.NoError(t, err)
	u := NewExtractionUnit(engine)

	up, err := u.Process(context.Background(), newState(
		"I'm going through a divorce in Brooklyn and need a female lawyer. My budget is around $200/hr."))
	require.NoError(t, err)

	assert.Equal(t, []string{"divorce"}, up.Intents)
	assert.Equal(t, "Brooklyn, New York, NY", up.Facts["location"])
	assert.Equal(t, 2, up.Facts["budget_tier"])
	assert.Equal(t, 200.0, up.Facts["hourly_rate"])
	assert.Equal(t, "female", up.Facts["gender_preference"])
	assert.NotContains(t, up.Facts, "case_type")
}

func TestDraft_FallbackOpeningByProblemArea(t *testing.T) {
	u := NewDraftUnit(lexicon(t), llmFailing(), zerolog.Nop())

	up, err := u.Process(context.Background(), newState("My landlord is trying to evict me"))
	require.NoError(t, err)
	require.NotNil(t, up.Draft)
	assert.Equal(t, groupOpenings["housing"], *up.Draft)

	up, err = u.Process(context.Background(), newState("hi there"))
	require.NoError(t, err)
	assert.Nil(t, up.Draft)
}

func TestDraft_UsesInferenceText(t *testing.T) {
	u := NewDraftUnit(lexicon(t), llmReplying("  I hear how stressful this is.  "), zerolog.Nop())

	st := newState("my landlord kept my deposit")
	st.Context = []string{"User: I moved out last month"}
	up, err := u.Process(context.Background(), st)
	require.NoError(t, err)
	assert.Equal(t, "I hear how stressful this is.", *up.Draft)
	assert.Contains(t, draftPrompt(st), "I moved out last month")
}

func TestAlliance_OutOfRangeReplyFallsBackToEstimate(t *testing.T) {
	u := NewAllianceUnit(llmReplying(`{"bond": 15, "goal": 4, "task": 4}`), zerolog.Nop())

	st := newState("thanks, that makes sense")
	st.Sentiment = turn.Sentiment{Coarse: "positive", Emotion: "gratitude"}
	st.Engagement = 8
	st.Intents = []string{"divorce"}
	up, err := u.Process(context.Background(), st)
	require.NoError(t, err)

	a := up.Alliance
	require.NotNil(t, a)
	for _, v := range []float64{a.Bond, a.Goal, a.Task} {
		assert.GreaterOrEqual(t, v, turn.MinScore)
		assert.LessOrEqual(t, v, turn.MaxScore)
	}
	assert.Greater(t, a.Bond, 5.0)
	assert.Greater(t, a.Goal, 5.0)
}

func TestResearch(t *testing.T) {
	u := NewResearchUnit(lexicon(t), nil, zerolog.Nop())

	up, err := u.Process(context.Background(), newState("hello"))
	require.NoError(t, err)
	assert.Nil(t, up.Research)

	st := newState("custody question")
	st.Intents = []string{"custody"}
	up, err = u.Process(context.Background(), st)
	require.NoError(t, err)
	require.NotNil(t, up.Research)
	assert.Contains(t, up.Research.Summary, "family court")
}

func TestProgress_FirstTurn(t *testing.T) {
	u := NewProgressUnit()
	st := newState("I need help with a divorce and I'm in Brooklyn, my budget is about $200/hr")
	st.Profile = profile.New("u1")
	st.Intents = []string{"divorce"}
	st.Facts = map[string]any{"location": "Brooklyn, New York, NY", "hourly_rate": 200.0}

	up, err := u.Process(context.Background(), st)
	require.NoError(t, err)

	want := []string{
		MilestoneFirstContact, MilestoneSharedSituation, MilestoneIdentifiedIssue,
		MilestoneSharedLocation, MilestoneDiscussedBudget,
	}
	assert.Equal(t, want, up.Progress.Completed)
	assert.Equal(t, want, up.Progress.New)
	assert.Equal(t, want, up.Markers)
	assert.Len(t, up.Progress.Insights, len(want))
	assert.InDelta(t, 5.0/float64(len(profile.Catalog))*100, up.Progress.Percent, 1e-9)
}

func TestProgress_OnlyReportsNewMilestones(t *testing.T) {
	u := NewProgressUnit()
	st := newState("Thank you so much, I'll call her tomorrow")
	st.Profile = profile.New("u1")
	st.Profile.Milestones = profile.NewMilestoneSet(MilestoneFirstContact, MilestoneIdentifiedIssue)
	st.Markers = []string{turn.MilestoneCompletedIntake}

	up, err := u.Process(context.Background(), st)
	require.NoError(t, err)

	assert.Equal(t, []string{turn.MilestoneCompletedIntake, MilestoneExpressedRelief, MilestoneSetNextStep}, up.Progress.New)
	assert.Len(t, up.Progress.Completed, 5)
	assert.False(t, st.Profile.Milestones.Has(MilestoneSetNextStep))
}

type fixedMatcher struct {
	res *matching.Result
	err error
}

func (m fixedMatcher) Match(ctx context.Context, req matching.Request) (*matching.Result, error) {
	return m.res, m.err
}

func TestMatching_MarksReviewedMatches(t *testing.T) {
	found := &matching.Result{Candidates: []matching.ScoredCandidate{{Candidate: ports.Candidate{ID: "a"}}}}
	up, err := NewMatchingUnit(fixedMatcher{res: found}).Process(context.Background(), newState("find me a lawyer"))
	require.NoError(t, err)
	assert.Same(t, found, up.Match)
	assert.Equal(t, []string{MilestoneReviewedMatches}, up.Markers)

	empty := &matching.Result{Reason: matching.ReasonInsufficientInfo}
	up, err = NewMatchingUnit(fixedMatcher{res: empty}).Process(context.Background(), newState("find me a lawyer"))
	require.NoError(t, err)
	assert.Empty(t, up.Markers)

	_, err = NewMatchingUnit(fixedMatcher{err: context.Canceled}).Process(context.Background(), newState("x"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReflection_Types(t *testing.T) {
	u := NewReflectionUnit(nil, zerolog.Nop())

	quiet := newState("ok")
	up, err := u.Process(context.Background(), quiet)
	require.NoError(t, err)
	assert.False(t, up.Reflection.NeedsReflection)

	worse := newState("it keeps getting worse")
	worse.Distress = 7
	worse.Profile = profile.New("u1")
	worse.Profile.Metrics.DistressTrend = profile.TrendWorsening
	up, err = u.Process(context.Background(), worse)
	require.NoError(t, err)
	assert.True(t, up.Reflection.NeedsReflection)
	assert.Equal(t, ReflectionEmotionalCheckIn, up.Reflection.Type)
	assert.NotEmpty(t, up.Reflection.Prompts)

	celebrate := newState("great")
	celebrate.Progress = &turn.Progress{New: []string{"shared_location", "discussed_budget"}, Percent: 40}
	up, err = u.Process(context.Background(), celebrate)
	require.NoError(t, err)
	assert.Equal(t, ReflectionProgressCelebration, up.Reflection.Type)
	assert.Contains(t, up.Reflection.Insights[0], "40%")

	periodic := newState("ok")
	periodic.TurnIndex = 10
	up, err = u.Process(context.Background(), periodic)
	require.NoError(t, err)
	assert.Equal(t, ReflectionPeriodicSummary, up.Reflection.Type)
}

func TestReflection_InferencePrompts(t *testing.T) {
	u := NewReflectionUnit(llmReplying(`{"prompts":["How did the call with your sister go?"],"insights":[]}`), zerolog.Nop())

	st := newState("ok")
	st.TurnIndex = 5
	up, err := u.Process(context.Background(), st)
	require.NoError(t, err)
	assert.Equal(t, []string{"How did the call with your sister go?"}, up.Reflection.Prompts)
}
