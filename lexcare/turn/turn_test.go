package turn

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/lexcare/lexcare/adapters"
	"github.com/ZanzyTHEbar/lexcare/lexcare/intake"
	"github.com/ZanzyTHEbar/lexcare/lexcare/matching"
	"github.com/ZanzyTHEbar/lexcare/lexcare/ports"
	"github.com/ZanzyTHEbar/lexcare/lexcare/profile"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var errUpstream = errors.New("upstream unavailable")

func failing(name string) Unit {
	return UnitFunc{UnitName: name, Fn: func(ctx context.Context, st *State) (Update, error) {
		return Update{}, errUpstream
	}}
}

func returning(name string, u Update) Unit {
	return UnitFunc{UnitName: name, Fn: func(ctx context.Context, st *State) (Update, error) {
		return u, nil
	}}
}

// countingUnit records how often it ran and what it saw.
type countingUnit struct {
	name   string
	calls  atomic.Int32
	update Update
	seen   func(st *State)
}

func (c *countingUnit) Name() string { return c.name }

func (c *countingUnit) Process(ctx context.Context, st *State) (Update, error) {
	c.calls.Add(1)
	if c.seen != nil {
		c.seen(st)
	}
	return c.update, nil
}

type panicComposer struct{}

func (panicComposer) Compose(ctx context.Context, st *State) (Reply, error) {
	panic("template exploded")
}

type failingStore struct{}

func (failingStore) SaveTurn(ctx context.Context, rec ports.TurnRecord, ttl time.Duration) error {
	return errUpstream
}
func (failingStore) RecentTurns(ctx context.Context, userID string, limit int) ([]ports.TurnRecord, error) {
	return nil, errUpstream
}
func (failingStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	return 0, errUpstream
}
func (failingStore) GetProfile(ctx context.Context, userID string) (*profile.Profile, error) {
	return nil, errUpstream
}
func (failingStore) MergeProfile(ctx context.Context, update *profile.Profile) error {
	return errUpstream
}

// pingPong never settles: each specialist hands off to the other.
type pingPong struct{}

type bouncer struct{ id, next string }

func (b bouncer) ID() string { return b.id }
func (b bouncer) Step(ctx context.Context, in intake.Input) (intake.Outcome, error) {
	return intake.Outcome{Kind: intake.KindTransition, Next: b.next}, nil
}

func (pingPong) Get(id string) (intake.Specialist, bool) {
	switch id {
	case intake.TriageID, "ping":
		return bouncer{id: id, next: "pong"}, true
	case "pong":
		return bouncer{id: id, next: "ping"}, true
	}
	return nil, false
}
func (pingPong) Triggered(text string) bool { return true }

func testPolicy() Policy {
	p := DefaultPolicy()
	p.UnitTimeout = time.Second
	return p
}

func newOrchestrator(t *testing.T, deps Deps) *Orchestrator {
	t.Helper()
	deps.Logger = zerolog.Nop()
	return NewOrchestrator(testPolicy(), deps)
}

func TestState_ApplyClampsScores(t *testing.T) {
	st := NewState("t1", "u1", "c1", "hello", time.Now())

	st.Apply(Update{
		Distress:   Ptr(14.0),
		Engagement: Ptr(-3.0),
		Alliance:   &Alliance{Bond: 11, Goal: -1, Task: 5},
		Safety:     &Safety{Score: 42},
	})
	assert.Equal(t, MaxScore, st.Distress)
	assert.Equal(t, MinScore, st.Engagement)
	assert.Equal(t, Alliance{Bond: 10, Goal: 0, Task: 5}, st.Alliance)
	assert.Equal(t, MaxScore, st.Safety.Score)

	st.Apply(Update{Distress: Ptr(math.NaN())})
	assert.Equal(t, MinScore, st.Distress)
}

func TestState_ApplyMergesFactsIntentsAndMarkers(t *testing.T) {
	st := NewState("t1", "u1", "c1", "hello", time.Now())
	st.Facts["location"] = "Brooklyn, New York, NY"

	p := profile.New("u1")
	p.Facts["location"] = "Queens, New York, NY"
	p.Facts["budget_tier"] = 2
	p.Intents = []string{"divorce"}
	p.Emotional = []profile.EmotionPoint{{Distress: 6, Engagement: 4}}

	st.Apply(Update{Profile: p})
	st.Apply(Update{Intents: []string{"custody", "divorce"}, Markers: []string{"first_contact"}})
	st.Apply(Update{Markers: []string{"first_contact", "identified_issue"}})

	assert.Equal(t, "Brooklyn, New York, NY", st.Facts["location"], "facts from this turn win")
	assert.Equal(t, 2, st.Facts["budget_tier"])
	assert.Equal(t, []string{"custody", "divorce"}, st.Intents)
	assert.Equal(t, []string{"first_contact", "identified_issue"}, st.Markers)
	assert.Equal(t, 6.0, st.Distress, "last recorded emotion seeds the scores")
	assert.False(t, st.EmotionScored())
}

func TestGraph_TransitionTableIsExhaustive(t *testing.T) {
	for p := PhaseSafetyCheck; p < phaseCount; p++ {
		assert.NotEqual(t, "", phaseNames[p], "phase %d has no name", p)
		if Terminal(p) {
			assert.Empty(t, Successors(p))
			continue
		}
		succ := Successors(p)
		require.NotEmpty(t, succ, "phase %s has no successors", p)
		for _, next := range succ {
			assert.True(t, next >= 0 && next < phaseCount, "phase %s has invalid successor %d", p, next)
		}
	}

	// Every phase reaches Done.
	for p := PhaseSafetyCheck; p < phaseCount; p++ {
		seen := map[Phase]bool{}
		queue := []Phase{p}
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			if seen[cur] {
				continue
			}
			seen[cur] = true
			queue = append(queue, Successors(cur)...)
		}
		assert.True(t, seen[PhaseDone], "phase %s cannot reach done", p)
	}

	assert.False(t, Allowed(PhaseParallelAnalysis, PhaseLegalIntake))
	assert.True(t, Allowed(PhaseLegalIntake, PhaseLegalIntake))
}

func TestOrchestrate_EmptyInput(t *testing.T) {
	o := newOrchestrator(t, Deps{})
	_, err := o.Orchestrate(context.Background(), Input{UserID: "u1", Text: "   "})
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestOrchestrate_AllUnitsFailStillReplies(t *testing.T) {
	units := NewRegistry(
		failing(UnitSafety), failing(UnitProfile), failing(UnitDraft), failing(UnitEmotion),
		failing(UnitExtraction), failing(UnitAlliance), failing(UnitResearch), failing(UnitProgress),
		failing(UnitReflection),
		UnitFunc{UnitName: UnitMatching, Fn: func(ctx context.Context, st *State) (Update, error) {
			panic("index client nil")
		}},
	)
	o := newOrchestrator(t, Deps{
		Units:     units,
		Composer:  panicComposer{},
		Persister: NewPersister(failingStore{}, failingStore{}, nil, time.Hour),
		Turns:     failingStore{},
	})

	res, err := o.Orchestrate(context.Background(), Input{UserID: "u1", Text: "I need a lawyer for my divorce"})
	require.NoError(t, err)

	assert.Equal(t, testPolicy().FallbackMessage, res.Response)
	assert.Empty(t, res.Suggestions)
	assert.Empty(t, res.Cards)
	assert.NotEmpty(t, res.TurnID)

	for _, v := range []float64{res.Metrics.Distress, res.Metrics.Engagement, res.Metrics.AllianceBond, res.Metrics.AllianceGoal, res.Metrics.AllianceTask} {
		assert.GreaterOrEqual(t, v, MinScore)
		assert.LessOrEqual(t, v, MaxScore)
	}

	failed := map[string]bool{}
	for _, f := range res.Failures {
		failed[f.Unit] = true
	}
	for _, name := range []string{UnitSafety, UnitEmotion, UnitMatching, "composer", "context"} {
		assert.True(t, failed[name], "expected %s failure to be recorded", name)
	}
}

func TestOrchestrate_CrisisDistressBlocksMatching(t *testing.T) {
	match := &countingUnit{name: UnitMatching}
	units := NewRegistry(
		returning(UnitEmotion, Update{Distress: Ptr(9.0), Sentiment: &Sentiment{Coarse: "negative", Emotion: "fear"}}),
		returning(UnitExtraction, Update{Intents: []string{"divorce"}}),
		match,
	)
	o := newOrchestrator(t, Deps{Units: units})

	res, err := o.Orchestrate(context.Background(), Input{UserID: "u1", Text: "please recommend a divorce lawyer in Brooklyn"})
	require.NoError(t, err)

	assert.Zero(t, match.calls.Load())
	assert.Empty(t, res.Cards)
	assert.NotEmpty(t, res.Response)
	assert.Equal(t, 9.0, res.Metrics.Distress)
}

func TestOrchestrate_SafetyHoldSkipsAnalysis(t *testing.T) {
	draft := &countingUnit{name: UnitDraft}
	match := &countingUnit{name: UnitMatching}
	units := NewRegistry(
		returning(UnitSafety, Update{Safety: &Safety{Score: 10, Phrases: []string{"kill myself"}}}),
		draft, match,
	)
	o := newOrchestrator(t, Deps{Units: units, Intake: pingPong{}})

	res, err := o.Orchestrate(context.Background(), Input{UserID: "u1", Text: "I want to kill myself, I need a divorce lawyer"})
	require.NoError(t, err)

	assert.Equal(t, StageSafetyHold, res.Stage)
	assert.Empty(t, res.Cards)
	assert.Contains(t, res.Response, "988")
	assert.Zero(t, draft.calls.Load())
	assert.Zero(t, match.calls.Load())
	assert.GreaterOrEqual(t, res.Metrics.Distress, testPolicy().CrisisThreshold)
}

func TestOrchestrate_SafetyScoreAboveThresholdHolds(t *testing.T) {
	units := NewRegistry(returning(UnitSafety, Update{Safety: &Safety{Score: 8.5}}))
	o := newOrchestrator(t, Deps{Units: units})

	res, err := o.Orchestrate(context.Background(), Input{UserID: "u1", Text: "I can't do this anymore"})
	require.NoError(t, err)
	assert.Equal(t, StageSafetyHold, res.Stage)
}

func TestOrchestrate_IntakeLoopStopsAtStepBound(t *testing.T) {
	policy := testPolicy()
	policy.MaxSteps = 5
	checkpoints := NewCheckpointStore(adapters.NewLRUCache(8), 60)
	o := NewOrchestrator(policy, Deps{Intake: pingPong{}, Checkpoints: checkpoints, Logger: zerolog.Nop()})

	st := NewState("t1", "u1", "c1", "my landlord", time.Now())
	limited := o.run(context.Background(), st)

	assert.True(t, limited)
	assert.LessOrEqual(t, len(st.Phases), policy.MaxSteps+2)
	n := len(st.Phases)
	require.GreaterOrEqual(t, n, 2)
	assert.Equal(t, []Phase{PhaseAdvisorCompose, PhasePersistState}, st.Phases[n-2:])
	assert.NotEmpty(t, st.Response)
	assert.Empty(t, st.Intake.Specialist)
	require.Len(t, st.Failures, 1)
	assert.Equal(t, ErrStepBound.Error(), st.Failures[0].Err)

	res, err := o.Orchestrate(context.Background(), Input{UserID: "u1", Text: "my landlord"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Response)
	assert.Equal(t, int64(1), o.Metrics().GetSummary().StepLimited)

	// The saved checkpoint must not re-enter the chain next turn.
	cp, ok := checkpoints.Load(context.Background(), "u1")
	require.True(t, ok)
	assert.Empty(t, cp.ActiveSpecialist)
}

func TestOrchestrate_IntakeQuestionResumesNextTurn(t *testing.T) {
	registry, err := intake.NewRegistry(4)
	require.NoError(t, err)

	var seenLocation atomic.Value
	match := &countingUnit{
		name:   UnitMatching,
		update: Update{Match: &matching.Result{Reason: matching.ReasonNoMatches}},
		seen: func(st *State) {
			if loc, ok := st.Facts["location"].(string); ok {
				seenLocation.Store(loc)
			}
		},
	}
	store := adapters.NewMemoryStore(profile.DefaultLimits)
	profiles := UnitFunc{UnitName: UnitProfile, Fn: func(ctx context.Context, st *State) (Update, error) {
		p, err := store.GetProfile(ctx, st.UserID)
		if errors.Is(err, ports.ErrNotFound) {
			p = profile.New(st.UserID)
		} else if err != nil {
			return Update{}, err
		}
		return Update{Profile: p}, nil
	}}
	checkpoints := NewCheckpointStore(adapters.NewLRUCache(16), 3600)
	o := newOrchestrator(t, Deps{
		Units:       NewRegistry(profiles, match),
		Intake:      registry,
		Checkpoints: checkpoints,
		Persister:   NewPersister(store, store, checkpoints, time.Hour),
		Turns:       store,
	})
	ctx := context.Background()

	first, err := o.Orchestrate(ctx, Input{UserID: "u1", ConversationID: "c1", Text: "my husband wants a divorce"})
	require.NoError(t, err)
	assert.Equal(t, StageListening, first.Stage)
	assert.Equal(t, "family", first.ActiveSpecialist)
	assert.Contains(t, first.Response, "Which city or neighborhood")
	assert.Contains(t, first.LegalIntent, "divorce")
	assert.Zero(t, match.calls.Load(), "a question ends the turn")

	cp, ok := checkpoints.Load(ctx, "c1")
	require.True(t, ok)
	assert.Equal(t, "family", cp.ActiveSpecialist)
	assert.Equal(t, 1, cp.IntakeAsked)

	second, err := o.Orchestrate(ctx, Input{UserID: "u1", ConversationID: "c1", Text: "we live in Queens"})
	require.NoError(t, err)
	assert.Empty(t, second.ActiveSpecialist)
	assert.Equal(t, int32(1), match.calls.Load(), "intents from an earlier turn allow matching")
	assert.Equal(t, "Queens, New York, NY", seenLocation.Load())
	assert.Equal(t, matching.ReasonNoMatches, second.MatchReason)

	p, err := store.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, p.TurnCount)
	assert.True(t, p.Milestones.Has(MilestoneCompletedIntake))
	assert.Equal(t, "divorce", p.Facts["case_type"])
}

func TestOrchestrate_FirstTurnNeedsServiceRequestToMatch(t *testing.T) {
	match := &countingUnit{name: UnitMatching, update: Update{Match: &matching.Result{Reason: matching.ReasonNoMatches}}}
	units := NewRegistry(returning(UnitExtraction, Update{Intents: []string{"housing"}}), match)
	checkpoints := NewCheckpointStore(adapters.NewLRUCache(8), 60)
	o := newOrchestrator(t, Deps{
		Units:       units,
		Checkpoints: checkpoints,
		Persister:   NewPersister(nil, nil, checkpoints, 0),
	})

	_, err := o.Orchestrate(context.Background(), Input{UserID: "u1", Text: "my landlord won't fix the heat"})
	require.NoError(t, err)
	assert.Zero(t, match.calls.Load())

	_, err = o.Orchestrate(context.Background(), Input{UserID: "u1", Text: "it has been three weeks now"})
	require.NoError(t, err)
	assert.Equal(t, int32(1), match.calls.Load())
}

func TestOrchestrate_InsufficientInfoAsksForLocationAndCategory(t *testing.T) {
	units := NewRegistry(returning(UnitMatching, Update{Match: &matching.Result{Reason: matching.ReasonInsufficientInfo}}))
	o := newOrchestrator(t, Deps{Units: units})

	res, err := o.Orchestrate(context.Background(), Input{UserID: "u1", Text: "I need a lawyer"})
	require.NoError(t, err)

	assert.Equal(t, matching.ReasonInsufficientInfo, res.MatchReason)
	assert.Contains(t, res.Suggestions, SuggestLocation)
	assert.Contains(t, res.Suggestions, SuggestCategory)
	assert.Empty(t, res.Cards)
}

func TestOrchestrate_ShowsCardsForMatches(t *testing.T) {
	result := &matching.Result{Candidates: []matching.ScoredCandidate{
		{Candidate: ports.Candidate{ID: "c1", Name: "Dana Reyes", FeeTier: 2}, Total: 0.82, Reasons: []string{"Practices divorce law"}},
	}}
	units := NewRegistry(
		returning(UnitDraft, Update{Draft: Ptr("I'm sorry you're going through a divorce.")}),
		returning(UnitMatching, Update{Match: result}),
	)
	o := newOrchestrator(t, Deps{Units: units})

	res, err := o.Orchestrate(context.Background(), Input{UserID: "u1", Text: "find me a divorce attorney"})
	require.NoError(t, err)

	require.Len(t, res.Cards, 1)
	assert.Equal(t, "$$", res.Cards[0].BudgetTier)
	assert.Equal(t, StageMatching, res.Stage)
	assert.Contains(t, res.Response, "I'm sorry you're going through a divorce.")
	assert.Contains(t, res.Response, "one professional")
}

func TestOrchestrate_PersistFailureIsSwallowed(t *testing.T) {
	o := newOrchestrator(t, Deps{
		Units:     NewRegistry(returning(UnitDraft, Update{Draft: Ptr("Thanks for reaching out.")})),
		Persister: NewPersister(failingStore{}, failingStore{}, nil, time.Hour),
	})

	res, err := o.Orchestrate(context.Background(), Input{UserID: "u1", Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "Thanks for reaching out.", res.Response)
}

func TestOrchestrate_UnitTimeoutDropsContribution(t *testing.T) {
	policy := testPolicy()
	policy.UnitTimeout = 20 * time.Millisecond
	slow := UnitFunc{UnitName: UnitDraft, Fn: func(ctx context.Context, st *State) (Update, error) {
		<-ctx.Done()
		return Update{}, ctx.Err()
	}}
	o := NewOrchestrator(policy, Deps{Units: NewRegistry(slow), Logger: zerolog.Nop()})

	res, err := o.Orchestrate(context.Background(), Input{UserID: "u1", Text: "hello"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Response)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, UnitDraft, res.Failures[0].Unit)
}

func TestContextAssembler_PackRespectsBudget(t *testing.T) {
	a := NewContextAssembler(Budget{MaxContextTokens: 10, MaxSnippets: 2}, nil)
	packed := a.Pack([]Snippet{
		{Text: "low", Score: 0.1},
		{Text: "this snippet is far too long for the budget", Score: 0.9},
		{Text: "  high  ", Score: 0.8},
		{Text: "mid", Score: 0.5},
	})
	assert.Equal(t, []string{"high", "mid"}, packed)

	assert.Nil(t, NewContextAssembler(Budget{}, nil).Pack([]Snippet{{Text: "x"}}))
}

func TestMetricsCollector_Summary(t *testing.T) {
	mc := NewMetricsCollector()
	mc.RecordUnit("emotion", 10*time.Millisecond, nil)
	mc.RecordUnit("emotion", 30*time.Millisecond, errUpstream)
	mc.RecordTurn(100*time.Millisecond, StageAdvising, false)
	mc.RecordTurn(300*time.Millisecond, StageSafetyHold, true)
	mc.RecordPhase(PhaseSafetyCheck, 5*time.Millisecond)

	s := mc.GetSummary()
	assert.Equal(t, int64(2), s.TurnCount)
	assert.Equal(t, int64(1), s.StepLimited)
	assert.Equal(t, int64(1), s.Stages[StageSafetyHold])
	assert.Equal(t, UnitStats{Calls: 2, Failures: 1, TotalLatency: 40 * time.Millisecond}, s.Units["emotion"])
	assert.Equal(t, 300*time.Millisecond, s.TurnLatency.P99)
	assert.Equal(t, 5*time.Millisecond, s.PhaseLatency["safety_check"].P50)

	mc.Reset()
	assert.Zero(t, mc.GetSummary().TurnCount)
}
