package turn

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/lexcare/lexcare/config"
	"github.com/ZanzyTHEbar/lexcare/lexcare/intake"
	"github.com/ZanzyTHEbar/lexcare/lexcare/matching"
	"github.com/ZanzyTHEbar/lexcare/lexcare/ports"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/iter"
)

// ErrEmptyInput is returned for a turn without a user id or text.
var ErrEmptyInput = errors.New("turn requires a user id and text")

// ErrStepBound is recorded as a failure when a turn runs out of steps.
var ErrStepBound = errors.New("step bound reached")

// MilestoneCompletedIntake is the marker added when intake finishes.
const MilestoneCompletedIntake = "completed_intake"

// Specialists is the legal-intake registry consulted by LegalIntake.
type Specialists interface {
	Get(id string) (intake.Specialist, bool)
	Triggered(text string) bool
}

// Policy controls orchestration behavior.
type Policy struct {
	MaxSteps            int           // phase transitions per turn
	CrisisThreshold     float64       // distress at or above blocks matching
	SafetyHoldThreshold float64       // safety score at or above holds the turn
	UnitTimeout         time.Duration // per-unit and per-specialist deadline
	ServiceKeywords     []string      // phrases that ask for a professional
	ContextTurns        int           // prior turns loaded by FetchContext
	SafetyMessage       string
	FallbackMessage     string
}

// DefaultPolicy returns the policy produced by default configuration.
func DefaultPolicy() Policy {
	cfg := config.Default()
	return PolicyFromConfig(cfg.Turn, cfg.Store)
}

// PolicyFromConfig builds a policy from the turn and store sections.
func PolicyFromConfig(turn config.TurnConfig, store config.StoreConfig) Policy {
	return Policy{
		MaxSteps:            turn.MaxSteps,
		CrisisThreshold:     turn.CrisisThreshold,
		SafetyHoldThreshold: turn.SafetyHoldThreshold,
		UnitTimeout:         turn.UnitTimeout,
		ServiceKeywords:     turn.ServiceKeywords,
		ContextTurns:        store.ContextTurns,
		SafetyMessage:       turn.SafetyMessage,
		FallbackMessage:     turn.FallbackMessage,
	}
}

// Deps are the collaborators of an Orchestrator. Only Units is required;
// the rest fall back to inert defaults.
type Deps struct {
	Units       *Registry
	Intake      Specialists
	Composer    Composer
	Persister   *Persister
	Checkpoints *CheckpointStore
	Turns       ports.TurnStore
	Assembler   *ContextAssembler
	Limiter     ports.RateLimiter
	Metrics     *MetricsCollector
	Tracer      ports.Tracer
	Logger      zerolog.Logger
	Now         func() time.Time
}

// Orchestrator runs turns through the phase graph.
type Orchestrator struct {
	policy      Policy
	units       *Registry
	intake      Specialists
	composer    Composer
	persister   *Persister
	checkpoints *CheckpointStore
	turns       ports.TurnStore
	assembler   *ContextAssembler
	limiter     ports.RateLimiter
	metrics     *MetricsCollector
	tracer      ports.Tracer
	logger      zerolog.Logger
	now         func() time.Time
}

// NewOrchestrator creates a new orchestrator with dependencies.
func NewOrchestrator(policy Policy, deps Deps) *Orchestrator {
	if policy.MaxSteps <= 0 {
		policy.MaxSteps = 12
	}
	if policy.UnitTimeout <= 0 {
		policy.UnitTimeout = 10 * time.Second
	}
	if policy.CrisisThreshold <= 0 {
		policy.CrisisThreshold = 7
	}
	if policy.SafetyMessage == "" {
		policy.SafetyMessage = config.DefaultSafetyMessage
	}
	if policy.FallbackMessage == "" {
		policy.FallbackMessage = config.DefaultFallbackMessage
	}

	o := &Orchestrator{
		policy:      policy,
		units:       deps.Units,
		intake:      deps.Intake,
		composer:    deps.Composer,
		persister:   deps.Persister,
		checkpoints: deps.Checkpoints,
		turns:       deps.Turns,
		assembler:   deps.Assembler,
		limiter:     deps.Limiter,
		metrics:     deps.Metrics,
		tracer:      deps.Tracer,
		logger:      deps.Logger.With().Str("component", "turn").Logger(),
		now:         deps.Now,
	}
	if o.units == nil {
		o.units = NewRegistry()
	}
	if o.composer == nil {
		o.composer = NewAdvisorComposer(policy.SafetyMessage, policy.FallbackMessage)
	}
	if o.persister == nil {
		o.persister = NewPersister(nil, nil, o.checkpoints, 0)
	}
	if o.assembler == nil {
		o.assembler = NewContextAssembler(Budget{MaxContextTokens: 800, MaxSnippets: 8}, nil)
	}
	if o.metrics == nil {
		o.metrics = NewMetricsCollector()
	}
	if o.tracer == nil {
		o.tracer = nopTracer{}
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o
}

// Metrics exposes the collector shared by every turn.
func (o *Orchestrator) Metrics() *MetricsCollector { return o.metrics }

// Orchestrate runs one turn to completion. The only errors are invalid input
// and a rejected rate-limit permit; every other failure degrades the reply.
func (o *Orchestrator) Orchestrate(ctx context.Context, in Input) (*Result, error) {
	in.UserID = strings.TrimSpace(in.UserID)
	in.Text = strings.TrimSpace(in.Text)
	if in.UserID == "" || in.Text == "" {
		return nil, ErrEmptyInput
	}
	if in.ConversationID == "" {
		in.ConversationID = in.UserID
	}

	// Acquire rate limit permit
	if o.limiter != nil {
		release, err := o.limiter.Acquire(ctx, "turn:"+in.UserID)
		if err != nil {
			return nil, fmt.Errorf("rate limit exceeded: %w", err)
		}
		defer release()
	}

	start := o.now()
	st := NewState(uuid.NewString(), in.UserID, in.ConversationID, in.Text, start)
	if cp, ok := o.checkpoints.Load(ctx, in.ConversationID); ok {
		cp.restore(st)
	}

	// Start tracing span
	ctx, finish := o.tracer.StartSpan(ctx, "turn", map[string]any{
		"turn_id":         st.TurnID,
		"conversation_id": st.ConversationID,
		"turn_index":      st.TurnIndex,
	})
	defer finish(nil)

	limited := o.run(ctx, st)
	res := newResult(st)

	elapsed := o.now().Sub(start)
	o.metrics.RecordTurn(elapsed, st.Stage, limited)
	o.logger.Info().
		Str("turn_id", st.TurnID).
		Str("conversation_id", st.ConversationID).
		Int("turn_index", st.TurnIndex).
		Str("stage", string(st.Stage)).
		Int("cards", len(res.Cards)).
		Int("failures", len(st.Failures)).
		Bool("step_limited", limited).
		Dur("elapsed", elapsed).
		Msg("Turn completed")
	return res, nil
}

// run walks the graph from SafetyCheck to Done. Once the step bound is hit the
// walk jumps to AdvisorCompose, so a reply is composed and persisted no matter
// how the earlier phases behaved.
func (o *Orchestrator) run(ctx context.Context, st *State) (limited bool) {
	phase := PhaseSafetyCheck
	for steps := 0; !Terminal(phase); steps++ {
		if steps >= o.policy.MaxSteps && phase < PhaseAdvisorCompose {
			o.logger.Warn().
				Str("turn_id", st.TurnID).
				Str("phase", phase.String()).
				Int("steps", steps).
				Msg("Step bound reached, composing reply")
			limited = true
			st.fail("orchestrator", phase, ErrStepBound)
			// Drop the unsettled intake so the next turn starts from triage
			st.Intake = Intake{}
			phase = PhaseAdvisorCompose
		}

		next := o.step(ctx, phase, st)
		if !Allowed(phase, next) {
			o.logger.Error().
				Str("from", phase.String()).
				Str("to", next.String()).
				Msg("Invalid phase transition")
			next = recoverySuccessor(phase)
		}
		phase = next
	}
	return limited
}

func recoverySuccessor(p Phase) Phase {
	switch {
	case p < PhaseAdvisorCompose:
		return PhaseAdvisorCompose
	case p == PhaseAdvisorCompose:
		return PhasePersistState
	default:
		return PhaseDone
	}
}

func (o *Orchestrator) step(ctx context.Context, phase Phase, st *State) Phase {
	ctx, finish := o.tracer.StartSpan(ctx, "phase."+phase.String(), map[string]any{"turn_id": st.TurnID})
	defer finish(nil)

	start := time.Now()
	st.Phases = append(st.Phases, phase)
	defer func() { o.metrics.RecordPhase(phase, time.Since(start)) }()

	switch phase {
	case PhaseSafetyCheck:
		return o.safetyCheck(ctx, st)
	case PhaseLegalIntake:
		return o.legalIntake(ctx, st)
	case PhaseFetchContext:
		return o.fetchContext(ctx, st)
	case PhaseParallelAnalysis:
		return o.parallelAnalysis(ctx, st)
	case PhaseReflectionCheck:
		o.runWave(ctx, phase, st, UnitReflection)
		return PhaseAdvisorCompose
	case PhaseAdvisorCompose:
		o.advisorCompose(ctx, st)
		return PhasePersistState
	case PhasePersistState:
		o.persistState(ctx, st)
		return PhaseDone
	}
	return phase
}

// safetyCheck runs the crisis classifier alongside the profile fetch.
func (o *Orchestrator) safetyCheck(ctx context.Context, st *State) Phase {
	o.runWave(ctx, PhaseSafetyCheck, st, UnitProfile, UnitSafety)

	if len(st.Safety.Phrases) > 0 ||
		(o.policy.SafetyHoldThreshold > 0 && st.Safety.Score >= o.policy.SafetyHoldThreshold) {
		st.Safety.Hold = true
	}
	if st.Safety.Hold {
		st.Stage = StageSafetyHold
		st.SkipRemaining = true
		st.Distress = max(st.Distress, o.policy.CrisisThreshold)
		if st.Safety.Message == "" {
			st.Safety.Message = o.policy.SafetyMessage
		}
		o.tracer.Event(ctx, "safety_hold", map[string]any{
			"turn_id": st.TurnID,
			"score":   st.Safety.Score,
			"phrases": len(st.Safety.Phrases),
		})
		return PhaseFetchContext
	}

	if st.Intake.Specialist != "" || (o.intake != nil && o.intake.Triggered(st.Text)) {
		return PhaseLegalIntake
	}
	return PhaseFetchContext
}

// legalIntake runs one step of the active specialist. Transitions re-enter
// this phase; the step bound ends a specialist chain that never settles.
func (o *Orchestrator) legalIntake(ctx context.Context, st *State) Phase {
	id := st.Intake.Specialist
	if id == "" {
		id = intake.TriageID
		st.Intake.Specialist = id
	}

	var (
		sp intake.Specialist
		ok bool
	)
	if o.intake != nil {
		sp, ok = o.intake.Get(id)
	}
	if !ok {
		o.logger.Warn().Str("specialist", id).Msg("Unknown intake specialist, leaving intake")
		st.Intake = Intake{}
		return PhaseFetchContext
	}

	start := time.Now()
	out, err := o.intakeStep(ctx, sp, intake.Input{
		Text:    st.Text,
		Answers: st.Intake.Answers,
		Asked:   st.Intake.Asked,
		Facts:   st.Facts,
	})
	o.metrics.RecordUnit("intake."+id, time.Since(start), err)
	if err != nil {
		st.fail("intake."+id, PhaseLegalIntake, err)
		o.logger.Warn().Err(err).Str("specialist", id).Msg("Intake specialist failed")
		return PhaseFetchContext
	}
	st.Apply(Update{Intents: out.Intents, Facts: out.Facts})

	switch out.Kind {
	case intake.KindQuestion:
		st.Intake.Answers = out.Answers
		st.Intake.Asked++
		st.Intake.Question = out.Question
		st.Intake.Slot = out.Slot
		st.Stage = StageListening
		return PhaseAdvisorCompose
	case intake.KindTransition:
		o.tracer.Event(ctx, "intake_transition", map[string]any{"from": id, "to": out.Next})
		st.Intake = Intake{Specialist: out.Next}
		return PhaseLegalIntake
	default:
		st.Intake = Intake{Completed: true, Forced: out.Forced}
		st.Apply(Update{Markers: []string{MilestoneCompletedIntake}})
		return PhaseFetchContext
	}
}

func (o *Orchestrator) intakeStep(ctx context.Context, sp intake.Specialist, in intake.Input) (out intake.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("specialist %s panicked: %v", sp.ID(), r)
		}
	}()
	ctx, cancel := context.WithTimeout(ctx, o.policy.UnitTimeout)
	defer cancel()
	return sp.Step(ctx, in)
}

// fetchContext loads recent turns and packs them with stored facts.
func (o *Orchestrator) fetchContext(ctx context.Context, st *State) Phase {
	if o.turns != nil && o.policy.ContextTurns > 0 {
		history, err := o.turns.RecentTurns(ctx, st.UserID, o.policy.ContextTurns)
		if err != nil {
			st.fail("context", PhaseFetchContext, err)
			o.logger.Warn().Err(err).Str("user_id", st.UserID).Msg("Failed to load recent turns")
		} else {
			st.Apply(Update{History: history})
		}
	}
	st.Context = o.assembler.Pack(contextSnippets(st.History, st.Facts))

	if st.SkipRemaining {
		return PhaseAdvisorCompose
	}
	return PhaseParallelAnalysis
}

// parallelAnalysis runs the two analysis waves. The second wave sees the
// first wave's merged output.
func (o *Orchestrator) parallelAnalysis(ctx context.Context, st *State) Phase {
	o.runWave(ctx, PhaseParallelAnalysis, st, UnitDraft, UnitEmotion, UnitExtraction)

	second := []string{UnitAlliance, UnitResearch, UnitProgress}
	if o.shouldMatch(st) {
		if _, ok := o.units.Get(UnitMatching); ok {
			second = append(second, UnitMatching)
			st.MatchInvoked = true
		}
	}
	o.runWave(ctx, PhaseParallelAnalysis, st, second...)

	st.Stage = stageFor(st)
	return PhaseReflectionCheck
}

// shouldMatch guards the matching unit. A user in crisis is never matched.
func (o *Orchestrator) shouldMatch(st *State) bool {
	if st.Safety.Hold || st.Distress >= o.policy.CrisisThreshold {
		return false
	}
	if MentionsService(st.Text, o.policy.ServiceKeywords) {
		return true
	}
	return len(st.Intents) > 0 && st.TurnIndex > 0
}

// MentionsService reports whether text asks for a professional.
func MentionsService(text string, keywords []string) bool {
	if len(keywords) == 0 {
		return false
	}
	return len(matching.MatchTable(map[string][]string{"service": keywords}, text)) > 0
}

func stageFor(st *State) Stage {
	switch {
	case st.Match != nil && len(st.Match.Candidates) > 0:
		return StageMatching
	case len(st.Intents) > 0:
		return StageAdvising
	default:
		return StageListening
	}
}

func (o *Orchestrator) advisorCompose(ctx context.Context, st *State) {
	reply, err := o.compose(ctx, st)
	if err != nil {
		st.fail("composer", PhaseAdvisorCompose, err)
		o.logger.Error().Err(err).Str("turn_id", st.TurnID).Msg("Compose failed, using fallback reply")
		reply = Reply{}
	}
	if strings.TrimSpace(reply.Response) == "" {
		reply = Reply{Response: o.policy.FallbackMessage}
	}
	st.Response = reply.Response
	st.Suggestions = reply.Suggestions
	st.ShowCards = reply.ShowCards && !st.Safety.Hold
}

func (o *Orchestrator) compose(ctx context.Context, st *State) (reply Reply, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("composer panicked: %v", r)
		}
	}()
	return o.composer.Compose(ctx, st)
}

// persistState writes the turn. Failures are logged and swallowed.
func (o *Orchestrator) persistState(ctx context.Context, st *State) {
	// A composed reply is persisted even if the caller has gone away.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.policy.UnitTimeout)
	defer cancel()

	if err := o.persister.Persist(ctx, st, newResult(st), o.now()); err != nil {
		// Log but don't fail
		o.logger.Warn().Err(err).Str("turn_id", st.TurnID).Msg("Failed to persist turn")
		o.tracer.Event(ctx, "store_error", map[string]any{"error": err.Error()})
	}
}

type unitOutcome struct {
	update  Update
	err     error
	elapsed time.Duration
}

// runWave runs the named units concurrently and merges their updates in the
// order given once all of them have returned. A failed unit is recorded and
// contributes nothing.
func (o *Orchestrator) runWave(ctx context.Context, phase Phase, st *State, names ...string) {
	units := o.units.resolve(names...)
	if len(units) == 0 {
		return
	}

	mapper := iter.Mapper[Unit, unitOutcome]{MaxGoroutines: len(units)}
	outcomes := mapper.Map(units, func(u *Unit) unitOutcome {
		return o.runUnit(ctx, *u, st)
	})

	for i, out := range outcomes {
		name := units[i].Name()
		o.metrics.RecordUnit(name, out.elapsed, out.err)
		if out.err != nil {
			st.fail(name, phase, out.err)
			o.logger.Warn().Err(out.err).Str("unit", name).Str("phase", phase.String()).Msg("Analysis unit failed")
			o.tracer.Event(ctx, "unit_error", map[string]any{
				"unit":  name,
				"phase": phase.String(),
				"error": out.err.Error(),
			})
			continue
		}
		st.Apply(out.update)
	}
}

func (o *Orchestrator) runUnit(ctx context.Context, u Unit, st *State) (out unitOutcome) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, o.policy.UnitTimeout)
	defer cancel()
	ctx, finish := o.tracer.StartSpan(ctx, "unit."+u.Name(), nil)

	defer func() {
		if r := recover(); r != nil {
			out = unitOutcome{err: fmt.Errorf("unit %s panicked: %v", u.Name(), r)}
		}
		out.elapsed = time.Since(start)
		finish(out.err)
	}()

	update, err := u.Process(ctx, st)
	return unitOutcome{update: update, err: err}
}

type nopTracer struct{}

func (nopTracer) StartSpan(ctx context.Context, name string, attrs map[string]any) (context.Context, func(error)) {
	return ctx, func(error) {}
}

func (nopTracer) Event(ctx context.Context, name string, attrs map[string]any) {}
