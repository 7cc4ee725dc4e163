// Package app wires configuration, adapters, analysis units and the turn
// orchestrator into a running service.
package app

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/lexcare/lexcare/adapters"
	"github.com/ZanzyTHEbar/lexcare/lexcare/config"
	"github.com/ZanzyTHEbar/lexcare/lexcare/inference"
	"github.com/ZanzyTHEbar/lexcare/lexcare/intake"
	"github.com/ZanzyTHEbar/lexcare/lexcare/matching"
	"github.com/ZanzyTHEbar/lexcare/lexcare/ports"
	"github.com/ZanzyTHEbar/lexcare/lexcare/profile"
	"github.com/ZanzyTHEbar/lexcare/lexcare/turn"
	"github.com/ZanzyTHEbar/lexcare/lexcare/units"
)

// App holds the wired components of one process.
type App struct {
	Config       *config.Config
	Orchestrator *turn.Orchestrator
	Checkpoints  *turn.CheckpointStore
	Engine       *matching.Engine
	Index        ports.SearchIndex
	Turns        ports.TurnStore
	Profiles     ports.ProfileStore
	Logger       zerolog.Logger
}

// Factory creates and wires components from configuration.
type Factory struct {
	cfg     *config.Config
	db      *sql.DB // Optional; profiles and turns stay in memory without it
	index   ports.SearchIndex
	backend ports.Inference
	logger  zerolog.Logger
}

// NewFactory creates a new factory. db may be nil.
func NewFactory(cfg *config.Config, db *sql.DB, logger zerolog.Logger) *Factory {
	return &Factory{
		cfg:    cfg,
		db:     db,
		logger: logger,
	}
}

// WithIndex overrides the search index built from the database.
func (f *Factory) WithIndex(index ports.SearchIndex) *Factory {
	f.index = index
	return f
}

// WithInference overrides the configured inference provider.
func (f *Factory) WithInference(backend ports.Inference) *Factory {
	f.backend = backend
	return f
}

// Build creates a fully wired App.
func (f *Factory) Build() (*App, error) {
	// Create adapters from config
	cache := f.createCache(f.cfg.Cache.Capacity)
	tracer := adapters.NewZerologTracer(f.logger)
	limiter := f.createRateLimiter()
	turns, profiles := f.createStores()

	index, err := f.createIndex()
	if err != nil {
		return nil, err
	}
	backend, err := f.createInference()
	if err != nil {
		return nil, err
	}
	llm := inference.NewClient(backend, limiter, f.cfg.Inference, f.logger)

	// Create domain components
	engine, err := matching.NewEngine(f.cfg.Matching, matching.Deps{
		Index:      index,
		Reputation: adapters.NewIndexReputation(index),
		Cache:      cache,
		LLM:        llm,
		Tracer:     tracer,
		Logger:     f.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create matching engine: %w", err)
	}
	lex, err := matching.DefaultLexicon()
	if err != nil {
		return nil, err
	}
	specialists, err := intake.NewRegistry(f.cfg.Turn.MaxIntakeQuestions)
	if err != nil {
		return nil, fmt.Errorf("failed to load intake specialists: %w", err)
	}

	registry := turn.NewRegistry(
		units.NewProfileUnit(profiles),
		units.NewSafetyUnit(f.cfg.Turn, llm, f.logger),
		units.NewDraftUnit(lex, llm, f.logger),
		units.NewEmotionUnit(llm, f.logger),
		units.NewExtractionUnit(engine),
		units.NewAllianceUnit(llm, f.logger),
		units.NewResearchUnit(lex, llm, f.logger),
		units.NewProgressUnit(),
		units.NewMatchingUnit(engine),
		units.NewReflectionUnit(llm, f.logger),
	)

	policy := f.createPolicy()
	// Checkpoints get their own cache so match results cannot evict them
	checkpoints := turn.NewCheckpointStore(f.createCache(f.cfg.Cache.CheckpointCapacity), f.cfg.Cache.CheckpointTTLSeconds)
	orchestrator := turn.NewOrchestrator(policy, turn.Deps{
		Units:       registry,
		Intake:      specialists,
		Composer:    turn.NewAdvisorComposer(policy.SafetyMessage, policy.FallbackMessage),
		Persister:   turn.NewPersister(turns, profiles, checkpoints, f.cfg.Store.TurnTTL),
		Checkpoints: checkpoints,
		Turns:       turns,
		Assembler: turn.NewContextAssembler(turn.Budget{
			MaxContextTokens: f.cfg.Turn.ContextBudget,
			MaxSnippets:      f.cfg.Turn.ContextMaxSnippets,
		}, nil),
		Tracer: tracer,
		Logger: f.logger,
	})

	f.logger.Info().
		Str("inference", f.cfg.Inference.Provider).
		Bool("inference_available", llm.Available()).
		Bool("database", f.db != nil).
		Strs("units", registry.Names()).
		Msg("Application wired")

	return &App{
		Config:       f.cfg,
		Orchestrator: orchestrator,
		Checkpoints:  checkpoints,
		Engine:       engine,
		Index:        index,
		Turns:        turns,
		Profiles:     profiles,
		Logger:       f.logger,
	}, nil
}

// createCache creates an LRU cache, or a no-op one when capacity is not positive.
func (f *Factory) createCache(capacity int) ports.Cache {
	if capacity <= 0 {
		return adapters.NoOpCache{}
	}
	return adapters.NewLRUCache(capacity)
}

// createRateLimiter creates the inference rate limiter from config.
func (f *Factory) createRateLimiter() ports.RateLimiter {
	if !f.cfg.Inference.RateLimitEnabled {
		return adapters.NoOpRateLimiter{}
	}
	return adapters.NewTokenBucket(f.cfg.Inference.RateLimitCapacity, f.cfg.Inference.RateLimitRefillRate)
}

// createStores returns the SQL store when a database is attached.
func (f *Factory) createStores() (ports.TurnStore, ports.ProfileStore) {
	limits := profile.Limits{
		Timeline: f.cfg.Turn.TimelineSize,
		Alliance: f.cfg.Turn.AllianceHistorySize,
	}
	if limits.Timeline <= 0 || limits.Alliance <= 0 {
		limits = profile.DefaultLimits
	}
	if f.db == nil {
		f.logger.Warn().Msg("No database attached; profiles and turns are kept in memory")
		s := adapters.NewMemoryStore(limits)
		return s, s
	}
	s := adapters.NewSQLStore(f.db, limits)
	return s, s
}

func (f *Factory) createIndex() (ports.SearchIndex, error) {
	if f.index != nil {
		return f.index, nil
	}
	if f.db == nil {
		return nil, fmt.Errorf("matching requires a search index: configure a database or provide an index")
	}
	return adapters.NewSQLSearchIndex(f.db), nil
}

// createInference returns nil when no provider is configured, so every
// unit takes its deterministic fallback.
func (f *Factory) createInference() (ports.Inference, error) {
	if f.backend != nil {
		return f.backend, nil
	}
	c := f.cfg.Inference
	switch strings.ToLower(c.Provider) {
	case "", "none":
		return nil, nil
	case "openai":
		return adapters.NewOpenAIInference(c.APIKey, c.BaseURL), nil
	case "anthropic":
		return adapters.NewAnthropicInference(c.APIKey, c.BaseURL), nil
	default:
		return nil, fmt.Errorf("unknown inference provider %q", c.Provider)
	}
}

// createPolicy creates the turn policy from config with validation.
func (f *Factory) createPolicy() turn.Policy {
	policy := turn.PolicyFromConfig(f.cfg.Turn, f.cfg.Store)

	// Validate and clamp policy values
	if policy.MaxSteps < minSteps {
		f.logger.Warn().Int("max_steps", policy.MaxSteps).Msg("MaxSteps clamped to minimum")
		policy.MaxSteps = minSteps
	}
	if policy.MaxSteps > maxSteps {
		f.logger.Warn().Int("max_steps", policy.MaxSteps).Msg("MaxSteps clamped to maximum")
		policy.MaxSteps = maxSteps
	}
	if policy.UnitTimeout <= 0 {
		policy.UnitTimeout = 10 * time.Second
	}
	if policy.SafetyHoldThreshold <= 0 || policy.SafetyHoldThreshold > turn.MaxScore {
		f.logger.Warn().Float64("safety_hold_threshold", policy.SafetyHoldThreshold).Msg("SafetyHoldThreshold reset to default")
		policy.SafetyHoldThreshold = 8
	}
	return policy
}

// Step bounds accepted from config. Below minSteps a turn cannot reach the
// composer through intake.
const (
	minSteps = 4
	maxSteps = 50
)
