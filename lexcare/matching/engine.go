// Package matching turns a user's situation into a ranked, explained list of
// professional-service candidates.
package matching

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"

	"github.com/ZanzyTHEbar/lexcare/lexcare/config"
	"github.com/ZanzyTHEbar/lexcare/lexcare/inference"
	"github.com/ZanzyTHEbar/lexcare/lexcare/ports"
	"github.com/rs/zerolog"
)

// ReasonCode explains an empty result.
type ReasonCode string

const (
	ReasonNone             ReasonCode = ""
	ReasonInsufficientInfo ReasonCode = "insufficient_info"
	ReasonNoMatches        ReasonCode = "no_matches"
)

// Result is the outcome of one matching run.
type Result struct {
	Candidates  []ScoredCandidate    `json:"candidates"`
	Reason      ReasonCode           `json:"reason,omitempty"`
	Preferences Preferences          `json:"preferences"`
	Strategies  map[StrategyName]int `json:"strategies,omitempty"` // hits per strategy
	Fingerprint string               `json:"fingerprint,omitempty"`
	CacheHit    bool                 `json:"-"`
}

// Cards renders the result for display.
func (r *Result) Cards() []Card {
	cards := make([]Card, len(r.Candidates))
	for i, sc := range r.Candidates {
		cards[i] = sc.Card()
	}
	return cards
}

// Card is the display form of a scored candidate.
type Card struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	OrgName     string   `json:"org_name,omitempty"`
	MatchScore  float64  `json:"match_score"`
	Blurb       string   `json:"blurb"`
	Link        string   `json:"link,omitempty"`
	Categories  []string `json:"categories"`
	Location    string   `json:"location"`
	Rating      *float64 `json:"rating,omitempty"`
	ReviewCount *int     `json:"review_count,omitempty"`
	BudgetTier  string   `json:"budget_tier,omitempty"`
	Reasons     []string `json:"match_reasons"`
	Concerns    []string `json:"concerns,omitempty"`
}

// Card converts a scored candidate to its display form.
func (sc ScoredCandidate) Card() Card {
	c := sc.Candidate
	card := Card{
		ID:         c.ID,
		Name:       c.Name,
		OrgName:    c.OrgName,
		MatchScore: math.Round(sc.Total*100) / 100,
		Blurb:      sc.Explanation,
		Link:       c.Link,
		Categories: c.Categories,
		Location:   c.Location.String(),
		BudgetTier: TierLabel(c.FeeTier),
		Reasons:    sc.Reasons,
		Concerns:   sc.Concerns,
	}
	if card.Blurb == "" {
		card.Blurb = c.Profile
	}
	if c.Rating > 0 {
		rating := c.Rating
		card.Rating = &rating
	}
	if c.ReviewCount > 0 {
		reviews := c.ReviewCount
		card.ReviewCount = &reviews
	}
	return card
}

// Engine runs the matching pipeline.
type Engine struct {
	cfg        config.MatchingConfig
	lex        *Lexicon
	extractor  *Extractor
	router     *QueryRouter
	ensemble   *Ensemble
	scorer     *Scorer
	base       Weights
	index      ports.SearchIndex
	reputation ports.ReputationSource
	cache      resultCache
	llm        *inference.Client
	tracer     ports.Tracer
	logger     zerolog.Logger
}

// Deps are the collaborators of an Engine. Reputation, Cache, LLM and Tracer
// may be nil.
type Deps struct {
	Index      ports.SearchIndex
	Reputation ports.ReputationSource
	Cache      ports.Cache
	LLM        *inference.Client
	Tracer     ports.Tracer
	Logger     zerolog.Logger
}

// NewEngine creates an engine using the embedded lexicon.
func NewEngine(cfg config.MatchingConfig, deps Deps) (*Engine, error) {
	if deps.Index == nil {
		return nil, fmt.Errorf("matching engine requires a search index")
	}
	lex, err := DefaultLexicon()
	if err != nil {
		return nil, err
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 5
	}
	if len(cfg.BudgetTierRates) == 0 {
		cfg.BudgetTierRates = []float64{150, 300, 500}
	}

	logger := deps.Logger.With().Str("component", "matching").Logger()
	e := &Engine{
		cfg:        cfg,
		lex:        lex,
		index:      deps.Index,
		reputation: deps.Reputation,
		llm:        deps.LLM,
		tracer:     deps.Tracer,
		logger:     logger,
		base:       BaseWeights(cfg.Weights),
	}
	e.extractor = NewExtractor(lex, &e.cfg)
	e.router = NewQueryRouter(lex, &e.cfg)
	e.scorer = NewScorer(lex, &e.cfg)
	e.ensemble = NewEnsemble(deps.Index, cfg.Concurrency, logger)
	if cfg.CacheEnabled {
		e.cache = resultCache{cache: deps.Cache, ttl: cfg.CacheTTLSeconds}
	}
	return e, nil
}

// Preferences runs deterministic extraction only.
func (e *Engine) Preferences(req Request) Preferences {
	return e.extractor.Extract(req)
}

// Match extracts preferences, retrieves and scores candidates, and explains
// the top of the list. Component failures degrade the result; only context
// cancellation is returned as an error.
func (e *Engine) Match(ctx context.Context, req Request) (res *Result, err error) {
	if e.tracer != nil {
		var end func(error)
		ctx, end = e.tracer.StartSpan(ctx, "matching.match", nil)
		defer func() { end(err) }()
	}

	prefs := e.extractor.Extract(req)
	if !prefs.HasCategory() && !prefs.HasLocation() {
		return &Result{Reason: ReasonInsufficientInfo, Preferences: prefs}, nil
	}

	key := Fingerprint(prefs, e.cfg.PageSize)
	if cached, ok := e.cache.get(ctx, key); ok {
		cached.CacheHit = true
		e.logger.Debug().Str("fingerprint", key).Msg("Match served from cache")
		return cached, nil
	}

	prefs = e.extractor.Refine(ctx, e.llm, req.Text, prefs, e.logger)

	strategies := e.router.Plan(prefs)
	results := e.ensemble.Run(ctx, strategies)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res = &Result{
		Preferences: prefs,
		Fingerprint: key,
		Strategies:  make(map[StrategyName]int, len(results)),
	}
	for _, r := range results {
		res.Strategies[r.Strategy] = len(r.Hits)
	}

	generated := Merge(results)
	if len(generated) == 0 {
		res.Reason = ReasonNoMatches
		return res, nil
	}

	weights := AdjustWeights(e.base, prefs, &e.cfg)
	scored := make([]ScoredCandidate, len(generated))
	for i, g := range generated {
		scored[i] = e.scorer.Score(g.Candidate, prefs, weights)
		scored[i].Provenance = g.Provenance
		scored[i].Relevance = g.Relevance
	}
	Rank(scored)

	if prefs.Complexity != ComplexitySimple {
		e.enrichReputation(ctx, scored, prefs, weights)
	}
	e.refineStyle(ctx, scored, prefs, weights)
	Rank(scored)

	if len(scored) > e.cfg.PageSize {
		scored = scored[:e.cfg.PageSize]
	}
	e.explain(ctx, scored, prefs)
	res.Candidates = scored

	if err := e.cache.set(ctx, key, res); err != nil {
		e.logger.Warn().Err(err).Msg("Failed to cache match result")
	}

	e.logger.Info().
		Int("strategies", len(strategies)).
		Int("generated", len(generated)).
		Int("returned", len(scored)).
		Msg("Match completed")
	return res, nil
}

// Rank sorts by total descending with candidate id as the tie-break.
func Rank(scored []ScoredCandidate) {
	slices.SortStableFunc(scored, func(a, b ScoredCandidate) int {
		if c := cmp.Compare(b.Total, a.Total); c != 0 {
			return c
		}
		return cmp.Compare(a.Candidate.ID, b.Candidate.ID)
	})
}

// Suggest completes candidate names from the index and place names from the
// gazetteer.
func (e *Engine) Suggest(ctx context.Context, prefix string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 10
	}
	names, err := e.index.Suggest(ctx, prefix, limit)
	if err != nil {
		return nil, err
	}
	out := slices.Clone(names)
	for _, place := range e.extractor.Gazetteer().Complete(prefix, limit) {
		if len(out) >= limit {
			break
		}
		if !slices.Contains(out, place) {
			out = append(out, place)
		}
	}
	return out, nil
}

// Candidate loads one candidate by id.
func (e *Engine) Candidate(ctx context.Context, id string) (*ports.Candidate, error) {
	return e.index.Get(ctx, id)
}
