package matching

import (
	"context"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/ZanzyTHEbar/lexcare/lexcare/config"
	"github.com/ZanzyTHEbar/lexcare/lexcare/inference"
	"github.com/ZanzyTHEbar/lexcare/lexcare/ports"
	"github.com/rs/zerolog"
)

// Urgency is how soon the user needs help.
type Urgency string

const (
	UrgencyRoutine   Urgency = "routine"
	UrgencySoon      Urgency = "soon"
	UrgencyImmediate Urgency = "immediate"
)

func (u Urgency) rank() int {
	switch u {
	case UrgencyImmediate:
		return 2
	case UrgencySoon:
		return 1
	}
	return 0
}

// Complexity is the estimated difficulty of the matter.
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
)

// Style is the communication style the user asked for.
type Style string

const (
	StyleDefault       Style = "default"
	StyleGentle        Style = "gentle"
	StyleDirect        Style = "direct"
	StyleAggressive    Style = "aggressive"
	StyleCollaborative Style = "collaborative"
)

// Preferences is the structured request derived from a user's text, facts
// and emotional state.
type Preferences struct {
	Categories       []string       `json:"categories"`
	Niches           []string       `json:"niches,omitempty"`
	Location         ports.Location `json:"location"`
	BudgetTier       int            `json:"budget_tier,omitempty"` // 1..4, 0 when unstated
	HourlyRate       float64        `json:"hourly_rate,omitempty"`
	BudgetSensitive  bool           `json:"budget_sensitive,omitempty"`
	Urgency          Urgency        `json:"urgency"`
	Complexity       Complexity     `json:"complexity"`
	Style            Style          `json:"style"`
	Languages        []string       `json:"languages,omitempty"`
	Communities      []string       `json:"communities,omitempty"`
	Accessibility    []string       `json:"accessibility,omitempty"`
	Vulnerabilities  []string       `json:"vulnerabilities,omitempty"`
	GenderPreference string         `json:"gender_preference,omitempty"`
	Distress         float64        `json:"distress"`
	Engagement       float64        `json:"engagement"`
	LikedIDs         []string       `json:"liked_ids,omitempty"`
	DislikedIDs      []string       `json:"disliked_ids,omitempty"`
}

// HasCategory reports whether any service category is known.
func (p Preferences) HasCategory() bool { return len(p.Categories) > 0 }

// HasLocation reports whether any location component is known.
func (p Preferences) HasLocation() bool { return !p.Location.IsZero() }

// Request is the input to one matching run.
type Request struct {
	Text       string         `json:"text"`
	Facts      map[string]any `json:"facts,omitempty"`
	Intents    []string       `json:"intents,omitempty"`
	Distress   float64        `json:"distress"`
	Engagement float64        `json:"engagement"`
}

var (
	dollarTierPattern = regexp.MustCompile(`(?:^|\s)(\${1,4})(?:\s|$|[.,!?])`)
	amountPattern     = regexp.MustCompile(`\$\s?(\d{1,3}(?:,\d{3})+|\d+)(?:\.\d+)?\s*(/\s*(?:hr|hour|h)\b|per\s+hour|an\s+hour|a\s+hour|hourly)?`)
	deadlinePattern   = regexp.MustCompile(`(?:in|within|next)\s+(\d+)\s+(hour|day|week|month)s?`)
)

// flatBudgetCeilings map a total budget onto fee tiers 1..3.
var flatBudgetCeilings = []float64{2500, 7500, 15000}

// hourlyCeiling separates hourly amounts from total budgets when no unit is given.
const hourlyCeiling = 1000

// Extractor derives preferences deterministically from text and facts.
type Extractor struct {
	lex    *Lexicon
	places *Gazetteer
	cfg    *config.MatchingConfig
}

// NewExtractor creates an extractor over a lexicon.
func NewExtractor(lex *Lexicon, cfg *config.MatchingConfig) *Extractor {
	return &Extractor{
		lex:    lex,
		places: NewGazetteer(lex.Places),
		cfg:    cfg,
	}
}

// Gazetteer exposes the place lookup used for location extraction.
func (e *Extractor) Gazetteer() *Gazetteer { return e.places }

// Extract builds preferences without calling any external service.
func (e *Extractor) Extract(req Request) Preferences {
	t := newText(req.Text)
	p := Preferences{
		Categories:      t.matches(e.lex.categoryTable()),
		Niches:          t.matches(e.lex.Niches),
		Urgency:         UrgencyRoutine,
		Complexity:      ComplexityModerate,
		Style:           StyleDefault,
		Languages:       t.matches(e.lex.Languages),
		Communities:     t.matches(e.lex.Communities),
		Accessibility:   t.matches(e.lex.Accessibility),
		Vulnerabilities: t.matches(e.lex.Vulnerabilities),
		Distress:        req.Distress,
		Engagement:      req.Engagement,
	}

	if loc, ok := e.places.Resolve(req.Text); ok {
		p.Location = loc
	}
	p.BudgetTier, p.HourlyRate = e.budget(req.Text)
	p.BudgetSensitive = t.hasAny(e.lex.BudgetSensitive) || slices.Contains(p.Vulnerabilities, "low_income")
	p.Urgency = e.urgency(t, req.Text)
	p.Complexity = e.complexity(t, len(p.Categories))
	if style, n := t.best(e.lex.Styles); n > 0 {
		p.Style = Style(style)
	}
	p.GenderPreference = e.genderPreference(t)

	for _, intent := range req.Intents {
		if e.lex.IsCategory(intent) {
			p.Categories = append(p.Categories, intent)
		}
	}
	e.applyFacts(&p, req.Facts)

	p.Categories = sortedSet(p.Categories)
	p.Languages = sortedSet(p.Languages)
	p.LikedIDs = sortedSet(p.LikedIDs)
	p.DislikedIDs = sortedSet(p.DislikedIDs)
	return p
}

// applyFacts fills gaps from profile facts. Text always wins.
func (e *Extractor) applyFacts(p *Preferences, facts map[string]any) {
	if len(facts) == 0 {
		return
	}
	for _, key := range []string{"category", "categories", "case_type"} {
		for _, c := range factStrings(facts[key]) {
			c = strings.ReplaceAll(normalize(c), " ", "_")
			if e.lex.IsCategory(c) {
				p.Categories = append(p.Categories, c)
			}
		}
	}
	if !p.HasLocation() {
		for _, key := range []string{"location", "zip", "city"} {
			for _, s := range factStrings(facts[key]) {
				if loc, ok := e.places.Resolve(s); ok {
					p.Location = loc
					break
				}
			}
			if p.HasLocation() {
				break
			}
		}
	}
	if p.BudgetTier == 0 {
		if tier, ok := factNumber(facts["budget_tier"]); ok && tier >= 1 && tier <= 4 {
			p.BudgetTier = int(tier)
		} else if rate, ok := factNumber(facts["hourly_rate"]); ok && rate > 0 {
			p.HourlyRate = rate
			p.BudgetTier = e.tierForRate(rate)
		}
	}
	for _, key := range []string{"language", "languages"} {
		for _, l := range factStrings(facts[key]) {
			l = strings.ReplaceAll(normalize(l), " ", "_")
			if _, ok := e.lex.Languages[l]; ok {
				p.Languages = append(p.Languages, l)
			}
		}
	}
	if p.GenderPreference == "" {
		if g := factStrings(facts["gender_preference"]); len(g) > 0 {
			p.GenderPreference = strings.ToLower(g[0])
		}
	}
	p.LikedIDs = append(p.LikedIDs, factStrings(facts["liked_candidates"])...)
	p.DislikedIDs = append(p.DislikedIDs, factStrings(facts["disliked_candidates"])...)
}

// budget parses explicit tiers ("$$") and dollar amounts.
func (e *Extractor) budget(raw string) (int, float64) {
	lower := strings.ToLower(raw)
	if m := dollarTierPattern.FindStringSubmatch(lower); m != nil {
		return len(m[1]), 0
	}
	m := amountPattern.FindStringSubmatch(lower)
	if m == nil {
		return 0, 0
	}
	amount, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
	if err != nil || amount <= 0 {
		return 0, 0
	}
	if m[2] != "" || amount <= hourlyCeiling {
		return e.tierForRate(amount), amount
	}
	return tierFor(amount, flatBudgetCeilings), 0
}

func (e *Extractor) tierForRate(rate float64) int {
	return tierFor(rate, e.cfg.BudgetTierRates)
}

func tierFor(amount float64, ceilings []float64) int {
	for i, ceiling := range ceilings {
		if amount <= ceiling {
			return i + 1
		}
	}
	return min(len(ceilings)+1, 4)
}

// deadlineUnitHours converts deadline units; deadlines past
// maxDeadlineHours carry no urgency.
var deadlineUnitHours = map[string]int{"hour": 1, "day": 24, "week": 168, "month": 720}

const maxDeadlineHours = 10 * 365 * 24

func (e *Extractor) urgency(t text, raw string) Urgency {
	u := UrgencyRoutine
	if t.hasAny(e.lex.Urgency["soon"]) {
		u = UrgencySoon
	}
	if t.hasAny(e.lex.Urgency["immediate"]) {
		return UrgencyImmediate
	}
	for _, m := range deadlinePattern.FindAllStringSubmatch(strings.ToLower(raw), -1) {
		n, err := strconv.Atoi(m[1])
		unit := deadlineUnitHours[m[2]]
		if err != nil || n > maxDeadlineHours/unit {
			continue
		}
		hours := n * unit
		switch {
		case hours <= e.cfg.UrgencyImmediateHours:
			return UrgencyImmediate
		case hours <= e.cfg.UrgencySoonHours && u.rank() < UrgencySoon.rank():
			u = UrgencySoon
		}
	}
	return u
}

var professionNouns = []string{"lawyer", "attorney", "advocate", "counsel", "professional", "mediator", "representative"}

// genderPreference only counts a gender word attached to the professional
// ("a female attorney", "female divorce lawyer", "prefer a woman"), not one
// describing the user.
func (e *Extractor) genderPreference(t text) string {
	words := strings.Fields(string(t))
	for _, id := range sortedKeys(e.lex.Gender) {
		for _, kw := range e.lex.Gender[id] {
			if t.has("prefer "+kw) || t.has("prefer a "+kw) || t.has("rather have a "+kw) {
				return id
			}
			for i, w := range words {
				if w != kw {
					continue
				}
				// Allow one qualifier between the gender word and the noun.
				for _, next := range words[i+1 : min(i+3, len(words))] {
					if slices.Contains(professionNouns, next) {
						return id
					}
				}
			}
		}
	}
	return ""
}

func (e *Extractor) complexity(t text, categories int) Complexity {
	switch {
	case t.hasAny(e.lex.Complexity["complex"]) || categories >= 3:
		return ComplexityComplex
	case t.hasAny(e.lex.Complexity["simple"]):
		return ComplexitySimple
	}
	return ComplexityModerate
}

// implicitSignals is what the inference service may add beyond keywords.
type implicitSignals struct {
	Urgency         string   `json:"urgency" jsonschema:"enum=routine,enum=soon,enum=immediate"`
	Complexity      string   `json:"complexity" jsonschema:"enum=simple,enum=moderate,enum=complex"`
	Style           string   `json:"communication_style" jsonschema:"enum=default,enum=gentle,enum=direct,enum=aggressive,enum=collaborative"`
	BudgetSensitive bool     `json:"budget_sensitive"`
	Vulnerabilities []string `json:"vulnerabilities"`
}

const implicitSystemPrompt = `You read a person's description of a legal problem and infer preferences they did not state outright.
Answer only with JSON matching the schema. Use "default" style and "moderate" complexity when unsure.
Vulnerabilities must come from: domestic_violence, minor_children, low_income, elderly, undocumented.`

// Refine asks the inference service for implicit signals and fills fields the
// deterministic pass left at their defaults. Failures leave p unchanged.
func (e *Extractor) Refine(ctx context.Context, llm *inference.Client, userText string, p Preferences, logger zerolog.Logger) Preferences {
	if !llm.Available() || strings.TrimSpace(userText) == "" {
		return p
	}
	sig, err := inference.Structured[implicitSignals](ctx, llm, "preferences", ports.Prompt{
		System: implicitSystemPrompt,
		User:   userText,
	})
	if err != nil {
		logger.Debug().Err(err).Msg("Implicit preference inference failed; keeping keyword preferences")
		return p
	}

	if u := Urgency(sig.Urgency); u.rank() > p.Urgency.rank() {
		p.Urgency = u
	}
	if p.Complexity == ComplexityModerate && sig.Complexity != "" {
		p.Complexity = Complexity(sig.Complexity)
	}
	if p.Style == StyleDefault && sig.Style != "" {
		p.Style = Style(sig.Style)
	}
	p.BudgetSensitive = p.BudgetSensitive || sig.BudgetSensitive
	for _, v := range sig.Vulnerabilities {
		if _, ok := e.lex.Vulnerabilities[v]; ok {
			p.Vulnerabilities = append(p.Vulnerabilities, v)
		}
	}
	p.Vulnerabilities = sortedSet(p.Vulnerabilities)
	return p
}

func sortedSet(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := slices.Clone(in)
	slices.Sort(out)
	return slices.Compact(out)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func factStrings(v any) []string {
	switch x := v.(type) {
	case string:
		if x == "" {
			return nil
		}
		return []string{x}
	case []string:
		return x
	case []any:
		out := make([]string, 0, len(x))
		for _, item := range x {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func factNumber(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimPrefix(x, "$"), 64)
		return f, err == nil
	}
	return 0, false
}
