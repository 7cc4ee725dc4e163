// Package intake implements the legal-intake specialists. A specialist owns a
// set of case categories and gathers a short checklist of facts, one question
// per turn, before handing control back to the turn pipeline.
package intake

import (
	"context"
	_ "embed"
	"fmt"
	"maps"
	"slices"

	"github.com/ZanzyTHEbar/lexcare/lexcare/matching"
	"gopkg.in/yaml.v3"
)

//go:embed specialists.yaml
var specialistsYAML []byte

// TriageID is the entry specialist used when no specialist is active.
const TriageID = "triage"

// Kind is the outcome of one specialist step.
type Kind int

const (
	// KindQuestion ends the turn with a follow-up question.
	KindQuestion Kind = iota
	// KindTransition hands control to Outcome.Next within the same turn.
	KindTransition
	// KindComplete ends intake and clears the active specialist.
	KindComplete
)

func (k Kind) String() string {
	switch k {
	case KindQuestion:
		return "question"
	case KindTransition:
		return "transition"
	case KindComplete:
		return "complete"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Input is what a specialist sees on each step.
type Input struct {
	Text    string
	Answers map[string]string // slots gathered by this specialist so far
	Asked   int               // questions this specialist has already asked
	Facts   map[string]any
}

// Outcome is the result of one specialist step.
type Outcome struct {
	Kind     Kind
	Question string
	Slot     string // slot the question asks about
	Next     string // target specialist for KindTransition
	Answers  map[string]string
	Facts    map[string]any
	Intents  []string
	Forced   bool // completed because the question cap was reached
}

// Specialist is one intake sub-flow.
type Specialist interface {
	ID() string
	Step(ctx context.Context, in Input) (Outcome, error)
}

// slotKind selects how a slot is filled from text.
type slotKind string

const (
	slotCategory slotKind = "category"
	slotLocation slotKind = "location"
	slotChoice   slotKind = "choice"
	slotYesNo    slotKind = "yesno"
)

type slotSpec struct {
	Name     string              `yaml:"name"`
	Kind     slotKind            `yaml:"kind"`
	Required bool                `yaml:"required"`
	Question string              `yaml:"question"`
	Affirm   []string            `yaml:"affirm"`
	Deny     []string            `yaml:"deny"`
	Options  map[string][]string `yaml:"options"`
}

type specialistSpec struct {
	Categories []string   `yaml:"categories"`
	Slots      []slotSpec `yaml:"slots"`
}

type catalog struct {
	TriageQuestion string                    `yaml:"triage_question"`
	Specialists    map[string]specialistSpec `yaml:"specialists"`
}

// Registry holds every specialist keyed by id.
type Registry struct {
	lex         *matching.Lexicon
	places      *matching.Gazetteer
	specialists map[string]Specialist
	byCategory  map[string]string
}

// NewRegistry builds the triage specialist and the checklist specialists
// described in the embedded catalog. maxQuestions caps the questions each
// specialist may ask before it must complete.
func NewRegistry(maxQuestions int) (*Registry, error) {
	lex, err := matching.DefaultLexicon()
	if err != nil {
		return nil, err
	}
	var cat catalog
	if err := yaml.Unmarshal(specialistsYAML, &cat); err != nil {
		return nil, fmt.Errorf("failed to parse specialist catalog: %w", err)
	}
	if maxQuestions <= 0 {
		maxQuestions = 4
	}

	r := &Registry{
		lex:         lex,
		places:      matching.NewGazetteer(lex.Places),
		specialists: make(map[string]Specialist),
		byCategory:  make(map[string]string),
	}
	for _, id := range slices.Sorted(maps.Keys(cat.Specialists)) {
		spec := cat.Specialists[id]
		for _, c := range spec.Categories {
			if !lex.IsCategory(c) {
				return nil, fmt.Errorf("specialist %s: unknown category %q", id, c)
			}
			r.byCategory[c] = id
		}
		r.specialists[id] = &checklist{
			id:           id,
			spec:         spec,
			registry:     r,
			maxQuestions: maxQuestions,
		}
	}
	r.specialists[TriageID] = &triage{
		question:     cat.TriageQuestion,
		registry:     r,
		maxQuestions: maxQuestions,
	}
	return r, nil
}

// Get returns the specialist with id.
func (r *Registry) Get(id string) (Specialist, bool) {
	s, ok := r.specialists[id]
	return s, ok
}

// IDs lists registered specialist ids.
func (r *Registry) IDs() []string {
	return slices.Sorted(maps.Keys(r.specialists))
}

// SpecialistFor returns the specialist owning category, if any.
func (r *Registry) SpecialistFor(category string) (string, bool) {
	id, ok := r.byCategory[category]
	return id, ok
}

// Triggered reports whether text names a case category, which is what starts
// an intake sub-flow when none is active.
func (r *Registry) Triggered(text string) bool {
	return len(r.lex.DetectCategories(text)) > 0
}

// triage detects the case category and hands off to its specialist.
type triage struct {
	question     string
	registry     *Registry
	maxQuestions int
}

func (t *triage) ID() string { return TriageID }

func (t *triage) Step(ctx context.Context, in Input) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}
	categories := t.registry.lex.DetectCategories(in.Text)
	for _, c := range categories {
		if next, ok := t.registry.SpecialistFor(c); ok {
			return Outcome{
				Kind:    KindTransition,
				Next:    next,
				Intents: categories,
			}, nil
		}
	}
	if len(categories) > 0 {
		// A category without a dedicated checklist needs no further intake.
		return Outcome{
			Kind:    KindComplete,
			Facts:   map[string]any{"case_type": categories[0]},
			Intents: categories,
		}, nil
	}
	if in.Asked >= t.maxQuestions {
		return Outcome{Kind: KindComplete, Forced: true}, nil
	}
	return Outcome{Kind: KindQuestion, Question: t.question, Slot: "case_type"}, nil
}

// checklist asks for each unfilled required slot in order.
type checklist struct {
	id           string
	spec         specialistSpec
	registry     *Registry
	maxQuestions int
}

func (c *checklist) ID() string { return c.id }

func (c *checklist) Step(ctx context.Context, in Input) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}

	detected := c.registry.lex.DetectCategories(in.Text)
	answers := maps.Clone(in.Answers)
	if answers == nil {
		answers = make(map[string]string)
	}

	// The user changed subject before this specialist learned the case type.
	if answers["case_type"] == "" {
		for _, cat := range detected {
			if slices.Contains(c.spec.Categories, cat) {
				break
			}
			if next, ok := c.registry.SpecialistFor(cat); ok && next != c.id {
				return Outcome{Kind: KindTransition, Next: next, Intents: detected}, nil
			}
		}
	}

	for _, slot := range c.spec.Slots {
		if answers[slot.Name] != "" {
			continue
		}
		if v := c.fill(slot, in, detected); v != "" {
			answers[slot.Name] = v
		}
	}

	out := Outcome{
		Answers: answers,
		Facts:   factsFrom(answers),
		Intents: detected,
	}
	for _, slot := range c.spec.Slots {
		if !slot.Required || answers[slot.Name] != "" {
			continue
		}
		if in.Asked >= c.maxQuestions {
			out.Kind = KindComplete
			out.Forced = true
			return out, nil
		}
		out.Kind = KindQuestion
		out.Question = slot.Question
		out.Slot = slot.Name
		return out, nil
	}
	out.Kind = KindComplete
	return out, nil
}

func (c *checklist) fill(slot slotSpec, in Input, detected []string) string {
	switch slot.Kind {
	case slotCategory:
		for _, cat := range detected {
			if slices.Contains(c.spec.Categories, cat) {
				return cat
			}
		}
		if s, ok := in.Facts[slot.Name].(string); ok && slices.Contains(c.spec.Categories, s) {
			return s
		}
	case slotLocation:
		if loc, ok := c.registry.places.Resolve(in.Text); ok {
			return loc.String()
		}
		if s, ok := in.Facts["location"].(string); ok && s != "" {
			return s
		}
	case slotChoice:
		if ids := matching.MatchTable(slot.Options, in.Text); len(ids) > 0 {
			return ids[0]
		}
	case slotYesNo:
		if len(matching.MatchTable(map[string][]string{"no": slot.Deny}, in.Text)) > 0 {
			return "no"
		}
		if len(matching.MatchTable(map[string][]string{"yes": slot.Affirm}, in.Text)) > 0 {
			return "yes"
		}
	}
	return ""
}

func factsFrom(answers map[string]string) map[string]any {
	if len(answers) == 0 {
		return nil
	}
	facts := make(map[string]any, len(answers))
	for k, v := range answers {
		facts[k] = v
	}
	return facts
}
