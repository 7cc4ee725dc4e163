package intake

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry(2)
	require.NoError(t, err)
	return r
}

func step(t *testing.T, r *Registry, id string, in Input) Outcome {
	t.Helper()
	s, ok := r.Get(id)
	require.True(t, ok, "specialist %s", id)
	out, err := s.Step(context.Background(), in)
	require.NoError(t, err)
	return out
}

func TestRegistry_SpecialistsAndTriggers(t *testing.T) {
	r := newRegistry(t)

	assert.Equal(t, []string{"consumer_debt", "criminal", "employment", "family", "housing", "immigration", "triage"}, r.IDs())

	id, ok := r.SpecialistFor("custody")
	require.True(t, ok)
	assert.Equal(t, "family", id)

	assert.False(t, r.Triggered("I need a lawyer"))
	assert.True(t, r.Triggered("my landlord is evicting me"))
}

func TestTriage(t *testing.T) {
	r := newRegistry(t)

	out := step(t, r, TriageID, Input{Text: "I'm going through a divorce"})
	assert.Equal(t, KindTransition, out.Kind)
	assert.Equal(t, "family", out.Next)
	assert.Contains(t, out.Intents, "divorce")

	out = step(t, r, TriageID, Input{Text: "something bad happened"})
	assert.Equal(t, KindQuestion, out.Kind)
	assert.NotEmpty(t, out.Question)

	out = step(t, r, TriageID, Input{Text: "something bad happened", Asked: 2})
	assert.Equal(t, KindComplete, out.Kind)
	assert.True(t, out.Forced)

	out = step(t, r, TriageID, Input{Text: "I need help with probate"})
	assert.Equal(t, KindComplete, out.Kind, "categories without a checklist complete immediately")
	assert.Equal(t, "estate", out.Facts["case_type"])
}

func TestChecklist_CompletesWhenTextFillsRequiredSlots(t *testing.T) {
	r := newRegistry(t)

	out := step(t, r, "family", Input{Text: "I need a female divorce lawyer in Brooklyn"})
	assert.Equal(t, KindComplete, out.Kind)
	assert.False(t, out.Forced)
	assert.Equal(t, "divorce", out.Answers["case_type"])
	assert.Equal(t, "Brooklyn, New York, NY", out.Answers["location"])
	assert.Equal(t, "divorce", out.Facts["case_type"])
}

func TestChecklist_AsksForMissingSlotThenCompletes(t *testing.T) {
	r := newRegistry(t)

	out := step(t, r, "family", Input{Text: "my husband wants a divorce"})
	require.Equal(t, KindQuestion, out.Kind)
	assert.Equal(t, "location", out.Slot)

	out = step(t, r, "family", Input{Text: "we live in Queens, no kids", Answers: out.Answers, Asked: 1})
	assert.Equal(t, KindComplete, out.Kind)
	assert.Equal(t, "divorce", out.Answers["case_type"])
	assert.Equal(t, "Queens, New York, NY", out.Answers["location"])
	assert.Equal(t, "no", out.Answers["children"])
}

func TestChecklist_QuestionCapForcesCompletion(t *testing.T) {
	r := newRegistry(t)

	out := step(t, r, "housing", Input{Text: "I don't know", Asked: 2})
	assert.Equal(t, KindComplete, out.Kind)
	assert.True(t, out.Forced)
}

func TestChecklist_TransitionsWhenSubjectChanges(t *testing.T) {
	r := newRegistry(t)

	out := step(t, r, "family", Input{Text: "actually it's about my eviction"})
	assert.Equal(t, KindTransition, out.Kind)
	assert.Equal(t, "housing", out.Next)
}

func TestChecklist_ChoiceSlot(t *testing.T) {
	r := newRegistry(t)

	out := step(t, r, "employment", Input{Text: "I was fired last week in Chicago"})
	assert.Equal(t, KindComplete, out.Kind)
	assert.Equal(t, "termination", out.Answers["issue"])
	assert.Equal(t, "employment", out.Answers["case_type"])
}

func TestChecklist_CanceledContext(t *testing.T) {
	r := newRegistry(t)
	s, _ := r.Get("family")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Step(ctx, Input{Text: "divorce"})
	assert.ErrorIs(t, err, context.Canceled)
}
