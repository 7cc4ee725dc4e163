package profile

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMilestoneSet_AddIsIdempotent(t *testing.T) {
	var s MilestoneSet

	assert.True(t, s.Add("first_contact"))
	assert.False(t, s.Add("first_contact"))
	assert.False(t, s.Add("not_a_milestone"))
	assert.Equal(t, 1, s.Len())
	assert.True(t, s.Has("first_contact"))
	assert.False(t, s.Has("shared_location"))
}

func TestMilestoneSet_JSONRoundTripKeepsJourneyOrder(t *testing.T) {
	s := NewMilestoneSet("shared_location", "first_contact")

	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.JSONEq(t, `["first_contact","shared_location"]`, string(data))

	var back MilestoneSet
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, []string{"first_contact", "shared_location"}, back.IDs())
}

func TestMilestoneSet_EmptyMarshalsAsArray(t *testing.T) {
	data, err := json.Marshal(MilestoneSet{})
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))
}

func TestProfile_MergeIsAdditive(t *testing.T) {
	now := time.Now()
	p := New("u1")
	p.Facts["location"] = "brooklyn"
	p.Milestones.Add("first_contact")

	delta := &Profile{
		Facts:      map[string]any{"category": "divorce"},
		Intents:    []string{"family"},
		Emotional:  []EmotionPoint{{At: now, Distress: 5}},
		Milestones: NewMilestoneSet("identified_issue"),
		TurnCount:  1,
		UpdatedAt:  now,
	}
	p.Merge(delta, DefaultLimits)

	assert.Equal(t, "brooklyn", p.Facts["location"])
	assert.Equal(t, "divorce", p.Facts["category"])
	assert.Equal(t, []string{"family"}, p.Intents)
	assert.Equal(t, []string{"first_contact", "identified_issue"}, p.Milestones.IDs())
	assert.Equal(t, 1, p.TurnCount)

	// merging the same milestone again never shrinks or duplicates the set
	p.Merge(&Profile{Milestones: NewMilestoneSet("identified_issue"), Intents: []string{"family"}}, DefaultLimits)
	assert.Equal(t, 2, p.Milestones.Len())
	assert.Equal(t, []string{"family"}, p.Intents)
}

func TestProfile_TimelineIsBounded(t *testing.T) {
	p := New("u1")
	limits := Limits{Timeline: 3, Alliance: 2}
	for i := range 5 {
		p.Merge(&Profile{
			Emotional: []EmotionPoint{{Distress: float64(i)}},
			Alliance:  []AlliancePoint{{Bond: float64(i)}},
		}, limits)
	}

	require.Len(t, p.Emotional, 3)
	assert.Equal(t, 2.0, p.Emotional[0].Distress)
	assert.Equal(t, 4.0, p.Emotional[2].Distress)
	require.Len(t, p.Alliance, 2)
	assert.Equal(t, 3.0, p.Alliance[0].Bond)
}

func TestProfile_CloneIsIndependent(t *testing.T) {
	p := New("u1")
	p.Facts["a"] = 1
	p.Milestones.Add("first_contact")

	c := p.Clone()
	c.Facts["b"] = 2
	c.Milestones.Add("shared_location")

	assert.NotContains(t, p.Facts, "b")
	assert.False(t, p.Milestones.Has("shared_location"))
}

func TestMetrics_Trends(t *testing.T) {
	tests := []struct {
		name     string
		distress []float64
		want     Trend
	}{
		{"too few points", []float64{8, 2}, TrendInsufficient},
		{"falling distress improves", []float64{9, 7, 5, 3}, TrendImproving},
		{"rising distress worsens", []float64{2, 4, 6, 8}, TrendWorsening},
		{"flat is stable", []float64{5, 5.1, 4.9, 5}, TrendStable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New("u1")
			for _, d := range tt.distress {
				p.Emotional = append(p.Emotional, EmotionPoint{Distress: d})
			}
			p.Recompute()
			assert.Equal(t, tt.want, p.Metrics.DistressTrend)
		})
	}
}

func TestMetrics_ProgressPercent(t *testing.T) {
	p := New("u1")
	p.Milestones = NewMilestoneSet("first_contact", "shared_situation", "identified_issue")
	p.Recompute()

	assert.InDelta(t, 3.0/float64(len(Catalog))*100, p.Metrics.ProgressPercent, 1e-9)
}
