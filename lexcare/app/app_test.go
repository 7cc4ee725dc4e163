package app

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/lexcare/lexcare/adapters"
	"github.com/ZanzyTHEbar/lexcare/lexcare/config"
	"github.com/ZanzyTHEbar/lexcare/lexcare/db"
	"github.com/ZanzyTHEbar/lexcare/lexcare/matching"
	"github.com/ZanzyTHEbar/lexcare/lexcare/ports"
	"github.com/ZanzyTHEbar/lexcare/lexcare/profile"
	"github.com/ZanzyTHEbar/lexcare/lexcare/turn"

	_ "modernc.org/sqlite"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := db.Open(context.Background(), config.StoreConfig{
		Driver: "sqlite",
		DSN:    "file:" + filepath.Join(t.TempDir(), "test.db"),
	}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// newTestApp wires the full stack over a seeded SQLite database with no
// inference provider.
func newTestApp(t *testing.T) *App {
	t.Helper()
	conn := openTestDB(t)

	f, err := os.Open(filepath.Join("testdata", "candidates.yaml"))
	require.NoError(t, err)
	defer f.Close()
	n, err := Seed(context.Background(), adapters.NewSQLSearchIndex(conn), f)
	require.NoError(t, err)
	require.Equal(t, 4, n)

	a, err := NewFactory(config.Default(), conn, zerolog.Nop()).Build()
	require.NoError(t, err)
	return a
}

func TestScenario_DivorceInBrooklyn(t *testing.T) {
	a := newTestApp(t)

	res, err := a.Orchestrator.Orchestrate(context.Background(), turn.Input{
		UserID: "u1",
		Text:   "I need a female divorce lawyer in Brooklyn, budget around $200/hr",
	})
	require.NoError(t, err)

	assert.Equal(t, turn.StageMatching, res.Stage)
	assert.Contains(t, res.LegalIntent, "divorce")
	require.NotEmpty(t, res.Cards)
	assert.LessOrEqual(t, len(res.Cards), 10)
	for _, c := range res.Cards {
		assert.NotEmpty(t, c.BudgetTier, c.ID)
		assert.NotEmpty(t, c.Reasons, c.ID)
	}
	assert.Contains(t, cardIDs(res.Cards), "c1")
	assert.NotContains(t, cardIDs(res.Cards), "c4")
	assert.Empty(t, res.Failures)

	p, err := a.Profiles.GetProfile(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "female", p.Facts["gender_preference"])
	assert.Equal(t, "Brooklyn, New York, NY", p.Facts["location"])
	assert.True(t, p.Milestones.Has("reviewed_matches"))
	assert.Equal(t, 1, p.TurnCount)

	turns, err := a.Turns.RecentTurns(context.Background(), "u1", 5)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, res.TurnID, turns[0].TurnID)
}

func TestScenario_TextStrategiesSearchTheIndex(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		text     string
		strategy matching.StrategyName
		want     string
	}{
		{"style", "I need a gentle, compassionate divorce lawyer in Brooklyn", matching.StrategyStyle, "c1"},
		{"specialization", "High asset divorce in Manhattan, I own a business", matching.StrategySpecialization, "c2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := a.Engine.Match(ctx, matching.Request{Text: tt.text})
			require.NoError(t, err)
			assert.Greater(t, res.Strategies[tt.strategy], 0)

			var found bool
			for _, sc := range res.Candidates {
				if sc.Candidate.ID == tt.want {
					found = true
					assert.Contains(t, sc.Provenance, tt.strategy)
				}
			}
			assert.True(t, found, "%s not ranked", tt.want)
		})
	}

	res, err := a.Orchestrator.Orchestrate(ctx, turn.Input{
		UserID: "u-style",
		Text:   "I need a gentle, compassionate divorce lawyer in Brooklyn",
	})
	require.NoError(t, err)
	assert.Empty(t, res.Failures)
	assert.Contains(t, cardIDs(res.Cards), "c1")
}

func TestScenario_SelfHarmHolds(t *testing.T) {
	a := newTestApp(t)

	res, err := a.Orchestrator.Orchestrate(context.Background(), turn.Input{
		UserID: "u2",
		Text:   "My divorce is destroying me and I want to kill myself",
	})
	require.NoError(t, err)

	assert.Equal(t, turn.StageSafetyHold, res.Stage)
	assert.Contains(t, res.Response, "988")
	assert.Empty(t, res.Cards)
	assert.Empty(t, res.MatchReason)
	assert.Equal(t, turn.MaxScore, res.Metrics.Distress)
}

func TestScenario_GenericRequestAsksForDetails(t *testing.T) {
	a := newTestApp(t)

	res, err := a.Orchestrator.Orchestrate(context.Background(), turn.Input{UserID: "u3", Text: "I need a lawyer"})
	require.NoError(t, err)

	assert.Equal(t, matching.ReasonInsufficientInfo, res.MatchReason)
	assert.Empty(t, res.Cards)
	assert.Contains(t, res.Suggestions, turn.SuggestLocation)
	assert.Contains(t, res.Suggestions, turn.SuggestCategory)
}

func TestScenario_IntakeThenMatchAcrossTurns(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	first, err := a.Orchestrator.Orchestrate(ctx, turn.Input{UserID: "u4", ConversationID: "conv-4", Text: "my wife and I are getting a divorce"})
	require.NoError(t, err)
	assert.Equal(t, "family", first.ActiveSpecialist)
	assert.True(t, strings.Contains(first.Response, "Which city or neighborhood"), first.Response)
	assert.Empty(t, first.Cards)

	second, err := a.Orchestrator.Orchestrate(ctx, turn.Input{UserID: "u4", ConversationID: "conv-4", Text: "We live in Brooklyn"})
	require.NoError(t, err)
	assert.Empty(t, second.ActiveSpecialist)
	assert.Contains(t, second.Progress.Completed, "completed_intake")
	require.NotEmpty(t, second.Cards)
	var locations []string
	for _, c := range second.Cards {
		locations = append(locations, c.Location)
	}
	assert.Contains(t, locations, "Brooklyn, New York, NY")
}

func cardIDs(cards []matching.Card) []string {
	ids := make([]string, len(cards))
	for i, c := range cards {
		ids[i] = c.ID
	}
	return ids
}

type brokenBackend struct{}

func (brokenBackend) Complete(ctx context.Context, prompt ports.Prompt, opts ports.InferenceOptions) (string, error) {
	return "", errors.New("upstream 500")
}

func TestFactory_FailingInferenceFallsBack(t *testing.T) {
	conn := openTestDB(t)
	_, err := Seed(context.Background(), adapters.NewSQLSearchIndex(conn), strings.NewReader(`candidates:
  - id: h1
    name: Elena Park
    categories: [housing]
    location: {region: ny, city: new york, area: brooklyn}
    fee_tier: 2
    rating: 4.2
    profile: Tenant advocate in housing court.
`))
	require.NoError(t, err)

	a, err := NewFactory(config.Default(), conn, zerolog.Nop()).WithInference(brokenBackend{}).Build()
	require.NoError(t, err)

	res, err := a.Orchestrator.Orchestrate(context.Background(), turn.Input{
		UserID: "u5",
		Text:   "My landlord in Brooklyn is evicting me, can you recommend an attorney?",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Response)
	assert.Empty(t, res.Failures)
	require.NotEmpty(t, res.Cards)
	assert.Equal(t, "h1", res.Cards[0].ID)
}

func TestFactory_Errors(t *testing.T) {
	_, err := NewFactory(config.Default(), nil, zerolog.Nop()).Build()
	assert.ErrorContains(t, err, "search index")

	cfg := config.Default()
	cfg.Inference.Provider = "carrier-pigeon"
	_, err = NewFactory(cfg, openTestDB(t), zerolog.Nop()).Build()
	assert.ErrorContains(t, err, "carrier-pigeon")
}

func TestFactory_InMemoryStoresWithInjectedIndex(t *testing.T) {
	index := adapters.NewSQLSearchIndex(openTestDB(t))
	a, err := NewFactory(config.Default(), nil, zerolog.Nop()).WithIndex(index).Build()
	require.NoError(t, err)
	assert.IsType(t, &adapters.MemoryStore{}, a.Profiles)
}

func TestFactory_MatchCacheDoesNotEvictCheckpoints(t *testing.T) {
	conn := openTestDB(t)
	f, err := os.Open(filepath.Join("testdata", "candidates.yaml"))
	require.NoError(t, err)
	defer f.Close()
	_, err = Seed(context.Background(), adapters.NewSQLSearchIndex(conn), f)
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Cache.Capacity = 1
	a, err := NewFactory(cfg, conn, zerolog.Nop()).Build()
	require.NoError(t, err)

	ctx := context.Background()
	for _, in := range []turn.Input{
		{UserID: "a", Text: "I need a divorce lawyer in Brooklyn"},
		{UserID: "b", Text: "I need a divorce lawyer in Manhattan"},
		{UserID: "c", Text: "My landlord wants to evict me in Brooklyn"},
	} {
		_, err := a.Orchestrator.Orchestrate(ctx, in)
		require.NoError(t, err)
	}

	for _, id := range []string{"a", "b", "c"} {
		_, ok := a.Checkpoints.Load(ctx, id)
		assert.True(t, ok, id)
	}
}

func TestFactory_PolicyClamps(t *testing.T) {
	cfg := config.Default()
	cfg.Turn.MaxSteps = 1
	cfg.Turn.UnitTimeout = 0
	p := NewFactory(cfg, nil, zerolog.Nop()).createPolicy()
	assert.Equal(t, minSteps, p.MaxSteps)
	assert.Positive(t, p.UnitTimeout)

	cfg.Turn.MaxSteps = 500
	p = NewFactory(cfg, nil, zerolog.Nop()).createPolicy()
	assert.Equal(t, maxSteps, p.MaxSteps)
}

func TestLoadCandidates_Validation(t *testing.T) {
	_, err := LoadCandidates(strings.NewReader("candidates:\n  - name: No ID\n"))
	assert.ErrorContains(t, err, "id and name")

	_, err = LoadCandidates(strings.NewReader("candidates:\n  - id: x\n    name: X\n    unknown_field: 1\n"))
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(config.AppConfig{Name: "lexcare", LogLevel: "warn", LogFormat: "json"}, &buf)
	logger.Info().Msg("hidden")
	logger.Warn().Msg("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"app":"lexcare"`)
	assert.Contains(t, out, "shown")
}

func TestPurge(t *testing.T) {
	store := adapters.NewMemoryStore(profile.DefaultLimits)
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, store.SaveTurn(ctx, ports.TurnRecord{UserID: "u1", TurnID: "old", CreatedAt: now.Add(-2 * time.Hour)}, time.Hour))
	require.NoError(t, store.SaveTurn(ctx, ports.TurnRecord{UserID: "u1", TurnID: "new", CreatedAt: now}, time.Hour))

	n, err := PurgeExpired(ctx, store, now, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = NewPurgeScheduler("not a schedule", store, zerolog.Nop())
	assert.Error(t, err)

	c, err := NewPurgeScheduler("@hourly", store, zerolog.Nop())
	require.NoError(t, err)
	assert.Len(t, c.Entries(), 1)
}
