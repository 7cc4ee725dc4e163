package matching

import (
	"context"
	"fmt"
	"slices"

	"github.com/ZanzyTHEbar/lexcare/lexcare/ports"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"
)

// Generated is a deduplicated candidate with the strategies that surfaced it.
type Generated struct {
	Candidate  ports.Candidate
	Relevance  float64
	Provenance []StrategyName
}

// StrategyResult records the outcome of one strategy query.
type StrategyResult struct {
	Strategy StrategyName
	Hits     []ports.SearchHit
	Err      error
}

// Ensemble runs strategies against the search index concurrently.
type Ensemble struct {
	index       ports.SearchIndex
	concurrency int
	logger      zerolog.Logger
}

// NewEnsemble creates an ensemble over index.
func NewEnsemble(index ports.SearchIndex, concurrency int, logger zerolog.Logger) *Ensemble {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Ensemble{index: index, concurrency: concurrency, logger: logger}
}

// Run executes every strategy. A failed strategy is logged and contributes
// nothing; it never cancels its siblings. Results keep the plan order.
func (e *Ensemble) Run(ctx context.Context, strategies []Strategy) []StrategyResult {
	results := make([]StrategyResult, len(strategies))

	p := pool.New().WithMaxGoroutines(e.concurrency).WithContext(ctx)
	for i, s := range strategies {
		p.Go(func(ctx context.Context) error {
			results[i] = e.runOne(ctx, s)
			return nil
		})
	}
	_ = p.Wait()

	return results
}

func (e *Ensemble) runOne(ctx context.Context, s Strategy) (res StrategyResult) {
	res.Strategy = s.Name
	defer func() {
		if r := recover(); r != nil {
			res.Hits = nil
			res.Err = fmt.Errorf("strategy %s panicked: %v", s.Name, r)
		}
		if res.Err != nil {
			e.logger.Warn().Err(res.Err).Str("strategy", string(s.Name)).Msg("Retrieval strategy failed")
		}
	}()

	hits, err := e.index.Search(ctx, s.Query)
	if err != nil {
		res.Err = fmt.Errorf("strategy %s: %w", s.Name, err)
		return res
	}
	res.Hits = hits
	return res
}

// Merge deduplicates hits by candidate id. The first strategy to surface a
// candidate owns its record and relevance; later ones only add provenance.
func Merge(results []StrategyResult) []Generated {
	index := make(map[string]int)
	var out []Generated
	for _, r := range results {
		for _, h := range r.Hits {
			if i, ok := index[h.Candidate.ID]; ok {
				if !slices.Contains(out[i].Provenance, r.Strategy) {
					out[i].Provenance = append(out[i].Provenance, r.Strategy)
				}
				continue
			}
			index[h.Candidate.ID] = len(out)
			out = append(out, Generated{
				Candidate:  h.Candidate,
				Relevance:  h.Score,
				Provenance: []StrategyName{r.Strategy},
			})
		}
	}
	return out
}
