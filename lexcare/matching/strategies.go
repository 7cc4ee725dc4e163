package matching

import (
	"strings"

	"github.com/ZanzyTHEbar/lexcare/lexcare/config"
	"github.com/ZanzyTHEbar/lexcare/lexcare/ports"
)

// StrategyName identifies one retrieval strategy.
type StrategyName string

const (
	StrategyStandard       StrategyName = "standard"
	StrategyStyle          StrategyName = "style"
	StrategyCultural       StrategyName = "cultural"
	StrategySpecialization StrategyName = "specialization"
	StrategyUrgency        StrategyName = "urgency"
	StrategyQuality        StrategyName = "quality"
	StrategyBudget         StrategyName = "budget"
)

// Strategy is one query against the search index.
type Strategy struct {
	Name  StrategyName      `json:"name"`
	Query ports.SearchQuery `json:"query"`
}

// Thresholds for the quality strategy.
const (
	qualityMinRating  = 4.5
	qualityMinReviews = 20
)

// QueryRouter turns preferences into an ordered set of retrieval strategies.
type QueryRouter struct {
	lex *Lexicon
	cfg *config.MatchingConfig
}

// NewQueryRouter creates a router.
func NewQueryRouter(lex *Lexicon, cfg *config.MatchingConfig) *QueryRouter {
	return &QueryRouter{lex: lex, cfg: cfg}
}

// Plan returns the strategies to run. The standard strategy is always first
// and the rest follow in a fixed order, which makes merging deterministic.
func (r *QueryRouter) Plan(p Preferences) []Strategy {
	size := r.cfg.StrategySize
	var geo *ports.Location
	if p.HasLocation() {
		loc := p.Location
		geo = &loc
	}

	// Hard constraints shared by most strategies.
	base := ports.SearchFilters{
		Categories: p.Categories,
		Region:     p.Location.Region,
		City:       p.Location.City,
	}

	standard := base
	standard.Gender = p.GenderPreference
	if p.BudgetTier > 0 {
		// One tier of headroom; the scorer penalizes anything above the request.
		standard.MaxFeeTier = min(p.BudgetTier+1, 4)
	}
	strategies := []Strategy{{
		Name:  StrategyStandard,
		Query: ports.SearchQuery{Filters: standard, Geo: geo, Size: size},
	}}

	if p.Style != StyleDefault {
		strategies = append(strategies, Strategy{
			Name: StrategyStyle,
			Query: ports.SearchQuery{
				Text:    strings.Join(r.lex.Styles[string(p.Style)], " "),
				Filters: base,
				Geo:     geo,
				Size:    size,
			},
		})
	}

	if len(p.Languages) > 0 || len(p.Communities) > 0 {
		f := ports.SearchFilters{
			Categories:  p.Categories,
			Region:      p.Location.Region,
			Languages:   p.Languages,
			Communities: p.Communities,
		}
		strategies = append(strategies, Strategy{
			Name:  StrategyCultural,
			Query: ports.SearchQuery{Filters: f, Geo: geo, Size: size},
		})
	}

	if len(p.Niches) > 0 {
		var terms []string
		for _, n := range p.Niches {
			terms = append(terms, r.lex.Niches[n]...)
		}
		strategies = append(strategies, Strategy{
			Name: StrategySpecialization,
			Query: ports.SearchQuery{
				Text:    strings.Join(terms, " "),
				Filters: ports.SearchFilters{Categories: p.Categories, Region: p.Location.Region},
				Geo:     geo,
				Size:    size,
			},
		})
	}

	if p.Urgency == UrgencyImmediate {
		f := base
		f.MaxResponseHours = r.cfg.FastResponseHours
		strategies = append(strategies, Strategy{
			Name:  StrategyUrgency,
			Query: ports.SearchQuery{Filters: f, Geo: geo, Size: size},
		})
	}

	if p.Complexity == ComplexityComplex {
		strategies = append(strategies, Strategy{
			Name: StrategyQuality,
			Query: ports.SearchQuery{
				Filters: ports.SearchFilters{
					Categories: p.Categories,
					Region:     p.Location.Region,
					MinRating:  qualityMinRating,
					MinReviews: qualityMinReviews,
				},
				Geo:  geo,
				Size: size,
			},
		})
	}

	if p.BudgetSensitive {
		f := base
		f.MaxFeeTier = max(1, p.BudgetTier)
		strategies = append(strategies, Strategy{
			Name:  StrategyBudget,
			Query: ports.SearchQuery{Filters: f, Geo: geo, Size: size},
		})
	}

	return strategies
}
