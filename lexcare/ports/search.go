package ports

import (
	"context"
	"errors"
	"strings"
)

// ErrNotFound is returned by lookups that match nothing.
var ErrNotFound = errors.New("not found")

// Location is a place at up to three levels of precision.
type Location struct {
	Region string `json:"region,omitempty" yaml:"region"` // state or province
	City   string `json:"city,omitempty" yaml:"city"`
	Area   string `json:"area,omitempty" yaml:"area"` // neighborhood or borough
	Zip    string `json:"zip,omitempty" yaml:"zip"`
}

// IsZero reports whether no component is set.
func (l Location) IsZero() bool {
	return l.Region == "" && l.City == "" && l.Area == "" && l.Zip == ""
}

// String renders the most specific components first.
func (l Location) String() string {
	var parts []string
	for _, p := range []string{l.Area, l.City, l.Region} {
		if p != "" {
			parts = append(parts, titleCase(p))
		}
	}
	if len(parts) == 0 {
		return l.Zip
	}
	return strings.Join(parts, ", ")
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		if len(w) == 2 {
			words[i] = strings.ToUpper(w)
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// Candidate is a professional-service record. It is read-only to this system.
type Candidate struct {
	ID              string   `json:"id" yaml:"id"`
	Name            string   `json:"name" yaml:"name"`
	OrgName         string   `json:"org_name,omitempty" yaml:"org_name"`
	Categories      []string `json:"categories" yaml:"categories"`
	Location        Location `json:"location" yaml:"location"`
	FeeTier         int      `json:"fee_tier,omitempty" yaml:"fee_tier"` // 1..4, 0 when unknown
	Rating          float64  `json:"rating,omitempty" yaml:"rating"`     // 0..5
	ReviewCount     int      `json:"review_count,omitempty" yaml:"review_count"`
	ResponseHours   float64  `json:"response_hours,omitempty" yaml:"response_hours"`
	YearsExperience int      `json:"years_experience,omitempty" yaml:"years_experience"`
	Credentials     []string `json:"credentials,omitempty" yaml:"credentials"`
	Recognition     []string `json:"recognition,omitempty" yaml:"recognition"`
	Languages       []string `json:"languages,omitempty" yaml:"languages"`
	Communities     []string `json:"communities,omitempty" yaml:"communities"`
	Accessibility   []string `json:"accessibility,omitempty" yaml:"accessibility"`
	Gender          string   `json:"gender,omitempty" yaml:"gender"`
	Disciplinary    bool     `json:"disciplinary,omitempty" yaml:"disciplinary"`
	ExternalRating  float64  `json:"external_rating,omitempty" yaml:"external_rating"` // 0..5 from third-party sources
	Profile         string   `json:"profile,omitempty" yaml:"profile"`
	Link            string   `json:"link,omitempty" yaml:"link"`
}

// SearchFilters are hard constraints applied by the index.
type SearchFilters struct {
	Categories       []string `json:"categories,omitempty"`
	Region           string   `json:"region,omitempty"`
	City             string   `json:"city,omitempty"`
	MaxFeeTier       int      `json:"max_fee_tier,omitempty"`
	Languages        []string `json:"languages,omitempty"`
	Communities      []string `json:"communities,omitempty"`
	Gender           string   `json:"gender,omitempty"`
	MinRating        float64  `json:"min_rating,omitempty"`
	MinReviews       int      `json:"min_reviews,omitempty"`
	MaxResponseHours float64  `json:"max_response_hours,omitempty"`
}

// SearchQuery is one request to the search index.
type SearchQuery struct {
	Text    string        `json:"text,omitempty"`
	Filters SearchFilters `json:"filters"`
	Geo     *Location     `json:"geo,omitempty"`
	Size    int           `json:"size"`
}

// SearchHit pairs a candidate with its index relevance.
type SearchHit struct {
	Candidate Candidate `json:"candidate"`
	Score     float64   `json:"score"`
}

// SearchIndex is the candidate retrieval service.
type SearchIndex interface {
	Search(ctx context.Context, q SearchQuery) ([]SearchHit, error)
	Get(ctx context.Context, id string) (*Candidate, error)
	Suggest(ctx context.Context, prefix string, limit int) ([]string, error)
}

// Reputation is an external rating summary for a candidate.
type Reputation struct {
	Rating      float64 `json:"rating"` // 0..5
	ReviewCount int     `json:"review_count"`
	Sources     int     `json:"sources"`
}

// ReputationSource looks up external reputation for a candidate.
type ReputationSource interface {
	Lookup(ctx context.Context, c Candidate) (Reputation, error)
}
