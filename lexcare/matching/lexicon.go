package matching

import (
	_ "embed"
	"fmt"
	"slices"
	"strings"
	"sync"
	"unicode"

	"gopkg.in/yaml.v3"
)

//go:embed lexicon/lexicon.yaml
var lexiconYAML []byte

// CategoryEntry describes one service category and the family it belongs to.
type CategoryEntry struct {
	Group    string   `yaml:"group"`
	Keywords []string `yaml:"keywords"`
}

// PlaceEntry is one gazetteer row.
type PlaceEntry struct {
	Name    string   `yaml:"name"`
	Aliases []string `yaml:"aliases"`
	Region  string   `yaml:"region"`
	City    string   `yaml:"city"`
	Area    string   `yaml:"area"`
	Zips    []string `yaml:"zips"`
}

// Lexicon holds the keyword tables used for extraction and profile scoring.
type Lexicon struct {
	Categories      map[string]CategoryEntry `yaml:"categories"`
	Niches          map[string][]string      `yaml:"niches"`
	Styles          map[string][]string      `yaml:"styles"`
	Communities     map[string][]string      `yaml:"communities"`
	Languages       map[string][]string      `yaml:"languages"`
	Accessibility   map[string][]string      `yaml:"accessibility"`
	Vulnerabilities map[string][]string      `yaml:"vulnerabilities"`
	Urgency         map[string][]string      `yaml:"urgency"`
	Complexity      map[string][]string      `yaml:"complexity"`
	BudgetSensitive []string                 `yaml:"budget_sensitive"`
	Gender          map[string][]string      `yaml:"gender"`
	Places          []PlaceEntry             `yaml:"places"`
}

// LoadLexicon parses a YAML lexicon and normalizes every keyword.
func LoadLexicon(data []byte) (*Lexicon, error) {
	var lex Lexicon
	if err := yaml.Unmarshal(data, &lex); err != nil {
		return nil, fmt.Errorf("failed to parse lexicon: %w", err)
	}
	if len(lex.Categories) == 0 {
		return nil, fmt.Errorf("lexicon has no categories")
	}

	for id, entry := range lex.Categories {
		entry.Keywords = normalizeAll(append(entry.Keywords, strings.ReplaceAll(id, "_", " ")))
		lex.Categories[id] = entry
	}
	for _, table := range []map[string][]string{
		lex.Niches, lex.Styles, lex.Communities, lex.Languages, lex.Accessibility,
		lex.Vulnerabilities, lex.Urgency, lex.Complexity, lex.Gender,
	} {
		for id, kws := range table {
			table[id] = normalizeAll(kws)
		}
	}
	lex.BudgetSensitive = normalizeAll(lex.BudgetSensitive)
	return &lex, nil
}

var defaultLexicon = sync.OnceValues(func() (*Lexicon, error) {
	return LoadLexicon(lexiconYAML)
})

// DefaultLexicon returns the embedded lexicon, parsed once.
func DefaultLexicon() (*Lexicon, error) {
	return defaultLexicon()
}

// CategoryGroup returns the family a category belongs to, or the id itself.
func (l *Lexicon) CategoryGroup(id string) string {
	if e, ok := l.Categories[id]; ok && e.Group != "" {
		return e.Group
	}
	return id
}

// IsCategory reports whether id names a known category.
func (l *Lexicon) IsCategory(id string) bool {
	_, ok := l.Categories[id]
	return ok
}

// DetectCategories returns the sorted category ids mentioned in s.
func (l *Lexicon) DetectCategories(s string) []string {
	return newText(s).matches(l.categoryTable())
}

// MatchTable returns the sorted ids of table whose keywords occur in s.
func MatchTable(table map[string][]string, s string) []string {
	return newText(s).matches(normalizeTable(table))
}

func normalizeTable(table map[string][]string) map[string][]string {
	out := make(map[string][]string, len(table))
	for id, kws := range table {
		out[id] = normalizeAll(kws)
	}
	return out
}

// categoryTable flattens categories into an id to keywords table.
func (l *Lexicon) categoryTable() map[string][]string {
	out := make(map[string][]string, len(l.Categories))
	for id, e := range l.Categories {
		out[id] = e.Keywords
	}
	return out
}

// text is lowercased input with punctuation folded to single spaces and
// padded on both ends, so keyword checks respect word boundaries.
type text string

func newText(s string) text {
	return text(" " + normalize(s) + " ")
}

func normalize(s string) string {
	folded := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return ' '
	}, s)
	return strings.Join(strings.Fields(folded), " ")
}

func normalizeAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, kw := range in {
		if n := normalize(kw); n != "" {
			out = append(out, n)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func (t text) has(keyword string) bool {
	return strings.Contains(string(t), " "+keyword+" ")
}

func (t text) hasAny(keywords []string) bool {
	for _, kw := range keywords {
		if t.has(kw) {
			return true
		}
	}
	return false
}

// count returns the number of keyword occurrences in t.
func (t text) count(keywords []string) int {
	n := 0
	for _, kw := range keywords {
		n += strings.Count(string(t), " "+kw+" ")
	}
	return n
}

// matches returns the sorted ids of table whose keywords occur in t.
func (t text) matches(table map[string][]string) []string {
	var ids []string
	for id, kws := range table {
		if t.hasAny(kws) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// best returns the id with the most keyword hits, ties broken by id.
func (t text) best(table map[string][]string) (string, int) {
	var (
		bestID string
		bestN  int
	)
	for id, kws := range table {
		n := t.count(kws)
		if n > bestN || (n == bestN && n > 0 && id < bestID) {
			bestID, bestN = id, n
		}
	}
	return bestID, bestN
}

func (t text) words() int {
	return len(strings.Fields(string(t)))
}
