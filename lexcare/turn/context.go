package turn

import (
	"fmt"
	"slices"
	"strings"

	"github.com/ZanzyTHEbar/lexcare/lexcare/ports"
)

// Snippet is a candidate piece of context with a score and token estimate.
type Snippet struct {
	Text       string
	Score      float64 // higher is better
	TokenCount int
	Source     string
}

// Budget bounds the context handed to units.
type Budget struct {
	MaxContextTokens int
	MaxSnippets      int
}

// ContextAssembler selects and packs snippets within a token budget.
type ContextAssembler struct {
	budget Budget
	// TokenEstimator is a fast heuristic, not a tokenizer.
	TokenEstimator func(s string) int
}

// NewContextAssembler creates an assembler. A nil estimator counts roughly
// four characters per token.
func NewContextAssembler(b Budget, est func(s string) int) *ContextAssembler {
	if est == nil {
		est = func(s string) int {
			if len(s) == 0 {
				return 0
			}
			return (len(s) + 3) / 4
		}
	}
	return &ContextAssembler{budget: b, TokenEstimator: est}
}

// Pack sorts snippets by score and keeps as many as fit. Snippets that do not
// fit are skipped so a smaller one further down can still be used.
func (a *ContextAssembler) Pack(snippets []Snippet) []string {
	b := a.budget
	if len(snippets) == 0 || b.MaxContextTokens <= 0 || b.MaxSnippets <= 0 {
		return nil
	}

	sorted := slices.Clone(snippets)
	slices.SortStableFunc(sorted, func(x, y Snippet) int {
		switch {
		case x.Score > y.Score:
			return -1
		case x.Score < y.Score:
			return 1
		}
		return 0
	})

	remaining := b.MaxContextTokens
	packed := make([]string, 0, min(len(sorted), b.MaxSnippets))
	for _, sn := range sorted {
		if len(packed) >= b.MaxSnippets || remaining <= 0 {
			break
		}
		if sn.TokenCount <= 0 {
			sn.TokenCount = a.TokenEstimator(sn.Text)
		}
		if sn.TokenCount > remaining {
			continue
		}
		packed = append(packed, strings.TrimSpace(strings.ReplaceAll(sn.Text, "\r\n", "\n")))
		remaining -= sn.TokenCount
	}
	return packed
}

// contextSnippets turns the conversation history and stored facts into
// snippets. Newer turns score higher; facts outrank history.
func contextSnippets(history []ports.TurnRecord, facts map[string]any) []Snippet {
	out := make([]Snippet, 0, len(history)+1)
	if len(facts) > 0 {
		keys := make([]string, 0, len(facts))
		for k := range facts {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		var sb strings.Builder
		sb.WriteString("Known facts:")
		for _, k := range keys {
			fmt.Fprintf(&sb, " %s=%v;", k, facts[k])
		}
		out = append(out, Snippet{Text: sb.String(), Score: 2, Source: "profile"})
	}
	// history is newest first.
	for i, rec := range history {
		text := "User: " + rec.Text
		if rec.Response != "" {
			text += "\nAssistant: " + rec.Response
		}
		out = append(out, Snippet{
			Text:   text,
			Score:  1 / float64(i+1),
			Source: "turn:" + rec.TurnID,
		})
	}
	return out
}
