package matching

import (
	"context"
	"fmt"
	"strings"

	"github.com/ZanzyTHEbar/lexcare/lexcare/inference"
	"github.com/ZanzyTHEbar/lexcare/lexcare/ports"
	"golang.org/x/sync/errgroup"
)

const explainSystemPrompt = `You write one or two warm, plain-language sentences telling a person why a legal professional may suit them.
Mention only facts given to you. No legal advice, no guarantees, no markdown.`

// enrichReputation refreshes the reputation sub-score of the top k candidates
// from the external source. Lookup failures keep the directory-based score.
func (e *Engine) enrichReputation(ctx context.Context, scored []ScoredCandidate, p Preferences, w Weights) {
	if e.reputation == nil || e.cfg.EnrichTopK <= 0 {
		return
	}
	k := min(e.cfg.EnrichTopK, len(scored))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)
	for i := range k {
		g.Go(func() error {
			c := scored[i].Candidate
			rep, err := e.reputation.Lookup(gctx, c)
			if err != nil {
				e.logger.Debug().Err(err).Str("candidate", c.ID).Msg("Reputation lookup skipped")
				return nil
			}
			scored[i].SubScores.Reputation = reputation(c.Rating, c.ReviewCount+rep.ReviewCount, rep.Rating)
			e.scorer.Finalize(&scored[i], p, w)
			return nil
		})
	}
	_ = g.Wait()
}

// refineStyle blends a model-judged style fit into the lexical style score
// for the top candidates.
func (e *Engine) refineStyle(ctx context.Context, scored []ScoredCandidate, p Preferences, w Weights) {
	if p.Style == StyleDefault || !e.llm.Available() {
		return
	}
	k := min(e.cfg.EnrichTopK, len(scored))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)
	for i := range k {
		g.Go(func() error {
			c := scored[i].Candidate
			if strings.TrimSpace(c.Profile) == "" {
				return nil
			}
			fit, err := inference.Structured[styleFit](gctx, e.llm, "style_fit", ports.Prompt{
				System: "Rate from 0 to 1 how well this professional's profile fits a client who wants a " + string(p.Style) + " communication style. Answer with JSON only.",
				User:   c.Profile,
			})
			if err != nil {
				return nil
			}
			scored[i].SubScores.Style = clamp01(0.5*scored[i].SubScores.Style + 0.5*clamp01(fit.Fit))
			e.scorer.Finalize(&scored[i], p, w)
			return nil
		})
	}
	_ = g.Wait()
}

type styleFit struct {
	Fit float64 `json:"fit"`
}

// explain attaches a short explanation to each candidate, falling back to a
// sentence built from the match reasons.
func (e *Engine) explain(ctx context.Context, scored []ScoredCandidate, p Preferences) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)
	for i := range scored {
		g.Go(func() error {
			scored[i].Explanation = fallbackExplanation(scored[i])
			if !e.cfg.Explain || !e.llm.Available() {
				return nil
			}
			text, err := e.llm.Text(gctx, "explain_match", ports.Prompt{
				System: explainSystemPrompt,
				User:   explainPrompt(scored[i], p),
			}, inference.WithMaxTokens(120))
			if err == nil {
				scored[i].Explanation = text
			}
			return nil
		})
	}
	_ = g.Wait()
}

func explainPrompt(sc ScoredCandidate, p Preferences) string {
	var b strings.Builder
	c := sc.Candidate
	fmt.Fprintf(&b, "Professional: %s", c.Name)
	if c.OrgName != "" {
		fmt.Fprintf(&b, " (%s)", c.OrgName)
	}
	fmt.Fprintf(&b, "\nPractice areas: %s\nLocation: %s\n", strings.Join(c.Categories, ", "), c.Location)
	if c.FeeTier > 0 {
		fmt.Fprintf(&b, "Fees: %s\n", TierLabel(c.FeeTier))
	}
	fmt.Fprintf(&b, "Why it matched: %s\n", strings.Join(sc.Reasons, "; "))
	if len(sc.Concerns) > 0 {
		fmt.Fprintf(&b, "Things to check: %s\n", strings.Join(sc.Concerns, "; "))
	}
	fmt.Fprintf(&b, "The person is looking for help with: %s", strings.Join(p.Categories, ", "))
	if p.HasLocation() {
		fmt.Fprintf(&b, " near %s", p.Location)
	}
	return b.String()
}

func fallbackExplanation(sc ScoredCandidate) string {
	reasons := sc.Reasons
	if len(reasons) > 3 {
		reasons = reasons[:3]
	}
	parts := make([]string, len(reasons))
	for i, r := range reasons {
		parts[i] = strings.ToLower(r[:1]) + r[1:]
	}
	return fmt.Sprintf("%s may be a good fit: %s.", sc.Candidate.Name, strings.Join(parts, "; "))
}
