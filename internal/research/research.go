// Package research implements the Technology Researcher (§4.10 of
// SPEC_FULL.md): cache lookup, search, LLM-ranked options, composite
// ranking, and a catalogue fallback when search is unavailable.
package research

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/basegraph-labs/trdforge/internal/cache"
	"github.com/basegraph-labs/trdforge/internal/llmgw"
	"github.com/basegraph-labs/trdforge/internal/searchgw"
	"github.com/basegraph-labs/trdforge/internal/session"
	"golang.org/x/sync/errgroup"
)

// Context is the per-gap research context (§4.10).
type Context struct {
	ProjectType         string
	ExistingStack       []string
	RequirementsDigest  string
}

// Researcher implements the per-gap research algorithm.
type Researcher struct {
	cache       cache.Cache
	search      searchgw.Gateway
	llm         llmgw.Gateway
	ttl         time.Duration
	parallelism int
}

// New constructs a Researcher.
func New(c cache.Cache, s searchgw.Gateway, l llmgw.Gateway, ttl time.Duration, parallelism int) *Researcher {
	if parallelism <= 0 {
		parallelism = 3
	}
	return &Researcher{cache: c, search: s, llm: l, ttl: ttl, parallelism: parallelism}
}

type llmOptionsResponse struct {
	Options []session.ResearchOption `json:"options"`
	Summary string                   `json:"summary"`
}

// Research runs the §4.10 algorithm for one gap category.
func (r *Researcher) Research(ctx context.Context, category session.GapCategory, rc Context) (session.ResearchResult, error) {
	key := cache.TechResearchKey(string(category), rc.ProjectType, rc.ExistingStack, rc.RequirementsDigest)

	if r.cache != nil {
		if cached, hit := r.cache.Get(ctx, key); hit {
			var result session.ResearchResult
			if json.Unmarshal(cached, &result) == nil {
				result.CacheHit = true
				return result, nil
			}
		}
	}

	results, searchErr := r.search.Search(ctx, searchQuery(category, rc), searchgw.Options{Depth: 2, MaxResults: 8})
	if searchErr != nil {
		if fallback, ok := catalogue[category]; ok {
			return session.ResearchResult{Category: category, Options: fallback, Summary: "catalogue fallback: search unavailable"}, nil
		}
		return session.ResearchResult{}, fmt.Errorf("research: %s: %w", category, searchErr)
	}

	var llmOut llmOptionsResponse
	prompt := llmgw.Prompt{
		System:     "You are a technology research assistant. Given search results, propose 2-3 candidate technologies with attributes.",
		User:       buildResearchPrompt(category, rc, results),
		SchemaName: "research_options",
		Schema:     llmgw.GenerateSchema[llmOptionsResponse](),
		Temperature: llmgw.Temp(0.3),
	}
	if _, err := r.llm.CompleteStructured(ctx, prompt, &llmOut); err != nil {
		if fallback, ok := catalogue[category]; ok {
			return session.ResearchResult{Category: category, Options: fallback, Summary: "catalogue fallback: llm analysis failed"}, nil
		}
		return session.ResearchResult{}, fmt.Errorf("research: %s: llm: %w", category, err)
	}

	rank(llmOut.Options)
	result := session.ResearchResult{
		Category: category,
		Options:  llmOut.Options,
		Summary:  llmOut.Summary,
	}
	if len(result.Options) > 0 {
		result.Recommendation = result.Options[0].Name
	}

	if r.cache != nil {
		if payload, err := json.Marshal(result); err == nil {
			r.cache.Set(ctx, key, payload, r.ttl)
		}
	}
	return result, nil
}

// ResearchAll fans out across gaps bounded by the configured parallelism
// (§5: "per-gap research ... fan-out bounded by a configurable
// parallelism, default 3").
func (r *Researcher) ResearchAll(ctx context.Context, gaps []session.Gap, rc Context) ([]session.ResearchResult, error) {
	results := make([]session.ResearchResult, len(gaps))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.parallelism)

	for i, gap := range gaps {
		i, gap := i, gap
		g.Go(func() error {
			res, err := r.Research(gctx, gap.Category, rc)
			if err != nil {
				// An unresearched gap does not fail the session (§4.10
				// Failure); record an empty, explained result instead.
				results[i] = session.ResearchResult{Category: gap.Category, Summary: "unresearched: " + err.Error()}
				return nil
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func searchQuery(category session.GapCategory, rc Context) string {
	return fmt.Sprintf("best %s technology for %s project in %v", category, rc.ProjectType, rc.ExistingStack)
}

func buildResearchPrompt(category session.GapCategory, rc Context, results []searchgw.Result) string {
	prompt := fmt.Sprintf("Gap category: %s\nProject type: %s\nExisting stack: %v\nRequirements: %s\n\nSearch results:\n",
		category, rc.ProjectType, rc.ExistingStack, rc.RequirementsDigest)
	for _, res := range results {
		prompt += fmt.Sprintf("- %s (%s): %s\n", res.Title, res.URL, res.Snippet)
	}
	return prompt
}

// rank orders options by a composite score over popularity, learning
// curve, doc quality, and integration complexity (§4.10 step 5); fit with
// the project context is not part of the score. The qualitative tags are
// mapped onto a 0-1 scale so they can be combined with the numeric
// popularity score.
func rank(options []session.ResearchOption) {
	sort.SliceStable(options, func(i, j int) bool {
		return composite(options[i]) > composite(options[j])
	})
}

func composite(o session.ResearchOption) float64 {
	return 0.4*clamp01(o.PopularityScore) +
		0.2*tagScore(o.LearningCurve) +
		0.2*tagScore(o.DocumentationQuality) +
		0.2*tagScore(o.IntegrationComplexity)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func tagScore(tag string) float64 {
	switch tag {
	case "low", "excellent", "high":
		return 1.0
	case "medium":
		return 0.5
	case "high_complexity", "poor", "low_quality":
		return 0.0
	default:
		return 0.5
	}
}
