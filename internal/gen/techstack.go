package gen

import (
	"context"
	"fmt"
	"strings"

	"github.com/basegraph-labs/trdforge/internal/llmgw"
	"github.com/basegraph-labs/trdforge/internal/session"
)

// TechStackGenerator produces one section per chosen technology:
// rationale, version placeholder, links to official documentation, and
// integration notes (§4.11).
type TechStackGenerator struct {
	llm llmgw.Gateway
}

// NewTechStack constructs a TechStackGenerator.
func NewTechStack(l llmgw.Gateway) *TechStackGenerator { return &TechStackGenerator{llm: l} }

type techStackResponse struct {
	Document string `json:"document"`
}

func (g *TechStackGenerator) Generate(ctx context.Context, s *session.Session) (string, error) {
	prompt := llmgw.Prompt{
		System: "You write a tech-stack document with one section per technology: rationale, a " +
			"version placeholder (e.g. \"^18.x\"), links to official documentation, and integration " +
			"notes.",
		User:        g.buildUserMessage(s),
		SchemaName:  "tech_stack_document",
		Schema:      llmgw.GenerateSchema[techStackResponse](),
		Temperature: llmgw.Temp(0.2),
		MaxTokens:   4096,
	}

	var out techStackResponse
	if _, err := g.llm.CompleteStructured(ctx, prompt, &out); err != nil {
		return "", fmt.Errorf("gen: techstack: %w", err)
	}
	return out.Document, nil
}

func (g *TechStackGenerator) buildUserMessage(s *session.Session) string {
	var b strings.Builder
	for category, decision := range s.SelectedTech {
		fmt.Fprintf(&b, "- %s: %s — %s\n", category, decision.Option, decision.Rationale)
		for _, res := range s.ResearchResults {
			if res.Category != category {
				continue
			}
			for _, opt := range res.Options {
				if opt.Name == decision.Option {
					fmt.Fprintf(&b, "  sources: %v\n", opt.SourceURLs)
				}
			}
		}
	}
	return b.String()
}
