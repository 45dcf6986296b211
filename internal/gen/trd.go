package gen

import (
	"context"
	"fmt"
	"strings"

	"github.com/basegraph-labs/trdforge/internal/llmgw"
	"github.com/basegraph-labs/trdforge/internal/session"
)

// TRDGenerator produces the Technical Requirements Document. It is the
// only generator the engine drives through the quality-gated regenerate
// loop (§4.11): on a retry, session.LastValidation carries the previous
// attempt's findings so the prompt can ask for targeted fixes, the same
// feedback-into-next-attempt shape as the teacher's spec generator retry
// loop.
type TRDGenerator struct {
	llm llmgw.Gateway
}

// NewTRD constructs a TRDGenerator.
func NewTRD(l llmgw.Gateway) *TRDGenerator { return &TRDGenerator{llm: l} }

type trdResponse struct {
	Markdown string `json:"markdown"`
}

// Generate produces the TRD markdown for the session's current state.
func (g *TRDGenerator) Generate(ctx context.Context, s *session.Session) (string, error) {
	prompt := llmgw.Prompt{
		System:      trdSystemPrompt(),
		User:        g.buildUserMessage(s),
		SchemaName:  "trd_document",
		Schema:      llmgw.GenerateSchema[trdResponse](),
		Temperature: llmgw.Temp(0.2),
		MaxTokens:   8192,
	}

	var out trdResponse
	if _, err := g.llm.CompleteStructured(ctx, prompt, &out); err != nil {
		return "", fmt.Errorf("gen: trd: %w", err)
	}
	return out.Markdown, nil
}

func trdSystemPrompt() string {
	return "You write Technical Requirements Documents. The document MUST contain exactly these " +
		"top-level sections, by name, in this order: " + strings.Join(trdSections, ", ") + ". " +
		"Every selected technology must appear in Technology Stack with a version placeholder and a " +
		"rationale sentence. Every endpoint from the supplied API model must appear under API " +
		"Specification with a request/response block."
}

func (g *TRDGenerator) buildUserMessage(s *session.Session) string {
	var b strings.Builder
	fmt.Fprintf(&b, "PRD:\n%s\n\n", s.PRDText)

	b.WriteString("Selected technologies:\n")
	for category, decision := range s.SelectedTech {
		fmt.Fprintf(&b, "- %s: %s (%s)\n", category, decision.Option, decision.Rationale)
	}

	if s.APIModel != nil {
		b.WriteString("\nAPI endpoints:\n")
		for _, e := range s.APIModel.Endpoints {
			fmt.Fprintf(&b, "- %s %s: %s (request=%s, response=%s, auth=%v)\n",
				e.Method, e.Path, e.Summary, e.RequestSchema, e.ResponseSchema, e.AuthRequired)
		}
	}

	if s.TRDIteration > 0 && s.LastValidation != nil {
		fmt.Fprintf(&b, "\nThis is regeneration attempt %d. The previous attempt scored %.0f/100 "+
			"and failed review. Fix these issues:\n", s.TRDIteration+1, s.LastValidation.Overall)
		for _, f := range s.LastValidation.Findings {
			fmt.Fprintf(&b, "- [%s] %s\n", f.Severity, f.Detail)
		}
	}

	return b.String()
}
