package gen

import (
	"context"
	"fmt"
	"strings"

	"github.com/basegraph-labs/trdforge/internal/llmgw"
	"github.com/basegraph-labs/trdforge/internal/session"
	"github.com/pb33f/libopenapi"
)

// OpenAPIGenerator produces an OpenAPI 3.x document consistent with the
// TRD's API Specification section, self-checked by round-tripping the
// generated text through libopenapi's V3 model builder (§4.11) — the same
// parse-and-build step the falcon OpenAPI ingester uses on the read side.
type OpenAPIGenerator struct {
	llm llmgw.Gateway
}

// NewOpenAPI constructs an OpenAPIGenerator.
func NewOpenAPI(l llmgw.Gateway) *OpenAPIGenerator { return &OpenAPIGenerator{llm: l} }

type openAPIResponse struct {
	Document string `json:"document"`
}

func (g *OpenAPIGenerator) Generate(ctx context.Context, s *session.Session) (string, error) {
	prompt := llmgw.Prompt{
		System: "You write OpenAPI 3.x documents in YAML. Include paths, operations, components, " +
			"and a security scheme derived from the chosen authentication technology. Every path and " +
			"method listed must match the supplied API endpoints exactly.",
		User:        g.buildUserMessage(s),
		SchemaName:  "openapi_document",
		Schema:      llmgw.GenerateSchema[openAPIResponse](),
		Temperature: llmgw.Temp(0.1),
		MaxTokens:   8192,
	}

	var out openAPIResponse
	if _, err := g.llm.CompleteStructured(ctx, prompt, &out); err != nil {
		return "", fmt.Errorf("gen: openapi: %w", err)
	}

	if err := validateOpenAPI(out.Document); err != nil {
		return "", fmt.Errorf("gen: openapi: generated document failed round-trip validation: %w", err)
	}
	return out.Document, nil
}

// validateOpenAPI parses document and builds its V3 model, the structural
// self-check §4.11 requires before an OpenAPI artifact is accepted.
func validateOpenAPI(document string) error {
	doc, err := libopenapi.NewDocument([]byte(document))
	if err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	if _, err := doc.BuildV3Model(); err != nil {
		return fmt.Errorf("build v3 model: %w", err)
	}
	return nil
}

func (g *OpenAPIGenerator) buildUserMessage(s *session.Session) string {
	var b strings.Builder
	b.WriteString("Authentication technology: ")
	if d, ok := s.SelectedTech[session.GapAuthentication]; ok {
		b.WriteString(d.Option)
	} else {
		b.WriteString("none selected")
	}
	b.WriteString("\n\nEndpoints:\n")
	if s.APIModel != nil {
		for _, e := range s.APIModel.Endpoints {
			fmt.Fprintf(&b, "- %s %s: %s (request=%s, response=%s, auth=%v)\n",
				e.Method, e.Path, e.Summary, e.RequestSchema, e.ResponseSchema, e.AuthRequired)
		}
	}
	return b.String()
}
