package gen

import (
	"context"
	"fmt"
	"strings"

	"github.com/basegraph-labs/trdforge/internal/llmgw"
	"github.com/basegraph-labs/trdforge/internal/session"
)

// SQLGenerator produces DDL statements and a matching textual ER diagram
// for every entity referenced in the TRD (§4.11).
type SQLGenerator struct {
	llm llmgw.Gateway
}

// NewSQL constructs a SQLGenerator.
func NewSQL(l llmgw.Gateway) *SQLGenerator { return &SQLGenerator{llm: l} }

type sqlResponse struct {
	DDL string `json:"ddl"`
	ERD string `json:"erd"`
}

// Generate produces DDL and a matching ER diagram, returned as a
// session.SQLSchema rather than a single string: SQL+ERD is the one
// generator whose artifact is naturally two related fields, not one
// document (§3's SQLSchema type).
func (g *SQLGenerator) Generate(ctx context.Context, s *session.Session) (session.SQLSchema, error) {
	prompt := llmgw.Prompt{
		System: "You write SQL DDL statements and a matching textual entity-relationship diagram. " +
			"Use the same entity and relation names in both the DDL and the diagram.",
		User:        g.buildUserMessage(s),
		SchemaName:  "sql_schema",
		Schema:      llmgw.GenerateSchema[sqlResponse](),
		Temperature: llmgw.Temp(0.1),
		MaxTokens:   6144,
	}

	var out sqlResponse
	if _, err := g.llm.CompleteStructured(ctx, prompt, &out); err != nil {
		return session.SQLSchema{}, fmt.Errorf("gen: sql: %w", err)
	}
	return session.SQLSchema{DDL: out.DDL, ERD: out.ERD}, nil
}

func (g *SQLGenerator) buildUserMessage(s *session.Session) string {
	var b strings.Builder
	b.WriteString("TRD:\n")
	b.WriteString(s.TRD)
	if s.APIModel != nil {
		b.WriteString("\n\nEndpoints:\n")
		for _, e := range s.APIModel.Endpoints {
			fmt.Fprintf(&b, "- %s %s\n", e.Method, e.Path)
		}
	}
	return b.String()
}
