// Package gen implements the Document Generators (§4.11 of SPEC_FULL.md):
// TRD, OpenAPI, SQL+ERD, architecture diagram, and tech-stack document.
// All but the SQL+ERD generator share the Generate(ctx, session) (string,
// error) shape; the SQL+ERD generator returns a session.SQLSchema. Only the
// TRD generator participates in the quality-gated regenerate loop; the
// others are single-shot and retriable on transient LLM errors.
package gen

import (
	"context"

	"github.com/basegraph-labs/trdforge/internal/session"
)

// Generator is the common shape every document generator implements.
type Generator interface {
	Generate(ctx context.Context, s *session.Session) (string, error)
}

// trdSections is the fixed, ordered section list the TRD must contain
// (§4.11).
var trdSections = []string{
	"Project Overview",
	"Technology Stack",
	"System Architecture",
	"API Specification",
	"Database Schema",
	"Security Requirements",
	"Performance Requirements",
	"Deployment Strategy",
	"Testing Strategy",
	"Development Guidelines",
}
