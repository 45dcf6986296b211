// Package validator implements the Validator (§4.12 of SPEC_FULL.md):
// structural checks plus six specialist reviewers fanned out/in via
// errgroup, producing the composite score and Validation Report.
package validator

import (
	"context"
	"fmt"
	"strings"

	"github.com/basegraph-labs/trdforge/internal/llmgw"
	"github.com/basegraph-labs/trdforge/internal/session"
	"github.com/pb33f/libopenapi"
	"golang.org/x/sync/errgroup"
)

// reviewerWeights is the fixed weighting over the six specialist
// reviewers (§4.12).
var reviewerWeights = map[string]float64{
	"architecture": 0.20,
	"security":     0.15,
	"performance":  0.10,
	"api":          0.25,
	"database":     0.25,
	"clarity":      0.05,
}

// reviewerRubrics is each specialist's focus, used to build its prompt.
var reviewerRubrics = map[string]string{
	"architecture": "Evaluate whether System Architecture is coherent, layered, and matches the selected hosting technology.",
	"security":     "Evaluate whether Security Requirements covers authn/authz, transport security, and secrets handling.",
	"performance":  "Evaluate whether Performance Requirements states concrete latency/throughput targets and caching strategy.",
	"api":          "Evaluate whether API Specification covers every supplied endpoint with request/response blocks.",
	"database":     "Evaluate whether Database Schema names every entity referenced elsewhere in the document with sane types.",
	"clarity":      "Evaluate overall clarity, consistency of terminology, and absence of contradictions.",
}

const (
	minSectionLength     = 200
	minEndpointsRequired = 1
	structuralMax        = 15.0
	fastFailThreshold    = 6.0
	passThreshold        = 90.0
	maxIterationsDefault = 3
)

// Config tunes the pass threshold and fast-fail/force-pass iteration cap.
type Config struct {
	PassThreshold  float64
	MaxIterations  int
	MinEndpoints   int
}

// Validator runs structural checks and the specialist reviewer panel.
type Validator struct {
	llm llmgw.Gateway
	cfg Config
}

// New constructs a Validator.
func New(l llmgw.Gateway, cfg Config) *Validator {
	if cfg.PassThreshold == 0 {
		cfg.PassThreshold = passThreshold
	}
	if cfg.MaxIterations == 0 {
		cfg.MaxIterations = maxIterationsDefault
	}
	if cfg.MinEndpoints == 0 {
		cfg.MinEndpoints = minEndpointsRequired
	}
	return &Validator{llm: l, cfg: cfg}
}

type reviewerResponse struct {
	Score    float64  `json:"score"`
	Notes    string   `json:"notes"`
	Findings []string `json:"findings"`
}

// Validate runs the composite §4.12 algorithm for one TRD attempt.
func (v *Validator) Validate(ctx context.Context, s *session.Session) (session.ValidationReport, error) {
	structural, findings := v.structuralScore(s)
	findings = append(findings, v.openAPIRoundTripFindings(s)...)

	if structural < fastFailThreshold {
		return v.finish(s, structural, nil, append(findings, session.ValidationFinding{
			Severity: session.SeverityCritical,
			Detail:   "structural score below fast-fail threshold; specialist review skipped",
		})), nil
	}

	scores, err := v.runReviewers(ctx, s)
	if err != nil {
		return session.ValidationReport{}, fmt.Errorf("validator: %w", err)
	}

	return v.finish(s, structural, scores, findings), nil
}

func (v *Validator) finish(s *session.Session, structural float64, scores []session.ReviewerScore, findings []session.ValidationFinding) session.ValidationReport {
	weighted := 0.0
	for _, rs := range scores {
		weighted += reviewerWeights[rs.Reviewer] * rs.Score
	}
	overall := structural + weighted

	forcedPass := false
	if overall < v.cfg.PassThreshold && s.TRDIteration >= v.cfg.MaxIterations {
		forcedPass = true
		findings = append(findings, session.ValidationFinding{
			Severity: session.SeverityWarning,
			Detail:   "maximum regenerate iterations reached; forcing pass for human review",
		})
	}

	return session.ValidationReport{
		Overall:        overall,
		Structural:     structural,
		ReviewerScores: scores,
		Findings:       findings,
		Iteration:      s.TRDIteration,
		ForcedPass:     forcedPass,
	}
}

// Passed reports whether a Validation Report clears the gate: either the
// composite score cleared this Validator's configured pass threshold, or
// the iteration budget forced a pass (§4.12). Compares against v.cfg, the
// same threshold finish used to compute ForcedPass, so the two decision
// points never disagree.
func (v *Validator) Passed(report session.ValidationReport) bool {
	return report.Overall >= v.cfg.PassThreshold || report.ForcedPass
}

// structuralScore implements the 0-15 structural checks (§4.12).
func (v *Validator) structuralScore(s *session.Session) (float64, []session.ValidationFinding) {
	var findings []session.ValidationFinding
	score := 0.0
	const perSection = structuralMax / 10.0 / 2 // half the budget: presence
	const perSectionLength = structuralMax / 10.0 / 2 // other half: minimum length

	sections := splitSections(s.TRD)
	requiredNames := []string{
		"Project Overview", "Technology Stack", "System Architecture", "API Specification",
		"Database Schema", "Security Requirements", "Performance Requirements",
		"Deployment Strategy", "Testing Strategy", "Development Guidelines",
	}
	for _, name := range requiredNames {
		body, ok := sections[name]
		if !ok {
			findings = append(findings, session.ValidationFinding{
				Severity: session.SeverityCritical,
				Detail:   fmt.Sprintf("missing required section %q", name),
			})
			continue
		}
		score += perSection
		if len(body) >= minSectionLength {
			score += perSectionLength
		} else {
			findings = append(findings, session.ValidationFinding{
				Severity: session.SeverityWarning,
				Detail:   fmt.Sprintf("section %q is shorter than the minimum length", name),
			})
		}
	}

	endpointCount := 0
	if s.APIModel != nil {
		endpointCount = len(s.APIModel.Endpoints)
	}
	if endpointCount < v.cfg.MinEndpoints {
		findings = append(findings, session.ValidationFinding{
			Severity: session.SeverityCritical,
			Detail:   fmt.Sprintf("API Specification covers %d endpoints, fewer than the required %d", endpointCount, v.cfg.MinEndpoints),
		})
	}

	if score > structuralMax {
		score = structuralMax
	}
	return score, findings
}

// openAPIRoundTripFindings re-parses the generated OpenAPI document
// through libopenapi's V3 model builder, the same structural law the
// generator itself checks at write time (§4.11, §4.12): a document that
// the generator accepted but can no longer round-trip is a validator-time
// defect, not silently ignored.
func (v *Validator) openAPIRoundTripFindings(s *session.Session) []session.ValidationFinding {
	if s.OpenAPIText == "" {
		return nil
	}
	doc, err := libopenapi.NewDocument([]byte(s.OpenAPIText))
	if err != nil {
		return []session.ValidationFinding{{Severity: session.SeverityCritical, Detail: "OpenAPI document failed to parse: " + err.Error()}}
	}
	if _, err := doc.BuildV3Model(); err != nil {
		return []session.ValidationFinding{{Severity: session.SeverityCritical, Detail: "OpenAPI document failed V3 model build: " + err.Error()}}
	}
	return nil
}

// runReviewers fans the six specialist calls out and in, bounded at six
// concurrent LLM calls (§4.12, §5).
func (v *Validator) runReviewers(ctx context.Context, s *session.Session) ([]session.ReviewerScore, error) {
	names := make([]string, 0, len(reviewerWeights))
	for name := range reviewerWeights {
		names = append(names, name)
	}

	scores := make([]session.ReviewerScore, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(len(names))

	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			out, err := v.runOneReviewer(gctx, name, s)
			if err != nil {
				// One reviewer's transient failure should not sink the whole
				// panel; it scores as a neutral midpoint with a note.
				scores[i] = session.ReviewerScore{Reviewer: name, Score: 50, Notes: "reviewer call failed: " + err.Error()}
				return nil
			}
			scores[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return scores, nil
}

func (v *Validator) runOneReviewer(ctx context.Context, name string, s *session.Session) (session.ReviewerScore, error) {
	prompt := llmgw.Prompt{
		System:      fmt.Sprintf("You are the %s reviewer for a Technical Requirements Document. %s Score 0-100.", name, reviewerRubrics[name]),
		User:        s.TRD,
		SchemaName:  "reviewer_score",
		Schema:      llmgw.GenerateSchema[reviewerResponse](),
		Temperature: llmgw.Temp(0.1),
	}

	var out reviewerResponse
	if _, err := v.llm.CompleteStructured(ctx, prompt, &out); err != nil {
		return session.ReviewerScore{}, err
	}
	return session.ReviewerScore{Reviewer: name, Score: out.Score, Notes: out.Notes}, nil
}

// splitSections splits TRD markdown into a name->body map, keyed by
// "## <name>" top-level headings.
func splitSections(trd string) map[string]string {
	sections := map[string]string{}
	lines := strings.Split(trd, "\n")
	current := ""
	var body strings.Builder
	flush := func() {
		if current != "" {
			sections[current] = body.String()
		}
		body.Reset()
	}
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "## ") {
			flush()
			current = strings.TrimSpace(strings.TrimPrefix(trimmed, "##"))
			continue
		}
		body.WriteString(line)
		body.WriteString("\n")
	}
	flush()
	return sections
}
