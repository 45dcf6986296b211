package engine

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/basegraph-labs/trdforge/internal/apiinfer"
	"github.com/basegraph-labs/trdforge/internal/gen"
	"github.com/basegraph-labs/trdforge/internal/llmgw"
	"github.com/basegraph-labs/trdforge/internal/research"
	"github.com/basegraph-labs/trdforge/internal/searchgw"
	"github.com/basegraph-labs/trdforge/internal/session"
	"github.com/basegraph-labs/trdforge/internal/validator"
)

// stubLLM answers CompleteStructured by SchemaName, decoding a canned JSON
// payload the same way the real gateway decodes a model's response.
type stubLLM struct {
	responses map[string]string
	err       error
}

func (s stubLLM) Complete(ctx context.Context, p llmgw.Prompt) (llmgw.Completion, error) {
	return llmgw.Completion{}, errors.New("stubLLM: Complete not used by these nodes")
}

func (s stubLLM) CompleteStructured(ctx context.Context, p llmgw.Prompt, result any) (llmgw.Completion, error) {
	if s.err != nil {
		return llmgw.Completion{}, s.err
	}
	payload, ok := s.responses[p.SchemaName]
	if !ok {
		return llmgw.Completion{}, errors.New("stubLLM: no canned response for schema " + p.SchemaName)
	}
	if err := json.Unmarshal([]byte(payload), result); err != nil {
		return llmgw.Completion{}, err
	}
	return llmgw.Completion{Text: payload}, nil
}

// failingSearch always fails, forcing the research catalogue fallback
// path (mirrors internal/research's own test double).
type failingSearch struct{}

func (failingSearch) Search(ctx context.Context, query string, opts searchgw.Options) ([]searchgw.Result, error) {
	return nil, errors.New("search unavailable")
}

func newTestEngine(llm llmgw.Gateway) *Engine {
	researcher := research.New(nil, failingSearch{}, llm, 0, 3)
	inferrer := apiinfer.New(nil, 0)
	return &Engine{
		cfg: Config{
			CompletenessThreshold: 80,
			TRDPassThreshold:      90,
			MaxTRDIterations:      3,
			MaxConflictRetries:    3,
		},
		llm:        llm,
		researcher: researcher,
		inferrer:   inferrer,
		trdGen:     gen.NewTRD(llm),
		openAPI:    gen.NewOpenAPI(llm),
		sqlGen:     gen.NewSQL(llm),
		archGen:    gen.NewArchitecture(llm),
		techGen:    gen.NewTechStack(llm),
		validate:   validator.New(llm, validator.Config{PassThreshold: 90, MaxIterations: 3}),
	}
}

func TestNodeAnalyzeCompletenessRoutesToIdentifyTechGapsAboveThreshold(t *testing.T) {
	e := newTestEngine(stubLLM{responses: map[string]string{
		"completeness_analysis": `{"score": 92, "missing": [], "ambiguous": []}`,
	}})
	out, err := e.nodeAnalyzeCompleteness(context.Background(), session.Session{PRDText: "a complete PRD"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Phase != session.PhaseIdentifyTechGaps {
		t.Fatalf("expected routing to identify_tech_gaps, got %s", out.Phase)
	}
	if out.CompletenessScore != 92 {
		t.Fatalf("expected score 92, got %d", out.CompletenessScore)
	}
}

func TestNodeAnalyzeCompletenessRoutesToAskClarificationBelowThreshold(t *testing.T) {
	e := newTestEngine(stubLLM{responses: map[string]string{
		"completeness_analysis": `{"score": 40, "missing": ["auth flow"], "ambiguous": []}`,
	}})
	out, err := e.nodeAnalyzeCompleteness(context.Background(), session.Session{PRDText: "a thin PRD"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Phase != session.PhaseAskClarification {
		t.Fatalf("expected routing to ask_user_clarification, got %s", out.Phase)
	}
	if len(out.MissingElements) != 1 {
		t.Fatalf("expected missing elements to be recorded")
	}
}

func TestNodeAskClarificationSuspends(t *testing.T) {
	e := newTestEngine(stubLLM{responses: map[string]string{
		"clarification_questions": `{"questions": ["What auth provider?", "What hosting target?"]}`,
	}})
	out, err := e.nodeAskClarification(context.Background(), session.Session{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Paused || out.Awaiting != session.AwaitingClarification {
		t.Fatalf("expected session to suspend awaiting clarification, got paused=%v awaiting=%s", out.Paused, out.Awaiting)
	}
	if len(out.ClarificationQs) != 2 {
		t.Fatalf("expected 2 clarification questions, got %d", len(out.ClarificationQs))
	}
}

func TestNodeIdentifyTechGapsFiltersUnknownCategories(t *testing.T) {
	e := newTestEngine(stubLLM{responses: map[string]string{
		"tech_gaps": `{"gaps": [
			{"category": "database", "description": "no DB chosen", "priority": "high", "impact_summary": "blocks schema", "option_hints": []},
			{"category": "not_a_real_category", "description": "bogus", "priority": "low", "impact_summary": "", "option_hints": []}
		]}`,
	}})
	out, err := e.nodeIdentifyTechGaps(context.Background(), session.Session{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Gaps) != 1 || out.Gaps[0].Category != session.GapDatabase {
		t.Fatalf("expected exactly the database gap to survive filtering, got %+v", out.Gaps)
	}
	if len(out.PendingDecisions) != 1 || out.PendingDecisions[0] != session.GapDatabase {
		t.Fatalf("expected pending_decisions to equal the gap category set, got %v", out.PendingDecisions)
	}
	if out.Phase != session.PhaseResearchTechnologies {
		t.Fatalf("expected routing to research_technologies, got %s", out.Phase)
	}
}

func TestNodeIdentifyTechGapsRoutesToParseCodeWhenNoGapsFound(t *testing.T) {
	e := newTestEngine(stubLLM{responses: map[string]string{
		"tech_gaps": `{"gaps": []}`,
	}})
	out, err := e.nodeIdentifyTechGaps(context.Background(), session.Session{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Phase != session.PhaseParseAIStudioCode {
		t.Fatalf("expected routing to parse_ai_studio_code when no gaps remain, got %s", out.Phase)
	}
}

func TestNodeResearchTechnologiesFallsBackToCatalogueOnSearchFailure(t *testing.T) {
	e := newTestEngine(stubLLM{})
	sess := session.Session{Gaps: []session.Gap{
		{Category: session.GapDatabase},
		{Category: session.GapAuthentication},
	}}
	out, err := e.nodeResearchTechnologies(context.Background(), sess)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.ResearchResults) != 2 {
		t.Fatalf("expected a research result per gap, got %d", len(out.ResearchResults))
	}
	for _, r := range out.ResearchResults {
		if len(r.Options) == 0 {
			t.Fatalf("expected catalogue fallback options for %s", r.Category)
		}
	}
	if out.Phase != session.PhasePresentOptions {
		t.Fatalf("expected routing to present_options, got %s", out.Phase)
	}
}

func TestNodePresentOptionsRendersTheNextPendingGap(t *testing.T) {
	e := newTestEngine(stubLLM{})
	sess := session.Session{
		PendingDecisions: []session.GapCategory{session.GapDatabase},
		ResearchResults: []session.ResearchResult{
			{Category: session.GapDatabase, Summary: "pick a database", Options: []session.ResearchOption{{Name: "PostgreSQL"}}},
		},
	}
	out, err := e.nodePresentOptions(context.Background(), sess)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Phase != session.PhaseWaitUserDecision {
		t.Fatalf("expected routing to wait_user_decision, got %s", out.Phase)
	}
	if len(out.Conversation) != 1 {
		t.Fatalf("expected the options to be appended to the transcript")
	}
}

func TestNodePresentOptionsSkipsToParseCodeWhenNothingPending(t *testing.T) {
	e := newTestEngine(stubLLM{})
	out, err := e.nodePresentOptions(context.Background(), session.Session{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Phase != session.PhaseParseAIStudioCode {
		t.Fatalf("expected routing to parse_ai_studio_code, got %s", out.Phase)
	}
}

func TestNodeWaitUserDecisionSuspends(t *testing.T) {
	e := newTestEngine(stubLLM{})
	out, err := e.nodeWaitUserDecision(context.Background(), session.Session{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Paused || out.Awaiting != session.AwaitingDecision {
		t.Fatalf("expected session to suspend awaiting a decision")
	}
}

func TestNodeValidateDecisionFlagsConflictingSelections(t *testing.T) {
	e := newTestEngine(stubLLM{})
	sess := session.Session{
		SelectedTech: map[session.GapCategory]session.Decision{
			session.GapHosting:   {Option: "Serverless (AWS Lambda)"},
			session.GapMessaging: {Option: "Background job queue"},
		},
		GapConflictCounts: map[session.GapCategory]int{},
	}
	out, err := e.nodeValidateDecision(context.Background(), sess)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Phase != session.PhaseWarnUser {
		t.Fatalf("expected routing to warn_user on conflict, got %s", out.Phase)
	}
	if len(out.DecisionWarnings) == 0 {
		t.Fatalf("expected at least one decision warning to be recorded")
	}
}

func TestNodeValidateDecisionProceedsWithoutConflict(t *testing.T) {
	e := newTestEngine(stubLLM{})
	sess := session.Session{
		SelectedTech: map[session.GapCategory]session.Decision{
			session.GapHosting: {Option: "AWS"},
		},
		GapConflictCounts: map[session.GapCategory]int{},
		PendingDecisions:  []session.GapCategory{session.GapDatabase},
	}
	out, err := e.nodeValidateDecision(context.Background(), sess)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Phase != session.PhasePresentOptions {
		t.Fatalf("expected routing back to present_options for the remaining pending decision, got %s", out.Phase)
	}
	if len(out.DecisionWarnings) != 0 {
		t.Fatalf("expected no decision warnings")
	}
}

func TestNodeWarnUserSuspendsAwaitingWarningResolution(t *testing.T) {
	e := newTestEngine(stubLLM{})
	sess := session.Session{DecisionWarnings: []session.DecisionWarning{
		{Category: session.GapMessaging, Severity: session.SeverityCritical, ConflictExplanation: "conflict"},
	}}
	out, err := e.nodeWarnUser(context.Background(), sess)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Paused || out.Awaiting != session.AwaitingWarning {
		t.Fatalf("expected session to suspend awaiting a warning resolution")
	}
}

func TestNodeParseCodeSkipsParsingWhenNoArchive(t *testing.T) {
	e := newTestEngine(stubLLM{})
	out, err := e.nodeParseCode(context.Background(), session.Session{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.CodeModel != nil {
		t.Fatalf("expected a nil code model when no archive path is set")
	}
	if out.Phase != session.PhaseInferAPISpec {
		t.Fatalf("expected routing to infer_api_spec, got %s", out.Phase)
	}
}

func TestNodeInferAPISpecRoutesToGenerateTRD(t *testing.T) {
	e := newTestEngine(stubLLM{})
	out, err := e.nodeInferAPISpec(context.Background(), session.Session{PRDText: "GET /users returns a list of users"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.APIModel == nil {
		t.Fatalf("expected an API model to be recorded")
	}
	if out.Phase != session.PhaseGenerateTRD {
		t.Fatalf("expected routing to generate_trd, got %s", out.Phase)
	}
}

const fullTRDMarkdown = `## Project Overview
` + sectionFiller + `
## Technology Stack
` + sectionFiller + `
## System Architecture
` + sectionFiller + `
## API Specification
` + sectionFiller + `
## Database Schema
` + sectionFiller + `
## Security Requirements
` + sectionFiller + `
## Performance Requirements
` + sectionFiller + `
## Deployment Strategy
` + sectionFiller + `
## Testing Strategy
` + sectionFiller + `
## Development Guidelines
` + sectionFiller

var sectionFiller = func() string {
	out := ""
	for i := 0; i < 40; i++ {
		out += "Enough detail to clear the minimum section length requirement. "
	}
	return out
}()

func TestNodeGenerateTRDRoutesToValidateTRD(t *testing.T) {
	payload, _ := json.Marshal(map[string]string{"markdown": fullTRDMarkdown})
	e := newTestEngine(stubLLM{responses: map[string]string{"trd_document": string(payload)}})
	out, err := e.nodeGenerateTRD(context.Background(), session.Session{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.TRD == "" || out.TRDIteration != 1 {
		t.Fatalf("expected a recorded TRD draft and iteration bump, got iteration=%d", out.TRDIteration)
	}
	if out.Phase != session.PhaseValidateTRD {
		t.Fatalf("expected routing to validate_trd, got %s", out.Phase)
	}
}

func TestNodeValidateTRDForcesPastThresholdAtMaxIterations(t *testing.T) {
	llm := stubLLM{responses: map[string]string{
		"reviewer_score": `{"score": 10, "notes": "needs work", "findings": []}`,
	}}
	e := newTestEngine(llm)
	e.cfg.MaxTRDIterations = 1
	e.validate = validator.New(llm, validator.Config{PassThreshold: 90, MaxIterations: 1})
	sess := session.Session{TRD: fullTRDMarkdown, TRDIteration: 1}
	out, err := e.nodeValidateTRD(context.Background(), sess)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Phase != session.PhaseGenerateAPISpec {
		t.Fatalf("expected forced pass to route to generate_api_spec, got %s", out.Phase)
	}
	if out.LastValidation == nil || !out.LastValidation.ForcedPass {
		t.Fatalf("expected the validation report to record a forced pass")
	}
}

func TestNodeValidateTRDLoopsBackBelowThresholdWithIterationsRemaining(t *testing.T) {
	llm := stubLLM{responses: map[string]string{
		"reviewer_score": `{"score": 10, "notes": "needs work", "findings": []}`,
	}}
	e := newTestEngine(llm)
	sess := session.Session{TRD: fullTRDMarkdown, TRDIteration: 1}
	out, err := e.nodeValidateTRD(context.Background(), sess)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Phase != session.PhaseGenerateTRD {
		t.Fatalf("expected a failing score with iterations remaining to loop back to generate_trd, got %s", out.Phase)
	}
}

func TestNodeGenerateArchitectureFallsBackOnLLMFailure(t *testing.T) {
	e := newTestEngine(stubLLM{err: errors.New("model unavailable")})
	out, err := e.nodeGenerateArchitecture(context.Background(), session.Session{
		SelectedTech: map[session.GapCategory]session.Decision{
			session.GapDatabase: {Option: "PostgreSQL"},
			session.GapHosting:  {Option: "AWS"},
		},
	})
	if err != nil {
		t.Fatalf("node itself must not fail on a generator fallback: %v", err)
	}
	if out.ArchitectureDiagram == "" {
		t.Fatalf("expected a fallback diagram to still be recorded")
	}
	if len(out.Errors) != 1 {
		t.Fatalf("expected the fallback to be recorded as a non-fatal session error, got %d entries", len(out.Errors))
	}
	if out.Phase != session.PhaseGenerateTechStackDoc {
		t.Fatalf("expected routing to continue to generate_tech_stack_doc despite the fallback, got %s", out.Phase)
	}
}

func TestNodeNotifyNextAgentCompletesTheSession(t *testing.T) {
	e := newTestEngine(stubLLM{})
	out, err := e.nodeNotifyNextAgent(context.Background(), session.Session{Version: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Phase != session.PhaseCompleted {
		t.Fatalf("expected the terminal completed phase, got %s", out.Phase)
	}
	if out.ProgressPercentage != 100 {
		t.Fatalf("expected progress to reach 100, got %d", out.ProgressPercentage)
	}
}

func TestDetectConflictsRespectsMaxConflictRetries(t *testing.T) {
	e := newTestEngine(stubLLM{})
	e.cfg.MaxConflictRetries = 1
	sess := session.Session{
		SelectedTech: map[session.GapCategory]session.Decision{
			session.GapHosting:   {Option: "Serverless (AWS Lambda)"},
			session.GapMessaging: {Option: "Background job queue"},
		},
		GapConflictCounts: map[session.GapCategory]int{
			session.GapHosting:   1,
			session.GapMessaging: 1,
		},
	}
	warnings := e.detectConflicts(sess)
	if len(warnings) != 0 {
		t.Fatalf("expected no further warnings once MaxConflictRetries is reached for every category, got %d", len(warnings))
	}
}
