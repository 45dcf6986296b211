package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/basegraph-labs/trdforge/internal/llmgw"
	"github.com/basegraph-labs/trdforge/internal/persistence"
	"github.com/basegraph-labs/trdforge/internal/research"
	"github.com/basegraph-labs/trdforge/internal/session"
)

// allGapCategories is the closed set node 4 draws from (§3).
var allGapCategories = []session.GapCategory{
	session.GapAuthentication, session.GapDatabase, session.GapStorage, session.GapMessaging,
	session.GapCaching, session.GapEmail, session.GapPayments, session.GapRealtime,
	session.GapHosting, session.GapAnalytics, session.GapSearch, session.GapCICD,
}

// --- node 1: load_inputs -----------------------------------------------

func (e *Engine) nodeLoadInputs(ctx context.Context, sess session.Session) (session.Session, error) {
	up, err := e.persistence.LoadUpstream(ctx, sess.DesignJobID)
	if err != nil {
		return sess, fmt.Errorf("load_inputs: %w", err)
	}
	return sess.WithInputs(up.PRDText, up.DesignDocs, up.ArchivePath, now()), nil
}

// --- node 2: analyze_completeness ---------------------------------------

type completenessResponse struct {
	Score      int      `json:"score"`
	Missing    []string `json:"missing"`
	Ambiguous  []string `json:"ambiguous"`
}

func (e *Engine) nodeAnalyzeCompleteness(ctx context.Context, sess session.Session) (session.Session, error) {
	prompt := llmgw.Prompt{
		System: "You assess completeness of a Product Requirements Document plus design docs for " +
			"building a Technical Requirements Document. Score 0-100. List missing elements and " +
			"ambiguous elements.",
		User:        buildHintText(sess),
		SchemaName:  "completeness_analysis",
		Schema:      llmgw.GenerateSchema[completenessResponse](),
		Temperature: llmgw.Temp(0.1),
	}
	var out completenessResponse
	if _, err := e.llm.CompleteStructured(ctx, prompt, &out); err != nil {
		return sess, fmt.Errorf("analyze_completeness: %w", err)
	}

	next := sess.WithCompleteness(out.Score, out.Missing, out.Ambiguous, now())
	if out.Score >= e.cfg.CompletenessThreshold {
		next.Phase = session.PhaseIdentifyTechGaps
	} else {
		next.Phase = session.PhaseAskClarification
	}
	return next, nil
}

// --- node 3: ask_user_clarification (suspends) --------------------------

type clarificationResponse struct {
	Questions []string `json:"questions"`
}

func (e *Engine) nodeAskClarification(ctx context.Context, sess session.Session) (session.Session, error) {
	prompt := llmgw.Prompt{
		System: "Given the missing and ambiguous elements of a requirements bundle, write 3 to 5 " +
			"concrete clarification questions for the requester.",
		User:        fmt.Sprintf("Missing: %v\nAmbiguous: %v", sess.MissingElements, sess.AmbiguousElements),
		SchemaName:  "clarification_questions",
		Schema:      llmgw.GenerateSchema[clarificationResponse](),
		Temperature: llmgw.Temp(0.3),
	}
	var out clarificationResponse
	if _, err := e.llm.CompleteStructured(ctx, prompt, &out); err != nil {
		return sess, fmt.Errorf("ask_user_clarification: %w", err)
	}

	next := sess.WithClarificationQuestions(out.Questions)
	next = next.Suspend(session.PhaseAskClarification, session.AwaitingClarification, 15, now())
	e.emit(ctx, session.Event{SessionID: sess.ID, Kind: session.EventAgentMessage, Node: string(session.PhaseAskClarification), Text: strings.Join(out.Questions, "\n")})
	return next, nil
}

// --- node 4: identify_tech_gaps ------------------------------------------

type gapsResponse struct {
	Gaps []struct {
		Category      string   `json:"category"`
		Description   string   `json:"description"`
		Priority      string   `json:"priority"`
		ImpactSummary string   `json:"impact_summary"`
		OptionHints   []string `json:"option_hints"`
	} `json:"gaps"`
}

func (e *Engine) nodeIdentifyTechGaps(ctx context.Context, sess session.Session) (session.Session, error) {
	prompt := llmgw.Prompt{
		System: fmt.Sprintf("Identify which technology decisions remain unresolved for this project, "+
			"drawn only from this closed category set: %v. Skip a category if the PRD/design docs "+
			"already name a concrete technology for it.", allGapCategories),
		User:        buildHintText(sess),
		SchemaName:  "tech_gaps",
		Schema:      llmgw.GenerateSchema[gapsResponse](),
		Temperature: llmgw.Temp(0.2),
	}
	var out gapsResponse
	if _, err := e.llm.CompleteStructured(ctx, prompt, &out); err != nil {
		return sess, fmt.Errorf("identify_tech_gaps: %w", err)
	}

	gaps := make([]session.Gap, 0, len(out.Gaps))
	for _, g := range out.Gaps {
		cat := session.GapCategory(g.Category)
		if !isKnownCategory(cat) {
			continue
		}
		gaps = append(gaps, session.Gap{
			Category: cat, Description: g.Description, Priority: session.Priority(g.Priority),
			ImpactSummary: g.ImpactSummary, OptionHints: g.OptionHints,
		})
	}

	next := sess.WithGaps(gaps, now())
	if len(gaps) == 0 {
		next.Phase = session.PhaseParseAIStudioCode
	} else {
		next.Phase = session.PhaseResearchTechnologies
	}
	return next, nil
}

func isKnownCategory(c session.GapCategory) bool {
	for _, k := range allGapCategories {
		if k == c {
			return true
		}
	}
	return false
}

// --- node 5: research_technologies ---------------------------------------

func (e *Engine) nodeResearchTechnologies(ctx context.Context, sess session.Session) (session.Session, error) {
	rc := research.Context{
		ProjectType:        "web application",
		ExistingStack:      existingStack(sess),
		RequirementsDigest: digest(sess.PRDText),
	}
	results, err := e.researcher.ResearchAll(ctx, sess.Gaps, rc)
	if err != nil {
		return sess, fmt.Errorf("research_technologies: %w", err)
	}

	next := sess
	for _, r := range results {
		next = next.WithResearchResult(r, now())
	}
	next.Phase = session.PhasePresentOptions
	return next, nil
}

// --- node 6: present_options ----------------------------------------------

func (e *Engine) nodePresentOptions(ctx context.Context, sess session.Session) (session.Session, error) {
	if len(sess.PendingDecisions) == 0 {
		next := sess
		next.Phase = session.PhaseParseAIStudioCode
		return next, nil
	}

	category := sess.PendingDecisions[0]
	result := findResearchResult(sess, category)

	var b strings.Builder
	fmt.Fprintf(&b, "Decision needed for %s: %s\n", category, result.Summary)
	for _, opt := range result.Options {
		fmt.Fprintf(&b, "- %s: %s\n", opt.Name, opt.Description)
	}

	next := sess.AppendMessage("assistant", b.String(), now())
	next.Phase = session.PhaseWaitUserDecision
	e.emit(ctx, session.Event{SessionID: sess.ID, Kind: session.EventWaitingUserDecision, Node: string(session.PhasePresentOptions), Category: category, Options: result.Options})
	return next, nil
}

func findResearchResult(sess session.Session, category session.GapCategory) session.ResearchResult {
	for _, r := range sess.ResearchResults {
		if r.Category == category {
			return r
		}
	}
	return session.ResearchResult{Category: category}
}

// --- node 7: wait_user_decision (suspends) ---------------------------------

func (e *Engine) nodeWaitUserDecision(ctx context.Context, sess session.Session) (session.Session, error) {
	return sess.Suspend(session.PhaseWaitUserDecision, session.AwaitingDecision, 45, now()), nil
}

// --- node 8: validate_decision ----------------------------------------------

func (e *Engine) nodeValidateDecision(ctx context.Context, sess session.Session) (session.Session, error) {
	next := sess
	warnings := e.detectConflicts(next)

	if len(warnings) > 0 {
		byCategory := map[session.GapCategory][]session.DecisionWarning{}
		for _, w := range warnings {
			byCategory[w.Category] = append(byCategory[w.Category], w)
		}
		for category, ws := range byCategory {
			next = next.WithDecisionWarnings(category, ws)
		}
		next.Phase = session.PhaseWarnUser
		return next, nil
	}

	if len(next.PendingDecisions) > 0 {
		next.Phase = session.PhasePresentOptions
	} else {
		next.Phase = session.PhaseParseAIStudioCode
	}
	return next, nil
}


// --- node 9: warn_user (suspends) --------------------------------------------

func (e *Engine) nodeWarnUser(ctx context.Context, sess session.Session) (session.Session, error) {
	next := sess.Suspend(session.PhaseWarnUser, session.AwaitingWarning, 50, now())
	for _, w := range sess.DecisionWarnings {
		e.emit(ctx, session.Event{SessionID: sess.ID, Kind: session.EventWarning, Node: string(session.PhaseWarnUser), Severity: w.Severity, Detail: w.ConflictExplanation})
	}
	return next, nil
}

// --- node 10: parse_ai_studio_code -------------------------------------------

func (e *Engine) nodeParseCode(ctx context.Context, sess session.Session) (session.Session, error) {
	var model *session.CodeModel
	if sess.ArchivePath != "" && e.parseCode != nil {
		model = e.parseCode(sess.ArchivePath)
	}
	next := sess.WithCodeModel(model, now())
	next.Phase = session.PhaseInferAPISpec
	return next, nil
}

// --- node 11: infer_api_spec --------------------------------------------------

func (e *Engine) nodeInferAPISpec(ctx context.Context, sess session.Session) (session.Session, error) {
	model := e.inferrer.Infer(ctx, sess.CodeModel, buildHintText(sess))
	next := sess.WithAPIModel(&model, now())
	next.Phase = session.PhaseGenerateTRD
	return next, nil
}

// --- node 12: generate_trd ----------------------------------------------------

func (e *Engine) nodeGenerateTRD(ctx context.Context, sess session.Session) (session.Session, error) {
	text, err := e.trdGen.Generate(ctx, &sess)
	if err != nil {
		return sess, fmt.Errorf("generate_trd: %w", err)
	}
	next := sess.WithTRD(text, now())
	next.Phase = session.PhaseValidateTRD
	return next, nil
}

// --- node 13: validate_trd -----------------------------------------------------

func (e *Engine) nodeValidateTRD(ctx context.Context, sess session.Session) (session.Session, error) {
	report, err := e.validate.Validate(ctx, &sess)
	if err != nil {
		return sess, fmt.Errorf("validate_trd: %w", err)
	}
	next := sess.WithValidation(report, now())

	if e.validate.Passed(report) || next.TRDIteration >= e.cfg.MaxTRDIterations {
		next.Phase = session.PhaseGenerateAPISpec
	} else {
		next.Phase = session.PhaseGenerateTRD
	}
	return next, nil
}

// --- node 14: generate_api_spec ------------------------------------------------

func (e *Engine) nodeGenerateAPISpec(ctx context.Context, sess session.Session) (session.Session, error) {
	text, err := e.openAPI.Generate(ctx, &sess)
	if err != nil {
		return sess, fmt.Errorf("generate_api_spec: %w", err)
	}
	next := sess.WithOpenAPI(text, now())
	next.Phase = session.PhaseGenerateDBSchema
	return next, nil
}

// --- node 15: generate_db_schema ------------------------------------------------

func (e *Engine) nodeGenerateDBSchema(ctx context.Context, sess session.Session) (session.Session, error) {
	schema, err := e.sqlGen.Generate(ctx, &sess)
	if err != nil {
		return sess, fmt.Errorf("generate_db_schema: %w", err)
	}
	next := sess.WithSQLSchema(schema, now())
	next.Phase = session.PhaseGenerateArchitecture
	return next, nil
}

// --- node 16: generate_architecture ---------------------------------------------

func (e *Engine) nodeGenerateArchitecture(ctx context.Context, sess session.Session) (session.Session, error) {
	text, err := e.archGen.Generate(ctx, &sess)
	next := sess.WithArchitecture(text, now())
	if err != nil {
		// A fallback diagram is still a complete artifact (§4.1 "persistent
		// error in a non-critical generator: substitute a deterministic
		// fallback template, record the error, continue").
		next = next.WithError(string(KindLLMMalformed), string(session.PhaseGenerateArchitecture), err.Error(), now())
	}
	next.Phase = session.PhaseGenerateTechStackDoc
	return next, nil
}

// --- node 17: generate_tech_stack_doc --------------------------------------------

func (e *Engine) nodeGenerateTechStackDoc(ctx context.Context, sess session.Session) (session.Session, error) {
	text, err := e.techGen.Generate(ctx, &sess)
	if err != nil {
		return sess, fmt.Errorf("generate_tech_stack_doc: %w", err)
	}
	next := sess.WithTechStackDoc(text, now())
	next.Phase = session.PhaseSaveToDB
	return next, nil
}

// --- node 18: save_to_db -----------------------------------------------------------

func (e *Engine) nodeSaveToDB(ctx context.Context, sess session.Session) (session.Session, error) {
	var schema session.SQLSchema
	if sess.SQLSchema != nil {
		schema = *sess.SQLSchema
	}
	var report session.ValidationReport
	if sess.LastValidation != nil {
		report = *sess.LastValidation
	}

	version, err := e.persistence.SaveArtifacts(ctx, sess.ID, persistence.Artifacts{
		TRD: sess.TRD, OpenAPIText: sess.OpenAPIText, SQLSchema: schema,
		ArchitectureDiagram: sess.ArchitectureDiagram, TechStackDoc: sess.TechStackDoc, Validation: report,
	})
	if err != nil {
		return sess, fmt.Errorf("save_to_db: %w", err)
	}
	next := sess.WithVersion(version, now())
	next.Phase = session.PhaseNotifyNextAgent
	return next, nil
}

// --- node 19: notify_next_agent -----------------------------------------------------

func (e *Engine) nodeNotifyNextAgent(ctx context.Context, sess session.Session) (session.Session, error) {
	next := sess.Complete(now())
	e.emit(ctx, session.Event{
		SessionID: sess.ID, Kind: session.EventWorkflowCompleted, Node: string(session.PhaseNotifyNextAgent),
		Data: map[string]any{"session_id": sess.ID, "version": sess.Version},
	})
	return next, nil
}

// --- helpers -----------------------------------------------------------------------

func now() time.Time { return time.Now().UTC() }

func buildHintText(sess session.Session) string {
	var b strings.Builder
	b.WriteString(sess.PRDText)
	for name, content := range sess.DesignDocs {
		fmt.Fprintf(&b, "\n\n--- %s ---\n%s", name, content)
	}
	return b.String()
}

func existingStack(sess session.Session) []string {
	stack := make([]string, 0, len(sess.SelectedTech))
	for _, d := range sess.SelectedTech {
		stack = append(stack, d.Option)
	}
	return stack
}

func digest(text string) string {
	if len(text) > 120 {
		return text[:120]
	}
	return text
}

// conflictingPairs is a small static incompatibility table used by
// detectConflicts: each entry names two hint substrings that cannot both
// appear among selected technologies (§8 scenario 4's serverless vs.
// long-running background-job example).
var conflictingPairs = [][2]string{
	{"serverless", "background job"},
	{"serverless", "long-running worker"},
}

// detectConflicts checks every selected technology against every other
// for known incompatibilities. The returned warning's Category names the
// earlier, conflicting selection so a "reselect" resolution knows which
// decision to retract.
func (e *Engine) detectConflicts(sess session.Session) []session.DecisionWarning {
	var warnings []session.DecisionWarning
	for category, decision := range sess.SelectedTech {
		for otherCategory, other := range sess.SelectedTech {
			if otherCategory == category {
				continue
			}
			if conflicts(decision.Option, other.Option) {
				// Only the later decision of a pair raises the warning, so it
				// names the earlier one; equal times fall back to category order.
				if other.DecidedAt.After(decision.DecidedAt) ||
					(other.DecidedAt.Equal(decision.DecidedAt) && otherCategory > category) {
					continue
				}
				if sess.GapConflictCounts[otherCategory] >= e.cfg.MaxConflictRetries {
					continue
				}
				warnings = append(warnings, session.DecisionWarning{
					Category:            otherCategory,
					SelectedOption:      other.Option,
					ConflictExplanation: fmt.Sprintf("%s (%s) conflicts with %s (%s)", decision.Option, category, other.Option, otherCategory),
					Severity:            session.SeverityCritical,
					SuggestedRemedy:     fmt.Sprintf("reselect a technology for %s", otherCategory),
				})
			}
		}
	}
	return warnings
}

func conflicts(a, b string) bool {
	la, lb := strings.ToLower(a), strings.ToLower(b)
	for _, pair := range conflictingPairs {
		if (strings.Contains(la, pair[0]) && strings.Contains(lb, pair[1])) ||
			(strings.Contains(la, pair[1]) && strings.Contains(lb, pair[0])) {
			return true
		}
	}
	return false
}
