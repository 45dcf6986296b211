package session

import "time"

// clone performs a shallow copy of s and deep-copies the maps/slices that
// mutators below touch, so that the returned Session shares no mutable
// substructure with its predecessor.
func (s Session) clone() Session {
	next := s
	next.DesignDocs = cloneMap(s.DesignDocs)
	next.SelectedTech = make(map[GapCategory]Decision, len(s.SelectedTech))
	for k, v := range s.SelectedTech {
		next.SelectedTech[k] = v
	}
	next.GapConflictCounts = make(map[GapCategory]int, len(s.GapConflictCounts))
	for k, v := range s.GapConflictCounts {
		next.GapConflictCounts[k] = v
	}
	next.MissingElements = append([]string(nil), s.MissingElements...)
	next.AmbiguousElements = append([]string(nil), s.AmbiguousElements...)
	next.ClarificationQs = append([]string(nil), s.ClarificationQs...)
	next.Gaps = append([]Gap(nil), s.Gaps...)
	next.ResearchResults = append([]ResearchResult(nil), s.ResearchResults...)
	next.PendingDecisions = append([]GapCategory(nil), s.PendingDecisions...)
	next.DecisionWarnings = append([]DecisionWarning(nil), s.DecisionWarnings...)
	next.Errors = append([]ErrorEntry(nil), s.Errors...)
	next.Conversation = append([]ConversationEntry(nil), s.Conversation...)
	return next
}

func cloneMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// WithInputs records the loaded PRD/design docs/archive path (node 1).
func (s Session) WithInputs(prd string, designDocs map[string]string, archivePath string, now time.Time) Session {
	next := s.clone()
	next.PRDText = prd
	next.DesignDocs = cloneMap(designDocs)
	next.ArchivePath = archivePath
	next.Phase = PhaseAnalyzeCompleteness
	next.UpdatedAt = now
	return next.withProgress(5)
}

// WithCompleteness records the completeness score and missing/ambiguous
// lists (node 2). Progress never decreases within a run except on resume,
// so this never lowers ProgressPercentage.
func (s Session) WithCompleteness(score int, missing, ambiguous []string, now time.Time) Session {
	next := s.clone()
	next.CompletenessScore = score
	next.MissingElements = append([]string(nil), missing...)
	next.AmbiguousElements = append([]string(nil), ambiguous...)
	next.UpdatedAt = now
	return next.withProgress(10)
}

// Suspend marks the session paused awaiting an external event, per the
// suspension contract (§4.1, §9): state is persisted before the caller
// awaits input.
func (s Session) Suspend(phase Phase, awaiting AwaitingPredicate, progress int, now time.Time) Session {
	next := s.clone()
	next.Phase = phase
	next.Paused = true
	next.Awaiting = awaiting
	next.UpdatedAt = now
	return next.withProgress(progress)
}

// Resume clears the suspension flags. The caller is responsible for then
// applying the specific resuming event (clarification answers, a decision,
// or a warning resolution) via the other mutators.
func (s Session) Resume(now time.Time) Session {
	next := s.clone()
	next.Paused = false
	next.Awaiting = AwaitingNone
	next.UpdatedAt = now
	return next
}

// WithClarificationQuestions records the clarification questions emitted by
// node 3 before suspending.
func (s Session) WithClarificationQuestions(qs []string) Session {
	next := s.clone()
	next.ClarificationQs = append([]string(nil), qs...)
	return next
}

// WithClarificationAnswers appends the answers to the transcript; the
// caller re-enters analyze_completeness afterward.
func (s Session) WithClarificationAnswers(answers []string, now time.Time) Session {
	next := s.clone()
	for _, a := range answers {
		next.Conversation = append(next.Conversation, ConversationEntry{Role: "user", Text: a, Timestamp: now})
	}
	next.Phase = PhaseAnalyzeCompleteness
	next.UpdatedAt = now
	return next
}

// WithGaps sets the identified technology gaps and initialises
// PendingDecisions to exactly the gap category set (§8 invariant: "After
// identify_tech_gaps, pending_decisions equals the set of gap categories").
func (s Session) WithGaps(gaps []Gap, now time.Time) Session {
	next := s.clone()
	next.Gaps = append([]Gap(nil), gaps...)
	pending := make([]GapCategory, 0, len(gaps))
	for _, g := range gaps {
		pending = append(pending, g.Category)
	}
	next.PendingDecisions = pending
	next.UpdatedAt = now
	return next.withProgress(25)
}

// WithResearchResult appends or replaces a research result for a category.
func (s Session) WithResearchResult(r ResearchResult, now time.Time) Session {
	next := s.clone()
	replaced := false
	for i, existing := range next.ResearchResults {
		if existing.Category == r.Category {
			next.ResearchResults[i] = r
			replaced = true
			break
		}
	}
	if !replaced {
		next.ResearchResults = append(next.ResearchResults, r)
	}
	next.UpdatedAt = now
	return next
}

// WithDecision records the user's decision for a gap category, maintaining
// the invariant that every selected-technology entry has a matching
// research-result category (enforced by the caller before invoking this).
func (s Session) WithDecision(d Decision) Session {
	next := s.clone()
	next.SelectedTech[d.Category] = d
	next.PendingDecisions = removeCategory(next.PendingDecisions, d.Category)
	return next
}

// RetractDecision undoes a decision for a category (conflict → reselect
// path, §8 scenario 4): the category returns to PendingDecisions and the
// retracted choice is gone from SelectedTech.
func (s Session) RetractDecision(category GapCategory) Session {
	next := s.clone()
	delete(next.SelectedTech, category)
	if !containsCategory(next.PendingDecisions, category) {
		next.PendingDecisions = append(next.PendingDecisions, category)
	}
	return next
}

// WithDecisionWarnings records conflicts found by validate_decision (node
// 8) and increments the per-gap conflict counter (invariant: never exceeds
// 3).
func (s Session) WithDecisionWarnings(category GapCategory, warnings []DecisionWarning) Session {
	next := s.clone()
	next.DecisionWarnings = append(next.DecisionWarnings, warnings...)
	next.GapConflictCounts[category]++
	return next
}

// WithCodeModel records the Code Parser's output (node 10); nil is valid
// (missing/malformed archive, §4.8 edge case).
func (s Session) WithCodeModel(m *CodeModel, now time.Time) Session {
	next := s.clone()
	next.CodeModel = m
	next.UpdatedAt = now
	return next.withProgress(55)
}

// WithAPIModel records the API Inferrer's output (node 11).
func (s Session) WithAPIModel(m *APIModel, now time.Time) Session {
	next := s.clone()
	next.APIModel = m
	next.UpdatedAt = now
	return next.withProgress(65)
}

// WithTRD records a TRD draft and bumps the iteration counter (node 12).
func (s Session) WithTRD(text string, now time.Time) Session {
	next := s.clone()
	next.TRD = text
	next.TRDIteration++
	next.UpdatedAt = now
	return next.withProgress(70)
}

// WithValidation records the Validator's report for the TRD (node 13).
func (s Session) WithValidation(report ValidationReport, now time.Time) Session {
	next := s.clone()
	report.Iteration = next.TRDIteration
	next.LastValidation = &report
	next.UpdatedAt = now
	return next
}

// WithOpenAPI records the generated OpenAPI document (node 14).
func (s Session) WithOpenAPI(text string, now time.Time) Session {
	next := s.clone()
	next.OpenAPIText = text
	next.UpdatedAt = now
	return next.withProgress(80)
}

// WithSQLSchema records the generated DDL + ERD (node 15).
func (s Session) WithSQLSchema(schema SQLSchema, now time.Time) Session {
	next := s.clone()
	next.SQLSchema = &schema
	next.UpdatedAt = now
	return next.withProgress(85)
}

// WithArchitecture records the generated architecture diagram (node 16).
func (s Session) WithArchitecture(text string, now time.Time) Session {
	next := s.clone()
	next.ArchitectureDiagram = text
	next.UpdatedAt = now
	return next.withProgress(90)
}

// WithTechStackDoc records the generated tech-stack document (node 17).
func (s Session) WithTechStackDoc(text string, now time.Time) Session {
	next := s.clone()
	next.TechStackDoc = text
	next.UpdatedAt = now
	return next.withProgress(95)
}

// WithVersion records the persisted version (node 18).
func (s Session) WithVersion(version int64, now time.Time) Session {
	next := s.clone()
	next.Version = version
	next.UpdatedAt = now
	return next.withProgress(98)
}

// Complete transitions the session to the completed terminal phase (node
// 19).
func (s Session) Complete(now time.Time) Session {
	next := s.clone()
	next.Phase = PhaseCompleted
	next.UpdatedAt = now
	return next.withProgress(100)
}

// Fail transitions the session to the failed terminal phase with the
// triggering error as the terminal reason (§7 Propagation).
func (s Session) Fail(kind, node, message string, now time.Time) Session {
	next := s.clone()
	next.Errors = append(next.Errors, ErrorEntry{Kind: kind, Node: node, Message: message, Timestamp: now})
	next.Phase = PhaseFailed
	next.TerminalReason = kind
	next.UpdatedAt = now
	return next
}

// Cancel transitions the session to the cancelled terminal phase (§5
// Cancellation: takes effect at the next checkpoint boundary).
func (s Session) Cancel(now time.Time) Session {
	next := s.clone()
	next.Phase = PhaseCancelled
	next.TerminalReason = "cancelled"
	next.UpdatedAt = now
	return next
}

// WithError appends a non-fatal error entry without changing phase (§7).
func (s Session) WithError(kind, node, message string, now time.Time) Session {
	next := s.clone()
	next.Errors = append(next.Errors, ErrorEntry{Kind: kind, Node: node, Message: message, Timestamp: now})
	next.UpdatedAt = now
	return next
}

// AppendMessage appends one transcript entry (e.g. present_options
// rendering a gap, or an agent_message broadcast payload).
func (s Session) AppendMessage(role, text string, now time.Time) Session {
	next := s.clone()
	next.Conversation = append(next.Conversation, ConversationEntry{Role: role, Text: text, Timestamp: now})
	next.UpdatedAt = now
	return next
}

// withProgress advances ProgressPercentage monotonically (§3 invariant);
// it never lowers the value.
func (s Session) withProgress(pct int) Session {
	if pct > s.ProgressPercentage {
		s.ProgressPercentage = pct
	}
	return s
}

// JumpProgress sets ProgressPercentage directly, used only on resume from a
// checkpoint where a jump is explicitly permitted by the invariant.
func (s Session) JumpProgress(pct int) Session {
	s.ProgressPercentage = pct
	return s
}

func removeCategory(list []GapCategory, category GapCategory) []GapCategory {
	out := make([]GapCategory, 0, len(list))
	for _, c := range list {
		if c != category {
			out = append(out, c)
		}
	}
	return out
}

func containsCategory(list []GapCategory, category GapCategory) bool {
	for _, c := range list {
		if c == category {
			return true
		}
	}
	return false
}
