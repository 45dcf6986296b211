package engine

import (
	"context"
	"fmt"
	"strconv"

	"github.com/basegraph-labs/trdforge/internal/session"
)

// Status is the external view of a session returned by Status.
type Status struct {
	SessionID  string
	Phase      session.Phase
	Percentage int
	Awaiting   session.AwaitingPredicate
	Errors     []session.ErrorEntry
}

// Outputs bundles the five completed artifacts returned by FetchOutputs.
type Outputs struct {
	TRD                 string
	OpenAPIText         string
	SQLSchema           session.SQLSchema
	ArchitectureDiagram string
	TechStackDoc        string
	Validation          session.ValidationReport
	Version             int64
}

var errNoCheckpointStore = fmt.Errorf("engine: no checkpoint store configured")

// Start creates a new session and runs it until it suspends, completes, or
// fails (§6 "Start").
func (e *Engine) Start(ctx context.Context, projectID, userID, designJobID string) (string, error) {
	id := strconv.FormatInt(session.NewID(), 10)
	sess := session.New(id, projectID, userID, designJobID, now())

	if err := e.checkpoint(ctx, sess); err != nil {
		return "", err
	}
	e.emit(ctx, session.Event{SessionID: sess.ID, Kind: session.EventWorkflowStarted, Node: string(sess.Phase)})

	final, err := e.run(ctx, sess)
	if err != nil {
		return sess.ID, err
	}
	return final.ID, nil
}

// Status reports a session's current phase, progress, and any pending
// suspension (§6 "Status").
func (e *Engine) Status(ctx context.Context, sessionID string) (Status, error) {
	sess, err := e.load(ctx, sessionID)
	if err != nil {
		return Status{}, err
	}

	if idle, reason := e.idleTimedOut(sess); idle {
		sess = sess.Fail(string(KindIdleTimeout), string(sess.Phase), reason, now())
		if err := e.checkpoint(ctx, sess); err != nil {
			return Status{}, err
		}
		e.emit(ctx, session.Event{SessionID: sess.ID, Kind: session.EventWorkflowFailed, Node: string(sess.Phase), Reason: reason})
	}

	return Status{
		SessionID: sess.ID, Phase: sess.Phase, Percentage: sess.ProgressPercentage,
		Awaiting: sess.Awaiting, Errors: sess.Errors,
	}, nil
}

// SubmitClarifications resumes a session paused at ask_user_clarification
// with the requester's answers, then re-enters the dispatch loop.
func (e *Engine) SubmitClarifications(ctx context.Context, sessionID string, answers []string) error {
	sess, err := e.loadAwaiting(ctx, sessionID, session.AwaitingClarification)
	if err != nil {
		return err
	}
	sess = sess.Resume(now()).WithClarificationAnswers(answers, now())
	_, err = e.run(ctx, sess)
	return err
}

// SubmitDecision resumes a session paused at wait_user_decision with the
// requester's chosen option, then re-enters the dispatch loop at
// validate_decision (§4.1 node 7 -> node 8).
func (e *Engine) SubmitDecision(ctx context.Context, sessionID string, category session.GapCategory, option, rationale string) error {
	sess, err := e.loadAwaiting(ctx, sessionID, session.AwaitingDecision)
	if err != nil {
		return err
	}
	researched := false
	for _, r := range sess.ResearchResults {
		if r.Category == category {
			researched = true
			break
		}
	}
	if !researched {
		return fmt.Errorf("engine: no research result for category %q in session %s", category, sessionID)
	}
	sess = sess.Resume(now()).WithDecision(session.Decision{
		Category: category, Option: option, Rationale: rationale, DecidedAt: now(),
	})
	sess.Phase = session.PhaseValidateDecision
	_, err = e.run(ctx, sess)
	return err
}

// SubmitWarningResolution resumes a session paused at warn_user. "reselect"
// retracts the prior conflicting decision and routes back to
// present_options for that category; "proceed" keeps both decisions and
// routes by whether any categories remain pending (§4.1 node 9, §8
// scenario 4).
func (e *Engine) SubmitWarningResolution(ctx context.Context, sessionID string, resolution session.WarningResolution) error {
	sess, err := e.loadAwaiting(ctx, sessionID, session.AwaitingWarning)
	if err != nil {
		return err
	}
	sess = sess.Resume(now())

	switch resolution {
	case session.ResolutionReselect:
		if len(sess.DecisionWarnings) == 0 {
			return fmt.Errorf("engine: no decision warnings pending for session %s", sessionID)
		}
		category := sess.DecisionWarnings[0].Category
		sess = sess.RetractDecision(category)
		sess.DecisionWarnings = nil
		sess.Phase = session.PhasePresentOptions
	case session.ResolutionProceed:
		sess.DecisionWarnings = nil
		if len(sess.PendingDecisions) > 0 {
			sess.Phase = session.PhasePresentOptions
		} else {
			sess.Phase = session.PhaseParseAIStudioCode
		}
	default:
		return fmt.Errorf("engine: unknown warning resolution %q", resolution)
	}

	_, err = e.run(ctx, sess)
	return err
}

// Cancel marks a session cancelled; it takes effect at the next checkpoint
// boundary rather than interrupting an in-flight node (§5 Cancellation).
func (e *Engine) Cancel(ctx context.Context, sessionID string) error {
	sess, err := e.load(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.Phase.Terminal() {
		return nil
	}
	sess = sess.Cancel(now())
	return e.checkpoint(ctx, sess)
}

// FetchOutputs returns the completed artifacts for a session. Callers
// should first confirm Phase == session.PhaseCompleted via Status.
func (e *Engine) FetchOutputs(ctx context.Context, sessionID string) (Outputs, error) {
	sess, err := e.load(ctx, sessionID)
	if err != nil {
		return Outputs{}, err
	}

	out := Outputs{
		TRD: sess.TRD, OpenAPIText: sess.OpenAPIText, ArchitectureDiagram: sess.ArchitectureDiagram,
		TechStackDoc: sess.TechStackDoc, Version: sess.Version,
	}
	if sess.SQLSchema != nil {
		out.SQLSchema = *sess.SQLSchema
	}
	if sess.LastValidation != nil {
		out.Validation = *sess.LastValidation
	}
	return out, nil
}

func (e *Engine) load(ctx context.Context, sessionID string) (session.Session, error) {
	if e.checkpoints == nil {
		return session.Session{}, errNoCheckpointStore
	}
	cp, err := e.checkpoints.Load(ctx, sessionID)
	if err != nil {
		return session.Session{}, fmt.Errorf("engine: load session %s: %w", sessionID, err)
	}
	return cp.Session, nil
}

// loadAwaiting loads a session and verifies it is paused awaiting the
// expected predicate, so a resuming event can never be misapplied to the
// wrong suspension point.
func (e *Engine) loadAwaiting(ctx context.Context, sessionID string, want session.AwaitingPredicate) (session.Session, error) {
	sess, err := e.load(ctx, sessionID)
	if err != nil {
		return session.Session{}, err
	}
	if !sess.Paused || sess.Awaiting != want {
		return session.Session{}, fmt.Errorf("engine: session %s is not awaiting %s (paused=%v awaiting=%s)", sessionID, want, sess.Paused, sess.Awaiting)
	}
	if idle, reason := e.idleTimedOut(sess); idle {
		failed := sess.Fail(string(KindIdleTimeout), string(sess.Phase), reason, now())
		_ = e.checkpoint(ctx, failed)
		return session.Session{}, fmt.Errorf("engine: session %s timed out: %s", sessionID, reason)
	}
	return sess, nil
}
