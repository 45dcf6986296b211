package engine

import (
	"context"
	"fmt"
	"math/rand"
	"runtime/debug"
	"time"

	"github.com/basegraph-labs/trdforge/internal/session"
)

// nodeFunc is the shape every node implementation shares.
type nodeFunc func(ctx context.Context, sess session.Session) (session.Session, error)

// nodeTable maps each non-terminal phase to its implementation. Built once
// per Engine rather than as a package-level map so each entry closes over
// the receiver.
func (e *Engine) nodeTable() map[session.Phase]nodeFunc {
	return map[session.Phase]nodeFunc{
		session.PhaseLoadInputs:           e.nodeLoadInputs,
		session.PhaseAnalyzeCompleteness:  e.nodeAnalyzeCompleteness,
		session.PhaseAskClarification:     e.nodeAskClarification,
		session.PhaseIdentifyTechGaps:     e.nodeIdentifyTechGaps,
		session.PhaseResearchTechnologies: e.nodeResearchTechnologies,
		session.PhasePresentOptions:       e.nodePresentOptions,
		session.PhaseWaitUserDecision:     e.nodeWaitUserDecision,
		session.PhaseValidateDecision:     e.nodeValidateDecision,
		session.PhaseWarnUser:             e.nodeWarnUser,
		session.PhaseParseAIStudioCode:    e.nodeParseCode,
		session.PhaseInferAPISpec:         e.nodeInferAPISpec,
		session.PhaseGenerateTRD:          e.nodeGenerateTRD,
		session.PhaseValidateTRD:          e.nodeValidateTRD,
		session.PhaseGenerateAPISpec:      e.nodeGenerateAPISpec,
		session.PhaseGenerateDBSchema:     e.nodeGenerateDBSchema,
		session.PhaseGenerateArchitecture: e.nodeGenerateArchitecture,
		session.PhaseGenerateTechStackDoc: e.nodeGenerateTechStackDoc,
		session.PhaseSaveToDB:             e.nodeSaveToDB,
		session.PhaseNotifyNextAgent:      e.nodeNotifyNextAgent,
	}
}

// run drives sess through the node table until it terminates, suspends, or
// fails. It always returns the last successfully-checkpointed Session, so
// the caller (facade) can report the outcome even on a fatal error.
func (e *Engine) run(ctx context.Context, sess session.Session) (session.Session, error) {
	table := e.nodeTable()

	for !sess.Phase.Terminal() && !sess.Paused {
		fn, ok := table[sess.Phase]
		if !ok {
			sess = sess.Fail(string(KindPersistenceFailure), string(sess.Phase), "no node registered for phase", now())
			_ = e.checkpoint(ctx, sess)
			return sess, fmt.Errorf("engine: no node registered for phase %q", sess.Phase)
		}

		next, err := e.runNodeWithRetry(ctx, sess.Phase, fn, sess)
		if err != nil {
			ne := classify(err)
			if !ne.Fatal {
				// Non-fatal per §7 (e.g. llm_malformed_output on max-retries):
				// record the error and let the next loop iteration re-enter
				// this same phase, the same recovery nodeGenerateArchitecture
				// performs inline for its own failure path.
				sess = sess.WithError(string(ne.Kind), string(sess.Phase), ne.Error(), now())
				_ = e.checkpoint(ctx, sess)
				continue
			}
			sess = sess.Fail(string(ne.Kind), string(sess.Phase), ne.Error(), now())
			_ = e.checkpoint(ctx, sess)
			e.emit(ctx, session.Event{SessionID: sess.ID, Kind: session.EventWorkflowFailed, Node: string(sess.Phase), Reason: string(ne.Kind)})
			return sess, nil
		}

		// A Cancel recorded since the last checkpoint takes effect here, at the
		// checkpoint boundary, instead of being overwritten by this run.
		if e.checkpoints != nil {
			if cp, lerr := e.checkpoints.Load(ctx, sess.ID); lerr == nil && cp.Session.Phase == session.PhaseCancelled {
				return cp.Session, nil
			}
		}

		sess = next
		if err := e.checkpoint(ctx, sess); err != nil {
			ne := classify(err)
			sess = sess.Fail(string(ne.Kind), string(sess.Phase), ne.Error(), now())
			return sess, nil
		}
		e.emit(ctx, session.Event{SessionID: sess.ID, Kind: session.EventProgressUpdate, Node: string(sess.Phase), Percentage: sess.ProgressPercentage})
	}

	return sess, nil
}

// runNodeWithRetry executes fn, retrying classified-retriable errors with
// exponential backoff plus jitter for at most cfg.NodeMaxRetries attempts
// in total (the first call included), mirroring
// the teacher's brief-backoff-on-error loop (worker.Run) but bounded
// instead of unbounded, per §7's per-node retry budgets.
func (e *Engine) runNodeWithRetry(ctx context.Context, phase session.Phase, fn nodeFunc, sess session.Session) (result session.Session, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("engine: panic in node %s: %v\n%s", phase, r, debug.Stack())
		}
	}()

	attempts := e.cfg.NodeMaxRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		result, lastErr = fn(ctx, sess)
		if lastErr == nil {
			return result, nil
		}

		ne := classify(lastErr)
		if !ne.Retriable || attempt == attempts-1 {
			return sess, ne
		}

		backoff := e.cfg.NodeBackoffBase * time.Duration(1<<uint(attempt))
		jitter := time.Duration(rand.Int63n(int64(e.cfg.NodeBackoffBase) + 1))
		select {
		case <-ctx.Done():
			return sess, ctx.Err()
		case <-time.After(backoff + jitter):
		}
	}
	return sess, lastErr
}

// idleTimedOut reports whether a paused session has sat past its idle
// timeout without a resuming event (§7 idle_timeout: fatal, reason-tagged).
// Checked by the facade before accepting a resuming event or reporting
// status, not by run: a paused session never re-enters the dispatch loop
// on its own, so there is nothing for run to time out.
func (e *Engine) idleTimedOut(sess session.Session) (bool, string) {
	if !sess.Paused {
		return false, ""
	}
	if e.cfg.IdleTimeout <= 0 {
		return false, ""
	}
	if time.Since(sess.UpdatedAt) < e.cfg.IdleTimeout {
		return false, ""
	}
	return true, fmt.Sprintf("no resuming event within %s while awaiting %s", e.cfg.IdleTimeout, sess.Awaiting)
}
