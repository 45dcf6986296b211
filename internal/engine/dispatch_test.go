package engine

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/basegraph-labs/trdforge/internal/llmgw"
	"github.com/basegraph-labs/trdforge/internal/session"
)

// flakyOnceLLM fails its first CompleteStructured call with a non-fatal,
// retriable llmgw error and succeeds afterwards, so run() has to recover a
// node from a non-fatal failure without the whole session dying.
type flakyOnceLLM struct {
	response string
	calls    int
}

func (f *flakyOnceLLM) Complete(ctx context.Context, p llmgw.Prompt) (llmgw.Completion, error) {
	return llmgw.Completion{}, errors.New("flakyOnceLLM: Complete not used by this test")
}

func (f *flakyOnceLLM) CompleteStructured(ctx context.Context, p llmgw.Prompt, result any) (llmgw.Completion, error) {
	f.calls++
	if f.calls == 1 {
		return llmgw.Completion{}, &llmgw.Error{Kind: llmgw.ErrKindMalformedOutput, Retriable: true, Err: errors.New("malformed on first attempt")}
	}
	return llmgw.Completion{Text: f.response}, json.Unmarshal([]byte(f.response), result)
}

func TestNodeTableCoversEveryNonTerminalPhase(t *testing.T) {
	e := &Engine{}
	table := e.nodeTable()

	want := []session.Phase{
		session.PhaseLoadInputs, session.PhaseAnalyzeCompleteness, session.PhaseAskClarification,
		session.PhaseIdentifyTechGaps, session.PhaseResearchTechnologies, session.PhasePresentOptions,
		session.PhaseWaitUserDecision, session.PhaseValidateDecision, session.PhaseWarnUser,
		session.PhaseParseAIStudioCode, session.PhaseInferAPISpec, session.PhaseGenerateTRD,
		session.PhaseValidateTRD, session.PhaseGenerateAPISpec, session.PhaseGenerateDBSchema,
		session.PhaseGenerateArchitecture, session.PhaseGenerateTechStackDoc, session.PhaseSaveToDB,
		session.PhaseNotifyNextAgent,
	}
	if len(table) != len(want) {
		t.Fatalf("expected %d registered phases, got %d", len(want), len(table))
	}
	for _, p := range want {
		if _, ok := table[p]; !ok {
			t.Errorf("phase %q has no registered node", p)
		}
	}
}

func TestRunNodeWithRetrySucceedsWithoutRetryingOnFirstSuccess(t *testing.T) {
	e := &Engine{cfg: Config{NodeMaxRetries: 3, NodeBackoffBase: time.Millisecond}}
	calls := 0
	fn := func(ctx context.Context, sess session.Session) (session.Session, error) {
		calls++
		sess.TRDIteration = 1
		return sess, nil
	}
	out, err := e.runNodeWithRetry(context.Background(), session.PhaseGenerateTRD, fn, session.Session{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly 1 call, got %d", calls)
	}
	if out.TRDIteration != 1 {
		t.Fatalf("expected mutated result to be returned")
	}
}

func TestRunNodeWithRetryRetriesRetriableErrorsUpToTheBudget(t *testing.T) {
	e := &Engine{cfg: Config{NodeMaxRetries: 3, NodeBackoffBase: time.Millisecond}}
	calls := 0
	fn := func(ctx context.Context, sess session.Session) (session.Session, error) {
		calls++
		return sess, &nodeError{Kind: KindLLMTimeout, Retriable: true, Err: errors.New("timeout")}
	}
	_, err := e.runNodeWithRetry(context.Background(), session.PhaseGenerateTRD, fn, session.Session{})
	if err == nil {
		t.Fatalf("expected error after exhausting retries")
	}
	if calls != 3 {
		t.Fatalf("expected exactly NodeMaxRetries=3 attempts, got %d", calls)
	}
}

func TestRunNodeWithRetryStopsImmediatelyOnNonRetriableError(t *testing.T) {
	e := &Engine{cfg: Config{NodeMaxRetries: 3, NodeBackoffBase: time.Millisecond}}
	calls := 0
	fn := func(ctx context.Context, sess session.Session) (session.Session, error) {
		calls++
		return sess, &nodeError{Kind: KindUpstreamIncomplete, Retriable: false, Err: errors.New("not ready")}
	}
	_, err := e.runNodeWithRetry(context.Background(), session.PhaseLoadInputs, fn, session.Session{})
	if err == nil {
		t.Fatalf("expected error")
	}
	if calls != 1 {
		t.Fatalf("expected a single attempt for a non-retriable error, got %d", calls)
	}
}

func TestRunNodeWithRetryRecoversFromPanic(t *testing.T) {
	e := &Engine{cfg: Config{NodeMaxRetries: 1, NodeBackoffBase: time.Millisecond}}
	fn := func(ctx context.Context, sess session.Session) (session.Session, error) {
		panic("node exploded")
	}
	_, err := e.runNodeWithRetry(context.Background(), session.PhaseGenerateTRD, fn, session.Session{})
	if err == nil {
		t.Fatalf("expected panic to surface as an error")
	}
}

func TestIdleTimedOutFalseWhenNotPaused(t *testing.T) {
	e := &Engine{cfg: Config{IdleTimeout: time.Minute}}
	sess := session.Session{Paused: false, UpdatedAt: time.Now().Add(-time.Hour)}
	if idle, _ := e.idleTimedOut(sess); idle {
		t.Fatalf("expected a non-paused session to never time out")
	}
}

func TestIdleTimedOutFalseWhenTimeoutDisabled(t *testing.T) {
	e := &Engine{cfg: Config{IdleTimeout: 0}}
	sess := session.Session{Paused: true, UpdatedAt: time.Now().Add(-365 * 24 * time.Hour)}
	if idle, _ := e.idleTimedOut(sess); idle {
		t.Fatalf("expected a zero IdleTimeout to disable the check")
	}
}

func TestIdleTimedOutTrueWhenStaleAndPaused(t *testing.T) {
	e := &Engine{cfg: Config{IdleTimeout: time.Minute}}
	sess := session.Session{Paused: true, Awaiting: session.AwaitingDecision, UpdatedAt: time.Now().Add(-2 * time.Minute)}
	idle, reason := e.idleTimedOut(sess)
	if !idle {
		t.Fatalf("expected a stale paused session to time out")
	}
	if reason == "" {
		t.Fatalf("expected a non-empty reason")
	}
}

func TestIdleTimedOutFalseWhenRecentlyUpdated(t *testing.T) {
	e := &Engine{cfg: Config{IdleTimeout: time.Hour}}
	sess := session.Session{Paused: true, UpdatedAt: time.Now()}
	if idle, _ := e.idleTimedOut(sess); idle {
		t.Fatalf("expected a freshly-updated paused session to not time out")
	}
}

// TestRunSurvivesANonFatalNodeErrorAndKeepsRouting drives run() end-to-end
// through ask_user_clarification, whose underlying LLM call fails once with
// a non-fatal, retriable llmgw error. run() must record the failure on
// session.Errors and let the next loop iteration re-enter the same phase,
// rather than transitioning the whole session to failed (the node's
// eventual success then suspends the session, which is what stops the
// loop here).
func TestRunSurvivesANonFatalNodeErrorAndKeepsRouting(t *testing.T) {
	llm := &flakyOnceLLM{response: `{"questions": ["what database?", "which auth provider?"]}`}
	e := newTestEngine(llm)
	e.cfg.NodeMaxRetries = 1
	e.cfg.NodeBackoffBase = time.Millisecond

	sess := session.Session{ID: "sess-1", Phase: session.PhaseAskClarification}
	out, err := e.run(context.Background(), sess)
	if err != nil {
		t.Fatalf("unexpected error from run(): %v", err)
	}

	if out.Phase == session.PhaseFailed {
		t.Fatalf("expected the session to survive the non-fatal error, got phase %q with errors %+v", out.Phase, out.Errors)
	}
	if !out.Paused {
		t.Fatalf("expected the session to have suspended after eventually succeeding")
	}
	if len(out.Errors) != 1 {
		t.Fatalf("expected exactly one recorded error entry, got %d: %+v", len(out.Errors), out.Errors)
	}
	if out.Errors[0].Kind != string(KindLLMMalformed) {
		t.Fatalf("expected a recorded llm_malformed_output entry, got %+v", out.Errors[0])
	}
	if out.Errors[0].Node != string(session.PhaseAskClarification) {
		t.Fatalf("expected the error to be attributed to ask_user_clarification, got %q", out.Errors[0].Node)
	}
	if llm.calls != 2 {
		t.Fatalf("expected the node to be re-entered once it failed non-fatally, got %d calls", llm.calls)
	}
}
