package validator

import (
	"context"
	"errors"
	"testing"

	"github.com/basegraph-labs/trdforge/internal/llmgw"
	"github.com/basegraph-labs/trdforge/internal/session"
)

type stubLLM struct {
	score float64
}

func (s stubLLM) Complete(ctx context.Context, p llmgw.Prompt) (llmgw.Completion, error) {
	return llmgw.Completion{}, errors.New("not implemented")
}

func (s stubLLM) CompleteStructured(ctx context.Context, p llmgw.Prompt, result any) (llmgw.Completion, error) {
	out, ok := result.(*struct {
		Score    float64  `json:"score"`
		Notes    string   `json:"notes"`
		Findings []string `json:"findings"`
	})
	_ = ok
	_ = out
	return llmgw.Completion{}, errors.New("unused in these tests")
}

func emptyTRD() string {
	return "## Project Overview\nshort\n"
}

func TestFastFailSkipsReviewersBelowThreshold(t *testing.T) {
	v := New(nil, Config{})
	s := &session.Session{TRD: emptyTRD()}
	report, err := v.Validate(context.Background(), s)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(report.ReviewerScores) != 0 {
		t.Fatalf("expected fast-fail to skip reviewers, got %d scores", len(report.ReviewerScores))
	}
	if report.Structural >= fastFailThreshold {
		t.Fatalf("expected structural score below fast-fail threshold, got %f", report.Structural)
	}
}

func TestForcePassAfterMaxIterations(t *testing.T) {
	v := New(nil, Config{MaxIterations: 1})
	s := &session.Session{TRD: emptyTRD(), TRDIteration: 1}
	report, err := v.Validate(context.Background(), s)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !report.ForcedPass {
		t.Fatalf("expected forced pass at max iterations")
	}
	if !v.Passed(report) {
		t.Fatalf("expected Passed() true when ForcedPass is set")
	}
}

func TestPassedUsesTheValidatorsOwnConfiguredThreshold(t *testing.T) {
	v := New(nil, Config{PassThreshold: 80})
	report := session.ValidationReport{Overall: 85}
	if !v.Passed(report) {
		t.Fatalf("expected Passed() true: 85 clears the configured threshold of 80")
	}

	def := New(nil, Config{})
	if def.Passed(report) {
		t.Fatalf("expected Passed() false against the default 90 threshold for an unrelated Validator instance")
	}
}

func TestMissingSectionsProduceCriticalFindings(t *testing.T) {
	v := New(nil, Config{})
	s := &session.Session{TRD: "## Project Overview\nonly one section present\n"}
	report, _ := v.Validate(context.Background(), s)
	found := false
	for _, f := range report.Findings {
		if f.Severity == session.SeverityCritical {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected at least one critical finding for missing sections")
	}
}
