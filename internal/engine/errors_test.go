package engine

import (
	"errors"
	"testing"

	"github.com/basegraph-labs/trdforge/internal/llmgw"
	"github.com/basegraph-labs/trdforge/internal/persistence"
	"github.com/basegraph-labs/trdforge/internal/searchgw"
)

func TestClassifyPassesThroughAlreadyClassifiedError(t *testing.T) {
	original := &nodeError{Kind: KindCacheUnavailable, Retriable: true, Err: errors.New("redis down")}
	got := classify(original)
	if got != original {
		t.Fatalf("expected classify to return the same *nodeError, got %#v", got)
	}
}

func TestClassifyMapsLLMErrorKinds(t *testing.T) {
	cases := []struct {
		kind          llmgw.ErrorKind
		wantKind      Kind
		wantRetriable bool
	}{
		{llmgw.ErrKindRateLimited, KindLLMRateLimited, true},
		{llmgw.ErrKindTimeout, KindLLMTimeout, true},
		{llmgw.ErrKindMalformedOutput, KindLLMMalformed, true},
		{llmgw.ErrKindBudgetExceeded, KindLLMMalformed, false},
	}
	for _, tc := range cases {
		err := &llmgw.Error{Kind: tc.kind, Retriable: tc.wantRetriable, Err: errors.New("boom")}
		ne := classify(err)
		if ne.Kind != tc.wantKind {
			t.Errorf("%s: expected Kind %s, got %s", tc.kind, tc.wantKind, ne.Kind)
		}
		if ne.Retriable != tc.wantRetriable {
			t.Errorf("%s: expected Retriable %v, got %v", tc.kind, tc.wantRetriable, ne.Retriable)
		}
	}
}

func TestClassifyMapsSearchError(t *testing.T) {
	err := &searchgw.Error{Retriable: true, Err: errors.New("timeout")}
	ne := classify(err)
	if ne.Kind != KindSearchFailed || !ne.Retriable {
		t.Fatalf("expected retriable search_failed, got %+v", ne)
	}
}

func TestClassifyMapsUpstreamIncomplete(t *testing.T) {
	ne := classify(persistence.ErrUpstreamIncomplete)
	if ne.Kind != KindUpstreamIncomplete || ne.Retriable || !ne.Fatal {
		t.Fatalf("expected non-retriable fatal upstream_incomplete, got %+v", ne)
	}
}

func TestClassifyDefaultsUnrecognisedErrorToRetriableFatalPersistenceFailure(t *testing.T) {
	ne := classify(errors.New("something nobody has a sentinel for"))
	if ne.Kind != KindPersistenceFailure {
		t.Fatalf("expected default Kind persistence_failure, got %s", ne.Kind)
	}
	if !ne.Retriable || !ne.Fatal {
		t.Fatalf("expected default error to be both retriable and fatal, got %+v", ne)
	}
}

func TestClassifyNilIsNil(t *testing.T) {
	if classify(nil) != nil {
		t.Fatalf("expected classify(nil) to return nil")
	}
}
