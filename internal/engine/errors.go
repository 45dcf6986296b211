package engine

import (
	"errors"
	"fmt"

	"github.com/basegraph-labs/trdforge/internal/llmgw"
	"github.com/basegraph-labs/trdforge/internal/persistence"
	"github.com/basegraph-labs/trdforge/internal/searchgw"
)

// Kind is the closed §7 error taxonomy.
type Kind string

const (
	KindUpstreamIncomplete Kind = "upstream_incomplete"
	KindInputMissing       Kind = "input_missing"
	KindLLMRateLimited     Kind = "llm_rate_limited"
	KindLLMTimeout         Kind = "llm_timeout"
	KindLLMMalformed       Kind = "llm_malformed_output"
	KindSearchFailed       Kind = "search_failed"
	KindCacheUnavailable   Kind = "cache_unavailable"
	KindParseError         Kind = "parse_error"
	KindCheckpointFailure  Kind = "checkpoint_failure"
	KindPersistenceFailure Kind = "persistence_failure"
	KindCancelled          Kind = "cancelled"
	KindIdleTimeout        Kind = "idle_timeout"
)

// nodeError is a node-level error classified against the §7 taxonomy.
type nodeError struct {
	Kind      Kind
	Retriable bool
	Fatal     bool
	Err       error
}

func (e *nodeError) Error() string { return fmt.Sprintf("engine: %s: %v", e.Kind, e.Err) }
func (e *nodeError) Unwrap() error { return e.Err }

// classify maps an error returned from a node body onto the §7 taxonomy.
// Gateway errors carry their own Kind/Retriable; everything else is
// classified by sentinel or defaults to a retriable but fatal error, so an
// unrecognised failure is retried within the node's budget and then ends
// the session instead of looping forever.
func classify(err error) *nodeError {
	if err == nil {
		return nil
	}

	var ne *nodeError
	if errors.As(err, &ne) {
		return ne
	}

	var llmErr *llmgw.Error
	if errors.As(err, &llmErr) {
		switch llmErr.Kind {
		case llmgw.ErrKindRateLimited:
			return &nodeError{Kind: KindLLMRateLimited, Retriable: true, Err: err}
		case llmgw.ErrKindTimeout:
			return &nodeError{Kind: KindLLMTimeout, Retriable: true, Err: err}
		case llmgw.ErrKindMalformedOutput:
			return &nodeError{Kind: KindLLMMalformed, Retriable: true, Err: err}
		default:
			return &nodeError{Kind: KindLLMMalformed, Retriable: false, Err: err}
		}
	}

	var searchErr *searchgw.Error
	if errors.As(err, &searchErr) {
		return &nodeError{Kind: KindSearchFailed, Retriable: searchErr.Retriable, Err: err}
	}

	if errors.Is(err, persistence.ErrUpstreamIncomplete) {
		return &nodeError{Kind: KindUpstreamIncomplete, Retriable: false, Fatal: true, Err: err}
	}

	// Unrecognised failures default to persistence_failure: retriable up to
	// the node's retry budget, but fatal if that budget is exhausted (§7).
	return &nodeError{Kind: KindPersistenceFailure, Retriable: true, Fatal: true, Err: err}
}
