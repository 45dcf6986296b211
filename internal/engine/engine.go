// Package engine implements the Workflow Engine (§4.1 of SPEC_FULL.md):
// the 19-node table, five routing predicates, the dispatch loop, the
// suspension contract for nodes 3/7/9, and the narrow façade-mirroring
// Go API (Start, Status, SubmitDecision, SubmitClarifications,
// SubmitWarningResolution, Cancel, FetchOutputs).
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/basegraph-labs/trdforge/internal/apiinfer"
	"github.com/basegraph-labs/trdforge/internal/broadcast"
	"github.com/basegraph-labs/trdforge/internal/cache"
	"github.com/basegraph-labs/trdforge/internal/checkpoint"
	"github.com/basegraph-labs/trdforge/internal/gen"
	"github.com/basegraph-labs/trdforge/internal/llmgw"
	"github.com/basegraph-labs/trdforge/internal/persistence"
	"github.com/basegraph-labs/trdforge/internal/research"
	"github.com/basegraph-labs/trdforge/internal/session"
	"github.com/basegraph-labs/trdforge/internal/validator"
)

// Config tunes the thresholds and loop bounds the spec leaves
// configurable (§6 "Configuration").
type Config struct {
	CompletenessThreshold int
	TRDPassThreshold      float64
	MaxTRDIterations      int
	MaxConflictRetries    int
	IdleTimeout           time.Duration
	NodeMaxRetries        int
	NodeBackoffBase       time.Duration
}

// DefaultConfig returns the spec's documented defaults (§6).
func DefaultConfig() Config {
	return Config{
		CompletenessThreshold: 80,
		TRDPassThreshold:      90,
		MaxTRDIterations:      3,
		MaxConflictRetries:    3,
		IdleTimeout:           time.Hour,
		NodeMaxRetries:        3,
		NodeBackoffBase:       200 * time.Millisecond,
	}
}

// Engine wires every component into the node dispatch loop.
type Engine struct {
	cfg Config

	checkpoints *checkpoint.Store
	broadcaster *broadcast.Broadcaster
	cache       cache.Cache
	persistence *persistence.Adapter
	llm         llmgw.Gateway
	researcher  *research.Researcher
	inferrer    *apiinfer.Inferrer

	trdGen  *gen.TRDGenerator
	openAPI *gen.OpenAPIGenerator
	sqlGen  *gen.SQLGenerator
	archGen *gen.ArchitectureGenerator
	techGen *gen.TechStackGenerator

	validate *validator.Validator

	parseCode func(path string) *session.CodeModel

	logger *slog.Logger
}

// Deps bundles the collaborators New requires.
type Deps struct {
	Checkpoints  *checkpoint.Store
	Broadcaster  *broadcast.Broadcaster
	Cache        cache.Cache
	Persistence  *persistence.Adapter
	LLM          llmgw.Gateway
	Researcher   *research.Researcher
	Inferrer     *apiinfer.Inferrer
	TRD          *gen.TRDGenerator
	OpenAPI      *gen.OpenAPIGenerator
	SQL          *gen.SQLGenerator
	Architecture *gen.ArchitectureGenerator
	TechStack    *gen.TechStackGenerator
	Validator    *validator.Validator
	ParseCode    func(path string) *session.CodeModel
	Logger       *slog.Logger
}

// New constructs the Engine from its collaborators.
func New(cfg Config, d Deps) *Engine {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:         cfg,
		checkpoints: d.Checkpoints,
		broadcaster: d.Broadcaster,
		cache:       d.Cache,
		persistence: d.Persistence,
		llm:         d.LLM,
		researcher:  d.Researcher,
		inferrer:    d.Inferrer,
		trdGen:      d.TRD,
		openAPI:     d.OpenAPI,
		sqlGen:      d.SQL,
		archGen:     d.Architecture,
		techGen:     d.TechStack,
		validate:    d.Validator,
		parseCode:   d.ParseCode,
		logger:      logger,
	}
}

func (e *Engine) emit(ctx context.Context, ev session.Event) {
	if e.broadcaster == nil {
		return
	}
	ev.Timestamp = time.Now().UTC()
	e.broadcaster.Publish(ctx, ev)
}

func (e *Engine) checkpoint(ctx context.Context, sess session.Session) error {
	if e.checkpoints == nil {
		return nil
	}
	if _, err := e.checkpoints.Save(ctx, sess.ID, sess); err != nil {
		return &nodeError{Kind: KindCheckpointFailure, Retriable: true, Fatal: true, Err: err}
	}
	return nil
}
