// Package llmgw implements the LLM Gateway (§4.6 of SPEC_FULL.md): a
// uniform call interface over the underlying model provider, with typed
// retriable errors and per-call cost/latency metrics.
package llmgw

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"golang.org/x/time/rate"
)

// ErrorKind is the subset of §7's taxonomy that the LLM Gateway itself
// raises.
type ErrorKind string

const (
	ErrKindRateLimited     ErrorKind = "llm_rate_limited"
	ErrKindTimeout         ErrorKind = "llm_timeout"
	ErrKindMalformedOutput ErrorKind = "llm_malformed_output"
	ErrKindBudgetExceeded  ErrorKind = "llm_budget_exceeded"
)

// Error wraps a gateway failure with its taxonomy kind and retriability.
type Error struct {
	Kind      ErrorKind
	Retriable bool
	Err       error
}

func (e *Error) Error() string { return fmt.Sprintf("llmgw: %s: %v", e.Kind, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// Prompt carries a structured call: system/user text plus an optional
// JSON Schema the caller wants the response constrained to.
type Prompt struct {
	System      string
	User        string
	SchemaName  string
	Schema      any
	Temperature *float64
	MaxTokens   int
	Model       string
}

// Completion is the uniform result shape (§4.6).
type Completion struct {
	Text        string
	TokensIn    int
	TokensOut   int
	CostUSD     float64
	Latency     time.Duration
}

// Gateway is the LLM Gateway's narrow interface.
type Gateway interface {
	// Complete issues one call and returns raw text.
	Complete(ctx context.Context, p Prompt) (Completion, error)
	// CompleteStructured issues one schema-constrained call and decodes the
	// response into result.
	CompleteStructured(ctx context.Context, p Prompt, result any) (Completion, error)
}

// costPerThousandTokens is a per-model estimate used only to populate
// Completion.CostUSD; callers that need exact billing should read it from
// their own provider dashboard.
var costPerThousandTokens = map[string]float64{
	"gpt-4o-mini": 0.00015,
	"gpt-4o":      0.0025,
}

type gateway struct {
	client      openai.Client
	model       string
	limiter     *rate.Limiter
	logger      *slog.Logger
}

// Config configures the OpenAI-backed Gateway implementation.
type Config struct {
	APIKey             string
	BaseURL            string
	Model              string
	RateLimitPerSecond float64
	RateLimitBurst     int
}

// New constructs the OpenAI-backed Gateway.
func New(cfg Config, logger *slog.Logger) (Gateway, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llmgw: API key is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}

	rps := cfg.RateLimitPerSecond
	if rps <= 0 {
		rps = 5
	}
	burst := cfg.RateLimitBurst
	if burst <= 0 {
		burst = 5
	}

	return &gateway{
		client:  openai.NewClient(opts...),
		model:   model,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		logger:  logger,
	}, nil
}

func (g *gateway) Complete(ctx context.Context, p Prompt) (Completion, error) {
	var out struct {
		Text string `json:"text"`
	}
	// Plain completions are modelled as a degenerate schema with one field,
	// so the transport path (and its error classification) is identical to
	// CompleteStructured regardless of whether the caller wants structure.
	p.Schema = genericTextSchema()
	p.SchemaName = "plain_text_response"
	c, err := g.completeInto(ctx, p, &out)
	if err != nil {
		return c, err
	}
	c.Text = out.Text
	return c, nil
}

func (g *gateway) CompleteStructured(ctx context.Context, p Prompt, result any) (Completion, error) {
	return g.completeInto(ctx, p, result)
}

func (g *gateway) completeInto(ctx context.Context, p Prompt, result any) (Completion, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return Completion{}, &Error{Kind: ErrKindRateLimited, Retriable: true, Err: err}
	}

	model := p.Model
	if model == "" {
		model = g.model
	}
	maxTokens := p.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	params := openai.ChatCompletionNewParams{
		Model: model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(p.System),
			openai.UserMessage(p.User),
		},
		MaxTokens: openai.Int(int64(maxTokens)),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:        p.SchemaName,
					Description: openai.String("structured response schema"),
					Schema:      p.Schema,
					Strict:      openai.Bool(true),
				},
			},
		},
	}
	if p.Temperature != nil {
		params.Temperature = openai.Float(*p.Temperature)
	}

	start := time.Now()
	resp, err := g.client.Chat.Completions.New(ctx, params)
	latency := time.Since(start)
	if err != nil {
		return Completion{Latency: latency}, classifyError(ctx, g.logger, err)
	}
	if len(resp.Choices) == 0 {
		return Completion{Latency: latency}, &Error{Kind: ErrKindMalformedOutput, Retriable: true, Err: fmt.Errorf("no choices in response")}
	}

	content := resp.Choices[0].Message.Content
	if err := json.Unmarshal([]byte(content), result); err != nil {
		return Completion{Latency: latency}, &Error{Kind: ErrKindMalformedOutput, Retriable: true, Err: fmt.Errorf("decode response: %w", err)}
	}

	tokensIn := int(resp.Usage.PromptTokens)
	tokensOut := int(resp.Usage.CompletionTokens)
	cost := estimateCost(model, tokensIn, tokensOut)

	g.logger.DebugContext(ctx, "llmgw: completion",
		"model", model, "latency_ms", latency.Milliseconds(),
		"tokens_in", tokensIn, "tokens_out", tokensOut, "cost_usd", cost)

	return Completion{
		Text:      content,
		TokensIn:  tokensIn,
		TokensOut: tokensOut,
		CostUSD:   cost,
		Latency:   latency,
	}, nil
}

func estimateCost(model string, tokensIn, tokensOut int) float64 {
	rate, ok := costPerThousandTokens[model]
	if !ok {
		rate = costPerThousandTokens["gpt-4o-mini"]
	}
	return rate * float64(tokensIn+tokensOut) / 1000.0
}

// classifyError maps an OpenAI client error onto the §7 taxonomy, grounded
// on the teacher's IsRetryable status-code switch.
func classifyError(ctx context.Context, logger *slog.Logger, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: ErrKindTimeout, Retriable: true, Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return &Error{Kind: ErrKindTimeout, Retriable: false, Err: err}
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 429:
			logger.WarnContext(ctx, "llmgw: rate limited", "status_code", apiErr.StatusCode)
			return &Error{Kind: ErrKindRateLimited, Retriable: true, Err: err}
		case apiErr.StatusCode >= 500:
			logger.WarnContext(ctx, "llmgw: server error, retrying", "status_code", apiErr.StatusCode)
			return &Error{Kind: ErrKindTimeout, Retriable: true, Err: err}
		default:
			logger.ErrorContext(ctx, "llmgw: client error, not retryable", "status_code", apiErr.StatusCode)
			return &Error{Kind: ErrKindMalformedOutput, Retriable: false, Err: err}
		}
	}

	return &Error{Kind: ErrKindTimeout, Retriable: true, Err: err}
}

// GenerateSchema reflects a Go type into a JSON Schema for structured LLM
// calls, grounded on the teacher's common/llm GenerateSchema[T]().
func GenerateSchema[T any]() any {
	reflector := jsonschema.Reflector{AllowAdditionalProperties: false, DoNotReference: true}
	var v T
	return reflector.Reflect(v)
}

func genericTextSchema() any {
	return GenerateSchema[struct {
		Text string `json:"text"`
	}]()
}

// Temp is a small helper for building an explicit temperature pointer
// (nil means "model default").
func Temp(t float64) *float64 { return &t }
