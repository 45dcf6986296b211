// Package apiinfer implements the API Inferrer (§4.9 of SPEC_FULL.md):
// merges the Code Parser's call list with PRD/design-doc hints into a
// canonical, deduplicated endpoint list, cached by component-list hash.
package apiinfer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/basegraph-labs/trdforge/internal/cache"
	"github.com/basegraph-labs/trdforge/internal/session"
)

// Inferrer merges parsed calls with textual hints into the canonical
// endpoint list.
type Inferrer struct {
	cache cache.Cache
	ttl   time.Duration
}

// New constructs an Inferrer backed by c, caching results for ttl.
func New(c cache.Cache, ttl time.Duration) *Inferrer {
	return &Inferrer{cache: c, ttl: ttl}
}

// entityMentionRe spots capitalised nouns immediately followed by
// "entity"/"resource"/"model" in PRD/design text, a cheap heuristic for
// "entities mentioned" hinting (§4.9).
var entityMentionRe = regexp.MustCompile(`\b([A-Z][a-zA-Z]+)\s+(?:entity|resource|model)\b`)

// Infer merges code into the PRD/design hint text and returns the
// canonical endpoint list, using the cache when enabled.
func (inf *Inferrer) Infer(ctx context.Context, code *session.CodeModel, hintText string) session.APIModel {
	key := cache.APIInferenceKey(componentListHash(code))

	if inf.cache != nil {
		if cached, hit := inf.cache.Get(ctx, key); hit {
			var model session.APIModel
			if json.Unmarshal(cached, &model) == nil {
				return model
			}
		}
	}

	endpoints := fromParsedCalls(code)
	endpoints = append(endpoints, fromHints(hintText, endpoints)...)
	endpoints = dedupe(endpoints)

	model := session.APIModel{Endpoints: endpoints}
	if inf.cache != nil {
		if payload, err := json.Marshal(model); err == nil {
			inf.cache.Set(ctx, key, payload, inf.ttl)
		}
	}
	return model
}

func fromParsedCalls(code *session.CodeModel) []session.APIEndpoint {
	if code == nil {
		return nil
	}
	out := make([]session.APIEndpoint, 0, len(code.APICalls))
	for _, c := range code.APICalls {
		summary := c.EndpointPattern
		if c.IsGraphQL {
			summary = c.GraphQLOperation
		}
		out = append(out, session.APIEndpoint{
			Method:         c.Method,
			Path:           c.EndpointPattern,
			Summary:        summary,
			RequestSchema:  firstNonEmpty(c.BodyShape, "unknown"),
			ResponseSchema: firstNonEmpty(c.ResponseShapeHint, "unknown"),
			AuthRequired:   true,
		})
	}
	return out
}

// fromHints produces a minimal CRUD endpoint set for every entity mentioned
// in PRD/design text that the parsed calls didn't already cover, so the
// inferred model still reflects documented entities even with no uploaded
// code archive.
func fromHints(text string, existing []session.APIEndpoint) []session.APIEndpoint {
	covered := map[string]bool{}
	for _, e := range existing {
		covered[strings.ToLower(e.Path)] = true
	}

	var out []session.APIEndpoint
	seen := map[string]bool{}
	for _, m := range entityMentionRe.FindAllStringSubmatch(text, -1) {
		entity := strings.ToLower(m[1])
		if seen[entity] {
			continue
		}
		seen[entity] = true
		path := "/" + entity + "s"
		if covered[path] {
			continue
		}
		out = append(out,
			session.APIEndpoint{Method: "GET", Path: path, Summary: "List " + entity + "s", RequestSchema: "unknown", ResponseSchema: "unknown", AuthRequired: true},
			session.APIEndpoint{Method: "POST", Path: path, Summary: "Create " + entity, RequestSchema: "unknown", ResponseSchema: "unknown", AuthRequired: true},
		)
	}
	return out
}

// dedupe collapses endpoints sharing (method, path), keeping the first
// occurrence's richer fields where available.
func dedupe(endpoints []session.APIEndpoint) []session.APIEndpoint {
	type key struct{ method, path string }
	index := map[key]int{}
	var out []session.APIEndpoint
	for _, e := range endpoints {
		k := key{strings.ToUpper(e.Method), e.Path}
		if idx, ok := index[k]; ok {
			if out[idx].RequestSchema == "unknown" && e.RequestSchema != "unknown" {
				out[idx].RequestSchema = e.RequestSchema
			}
			if out[idx].ResponseSchema == "unknown" && e.ResponseSchema != "unknown" {
				out[idx].ResponseSchema = e.ResponseSchema
			}
			continue
		}
		index[k] = len(out)
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		return out[i].Method < out[j].Method
	})
	return out
}

func componentListHash(code *session.CodeModel) string {
	h := sha256.New()
	if code != nil {
		names := make([]string, 0, len(code.Components))
		for _, c := range code.Components {
			names = append(names, c.Name)
		}
		sort.Strings(names)
		for _, n := range names {
			h.Write([]byte(n))
			h.Write([]byte{0})
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
