// Package cache implements the Cache component (§4.4 of SPEC_FULL.md):
// keyed, TTL'd memoization of research, code-parsing, and API-inference
// results. Misses are transparent; failures degrade to always-miss and
// never fail the workflow.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is the narrow interface the rest of the engine depends on.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
}

// Stats counts hit/miss per operation, consumed by the Validator's
// cost-tracking metrics (§4.4).
type Stats struct {
	Hits   int64
	Misses int64
}

// RedisCache is the Redis-backed implementation.
type RedisCache struct {
	client *redis.Client
	logger *slog.Logger
	stats  Stats
}

// New constructs a RedisCache. A nil client makes every Get report a miss
// and every Set a no-op; this is how the `cache.enabled` configuration
// option (§6) is implemented.
func New(client *redis.Client, logger *slog.Logger) *RedisCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisCache{client: client, logger: logger}
}

// Get returns the cached value and true on a hit. Any Redis error
// (including a plain miss) is reported as (nil, false); the caller always
// treats this the same as "compute it".
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	if c.client == nil {
		c.stats.Misses++
		return nil, false
	}
	val, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.WarnContext(ctx, "cache: degraded to miss", "key", key, "error", err)
		}
		c.stats.Misses++
		return nil, false
	}
	c.stats.Hits++
	return val, true
}

// Set stores value under key with the given TTL. Errors are logged and
// swallowed (§4.4: "cache failures never fail the workflow").
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if c.client == nil {
		return
	}
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		c.logger.WarnContext(ctx, "cache: set failed, degraded", "key", key, "error", err)
	}
}

// Stats returns a snapshot of hit/miss counters.
func (c *RedisCache) Stats() Stats {
	return c.stats
}

// TechResearchKey builds the technology-research cache key (§4.4).
func TechResearchKey(category string, projectType string, existingStack []string, requirementsDigest string) string {
	return fmt.Sprintf("tech_research:%s:%s", category, hashParts(projectType, joinSorted(existingStack), requirementsDigest))
}

// CodeAnalysisKey builds the code-analysis cache key (§4.4).
func CodeAnalysisKey(archiveSHA256 string) string {
	return fmt.Sprintf("code_analysis:%s", archiveSHA256)
}

// APIInferenceKey builds the API-inference cache key (§4.4).
func APIInferenceKey(componentListSHA256 string) string {
	return fmt.Sprintf("api_inference:%s", componentListSHA256)
}

func hashParts(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// joinSorted normalises an unordered stack list into a deterministic key
// component so that {A, B} and {B, A} hash identically (§8: "every cached
// hit for identical (category, context) returns bitwise-equal content").
func joinSorted(items []string) string {
	sorted := append([]string(nil), items...)
	sort.Strings(sorted)
	out := make([]byte, 0, 64)
	for i, it := range sorted {
		if i > 0 {
			out = append(out, ',')
		}
		out = append(out, it...)
	}
	return string(out)
}
