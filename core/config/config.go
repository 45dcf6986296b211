// Package config loads process configuration from the environment once at
// startup and exposes it as an immutable value.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// LLM holds the LLM Gateway's per-call defaults.
type LLM struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
}

// Search holds the Search Gateway's quality/cost trade-off knobs.
type Search struct {
	Endpoint   string
	APIKey     string
	Depth      int
	MaxResults int
}

// Cache holds the per-domain TTLs and the global enable switch.
type Cache struct {
	Enabled     bool
	ResearchTTL time.Duration
	CodeTTL     time.Duration
	APITTL      time.Duration
}

// Workflow holds the workflow engine's tunables.
type Workflow struct {
	MaxTRDIterations      int
	TRDPassThreshold      int
	CompletenessThreshold int
	IdleTimeout           time.Duration
}

// Research holds the Technology Researcher's fan-out bound.
type Research struct {
	Parallelism int
}

// Postgres holds the checkpoint store / persistence adapter's pool settings.
type Postgres struct {
	DSN      string
	MaxConns int32
	MinConns int32
}

// Redis holds the cache and broadcaster's connection settings.
type Redis struct {
	Addr     string
	Password string
	DB       int
}

// Telemetry holds logging/tracing export settings.
type Telemetry struct {
	OTLPEndpoint string
	Enabled      bool
}

// Config holds all process configuration, read once and treated as
// immutable thereafter (see design note in SPEC_FULL.md "Global state").
type Config struct {
	Env       string
	LLM       LLM
	Search    Search
	Cache     Cache
	Workflow  Workflow
	Research  Research
	Postgres  Postgres
	Redis     Redis
	Telemetry Telemetry
}

// knownWorkflowKeys is the closed set of recognised workflow.* options
// (§6 of SPEC_FULL.md). Any TRDFORGE_WORKFLOW_* env var outside this set
// is rejected at startup.
var knownWorkflowKeys = map[string]bool{
	"TRDFORGE_WORKFLOW_MAX_TRD_ITERATIONS":      true,
	"TRDFORGE_WORKFLOW_TRD_PASS_THRESHOLD":      true,
	"TRDFORGE_WORKFLOW_COMPLETENESS_THRESHOLD":  true,
	"TRDFORGE_WORKFLOW_IDLE_TIMEOUT_SECONDS":    true,
}

// Load loads configuration from environment variables, providing sensible
// defaults for development. It returns an error if an unrecognised
// TRDFORGE_WORKFLOW_* variable is set.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("config: loading .env: %w", err)
	}

	if err := rejectUnknownWorkflowKeys(); err != nil {
		return Config{}, err
	}

	return Config{
		Env: getEnv("TRDFORGE_ENV", "development"),
		LLM: LLM{
			APIKey:      getEnv("TRDFORGE_LLM_API_KEY", ""),
			BaseURL:     getEnv("TRDFORGE_LLM_BASE_URL", ""),
			Model:       getEnv("TRDFORGE_LLM_MODEL", "gpt-4o-mini"),
			Temperature: getEnvFloat("TRDFORGE_LLM_TEMPERATURE", 0.2),
			MaxTokens:   getEnvInt("TRDFORGE_LLM_MAX_TOKENS", 4096),
		},
		Search: Search{
			Endpoint:   getEnv("TRDFORGE_SEARCH_ENDPOINT", ""),
			APIKey:     getEnv("TRDFORGE_SEARCH_API_KEY", ""),
			Depth:      getEnvInt("TRDFORGE_SEARCH_DEPTH", 2),
			MaxResults: getEnvInt("TRDFORGE_SEARCH_MAX_RESULTS", 8),
		},
		Cache: Cache{
			Enabled:     getEnvBool("TRDFORGE_CACHE_ENABLED", true),
			ResearchTTL: getEnvDuration("TRDFORGE_CACHE_RESEARCH_TTL", 24*time.Hour),
			CodeTTL:     getEnvDuration("TRDFORGE_CACHE_CODE_TTL", time.Hour),
			APITTL:      getEnvDuration("TRDFORGE_CACHE_API_TTL", 2*time.Hour),
		},
		Workflow: Workflow{
			MaxTRDIterations:      getEnvInt("TRDFORGE_WORKFLOW_MAX_TRD_ITERATIONS", 3),
			TRDPassThreshold:      getEnvInt("TRDFORGE_WORKFLOW_TRD_PASS_THRESHOLD", 90),
			CompletenessThreshold: getEnvInt("TRDFORGE_WORKFLOW_COMPLETENESS_THRESHOLD", 80),
			IdleTimeout:           getEnvDuration("TRDFORGE_WORKFLOW_IDLE_TIMEOUT_SECONDS", time.Hour),
		},
		Research: Research{
			Parallelism: getEnvInt("TRDFORGE_RESEARCH_PARALLELISM", 3),
		},
		Postgres: Postgres{
			DSN:      buildDSN(),
			MaxConns: int32(getEnvInt("TRDFORGE_DB_MAX_CONNS", 10)),
			MinConns: int32(getEnvInt("TRDFORGE_DB_MIN_CONNS", 2)),
		},
		Redis: Redis{
			Addr:     getEnv("TRDFORGE_REDIS_ADDR", "localhost:6379"),
			Password: getEnv("TRDFORGE_REDIS_PASSWORD", ""),
			DB:       getEnvInt("TRDFORGE_REDIS_DB", 0),
		},
		Telemetry: Telemetry{
			OTLPEndpoint: getEnv("TRDFORGE_OTLP_ENDPOINT", ""),
			Enabled:      getEnvBool("TRDFORGE_TELEMETRY_ENABLED", false),
		},
	}, nil
}

func rejectUnknownWorkflowKeys() error {
	for _, kv := range os.Environ() {
		key, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(key, "TRDFORGE_WORKFLOW_") && !knownWorkflowKeys[key] {
			return fmt.Errorf("config: unrecognised option %q", key)
		}
	}
	return nil
}

func buildDSN() string {
	host := getEnv("TRDFORGE_DATABASE_HOST", "localhost")
	port := getEnv("TRDFORGE_DATABASE_PORT", "5432")
	user := getEnv("TRDFORGE_DATABASE_USER", "postgres")
	password := getEnv("TRDFORGE_DATABASE_PASSWORD", "postgres")
	name := getEnv("TRDFORGE_DATABASE_NAME", "trdforge")
	sslMode := getEnv("TRDFORGE_DATABASE_SSLMODE", "disable")

	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		user, password, host, port, name, sslMode,
	)
}

// IsProduction returns true if running in the production environment.
func (c Config) IsProduction() bool {
	return c.Env == "production"
}

// IsDevelopment returns true if running in the development environment.
func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
