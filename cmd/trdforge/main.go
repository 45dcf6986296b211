package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/basegraph-labs/trdforge/core/config"
	"github.com/basegraph-labs/trdforge/core/db"
	"github.com/basegraph-labs/trdforge/internal/apiinfer"
	"github.com/basegraph-labs/trdforge/internal/broadcast"
	"github.com/basegraph-labs/trdforge/internal/cache"
	"github.com/basegraph-labs/trdforge/internal/checkpoint"
	"github.com/basegraph-labs/trdforge/internal/codeparser"
	"github.com/basegraph-labs/trdforge/internal/engine"
	"github.com/basegraph-labs/trdforge/internal/gen"
	"github.com/basegraph-labs/trdforge/internal/llmgw"
	"github.com/basegraph-labs/trdforge/internal/persistence"
	"github.com/basegraph-labs/trdforge/internal/research"
	"github.com/basegraph-labs/trdforge/internal/searchgw"
	"github.com/basegraph-labs/trdforge/internal/session"
	"github.com/basegraph-labs/trdforge/internal/telemetry"
	"github.com/basegraph-labs/trdforge/internal/validator"
	"github.com/redis/go-redis/v9"
)

func main() {
	fmt.Printf("%s\n", banner)
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	// OTel must init before logger (logger uses OTel provider in production)
	tel, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}
	telemetry.SetupLogger(cfg)

	if tel != nil {
		slog.InfoContext(ctx, "otel initialized", "endpoint", cfg.Telemetry.OTLPEndpoint)
	} else {
		slog.InfoContext(ctx, "otel disabled (telemetry not enabled)")
	}

	slog.InfoContext(ctx, "trdforge starting", "env", cfg.Env)
	if err := session.InitIDGen(1); err != nil {
		slog.ErrorContext(ctx, "failed to initialize snowflake id generator", "error", err)
		os.Exit(1)
	}

	database, err := db.New(ctx, db.Config{DSN: cfg.Postgres.DSN, MaxConns: cfg.Postgres.MaxConns, MinConns: cfg.Postgres.MinConns})
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close()
	slog.InfoContext(ctx, "database connected")

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
		os.Exit(1)
	}
	slog.InfoContext(ctx, "redis connected", "addr", cfg.Redis.Addr)
	defer redisClient.Close()

	llmGateway, err := llmgw.New(llmgw.Config{
		APIKey: cfg.LLM.APIKey, BaseURL: cfg.LLM.BaseURL, Model: cfg.LLM.Model,
	}, slog.Default())
	if err != nil {
		slog.ErrorContext(ctx, "failed to initialize llm gateway", "error", err)
		os.Exit(1)
	}

	searchGateway := searchgw.New(searchgw.Config{
		Endpoint: cfg.Search.Endpoint, APIKey: cfg.Search.APIKey,
	})

	cacheClient := redisClient
	if !cfg.Cache.Enabled {
		cacheClient = nil
	}
	var workflowCache cache.Cache = cache.New(cacheClient, slog.Default())

	checkpoints := checkpoint.New(database)
	broadcaster := broadcast.New(redisClient, slog.Default())
	persistenceAdapter := persistence.New(database)
	researcher := research.New(workflowCache, searchGateway, llmGateway, cfg.Cache.ResearchTTL, cfg.Research.Parallelism)
	inferrer := apiinfer.New(workflowCache, cfg.Cache.APITTL)

	trdGen := gen.NewTRD(llmGateway)
	openAPIGen := gen.NewOpenAPI(llmGateway)
	sqlGen := gen.NewSQL(llmGateway)
	archGen := gen.NewArchitecture(llmGateway)
	techGen := gen.NewTechStack(llmGateway)

	trdValidator := validator.New(llmGateway, validator.Config{
		PassThreshold: float64(cfg.Workflow.TRDPassThreshold),
		MaxIterations: cfg.Workflow.MaxTRDIterations,
	})

	eng := engine.New(engine.Config{
		CompletenessThreshold: cfg.Workflow.CompletenessThreshold,
		TRDPassThreshold:      float64(cfg.Workflow.TRDPassThreshold),
		MaxTRDIterations:      cfg.Workflow.MaxTRDIterations,
		MaxConflictRetries:    3,
		IdleTimeout:           cfg.Workflow.IdleTimeout,
		NodeMaxRetries:        3,
		NodeBackoffBase:       200 * time.Millisecond,
	}, engine.Deps{
		Checkpoints:  checkpoints,
		Broadcaster:  broadcaster,
		Cache:        workflowCache,
		Persistence:  persistenceAdapter,
		LLM:          llmGateway,
		Researcher:   researcher,
		Inferrer:     inferrer,
		TRD:          trdGen,
		OpenAPI:      openAPIGen,
		SQL:          sqlGen,
		Architecture: archGen,
		TechStack:    techGen,
		Validator:    trdValidator,
		ParseCode:    codeparser.Parse,
		Logger:       slog.Default(),
	})

	slog.InfoContext(ctx, "engine wired", "workflow_max_trd_iterations", cfg.Workflow.MaxTRDIterations)

	// The engine's façade (Start, Status, SubmitDecision, ...) is the whole
	// external surface of this process; no HTTP/gin router is in scope
	// here (§1 "Out of scope").
	_ = eng

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := tel.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
	}

	slog.InfoContext(shutdownCtx, "shutdown complete")
}

const banner = `
████████╗██████╗ ██████╗ ███████╗ ██████╗ ██████╗  ██████╗ ███████╗
╚══██╔══╝██╔══██╗██╔══██╗██╔════╝██╔═══██╗██╔══██╗██╔════╝ ██╔════╝
   ██║   ██████╔╝██║  ██║█████╗  ██║   ██║██████╔╝██║  ███╗█████╗
   ██║   ██╔══██╗██║  ██║██╔══╝  ██║   ██║██╔══██╗██║   ██║██╔══╝
   ██║   ██║  ██║██████╔╝██║     ╚██████╔╝██║  ██║╚██████╔╝███████╗
   ╚═╝   ╚═╝  ╚═╝╚═════╝ ╚═╝      ╚═════╝ ╚═╝  ╚═╝ ╚═════╝ ╚══════╝
`
