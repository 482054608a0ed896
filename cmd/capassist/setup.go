package main

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"

	"github.com/sandevgo/capassist/internal/config"
	"github.com/sandevgo/capassist/internal/core"
	"github.com/sandevgo/capassist/internal/metrics"
	"github.com/sandevgo/capassist/internal/providers/llm"
	"github.com/sandevgo/capassist/internal/providers/search"
	"github.com/sandevgo/capassist/internal/service/memory"
	"github.com/sandevgo/capassist/internal/service/reasoning"
	"github.com/sandevgo/capassist/internal/service/response"
	"github.com/sandevgo/capassist/internal/service/retrieval"
	"github.com/sandevgo/capassist/internal/service/verify"
	"github.com/sandevgo/capassist/internal/storage/memcache"
	"github.com/sandevgo/capassist/internal/storage/redis"
	"github.com/sandevgo/capassist/internal/storage/sqlite"
	"github.com/sandevgo/capassist/pkg/log"
	"github.com/sandevgo/capassist/pkg/srv"
)

// App is the wired assistant. Services holds the background workers and
// cleanups in start order.
type App struct {
	Generator *response.Generator
	Memory    *memory.Store
	Services  []srv.Service
}

func NewApp(ctx context.Context) *App {
	logger := log.FromCtx(ctx)
	services := make([]srv.Service, 0)

	// init env
	err := initEnv(ctx, config.GetRuntimePath())
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init env")
	}

	// 1. Configuration
	appCfg := config.NewAppConfig(ctx)
	memCfg := config.NewMemoryConfig(ctx)
	retrievalCfg := config.NewRetrievalConfig(ctx)
	reasoningCfg := config.NewReasoningConfig(ctx)
	responseCfg := config.NewResponseConfig(ctx)
	llmCfg := config.NewLLMConfig(ctx)

	// 2. Telemetry
	tp := log.NewTracerProvider(ctx)
	otel.SetTracerProvider(tp)
	services = append(services, srv.NewCleanup("tracing", func() error {
		return tp.Shutdown(context.WithoutCancel(ctx))
	}))

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	if appCfg.MetricsAddr != "" {
		services = append(services, newMetricsServer(appCfg.MetricsAddr, reg))
	}

	// 3. Domain data
	if err := os.MkdirAll(appCfg.GetRuntimePath(), 0o755); err != nil {
		logger.Fatal().Err(err).Msg("failed to create runtime directory")
	}
	db, err := sqlite.NewDB(ctx, appCfg.GetDatabasePath())
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize storage")
	}
	services = append(services, srv.NewCleanup("sqlite", db.Close))
	dataServices := sqlite.Services(db)

	index, err := initSearch(ctx, appCfg, db)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize search index")
	}
	services = append(services, srv.NewCleanup("search", index.Close))

	// 4. Working memory
	backend, err := initBackend(ctx, memCfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize memory backend")
	}
	store := memory.NewStore(backend, memCfg, memory.WithMetrics(m))
	services = append(services, srv.NewCleanup("memory", store.Close))
	services = append(services, memory.NewSweeper(store, memCfg.SweepInterval))

	// 5. AI Provider
	provider, err := llm.NewProvider(ctx, llmCfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize LLM provider")
	}
	assistant := llm.NewAssistant(provider, llmCfg.Retries)

	// 6. Core services
	retriever := retrieval.NewRetriever(retrievalCfg, store, dataServices, index, retrieval.WithMetrics(m))
	verifier := verify.NewVerifier(assistant, verify.WithRetries(llmCfg.Retries), verify.WithMetrics(m))

	opts := []response.Option{response.WithMetrics(m)}
	if reasoningCfg.Enabled {
		engine := reasoning.NewEngine(
			reasoningCfg,
			assistant,
			store,
			retriever,
			verifier,
			dataServices,
			reasoning.WithMetrics(m),
			reasoning.WithChunking(
				retrievalCfg.MaxItemsPerChunk,
				retrievalCfg.MaxTokensPerChunk,
				retrieval.NewTokenCounter(retrievalCfg.Tokenizer),
			),
		)
		opts = append(opts, response.WithReasoner(engine))
	}

	generator, err := response.NewGenerator(responseCfg, assistant, store, opts...)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize response generator")
	}

	return &App{
		Generator: generator,
		Memory:    store,
		Services:  services,
	}
}

func initBackend(ctx context.Context, cfg *config.MemoryConfig) (memory.Backend, error) {
	if cfg.Backend == config.BackendRedis {
		return redis.New(ctx, cfg.RedisURL, "capassist")
	}
	return memcache.New(), nil
}

// initSearch builds the similarity index from the notes table and the
// optional documents file.
func initSearch(ctx context.Context, cfg *config.AppConfig, db *sql.DB) (*search.Index, error) {
	logger := log.FromCtx(ctx)

	index, err := search.NewIndex()
	if err != nil {
		return nil, err
	}

	if cfg.IndexNotes {
		notes, err := sqlite.Notes(ctx, db)
		if err != nil {
			return nil, err
		}
		bySource := map[string][]core.Record{}
		for _, n := range notes {
			src, _ := n["source"].(string)
			bySource[src] = append(bySource[src], n)
		}
		for src, records := range bySource {
			if err := index.AddRecords(src, "content", records); err != nil {
				return nil, err
			}
		}
	}

	if cfg.DocumentsFile != "" {
		n, err := index.LoadFile(cfg.DocumentsFile)
		if err != nil {
			return nil, err
		}
		logger.Debug().Int("documents", n).Str("path", cfg.DocumentsFile).Msg("indexed documents file")
	}

	count, _ := index.DocCount()
	logger.Debug().Uint64("documents", count).Msg("search index ready")
	return index, nil
}

func initEnv(ctx context.Context, runtimePath string) error {
	logger := log.FromCtx(ctx)
	envFile := filepath.Join(runtimePath, ".env")

	if _, err := os.Stat(envFile); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	if err := godotenv.Load(envFile); err != nil {
		logger.Warn().Err(err).Str("path", envFile).Msg("failed to load .env file")
		return err
	}

	logger.Debug().Str("path", envFile).Msg("loaded .env file")
	return nil
}
