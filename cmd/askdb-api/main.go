package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/duckmesh/askdb/internal/agent"
	"github.com/duckmesh/askdb/internal/api"
	"github.com/duckmesh/askdb/internal/catalog"
	"github.com/duckmesh/askdb/internal/config"
	"github.com/duckmesh/askdb/internal/llm"
	"github.com/duckmesh/askdb/internal/nl2sql"
	"github.com/duckmesh/askdb/internal/observability"
	"github.com/duckmesh/askdb/internal/pipeline"
	"github.com/duckmesh/askdb/internal/query"
	duckdbengine "github.com/duckmesh/askdb/internal/query/duckdb"
	"github.com/duckmesh/askdb/internal/query/sqldb"
	"github.com/duckmesh/askdb/internal/rephrase"
	"github.com/duckmesh/askdb/internal/resolver"
	"github.com/duckmesh/askdb/internal/storage"
	s3store "github.com/duckmesh/askdb/internal/storage/s3"
)

type closableEngine interface {
	query.Engine
	Close() error
}

func main() {
	cfg, err := config.LoadFromEnv("askdb-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine, cleanup, err := openEngine(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer cleanup()

	schema, err := catalog.Load(ctx, engine, catalog.Options{SampleRows: cfg.Pipeline.SampleRows})
	if err != nil {
		logger.Error("failed to load schema catalog", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("schema catalog loaded",
		slog.String("dialect", schema.Dialect()),
		slog.Any("tables", schema.TableNames()),
	)

	model, err := llm.New(llm.Config{
		Provider:          cfg.AI.Provider,
		BaseURL:           cfg.AI.BaseURL,
		APIKey:            cfg.AI.APIKey,
		Model:             cfg.AI.Model,
		EmbeddingModel:    cfg.AI.EmbeddingModel,
		Temperature:       cfg.AI.Temperature,
		MaxTokens:         cfg.AI.MaxTokens,
		Timeout:           cfg.AI.Timeout,
		RequestsPerSecond: cfg.AI.RequestsPerSecond,
	})
	if err != nil {
		logger.Error("failed to initialize language model", slog.Any("error", err))
		os.Exit(1)
	}

	translator, err := nl2sql.NewModelTranslator(model, engine, logger)
	if err != nil {
		logger.Error("failed to initialize query translator", slog.Any("error", err))
		os.Exit(1)
	}
	rephraser, err := rephrase.New(model, logger)
	if err != nil {
		logger.Error("failed to initialize rephraser", slog.Any("error", err))
		os.Exit(1)
	}
	executor := &query.Executor{Engine: engine, RowLimit: cfg.Pipeline.RowLimit, Logger: logger}

	chain, err := pipeline.NewChain(pipeline.ChainConfig{
		Catalog:    schema,
		Translator: translator,
		Executor:   executor,
		Rephraser:  rephraser,
		RowLimit:   cfg.Pipeline.RowLimit,
		Logger:     logger,
	})
	if err != nil {
		logger.Error("failed to initialize chain pipeline", slog.Any("error", err))
		os.Exit(1)
	}

	properNouns, err := newResolver(cfg, engine, schema, model, logger)
	if err != nil {
		logger.Error("failed to initialize proper noun resolver", slog.Any("error", err))
		os.Exit(1)
	}
	agentConfig := pipeline.AgentConfig{
		Model: model,
		Toolkit: agent.Toolkit{
			Catalog:    schema,
			Translator: translator,
			Executor:   executor,
			Resolver:   properNouns,
			RowLimit:   cfg.Pipeline.RowLimit,
		},
		Loop: agent.Config{
			Dialect:           schema.Dialect(),
			MaxIterations:     cfg.Pipeline.MaxIterations,
			ObservationTokens: cfg.Pipeline.ObservationTokens,
			RowLimit:          cfg.Pipeline.RowLimit,
		},
		Logger: logger,
	}
	if cfg.Pipeline.AgentRephrase {
		agentConfig.Rephraser = rephraser
	}
	agentRunner, err := pipeline.NewAgent(agentConfig)
	if err != nil {
		logger.Error("failed to initialize agent pipeline", slog.Any("error", err))
		os.Exit(1)
	}

	handler := api.NewHandler(cfg, api.Dependencies{
		Logger:          logger,
		Catalog:         schema,
		QueryEngine:     engine,
		QueryTranslator: translator,
		Runners: map[string]pipeline.Runner{
			pipeline.ModeChain: chain,
			pipeline.ModeAgent: agentRunner,
		},
		Readiness: api.CombineReadinessChecks(
			api.CheckCatalog(schema),
			api.CheckEngine(engine),
		),
		DependencyTimeout: time.Second,
	})
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		logger.Info("starting api server",
			slog.String("addr", cfg.HTTP.Address),
			slog.String("mode", cfg.Pipeline.Mode),
			slog.String("model", model.Name()),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
	}
}

// openEngine opens the configured database read-only. A snapshot key
// replaces the DSN with a local copy of the uploaded database file.
func openEngine(ctx context.Context, cfg config.Config, logger *slog.Logger) (closableEngine, func(), error) {
	pool := sqldb.Config{
		Driver:          cfg.Database.Driver,
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		QueryTimeout:    cfg.Database.QueryTimeout,
	}

	var store storage.ObjectStore
	if cfg.Database.SnapshotKey != "" || cfg.Database.ParquetViews != "" {
		objectStore, err := s3store.New(ctx, s3store.Config{
			Endpoint:        cfg.ObjectStore.Endpoint,
			Region:          cfg.ObjectStore.Region,
			Bucket:          cfg.ObjectStore.Bucket,
			AccessKeyID:     cfg.ObjectStore.AccessKeyID,
			SecretAccessKey: cfg.ObjectStore.SecretAccessKey,
			UseSSL:          cfg.ObjectStore.UseSSL,
			Prefix:          cfg.ObjectStore.Prefix,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("initialize object store: %w", err)
		}
		store = objectStore
	}

	removeSnapshot := func() {}
	if cfg.Database.SnapshotKey != "" {
		localPath, cleanup, err := sqldb.FetchSnapshot(ctx, store, cfg.Database.SnapshotKey)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("fetched database snapshot", slog.String("key", cfg.Database.SnapshotKey))
		pool.DSN = localPath
		removeSnapshot = cleanup
	}

	var (
		engine closableEngine
		err    error
	)
	switch cfg.Database.Driver {
	case "duckdb":
		var views []duckdbengine.View
		views, err = duckdbengine.ParseViews(cfg.Database.ParquetViews)
		if err != nil {
			removeSnapshot()
			return nil, nil, err
		}
		engine, err = duckdbengine.Open(ctx, duckdbengine.Config{Path: pool.DSN, Views: views, Store: store, Pool: pool})
	default:
		engine, err = sqldb.Open(ctx, pool)
	}
	if err != nil {
		removeSnapshot()
		return nil, nil, err
	}
	return engine, func() {
		_ = engine.Close()
		removeSnapshot()
	}, nil
}

func newResolver(cfg config.Config, engine query.Engine, schema *catalog.Catalog, model llm.Model, logger *slog.Logger) (*resolver.Resolver, error) {
	columns, err := resolver.ParseColumns(cfg.Resolver.Columns)
	if err != nil {
		return nil, err
	}
	var strategy resolver.Strategy = resolver.NewFuzzyStrategy()
	if cfg.Resolver.Strategy == "embedding" {
		embedder, ok := llm.AsEmbedder(model)
		if !ok {
			return nil, fmt.Errorf("model %s does not support embeddings", model.Name())
		}
		strategy, err = resolver.NewEmbeddingStrategy(embedder)
		if err != nil {
			return nil, err
		}
	}
	return resolver.New(engine, schema, strategy, resolver.Options{
		Columns:       columns,
		MaxCandidates: cfg.Resolver.MaxCandidates,
		Logger:        logger,
	})
}
