package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/purplefabric/graphrag/internal/agent"
	"github.com/purplefabric/graphrag/internal/config"
	"github.com/purplefabric/graphrag/internal/extraction"
	"github.com/purplefabric/graphrag/internal/fabric"
	"github.com/purplefabric/graphrag/internal/httpapi"
	"github.com/purplefabric/graphrag/internal/ingest"
	"github.com/purplefabric/graphrag/internal/llm"
	"github.com/purplefabric/graphrag/internal/logging"
	"github.com/purplefabric/graphrag/internal/memory"
	"github.com/purplefabric/graphrag/internal/orchestrator"
	"github.com/purplefabric/graphrag/internal/store/kv"
	"github.com/purplefabric/graphrag/internal/store/lpg"
	"github.com/purplefabric/graphrag/internal/store/sqlfed"
	"github.com/purplefabric/graphrag/internal/store/triple"
	"github.com/purplefabric/graphrag/internal/store/vector"
	"github.com/purplefabric/graphrag/internal/vkg"
)

const shutdownTimeout = 15 * time.Second

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting graphragd",
		zap.String("version", version),
		zap.String("commit", gitCommit))

	// Backends.
	kvStore := kv.NewFromClient(redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password.Value(),
		DB:       cfg.Redis.DB,
	}))
	defer func() { _ = kvStore.Close() }()

	tripleClient, err := triple.NewClient(cfg.Triplestore)
	if err != nil {
		return fmt.Errorf("triplestore: %w", err)
	}

	embedder, err := llm.NewEmbedder(cfg.Embedding)
	if err != nil {
		return fmt.Errorf("embedder: %w", err)
	}
	baseChat, err := llm.NewChat(cfg.LLM)
	if err != nil {
		return fmt.Errorf("chat model: %w", err)
	}
	chat := llm.NewTokenRoutingChat(cfg.LLM, baseChat)

	vecStore, err := vector.New(cfg.Vector, embedder)
	if err != nil {
		return fmt.Errorf("vector store: %w", err)
	}
	defer func() { _ = vecStore.Close() }()

	lpgStore, err := lpg.New(cfg.LPG)
	if err != nil {
		return fmt.Errorf("lpg store: %w", err)
	}
	defer func() { _ = lpgStore.Close(context.Background()) }()

	var sqlStore *sqlfed.Store
	if cfg.SQL.DSN.Value() != "" {
		db, err := sqlx.Open(cfg.SQL.Driver, cfg.SQL.DSN.Value())
		if err != nil {
			return fmt.Errorf("sql catalog: %w", err)
		}
		sqlStore = sqlfed.NewFromDB(db)
		defer func() { _ = sqlStore.Close() }()
	}

	// Services.
	fabricSvc := fabric.NewService(tripleClient, nil, cfg.Audit.SkipPredicates, logger)
	memStore := memory.NewStore(kvStore, embedder, chat, cfg.Memory, cfg.Embedding.Dimension, logger)
	defer memStore.Close()
	agentSvc := agent.NewService(kvStore, memStore, logger)

	runStore := extraction.NewRunStore(kvStore)
	pipeline := extraction.NewPipeline(
		runStore,
		fabricSvc,
		chat,
		extraction.NewResolver(lpgStore, logger),
		extraction.NewWriter(lpgStore, logger),
		logger,
	)

	importer := ingest.NewImporter(tripleClient, cfg.Audit.BatchSize, cfg.Audit.SkipPredicates, logger)

	orchDeps := orchestrator.Deps{
		Vector:    vecStore,
		LPG:       lpgStore,
		LPGSchema: lpgStore,
		Fabric:    fabricSvc,
		Memory:    memStore,
		VKG:       vkg.NewStore(kvStore),
		Folders:   orchestrator.NewKVFolderResolver(kvStore),
		Chat:      chat,
		Logger:    logger,
	}
	if sqlStore != nil {
		orchDeps.SQL = sqlStore
	}
	orch := orchestrator.New(orchDeps)
	defer orch.Close()

	pingers := map[string]httpapi.Pinger{
		"redis":       kvStore,
		"triplestore": tripleClient,
		"neo4j":       lpgStore,
		"qdrant":      vecStore,
	}
	if sqlStore != nil {
		pingers["sql"] = sqlStore
	}

	server, err := httpapi.NewServer(httpapi.Deps{
		Chat:       orch,
		Agents:     agentSvc,
		Memory:     memStore,
		SPARQL:     fabricSvc,
		Extraction: pipeline,
		Runs:       runStore,
		Importer:   importer,
		Pingers:    pingers,
	}, logger, httpapi.Config{Host: cfg.Server.Host, Port: cfg.Server.Port})
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("shutdown incomplete", zap.Error(err))
	}
	return nil
}
