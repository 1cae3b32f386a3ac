package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/dshills/gocontext-ingest/internal/chunker"
	"github.com/dshills/gocontext-ingest/internal/config"
	"github.com/dshills/gocontext-ingest/internal/embedder"
	"github.com/dshills/gocontext-ingest/internal/ingest"
	"github.com/dshills/gocontext-ingest/internal/logging"
	"github.com/dshills/gocontext-ingest/internal/parser"
	"github.com/dshills/gocontext-ingest/internal/searcher"
	"github.com/dshills/gocontext-ingest/internal/status"
	"github.com/dshills/gocontext-ingest/internal/storage"
	"github.com/dshills/gocontext-ingest/internal/vectorstore"
)

// app holds every long-lived component built from the configuration.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	docs      *storage.SQLiteStorage
	vectors   vectorstore.Store
	embedders *embedder.Resolver
	registry  *prometheus.Registry
	engine    *ingest.Engine
	searcher  *searcher.Searcher
}

func newApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	logger.Info("gocontext starting",
		zap.String("version", version),
		zap.String("build_mode", storage.BuildMode),
		zap.String("driver", storage.DriverName))

	if err := os.MkdirAll(filepath.Dir(cfg.Storage.Path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	docs, err := storage.NewSQLiteStorage(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	vectors, err := vectorstore.New(cfg.VectorStore, logger)
	if err != nil {
		_ = docs.Close()
		return nil, fmt.Errorf("failed to initialize vector store: %w", err)
	}

	strategy, err := chunker.New(cfg.Ingest.ChunkStrategy, 0, nil)
	if err != nil {
		_ = vectors.Close()
		_ = docs.Close()
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	resolver := embedder.NewResolver(cfg.Embedder, logger)
	engine, err := ingest.New(ingest.Deps{
		Docs:      docs,
		Vectors:   vectors,
		Parsers:   parser.NewDefaultRegistry(),
		Embedders: resolver.Resolve,
		Chunker:   strategy,
		Publisher: status.NewPublisher(status.DefaultBuffer),
		Logger:    logger,
		Metrics:   ingest.NewMetrics(registry),
	}, ingest.Options{
		Workers:      cfg.Ingest.Workers,
		ParseTimeout: cfg.Ingest.ParseTimeout.Duration(),
		SkipDirs:     cfg.Ingest.SkipDirs,
		MaxFileSize:  int64(cfg.Ingest.MaxFileSizeKB) * 1024,
		Namespace:    cfg.VectorStore.Namespace,
	})
	if err != nil {
		_ = vectors.Close()
		_ = docs.Close()
		return nil, err
	}

	return &app{
		cfg:       cfg,
		logger:    logger,
		docs:      docs,
		vectors:   vectors,
		embedders: resolver,
		registry:  registry,
		engine:    engine,
		searcher:  searcher.New(docs, vectors, resolver.Resolve, logger),
	}, nil
}

// Close stops the engine and releases stores in reverse construction order.
func (a *app) Close() error {
	errs := []error{
		a.engine.Close(),
		a.embedders.Close(),
		a.vectors.Close(),
		a.docs.Close(),
	}
	_ = a.logger.Sync()
	return errors.Join(errs...)
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func absPath(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", p, err)
	}
	return abs, nil
}
