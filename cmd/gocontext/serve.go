package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dshills/gocontext-ingest/internal/httpapi"
	"github.com/dshills/gocontext-ingest/internal/ingest"
	"github.com/dshills/gocontext-ingest/internal/mcp"
	"github.com/dshills/gocontext-ingest/internal/watch"
)

var (
	serveWatch []string
	serveStdio bool
	serveHTTP  string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the MCP stdio server, the optional HTTP API and watchers",
	Long: `serve exposes the ingestion engine as MCP tools on stdio. When http.addr is
configured (or --http is given) the HTTP control plane runs alongside it. Each
--watch root is re-ingested after its files stop changing.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringSliceVar(&serveWatch, "watch", nil, "root to watch and re-ingest on change (repeatable)")
	serveCmd.Flags().BoolVar(&serveStdio, "stdio", true, "serve MCP on stdin/stdout")
	serveCmd.Flags().StringVar(&serveHTTP, "http", "", "HTTP listen address, overrides http.addr")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	ctx, stop := signalContext()
	defer stop()

	addr := a.cfg.HTTP.Addr
	if serveHTTP != "" {
		addr = serveHTTP
	}
	if !serveStdio && addr == "" && len(serveWatch) == 0 {
		return errors.New("nothing to serve: enable --stdio, --http or --watch")
	}

	watchers, err := startWatchers(a)
	if err != nil {
		return err
	}
	defer func() {
		for _, w := range watchers {
			_ = w.Close()
		}
	}()

	errChan := make(chan error, 2)

	var api *httpapi.Server
	if addr != "" {
		api, err = httpapi.NewServer(a.engine, a.searcher, a.engine.Publisher(), a.logger, httpapi.Config{
			Addr:         addr,
			DefaultModel: a.embedders.DefaultModel(),
			Gatherer:     a.registry,
		})
		if err != nil {
			return err
		}
		go func() { errChan <- api.Start() }()
	}

	if serveStdio {
		srv := mcp.NewServer(a.engine, a.searcher, a.embedders.DefaultModel(), a.logger)
		go func() { errChan <- srv.Serve(ctx) }()
	}

	select {
	case <-ctx.Done():
		a.logger.Info("received shutdown signal")
	case err = <-errChan:
		if err != nil {
			a.logger.Error("server stopped", zap.Error(err))
		}
	}

	if api != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if serr := api.Shutdown(shutdownCtx); serr != nil {
			a.logger.Warn("http shutdown failed", zap.Error(serr))
		}
	}
	return err
}

func startWatchers(a *app) ([]*watch.Watcher, error) {
	watchers := make([]*watch.Watcher, 0, len(serveWatch))
	for _, p := range serveWatch {
		root, err := absPath(p)
		if err != nil {
			return watchers, err
		}
		w, err := watch.New(a.engine, ingest.Params{
			RootPath: root,
			Name:     filepath.Base(root),
			Model:    a.embedders.DefaultModel(),
		}, watch.Config{
			Debounce: a.cfg.Ingest.WatchDebounce.Duration(),
			SkipDirs: a.cfg.Ingest.SkipDirs,
		}, a.logger)
		if err != nil {
			return watchers, err
		}
		if err := w.Start(); err != nil {
			_ = w.Close()
			return watchers, fmt.Errorf("failed to watch %s: %w", root, err)
		}
		watchers = append(watchers, w)
	}
	return watchers, nil
}
