// Package httpapi serves the ingestion engine over HTTP: a JSON control plane,
// Prometheus metrics and a websocket stream of status events.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/dshills/gocontext-ingest/internal/ingest"
	"github.com/dshills/gocontext-ingest/internal/searcher"
	"github.com/dshills/gocontext-ingest/internal/status"
	"github.com/dshills/gocontext-ingest/internal/storage"
)

// Engine is the part of *ingest.Engine the API drives.
type Engine interface {
	StartIngest(ctx context.Context, p ingest.Params) (string, error)
	GetStatus(runID string) (status.Status, error)
	CancelRun(runID string) error
	ListRoots(ctx context.Context) ([]*storage.Root, error)
	RemoveRoot(ctx context.Context, rootPath string) (ingest.RemoveResult, error)
}

// Searcher answers search requests.
type Searcher interface {
	Search(ctx context.Context, req searcher.Request) (*searcher.Response, error)
}

// Config holds HTTP server configuration.
type Config struct {
	Addr         string
	DefaultModel string
	Gatherer     prometheus.Gatherer
}

// Server provides the HTTP endpoints.
type Server struct {
	echo      *echo.Echo
	engine    Engine
	searcher  Searcher
	publisher *status.Publisher
	logger    *zap.Logger
	config    Config
}

// NewServer creates a new HTTP server.
func NewServer(engine Engine, srch Searcher, pub *status.Publisher, logger *zap.Logger, cfg Config) (*Server, error) {
	if engine == nil {
		return nil, errors.New("engine cannot be nil")
	}
	if pub == nil {
		return nil, errors.New("publisher cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			logger.Debug("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	s := &Server{
		echo:      e,
		engine:    engine,
		searcher:  srch,
		publisher: pub,
		logger:    logger,
		config:    cfg,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.config.Gatherer, promhttp.HandlerOpts{})))
	s.echo.GET("/ws/status", s.handleStatusStream)

	v1 := s.echo.Group("/api/v1")
	v1.POST("/ingest", s.handleIngest)
	v1.GET("/runs/:id", s.handleGetRun)
	v1.POST("/runs/:id/cancel", s.handleCancelRun)
	v1.GET("/roots", s.handleListRoots)
	v1.DELETE("/roots", s.handleRemoveRoot)
	v1.POST("/search", s.handleSearch)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start listens on the configured address and blocks.
func (s *Server) Start() error {
	s.logger.Info("starting http server", zap.String("addr", s.config.Addr))
	err := s.echo.Start(s.config.Addr)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}

// IngestRequest is the request body for POST /api/v1/ingest.
type IngestRequest struct {
	Path        string `json:"path"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Model       string `json:"model"`
	Operation   string `json:"operation"`
	DryRun      bool   `json:"dryRun"`
}

// IngestResponse is the response body for POST /api/v1/ingest.
type IngestResponse struct {
	RunID string       `json:"runId"`
	State status.State `json:"state"`
}

// SearchRequest is the request body for POST /api/v1/search.
type SearchRequest struct {
	Path  string `json:"path"`
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleIngest(c echo.Context) error {
	var req IngestRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid ingest request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Path == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "path field is required")
	}
	if req.Name == "" {
		req.Name = filepath.Base(filepath.Clean(req.Path))
	}
	if req.Model == "" {
		req.Model = s.config.DefaultModel
	}

	runID, err := s.engine.StartIngest(c.Request().Context(), ingest.Params{
		RootPath:    req.Path,
		Name:        req.Name,
		Description: req.Description,
		Model:       req.Model,
		DryRun:      req.DryRun,
		Operation:   req.Operation,
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusAccepted, IngestResponse{RunID: runID, State: status.StateQueued})
}

func (s *Server) handleGetRun(c echo.Context) error {
	st, err := s.engine.GetStatus(c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, st)
}

func (s *Server) handleCancelRun(c echo.Context) error {
	id := c.Param("id")
	if err := s.engine.CancelRun(id); err != nil {
		return httpError(err)
	}
	st, err := s.engine.GetStatus(id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusAccepted, st)
}

func (s *Server) handleListRoots(c echo.Context) error {
	roots, err := s.engine.ListRoots(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"roots": roots})
}

func (s *Server) handleRemoveRoot(c echo.Context) error {
	path := c.QueryParam("path")
	if path == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "path query parameter is required")
	}
	res, err := s.engine.RemoveRoot(c.Request().Context(), path)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleSearch(c echo.Context) error {
	if s.searcher == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "search is not configured")
	}
	var req SearchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Path == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "path field is required")
	}
	resp, err := s.searcher.Search(c.Request().Context(), searcher.Request{
		RootPath: req.Path,
		Query:    req.Query,
		Limit:    req.Limit,
		UseCache: true,
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, resp)
}

// httpError maps engine and searcher errors onto status codes.
func httpError(err error) error {
	switch {
	case ingest.IsValidation(err), errors.Is(err, searcher.ErrEmptyQuery):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case ingest.IsBusy(err):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case ingest.IsNotFound(err), errors.Is(err, searcher.ErrRootNotIndexed):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ingest.ErrStoreUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
