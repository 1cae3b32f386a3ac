package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/dshills/gocontext-ingest/internal/ingest"
	"github.com/dshills/gocontext-ingest/internal/searcher"
	"github.com/dshills/gocontext-ingest/internal/status"
	"github.com/dshills/gocontext-ingest/internal/storage"
)

const (
	// ServerName is the MCP server name
	ServerName = "gocontext-ingest"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Ingester is the slice of *ingest.Engine the tools call.
type Ingester interface {
	StartIngest(ctx context.Context, p ingest.Params) (string, error)
	GetStatus(runID string) (status.Status, error)
	CancelRun(runID string) error
	Wait(ctx context.Context, runID string) (status.Status, error)
	ActiveRun() (string, bool)
	ListRoots(ctx context.Context) ([]*storage.Root, error)
	RemoveRoot(ctx context.Context, rootPath string) (ingest.RemoveResult, error)
}

// Searcher answers search_code.
type Searcher interface {
	Search(ctx context.Context, req searcher.Request) (*searcher.Response, error)
}

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp          *server.MCPServer
	ingester     Ingester
	searcher     Searcher
	defaultModel string
	logger       *zap.Logger
}

// NewServer creates a new MCP server instance. defaultModel is used when an
// ingest_root call names no model.
func NewServer(ingester Ingester, srch Searcher, defaultModel string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		mcp:          server.NewMCPServer(ServerName, ServerVersion),
		ingester:     ingester,
		searcher:     srch,
		defaultModel: defaultModel,
		logger:       logger,
	}
	s.registerTools()
	return s
}

// Serve starts the MCP server on stdio and blocks until shutdown
func (s *Server) Serve(_ context.Context) error {
	s.logger.Info("mcp server listening on stdio")
	return server.ServeStdio(s.mcp)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(ingestRootTool(), s.handleIngestRoot)
	s.mcp.AddTool(getIngestStatusTool(), s.handleGetIngestStatus)
	s.mcp.AddTool(cancelIngestTool(), s.handleCancelIngest)
	s.mcp.AddTool(removeRootTool(), s.handleRemoveRoot)
	s.mcp.AddTool(listRootsTool(), s.handleListRoots)
	s.mcp.AddTool(searchCodeTool(), s.handleSearchCode)
}
