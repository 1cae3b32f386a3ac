package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/gocontext-ingest/internal/ingest"
	"github.com/dshills/gocontext-ingest/internal/searcher"
	"github.com/dshills/gocontext-ingest/internal/status"
)

// MCP error codes
const (
	ErrorCodeInvalidParams    = -32602 // Invalid method parameters
	ErrorCodeInternalError    = -32603 // Internal JSON-RPC error
	ErrorCodeStoreUnavailable = -32001 // Document store cannot be reached
	ErrorCodeIngestBusy       = -32002 // Another ingest or removal is already running
	ErrorCodeNotFound         = -32003 // Unknown run or root
	ErrorCodeEmptyQuery       = -32004 // Query parameter is empty
)

// handleIngestRoot handles the ingest_root tool invocation
func (s *Server) handleIngestRoot(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	path, err := requireString(args, "path")
	if err != nil {
		return nil, err
	}

	params := ingest.Params{
		RootPath:    path,
		Name:        getStringDefault(args, "name", filepath.Base(filepath.Clean(path))),
		Description: getStringDefault(args, "description", ""),
		Model:       getStringDefault(args, "model", s.defaultModel),
		DryRun:      getBoolDefault(args, "dry_run", false),
		Operation:   getStringDefault(args, "operation", ingest.OpIngest),
	}
	runID, err := s.ingester.StartIngest(ctx, params)
	if err != nil {
		return nil, toMCPError(err, "ingest not started")
	}

	if !getBoolDefault(args, "wait", false) {
		return mcp.NewToolResultText(formatJSON(map[string]interface{}{
			"run_id": runID,
			"state":  status.StateQueued,
		})), nil
	}

	st, err := s.ingester.Wait(ctx, runID)
	if err != nil {
		return nil, toMCPError(err, "waiting for ingest failed")
	}
	return mcp.NewToolResultText(formatJSON(statusResponse(st))), nil
}

// handleGetIngestStatus handles the get_ingest_status tool invocation. Without a
// run_id it reports the active run.
func (s *Server) handleGetIngestStatus(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		args = map[string]interface{}{}
	}
	runID := getStringDefault(args, "run_id", "")
	if runID == "" {
		active, ok := s.ingester.ActiveRun()
		if !ok {
			return mcp.NewToolResultText(formatJSON(map[string]interface{}{"active": false})), nil
		}
		runID = active
	}

	st, err := s.ingester.GetStatus(runID)
	if err != nil {
		return nil, toMCPError(err, "run not found")
	}
	return mcp.NewToolResultText(formatJSON(statusResponse(st))), nil
}

// handleCancelIngest handles the cancel_ingest tool invocation
func (s *Server) handleCancelIngest(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	runID, err := requireString(args, "run_id")
	if err != nil {
		return nil, err
	}
	if err := s.ingester.CancelRun(runID); err != nil {
		return nil, toMCPError(err, "cancel failed")
	}
	st, err := s.ingester.GetStatus(runID)
	if err != nil {
		return nil, toMCPError(err, "run not found")
	}
	return mcp.NewToolResultText(formatJSON(statusResponse(st))), nil
}

// handleRemoveRoot handles the remove_root tool invocation
func (s *Server) handleRemoveRoot(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	path, err := requireString(args, "path")
	if err != nil {
		return nil, err
	}
	res, err := s.ingester.RemoveRoot(ctx, path)
	if err != nil {
		return nil, toMCPError(err, "remove failed")
	}
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"removed":  true,
		"path":     filepath.Clean(path),
		"unlocked": res.Unlocked,
	})), nil
}

// handleListRoots handles the list_roots tool invocation
func (s *Server) handleListRoots(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	roots, err := s.ingester.ListRoots(ctx)
	if err != nil {
		return nil, toMCPError(err, "failed to list roots")
	}
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"roots": roots,
		"count": len(roots),
	})), nil
}

// handleSearchCode handles the search_code tool invocation
func (s *Server) handleSearchCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	path, err := requireString(args, "path")
	if err != nil {
		return nil, err
	}
	query := getStringDefault(args, "query", "")
	if query == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}
	limit := getIntDefault(args, "limit", searcher.DefaultLimit)
	if limit < 1 || limit > searcher.MaxLimit {
		return nil, newMCPError(ErrorCodeInvalidParams, "limit must be between 1 and 100", map[string]interface{}{
			"param": "limit",
			"value": limit,
		})
	}

	resp, err := s.searcher.Search(ctx, searcher.Request{
		RootPath: path,
		Query:    query,
		Limit:    limit,
		UseCache: true,
	})
	if err != nil {
		return nil, toMCPError(err, "search failed")
	}
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"root":        resp.Root,
		"model":       resp.Model,
		"results":     resp.Results,
		"count":       len(resp.Results),
		"cache_hit":   resp.CacheHit,
		"duration_ms": resp.Duration.Milliseconds(),
	})), nil
}

func statusResponse(st status.Status) map[string]interface{} {
	resp := map[string]interface{}{
		"run_id":    st.RunID,
		"root":      st.Root,
		"operation": st.Operation,
		"model":     st.Model,
		"dry_run":   st.DryRun,
		"state":     st.State,
		"counts":    st.Counts,
		"percent":   st.Percent,
	}
	if st.CurrentFile != "" {
		resp["current_file"] = st.CurrentFile
		resp["file_index"] = st.FileIndex
		resp["file_total"] = st.FileTotal
	}
	if st.EtaMs > 0 {
		resp["eta_ms"] = st.EtaMs
	}
	if st.Message != "" {
		resp["message"] = st.Message
	}
	if st.LastError != "" {
		resp["last_error"] = st.LastError
	}
	return resp
}

// Helper functions

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// toMCPError maps engine and searcher errors onto protocol error codes.
func toMCPError(err error, message string) error {
	data := map[string]interface{}{"error": err.Error()}

	var busy *ingest.BusyError
	var invalid *ingest.ValidationError
	switch {
	case errors.As(err, &invalid):
		data["param"] = invalid.Field
		data["reason"] = invalid.Reason
		return newMCPError(ErrorCodeInvalidParams, message, data)
	case errors.As(err, &busy):
		data["active_run_id"] = busy.ActiveRunID
		return newMCPError(ErrorCodeIngestBusy, message, data)
	case ingest.IsNotFound(err), errors.Is(err, searcher.ErrRootNotIndexed):
		return newMCPError(ErrorCodeNotFound, message, data)
	case errors.Is(err, searcher.ErrEmptyQuery):
		return newMCPError(ErrorCodeEmptyQuery, message, data)
	case errors.Is(err, ingest.ErrStoreUnavailable):
		return newMCPError(ErrorCodeStoreUnavailable, message, data)
	default:
		return newMCPError(ErrorCodeInternalError, message, data)
	}
}

// requireString extracts a non-empty string parameter.
func requireString(args map[string]interface{}, key string) (string, error) {
	val, ok := args[key].(string)
	if !ok || val == "" {
		return "", newMCPError(ErrorCodeInvalidParams, key+" parameter is required", map[string]interface{}{
			"param":  key,
			"reason": "missing or empty",
		})
	}
	return val, nil
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok && val != "" {
		return val
	}
	return defaultValue
}
