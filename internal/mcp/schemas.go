package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// ingestRootTool returns the tool definition for ingest_root
func ingestRootTool() mcp.Tool {
	return mcp.Tool{
		Name:        "ingest_root",
		Description: "Ingest a directory tree: parse changed files, commit structural records and refresh embeddings",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path to the directory to ingest",
				},
				"name": map[string]interface{}{
					"type":        "string",
					"description": "Display name for the root (defaults to the directory name)",
				},
				"description": map[string]interface{}{
					"type":        "string",
					"description": "Optional free-form description",
				},
				"model": map[string]interface{}{
					"type":        "string",
					"description": "Embedding model id; must match the namespace's locked model",
				},
				"operation": map[string]interface{}{
					"type":        "string",
					"description": "ingest applies only changes, reembed rebuilds every vector",
					"enum":        []string{"ingest", "reembed"},
					"default":     "ingest",
				},
				"dry_run": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, scan and parse but write nothing",
					"default":     false,
				},
				"wait": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, block until the run finishes and return its final status",
					"default":     false,
				},
			},
			Required: []string{"path"},
		},
	}
}

// getIngestStatusTool returns the tool definition for get_ingest_status
func getIngestStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_ingest_status",
		Description: "Get the status of an ingest run, or of the active run when run_id is omitted",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"run_id": map[string]interface{}{
					"type":        "string",
					"description": "Run id returned by ingest_root",
				},
			},
		},
	}
}

// cancelIngestTool returns the tool definition for cancel_ingest
func cancelIngestTool() mcp.Tool {
	return mcp.Tool{
		Name:        "cancel_ingest",
		Description: "Request cancellation of a running ingest; takes effect at the next file boundary",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"run_id": map[string]interface{}{
					"type":        "string",
					"description": "Run id to cancel",
				},
			},
			Required: []string{"run_id"},
		},
	}
}

// removeRootTool returns the tool definition for remove_root
func removeRootTool() mcp.Tool {
	return mcp.Tool{
		Name:        "remove_root",
		Description: "Delete a root's structural records, ledger and vectors",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path of the ingested root",
				},
			},
			Required: []string{"path"},
		},
	}
}

// listRootsTool returns the tool definition for list_roots
func listRootsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "list_roots",
		Description: "List every ingested root with its model, status and counts",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

// searchCodeTool returns the tool definition for search_code
func searchCodeTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search_code",
		Description: "Semantic search over an ingested root using its locked embedding model",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path of the ingested root",
				},
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Natural language or code query",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results to return (1-100)",
					"default":     10,
					"minimum":     1,
					"maximum":     100,
				},
			},
			Required: []string{"path", "query"},
		},
	}
}
