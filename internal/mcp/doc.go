// Package mcp exposes the ingestion engine as Model Context Protocol tools.
//
// The server speaks JSON-RPC 2.0 over stdio and registers six tools:
//   - ingest_root: start an ingest or reembed run for a directory
//   - get_ingest_status: read the status of a run, or of the active run
//   - cancel_ingest: request cancellation at the next file boundary
//   - remove_root: delete a root and release its namespace's model lock when it was the last
//   - list_roots: list ingested roots
//   - search_code: semantic search over an ingested root
//
// # Tool: ingest_root
//
//	Request:
//	{
//	  "name": "ingest_root",
//	  "arguments": {
//	    "path": "/path/to/project",
//	    "model": "local-hash-384",
//	    "dry_run": false,
//	    "wait": true
//	  }
//	}
//
//	Response:
//	{
//	  "run_id": "9b1f...",
//	  "state": "completed",
//	  "counts": {"supported": 247, "skipped": 89, "failed": 0, ...},
//	  "percent": 100
//	}
//
// Without wait the response carries only run_id and the queued state; poll
// get_ingest_status for progress.
//
// # Error Handling
//
// Handlers return *MCPError values which the framework encodes as JSON-RPC
// errors:
//   - -32602: invalid params, including a model that conflicts with the namespace lock
//   - -32603: internal error
//   - -32001: document store unavailable
//   - -32002: another ingest or removal is running
//   - -32003: unknown run or root
//   - -32004: empty search query
//
// # Logging
//
// stdout is reserved for the protocol, so the server logs to stderr through
// the process-wide zap logger.
package mcp
