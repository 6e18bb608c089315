// Package mcp exposes the retrieval service as Model Context Protocol tools.
//
// It uses the MCP SDK (github.com/modelcontextprotocol/go-sdk/mcp) and serves
// over stdio. Tools: search_documents, list_documents, preview_document,
// ingest_path and delete_document.
package mcp
