package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/dhaines/ragserver/internal/rag"
)

// Server wraps the MCP server with its dependencies.
type Server struct {
	server *mcp.Server
	rag    *rag.Service
}

// NewServer creates a configured MCP server with all tools registered.
func NewServer(svc *rag.Service) *Server {
	impl := &mcp.Implementation{
		Name:    "ragserver",
		Version: "v0.1.0",
	}

	server := mcp.NewServer(impl, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "knowledge_query",
		Description: "Answer a question from the knowledge base. Retrieves the most relevant chunks, generates a grounded answer, and returns citations back to the source documents.",
	}, makeQueryHandler(svc))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "search_chunks",
		Description: "Semantic search over the knowledge base. Returns matching chunks with similarity scores but does not generate an answer.",
	}, makeSearchHandler(svc))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "similar_documents",
		Description: "Find documents similar to a given document, ranked by the mean similarity of their matching chunks.",
	}, makeSimilarHandler(svc))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "knowledge_stats",
		Description: "Get knowledge base statistics: document and chunk counts, storage size, breakdowns by source type and status, and recent query analytics.",
	}, makeStatsHandler(svc))

	return &Server{server: server, rag: svc}
}

// Run starts the server with stdio transport (blocks until client disconnects).
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// MCPServer returns the underlying MCP server instance for transport
// handlers that wrap it.
func (s *Server) MCPServer() *mcp.Server {
	return s.server
}
