package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/dhaines/ragserver/internal/rag"
)

func tenantOrDefault(tenantID string) string {
	if tenantID == "" {
		return DefaultTenant
	}
	return tenantID
}

// makeQueryHandler creates the knowledge_query tool handler. It runs the
// full pipeline: embed, search, assemble context, generate a cited answer.
func makeQueryHandler(svc *rag.Service) func(
	context.Context, *mcp.CallToolRequest, QueryInput,
) (*mcp.CallToolResult, QueryOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input QueryInput) (
		*mcp.CallToolResult, QueryOutput, error,
	) {
		qr := rag.QueryRequest{
			TenantID: tenantOrDefault(input.TenantID),
			Query:    input.Query,
			Tags:     input.Tags,
		}
		if input.MaxChunks > 0 {
			qr.MaxChunks = &input.MaxChunks
		}
		if input.MinSimilarity > 0 {
			qr.Threshold = &input.MinSimilarity
		}

		resp, err := svc.Query(ctx, qr)
		if err != nil {
			return nil, QueryOutput{}, fmt.Errorf("query failed: %w", err)
		}

		out := QueryOutput{
			Answer:        resp.Answer,
			ChunksFound:   len(resp.Chunks),
			ContextTokens: resp.ContextTokens,
			Model:         resp.Model,
		}
		for _, c := range resp.Citations {
			out.Citations = append(out.Citations, CitationInfo{
				DocumentID:    c.DocumentID,
				DocumentTitle: c.DocumentTitle,
				Content:       c.Content,
				Similarity:    c.Similarity,
			})
		}
		if len(resp.Chunks) == 0 {
			out.Message = "No relevant documents found. Try broader phrasing or a lower min_similarity."
		}
		return nil, out, nil
	}
}

// makeSearchHandler creates the search_chunks tool handler: retrieval only,
// no answer generation.
func makeSearchHandler(svc *rag.Service) func(
	context.Context, *mcp.CallToolRequest, SearchInput,
) (*mcp.CallToolResult, SearchOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input SearchInput) (
		*mcp.CallToolResult, SearchOutput, error,
	) {
		sr := rag.SearchRequest{
			TenantID: tenantOrDefault(input.TenantID),
			Query:    input.Query,
			Tags:     input.Tags,
		}
		if input.Limit > 0 {
			sr.Limit = &input.Limit
		}
		if input.MinSimilarity > 0 {
			sr.Threshold = &input.MinSimilarity
		}

		chunks, err := svc.Search(ctx, sr)
		if err != nil {
			return nil, SearchOutput{}, fmt.Errorf("search failed: %w", err)
		}

		out := SearchOutput{Chunks: make([]ChunkResult, 0, len(chunks)), Count: len(chunks)}
		for _, c := range chunks {
			out.Chunks = append(out.Chunks, ChunkResult{
				ChunkID:       c.ChunkID,
				DocumentID:    c.DocumentID,
				DocumentTitle: c.DocumentTitle,
				Content:       c.Content,
				Similarity:    c.Similarity,
				Header:        c.Metadata["header"],
			})
		}
		return nil, out, nil
	}
}

// makeSimilarHandler creates the similar_documents tool handler.
func makeSimilarHandler(svc *rag.Service) func(
	context.Context, *mcp.CallToolRequest, SimilarDocsInput,
) (*mcp.CallToolResult, SimilarDocsOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input SimilarDocsInput) (
		*mcp.CallToolResult, SimilarDocsOutput, error,
	) {
		docs, err := svc.FindSimilarDocuments(ctx, tenantOrDefault(input.TenantID), input.DocumentID, input.MaxResults)
		if err != nil {
			return nil, SimilarDocsOutput{}, fmt.Errorf("similar documents failed: %w", err)
		}

		out := SimilarDocsOutput{Documents: make([]SimilarDocInfo, 0, len(docs))}
		for _, d := range docs {
			out.Documents = append(out.Documents, SimilarDocInfo{
				DocumentID:    d.DocumentID,
				Title:         d.Title,
				Similarity:    d.Similarity,
				MatchedChunks: d.MatchedChunks,
			})
		}
		if len(docs) == 0 {
			out.Message = "No similar documents found."
		}
		return nil, out, nil
	}
}

// makeStatsHandler creates the knowledge_stats tool handler.
func makeStatsHandler(svc *rag.Service) func(
	context.Context, *mcp.CallToolRequest, StatsInput,
) (*mcp.CallToolResult, StatsOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input StatsInput) (
		*mcp.CallToolResult, StatsOutput, error,
	) {
		stats, err := svc.Stats(ctx, tenantOrDefault(input.TenantID))
		if err != nil {
			return nil, StatsOutput{}, fmt.Errorf("stats failed: %w", err)
		}

		return nil, StatsOutput{
			DocumentCount:    stats.DocumentCount,
			ChunkCount:       stats.ChunkCount,
			StorageBytes:     stats.StorageBytes,
			DocumentsByType:  stats.DocumentsByType,
			DocumentsByState: stats.DocumentsByState,
			QueriesToday:     stats.QueriesToday,
			QueriesLast7Days: stats.QueriesLast7Days,
			MeanTopScore:     stats.MeanTopScore,
		}, nil
	}
}
