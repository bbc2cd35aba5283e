// Package mcp exposes the knowledge-retrieval pipeline over the Model
// Context Protocol.
package mcp

// DefaultTenant is used when a tool call does not name a tenant.
const DefaultTenant = "default"

// QueryInput defines the input parameters for the knowledge_query tool.
type QueryInput struct {
	// Query is the natural-language question.
	Query string `json:"query" jsonschema:"required,description=The question to answer from the knowledge base"`
	// TenantID scopes the query to one tenant's documents.
	TenantID string `json:"tenant_id,omitempty" jsonschema:"description=Tenant whose knowledge base is queried (default: default)"`
	// Tags restricts results to documents carrying at least one of these tags.
	Tags []string `json:"tags,omitempty" jsonschema:"description=Only use documents tagged with at least one of these tags"`
	// MaxChunks overrides the tenant's configured retrieval limit.
	MaxChunks int `json:"max_chunks,omitempty" jsonschema:"minimum=1,maximum=20,description=Maximum chunks to retrieve"`
	// MinSimilarity overrides the tenant's configured similarity threshold.
	MinSimilarity float64 `json:"min_similarity,omitempty" jsonschema:"minimum=0,maximum=1,description=Minimum similarity score (0-1)"`
}

// QueryOutput contains the generated answer with its evidence.
type QueryOutput struct {
	Answer        string         `json:"answer,omitempty"`
	Citations     []CitationInfo `json:"citations,omitempty"`
	ChunksFound   int            `json:"chunks_found"`
	ContextTokens int            `json:"context_tokens"`
	Model         string         `json:"model,omitempty"`
	// Message carries informational context, e.g. when nothing matched.
	Message string `json:"message,omitempty"`
}

// CitationInfo references a source chunk used in the answer.
type CitationInfo struct {
	DocumentID    string  `json:"document_id"`
	DocumentTitle string  `json:"document_title"`
	Content       string  `json:"content"`
	Similarity    float64 `json:"similarity"`
}

// SearchInput defines the input parameters for the search_chunks tool.
type SearchInput struct {
	Query         string   `json:"query" jsonschema:"required,description=The semantic search query"`
	TenantID      string   `json:"tenant_id,omitempty" jsonschema:"description=Tenant whose knowledge base is searched (default: default)"`
	Tags          []string `json:"tags,omitempty" jsonschema:"description=Only return chunks from documents tagged with at least one of these tags"`
	Limit         int      `json:"limit,omitempty" jsonschema:"minimum=1,maximum=50,description=Maximum chunks to return"`
	MinSimilarity float64  `json:"min_similarity,omitempty" jsonschema:"minimum=0,maximum=1,description=Minimum similarity score (0-1)"`
}

// SearchOutput contains raw retrieval results without generation.
type SearchOutput struct {
	Chunks []ChunkResult `json:"chunks"`
	Count  int           `json:"count"`
}

// ChunkResult is one retrieved chunk.
type ChunkResult struct {
	ChunkID       string  `json:"chunk_id"`
	DocumentID    string  `json:"document_id"`
	DocumentTitle string  `json:"document_title"`
	Content       string  `json:"content"`
	Similarity    float64 `json:"similarity"`
	Header        string  `json:"header,omitempty"`
}

// SimilarDocsInput defines the input parameters for the similar_documents tool.
type SimilarDocsInput struct {
	DocumentID string `json:"document_id" jsonschema:"required,description=The source document to find similar documents for"`
	TenantID   string `json:"tenant_id,omitempty" jsonschema:"description=Tenant scope (default: default)"`
	MaxResults int    `json:"max_results,omitempty" jsonschema:"minimum=1,maximum=20,default=5,description=Maximum similar documents to return"`
}

// SimilarDocsOutput lists candidate documents ranked by mean chunk similarity.
type SimilarDocsOutput struct {
	Documents []SimilarDocInfo `json:"documents"`
	Message   string           `json:"message,omitempty"`
}

// SimilarDocInfo is one ranked candidate document.
type SimilarDocInfo struct {
	DocumentID    string  `json:"document_id"`
	Title         string  `json:"title"`
	Similarity    float64 `json:"similarity"`
	MatchedChunks int     `json:"matched_chunks"`
}

// StatsInput defines the input parameters for the knowledge_stats tool.
type StatsInput struct {
	TenantID string `json:"tenant_id,omitempty" jsonschema:"description=Tenant scope (default: default)"`
}

// StatsOutput aggregates knowledge-base statistics for a tenant.
type StatsOutput struct {
	DocumentCount    int64            `json:"document_count"`
	ChunkCount       int64            `json:"chunk_count"`
	StorageBytes     int64            `json:"storage_bytes"`
	DocumentsByType  map[string]int64 `json:"documents_by_type"`
	DocumentsByState map[string]int64 `json:"documents_by_state"`
	QueriesToday     int64            `json:"queries_today"`
	QueriesLast7Days int64            `json:"queries_last_7_days"`
	MeanTopScore     float64          `json:"mean_top_score"`
}
