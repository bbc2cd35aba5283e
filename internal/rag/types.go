package rag

import (
	"errors"

	"github.com/dhaines/ragserver/internal/storage"
)

// Default per-tenant settings, applied when a tenant has never saved a
// settings row.
const (
	DefaultSimilarityThreshold = 0.7
	DefaultMaxChunks           = 5
	DefaultModel               = "gpt-4o-mini"
	DefaultTemperature         = 0.7
	DefaultMaxTokens           = 1000
)

// Context assembly limits.
const (
	maxContextTokens = 4000
	// Minimum remaining budget worth filling with a truncated chunk.
	minTruncateTokens = 100
	// Citation chunk content is cut to this many characters.
	citationContentLimit = 200
)

var ErrEmptyQuery = errors.New("query text is empty")

// QueryRequest is one retrieval-and-generation request. Threshold and
// MaxChunks override the tenant's settings when set.
type QueryRequest struct {
	TenantID  string
	Query     string
	Tags      []string
	Threshold *float64
	MaxChunks *int
}

// Citation points back at a chunk that was part of the assembled context.
type Citation struct {
	DocumentID    string  `json:"document_id"`
	DocumentTitle string  `json:"document_title"`
	Content       string  `json:"content"`
	Similarity    float64 `json:"similarity"`
}

// QueryResponse carries the generated answer plus the retrieval evidence.
// An empty Chunks list with no Answer is a valid outcome, not an error.
type QueryResponse struct {
	Answer        string                      `json:"answer,omitempty"`
	Chunks        []storage.SearchResultChunk `json:"chunks"`
	Citations     []Citation                  `json:"citations,omitempty"`
	ContextTokens int                         `json:"context_tokens"`
	TotalTokens   int                         `json:"total_tokens"`
	FinishReason  string                      `json:"finish_reason,omitempty"`
	Model         string                      `json:"model,omitempty"`
	SearchMs      int64                       `json:"search_ms"`
	GenerateMs    int64                       `json:"generate_ms"`
}

// SearchRequest is retrieval without generation.
type SearchRequest struct {
	TenantID  string
	Query     string
	Tags      []string
	Threshold *float64
	Limit     *int
}

// SimilarDocument ranks a candidate document by the mean similarity of its
// matched chunks against a proxy embedding from the source document.
type SimilarDocument struct {
	DocumentID    string  `json:"document_id"`
	Title         string  `json:"title"`
	Similarity    float64 `json:"similarity"`
	MatchedChunks int     `json:"matched_chunks"`
}
