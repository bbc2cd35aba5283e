package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"gorm.io/datatypes"

	"github.com/dhaines/ragserver/internal/chunker"
	"github.com/dhaines/ragserver/internal/embedding"
	"github.com/dhaines/ragserver/internal/generation"
	"github.com/dhaines/ragserver/internal/metastore"
	"github.com/dhaines/ragserver/internal/storage"
)

// Embedder turns query text into a vector.
type Embedder interface {
	EmbedOne(ctx context.Context, text, model string) (embedding.Vector, error)
}

// ChunkSearcher is the vector-store capability the orchestrator depends on.
type ChunkSearcher interface {
	SearchChunks(ctx context.Context, emb []float32, tenantID string, threshold float64, limit int) ([]storage.SearchResultChunk, error)
	GetChunkEmbedding(ctx context.Context, tenantID, documentID string) ([]float32, error)
	CountChunks(ctx context.Context, tenantID string) (uint64, error)
}

// AnswerGenerator produces the grounded answer.
type AnswerGenerator interface {
	Generate(ctx context.Context, req generation.Request) (*generation.Response, error)
}

// MetadataStore is the relational side: settings, document rows, analytics.
type MetadataStore interface {
	GetSettings(ctx context.Context, tenantID string) (*metastore.Settings, error)
	UpsertSettings(ctx context.Context, row *metastore.Settings) error
	ListDocumentsByIDs(ctx context.Context, tenantID string, ids []string) (map[string]*metastore.Document, error)
	InsertQueryLog(ctx context.Context, entry *metastore.QueryLog) error
	GetStats(ctx context.Context, tenantID string) (*metastore.Stats, error)
}

// Service orchestrates one query: embed, search, filter, assemble context,
// generate, log.
type Service struct {
	embedder   Embedder
	store      ChunkSearcher
	generator  AnswerGenerator
	meta       MetadataStore
	embedModel string
	logger     *slog.Logger
}

func NewService(embedder Embedder, store ChunkSearcher, generator AnswerGenerator, meta MetadataStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		embedder:   embedder,
		store:      store,
		generator:  generator,
		meta:       meta,
		embedModel: embedding.DefaultModel,
		logger:     logger,
	}
}

// GetSettings returns the tenant's settings, falling back to defaults when
// the tenant has never saved any. Absence is not an error.
func (s *Service) GetSettings(ctx context.Context, tenantID string) (*metastore.Settings, error) {
	row, err := s.meta.GetSettings(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	if row == nil {
		return defaultSettings(tenantID), nil
	}
	return row, nil
}

// UpdateSettings writes the full settings row for the tenant. Partial
// updates are not supported; callers send the complete merged row.
func (s *Service) UpdateSettings(ctx context.Context, row *metastore.Settings) error {
	if row.TenantID == "" {
		return fmt.Errorf("tenant id is required")
	}
	if err := s.meta.UpsertSettings(ctx, row); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

func defaultSettings(tenantID string) *metastore.Settings {
	return &metastore.Settings{
		TenantID:            tenantID,
		SimilarityThreshold: DefaultSimilarityThreshold,
		MaxChunks:           DefaultMaxChunks,
		Model:               DefaultModel,
		Temperature:         DefaultTemperature,
		MaxTokens:           DefaultMaxTokens,
		IncludeCitations:    true,
	}
}

// Query runs the full retrieval-and-generation pipeline. Empty retrieval
// is a successful response with no chunks and no answer.
func (s *Service) Query(ctx context.Context, req QueryRequest) (*QueryResponse, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, ErrEmptyQuery
	}

	settings, err := s.GetSettings(ctx, req.TenantID)
	if err != nil {
		return nil, err
	}
	threshold := settings.SimilarityThreshold
	if req.Threshold != nil {
		threshold = *req.Threshold
	}
	maxChunks := settings.MaxChunks
	if req.MaxChunks != nil {
		maxChunks = *req.MaxChunks
	}

	searchStart := time.Now()
	queryVec, chunks, err := s.retrieve(ctx, req.TenantID, req.Query, req.Tags, threshold, maxChunks)
	if err != nil {
		return nil, err
	}
	searchMs := time.Since(searchStart).Milliseconds()
	if chunks == nil {
		chunks = []storage.SearchResultChunk{}
	}

	contextText, included, contextTokens := assembleContext(chunks, maxContextTokens)

	resp := &QueryResponse{
		Chunks:        chunks,
		ContextTokens: contextTokens,
		Model:         settings.Model,
		SearchMs:      searchMs,
	}
	if settings.IncludeCitations {
		resp.Citations = buildCitations(included)
	}

	if contextText != "" {
		genStart := time.Now()
		genResp, err := s.generator.Generate(ctx, generation.Request{
			Model:       settings.Model,
			System:      systemPrompt(settings.IncludeCitations),
			User:        userPrompt(contextText, req.Query),
			Temperature: settings.Temperature,
			MaxTokens:   settings.MaxTokens,
		})
		if err != nil {
			return nil, fmt.Errorf("answer generation failed: %w", err)
		}
		resp.GenerateMs = time.Since(genStart).Milliseconds()
		resp.Answer = genResp.Text
		resp.TotalTokens = genResp.TotalTokens
		resp.FinishReason = genResp.FinishReason
	}

	s.logQuery(ctx, req, queryVec, resp)
	return resp, nil
}

// Search performs retrieval without generation.
func (s *Service) Search(ctx context.Context, req SearchRequest) ([]storage.SearchResultChunk, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, ErrEmptyQuery
	}

	settings, err := s.GetSettings(ctx, req.TenantID)
	if err != nil {
		return nil, err
	}
	threshold := settings.SimilarityThreshold
	if req.Threshold != nil {
		threshold = *req.Threshold
	}
	limit := settings.MaxChunks
	if req.Limit != nil {
		limit = *req.Limit
	}

	_, chunks, err := s.retrieve(ctx, req.TenantID, req.Query, req.Tags, threshold, limit)
	return chunks, err
}

// retrieve embeds the query, runs the vector search, and applies the
// optional tag post-filter.
func (s *Service) retrieve(ctx context.Context, tenantID, query string, tags []string, threshold float64, limit int) (embedding.Vector, []storage.SearchResultChunk, error) {
	queryVec, err := s.embedder.EmbedOne(ctx, query, s.embedModel)
	if err != nil {
		return embedding.Vector{}, nil, fmt.Errorf("failed to embed query: %w", err)
	}

	chunks, err := s.store.SearchChunks(ctx, queryVec.Values, tenantID, threshold, limit)
	if err != nil {
		return embedding.Vector{}, nil, fmt.Errorf("vector search failed: %w", err)
	}

	if len(tags) > 0 {
		chunks, err = s.filterByTags(ctx, tenantID, chunks, tags)
		if err != nil {
			return embedding.Vector{}, nil, err
		}
	}
	return queryVec, chunks, nil
}

// filterByTags keeps chunks whose document's tag set intersects the filter.
// It runs after the similarity search, so it can only shrink the result.
func (s *Service) filterByTags(ctx context.Context, tenantID string, chunks []storage.SearchResultChunk, tags []string) ([]storage.SearchResultChunk, error) {
	if len(chunks) == 0 {
		return chunks, nil
	}

	seen := make(map[string]bool)
	ids := make([]string, 0, len(chunks))
	for _, c := range chunks {
		if !seen[c.DocumentID] {
			seen[c.DocumentID] = true
			ids = append(ids, c.DocumentID)
		}
	}

	docs, err := s.meta.ListDocumentsByIDs(ctx, tenantID, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load documents for tag filter: %w", err)
	}

	want := make(map[string]bool, len(tags))
	for _, t := range tags {
		want[t] = true
	}

	filtered := chunks[:0]
	for _, c := range chunks {
		doc, ok := docs[c.DocumentID]
		if !ok {
			continue
		}
		for _, t := range metastore.ParseTags(doc.Tags) {
			if want[t] {
				filtered = append(filtered, c)
				break
			}
		}
	}
	return filtered, nil
}

// assembleContext greedily packs chunks into the token budget, prefixing
// each with its source title. When the next chunk overflows but at least
// minTruncateTokens of budget remain, its content is hard-truncated to fit
// and it becomes the final entry. Returns the context text, the chunks
// actually included, and the token estimate.
func assembleContext(chunks []storage.SearchResultChunk, budget int) (string, []storage.SearchResultChunk, int) {
	var b strings.Builder
	var included []storage.SearchResultChunk
	tokens := 0

	for _, c := range chunks {
		entry := formatContextEntry(c.DocumentTitle, c.Content)
		entryTokens := chunker.TokenEstimate(entry)

		if tokens+entryTokens > budget {
			remaining := budget - tokens
			if remaining < minTruncateTokens {
				break
			}
			maxChars := remaining * 4
			overhead := len(entry) - len(c.Content)
			if maxChars <= overhead {
				break
			}
			entry = formatContextEntry(c.DocumentTitle, truncateRunes(c.Content, maxChars-overhead))
			b.WriteString(entry)
			tokens += chunker.TokenEstimate(entry)
			included = append(included, c)
			break
		}

		b.WriteString(entry)
		tokens += entryTokens
		included = append(included, c)
	}
	return b.String(), included, tokens
}

func formatContextEntry(title, content string) string {
	if title == "" {
		title = "Untitled"
	}
	return fmt.Sprintf("Source: %s\n%s\n\n", title, content)
}

// truncateRunes cuts s to at most max bytes without splitting a rune.
func truncateRunes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}

func buildCitations(included []storage.SearchResultChunk) []Citation {
	citations := make([]Citation, 0, len(included))
	for _, c := range included {
		citations = append(citations, Citation{
			DocumentID:    c.DocumentID,
			DocumentTitle: c.DocumentTitle,
			Content:       truncateRunes(c.Content, citationContentLimit),
			Similarity:    c.Similarity,
		})
	}
	return citations
}

func systemPrompt(includeCitations bool) string {
	base := "You are a knowledge assistant. Answer the question using only the provided context. " +
		"If the context does not contain the answer, say you do not know rather than guessing."
	if includeCitations {
		return base + " When you use information from a source, mention the source title so the reader can verify it."
	}
	return base
}

func userPrompt(contextText, query string) string {
	return fmt.Sprintf("Context:\n\n%s\nQuestion: %s", contextText, query)
}

// logQuery records analytics best-effort. Failures are logged and dropped;
// they never affect the caller's result.
func (s *Service) logQuery(ctx context.Context, req QueryRequest, queryVec embedding.Vector, resp *QueryResponse) {
	entry := &metastore.QueryLog{
		TenantID:      req.TenantID,
		Query:         req.Query,
		ChunksFound:   len(resp.Chunks),
		ContextTokens: resp.ContextTokens,
		Response:      resp.Answer,
		Model:         resp.Model,
		SearchMs:      resp.SearchMs,
		GenerateMs:    resp.GenerateMs,
	}
	if len(resp.Chunks) > 0 {
		entry.TopSimilarity = resp.Chunks[0].Similarity
	}
	if raw, err := json.Marshal(queryVec.Values); err == nil {
		entry.Embedding = datatypes.JSON(raw)
	}

	if err := s.meta.InsertQueryLog(ctx, entry); err != nil {
		s.logger.Warn("Failed to log query", "tenant_id", req.TenantID, "error", err)
	}
}

// FindSimilarDocuments uses one stored chunk embedding from the source
// document as a proxy query, retrieves a superset of candidate chunks,
// groups them by document, and ranks documents by the mean similarity of
// their matched chunks.
func (s *Service) FindSimilarDocuments(ctx context.Context, tenantID, documentID string, maxResults int) ([]SimilarDocument, error) {
	if maxResults <= 0 {
		maxResults = DefaultMaxChunks
	}

	proxy, err := s.store.GetChunkEmbedding(ctx, tenantID, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load source embedding: %w", err)
	}

	// Superset fetch so every candidate document contributes several chunks
	// to its mean.
	candidates, err := s.store.SearchChunks(ctx, proxy, tenantID, 0, maxResults*5)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	type agg struct {
		title string
		sum   float64
		count int
	}
	byDoc := make(map[string]*agg)
	for _, c := range candidates {
		if c.DocumentID == documentID {
			continue
		}
		a, ok := byDoc[c.DocumentID]
		if !ok {
			a = &agg{title: c.DocumentTitle}
			byDoc[c.DocumentID] = a
		}
		a.sum += c.Similarity
		a.count++
	}

	results := make([]SimilarDocument, 0, len(byDoc))
	for id, a := range byDoc {
		results = append(results, SimilarDocument{
			DocumentID:    id,
			Title:         a.title,
			Similarity:    a.sum / float64(a.count),
			MatchedChunks: a.count,
		})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].DocumentID < results[j].DocumentID
	})

	if len(results) > maxResults {
		results = results[:maxResults]
	}
	return results, nil
}

// Stats aggregates relational analytics with a live chunk count from the
// vector store.
func (s *Service) Stats(ctx context.Context, tenantID string) (*metastore.Stats, error) {
	stats, err := s.meta.GetStats(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load stats: %w", err)
	}
	if count, err := s.store.CountChunks(ctx, tenantID); err == nil {
		stats.ChunkCount = int64(count)
	} else {
		s.logger.Warn("Failed to count chunks in vector store", "tenant_id", tenantID, "error", err)
	}
	return stats, nil
}
