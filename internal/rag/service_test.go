package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhaines/ragserver/internal/embedding"
	"github.com/dhaines/ragserver/internal/generation"
	"github.com/dhaines/ragserver/internal/metastore"
	"github.com/dhaines/ragserver/internal/storage"
)

type fakeEmbedder struct {
	vec   embedding.Vector
	err   error
	calls int
}

func (f *fakeEmbedder) EmbedOne(ctx context.Context, text, model string) (embedding.Vector, error) {
	f.calls++
	if f.err != nil {
		return embedding.Vector{}, f.err
	}
	return f.vec, nil
}

type fakeSearcher struct {
	chunks    []storage.SearchResultChunk
	searchErr error
	proxy     []float32
	proxyErr  error
	count     uint64
	countErr  error

	gotEmbedding []float32
	gotThreshold float64
	gotLimit     int
}

func (f *fakeSearcher) SearchChunks(ctx context.Context, emb []float32, tenantID string, threshold float64, limit int) ([]storage.SearchResultChunk, error) {
	f.gotEmbedding = emb
	f.gotThreshold = threshold
	f.gotLimit = limit
	return f.chunks, f.searchErr
}

func (f *fakeSearcher) GetChunkEmbedding(ctx context.Context, tenantID, documentID string) ([]float32, error) {
	return f.proxy, f.proxyErr
}

func (f *fakeSearcher) CountChunks(ctx context.Context, tenantID string) (uint64, error) {
	return f.count, f.countErr
}

type fakeGenerator struct {
	resp    *generation.Response
	err     error
	calls   int
	lastReq generation.Request
}

func (f *fakeGenerator) Generate(ctx context.Context, req generation.Request) (*generation.Response, error) {
	f.calls++
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

type fakeMeta struct {
	settings    *metastore.Settings
	settingsErr error
	saved       *metastore.Settings
	docs        map[string]*metastore.Document
	logs        []*metastore.QueryLog
	logErr      error
	stats       *metastore.Stats
}

func (f *fakeMeta) GetSettings(ctx context.Context, tenantID string) (*metastore.Settings, error) {
	return f.settings, f.settingsErr
}

func (f *fakeMeta) UpsertSettings(ctx context.Context, row *metastore.Settings) error {
	f.saved = row
	return nil
}

func (f *fakeMeta) ListDocumentsByIDs(ctx context.Context, tenantID string, ids []string) (map[string]*metastore.Document, error) {
	out := make(map[string]*metastore.Document)
	for _, id := range ids {
		if doc, ok := f.docs[id]; ok {
			out[id] = doc
		}
	}
	return out, nil
}

func (f *fakeMeta) InsertQueryLog(ctx context.Context, entry *metastore.QueryLog) error {
	if f.logErr != nil {
		return f.logErr
	}
	f.logs = append(f.logs, entry)
	return nil
}

func (f *fakeMeta) GetStats(ctx context.Context, tenantID string) (*metastore.Stats, error) {
	return f.stats, nil
}

func resultChunk(docID, title, content string, sim float64) storage.SearchResultChunk {
	return storage.SearchResultChunk{
		ChunkID:       docID + "-chunk",
		DocumentID:    docID,
		DocumentTitle: title,
		Content:       content,
		Similarity:    sim,
	}
}

func newTestService(emb *fakeEmbedder, search *fakeSearcher, gen *fakeGenerator, meta *fakeMeta) *Service {
	if emb == nil {
		emb = &fakeEmbedder{vec: embedding.Vector{Values: []float32{0.1, 0.2}, Dimensions: 2}}
	}
	if search == nil {
		search = &fakeSearcher{}
	}
	if gen == nil {
		gen = &fakeGenerator{resp: &generation.Response{Text: "answer", TotalTokens: 10, FinishReason: "stop"}}
	}
	if meta == nil {
		meta = &fakeMeta{}
	}
	return NewService(emb, search, gen, meta, nil)
}

func TestQuery_FullPipeline(t *testing.T) {
	search := &fakeSearcher{chunks: []storage.SearchResultChunk{
		resultChunk("doc-1", "Refund Policy", "Refunds are issued within 30 days.", 0.92),
		resultChunk("doc-2", "Shipping FAQ", "Shipping takes 3-5 business days.", 0.81),
	}}
	gen := &fakeGenerator{resp: &generation.Response{Text: "Refunds take 30 days.", TotalTokens: 57, FinishReason: "stop"}}
	meta := &fakeMeta{}

	svc := newTestService(nil, search, gen, meta)
	resp, err := svc.Query(context.Background(), QueryRequest{TenantID: "t1", Query: "What is the refund policy?"})
	require.NoError(t, err)

	assert.Equal(t, "Refunds take 30 days.", resp.Answer)
	assert.Equal(t, 57, resp.TotalTokens)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Len(t, resp.Chunks, 2)

	// Citations correspond 1:1 with the chunks in the context.
	require.Len(t, resp.Citations, 2)
	assert.Equal(t, "doc-1", resp.Citations[0].DocumentID)
	assert.Equal(t, "Refund Policy", resp.Citations[0].DocumentTitle)
	assert.Equal(t, 0.92, resp.Citations[0].Similarity)

	// Prompt carries title-prefixed context plus the question.
	require.Equal(t, 1, gen.calls)
	assert.Contains(t, gen.lastReq.User, "Source: Refund Policy")
	assert.Contains(t, gen.lastReq.User, "Refunds are issued within 30 days.")
	assert.Contains(t, gen.lastReq.User, "Question: What is the refund policy?")
	assert.Contains(t, gen.lastReq.System, "source title")

	// Analytics log captured the outcome.
	require.Len(t, meta.logs, 1)
	entry := meta.logs[0]
	assert.Equal(t, "t1", entry.TenantID)
	assert.Equal(t, 2, entry.ChunksFound)
	assert.Equal(t, 0.92, entry.TopSimilarity)
	assert.Equal(t, "Refunds take 30 days.", entry.Response)
	assert.NotEmpty(t, entry.Embedding)
}

func TestQuery_EmptyRetrieval(t *testing.T) {
	gen := &fakeGenerator{}
	meta := &fakeMeta{}
	svc := newTestService(nil, &fakeSearcher{chunks: nil}, gen, meta)

	resp, err := svc.Query(context.Background(), QueryRequest{TenantID: "t1", Query: "anything relevant?"})
	require.NoError(t, err)

	assert.Empty(t, resp.Answer)
	assert.NotNil(t, resp.Chunks)
	assert.Empty(t, resp.Chunks)
	assert.Empty(t, resp.Citations)
	assert.Equal(t, 0, gen.calls, "generator must not run without context")

	// The empty outcome is still logged.
	require.Len(t, meta.logs, 1)
	assert.Equal(t, 0, meta.logs[0].ChunksFound)
	assert.Equal(t, float64(0), meta.logs[0].TopSimilarity)
}

func TestQuery_DefaultSettingsWhenAbsent(t *testing.T) {
	search := &fakeSearcher{}
	svc := newTestService(nil, search, nil, &fakeMeta{settings: nil})

	_, err := svc.Query(context.Background(), QueryRequest{TenantID: "t1", Query: "q"})
	require.NoError(t, err)

	assert.Equal(t, DefaultSimilarityThreshold, search.gotThreshold)
	assert.Equal(t, DefaultMaxChunks, search.gotLimit)
}

func TestQuery_PerRequestOverrides(t *testing.T) {
	search := &fakeSearcher{}
	meta := &fakeMeta{settings: &metastore.Settings{
		TenantID: "t1", SimilarityThreshold: 0.8, MaxChunks: 3,
		Model: "gpt-4o", Temperature: 0.2, MaxTokens: 500,
	}}
	svc := newTestService(nil, search, nil, meta)

	threshold := 0.5
	maxChunks := 12
	_, err := svc.Query(context.Background(), QueryRequest{
		TenantID: "t1", Query: "q", Threshold: &threshold, MaxChunks: &maxChunks,
	})
	require.NoError(t, err)

	assert.Equal(t, 0.5, search.gotThreshold)
	assert.Equal(t, 12, search.gotLimit)
}

func TestQuery_TagFilter(t *testing.T) {
	search := &fakeSearcher{chunks: []storage.SearchResultChunk{
		resultChunk("doc-1", "Billing", "Billing content.", 0.9),
		resultChunk("doc-2", "Legal", "Legal content.", 0.85),
		resultChunk("doc-3", "Unknown", "Orphan chunk.", 0.8),
	}}
	meta := &fakeMeta{docs: map[string]*metastore.Document{
		"doc-1": {ID: "doc-1", Tags: metastore.TagsToJSON([]string{"billing", "finance"})},
		"doc-2": {ID: "doc-2", Tags: metastore.TagsToJSON([]string{"legal"})},
	}}
	svc := newTestService(nil, search, nil, meta)

	resp, err := svc.Query(context.Background(), QueryRequest{
		TenantID: "t1", Query: "q", Tags: []string{"billing"},
	})
	require.NoError(t, err)

	// doc-2 has no matching tag; doc-3 has no document row at all.
	require.Len(t, resp.Chunks, 1)
	assert.Equal(t, "doc-1", resp.Chunks[0].DocumentID)
}

func TestQuery_CitationsDisabled(t *testing.T) {
	search := &fakeSearcher{chunks: []storage.SearchResultChunk{
		resultChunk("doc-1", "Doc", "Content.", 0.9),
	}}
	gen := &fakeGenerator{resp: &generation.Response{Text: "answer"}}
	meta := &fakeMeta{settings: &metastore.Settings{
		TenantID: "t1", SimilarityThreshold: 0.7, MaxChunks: 5,
		Model: "gpt-4o-mini", Temperature: 0.7, MaxTokens: 1000,
		IncludeCitations: false,
	}}
	svc := newTestService(nil, search, gen, meta)

	resp, err := svc.Query(context.Background(), QueryRequest{TenantID: "t1", Query: "q"})
	require.NoError(t, err)

	assert.Equal(t, "answer", resp.Answer)
	assert.Empty(t, resp.Citations)
	assert.NotContains(t, gen.lastReq.System, "source title")
}

func TestQuery_CitationContentTruncated(t *testing.T) {
	long := strings.Repeat("x", 500)
	search := &fakeSearcher{chunks: []storage.SearchResultChunk{
		resultChunk("doc-1", "Doc", long, 0.9),
	}}
	svc := newTestService(nil, search, nil, nil)

	resp, err := svc.Query(context.Background(), QueryRequest{TenantID: "t1", Query: "q"})
	require.NoError(t, err)

	require.Len(t, resp.Citations, 1)
	assert.Len(t, resp.Citations[0].Content, citationContentLimit)
}

func TestQuery_EmptyQueryRejected(t *testing.T) {
	svc := newTestService(nil, nil, nil, nil)

	_, err := svc.Query(context.Background(), QueryRequest{TenantID: "t1", Query: "   "})
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

func TestQuery_EmbeddingErrorPropagates(t *testing.T) {
	embErr := errors.New("embed down")
	svc := newTestService(&fakeEmbedder{err: embErr}, nil, nil, nil)

	_, err := svc.Query(context.Background(), QueryRequest{TenantID: "t1", Query: "q"})
	assert.ErrorIs(t, err, embErr)
}

func TestQuery_GenerationErrorPropagates(t *testing.T) {
	search := &fakeSearcher{chunks: []storage.SearchResultChunk{
		resultChunk("doc-1", "Doc", "Content.", 0.9),
	}}
	genErr := errors.New("provider down")
	svc := newTestService(nil, search, &fakeGenerator{err: genErr}, nil)

	_, err := svc.Query(context.Background(), QueryRequest{TenantID: "t1", Query: "q"})
	assert.ErrorIs(t, err, genErr)
}

func TestQuery_LogFailureSwallowed(t *testing.T) {
	search := &fakeSearcher{chunks: []storage.SearchResultChunk{
		resultChunk("doc-1", "Doc", "Content.", 0.9),
	}}
	meta := &fakeMeta{logErr: errors.New("analytics down")}
	svc := newTestService(nil, search, nil, meta)

	resp, err := svc.Query(context.Background(), QueryRequest{TenantID: "t1", Query: "q"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Answer)
}

func TestSearch_NoGeneration(t *testing.T) {
	search := &fakeSearcher{chunks: []storage.SearchResultChunk{
		resultChunk("doc-1", "Doc", "Content.", 0.9),
	}}
	gen := &fakeGenerator{}
	svc := newTestService(nil, search, gen, nil)

	chunks, err := svc.Search(context.Background(), SearchRequest{TenantID: "t1", Query: "q"})
	require.NoError(t, err)
	assert.Len(t, chunks, 1)
	assert.Equal(t, 0, gen.calls)
}

func TestAssembleContext_NeverExceedsBudget(t *testing.T) {
	// Four entries of ~1504 tokens each against a 4000 token budget: two
	// fit whole, the third is truncated into the remaining room, the
	// fourth is dropped.
	big := strings.Repeat("word ", 1200)
	var chunks []storage.SearchResultChunk
	for i := 0; i < 4; i++ {
		chunks = append(chunks, resultChunk(fmt.Sprintf("doc-%d", i), "Doc", big, 0.9-float64(i)*0.01))
	}

	text, included, tokens := assembleContext(chunks, maxContextTokens)

	assert.LessOrEqual(t, tokens, maxContextTokens)
	assert.Len(t, included, 3)
	assert.NotEmpty(t, text)
}

func TestAssembleContext_DropsWhenRemainingTooSmall(t *testing.T) {
	// First chunk consumes most of a 150 token budget; the 6 remaining
	// tokens are below the truncation floor so the second chunk is dropped.
	first := strings.Repeat("a", 560)
	chunks := []storage.SearchResultChunk{
		resultChunk("doc-1", "Doc", first, 0.9),
		resultChunk("doc-2", "Doc", "more content", 0.8),
	}

	_, included, tokens := assembleContext(chunks, 150)

	assert.Len(t, included, 1)
	assert.LessOrEqual(t, tokens, 150)
}

func TestAssembleContext_TruncatesFinalChunk(t *testing.T) {
	first := strings.Repeat("a", 560)
	second := strings.Repeat("b", 2000)
	chunks := []storage.SearchResultChunk{
		resultChunk("doc-1", "Doc", first, 0.9),
		resultChunk("doc-2", "Doc", second, 0.8),
	}

	text, included, tokens := assembleContext(chunks, 300)

	require.Len(t, included, 2)
	assert.LessOrEqual(t, tokens, 300)
	// The second entry was cut, so the full content must not appear.
	assert.NotContains(t, text, second)
	assert.Contains(t, text, "b")
}

func TestAssembleContext_Empty(t *testing.T) {
	text, included, tokens := assembleContext(nil, maxContextTokens)
	assert.Empty(t, text)
	assert.Empty(t, included)
	assert.Zero(t, tokens)
}

func TestFindSimilarDocuments(t *testing.T) {
	search := &fakeSearcher{
		proxy: []float32{0.1, 0.2},
		chunks: []storage.SearchResultChunk{
			// Source document chunks must be excluded.
			resultChunk("source", "Source Doc", "self", 1.0),
			{ChunkID: "b1", DocumentID: "doc-b", DocumentTitle: "B", Similarity: 0.9},
			{ChunkID: "b2", DocumentID: "doc-b", DocumentTitle: "B", Similarity: 0.5},
			{ChunkID: "c1", DocumentID: "doc-c", DocumentTitle: "C", Similarity: 0.8},
		},
	}
	svc := newTestService(nil, search, nil, nil)

	results, err := svc.FindSimilarDocuments(context.Background(), "t1", "source", 5)
	require.NoError(t, err)
	require.Len(t, results, 2)

	// doc-c wins: mean 0.8 beats doc-b's mean (0.9+0.5)/2 = 0.7, even
	// though doc-b has the single highest-scoring chunk.
	assert.Equal(t, "doc-c", results[0].DocumentID)
	assert.InDelta(t, 0.8, results[0].Similarity, 0.001)
	assert.Equal(t, "doc-b", results[1].DocumentID)
	assert.InDelta(t, 0.7, results[1].Similarity, 0.001)
	assert.Equal(t, 2, results[1].MatchedChunks)
}

func TestFindSimilarDocuments_TruncatesResults(t *testing.T) {
	search := &fakeSearcher{
		proxy: []float32{0.1},
		chunks: []storage.SearchResultChunk{
			{ChunkID: "a", DocumentID: "doc-a", DocumentTitle: "A", Similarity: 0.9},
			{ChunkID: "b", DocumentID: "doc-b", DocumentTitle: "B", Similarity: 0.8},
			{ChunkID: "c", DocumentID: "doc-c", DocumentTitle: "C", Similarity: 0.7},
		},
	}
	svc := newTestService(nil, search, nil, nil)

	results, err := svc.FindSimilarDocuments(context.Background(), "t1", "source", 2)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestFindSimilarDocuments_SourceMissing(t *testing.T) {
	search := &fakeSearcher{proxyErr: storage.ErrChunkNotFound}
	svc := newTestService(nil, search, nil, nil)

	_, err := svc.FindSimilarDocuments(context.Background(), "t1", "missing", 5)
	assert.ErrorIs(t, err, storage.ErrChunkNotFound)
}

func TestGetSettings_Defaults(t *testing.T) {
	svc := newTestService(nil, nil, nil, &fakeMeta{settings: nil})

	settings, err := svc.GetSettings(context.Background(), "t1")
	require.NoError(t, err)

	assert.Equal(t, "t1", settings.TenantID)
	assert.Equal(t, DefaultSimilarityThreshold, settings.SimilarityThreshold)
	assert.Equal(t, DefaultMaxChunks, settings.MaxChunks)
	assert.Equal(t, DefaultModel, settings.Model)
	assert.True(t, settings.IncludeCitations)
}

func TestUpdateSettings(t *testing.T) {
	meta := &fakeMeta{}
	svc := newTestService(nil, nil, nil, meta)

	row := &metastore.Settings{TenantID: "t1", SimilarityThreshold: 0.6, MaxChunks: 8}
	require.NoError(t, svc.UpdateSettings(context.Background(), row))
	assert.Equal(t, row, meta.saved)

	err := svc.UpdateSettings(context.Background(), &metastore.Settings{})
	assert.Error(t, err)
}

func TestStats_UsesLiveChunkCount(t *testing.T) {
	search := &fakeSearcher{count: 42}
	meta := &fakeMeta{stats: &metastore.Stats{DocumentCount: 3, ChunkCount: 40}}
	svc := newTestService(nil, search, nil, meta)

	stats, err := svc.Stats(context.Background(), "t1")
	require.NoError(t, err)
	assert.EqualValues(t, 3, stats.DocumentCount)
	assert.EqualValues(t, 42, stats.ChunkCount)
}

func TestStats_FallsBackWhenCountFails(t *testing.T) {
	search := &fakeSearcher{countErr: errors.New("qdrant down")}
	meta := &fakeMeta{stats: &metastore.Stats{ChunkCount: 40}}
	svc := newTestService(nil, search, nil, meta)

	stats, err := svc.Stats(context.Background(), "t1")
	require.NoError(t, err)
	assert.EqualValues(t, 40, stats.ChunkCount)
}
