package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dhaines/ragserver/internal/chunker"
	"github.com/dhaines/ragserver/internal/embedding"
	"github.com/dhaines/ragserver/internal/metastore"
	"github.com/dhaines/ragserver/internal/storage"
)

// Embedder is the batch embedding capability the pipeline needs.
type Embedder interface {
	EmbedBatched(ctx context.Context, texts []string, model string, batchSize int, progress func(completed, total int)) (*embedding.BatchResult, error)
}

// ChunkStore writes chunk points to the vector store.
type ChunkStore interface {
	UpsertChunks(ctx context.Context, chunks []*storage.StoredChunk) error
	DeleteDocumentChunks(ctx context.Context, tenantID, documentID string) error
}

// DocumentStore tracks document rows through the ingestion lifecycle.
type DocumentStore interface {
	SaveDocument(ctx context.Context, doc *metastore.Document) error
	UpdateDocumentStatus(ctx context.Context, docID, status string, chunkCount int) error
}

// Options configures one pipeline run.
type Options struct {
	TenantID     string
	Tags         []string
	EmbedModel   string
	BatchSize    int
	ChunkOptions chunker.Options
}

// Result summarizes a completed run.
type Result struct {
	TotalDocs      int
	SuccessfulDocs int
	TotalChunks    int
	FailedDocs     []FailedDoc
	Duration       time.Duration
}

// FailedDoc records one document that could not be ingested.
type FailedDoc struct {
	Path   string
	Reason string
}

// Pipeline ingests documents from a source: extract metadata, chunk, embed,
// write the document row, upsert the chunk points.
type Pipeline struct {
	source   Source
	chunker  *chunker.Chunker
	embedder Embedder
	store    ChunkStore
	meta     DocumentStore
	opts     Options
	logger   *slog.Logger
}

func NewPipeline(source Source, ch *chunker.Chunker, embedder Embedder, store ChunkStore, meta DocumentStore, opts Options, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.EmbedModel == "" {
		opts.EmbedModel = embedding.DefaultModel
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = embedding.DefaultBatchSize
	}
	if opts.ChunkOptions == (chunker.Options{}) {
		opts.ChunkOptions = chunker.DefaultOptions()
	}
	return &Pipeline{
		source:   source,
		chunker:  ch,
		embedder: embedder,
		store:    store,
		meta:     meta,
		opts:     opts,
		logger:   logger,
	}
}

// Run ingests every document the source lists. Per-document failures are
// recorded and skipped; the run continues.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	result := &Result{}

	paths, err := p.source.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	result.TotalDocs = len(paths)
	p.logger.Info("Starting ingestion", "source", p.source.Type(), "documents", len(paths))

	for _, path := range paths {
		chunks, err := p.processDocument(ctx, path)
		if err != nil {
			p.logger.Warn("Failed to ingest document", "path", path, "error", err)
			result.FailedDocs = append(result.FailedDocs, FailedDoc{Path: path, Reason: err.Error()})
			continue
		}
		result.SuccessfulDocs++
		result.TotalChunks += chunks
	}

	result.Duration = time.Since(start)
	p.logger.Info("Ingestion complete",
		"successful", result.SuccessfulDocs,
		"failed", len(result.FailedDocs),
		"chunks", result.TotalChunks,
		"duration", result.Duration,
	)
	return result, nil
}

// processDocument runs the full pipeline for one document and returns the
// number of chunks written.
func (p *Pipeline) processDocument(ctx context.Context, path string) (int, error) {
	doc, err := p.source.Fetch(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("fetch: %w", err)
	}

	docMeta := chunker.ExtractDocumentMetadata(doc.Content)
	title := documentTitle(docMeta, path)

	docID := uuid.New().String()
	row := &metastore.Document{
		ID:            docID,
		TenantID:      p.opts.TenantID,
		Title:         title,
		SourceType:    p.source.Type(),
		SourcePath:    path,
		Tags:          metastore.TagsToJSON(p.opts.Tags),
		Status:        metastore.StatusPending,
		FileSizeBytes: int64(len(doc.Content)),
	}
	if err := p.meta.SaveDocument(ctx, row); err != nil {
		return 0, fmt.Errorf("save document: %w", err)
	}

	chunks := p.chunker.ChunkDocument(doc.Content, p.opts.ChunkOptions, chunker.StrategyAuto)
	if len(chunks) == 0 {
		p.markFailed(ctx, docID)
		return 0, fmt.Errorf("document produced no chunks")
	}
	p.logger.Debug("Chunked document", "path", path, "chunks", len(chunks))

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	batch, err := p.embedder.EmbedBatched(ctx, texts, p.opts.EmbedModel, p.opts.BatchSize, func(completed, total int) {
		p.logger.Debug("Embedding progress", "path", path, "completed", completed, "total", total)
	})
	if err != nil {
		p.markFailed(ctx, docID)
		return 0, fmt.Errorf("embed: %w", err)
	}
	if len(batch.Embeddings) != len(chunks) {
		p.markFailed(ctx, docID)
		return 0, fmt.Errorf("embedding count mismatch: %d chunks, %d vectors", len(chunks), len(batch.Embeddings))
	}

	points := make([]*storage.StoredChunk, len(chunks))
	for i, c := range chunks {
		points[i] = &storage.StoredChunk{
			ID:            uuid.New().String(),
			TenantID:      p.opts.TenantID,
			DocumentID:    docID,
			DocumentTitle: title,
			ChunkIndex:    c.Index,
			Content:       c.Content,
			TokenCount:    c.TokenCount,
			StartChar:     c.StartChar,
			EndChar:       c.EndChar,
			Header:        c.Metadata["header"],
			Embedding:     batch.Embeddings[i].Values,
		}
	}
	if err := p.store.UpsertChunks(ctx, points); err != nil {
		p.markFailed(ctx, docID)
		return 0, fmt.Errorf("store chunks: %w", err)
	}

	if err := p.meta.UpdateDocumentStatus(ctx, docID, metastore.StatusIndexed, len(chunks)); err != nil {
		return 0, fmt.Errorf("mark indexed: %w", err)
	}

	p.logger.Info("Ingested document", "path", path, "title", title, "chunks", len(chunks))
	return len(chunks), nil
}

func (p *Pipeline) markFailed(ctx context.Context, docID string) {
	if err := p.meta.UpdateDocumentStatus(ctx, docID, metastore.StatusFailed, 0); err != nil {
		p.logger.Warn("Failed to mark document failed", "document_id", docID, "error", err)
	}
}

// documentTitle prefers the document's first H1, falling back to the file
// name without extension.
func documentTitle(docMeta map[string]any, path string) string {
	if title, ok := docMeta["title"].(string); ok && title != "" {
		return title
	}
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
