// Package storage is the Qdrant-backed vector store client: it persists chunk
// points and performs tenant-scoped nearest-neighbor search. It is an
// orchestration client over Qdrant's similarity-search capability, not an
// index implementation.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/qdrant/go-client/qdrant"
)

// QdrantStorage wraps the Qdrant client with connection management and health
// checks.
type QdrantStorage struct {
	client     *qdrant.Client
	host       string
	port       int
	dimensions int
}

// NewQdrantStorage creates a Qdrant client and validates connectivity with a
// retried health check, failing fast if the server is unreachable. dimensions
// selects the collection's vector size; 0 means DefaultVectorDimension.
func NewQdrantStorage(host string, port, dimensions int) (*QdrantStorage, error) {
	if dimensions <= 0 {
		dimensions = DefaultVectorDimension
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host: host,
		Port: port,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	s := &QdrantStorage{
		client:     client,
		host:       host,
		port:       port,
		dimensions: dimensions,
	}

	if err := s.healthCheckWithRetry(context.Background()); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %v", ErrQdrantUnreachable, err)
	}
	return s, nil
}

// healthCheckWithRetry performs the startup health check with exponential
// backoff: initial interval 500ms, max interval 10s, max elapsed 30s.
func (s *QdrantStorage) healthCheckWithRetry(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second

	return backoff.Retry(func() error {
		return s.Health(ctx)
	}, backoff.WithContext(b, ctx))
}

// Health performs a single health check against Qdrant.
func (s *QdrantStorage) Health(ctx context.Context) error {
	result, err := s.client.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if result == nil || result.Title == "" {
		return fmt.Errorf("health check returned invalid response")
	}
	return nil
}

// EnsureCollection creates the chunk collection (cosine distance, named vector
// "content") and its payload indexes if missing. Idempotent.
func (s *QdrantStorage) EnsureCollection(ctx context.Context) error {
	collections, err := s.client.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("failed to list collections: %w", err)
	}
	for _, name := range collections {
		if name == CollectionName {
			return nil
		}
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: CollectionName,
		VectorsConfig: qdrant.NewVectorsConfigMap(map[string]*qdrant.VectorParams{
			"content": {
				Size:     uint64(s.dimensions),
				Distance: qdrant.Distance_Cosine,
			},
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	return s.createPayloadIndexes(ctx)
}

// createPayloadIndexes indexes the filterable fields. Without these, filtered
// search degrades badly on large collections.
func (s *QdrantStorage) createPayloadIndexes(ctx context.Context) error {
	for _, field := range []string{"tenant_id", "document_id"} {
		_, err := s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: CollectionName,
			FieldName:      field,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		})
		if err != nil {
			return fmt.Errorf("failed to create index for field %s: %w", field, err)
		}
	}
	return nil
}

// Close closes the Qdrant client connection.
func (s *QdrantStorage) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// upsertWithRetry performs an upsert with exponential backoff.
func (s *QdrantStorage) upsertWithRetry(ctx context.Context, points []*qdrant.PointStruct) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second

	return backoff.Retry(func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: CollectionName,
			Points:         points,
		})
		return err
	}, backoff.WithContext(b, ctx))
}

// UpsertChunks stores chunk points with embeddings, batched in groups of 100.
func (s *QdrantStorage) UpsertChunks(ctx context.Context, chunks []*StoredChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	for i, chunk := range chunks {
		if len(chunk.Embedding) != s.dimensions {
			return fmt.Errorf("%w: chunk %d has %d dimensions, expected %d",
				ErrDimensionMismatch, i, len(chunk.Embedding), s.dimensions)
		}
	}

	const batchSize = 100
	for i := 0; i < len(chunks); i += batchSize {
		end := min(i+batchSize, len(chunks))

		batch := chunks[i:end]
		points := make([]*qdrant.PointStruct, len(batch))
		for j, chunk := range batch {
			points[j] = &qdrant.PointStruct{
				Id: qdrant.NewIDUUID(chunk.ID),
				Vectors: qdrant.NewVectorsMap(map[string]*qdrant.Vector{
					"content": qdrant.NewVector(chunk.Embedding...),
				}),
				Payload: qdrant.NewValueMap(map[string]any{
					"tenant_id":      chunk.TenantID,
					"document_id":    chunk.DocumentID,
					"document_title": chunk.DocumentTitle,
					"chunk_index":    chunk.ChunkIndex,
					"token_count":    chunk.TokenCount,
					"start_char":     chunk.StartChar,
					"end_char":       chunk.EndChar,
					"header":         chunk.Header,
					"content":        chunk.Content,
				}),
			}
		}

		if err := s.upsertWithRetry(ctx, points); err != nil {
			return fmt.Errorf("failed to upsert batch %d-%d: %w", i, end, err)
		}
	}
	return nil
}

// DeleteDocumentChunks removes every chunk point belonging to a document.
func (s *QdrantStorage) DeleteDocumentChunks(ctx context.Context, tenantID, documentID string) error {
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: CollectionName,
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch("tenant_id", tenantID),
				qdrant.NewMatch("document_id", documentID),
			},
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to delete chunks for document %s: %w", documentID, err)
	}
	return nil
}

// SearchChunks performs tenant-scoped vector similarity search, pushing the
// similarity threshold into the Qdrant query. Results come back ordered by
// score descending.
func (s *QdrantStorage) SearchChunks(ctx context.Context, embedding []float32, tenantID string, threshold float64, limit int) ([]SearchResultChunk, error) {
	if len(embedding) != s.dimensions {
		return nil, fmt.Errorf("%w: query has %d dimensions, expected %d",
			ErrDimensionMismatch, len(embedding), s.dimensions)
	}
	if limit <= 0 {
		limit = 10
	}

	vectorName := "content"
	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: CollectionName,
		Query:          qdrant.NewQuery(embedding...),
		Using:          &vectorName,
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch("tenant_id", tenantID),
			},
		},
		ScoreThreshold: qdrant.PtrOf(float32(threshold)),
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(false),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search chunks: %w", err)
	}

	chunks := make([]SearchResultChunk, 0, len(results))
	for _, result := range results {
		payload := result.Payload

		var meta map[string]string
		if header := payload["header"].GetStringValue(); header != "" {
			meta = map[string]string{"header": header}
		}

		chunks = append(chunks, SearchResultChunk{
			ChunkID:       result.Id.GetUuid(),
			DocumentID:    payload["document_id"].GetStringValue(),
			DocumentTitle: payload["document_title"].GetStringValue(),
			Content:       payload["content"].GetStringValue(),
			Similarity:    float64(result.Score),
			Metadata:      meta,
		})
	}
	return chunks, nil
}

// GetChunkEmbedding returns the embedding of one chunk from the given
// document, used as a proxy query vector for similar-document search.
func (s *QdrantStorage) GetChunkEmbedding(ctx context.Context, tenantID, documentID string) ([]float32, error) {
	results, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: CollectionName,
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch("tenant_id", tenantID),
				qdrant.NewMatch("document_id", documentID),
			},
		},
		Limit:       qdrant.PtrOf(uint32(1)),
		WithVectors: qdrant.NewWithVectors(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scroll for chunk embedding: %w", err)
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("%w: document %s", ErrChunkNotFound, documentID)
	}

	named := results[0].Vectors.GetVectors()
	if named == nil {
		return nil, fmt.Errorf("%w: document %s has no vectors", ErrChunkNotFound, documentID)
	}
	vec, ok := named.Vectors["content"]
	if !ok || vec == nil {
		return nil, fmt.Errorf("%w: document %s missing content vector", ErrChunkNotFound, documentID)
	}
	return vec.GetData(), nil
}

// CountChunks returns the exact number of chunk points for a tenant.
func (s *QdrantStorage) CountChunks(ctx context.Context, tenantID string) (uint64, error) {
	count, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: CollectionName,
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch("tenant_id", tenantID),
			},
		},
		Exact: qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return count, nil
}
