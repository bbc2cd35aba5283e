package storage

// StoredChunk is a document chunk persisted in Qdrant with its embedding.
type StoredChunk struct {
	ID            string // UUID point id
	TenantID      string
	DocumentID    string
	DocumentTitle string
	ChunkIndex    int
	Content       string
	TokenCount    int
	StartChar     int
	EndChar       int
	Header        string // owning markdown section heading, if any
	Embedding     []float32
}

// SearchResultChunk is a transient per-query projection of a stored chunk
// joined with its similarity score. It is produced per query and never
// persisted.
type SearchResultChunk struct {
	ChunkID       string
	DocumentID    string
	DocumentTitle string
	Content       string
	Similarity    float64
	Metadata      map[string]string
}

// CollectionName is the single Qdrant collection holding all chunk points.
const CollectionName = "knowledge_chunks"

// DefaultVectorDimension matches text-embedding-3-small.
const DefaultVectorDimension = 1536
