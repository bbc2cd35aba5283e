package metastore

import (
	"time"

	"gorm.io/datatypes"
)

// Document is the relational record for an ingested document. The chunk
// contents and embeddings live in Qdrant; this row tracks identity, tags,
// and ingestion status.
type Document struct {
	ID            string         `gorm:"primaryKey;size:64" json:"id"`
	TenantID      string         `gorm:"size:64;not null;index:idx_tenant_doc" json:"tenant_id"`
	Title         string         `gorm:"size:255;not null" json:"title"`
	SourceType    string         `gorm:"size:32;not null;default:'file'" json:"source_type"`
	SourcePath    string         `gorm:"size:512" json:"source_path,omitempty"`
	Tags          datatypes.JSON `gorm:"type:json" json:"tags,omitempty"`
	Status        string         `gorm:"size:16;not null;default:'pending'" json:"status"`
	FileSizeBytes int64          `gorm:"not null;default:0" json:"file_size_bytes"`
	ChunkCount    int            `gorm:"not null;default:0" json:"chunk_count"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

func (Document) TableName() string {
	return "knowledge_documents"
}

// Document status values.
const (
	StatusPending  = "pending"
	StatusIndexed  = "indexed"
	StatusFailed   = "failed"
	StatusDeleting = "deleting"
)

// Settings holds the per-tenant retrieval and generation configuration.
// At most one row per tenant; absent rows mean defaults apply.
type Settings struct {
	TenantID            string    `gorm:"primaryKey;size:64" json:"tenant_id"`
	SimilarityThreshold float64   `gorm:"not null;default:0.7" json:"similarity_threshold"`
	MaxChunks           int       `gorm:"not null;default:5" json:"max_chunks"`
	Model               string    `gorm:"size:64;not null;default:'gpt-4o-mini'" json:"model"`
	Temperature         float64   `gorm:"not null;default:0.7" json:"temperature"`
	MaxTokens           int       `gorm:"not null;default:1000" json:"max_tokens"`
	IncludeCitations    bool      `gorm:"not null;default:true" json:"include_citations"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

func (Settings) TableName() string {
	return "knowledge_settings"
}

// QueryLog records one retrieval query for analytics. Written best-effort
// after each query; failures to log never fail the query itself.
type QueryLog struct {
	ID            uint64         `gorm:"primaryKey;autoIncrement" json:"id"`
	TenantID      string         `gorm:"size:64;not null;index" json:"tenant_id"`
	Query         string         `gorm:"type:text;not null" json:"query"`
	Embedding     datatypes.JSON `gorm:"type:json" json:"embedding,omitempty"`
	ChunksFound   int            `gorm:"not null;default:0" json:"chunks_found"`
	TopSimilarity float64        `gorm:"not null;default:0" json:"top_similarity"`
	ContextTokens int            `gorm:"not null;default:0" json:"context_tokens"`
	Response      string         `gorm:"type:text" json:"response,omitempty"`
	Model         string         `gorm:"size:64" json:"model,omitempty"`
	SearchMs      int64          `gorm:"not null;default:0" json:"search_ms"`
	GenerateMs    int64          `gorm:"not null;default:0" json:"generate_ms"`
	CreatedAt     time.Time      `gorm:"index" json:"created_at"`
}

func (QueryLog) TableName() string {
	return "knowledge_query_logs"
}

// Stats is the aggregate snapshot served by the stats operation.
type Stats struct {
	DocumentCount    int64            `json:"document_count"`
	ChunkCount       int64            `json:"chunk_count"`
	StorageBytes     int64            `json:"storage_bytes"`
	DocumentsByType  map[string]int64 `json:"documents_by_type"`
	DocumentsByState map[string]int64 `json:"documents_by_state"`
	QueriesToday     int64            `json:"queries_today"`
	QueriesLast7Days int64            `json:"queries_last_7_days"`
	MeanTopScore     float64          `json:"mean_top_score"`
}
