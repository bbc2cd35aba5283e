package metastore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// Store wraps the relational database holding document records, tenant
// settings, and query analytics.
type Store struct {
	db *gorm.DB
}

// Open connects to the SQLite database at path and migrates the schema.
// Use ":memory:" for an in-memory database.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.AutoMigrate(&Document{}, &Settings{}, &QueryLog{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Health verifies the underlying connection is usable.
func (s *Store) Health(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveDocument inserts or replaces a document row keyed by ID.
func (s *Store) SaveDocument(ctx context.Context, doc *Document) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(doc).Error
}

// GetDocument returns the document row, or nil when no row exists.
func (s *Store) GetDocument(ctx context.Context, tenantID, docID string) (*Document, error) {
	var doc Document
	err := s.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", docID, tenantID).
		Take(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// ListDocuments returns all documents for a tenant, most recently updated
// first.
func (s *Store) ListDocuments(ctx context.Context, tenantID string) ([]Document, error) {
	var docs []Document
	err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("updated_at DESC").
		Find(&docs).Error
	return docs, err
}

// ListDocumentsByIDs fetches the document rows for the given IDs. Missing
// IDs are silently omitted from the result.
func (s *Store) ListDocumentsByIDs(ctx context.Context, tenantID string, ids []string) (map[string]*Document, error) {
	if len(ids) == 0 {
		return map[string]*Document{}, nil
	}
	var docs []Document
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND id IN ?", tenantID, ids).
		Find(&docs).Error
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*Document, len(docs))
	for i := range docs {
		byID[docs[i].ID] = &docs[i]
	}
	return byID, nil
}

// UpdateDocumentStatus stamps a new status (and chunk count when indexed).
func (s *Store) UpdateDocumentStatus(ctx context.Context, docID, status string, chunkCount int) error {
	updates := map[string]any{
		"status":     status,
		"updated_at": time.Now().UTC(),
	}
	if status == StatusIndexed {
		updates["chunk_count"] = chunkCount
	}
	return s.db.WithContext(ctx).
		Model(&Document{}).
		Where("id = ?", docID).
		Updates(updates).Error
}

// DeleteDocument removes the document row. Chunk deletion in the vector
// store is the caller's responsibility.
func (s *Store) DeleteDocument(ctx context.Context, tenantID, docID string) error {
	return s.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", docID, tenantID).
		Delete(&Document{}).Error
}

// GetSettings returns the tenant's settings row, or nil when the tenant
// has never saved settings (callers fall back to defaults).
func (s *Store) GetSettings(ctx context.Context, tenantID string) (*Settings, error) {
	var row Settings
	err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// UpsertSettings writes the full settings row for a tenant, replacing any
// existing row.
func (s *Store) UpsertSettings(ctx context.Context, row *Settings) error {
	now := time.Now().UTC()
	row.UpdatedAt = now
	if row.CreatedAt.IsZero() {
		row.CreatedAt = now
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "tenant_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"similarity_threshold": row.SimilarityThreshold,
			"max_chunks":           row.MaxChunks,
			"model":                row.Model,
			"temperature":          row.Temperature,
			"max_tokens":           row.MaxTokens,
			"include_citations":    row.IncludeCitations,
			"updated_at":           now,
		}),
	}).Create(row).Error
}

// InsertQueryLog records a completed query. Callers treat failures as
// non-fatal.
func (s *Store) InsertQueryLog(ctx context.Context, entry *QueryLog) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	return s.db.WithContext(ctx).Create(entry).Error
}

// GetStats aggregates document, storage, and query analytics for a tenant.
func (s *Store) GetStats(ctx context.Context, tenantID string) (*Stats, error) {
	stats := &Stats{
		DocumentsByType:  make(map[string]int64),
		DocumentsByState: make(map[string]int64),
	}

	db := s.db.WithContext(ctx)
	if err := db.Model(&Document{}).
		Where("tenant_id = ?", tenantID).
		Count(&stats.DocumentCount).Error; err != nil {
		return nil, err
	}

	var totals struct {
		Chunks int64
		Bytes  int64
	}
	if err := db.Model(&Document{}).
		Select("COALESCE(SUM(chunk_count),0) as chunks, COALESCE(SUM(file_size_bytes),0) as bytes").
		Where("tenant_id = ?", tenantID).
		Scan(&totals).Error; err != nil {
		return nil, err
	}
	stats.ChunkCount = totals.Chunks
	stats.StorageBytes = totals.Bytes

	var typeRows []struct {
		SourceType string
		Count      int64
	}
	if err := db.Model(&Document{}).
		Select("source_type, COUNT(*) as count").
		Where("tenant_id = ?", tenantID).
		Group("source_type").
		Find(&typeRows).Error; err != nil {
		return nil, err
	}
	for _, row := range typeRows {
		stats.DocumentsByType[row.SourceType] = row.Count
	}

	var statusRows []struct {
		Status string
		Count  int64
	}
	if err := db.Model(&Document{}).
		Select("status, COUNT(*) as count").
		Where("tenant_id = ?", tenantID).
		Group("status").
		Find(&statusRows).Error; err != nil {
		return nil, err
	}
	for _, row := range statusRows {
		stats.DocumentsByState[row.Status] = row.Count
	}

	now := time.Now().UTC()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if err := db.Model(&QueryLog{}).
		Where("tenant_id = ? AND created_at >= ?", tenantID, startOfDay).
		Count(&stats.QueriesToday).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&QueryLog{}).
		Where("tenant_id = ? AND created_at >= ?", tenantID, now.AddDate(0, 0, -7)).
		Count(&stats.QueriesLast7Days).Error; err != nil {
		return nil, err
	}

	// Mean of the top similarity over the most recent 100 queries that
	// actually found chunks.
	var recent []float64
	if err := db.Model(&QueryLog{}).
		Where("tenant_id = ? AND chunks_found > 0", tenantID).
		Order("created_at DESC").
		Limit(100).
		Pluck("top_similarity", &recent).Error; err != nil {
		return nil, err
	}
	if len(recent) > 0 {
		var sum float64
		for _, v := range recent {
			sum += v
		}
		stats.MeanTopScore = sum / float64(len(recent))
	}

	return stats, nil
}

// TagsToJSON serializes a tag list for storage; nil and empty both become
// an empty JSON array.
func TagsToJSON(tags []string) datatypes.JSON {
	if len(tags) == 0 {
		return datatypes.JSON([]byte("[]"))
	}
	raw, err := json.Marshal(tags)
	if err != nil {
		slog.Warn("Failed to marshal tags", "error", err)
		return datatypes.JSON([]byte("[]"))
	}
	return datatypes.JSON(raw)
}

// ParseTags deserializes a stored tag list; malformed data yields nil.
func ParseTags(raw datatypes.JSON) []string {
	if len(raw) == 0 {
		return nil
	}
	var tags []string
	if err := json.Unmarshal(raw, &tags); err != nil {
		return nil
	}
	return tags
}
