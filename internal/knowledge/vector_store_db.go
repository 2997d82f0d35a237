package knowledge

import (
	"context"
	"fmt"
	"time"

	"github.com/aihub/genai-rag/internal/models"
	"gorm.io/gorm"
)

// DatabaseVectorStore 基于PostgreSQL的退化向量存储，相似度在进程内计算
type DatabaseVectorStore struct {
	db        *gorm.DB
	batchSize int
}

// NewDatabaseVectorStore batchSize 为检索时每批读取的行数
func NewDatabaseVectorStore(db *gorm.DB, batchSize int) VectorStore {
	if batchSize <= 0 {
		batchSize = 1000
	}
	return &DatabaseVectorStore{db: db, batchSize: batchSize}
}

func (s *DatabaseVectorStore) AddRecords(ctx context.Context, records []VectorRecord) error {
	if len(records) == 0 {
		return nil
	}
	now := time.Now()
	rows := make([]models.EmbeddedText, 0, len(records))
	for _, rec := range records {
		if len(rec.Embedding) == 0 {
			return fmt.Errorf("embedding is empty")
		}
		rows = append(rows, models.EmbeddedText{
			Source:    rec.Source,
			Text:      rec.Text,
			Embedding: rec.Embedding,
			CreatedAt: now,
		})
	}
	if err := s.db.WithContext(ctx).CreateInBatches(rows, 100).Error; err != nil {
		return fmt.Errorf("failed to store embeddings: %w", err)
	}
	return nil
}

func (s *DatabaseVectorStore) Search(ctx context.Context, req VectorSearchRequest) ([]SearchMatch, error) {
	if len(req.QueryEmbedding) == 0 {
		return nil, nil
	}
	if vectorNorm(req.QueryEmbedding) == 0 {
		return nil, fmt.Errorf("query embedding norm is zero")
	}
	if req.Limit == 0 {
		req.Limit = 10
	}

	query := s.db.WithContext(ctx).Model(&models.EmbeddedText{})
	if req.Source != "" {
		query = query.Where("source = ?", req.Source)
	}

	// 按主键分批扫描该来源的全部行，只保留当前前limit条
	var best []SearchMatch
	var rows []models.EmbeddedText
	err := query.FindInBatches(&rows, s.batchSize, func(_ *gorm.DB, _ int) error {
		records := make([]VectorRecord, 0, len(rows))
		for _, row := range rows {
			records = append(records, VectorRecord{Source: row.Source, Text: row.Text, Embedding: row.Embedding})
		}
		best = mergeMatches(best, rankBySimilarity(req.QueryEmbedding, records, req.Limit), req.Limit)
		return nil
	}).Error
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	return best, nil
}

func (s *DatabaseVectorStore) ListSources(ctx context.Context) ([]string, error) {
	var sources []string
	err := s.db.WithContext(ctx).
		Model(&models.EmbeddedText{}).
		Where("source IS NOT NULL AND source <> ''").
		Distinct("source").
		Order("source").
		Pluck("source", &sources).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	return sources, nil
}

func (s *DatabaseVectorStore) Ready() bool {
	return s.db != nil
}
