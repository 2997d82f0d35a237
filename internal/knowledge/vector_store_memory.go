package knowledge

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryVectorStore 进程内向量存储，用于本地开发和测试
type MemoryVectorStore struct {
	mu      sync.RWMutex
	records []VectorRecord
}

func NewMemoryVectorStore() *MemoryVectorStore {
	return &MemoryVectorStore{}
}

func (s *MemoryVectorStore) AddRecords(ctx context.Context, records []VectorRecord) error {
	for _, rec := range records {
		if len(rec.Embedding) == 0 {
			return fmt.Errorf("embedding is empty")
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range records {
		vec := make([]float32, len(rec.Embedding))
		copy(vec, rec.Embedding)
		s.records = append(s.records, VectorRecord{Source: rec.Source, Text: rec.Text, Embedding: vec})
	}
	return nil
}

func (s *MemoryVectorStore) Search(ctx context.Context, req VectorSearchRequest) ([]SearchMatch, error) {
	if len(req.QueryEmbedding) == 0 {
		return nil, nil
	}
	s.mu.RLock()
	candidates := make([]VectorRecord, 0, len(s.records))
	for _, rec := range s.records {
		if req.Source == "" || rec.Source == req.Source {
			candidates = append(candidates, rec)
		}
	}
	s.mu.RUnlock()
	return rankBySimilarity(req.QueryEmbedding, candidates, req.Limit), nil
}

func (s *MemoryVectorStore) ListSources(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	sources := make([]string, 0)
	for _, rec := range s.records {
		if rec.Source == "" {
			continue
		}
		if _, ok := seen[rec.Source]; ok {
			continue
		}
		seen[rec.Source] = struct{}{}
		sources = append(sources, rec.Source)
	}
	sort.Strings(sources)
	return sources, nil
}

// Len 记录总数
func (s *MemoryVectorStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *MemoryVectorStore) Ready() bool {
	return true
}
