package knowledge

import (
	"context"
	"math"
	"sort"
)

// VectorRecord 待写入的向量记录
type VectorRecord struct {
	Source    string
	Text      string
	Embedding []float32
}

// VectorSearchRequest 向量检索请求，Source 为空时不按来源过滤
type VectorSearchRequest struct {
	Source         string
	QueryEmbedding []float32
	Limit          int
}

// SearchMatch 检索结果，Embedding 供MMR重排使用
type SearchMatch struct {
	Source    string
	Text      string
	Score     float64
	Embedding []float32
}

// VectorStore 向量存储抽象
type VectorStore interface {
	AddRecords(ctx context.Context, records []VectorRecord) error
	Search(ctx context.Context, req VectorSearchRequest) ([]SearchMatch, error)
	ListSources(ctx context.Context) ([]string, error)
	Ready() bool
}

func vectorNorm(vec []float32) float64 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func sortMatchesByScore(matches []SearchMatch) {
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
}

// mergeMatches 合并两组已排序结果并保留前limit条，得分相同时a中的结果在前
func mergeMatches(a, b []SearchMatch, limit int) []SearchMatch {
	merged := make([]SearchMatch, 0, len(a)+len(b))
	merged = append(merged, a...)
	merged = append(merged, b...)
	sortMatchesByScore(merged)
	if limit > 0 && len(merged) > limit {
		merged = merged[:limit]
	}
	return merged
}

// rankBySimilarity 计算余弦相似度并按得分截取前limit条
func rankBySimilarity(query []float32, records []VectorRecord, limit int) []SearchMatch {
	matches := make([]SearchMatch, 0, len(records))
	for _, rec := range records {
		matches = append(matches, SearchMatch{
			Source:    rec.Source,
			Text:      rec.Text,
			Score:     cosineSimilarity(query, rec.Embedding),
			Embedding: rec.Embedding,
		})
	}
	sortMatchesByScore(matches)
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}
