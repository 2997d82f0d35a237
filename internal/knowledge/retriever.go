package knowledge

import (
	"context"
	"fmt"
)

// Retriever 根据查询返回相关文档
type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]Document, error)
}

// MMROptions 检索参数
type MMROptions struct {
	K      int
	FetchK int
	Lambda float64
}

// DefaultMMROptions fetchK=20, lambda=0.1
var DefaultMMROptions = MMROptions{K: 4, FetchK: 20, Lambda: 0.1}

// VectorStoreRetriever 先按来源取fetchK个候选，再用MMR选出k个
type VectorStoreRetriever struct {
	store    VectorStore
	embedder Embedder
	source   string
	opts     MMROptions
}

func NewVectorStoreRetriever(store VectorStore, embedder Embedder, source string, opts MMROptions) *VectorStoreRetriever {
	if opts.K <= 0 {
		opts.K = DefaultMMROptions.K
	}
	if opts.FetchK < opts.K {
		opts.FetchK = opts.K
	}
	return &VectorStoreRetriever{store: store, embedder: embedder, source: source, opts: opts}
}

func (r *VectorStoreRetriever) Retrieve(ctx context.Context, query string) ([]Document, error) {
	queryVec, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	candidates, err := r.store.Search(ctx, VectorSearchRequest{
		Source:         r.source,
		QueryEmbedding: queryVec,
		Limit:          r.opts.FetchK,
	})
	if err != nil {
		return nil, err
	}

	vectors := make([][]float32, len(candidates))
	for i, c := range candidates {
		vectors[i] = c.Embedding
	}

	picked := MaxMarginalRelevance(queryVec, vectors, r.opts.Lambda, r.opts.K)
	docs := make([]Document, 0, len(picked))
	for _, idx := range picked {
		docs = append(docs, Document{
			PageContent: candidates[idx].Text,
			Source:      candidates[idx].Source,
			Metadata:    map[string]interface{}{"score": candidates[idx].Score},
		})
	}
	return docs, nil
}

// RetrieverFactory 按来源创建检索器
type RetrieverFactory interface {
	ForSource(source string) (Retriever, error)
}

// VectorRetrieverFactory 基于向量库的检索器工厂
type VectorRetrieverFactory struct {
	Store    VectorStore
	Embedder Embedder
	Options  MMROptions
}

func (f *VectorRetrieverFactory) ForSource(source string) (Retriever, error) {
	if f.Store == nil || !f.Store.Ready() {
		return nil, fmt.Errorf("vector store not ready")
	}
	if f.Embedder == nil || !f.Embedder.Ready() {
		return nil, fmt.Errorf("embedding provider not configured")
	}
	return NewVectorStoreRetriever(f.Store, f.Embedder, source, f.Options), nil
}
