package knowledge

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
)

const (
	milvusFieldID     = "id"
	milvusFieldSource = "source"
	milvusFieldText   = "text"
	milvusFieldVector = "vector"
)

// MilvusOptions Milvus客户端配置
type MilvusOptions struct {
	Address    string
	Username   string
	Password   string
	Collection string
	VectorSize int
	Database   string
	UseTLS     bool
	Timeout    time.Duration
}

type milvusVectorStore struct {
	milvusClient client.Client
	collection   string
	vectorSize   int

	ensureOnce sync.Once
	ensureErr  error
}

// NewMilvusVectorStore 创建Milvus向量存储
func NewMilvusVectorStore(opts MilvusOptions) (VectorStore, error) {
	if opts.Address == "" {
		opts.Address = "localhost:19530"
	}
	if opts.Collection == "" {
		opts.Collection = "embedded_texts"
	}
	if opts.VectorSize == 0 {
		opts.VectorSize = 1536
	}
	if opts.Database == "" {
		opts.Database = "default"
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	milvusClient, err := client.NewClient(ctx, client.Config{
		Address:       opts.Address,
		DBName:        opts.Database,
		Username:      opts.Username,
		Password:      opts.Password,
		EnableTLSAuth: opts.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	return &milvusVectorStore{
		milvusClient: milvusClient,
		collection:   opts.Collection,
		vectorSize:   opts.VectorSize,
	}, nil
}

func (s *milvusVectorStore) ensureCollection(ctx context.Context) error {
	s.ensureOnce.Do(func() {
		s.ensureErr = s.createCollection(ctx)
	})
	return s.ensureErr
}

func (s *milvusVectorStore) createCollection(ctx context.Context) error {
	hasCollection, err := s.milvusClient.HasCollection(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}

	if !hasCollection {
		schema := &entity.Schema{
			CollectionName: s.collection,
			Description:    "embedded document chunks",
			Fields: []*entity.Field{
				{
					Name:       milvusFieldID,
					DataType:   entity.FieldTypeInt64,
					PrimaryKey: true,
					AutoID:     true,
				},
				{
					Name:     milvusFieldSource,
					DataType: entity.FieldTypeVarChar,
					TypeParams: map[string]string{
						"max_length": "2048",
					},
				},
				{
					Name:     milvusFieldText,
					DataType: entity.FieldTypeVarChar,
					TypeParams: map[string]string{
						"max_length": "65535",
					},
				},
				{
					Name:     milvusFieldVector,
					DataType: entity.FieldTypeFloatVector,
					TypeParams: map[string]string{
						"dim": fmt.Sprintf("%d", s.vectorSize),
					},
				},
			},
		}
		if err := s.milvusClient.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
			return fmt.Errorf("failed to create collection: %w", err)
		}

		index, err := entity.NewIndexHNSW(entity.COSINE, 8, 64)
		if err != nil {
			return fmt.Errorf("failed to build index: %w", err)
		}
		if err := s.milvusClient.CreateIndex(ctx, s.collection, milvusFieldVector, index, false); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	if err := s.milvusClient.LoadCollection(ctx, s.collection, false); err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}
	return nil
}

func (s *milvusVectorStore) AddRecords(ctx context.Context, records []VectorRecord) error {
	if len(records) == 0 {
		return nil
	}
	if err := s.ensureCollection(ctx); err != nil {
		return err
	}

	sources := make([]string, 0, len(records))
	texts := make([]string, 0, len(records))
	vectors := make([][]float32, 0, len(records))
	for _, rec := range records {
		if len(rec.Embedding) != s.vectorSize {
			return fmt.Errorf("embedding dimension %d does not match collection dimension %d", len(rec.Embedding), s.vectorSize)
		}
		sources = append(sources, rec.Source)
		texts = append(texts, rec.Text)
		vectors = append(vectors, rec.Embedding)
	}

	_, err := s.milvusClient.Insert(ctx, s.collection, "",
		entity.NewColumnVarChar(milvusFieldSource, sources),
		entity.NewColumnVarChar(milvusFieldText, texts),
		entity.NewColumnFloatVector(milvusFieldVector, s.vectorSize, vectors),
	)
	if err != nil {
		return fmt.Errorf("milvus insert failed: %w", err)
	}
	if err := s.milvusClient.Flush(ctx, s.collection, false); err != nil {
		return fmt.Errorf("milvus flush failed: %w", err)
	}
	return nil
}

func sourceExpr(source string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(source)
	return fmt.Sprintf(`%s == "%s"`, milvusFieldSource, escaped)
}

func (s *milvusVectorStore) Search(ctx context.Context, req VectorSearchRequest) ([]SearchMatch, error) {
	if len(req.QueryEmbedding) == 0 {
		return nil, nil
	}
	if err := s.ensureCollection(ctx); err != nil {
		return nil, err
	}
	if req.Limit == 0 {
		req.Limit = 10
	}

	expr := ""
	if req.Source != "" {
		expr = sourceExpr(req.Source)
	}

	sp, _ := entity.NewIndexHNSWSearchParam(64)
	searchResults, err := s.milvusClient.Search(
		ctx,
		s.collection,
		[]string{},
		expr,
		[]string{milvusFieldSource, milvusFieldText, milvusFieldVector},
		[]entity.Vector{entity.FloatVector(req.QueryEmbedding)},
		milvusFieldVector,
		entity.COSINE,
		req.Limit,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("milvus search failed: %w", err)
	}
	if len(searchResults) == 0 {
		return []SearchMatch{}, nil
	}
	result := searchResults[0]
	if result.Err != nil {
		return nil, fmt.Errorf("milvus search error: %w", result.Err)
	}

	var sources, texts []string
	var vectors [][]float32
	for _, field := range result.Fields {
		switch field.Name() {
		case milvusFieldSource:
			if col, ok := field.(*entity.ColumnVarChar); ok {
				sources = col.Data()
			}
		case milvusFieldText:
			if col, ok := field.(*entity.ColumnVarChar); ok {
				texts = col.Data()
			}
		case milvusFieldVector:
			if col, ok := field.(*entity.ColumnFloatVector); ok {
				vectors = col.Data()
			}
		}
	}

	matches := make([]SearchMatch, 0, result.ResultCount)
	for i := 0; i < result.ResultCount; i++ {
		match := SearchMatch{}
		if i < len(sources) {
			match.Source = sources[i]
		}
		if i < len(texts) {
			match.Text = texts[i]
		}
		if i < len(vectors) {
			match.Embedding = vectors[i]
		}
		if i < len(result.Scores) {
			match.Score = float64(result.Scores[i])
		}
		matches = append(matches, match)
	}
	return matches, nil
}

func (s *milvusVectorStore) ListSources(ctx context.Context) ([]string, error) {
	if err := s.ensureCollection(ctx); err != nil {
		return nil, err
	}

	resultSet, err := s.milvusClient.Query(ctx, s.collection, []string{},
		fmt.Sprintf(`%s != ""`, milvusFieldSource),
		[]string{milvusFieldSource},
		client.WithLimit(16384),
	)
	if err != nil {
		return nil, fmt.Errorf("milvus query failed: %w", err)
	}

	col, ok := resultSet.GetColumn(milvusFieldSource).(*entity.ColumnVarChar)
	if !ok {
		return []string{}, nil
	}
	seen := make(map[string]struct{})
	sources := make([]string, 0)
	for _, source := range col.Data() {
		if _, dup := seen[source]; dup {
			continue
		}
		seen[source] = struct{}{}
		sources = append(sources, source)
	}
	sort.Strings(sources)
	return sources, nil
}

func (s *milvusVectorStore) Ready() bool {
	if s.milvusClient == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := s.milvusClient.ListCollections(ctx)
	return err == nil
}

// Close 关闭Milvus连接
func (s *milvusVectorStore) Close() error {
	return s.milvusClient.Close()
}
