package services

import (
	"context"

	apperrors "github.com/aihub/genai-rag/internal/errors"
	"github.com/aihub/genai-rag/internal/knowledge"
	"github.com/aihub/genai-rag/internal/repository"
)

// SourceService 列出已训练来源与对话
type SourceService struct {
	vectors       knowledge.VectorStore
	conversations repository.ConversationStore
}

func NewSourceService(vectors knowledge.VectorStore, conversations repository.ConversationStore) *SourceService {
	return &SourceService{vectors: vectors, conversations: conversations}
}

// TrainedModels 向量库中出现过的非空来源
func (s *SourceService) TrainedModels(ctx context.Context) ([]string, error) {
	sources, err := s.vectors.ListSources(ctx)
	if err != nil {
		return nil, apperrors.NewUpstreamError("list sources", err)
	}
	out := make([]string, 0, len(sources))
	for _, src := range sources {
		if src != "" {
			out = append(out, src)
		}
	}
	return out, nil
}

// ChatHistories 所有对话ID
func (s *SourceService) ChatHistories(ctx context.Context) ([]string, error) {
	ids, err := s.conversations.ListIDs(ctx)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list conversations", err)
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}
