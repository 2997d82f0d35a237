package services

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/aihub/genai-rag/internal/errors"
	"github.com/aihub/genai-rag/internal/kafka"
	"github.com/aihub/genai-rag/internal/knowledge"
	"github.com/aihub/genai-rag/internal/logger"
	"github.com/aihub/genai-rag/internal/metrics"
	"github.com/aihub/genai-rag/internal/models"
	"github.com/aihub/genai-rag/internal/repository"
	"go.uber.org/zap"
)

// MissingQueryMessage 查询缺少 query 或 source 时返回给客户端的文本
const MissingQueryMessage = "Please provide Source as well as the query"

// 对话追加方式
const (
	AppendModeAtomic  = "atomic"
	AppendModeReplace = "replace"
)

// QueryRequest 无状态问答请求
type QueryRequest struct {
	Query  string `json:"query" validate:"required"`
	Source string `json:"source" validate:"required"`
}

// HistoryQueryRequest 带历史问答请求，ChatHistoryID 为空时新建对话
type HistoryQueryRequest struct {
	Query         string  `json:"query" validate:"required"`
	Source        string  `json:"source" validate:"required"`
	ChatHistoryID *string `json:"chatHistoryId,omitempty"`
}

// HistoryAnswer 带历史问答结果
type HistoryAnswer struct {
	Answer         string
	ConversationID string
	Turns          int
}

// TurnPublisher 轮次事件发布
type TurnPublisher interface {
	PublishTurn(event *kafka.TurnEvent) error
}

// QueryService 问答服务
type QueryService struct {
	retrievers knowledge.RetrieverFactory
	model      knowledge.ChatModel
	store      repository.ConversationStore
	appendMode string
	publisher  TurnPublisher
	metrics    *metrics.Metrics
	log        *zap.Logger

	publishMu  sync.Mutex
	draining   bool
	publishing sync.WaitGroup
}

// NewQueryService 创建问答服务，publisher 与 m 可为 nil
func NewQueryService(
	retrievers knowledge.RetrieverFactory,
	model knowledge.ChatModel,
	store repository.ConversationStore,
	appendMode string,
	publisher TurnPublisher,
	m *metrics.Metrics,
) *QueryService {
	if appendMode != AppendModeReplace {
		appendMode = AppendModeAtomic
	}
	return &QueryService{
		retrievers: retrievers,
		model:      model,
		store:      store,
		appendMode: appendMode,
		publisher:  publisher,
		metrics:    m,
		log:        logger.Named("query"),
	}
}

func (s *QueryService) chainDeps(retriever knowledge.Retriever) knowledge.ChainDeps {
	return knowledge.ChainDeps{
		Retriever: retriever,
		Model:     s.model,
		Observer:  s.observeStage,
	}
}

func (s *QueryService) observeStage(stage string, elapsed time.Duration, err error) {
	s.metrics.ObserveStage(stage, elapsed, err)
	if err != nil {
		s.log.Warn("Pipeline stage failed", zap.String("stage", stage), zap.Duration("elapsed", elapsed), zap.Error(err))
	}
}

func (s *QueryService) resolveRetriever(source string) (knowledge.Retriever, error) {
	retriever, err := s.retrievers.ForSource(source)
	if err != nil {
		return nil, apperrors.NewUpstreamError("retriever", err)
	}
	return retriever, nil
}

// Prompt 无状态问答，不读写对话历史
func (s *QueryService) Prompt(ctx context.Context, req QueryRequest) (string, error) {
	if err := validateRequest(&req, MissingQueryMessage); err != nil {
		return "", err
	}

	retriever, err := s.resolveRetriever(req.Source)
	if err != nil {
		return "", err
	}

	chain := knowledge.NewRetrievalChain(s.chainDeps(retriever))
	answer, err := chain.Invoke(ctx, knowledge.ChainInput{Question: req.Query})
	if err != nil {
		return "", classifyChainError(err)
	}
	return answer, nil
}

// PromptWithHistory 基于对话历史问答，成功后把 (query, answer) 追加为新一轮
func (s *QueryService) PromptWithHistory(ctx context.Context, req HistoryQueryRequest) (*HistoryAnswer, error) {
	if err := validateRequest(&req, MissingQueryMessage); err != nil {
		return nil, err
	}

	retriever, err := s.resolveRetriever(req.Source)
	if err != nil {
		return nil, err
	}

	conv, err := s.store.FetchOrCreate(ctx, req.ChatHistoryID)
	if err != nil {
		return nil, classifyStoreError(err, req.ChatHistoryID)
	}

	chain := knowledge.NewHistoryAwareChain(s.chainDeps(retriever))
	answer, err := chain.Invoke(ctx, knowledge.ChainInput{
		Question: req.Query,
		History:  knowledge.HistoryMessages(conv.HumanMessages, conv.AIMessages),
	})
	if err != nil {
		return nil, classifyChainError(err)
	}

	// 客户端断开后仍写入本轮
	persistCtx := context.WithoutCancel(ctx)
	updated, err := s.appendTurn(persistCtx, conv, req.Query, answer)
	if err != nil {
		return nil, classifyStoreError(err, &conv.ID)
	}
	s.metrics.IncConversationTurn(s.appendMode)

	s.publishTurn(updated, req.Source, req.Query, answer)

	return &HistoryAnswer{
		Answer:         answer,
		ConversationID: updated.ID,
		Turns:          updated.Len(),
	}, nil
}

func (s *QueryService) appendTurn(ctx context.Context, conv *models.Conversation, human, ai string) (*models.Conversation, error) {
	if s.appendMode == AppendModeAtomic {
		return s.store.AppendTurn(ctx, conv.ID, human, ai)
	}

	conv.AppendTurn(human, ai)
	if err := s.store.Persist(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

func (s *QueryService) publishTurn(conv *models.Conversation, source, human, ai string) {
	if s.publisher == nil {
		return
	}
	event := &kafka.TurnEvent{
		Type:           kafka.EventTurnAppended,
		ConversationID: conv.ID,
		Source:         source,
		Human:          human,
		AI:             ai,
		TurnCount:      conv.Len(),
		Timestamp:      time.Now(),
	}
	s.publishMu.Lock()
	if s.draining {
		s.publishMu.Unlock()
		s.log.Warn("Dropping turn event during shutdown", zap.String("conversation_id", event.ConversationID))
		return
	}
	s.publishing.Add(1)
	s.publishMu.Unlock()

	go func() {
		defer s.publishing.Done()
		if err := s.publisher.PublishTurn(event); err != nil {
			s.metrics.IncKafkaPublishError()
			s.log.Warn("Failed to publish turn event",
				zap.String("conversation_id", event.ConversationID), zap.Error(err))
		}
	}()
}

// Drain 停止发起新的轮次事件并等待已发起的发布结束，ctx 结束时放弃等待
func (s *QueryService) Drain(ctx context.Context) error {
	s.publishMu.Lock()
	s.draining = true
	s.publishMu.Unlock()

	done := make(chan struct{})
	go func() {
		s.publishing.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func classifyChainError(err error) error {
	var stageErr *knowledge.StageError
	if stderrors.As(err, &stageErr) {
		return apperrors.NewUpstreamError(stageErr.Stage, stageErr.Err)
	}
	return apperrors.NewUpstreamError("pipeline", err)
}

func classifyStoreError(err error, id *string) error {
	switch {
	case stderrors.Is(err, repository.ErrConversationNotFound):
		return apperrors.NewNotFoundError(fmt.Sprintf("conversation %s", derefID(id))).WithCause(err)
	case stderrors.Is(err, repository.ErrInvalidIdentifier):
		return apperrors.NewInvalidIdentifierError(derefID(id)).WithCause(err)
	default:
		return apperrors.NewDatabaseError("conversation", err)
	}
}

func derefID(id *string) string {
	if id == nil {
		return ""
	}
	return *id
}
