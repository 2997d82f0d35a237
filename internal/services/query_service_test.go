package services

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "github.com/aihub/genai-rag/internal/errors"
	"github.com/aihub/genai-rag/internal/kafka"
	"github.com/aihub/genai-rag/internal/knowledge"
	"github.com/aihub/genai-rag/internal/models"
	"github.com/aihub/genai-rag/internal/repository"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func recipeRetriever() *stubRetriever {
	return &stubRetriever{docs: []knowledge.Document{
		{PageContent: "BBQ Chicken: chicken thighs, BBQ sauce, salt.", Source: "./uploads/recipes.pdf"},
		{PageContent: "Grill for 25 minutes, basting with sauce.", Source: "./uploads/recipes.pdf"},
	}}
}

func TestPrompt_MissingFieldsReturnValidationError(t *testing.T) {
	store := &mockConversationStore{}
	factory := &stubRetrieverFactory{retriever: recipeRetriever()}
	svc := NewQueryService(factory, &scriptedModel{}, store, AppendModeAtomic, nil, nil)

	for _, req := range []QueryRequest{
		{Query: "What is BBQ Chicken?"},
		{Source: "./uploads/recipes.pdf"},
		{},
	} {
		_, err := svc.Prompt(context.Background(), req)
		require.Error(t, err)
		appErr := apperrors.GetAppError(err)
		assert.Equal(t, 400, appErr.HTTPCode)
		assert.Equal(t, MissingQueryMessage, appErr.Message)
	}

	_, err := svc.PromptWithHistory(context.Background(), HistoryQueryRequest{Query: "hi"})
	require.Error(t, err)
	assert.Equal(t, 400, apperrors.GetAppError(err).HTTPCode)

	assert.Empty(t, factory.sources)
	store.AssertNotCalled(t, "FetchOrCreate", mock.Anything, mock.Anything)
}

func TestPrompt_AnswersWithoutTouchingHistory(t *testing.T) {
	store := &mockConversationStore{}
	retriever := recipeRetriever()
	model := &scriptedModel{replies: []string{"Chicken thighs and BBQ sauce."}}
	svc := NewQueryService(&stubRetrieverFactory{retriever: retriever}, model, store, AppendModeAtomic, nil, nil)

	answer, err := svc.Prompt(context.Background(), QueryRequest{Query: "Ingredients?", Source: "./uploads/recipes.pdf"})
	require.NoError(t, err)
	assert.Equal(t, "Chicken thighs and BBQ sauce.", answer)
	assert.Equal(t, []string{"Ingredients?"}, retriever.queries)
	store.AssertExpectations(t)
}

func TestPromptWithHistory_NewConversation(t *testing.T) {
	store := repository.NewMemoryConversationRepository()
	model := &scriptedModel{replies: []string{"search: bbq chicken", "It is grilled chicken with BBQ sauce."}}
	svc := NewQueryService(&stubRetrieverFactory{retriever: recipeRetriever()}, model, store, AppendModeAtomic, nil, nil)

	result, err := svc.PromptWithHistory(context.Background(), HistoryQueryRequest{
		Query:  "What is BBQ Chicken?",
		Source: "./uploads/recipes.pdf",
	})
	require.NoError(t, err)
	assert.Equal(t, "It is grilled chicken with BBQ sauce.", result.Answer)
	assert.Equal(t, 2, result.Turns)

	_, err = uuid.Parse(result.ConversationID)
	require.NoError(t, err)

	conv, err := store.FetchOrCreate(context.Background(), &result.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, []string{models.BootstrapHumanMessage, "What is BBQ Chicken?"}, conv.HumanMessages)
	assert.Equal(t, []string{models.BootstrapAIMessage, "It is grilled chicken with BBQ sauce."}, conv.AIMessages)
}

func TestPromptWithHistory_FollowUpUsesHistory(t *testing.T) {
	store := repository.NewMemoryConversationRepository()
	retriever := recipeRetriever()
	model := &scriptedModel{replies: []string{
		"bbq chicken recipe", "Grilled chicken with sauce.",
		"bbq chicken cooking time", "About 25 minutes.",
	}}
	svc := NewQueryService(&stubRetrieverFactory{retriever: retriever}, model, store, AppendModeAtomic, nil, nil)
	ctx := context.Background()

	first, err := svc.PromptWithHistory(ctx, HistoryQueryRequest{Query: "What is BBQ Chicken?", Source: "./uploads/recipes.pdf"})
	require.NoError(t, err)

	id := first.ConversationID
	second, err := svc.PromptWithHistory(ctx, HistoryQueryRequest{Query: "How long does it cook?", Source: "./uploads/recipes.pdf", ChatHistoryID: &id})
	require.NoError(t, err)
	assert.Equal(t, "About 25 minutes.", second.Answer)
	assert.Equal(t, id, second.ConversationID)
	assert.Equal(t, 3, second.Turns)

	// 第二次改写请求携带前两轮历史
	rephrase := model.calls[2]
	require.GreaterOrEqual(t, len(rephrase), 4)
	assert.Equal(t, models.BootstrapHumanMessage, rephrase[0].Content)
	assert.Equal(t, "What is BBQ Chicken?", rephrase[2].Content)
	assert.Equal(t, "Grilled chicken with sauce.", rephrase[3].Content)
	assert.Equal(t, "bbq chicken cooking time", retriever.queries[1])
}

func TestPromptWithHistory_ReplaceMode(t *testing.T) {
	store := repository.NewMemoryConversationRepository()
	model := &scriptedModel{replies: []string{"q", "answer one"}}
	svc := NewQueryService(&stubRetrieverFactory{retriever: recipeRetriever()}, model, store, AppendModeReplace, nil, nil)

	result, err := svc.PromptWithHistory(context.Background(), HistoryQueryRequest{Query: "first", Source: "s"})
	require.NoError(t, err)

	conv, err := store.FetchOrCreate(context.Background(), &result.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, 2, conv.Len())
	assert.Equal(t, "answer one", conv.AIMessages[1])
}

func TestPromptWithHistory_GenerationFailureLeavesHistoryUntouched(t *testing.T) {
	id := uuid.NewString()
	existing := models.NewConversation(id)

	store := &mockConversationStore{}
	store.On("FetchOrCreate", mock.Anything, &id).Return(existing, nil)

	model := &scriptedModel{err: errors.New("model overloaded")}
	svc := NewQueryService(&stubRetrieverFactory{retriever: recipeRetriever()}, model, store, AppendModeAtomic, nil, nil)

	_, err := svc.PromptWithHistory(context.Background(), HistoryQueryRequest{Query: "q", Source: "s", ChatHistoryID: &id})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeUpstream))

	store.AssertNotCalled(t, "AppendTurn", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	store.AssertNotCalled(t, "Persist", mock.Anything, mock.Anything)
}

func TestPromptWithHistory_RetrievalFailureLeavesHistoryUntouched(t *testing.T) {
	id := uuid.NewString()
	store := &mockConversationStore{}
	store.On("FetchOrCreate", mock.Anything, &id).Return(models.NewConversation(id), nil)

	retriever := &stubRetriever{err: errors.New("vector store offline")}
	model := &scriptedModel{replies: []string{"rephrased"}}
	svc := NewQueryService(&stubRetrieverFactory{retriever: retriever}, model, store, AppendModeReplace, nil, nil)

	_, err := svc.PromptWithHistory(context.Background(), HistoryQueryRequest{Query: "q", Source: "s", ChatHistoryID: &id})
	require.Error(t, err)
	appErr := apperrors.GetAppError(err)
	assert.Equal(t, apperrors.ErrCodeUpstream, appErr.Code)
	assert.Equal(t, "retrieve failed", appErr.Message)

	store.AssertNotCalled(t, "Persist", mock.Anything, mock.Anything)
	store.AssertNotCalled(t, "AppendTurn", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPromptWithHistory_RetrieverResolutionFailsBeforeFetch(t *testing.T) {
	store := &mockConversationStore{}
	svc := NewQueryService(&stubRetrieverFactory{err: errors.New("vector store not ready")}, &scriptedModel{}, store, AppendModeAtomic, nil, nil)

	_, err := svc.PromptWithHistory(context.Background(), HistoryQueryRequest{Query: "q", Source: "s"})
	require.Error(t, err)
	store.AssertNotCalled(t, "FetchOrCreate", mock.Anything, mock.Anything)
}

func TestPromptWithHistory_UnknownConversation(t *testing.T) {
	store := repository.NewMemoryConversationRepository()
	svc := NewQueryService(&stubRetrieverFactory{retriever: recipeRetriever()}, &scriptedModel{}, store, AppendModeAtomic, nil, nil)

	missing := uuid.NewString()
	_, err := svc.PromptWithHistory(context.Background(), HistoryQueryRequest{Query: "q", Source: "s", ChatHistoryID: &missing})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeResourceNotFound))
	assert.ErrorIs(t, err, repository.ErrConversationNotFound)

	ids, err := store.ListIDs(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)

	malformed := "not-a-uuid"
	_, err = svc.PromptWithHistory(context.Background(), HistoryQueryRequest{Query: "q", Source: "s", ChatHistoryID: &malformed})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidIdentifier))
}

func TestPromptWithHistory_PersistsAfterClientCancel(t *testing.T) {
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updated := models.NewConversation(id)
	updated.AppendTurn("q", "answer")

	store := &mockConversationStore{}
	store.On("FetchOrCreate", mock.Anything, &id).Return(models.NewConversation(id), nil)
	store.On("AppendTurn", mock.MatchedBy(func(c context.Context) bool { return c.Err() == nil }), id, "q", "answer").
		Return(updated, nil).Once()

	model := &scriptedModel{replies: []string{"rephrased", "answer"}}
	model.onCall = func() {
		if len(model.calls) == 2 {
			cancel()
		}
	}
	svc := NewQueryService(&stubRetrieverFactory{retriever: recipeRetriever()}, model, store, AppendModeAtomic, nil, nil)

	result, err := svc.PromptWithHistory(ctx, HistoryQueryRequest{Query: "q", Source: "s", ChatHistoryID: &id})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Turns)
	store.AssertExpectations(t)
}

func TestPromptWithHistory_PublishesTurnEvent(t *testing.T) {
	store := repository.NewMemoryConversationRepository()
	publisher := &chanPublisher{events: make(chan *kafka.TurnEvent, 1), err: errors.New("broker down")}
	model := &scriptedModel{replies: []string{"q", "answer"}}
	svc := NewQueryService(&stubRetrieverFactory{retriever: recipeRetriever()}, model, store, AppendModeAtomic, publisher, nil)

	result, err := svc.PromptWithHistory(context.Background(), HistoryQueryRequest{Query: "hello", Source: "./uploads/a.pdf"})
	require.NoError(t, err)

	select {
	case event := <-publisher.events:
		assert.Equal(t, result.ConversationID, event.ConversationID)
		assert.Equal(t, "hello", event.Human)
		assert.Equal(t, "answer", event.AI)
		assert.Equal(t, "./uploads/a.pdf", event.Source)
		assert.Equal(t, 2, event.TurnCount)
	case <-time.After(time.Second):
		t.Fatal("turn event not published")
	}
}

func TestQueryService_DrainWaitsForPublishes(t *testing.T) {
	store := repository.NewMemoryConversationRepository()
	publisher := &gatePublisher{started: make(chan struct{}, 2), release: make(chan struct{})}
	model := &scriptedModel{replies: []string{"q1", "answer", "q2", "second answer"}}
	svc := NewQueryService(&stubRetrieverFactory{retriever: recipeRetriever()}, model, store, AppendModeAtomic, publisher, nil)

	_, err := svc.PromptWithHistory(context.Background(), HistoryQueryRequest{Query: "hello", Source: "./uploads/a.pdf"})
	require.NoError(t, err)
	select {
	case <-publisher.started:
	case <-time.After(time.Second):
		t.Fatal("turn event not published")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, svc.Drain(ctx), context.DeadlineExceeded)

	close(publisher.release)
	require.NoError(t, svc.Drain(context.Background()))
	assert.Equal(t, int32(1), publisher.published.Load())

	// 排空后新的轮次仍然写入，但不再发布事件
	result, err := svc.PromptWithHistory(context.Background(), HistoryQueryRequest{Query: "again", Source: "./uploads/a.pdf"})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Turns)
	require.NoError(t, svc.Drain(context.Background()))
	assert.Equal(t, int32(1), publisher.published.Load())
}
