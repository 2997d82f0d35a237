package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/aihub/genai-rag/internal/kafka"
	"github.com/aihub/genai-rag/internal/knowledge"
	"github.com/aihub/genai-rag/internal/models"
	"github.com/stretchr/testify/mock"
)

type stubRetriever struct {
	docs    []knowledge.Document
	err     error
	queries []string
}

func (r *stubRetriever) Retrieve(ctx context.Context, query string) ([]knowledge.Document, error) {
	r.queries = append(r.queries, query)
	if r.err != nil {
		return nil, r.err
	}
	return r.docs, nil
}

type stubRetrieverFactory struct {
	retriever knowledge.Retriever
	err       error
	sources   []string
}

func (f *stubRetrieverFactory) ForSource(source string) (knowledge.Retriever, error) {
	f.sources = append(f.sources, source)
	if f.err != nil {
		return nil, f.err
	}
	return f.retriever, nil
}

// scriptedModel 按顺序返回预设回复
type scriptedModel struct {
	mu      sync.Mutex
	replies []string
	err     error
	onCall  func()
	calls   [][]knowledge.Message
}

func (m *scriptedModel) Generate(ctx context.Context, messages []knowledge.Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, messages)
	if m.onCall != nil {
		m.onCall()
	}
	if m.err != nil {
		return "", m.err
	}
	if len(m.replies) == 0 {
		return "", errors.New("no scripted reply")
	}
	reply := m.replies[0]
	m.replies = m.replies[1:]
	return reply, nil
}

type mockConversationStore struct {
	mock.Mock
}

func (m *mockConversationStore) FetchOrCreate(ctx context.Context, id *string) (*models.Conversation, error) {
	args := m.Called(ctx, id)
	conv, _ := args.Get(0).(*models.Conversation)
	return conv, args.Error(1)
}

func (m *mockConversationStore) Persist(ctx context.Context, conv *models.Conversation) error {
	return m.Called(ctx, conv).Error(0)
}

func (m *mockConversationStore) AppendTurn(ctx context.Context, id, human, ai string) (*models.Conversation, error) {
	args := m.Called(ctx, id, human, ai)
	conv, _ := args.Get(0).(*models.Conversation)
	return conv, args.Error(1)
}

func (m *mockConversationStore) ListIDs(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	ids, _ := args.Get(0).([]string)
	return ids, args.Error(1)
}

type chanPublisher struct {
	events chan *kafka.TurnEvent
	err    error
}

func (p *chanPublisher) PublishTurn(event *kafka.TurnEvent) error {
	p.events <- event
	return p.err
}

// hashEmbedder 按字符生成确定性向量
type hashEmbedder struct {
	failOnCall int
	mu         sync.Mutex
	calls      int
	batchSizes []int
}

func (e *hashEmbedder) vector(text string) []float32 {
	vec := make([]float32, 8)
	for i, r := range strings.ToLower(text) {
		vec[(int(r)+i)%8] += 1
	}
	vec[0] += 0.5
	return vec
}

func (e *hashEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return e.vector(text), nil
}

func (e *hashEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	call := e.calls
	e.batchSizes = append(e.batchSizes, len(texts))
	e.mu.Unlock()

	if e.failOnCall > 0 && call == e.failOnCall {
		return nil, errors.New("embedding quota exceeded")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return out, nil
}

func (e *hashEmbedder) Dimensions() int { return 8 }
func (e *hashEmbedder) Ready() bool     { return true }

type stubLoader struct {
	docs []knowledge.Document
	err  error
	urls []string
}

func (l *stubLoader) Load(ctx context.Context, url string) ([]knowledge.Document, error) {
	l.urls = append(l.urls, url)
	if l.err != nil {
		return nil, l.err
	}
	return l.docs, nil
}

// gatePublisher 在 release 关闭前阻塞发送
type gatePublisher struct {
	started   chan struct{}
	release   chan struct{}
	published atomic.Int32
}

func (p *gatePublisher) PublishTurn(*kafka.TurnEvent) error {
	p.started <- struct{}{}
	<-p.release
	p.published.Add(1)
	return nil
}
