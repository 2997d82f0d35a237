package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aihub/genai-rag/internal/models"
	"github.com/google/uuid"
)

type memoryEntry struct {
	conv      *models.Conversation
	createdAt time.Time
}

// memoryConversationRepository 进程内对话历史存储，用于本地开发和测试
type memoryConversationRepository struct {
	mu      sync.RWMutex
	records map[string]memoryEntry
}

// NewMemoryConversationRepository 创建内存对话历史仓库
func NewMemoryConversationRepository() ConversationStore {
	return &memoryConversationRepository{records: make(map[string]memoryEntry)}
}

func (r *memoryConversationRepository) FetchOrCreate(_ context.Context, id *string) (*models.Conversation, error) {
	if isAbsent(id) {
		conv := models.NewConversation(uuid.NewString())
		r.mu.Lock()
		r.records[conv.ID] = memoryEntry{conv: conv.Clone(), createdAt: time.Now()}
		r.mu.Unlock()
		return conv, nil
	}

	key, err := parseUUID(*id)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.records[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrConversationNotFound, key)
	}
	return entry.conv.Clone(), nil
}

func (r *memoryConversationRepository) Persist(_ context.Context, conv *models.Conversation) error {
	if err := conv.Validate(); err != nil {
		return err
	}
	key, err := parseUUID(conv.ID)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.records[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrConversationNotFound, key)
	}
	stored := conv.Clone()
	stored.ID = key
	entry.conv = stored
	r.records[key] = entry
	return nil
}

func (r *memoryConversationRepository) AppendTurn(_ context.Context, id, human, ai string) (*models.Conversation, error) {
	key, err := parseUUID(id)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.records[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrConversationNotFound, key)
	}
	entry.conv.AppendTurn(human, ai)
	return entry.conv.Clone(), nil
}

func (r *memoryConversationRepository) ListIDs(_ context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]memoryEntry, 0, len(r.records))
	for _, entry := range r.records {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].createdAt.Equal(entries[j].createdAt) {
			return entries[i].conv.ID < entries[j].conv.ID
		}
		return entries[i].createdAt.Before(entries[j].createdAt)
	})

	ids := make([]string, len(entries))
	for i, entry := range entries {
		ids[i] = entry.conv.ID
	}
	return ids, nil
}
