package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aihub/genai-rag/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// conversationRepository 基于PostgreSQL的对话历史存储
type conversationRepository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewConversationRepository 创建对话历史仓库
func NewConversationRepository(db *gorm.DB) ConversationStore {
	return &conversationRepository{db: db, now: time.Now}
}

func parseUUID(id string) (string, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidIdentifier, id)
	}
	return parsed.String(), nil
}

func (r *conversationRepository) FetchOrCreate(ctx context.Context, id *string) (*models.Conversation, error) {
	if isAbsent(id) {
		return r.create(ctx)
	}

	key, err := parseUUID(*id)
	if err != nil {
		return nil, err
	}

	var record models.ChatHistory
	err = r.db.WithContext(ctx).Where("id = ?", key).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrConversationNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation %s: %w", key, err)
	}
	return record.ToConversation(), nil
}

func (r *conversationRepository) create(ctx context.Context) (*models.Conversation, error) {
	conv := models.NewConversation(uuid.NewString())
	now := r.now()
	record := models.ChatHistory{
		ID:            conv.ID,
		HumanMessages: conv.HumanMessages,
		AIMessages:    conv.AIMessages,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := r.db.WithContext(ctx).Create(&record).Error; err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conv, nil
}

func (r *conversationRepository) Persist(ctx context.Context, conv *models.Conversation) error {
	if err := conv.Validate(); err != nil {
		return err
	}
	key, err := parseUUID(conv.ID)
	if err != nil {
		return err
	}

	human, err := json.Marshal(conv.HumanMessages)
	if err != nil {
		return fmt.Errorf("failed to encode human messages: %w", err)
	}
	ai, err := json.Marshal(conv.AIMessages)
	if err != nil {
		return fmt.Errorf("failed to encode ai messages: %w", err)
	}

	// 两条序列都未变化时保留原 updated_at，整行保持不变
	res := r.db.WithContext(ctx).
		Model(&models.ChatHistory{}).
		Where("id = ?", key).
		Updates(map[string]interface{}{
			"human_messages": gorm.Expr("?::jsonb", string(human)),
			"ai_messages":    gorm.Expr("?::jsonb", string(ai)),
			"updated_at": gorm.Expr("CASE WHEN human_messages = ?::jsonb AND ai_messages = ?::jsonb THEN updated_at ELSE ? END",
				string(human), string(ai), r.now()),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to persist conversation %s: %w", key, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrConversationNotFound, key)
	}
	return nil
}

func (r *conversationRepository) AppendTurn(ctx context.Context, id, human, ai string) (*models.Conversation, error) {
	key, err := parseUUID(id)
	if err != nil {
		return nil, err
	}

	var record models.ChatHistory
	res := r.db.WithContext(ctx).
		Model(&record).
		Clauses(clause.Returning{}).
		Where("id = ?", key).
		Updates(map[string]interface{}{
			"human_messages": gorm.Expr("human_messages || jsonb_build_array(?::text)", human),
			"ai_messages":    gorm.Expr("ai_messages || jsonb_build_array(?::text)", ai),
			"updated_at":     r.now(),
		})
	if res.Error != nil {
		return nil, fmt.Errorf("failed to append turn to conversation %s: %w", key, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("%w: %s", ErrConversationNotFound, key)
	}
	return record.ToConversation(), nil
}

func (r *conversationRepository) ListIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&models.ChatHistory{}).
		Order("created_at").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	return ids, nil
}
