package repository

import (
	"context"
	"errors"

	"github.com/aihub/genai-rag/internal/models"
)

var (
	// ErrConversationNotFound 指定的对话不存在
	ErrConversationNotFound = errors.New("conversation not found")
	// ErrInvalidIdentifier 对话ID不符合存储后端的ID格式
	ErrInvalidIdentifier = errors.New("invalid conversation identifier")
)

// ConversationStore 对话历史存储
//
// Persist 整体替换两条消息序列，并发写同一对话时后写者覆盖先写者，
// 先读后写的调用方可能丢失对方追加的轮次。需要不丢轮次时使用 AppendTurn。
type ConversationStore interface {
	// FetchOrCreate id为空时新建带引导轮次的对话；否则按id读取，不存在时返回 ErrConversationNotFound
	FetchOrCreate(ctx context.Context, id *string) (*models.Conversation, error)
	Persist(ctx context.Context, conv *models.Conversation) error
	// AppendTurn 在单条语句内原子追加一轮，返回追加后的对话
	AppendTurn(ctx context.Context, id, human, ai string) (*models.Conversation, error)
	ListIDs(ctx context.Context) ([]string, error)
}

func isAbsent(id *string) bool {
	return id == nil || *id == ""
}
