package models

import (
	"fmt"
	"time"
)

// 新建对话时写入的引导轮次
const (
	BootstrapHumanMessage = "My name is Prashant Hariharan. I am looking for answers related to the document. Can you help me?"
	BootstrapAIMessage    = "Hi Prashant, I can help you in many ways."
)

// Conversation 对话历史：两条等长的消息序列，第i轮为 (HumanMessages[i], AIMessages[i])
type Conversation struct {
	ID            string   `json:"id"`
	HumanMessages []string `json:"humanMessages"`
	AIMessages    []string `json:"aiMessages"`
}

// Turn 单轮对话
type Turn struct {
	Human string `json:"human"`
	AI    string `json:"ai"`
}

// NewConversation 创建带引导轮次的对话
func NewConversation(id string) *Conversation {
	return &Conversation{
		ID:            id,
		HumanMessages: []string{BootstrapHumanMessage},
		AIMessages:    []string{BootstrapAIMessage},
	}
}

// AppendTurn 在本地副本末尾追加一轮
func (c *Conversation) AppendTurn(human, ai string) {
	c.HumanMessages = append(c.HumanMessages, human)
	c.AIMessages = append(c.AIMessages, ai)
}

// Turns 按轮次顺序返回对话
func (c *Conversation) Turns() []Turn {
	turns := make([]Turn, 0, len(c.HumanMessages))
	for i := range c.HumanMessages {
		if i >= len(c.AIMessages) {
			break
		}
		turns = append(turns, Turn{Human: c.HumanMessages[i], AI: c.AIMessages[i]})
	}
	return turns
}

// Len 轮次数
func (c *Conversation) Len() int {
	return len(c.HumanMessages)
}

// Validate 检查两条序列长度一致
func (c *Conversation) Validate() error {
	if len(c.HumanMessages) != len(c.AIMessages) {
		return fmt.Errorf("conversation %s has %d human messages but %d ai messages",
			c.ID, len(c.HumanMessages), len(c.AIMessages))
	}
	return nil
}

// Clone 深拷贝
func (c *Conversation) Clone() *Conversation {
	out := &Conversation{
		ID:            c.ID,
		HumanMessages: make([]string, len(c.HumanMessages)),
		AIMessages:    make([]string, len(c.AIMessages)),
	}
	copy(out.HumanMessages, c.HumanMessages)
	copy(out.AIMessages, c.AIMessages)
	return out
}

// ChatHistory 对话历史表
type ChatHistory struct {
	ID            string    `gorm:"primaryKey;column:id;type:uuid" json:"id"`
	HumanMessages []string  `gorm:"column:human_messages;type:jsonb;serializer:json;not null" json:"human_messages"`
	AIMessages    []string  `gorm:"column:ai_messages;type:jsonb;serializer:json;not null" json:"ai_messages"`
	CreatedAt     time.Time `gorm:"column:created_at;not null" json:"created_at"`
	UpdatedAt     time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (ChatHistory) TableName() string {
	return "chat_histories"
}

// ToConversation 转换为领域对象
func (h *ChatHistory) ToConversation() *Conversation {
	return &Conversation{
		ID:            h.ID,
		HumanMessages: append([]string{}, h.HumanMessages...),
		AIMessages:    append([]string{}, h.AIMessages...),
	}
}
