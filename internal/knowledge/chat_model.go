package knowledge

import (
	"context"
	"errors"

	openai "github.com/sashabaranov/go-openai"
)

// 消息角色
const (
	RoleSystem    = openai.ChatMessageRoleSystem
	RoleUser      = openai.ChatMessageRoleUser
	RoleAssistant = openai.ChatMessageRoleAssistant
)

// Message 对话消息
type Message struct {
	Role    string
	Content string
}

// ChatModel 语言模型接口
type ChatModel interface {
	Generate(ctx context.Context, messages []Message) (string, error)
}

// OpenAIChatModel 基于chat completions接口的模型
type OpenAIChatModel struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
}

// NewOpenAIChatModel 创建语言模型
func NewOpenAIChatModel(client *openai.Client, model string, maxTokens int, temperature float64) *OpenAIChatModel {
	return &OpenAIChatModel{
		client:      client,
		model:       model,
		maxTokens:   maxTokens,
		temperature: float32(temperature),
	}
}

func (m *OpenAIChatModel) Generate(ctx context.Context, messages []Message) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       m.model,
		MaxTokens:   m.maxTokens,
		Temperature: m.temperature,
		Messages:    make([]openai.ChatCompletionMessage, 0, len(messages)),
	}
	for _, msg := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}

	resp, err := m.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
