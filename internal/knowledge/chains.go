package knowledge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	ragSystemTemplate = "Use the following pieces of context to answer the question at the end.\n" +
		"If you don't know the answer, just say that you don't know, don't try to make up an answer.\n" +
		"----------------\n{context}"

	rephraseInstruction = "Given the above conversation, generate a search query to look up in order to get information relevant to the conversation"
)

// 流水线阶段名，用于指标和错误信息
const (
	StageRephrase = "rephrase"
	StageRetrieve = "retrieve"
	StageAssemble = "assemble"
	StageGenerate = "generate"
	StageParse    = "parse"
)

// StageError 标记失败的阶段
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// StageObserver 接收每个阶段的耗时
type StageObserver func(stage string, elapsed time.Duration, err error)

// ChainInput 链路输入，History 为空时等价于无状态问答
type ChainInput struct {
	Question    string
	History     []Message
	SearchQuery string
}

// Retrieved 检索结果
type Retrieved struct {
	Input ChainInput
	Docs  []Document
}

// Prompt 组装好的模型输入
type Prompt struct {
	Messages []Message
}

// Generation 模型原始输出
type Generation struct {
	Text string
}

// ChainDeps 链路依赖
type ChainDeps struct {
	Retriever Retriever
	Model     ChatModel
	Observer  StageObserver
}

func observed[I, O any](name string, obs StageObserver, fn func(ctx context.Context, in I) (O, error)) Stage[I, O] {
	return StageFunc[I, O](func(ctx context.Context, in I) (O, error) {
		start := time.Now()
		out, err := fn(ctx, in)
		if obs != nil {
			obs(name, time.Since(start), err)
		}
		if err != nil {
			var zero O
			return zero, &StageError{Stage: name, Err: err}
		}
		return out, nil
	})
}

// FormatDocuments 用空行拼接文档内容
func FormatDocuments(docs []Document) string {
	parts := make([]string, 0, len(docs))
	for _, doc := range docs {
		parts = append(parts, doc.PageContent)
	}
	return strings.Join(parts, "\n\n")
}

func rephraseStage(deps ChainDeps) Stage[ChainInput, ChainInput] {
	return observed(StageRephrase, deps.Observer, func(ctx context.Context, in ChainInput) (ChainInput, error) {
		in.SearchQuery = in.Question
		if len(in.History) == 0 {
			return in, nil
		}
		messages := make([]Message, 0, len(in.History)+2)
		messages = append(messages, in.History...)
		messages = append(messages,
			Message{Role: RoleUser, Content: in.Question},
			Message{Role: RoleUser, Content: rephraseInstruction},
		)
		query, err := deps.Model.Generate(ctx, messages)
		if err != nil {
			return in, err
		}
		if q := strings.TrimSpace(query); q != "" {
			in.SearchQuery = q
		}
		return in, nil
	})
}

func retrieveStage(deps ChainDeps) Stage[ChainInput, Retrieved] {
	return observed(StageRetrieve, deps.Observer, func(ctx context.Context, in ChainInput) (Retrieved, error) {
		query := in.SearchQuery
		if query == "" {
			query = in.Question
		}
		docs, err := deps.Retriever.Retrieve(ctx, query)
		if err != nil {
			return Retrieved{}, err
		}
		return Retrieved{Input: in, Docs: docs}, nil
	})
}

func assembleStage(deps ChainDeps) Stage[Retrieved, Prompt] {
	return observed(StageAssemble, deps.Observer, func(ctx context.Context, in Retrieved) (Prompt, error) {
		system := strings.Replace(ragSystemTemplate, "{context}", FormatDocuments(in.Docs), 1)
		messages := make([]Message, 0, len(in.Input.History)+2)
		messages = append(messages, Message{Role: RoleSystem, Content: system})
		messages = append(messages, in.Input.History...)
		messages = append(messages, Message{Role: RoleUser, Content: in.Input.Question})
		return Prompt{Messages: messages}, nil
	})
}

func generateStage(deps ChainDeps) Stage[Prompt, Generation] {
	return observed(StageGenerate, deps.Observer, func(ctx context.Context, in Prompt) (Generation, error) {
		text, err := deps.Model.Generate(ctx, in.Messages)
		if err != nil {
			return Generation{}, err
		}
		return Generation{Text: text}, nil
	})
}

func parseStage(deps ChainDeps) Stage[Generation, string] {
	return observed(StageParse, deps.Observer, func(ctx context.Context, in Generation) (string, error) {
		answer := strings.TrimSpace(in.Text)
		if answer == "" {
			return "", errors.New("model returned an empty answer")
		}
		return answer, nil
	})
}

// NewRetrievalChain 无状态问答：retrieve -> assemble -> generate -> parse
func NewRetrievalChain(deps ChainDeps) Stage[ChainInput, string] {
	return Then(Then(Then(retrieveStage(deps), assembleStage(deps)), generateStage(deps)), parseStage(deps))
}

// NewHistoryAwareChain 带历史问答：先按历史改写检索词，再执行检索问答
func NewHistoryAwareChain(deps ChainDeps) Stage[ChainInput, string] {
	return Then(rephraseStage(deps), NewRetrievalChain(deps))
}

// HistoryMessages 将对话轮次展开为按顺序交替的 human/ai 消息
func HistoryMessages(human, ai []string) []Message {
	n := len(human)
	if len(ai) < n {
		n = len(ai)
	}
	messages := make([]Message, 0, 2*n)
	for i := 0; i < n; i++ {
		messages = append(messages,
			Message{Role: RoleUser, Content: human[i]},
			Message{Role: RoleAssistant, Content: ai[i]},
		)
	}
	return messages
}
