package di

import (
	"fmt"
	"time"

	"github.com/aihub/genai-rag/internal/config"
	"github.com/aihub/genai-rag/internal/knowledge"
	"github.com/aihub/genai-rag/internal/metrics"
	"github.com/aihub/genai-rag/internal/repository"
	"github.com/aihub/genai-rag/internal/services"
	"github.com/aihub/genai-rag/internal/storage"
	"go.uber.org/dig"
)

// Infrastructure 启动阶段已建立的连接与外部客户端
type Infrastructure struct {
	Config        *config.Config
	Vectors       knowledge.VectorStore
	Conversations repository.ConversationStore
	Embedder      knowledge.Embedder
	Model         knowledge.ChatModel
	Loader        services.PageLoader
	Archiver      storage.Archiver
	Publisher     services.TurnPublisher
	Metrics       *metrics.Metrics
}

// queryParams 问答服务依赖
type queryParams struct {
	dig.In

	Config        *config.Config
	Retrievers    knowledge.RetrieverFactory
	Model         knowledge.ChatModel
	Conversations repository.ConversationStore
	Publisher     services.TurnPublisher `optional:"true"`
	Metrics       *metrics.Metrics       `optional:"true"`
}

// ingestionParams 入库服务依赖
type ingestionParams struct {
	dig.In

	Config   *config.Config
	Vectors  knowledge.VectorStore
	Embedder knowledge.Embedder
	Loader   services.PageLoader
	Archiver storage.Archiver `optional:"true"`
	Metrics  *metrics.Metrics `optional:"true"`
}

// RegisterProviders 注册所有依赖提供者
func RegisterProviders(container *dig.Container, infra Infrastructure) error {
	if infra.Config == nil {
		return fmt.Errorf("config not loaded")
	}
	if infra.Vectors == nil || infra.Conversations == nil {
		return fmt.Errorf("vector store and conversation store are required")
	}
	if infra.Model == nil || infra.Embedder == nil {
		return fmt.Errorf("chat model and embedder are required")
	}

	providers := []interface{}{
		func() *config.Config { return infra.Config },
		func() knowledge.VectorStore { return infra.Vectors },
		func() repository.ConversationStore { return infra.Conversations },
		func() knowledge.Embedder { return infra.Embedder },
		func() knowledge.ChatModel { return infra.Model },
		func() services.PageLoader {
			if infra.Loader != nil {
				return infra.Loader
			}
			timeout := time.Duration(infra.Config.Knowledge.WebsiteTimeoutSeconds) * time.Second
			return knowledge.NewWebLoader(timeout)
		},
		func(cfg *config.Config, vectors knowledge.VectorStore, embedder knowledge.Embedder) knowledge.RetrieverFactory {
			return &knowledge.VectorRetrieverFactory{
				Store:    vectors,
				Embedder: embedder,
				Options: knowledge.MMROptions{
					K:      cfg.Knowledge.Retrieval.K,
					FetchK: cfg.Knowledge.Retrieval.FetchK,
					Lambda: cfg.Knowledge.Retrieval.Lambda,
				},
			}
		},
		newQueryService,
		newIngestionService,
		newSummarizeService,
		services.NewSourceService,
	}
	if infra.Archiver != nil {
		providers = append(providers, func() storage.Archiver { return infra.Archiver })
	}
	if infra.Publisher != nil {
		providers = append(providers, func() services.TurnPublisher { return infra.Publisher })
	}
	if infra.Metrics != nil {
		providers = append(providers, func() *metrics.Metrics { return infra.Metrics })
	}

	for _, p := range providers {
		if err := container.Provide(p); err != nil {
			return err
		}
	}
	return nil
}

func newQueryService(p queryParams) *services.QueryService {
	return services.NewQueryService(p.Retrievers, p.Model, p.Conversations, p.Config.Conversation.AppendMode, p.Publisher, p.Metrics)
}

func newIngestionService(p ingestionParams) *services.IngestionService {
	return services.NewIngestionService(p.Vectors, p.Embedder, p.Loader, p.Archiver, p.Metrics, services.IngestionOptionsFromConfig(p.Config))
}

func newSummarizeService(cfg *config.Config, model knowledge.ChatModel) *services.SummarizeService {
	return services.NewSummarizeService(model, cfg.FileUpload.UploadPath, cfg.Knowledge.SummaryChunkSize, cfg.Knowledge.SummaryChunkOverlap)
}
