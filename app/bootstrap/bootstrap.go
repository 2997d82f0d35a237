package bootstrap

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/aihub/genai-rag/app/middleware"
	"github.com/aihub/genai-rag/app/router"
	"github.com/aihub/genai-rag/internal/config"
	"github.com/aihub/genai-rag/internal/consul"
	"github.com/aihub/genai-rag/internal/database"
	"github.com/aihub/genai-rag/internal/di"
	"github.com/aihub/genai-rag/internal/kafka"
	"github.com/aihub/genai-rag/internal/knowledge"
	"github.com/aihub/genai-rag/internal/logger"
	"github.com/aihub/genai-rag/internal/metrics"
	"github.com/aihub/genai-rag/internal/repository"
	"github.com/aihub/genai-rag/internal/services"
	"github.com/aihub/genai-rag/internal/storage"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/unidoc/unipdf/v3/common/license"
	"go.uber.org/dig"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	chatHistoryCollection = "chat_history"
	publishDrainTimeout   = 5 * time.Second
)

// App encapsulates lifecycle resources that need to be cleaned up on shutdown.
type App struct {
	Config    *config.Config
	Container *dig.Container
	Metrics   *metrics.Metrics
	Health    *database.HealthRegistry
	Policies  router.Policies
	Limiter   middleware.Limiter

	cancel       context.CancelFunc
	cleanupTasks []func() error
	shutdownOnce sync.Once
}

// Init bootstraps configuration, logger, database connections and other shared
// infrastructure components required by the Beego application.
func Init() (*App, error) {
	// Load environment variables from .env if present (non-fatal if missing).
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	// Initialize structured logger.
	if err := logger.InitLogger(); err != nil {
		return nil, err
	}

	// Fail fast on missing keys and connection strings.
	if err := config.LoadConfig(); err != nil {
		return nil, err
	}
	cfg := config.Get()

	ctx, cancel := context.WithCancel(context.Background())
	app := &App{
		Config: cfg,
		Health: database.NewHealthRegistry(),
		cancel: cancel,
	}
	if cfg.Prometheus.Enabled {
		app.Metrics = metrics.New()
	}

	if key := cfg.Knowledge.UnidocLicenseKey; key != "" {
		if err := license.SetMeteredKey(key); err != nil {
			logger.Warn("Failed to set PDF license key", zap.Error(err))
		}
	}

	if err := app.initInfrastructure(ctx, cfg); err != nil {
		app.Shutdown()
		return nil, err
	}

	app.Policies = router.NewPolicies(cfg.RateLimit)
	config.Watch(func(newCfg *config.Config) {
		app.Policies.Update(newCfg.RateLimit)
		logger.Info("Rate limits reloaded",
			zap.Int("query_per_minute", newCfg.RateLimit.QueryPerMinute),
			zap.Int("train_per_minute", newCfg.RateLimit.TrainPerMinute),
			zap.Int("summarize_per_minute", newCfg.RateLimit.SummarizePerMinute))
	})

	app.Health.StartAll(ctx)
	app.registerWithConsul(cfg)

	return app, nil
}

func (a *App) initInfrastructure(ctx context.Context, cfg *config.Config) error {
	healthLog := logrus.New()
	healthLog.SetFormatter(&logrus.JSONFormatter{})

	// Initialize Postgres when either store lives there.
	var db *gorm.DB
	if cfg.Conversation.Store == "postgres" || cfg.Knowledge.VectorStore.Provider == "database" {
		var err error
		db, err = database.InitDB(cfg)
		if err != nil {
			return err
		}
		a.cleanupTasks = append(a.cleanupTasks, database.CloseDB)

		sqlDB, err := db.DB()
		if err != nil {
			return fmt.Errorf("failed to get sql.DB: %w", err)
		}
		a.Health.Register(database.NewHealthChecker("postgres", database.SQLPinger(sqlDB), healthLog))
		if a.Metrics != nil {
			go database.NewMetricsCollector(sqlDB, a.Metrics.Registry(), healthLog).Start(ctx)
		}
	}

	conversations, err := a.conversationStore(ctx, cfg, db, healthLog)
	if err != nil {
		return err
	}

	vectors, err := a.vectorStore(cfg, db)
	if err != nil {
		return err
	}

	openaiClient := knowledge.NewOpenAIClient(cfg.AI.APIKey, cfg.AI.BaseURL)
	embedder := knowledge.NewOpenAIEmbedder(openaiClient, cfg.AI.EmbeddingModel)
	model := knowledge.NewOpenAIChatModel(openaiClient, cfg.AI.ChatModel, cfg.AI.MaxTokens, cfg.AI.Temperature)

	a.Limiter = a.rateLimiter(ctx, cfg, healthLog)

	// Initialize MinIO (optional). Failure shouldn't block the app.
	archiver, err := storage.NewArchiver(ctx, cfg.FileUpload.Storage)
	if err != nil {
		logger.Warn("Failed to initialize MinIO, uploads will not be archived", zap.Error(err))
		archiver = storage.NoopArchiver{}
	} else if m, ok := archiver.(*storage.MinIOArchiver); ok {
		a.Health.Register(database.NewHealthChecker("minio", m.HealthCheck, healthLog))
	}

	// Initialize Kafka (optional). Failure shouldn't block the app.
	var publisher services.TurnPublisher
	if cfg.Kafka.Enabled {
		producer, err := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			logger.Warn("Failed to initialize Kafka producer", zap.Error(err))
		} else {
			publisher = producer
			a.cleanupTasks = append(a.cleanupTasks, producer.Close)
		}
	}

	container, err := di.Build(di.Infrastructure{
		Config:        cfg,
		Vectors:       vectors,
		Conversations: conversations,
		Embedder:      embedder,
		Model:         model,
		Loader:        knowledge.NewWebLoader(time.Duration(cfg.Knowledge.WebsiteTimeoutSeconds) * time.Second),
		Archiver:      archiver,
		Publisher:     publisher,
		Metrics:       a.Metrics,
	})
	if err != nil {
		return fmt.Errorf("failed to build container: %w", err)
	}
	// 在关闭Kafka生产者之前等待未完成的轮次事件
	a.cleanupTasks = append(a.cleanupTasks, func() error {
		return container.Invoke(func(q *services.QueryService) error {
			ctx, cancel := context.WithTimeout(context.Background(), publishDrainTimeout)
			defer cancel()
			return q.Drain(ctx)
		})
	})
	if err := container.Provide(func() *database.HealthRegistry { return a.Health }); err != nil {
		return err
	}
	a.Container = container
	return nil
}

func (a *App) conversationStore(ctx context.Context, cfg *config.Config, db *gorm.DB, healthLog *logrus.Logger) (repository.ConversationStore, error) {
	switch cfg.Conversation.Store {
	case "postgres":
		return repository.NewConversationRepository(db), nil
	case "mongo":
		mdb, err := database.InitMongo(ctx, cfg)
		if err != nil {
			return nil, err
		}
		a.cleanupTasks = append(a.cleanupTasks, func() error {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return database.CloseMongo(closeCtx)
		})
		a.Health.Register(database.NewHealthChecker("mongo", database.MongoPinger(database.MongoClient), healthLog))
		return repository.NewMongoConversationRepository(mdb.Collection(chatHistoryCollection)), nil
	default:
		logger.Warn("Using in-memory conversation store, chat history is lost on restart")
		return repository.NewMemoryConversationRepository(), nil
	}
}

func (a *App) vectorStore(cfg *config.Config, db *gorm.DB) (knowledge.VectorStore, error) {
	vs := cfg.Knowledge.VectorStore
	switch vs.Provider {
	case "milvus":
		store, err := knowledge.NewMilvusVectorStore(knowledge.MilvusOptions{
			Address:    vs.Milvus.Address,
			Username:   vs.Milvus.Username,
			Password:   vs.Milvus.Password,
			Collection: vs.Milvus.Collection,
			Database:   vs.Milvus.Database,
			VectorSize: vs.Milvus.VectorSize,
		})
		if err != nil {
			return nil, err
		}
		if closer, ok := store.(io.Closer); ok {
			a.cleanupTasks = append(a.cleanupTasks, closer.Close)
		}
		logger.Info("Milvus vector store initialized", zap.String("address", vs.Milvus.Address))
		return store, nil
	case "memory":
		logger.Warn("Using in-memory vector store, embeddings are lost on restart")
		return knowledge.NewMemoryVectorStore(), nil
	default:
		return knowledge.NewDatabaseVectorStore(db, vs.ScanBatchSize), nil
	}
}

// rateLimiter Redis可用时使用共享限流，否则退回进程内限流
func (a *App) rateLimiter(ctx context.Context, cfg *config.Config, healthLog *logrus.Logger) middleware.Limiter {
	window := time.Duration(cfg.RateLimit.WindowSeconds) * time.Second
	if cfg.Redis.Enabled {
		rdb, err := database.InitRedis(cfg)
		if err != nil {
			logger.Warn("Failed to initialize Redis, using in-memory rate limiting", zap.Error(err))
		} else {
			a.cleanupTasks = append(a.cleanupTasks, database.CloseRedis)
			a.Health.Register(database.NewHealthChecker("redis", database.RedisPinger(rdb), healthLog))
			return middleware.NewRedisLimiter(rdb, "genai-rag:ratelimit")
		}
	}

	limiter := middleware.NewMemoryLimiter()
	go limiter.Run(ctx, window)
	return limiter
}

// registerWithConsul Register service with Consul
func (a *App) registerWithConsul(cfg *config.Config) {
	if !cfg.Consul.Enabled {
		return
	}
	client, err := consul.NewClient(cfg.Consul.Address, cfg.Consul.Enabled, logger.Logger)
	if err != nil || !client.IsEnabled() {
		logger.Warn("Consul client not available, skipping service registration", zap.Error(err))
		return
	}

	registry := consul.NewServiceRegistry(client, logger.Logger)
	if err := registry.Register(cfg); err != nil {
		logger.Warn("Failed to register service with Consul", zap.Error(err))
		return
	}
	a.cleanupTasks = append(a.cleanupTasks, registry.Deregister)
	logger.Info("Service registered with Consul",
		zap.String("service_id", cfg.Consul.ServiceID),
		zap.String("service_name", cfg.Consul.ServiceName))
}

// RouterOptions 路由与过滤器配置
func (a *App) RouterOptions() router.Options {
	return router.Options{
		AllowedOrigins: a.Config.CORS.AllowedOrigins,
		TrustedProxies: a.Config.RateLimit.TrustedProxies,
		MaxBodyBytes:   a.Config.FileUpload.MaxSize + 1<<20,
		Limiter:        a.Limiter,
		Policies:       a.Policies,
		Metrics:        a.Metrics,
		EnableMetrics:  a.Metrics != nil,
	}
}

// Shutdown flushes/logs and closes resources gracefully.
func (a *App) Shutdown() {
	a.shutdownOnce.Do(func() {
		if a.cancel != nil {
			a.cancel()
		}
		// Execute cleanup tasks in reverse order (best effort).
		for i := len(a.cleanupTasks) - 1; i >= 0; i-- {
			if err := a.cleanupTasks[i](); err != nil {
				fmt.Fprintf(os.Stderr, "Cleanup error: %v\n", err)
			}
		}

		// Flush logger buffers.
		logger.Sync()
	})
}
