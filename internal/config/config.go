package config

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Config struct {
	Server       ServerConfig       `validate:"required"`
	Database     DatabaseConfig     `validate:"required"`
	Redis        RedisConfig
	Prometheus   PrometheusConfig
	Kafka        KafkaConfig
	Consul       ConsulConfig
	AI           AIConfig           `validate:"required"`
	FileUpload   FileUploadConfig   `validate:"required"`
	Conversation ConversationConfig `validate:"required"`
	Knowledge    KnowledgeConfig    `validate:"required"`
	RateLimit    RateLimitConfig    `validate:"required"`
	CORS         CORSConfig
}

type ServerConfig struct {
	Port           string `validate:"required"`
	Env            string `validate:"required,oneof=development staging production test"`
	TimeoutSeconds int    `validate:"gte=1"`
}

type DatabaseConfig struct {
	URL          string
	MongoURL     string
	MongoDB      string
	MaxOpenConns int
	MaxIdleConns int
	AutoMigrate  bool
}

type RedisConfig struct {
	Host    string
	Port    string
	DB      int
	Enabled bool
}

type PrometheusConfig struct {
	Enabled bool
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
	Enabled bool
}

type ConsulConfig struct {
	Address     string
	Enabled     bool
	ServiceName string
	ServiceID   string
	ServiceHost string
}

// AIConfig 语言模型与向量化接口配置
type AIConfig struct {
	APIKey         string  `validate:"required"`
	BaseURL        string
	ChatModel      string  `validate:"required"`
	EmbeddingModel string  `validate:"required"`
	MaxTokens      int     `validate:"gte=1"`
	Temperature    float64 `validate:"gte=0,lte=2"`
}

type FileUploadConfig struct {
	MaxSize    int64  `validate:"gte=1"`
	UploadPath string `validate:"required"`
	Storage    ObjectStorageConfig
}

type ObjectStorageConfig struct {
	Provider  string `validate:"oneof=local minio"`
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// ConversationConfig 对话历史存储配置
type ConversationConfig struct {
	Store      string `validate:"required,oneof=postgres mongo memory"`
	AppendMode string `validate:"required,oneof=atomic replace"`
}

type KnowledgeConfig struct {
	PDFChunkSize          int `validate:"gte=1"`
	PDFChunkOverlap       int `validate:"gte=0"`
	WebsiteChunkSize      int `validate:"gte=1"`
	WebsiteChunkOverlap   int `validate:"gte=0"`
	SummaryChunkSize      int `validate:"gte=1"`
	SummaryChunkOverlap   int `validate:"gte=0"`
	EmbeddingBatchSize    int `validate:"gte=1"`
	MaxParallel           int `validate:"gte=1"`
	WebsiteTimeoutSeconds int `validate:"gte=1"`
	Retrieval             RetrievalConfig
	VectorStore           VectorStoreConfig
	UnidocLicenseKey      string
}

// RetrievalConfig MMR检索参数
type RetrievalConfig struct {
	K      int     `validate:"gte=1"`
	FetchK int     `validate:"gte=1"`
	Lambda float64 `validate:"gte=0,lte=1"`
}

type VectorStoreConfig struct {
	Provider      string `validate:"required,oneof=database milvus memory"`
	ScanBatchSize int `validate:"gte=0"`
	Milvus        MilvusConfig
}

type MilvusConfig struct {
	Address    string
	Username   string
	Password   string
	Collection string
	Database   string
	VectorSize int
}

// RateLimitConfig 各路由组每分钟请求上限
type RateLimitConfig struct {
	QueryPerMinute     int `validate:"gte=1"`
	TrainPerMinute     int `validate:"gte=1"`
	SummarizePerMinute int `validate:"gte=1"`
	WindowSeconds      int `validate:"gte=1"`
	// TrustedProxies 可信反向代理的IP或CIDR，仅这些来源的 X-Forwarded-For 被采信
	TrustedProxies []string `validate:"dive,ip|cidr"`
}

type CORSConfig struct {
	AllowedOrigins []string
}

var (
	AppConfig *Config
	mu        sync.RWMutex
)

func setDefaults() {
	viper.SetDefault("server.port", "5000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.timeout_seconds", 60)
	viper.SetDefault("database.url", "")
	viper.SetDefault("database.mongo_url", "")
	viper.SetDefault("database.mongo_db", "vector-embeddings")
	viper.SetDefault("database.max_open_conns", 20)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.auto_migrate", true)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", "6379")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("prometheus.enabled", true)
	viper.SetDefault("kafka.brokers", []string{"localhost:9092"})
	viper.SetDefault("kafka.topic", "chat-history-turns")
	viper.SetDefault("kafka.enabled", false)
	viper.SetDefault("consul.address", "localhost:8500")
	viper.SetDefault("consul.enabled", false)
	viper.SetDefault("consul.service_name", "genai-rag-api")
	viper.SetDefault("consul.service_id", "genai-rag-api-1")
	viper.SetDefault("consul.service_host", "localhost")

	// AI配置默认值
	viper.SetDefault("ai.base_url", "")
	viper.SetDefault("ai.chat_model", "gpt-4o-mini")
	viper.SetDefault("ai.embedding_model", "text-embedding-3-small")
	viper.SetDefault("ai.max_tokens", 1000)
	viper.SetDefault("ai.temperature", 0.0)

	// 文件上传配置默认值
	viper.SetDefault("file_upload.max_size", 15728640) // 15MB
	viper.SetDefault("file_upload.upload_path", "./uploads")
	viper.SetDefault("file_upload.storage.provider", "local")
	viper.SetDefault("file_upload.storage.bucket", "uploads")
	viper.SetDefault("file_upload.storage.use_ssl", false)

	viper.SetDefault("conversation.store", "postgres")
	viper.SetDefault("conversation.append_mode", "atomic")

	// 知识库配置默认值
	viper.SetDefault("knowledge.pdf_chunk_size", 200)
	viper.SetDefault("knowledge.pdf_chunk_overlap", 20)
	viper.SetDefault("knowledge.website_chunk_size", 1000)
	viper.SetDefault("knowledge.website_chunk_overlap", 200)
	viper.SetDefault("knowledge.summary_chunk_size", 10000)
	viper.SetDefault("knowledge.summary_chunk_overlap", 250)
	viper.SetDefault("knowledge.embedding_batch_size", 96)
	viper.SetDefault("knowledge.max_parallel", 1)
	viper.SetDefault("knowledge.website_timeout_seconds", 30)
	viper.SetDefault("knowledge.retrieval.k", 4)
	viper.SetDefault("knowledge.retrieval.fetch_k", 20)
	viper.SetDefault("knowledge.retrieval.lambda", 0.1)
	viper.SetDefault("knowledge.vector_store.provider", "database")
	viper.SetDefault("knowledge.vector_store.scan_batch_size", 1000)
	viper.SetDefault("knowledge.vector_store.milvus.address", "localhost:19530")
	viper.SetDefault("knowledge.vector_store.milvus.collection", "embedded_texts")
	viper.SetDefault("knowledge.vector_store.milvus.database", "default")
	viper.SetDefault("knowledge.vector_store.milvus.vector_size", 1536)

	viper.SetDefault("rate_limit.query_per_minute", 5)
	viper.SetDefault("rate_limit.train_per_minute", 2)
	viper.SetDefault("rate_limit.summarize_per_minute", 2)
	viper.SetDefault("rate_limit.window_seconds", 60)
	viper.SetDefault("rate_limit.trusted_proxies", []string{})

	viper.SetDefault("cors.allowed_origins", []string{"http://localhost:5000", "http://localhost:4200"})
}

func bindEnv() {
	if port := os.Getenv("PORT"); port != "" {
		viper.Set("server.port", port)
	}
	if env := os.Getenv("ENV"); env != "" {
		viper.Set("server.env", env)
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		viper.Set("database.url", dbURL)
	}
	if mongoURL := os.Getenv("MONGO_CONNECTION_STRING"); mongoURL != "" {
		viper.Set("database.mongo_url", mongoURL)
	}
	if redisHost := os.Getenv("REDIS_HOST"); redisHost != "" {
		viper.Set("redis.host", redisHost)
	}
	if redisPort := os.Getenv("REDIS_PORT"); redisPort != "" {
		viper.Set("redis.port", redisPort)
	}
	if redisEnabled := os.Getenv("REDIS_ENABLED"); redisEnabled == "true" {
		viper.Set("redis.enabled", true)
	}

	// 兼容旧的密钥变量名
	for _, key := range []string{"LLM_API_KEY", "COHERE_API_KEY", "OPENAI_API_KEY"} {
		if v := os.Getenv(key); v != "" {
			viper.Set("ai.api_key", v)
			break
		}
	}
	if baseURL := os.Getenv("LLM_BASE_URL"); baseURL != "" {
		viper.Set("ai.base_url", baseURL)
	}
	if model := os.Getenv("LLM_MODEL"); model != "" {
		viper.Set("ai.chat_model", model)
	}
	if model := os.Getenv("EMBEDDING_MODEL"); model != "" {
		viper.Set("ai.embedding_model", model)
	}

	if uploadPath := os.Getenv("UPLOAD_PATH"); uploadPath != "" {
		viper.Set("file_upload.upload_path", uploadPath)
	}
	if minioEndpoint := os.Getenv("MINIO_ENDPOINT"); minioEndpoint != "" {
		viper.Set("file_upload.storage.endpoint", minioEndpoint)
		viper.Set("file_upload.storage.provider", "minio")
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		viper.Set("file_upload.storage.access_key", v)
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		viper.Set("file_upload.storage.secret_key", v)
	}
	if v := os.Getenv("MINIO_BUCKET"); v != "" {
		viper.Set("file_upload.storage.bucket", v)
	}

	if proxies := os.Getenv("TRUSTED_PROXIES"); proxies != "" {
		var trusted []string
		for _, p := range strings.Split(proxies, ",") {
			if p = strings.TrimSpace(p); p != "" {
				trusted = append(trusted, p)
			}
		}
		viper.Set("rate_limit.trusted_proxies", trusted)
	}

	if kafkaBrokers := os.Getenv("KAFKA_BROKERS"); kafkaBrokers != "" {
		brokers := strings.Split(kafkaBrokers, ",")
		for i := range brokers {
			brokers[i] = strings.TrimSpace(brokers[i])
		}
		viper.Set("kafka.brokers", brokers)
	}
	if kafkaTopic := os.Getenv("KAFKA_TOPIC"); kafkaTopic != "" {
		viper.Set("kafka.topic", kafkaTopic)
	}
	if kafkaEnabled := os.Getenv("KAFKA_ENABLED"); kafkaEnabled == "true" {
		viper.Set("kafka.enabled", true)
	}

	if consulAddress := os.Getenv("CONSUL_ADDRESS"); consulAddress != "" {
		viper.Set("consul.address", consulAddress)
	}
	if consulEnabled := os.Getenv("CONSUL_ENABLED"); consulEnabled == "true" {
		viper.Set("consul.enabled", true)
	}
	if v := os.Getenv("CONSUL_SERVICE_HOST"); v != "" {
		viper.Set("consul.service_host", v)
	}

	if prometheusEnabled := os.Getenv("PROMETHEUS_ENABLED"); prometheusEnabled == "false" {
		viper.Set("prometheus.enabled", false)
	}
	if provider := os.Getenv("VECTOR_STORE_PROVIDER"); provider != "" {
		viper.Set("knowledge.vector_store.provider", provider)
	}
	if milvusAddr := os.Getenv("MILVUS_ADDRESS"); milvusAddr != "" {
		viper.Set("knowledge.vector_store.milvus.address", milvusAddr)
	}
	if store := os.Getenv("CONVERSATION_STORE"); store != "" {
		viper.Set("conversation.store", store)
	}
	if mode := os.Getenv("CONVERSATION_APPEND_MODE"); mode != "" {
		viper.Set("conversation.append_mode", mode)
	}
	if key := os.Getenv("UNIDOC_LICENSE_API_KEY"); key != "" {
		viper.Set("knowledge.unidoc_license_key", key)
	}
}

func build() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           viper.GetString("server.port"),
			Env:            viper.GetString("server.env"),
			TimeoutSeconds: viper.GetInt("server.timeout_seconds"),
		},
		Database: DatabaseConfig{
			URL:          viper.GetString("database.url"),
			MongoURL:     viper.GetString("database.mongo_url"),
			MongoDB:      viper.GetString("database.mongo_db"),
			MaxOpenConns: viper.GetInt("database.max_open_conns"),
			MaxIdleConns: viper.GetInt("database.max_idle_conns"),
			AutoMigrate:  viper.GetBool("database.auto_migrate"),
		},
		Redis: RedisConfig{
			Host:    viper.GetString("redis.host"),
			Port:    viper.GetString("redis.port"),
			DB:      viper.GetInt("redis.db"),
			Enabled: viper.GetBool("redis.enabled"),
		},
		Prometheus: PrometheusConfig{
			Enabled: viper.GetBool("prometheus.enabled"),
		},
		Kafka: KafkaConfig{
			Brokers: viper.GetStringSlice("kafka.brokers"),
			Topic:   viper.GetString("kafka.topic"),
			Enabled: viper.GetBool("kafka.enabled"),
		},
		Consul: ConsulConfig{
			Address:     viper.GetString("consul.address"),
			Enabled:     viper.GetBool("consul.enabled"),
			ServiceName: viper.GetString("consul.service_name"),
			ServiceID:   viper.GetString("consul.service_id"),
			ServiceHost: viper.GetString("consul.service_host"),
		},
		AI: AIConfig{
			APIKey:         viper.GetString("ai.api_key"),
			BaseURL:        viper.GetString("ai.base_url"),
			ChatModel:      viper.GetString("ai.chat_model"),
			EmbeddingModel: viper.GetString("ai.embedding_model"),
			MaxTokens:      viper.GetInt("ai.max_tokens"),
			Temperature:    viper.GetFloat64("ai.temperature"),
		},
		FileUpload: FileUploadConfig{
			MaxSize:    viper.GetInt64("file_upload.max_size"),
			UploadPath: viper.GetString("file_upload.upload_path"),
			Storage: ObjectStorageConfig{
				Provider:  viper.GetString("file_upload.storage.provider"),
				Endpoint:  viper.GetString("file_upload.storage.endpoint"),
				AccessKey: viper.GetString("file_upload.storage.access_key"),
				SecretKey: viper.GetString("file_upload.storage.secret_key"),
				Bucket:    viper.GetString("file_upload.storage.bucket"),
				UseSSL:    viper.GetBool("file_upload.storage.use_ssl"),
			},
		},
		Conversation: ConversationConfig{
			Store:      viper.GetString("conversation.store"),
			AppendMode: viper.GetString("conversation.append_mode"),
		},
		Knowledge: KnowledgeConfig{
			PDFChunkSize:          viper.GetInt("knowledge.pdf_chunk_size"),
			PDFChunkOverlap:       viper.GetInt("knowledge.pdf_chunk_overlap"),
			WebsiteChunkSize:      viper.GetInt("knowledge.website_chunk_size"),
			WebsiteChunkOverlap:   viper.GetInt("knowledge.website_chunk_overlap"),
			SummaryChunkSize:      viper.GetInt("knowledge.summary_chunk_size"),
			SummaryChunkOverlap:   viper.GetInt("knowledge.summary_chunk_overlap"),
			EmbeddingBatchSize:    viper.GetInt("knowledge.embedding_batch_size"),
			MaxParallel:           viper.GetInt("knowledge.max_parallel"),
			WebsiteTimeoutSeconds: viper.GetInt("knowledge.website_timeout_seconds"),
			UnidocLicenseKey:      viper.GetString("knowledge.unidoc_license_key"),
			Retrieval: RetrievalConfig{
				K:      viper.GetInt("knowledge.retrieval.k"),
				FetchK: viper.GetInt("knowledge.retrieval.fetch_k"),
				Lambda: viper.GetFloat64("knowledge.retrieval.lambda"),
			},
			VectorStore: VectorStoreConfig{
				Provider:      viper.GetString("knowledge.vector_store.provider"),
				ScanBatchSize: viper.GetInt("knowledge.vector_store.scan_batch_size"),
				Milvus: MilvusConfig{
					Address:    viper.GetString("knowledge.vector_store.milvus.address"),
					Username:   viper.GetString("knowledge.vector_store.milvus.username"),
					Password:   viper.GetString("knowledge.vector_store.milvus.password"),
					Collection: viper.GetString("knowledge.vector_store.milvus.collection"),
					Database:   viper.GetString("knowledge.vector_store.milvus.database"),
					VectorSize: viper.GetInt("knowledge.vector_store.milvus.vector_size"),
				},
			},
		},
		RateLimit: RateLimitConfig{
			QueryPerMinute:     viper.GetInt("rate_limit.query_per_minute"),
			TrainPerMinute:     viper.GetInt("rate_limit.train_per_minute"),
			SummarizePerMinute: viper.GetInt("rate_limit.summarize_per_minute"),
			WindowSeconds:      viper.GetInt("rate_limit.window_seconds"),
			TrustedProxies:     viper.GetStringSlice("rate_limit.trusted_proxies"),
		},
		CORS: CORSConfig{
			AllowedOrigins: viper.GetStringSlice("cors.allowed_origins"),
		},
	}
}

// LoadConfig 读取默认值、配置文件与环境变量，并在缺少必需项时直接失败
func LoadConfig() error {
	setDefaults()

	if file := os.Getenv("CONFIG_FILE"); file != "" {
		viper.SetConfigFile(file)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file %s: %w", file, err)
		}
	}

	viper.SetEnvPrefix("GENAI")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	bindEnv()

	cfg := build()
	if err := cfg.Validate(); err != nil {
		return err
	}

	mu.Lock()
	AppConfig = cfg
	mu.Unlock()
	return nil
}

// Validate 校验配置，LLM密钥和所选存储的连接串必须存在
func (c *Config) Validate() error {
	if c.AI.APIKey == "" {
		return fmt.Errorf("missing LLM API key: set LLM_API_KEY")
	}
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	needsPostgres := c.Conversation.Store == "postgres" || c.Knowledge.VectorStore.Provider == "database"
	if needsPostgres && c.Database.URL == "" {
		return fmt.Errorf("missing database connection string: set DATABASE_URL")
	}
	if c.Conversation.Store == "mongo" && c.Database.MongoURL == "" {
		return fmt.Errorf("missing mongo connection string: set MONGO_CONNECTION_STRING")
	}
	if c.Knowledge.Retrieval.FetchK < c.Knowledge.Retrieval.K {
		return fmt.Errorf("invalid configuration: fetch_k (%d) must be >= k (%d)",
			c.Knowledge.Retrieval.FetchK, c.Knowledge.Retrieval.K)
	}
	for _, pair := range [][2]int{
		{c.Knowledge.PDFChunkSize, c.Knowledge.PDFChunkOverlap},
		{c.Knowledge.WebsiteChunkSize, c.Knowledge.WebsiteChunkOverlap},
		{c.Knowledge.SummaryChunkSize, c.Knowledge.SummaryChunkOverlap},
	} {
		if pair[1] >= pair[0] {
			return fmt.Errorf("invalid configuration: chunk overlap %d must be smaller than chunk size %d", pair[1], pair[0])
		}
	}
	return nil
}

// Get 返回当前配置快照
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	return AppConfig
}

// Watch 监听配置文件变化，仅在新配置通过校验时替换
func Watch(onChange func(*Config)) {
	if viper.ConfigFileUsed() == "" {
		return
	}
	viper.OnConfigChange(func(e fsnotify.Event) {
		cfg := build()
		if err := cfg.Validate(); err != nil {
			return
		}
		mu.Lock()
		AppConfig = cfg
		mu.Unlock()
		if onChange != nil {
			onChange(cfg)
		}
	})
	viper.WatchConfig()
}
