package database

import (
	"context"
	"fmt"
	"time"

	"github.com/aihub/genai-rag/internal/config"
	"github.com/aihub/genai-rag/internal/logger"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

var MongoClient *mongo.Client

// InitMongo 连接MongoDB并返回配置的数据库
func InitMongo(ctx context.Context, cfg *config.Config) (*mongo.Database, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config not loaded")
	}
	if cfg.Database.MongoURL == "" {
		return nil, fmt.Errorf("mongo connection string is empty")
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.Database.MongoURL))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	MongoClient = client
	logger.Info("MongoDB connected", zap.String("database", cfg.Database.MongoDB))
	return client.Database(cfg.Database.MongoDB), nil
}

func CloseMongo(ctx context.Context) error {
	if MongoClient == nil {
		return nil
	}
	return MongoClient.Disconnect(ctx)
}
