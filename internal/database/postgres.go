package database

import (
	"fmt"
	"time"

	"github.com/aihub/genai-rag/internal/config"
	"github.com/aihub/genai-rag/internal/logger"
	"github.com/aihub/genai-rag/internal/models"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var DB *gorm.DB

// InitDB 连接PostgreSQL并按配置设置连接池
func InitDB(cfg *config.Config) (*gorm.DB, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config not loaded")
	}

	logLevel := gormlogger.Warn
	if cfg.Server.Env == "development" {
		logLevel = gormlogger.Info
	}

	db, err := gorm.Open(postgres.Open(cfg.Database.URL), &gorm.Config{
		Logger:                 gormlogger.Default.LogMode(logLevel),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// 获取底层的sql.DB设置连接池
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	maxOpenConns := cfg.Database.MaxOpenConns
	if maxOpenConns <= 0 {
		maxOpenConns = 20
	}
	maxIdleConns := cfg.Database.MaxIdleConns
	if maxIdleConns <= 0 {
		maxIdleConns = 5
	}
	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if cfg.Database.AutoMigrate {
		if err := AutoMigrate(db); err != nil {
			logger.Warn("Database auto migration failed", zap.Error(err))
		}
	}

	DB = db
	logger.Info("Database connected",
		zap.Int("max_open_conns", maxOpenConns),
		zap.Int("max_idle_conns", maxIdleConns))
	return db, nil
}

// AutoMigrate 创建对话历史与向量文本表
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.ChatHistory{}); err != nil {
		return fmt.Errorf("failed to migrate chat_histories: %w", err)
	}
	if err := db.AutoMigrate(&models.EmbeddedText{}); err != nil {
		return fmt.Errorf("failed to migrate embedded_texts: %w", err)
	}
	return nil
}

func CloseDB() error {
	if DB == nil {
		return nil
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}

	return sqlDB.Close()
}
