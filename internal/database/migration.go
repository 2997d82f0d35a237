package database

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/sirupsen/logrus"
)

// SchemaVersion 当前代码期望的数据库结构版本（chat_histories + embedded_texts）
const SchemaVersion uint = 2

// MigrationStatus 迁移状态
type MigrationStatus struct {
	Current uint
	Dirty   bool
	Pending bool
}

// MigrationManager 管理对话历史与向量文本表的结构迁移
type MigrationManager struct {
	migrate *migrate.Migrate
	logger  *logrus.Logger
}

// NewMigrationManager 创建迁移管理器
func NewMigrationManager(db *sql.DB, migrationPath string, logger *logrus.Logger) (*MigrationManager, error) {
	if migrationPath == "" {
		migrationPath = "./migrations"
	}
	if absPath, err := filepath.Abs(migrationPath); err == nil {
		migrationPath = absPath
	}
	if logger == nil {
		logger = logrus.New()
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: "genai_rag_schema_migrations"})
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+migrationPath, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}

	return &MigrationManager{migrate: m, logger: logger}, nil
}

func (mm *MigrationManager) run(action string, fn func() error) error {
	mm.logger.WithField("action", action).Info("Running schema migration")
	err := fn()
	if errors.Is(err, migrate.ErrNoChange) {
		mm.logger.WithField("action", action).Info("Schema already up to date")
		return nil
	}
	if err != nil {
		return fmt.Errorf("migration %s failed: %w", action, err)
	}
	mm.logger.WithField("action", action).Info("Schema migration completed")
	return nil
}

// Up 执行所有待执行的迁移
func (mm *MigrationManager) Up() error {
	return mm.run("up", mm.migrate.Up)
}

// Down 回滚最后一次迁移
func (mm *MigrationManager) Down() error {
	return mm.run("down", func() error { return mm.migrate.Steps(-1) })
}

// Goto 迁移到指定版本，向上或向下均可
func (mm *MigrationManager) Goto(version uint) error {
	return mm.run(fmt.Sprintf("goto %d", version), func() error { return mm.migrate.Migrate(version) })
}

// Version 获取当前数据库版本，未迁移过时返回0
func (mm *MigrationManager) Version() (uint, bool, error) {
	version, dirty, err := mm.migrate.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get migration version: %w", err)
	}
	return version, dirty, nil
}

// Status 对比当前版本与 SchemaVersion
func (mm *MigrationManager) Status() (MigrationStatus, error) {
	current, dirty, err := mm.Version()
	if err != nil {
		return MigrationStatus{}, err
	}
	return MigrationStatus{Current: current, Dirty: dirty, Pending: current < SchemaVersion}, nil
}

// ForceVersion 强制设置数据库版本（用于修复脏状态）
func (mm *MigrationManager) ForceVersion(version uint) error {
	mm.logger.Warnf("Force setting migration version to %d", version)
	if err := mm.migrate.Force(int(version)); err != nil {
		return fmt.Errorf("failed to force version %d: %w", version, err)
	}
	return nil
}

// Close 关闭迁移管理器
func (mm *MigrationManager) Close() error {
	sourceErr, dbErr := mm.migrate.Close()
	if sourceErr != nil || dbErr != nil {
		return fmt.Errorf("errors occurred while closing migrator: source=%v, db=%v", sourceErr, dbErr)
	}
	return nil
}
