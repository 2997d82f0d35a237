package storage

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/aihub/genai-rag/internal/config"
	"github.com/aihub/genai-rag/internal/logger"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// Archiver 保存上传原件
type Archiver interface {
	Archive(ctx context.Context, objectKey, path, contentType string) error
	Enabled() bool
}

// NoopArchiver 本地存储模式下不归档
type NoopArchiver struct{}

func (NoopArchiver) Archive(context.Context, string, string, string) error { return nil }
func (NoopArchiver) Enabled() bool                                        { return false }

// MinIOArchiver 将上传的原始文件归档到MinIO
type MinIOArchiver struct {
	client *minio.Client
	bucket string
}

// NewArchiver 按配置返回归档实现，provider不是minio时为空实现
func NewArchiver(ctx context.Context, cfg config.ObjectStorageConfig) (Archiver, error) {
	if cfg.Provider != "minio" {
		return NoopArchiver{}, nil
	}
	archiver, err := NewMinIOArchiver(cfg)
	if err != nil {
		return nil, err
	}
	if err := archiver.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	return archiver, nil
}

// NewMinIOArchiver 创建MinIO客户端，不发起网络请求
func NewMinIOArchiver(cfg config.ObjectStorageConfig) (*MinIOArchiver, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("minio endpoint not configured")
	}
	bucket := cfg.Bucket
	if bucket == "" {
		bucket = "uploads"
	}

	client, err := minio.New(normalizeEndpoint(cfg.Endpoint), &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	return &MinIOArchiver{client: client, bucket: bucket}, nil
}

// minio.New 不接受协议前缀
func normalizeEndpoint(endpoint string) string {
	endpoint = strings.TrimPrefix(endpoint, "http://")
	endpoint = strings.TrimPrefix(endpoint, "https://")
	return strings.TrimSuffix(endpoint, "/")
}

func (a *MinIOArchiver) Bucket() string {
	return a.bucket
}

func (a *MinIOArchiver) Enabled() bool {
	return a != nil && a.client != nil
}

// EnsureBucket 确保bucket存在
func (a *MinIOArchiver) EnsureBucket(ctx context.Context) error {
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if exists {
		return nil
	}
	if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
		code := minio.ToErrorResponse(err).Code
		if code == "BucketAlreadyOwnedByYou" || code == "BucketAlreadyExists" {
			return nil
		}
		return fmt.Errorf("failed to create bucket %s: %w", a.bucket, err)
	}
	logger.Info("MinIO bucket created", zap.String("bucket", a.bucket))
	return nil
}

// Archive 上传本地文件
func (a *MinIOArchiver) Archive(ctx context.Context, objectKey, path, contentType string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}

	_, err = a.client.PutObject(ctx, a.bucket, objectKey, f, info.Size(), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("failed to archive %s: %w", objectKey, err)
	}
	return nil
}

// HealthCheck 列出bucket验证连通性
func (a *MinIOArchiver) HealthCheck(ctx context.Context) error {
	_, err := a.client.BucketExists(ctx, a.bucket)
	return err
}
