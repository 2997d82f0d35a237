package services

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"github.com/aihub/genai-rag/internal/config"
	apperrors "github.com/aihub/genai-rag/internal/errors"
	"github.com/aihub/genai-rag/internal/knowledge"
	"github.com/aihub/genai-rag/internal/logger"
	"github.com/aihub/genai-rag/internal/metrics"
	"github.com/aihub/genai-rag/internal/storage"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	contentTypePDF  = "application/pdf"
	contentTypeJSON = "application/json"
)

// PageLoader 抓取网页文本
type PageLoader interface {
	Load(ctx context.Context, url string) ([]knowledge.Document, error)
}

// IngestionOptions 切分与批量参数
type IngestionOptions struct {
	UploadPath          string
	PDFChunkSize        int
	PDFChunkOverlap     int
	WebsiteChunkSize    int
	WebsiteChunkOverlap int
	BatchSize           int
	MaxParallel         int
}

// IngestionOptionsFromConfig 从配置读取切分参数
func IngestionOptionsFromConfig(cfg *config.Config) IngestionOptions {
	return IngestionOptions{
		UploadPath:          cfg.FileUpload.UploadPath,
		PDFChunkSize:        cfg.Knowledge.PDFChunkSize,
		PDFChunkOverlap:     cfg.Knowledge.PDFChunkOverlap,
		WebsiteChunkSize:    cfg.Knowledge.WebsiteChunkSize,
		WebsiteChunkOverlap: cfg.Knowledge.WebsiteChunkOverlap,
		BatchSize:           cfg.Knowledge.EmbeddingBatchSize,
		MaxParallel:         cfg.Knowledge.MaxParallel,
	}
}

// WebsiteRequest 网页训练请求
type WebsiteRequest struct {
	Website string `json:"website" validate:"required"`
}

// IngestResult 写入结果
type IngestResult struct {
	Source string `json:"source"`
	Chunks int    `json:"chunks"`
}

// IngestionService 文档向量化入库服务
type IngestionService struct {
	store    knowledge.VectorStore
	embedder knowledge.Embedder
	loader   PageLoader
	archiver storage.Archiver
	metrics  *metrics.Metrics
	opts     IngestionOptions
	spool    *spooler
	pdf      *knowledge.PDFParser
	json     *knowledge.JSONParser
	log      *zap.Logger
}

// NewIngestionService 创建入库服务，archiver 与 m 可为 nil
func NewIngestionService(
	store knowledge.VectorStore,
	embedder knowledge.Embedder,
	loader PageLoader,
	archiver storage.Archiver,
	m *metrics.Metrics,
	opts IngestionOptions,
) *IngestionService {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 96
	}
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = 1
	}
	if archiver == nil {
		archiver = storage.NoopArchiver{}
	}
	return &IngestionService{
		store:    store,
		embedder: embedder,
		loader:   loader,
		archiver: archiver,
		metrics:  m,
		opts:     opts,
		spool:    newSpooler(opts.UploadPath),
		pdf:      &knowledge.PDFParser{},
		json:     &knowledge.JSONParser{},
		log:      logger.Named("ingestion"),
	}
}

// IngestPDF 按页提取PDF文本，切分为200/20的片段后向量化入库
func (s *IngestionService) IngestPDF(ctx context.Context, upload Upload) (*UploadedFile, error) {
	if !isPDF(upload) {
		return nil, apperrors.NewIngestionError("Only PDF files are allowed", nil).
			WithDetails(map[string]string{"mimetype": upload.ContentType})
	}

	file, err := s.spool.save(upload)
	if err != nil {
		return nil, apperrors.NewIngestionError("failed to store upload", err)
	}
	defer s.spool.remove(file.Path, s.log)
	s.log.Info("Uploaded file", zap.String("filename", file.Filename), zap.Int64("size", file.Size))

	docs, err := parsePDFPath(s.pdf, file.Path)
	if err != nil {
		return nil, err
	}

	chunker := knowledge.NewChunker(s.opts.PDFChunkSize, s.opts.PDFChunkOverlap)
	chunks := chunker.SplitDocuments(docs)
	stored, err := s.embedAndStore(ctx, "pdf", chunks)
	if err != nil {
		return nil, err
	}
	s.log.Info("PDF ingested", zap.String("source", file.Path), zap.Int("chunks", stored))

	s.archive(ctx, file.Filename, file.Path, contentTypePDF)
	return file, nil
}

// IngestWebsite 抓取网页并按1000/200切分入库，来源为网址本身
func (s *IngestionService) IngestWebsite(ctx context.Context, req WebsiteRequest) (string, error) {
	if err := validateRequest(&req, "Please provide a website"); err != nil {
		return "", err
	}

	docs, err := s.loader.Load(ctx, req.Website)
	if err != nil {
		return "", apperrors.NewIngestionError("failed to load website", err)
	}

	chunker := knowledge.NewChunker(s.opts.WebsiteChunkSize, s.opts.WebsiteChunkOverlap)
	chunks := chunker.SplitDocuments(docs)
	stored, err := s.embedAndStore(ctx, "website", chunks)
	if err != nil {
		return "", err
	}
	s.log.Info("Website ingested", zap.String("source", req.Website), zap.Int("chunks", stored))
	return req.Website, nil
}

// IngestJSON 每个字符串叶子作为一篇文档，按200/20切分入库
func (s *IngestionService) IngestJSON(ctx context.Context, payload []byte) (*IngestResult, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 || !gjson.ValidBytes(payload) {
		return nil, apperrors.NewValidationError("Please provide a valid JSON document")
	}

	name := fmt.Sprintf("json-%d.json", s.spool.now().UnixMilli())
	source := s.spool.locator(name)

	docs, err := s.json.Parse(payload, source)
	if err != nil {
		return nil, apperrors.NewValidationError("Please provide a valid JSON document").WithCause(err)
	}
	if len(docs) == 0 {
		return nil, apperrors.NewValidationError("JSON document contains no text")
	}

	chunker := knowledge.NewChunker(s.opts.PDFChunkSize, s.opts.PDFChunkOverlap)
	chunks := chunker.SplitDocuments(docs)
	stored, err := s.embedAndStore(ctx, "json", chunks)
	if err != nil {
		return nil, err
	}
	s.log.Info("JSON ingested", zap.String("source", source), zap.Int("chunks", stored))

	s.archivePayload(ctx, name, payload)

	return &IngestResult{Source: source, Chunks: stored}, nil
}

func parsePDFPath(parser *knowledge.PDFParser, path string) ([]knowledge.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperrors.NewIngestionError("failed to open upload", err)
	}
	defer f.Close()

	docs, err := parser.Parse(f, path)
	if err != nil {
		return nil, apperrors.NewIngestionError("failed to extract pdf text", err)
	}
	if len(docs) == 0 {
		return nil, apperrors.NewIngestionError("pdf contains no extractable text", nil)
	}
	return docs, nil
}

// embedAndStore 分批向量化并写入，每批嵌入完成后立即写入，失败时已写入的批次保留
func (s *IngestionService) embedAndStore(ctx context.Context, kind string, docs []knowledge.Document) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}
	if s.embedder == nil || !s.embedder.Ready() {
		return 0, apperrors.NewIngestionError("embedding provider not configured", nil)
	}
	if s.store == nil || !s.store.Ready() {
		return 0, apperrors.NewIngestionError("vector store not ready", nil)
	}

	var stored int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.MaxParallel)

	for start := 0; start < len(docs); start += s.opts.BatchSize {
		end := start + s.opts.BatchSize
		if end > len(docs) {
			end = len(docs)
		}
		batch := docs[start:end]
		batchNo := start / s.opts.BatchSize

		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			n, err := s.storeBatch(gctx, batch)
			if err != nil {
				return fmt.Errorf("batch %d: %w", batchNo, err)
			}
			atomic.AddInt64(&stored, int64(n))
			s.metrics.AddIngestedChunks(kind, n)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		s.log.Error("Ingestion stopped partway",
			zap.String("kind", kind), zap.Int64("stored_chunks", atomic.LoadInt64(&stored)), zap.Error(err))
		return int(stored), apperrors.NewIngestionError("failed to embed and store chunks", err).
			WithDetails(map[string]int64{"stored_chunks": atomic.LoadInt64(&stored)})
	}
	return int(stored), nil
}

func (s *IngestionService) storeBatch(ctx context.Context, batch []knowledge.Document) (int, error) {
	texts := make([]string, len(batch))
	for i, doc := range batch {
		texts[i] = doc.PageContent
	}

	vectors, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embedding failed: %w", err)
	}
	if len(vectors) != len(batch) {
		return 0, fmt.Errorf("embedding returned %d vectors for %d texts", len(vectors), len(batch))
	}

	records := make([]knowledge.VectorRecord, len(batch))
	for i, doc := range batch {
		records[i] = knowledge.VectorRecord{
			Source:    doc.Source,
			Text:      doc.PageContent,
			Embedding: vectors[i],
		}
	}
	if err := s.store.AddRecords(ctx, records); err != nil {
		return 0, fmt.Errorf("store failed: %w", err)
	}
	return len(records), nil
}

func (s *IngestionService) archive(ctx context.Context, objectKey, path, contentType string) {
	if !s.archiver.Enabled() {
		return
	}
	if err := s.archiver.Archive(ctx, objectKey, path, contentType); err != nil {
		s.log.Warn("Failed to archive upload", zap.String("object", objectKey), zap.Error(err))
	}
}

// archivePayload 先落盘再归档，归档后删除
func (s *IngestionService) archivePayload(ctx context.Context, name string, payload []byte) {
	if !s.archiver.Enabled() {
		return
	}
	if err := s.spool.ensureDir(); err != nil {
		s.log.Warn("Failed to archive upload", zap.String("object", name), zap.Error(err))
		return
	}
	path := s.spool.locator(name)
	if _, err := s.spool.write(path, bytes.NewReader(payload)); err != nil {
		s.log.Warn("Failed to archive upload", zap.String("object", name), zap.Error(err))
		return
	}
	defer s.spool.remove(path, s.log)
	s.archive(ctx, name, path, contentTypeJSON)
}

func isPDF(upload Upload) bool {
	return strings.EqualFold(upload.ContentType, contentTypePDF)
}
