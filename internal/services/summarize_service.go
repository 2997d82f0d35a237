package services

import (
	"context"

	apperrors "github.com/aihub/genai-rag/internal/errors"
	"github.com/aihub/genai-rag/internal/knowledge"
	"github.com/aihub/genai-rag/internal/logger"
	"go.uber.org/zap"
)

// SummarizeService PDF摘要服务
type SummarizeService struct {
	summarizer   *knowledge.RefineSummarizer
	spool        *spooler
	pdf          *knowledge.PDFParser
	chunkSize    int
	chunkOverlap int
	log          *zap.Logger
}

func NewSummarizeService(model knowledge.ChatModel, uploadPath string, chunkSize, chunkOverlap int) *SummarizeService {
	return &SummarizeService{
		summarizer:   knowledge.NewRefineSummarizer(model),
		spool:        newSpooler(uploadPath),
		pdf:          &knowledge.PDFParser{},
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
		log:          logger.Named("summarize"),
	}
}

// SummarizePDF 按10000/250切分后逐块精炼摘要，不写入向量库
func (s *SummarizeService) SummarizePDF(ctx context.Context, upload Upload) (string, error) {
	if !isPDF(upload) {
		return "", apperrors.NewIngestionError("Only PDF files are allowed", nil).
			WithDetails(map[string]string{"mimetype": upload.ContentType})
	}

	file, err := s.spool.save(upload)
	if err != nil {
		return "", apperrors.NewIngestionError("failed to store upload", err)
	}
	defer s.spool.remove(file.Path, s.log)
	s.log.Info("Uploaded file", zap.String("filename", file.Filename))

	docs, err := parsePDFPath(s.pdf, file.Path)
	if err != nil {
		return "", err
	}

	chunks := knowledge.NewChunker(s.chunkSize, s.chunkOverlap).SplitDocuments(docs)
	summary, err := s.summarizer.Summarize(ctx, chunks)
	if err != nil {
		return "", apperrors.NewUpstreamError("summarize", err)
	}
	s.log.Info("PDF summarized", zap.String("filename", file.Filename), zap.Int("chunks", len(chunks)))
	return summary, nil
}
