package services

import (
	"context"
	"os"
	"strings"
	"testing"

	apperrors "github.com/aihub/genai-rag/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummarizePDF_RejectsNonPDF(t *testing.T) {
	model := &scriptedModel{}
	svc := NewSummarizeService(model, t.TempDir(), 10000, 250)

	_, err := svc.SummarizePDF(context.Background(), Upload{
		Filename:    "notes.json",
		ContentType: "application/json",
		Reader:      strings.NewReader("{}"),
	})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeIngestion))
	assert.Empty(t, model.calls)
}

func TestSummarizePDF_InvalidPDF(t *testing.T) {
	dir := t.TempDir()
	model := &scriptedModel{}
	svc := NewSummarizeService(model, dir, 10000, 250)

	_, err := svc.SummarizePDF(context.Background(), Upload{
		Filename:    "broken.pdf",
		ContentType: "application/pdf",
		Reader:      strings.NewReader("%PDF-garbage"),
	})
	require.Error(t, err)
	assert.Empty(t, model.calls)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
