package controllers

import (
	"net/http"

	"github.com/aihub/genai-rag/internal/services"
)

// SummarizeController PDF摘要接口
type SummarizeController struct {
	BaseController
	summarizeService *services.SummarizeService
}

func (c *SummarizeController) Prepare() {
	c.inject(func(ss *services.SummarizeService) {
		c.summarizeService = ss
	})
}

// SummarizeUsingPDF POST /api/summarize/summarize-using-pdf
func (c *SummarizeController) SummarizeUsingPDF() {
	upload, cleanup, ok := c.pdfUpload()
	if !ok {
		return
	}
	defer cleanup()

	summary, err := c.summarizeService.SummarizePDF(c.Ctx.Request.Context(), upload)
	if err != nil {
		c.logFailure("PDF summarization failed", err)
		c.Text(http.StatusInternalServerError, pdfProcessingMessage)
		return
	}
	c.JSONSuccess(summary)
}
