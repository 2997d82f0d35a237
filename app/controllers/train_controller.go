package controllers

import (
	"errors"
	"net/http"

	"github.com/aihub/genai-rag/internal/services"
)

const (
	noPDFMessage         = "No PDF file uploaded"
	pdfProcessingMessage = "Error processing PDF"
	pdfFieldName         = "pdf"
)

// TrainController 训练接口：PDF、网页、JSON入库
type TrainController struct {
	BaseController
	ingestionService *services.IngestionService
}

func (c *TrainController) Prepare() {
	c.inject(func(is *services.IngestionService) {
		c.ingestionService = is
	})
}

// TrainUsingPDF POST /api/train/train-using-pdf
func (c *TrainController) TrainUsingPDF() {
	upload, cleanup, ok := c.pdfUpload()
	if !ok {
		return
	}
	defer cleanup()

	file, err := c.ingestionService.IngestPDF(c.Ctx.Request.Context(), upload)
	if err != nil {
		c.logFailure("PDF training failed", err)
		c.Text(http.StatusInternalServerError, pdfProcessingMessage)
		return
	}
	c.JSONSuccess(file)
}

// TrainUsingWebsite POST /api/train/train-using-website
func (c *TrainController) TrainUsingWebsite() {
	var req services.WebsiteRequest
	_ = jsonBody(c.Ctx.Input.RequestBody, &req)

	website, err := c.ingestionService.IngestWebsite(c.Ctx.Request.Context(), req)
	if err != nil {
		if msg, ok := validationMessage(err); ok {
			c.Text(http.StatusBadRequest, msg)
			return
		}
		c.logFailure("Website training failed", err)
		c.Text(http.StatusInternalServerError, pdfProcessingMessage)
		return
	}
	c.JSONSuccess(website)
}

// TrainUsingJSON POST /api/train/train-using-json
func (c *TrainController) TrainUsingJSON() {
	result, err := c.ingestionService.IngestJSON(c.Ctx.Request.Context(), c.Ctx.Input.RequestBody)
	if err != nil {
		if msg, ok := validationMessage(err); ok {
			c.Text(http.StatusBadRequest, msg)
			return
		}
		c.logFailure("JSON training failed", err)
		c.JSONError(http.StatusInternalServerError, GenericErrorMessage)
		return
	}
	c.JSONSuccess(result)
}

// pdfUpload 读取 multipart 字段 pdf，缺失时直接返回400
func (c *BaseController) pdfUpload() (services.Upload, func(), bool) {
	file, header, err := c.GetFile(pdfFieldName)
	if err != nil {
		if !errors.Is(err, http.ErrMissingFile) {
			c.logFailure("Failed to read upload", err)
		}
		c.Text(http.StatusBadRequest, noPDFMessage)
		return services.Upload{}, nil, false
	}

	upload := services.Upload{
		FieldName:   pdfFieldName,
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Reader:      file,
	}
	return upload, func() { _ = file.Close() }, true
}
