package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/aihub/genai-rag/app/controllers"
	"github.com/aihub/genai-rag/internal/config"
	"github.com/aihub/genai-rag/internal/di"
	"github.com/aihub/genai-rag/internal/knowledge"
	"github.com/aihub/genai-rag/internal/metrics"
	"github.com/aihub/genai-rag/internal/repository"
	"github.com/beego/beego/v2/server/web"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type letterEmbedder struct{}

func (letterEmbedder) vector(text string) []float32 {
	vec := make([]float32, 4)
	for i, r := range text {
		vec[(int(r)+i)%4]++
	}
	vec[0] += 0.25
	return vec
}

func (e letterEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return e.vector(text), nil
}

func (e letterEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return out, nil
}

func (letterEmbedder) Dimensions() int { return 4 }
func (letterEmbedder) Ready() bool     { return true }

// switchModel 按开关返回固定答案或错误
type switchModel struct {
	mu   sync.Mutex
	fail bool
}

func (m *switchModel) setFail(fail bool) {
	m.mu.Lock()
	m.fail = fail
	m.mu.Unlock()
}

func (m *switchModel) Generate(_ context.Context, messages []knowledge.Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return "", assert.AnError
	}
	return "BBQ Chicken costs 12 dollars", nil
}

var (
	testModel   = &switchModel{}
	testMetrics = metrics.New()
)

func TestMain(m *testing.M) {
	uploadDir, err := os.MkdirTemp("", "genai-rag-router")
	if err != nil {
		panic(err)
	}

	web.BConfig.CopyRequestBody = true
	web.BConfig.RunMode = "test"
	web.BConfig.WebConfig.AutoRender = false

	cfg := &config.Config{
		Conversation: config.ConversationConfig{Store: "memory", AppendMode: "atomic"},
		FileUpload:   config.FileUploadConfig{UploadPath: uploadDir, MaxSize: 1 << 20},
		Knowledge: config.KnowledgeConfig{
			PDFChunkSize:          200,
			PDFChunkOverlap:       20,
			WebsiteChunkSize:      1000,
			WebsiteChunkOverlap:   200,
			SummaryChunkSize:      10000,
			SummaryChunkOverlap:   250,
			EmbeddingBatchSize:    96,
			MaxParallel:           1,
			WebsiteTimeoutSeconds: 5,
			Retrieval:             config.RetrievalConfig{K: 2, FetchK: 10, Lambda: 0.1},
		},
	}
	if _, err := di.Build(di.Infrastructure{
		Config:        cfg,
		Vectors:       knowledge.NewMemoryVectorStore(),
		Conversations: repository.NewMemoryConversationRepository(),
		Embedder:      letterEmbedder{},
		Model:         testModel,
		Metrics:       testMetrics,
	}); err != nil {
		panic(err)
	}

	Init(web.BeeApp, Options{
		AllowedOrigins: []string{"http://localhost:4200"},
		TrustedProxies: []string{"192.0.2.1"},
		MaxBodyBytes:   cfg.FileUpload.MaxSize,
		Policies: NewPolicies(config.RateLimitConfig{
			QueryPerMinute:     1000,
			TrainPerMinute:     1000,
			SummarizePerMinute: 2,
			WindowSeconds:      60,
		}),
		Metrics:       testMetrics,
		EnableMetrics: true,
	})

	code := m.Run()
	_ = os.RemoveAll(uploadDir)
	os.Exit(code)
}

func serve(method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	web.BeeApp.Handlers.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func trainJSON(t *testing.T) string {
	t.Helper()
	w := serve(http.MethodPost, "/api/train/train-using-json",
		[]byte(`{"menu":[{"name":"BBQ Chicken","price":"12 dollars"},{"name":"Salad","price":"7 dollars"}]}`), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decode(t, w)
	assert.Equal(t, true, resp["success"])
	data := resp["data"].(map[string]interface{})
	assert.Equal(t, float64(4), data["chunks"])
	return data["source"].(string)
}

func TestWelcome(t *testing.T) {
	w := serve(http.MethodGet, "/", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Welcome to the Gen AI API", decode(t, w)["message"])
}

func TestHealthWithoutRegistry(t *testing.T) {
	w := serve(http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])
}

func TestPrompt_MissingSource(t *testing.T) {
	w := serve(http.MethodPost, "/api/query/prompt", []byte(`{"query":"What is the cost of BBQ Chicken"}`), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Please provide Source as well as the query", w.Body.String())

	w = serve(http.MethodPost, "/api/query/prompt", []byte(`not json`), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTrainThenPrompt(t *testing.T) {
	source := trainJSON(t)

	w := serve(http.MethodGet, "/api/sources/trained-models", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var sources []string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sources))
	assert.Contains(t, sources, source)

	body, _ := json.Marshal(map[string]string{"query": "What is the cost of BBQ Chicken", "source": source})
	w = serve(http.MethodPost, "/api/query/prompt", body, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode(t, w)
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, "BBQ Chicken costs 12 dollars", resp["data"])
	assert.Empty(t, w.Header().Get(controllers.ChatHistoryHeader))
}

func TestPromptWithHistory_ReturnsConversationID(t *testing.T) {
	source := trainJSON(t)

	body, _ := json.Marshal(map[string]string{"query": "What is the cost of BBQ Chicken", "source": source})
	w := serve(http.MethodPost, "/api/query/prompt-with-history", body, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	id := w.Header().Get(controllers.ChatHistoryHeader)
	require.NotEmpty(t, id)

	follow, _ := json.Marshal(map[string]string{"query": "Add extra toppings", "source": source, "chatHistoryId": id})
	w = serve(http.MethodPost, "/api/query/prompt-with-history", follow, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, id, w.Header().Get(controllers.ChatHistoryHeader))

	w = serve(http.MethodGet, "/api/sources/chathistory", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var ids []string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ids))
	assert.Contains(t, ids, id)
}

func TestPromptWithHistory_UnknownConversation(t *testing.T) {
	body, _ := json.Marshal(map[string]string{
		"query":         "Hello",
		"source":        "./uploads/menu.pdf",
		"chatHistoryId": "7b6d1f1e-3c1a-4d5e-9a53-0d3c5b1e2f44",
	})
	w := serve(http.MethodPost, "/api/query/prompt-with-history", body, nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	resp := decode(t, w)
	assert.Equal(t, false, resp["success"])
	assert.Equal(t, "Something went wrong", resp["error"])
}

func TestPrompt_ModelFailure(t *testing.T) {
	source := trainJSON(t)
	testModel.setFail(true)
	defer testModel.setFail(false)

	body, _ := json.Marshal(map[string]string{"query": "What is the cost of BBQ Chicken", "source": source})
	w := serve(http.MethodPost, "/api/query/prompt", body, nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Something went wrong", decode(t, w)["error"])
}

func TestTrainUsingJSON_Invalid(t *testing.T) {
	w := serve(http.MethodPost, "/api/train/train-using-json", []byte(`{"broken":`), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Please provide a valid JSON document", w.Body.String())
}

func TestTrainUsingWebsite_Missing(t *testing.T) {
	w := serve(http.MethodPost, "/api/train/train-using-website", []byte(`{}`), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Please provide a website", w.Body.String())
}

func multipartBody(t *testing.T, field, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestTrainUsingPDF_NoFile(t *testing.T) {
	body, contentType := multipartBody(t, "document", "menu.pdf", "%PDF-1.4")
	req := httptest.NewRequest(http.MethodPost, "/api/train/train-using-pdf", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	web.BeeApp.Handlers.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "No PDF file uploaded", w.Body.String())
}

func TestTrainUsingPDF_NotAPDF(t *testing.T) {
	body, contentType := multipartBody(t, "pdf", "menu.txt", "plain text")
	req := httptest.NewRequest(http.MethodPost, "/api/train/train-using-pdf", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	web.BeeApp.Handlers.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Error processing PDF", w.Body.String())
}

func TestSummarize_RateLimited(t *testing.T) {
	headers := map[string]string{"X-Forwarded-For": "192.0.2.77"}
	for i := 0; i < 2; i++ {
		w := serve(http.MethodPost, "/api/summarize/summarize-using-pdf", []byte(`{}`), headers)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "2", w.Header().Get("RateLimit-Limit"))
	}

	w := serve(http.MethodPost, "/api/summarize/summarize-using-pdf", []byte(`{}`), headers)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "0", w.Header().Get("RateLimit-Remaining"))
}

func TestSummarize_ForwardedForFromUntrustedPeer(t *testing.T) {
	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/summarize/summarize-using-pdf", bytes.NewReader([]byte(`{}`)))
		req.RemoteAddr = "203.0.113.50:41000"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d", i+10))
		w := httptest.NewRecorder()
		web.BeeApp.Handlers.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusBadRequest, http.StatusBadRequest, http.StatusTooManyRequests}, codes)
}

func TestPreflight(t *testing.T) {
	w := serve(http.MethodOptions, "/api/query/prompt", nil, map[string]string{
		"Origin":                        "http://localhost:4200",
		"Access-Control-Request-Method": "POST",
	})
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:4200", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
}

func TestMetricsEndpoint(t *testing.T) {
	serve(http.MethodGet, "/", nil, nil)

	w := serve(http.MethodGet, "/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "genai_rag_http_requests_total"), w.Body.String())
}

func TestGroups_RouteTable(t *testing.T) {
	var paths []string
	for _, g := range Groups(Options{EnableMetrics: true}) {
		for _, def := range g.Routes() {
			paths = append(paths, def.Method+" "+def.Path)
		}
	}
	assert.ElementsMatch(t, []string{
		"get /",
		"get /health",
		"post /api/query/prompt",
		"post /api/query/prompt-with-history",
		"post /api/train/train-using-pdf",
		"post /api/train/train-using-website",
		"post /api/train/train-using-json",
		"post /api/summarize/summarize-using-pdf",
		"get /api/sources/trained-models",
		"get /api/sources/chathistory",
		"get /metrics",
	}, paths)
}

func TestPolicies_Update(t *testing.T) {
	p := NewPolicies(config.RateLimitConfig{QueryPerMinute: 5, TrainPerMinute: 2, SummarizePerMinute: 2, WindowSeconds: 60})
	p.Update(config.RateLimitConfig{QueryPerMinute: 10, TrainPerMinute: 3, SummarizePerMinute: 4})
	assert.Equal(t, 10, p.Query.Limit())
	assert.Equal(t, 3, p.Train.Limit())
	assert.Equal(t, 4, p.Summarize.Limit())
}
