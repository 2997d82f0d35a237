package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveRequest(t *testing.T) {
	m := New()
	m.ObserveRequest("query", http.MethodPost, 200, 10*time.Millisecond)
	m.ObserveRequest("query", http.MethodPost, 429, time.Millisecond)
	m.ObserveRequest("query", http.MethodPost, 503, time.Millisecond)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.httpRequests.WithLabelValues("query", "POST", "2xx")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.httpRequests.WithLabelValues("query", "POST", "4xx")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.httpRequests.WithLabelValues("query", "POST", "5xx")))
}

func TestCounters(t *testing.T) {
	m := New()
	m.AddIngestedChunks("pdf", 3)
	m.AddIngestedChunks("pdf", 0)
	m.IncRateLimited("train")
	m.IncConversationTurn("atomic")
	m.IncKafkaPublishError()
	m.ObserveStage("generate", time.Second, errors.New("boom"))

	assert.Equal(t, float64(3), testutil.ToFloat64(m.ingestedChunks.WithLabelValues("pdf")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.rateLimited.WithLabelValues("train")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.conversationTurns.WithLabelValues("atomic")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.kafkaPublishErrors))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveRequest("query", "GET", 200, time.Millisecond)
		m.ObserveStage("retrieve", time.Millisecond, nil)
		m.AddIngestedChunks("json", 1)
		m.IncRateLimited("query")
		m.IncConversationTurn("replace")
		m.IncKafkaPublishError()
	})
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.IncRateLimited("summarize")

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.True(t, strings.Contains(body, `genai_rag_rate_limited_requests_total{group="summarize"} 1`))
}
