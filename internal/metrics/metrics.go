package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "genai_rag"

// Metrics 服务级Prometheus指标
type Metrics struct {
	registry *prometheus.Registry

	httpRequests       *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec
	stageDuration      *prometheus.HistogramVec
	ingestedChunks     *prometheus.CounterVec
	rateLimited        *prometheus.CounterVec
	conversationTurns  *prometheus.CounterVec
	kafkaPublishErrors prometheus.Counter
}

// New 创建独立的registry并注册所有指标
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route group, method and status",
		}, []string{"group", "method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route group",
			Buckets:   prometheus.DefBuckets,
		}, []string{"group"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_stage_duration_seconds",
			Help:      "Latency of each retrieval-augmented generation stage",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"stage", "status"}),
		ingestedChunks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingested_chunks_total",
			Help:      "Chunks embedded and stored, by source kind",
		}, []string{"kind"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_requests_total",
			Help:      "Requests rejected by the rate limiter",
		}, []string{"group"}),
		conversationTurns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversation_turns_total",
			Help:      "Conversation turns persisted, by append mode",
		}, []string{"mode"}),
		kafkaPublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Turn events that failed to publish",
		}),
	}

	reg.MustRegister(
		m.httpRequests,
		m.httpDuration,
		m.stageDuration,
		m.ingestedChunks,
		m.rateLimited,
		m.conversationTurns,
		m.kafkaPublishErrors,
	)
	return m
}

// Registry 供其他组件注册自有指标
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler 返回Prometheus指标的HTTP处理器
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveRequest(group, method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(group, method, statusClass(status)).Inc()
	m.httpDuration.WithLabelValues(group).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveStage(stage string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.stageDuration.WithLabelValues(stage, status).Observe(elapsed.Seconds())
}

func (m *Metrics) AddIngestedChunks(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ingestedChunks.WithLabelValues(kind).Add(float64(n))
}

func (m *Metrics) IncRateLimited(group string) {
	if m == nil {
		return
	}
	m.rateLimited.WithLabelValues(group).Inc()
}

func (m *Metrics) IncConversationTurn(mode string) {
	if m == nil {
		return
	}
	m.conversationTurns.WithLabelValues(mode).Inc()
}

func (m *Metrics) IncKafkaPublishError() {
	if m == nil {
		return
	}
	m.kafkaPublishErrors.Inc()
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
