package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// MetricsCollector 连接池指标收集器
type MetricsCollector struct {
	db              *sql.DB
	logger          *logrus.Logger
	collectInterval time.Duration

	dbConnectionsGauge *prometheus.GaugeVec
	dbWaitCount        prometheus.Gauge
	dbWaitDuration     prometheus.Gauge
}

// NewMetricsCollector 创建指标收集器并注册到reg
func NewMetricsCollector(db *sql.DB, reg prometheus.Registerer, logger *logrus.Logger) *MetricsCollector {
	mc := &MetricsCollector{
		db:              db,
		logger:          logger,
		collectInterval: 15 * time.Second,
		dbConnectionsGauge: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "database_connections",
				Help: "Number of database connections in different states",
			},
			[]string{"state"}, // idle, in_use, open
		),
		dbWaitCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "database_connection_wait_count",
			Help: "Total number of connections waited for",
		}),
		dbWaitDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "database_connection_wait_seconds",
			Help: "Total time blocked waiting for a new connection",
		}),
	}

	if reg != nil {
		reg.MustRegister(mc.dbConnectionsGauge, mc.dbWaitCount, mc.dbWaitDuration)
	}
	return mc
}

// Start 周期收集，直到ctx结束
func (mc *MetricsCollector) Start(ctx context.Context) {
	mc.logger.Info("Starting database metrics collection")

	go func() {
		ticker := time.NewTicker(mc.collectInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				mc.Collect()
			}
		}
	}()
}

// Collect 读取一次连接池统计
func (mc *MetricsCollector) Collect() {
	stats := mc.db.Stats()

	mc.dbConnectionsGauge.WithLabelValues("idle").Set(float64(stats.Idle))
	mc.dbConnectionsGauge.WithLabelValues("in_use").Set(float64(stats.InUse))
	mc.dbConnectionsGauge.WithLabelValues("open").Set(float64(stats.OpenConnections))
	mc.dbWaitCount.Set(float64(stats.WaitCount))
	mc.dbWaitDuration.Set(stats.WaitDuration.Seconds())

	mc.logger.WithFields(logrus.Fields{
		"idle":   stats.Idle,
		"in_use": stats.InUse,
		"open":   stats.OpenConnections,
		"wait":   stats.WaitCount,
	}).Debug("Database connection pool stats collected")
}
