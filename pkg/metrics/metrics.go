package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// 邮件服务商 API 调用延迟（毫秒）
	ProviderCallLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "provider_call_latency_ms",
			Help:    "Mail provider API call latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10ms to ~10s
		},
		[]string{"endpoint", "status"},
	)

	// 扫描运行时长（秒）
	ScanRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scan_run_duration_seconds",
			Help:    "Scan run duration in seconds",
			Buckets: prometheus.LinearBuckets(5, 5, 12), // 5s to 60s
		},
		[]string{"outcome"}, // outcome: completed, budget_exceeded, failed
	)

	// 数据库查询延迟（秒）
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"operation", "table"},
	)

	// 分类邮件计数
	MessagesClassified = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_classified_total",
			Help: "Total number of messages classified",
		},
		[]string{"category"},
	)

	// 扫描账号计数
	AccountsScanned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "accounts_scanned_total",
			Help: "Total number of accounts scanned",
		},
		[]string{"status"}, // status: success, failed
	)

	// 生成洞察计数
	InsightsGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insights_generated_total",
			Help: "Total number of insights generated",
		},
		[]string{"type", "priority"},
	)
)

// RecordProviderCallLatency 记录服务商调用延迟
func RecordProviderCallLatency(endpoint, status string, duration time.Duration) {
	ProviderCallLatency.WithLabelValues(endpoint, status).Observe(float64(duration.Milliseconds()))
}

// RecordScanRunDuration 记录扫描运行时长
func RecordScanRunDuration(outcome string, duration time.Duration) {
	ScanRunDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordDBQueryDuration 记录数据库查询延迟
func RecordDBQueryDuration(operation, table string, duration time.Duration) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

// IncrementMessagesClassified 增加分类计数
func IncrementMessagesClassified(category string) {
	MessagesClassified.WithLabelValues(category).Inc()
}

// IncrementAccountsScanned 增加扫描账号计数
func IncrementAccountsScanned(status string) {
	AccountsScanned.WithLabelValues(status).Inc()
}

// IncrementInsightsGenerated 增加洞察计数
func IncrementInsightsGenerated(insightType, priority string) {
	InsightsGenerated.WithLabelValues(insightType, priority).Inc()
}
