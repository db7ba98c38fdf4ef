package services

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsService 检索问答指标
type MetricsService struct {
	queriesTotal   *prometheus.CounterVec
	queryDuration  prometheus.Histogram
	retrievedCount prometheus.Histogram
}

// NewMetricsService 创建并注册指标
func NewMetricsService(registry prometheus.Registerer) *MetricsService {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	m := &MetricsService{
		queriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rag_queries_total",
			Help: "问答查询总数，按结果状态区分",
		}, []string{"status"}),
		queryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rag_query_duration_seconds",
			Help:    "问答查询端到端耗时",
			Buckets: prometheus.DefBuckets,
		}),
		retrievedCount: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rag_retrieved_units",
			Help:    "过闸后转发给生成的候选数",
			Buckets: []float64{0, 1, 2, 3, 5, 10},
		}),
	}

	registry.MustRegister(m.queriesTotal, m.queryDuration, m.retrievedCount)
	return m
}

// ObserveQuery 记录一次查询结果
func (m *MetricsService) ObserveQuery(status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.queriesTotal.WithLabelValues(status).Inc()
	m.queryDuration.Observe(elapsed.Seconds())
}

// ObserveRetrieval 记录一次检索候选数
func (m *MetricsService) ObserveRetrieval(count int) {
	if m == nil {
		return
	}
	m.retrievedCount.Observe(float64(count))
}
