package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "history"

// 消息处理结果
const (
	OutcomeCompleted = "completed"
	OutcomeRejected  = "rejected"
)

// 记录处理结果
const (
	RecordWritten = "written"
	RecordFailed  = "failed"
)

// 实体创建路径
const (
	PathAPI         = "api"
	PathDirect      = "direct"
	PathUnavailable = "unavailable"
)

// Metrics 注入服务指标，使用独立的 Registry
// nil *Metrics 上的所有方法都是空操作
type Metrics struct {
	registry    *prometheus.Registry
	messages    *prometheus.CounterVec
	records     *prometheus.CounterVec
	provisioned *prometheus.CounterVec
	duration    prometheus.Histogram
}

// New 创建并注册全部指标
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "MQTT history messages processed, by outcome.",
		}, []string{"outcome"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "History records handled, by result.",
		}, []string{"result"}),
		provisioned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entities_provisioned_total",
			Help:      "Missing entities handled, by provisioning path.",
		}, []string{"path"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_duration_seconds",
			Help:      "Time spent processing one MQTT message.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	m.registry.MustRegister(
		m.messages,
		m.records,
		m.provisioned,
		m.duration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry 返回指标注册表
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler 返回 /metrics 处理器
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveMessage 记录一条消息的结果和耗时
func (m *Metrics) ObserveMessage(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(outcome).Inc()
	m.duration.Observe(elapsed.Seconds())
}

// AddRecords 累加记录计数
func (m *Metrics) AddRecords(result string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.records.WithLabelValues(result).Add(float64(n))
}

// EntityProvisioned 记录实体创建路径
func (m *Metrics) EntityProvisioned(path string) {
	if m == nil {
		return
	}
	m.provisioned.WithLabelValues(path).Inc()
}
