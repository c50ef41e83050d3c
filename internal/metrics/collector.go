// Package metrics 提供内部指标采集。
// 该包为内部包，不应被外部项目导入。
package metrics

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/BaSui01/mediaflow/types"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
// 同时实现 httpclient.Observer，记录每次出站提供商调用
type Collector struct {
	// HTTP 指标（网关入站）
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// 提供商指标（出站）
	providerRequestsTotal   *prometheus.CounterVec
	providerRequestDuration *prometheus.HistogramVec
	providerRetriesTotal    *prometheus.CounterVec

	// 任务指标
	jobsSubmittedTotal   *prometheus.CounterVec
	jobStatusTransitions *prometheus.CounterVec
	imageFetchesTotal    *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器
// reg 为 nil 时注册到 prometheus.DefaultRegisterer
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	// 提供商指标
	c.providerRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_requests_total",
			Help:      "Total number of outbound provider request attempts",
		},
		[]string{"provider", "stage", "outcome"},
	)

	c.providerRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_request_duration_seconds",
			Help:      "Outbound provider request attempt duration in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"provider", "stage"},
	)

	c.providerRetriesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_retries_total",
			Help:      "Total number of retried provider requests",
		},
		[]string{"provider", "stage"},
	)

	// 任务指标
	c.jobsSubmittedTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_submitted_total",
			Help:      "Total number of generation jobs submitted",
		},
		[]string{"provider", "mode", "result"},
	)

	c.jobStatusTransitions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_status_transitions_total",
			Help:      "Total number of job status transitions",
		},
		[]string{"provider", "from_status", "to_status"},
	)

	c.imageFetchesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reference_image_fetches_total",
			Help:      "Total number of reference image downloads",
		},
		[]string{"result"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// =============================================================================
// 🔌 提供商指标记录（httpclient.Observer）
// =============================================================================

// ObserveAttempt 记录一次出站尝试
func (c *Collector) ObserveAttempt(provider string, stage types.Stage, status int, duration time.Duration, err error) {
	c.providerRequestsTotal.WithLabelValues(provider, string(stage), attemptOutcome(status, err)).Inc()
	c.providerRequestDuration.WithLabelValues(provider, string(stage)).Observe(duration.Seconds())
}

// ObserveRetry 记录一次重试
func (c *Collector) ObserveRetry(provider string, stage types.Stage) {
	c.providerRetriesTotal.WithLabelValues(provider, string(stage)).Inc()
}

// =============================================================================
// 🎬 任务指标记录
// =============================================================================

// RecordSubmission 记录任务提交结果
func (c *Collector) RecordSubmission(provider, mode string, err error) {
	result := "accepted"
	if err != nil {
		result = string(types.GetErrorCode(err))
		if result == "" {
			result = "error"
		}
	}
	c.jobsSubmittedTotal.WithLabelValues(provider, mode, result).Inc()
}

// RecordStatusTransition 记录任务状态转换
func (c *Collector) RecordStatusTransition(provider, from, to string) {
	if from == "" {
		from = "none"
	}
	c.jobStatusTransitions.WithLabelValues(provider, from, to).Inc()
}

// RecordImageFetch 记录参考图下载
func (c *Collector) RecordImageFetch(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.imageFetchesTotal.WithLabelValues(result).Inc()
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}

// attemptOutcome 归类一次出站尝试
func attemptOutcome(status int, err error) string {
	if status > 0 {
		if status == 429 {
			return strconv.Itoa(status)
		}
		return statusCode(status)
	}
	if err == nil {
		return "unknown"
	}
	var te *types.Error
	if errors.As(err, &te) && te.Code == types.ErrTransport {
		return "transport_error"
	}
	return "error"
}
