// Package metrics records engine, cache, task and HTTP metrics. Every metric is logged
// through the standard logger and exported to a Prometheus registry served at /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/irfndi/esp-selector-go/internal/logging"
)

const namespace = "esp_selector"

// MetricType represents the type of metric being recorded.
type MetricType string

const (
	MetricTypeCounter   MetricType = "counter"
	MetricTypeGauge     MetricType = "gauge"
	MetricTypeHistogram MetricType = "histogram"
	MetricTypeTiming    MetricType = "timing"
)

// Outcomes used as the "outcome" label of engine operations.
const (
	OutcomeSuccess      = "success"
	OutcomeError        = "error"
	OutcomeNotConverged = "not_converged"
	OutcomeNotFound     = "not_found"
)

// Metric represents a standardized metric structure.
type Metric struct {
	Name      string            `json:"name"`
	Type      MetricType        `json:"type"`
	Value     float64           `json:"value"`
	Unit      string            `json:"unit"`
	Timestamp time.Time         `json:"timestamp"`
	Tags      map[string]string `json:"tags,omitempty"`
}

// MetricsCollector provides standardized metrics collection.
type MetricsCollector struct {
	logger      *logging.StandardLogger
	serviceName string
	registry    *prometheus.Registry

	operations    *prometheus.CounterVec
	operationTime *prometheus.HistogramVec
	synthetic     *prometheus.CounterVec
	cacheRequests *prometheus.CounterVec
	evaluations   prometheus.Histogram
	tasksActive   *prometheus.GaugeVec
	httpRequests  *prometheus.CounterVec
	httpLatency   *prometheus.HistogramVec
}

// NewMetricsCollector creates a collector with its own Prometheus registry.
func NewMetricsCollector(logger *logging.StandardLogger, serviceName string) *MetricsCollector {
	constLabels := prometheus.Labels{"service": serviceName}
	mc := &MetricsCollector{
		logger:      logger,
		serviceName: serviceName,
		registry:    prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "engine_operations_total",
			Help:        "Engine operations partitioned by operation and outcome.",
			ConstLabels: constLabels,
		}, []string{"operation", "outcome"}),
		operationTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "engine_operation_duration_seconds",
			Help:        "Time spent in engine operations.",
			ConstLabels: constLabels,
			Buckets:     []float64{0.001, 0.005, 0.025, 0.1, 0.5, 2, 10, 30},
		}, []string{"operation"}),
		synthetic: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "synthetic_curve_fallbacks_total",
			Help:        "Operations answered from a synthetic curve because the pump had no stored curve.",
			ConstLabels: constLabels,
		}, []string{"operation"}),
		cacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "cache_requests_total",
			Help:        "Derived-data lookups partitioned by source.",
			ConstLabels: constLabels,
		}, []string{"cache", "result"}),
		evaluations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "optimizer_evaluations",
			Help:        "Objective evaluations per optimization run.",
			ConstLabels: constLabels,
			Buckets:     prometheus.ExponentialBuckets(1, 4, 8),
		}),
		tasksActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "tasks_active",
			Help:        "Asynchronous engine tasks currently running.",
			ConstLabels: constLabels,
		}, []string{"kind"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "http_requests_total",
			Help:        "Number of HTTP requests partitioned by status code, method and route.",
			ConstLabels: constLabels,
		}, []string{"code", "method", "path"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "http_request_duration_milliseconds",
			Help:        "Time spent on the request partitioned by status code, method and route.",
			ConstLabels: constLabels,
			Buckets:     []float64{5, 25, 100, 300, 1000, 5000},
		}, []string{"code", "method", "path"}),
	}
	mc.registry.MustRegister(mc.Collectors()...)
	return mc
}

// Collectors returns every Prometheus collector owned by mc.
func (mc *MetricsCollector) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		mc.operations, mc.operationTime, mc.synthetic, mc.cacheRequests,
		mc.evaluations, mc.tasksActive, mc.httpRequests, mc.httpLatency,
	}
}

// Registry exposes the collector's registry for tests and extra collectors.
func (mc *MetricsCollector) Registry() *prometheus.Registry {
	return mc.registry
}

// Handler serves the registry in the Prometheus text format.
func (mc *MetricsCollector) Handler() http.Handler {
	return promhttp.HandlerFor(mc.registry, promhttp.HandlerOpts{Registry: mc.registry})
}

// RecordCounter records a counter metric.
func (mc *MetricsCollector) RecordCounter(name string, value float64, tags map[string]string) {
	mc.logMetric(Metric{Name: name, Type: MetricTypeCounter, Value: value, Unit: "count", Timestamp: time.Now(), Tags: mc.addServiceTag(tags)})
}

// RecordGauge records a gauge metric.
func (mc *MetricsCollector) RecordGauge(name string, value float64, unit string, tags map[string]string) {
	mc.logMetric(Metric{Name: name, Type: MetricTypeGauge, Value: value, Unit: unit, Timestamp: time.Now(), Tags: mc.addServiceTag(tags)})
}

// RecordTiming records a timing metric in milliseconds.
func (mc *MetricsCollector) RecordTiming(name string, duration time.Duration, tags map[string]string) {
	mc.logMetric(Metric{Name: name, Type: MetricTypeTiming, Value: float64(duration.Milliseconds()), Unit: "ms", Timestamp: time.Now(), Tags: mc.addServiceTag(tags)})
}

// RecordHistogram records a histogram metric.
func (mc *MetricsCollector) RecordHistogram(name string, value float64, unit string, tags map[string]string) {
	mc.logMetric(Metric{Name: name, Type: MetricTypeHistogram, Value: value, Unit: unit, Timestamp: time.Now(), Tags: mc.addServiceTag(tags)})
}

// RecordOperation records one engine operation (adjusted curve, forecast, optimization...).
func (mc *MetricsCollector) RecordOperation(operation, outcome string, duration time.Duration) {
	mc.operations.WithLabelValues(operation, outcome).Inc()
	mc.operationTime.WithLabelValues(operation).Observe(duration.Seconds())

	tags := map[string]string{"operation": operation, "outcome": outcome}
	mc.RecordCounter("engine_operations_total", 1, tags)
	mc.RecordTiming("engine_operation_duration", duration, tags)
}

// RecordSyntheticFallback counts an operation served from a synthetic curve.
func (mc *MetricsCollector) RecordSyntheticFallback(operation string) {
	mc.synthetic.WithLabelValues(operation).Inc()
	mc.RecordCounter("synthetic_curve_fallbacks_total", 1, map[string]string{"operation": operation})
}

// RecordCacheMetrics records where a derived-data lookup was answered from.
// result is one of "hit", "miss", "store" or "computed".
func (mc *MetricsCollector) RecordCacheMetrics(cache, result string) {
	mc.cacheRequests.WithLabelValues(cache, result).Inc()
	mc.RecordCounter("cache_requests_total", 1, map[string]string{"cache": cache, "result": result})
}

// RecordOptimizerEvaluations records the evaluation count of one optimization run.
func (mc *MetricsCollector) RecordOptimizerEvaluations(evaluations int) {
	mc.evaluations.Observe(float64(evaluations))
	mc.RecordHistogram("optimizer_evaluations", float64(evaluations), "count", nil)
}

// TaskStarted and TaskFinished track running tasks per kind.
func (mc *MetricsCollector) TaskStarted(kind string) {
	mc.tasksActive.WithLabelValues(kind).Inc()
}

func (mc *MetricsCollector) TaskFinished(kind string) {
	mc.tasksActive.WithLabelValues(kind).Dec()
}

// RecordAPIRequestMetrics records standardized API request metrics.
func (mc *MetricsCollector) RecordAPIRequestMetrics(method, route string, statusCode int, duration time.Duration) {
	code := strconv.Itoa(statusCode)
	mc.httpRequests.WithLabelValues(code, method, route).Inc()
	mc.httpLatency.WithLabelValues(code, method, route).Observe(float64(duration.Milliseconds()))
}

func (mc *MetricsCollector) addServiceTag(tags map[string]string) map[string]string {
	result := make(map[string]string, len(tags)+1)
	for k, v := range tags {
		result[k] = v
	}
	result["service"] = mc.serviceName
	return result
}

func (mc *MetricsCollector) logMetric(metric Metric) {
	if mc.logger == nil {
		return
	}
	mc.logger.Logger().Debug("Metric recorded", "event", "metric", "metric", metric)
}
