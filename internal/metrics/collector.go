// Package metrics exposes Prometheus metrics for the HTTP surface and the
// moderation pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Collector owns a private registry so tests and multiple routers never clash
// on the global one.
type Collector struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	verdictsTotal     *prometheus.CounterVec
	failuresTotal     *prometheus.CounterVec
	fallbacksTotal    prometheus.Counter
	classifierLatency prometheus.Histogram

	logger *zap.Logger
}

// NewCollector creates the collector and registers runtime collectors alongside it.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	c := &Collector{
		registry: reg,
		logger:   logger.With(zap.String("component", "metrics")),
	}

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

	c.verdictsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verdicts_total",
			Help:      "Moderation verdicts by status",
		},
		[]string{"status"},
	)

	c.failuresTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_failures_total",
			Help:      "Moderation pipeline failures by kind",
		},
		[]string{"kind"},
	)

	c.fallbacksTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "description_fallbacks_total",
			Help:      "Images moderated through a vision-model description",
		},
	)

	c.classifierLatency = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "classifier_duration_seconds",
			Help:      "Time spent waiting on the moderation classifier",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
	)

	c.logger.Debug("metrics collector initialised", zap.String("namespace", namespace))
	return c
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Middleware records request counts and latency per route template.
func (c *Collector) Middleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()
		ctx.Next()

		path := ctx.FullPath()
		if path == "" {
			path = "unmatched"
		}
		c.RecordHTTPRequest(ctx.Request.Method, path, ctx.Writer.Status(), time.Since(start))
	}
}

// RecordHTTPRequest counts one finished request and observes its latency.
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// ObserveVerdict counts a verdict by status.
func (c *Collector) ObserveVerdict(status string) {
	c.verdictsTotal.WithLabelValues(status).Inc()
}

// ObserveFailure counts a pipeline failure by kind.
func (c *Collector) ObserveFailure(kind string) {
	c.failuresTotal.WithLabelValues(kind).Inc()
}

// ObserveFallback counts an image moderated through its description.
func (c *Collector) ObserveFallback() {
	c.fallbacksTotal.Inc()
}

// ObserveClassifierLatency records how long the classifier round trip took.
func (c *Collector) ObserveClassifierLatency(d time.Duration) {
	c.classifierLatency.Observe(d.Seconds())
}
