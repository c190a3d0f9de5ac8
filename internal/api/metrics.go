package api

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noela-dervishi/StudentPerformancePrediction/internal/explain"
)

// metrics are registered on a per-server registry so tests can build
// several servers in one process.
type metrics struct {
	registry        *prometheus.Registry
	predictions     *prometheus.CounterVec
	explanations    prometheus.Counter
	requestDuration *prometheus.HistogramVec
}

func newMetrics(cache *explain.Cache) *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		predictions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spp_predictions_total",
				Help: "Students scored, by predicted label and origin (api, batch).",
			},
			[]string{"label", "source"},
		),
		explanations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spp_explanations_total",
			Help: "Explanations rendered without scoring.",
		}),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "spp_http_request_duration_seconds",
				Help:    "HTTP request latency.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route", "status"},
		),
	}
	m.registry.MustRegister(
		m.predictions,
		m.explanations,
		m.requestDuration,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "spp_explainer_cache_entries",
			Help: "Parsed trees held by the explainer cache.",
		}, func() float64 { return float64(cache.Stats().Entries) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "spp_explainer_cache_builds_total",
			Help: "Tree dumps parsed by the explainer cache.",
		}, func() float64 { return float64(cache.Stats().Builds) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "spp_explainer_cache_hits_total",
			Help: "Explainer cache lookups served without parsing.",
		}, func() float64 { return float64(cache.Stats().Hits) }),
	)
	return m
}

func (m *metrics) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.requestDuration.
			WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}

func (m *metrics) handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}
