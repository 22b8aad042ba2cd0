package httpx

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var histogramBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30}

type routerMetrics struct {
	requestTotal   *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
	rateLimitHits  *prometheus.CounterVec
	streamClients  *prometheus.GaugeVec
}

func (r *Router) initMetrics(reg prometheus.Registerer) {
	r.metricsOnce.Do(func() {
		m := &routerMetrics{
			requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "bryn",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Count of processed HTTP requests",
			}, []string{"method", "route", "status"}),
			requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "bryn",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution of HTTP handlers, including cloud API calls",
				Buckets:   histogramBuckets,
			}, []string{"method", "route", "status"}),
			rateLimitHits: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "bryn",
				Subsystem: "http",
				Name:      "rate_limit_hits_total",
				Help:      "Number of rate-limited responses",
			}, []string{"route", "key"}),
			streamClients: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "bryn",
				Subsystem: "http",
				Name:      "stream_clients",
				Help:      "Connected hypervisor stats stream clients",
			}, []string{"transport"}),
		}
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		m.requestTotal = registerOrExisting(reg, m.requestTotal)
		m.requestLatency = registerOrExisting(reg, m.requestLatency)
		m.rateLimitHits = registerOrExisting(reg, m.rateLimitHits)
		m.streamClients = registerOrExisting(reg, m.streamClients)
		r.metrics = m
	})
}

func registerOrExisting[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}

func (r *Router) recordRequestMetrics(method, route string, status int, duration time.Duration) {
	if r.metrics == nil {
		return
	}
	labels := prometheus.Labels{
		"method": method,
		"route":  route,
		"status": strconv.Itoa(status),
	}
	r.metrics.requestTotal.With(labels).Inc()
	r.metrics.requestLatency.With(labels).Observe(duration.Seconds())
}

func (r *Router) recordRateLimitHit(route, key string) {
	if r.metrics == nil {
		return
	}
	r.metrics.rateLimitHits.With(prometheus.Labels{"route": route, "key": key}).Inc()
}

func (r *Router) trackStreamClient(transport string, delta float64) {
	if r.metrics == nil {
		return
	}
	r.metrics.streamClients.WithLabelValues(transport).Add(delta)
}
