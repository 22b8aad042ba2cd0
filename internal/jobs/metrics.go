package jobs

import "github.com/prometheus/client_golang/prometheus"

type jobMetrics struct {
	runs        *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	lastSuccess *prometheus.GaugeVec
}

func newJobMetrics(reg prometheus.Registerer) *jobMetrics {
	m := &jobMetrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bryn",
			Subsystem: "jobs",
			Name:      "runs_total",
			Help:      "Count of periodic job runs",
		}, []string{"job", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "bryn",
			Subsystem: "jobs",
			Name:      "run_duration_seconds",
			Help:      "Duration of periodic job runs",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"job"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "bryn",
			Subsystem: "jobs",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful run",
		}, []string{"job"}),
	}
	if err := reg.Register(m.runs); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			m.runs = are.ExistingCollector.(*prometheus.CounterVec)
		}
	}
	if err := reg.Register(m.duration); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			m.duration = are.ExistingCollector.(*prometheus.HistogramVec)
		}
	}
	if err := reg.Register(m.lastSuccess); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			m.lastSuccess = are.ExistingCollector.(*prometheus.GaugeVec)
		}
	}
	return m
}
