package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the ledger API's Prometheus collectors.
type Metrics struct {
	httpReqTotal   *prometheus.CounterVec
	httpLatency    *prometheus.HistogramVec
	outcomes       *prometheus.CounterVec
	offlineAccepts *prometheus.CounterVec
}

// NewMetrics registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		httpReqTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "offpay_http_requests_total",
			Help: "Total HTTP requests",
		}, []string{"method", "endpoint", "status"}),
		httpLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "offpay_http_request_duration_seconds",
			Help:    "Request latency",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"method", "endpoint"}),
		outcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "offpay_settlement_outcomes_total",
			Help: "Sync outcomes by status and reason",
		}, []string{"status", "reason"}),
		offlineAccepts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "offpay_offline_accepts_total",
			Help: "Offline acceptance records by resulting status",
		}, []string{"status"}),
	}
}
