package core

import (
	"bloodledger/pkg/domain"
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetricsRecorder exports operation latency, outcome counters and
// stock levels as Prometheus collectors.
type PrometheusMetricsRecorder struct {
	duration *prometheus.HistogramVec
	results  *prometheus.CounterVec
	stock    *prometheus.GaugeVec
}

// NewPrometheusMetricsRecorder registers the ledger collectors with reg. A nil
// registerer uses the default Prometheus registry.
func NewPrometheusMetricsRecorder(reg prometheus.Registerer) *PrometheusMetricsRecorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &PrometheusMetricsRecorder{
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bloodledger_operation_duration_seconds",
			Help:    "Duration of ledger service operations",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"operation"}),
		results: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bloodledger_operations_total",
			Help: "Ledger service operations by outcome",
		}, []string{"operation", "status"}),
		stock: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bloodledger_stock_units",
			Help: "Committed units in stock per blood type",
		}, []string{"blood_type"}),
	}
}

// Observe implements MetricsRecorder.
func (r *PrometheusMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	status := string(AuditStatusError)
	if success {
		status = string(AuditStatusSuccess)
	}
	r.duration.WithLabelValues(operation).Observe(duration.Seconds())
	r.results.WithLabelValues(operation, status).Inc()
}

// ObserveStock implements StockObserver.
func (r *PrometheusMetricsRecorder) ObserveStock(bloodType domain.BloodType, units int) {
	r.stock.WithLabelValues(string(bloodType)).Set(float64(units))
}
