// Package metrics holds the Prometheus collectors for batches and deliveries.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "groupcast"

// Metrics is safe for concurrent use. A nil *Metrics ignores all observations.
type Metrics struct {
	reg *prometheus.Registry

	batches          *prometheus.CounterVec
	batchDuration    prometheus.Histogram
	deliveries       *prometheus.CounterVec
	deliveryDuration *prometheus.HistogramVec
	rejected         *prometheus.CounterVec
	historyErrors    prometheus.Counter
	lastBatch        prometheus.Gauge
	targets          prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,
		batches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Total batches dispatched.",
		}, []string{"source", "result"}), // result: "ok" | "partial" | "failed" | "invalid"
		batchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Wall time of a batch including throttle waits.",
			Buckets:   []float64{1, 15, 30, 60, 120, 300, 600, 1200, 3600},
		}),
		deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Total delivery attempts by outcome.",
		}, []string{"status"}),
		deliveryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_request_duration_seconds",
			Help:      "Duration of HTTP requests to the messaging provider.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"status"}),
		rejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_rejected_total",
			Help:      "Batches refused before any delivery.",
		}, []string{"reason"}),
		historyErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_write_errors_total",
			Help:      "Batch history records that could not be stored.",
		}),
		lastBatch: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_batch_finished_timestamp_seconds",
			Help:      "Unix time the last batch finished.",
		}),
		targets: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "directory_targets",
			Help:      "Targets in the directory at the last listing.",
		}),
	}
}

// Registry exposes the underlying registry (tests, extra collectors).
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) ObserveDelivery(status string, took time.Duration) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(status).Inc()
	m.deliveryDuration.WithLabelValues(status).Observe(took.Seconds())
}

func (m *Metrics) ObserveBatch(source string, total, failed int, took time.Duration, finished time.Time) {
	if m == nil {
		return
	}
	result := "ok"
	switch {
	case failed == total && total > 0:
		result = "failed"
	case failed > 0:
		result = "partial"
	}
	m.batches.WithLabelValues(source, result).Inc()
	m.batchDuration.Observe(took.Seconds())
	m.lastBatch.Set(float64(finished.Unix()))
}

func (m *Metrics) ObserveRejected(reason string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveHistoryError() {
	if m == nil {
		return
	}
	m.historyErrors.Inc()
}

func (m *Metrics) SetTargets(n int) {
	if m == nil {
		return
	}
	m.targets.Set(float64(n))
}
