// Package metrics exports engine operation outcomes to Prometheus.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"evalgrid/internal/core"
	"evalgrid/pkg/domain"
)

const namespace = "evalgrid"

// Recorder implements core.MetricsRecorder on a dedicated registry.
type Recorder struct {
	registry   *prometheus.Registry
	operations *prometheus.CounterVec
	durations  *prometheus.HistogramVec
	pending    *prometheus.GaugeVec
}

var _ core.MetricsRecorder = (*Recorder)(nil)

// NewRecorder builds a recorder. With runtime set, Go and process collectors
// are registered alongside the engine metrics.
func NewRecorder(runtime bool) *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Engine operations by outcome.",
		}, []string{"operation", "status"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Engine operation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		pending: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_entries",
			Help:      "Staff entries waiting to be flushed, per perspective.",
		}, []string{"perspective"}),
	}
	r.registry.MustRegister(r.operations, r.durations, r.pending)
	if runtime {
		r.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	for _, p := range domain.Perspectives {
		r.pending.WithLabelValues(string(p)).Set(0)
	}
	return r
}

// Observe records one operation outcome.
func (r *Recorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	status := core.StatusError
	if success {
		status = core.StatusSuccess
	}
	r.operations.WithLabelValues(operation, status).Inc()
	r.durations.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetPending records the queue depth for p.
func (r *Recorder) SetPending(p domain.Perspective, entries int) {
	r.pending.WithLabelValues(string(p)).Set(float64(entries))
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
