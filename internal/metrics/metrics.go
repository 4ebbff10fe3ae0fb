// Package metrics exports reconciler outcomes and queue depth to
// Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/dmitrijs2005/meterkeeper/internal/models"
	"github.com/dmitrijs2005/meterkeeper/internal/scheduler"
	"github.com/dmitrijs2005/meterkeeper/internal/services"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "meterkeeper"

// Metrics implements services.Observer and records scheduler ticks.
type Metrics struct {
	uploads       *prometheus.CounterVec
	uploadLatency prometheus.Histogram
	cascades      *prometheus.CounterVec
	cascadeTime   *prometheus.HistogramVec
	blobLeaks     prometheus.Counter
	cleanupFails  prometheus.Counter
	ticks         *prometheus.CounterVec
	queueDepth    *prometheus.GaugeVec
	lastSuccess   prometheus.Gauge
}

var _ services.Observer = (*Metrics)(nil)

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Upload reconciler runs by outcome.",
		}, []string{"outcome"}),
		uploadLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upload_duration_seconds",
			Help:      "Duration of upload reconciler runs.",
			Buckets:   prometheus.DefBuckets,
		}),
		cascades: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cascades_total",
			Help:      "Cascade deletions by entity kind and result.",
		}, []string{"kind", "result"}),
		cascadeTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cascade_duration_seconds",
			Help:      "Duration of cascade deletions.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		blobLeaks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blob_delete_failures_total",
			Help:      "Blobs left behind because their delete failed or their reference was malformed.",
		}),
		cleanupFails: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "local_cleanup_failures_total",
			Help:      "Failed removals of a queue entry or photo after a committed upload.",
		}),
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Scheduler ticks by result (ok, failed, offline).",
		}, []string{"result"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Pending entries per local queue.",
		}, []string{"queue"}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_successful_tick_timestamp_seconds",
			Help:      "Unix time of the last tick that drained without error.",
		}),
	}

	reg.MustRegister(
		m.uploads, m.uploadLatency,
		m.cascades, m.cascadeTime,
		m.blobLeaks, m.cleanupFails,
		m.ticks, m.queueDepth, m.lastSuccess,
	)
	return m
}

func (m *Metrics) UploadFinished(outcome services.UploadOutcome, elapsed time.Duration) {
	m.uploads.WithLabelValues(string(outcome)).Inc()
	m.uploadLatency.Observe(elapsed.Seconds())
}

func (m *Metrics) CascadeFinished(kind models.EntityKind, err error, elapsed time.Duration) {
	result := "ok"
	if err != nil {
		result = "failed"
	}
	m.cascades.WithLabelValues(string(kind), result).Inc()
	m.cascadeTime.WithLabelValues(string(kind)).Observe(elapsed.Seconds())
}

func (m *Metrics) BlobDeleteFailed() { m.blobLeaks.Inc() }

func (m *Metrics) CleanupFailed() { m.cleanupFails.Inc() }

// ObserveTick records a scheduler tick.
func (m *Metrics) ObserveTick(res scheduler.TickResult) {
	m.queueDepth.WithLabelValues("uploads").Set(float64(res.Counts.Uploads))
	m.queueDepth.WithLabelValues("deletions").Set(float64(res.Counts.Deletions))

	switch {
	case res.Offline:
		m.ticks.WithLabelValues("offline").Inc()
	case res.Err != nil:
		m.ticks.WithLabelValues("failed").Inc()
	default:
		m.ticks.WithLabelValues("ok").Inc()
		m.lastSuccess.SetToCurrentTime()
	}
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
