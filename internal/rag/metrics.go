package rag

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"doc-tutor/internal/models"
	"doc-tutor/internal/session"
)

const namespace = "doc_tutor"

// Metrics records request outcomes and session size.
type Metrics struct {
	requests      *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	sessionChunks prometheus.Gauge
	formatRetries *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg when it is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Requests by operation and outcome (ok or an error kind).",
		}, []string{"operation", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Request latency by operation.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"operation"}),
		sessionChunks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_chunks",
			Help:      "Number of chunks in the active session, 0 when none is loaded.",
		}),
		formatRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "format_retries_total",
			Help:      "Corrective re-prompts sent after invalid model output.",
		}, []string{"task"}),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.duration, m.sessionChunks, m.formatRetries)
	}
	return m
}

func (m *Metrics) observe(operation string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = string(models.KindOf(err))
	}
	m.requests.WithLabelValues(operation, outcome).Inc()
	m.duration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func (m *Metrics) formatRetry(task models.TaskType) {
	m.formatRetries.WithLabelValues(string(task)).Inc()
}

func (m *Metrics) sessionChanged(sess *session.Session) {
	if sess == nil {
		m.sessionChunks.Set(0)
		return
	}
	m.sessionChunks.Set(float64(len(sess.Chunks)))
}
