// Package metrics defines the prometheus collectors of the service. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	HTTPRequests        *prometheus.CounterVec
	HTTPDuration        *prometheus.HistogramVec
	IngestJobs          *prometheus.CounterVec
	IngestDuration      prometheus.Histogram
	IngestChunks        prometheus.Counter
	TasksInFlight       prometheus.Gauge
	Queries             *prometheus.CounterVec
	QueryDuration       prometheus.Histogram
	VectorStoreDegraded prometheus.Gauge
	EmbeddingDegraded   prometheus.Gauge
	Feedback            *prometheus.CounterVec
}

func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed.",
		}, []string{"method", "path", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
		IngestJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docuchat_ingest_jobs_total",
			Help: "Ingestion jobs by terminal status and error kind.",
		}, []string{"status", "kind"}),
		IngestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "docuchat_ingest_duration_seconds",
			Help:    "Wall time of successful ingestion jobs.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}),
		IngestChunks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "docuchat_ingest_chunks_total",
			Help: "Chunks written to the vector store.",
		}),
		TasksInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "docuchat_tasks_in_flight",
			Help: "Ingestion jobs currently running in this process.",
		}),
		Queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docuchat_queries_total",
			Help: "Questions answered, by outcome.",
		}, []string{"status", "context_found"}),
		QueryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "docuchat_query_duration_seconds",
			Help:    "End-to-end latency of answered questions.",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 60},
		}),
		VectorStoreDegraded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "docuchat_vector_store_degraded",
			Help: "1 when the vector store runs in memory because its path is unusable.",
		}),
		EmbeddingDegraded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "docuchat_embedding_degraded",
			Help: "1 when embeddings come from the fallback backend.",
		}),
		Feedback: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docuchat_feedback_total",
			Help: "Feedback submissions by type.",
		}, []string{"type"}),
	}

	for _, c := range []prometheus.Collector{
		m.HTTPRequests, m.HTTPDuration, m.IngestJobs, m.IngestDuration, m.IngestChunks,
		m.TasksInFlight, m.Queries, m.QueryDuration, m.VectorStoreDegraded,
		m.EmbeddingDegraded, m.Feedback,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) IngestStarted() {
	if m == nil {
		return
	}
	m.TasksInFlight.Inc()
}

func (m *Metrics) IngestSucceeded(d time.Duration, chunks int) {
	if m == nil {
		return
	}
	m.TasksInFlight.Dec()
	m.IngestJobs.WithLabelValues("completed", "").Inc()
	m.IngestDuration.Observe(d.Seconds())
	m.IngestChunks.Add(float64(chunks))
}

func (m *Metrics) IngestFailed(kind string) {
	if m == nil {
		return
	}
	m.TasksInFlight.Dec()
	m.IngestJobs.WithLabelValues("error", kind).Inc()
}

// IngestSkipped balances IngestStarted for a job that never claimed its task.
func (m *Metrics) IngestSkipped() {
	if m == nil {
		return
	}
	m.TasksInFlight.Dec()
	m.IngestJobs.WithLabelValues("skipped", "").Inc()
}

func (m *Metrics) QueryAnswered(d time.Duration, contextFound bool) {
	if m == nil {
		return
	}
	found := "false"
	if contextFound {
		found = "true"
	}
	m.Queries.WithLabelValues("ok", found).Inc()
	m.QueryDuration.Observe(d.Seconds())
}

func (m *Metrics) QueryFailed() {
	if m == nil {
		return
	}
	m.Queries.WithLabelValues("error", "").Inc()
}

func (m *Metrics) FeedbackRecorded(feedbackType string) {
	if m == nil {
		return
	}
	m.Feedback.WithLabelValues(feedbackType).Inc()
}

func (m *Metrics) SetVectorStoreDegraded(degraded bool) {
	if m == nil {
		return
	}
	m.VectorStoreDegraded.Set(boolGauge(degraded))
}

func (m *Metrics) SetEmbeddingDegraded(degraded bool) {
	if m == nil {
		return
	}
	m.EmbeddingDegraded.Set(boolGauge(degraded))
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
