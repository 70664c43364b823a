package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/armadaproject/tracelens/internal/queue"
)

const MetricsPrefix = "tracelens_"

// Metrics implements the metrics interfaces of the gateway, the consumer, the merge worker and the sweeper.
type Metrics struct {
	jobsEnqueued       *prometheus.CounterVec
	jobsEnqueueFailed  *prometheus.CounterVec
	eventsRejected     *prometheus.CounterVec
	jobsProcessed      *prometheus.CounterVec
	jobsDropped        *prometheus.CounterVec
	processingDuration *prometheus.HistogramVec
	ingestionLatency   *prometheus.HistogramVec
	jobsCleaned        *prometheus.CounterVec
	jobsRequeued       prometheus.Counter
	queueDepth         *prometheus.GaugeVec
}

// NewMetrics registers the metrics with reg. Pass prometheus.DefaultRegisterer to expose them on /metrics.
func NewMetrics(prefix string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		jobsEnqueued: factory.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "jobs_enqueued",
			Help: "Number of ingestion jobs added to the queue, by kind",
		}, []string{"kind"}),
		jobsEnqueueFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "jobs_enqueue_failed",
			Help: "Number of ingestion jobs that could not be added to the queue, by kind",
		}, []string{"kind"}),
		eventsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "events_rejected",
			Help: "Number of malformed events skipped by the gateway, by kind",
		}, []string{"kind"}),
		jobsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "jobs_processed",
			Help: "Number of job attempts, by kind and outcome",
		}, []string{"kind", "outcome"}),
		jobsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "jobs_dropped",
			Help: "Number of jobs that will not be retried again, by kind and reason",
		}, []string{"kind", "reason"}),
		processingDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    prefix + "job_processing_seconds",
			Help:    "Time taken by one job attempt",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"kind"}),
		ingestionLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    prefix + "ingestion_latency_seconds",
			Help:    "Time from the gateway receiving an event to the run being stored",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 16),
		}, []string{"kind"}),
		jobsCleaned: factory.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "jobs_cleaned",
			Help: "Number of finished jobs removed by the sweeper, by state",
		}, []string{"state"}),
		jobsRequeued: factory.NewCounter(prometheus.CounterOpts{
			Name: prefix + "jobs_requeued",
			Help: "Number of stalled jobs moved back to waiting by the sweeper",
		}),
		queueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: prefix + "queue_jobs",
			Help: "Number of jobs in the queue, by state",
		}, []string{"state"}),
	}
}

func (m *Metrics) RecordEnqueued(kind queue.JobKind, count int) {
	m.jobsEnqueued.WithLabelValues(string(kind)).Add(float64(count))
}

func (m *Metrics) RecordEnqueueFailed(kind queue.JobKind, count int) {
	m.jobsEnqueueFailed.WithLabelValues(string(kind)).Add(float64(count))
}

func (m *Metrics) RecordRejected(kind queue.JobKind, count int) {
	m.eventsRejected.WithLabelValues(string(kind)).Add(float64(count))
}

func (m *Metrics) RecordJobProcessed(kind queue.JobKind, outcome string, duration time.Duration) {
	m.jobsProcessed.With(map[string]string{"kind": string(kind), "outcome": outcome}).Inc()
	m.processingDuration.WithLabelValues(string(kind)).Observe(duration.Seconds())
}

func (m *Metrics) RecordJobDropped(kind queue.JobKind, reason string) {
	m.jobsDropped.With(map[string]string{"kind": string(kind), "reason": reason}).Inc()
}

func (m *Metrics) RecordRunStored(kind queue.JobKind, latency time.Duration) {
	m.ingestionLatency.WithLabelValues(string(kind)).Observe(latency.Seconds())
}

func (m *Metrics) RecordJobsCleaned(state queue.JobState, count int) {
	m.jobsCleaned.WithLabelValues(string(state)).Add(float64(count))
}

func (m *Metrics) RecordJobsRequeued(count int) {
	m.jobsRequeued.Add(float64(count))
}

func (m *Metrics) SetQueueDepth(counts queue.Counts) {
	for _, state := range queue.AllStates {
		m.queueDepth.WithLabelValues(string(state)).Set(float64(counts[state]))
	}
}
