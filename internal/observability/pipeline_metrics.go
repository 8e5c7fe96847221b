package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics holds the Prometheus counters for the ingestion and
// notification pipeline. All methods are safe for concurrent use and
// never block.
type PipelineMetrics struct {
	jobsStarted   *prometheus.CounterVec
	jobsCompleted *prometheus.CounterVec
	ingested      *prometheus.CounterVec
	notifications prometheus.Counter
	tasksHandled  *prometheus.CounterVec
}

// NewPipelineMetrics registers the pipeline counters with the given
// registerer. Pass prometheus.DefaultRegisterer in production and a
// fresh registry in tests.
func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	m := &PipelineMetrics{
		jobsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sellwatch_jobs_started_total",
			Help: "Registry jobs started, by kind.",
		}, []string{"kind"}),
		jobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sellwatch_jobs_completed_total",
			Help: "Registry jobs resolved, by kind and outcome.",
		}, []string{"kind", "outcome"}),
		ingested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sellwatch_records_ingested_total",
			Help: "Newly persisted marketplace records, by record kind.",
		}, []string{"record"}),
		notifications: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sellwatch_notifications_sent_total",
			Help: "Notification messages delivered to chat recipients.",
		}),
		tasksHandled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sellwatch_queue_tasks_handled_total",
			Help: "Queue tasks processed, by task name and outcome.",
		}, []string{"task", "outcome"}),
	}

	reg.MustRegister(m.jobsStarted, m.jobsCompleted, m.ingested, m.notifications, m.tasksHandled)
	return m
}

func (m *PipelineMetrics) JobStarted(kind string) {
	m.jobsStarted.WithLabelValues(kind).Inc()
}

func (m *PipelineMetrics) JobCompleted(kind string, success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.jobsCompleted.WithLabelValues(kind, outcome).Inc()
}

func (m *PipelineMetrics) RecordsIngested(record string, n int) {
	if n > 0 {
		m.ingested.WithLabelValues(record).Add(float64(n))
	}
}

func (m *PipelineMetrics) NotificationsSent(n int) {
	if n > 0 {
		m.notifications.Add(float64(n))
	}
}

func (m *PipelineMetrics) TaskHandled(task, outcome string) {
	m.tasksHandled.WithLabelValues(task, outcome).Inc()
}
