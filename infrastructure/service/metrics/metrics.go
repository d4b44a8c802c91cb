package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the job, queue and audit collectors.
// All methods are safe on a nil receiver.
type Metrics struct {
	AttemptsStarted     *prometheus.CounterVec
	AttemptsFinished    *prometheus.CounterVec
	AttemptDuration     *prometheus.HistogramVec
	AuditWriteFailures  *prometheus.CounterVec
	JobsEnqueued        *prometheus.CounterVec
	QueueRetries        *prometheus.CounterVec
	QueueExhausted      *prometheus.CounterVec
	QueueDecodeFailures prometheus.Counter
	RateLimited         prometheus.Counter
}

// New registers the collectors with reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		AttemptsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "exojobs_attempts_started_total",
			Help: "Job attempts that reached the running state",
		}, []string{"action", "mode"}),
		AttemptsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "exojobs_attempts_finished_total",
			Help: "Job attempts that reached a terminal state",
		}, []string{"action", "mode", "outcome"}),
		AttemptDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "exojobs_attempt_duration_seconds",
			Help:    "Wall time of one job attempt, including the PowerShell session",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120, 300},
		}, []string{"action", "mode"}),
		AuditWriteFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "exojobs_audit_write_failures_total",
			Help: "Audit records that could not be persisted",
		}, []string{"status"}),
		JobsEnqueued: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "exojobs_jobs_enqueued_total",
			Help: "Jobs handed to the queue",
		}, []string{"action"}),
		QueueRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "exojobs_queue_retries_total",
			Help: "Deliveries scheduled for another attempt",
		}, []string{"action"}),
		QueueExhausted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "exojobs_queue_exhausted_total",
			Help: "Jobs dropped after their last attempt failed",
		}, []string{"action"}),
		QueueDecodeFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "exojobs_queue_decode_failures_total",
			Help: "Queue payloads that could not be decoded",
		}),
		RateLimited: factory.NewCounter(prometheus.CounterOpts{
			Name: "exojobs_http_rate_limited_total",
			Help: "Job trigger requests rejected by the rate limiter",
		}),
	}
}

func (m *Metrics) AttemptStarted(action, mode string) {
	if m == nil {
		return
	}
	m.AttemptsStarted.WithLabelValues(action, mode).Inc()
}

func (m *Metrics) AttemptFinished(action, mode string, success bool, started time.Time) {
	if m == nil {
		return
	}
	outcome := "failed"
	if success {
		outcome = "succeeded"
	}
	m.AttemptsFinished.WithLabelValues(action, mode, outcome).Inc()
	m.AttemptDuration.WithLabelValues(action, mode).Observe(time.Since(started).Seconds())
}

func (m *Metrics) AuditWriteFailed(status string) {
	if m == nil {
		return
	}
	m.AuditWriteFailures.WithLabelValues(status).Inc()
}

func (m *Metrics) Enqueued(action string) {
	if m == nil {
		return
	}
	m.JobsEnqueued.WithLabelValues(action).Inc()
}

func (m *Metrics) Retried(action string) {
	if m == nil {
		return
	}
	m.QueueRetries.WithLabelValues(action).Inc()
}

func (m *Metrics) Exhausted(action string) {
	if m == nil {
		return
	}
	m.QueueExhausted.WithLabelValues(action).Inc()
}

func (m *Metrics) DecodeFailed() {
	if m == nil {
		return
	}
	m.QueueDecodeFailures.Inc()
}

func (m *Metrics) RateLimitHit() {
	if m == nil {
		return
	}
	m.RateLimited.Inc()
}
