package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/lineagelab/eventline/pkg/db"
	"github.com/prometheus/client_golang/prometheus"
)

// Config carries the constant labels attached to every event log metric.
type Config struct {
	ServiceName string
	Environment string
}

const (
	JobReasonDeadlineExceeded     = "deadline_exceeded"
	JobReasonDeadlock             = "deadlock"
	JobReasonDBLockTimeout        = "db_lock_timeout"
	JobReasonUniqueViolation      = "unique_violation"
	JobReasonUnknown              = "unknown"
	BatchDeferredReasonSkipLocked = "skip_locked_empty"
)

const (
	DeliveryOutcomeDelivered = "delivered"
	DeliveryOutcomeRetried   = "retried"
	DeliveryOutcomeRejected  = "rejected"
	DeliveryOutcomeGone      = "subscriber_gone"
	DeliveryOutcomeBusy      = "subscriber_busy"
)

const (
	LockResourceEventsForDispatch = "events_for_dispatch"
	LockResourceEventsForCleanup  = "events_for_cleanup"
)

// EventLogMetrics captures event log pipeline health signals.
type EventLogMetrics struct {
	statusGauge     *prometheus.GaugeVec
	jobRuns         *prometheus.CounterVec
	jobDuration     *prometheus.HistogramVec
	jobTimeouts     *prometheus.CounterVec
	jobErrors       *prometheus.CounterVec
	batchDeferred   *prometheus.CounterVec
	deliveries      *prometheus.CounterVec
	syncOutcomes    *prometheus.CounterVec
	deadlockRetries *prometheus.CounterVec
	dbLockWait      *prometheus.HistogramVec
	runLoopLag      prometheus.Observer
}

var (
	eventLogMetricsOnce sync.Once
	eventLogMetrics     *EventLogMetrics
)

// EventLog returns the singleton event log metrics registry.
func EventLog() *EventLogMetrics {
	return EventLogWithConfig(Config{})
}

// EventLogWithConfig returns the singleton event log metrics registry using config labels.
func EventLogWithConfig(cfg Config) *EventLogMetrics {
	eventLogMetricsOnce.Do(func() {
		eventLogMetrics = newEventLogMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return eventLogMetrics
}

// ResetEventLogMetricsForTest resets the metrics singleton for tests.
func ResetEventLogMetricsForTest() {
	eventLogMetricsOnce = sync.Once{}
	eventLogMetrics = nil
}

func newEventLogMetrics(registerer prometheus.Registerer, cfg Config) *EventLogMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "eventline"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	statusGauge := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name:        "eventline_events_by_status",
		Help:        "Events currently in each pipeline status, per project.",
		ConstLabels: constLabels,
	}, []string{"status", "project"})
	jobRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "eventline_job_runs_total",
		Help:        "Worker job runs by name.",
		ConstLabels: constLabels,
	}, []string{"job"})
	jobDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "eventline_job_duration_seconds",
		Help:        "Worker job latency to protect event log freshness.",
		Buckets:     []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60, 120, 300, 600},
		ConstLabels: constLabels,
	}, []string{"job"})
	jobTimeouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "eventline_job_timeouts_total",
		Help:        "Worker job timeouts.",
		ConstLabels: constLabels,
	}, []string{"job"})
	jobErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "eventline_job_errors_total",
		Help:        "Worker job errors by low-cardinality reason.",
		ConstLabels: constLabels,
	}, []string{"job", "reason"})
	batchDeferred := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "eventline_batch_deferred_total",
		Help:        "Worker batch deferrals by low-cardinality reason.",
		ConstLabels: constLabels,
	}, []string{"job", "reason"})
	deliveries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "eventline_deliveries_total",
		Help:        "Event delivery attempts by category and outcome.",
		ConstLabels: constLabels,
	}, []string{"category", "outcome"})
	syncOutcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "eventline_sync_outcomes_total",
		Help:        "Commit synchronization outcomes per category.",
		ConstLabels: constLabels,
	}, []string{"category", "outcome"})
	deadlockRetries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "eventline_deadlock_retries_total",
		Help:        "Status updates retried after a deadlock or serialization failure.",
		ConstLabels: constLabels,
	}, []string{"operation"})
	dbLockWait := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "eventline_db_lock_wait_seconds",
		Help:        "DB lock wait time for SELECT FOR UPDATE contention.",
		Buckets:     []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		ConstLabels: constLabels,
	}, []string{"resource"})
	runLoopLag := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "eventline_runloop_lag_seconds",
		Help:        "Worker run loop lag beyond the configured interval.",
		Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		ConstLabels: constLabels,
	})

	registerer.MustRegister(
		statusGauge,
		jobRuns,
		jobDuration,
		jobTimeouts,
		jobErrors,
		batchDeferred,
		deliveries,
		syncOutcomes,
		deadlockRetries,
		dbLockWait,
		runLoopLag,
	)

	return &EventLogMetrics{
		statusGauge:     statusGauge,
		jobRuns:         jobRuns,
		jobDuration:     jobDuration,
		jobTimeouts:     jobTimeouts,
		jobErrors:       jobErrors,
		batchDeferred:   batchDeferred,
		deliveries:      deliveries,
		syncOutcomes:    syncOutcomes,
		deadlockRetries: deadlockRetries,
		dbLockWait:      dbLockWait,
		runLoopLag:      runLoopLag,
	}
}

// AddStatusDelta moves the per-project status gauge by delta.
func (m *EventLogMetrics) AddStatusDelta(status, project string, delta int) {
	if m == nil || m.statusGauge == nil || delta == 0 {
		return
	}
	m.statusGauge.WithLabelValues(status, project).Add(float64(delta))
}

// IncJobRun increments the run counter for a worker job.
func (m *EventLogMetrics) IncJobRun(job string) {
	if m == nil || m.jobRuns == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

// ObserveJobDuration records worker job latency in seconds.
func (m *EventLogMetrics) ObserveJobDuration(job string, duration time.Duration) {
	if m == nil || m.jobDuration == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

// IncJobTimeout increments the timeout counter for the worker job.
func (m *EventLogMetrics) IncJobTimeout(job string) {
	if m == nil || m.jobTimeouts == nil {
		return
	}
	m.jobTimeouts.WithLabelValues(job).Inc()
}

// IncJobError increments the worker job error counter with classification.
func (m *EventLogMetrics) IncJobError(job string, err error) {
	if m == nil || err == nil || m.jobErrors == nil {
		return
	}
	m.jobErrors.WithLabelValues(job, ClassifyJobReason(err)).Inc()
}

// IncBatchDeferred increments the batch deferred counter for a job and reason.
func (m *EventLogMetrics) IncBatchDeferred(job, reason string) {
	if m == nil || m.batchDeferred == nil {
		return
	}
	m.batchDeferred.WithLabelValues(job, reason).Inc()
}

// IncDelivery increments the delivery attempt counter.
func (m *EventLogMetrics) IncDelivery(category, outcome string) {
	if m == nil || m.deliveries == nil {
		return
	}
	m.deliveries.WithLabelValues(category, outcome).Inc()
}

// IncSyncOutcome increments the synchronization outcome counter.
func (m *EventLogMetrics) IncSyncOutcome(category, outcome string) {
	if m == nil || m.syncOutcomes == nil {
		return
	}
	m.syncOutcomes.WithLabelValues(category, outcome).Inc()
}

// AddSyncOutcome adds count to the synchronization outcome counter.
func (m *EventLogMetrics) AddSyncOutcome(category, outcome string, count int) {
	if m == nil || m.syncOutcomes == nil || count <= 0 {
		return
	}
	m.syncOutcomes.WithLabelValues(category, outcome).Add(float64(count))
}

// IncDeadlockRetry increments the deadlock retry counter for an operation.
func (m *EventLogMetrics) IncDeadlockRetry(operation string) {
	if m == nil || m.deadlockRetries == nil {
		return
	}
	m.deadlockRetries.WithLabelValues(operation).Inc()
}

// ObserveDBLockWait records lock wait time for SELECT FOR UPDATE work.
func (m *EventLogMetrics) ObserveDBLockWait(resource string, duration time.Duration) {
	if m == nil || m.dbLockWait == nil {
		return
	}
	m.dbLockWait.WithLabelValues(resource).Observe(duration.Seconds())
}

// ObserveRunLoopLag records lag between the scheduled tick and actual run start.
func (m *EventLogMetrics) ObserveRunLoopLag(duration time.Duration) {
	if m == nil || m.runLoopLag == nil {
		return
	}
	lag := duration
	if lag < 0 {
		lag = 0
	}
	m.runLoopLag.Observe(lag.Seconds())
}

// ClassifyJobReason maps worker job errors to low-cardinality reasons.
func ClassifyJobReason(err error) string {
	if err == nil {
		return JobReasonUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return JobReasonDeadlineExceeded
	}
	if db.IsDeadlockErr(err) {
		return JobReasonDeadlock
	}
	if db.IsLockTimeoutErr(err) {
		return JobReasonDBLockTimeout
	}
	if db.IsDuplicateKeyErr(err) {
		return JobReasonUniqueViolation
	}
	return JobReasonUnknown
}
