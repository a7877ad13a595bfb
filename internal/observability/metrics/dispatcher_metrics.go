package metrics

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

const (
	DispatchReasonDeadlineExceeded     = "deadline_exceeded"
	DispatchReasonDBLockTimeout        = "db_lock_timeout"
	DispatchReasonSerializationFailure = "serialization_failure"
	DispatchReasonUniqueViolation      = "unique_violation"
	DispatchReasonHandlerFailure       = "handler_failure"
	DispatchReasonStaleAdvance         = "stale_advance"
	DispatchReasonUnknown              = "unknown"
)

// DispatcherMetrics captures event dispatch health signals.
type DispatcherMetrics struct {
	cycleRuns       *prometheus.CounterVec
	cycleDuration   *prometheus.HistogramVec
	cycleErrors     *prometheus.CounterVec
	eventsApplied   *prometheus.CounterVec
	eventsSkipped   *prometheus.CounterVec
	handlerFailures *prometheus.CounterVec
	poisonEvents    *prometheus.CounterVec
	deadLettered    *prometheus.CounterVec
	cursorLag       *prometheus.GaugeVec
	lockContended   *prometheus.CounterVec
	runLoopLag      prometheus.Observer
}

var (
	dispatcherMetricsOnce sync.Once
	dispatcherMetrics     *DispatcherMetrics
)

// Dispatcher returns the singleton dispatcher metrics registry.
func Dispatcher() *DispatcherMetrics {
	return DispatcherWithConfig(Config{})
}

// DispatcherWithConfig returns the singleton dispatcher metrics registry using config labels.
func DispatcherWithConfig(cfg Config) *DispatcherMetrics {
	dispatcherMetricsOnce.Do(func() {
		dispatcherMetrics = newDispatcherMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return dispatcherMetrics
}

// ResetDispatcherMetricsForTest resets the dispatcher metrics singleton for tests.
func ResetDispatcherMetricsForTest() {
	dispatcherMetricsOnce = sync.Once{}
	dispatcherMetrics = nil
}

func newDispatcherMetrics(registerer prometheus.Registerer, cfg Config) *DispatcherMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	service, environment := cfg.labels()
	constLabels := prometheus.Labels{
		"service": service,
		"env":     environment,
	}

	cycleRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "orderhub_dispatch_cycle_runs_total",
		Help:        "Dispatch poll cycles by subscriber.",
		ConstLabels: constLabels,
	}, []string{"subscriber"})
	cycleDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "orderhub_dispatch_cycle_duration_seconds",
		Help:        "Dispatch cycle latency to protect event delivery freshness.",
		Buckets:     []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		ConstLabels: constLabels,
	}, []string{"subscriber"})
	cycleErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "orderhub_dispatch_cycle_errors_total",
		Help:        "Dispatch cycle errors by low-cardinality reason.",
		ConstLabels: constLabels,
	}, []string{"subscriber", "reason"})
	eventsApplied := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "orderhub_dispatch_events_applied_total",
		Help:        "Events durably applied per subscriber.",
		ConstLabels: constLabels,
	}, []string{"subscriber"})
	eventsSkipped := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "orderhub_dispatch_events_skipped_total",
		Help:        "Events skipped because the processing log already records them.",
		ConstLabels: constLabels,
	}, []string{"subscriber"})
	handlerFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "orderhub_dispatch_handler_failures_total",
		Help:        "Handler invocation failures by reason.",
		ConstLabels: constLabels,
	}, []string{"subscriber", "reason"})
	poisonEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "orderhub_dispatch_poison_events_total",
		Help:        "Events whose failure count crossed the poison threshold.",
		ConstLabels: constLabels,
	}, []string{"subscriber"})
	deadLettered := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "orderhub_dispatch_dead_lettered_total",
		Help:        "Events parked in the dead letter state.",
		ConstLabels: constLabels,
	}, []string{"subscriber"})
	cursorLag := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name:        "orderhub_dispatch_cursor_lag",
		Help:        "Sequence distance between the log head and a subscriber cursor.",
		ConstLabels: constLabels,
	}, []string{"subscriber"})
	lockContended := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "orderhub_dispatch_lock_contended_total",
		Help:        "Cycles skipped because another owner holds the subscriber lock.",
		ConstLabels: constLabels,
	}, []string{"subscriber"})
	runLoopLag := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "orderhub_dispatch_runloop_lag_seconds",
		Help:        "Dispatch run loop lag beyond the configured interval.",
		Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		ConstLabels: constLabels,
	})

	registerer.MustRegister(
		cycleRuns,
		cycleDuration,
		cycleErrors,
		eventsApplied,
		eventsSkipped,
		handlerFailures,
		poisonEvents,
		deadLettered,
		cursorLag,
		lockContended,
		runLoopLag,
	)

	return &DispatcherMetrics{
		cycleRuns:       cycleRuns,
		cycleDuration:   cycleDuration,
		cycleErrors:     cycleErrors,
		eventsApplied:   eventsApplied,
		eventsSkipped:   eventsSkipped,
		handlerFailures: handlerFailures,
		poisonEvents:    poisonEvents,
		deadLettered:    deadLettered,
		cursorLag:       cursorLag,
		lockContended:   lockContended,
		runLoopLag:      runLoopLag,
	}
}

// IncCycleRun increments the cycle counter for a subscriber.
func (m *DispatcherMetrics) IncCycleRun(subscriber string) {
	if m == nil || m.cycleRuns == nil {
		return
	}
	m.cycleRuns.WithLabelValues(subscriber).Inc()
}

// ObserveCycleDuration records cycle latency in seconds.
func (m *DispatcherMetrics) ObserveCycleDuration(subscriber string, duration time.Duration) {
	if m == nil || m.cycleDuration == nil {
		return
	}
	m.cycleDuration.WithLabelValues(subscriber).Observe(duration.Seconds())
}

// IncCycleError increments the cycle error counter with classification.
func (m *DispatcherMetrics) IncCycleError(subscriber string, err error) {
	if m == nil || m.cycleErrors == nil || err == nil {
		return
	}
	m.cycleErrors.WithLabelValues(subscriber, ClassifyDispatchReason(err)).Inc()
}

// AddEventsApplied increments the applied counter by count.
func (m *DispatcherMetrics) AddEventsApplied(subscriber string, count int) {
	if m == nil || m.eventsApplied == nil || count <= 0 {
		return
	}
	m.eventsApplied.WithLabelValues(subscriber).Add(float64(count))
}

// AddEventsSkipped increments the already-processed skip counter by count.
func (m *DispatcherMetrics) AddEventsSkipped(subscriber string, count int) {
	if m == nil || m.eventsSkipped == nil || count <= 0 {
		return
	}
	m.eventsSkipped.WithLabelValues(subscriber).Add(float64(count))
}

// IncHandlerFailure increments handler failure counters with classification.
func (m *DispatcherMetrics) IncHandlerFailure(subscriber string, err error) {
	if m == nil || m.handlerFailures == nil || err == nil {
		return
	}
	m.handlerFailures.WithLabelValues(subscriber, ClassifyDispatchReason(err)).Inc()
}

// IncPoisonEvent increments the poison threshold counter.
func (m *DispatcherMetrics) IncPoisonEvent(subscriber string) {
	if m == nil || m.poisonEvents == nil {
		return
	}
	m.poisonEvents.WithLabelValues(subscriber).Inc()
}

// IncDeadLettered increments the dead letter counter.
func (m *DispatcherMetrics) IncDeadLettered(subscriber string) {
	if m == nil || m.deadLettered == nil {
		return
	}
	m.deadLettered.WithLabelValues(subscriber).Inc()
}

// SetCursorLag records the sequence gap between log head and cursor.
func (m *DispatcherMetrics) SetCursorLag(subscriber string, lag int64) {
	if m == nil || m.cursorLag == nil {
		return
	}
	if lag < 0 {
		lag = 0
	}
	m.cursorLag.WithLabelValues(subscriber).Set(float64(lag))
}

// IncLockContended increments the lock contention counter.
func (m *DispatcherMetrics) IncLockContended(subscriber string) {
	if m == nil || m.lockContended == nil {
		return
	}
	m.lockContended.WithLabelValues(subscriber).Inc()
}

// ObserveRunLoopLag records lag between the scheduled tick and actual run start.
func (m *DispatcherMetrics) ObserveRunLoopLag(duration time.Duration) {
	if m == nil || m.runLoopLag == nil {
		return
	}
	lag := duration
	if lag < 0 {
		lag = 0
	}
	m.runLoopLag.Observe(lag.Seconds())
}

// ClassifyDispatchReason maps dispatch errors to low-cardinality reasons.
func ClassifyDispatchReason(err error) string {
	if err == nil {
		return DispatchReasonUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return DispatchReasonDeadlineExceeded
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "55P03", "55006":
			return DispatchReasonDBLockTimeout
		case "40001", "40P01":
			return DispatchReasonSerializationFailure
		case "23505":
			return DispatchReasonUniqueViolation
		}
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return DispatchReasonUniqueViolation
	}
	return DispatchReasonHandlerFailure
}
