package metrics

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"gorm.io/gorm"
)

func TestClassifyDispatchReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "deadline",
			err:  context.DeadlineExceeded,
			want: DispatchReasonDeadlineExceeded,
		},
		{
			name: "cancelled",
			err:  context.Canceled,
			want: DispatchReasonDeadlineExceeded,
		},
		{
			name: "db_lock_timeout",
			err:  &pgconn.PgError{Code: "55P03"},
			want: DispatchReasonDBLockTimeout,
		},
		{
			name: "serialization_failure",
			err:  &pgconn.PgError{Code: "40001"},
			want: DispatchReasonSerializationFailure,
		},
		{
			name: "unique_violation",
			err:  gorm.ErrDuplicatedKey,
			want: DispatchReasonUniqueViolation,
		},
		{
			name: "handler_failure",
			err:  errors.New("boom"),
			want: DispatchReasonHandlerFailure,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyDispatchReason(tc.err); got != tc.want {
				t.Fatalf("expected reason %q, got %q", tc.want, got)
			}
		})
	}
}

func TestAddEventsApplied(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := newDispatcherMetrics(registry, Config{
		ServiceName: "orderhub",
		Environment: "test",
	})

	metrics.AddEventsApplied("orders-products-projector", 4)
	metrics.AddEventsApplied("orders-products-projector", 0)

	got := testutil.ToFloat64(metrics.eventsApplied.WithLabelValues("orders-products-projector"))
	if got != 4 {
		t.Fatalf("expected applied count 4, got %v", got)
	}
}

func TestHandlerFailureCountsByReason(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := newDispatcherMetrics(registry, Config{
		ServiceName: "orderhub",
		Environment: "test",
	})

	metrics.IncHandlerFailure("reporting-rollup", errors.New("boom"))
	metrics.IncHandlerFailure("reporting-rollup", context.DeadlineExceeded)
	metrics.IncHandlerFailure("reporting-rollup", nil)

	got := getCounterValue(t, registry, "orderhub_dispatch_handler_failures_total", map[string]string{
		"service":    "orderhub",
		"env":        "test",
		"subscriber": "reporting-rollup",
		"reason":     DispatchReasonHandlerFailure,
	})
	if got != 1 {
		t.Fatalf("expected 1 handler_failure, got %v", got)
	}
}

func getCounterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	metricFamilies, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metricFamilies {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.Metric {
			if !labelsMatch(metric, labels) {
				continue
			}
			if metric.Counter == nil {
				t.Fatalf("metric %s is not a counter", name)
			}
			return metric.GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.Label) != len(labels) {
		return false
	}
	for _, label := range metric.Label {
		if labels[label.GetName()] != label.GetValue() {
			return false
		}
	}
	return true
}
