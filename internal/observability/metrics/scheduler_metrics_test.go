package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/smallbiznis/wipline/internal/authorization"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gatherCounter(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := registry.Gather()
	require.NoError(t, err)

	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			if matchLabels(metric, labels) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func matchLabels(metric *dto.Metric, labels map[string]string) bool {
	seen := map[string]string{}
	for _, pair := range metric.GetLabel() {
		seen[pair.GetName()] = pair.GetValue()
	}
	for name, value := range labels {
		if seen[name] != value {
			return false
		}
	}
	return true
}

func TestSchedulerMetricsCounters(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := newSchedulerMetrics(registry, Config{ServiceName: "wipline", Environment: "test"})

	m.IncJobRun("wip_recompute")
	m.IncJobRun("wip_recompute")
	m.IncJobTimeout("mark_overdue")
	m.IncJobError("draft_cleanup", context.DeadlineExceeded)
	m.AddBatchProcessed("wip_recompute", "project", 5)
	m.AddBatchProcessed("wip_recompute", "project", -1) // ignored
	m.ObserveJobDuration("wip_recompute", 42*time.Millisecond)
	m.ObserveRunLoopLag(-time.Second) // clamped to zero

	assert.Equal(t, 2.0, gatherCounter(t, registry, "wipline_scheduler_job_runs_total",
		map[string]string{"job": "wip_recompute"}))
	assert.Equal(t, 1.0, gatherCounter(t, registry, "wipline_scheduler_job_timeouts_total",
		map[string]string{"job": "mark_overdue"}))
	assert.Equal(t, 1.0, gatherCounter(t, registry, "wipline_scheduler_job_errors_total",
		map[string]string{"job": "draft_cleanup", "reason": SchedulerJobReasonDeadlineExceeded}))
	assert.Equal(t, 5.0, gatherCounter(t, registry, "wipline_scheduler_batch_processed_total",
		map[string]string{"job": "wip_recompute", "resource": "project"}))
}

func TestClassifySchedulerErrorType(t *testing.T) {
	assert.Equal(t, SchedulerErrorTypeUnknown, ClassifySchedulerErrorType(nil))
	assert.Equal(t, SchedulerErrorTypeDeadlineExceeded, ClassifySchedulerErrorType(context.DeadlineExceeded))
	assert.Equal(t, SchedulerErrorTypeAuthorization, ClassifySchedulerErrorType(authorization.ErrForbidden))
	assert.Equal(t, SchedulerErrorTypeDB, ClassifySchedulerErrorType(&pq.Error{Code: "40001"}))
	assert.Equal(t, SchedulerErrorTypeBusinessRule, ClassifySchedulerErrorType(errors.New("no billable work")))
}

func TestClassifySchedulerJobReason(t *testing.T) {
	assert.Equal(t, SchedulerJobReasonDeadlineExceeded, ClassifySchedulerJobReason(context.Canceled))
	assert.Equal(t, SchedulerJobReasonForbidden, ClassifySchedulerJobReason(authorization.ErrForbidden))
	assert.Equal(t, SchedulerJobReasonDBLockTimeout, ClassifySchedulerJobReason(&pq.Error{Code: "55P03"}))
	assert.Equal(t, SchedulerJobReasonSerializationFailure, ClassifySchedulerJobReason(&pq.Error{Code: "40001"}))
	assert.Equal(t, SchedulerJobReasonUniqueViolation, ClassifySchedulerJobReason(&pq.Error{Code: "23505"}))
	assert.Equal(t, SchedulerJobReasonUnknown, ClassifySchedulerJobReason(errors.New("boom")))
}

func TestIsSchedulerErrorRetryable(t *testing.T) {
	assert.False(t, IsSchedulerErrorRetryable(nil))
	assert.True(t, IsSchedulerErrorRetryable(context.DeadlineExceeded))
	assert.True(t, IsSchedulerErrorRetryable(errors.New("database is locked")))
	assert.False(t, IsSchedulerErrorRetryable(errors.New("no billable work")))
}
