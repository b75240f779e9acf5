package telemetry

import (
	"context"
	"time"

	"github.com/larklabs/backend/internal/domain/quota"
	"go.opentelemetry.io/otel/metric"
)

// Result label values for quota_consume_total.
const (
	ResultAllowed = "allowed"
	ResultDenied  = "denied"
)

// QuotaMetrics records quota decisions and rollover activity. It satisfies
// the quota service's MetricsRecorder.
type QuotaMetrics struct {
	consumeTotal     *Counter
	rolloverTotal    *Counter
	rolloverRuns     *Counter
	rolloverDuration *Histogram
}

// NewQuotaMetrics registers the quota instruments on meter.
func NewQuotaMetrics(meter metric.Meter) (*QuotaMetrics, error) {
	consumeTotal, err := NewCounter(meter,
		"quota_consume_total",
		"Consume attempts by action and result",
		"{attempt}",
	)
	if err != nil {
		return nil, err
	}

	rolloverTotal, err := NewCounter(meter,
		"quota_rollover_total",
		"Billing cycles reset by the rollover job",
		"{reset}",
	)
	if err != nil {
		return nil, err
	}

	rolloverRuns, err := NewCounter(meter,
		"quota_rollover_runs_total",
		"Rollover job executions by status",
		"{run}",
	)
	if err != nil {
		return nil, err
	}

	rolloverDuration, err := NewHistogram(meter, HistogramOpts{
		Name:        "quota_rollover_duration_seconds",
		Description: "Rollover job duration in seconds",
		Unit:        "s",
		Boundaries:  JobDurationBuckets,
	})
	if err != nil {
		return nil, err
	}

	return &QuotaMetrics{
		consumeTotal:     consumeTotal,
		rolloverTotal:    rolloverTotal,
		rolloverRuns:     rolloverRuns,
		rolloverDuration: rolloverDuration,
	}, nil
}

// RecordConsume counts one consume attempt.
func (m *QuotaMetrics) RecordConsume(ctx context.Context, action quota.ActionType, allowed bool) {
	result := ResultDenied
	if allowed {
		result = ResultAllowed
	}
	m.consumeTotal.Inc(ctx, AttrAction.String(action.String()), AttrResult.String(result))
}

// RecordRollover adds the number of cycles reset in one run.
func (m *QuotaMetrics) RecordRollover(ctx context.Context, resets int) {
	m.rolloverTotal.Add(ctx, int64(resets))
}

// RecordJobRun records one scheduled rollover execution.
func (m *QuotaMetrics) RecordJobRun(ctx context.Context, d time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.rolloverRuns.Inc(ctx, AttrStatus.String(status))
	m.rolloverDuration.RecordDuration(ctx, d, AttrStatus.String(status))
}
