package executor

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/rapidcrm/crmstore/engine/infra/monitoring/metrics"
)

const (
	outcomeOK       = "ok"
	outcomeError    = "error"
	outcomeRejected = "rejected"
)

type instruments struct {
	statements metric.Int64Counter
	duration   metric.Float64Histogram
}

func newInstruments(meter metric.Meter) (*instruments, error) {
	statements, err := meter.Int64Counter(
		metrics.MetricNameWithSubsystem("executor", "statements"),
		metric.WithDescription("Statements executed, by connection and outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("executor: statements counter: %w", err)
	}
	duration, err := meter.Float64Histogram(
		metrics.MetricNameWithSubsystem("executor", "statement_duration_seconds"),
		metric.WithDescription("Wall time of executed statements"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(metrics.QueryDurationBuckets...),
	)
	if err != nil {
		return nil, fmt.Errorf("executor: duration histogram: %w", err)
	}
	return &instruments{statements: statements, duration: duration}, nil
}

func (i *instruments) record(ctx context.Context, connectionID, outcome string, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("connection_id", connectionID),
		attribute.String("outcome", outcome),
	)
	i.statements.Add(ctx, 1, attrs)
	if outcome != outcomeRejected {
		i.duration.Record(ctx, elapsed.Seconds(), attrs)
	}
}
