package conn

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/rapidcrm/crmstore/engine/infra/monitoring/metrics"
)

// RegisterMetrics exposes per-connection counters as observable instruments.
func (r *Registry) RegisterMetrics(meter metric.Meter) error {
	connected, err := meter.Int64ObservableGauge(
		metrics.MetricNameWithSubsystem("registry", "connection_up"),
		metric.WithDescription("1 when the connection is connected, 0 otherwise"),
	)
	if err != nil {
		return fmt.Errorf("registry: connection_up gauge: %w", err)
	}
	queries, err := meter.Int64ObservableCounter(
		metrics.MetricNameWithSubsystem("registry", "connection_queries"),
		metric.WithDescription("Successful statements per connection"),
	)
	if err != nil {
		return fmt.Errorf("registry: connection_queries counter: %w", err)
	}
	errs, err := meter.Int64ObservableCounter(
		metrics.MetricNameWithSubsystem("registry", "connection_errors"),
		metric.WithDescription("Failed statements, handshakes and pings per connection"),
	)
	if err != nil {
		return fmt.Errorf("registry: connection_errors counter: %w", err)
	}
	_, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		for _, c := range r.Connections() {
			attrs := metric.WithAttributes(attribute.String("connection_id", c.ID()))
			up := int64(0)
			if c.IsConnected() {
				up = 1
			}
			o.ObserveInt64(connected, up, attrs)
			o.ObserveInt64(queries, c.QueryCount(), attrs)
			o.ObserveInt64(errs, c.ErrorCount(), attrs)
		}
		return nil
	}, connected, queries, errs)
	if err != nil {
		return fmt.Errorf("registry: register callback: %w", err)
	}
	return nil
}
