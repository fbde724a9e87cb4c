package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/metric"
)

// Metrics bundles the counters and gauges the burst aggregator and websocket
// broadcaster emit.
type Metrics struct {
	environment string

	flushes       metric.Int64Counter
	suppressions  metric.Int64Counter
	restarts      metric.Int64Counter
	sessionsGauge metric.Int64UpDownCounter
	snapshots     metric.Int64Counter
}

// NewMetrics instantiates the instruments from the given meter.
func NewMetrics(meter metric.Meter, environment string) (*Metrics, error) {
	flushes, err := meter.Int64Counter("burst.flush.count",
		metric.WithDescription("number of cache writes performed by the burst aggregator"))
	if err != nil {
		return nil, err
	}
	suppressions, err := meter.Int64Counter("burst.suppression.count",
		metric.WithDescription("number of notifications suppressed by the burst window"))
	if err != nil {
		return nil, err
	}
	restarts, err := meter.Int64Counter("burst.restart.count",
		metric.WithDescription("number of supervised aggregator restarts"))
	if err != nil {
		return nil, err
	}
	sessions, err := meter.Int64UpDownCounter("broadcast.session.active",
		metric.WithDescription("number of currently active websocket sessions"))
	if err != nil {
		return nil, err
	}
	snapshots, err := meter.Int64Counter("broadcast.snapshot.count",
		metric.WithDescription("number of statistics snapshots sent to websocket clients"))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		environment:   environment,
		flushes:       flushes,
		suppressions:  suppressions,
		restarts:      restarts,
		sessionsGauge: sessions,
		snapshots:     snapshots,
	}, nil
}

// RecordFlush increments the flush counter for resource.
func (m *Metrics) RecordFlush(ctx context.Context, resource string) {
	if m == nil {
		return
	}
	m.flushes.Add(ctx, 1, metric.WithAttributes(ResourceAttributes(m.environment, resource)...))
}

// RecordSuppression increments the suppression counter for resource.
func (m *Metrics) RecordSuppression(ctx context.Context, resource string) {
	if m == nil {
		return
	}
	m.suppressions.Add(ctx, 1, metric.WithAttributes(ResourceAttributes(m.environment, resource)...))
}

// RecordRestart increments the restart counter for resource with a reason label.
func (m *Metrics) RecordRestart(ctx context.Context, resource, reason string) {
	if m == nil {
		return
	}
	m.restarts.Add(ctx, 1, metric.WithAttributes(RestartAttributes(m.environment, resource, reason)...))
}

// SessionOpened increments the active session gauge.
func (m *Metrics) SessionOpened(ctx context.Context) {
	if m == nil {
		return
	}
	m.sessionsGauge.Add(ctx, 1)
}

// SessionClosed decrements the active session gauge.
func (m *Metrics) SessionClosed(ctx context.Context) {
	if m == nil {
		return
	}
	m.sessionsGauge.Add(ctx, -1)
}

// RecordSnapshot increments the snapshot counter with a result label (ok, timeout, error).
func (m *Metrics) RecordSnapshot(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.snapshots.Add(ctx, 1, metric.WithAttributes(AttrResult.String(result), AttrEnvironment.String(m.environment)))
}
