package daemon

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds operational metrics using OTEL semantic conventions.
type Metrics struct {
	runs         metric.Int64Counter
	runDuration  metric.Float64Histogram
	housekeeping metric.Int64Counter
}

// NewMetrics creates daemon metrics on meter, or on the global meter
// provider when meter is nil.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter("github.com/yairfalse/sweeper/daemon")
	}

	runs, err := meter.Int64Counter(
		"sweeper.daemon.runs",
		metric.WithDescription("Number of scheduled sweep runs"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	runDuration, err := meter.Float64Histogram(
		"sweeper.daemon.run.duration",
		metric.WithDescription("Duration of scheduled sweep runs"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	housekeeping, err := meter.Int64Counter(
		"sweeper.daemon.housekeeping",
		metric.WithDescription("Number of housekeeping task runs"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		runs:         runs,
		runDuration:  runDuration,
		housekeeping: housekeeping,
	}, nil
}

// RecordRun records a sweep run with its status and duration.
func (m *Metrics) RecordRun(ctx context.Context, status string, elapsed time.Duration) {
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.runs.Add(ctx, 1, attrs)
	m.runDuration.Record(ctx, elapsed.Seconds(), attrs)
}

// RecordHousekeeping records a housekeeping task run.
func (m *Metrics) RecordHousekeeping(ctx context.Context, task string, status string) {
	m.housekeeping.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("task", task),
			attribute.String("status", status),
		),
	)
}
