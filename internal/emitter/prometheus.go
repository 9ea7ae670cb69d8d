package emitter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/yairfalse/sweeper/internal/sweep"
	"github.com/yairfalse/sweeper/pkg/resource"
)

// MetricsEmitter records sweep summaries as OTEL metrics, scraped through
// the Prometheus exporter.
type MetricsEmitter struct {
	meter metric.Meter

	// Metrics
	instancesTotal   metric.Int64Counter
	failuresTotal    metric.Int64Counter
	kindErrorsTotal  metric.Int64Counter
	purgedTotal      metric.Int64Counter
	purgeErrorsTotal metric.Int64Counter
	repeatsTotal     metric.Int64Counter
	interruptedTotal metric.Int64Counter
	sweepDuration    metric.Float64Histogram
	kindDuration     metric.Float64Histogram
	lastSweepGauge   metric.Float64ObservableGauge

	// State for observable gauge
	mu        sync.RWMutex
	lastSweep map[unit]time.Time

	repeats *RepeatTracker
}

// NewMetricsEmitter creates a metrics emitter on meter, or on the global
// meter provider when meter is nil.
func NewMetricsEmitter(meter metric.Meter) (*MetricsEmitter, error) {
	if meter == nil {
		meter = otel.Meter("github.com/yairfalse/sweeper")
	}

	e := &MetricsEmitter{
		meter:     meter,
		lastSweep: make(map[unit]time.Time),
		repeats:   NewRepeatTracker(),
	}

	if err := e.initMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	return e, nil
}

func (e *MetricsEmitter) initMetrics() error {
	var err error

	e.instancesTotal, err = e.meter.Int64Counter(
		"sweeper_instances_total",
		metric.WithDescription("Resource instances processed, by kind and reported status"),
	)
	if err != nil {
		return fmt.Errorf("create instances counter: %w", err)
	}

	e.failuresTotal, err = e.meter.Int64Counter(
		"sweeper_terminate_failures_total",
		metric.WithDescription("Terminate calls that returned an error"),
	)
	if err != nil {
		return fmt.Errorf("create failures counter: %w", err)
	}

	e.kindErrorsTotal, err = e.meter.Int64Counter(
		"sweeper_kind_errors_total",
		metric.WithDescription("Kinds that failed to enumerate or panicked"),
	)
	if err != nil {
		return fmt.Errorf("create kind_errors counter: %w", err)
	}

	e.purgedTotal, err = e.meter.Int64Counter(
		"sweeper_store_rows_total",
		metric.WithDescription("Age store rows handled by the purge pass"),
	)
	if err != nil {
		return fmt.Errorf("create store_rows counter: %w", err)
	}

	e.purgeErrorsTotal, err = e.meter.Int64Counter(
		"sweeper_purge_errors_total",
		metric.WithDescription("Purge passes that stopped on an error"),
	)
	if err != nil {
		return fmt.Errorf("create purge_errors counter: %w", err)
	}

	e.repeatsTotal, err = e.meter.Int64Counter(
		"sweeper_repeat_terminations_total",
		metric.WithDescription("Instances reported terminated in consecutive sweeps"),
	)
	if err != nil {
		return fmt.Errorf("create repeat_terminations counter: %w", err)
	}

	e.interruptedTotal, err = e.meter.Int64Counter(
		"sweeper_interrupted_total",
		metric.WithDescription("Sweep units cancelled before every kind ran"),
	)
	if err != nil {
		return fmt.Errorf("create interrupted counter: %w", err)
	}

	e.sweepDuration, err = e.meter.Float64Histogram(
		"sweeper_sweep_duration_seconds",
		metric.WithDescription("Time taken to sweep one account and region"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("create sweep_duration histogram: %w", err)
	}

	e.kindDuration, err = e.meter.Float64Histogram(
		"sweeper_kind_duration_seconds",
		metric.WithDescription("Time taken to sweep one kind"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("create kind_duration histogram: %w", err)
	}

	e.lastSweepGauge, err = e.meter.Float64ObservableGauge(
		"sweeper_last_sweep_timestamp_seconds",
		metric.WithDescription("Unix time the last sweep of a unit finished"),
		metric.WithFloat64Callback(e.observeLastSweep),
	)
	if err != nil {
		return fmt.Errorf("create last_sweep gauge: %w", err)
	}

	return nil
}

// Emit records the summary as metrics.
func (e *MetricsEmitter) Emit(ctx context.Context, sum *sweep.Summary) error {
	unitAttrs := []attribute.KeyValue{
		attribute.String("account", sum.Account),
		attribute.String("region", sum.Region),
		attribute.Bool("check", sum.Check),
	}

	e.sweepDuration.Record(ctx, sum.Duration.Seconds(), metric.WithAttributes(unitAttrs...))
	if sum.Interrupted {
		e.interruptedTotal.Add(ctx, 1, metric.WithAttributes(unitAttrs...))
	}

	for kind, kr := range sum.Kinds {
		kindAttrs := append([]attribute.KeyValue{attribute.String("kind", kind)}, unitAttrs...)
		e.kindDuration.Record(ctx, kr.Duration.Seconds(), metric.WithAttributes(kindAttrs...))

		for status, n := range kr.Counts {
			attrs := append([]attribute.KeyValue{attribute.String("status", string(status))}, kindAttrs...)
			e.instancesTotal.Add(ctx, int64(n), metric.WithAttributes(attrs...))
		}
		if kr.Failures > 0 {
			e.failuresTotal.Add(ctx, int64(kr.Failures), metric.WithAttributes(kindAttrs...))
		}
		if kr.Err != "" {
			e.kindErrorsTotal.Add(ctx, 1, metric.WithAttributes(kindAttrs...))
		}
	}

	if p := sum.Purge; p != nil {
		status := resource.StatusPurged
		n := p.Purged
		if sum.Check {
			status, n = resource.StatusChecked, p.Checked
		}
		e.purgedTotal.Add(ctx, int64(n), metric.WithAttributes(
			attribute.String("account", sum.Account),
			attribute.String("status", string(status)),
		))
		if p.Err != "" {
			e.purgeErrorsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("account", sum.Account)))
		}
	}

	e.emitRepeats(ctx, sum)
	e.repeats.Update(sum)

	e.mu.Lock()
	e.lastSweep[unit{account: sum.Account, region: sum.Region}] = sum.Started.Add(sum.Duration)
	e.mu.Unlock()

	return nil
}

// emitRepeats counts and logs instances terminated again since the last
// sweep of the same unit.
func (e *MetricsEmitter) emitRepeats(ctx context.Context, sum *sweep.Summary) {
	repeats := e.repeats.ComputeRepeats(sum)
	if repeats == nil {
		// First sweep - baseline established
		return
	}

	for _, r := range repeats {
		e.repeatsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("account", r.Account),
			attribute.String("region", r.Region),
			attribute.String("kind", r.Kind),
		))

		log.Warn().
			Str("account", r.Account).
			Str("region", r.Region).
			Str("kind", r.Kind).
			Str("id", r.Identity).
			Msg("resource terminated again, previous delete did not take effect")
	}
}

// observeLastSweep is the callback for the last_sweep gauge.
func (e *MetricsEmitter) observeLastSweep(_ context.Context, o metric.Float64Observer) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for u, t := range e.lastSweep {
		o.Observe(float64(t.UnixNano())/1e9, metric.WithAttributes(
			attribute.String("account", u.account),
			attribute.String("region", u.region),
		))
	}
	return nil
}

// Close is a no-op for the metrics emitter.
func (e *MetricsEmitter) Close() error {
	return nil
}
