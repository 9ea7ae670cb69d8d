// Package sweep finds stale resources of every registered kind and
// terminates them, then purges old rows from the age store.
package sweep

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/sweeper/internal/agestore"
	"github.com/yairfalse/sweeper/internal/filter"
	"github.com/yairfalse/sweeper/internal/journal"
	"github.com/yairfalse/sweeper/pkg/resource"
)

// Defaults for the purge pass.
const (
	DefaultPurgeThreshold = 60 * time.Minute
	DefaultPurgeBatchSize = 25
)

// Options controls one sweep.
type Options struct {
	// Check reports what would be terminated without mutating anything.
	Check bool
	// Force terminates every non-ignored instance regardless of age.
	Force bool

	Filter *filter.Filter

	// Primary units sweep global kinds and run the purge pass. Exactly one
	// unit per account should be primary.
	Primary bool

	PurgeThreshold time.Duration
	PurgeBatchSize int

	RunID string
}

// Protector vetoes termination of individual instances.
type Protector interface {
	Protected(ctx context.Context, sess resource.Session, inst *resource.Instance) (bool, string, error)
}

// Journal records termination attempts.
type Journal interface {
	Append(entry journal.Entry) error
}

// Engine runs sweeps against one registry and age store.
type Engine struct {
	registry  *resource.Registry
	store     agestore.Store
	opts      Options
	now       func() time.Time
	logger    zerolog.Logger
	protector Protector
	journal   Journal
	tracer    trace.Tracer
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLogger sets the base logger.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithProtector installs a protection policy.
func WithProtector(p Protector) Option {
	return func(e *Engine) { e.protector = p }
}

// WithJournal records termination attempts to j.
func WithJournal(j Journal) Option {
	return func(e *Engine) { e.journal = j }
}

// New creates an engine.
func New(registry *resource.Registry, store agestore.Store, opts Options, options ...Option) *Engine {
	if opts.PurgeThreshold <= 0 {
		opts.PurgeThreshold = DefaultPurgeThreshold
	}
	if opts.PurgeBatchSize <= 0 {
		opts.PurgeBatchSize = DefaultPurgeBatchSize
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}

	e := &Engine{
		registry: registry,
		store:    store,
		opts:     opts,
		now:      time.Now,
		logger:   log.Logger,
		tracer:   otel.Tracer("sweeper/sweep"),
	}
	for _, o := range options {
		o(e)
	}
	return e
}

// Options returns the effective options.
func (e *Engine) Options() Options {
	return e.opts
}

// Run sweeps every selected kind in name order within sess, then purges the
// age store if this is the primary unit. Failures of one kind never stop
// the others. Cancellation is checked between kinds only.
func (e *Engine) Run(ctx context.Context, sess resource.Session) *Summary {
	started := e.now()
	sum := newSummary(e.opts.RunID, sess, e.opts, started)
	logger := e.unitLogger(sess)

	ctx, span := e.tracer.Start(ctx, "sweep.run", trace.WithAttributes(
		attribute.String("cloud.account.id", sess.Account()),
		attribute.String("cloud.region", sess.Region()),
		attribute.Bool("sweep.check", e.opts.Check),
		attribute.Bool("sweep.force", e.opts.Force),
	))
	defer span.End()

	for _, d := range e.registry.Kinds() {
		if !e.opts.Filter.ShouldSweepKind(d.Kind) {
			continue
		}
		if d.Global && !e.opts.Primary {
			continue
		}
		if ctx.Err() != nil {
			sum.Interrupted = true
			logger.Warn().Err(ctx.Err()).Str("next_kind", d.Kind).Msg("sweep interrupted")
			break
		}
		e.sweepKind(ctx, sess, d, sum, logger)
	}

	if e.opts.Primary && e.opts.Filter.ShouldPurge() && !sum.Interrupted {
		sum.Purge = e.purge(ctx, logger)
	}

	sum.Duration = e.now().Sub(started)
	logger.Info().
		Int("terminated", sum.Total(resource.StatusTerminated)).
		Int("checked", sum.Total(resource.StatusChecked)).
		Int("skipped", sum.Total(resource.StatusSkipped)).
		Int("unsupported", sum.Total(resource.StatusUnsupported)).
		Int("ignored", sum.Total(resource.StatusIgnored)).
		Int("failures", sum.Failures()).
		Int("kind_errors", sum.KindErrors()).
		Dur("duration", sum.Duration).
		Msg("sweep complete")
	return sum
}

func (e *Engine) unitLogger(sess resource.Session) zerolog.Logger {
	return e.logger.With().
		Str("run_id", e.opts.RunID).
		Str("account", sess.Account()).
		Str("region", sess.Region()).
		Logger()
}

// sweepKind enumerates and processes one kind. Any error or panic is
// contained here.
func (e *Engine) sweepKind(ctx context.Context, sess resource.Session, d *resource.Descriptor, sum *Summary, logger zerolog.Logger) {
	kr := sum.kind(d.Kind)
	started := e.now()
	logger = logger.With().Str("kind", d.Kind).Logger()

	ctx, span := e.tracer.Start(ctx, "sweep.kind", trace.WithAttributes(attribute.String("resource.kind", d.Kind)))
	defer span.End()

	defer func() {
		kr.Duration = e.now().Sub(started)
		if r := recover(); r != nil {
			kr.Err = fmt.Sprint(r)
			span.SetStatus(codes.Error, kr.Err)
			logger.Error().
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("exception processing resource kind")
		}
	}()

	records, err := d.Enumerate(ctx, sess)
	if err != nil {
		kr.Err = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, "enumerate failed")
		logger.Error().Caller().Err(err).
			Str("code", resource.CodeOf(err)).
			Str("stack", string(debug.Stack())).
			Msg("exception processing resource kind")
		return
	}
	logger.Debug().Int("count", len(records)).Msg("located resources")

	now := e.now()
	for _, raw := range records {
		inst := resource.NewInstance(d, raw, now)
		e.Resolve(ctx, sess, inst)
		status := e.Process(ctx, sess, inst, kr)
		kr.Counts[status]++
		logInstance(logger, status, inst)
	}
	span.SetAttributes(attribute.Int("resource.count", len(records)))
}

func logInstance(logger zerolog.Logger, status resource.Status, inst *resource.Instance) {
	level := zerolog.InfoLevel
	if inst.Ignore {
		level = zerolog.DebugLevel
	}
	event := logger.WithLevel(level)
	if age, ok := inst.Age(); ok {
		event = event.Dur("age", age)
	}
	event.
		Str("status", string(status)).
		Str("name", inst.Name).
		Str("id", inst.ID).
		Bool("stale", inst.Stale()).
		Msg(string(status) + " " + inst.String())
}
