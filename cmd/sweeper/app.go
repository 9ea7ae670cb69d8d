package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/yairfalse/sweeper/internal/agestore"
	"github.com/yairfalse/sweeper/internal/config"
	"github.com/yairfalse/sweeper/internal/emitter"
	"github.com/yairfalse/sweeper/internal/fanout"
	"github.com/yairfalse/sweeper/internal/filter"
	"github.com/yairfalse/sweeper/internal/journal"
	"github.com/yairfalse/sweeper/internal/plugin"
	awsplugin "github.com/yairfalse/sweeper/internal/plugin/aws"
	"github.com/yairfalse/sweeper/internal/policy"
	"github.com/yairfalse/sweeper/internal/sweep"
	"github.com/yairfalse/sweeper/internal/telemetry"
	"github.com/yairfalse/sweeper/pkg/resource"
)

// app holds everything one process needs to sweep.
type app struct {
	cfg        *config.Config
	telemetry  *telemetry.Provider
	registry   *resource.Registry
	store      agestore.Store
	engineOpts []sweep.Option
	journal    *journal.Journal
	emitter    emitter.Emitter
	connector  fanout.Connector
}

// newApp wires the sweeper from c. Any failure here is a setup error.
func newApp(ctx context.Context, c *config.Config, out io.Writer) (*app, error) {
	a := &app{cfg: c}
	ready := false
	defer func() {
		if !ready {
			a.close()
		}
	}()

	var err error
	a.telemetry, err = telemetry.NewProvider(ctx, c.OTEL)
	if err != nil {
		return nil, fmt.Errorf("setup telemetry: %w", err)
	}

	a.store, err = openStore(ctx, c)
	if err != nil {
		return nil, err
	}

	a.registry, err = buildRegistry(c)
	if err != nil {
		return nil, err
	}

	if len(c.Policy.Files) > 0 {
		engine, err := policy.Load(ctx, c.Policy.Files...)
		if err != nil {
			return nil, err
		}
		log.Info().Strs("modules", engine.Modules()).Msg("protection policy loaded")
		a.engineOpts = append(a.engineOpts, sweep.WithProtector(engine))
	}

	if c.Journal.Dir != "" {
		a.journal, err = journal.Open(c.Journal.Dir, journal.DefaultPrefix)
		if err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
		a.engineOpts = append(a.engineOpts, sweep.WithJournal(a.journal))
	}

	metrics, err := emitter.NewMetricsEmitter(a.telemetry.Meter())
	if err != nil {
		return nil, err
	}
	emitters := []emitter.Emitter{metrics}
	if out != nil {
		emitters = append(emitters, emitter.NewJSONEmitter(out))
	}
	a.emitter = emitter.NewMultiEmitter(emitters...)

	a.connector = &fanout.AWSConnector{
		Region:      c.AWS.PrimaryRegion,
		Profile:     c.AWS.Profile,
		SessionName: "sweeper-" + c.Sweep.Stage,
		RoleARN:     c.RoleARN,
	}

	ready = true
	return a, nil
}

// storeTable returns the DynamoDB table the age store lives in.
func storeTable(c *config.Config) string {
	if c.Store.Table != "" {
		return c.Store.Table
	}
	return agestore.TableName(c.AWS.APIName, c.Sweep.Stage)
}

func openStore(ctx context.Context, c *config.Config) (agestore.Store, error) {
	switch c.Store.Backend {
	case config.BackendDynamoDB:
		awsCfg, err := awsplugin.LoadConfig(ctx, awsplugin.SessionConfig{Region: c.Store.Region, Profile: c.AWS.Profile})
		if err != nil {
			return nil, fmt.Errorf("open age store: %w", err)
		}
		return agestore.NewDynamoStore(dynamodb.NewFromConfig(awsCfg), storeTable(c)), nil
	case config.BackendBolt:
		s, err := agestore.OpenBolt(c.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("open age store: %w", err)
		}
		return s, nil
	case config.BackendMemory:
		log.Warn().Msg("memory age store: first-seen times are lost on exit")
		return agestore.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
}

// buildRegistry registers the AWS plugin and applies age limit overrides.
func buildRegistry(c *config.Config) (*resource.Registry, error) {
	var protected []string
	if c.Store.Backend == config.BackendDynamoDB {
		protected = append(protected, storeTable(c))
	}

	plugin.Register(awsplugin.New(awsplugin.Options{
		IAMNamePrefix:     c.AWS.IAMNamePrefix,
		PersistentBuckets: c.AWS.PersistentBuckets,
		ProtectedTables:   protected,
	}))

	reg, err := plugin.Kinds()
	if err != nil {
		return nil, fmt.Errorf("build registry: %w", err)
	}
	for kind, limit := range c.Sweep.AgeLimits {
		if err := reg.SetAgeLimit(kind, limit); err != nil {
			return nil, fmt.Errorf("age limit override: %w", err)
		}
	}
	return reg, nil
}

// buildFilter validates targets against the registry.
func buildFilter(reg *resource.Registry, include, exclude []string) (*filter.Filter, error) {
	f := filter.New(include, exclude)
	if unknown := f.Unknown(reg.Names()); len(unknown) > 0 {
		slices.Sort(unknown)
		return nil, fmt.Errorf("unknown target(s): %s", strings.Join(unknown, ", "))
	}
	return f, nil
}

// runSweep runs one fan-out over the configured account and regions and emits
// every unit's summary.
func (a *app) runSweep(ctx context.Context, f *filter.Filter) ([]*sweep.Summary, error) {
	ctx, span := a.telemetry.StartSpan(ctx, "sweeper.sweep")
	defer span.End()

	runID := uuid.NewString()
	opts := sweep.Options{
		Check:          a.cfg.Sweep.Check,
		Force:          a.cfg.Sweep.Force,
		Filter:         f,
		PurgeThreshold: a.cfg.Sweep.PurgeThreshold,
		PurgeBatchSize: a.cfg.Sweep.PurgeBatchSize,
		RunID:          runID,
	}

	engines := func(primary bool) fanout.Sweeper {
		o := opts
		o.Primary = primary
		return sweep.New(a.registry, a.store, o,
			append([]sweep.Option{sweep.WithLogger(log.Logger)}, a.engineOpts...)...)
	}

	fo := fanout.New(a.connector, engines, fanout.Options{
		Account:       a.cfg.AWS.TestAccountID,
		LambdaAccount: a.cfg.AWS.LambdaAccountID,
		Regions:       a.cfg.AWS.Regions,
		PrimaryRegion: a.cfg.AWS.PrimaryRegion,
		Concurrency:   a.cfg.Sweep.Concurrency,
	})

	summaries, err := fo.Run(ctx)
	if err != nil {
		log.Error().Ctx(ctx).Err(err).Str("run_id", runID).Msg("sweep setup failed")
		return nil, err
	}

	for _, sum := range summaries {
		if err := a.emitter.Emit(ctx, sum); err != nil {
			log.Warn().Err(err).Str("region", sum.Region).Msg("emit summary")
		}
	}

	var terminated, checked, failures, kindErrors int
	for _, sum := range summaries {
		terminated += sum.Total(resource.StatusTerminated)
		checked += sum.Total(resource.StatusChecked)
		failures += sum.Failures()
		kindErrors += sum.KindErrors()
	}
	log.Info().
		Str("run_id", runID).
		Int("units", len(summaries)).
		Int("terminated", terminated).
		Int("checked", checked).
		Int("failures", failures).
		Int("kind_errors", kindErrors).
		Bool("check", a.cfg.Sweep.Check).
		Msg("sweep complete")
	return summaries, nil
}

// close releases everything newApp opened.
func (a *app) close() {
	var errs []error
	if a.emitter != nil {
		errs = append(errs, a.emitter.Close())
	}
	if a.journal != nil {
		errs = append(errs, a.journal.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.telemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		errs = append(errs, a.telemetry.Shutdown(ctx))
	}
	if err := errors.Join(errs...); err != nil {
		log.Warn().Err(err).Msg("shutdown")
	}
}

// summaryOutput returns where JSON summaries go, or nil.
func summaryOutput() io.Writer {
	if flagJSON {
		return os.Stdout
	}
	return nil
}
