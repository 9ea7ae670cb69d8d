// Package fanout expands one account into regional sweep units and runs
// them concurrently.
package fanout

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"slices"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/yairfalse/sweeper/internal/sweep"
	"github.com/yairfalse/sweeper/pkg/resource"
)

// AllRegions selects every region enabled for the account.
const AllRegions = "all"

// ErrWrongAccount is returned when the base credentials do not belong to
// the account the sweeper must run from.
var ErrWrongAccount = errors.New("sweeper must run from the configured lambda account")

// Account is a connected account that can be split into regional sessions.
type Account interface {
	resource.Session
	EnabledRegions(ctx context.Context) ([]string, error)
	InRegion(region string) resource.Session
}

// Connector opens accounts.
type Connector interface {
	// Caller returns the account the base credentials belong to.
	Caller(ctx context.Context) (string, error)
	// Connect opens account, or the caller's own account when empty.
	Connect(ctx context.Context, account string) (Account, error)
}

// Sweeper runs one sweep unit.
type Sweeper interface {
	Run(ctx context.Context, sess resource.Session) *sweep.Summary
}

// SweeperFunc builds the sweeper for a unit. primary is true for exactly
// one unit per account.
type SweeperFunc func(primary bool) Sweeper

// Options controls a fan-out.
type Options struct {
	// Account is the test account to sweep; empty sweeps the caller's own.
	Account string
	// LambdaAccount, when set, must equal the caller account.
	LambdaAccount string

	// Regions to sweep; "all" expands to every enabled region.
	Regions       []string
	PrimaryRegion string

	Concurrency int
}

// Fanout runs sweep units across regions.
type Fanout struct {
	connector Connector
	sweeper   SweeperFunc
	opts      Options
	logger    zerolog.Logger
}

// New creates a fan-out.
func New(connector Connector, sweeper SweeperFunc, opts Options) *Fanout {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &Fanout{
		connector: connector,
		sweeper:   sweeper,
		opts:      opts,
		logger:    log.With().Str("component", "fanout").Logger(),
	}
}

// WithLogger replaces the logger.
func (f *Fanout) WithLogger(l zerolog.Logger) *Fanout {
	f.logger = l
	return f
}

// Run connects, resolves regions and sweeps every region. Setup failures
// are returned; sweep failures are reported in the summaries, which are
// sorted by region.
func (f *Fanout) Run(ctx context.Context) ([]*sweep.Summary, error) {
	if f.opts.LambdaAccount != "" {
		caller, err := f.connector.Caller(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolve caller account: %w", err)
		}
		if caller != f.opts.LambdaAccount {
			return nil, fmt.Errorf("%w: %s (caller is %s)", ErrWrongAccount, f.opts.LambdaAccount, caller)
		}
	}

	account, err := f.connector.Connect(ctx, f.opts.Account)
	if err != nil {
		return nil, fmt.Errorf("connect account %s: %w", f.opts.Account, err)
	}

	regions, err := f.regions(ctx, account)
	if err != nil {
		return nil, err
	}
	primary := primaryRegion(regions, f.opts.PrimaryRegion)

	f.logger.Info().
		Str("account", account.Account()).
		Strs("regions", regions).
		Str("primary", primary).
		Int("concurrency", f.opts.Concurrency).
		Msg("starting sweep")

	var (
		mu        sync.Mutex
		summaries []*sweep.Summary
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.opts.Concurrency)
	for _, region := range regions {
		g.Go(func() error {
			sum := f.runUnit(gctx, account.InRegion(region), region == primary)
			if sum != nil {
				mu.Lock()
				summaries = append(summaries, sum)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(summaries, func(i, j int) bool { return summaries[i].Region < summaries[j].Region })
	return summaries, nil
}

// runUnit sweeps one region. A panic outside the per-kind isolation is
// contained to the unit.
func (f *Fanout) runUnit(ctx context.Context, sess resource.Session, primary bool) (sum *sweep.Summary) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error().
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Str("region", sess.Region()).
				Msg("sweep unit panicked")
			sum = nil
		}
	}()
	return f.sweeper(primary).Run(ctx, sess)
}

func (f *Fanout) regions(ctx context.Context, account Account) ([]string, error) {
	if !slices.Contains(f.opts.Regions, AllRegions) {
		regions := slices.Clone(f.opts.Regions)
		if len(regions) == 0 {
			regions = []string{account.Region()}
		}
		sort.Strings(regions)
		return slices.Compact(regions), nil
	}

	regions, err := account.EnabledRegions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list enabled regions: %w", err)
	}
	if len(regions) == 0 {
		return nil, errors.New("no enabled regions")
	}
	return regions, nil
}

// primaryRegion picks the unit that sweeps global kinds: the configured
// primary when it is swept, otherwise the first region.
func primaryRegion(regions []string, preferred string) string {
	if slices.Contains(regions, preferred) {
		return preferred
	}
	return regions[0]
}
