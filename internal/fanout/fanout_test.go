package fanout

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/sweeper/internal/sweep"
	"github.com/yairfalse/sweeper/pkg/resource"
)

type regionSession struct {
	account string
	region  string
}

func (s regionSession) Account() string { return s.account }
func (s regionSession) Region() string  { return s.region }

// mockAccount implements Account for testing.
type mockAccount struct {
	regionSession
	enabled    []string
	enabledErr error
}

func (m *mockAccount) EnabledRegions(_ context.Context) ([]string, error) {
	return m.enabled, m.enabledErr
}

func (m *mockAccount) InRegion(region string) resource.Session {
	return regionSession{account: m.account, region: region}
}

// mockConnector implements Connector for testing.
type mockConnector struct {
	caller     string
	callerErr  error
	account    *mockAccount
	connectErr error
	requested  string
}

func (m *mockConnector) Caller(_ context.Context) (string, error) {
	return m.caller, m.callerErr
}

func (m *mockConnector) Connect(_ context.Context, account string) (Account, error) {
	m.requested = account
	if m.connectErr != nil {
		return nil, m.connectErr
	}
	return m.account, nil
}

// recordingSweeper records every unit it ran.
type recordingSweeper struct {
	mu       sync.Mutex
	primary  map[string]bool
	running  atomic.Int32
	peak     atomic.Int32
	delay    time.Duration
	panicsIn string
}

func newRecordingSweeper() *recordingSweeper {
	return &recordingSweeper{primary: make(map[string]bool)}
}

func (r *recordingSweeper) factory() SweeperFunc {
	return func(primary bool) Sweeper {
		return unitSweeper{parent: r, primary: primary}
	}
}

type unitSweeper struct {
	parent  *recordingSweeper
	primary bool
}

func (u unitSweeper) Run(_ context.Context, sess resource.Session) *sweep.Summary {
	r := u.parent
	n := r.running.Add(1)
	defer r.running.Add(-1)
	for {
		peak := r.peak.Load()
		if n <= peak || r.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	if sess.Region() == r.panicsIn {
		panic("boom")
	}
	time.Sleep(r.delay)

	r.mu.Lock()
	r.primary[sess.Region()] = u.primary
	r.mu.Unlock()
	return &sweep.Summary{Account: sess.Account(), Region: sess.Region()}
}

func testAccount() *mockAccount {
	return &mockAccount{regionSession: regionSession{account: "123456789012", region: "us-east-1"}}
}

func regionsOf(summaries []*sweep.Summary) []string {
	out := make([]string, len(summaries))
	for i, s := range summaries {
		out[i] = s.Region
	}
	return out
}

func TestRun_RegionsSortedWithOnePrimary(t *testing.T) {
	rec := newRecordingSweeper()
	conn := &mockConnector{account: testAccount()}

	f := New(conn, rec.factory(), Options{
		Account:       "123456789012",
		Regions:       []string{"us-west-2", "us-east-1", "eu-west-1", "us-east-1"},
		PrimaryRegion: "us-east-1",
		Concurrency:   2,
	}).WithLogger(zerolog.Nop())

	summaries, err := f.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "123456789012", conn.requested)
	assert.Equal(t, []string{"eu-west-1", "us-east-1", "us-west-2"}, regionsOf(summaries))
	assert.Equal(t, map[string]bool{"eu-west-1": false, "us-east-1": true, "us-west-2": false}, rec.primary)
}

func TestRun_PrimaryFallsBackToFirstRegion(t *testing.T) {
	rec := newRecordingSweeper()
	f := New(&mockConnector{account: testAccount()}, rec.factory(), Options{
		Regions:       []string{"us-west-2", "eu-west-1"},
		PrimaryRegion: "us-east-1",
	}).WithLogger(zerolog.Nop())

	_, err := f.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"eu-west-1": true, "us-west-2": false}, rec.primary)
}

func TestRun_AllRegions(t *testing.T) {
	account := testAccount()
	account.enabled = []string{"ap-south-1", "us-east-1"}

	rec := newRecordingSweeper()
	f := New(&mockConnector{account: account}, rec.factory(), Options{
		Regions:       []string{AllRegions},
		PrimaryRegion: "us-east-1",
	}).WithLogger(zerolog.Nop())

	summaries, err := f.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"ap-south-1", "us-east-1"}, regionsOf(summaries))
}

func TestRun_AllRegionsLookupFails(t *testing.T) {
	account := testAccount()
	account.enabledErr = errors.New("access denied")

	f := New(&mockConnector{account: account}, newRecordingSweeper().factory(), Options{
		Regions: []string{AllRegions},
	}).WithLogger(zerolog.Nop())

	_, err := f.Run(context.Background())
	assert.ErrorContains(t, err, "access denied")
}

func TestRun_DefaultsToSessionRegion(t *testing.T) {
	f := New(&mockConnector{account: testAccount()}, newRecordingSweeper().factory(), Options{}).
		WithLogger(zerolog.Nop())

	summaries, err := f.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"us-east-1"}, regionsOf(summaries))
}

func TestRun_WrongAccount(t *testing.T) {
	conn := &mockConnector{caller: "999999999999", account: testAccount()}
	f := New(conn, newRecordingSweeper().factory(), Options{LambdaAccount: "111111111111"}).
		WithLogger(zerolog.Nop())

	_, err := f.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrWrongAccount)
	assert.Empty(t, conn.requested, "must not connect from the wrong account")
}

func TestRun_LambdaAccountMatches(t *testing.T) {
	conn := &mockConnector{caller: "111111111111", account: testAccount()}
	f := New(conn, newRecordingSweeper().factory(), Options{
		Account:       "123456789012",
		LambdaAccount: "111111111111",
	}).WithLogger(zerolog.Nop())

	_, err := f.Run(context.Background())
	assert.NoError(t, err)
}

func TestRun_SetupErrors(t *testing.T) {
	tests := []struct {
		name string
		conn *mockConnector
		opts Options
		want string
	}{
		{
			name: "caller lookup",
			conn: &mockConnector{callerErr: errors.New("no credentials")},
			opts: Options{LambdaAccount: "111111111111"},
			want: "resolve caller account",
		},
		{
			name: "connect",
			conn: &mockConnector{connectErr: errors.New("assume role denied")},
			opts: Options{Account: "123456789012"},
			want: "connect account 123456789012",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := New(tt.conn, newRecordingSweeper().factory(), tt.opts).WithLogger(zerolog.Nop())
			_, err := f.Run(context.Background())
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestRun_ConcurrencyLimit(t *testing.T) {
	rec := newRecordingSweeper()
	rec.delay = 20 * time.Millisecond

	f := New(&mockConnector{account: testAccount()}, rec.factory(), Options{
		Regions:     []string{"a", "b", "c", "d", "e", "f"},
		Concurrency: 2,
	}).WithLogger(zerolog.Nop())

	summaries, err := f.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, summaries, 6)
	assert.LessOrEqual(t, rec.peak.Load(), int32(2))
}

func TestRun_UnitPanicIsolated(t *testing.T) {
	rec := newRecordingSweeper()
	rec.panicsIn = "us-west-2"

	f := New(&mockConnector{account: testAccount()}, rec.factory(), Options{
		Regions: []string{"us-east-1", "us-west-2"},
	}).WithLogger(zerolog.Nop())

	summaries, err := f.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"us-east-1"}, regionsOf(summaries))
}

func TestNew_MinimumConcurrency(t *testing.T) {
	f := New(&mockConnector{}, nil, Options{Concurrency: 0})
	assert.Equal(t, 1, f.opts.Concurrency)
}
