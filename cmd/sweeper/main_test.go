package main

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/sweeper/internal/agestore"
	"github.com/yairfalse/sweeper/internal/config"
	"github.com/yairfalse/sweeper/internal/emitter"
	"github.com/yairfalse/sweeper/internal/fanout"
	"github.com/yairfalse/sweeper/internal/filter"
	"github.com/yairfalse/sweeper/internal/journal"
	"github.com/yairfalse/sweeper/internal/sweep"
	"github.com/yairfalse/sweeper/internal/telemetry"
	"github.com/yairfalse/sweeper/pkg/resource"
)

func TestParseStore(t *testing.T) {
	tests := []struct {
		value   string
		want    config.StoreConfig
		wantErr bool
	}{
		{"dynamodb", config.StoreConfig{Backend: "dynamodb"}, false},
		{"dynamodb://custom_table", config.StoreConfig{Backend: "dynamodb", Table: "custom_table"}, false},
		{"bolt:///var/lib/sweeper.db", config.StoreConfig{Backend: "bolt", Path: "/var/lib/sweeper.db"}, false},
		{"memory", config.StoreConfig{Backend: "memory"}, false},
		{"bolt", config.StoreConfig{}, true},
		{"redis://localhost", config.StoreConfig{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			var sc config.StoreConfig
			err := parseStore(tt.value, &sc)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, sc)
		})
	}
}

func TestApplyFlags(t *testing.T) {
	require.NoError(t, rootCmd.ParseFlags([]string{
		"--check",
		"--region", "us-west-2",
		"--region", "eu-west-1",
		"--stage", "dev",
		"--target", "Ec2Instance",
		"--store", "memory",
	}))

	c := config.Default()
	c.Sweep.Force = true
	require.NoError(t, applyFlags(rootCmd, c))

	assert.True(t, c.Sweep.Check)
	assert.True(t, c.Sweep.Force, "unset flags keep file values")
	assert.Equal(t, []string{"us-west-2", "eu-west-1"}, c.AWS.Regions)
	assert.Equal(t, "dev", c.Sweep.Stage)
	assert.Equal(t, []string{"Ec2Instance"}, c.Sweep.Targets)
	assert.Equal(t, config.BackendMemory, c.Store.Backend)
}

func TestStoreTable(t *testing.T) {
	c := config.Default()
	c.AWS.APIName = "ansible-core-ci"
	c.Sweep.Stage = "dev"
	assert.Equal(t, "ansible_core_ci_resources_dev", storeTable(c))

	c.Store.Table = "explicit"
	assert.Equal(t, "explicit", storeTable(c))
}

func TestBuildRegistry(t *testing.T) {
	c := config.Default()
	c.AWS.APIName = "ansible-core-ci"
	c.Sweep.AgeLimits = map[string]time.Duration{"Ec2Instance": 2 * time.Hour}

	reg, err := buildRegistry(c)
	require.NoError(t, err)

	d, ok := reg.Lookup("Ec2Instance")
	require.True(t, ok)
	assert.Equal(t, 2*time.Hour, d.Limit())

	vpc, ok := reg.Lookup("Ec2Vpc")
	require.True(t, ok)
	assert.Equal(t, 40*time.Minute, vpc.Limit())
}

func TestBuildRegistry_UnknownOverride(t *testing.T) {
	c := config.Default()
	c.Sweep.AgeLimits = map[string]time.Duration{"NoSuchKind": time.Hour}

	_, err := buildRegistry(c)
	assert.Error(t, err)
}

func TestBuildFilter(t *testing.T) {
	reg := resource.NewRegistry()
	require.NoError(t, reg.Register(widgetKind("Widget", nil)))

	f, err := buildFilter(reg, []string{"Widget", filter.DatabaseTarget}, nil)
	require.NoError(t, err)
	assert.True(t, f.ShouldSweepKind("Widget"))
	assert.True(t, f.ShouldPurge())

	_, err = buildFilter(reg, []string{"Zeta", "Alpha"}, []string{"Widget"})
	require.Error(t, err)
	assert.Equal(t, "unknown target(s): Alpha, Zeta", err.Error())
}

func TestPrintKinds(t *testing.T) {
	reg := resource.NewRegistry()
	require.NoError(t, reg.Register(widgetKind("Widget", nil)))
	global := widgetKind("GlobalThing", nil)
	global.Global = true
	global.UsesAgeStore = true
	require.NoError(t, reg.Register(global))

	var buf bytes.Buffer
	require.NoError(t, printKinds(&buf, reg))

	out := buf.String()
	assert.Contains(t, out, "KIND")
	assert.Regexp(t, `GlobalThing\s+10m0s\s+age store\s+account`, out)
	assert.Regexp(t, `Widget\s+10m0s\s+creation time\s+region`, out)
}

func TestPrintJournal(t *testing.T) {
	dir := t.TempDir()
	j, err := journal.Open(dir, journal.DefaultPrefix)
	require.NoError(t, err)
	require.NoError(t, j.Append(journal.Entry{
		Type:    journal.EntryTerminated,
		Account: "123456789012",
		Region:  "us-east-1",
		Kind:    "Ec2Volume",
		Name:    "vol-1",
		Age:     "2h0m0s",
	}))
	require.NoError(t, j.Close())

	var buf bytes.Buffer
	require.NoError(t, printJournal(&buf, j.Path()))
	assert.Regexp(t, `terminated\s+123456789012\s+us-east-1\s+Ec2Volume\s+vol-1\s+2h0m0s`, buf.String())
}

func TestRequireJournal(t *testing.T) {
	prev := cfg
	t.Cleanup(func() { cfg = prev })

	cfg = config.Default()
	assert.Error(t, requireJournal(nil, nil))

	cfg.Journal.Dir = t.TempDir()
	assert.NoError(t, requireJournal(nil, nil))
}

// widget is a fake resource for sweeping through the app.
type widget struct {
	name    string
	created time.Time
}

func widgetKind(kind string, terminated *[]string) resource.Descriptor {
	var mu sync.Mutex
	return resource.Descriptor{
		Kind: kind,
		Enumerate: func(context.Context, resource.Session) ([]resource.Record, error) {
			old := time.Now().Add(-2 * time.Hour)
			return []resource.Record{widget{name: "w-old", created: old}, widget{name: "w-new", created: time.Now()}}, nil
		},
		ID:        func(r resource.Record) string { return r.(widget).name },
		Name:      func(r resource.Record) string { return r.(widget).name },
		CreatedAt: func(r resource.Record) (time.Time, bool) { return r.(widget).created, true },
		Terminate: func(_ context.Context, _ resource.Session, r resource.Record) error {
			mu.Lock()
			defer mu.Unlock()
			if terminated != nil {
				*terminated = append(*terminated, r.(widget).name)
			}
			return nil
		},
	}
}

type fakeSession struct {
	account string
	region  string
}

func (s fakeSession) Account() string { return s.account }
func (s fakeSession) Region() string  { return s.region }

type fakeAccount struct {
	fakeSession
	enabled []string
}

func (a *fakeAccount) EnabledRegions(context.Context) ([]string, error) { return a.enabled, nil }

func (a *fakeAccount) InRegion(region string) resource.Session {
	return fakeSession{account: a.account, region: region}
}

type fakeConnector struct {
	caller  string
	account *fakeAccount
}

func (c *fakeConnector) Caller(context.Context) (string, error) { return c.caller, nil }

func (c *fakeConnector) Connect(context.Context, string) (fanout.Account, error) {
	return c.account, nil
}

func testApp(t *testing.T, c *config.Config, reg *resource.Registry, out *bytes.Buffer) *app {
	t.Helper()
	tp, err := telemetry.NewProvider(context.Background(), config.OTELConfig{ServiceName: "sweeper-test"})
	require.NoError(t, err)

	a := &app{
		cfg:       c,
		telemetry: tp,
		registry:  reg,
		store:     agestore.NewMemoryStore(),
		emitter:   emitter.NewMultiEmitter(emitter.NewJSONEmitter(out)),
		connector: &fakeConnector{
			caller: "999999999999",
			account: &fakeAccount{
				fakeSession: fakeSession{account: "123456789012", region: "us-east-1"},
				enabled:     []string{"us-east-1", "us-west-2"},
			},
		},
	}
	t.Cleanup(a.close)
	return a
}

func TestApp_RunSweep(t *testing.T) {
	var terminated []string
	reg := resource.NewRegistry()
	require.NoError(t, reg.Register(widgetKind("Widget", &terminated)))

	c := config.Default()
	c.AWS.Regions = []string{"us-east-1"}
	c.AWS.TestAccountID = "123456789012"

	var out bytes.Buffer
	a := testApp(t, c, reg, &out)

	summaries, err := a.runSweep(context.Background(), filter.New(nil, nil))
	require.NoError(t, err)
	require.Len(t, summaries, 1)

	sum := summaries[0]
	assert.Equal(t, "us-east-1", sum.Region)
	assert.Equal(t, 1, sum.Kinds["Widget"].Counts[resource.StatusTerminated])
	assert.Equal(t, 1, sum.Kinds["Widget"].Counts[resource.StatusSkipped])
	assert.NotNil(t, sum.Purge, "primary unit runs the purge")
	assert.Equal(t, []string{"w-old"}, terminated)

	var emitted sweep.Summary
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(out.Bytes()), &emitted))
	assert.Equal(t, sum.RunID, emitted.RunID)
}

func TestApp_RunSweepAllRegionsOnePrimary(t *testing.T) {
	reg := resource.NewRegistry()
	require.NoError(t, reg.Register(widgetKind("Widget", nil)))

	c := config.Default()
	c.AWS.Regions = []string{fanout.AllRegions}
	c.AWS.PrimaryRegion = "us-west-2"
	c.Sweep.Check = true

	var out bytes.Buffer
	a := testApp(t, c, reg, &out)

	summaries, err := a.runSweep(context.Background(), filter.New(nil, nil))
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	purged := 0
	for _, s := range summaries {
		assert.Equal(t, summaries[0].RunID, s.RunID, "units share one run id")
		assert.Equal(t, 1, s.Kinds["Widget"].Counts[resource.StatusChecked])
		if s.Purge != nil {
			purged++
			assert.Equal(t, "us-west-2", s.Region)
		}
	}
	assert.Equal(t, 1, purged)
}

func TestApp_RunSweepWrongAccount(t *testing.T) {
	reg := resource.NewRegistry()
	require.NoError(t, reg.Register(widgetKind("Widget", nil)))

	c := config.Default()
	c.AWS.LambdaAccountID = "111111111111"

	var out bytes.Buffer
	a := testApp(t, c, reg, &out)

	_, err := a.runSweep(context.Background(), nil)
	require.ErrorIs(t, err, fanout.ErrWrongAccount)
	assert.Empty(t, out.String())
}
