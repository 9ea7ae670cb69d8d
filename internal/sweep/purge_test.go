package sweep

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/sweeper/internal/agestore"
	"github.com/yairfalse/sweeper/pkg/resource"
)

func purgeStores() map[string]func(t *testing.T) agestore.Store {
	return map[string]func(t *testing.T) agestore.Store{
		"memory": func(*testing.T) agestore.Store { return agestore.NewMemoryStore() },
		"bolt": func(t *testing.T) agestore.Store {
			s, err := agestore.OpenBolt(filepath.Join(t.TempDir(), "ages.db"))
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}
}

func storedKeys(t *testing.T, s agestore.Store) []string {
	t.Helper()
	page, err := s.Scan(context.Background(), agestore.Filter{}, 0, "")
	require.NoError(t, err)
	keys := make([]string, 0, len(page.Records))
	for _, rec := range page.Records {
		keys = append(keys, rec.Key)
	}
	sort.Strings(keys)
	return keys
}

// seedRows stores seven rows older than the purge threshold, one exactly at
// it and two younger ones.
func seedRows(t *testing.T, s agestore.Store) {
	t.Helper()
	ctx := context.Background()
	for i := range 7 {
		require.NoError(t, s.SetIfAbsent(ctx, fmt.Sprintf("Thing:old-%d", i), agestore.FormatTime(t0.Add(-90*time.Minute))))
	}
	require.NoError(t, s.SetIfAbsent(ctx, "Thing:edge", agestore.FormatTime(t0.Add(-60*time.Minute))))
	require.NoError(t, s.SetIfAbsent(ctx, "Thing:young-0", agestore.FormatTime(t0.Add(-30*time.Minute))))
	require.NoError(t, s.SetIfAbsent(ctx, "Thing:young-1", agestore.FormatTime(t0.Add(-59*time.Minute))))
}

func TestPurge(t *testing.T) {
	survivors := []string{"Thing:edge", "Thing:young-0", "Thing:young-1"}
	all := append([]string{}, survivors...)
	for i := range 7 {
		all = append(all, fmt.Sprintf("Thing:old-%d", i))
	}
	sort.Strings(all)

	tests := []struct {
		name        string
		opts        Options
		wantPurged  int
		wantChecked int
		wantLeft    []string
	}{
		{
			name:       "live keeps rows younger than the threshold",
			opts:       Options{PurgeBatchSize: 3},
			wantPurged: 7,
			wantLeft:   survivors,
		},
		{
			name:       "force purges young rows too",
			opts:       Options{Force: true, PurgeBatchSize: 3},
			wantPurged: 10,
			wantLeft:   []string{},
		},
		{
			name:        "check only counts",
			opts:        Options{Check: true, PurgeBatchSize: 3},
			wantChecked: 7,
			wantLeft:    all,
		},
		{
			name:       "single page",
			opts:       Options{PurgeBatchSize: 100},
			wantPurged: 7,
			wantLeft:   survivors,
		},
	}

	for storeName, newStore := range purgeStores() {
		for _, tt := range tests {
			t.Run(storeName+"/"+tt.name, func(t *testing.T) {
				store := newStore(t)
				seedRows(t, store)

				opts := tt.opts
				opts.Primary = true
				e := newEngine(t, resource.NewRegistry(), store, opts, &clock{now: t0})

				sum := e.Run(context.Background(), testSession{})
				require.NotNil(t, sum.Purge)
				assert.Empty(t, sum.Purge.Err)
				assert.Equal(t, tt.wantPurged, sum.Purge.Purged)
				assert.Equal(t, tt.wantChecked, sum.Purge.Checked)
				assert.Equal(t, tt.wantLeft, storedKeys(t, store))
			})
		}
	}
}

func TestPurge_PagesThroughEveryRow(t *testing.T) {
	for storeName, newStore := range purgeStores() {
		t.Run(storeName, func(t *testing.T) {
			store := newStore(t)
			seedRows(t, store)

			j := &memJournal{}
			e := newEngine(t, resource.NewRegistry(), store, Options{PurgeBatchSize: 2}, &clock{now: t0}, WithJournal(j))

			result := e.Purge(context.Background())
			assert.Equal(t, 7, result.Purged)
			assert.GreaterOrEqual(t, result.Pages, 5, "ten rows read two at a time")
			assert.Len(t, j.entries, 7)
			assert.Len(t, storedKeys(t, store), 3)
		})
	}
}
