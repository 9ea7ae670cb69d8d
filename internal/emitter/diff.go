package emitter

import (
	"slices"
	"sync"

	"github.com/yairfalse/sweeper/internal/sweep"
)

// Repeat is an instance reported terminated in two consecutive sweeps of
// the same unit. Termination is reported optimistically, so a repeat means
// the earlier delete did not take effect.
type Repeat struct {
	Account  string
	Region   string
	Kind     string
	Identity string
}

// RepeatTracker remembers what each unit terminated in its last sweep.
type RepeatTracker struct {
	mu       sync.RWMutex
	previous map[unitKind]map[string]bool
	seen     map[unit]bool
}

type unit struct {
	account string
	region  string
}

type unitKind struct {
	unit
	kind string
}

// NewRepeatTracker creates a new tracker.
func NewRepeatTracker() *RepeatTracker {
	return &RepeatTracker{
		previous: make(map[unitKind]map[string]bool),
		seen:     make(map[unit]bool),
	}
}

// ComputeRepeats compares the summary against the previous sweep of the
// same unit. Returns nil on the unit's first sweep (baseline establishment)
// and an empty slice when nothing repeated. Check-mode summaries never
// terminate anything and are ignored.
func (r *RepeatTracker) ComputeRepeats(sum *sweep.Summary) []Repeat {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u := unit{account: sum.Account, region: sum.Region}
	if !r.seen[u] || sum.Check {
		return nil
	}

	repeats := make([]Repeat, 0)
	for _, kind := range sortedKinds(sum) {
		prev := r.previous[unitKind{unit: u, kind: kind}]
		for _, id := range sum.Kinds[kind].Terminated {
			if prev[id] {
				repeats = append(repeats, Repeat{Account: sum.Account, Region: sum.Region, Kind: kind, Identity: id})
			}
		}
	}
	return repeats
}

// Update stores the summary's terminations as the unit's new baseline.
// Kinds absent from the summary, such as those filtered out, keep their
// previous baseline.
func (r *RepeatTracker) Update(sum *sweep.Summary) {
	if sum.Check {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	u := unit{account: sum.Account, region: sum.Region}
	for kind, kr := range sum.Kinds {
		ids := make(map[string]bool, len(kr.Terminated))
		for _, id := range kr.Terminated {
			ids[id] = true
		}
		r.previous[unitKind{unit: u, kind: kind}] = ids
	}
	r.seen[u] = true
}

func sortedKinds(sum *sweep.Summary) []string {
	kinds := make([]string, 0, len(sum.Kinds))
	for kind := range sum.Kinds {
		kinds = append(kinds, kind)
	}
	slices.Sort(kinds)
	return kinds
}
