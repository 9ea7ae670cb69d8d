package resource

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type widget struct {
	id   string
	name string
}

func testDescriptor(kind string) Descriptor {
	return Descriptor{
		Kind:         kind,
		AgeLimit:     10 * time.Minute,
		UsesAgeStore: true,
		Enumerate:    func(context.Context, Session) ([]Record, error) { return nil, nil },
		ID:           func(r Record) string { return r.(widget).id },
		Name:         func(r Record) string { return r.(widget).name },
		Terminate:    func(context.Context, Session, Record) error { return nil },
	}
}

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newAged(t *testing.T, age time.Duration) *Instance {
	t.Helper()
	d := testDescriptor("Widget")
	inst := NewInstance(&d, widget{id: "w1", name: "one"}, t0.Add(age))
	inst.SetCreatedAt(t0)
	return inst
}

func TestInstance_StaleBoundary(t *testing.T) {
	assert.False(t, newAged(t, 10*time.Minute).Stale(), "age == limit is not stale")
	assert.True(t, newAged(t, 10*time.Minute+time.Second).Stale())
	assert.False(t, newAged(t, 0).Stale())
}

func TestInstance_UnresolvedAge(t *testing.T) {
	d := testDescriptor("Widget")
	inst := NewInstance(&d, widget{id: "w1"}, t0)

	_, ok := inst.Age()
	assert.False(t, ok)
	assert.False(t, inst.Stale())
	assert.Contains(t, inst.String(), "age=None")
}

func TestInstance_TruncatesObservationTime(t *testing.T) {
	d := testDescriptor("Widget")
	inst := NewInstance(&d, widget{id: "w1"}, t0.Add(750*time.Millisecond))
	assert.Equal(t, t0, inst.Now)
}

func TestInstance_StoreIdentity(t *testing.T) {
	d := testDescriptor("Widget")
	assert.Equal(t, "w1", NewInstance(&d, widget{id: "w1", name: "n"}, t0).StoreIdentity())
	assert.Equal(t, "n", NewInstance(&d, widget{name: "n"}, t0).StoreIdentity())
}

func TestDecide(t *testing.T) {
	tests := []struct {
		name     string
		ignore   bool
		force    bool
		age      *time.Duration
		expected Disposition
	}{
		{"ignored beats force", true, true, ptr(time.Hour), DispositionIgnore},
		{"ignored without age", true, false, nil, DispositionIgnore},
		{"force beats unsupported", false, true, nil, DispositionTerminate},
		{"force beats young", false, true, ptr(time.Second), DispositionTerminate},
		{"unknown age", false, false, nil, DispositionUnsupported},
		{"stale", false, false, ptr(11 * time.Minute), DispositionTerminate},
		{"young", false, false, ptr(time.Minute), DispositionSkip},
		{"zero age", false, false, ptr(0), DispositionSkip},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := testDescriptor("Widget")
			inst := NewInstance(&d, widget{id: "w1"}, t0)
			inst.Ignore = tt.ignore
			if tt.age != nil {
				inst.SetCreatedAt(t0.Add(-*tt.age))
			}
			assert.Equal(t, tt.expected, Decide(inst, tt.force))
		})
	}
}

func TestDecide_ForceNeverSkipsOrUnsupported(t *testing.T) {
	d := testDescriptor("Widget")
	ages := []*time.Duration{nil, ptr(0), ptr(time.Minute), ptr(time.Hour)}
	for _, age := range ages {
		inst := NewInstance(&d, widget{id: "w1"}, t0)
		if age != nil {
			inst.SetCreatedAt(t0.Add(-*age))
		}
		got := Decide(inst, true)
		assert.NotEqual(t, DispositionSkip, got)
		assert.NotEqual(t, DispositionUnsupported, got)
	}
}

func TestRegistry_SortedAndUnique(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterAll(testDescriptor("Zeta"), testDescriptor("Alpha"), testDescriptor("Mid")))

	assert.Equal(t, []string{"Alpha", "Mid", "Zeta"}, r.Names())

	err := r.Register(testDescriptor("Mid"))
	assert.ErrorIs(t, err, ErrDuplicateKind)
	assert.Equal(t, 3, r.Len())
}

func TestRegistry_RejectsMisconfiguredDescriptor(t *testing.T) {
	r := NewRegistry()

	d := testDescriptor("NoTime")
	d.UsesAgeStore = false
	assert.ErrorIs(t, r.Register(d), ErrInvalidDescriptor)

	d = testDescriptor("NoTerminate")
	d.Terminate = nil
	assert.ErrorIs(t, r.Register(d), ErrInvalidDescriptor)

	assert.ErrorIs(t, r.Register(testDescriptor("")), ErrInvalidDescriptor)
}

func TestRegistry_SetAgeLimit(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(testDescriptor("Widget")))

	require.NoError(t, r.SetAgeLimit("Widget", time.Hour))
	d, ok := r.Lookup("Widget")
	require.True(t, ok)
	assert.Equal(t, time.Hour, d.Limit())

	assert.Error(t, r.SetAgeLimit("Missing", time.Hour))
	assert.Error(t, r.SetAgeLimit("Widget", 0))
}

func TestDescriptor_DefaultLimit(t *testing.T) {
	d := testDescriptor("Widget")
	d.AgeLimit = 0
	assert.Equal(t, DefaultAgeLimit, d.Limit())
}

func TestKindOf(t *testing.T) {
	throttled := &ProviderError{Kind: ErrorRateLimited, Code: "TooManyRequestsException", Message: "slow down"}
	wrapped := fmt.Errorf("delete topic: %w", throttled)

	assert.Equal(t, ErrorRateLimited, KindOf(wrapped))
	assert.Equal(t, "TooManyRequestsException", CodeOf(wrapped))
	assert.Equal(t, ErrorOther, KindOf(errors.New("boom")))
	assert.Equal(t, "", CodeOf(errors.New("boom")))
	assert.Equal(t, "TooManyRequestsException: slow down", throttled.Error())
}

func ptr(d time.Duration) *time.Duration { return &d }
