// Package resource defines the resource model shared by the sweep engine and
// the provider plugins: kind descriptors, per-sweep instances and dispositions.
package resource

import (
	"fmt"
	"strings"
	"time"
)

// DefaultAgeLimit applies to kinds that do not set their own limit.
const DefaultAgeLimit = 10 * time.Minute

// Record is a raw provider-returned value (e.g. an ec2 Instance).
type Record any

// Session is the scoped provider handle one sweep unit owns.
// Plugins hand their own concrete session to the descriptors they register.
type Session interface {
	Account() string
	Region() string
}

// Instance is one enumerated resource within one sweep. It is never persisted.
type Instance struct {
	Kind   *Descriptor
	Raw    Record
	ID     string
	Name   string
	Ignore bool

	// Now is the observation time, truncated to whole seconds.
	Now time.Time

	createdAt time.Time
	resolved  bool

	// Age store bookkeeping, set only for kinds tracked in the store.
	StoreKey   string
	StoreValue string
}

// NewInstance wraps a raw record. Age is unresolved until SetCreatedAt.
func NewInstance(kind *Descriptor, raw Record, now time.Time) *Instance {
	inst := &Instance{
		Kind: kind,
		Raw:  raw,
		Now:  now.UTC().Truncate(time.Second),
	}
	if kind.ID != nil {
		inst.ID = kind.ID(raw)
	}
	inst.Name = kind.Name(raw)
	return inst
}

// SetCreatedAt resolves the creation time.
func (i *Instance) SetCreatedAt(t time.Time) {
	i.createdAt = t.UTC()
	i.resolved = true
}

// CreatedAt returns the resolved creation time.
func (i *Instance) CreatedAt() (time.Time, bool) {
	return i.createdAt, i.resolved
}

// Age returns now - createdAt, or false when the creation time is unknown.
func (i *Instance) Age() (time.Duration, bool) {
	if !i.resolved {
		return 0, false
	}
	return i.Now.Sub(i.createdAt), true
}

// Stale reports whether the age strictly exceeds the kind's limit.
func (i *Instance) Stale() bool {
	age, ok := i.Age()
	if !ok {
		return false
	}
	return age > i.Kind.Limit()
}

// StoreIdentity is the identity used in age store keys: ID, else Name.
func (i *Instance) StoreIdentity() string {
	if i.ID != "" {
		return i.ID
	}
	return i.Name
}

func (i *Instance) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: name=%s, ", i.Kind.Kind, i.Name)
	if i.ID != "" {
		fmt.Fprintf(&b, "id=%s ", i.ID)
	}
	if age, ok := i.Age(); ok {
		fmt.Fprintf(&b, "age=%s, ", age)
	} else {
		b.WriteString("age=None, ")
	}
	fmt.Fprintf(&b, "stale=%t", i.Stale())
	return b.String()
}

// Disposition is the action computed for one instance in one sweep.
type Disposition string

const (
	DispositionIgnore      Disposition = "ignore"
	DispositionTerminate   Disposition = "terminate"
	DispositionUnsupported Disposition = "unsupported"
	DispositionSkip        Disposition = "skip"
)

// Decide applies the disposition precedence: ignore, force, unknown age,
// staleness. Force never overrides ignore.
func Decide(inst *Instance, force bool) Disposition {
	switch {
	case inst.Ignore:
		return DispositionIgnore
	case force:
		return DispositionTerminate
	}
	if _, ok := inst.Age(); !ok {
		return DispositionUnsupported
	}
	if inst.Stale() {
		return DispositionTerminate
	}
	return DispositionSkip
}

// Status is the reported outcome for one instance or store row.
type Status string

const (
	StatusChecked     Status = "checked"
	StatusTerminated  Status = "terminated"
	StatusUnsupported Status = "unsupported"
	StatusIgnored     Status = "ignored"
	StatusSkipped     Status = "skipped"
	StatusPurged      Status = "purged"
)

// StatusOf maps a non-terminate disposition to its status.
func StatusOf(d Disposition) Status {
	switch d {
	case DispositionIgnore:
		return StatusIgnored
	case DispositionUnsupported:
		return StatusUnsupported
	case DispositionSkip:
		return StatusSkipped
	default:
		return StatusTerminated
	}
}
