package resource

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var (
	// ErrDuplicateKind is returned when a kind is registered twice.
	ErrDuplicateKind = errors.New("duplicate resource kind")
	// ErrInvalidDescriptor is returned for descriptors missing required capabilities.
	ErrInvalidDescriptor = errors.New("invalid resource descriptor")
)

// Descriptor describes one resource kind: how to list it, identify it, age it
// and delete it. Descriptors are immutable once registered.
type Descriptor struct {
	// Kind is the unique kind name. It namespaces age store keys, so renaming
	// a kind orphans its rows until the bulk purge removes them.
	Kind string

	// AgeLimit is the minimum age for deletion. Zero means DefaultAgeLimit.
	AgeLimit time.Duration

	// UsesAgeStore marks kinds without a native creation time.
	UsesAgeStore bool

	// Global kinds are account-wide and are swept once per account.
	Global bool

	Enumerate func(ctx context.Context, sess Session) ([]Record, error)
	ID        func(r Record) string
	Name      func(r Record) string
	CreatedAt func(r Record) (time.Time, bool)
	Ignore    func(ctx context.Context, sess Session, r Record) bool
	Terminate func(ctx context.Context, sess Session, r Record) error
}

// Limit returns the effective age limit.
func (d *Descriptor) Limit() time.Duration {
	if d.AgeLimit <= 0 {
		return DefaultAgeLimit
	}
	return d.AgeLimit
}

// HasNativeTime reports whether the kind exposes its own creation time.
func (d *Descriptor) HasNativeTime() bool {
	return d.CreatedAt != nil && !d.UsesAgeStore
}

// Validate checks the descriptor carries every required capability.
func (d *Descriptor) Validate() error {
	switch {
	case d.Kind == "":
		return fmt.Errorf("%w: empty kind", ErrInvalidDescriptor)
	case d.Enumerate == nil:
		return fmt.Errorf("%w: %s: missing enumerate", ErrInvalidDescriptor, d.Kind)
	case d.Terminate == nil:
		return fmt.Errorf("%w: %s: missing terminate", ErrInvalidDescriptor, d.Kind)
	case d.Name == nil:
		return fmt.Errorf("%w: %s: missing name", ErrInvalidDescriptor, d.Kind)
	case !d.UsesAgeStore && d.CreatedAt == nil:
		return fmt.Errorf("%w: %s: no creation time and no age store", ErrInvalidDescriptor, d.Kind)
	}
	return nil
}

// Registry is the catalog of resource kinds.
type Registry struct {
	mu    sync.RWMutex
	kinds map[string]*Descriptor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{kinds: make(map[string]*Descriptor)}
}

// Register adds a descriptor. Kinds must be unique.
func (r *Registry) Register(d Descriptor) error {
	if err := d.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.kinds[d.Kind]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateKind, d.Kind)
	}
	r.kinds[d.Kind] = &d
	return nil
}

// RegisterAll registers descriptors in order, stopping at the first error.
func (r *Registry) RegisterAll(ds ...Descriptor) error {
	for _, d := range ds {
		if err := r.Register(d); err != nil {
			return err
		}
	}
	return nil
}

// Lookup returns the descriptor for a kind.
func (r *Registry) Lookup(kind string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.kinds[kind]
	return d, ok
}

// Kinds returns all descriptors sorted by kind name.
func (r *Registry) Kinds() []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Descriptor, 0, len(r.kinds))
	for _, d := range r.kinds {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}

// Names returns the sorted kind names.
func (r *Registry) Names() []string {
	kinds := r.Kinds()
	names := make([]string, len(kinds))
	for i, d := range kinds {
		names[i] = d.Kind
	}
	return names
}

// Len returns the number of registered kinds.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.kinds)
}

// SetAgeLimit overrides the age limit of a registered kind.
func (r *Registry) SetAgeLimit(kind string, limit time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.kinds[kind]
	if !ok {
		return fmt.Errorf("unknown resource kind %q", kind)
	}
	if limit <= 0 {
		return fmt.Errorf("age limit for %s must be positive", kind)
	}
	cp := *d
	cp.AgeLimit = limit
	r.kinds[kind] = &cp
	return nil
}
