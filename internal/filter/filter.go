// Package filter selects which resource kinds a sweep visits.
package filter

import "strings"

// DatabaseTarget selects the bulk age store purge pass.
const DatabaseTarget = "Database"

// Filter controls which kinds to sweep and whether the purge pass runs.
type Filter struct {
	includeKinds map[string]bool
	excludeKinds map[string]bool
}

// New creates a Filter. An empty include list selects every kind and the
// purge pass; otherwise only the named kinds (and Database, if named) run.
func New(include, exclude []string) *Filter {
	return &Filter{
		includeKinds: toSet(include),
		excludeKinds: toSet(exclude),
	}
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item != "" {
			set[item] = true
		}
	}
	return set
}

// ShouldSweepKind returns true if the kind should be enumerated.
func (f *Filter) ShouldSweepKind(kind string) bool {
	if f == nil {
		return true
	}
	if f.excludeKinds[kind] {
		return false
	}
	return len(f.includeKinds) == 0 || f.includeKinds[kind]
}

// ShouldPurge returns true if the age store purge pass should run.
func (f *Filter) ShouldPurge() bool {
	return f.ShouldSweepKind(DatabaseTarget)
}

// Unknown returns include targets that name neither a known kind nor Database.
func (f *Filter) Unknown(known []string) []string {
	if f == nil {
		return nil
	}
	valid := toSet(known)
	valid[DatabaseTarget] = true

	var unknown []string
	for kind := range f.includeKinds {
		if !valid[kind] {
			unknown = append(unknown, kind)
		}
	}
	for kind := range f.excludeKinds {
		if !valid[kind] {
			unknown = append(unknown, kind)
		}
	}
	return unknown
}

// IsEmpty returns true if no filters are configured.
func (f *Filter) IsEmpty() bool {
	return f == nil || (len(f.includeKinds) == 0 && len(f.excludeKinds) == 0)
}
