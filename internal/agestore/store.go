// Package agestore records first-seen times for resources that expose no
// native creation timestamp.
package agestore

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// TimeLayout is the stored timestamp format (ISO-8601, UTC, whole seconds).
const TimeLayout = "2006-01-02T15:04:05-07:00"

// ErrExists is returned by SetIfAbsent when the key is already present.
var ErrExists = errors.New("age store key already exists")

// Record is one stored row.
type Record struct {
	Key       string
	CreatedAt string
}

// Filter selects rows during a scan.
type Filter struct {
	// Before selects rows created strictly before this time.
	// The zero value selects every row.
	Before time.Time
}

// Matches reports whether a stored timestamp passes the filter. Unparseable
// timestamps always match so corrupt rows get purged.
func (f Filter) Matches(createdAt string) bool {
	if f.Before.IsZero() {
		return true
	}
	t, err := ParseTime(createdAt)
	if err != nil {
		return true
	}
	return t.Before(f.Before)
}

// Page is one scan result page. An empty Cursor means the scan is exhausted.
type Page struct {
	Records []Record
	Cursor  string
}

// Store is the durable key to creation-time mapping.
type Store interface {
	// Get returns the stored value and whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)
	// SetIfAbsent writes value unless key exists, in which case ErrExists is returned.
	SetIfAbsent(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	DeleteBatch(ctx context.Context, keys []string) error
	// Scan reads at most limit rows after cursor and returns the matching ones.
	Scan(ctx context.Context, filter Filter, limit int, cursor string) (Page, error)
	Close() error
}

// Key builds the namespaced store key for a resource.
func Key(kind, identity string) string {
	return kind + ":" + identity
}

// FormatTime renders t in the stored layout.
func FormatTime(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(TimeLayout)
}

// ParseTime parses a stored timestamp. Both "+00:00" and "Z" offsets are accepted.
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored time %q: %w", s, err)
	}
	return t.UTC(), nil
}
