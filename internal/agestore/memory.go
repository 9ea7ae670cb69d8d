package agestore

import (
	"context"
	"sync"

	"github.com/google/btree"
)

// MemoryStore is an in-process Store backed by an ordered btree.
// It serves check-only runs and tests.
type MemoryStore struct {
	mu   sync.Mutex
	tree *btree.BTreeG[Record]
}

// NewMemoryStore creates an empty memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tree: btree.NewG[Record](32, func(a, b Record) bool {
			return a.Key < b.Key
		}),
	}
}

// Get returns the value stored under key.
func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.tree.Get(Record{Key: key})
	if !ok {
		return "", false, nil
	}
	return rec.CreatedAt, true, nil
}

// SetIfAbsent inserts key unless it is already present.
func (s *MemoryStore) SetIfAbsent(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tree.Has(Record{Key: key}) {
		return ErrExists
	}
	s.tree.ReplaceOrInsert(Record{Key: key, CreatedAt: value})
	return nil
}

// Delete removes key. Missing keys are not an error.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tree.Delete(Record{Key: key})
	return nil
}

// DeleteBatch removes all keys.
func (s *MemoryStore) DeleteBatch(ctx context.Context, keys []string) error {
	for _, k := range keys {
		if err := s.Delete(ctx, k); err != nil {
			return err
		}
	}
	return nil
}

// Scan walks keys in order, reading at most limit rows after cursor.
func (s *MemoryStore) Scan(_ context.Context, filter Filter, limit int, cursor string) (Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		page Page
		read int
		last string
	)
	visit := func(rec Record) bool {
		if rec.Key == cursor {
			return true
		}
		if limit > 0 && read == limit {
			page.Cursor = last
			return false
		}
		read++
		last = rec.Key
		if filter.Matches(rec.CreatedAt) {
			page.Records = append(page.Records, rec)
		}
		return true
	}

	if cursor == "" {
		s.tree.Ascend(visit)
	} else {
		s.tree.AscendGreaterOrEqual(Record{Key: cursor}, visit)
	}
	return page, nil
}

// Len returns the number of stored rows.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.Len()
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}
