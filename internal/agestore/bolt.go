package agestore

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

var bucketAges = []byte("ages")

// BoltStore is a single-host Store in a bbolt file. Conditional writes run in
// one read-write transaction, so concurrent sweeps in the same process
// resolve races the same way the DynamoDB store does.
type BoltStore struct {
	db *bbolt.DB
}

// OpenBolt opens or creates the store file at path.
func OpenBolt(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt store: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketAges)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// Get returns the value stored under key.
func (s *BoltStore) Get(_ context.Context, key string) (string, bool, error) {
	var (
		value string
		found bool
	)
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketAges).Get([]byte(key))
		if v != nil {
			value, found = string(v), true
		}
		return nil
	})
	return value, found, err
}

// SetIfAbsent inserts key unless it is already present.
func (s *BoltStore) SetIfAbsent(_ context.Context, key, value string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketAges)
		if b.Get([]byte(key)) != nil {
			return ErrExists
		}
		return b.Put([]byte(key), []byte(value))
	})
}

// Delete removes key.
func (s *BoltStore) Delete(_ context.Context, key string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketAges).Delete([]byte(key))
	})
}

// DeleteBatch removes all keys in one transaction.
func (s *BoltStore) DeleteBatch(_ context.Context, keys []string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketAges)
		for _, k := range keys {
			if err := b.Delete([]byte(k)); err != nil {
				return fmt.Errorf("delete %s: %w", k, err)
			}
		}
		return nil
	})
}

// Scan walks keys in byte order, reading at most limit rows after cursor.
func (s *BoltStore) Scan(_ context.Context, filter Filter, limit int, cursor string) (Page, error) {
	var page Page

	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketAges).Cursor()

		var k, v []byte
		if cursor == "" {
			k, v = c.First()
		} else {
			k, v = c.Seek([]byte(cursor))
			if k != nil && bytes.Equal(k, []byte(cursor)) {
				k, v = c.Next()
			}
		}

		read := 0
		var last []byte
		for ; k != nil; k, v = c.Next() {
			if limit > 0 && read == limit {
				page.Cursor = string(last)
				break
			}
			read++
			last = append(last[:0], k...)
			if filter.Matches(string(v)) {
				page.Records = append(page.Records, Record{Key: string(k), CreatedAt: string(v)})
			}
		}
		return nil
	})

	return page, err
}

// Close closes the database file.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
