// Package fetchcache implements the content-addressed fetch cache
// (spec §4.7): fetched bytes are kept as plain files named by their NAR
// hash under the cache directory, and fetch-manifest records are kept in
// a Store; there are no separate tree-metadata records. The cache is
// fronted by single-flight coalescing and a circuit-breaking HTTP
// fetcher ported from the teacher's fetch package.
package fetchcache

import (
	"bytes"
	"fmt"

	"go.etcd.io/bbolt"
)

// Store is the narrow key/value capability the fetch-manifest records
// are kept in (blob content is stored as files, not through a Store),
// grounded on
// oneconcern-datamon's pkg/storage.Store interface — the same
// has/get/put/delete/keys/clear shape, here backed by an embedded KV
// engine instead of datamon's pluggable local/GCS backends since the
// fetch cache is a single-machine, single-writer store (spec §8 "single
// writer that holds an advisory file lock").
type Store interface {
	Has(key string) (bool, error)
	Get(key string) ([]byte, error)
	Put(key string, value []byte) error
	Delete(key string) error
	Keys(prefix string) ([]string, error)
	Clear() error
}

// BoltStore is a Store backed by go.etcd.io/bbolt, a single embedded
// file; each BoltStore is scoped to one bucket.
type BoltStore struct {
	db     *bbolt.DB
	bucket []byte
}

// OpenBoltStore opens (creating if absent) the bbolt database at path
// and returns a Store scoped to bucket.
func OpenBoltStore(path string, bucket string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, err
	}
	b := []byte(bucket)
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(b)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltStore{db: db, bucket: b}, nil
}

func (s *BoltStore) Close() error { return s.db.Close() }

func (s *BoltStore) Has(key string) (bool, error) {
	var ok bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		ok = tx.Bucket(s.bucket).Get([]byte(key)) != nil
		return nil
	})
	return ok, err
}

func (s *BoltStore) Get(key string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(s.bucket).Get([]byte(key))
		if v == nil {
			return fmt.Errorf("fetchcache: key %q not found", key)
		}
		out = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BoltStore) Put(key string, value []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(s.bucket).Put([]byte(key), value)
	})
}

func (s *BoltStore) Delete(key string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(s.bucket).Delete([]byte(key))
	})
}

func (s *BoltStore) Keys(prefix string) ([]string, error) {
	var out []string
	p := []byte(prefix)
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(s.bucket).Cursor()
		for k, _ := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, _ = c.Next() {
			out = append(out, string(k))
		}
		return nil
	})
	return out, err
}

func (s *BoltStore) Clear() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(s.bucket); err != nil {
			return err
		}
		_, err := tx.CreateBucket(s.bucket)
		return err
	})
}
