// Package authstore implements the persistent, content-addressed key→value
// store backing the block tree and its Merkle-authenticated segment data.
package authstore

import (
	"errors"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"
)

var (
	bucketBlocks    = []byte("blocks")
	bucketTreeMeta  = []byte("tree_meta")
	bucketMerkle    = []byte("merkle_levels")
	bucketSegments  = []byte("merkle_segments")
	errStoreClosed  = errors.New("authstore: store is closed")
)

// Store is a bbolt-backed realization of the spec's generic Storage
// contract: set/get/containsKey/commit/close over byte keys and values,
// namespaced into buckets. I/O errors on reads are logged and reported as a
// miss rather than propagated, matching the store's best-effort read
// contract. Writes are not batched: each Set is its own bbolt transaction
// and is durable once Set returns, so several Sets are not atomic as a group.
type Store struct {
	db     *bolt.DB
	logger *zap.Logger
	closed bool
}

// Open creates or opens the bbolt file at path and ensures the namespace
// buckets used by the block tree and Merkle tree exist.
func Open(path string, logger *zap.Logger) (*Store, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketBlocks, bucketTreeMeta, bucketMerkle, bucketSegments} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, logger: logger}, nil
}

// Set inserts or overwrites the value at key within bucket in its own bbolt
// Update, which fsyncs before returning, so the write is crash-durable as
// soon as Set returns; Commit adds nothing to it. A failed write is logged
// and swallowed.
func (s *Store) Set(bucket, key, value []byte) {
	if s.closed {
		return
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Put(key, value)
	})
	if err != nil {
		s.logger.Warn("authstore: set failed, write swallowed",
			zap.ByteString("bucket", bucket), zap.Error(err))
	}
}

// Get returns the value for key in bucket, or (nil, false) on miss or on any
// I/O error — errors are logged, never propagated, per the store's
// best-effort read contract.
func (s *Store) Get(bucket, key []byte) ([]byte, bool) {
	if s.closed {
		return nil, false
	}

	var value []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucket).Get(key)
		if v == nil {
			return nil
		}
		value = make([]byte, len(v))
		copy(value, v)
		return nil
	})
	if err != nil {
		s.logger.Warn("authstore: get failed, reporting miss",
			zap.ByteString("bucket", bucket), zap.Error(err))
		return nil, false
	}
	if value == nil {
		return nil, false
	}
	return value, true
}

// ContainsKey reports whether key exists in bucket.
func (s *Store) ContainsKey(bucket, key []byte) bool {
	_, ok := s.Get(bucket, key)
	return ok
}

// ForEach calls fn for every key/value pair in bucket in bbolt's key order.
// Used on open to reconstruct the in-memory block tree index.
func (s *Store) ForEach(bucket []byte, fn func(key, value []byte) error) error {
	if s.closed {
		return errStoreClosed
	}
	return s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).ForEach(fn)
	})
}

// Commit is a durability checkpoint. bbolt already fsyncs every Update, so
// this exists to satisfy the spec's explicit "commit flushes dirty writes"
// step rather than to do additional I/O.
func (s *Store) Commit() error {
	if s.closed {
		return errStoreClosed
	}
	return nil
}

// Close flushes and releases the underlying file. Idempotent.
func (s *Store) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Bucket names, exported so callers (block tree, Merkle tree) can address
// their own namespace without reaching into package internals.
var (
	BucketBlocks   = bucketBlocks
	BucketTreeMeta = bucketTreeMeta
	BucketMerkle   = bucketMerkle
	BucketSegments = bucketSegments
)
