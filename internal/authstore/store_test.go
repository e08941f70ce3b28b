package authstore

import (
	"bytes"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func testLogger() *zap.Logger {
	return zap.NewNop()
}

func TestStoreSetGetContainsKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	s, err := Open(path, testLogger())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer s.Close()

	key := []byte("k1")
	if s.ContainsKey(BucketBlocks, key) {
		t.Fatal("ContainsKey should be false before Set")
	}

	s.Set(BucketBlocks, key, []byte("v1"))

	if !s.ContainsKey(BucketBlocks, key) {
		t.Fatal("ContainsKey should be true after Set")
	}

	v, ok := s.Get(BucketBlocks, key)
	if !ok || !bytes.Equal(v, []byte("v1")) {
		t.Fatalf("Get() = (%q, %v), want (\"v1\", true)", v, ok)
	}
}

func TestStoreGetMissReturnsFalse(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	s, err := Open(path, testLogger())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer s.Close()

	if _, ok := s.Get(BucketBlocks, []byte("missing")); ok {
		t.Fatal("Get() on missing key should report miss")
	}
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")

	s1, err := Open(path, testLogger())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	s1.Set(BucketTreeMeta, []byte("tip"), []byte("block-1"))
	if err := s1.Commit(); err != nil {
		t.Fatalf("Commit() error: %v", err)
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	s2, err := Open(path, testLogger())
	if err != nil {
		t.Fatalf("reopen Open() error: %v", err)
	}
	defer s2.Close()

	v, ok := s2.Get(BucketTreeMeta, []byte("tip"))
	if !ok || !bytes.Equal(v, []byte("block-1")) {
		t.Fatalf("after reopen Get() = (%q, %v), want (\"block-1\", true)", v, ok)
	}
}

func TestStoreCloseIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	s, err := Open(path, testLogger())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("first Close() error: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close() should be a no-op, got error: %v", err)
	}
}

func TestStoreForEach(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	s, err := Open(path, testLogger())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer s.Close()

	s.Set(BucketBlocks, []byte("a"), []byte("1"))
	s.Set(BucketBlocks, []byte("b"), []byte("2"))

	seen := map[string]string{}
	err = s.ForEach(BucketBlocks, func(key, value []byte) error {
		seen[string(key)] = string(value)
		return nil
	})
	if err != nil {
		t.Fatalf("ForEach() error: %v", err)
	}
	if seen["a"] != "1" || seen["b"] != "2" {
		t.Fatalf("ForEach() saw %v, want a=1 b=2", seen)
	}
}
