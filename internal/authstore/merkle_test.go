package authstore

import (
	"crypto/rand"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "merkle.db")
	s, err := Open(path, testLogger())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestMerkleSoundness is P2: every leaf's AuthDataBlock checks against the root.
func TestMerkleSoundness(t *testing.T) {
	const segmentSize = 1024
	const n = 7 // not a power of two, exercises padding (E4)

	data := make([]byte, n*segmentSize)
	if _, err := rand.Read(data); err != nil {
		t.Fatalf("rand.Read() error: %v", err)
	}

	store := newTestStore(t)
	tree, err := FromFile(data, segmentSize, store)
	if err != nil {
		t.Fatalf("FromFile() error: %v", err)
	}

	root := tree.RootHash()

	for i := 0; i < n; i++ {
		block, ok := tree.ByIndex(uint64(i))
		if !ok {
			t.Fatalf("ByIndex(%d) = not found, want found", i)
		}
		if !block.Check(uint64(i), root) {
			t.Errorf("ByIndex(%d).Check() = false, want true", i)
		}
	}
}

// TestMerklePaddingIndexSeven is E4: n=7 pads to 8 leaves; index 7 (the
// padding leaf) still resolves a valid path.
func TestMerklePaddingIndexSeven(t *testing.T) {
	const segmentSize = 1024
	const n = 7

	data := make([]byte, n*segmentSize)
	if _, err := rand.Read(data); err != nil {
		t.Fatalf("rand.Read() error: %v", err)
	}

	store := newTestStore(t)
	tree, err := FromFile(data, segmentSize, store)
	if err != nil {
		t.Fatalf("FromFile() error: %v", err)
	}
	root := tree.RootHash()

	block3, ok := tree.ByIndex(3)
	if !ok || !block3.Check(3, root) {
		t.Error("ByIndex(3).Check(3, root) should be true")
	}

	block7, ok := tree.ByIndex(7)
	if !ok {
		t.Fatal("ByIndex(7) should return the padding leaf, not (nil, false)")
	}
	if !block7.Check(7, root) {
		t.Error("ByIndex(7).Check(7, root) should be true for the zero-padded leaf")
	}

	if _, ok := tree.ByIndex(8); ok {
		t.Error("ByIndex(8) is out of the padded range and should report not found")
	}
}

// TestMerkleDeterminism is P3: rebuilding from the already-populated store
// yields the identical root.
func TestMerkleDeterminism(t *testing.T) {
	const segmentSize = 64
	const n = 5

	data := make([]byte, n*segmentSize)
	if _, err := rand.Read(data); err != nil {
		t.Fatalf("rand.Read() error: %v", err)
	}

	store := newTestStore(t)
	built, err := FromFile(data, segmentSize, store)
	if err != nil {
		t.Fatalf("FromFile() error: %v", err)
	}

	reopened, err := OpenMerkleTree(store, n, segmentSize)
	if err != nil {
		t.Fatalf("OpenMerkleTree() error: %v", err)
	}

	if built.RootHash() != reopened.RootHash() {
		t.Errorf("rebuilt root = %x, want %x", reopened.RootHash(), built.RootHash())
	}
}

func TestMerkleSingleLeaf(t *testing.T) {
	store := newTestStore(t)
	tree, err := FromFile([]byte("one segment only"), 1024, store)
	if err != nil {
		t.Fatalf("FromFile() error: %v", err)
	}

	block, ok := tree.ByIndex(0)
	if !ok {
		t.Fatal("ByIndex(0) should be found")
	}
	if len(block.MerklePath) != 1 {
		t.Errorf("single-leaf tree merkle path length = %d, want 1", len(block.MerklePath))
	}
	if !block.Check(0, tree.RootHash()) {
		t.Error("single-leaf Check() should succeed")
	}
}
