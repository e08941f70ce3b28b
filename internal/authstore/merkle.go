package authstore

import (
	"encoding/binary"
	"math/bits"

	"github.com/nxtnode/nxtnode/pkg/codec"
)

// DefaultSegmentSize is the leaf size used when none is configured.
const DefaultSegmentSize = 1024

// AuthDataBlock is a segment of the authenticated file plus the sibling
// path proving its inclusion under a Merkle root.
type AuthDataBlock struct {
	Data       []byte
	MerklePath []codec.Hash32
}

// Check recomputes the path from Data at the given leaf index and reports
// whether it resolves to root.
func (b *AuthDataBlock) Check(index uint64, root codec.Hash32) bool {
	h := codec.Hash(b.Data)
	for _, sibling := range b.MerklePath {
		if index&1 == 0 {
			h = codec.HashPair(h, sibling)
		} else {
			h = codec.HashPair(sibling, h)
		}
		index >>= 1
	}
	return h == root
}

// MerkleTree is a full binary tree over a padded sequence of fixed-size
// segments, persisted level-by-level in a Store so that any leaf's proof
// path can be reconstructed without holding the whole tree in memory.
type MerkleTree struct {
	store       *Store
	segmentSize int
	leafCount   int // number of real (non-padding) leaves
	levels      int // number of levels above the leaves, i.e. len(levels) to reach the root
	root        codec.Hash32
}

// FromFile builds a MerkleTree over data, splitting it into segmentSize
// chunks (the last chunk is zero-padded if data's length isn't a multiple
// of segmentSize), and persists every level into store.
func FromFile(data []byte, segmentSize int, store *Store) (*MerkleTree, error) {
	if segmentSize <= 0 {
		segmentSize = DefaultSegmentSize
	}

	n := (len(data) + segmentSize - 1) / segmentSize
	if n == 0 {
		n = 1
	}

	leaves := make([]codec.Hash32, n)
	for i := 0; i < n; i++ {
		start := i * segmentSize
		end := start + segmentSize
		if end > len(data) {
			end = len(data)
		}
		segment := make([]byte, segmentSize)
		copy(segment, data[start:end])
		store.Set(BucketSegments, segmentKey(uint64(i)), segment)
		leaves[i] = codec.Hash(segment)
	}

	return buildFromLeaves(leaves, n, segmentSize, store)
}

// OpenMerkleTree reconstructs a MerkleTree handle from an already-populated
// store, given the original leaf count and segment size. It recomputes the
// level structure by rehashing the persisted leaf segments, so the rootHash
// is guaranteed identical to the tree that built the store (P3).
func OpenMerkleTree(store *Store, leafCount, segmentSize int) (*MerkleTree, error) {
	leaves := make([]codec.Hash32, leafCount)
	for i := 0; i < leafCount; i++ {
		segment, ok := store.Get(BucketSegments, segmentKey(uint64(i)))
		if !ok {
			segment = make([]byte, segmentSize)
		}
		leaves[i] = codec.Hash(segment)
	}
	return buildFromLeaves(leaves, leafCount, segmentSize, store)
}

func buildFromLeaves(leaves []codec.Hash32, n, segmentSize int, store *Store) (*MerkleTree, error) {
	padded := nextPowerOfTwo(n)
	level := make([]codec.Hash32, padded)
	copy(level, leaves)
	// Padding leaves hold the zero segment, the same data ByIndex returns
	// for them, so their proofs check like any other leaf's.
	zeroLeaf := codec.Hash(make([]byte, segmentSize))
	for i := n; i < padded; i++ {
		level[i] = zeroLeaf
	}

	levels := 0
	for lvl := 0; ; lvl++ {
		for i, h := range level {
			store.Set(BucketMerkle, levelKey(uint8(lvl), uint64(i)), h[:])
		}
		if len(level) == 1 {
			break
		}
		next := make([]codec.Hash32, len(level)/2)
		for i := range next {
			next[i] = codec.HashPair(level[2*i], level[2*i+1])
		}
		level = next
		levels++
	}

	return &MerkleTree{
		store:       store,
		segmentSize: segmentSize,
		leafCount:   n,
		levels:      levels,
		root:        level[0],
	}, nil
}

// RootHash returns the tree's root.
func (t *MerkleTree) RootHash() codec.Hash32 {
	return t.root
}

// ByIndex loads the segment at leaf index i and its sibling path to the
// root. Returns (nil, false) if i is out of the padded range.
func (t *MerkleTree) ByIndex(i uint64) (*AuthDataBlock, bool) {
	padded := uint64(nextPowerOfTwo(t.leafCount))
	if i >= padded {
		return nil, false
	}

	var data []byte
	if i < uint64(t.leafCount) {
		segment, ok := t.store.Get(BucketSegments, segmentKey(i))
		if !ok {
			return nil, false
		}
		data = segment
	} else {
		data = make([]byte, t.segmentSize)
	}

	path := make([]codec.Hash32, 0, t.levels)
	idx := i
	for lvl := 0; lvl < t.levels; lvl++ {
		siblingIdx := idx ^ 1
		siblingBytes, ok := t.store.Get(BucketMerkle, levelKey(uint8(lvl), siblingIdx))
		if !ok {
			return nil, false
		}
		path = append(path, codec.HashFromBytes(siblingBytes))
		idx >>= 1
	}

	return &AuthDataBlock{Data: data, MerklePath: path}, true
}

// nextPowerOfTwo returns the smallest power of two that is >= max(n, 2),
// matching the spec's merklePath-length formula of ceil(log2(max(n, 2))):
// a tree is never shallower than one level, even with a single leaf.
func nextPowerOfTwo(n int) int {
	if n < 2 {
		n = 2
	}
	return 1 << bits.Len(uint(n-1))
}

func segmentKey(index uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, index)
	return b
}

func levelKey(level uint8, index uint64) []byte {
	b := make([]byte, 9)
	b[0] = level
	binary.BigEndian.PutUint64(b[1:], index)
	return b
}
