// Package blocktree implements the persistent, content-addressed fork
// store: a map<BlockId, Node> tree rooted at genesis, tracking the
// best-scoring leaf by cumulative score with FIFO tie-break.
package blocktree

import (
	"math/big"
	"sync"

	"github.com/nxtnode/nxtnode/internal/authstore"
	"github.com/nxtnode/nxtnode/internal/chain"
	"github.com/nxtnode/nxtnode/internal/consensus"
	"go.uber.org/zap"
)

// AppendErrorKind enumerates the typed append failures.
type AppendErrorKind int

const (
	_ AppendErrorKind = iota
	ParentMissing
	AlreadyPresent
	InvalidSignature
	ConsensusRejected
)

func (k AppendErrorKind) String() string {
	switch k {
	case ParentMissing:
		return "ParentMissing"
	case AlreadyPresent:
		return "AlreadyPresent"
	case InvalidSignature:
		return "InvalidSignature"
	case ConsensusRejected:
		return "ConsensusRejected"
	default:
		return "Unknown"
	}
}

// AppendError is the typed result of a failed appendBlock.
type AppendError struct {
	Kind   AppendErrorKind
	Reason string
}

func (e *AppendError) Error() string {
	if e.Reason == "" {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Reason
}

type node struct {
	block           *chain.Block
	cumulativeScore *big.Int
	height          uint32
	childrenIds     []chain.BlockId // ordered by insertion
	seq             uint64          // arrival order, for FIFO tie-break
}

// Tree is the in-memory fork store, persisted through an authstore.Store.
type Tree struct {
	mu      sync.RWMutex
	store   *authstore.Store
	logger  *zap.Logger
	balance consensus.EffectiveBalanceFunc

	nodes     map[chain.BlockId]*node
	bestLeaf  chain.BlockId
	hasLeaf   bool
	nextSeq   uint64
	rootIsSet bool
}

// New creates an empty tree backed by store.
func New(store *authstore.Store, logger *zap.Logger, balance consensus.EffectiveBalanceFunc) *Tree {
	if balance == nil {
		balance = consensus.UnitBalance
	}
	return &Tree{
		store:   store,
		logger:  logger,
		balance: balance,
		nodes:   make(map[chain.BlockId]*node),
	}
}

// Open reconstructs a Tree from an already-populated store by enumerating
// the blocks bucket and rebuilding the parent/child index and best leaf.
func Open(store *authstore.Store, logger *zap.Logger, balance consensus.EffectiveBalanceFunc) (*Tree, error) {
	t := New(store, logger, balance)

	type stored struct {
		id    chain.BlockId
		block *chain.Block
	}
	var all []stored

	err := store.ForEach(authstore.BucketBlocks, func(key, value []byte) error {
		b, err := chain.Parse(value)
		if err != nil {
			logger.Warn("blocktree: skipping unparseable stored block", zap.Error(err))
			return nil
		}
		var id chain.BlockId
		copy(id[:], key)
		all = append(all, stored{id: id, block: b})
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Insert genesis first, then repeatedly insert any block whose parent
	// is already present, until no more progress is made. This tolerates
	// any enumeration order bbolt happens to return.
	remaining := all
	for len(remaining) > 0 {
		progressed := false
		next := remaining[:0]
		for _, s := range remaining {
			if t.canInsertDuringReplay(s.block) {
				t.insertNode(s.block)
				progressed = true
			} else {
				next = append(next, s)
			}
		}
		remaining = next
		if !progressed {
			for _, s := range remaining {
				logger.Warn("blocktree: dropping orphan block on reconstruction",
					zap.String("parent", string(s.block.ParentId.Bytes())))
			}
			break
		}
	}

	return t, nil
}

// canInsertDuringReplay reports whether b's parent is already indexed (or,
// for genesis, whether the tree is still empty). Since a genesis's own
// children carry its real hash-derived BlockId as their ParentId, not
// ZeroBlockId, the only block this function ever treats as a genesis
// candidate is one that actually declares the null parent.
func (t *Tree) canInsertDuringReplay(b *chain.Block) bool {
	if b.ParentId == chain.ZeroBlockId {
		return !t.rootIsSet
	}
	_, ok := t.nodes[b.ParentId]
	return ok
}

// insertNode performs the pure bookkeeping shared by AppendBlock and
// reconstruction-on-open: index the node, update height/score, and move
// bestLeaf if the new node strictly exceeds it.
func (t *Tree) insertNode(b *chain.Block) *node {
	id := b.BlockId()
	if b.ParentId == chain.ZeroBlockId {
		t.rootIsSet = true
	}

	var height uint32 = 1
	cumulative := consensus.Score(b.Consensus.BaseTarget)
	if parent, ok := t.nodes[b.ParentId]; ok {
		height = parent.height + 1
		cumulative = new(big.Int).Add(parent.cumulativeScore, cumulative)
		parent.childrenIds = append(parent.childrenIds, id)
	}

	n := &node{
		block:           b,
		cumulativeScore: cumulative,
		height:          height,
		seq:             t.nextSeq,
	}
	t.nextSeq++
	t.nodes[id] = n

	if !t.hasLeaf || cumulative.Cmp(t.nodes[t.bestLeaf].cumulativeScore) > 0 {
		t.bestLeaf = id
		t.hasLeaf = true
	}
	return n
}

// AppendBlock inserts b under its declared parent, validating signature and
// consensus along the way.
func (t *Tree) AppendBlock(b *chain.Block) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := b.BlockId()
	// Genesis is identified by the tree being empty, not by ParentId ==
	// ZeroBlockId: that sentinel is genesis's own declared parent, but a
	// real genesis's BlockId is its (non-zero) header hash, so none of its
	// descendants ever carry ZeroBlockId as their ParentId.
	isGenesis := !t.rootIsSet

	if isGenesis {
		if b.ParentId != chain.ZeroBlockId {
			t.logger.Warn("blocktree: append rejected, empty tree requires genesis first")
			return &AppendError{Kind: ParentMissing, Reason: "tree is empty, first appended block must be genesis"}
		}
	} else {
		if _, ok := t.nodes[id]; ok {
			t.logger.Debug("blocktree: duplicate append ignored", zap.String("block_id", string(id.Bytes())))
			return &AppendError{Kind: AlreadyPresent}
		}
		parentNode, ok := t.nodes[b.ParentId]
		if !ok {
			t.logger.Warn("blocktree: append rejected, parent missing")
			return &AppendError{Kind: ParentMissing}
		}
		if !b.VerifySignature() {
			t.logger.Warn("blocktree: append rejected, invalid signature")
			return &AppendError{Kind: InvalidSignature}
		}
		if b.Timestamp <= parentNode.block.Timestamp {
			t.logger.Warn("blocktree: append rejected, timestamp does not exceed parent")
			return &AppendError{Kind: ConsensusRejected, Reason: "timestamp does not exceed parent"}
		}
		if err := consensus.ValidateBlock(b, parentNode.block.Consensus, parentNode.block.Timestamp, t.balance); err != nil {
			t.logger.Warn("blocktree: append rejected by consensus", zap.Error(err))
			return &AppendError{Kind: ConsensusRejected, Reason: err.Error()}
		}
	}

	t.insertNode(b)
	t.persist(b, id)
	return nil
}

func (t *Tree) persist(b *chain.Block, id chain.BlockId) {
	t.store.Set(authstore.BucketBlocks, id.Bytes(), b.Serialize())
	t.store.Set(authstore.BucketTreeMeta, []byte("best_leaf"), t.bestLeaf.Bytes())
	if err := t.store.Commit(); err != nil {
		t.logger.Warn("blocktree: commit failed, append considered incomplete", zap.Error(err))
	}
}

// Height is the height of bestLeaf (genesis has height 1; empty tree 0).
func (t *Tree) Height() uint32 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.hasLeaf {
		return 0
	}
	return t.nodes[t.bestLeaf].height
}

// Score is bestLeaf's cumulative score.
func (t *Tree) Score() *big.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.hasLeaf {
		return big.NewInt(0)
	}
	return new(big.Int).Set(t.nodes[t.bestLeaf].cumulativeScore)
}

// LastBlock is the block at bestLeaf.
func (t *Tree) LastBlock() *chain.Block {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.hasLeaf {
		return nil
	}
	return t.nodes[t.bestLeaf].block
}

// Contains reports whether id is present in the tree.
func (t *Tree) Contains(id chain.BlockId) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.nodes[id]
	return ok
}

// Parent returns b's parent block, if any.
func (t *Tree) Parent(id chain.BlockId) (*chain.Block, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.nodes[id]
	if !ok {
		return nil, false
	}
	parent, ok := t.nodes[n.block.ParentId]
	if !ok {
		return nil, false
	}
	return parent.block, true
}

// Children returns b's children, ordered by insertion.
func (t *Tree) Children(id chain.BlockId) []*chain.Block {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.nodes[id]
	if !ok {
		return nil
	}
	out := make([]*chain.Block, 0, len(n.childrenIds))
	for _, cid := range n.childrenIds {
		out = append(out, t.nodes[cid].block)
	}
	return out
}

// HeightOf returns id's height, if present.
func (t *Tree) HeightOf(id chain.BlockId) (uint32, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.nodes[id]
	if !ok {
		return 0, false
	}
	return n.height, true
}

// BlockAt returns the block on the best chain at height h. Undefined
// (returns not-found) for heights not on the current best chain.
func (t *Tree) BlockAt(h uint32) (*chain.Block, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.hasLeaf {
		return nil, false
	}
	cur, ok := t.nodes[t.bestLeaf]
	if !ok {
		return nil, false
	}
	for cur.height > h {
		parent, ok := t.nodes[cur.block.ParentId]
		if !ok {
			return nil, false
		}
		cur = parent
	}
	if cur.height != h {
		return nil, false
	}
	return cur.block, true
}

// GeneratedBy returns best-chain blocks whose generator == account.
func (t *Tree) GeneratedBy(account [chain.GeneratorSize]byte) []*chain.Block {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []*chain.Block
	if !t.hasLeaf {
		return out
	}
	cur, ok := t.nodes[t.bestLeaf]
	for ok {
		if cur.block.Generator == account {
			out = append(out, cur.block)
		}
		cur, ok = t.nodes[cur.block.ParentId]
	}
	// Reverse to root-to-tip order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// AverageDelay is the mean of timestamp deltas across the last count
// ancestors of the block at id. Returns (0, false) if fewer than count
// ancestors exist.
func (t *Tree) AverageDelay(id chain.BlockId, count int) (uint64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	cur, ok := t.nodes[id]
	if !ok {
		return 0, false
	}

	var deltas []uint64
	for len(deltas) < count {
		parent, ok := t.nodes[cur.block.ParentId]
		if !ok {
			return 0, false
		}
		if cur.block.Timestamp < parent.block.Timestamp {
			return 0, false
		}
		deltas = append(deltas, cur.block.Timestamp-parent.block.Timestamp)
		cur = parent
	}

	var sum uint64
	for _, d := range deltas {
		sum += d
	}
	return sum / uint64(len(deltas)), true
}

// LastSignatures returns the most recent k blockIds on the best chain, tip
// first.
func (t *Tree) LastSignatures(k int) []chain.BlockId {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if !t.hasLeaf {
		return nil
	}
	out := make([]chain.BlockId, 0, k)
	cur, ok := t.nodes[t.bestLeaf]
	for ok && len(out) < k {
		out = append(out, cur.block.BlockId())
		cur, ok = t.nodes[cur.block.ParentId]
	}
	return out
}
