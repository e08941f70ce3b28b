package controller

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/nxtnode/nxtnode/internal/chain"
	"github.com/nxtnode/nxtnode/internal/consensus"
	"go.uber.org/zap"
)

func testLogger() *zap.Logger { return zap.NewNop() }

type fakeTree struct {
	mu     sync.Mutex
	blocks []*chain.Block
}

func newFakeTree(genesis *chain.Block) *fakeTree {
	return &fakeTree{blocks: []*chain.Block{genesis}}
}

func (f *fakeTree) Score() *big.Int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := big.NewInt(0)
	for _, b := range f.blocks {
		total.Add(total, consensus.Score(b.Consensus.BaseTarget))
	}
	return total
}

func (f *fakeTree) AppendBlock(b *chain.Block) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blocks = append(f.blocks, b)
	return nil
}

func (f *fakeTree) LastSignatures(k int) []chain.BlockId {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []chain.BlockId
	for i := len(f.blocks) - 1; i >= 0 && len(out) < k; i-- {
		out = append(out, f.blocks[i].BlockId())
	}
	return out
}

func (f *fakeTree) LastBlock() *chain.Block {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.blocks[len(f.blocks)-1]
}

func (f *fakeTree) Height() uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint32(len(f.blocks))
}

type fakeNetwork struct {
	mu        sync.Mutex
	score     *big.Int
	hasScore  bool
	requested []PeerID
	broadcast []*chain.Block
}

func (n *fakeNetwork) MaxChainScore() (*big.Int, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.score, n.hasScore
}

func (n *fakeNetwork) BestPeer() (PeerID, bool) { return "peer-1", true }

func (n *fakeNetwork) RequestSignatures(peer PeerID, locator []chain.BlockId) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.requested = append(n.requested, peer)
}

func (n *fakeNetwork) Broadcast(b *chain.Block) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.broadcast = append(n.broadcast, b)
}

type fakePool struct{}

func (fakePool) Drain(max int) []*chain.Transaction { return nil }
func (fakePool) Remove(signatures []chain.BlockId)   {}

type fakeWallet struct {
	accounts []consensus.Account
}

func (w fakeWallet) Accounts() []consensus.Account { return w.accounts }

func newSigningAccount(t *testing.T) consensus.Account {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("ed25519.GenerateKey() error: %v", err)
	}
	acc := consensus.Account{Sign: func(msg []byte) []byte { return ed25519.Sign(priv, msg) }}
	copy(acc.PublicKey[:], pub)
	return acc
}

func genesisBlock() *chain.Block {
	return &chain.Block{
		Version:   1,
		Timestamp: 0,
		ParentId:  chain.ZeroBlockId,
		Consensus: consensus.GenesisConsensusData(),
	}
}

// TestTransitionToSyncingOnHigherPeerScore is P10: a peer reporting a
// strictly higher score moves the controller to Syncing and requests
// signatures from the best peer.
func TestTransitionToSyncingOnHigherPeerScore(t *testing.T) {
	tree := newFakeTree(genesisBlock())
	net := &fakeNetwork{score: new(big.Int).Add(tree.Score(), big.NewInt(1)), hasScore: true}
	pool := fakePool{}
	wallet := fakeWallet{}

	ctrl := New(DefaultConfig(), tree, net, pool, wallet, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ctrl.Run(ctx)

	ctrl.events <- maxChainScoreEvent{score: net.score, ok: true}

	deadline := time.After(2 * time.Second)
	for {
		if ctrl.GetStatus() == Syncing {
			break
		}
		select {
		case <-deadline:
			t.Fatal("controller did not transition to Syncing")
		case <-time.After(10 * time.Millisecond):
		}
	}

	net.mu.Lock()
	defer net.mu.Unlock()
	if len(net.requested) == 0 {
		t.Error("expected RequestSignatures to have been called on the best peer")
	}
}

// TestTransitionToGeneratingWhenLocalScoreWins covers the s <= localScore
// branch.
func TestTransitionToGeneratingWhenLocalScoreWins(t *testing.T) {
	tree := newFakeTree(genesisBlock())
	net := &fakeNetwork{score: big.NewInt(0), hasScore: true}
	pool := fakePool{}
	wallet := fakeWallet{}

	ctrl := New(DefaultConfig(), tree, net, pool, wallet, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ctrl.Run(ctx)

	ctrl.events <- maxChainScoreEvent{score: net.score, ok: true}

	deadline := time.After(2 * time.Second)
	for {
		if ctrl.GetStatus() == Generating {
			break
		}
		select {
		case <-deadline:
			t.Fatal("controller did not transition to Generating")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// TestNoPeersGoesOfflineByDefault covers the s = None branch with
// offlineGeneration disabled (the default).
func TestNoPeersGoesOfflineByDefault(t *testing.T) {
	tree := newFakeTree(genesisBlock())
	net := &fakeNetwork{}
	pool := fakePool{}
	wallet := fakeWallet{}

	ctrl := New(DefaultConfig(), tree, net, pool, wallet, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ctrl.Run(ctx)

	ctrl.events <- maxChainScoreEvent{ok: false}

	deadline := time.After(2 * time.Second)
	for {
		if ctrl.GetStatus() == Offline {
			break
		}
		select {
		case <-deadline:
			t.Fatal("controller did not transition to Offline")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// TestNoPeersGeneratesWhenOfflineGenerationEnabled covers the s = None
// branch with offlineGeneration enabled.
func TestNoPeersGeneratesWhenOfflineGenerationEnabled(t *testing.T) {
	tree := newFakeTree(genesisBlock())
	net := &fakeNetwork{}
	pool := fakePool{}
	wallet := fakeWallet{}

	cfg := DefaultConfig()
	cfg.OfflineGeneration = true
	ctrl := New(cfg, tree, net, pool, wallet, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ctrl.Run(ctx)

	ctrl.events <- maxChainScoreEvent{ok: false}

	deadline := time.After(2 * time.Second)
	for {
		if ctrl.GetStatus() == Generating {
			break
		}
		select {
		case <-deadline:
			t.Fatal("controller did not transition to Generating")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// TestNewBlockAppendsAndBroadcastsLocallyForged covers the NewBlock(b, nil)
// broadcast path and append bookkeeping.
func TestNewBlockAppendsAndBroadcastsLocallyForged(t *testing.T) {
	genesis := genesisBlock()
	tree := newFakeTree(genesis)
	net := &fakeNetwork{score: big.NewInt(0), hasScore: true}
	pool := fakePool{}
	wallet := fakeWallet{}

	ctrl := New(DefaultConfig(), tree, net, pool, wallet, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ctrl.Run(ctx)

	// Move out of Offline so NewBlock is not discarded.
	ctrl.events <- maxChainScoreEvent{score: net.score, ok: true}
	for ctrl.GetStatus() == Offline {
		time.Sleep(10 * time.Millisecond)
	}

	account := newSigningAccount(t)
	block, ok := consensus.GenerateNextBlock(genesis, account, 5_000_000, nil, func([chain.GeneratorSize]byte) uint64 { return 1 << 62 })
	if !ok {
		t.Fatal("setup: GenerateNextBlock() should succeed")
	}

	ctrl.NewBlock(block, nil)

	deadline := time.After(2 * time.Second)
	for {
		net.mu.Lock()
		n := len(net.broadcast)
		net.mu.Unlock()
		if n == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("locally forged block was never broadcast")
		case <-time.After(10 * time.Millisecond):
		}
	}

	if tree.LastBlock().BlockId() != block.BlockId() {
		t.Error("block should have been appended to the tree")
	}
}

// TestNewBlockFromPeerIsNotBroadcast covers the src != nil branch.
func TestNewBlockFromPeerIsNotBroadcast(t *testing.T) {
	genesis := genesisBlock()
	tree := newFakeTree(genesis)
	net := &fakeNetwork{score: big.NewInt(0), hasScore: true}
	pool := fakePool{}
	wallet := fakeWallet{}

	ctrl := New(DefaultConfig(), tree, net, pool, wallet, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ctrl.Run(ctx)

	ctrl.events <- maxChainScoreEvent{score: net.score, ok: true}
	for ctrl.GetStatus() == Offline {
		time.Sleep(10 * time.Millisecond)
	}

	account := newSigningAccount(t)
	block, ok := consensus.GenerateNextBlock(genesis, account, 5_000_000, nil, func([chain.GeneratorSize]byte) uint64 { return 1 << 62 })
	if !ok {
		t.Fatal("setup: GenerateNextBlock() should succeed")
	}
	peer := PeerID("remote-peer")
	ctrl.NewBlock(block, &peer)

	deadline := time.After(1 * time.Second)
	for {
		if tree.LastBlock().BlockId() == block.BlockId() {
			break
		}
		select {
		case <-deadline:
			t.Fatal("block from peer was never appended")
		case <-time.After(10 * time.Millisecond):
		}
	}

	net.mu.Lock()
	defer net.mu.Unlock()
	if len(net.broadcast) != 0 {
		t.Error("block received from a peer should not be rebroadcast")
	}
}
