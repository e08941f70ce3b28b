// Package controller runs the sync/forge finite state machine: it decides,
// from the network's reported best score, whether to chase a better chain,
// sit idle, or attempt to forge the next block itself.
package controller

import (
	"context"
	"math/big"
	"time"

	"github.com/nxtnode/nxtnode/internal/blocktree"
	"github.com/nxtnode/nxtnode/internal/chain"
	"github.com/nxtnode/nxtnode/internal/consensus"
	"github.com/nxtnode/nxtnode/internal/metrics"
	"go.uber.org/zap"
)

// State is one of the controller's three FSM states.
type State int

const (
	Offline State = iota
	Syncing
	Generating
)

func (s State) String() string {
	switch s {
	case Offline:
		return "offline"
	case Syncing:
		return "syncing"
	case Generating:
		return "generating"
	default:
		return "unknown"
	}
}

// MaxBlocksChunks bounds how many recent signatures are sent in a locator
// when requesting the divergence point from a peer that claims a better
// chain.
const MaxBlocksChunks = 64

// Tree is the subset of blocktree.Tree the controller depends on.
type Tree interface {
	Score() *big.Int
	Height() uint32
	AppendBlock(b *chain.Block) error
	LastSignatures(k int) []chain.BlockId
	LastBlock() *chain.Block
}

// PeerID identifies a connected peer for outbound requests.
type PeerID string

// Network is the subset of the peer transport the controller drives.
// MaxChainScore reports the best score claimed by any connected peer, or
// ok=false if there are no peers to ask.
type Network interface {
	MaxChainScore() (score *big.Int, ok bool)
	BestPeer() (PeerID, bool)
	RequestSignatures(peer PeerID, locator []chain.BlockId)
	Broadcast(b *chain.Block)
}

// TxPool is the subset of the unconfirmed-transaction pool the controller
// drives on block append.
type TxPool interface {
	Drain(max int) []*chain.Transaction
	Remove(signatures []chain.BlockId)
}

// Wallet supplies the forging identities the controller cycles through
// while in the Generating state.
type Wallet interface {
	Accounts() []consensus.Account
}

// newBlockEvent carries a block to append; src distinguishes a locally
// forged block (nil) from one that arrived from a peer.
type newBlockEvent struct {
	block *chain.Block
	src   *PeerID
}

type maxChainScoreEvent struct {
	score *big.Int
	ok    bool
}

type getStatusEvent struct {
	reply chan State
}

type tickEvent struct{}

// Config bundles the controller's tunables, all named directly after the
// spec's own parameters.
type Config struct {
	OfflineGeneration   bool
	BlockGenerationDelay time.Duration
	TickInterval         time.Duration
	MaxTxPerBlock        int
	EffectiveBalance     consensus.EffectiveBalanceFunc
}

// DefaultConfig matches the spec's stated defaults.
func DefaultConfig() Config {
	return Config{
		OfflineGeneration:    false,
		BlockGenerationDelay: 2 * time.Second,
		TickInterval:         1 * time.Second,
		MaxTxPerBlock:        255,
		EffectiveBalance:     consensus.UnitBalance,
	}
}

// Controller is the single-goroutine actor driving the FSM. All state
// mutation happens on the actor goroutine inside Run; every public method
// round-trips through the events channel to preserve that ordering
// guarantee.
type Controller struct {
	cfg     Config
	tree    Tree
	network Network
	pool    TxPool
	wallet  Wallet
	logger  *zap.Logger

	events chan any

	state   State
	stopForge context.CancelFunc
}

// New constructs a Controller in the Offline state; call Run to start its
// actor loop.
func New(cfg Config, tree Tree, network Network, pool TxPool, wallet Wallet, logger *zap.Logger) *Controller {
	return &Controller{
		cfg:     cfg,
		tree:    tree,
		network: network,
		pool:    pool,
		wallet:  wallet,
		logger:  logger,
		events:  make(chan any, 64),
		state:   Offline,
	}
}

// Run drives the actor loop until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if c.stopForge != nil {
				c.stopForge()
			}
			return
		case <-ticker.C:
			c.handleTick(ctx)
		case ev := <-c.events:
			c.dispatch(ctx, ev)
		}
	}
}

func (c *Controller) dispatch(ctx context.Context, ev any) {
	switch e := ev.(type) {
	case maxChainScoreEvent:
		c.handleMaxChainScore(ctx, e)
	case newBlockEvent:
		c.handleNewBlock(e)
	case getStatusEvent:
		e.reply <- c.state
	case tickEvent:
		c.handleTick(ctx)
	}
}

// NewBlock submits a block for append, as if arriving from src (nil for a
// locally forged block).
func (c *Controller) NewBlock(b *chain.Block, src *PeerID) {
	c.events <- newBlockEvent{block: b, src: src}
}

// GetStatus returns the controller's current FSM state.
func (c *Controller) GetStatus() State {
	reply := make(chan State, 1)
	c.events <- getStatusEvent{reply: reply}
	return <-reply
}

func (c *Controller) handleTick(ctx context.Context) {
	score, ok := c.network.MaxChainScore()
	select {
	case c.events <- maxChainScoreEvent{score: score, ok: ok}:
	default:
		c.logger.Warn("controller: event queue full, dropping tick-derived maxChainScore")
	}
}

func (c *Controller) handleMaxChainScore(ctx context.Context, e maxChainScoreEvent) {
	localScore := c.tree.Score()

	var next State
	switch {
	case e.ok && e.score.Cmp(localScore) > 0:
		next = Syncing
	case e.ok:
		next = Generating
	case c.cfg.OfflineGeneration:
		next = Generating
	default:
		next = Offline
	}

	if next != c.state {
		c.logger.Info("controller: state transition",
			zap.String("from", c.state.String()), zap.String("to", next.String()))
	}
	c.state = next
	metrics.ControllerState.Set(float64(c.state))

	switch c.state {
	case Syncing:
		if peer, ok := c.network.BestPeer(); ok {
			locator := c.tree.LastSignatures(MaxBlocksChunks)
			c.network.RequestSignatures(peer, locator)
		}
	case Generating:
		c.scheduleForge(ctx)
	case Offline:
		if c.stopForge != nil {
			c.stopForge()
			c.stopForge = nil
		}
	}
}

func (c *Controller) handleNewBlock(e newBlockEvent) {
	if c.state == Offline {
		c.logger.Debug("controller: discarding block received while offline")
		return
	}

	if err := c.tree.AppendBlock(e.block); err != nil {
		reason := "unknown"
		if appendErr, ok := err.(*blocktree.AppendError); ok {
			reason = appendErr.Kind.String()
		}
		metrics.BlocksRejected.WithLabelValues(reason).Inc()
		c.logger.Warn("controller: discarding block", zap.Error(err))
		return
	}
	metrics.BlocksAppended.Inc()
	metrics.ChainHeight.Set(float64(c.tree.Height()))

	var sigs []chain.BlockId
	for _, tx := range e.block.Transactions {
		var id chain.BlockId
		copy(id[:], tx.Signature[:])
		sigs = append(sigs, id)
	}
	c.pool.Remove(sigs)

	if e.src == nil {
		c.network.Broadcast(e.block)
	}
}
