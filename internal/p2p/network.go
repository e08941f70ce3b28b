package p2p

import (
	"context"
	"math/big"
	"sync"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/nxtnode/nxtnode/internal/chain"
	"github.com/nxtnode/nxtnode/internal/controller"
	"go.uber.org/zap"
)

// PeerTable tracks the best chain score each connected peer has announced,
// pruned as peers disconnect. It is the data behind controller.Network's
// MaxChainScore and BestPeer queries.
type PeerTable struct {
	mu     sync.RWMutex
	scores map[peer.ID]*big.Int
}

// NewPeerTable creates an empty peer score table.
func NewPeerTable() *PeerTable {
	return &PeerTable{scores: make(map[peer.ID]*big.Int)}
}

// Record stores the latest score announced by p, overwriting any prior
// value — only the most recent announce matters.
func (t *PeerTable) Record(p peer.ID, score *big.Int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.scores[p] = score
}

// Forget drops a peer's score, called on disconnect.
func (t *PeerTable) Forget(p peer.ID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.scores, p)
}

// Max returns the highest known peer score, or ok=false if no peer has
// announced one.
func (t *PeerTable) Max() (*big.Int, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var best *big.Int
	for _, s := range t.scores {
		if best == nil || s.Cmp(best) > 0 {
			best = s
		}
	}
	if best == nil {
		return nil, false
	}
	return new(big.Int).Set(best), true
}

// Best returns the peer with the highest known score, or ok=false if the
// table is empty.
func (t *PeerTable) Best() (peer.ID, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var bestPeer peer.ID
	var best *big.Int
	for p, s := range t.scores {
		if best == nil || s.Cmp(best) > 0 {
			best, bestPeer = s, p
		}
	}
	if best == nil {
		return "", false
	}
	return bestPeer, true
}

func (t *PeerTable) consumeAnnounces(ctx context.Context, incoming chan scoreAnnounce) {
	for {
		select {
		case <-ctx.Done():
			return
		case a := <-incoming:
			t.Record(a.peer, BytesToScore(a.msg.Score))
		}
	}
}

func (t *PeerTable) pruneOnDisconnect(ctx context.Context, disconnected chan peer.ID) {
	for {
		select {
		case <-ctx.Done():
			return
		case p := <-disconnected:
			t.Forget(p)
		}
	}
}

// network adapts a Node into the controller.Network interface. RequestSignatures
// is fire-and-forget from the controller's point of view: a successful sync
// response feeds its blocks back through onBlock, tagged with the source peer
// so the controller does not rebroadcast what it just synced.
type network struct {
	node    *Node
	onBlock func(b *chain.Block, src *controller.PeerID)
	logger  *zap.Logger
}

// NewControllerNetwork wraps node as a controller.Network. onBlock is called
// for every block returned by a sync response, in order.
func NewControllerNetwork(node *Node, onBlock func(b *chain.Block, src *controller.PeerID), logger *zap.Logger) controller.Network {
	return &network{node: node, onBlock: onBlock, logger: logger}
}

func (n *network) MaxChainScore() (*big.Int, bool) {
	return n.node.Peers().Max()
}

func (n *network) BestPeer() (controller.PeerID, bool) {
	p, ok := n.node.Peers().Best()
	if !ok {
		return "", false
	}
	return controller.PeerID(p.String()), true
}

func (n *network) RequestSignatures(peerID controller.PeerID, locator []chain.BlockId) {
	syncer := n.node.Syncer()
	if syncer == nil {
		return
	}
	id, err := peer.Decode(string(peerID))
	if err != nil {
		n.logger.Warn("invalid peer id for sync request", zap.String("peer", string(peerID)), zap.Error(err))
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), syncStreamTimeout)
		defer cancel()

		resp, err := syncer.RequestSignatures(ctx, id, locator, maxSyncBatchSize)
		if err != nil {
			n.logger.Debug("sync request failed", zap.String("peer", string(peerID)), zap.Error(err))
			return
		}

		src := peerID
		for _, bm := range resp.Blocks {
			b, err := chain.Parse(bm.Data)
			if err != nil {
				n.logger.Debug("invalid block in sync response", zap.Error(err))
				return
			}
			n.onBlock(b, &src)
		}
	}()
}

func (n *network) Broadcast(b *chain.Block) {
	if err := n.node.BroadcastBlock(b); err != nil {
		n.logger.Warn("broadcast block failed", zap.Error(err))
	}
}
