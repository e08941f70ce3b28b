package p2p

import (
	"context"
	"sync"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/nxtnode/nxtnode/internal/chain"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// scoreAnnounce pairs a decoded ScoreAnnounce with the peer that sent it.
type scoreAnnounce struct {
	peer peer.ID
	msg  *ScoreAnnounce
}

// PubSub manages GossipSub for block propagation and score announces.
type PubSub struct {
	ps         *pubsub.PubSub
	topic      *pubsub.Topic
	sub        *pubsub.Subscription
	scoreTopic *pubsub.Topic
	scoreSub   *pubsub.Subscription
	self       peer.ID
	logger     *zap.Logger

	peerLimiters   map[peer.ID]*rate.Limiter
	peerLimitersMu sync.Mutex
}

// NewPubSub creates a new GossipSub instance subscribed to both the block
// and score-announce topics.
func NewPubSub(ctx context.Context, h host.Host, incomingBlocks chan *chain.Block, incomingScores chan scoreAnnounce, logger *zap.Logger) (*PubSub, error) {
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		return nil, err
	}

	topic, err := ps.Join(BlockTopicName)
	if err != nil {
		return nil, err
	}

	sub, err := topic.Subscribe()
	if err != nil {
		return nil, err
	}

	scoreTopic, err := ps.Join(ScoreTopicName)
	if err != nil {
		return nil, err
	}

	scoreSub, err := scoreTopic.Subscribe()
	if err != nil {
		return nil, err
	}

	p := &PubSub{
		ps:           ps,
		topic:        topic,
		sub:          sub,
		scoreTopic:   scoreTopic,
		scoreSub:     scoreSub,
		self:         h.ID(),
		logger:       logger,
		peerLimiters: make(map[peer.ID]*rate.Limiter),
	}

	go p.readLoop(ctx, incomingBlocks)
	go p.scoreReadLoop(ctx, incomingScores)

	return p, nil
}

// PublishBlock publishes a block to the gossipsub network.
func (p *PubSub) PublishBlock(b *chain.Block) error {
	data, err := EncodeBlock(b)
	if err != nil {
		return err
	}
	return p.topic.Publish(context.Background(), data)
}

// PublishScore announces the local node's best chain height and score.
func (p *PubSub) PublishScore(height uint32, score []byte) error {
	data, err := Encode(&ScoreAnnounce{Type: MsgTypeScoreAnnounce, Height: height, Score: score})
	if err != nil {
		return err
	}
	return p.scoreTopic.Publish(context.Background(), data)
}

func (p *PubSub) scoreReadLoop(ctx context.Context, incomingScores chan scoreAnnounce) {
	for {
		msg, err := p.scoreSub.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Error("score pubsub read error", zap.Error(err))
			continue
		}

		if msg.GetFrom() == p.self {
			continue
		}

		announce, err := DecodeScoreAnnounce(msg.Data)
		if err != nil {
			p.logger.Debug("invalid score announce", zap.Error(err))
			continue
		}

		select {
		case incomingScores <- scoreAnnounce{peer: msg.GetFrom(), msg: announce}:
		default:
			p.logger.Warn("incoming scores channel full, dropping announce")
		}
	}
}

func (p *PubSub) readLoop(ctx context.Context, incomingBlocks chan *chain.Block) {
	for {
		msg, err := p.sub.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Error("pubsub read error", zap.Error(err))
			continue
		}

		// Ignore our own messages
		if msg.GetFrom() == p.self {
			continue
		}

		if !p.getPeerLimiter(msg.GetFrom()).Allow() {
			p.logger.Warn("peer rate limited", zap.String("peer", msg.GetFrom().String()))
			continue
		}

		block, err := DecodeBlockMsg(msg.Data)
		if err != nil {
			p.logger.Debug("invalid block message", zap.Error(err))
			continue
		}

		select {
		case incomingBlocks <- block:
		default:
			p.logger.Warn("incoming blocks channel full, dropping block")
		}
	}
}

func (p *PubSub) getPeerLimiter(peerID peer.ID) *rate.Limiter {
	p.peerLimitersMu.Lock()
	defer p.peerLimitersMu.Unlock()

	if lim, ok := p.peerLimiters[peerID]; ok {
		return lim
	}

	// Evict a random entry if map is too large
	if len(p.peerLimiters) >= 500 {
		for id := range p.peerLimiters {
			delete(p.peerLimiters, id)
			break
		}
	}

	lim := rate.NewLimiter(10, 20)
	p.peerLimiters[peerID] = lim
	return lim
}
