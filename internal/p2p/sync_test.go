package p2p

import (
	"context"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/nxtnode/nxtnode/internal/chain"
	"go.uber.org/zap"
)

// newTestHost creates a libp2p host on an ephemeral local port for testing.
func newTestHost(t *testing.T) host.Host {
	t.Helper()
	h, err := libp2p.New(libp2p.ListenAddrStrings("/ip4/127.0.0.1/tcp/0"))
	if err != nil {
		t.Fatalf("create test host: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	return h
}

// connectHosts connects host B to host A.
func connectHosts(t *testing.T, a, b host.Host) {
	t.Helper()
	aInfo := peer.AddrInfo{ID: a.ID(), Addrs: a.Addrs()}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.Connect(ctx, aInfo); err != nil {
		t.Fatalf("connect hosts: %v", err)
	}
}

// testBlock builds an unsigned block distinguished by timestamp; signature
// validity is irrelevant to the sync wire protocol under test.
func testBlock(timestamp uint64, parent chain.BlockId) *chain.Block {
	return &chain.Block{
		Version:   1,
		Timestamp: timestamp,
		ParentId:  parent,
		Consensus: chain.ConsensusData{BaseTarget: 1},
	}
}

func mustBlockMsg(t *testing.T, b *chain.Block) BlockMsg {
	t.Helper()
	return BlockMsg{Type: MsgTypeBlock, Data: b.Serialize()}
}

func TestSyncProtocol_RoundTrip(t *testing.T) {
	logger := zap.NewNop()

	hostA := newTestHost(t)
	hostB := newTestHost(t)

	cannedBlocks := []BlockMsg{
		mustBlockMsg(t, testBlock(1700000000, chain.ZeroBlockId)),
		mustBlockMsg(t, testBlock(1700000030, chain.ZeroBlockId)),
	}

	// Host A serves blocks — handler returns canned blocks regardless of locators
	NewSyncer(hostA, func(req *SignaturesReq) *SignaturesResp {
		return &SignaturesResp{
			Type:   MsgTypeSignaturesResp,
			Blocks: cannedBlocks,
		}
	}, logger)

	syncerB := NewSyncer(hostB, func(req *SignaturesReq) *SignaturesResp {
		return nil
	}, logger)

	connectHosts(t, hostA, hostB)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := syncerB.RequestSignatures(ctx, hostA.ID(), nil, 100)
	if err != nil {
		t.Fatalf("RequestSignatures: %v", err)
	}

	if len(resp.Blocks) != 2 {
		t.Fatalf("expected 2 blocks, got %d", len(resp.Blocks))
	}

	got0, err := chain.Parse(resp.Blocks[0].Data)
	if err != nil {
		t.Fatalf("parse block[0]: %v", err)
	}
	if got0.Timestamp != 1700000000 {
		t.Errorf("block[0] timestamp = %d, want 1700000000", got0.Timestamp)
	}

	got1, err := chain.Parse(resp.Blocks[1].Data)
	if err != nil {
		t.Fatalf("parse block[1]: %v", err)
	}
	if got1.Timestamp != 1700000030 {
		t.Errorf("block[1] timestamp = %d, want 1700000030", got1.Timestamp)
	}
}

func TestSyncProtocol_EmptyChain(t *testing.T) {
	logger := zap.NewNop()

	hostA := newTestHost(t)
	hostB := newTestHost(t)

	NewSyncer(hostA, func(req *SignaturesReq) *SignaturesResp {
		return &SignaturesResp{Type: MsgTypeSignaturesResp, Blocks: nil}
	}, logger)

	syncerB := NewSyncer(hostB, func(req *SignaturesReq) *SignaturesResp {
		return nil
	}, logger)

	connectHosts(t, hostA, hostB)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := syncerB.RequestSignatures(ctx, hostA.ID(), nil, 100)
	if err != nil {
		t.Fatalf("RequestSignatures: %v", err)
	}

	if len(resp.Blocks) != 0 {
		t.Errorf("expected 0 blocks, got %d", len(resp.Blocks))
	}
}

func TestSyncProtocol_BatchSizeLimit(t *testing.T) {
	logger := zap.NewNop()

	hostA := newTestHost(t)
	hostB := newTestHost(t)

	var receivedMaxCount int
	NewSyncer(hostA, func(req *SignaturesReq) *SignaturesResp {
		receivedMaxCount = req.MaxCount
		return &SignaturesResp{Type: MsgTypeSignaturesResp}
	}, logger)

	syncerB := NewSyncer(hostB, func(req *SignaturesReq) *SignaturesResp {
		return nil
	}, logger)

	connectHosts(t, hostA, hostB)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Request more than maxSyncBatchSize
	_, err := syncerB.RequestSignatures(ctx, hostA.ID(), nil, 500)
	if err != nil {
		t.Fatalf("RequestSignatures: %v", err)
	}

	if receivedMaxCount != maxSyncBatchSize {
		t.Errorf("MaxCount = %d, want %d (clamped)", receivedMaxCount, maxSyncBatchSize)
	}
}

func TestSyncProtocol_LocatorForkPoint(t *testing.T) {
	logger := zap.NewNop()

	hostA := newTestHost(t)
	hostB := newTestHost(t)

	var idA, idB, idC, idD chain.BlockId
	idA[0], idB[0], idC[0], idD[0] = 0x01, 0x02, 0x03, 0x04

	blockB := testBlock(2000, idA)
	blockC := testBlock(3000, idB)
	blockD := testBlock(4000, idC)

	byId := map[chain.BlockId]*chain.Block{idB: blockB, idC: blockC, idD: blockD}
	mainChainOrder := []chain.BlockId{idA, idB, idC, idD} // oldest-first

	// Host A: find fork point from locators, return blocks after it
	NewSyncer(hostA, func(req *SignaturesReq) *SignaturesResp {
		forkIdx := -1
		for _, loc := range req.Locators {
			for i, id := range mainChainOrder {
				if id == loc {
					forkIdx = i
					break
				}
			}
			if forkIdx >= 0 {
				break
			}
		}

		startIdx := 0
		if forkIdx >= 0 {
			startIdx = forkIdx + 1
		}

		var blocks []BlockMsg
		for i := startIdx; i < len(mainChainOrder); i++ {
			id := mainChainOrder[i]
			if b, ok := byId[id]; ok {
				blocks = append(blocks, mustBlockMsg(t, b))
			}
		}

		return &SignaturesResp{Type: MsgTypeSignaturesResp, Blocks: blocks}
	}, logger)

	syncerB := NewSyncer(hostB, func(req *SignaturesReq) *SignaturesResp {
		return nil
	}, logger)

	connectHosts(t, hostA, hostB)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Client sends locator [B] — should get [C, D] back
	resp, err := syncerB.RequestSignatures(ctx, hostA.ID(), []chain.BlockId{idB}, 100)
	if err != nil {
		t.Fatalf("RequestSignatures: %v", err)
	}

	if len(resp.Blocks) != 2 {
		t.Fatalf("expected 2 blocks (C, D), got %d", len(resp.Blocks))
	}

	got0, _ := chain.Parse(resp.Blocks[0].Data)
	got1, _ := chain.Parse(resp.Blocks[1].Data)
	if got0.Timestamp != 3000 {
		t.Errorf("block[0] timestamp = %d, want 3000 (C)", got0.Timestamp)
	}
	if got1.Timestamp != 4000 {
		t.Errorf("block[1] timestamp = %d, want 4000 (D)", got1.Timestamp)
	}
}
