package p2p

import (
	"fmt"
	"math/big"

	"github.com/fxamacker/cbor/v2"
	"github.com/nxtnode/nxtnode/internal/chain"
)

// maxP2PBlockSize bounds a single gossiped or synced block's serialized size.
const maxP2PBlockSize = 512 * 1024

const (
	// ProtocolVersion is the current P2P protocol version.
	ProtocolVersion = "1.0.0"

	// BlockTopicName is the GossipSub topic for block propagation.
	BlockTopicName = "/nxtnode/blocks/" + ProtocolVersion

	// ScoreTopicName is the GossipSub topic for best-chain score announces.
	ScoreTopicName = "/nxtnode/scores/" + ProtocolVersion

	// SyncProtocolID is the protocol ID for signature-locator sync.
	SyncProtocolID = "/nxtnode/sync/1.0.0"
)

// MessageType identifies the type of P2P message.
type MessageType uint8

const (
	MsgTypeBlock          MessageType = 1
	MsgTypeScoreAnnounce  MessageType = 2
	MsgTypeSignaturesReq  MessageType = 3
	MsgTypeSignaturesResp MessageType = 4
)

// BlockMsg carries a single gossiped or synced block, serialized through
// chain.Block's own canonical wire format rather than re-declaring its
// fields in CBOR, so the two encodings can never drift apart.
type BlockMsg struct {
	Type MessageType `cbor:"1,keyasint"`
	Data []byte      `cbor:"2,keyasint"`
}

// ScoreAnnounce announces a node's current best chain height and
// cumulative score, feeding the sync/forge controller's MaxChainScore
// input.
type ScoreAnnounce struct {
	Type   MessageType `cbor:"1,keyasint"`
	Height uint32      `cbor:"2,keyasint"`
	Score  []byte      `cbor:"3,keyasint"` // big.Int bytes
}

// SignaturesReq sends a locator of recent block ids, tip first, requesting
// everything the responder has beyond the divergence point.
type SignaturesReq struct {
	Type     MessageType     `cbor:"1,keyasint"`
	Locators []chain.BlockId `cbor:"2,keyasint"`
	MaxCount int             `cbor:"3,keyasint"`
}

// SignaturesResp returns blocks from the fork point forward, oldest first.
type SignaturesResp struct {
	Type   MessageType `cbor:"1,keyasint"`
	Blocks []BlockMsg  `cbor:"2,keyasint"`
	More   bool        `cbor:"3,keyasint"`
}

// Encode serializes a message to CBOR.
func Encode(msg interface{}) ([]byte, error) {
	return cbor.Marshal(msg)
}

// EncodeBlock wraps b in a BlockMsg and serializes it.
func EncodeBlock(b *chain.Block) ([]byte, error) {
	return Encode(BlockMsg{Type: MsgTypeBlock, Data: b.Serialize()})
}

// DecodeBlockMsg decodes a CBOR-encoded BlockMsg and parses the embedded
// block.
func DecodeBlockMsg(data []byte) (*chain.Block, error) {
	var msg BlockMsg
	if err := cbor.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if len(msg.Data) > maxP2PBlockSize {
		return nil, fmt.Errorf("block too large: %d bytes", len(msg.Data))
	}
	return chain.Parse(msg.Data)
}

// DecodeScoreAnnounce decodes a CBOR-encoded ScoreAnnounce.
func DecodeScoreAnnounce(data []byte) (*ScoreAnnounce, error) {
	var msg ScoreAnnounce
	if err := cbor.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// DecodeSignaturesReq decodes a CBOR-encoded SignaturesReq.
func DecodeSignaturesReq(data []byte) (*SignaturesReq, error) {
	var msg SignaturesReq
	if err := cbor.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// DecodeSignaturesResp decodes a CBOR-encoded SignaturesResp.
func DecodeSignaturesResp(data []byte) (*SignaturesResp, error) {
	var msg SignaturesResp
	if err := cbor.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// ScoreToBytes converts a big.Int score for CBOR encoding.
func ScoreToBytes(n *big.Int) []byte {
	if n == nil {
		return nil
	}
	return n.Bytes()
}

// BytesToScore converts bytes back to a big.Int score.
func BytesToScore(b []byte) *big.Int {
	if len(b) == 0 {
		return new(big.Int)
	}
	return new(big.Int).SetBytes(b)
}
