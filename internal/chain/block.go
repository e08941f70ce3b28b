// Package chain implements the block and transaction entities: canonical
// byte layout, signing, and signature verification.
package chain

import (
	"bytes"
	"crypto/ed25519"
	"fmt"

	"github.com/nxtnode/nxtnode/pkg/codec"
)

const (
	// BlockIdSize is the width of a BlockId — an ed25519 signature.
	BlockIdSize = ed25519.SignatureSize // 64

	// GeneratorSize is the width of a block generator's public key.
	GeneratorSize = ed25519.PublicKeySize // 32
)

// BlockId identifies a block by the signature over its header.
type BlockId [BlockIdSize]byte

// ZeroBlockId is genesis's declared (absent) parent.
var ZeroBlockId BlockId

// Bytes returns a copy of id as a slice.
func (id BlockId) Bytes() []byte {
	out := make([]byte, BlockIdSize)
	copy(out, id[:])
	return out
}

// ConsensusData is the Nxt consensus payload carried by every block.
type ConsensusData struct {
	BaseTarget          uint64
	GenerationSignature codec.Hash32
}

// Serialize encodes c as baseTarget(8) || generationSignature(32).
func (c ConsensusData) Serialize() []byte {
	buf := make([]byte, 0, 40)
	buf = codec.PutUint64BE(buf, c.BaseTarget)
	buf = append(buf, c.GenerationSignature[:]...)
	return buf
}

// ParseConsensusData parses the byte layout produced by Serialize.
func ParseConsensusData(b []byte) (ConsensusData, error) {
	if len(b) != 40 {
		return ConsensusData{}, &codec.InvalidEncoding{Reason: fmt.Sprintf("consensus data must be 40 bytes, got %d", len(b))}
	}
	baseTarget, err := codec.Uint64BE(b[0:8])
	if err != nil {
		return ConsensusData{}, err
	}
	return ConsensusData{
		BaseTarget:          baseTarget,
		GenerationSignature: codec.HashFromBytes(b[8:40]),
	}, nil
}

// Block is an immutable, signed node in the block tree.
type Block struct {
	Version      uint8
	Timestamp    uint64 // milliseconds
	ParentId     BlockId
	Consensus    ConsensusData
	Transactions []*Transaction
	Generator    [GeneratorSize]byte
	Signature    [BlockIdSize]byte
}

// BlockId returns the block's id. A signed block is identified by its
// signature. Genesis is unsigned (VerifySignature exempts it), so it is
// identified by its header hash instead, zero-extended to BlockIdSize —
// this keeps ZeroBlockId a unique null-parent sentinel that no real
// block's id can collide with, so a genesis child's ParentId is never
// mistaken for genesis itself.
func (b *Block) BlockId() BlockId {
	if b.ParentId == ZeroBlockId {
		h := b.HeaderHash()
		var id BlockId
		copy(id[:], h[:])
		return id
	}
	return BlockId(b.Signature)
}

// header returns the canonical byte layout that is hashed and signed:
//
//	version(1) || timestamp(8) || parentId(64) || consensusLen(4) || consensusBytes ||
//	txCount(4) || for each tx: txLen(4) || txBytes || generator(32)
func (b *Block) header() []byte {
	var buf bytes.Buffer
	buf.WriteByte(b.Version)
	buf.Write(mustAppendUint64(b.Timestamp))
	buf.Write(b.ParentId[:])

	consensusBytes := b.Consensus.Serialize()
	buf.Write(mustAppendUint32(uint32(len(consensusBytes))))
	buf.Write(consensusBytes)

	buf.Write(mustAppendUint32(uint32(len(b.Transactions))))
	for _, tx := range b.Transactions {
		txBytes := tx.Serialize()
		buf.Write(mustAppendUint32(uint32(len(txBytes))))
		buf.Write(txBytes)
	}

	buf.Write(b.Generator[:])
	return buf.Bytes()
}

// HeaderHash is SHA-256 of the canonical header, the value that gets signed.
func (b *Block) HeaderHash() codec.Hash32 {
	return codec.Hash(b.header())
}

// Sign signs the block's header hash with priv and records the resulting
// signature (and thus BlockId). priv's public key must equal b.Generator.
func (b *Block) Sign(priv ed25519.PrivateKey) error {
	pub := priv.Public().(ed25519.PublicKey)
	if !bytes.Equal(pub, b.Generator[:]) {
		return fmt.Errorf("chain: signing key does not match block generator")
	}
	h := b.HeaderHash()
	sig := ed25519.Sign(priv, h[:])
	copy(b.Signature[:], sig)
	return nil
}

// VerifySignature reports whether b.Signature verifies under b.Generator
// over the header hash. Genesis blocks (ParentId == ZeroBlockId) are exempt
// per the spec — they are unsigned.
func (b *Block) VerifySignature() bool {
	if b.ParentId == ZeroBlockId {
		return true
	}
	h := b.HeaderHash()
	return ed25519.Verify(b.Generator[:], h[:], b.Signature[:])
}

// Serialize encodes the full block: header followed by the signature.
func (b *Block) Serialize() []byte {
	out := b.header()
	out = append(out, b.Signature[:]...)
	return out
}

// Parse decodes a block produced by Serialize.
func Parse(data []byte) (*Block, error) {
	r := &reader{buf: data}

	version, err := r.byte()
	if err != nil {
		return nil, err
	}
	timestamp, err := r.uint64()
	if err != nil {
		return nil, err
	}
	parentIdBytes, err := r.bytes(BlockIdSize)
	if err != nil {
		return nil, err
	}
	consensusLen, err := r.uint32()
	if err != nil {
		return nil, err
	}
	consensusBytes, err := r.bytes(int(consensusLen))
	if err != nil {
		return nil, err
	}
	consensus, err := ParseConsensusData(consensusBytes)
	if err != nil {
		return nil, err
	}

	txCount, err := r.uint32()
	if err != nil {
		return nil, err
	}
	txs := make([]*Transaction, 0, txCount)
	for i := uint32(0); i < txCount; i++ {
		txLen, err := r.uint32()
		if err != nil {
			return nil, err
		}
		txBytes, err := r.bytes(int(txLen))
		if err != nil {
			return nil, err
		}
		tx, err := ParseTransaction(txBytes)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}

	generatorBytes, err := r.bytes(GeneratorSize)
	if err != nil {
		return nil, err
	}
	signatureBytes, err := r.bytes(BlockIdSize)
	if err != nil {
		return nil, err
	}
	if !r.empty() {
		return nil, &codec.InvalidEncoding{Reason: "trailing bytes after block signature"}
	}

	b := &Block{
		Version:      version,
		Timestamp:    timestamp,
		Consensus:    consensus,
		Transactions: txs,
	}
	copy(b.ParentId[:], parentIdBytes)
	copy(b.Generator[:], generatorBytes)
	copy(b.Signature[:], signatureBytes)
	return b, nil
}

func mustAppendUint64(v uint64) []byte { return codec.PutUint64BE(nil, v) }
func mustAppendUint32(v uint32) []byte { return codec.PutUint32BE(nil, v) }

// reader is a small cursor over a byte slice used by Parse; it exists so
// parsing reads top-to-bottom without manual offset bookkeeping at each
// call site.
type reader struct {
	buf []byte
	pos int
}

func (r *reader) need(n int) error {
	if len(r.buf)-r.pos < n {
		return &codec.InvalidEncoding{Reason: fmt.Sprintf("unexpected end of data, need %d more bytes", n)}
	}
	return nil
}

func (r *reader) byte() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

func (r *reader) uint32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v, _ := codec.Uint32BE(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *reader) uint64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v, _ := codec.Uint64BE(r.buf[r.pos:])
	r.pos += 8
	return v, nil
}

func (r *reader) bytes(n int) ([]byte, error) {
	if n < 0 {
		return nil, &codec.InvalidEncoding{Reason: "negative length prefix"}
	}
	if err := r.need(n); err != nil {
		return nil, err
	}
	v := r.buf[r.pos : r.pos+n]
	r.pos += n
	return v, nil
}

func (r *reader) empty() bool {
	return r.pos == len(r.buf)
}
