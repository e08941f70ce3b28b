package consensus

import (
	"crypto/ed25519"

	"github.com/nxtnode/nxtnode/internal/chain"
)

// Account is a forging identity: a public key plus a closure that signs on
// its behalf, matching this module's wallet-account capability (the
// controller and consensus engine never see raw private key material).
type Account struct {
	PublicKey [chain.GeneratorSize]byte
	Sign      func(message []byte) []byte
}

// GenerateNextBlock attempts to forge a block on top of parent for account
// at wall-clock now. Returns (nil, false) if the account's hit does not
// beat the target this round. txs are drained from the external pool by
// the caller and passed in already selected.
func GenerateNextBlock(parent *chain.Block, account Account, nowMs uint64, txs []*chain.Transaction, balance EffectiveBalanceFunc) (*chain.Block, bool) {
	parentConsensus := parent.Consensus
	parentTimestamp := parent.Timestamp

	if !Eligible(parentConsensus, parentTimestamp, nowMs, account.PublicKey, balance) {
		return nil, false
	}

	b := &chain.Block{
		Version:   1,
		Timestamp: nowMs,
		ParentId:  parent.BlockId(),
		Consensus: chain.ConsensusData{
			BaseTarget:          BaseTarget(parentConsensus, parentTimestamp, nowMs),
			GenerationSignature: GeneratorSignature(parentConsensus, account.PublicKey),
		},
		Transactions: txs,
		Generator:    account.PublicKey,
	}

	sig := account.Sign(b.HeaderHash().Bytes())
	var fixed [ed25519.SignatureSize]byte
	copy(fixed[:], sig)
	b.Signature = fixed

	return b, true
}
