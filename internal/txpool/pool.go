// Package txpool holds unconfirmed transactions awaiting inclusion in a
// forged block.
package txpool

import (
	"sync"
	"time"

	"github.com/nxtnode/nxtnode/internal/chain"
)

// Pool is a mutex-guarded set of pending transactions, keyed by signature.
type Pool struct {
	mu  sync.Mutex
	txs map[chain.BlockId]*chain.Transaction
}

// New returns an empty pool.
func New() *Pool {
	return &Pool{txs: make(map[chain.BlockId]*chain.Transaction)}
}

// Add inserts tx if it is not already present and has not expired.
func (p *Pool) Add(tx *chain.Transaction, now time.Time) bool {
	if tx.Expired(now) {
		return false
	}
	key := chain.BlockId(tx.Signature)
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.txs[key]; ok {
		return false
	}
	p.txs[key] = tx
	return true
}

// Drain returns and removes up to max non-expired transactions. Expired
// transactions are dropped silently as they're encountered.
func (p *Pool) Drain(max int) []*chain.Transaction {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	out := make([]*chain.Transaction, 0, max)
	for sig, tx := range p.txs {
		if tx.Expired(now) {
			delete(p.txs, sig)
			continue
		}
		if len(out) >= max {
			continue
		}
		out = append(out, tx)
		delete(p.txs, sig)
	}
	return out
}

// Remove drops the transactions identified by signature, e.g. after they
// have been appended to the tree via some other generator's block.
func (p *Pool) Remove(signatures []chain.BlockId) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, sig := range signatures {
		delete(p.txs, sig)
	}
}

// Len reports the number of transactions currently held.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.txs)
}
