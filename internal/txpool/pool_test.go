package txpool

import (
	"testing"
	"time"

	"github.com/nxtnode/nxtnode/internal/chain"
)

func newTestTx(signatureByte byte, timestamp uint64) *chain.Transaction {
	tx := &chain.Transaction{
		Type:      chain.TransactionPayment,
		Amount:    1,
		Fee:       1,
		Timestamp: timestamp,
	}
	tx.Signature[0] = signatureByte
	return tx
}

func TestAddAndDrain(t *testing.T) {
	p := New()
	now := time.Now()
	tx := newTestTx(1, uint64(now.UnixMilli()))

	if !p.Add(tx, now) {
		t.Fatal("Add() should succeed for a fresh transaction")
	}
	if p.Add(tx, now) {
		t.Fatal("Add() should reject a duplicate signature")
	}
	if p.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", p.Len())
	}

	drained := p.Drain(10)
	if len(drained) != 1 || drained[0] != tx {
		t.Fatal("Drain() should return the added transaction")
	}
	if p.Len() != 0 {
		t.Fatal("Drain() should remove returned transactions")
	}
}

func TestDrainRespectsMax(t *testing.T) {
	p := New()
	now := time.Now()
	for i := byte(0); i < 5; i++ {
		p.Add(newTestTx(i, uint64(now.UnixMilli())), now)
	}

	drained := p.Drain(3)
	if len(drained) != 3 {
		t.Fatalf("Drain(3) returned %d, want 3", len(drained))
	}
	if p.Len() != 2 {
		t.Fatalf("Len() after partial drain = %d, want 2", p.Len())
	}
}

func TestDrainDropsExpired(t *testing.T) {
	p := New()
	epoch := time.Unix(0, 0)
	tx := newTestTx(1, 0)
	if !p.Add(tx, epoch) {
		t.Fatal("Add() at epoch should succeed, deadline is 24h out")
	}

	// Drain uses the real wall clock internally, which is long past the
	// transaction's 24h-from-epoch deadline.
	drained := p.Drain(10)
	if len(drained) != 0 {
		t.Fatalf("Drain() returned %d expired transactions, want 0", len(drained))
	}
	if p.Len() != 0 {
		t.Fatal("expired transaction should have been dropped from the pool")
	}
}

func TestRemove(t *testing.T) {
	p := New()
	now := time.Now()
	tx := newTestTx(1, uint64(now.UnixMilli()))
	p.Add(tx, now)

	p.Remove([]chain.BlockId{chain.BlockId(tx.Signature)})
	if p.Len() != 0 {
		t.Fatal("Remove() should drop the matching transaction")
	}
}
