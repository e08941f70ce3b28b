package chain

import (
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/nxtnode/nxtnode/pkg/codec"
)

// TransactionType tags the Transaction union.
type TransactionType uint8

const (
	// TransactionGenesis mints initial balance; carried only by genesis.
	TransactionGenesis TransactionType = 1
	// TransactionPayment moves balance between accounts.
	TransactionPayment TransactionType = 2
)

const (
	recipientSize  = 25
	txSignatureLen = ed25519.SignatureSize

	// MaxBytesPerToken bounds minimum fee density: feePerByte must be
	// at least 1 / MaxBytesPerToken.
	MaxBytesPerToken = 512

	// TransactionDeadline is how long after its timestamp a transaction
	// remains eligible for inclusion.
	TransactionDeadline = 24 * time.Hour
)

// UnknownTransactionType is returned when a typeId byte doesn't match a
// known variant.
type UnknownTransactionType struct {
	TypeId uint8
}

func (e *UnknownTransactionType) Error() string {
	return fmt.Sprintf("unknown transaction type id %d", e.TypeId)
}

// Transaction is the tagged union {Genesis, Payment}.
type Transaction struct {
	Type      TransactionType
	Recipient [recipientSize]byte
	Amount    uint64
	Fee       uint64
	Timestamp uint64 // milliseconds
	Signature [txSignatureLen]byte
}

// Deadline returns the instant after which the transaction is no longer
// eligible for inclusion.
func (t *Transaction) Deadline() time.Time {
	ts := time.UnixMilli(int64(t.Timestamp))
	return ts.Add(TransactionDeadline)
}

// Expired reports whether the transaction's deadline has passed as of now.
func (t *Transaction) Expired(now time.Time) bool {
	return now.After(t.Deadline())
}

// Serialize encodes typeId(1) || recipient(25) || amount(8) || fee(8) ||
// timestamp(8) || signature(64).
func (t *Transaction) Serialize() []byte {
	buf := make([]byte, 0, 1+recipientSize+8+8+8+txSignatureLen)
	buf = append(buf, byte(t.Type))
	buf = append(buf, t.Recipient[:]...)
	buf = codec.PutUint64BE(buf, t.Amount)
	buf = codec.PutUint64BE(buf, t.Fee)
	buf = codec.PutUint64BE(buf, t.Timestamp)
	buf = append(buf, t.Signature[:]...)
	return buf
}

// FeePerByte returns Fee / len(Serialize()), the density used for the
// minimum-fee invariant.
func (t *Transaction) FeePerByte() float64 {
	length := len(t.Serialize())
	if length == 0 {
		return 0
	}
	return float64(t.Fee) / float64(length)
}

// MeetsMinimumFee reports whether feePerByte >= 1/MaxBytesPerToken.
func (t *Transaction) MeetsMinimumFee() bool {
	return t.FeePerByte() >= 1.0/float64(MaxBytesPerToken)
}

// Equal compares transactions by signature, per spec.
func (t *Transaction) Equal(o *Transaction) bool {
	return t.Signature == o.Signature
}

// ParseTransaction dispatches on the leading typeId byte.
func ParseTransaction(data []byte) (*Transaction, error) {
	if len(data) == 0 {
		return nil, &codec.InvalidEncoding{Reason: "empty transaction"}
	}

	typeId := data[0]
	switch TransactionType(typeId) {
	case TransactionGenesis, TransactionPayment:
		// fall through to shared field layout below
	default:
		return nil, &UnknownTransactionType{TypeId: typeId}
	}

	want := 1 + recipientSize + 8 + 8 + 8 + txSignatureLen
	if len(data) != want {
		return nil, &codec.InvalidEncoding{Reason: fmt.Sprintf("transaction must be %d bytes, got %d", want, len(data))}
	}

	r := &reader{buf: data[1:]}
	recipient, err := r.bytes(recipientSize)
	if err != nil {
		return nil, err
	}
	amount, err := r.uint64()
	if err != nil {
		return nil, err
	}
	fee, err := r.uint64()
	if err != nil {
		return nil, err
	}
	timestamp, err := r.uint64()
	if err != nil {
		return nil, err
	}
	signature, err := r.bytes(txSignatureLen)
	if err != nil {
		return nil, err
	}

	tx := &Transaction{
		Type:      TransactionType(typeId),
		Amount:    amount,
		Fee:       fee,
		Timestamp: timestamp,
	}
	copy(tx.Recipient[:], recipient)
	copy(tx.Signature[:], signature)
	return tx, nil
}

// SignaturePayload is the byte range a wallet account signs to produce
// Transaction.Signature: everything except the signature field itself.
func (t *Transaction) SignaturePayload() []byte {
	full := t.Serialize()
	return full[:len(full)-txSignatureLen]
}

// Sign signs the transaction with priv and stores the result.
func (t *Transaction) Sign(priv ed25519.PrivateKey) {
	sig := ed25519.Sign(priv, t.SignaturePayload())
	copy(t.Signature[:], sig)
}

// VerifySignature reports whether Signature verifies under pub.
func (t *Transaction) VerifySignature(pub ed25519.PublicKey) bool {
	return ed25519.Verify(pub, t.SignaturePayload(), t.Signature[:])
}

// validAmountAndFee enforces fee >= 1 and amount >= 0 (amount is unsigned,
// so only the lower bound on fee needs an explicit check).
func (t *Transaction) validAmountAndFee() bool {
	return t.Fee >= 1
}

// Valid runs the structural invariants from the spec's data model (fee,
// minimum fee density); deadline expiry is checked separately by callers
// that have a "now".
func (t *Transaction) Valid() error {
	if !t.validAmountAndFee() {
		return fmt.Errorf("chain: transaction fee must be >= 1, got %d", t.Fee)
	}
	if !t.MeetsMinimumFee() {
		return fmt.Errorf("chain: transaction feePerByte below minimum 1/%d", MaxBytesPerToken)
	}
	return nil
}
