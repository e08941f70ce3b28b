package codec

import (
	"fmt"
	"math/big"
)

const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// InvalidEncoding is returned when decoding encounters bytes that are not
// valid under the encoding in question.
type InvalidEncoding struct {
	Reason string
}

func (e *InvalidEncoding) Error() string {
	return fmt.Sprintf("invalid encoding: %s", e.Reason)
}

var base58DecodeMap = func() [256]int8 {
	var m [256]int8
	for i := range m {
		m[i] = -1
	}
	for i, c := range base58Alphabet {
		m[byte(c)] = int8(i)
	}
	return m
}()

// Base58Encode encodes b using the Bitcoin Base58 alphabet. Leading zero
// bytes are preserved as leading '1' characters.
func Base58Encode(b []byte) string {
	x := new(big.Int).SetBytes(b)

	base := big.NewInt(58)
	zero := big.NewInt(0)
	mod := new(big.Int)

	var out []byte
	for x.Cmp(zero) > 0 {
		x.DivMod(x, base, mod)
		out = append(out, base58Alphabet[mod.Int64()])
	}

	// Preserve leading zero bytes as leading '1's.
	for _, c := range b {
		if c != 0 {
			break
		}
		out = append(out, base58Alphabet[0])
	}

	reverse(out)
	return string(out)
}

// Base58Decode decodes a Base58 string under the Bitcoin alphabet. Returns
// InvalidEncoding if s contains a character outside the alphabet.
func Base58Decode(s string) ([]byte, error) {
	x := new(big.Int)
	base := big.NewInt(58)

	for i := 0; i < len(s); i++ {
		v := base58DecodeMap[s[i]]
		if v == -1 {
			return nil, &InvalidEncoding{Reason: fmt.Sprintf("character %q at position %d not in base58 alphabet", s[i], i)}
		}
		x.Mul(x, base)
		x.Add(x, big.NewInt(int64(v)))
	}

	decoded := x.Bytes()

	// Restore leading zero bytes represented by leading '1's.
	leadingZeros := 0
	for i := 0; i < len(s) && s[i] == base58Alphabet[0]; i++ {
		leadingZeros++
	}

	out := make([]byte, leadingZeros+len(decoded))
	copy(out[leadingZeros:], decoded)
	return out, nil
}

func reverse(b []byte) {
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
}
