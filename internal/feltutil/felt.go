// Package feltutil provides small conveniences over Starknet's field-element
// type so the rest of the engine never has to reach into juno/core/felt
// directly for routine conversions.
package feltutil

import (
	"fmt"
	"math/big"

	"github.com/NethermindEth/juno/core/felt"
	"github.com/NethermindEth/starknet.go/utils"
)

// MustHex parses a hex string into a felt.Felt, panicking on malformed input.
// Reserved for config-time parsing of values that were already validated.
func MustHex(s string) *felt.Felt {
	f, err := utils.HexToFelt(s)
	if err != nil {
		panic(fmt.Sprintf("feltutil: invalid felt hex %q: %v", s, err))
	}
	return f
}

// FromHex parses a hex string into a felt.Felt.
func FromHex(s string) (*felt.Felt, error) {
	return utils.HexToFelt(s)
}

// FromASCII packs an ASCII string (e.g. a chain id like "SN_SEPOLIA") into a
// felt the way Starknet short-strings are encoded: big-endian bytes of the
// string, left-padded with zero.
func FromASCII(s string) *felt.Felt {
	return new(felt.Felt).SetBytes([]byte(s))
}

// U256 splits a big.Int into Cairo's (low, high) u128 felt pair.
func U256(v *big.Int) (low, high *felt.Felt) {
	mask := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))
	lo := new(big.Int).And(v, mask)
	hi := new(big.Int).Rsh(v, 128)
	return utils.BigIntToFelt(lo), utils.BigIntToFelt(hi)
}

// FromU256 recombines a Cairo (low, high) u128 felt pair into a big.Int.
func FromU256(low, high *felt.Felt) *big.Int {
	l := utils.FeltToBigInt(low)
	h := utils.FeltToBigInt(high)
	out := new(big.Int).Lsh(h, 128)
	out.Or(out, l)
	return out
}

// Equal reports whether two felts hold the same value, treating nil as zero.
func Equal(a, b *felt.Felt) bool {
	if a == nil {
		a = &felt.Zero
	}
	if b == nil {
		b = &felt.Zero
	}
	return a.Equal(b)
}

// Short renders a felt's hex string truncated to a log-friendly prefix.
func Short(f *felt.Felt) string {
	if f == nil {
		return "<nil>"
	}
	s := f.String()
	if len(s) > 14 {
		return s[:14]
	}
	return s
}
