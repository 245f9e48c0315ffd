package feltutil

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestU256RoundTrip(t *testing.T) {
	cases := []string{
		"0",
		"1",
		"340282366920938463463374607431768211455", // max u128
		"340282366920938463463374607431768211456", // 2^128
		"123456789012345678901234567890123456789012345678",
	}

	for _, c := range cases {
		v, ok := new(big.Int).SetString(c, 10)
		require.True(t, ok, "parsing %s", c)

		low, high := U256(v)
		back := FromU256(low, high)

		assert.Equal(t, 0, v.Cmp(back), "round trip mismatch for %s", c)
	}
}

func TestFromASCIIDistinctForDistinctStrings(t *testing.T) {
	a := FromASCII("SN_SEPOLIA")
	b := FromASCII("SN_MAIN")
	assert.False(t, Equal(a, b))
	assert.True(t, Equal(a, FromASCII("SN_SEPOLIA")))
}

func TestEqualTreatsNilAsZero(t *testing.T) {
	assert.True(t, Equal(nil, FromASCII("")))
}

func TestMustHexPanicsOnGarbage(t *testing.T) {
	assert.Panics(t, func() {
		MustHex("not-a-hex-string")
	})
}

func TestShortTruncates(t *testing.T) {
	f := MustHex("0x1234567890abcdef1234567890abcdef")
	s := Short(f)
	assert.LessOrEqual(t, len(s), 14)
}

func TestShortNil(t *testing.T) {
	assert.Equal(t, "<nil>", Short(nil))
}
