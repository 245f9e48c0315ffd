package signer

import (
	"testing"

	"github.com/NethermindEth/starknet.go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"starknet-shoot/internal/feltutil"
)

func newTestAccount(t *testing.T) *Account {
	t.Helper()
	provider, err := rpc.NewProvider("http://127.0.0.1:0")
	require.NoError(t, err)

	addr := feltutil.FromASCII("test-account")
	key := feltutil.FromASCII("test-key")
	acc, err := New(provider, addr, key, addr, feltutil.FromASCII("SN_SEPOLIA"), false, 0)
	require.NoError(t, err)
	return acc
}

func TestNextNonceMonotonicallyAdvances(t *testing.T) {
	acc := newTestAccount(t)

	for i := uint64(0); i < 5; i++ {
		assert.Equal(t, i, acc.NextNonce())
	}
	assert.Equal(t, uint64(5), acc.Nonce())
}

func TestSyncNonceOverwritesCounter(t *testing.T) {
	acc := newTestAccount(t)
	acc.NextNonce()
	acc.NextNonce()

	acc.SyncNonce(100)
	assert.Equal(t, uint64(100), acc.Nonce())
	assert.Equal(t, uint64(100), acc.NextNonce())
	assert.Equal(t, uint64(101), acc.Nonce())
}

func TestNewStartsAtGivenNonce(t *testing.T) {
	provider, err := rpc.NewProvider("http://127.0.0.1:0")
	require.NoError(t, err)
	addr := feltutil.FromASCII("test-account")
	key := feltutil.FromASCII("test-key")

	acc, err := New(provider, addr, key, addr, feltutil.FromASCII("SN_SEPOLIA"), false, 42)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), acc.Nonce())
}
