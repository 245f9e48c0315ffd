// Package signer holds one load-generating account's key material and
// nonce bookkeeping, and drives starknet.go's account implementation to
// sign and submit its transactions. The nonce counter is a plain field
// rather than a map behind a mutex: each Account is owned by exactly one
// goroutine for its whole lifetime, so there is never a second writer to
// serialise against.
package signer

import (
	"context"
	"fmt"

	"github.com/NethermindEth/juno/core/felt"
	"github.com/NethermindEth/starknet.go/account"
	"github.com/NethermindEth/starknet.go/rpc"
	"github.com/NethermindEth/starknet.go/utils"

	"starknet-shoot/internal/rpcfacade"
)

// Account holds one benchmark account's key material and nonce counter.
// It is created once during setup and mutated only by the single shooter
// task that owns it.
type Account struct {
	Address    *felt.Felt
	SigningKey *felt.Felt
	PublicKey  *felt.Felt
	ChainID    *felt.Felt
	Legacy     bool

	nonce uint64 // monotonic, mutated only by the owning task

	starknetAccount *account.Account
}

// New wraps an already-connected starknet.go account.Account with the
// engine's nonce bookkeeping. provider is shared across all accounts; the
// underlying RPC client is safe for concurrent use by many accounts at once.
func New(provider *rpc.Provider, address, signingKey, publicKey, chainID *felt.Felt, legacy bool, startNonce uint64) (*Account, error) {
	ks := account.NewMemKeystore()
	ks.Put(publicKey.String(), utils.FeltToBigInt(signingKey))

	cairoVersion := account.CairoV2
	if legacy {
		cairoVersion = account.CairoV0
	}

	acc, err := account.NewAccount(provider, address, publicKey.String(), ks, cairoVersion)
	if err != nil {
		return nil, fmt.Errorf("signer: building account %s: %w", address, err)
	}

	return &Account{
		Address:         address,
		SigningKey:      signingKey,
		PublicKey:       publicKey,
		ChainID:         chainID,
		Legacy:          legacy,
		nonce:           startNonce,
		starknetAccount: acc,
	}, nil
}

// NextNonce returns the next nonce to use and advances the counter. The
// in-RAM nonce is never decremented; it equals the count of attempted
// submissions since the last chain refresh.
func (a *Account) NextNonce() uint64 {
	n := a.nonce
	a.nonce++
	return n
}

// Nonce returns the current in-RAM nonce without advancing it.
func (a *Account) Nonce() uint64 { return a.nonce }

// SyncNonce overwrites the in-RAM nonce from an authoritative chain read,
// used only before any shooter starts.
func (a *Account) SyncNonce(n uint64) { a.nonce = n }

// SubmitInvoke builds, signs, and submits an invoke v3 transaction for the
// given calls, returning the resulting transaction hash. Hash/signature
// computation and submission are entirely owned by starknet.go's account
// implementation; the nonce counter here only tracks how many submissions
// this account has attempted.
func (a *Account) SubmitInvoke(ctx context.Context, calls []rpc.InvokeFunctionCall) (*felt.Felt, error) {
	a.NextNonce()
	resp, err := a.starknetAccount.BuildAndSendInvokeTxn(ctx, calls, nil)
	if err != nil {
		return nil, rpcfacade.Classify("submit_invoke", err)
	}
	return resp.TransactionHash, nil
}

// Raw exposes the underlying starknet.go account for operations (declare,
// deploy-account, receipt waits) that the setup orchestrator drives
// directly rather than through the shooter pipeline.
func (a *Account) Raw() *account.Account { return a.starknetAccount }
