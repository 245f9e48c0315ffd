// Package shooter runs a named workload against a pool of accounts: build a
// call, submit it, and verify its receipt, at a bounded concurrency and
// round-robined across the account pool so each account's own submissions
// stay in nonce order.
package shooter

import (
	"context"
	"time"

	"github.com/NethermindEth/juno/core/felt"
	"github.com/NethermindEth/starknet.go/rpc"

	"starknet-shoot/internal/signer"
)

// BuildTxFunc builds the calls for the local_i-th transaction an account
// should submit. It must be deterministic in localI.
type BuildTxFunc func(ctx context.Context, acc *signer.Account, localI uint64) ([]rpc.InvokeFunctionCall, error)

// ReadCallFunc builds the method/params for the local_i-th read request of
// the read-bench variant.
type ReadCallFunc func(localI uint64) (method string, params any)

// Shooter is a named, stateless-aside-from-its-closure workload.
type Shooter struct {
	Name     string
	Amount   uint64
	IsWrite  bool // false for the read-bench variant
	BuildTx  BuildTxFunc
	ReadCall ReadCallFunc
}

// SubmitFunc submits a built call set through an account, returning the
// resulting transaction hash. Production runs leave this nil, which
// defaults to the account's own SubmitInvoke; tests substitute a function
// that never dials out.
type SubmitFunc func(ctx context.Context, acc *signer.Account, calls []rpc.InvokeFunctionCall) (*felt.Felt, error)

// Options bounds a single run of the shooter runtime.
type Options struct {
	Concurrency       uint32        // max in-flight submissions system-wide
	VerifyConcurrency uint32        // max in-flight verification polls, typically 4x Concurrency
	MaxWait           time.Duration // verification deadline per task
	Submit            SubmitFunc    // nil uses the account's own SubmitInvoke
}
