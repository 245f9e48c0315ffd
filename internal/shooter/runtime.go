package shooter

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/NethermindEth/juno/core/felt"
	"github.com/NethermindEth/starknet.go/rpc"

	"starknet-shoot/internal/metrics"
	"starknet-shoot/internal/rpcfacade"
	"starknet-shoot/internal/signer"
)

// RPCClient is the subset of *rpcfacade.Client the runtime needs, accepted
// as an interface so tests can drive the scheduler against a fake transport
// instead of a live node.
type RPCClient interface {
	RawRequest(ctx context.Context, method string, params any) (json.RawMessage, error)
	GetReceipt(ctx context.Context, hash *felt.Felt) (rpcfacade.Receipt, error)
}

func defaultSubmit(ctx context.Context, acc *signer.Account, calls []rpc.InvokeFunctionCall) (*felt.Felt, error) {
	return acc.SubmitInvoke(ctx, calls)
}

// Run executes sh.Amount tasks against accounts at the bounded concurrency
// in opts, sending shooter start/end and RequestSample events to the
// aggregator.
// Work is partitioned round-robin across accounts so each account's nonce
// sequence is contiguous.
//
// One persistent goroutine per account processes that account's tasks in
// strict order — this is what gives "tasks for the same account are
// released only in nonce order" for free, without a separate per-account
// permit primitive: a single goroutine pulling from its own ordered work
// list cannot reorder itself.
func Run(ctx context.Context, sh Shooter, accounts []*signer.Account, client RPCClient, events chan<- metrics.Event, opts Options) {
	wallStart := time.Now()
	events <- metrics.Event{Kind: metrics.EventShooterStart, Shooter: sh.Name, IsWrite: sh.IsWrite, Amount: sh.Amount, At: wallStart}

	if sh.Amount == 0 {
		events <- metrics.Event{Kind: metrics.EventShooterEnd, Shooter: sh.Name, At: time.Now()}
		return
	}

	submit := opts.Submit
	if submit == nil {
		submit = defaultSubmit
	}

	submitSem := make(chan struct{}, max1(opts.Concurrency))
	verifyConc := opts.VerifyConcurrency
	if verifyConc == 0 {
		verifyConc = 4 * opts.Concurrency
	}
	verifySem := make(chan struct{}, max1(verifyConc))

	numAccounts := len(accounts)
	perAccount := make([][]uint64, numAccounts)
	for i := uint64(0); i < sh.Amount; i++ {
		a := int(i) % numAccounts
		perAccount[a] = append(perAccount[a], i)
	}

	var accountsWG sync.WaitGroup
	var verifyWG sync.WaitGroup

	for a := 0; a < numAccounts; a++ {
		indices := perAccount[a]
		if len(indices) == 0 {
			continue
		}
		acc := accounts[a]
		accountsWG.Add(1)
		go func(acc *signer.Account, indices []uint64) {
			defer accountsWG.Done()
			for localI := range indices {
				runOneTask(ctx, sh, acc, uint64(localI), client, submit, events, submitSem, verifySem, opts.MaxWait, &verifyWG)
			}
		}(acc, indices)
	}

	accountsWG.Wait()
	verifyWG.Wait()

	wallEnd := time.Now()
	events <- metrics.Event{Kind: metrics.EventShooterEnd, Shooter: sh.Name, At: wallEnd}
}

func max1(n uint32) uint32 {
	if n < 1 {
		return 1
	}
	return n
}

// runOneTask runs the per-task pipeline for one write shooter task, or the
// read-bench variant when sh.ReadCall is set: build the call, submit it,
// then hand verification off to its own goroutine.
func runOneTask(
	ctx context.Context,
	sh Shooter,
	acc *signer.Account,
	localI uint64,
	client RPCClient,
	submit SubmitFunc,
	events chan<- metrics.Event,
	submitSem, verifySem chan struct{},
	maxWait time.Duration,
	verifyWG *sync.WaitGroup,
) {
	if sh.ReadCall != nil {
		runReadTask(ctx, sh, localI, client, events, submitSem)
		return
	}

	select {
	case submitSem <- struct{}{}:
	case <-ctx.Done():
		emitSubmit(events, sh.Name, time.Now(), 0, metrics.ErrCancelled)
		return
	}

	t0 := time.Now()
	calls, err := sh.BuildTx(ctx, acc, localI)
	if err != nil {
		<-submitSem
		emitSubmit(events, sh.Name, t0, time.Since(t0), metrics.ErrRpcRejected)
		return
	}

	txHash, err := submit(ctx, acc, calls)
	<-submitSem // free the submit slot as soon as the call returns
	if err != nil {
		emitSubmit(events, sh.Name, t0, time.Since(t0), classifyErr(err))
		return
	}
	emitSubmit(events, sh.Name, t0, time.Since(t0), metrics.ErrNone)

	// Hand off to the verification stage. Acquiring a verify slot can
	// block this account's goroutine — that is the intended backpressure.
	select {
	case verifySem <- struct{}{}:
	case <-ctx.Done():
		emitVerify(events, sh.Name, t0, time.Since(t0), metrics.ErrCancelled)
		return
	}

	verifyWG.Add(1)
	go func() {
		defer verifyWG.Done()
		defer func() { <-verifySem }()
		verifyTask(ctx, sh.Name, client, txHash, t0, maxWait, events)
	}()
}

func runReadTask(ctx context.Context, sh Shooter, localI uint64, client RPCClient, events chan<- metrics.Event, submitSem chan struct{}) {
	select {
	case submitSem <- struct{}{}:
	case <-ctx.Done():
		emitRead(events, sh.Name, time.Now(), 0, metrics.ErrCancelled)
		return
	}
	defer func() { <-submitSem }()

	t0 := time.Now()
	method, params := sh.ReadCall(localI)
	_, err := client.RawRequest(ctx, method, params)
	if err != nil {
		emitRead(events, sh.Name, t0, time.Since(t0), classifyErr(err))
		return
	}
	emitRead(events, sh.Name, t0, time.Since(t0), metrics.ErrNone)
}

// verifyTask polls get_receipt with a capped exponential backoff until the
// transaction reaches ACCEPTED_ON_L2 or higher, reverts, the deadline
// elapses, or the context is cancelled.
func verifyTask(ctx context.Context, shooterName string, client RPCClient, txHash *felt.Felt, t0 time.Time, maxWait time.Duration, events chan<- metrics.Event) {
	deadline := t0.Add(maxWait)
	attempt := 0
	for {
		select {
		case <-ctx.Done():
			emitVerify(events, shooterName, t0, time.Since(t0), metrics.ErrCancelled)
			return
		default:
		}

		receipt, err := client.GetReceipt(ctx, txHash)
		if err != nil {
			log.Printf("[shooter] get_receipt transient error for %s: %v", txHash, err)
		} else if receipt.Found {
			if receipt.ExecutionStatus == "REVERTED" {
				emitVerify(events, shooterName, t0, time.Since(t0), metrics.ErrReverted)
				return
			}
			if receipt.FinalityStatus == "ACCEPTED_ON_L2" || receipt.FinalityStatus == "ACCEPTED_ON_L1" {
				emitVerify(events, shooterName, t0, time.Since(t0), metrics.ErrNone)
				return
			}
		}

		if time.Now().After(deadline) {
			emitVerify(events, shooterName, t0, time.Since(t0), metrics.ErrTimeout)
			return
		}

		wait := rpcfacade.PollBackoff(attempt)
		attempt++
		remaining := time.Until(deadline)
		if wait > remaining {
			wait = remaining
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			emitVerify(events, shooterName, t0, time.Since(t0), metrics.ErrCancelled)
			return
		}
	}
}

func classifyErr(err error) metrics.ErrKind {
	fe, ok := err.(*rpcfacade.Error)
	if !ok {
		return metrics.ErrTransport
	}
	switch fe.Kind {
	case rpcfacade.KindRpcRejected:
		return metrics.ErrRpcRejected
	case rpcfacade.KindTimeout:
		return metrics.ErrTimeout
	case rpcfacade.KindCancelled:
		return metrics.ErrCancelled
	default:
		return metrics.ErrTransport
	}
}

func emitSubmit(events chan<- metrics.Event, shooter string, t0 time.Time, elapsed time.Duration, errKind metrics.ErrKind) {
	events <- metrics.Event{
		Kind:    metrics.EventRequest,
		Shooter: shooter,
		Request: metrics.RequestSample{Shooter: shooter, Kind: metrics.KindSubmit, StartedAt: t0, Elapsed: elapsed, Outcome: metrics.Outcome{Err: errKind}},
	}
}

func emitVerify(events chan<- metrics.Event, shooter string, t0 time.Time, elapsed time.Duration, errKind metrics.ErrKind) {
	events <- metrics.Event{
		Kind:    metrics.EventRequest,
		Shooter: shooter,
		Request: metrics.RequestSample{Shooter: shooter, Kind: metrics.KindVerify, StartedAt: t0, Elapsed: elapsed, Outcome: metrics.Outcome{Err: errKind}},
	}
}

func emitRead(events chan<- metrics.Event, shooter string, t0 time.Time, elapsed time.Duration, errKind metrics.ErrKind) {
	events <- metrics.Event{
		Kind:    metrics.EventRequest,
		Shooter: shooter,
		Request: metrics.RequestSample{Shooter: shooter, Kind: metrics.KindRead, StartedAt: t0, Elapsed: elapsed, Outcome: metrics.Outcome{Err: errKind}},
	}
}
