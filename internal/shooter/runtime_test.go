package shooter

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/NethermindEth/juno/core/felt"
	"github.com/NethermindEth/starknet.go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"starknet-shoot/internal/feltutil"
	"starknet-shoot/internal/metrics"
	"starknet-shoot/internal/rpcfacade"
	"starknet-shoot/internal/signer"
)

// fakeClient is an in-memory RPCClient double; receipts are considered
// accepted on the first GetReceipt poll.
type fakeClient struct{}

func (f *fakeClient) RawRequest(ctx context.Context, method string, params any) (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}

func (f *fakeClient) GetReceipt(ctx context.Context, hash *felt.Felt) (rpcfacade.Receipt, error) {
	return rpcfacade.Receipt{Hash: hash, Found: true, FinalityStatus: "ACCEPTED_ON_L2", ExecutionStatus: "SUCCEEDED"}, nil
}

// fakeSubmitter is an in-memory SubmitFunc double: every submission is
// recorded so tests can assert on submission order and count, without
// touching the network.
type fakeSubmitter struct {
	mu       sync.Mutex
	invoked  []rpc.InvokeFunctionCall
	nextHash uint64
}

func (f *fakeSubmitter) submit(ctx context.Context, acc *signer.Account, calls []rpc.InvokeFunctionCall) (*felt.Felt, error) {
	acc.NextNonce()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invoked = append(f.invoked, calls...)
	f.nextHash++
	return feltutil.FromASCII(fmt.Sprintf("tx-%d", f.nextHash)), nil
}

func (f *fakeSubmitter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.invoked)
}

func testAccounts(t *testing.T, n int) []*signer.Account {
	t.Helper()
	provider, err := rpc.NewProvider("http://127.0.0.1:0")
	require.NoError(t, err)

	accounts := make([]*signer.Account, n)
	for i := 0; i < n; i++ {
		key := feltutil.FromASCII(fmt.Sprintf("test-account-key-%d", i))
		addr := feltutil.FromASCII(fmt.Sprintf("test-account-addr-%d", i))
		acc, err := signer.New(provider, addr, key, addr, feltutil.FromASCII("SN_SEPOLIA"), false, 0)
		require.NoError(t, err)
		accounts[i] = acc
	}
	return accounts
}

func drainEvents(events chan metrics.Event) []metrics.Event {
	var out []metrics.Event
	for ev := range events {
		out = append(out, ev)
	}
	return out
}

func TestRunCompletesExactlyAmountTasks(t *testing.T) {
	accounts := testAccounts(t, 3)
	client := &fakeClient{}
	sub := &fakeSubmitter{}
	sh := Shooter{
		Name:    "transfer",
		Amount:  9,
		IsWrite: true,
		BuildTx: func(ctx context.Context, acc *signer.Account, localI uint64) ([]rpc.InvokeFunctionCall, error) {
			return []rpc.InvokeFunctionCall{{ContractAddress: acc.Address, FunctionName: "transfer"}}, nil
		},
	}

	events := make(chan metrics.Event, 64)
	done := make(chan []metrics.Event)
	go func() { done <- drainEvents(events) }()

	Run(context.Background(), sh, accounts, client, events, Options{Concurrency: 2, VerifyConcurrency: 2, MaxWait: time.Second, Submit: sub.submit})
	close(events)
	recorded := <-done

	assert.Equal(t, 9, sub.callCount())

	var submitOK, verifyOK int
	for _, ev := range recorded {
		if ev.Kind != metrics.EventRequest {
			continue
		}
		if ev.Request.Kind == metrics.KindSubmit && ev.Request.Outcome.Ok() {
			submitOK++
		}
		if ev.Request.Kind == metrics.KindVerify && ev.Request.Outcome.Ok() {
			verifyOK++
		}
	}
	assert.Equal(t, 9, submitOK)
	assert.Equal(t, 9, verifyOK)
}

func TestRunPartitionsRoundRobinKeepingNoncesContiguous(t *testing.T) {
	accounts := testAccounts(t, 3)
	client := &fakeClient{}
	sub := &fakeSubmitter{}

	var mu sync.Mutex
	seenPerAccount := map[string][]uint64{}

	sh := Shooter{
		Name:    "transfer",
		Amount:  6,
		IsWrite: true,
		BuildTx: func(ctx context.Context, acc *signer.Account, localI uint64) ([]rpc.InvokeFunctionCall, error) {
			mu.Lock()
			seenPerAccount[acc.Address.String()] = append(seenPerAccount[acc.Address.String()], acc.Nonce())
			mu.Unlock()
			return []rpc.InvokeFunctionCall{{ContractAddress: acc.Address}}, nil
		},
	}

	events := make(chan metrics.Event, 64)
	go drainEvents(events)
	Run(context.Background(), sh, accounts, client, events, Options{Concurrency: 1, VerifyConcurrency: 1, MaxWait: time.Second, Submit: sub.submit})
	close(events)

	for _, seq := range seenPerAccount {
		for i, n := range seq {
			assert.Equal(t, uint64(i), n, "nonce sequence must be contiguous starting at 0")
		}
	}
}

func TestRunZeroAmountEmitsStartAndEndOnly(t *testing.T) {
	accounts := testAccounts(t, 1)
	client := &fakeClient{}
	sh := Shooter{Name: "noop", Amount: 0, IsWrite: true}

	events := make(chan metrics.Event, 8)
	done := make(chan []metrics.Event)
	go func() { done <- drainEvents(events) }()

	Run(context.Background(), sh, accounts, client, events, Options{Concurrency: 1, VerifyConcurrency: 1, MaxWait: time.Second})
	close(events)
	recorded := <-done

	require.Len(t, recorded, 2)
	assert.Equal(t, metrics.EventShooterStart, recorded[0].Kind)
	assert.Equal(t, metrics.EventShooterEnd, recorded[1].Kind)
}

func TestRunCancellationDrainsWithoutHanging(t *testing.T) {
	accounts := testAccounts(t, 2)
	client := &fakeClient{}
	sub := &fakeSubmitter{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // already cancelled before Run starts

	sh := Shooter{
		Name:    "transfer",
		Amount:  4,
		IsWrite: true,
		BuildTx: func(ctx context.Context, acc *signer.Account, localI uint64) ([]rpc.InvokeFunctionCall, error) {
			return []rpc.InvokeFunctionCall{{ContractAddress: acc.Address}}, nil
		},
	}

	events := make(chan metrics.Event, 64)
	done := make(chan []metrics.Event)
	go func() { done <- drainEvents(events) }()

	finished := make(chan struct{})
	go func() {
		Run(ctx, sh, accounts, client, events, Options{Concurrency: 1, VerifyConcurrency: 1, MaxWait: time.Second, Submit: sub.submit})
		close(events)
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return within bounded drain interval after cancellation")
	}
	<-done
}

func TestRunReadBenchUsesReadCallNotBuildTx(t *testing.T) {
	accounts := testAccounts(t, 2)
	client := &fakeClient{}
	sub := &fakeSubmitter{}
	sh := NewRead("reads", 5, "starknet_chainId", nil)

	events := make(chan metrics.Event, 64)
	done := make(chan []metrics.Event)
	go func() { done <- drainEvents(events) }()

	Run(context.Background(), sh, accounts, client, events, Options{Concurrency: 2, VerifyConcurrency: 2, MaxWait: time.Second, Submit: sub.submit})
	close(events)
	recorded := <-done

	assert.Equal(t, 0, sub.callCount()) // no submissions for a read-only shooter

	var readOK int
	for _, ev := range recorded {
		if ev.Kind == metrics.EventRequest && ev.Request.Kind == metrics.KindRead && ev.Request.Outcome.Ok() {
			readOK++
		}
	}
	assert.Equal(t, 5, readOK)
}
