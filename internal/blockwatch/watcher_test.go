package blockwatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"starknet-shoot/internal/metrics"
	"starknet-shoot/internal/rpcfacade"
)

func TestNewFloorsIntervalAt250ms(t *testing.T) {
	w := New(nil, 100*time.Millisecond, time.Second, nil)
	assert.Equal(t, 250*time.Millisecond, w.interval)
}

func TestNewUsesQuarterBlockTimeWhenAboveFloor(t *testing.T) {
	w := New(nil, 4*time.Second, time.Second, nil)
	assert.Equal(t, time.Second, w.interval)
}

func TestEmitTracksLastSeenAndHaveSeen(t *testing.T) {
	events := make(chan metrics.Event, 4)
	w := &Watcher{events: events}

	w.emit(rpcfacade.Block{Number: 7, Timestamp: 123, TxHashes: nil, L1GasPrice: 1})
	assert.True(t, w.haveSeen)
	assert.Equal(t, uint64(7), w.lastSeen)

	ev := <-events
	assert.Equal(t, metrics.EventBlock, ev.Kind)
	assert.Equal(t, uint64(7), ev.Block.BlockNumber)
}

// Run's polling and backfill paths need a live client and are not tested
// here. This test exercises Run's context-cancellation exit path only, which
// needs no client calls.
func TestRunReturnsPromptlyOnCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w := New(nil, 250*time.Millisecond, time.Second, make(chan metrics.Event, 1))

	var wg sync.WaitGroup
	wg.Add(1)
	var runErr error
	go func() {
		defer wg.Done()
		runErr = w.Run(ctx)
	}()

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return promptly after context cancellation")
	}
	require.NoError(t, runErr)
}
