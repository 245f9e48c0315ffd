// Package blockwatch runs a single polling task that emits ordered block
// samples into the metrics aggregator: keep observing every new head
// forever, in order, until told to stop.
package blockwatch

import (
	"context"
	"log"
	"time"

	"github.com/NethermindEth/starknet.go/rpc"

	"starknet-shoot/internal/metrics"
	"starknet-shoot/internal/rpcfacade"
)

// Watcher polls chain head at a fixed interval and forwards BlockSamples to
// the aggregator's event channel.
type Watcher struct {
	client   *rpcfacade.Client
	interval time.Duration
	maxWait  time.Duration
	events   chan<- metrics.Event

	lastSeen uint64
	haveSeen bool
}

// New constructs a watcher. interval should be ~block_time/4, floored at
// 250ms; maxWait bounds how long transient errors are tolerated before the
// watcher escalates to fatal.
func New(client *rpcfacade.Client, blockTime time.Duration, maxWait time.Duration, events chan<- metrics.Event) *Watcher {
	interval := blockTime / 4
	if interval < 250*time.Millisecond {
		interval = 250 * time.Millisecond
	}
	return &Watcher{client: client, interval: interval, maxWait: maxWait, events: events}
}

// Run polls until ctx is cancelled (returning nil) or until head polling
// has kept failing for longer than maxWait, in which case it returns the
// last error. The caller decides how to react; cmd/shoot cancels the
// running shooter and any later ones, then still writes the report.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	var firstFailure time.Time

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		block, err := w.client.GetBlockWithTxHashes(ctx, rpc.BlockID{Tag: "latest"})
		if err != nil {
			if firstFailure.IsZero() {
				firstFailure = time.Now()
			}
			log.Printf("[blockwatch] transient error polling head: %v", err)
			if time.Since(firstFailure) > w.maxWait {
				return err
			}
			continue
		}
		firstFailure = time.Time{}

		if w.haveSeen && block.Number <= w.lastSeen {
			continue
		}

		// Emit every block between the last seen (exclusive) and the new
		// head (inclusive) so a polling gap never produces a skipped block
		// number. A backfill fetch failure stops short of lastSeen so the
		// same gap is retried next tick instead of being silently skipped.
		start := block.Number
		if w.haveSeen {
			start = w.lastSeen + 1
		}
		gapFailed := false
		for n := start; n < block.Number; n++ {
			b, err := w.client.GetBlockWithTxHashes(ctx, rpc.BlockID{Number: n})
			if err != nil {
				log.Printf("[blockwatch] backfill error for block %d, retrying next tick: %v", n, err)
				gapFailed = true
				break
			}
			w.emit(b)
		}
		if gapFailed {
			continue
		}
		w.emit(block)
	}
}

func (w *Watcher) emit(b rpcfacade.Block) {
	w.lastSeen = b.Number
	w.haveSeen = true
	w.events <- metrics.Event{
		Kind: metrics.EventBlock,
		At:   time.Now(),
		Block: metrics.BlockSample{
			BlockNumber: b.Number,
			TxCount:     uint32(len(b.TxHashes)),
			Timestamp:   b.Timestamp,
			L1GasPrice:  b.L1GasPrice,
		},
	}
}
