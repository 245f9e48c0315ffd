// Package metrics is a single-writer aggregator fed by a bounded channel
// from every shooter and the block watcher: exactly one goroutine owns the
// running totals, everyone else only ever sends messages.
package metrics

import (
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EventKind tags the union type carried on the aggregator's channel.
type EventKind int

const (
	EventShooterStart EventKind = iota
	EventShooterEnd
	EventRequest
	EventBlock
)

// Event is the sole message type the aggregator consumes.
type Event struct {
	Kind    EventKind
	Shooter string
	IsWrite bool // only meaningful on EventShooterStart
	Amount  uint64
	At      time.Time
	Request RequestSample
	Block   BlockSample
}

type shooterState struct {
	amount    uint64
	isWrite   bool
	wallStart time.Time
	wallEnd   time.Time

	submitOK     uint64
	submitErr    map[ErrKind]uint64
	verifyOK     uint64
	verifyErr    map[ErrKind]uint64
	readOK       uint64
	readErr      map[ErrKind]uint64
	submitHist   *latencyHistogram
	verifyHist   *latencyHistogram
	readHist     *latencyHistogram
	blocks       []BlockSample
	lastBlockNum uint64
	haveBlock    bool
}

func newShooterState(amount uint64, isWrite bool) *shooterState {
	return &shooterState{
		amount:     amount,
		isWrite:    isWrite,
		submitErr:  make(map[ErrKind]uint64),
		verifyErr:  make(map[ErrKind]uint64),
		readErr:    make(map[ErrKind]uint64),
		submitHist: newLatencyHistogram("submit_latency_seconds"),
		verifyHist: newLatencyHistogram("verify_latency_seconds"),
		readHist:   newLatencyHistogram("read_latency_seconds"),
	}
}

// Aggregator owns all shooter and global statistics. Exactly one goroutine
// (the one running Run) ever touches its internal maps.
type Aggregator struct {
	events       chan Event
	numBlocksWin int

	shooters []string // insertion order, for stable report output
	states   map[string]*shooterState
	active   string // currently running shooter, "" between shooters

	allWrites *shooterState // concatenation of write-shooter samples
	registry  *prometheus.Registry
}

// NewAggregator constructs an aggregator with the given channel capacity
// and trailing-window size (report.num_blocks). Its Prometheus registry is
// always created, whether or not the metrics HTTP endpoint ends up served.
func NewAggregator(channelCapacity, numBlocksWindow int) *Aggregator {
	a := &Aggregator{
		events:       make(chan Event, channelCapacity),
		numBlocksWin: numBlocksWindow,
		states:       make(map[string]*shooterState),
		allWrites:    newShooterState(0, true),
		registry:     prometheus.NewRegistry(),
	}
	a.registerHistograms("all_bench_report", a.allWrites)
	return a
}

// Events returns the send side of the aggregator's channel.
func (a *Aggregator) Events() chan<- Event { return a.events }

// Registry returns the Prometheus registry backing the optional /metrics
// endpoint. Every shooter's histograms are registered under it as they
// start, labeled by shooter name so identical metric names don't collide.
func (a *Aggregator) Registry() *prometheus.Registry { return a.registry }

func (a *Aggregator) registerHistograms(shooterName string, st *shooterState) {
	labeled := prometheus.WrapRegistererWith(prometheus.Labels{"shooter": shooterName}, a.registry)
	labeled.MustRegister(st.submitHist.summary, st.verifyHist.summary, st.readHist.summary)
}

// Run drains the event channel until it is closed. It must run in its own
// goroutine; the caller closes Events() and then waits for Run to return
// before calling Report, since Report reads state Run owns.
func (a *Aggregator) Run() {
	for ev := range a.events {
		a.apply(ev)
	}
}

func (a *Aggregator) apply(ev Event) {
	switch ev.Kind {
	case EventShooterStart:
		st := newShooterState(ev.Amount, ev.IsWrite)
		st.wallStart = ev.At
		a.states[ev.Shooter] = st
		a.shooters = append(a.shooters, ev.Shooter)
		a.active = ev.Shooter
		a.registerHistograms(ev.Shooter, st)
		if ev.IsWrite && a.allWrites.wallStart.IsZero() {
			a.allWrites.wallStart = ev.At
		}

	case EventShooterEnd:
		st, ok := a.states[ev.Shooter]
		if !ok {
			return
		}
		st.wallEnd = ev.At
		if st.isWrite {
			a.allWrites.wallEnd = ev.At
		}
		if a.active == ev.Shooter {
			a.active = ""
		}

	case EventRequest:
		st, ok := a.states[ev.Shooter]
		if !ok {
			log.Printf("[metrics] WARN: request sample for unknown shooter %q dropped", ev.Shooter)
			return
		}
		a.applyRequest(st, ev.Request)
		if st.isWrite {
			a.applyRequest(a.allWrites, ev.Request)
		}

	case EventBlock:
		if a.active == "" {
			return // no shooter in its active interval right now
		}
		st := a.states[a.active]
		if st == nil {
			return
		}
		if st.haveBlock && ev.Block.BlockNumber <= st.lastBlockNum {
			return // strictly increasing only
		}
		st.haveBlock = true
		st.lastBlockNum = ev.Block.BlockNumber
		st.blocks = append(st.blocks, ev.Block)
	}
}

func (a *Aggregator) applyRequest(st *shooterState, s RequestSample) {
	switch s.Kind {
	case KindSubmit:
		if s.Outcome.Ok() {
			st.submitOK++
			st.submitHist.observe(s.Elapsed.Seconds())
		} else {
			st.submitErr[s.Outcome.Err]++
		}
	case KindVerify:
		if s.Outcome.Ok() {
			st.verifyOK++
			st.verifyHist.observe(s.Elapsed.Seconds())
		} else {
			st.verifyErr[s.Outcome.Err]++
		}
	case KindRead:
		if s.Outcome.Ok() {
			st.readOK++
			st.readHist.observe(s.Elapsed.Seconds())
		} else {
			st.readErr[s.Outcome.Err]++
		}
	}
}

// Report builds the final BenchReport for one shooter by name. Call only
// after Run has returned (the writer goroutine has exited).
func (a *Aggregator) Report(name string) BenchReport {
	st := a.states[name]
	if st == nil {
		return BenchReport{Name: name}
	}
	return a.buildReport(name, st)
}

// AllBenchReport concatenates samples across every write shooter; read
// benches are excluded.
func (a *Aggregator) AllBenchReport() BenchReport {
	return a.buildReport("all_bench_report", a.allWrites)
}

// ShooterNames returns the shooters in the order they were started.
func (a *Aggregator) ShooterNames() []string {
	out := make([]string, len(a.shooters))
	copy(out, a.shooters)
	return out
}

func (a *Aggregator) buildReport(name string, st *shooterState) BenchReport {
	dur := st.wallEnd.Sub(st.wallStart).Seconds()

	var metrics []Metric
	submitTotal := st.submitOK + sumCounts(st.submitErr)
	metrics = append(metrics, NewMetric("submit_count", "count", float64(submitTotal)))
	metrics = append(metrics, NewMetric("submit_ok_count", "count", float64(st.submitOK)))
	for k, v := range st.submitErr {
		metrics = append(metrics, NewMetric("submit_err_"+k.String(), "count", float64(v)))
	}
	p50, p95, p99 := st.submitHist.quantiles()
	metrics = append(metrics,
		NewMetric("submit_latency_p50", "seconds", p50),
		NewMetric("submit_latency_p95", "seconds", p95),
		NewMetric("submit_latency_p99", "seconds", p99),
		NewMetric("submit_latency_min", "seconds", st.submitHist.min),
		NewMetric("submit_latency_max", "seconds", st.submitHist.max),
		NewMetric("submit_latency_mean", "seconds", st.submitHist.mean()),
	)

	verifyTotal := st.verifyOK + sumCounts(st.verifyErr)
	metrics = append(metrics, NewMetric("verify_count", "count", float64(verifyTotal)))
	metrics = append(metrics, NewMetric("verify_ok_count", "count", float64(st.verifyOK)))
	for k, v := range st.verifyErr {
		metrics = append(metrics, NewMetric("verify_err_"+k.String(), "count", float64(v)))
	}
	vp50, vp95, vp99 := st.verifyHist.quantiles()
	metrics = append(metrics,
		NewMetric("verify_latency_p50", "seconds", vp50),
		NewMetric("verify_latency_p95", "seconds", vp95),
		NewMetric("verify_latency_p99", "seconds", vp99),
		NewMetric("verify_latency_min", "seconds", st.verifyHist.min),
		NewMetric("verify_latency_max", "seconds", st.verifyHist.max),
		NewMetric("verify_latency_mean", "seconds", st.verifyHist.mean()),
	)

	readTotal := st.readOK + sumCounts(st.readErr)
	if readTotal > 0 {
		metrics = append(metrics, NewMetric("read_count", "count", float64(readTotal)))
		metrics = append(metrics, NewMetric("read_ok_count", "count", float64(st.readOK)))
		for k, v := range st.readErr {
			metrics = append(metrics, NewMetric("read_err_"+k.String(), "count", float64(v)))
		}
		rp50, rp95, rp99 := st.readHist.quantiles()
		metrics = append(metrics,
			NewMetric("read_latency_p50", "seconds", rp50),
			NewMetric("read_latency_p95", "seconds", rp95),
			NewMetric("read_latency_p99", "seconds", rp99),
		)
	}

	offeredRate := float64(submitTotal) / dur
	acceptedRate := float64(st.verifyOK) / dur
	metrics = append(metrics,
		NewMetric("offered_rate", "tx/s", offeredRate),
		NewMetric("accepted_rate", "tx/s", acceptedRate),
	)

	tpsMean, tpsMin, tpsMax := blockTPS(st.blocks)
	metrics = append(metrics,
		NewMetric("block_tps_mean", "tx/s", tpsMean),
		NewMetric("block_tps_min", "tx/s", tpsMin),
		NewMetric("block_tps_max", "tx/s", tpsMax),
	)

	window := trailingWindow(st.blocks, a.numBlocksWin)

	return BenchReport{
		Name:               name,
		Amount:             st.amount,
		Metrics:            metrics,
		LastXBlocksMetrics: window,
	}
}

func sumCounts(m map[ErrKind]uint64) uint64 {
	var s uint64
	for _, v := range m {
		s += v
	}
	return s
}

// blockTPS computes block-level TPS mean/min/max across a window, excluding
// the first block's tx_count from the numerator (warm-up protection: that
// count reflects transactions submitted before the window started).
func blockTPS(blocks []BlockSample) (mean, min, max float64) {
	if len(blocks) < 2 {
		return nanf(), nanf(), nanf()
	}
	var sum float64
	min = posInf()
	max = negInf()
	n := 0
	for i := 1; i < len(blocks); i++ {
		dt := float64(blocks[i].Timestamp) - float64(blocks[i-1].Timestamp)
		if dt <= 0 {
			continue
		}
		tps := float64(blocks[i].TxCount) / dt
		sum += tps
		n++
		if tps < min {
			min = tps
		}
		if tps > max {
			max = tps
		}
	}
	if n == 0 {
		return nanf(), nanf(), nanf()
	}
	return sum / float64(n), min, max
}

// trailingWindow computes last_x_blocks_metrics over the trailing N blocks
// of a shooter's interval. If fewer blocks are available, NumBlocks
// reflects the actual count used.
func trailingWindow(blocks []BlockSample, n int) WindowMetrics {
	if n <= 0 || len(blocks) == 0 {
		return WindowMetrics{NumBlocks: 0, Metrics: nil}
	}
	start := 0
	if len(blocks) > n {
		start = len(blocks) - n
	}
	window := blocks[start:]
	mean, min, max := blockTPS(window)
	return WindowMetrics{
		NumBlocks: len(window),
		Metrics: []Metric{
			NewMetric("block_tps_mean", "tx/s", mean),
			NewMetric("block_tps_min", "tx/s", min),
			NewMetric("block_tps_max", "tx/s", max),
		},
	}
}
