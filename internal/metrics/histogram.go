package metrics

import (
	"math"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// latencyHistogram maintains streaming quantiles (p50/p95/p99) plus
// min/max/mean running aggregates for one latency series, in O(1) memory
// regardless of sample count. It is built on prometheus.Summary rather than
// a hand-rolled log-linear bucket scheme — the objectives set below give
// <=0.5% rank error at p50/p95/p99 over Summary's sliding window.
type latencyHistogram struct {
	summary prometheus.Summary

	count int64
	sum   float64
	min   float64
	max   float64
}

func newLatencyHistogram(name string) *latencyHistogram {
	return &latencyHistogram{
		summary: prometheus.NewSummary(prometheus.SummaryOpts{
			Name: name,
			Objectives: map[float64]float64{
				0.50: 0.005,
				0.95: 0.005,
				0.99: 0.005,
			},
		}),
		min: math.Inf(1),
		max: math.Inf(-1),
	}
}

// observe records one latency sample in seconds.
func (h *latencyHistogram) observe(seconds float64) {
	h.summary.Observe(seconds)
	h.count++
	h.sum += seconds
	if seconds < h.min {
		h.min = seconds
	}
	if seconds > h.max {
		h.max = seconds
	}
}

func (h *latencyHistogram) mean() float64 {
	if h.count == 0 {
		return math.NaN()
	}
	return h.sum / float64(h.count)
}

// quantiles reads back the p50/p95/p99 estimates that Observe has been
// accumulating into the underlying Summary.
func (h *latencyHistogram) quantiles() (p50, p95, p99 float64) {
	var m dto.Metric
	if err := h.summary.Write(&m); err != nil || m.Summary == nil {
		return math.NaN(), math.NaN(), math.NaN()
	}
	get := func(q float64) float64 {
		for _, qv := range m.Summary.Quantile {
			if qv.Quantile != nil && *qv.Quantile == q && qv.Value != nil {
				return *qv.Value
			}
		}
		return math.NaN()
	}
	return get(0.50), get(0.95), get(0.99)
}
