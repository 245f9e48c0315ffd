package metrics

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLatencyHistogramMeanAndMinMax(t *testing.T) {
	h := newLatencyHistogram("test_latency_seconds")
	for _, v := range []float64{0.1, 0.2, 0.3, 0.4, 0.5} {
		h.observe(v)
	}

	assert.InDelta(t, 0.3, h.mean(), 1e-9)
	assert.InDelta(t, 0.1, h.min, 1e-9)
	assert.InDelta(t, 0.5, h.max, 1e-9)

	p50, p95, p99 := h.quantiles()
	assert.False(t, math.IsNaN(p50))
	assert.False(t, math.IsNaN(p95))
	assert.False(t, math.IsNaN(p99))
	assert.GreaterOrEqual(t, p99, p50)
}

func TestLatencyHistogramEmptyMeanIsNaN(t *testing.T) {
	h := newLatencyHistogram("empty")
	assert.True(t, math.IsNaN(h.mean()))
}
