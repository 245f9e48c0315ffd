package metrics

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricNormalisesNonFinite(t *testing.T) {
	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		m := NewMetric("x", "seconds", v)
		assert.Nil(t, m.Value)
		assert.Equal(t, "x", m.Name)
		assert.Equal(t, "seconds", m.Unit)
	}

	m := NewMetric("y", "count", 3.5)
	require.NotNil(t, m.Value)
	assert.Equal(t, 3.5, *m.Value)
}

func TestMetricMarshalsNullForNonFinite(t *testing.T) {
	m := NewMetric("x", "seconds", math.NaN())
	b, err := json.Marshal(m)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"x","unit":"seconds","value":null}`, string(b))
}
