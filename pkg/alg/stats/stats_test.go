package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chirpMass is a thinned posterior draw of a chirp mass in solar masses.
var chirpMass = []float64{28.9, 30.1, 29.4, 31.0, 28.2, 29.8, 30.5, 29.1, 30.0, 29.6}

func TestCredibleInterval(t *testing.T) {
	t.Parallel()

	lo := Percentile(chirpMass, PercentileP05)
	med := Median(chirpMass)
	hi := Percentile(chirpMass, PercentileP95)

	assert.InDelta(t, 28.515, lo, 1e-9)
	assert.InDelta(t, 29.7, med, 1e-9)
	assert.InDelta(t, 30.775, hi, 1e-9)
	assert.Less(t, lo, med)
	assert.Less(t, med, hi)
}

func TestPercentile_LeavesSamplesInChainOrder(t *testing.T) {
	t.Parallel()

	draws := []float64{3, -1, 2}
	Percentile(draws, PercentileMedian)

	assert.Equal(t, []float64{3, -1, 2}, draws)
}

func TestPercentile_Bounds(t *testing.T) {
	t.Parallel()

	draws := []float64{0.2, -0.7, 1.4, 0.1}

	cases := map[float64]float64{
		0:    -0.7,
		1:    1.4,
		0.5:  0.15,
		0.25: -0.1,
	}

	for p, want := range cases {
		assert.InDelta(t, want, Percentile(draws, p), 1e-9, "p=%v", p)
	}

	assert.InDelta(t, 4.2, Percentile([]float64{4.2}, PercentileP95), 0)
	assert.Zero(t, Percentile(nil, PercentileP05))
	assert.Zero(t, Median(nil))
}

func TestMeanStdDev_Posterior(t *testing.T) {
	t.Parallel()

	mean, stddev := MeanStdDev(chirpMass)
	assert.InDelta(t, 29.66, mean, 1e-9)
	assert.InDelta(t, 0.7696753, stddev, 1e-6)
	assert.InDelta(t, mean, Mean(chirpMass), 1e-12)
}

func TestMeanStdDev_Degenerate(t *testing.T) {
	t.Parallel()

	mean, stddev := MeanStdDev(nil)
	require.Zero(t, mean)
	require.Zero(t, stddev)
	assert.Zero(t, Mean(nil))

	// A chain stuck at one point has no spread.
	mean, stddev = MeanStdDev([]float64{-3.5, -3.5, -3.5})
	assert.InDelta(t, -3.5, mean, 0)
	assert.Zero(t, stddev)
}
