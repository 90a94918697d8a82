package stats

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// SokalWindow is the default window factor c of the automatic windowing rule.
const SokalWindow = 5.0

// minACLSamples is the shortest series an autocorrelation time is estimated for.
const minACLSamples = 4

// IntegratedAutocorrTime estimates the integrated autocorrelation time, in
// samples, of an ensemble of equal-length series.
//
// The normalized autocorrelation function is averaged across series and
// summed up to the smallest window M with M >= c*tau(M). The estimate is
// +Inf when the series are too short, all constant, or no window satisfies
// the rule.
func IntegratedAutocorrTime(series [][]float64, c float64) float64 {
	if c <= 0 {
		c = SokalWindow
	}

	centered, n := centerSeries(series)
	if len(centered) == 0 || n < minACLSamples {
		return math.Inf(1)
	}

	tau := 1.0

	for lag := 1; lag < n; lag++ {
		tau += 2 * ensembleACF(centered, lag)

		if float64(lag) >= c*tau {
			return max(tau, 1)
		}
	}

	return math.Inf(1)
}

// centeredSeries is a mean-subtracted series with its lag-0 autocovariance.
type centeredSeries struct {
	values []float64
	acov0  float64
}

// centerSeries subtracts each series mean, dropping constant series.
// All series are truncated to the shortest length.
func centerSeries(series [][]float64) ([]centeredSeries, int) {
	if len(series) == 0 {
		return nil, 0
	}

	n := len(series[0])
	for _, s := range series[1:] {
		n = min(n, len(s))
	}

	out := make([]centeredSeries, 0, len(series))

	for _, s := range series {
		values := append([]float64(nil), s[:n]...)
		floats.AddConst(-stat.Mean(values, nil), values)

		acov0 := floats.Dot(values, values) / float64(n)
		if acov0 <= 0 || math.IsNaN(acov0) || math.IsInf(acov0, 0) {
			continue
		}

		out = append(out, centeredSeries{values: values, acov0: acov0})
	}

	return out, n
}

// ensembleACF returns the normalized autocorrelation at lag averaged over series.
func ensembleACF(series []centeredSeries, lag int) float64 {
	var sum float64

	for _, s := range series {
		n := len(s.values)
		acov := floats.Dot(s.values[:n-lag], s.values[lag:]) / float64(n)
		sum += acov / s.acov0
	}

	return sum / float64(len(series))
}
