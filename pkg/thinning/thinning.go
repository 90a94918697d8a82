// Package thinning counts effective (independent) samples in a run and
// thins stored chains so their length stays under a configured cap.
package thinning

import (
	"math"

	"github.com/Sumatoshi-tech/gwinfer/pkg/alg/stats"
	"github.com/Sumatoshi-tech/gwinfer/pkg/sampler"
)

// ACL returns the autocorrelation length, in iterations, of the posterior
// chains over stored samples taken after iteration from. It is the maximum
// across parameters of the ensemble-averaged integrated autocorrelation
// time. The result is +Inf when it cannot be estimated.
func ACL(state *sampler.RunState, from int) float64 {
	start := state.FirstStoredAfter(from)
	chains := state.PosteriorChains()
	ndim := state.NDim()
	n := state.StoredSamples() - start

	if n <= 0 || len(chains) == 0 {
		return math.Inf(1)
	}

	acl := 0.0
	series := make([][]float64, len(chains))

	for d := range ndim {
		for w := range chains {
			values := make([]float64, n)
			for j := range n {
				values[j] = chains[w].Samples[(start+j)*ndim+d]
			}

			series[w] = values
		}

		tau := stats.IntegratedAutocorrTime(series, stats.SokalWindow)
		if math.IsInf(tau, 1) {
			return tau
		}

		acl = max(acl, tau)
	}

	return math.Ceil(acl) * float64(state.Thin)
}

// EffectiveSamples returns the number of independent posterior samples
// gathered after burn-in, summed across posterior walkers. It is zero until
// the run has burned in or while the ACL cannot be estimated.
func EffectiveSamples(state *sampler.RunState) int {
	burnIn := state.BurnIn
	if !burnIn.BurnedIn {
		return 0
	}

	acl := ACL(state, burnIn.Iteration)
	if math.IsInf(acl, 0) || acl <= 0 {
		return 0
	}

	stored := state.StoredSamples() - state.FirstStoredAfter(burnIn.Iteration)
	independent := int(math.Floor(float64(state.Iteration-burnIn.Iteration) / acl))
	perChain := max(min(stored, independent), 0)

	return perChain * state.NWalkers
}

// EnforceCap thins every chain so that at most maxSamples samples remain
// stored. The stride is multiplied by k = ceil(n/maxSamples) and every k-th
// sample is kept, counting back from the most recent one. It returns the
// factor applied, 1 when nothing changed. A non-positive cap disables thinning.
func EnforceCap(state *sampler.RunState, maxSamples int) int {
	n := state.StoredSamples()
	if maxSamples <= 0 || n <= maxSamples {
		return 1
	}

	k := (n + maxSamples - 1) / maxSamples
	ndim := state.NDim()

	for i := range state.Chains {
		chain := &state.Chains[i]
		kept := 0

		for j := (n - 1) % k; j < n; j += k {
			copy(chain.Samples[kept*ndim:(kept+1)*ndim], chain.Samples[j*ndim:(j+1)*ndim])
			chain.LogLikelihood[kept] = chain.LogLikelihood[j]
			chain.LogPrior[kept] = chain.LogPrior[j]
			kept++
		}

		chain.Samples = chain.Samples[:kept*ndim:kept*ndim]
		chain.LogLikelihood = chain.LogLikelihood[:kept:kept]
		chain.LogPrior = chain.LogPrior[:kept:kept]
	}

	state.Thin *= k

	return k
}
