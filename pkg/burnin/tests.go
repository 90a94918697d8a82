package burnin

import (
	"math"
	"slices"

	"github.com/Sumatoshi-tech/gwinfer/pkg/sampler"
	"github.com/Sumatoshi-tech/gwinfer/pkg/thinning"
)

// Names of the built-in tests.
const (
	TestNACL          = "nacl"
	TestMaxPosterior  = "max_posterior"
	TestHalfChain     = "halfchain"
	TestMinIterations = "min_iterations"
	TestPosteriorStep = "posterior_step"
)

// DefaultNACLs is the number of autocorrelation lengths the nacl test requires.
const DefaultNACLs = 5.0

// Result is the outcome of a burn-in test. Iteration is meaningful only when
// BurnedIn is true.
type Result struct {
	BurnedIn  bool `json:"burned_in"`
	Iteration int  `json:"iteration"`
}

// Status converts the result into the form stored in the run state.
func (r Result) Status() sampler.BurnInStatus {
	return sampler.BurnInStatus{BurnedIn: r.BurnedIn, Iteration: r.Iteration}
}

// Test is a burn-in predicate over run state.
type Test func(state *sampler.RunState) Result

// Registry maps test names to tests.
type Registry map[string]Test

// Names returns the registered test names in sorted order.
func (r Registry) Names() []string {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}

	slices.Sort(names)

	return names
}

// Options parameterize the built-in tests.
type Options struct {
	// NACLs is the number of ACLs nacl requires after the half point.
	NACLs float64

	// MinIterations is the threshold of the min_iterations test.
	MinIterations int
}

// DefaultRegistry returns the built-in tests configured by opts.
func DefaultRegistry(opts Options) Registry {
	nacls := opts.NACLs
	if nacls <= 0 {
		nacls = DefaultNACLs
	}

	return Registry{
		TestNACL:          NACL(nacls),
		TestMaxPosterior:  MaxPosterior,
		TestHalfChain:     HalfChain,
		TestMinIterations: MinIterations(opts.MinIterations),
		TestPosteriorStep: PosteriorStep,
	}
}

// NACL passes once the chains have run for more than nacls autocorrelation
// lengths past their half point. The ACL is measured from the half point.
func NACL(nacls float64) Test {
	return func(state *sampler.RunState) Result {
		iteration := state.Iteration
		if iteration == 0 {
			return Result{}
		}

		half := iteration / 2

		acl := thinning.ACL(state, half)
		if math.IsInf(acl, 0) || math.IsNaN(acl) {
			return Result{}
		}

		if float64(iteration-half) > nacls*acl {
			return Result{BurnedIn: true, Iteration: half}
		}

		return Result{}
	}
}

// MaxPosterior passes at the first stored iteration by which every posterior
// walker has reached a log posterior within ndim/2 of the maximum seen by
// any walker.
func MaxPosterior(state *sampler.RunState) Result {
	chains := state.PosteriorChains()
	n := state.StoredSamples()

	if n == 0 || len(chains) == 0 {
		return Result{}
	}

	maxP := math.Inf(-1)

	for w := range chains {
		for j := range n {
			lp := chains[w].LogPosterior(j)
			if !math.IsNaN(lp) {
				maxP = max(maxP, lp)
			}
		}
	}

	if math.IsInf(maxP, 0) {
		return Result{}
	}

	threshold := maxP - float64(state.NDim())/2
	burnIdx := 0

	for w := range chains {
		first := -1

		for j := range n {
			if chains[w].LogPosterior(j) >= threshold {
				first = j

				break
			}
		}

		if first < 0 {
			return Result{}
		}

		burnIdx = max(burnIdx, first)
	}

	return Result{BurnedIn: true, Iteration: state.StoredIteration(burnIdx)}
}

// HalfChain always passes at half the current iteration.
func HalfChain(state *sampler.RunState) Result {
	if state.Iteration == 0 {
		return Result{}
	}

	return Result{BurnedIn: true, Iteration: state.Iteration / 2}
}

// MinIterations passes once the run has completed minIterations iterations.
func MinIterations(minIterations int) Test {
	return func(state *sampler.RunState) Result {
		if state.Iteration == 0 || state.Iteration < minIterations {
			return Result{}
		}

		return Result{BurnedIn: true, Iteration: max(minIterations, 0)}
	}
}

// PosteriorStep finds, per posterior walker, the last stored iteration at
// which the log posterior rose by at least ndim/2. Burn-in is the latest of
// those and passes when it lies before the current iteration.
func PosteriorStep(state *sampler.RunState) Result {
	chains := state.PosteriorChains()
	n := state.StoredSamples()

	if n == 0 || len(chains) == 0 {
		return Result{}
	}

	threshold := float64(state.NDim()) / 2
	burnIn := 0

	for w := range chains {
		for j := n - 1; j > 0; j-- {
			if chains[w].LogPosterior(j)-chains[w].LogPosterior(j-1) >= threshold {
				burnIn = max(burnIn, state.StoredIteration(j))

				break
			}
		}
	}

	if burnIn >= state.Iteration {
		return Result{}
	}

	return Result{BurnedIn: true, Iteration: burnIn}
}
