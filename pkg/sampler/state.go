// Package sampler implements the chain state manager of a parallel-tempered
// ensemble MCMC sampler: chain storage, the temperature ladder and the
// iteration loop that advances every chain in lock step.
package sampler

import (
	"errors"
	"fmt"
	"math/rand/v2"
)

// Sentinel errors for run state construction.
var (
	ErrInvalidWalkers = errors.New("nwalkers must be even and at least 2")
	ErrNoParams       = errors.New("at least one variable parameter is required")
	ErrRNGState       = errors.New("corrupt random number generator state")
)

// pcgIncrement is mixed into the seed to derive the second PCG word.
const pcgIncrement = 0x9e3779b97f4a7c15

// BurnInStatus is the most recent burn-in evaluation stored alongside the chains.
type BurnInStatus struct {
	BurnedIn  bool `json:"burned_in"`
	Iteration int  `json:"iteration"`
}

// Chain holds one Markov chain for a (temperature, walker) pair.
type Chain struct {
	// Samples holds stored parameter vectors, NDim values per sample.
	Samples []float64 `json:"samples"`

	// LogLikelihood and LogPrior hold one value per stored sample.
	LogLikelihood []float64 `json:"log_likelihood"`
	LogPrior      []float64 `json:"log_prior"`

	// Position is the current point of the chain, stored or not.
	Position             []float64 `json:"position"`
	CurrentLogLikelihood float64   `json:"current_log_likelihood"`
	CurrentLogPrior      float64   `json:"current_log_prior"`

	Accepted int `json:"accepted"`
	Proposed int `json:"proposed"`
}

// Len returns the number of stored samples.
func (c *Chain) Len() int {
	return len(c.LogLikelihood)
}

// Sample returns stored sample j. The slice aliases chain storage.
func (c *Chain) Sample(j, ndim int) []float64 {
	return c.Samples[j*ndim : (j+1)*ndim]
}

// LogPosterior returns the untempered log-posterior of stored sample j.
func (c *Chain) LogPosterior(j int) float64 {
	return c.LogLikelihood[j] + c.LogPrior[j]
}

// AcceptanceFraction returns the fraction of accepted proposals.
func (c *Chain) AcceptanceFraction() float64 {
	if c.Proposed == 0 {
		return 0
	}

	return float64(c.Accepted) / float64(c.Proposed)
}

// RunState is the checkpointed aggregate: all chains, the ladder, the
// iteration counter and the RNG state.
type RunState struct {
	Params   []string `json:"params"`
	Betas    Ladder   `json:"betas"`
	NWalkers int      `json:"nwalkers"`

	// Chains is indexed by temp*NWalkers + walker.
	Chains []Chain `json:"chains"`

	// Iteration counts completed iterations.
	Iteration int `json:"iteration"`

	// Thin is the stride in iterations between stored samples.
	Thin int `json:"thin"`

	// LastStored is the iteration of the most recent stored sample (0 if none).
	LastStored int `json:"last_stored"`

	// RNG is the marshaled PCG state.
	RNG []byte `json:"rng"`

	// SwapsProposed and SwapsAccepted count swaps between rungs i and i+1.
	SwapsProposed []int `json:"swaps_proposed"`
	SwapsAccepted []int `json:"swaps_accepted"`

	BurnIn BurnInStatus `json:"burn_in"`
}

// NewRunState creates an empty run with chains for every (temperature, walker) pair.
func NewRunState(params []string, ladder Ladder, nwalkers int, seed uint64) (*RunState, error) {
	if len(params) == 0 {
		return nil, ErrNoParams
	}

	if nwalkers < 2 || nwalkers%2 != 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidWalkers, nwalkers)
	}

	if _, err := NewLadder(ladder); err != nil {
		return nil, err
	}

	rngState, err := rand.NewPCG(seed, seed^pcgIncrement).MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("marshal rng: %w", err)
	}

	ndim := len(params)
	chains := make([]Chain, ladder.NTemps()*nwalkers)

	for i := range chains {
		chains[i].Position = make([]float64, ndim)
	}

	return &RunState{
		Params:        append([]string(nil), params...),
		Betas:         append(Ladder(nil), ladder...),
		NWalkers:      nwalkers,
		Chains:        chains,
		Thin:          1,
		RNG:           rngState,
		SwapsProposed: make([]int, max(ladder.NTemps()-1, 0)),
		SwapsAccepted: make([]int, max(ladder.NTemps()-1, 0)),
	}, nil
}

// NDim returns the number of variable parameters.
func (s *RunState) NDim() int {
	return len(s.Params)
}

// NTemps returns the number of temperatures.
func (s *RunState) NTemps() int {
	return len(s.Betas)
}

// Chain returns the chain of walker at temperature index temp.
func (s *RunState) Chain(temp, walker int) *Chain {
	return &s.Chains[temp*s.NWalkers+walker]
}

// PosteriorChains returns the beta = 1 chains.
func (s *RunState) PosteriorChains() []Chain {
	return s.Chains[:s.NWalkers]
}

// StoredSamples returns the number of stored samples per chain.
func (s *RunState) StoredSamples() int {
	if len(s.Chains) == 0 {
		return 0
	}

	return s.Chains[0].Len()
}

// StoredIteration returns the iteration at which stored sample j was taken.
func (s *RunState) StoredIteration(j int) int {
	return s.LastStored - (s.StoredSamples()-1-j)*s.Thin
}

// FirstStoredAfter returns the index of the first stored sample taken after iteration.
// It returns StoredSamples() when there is none.
func (s *RunState) FirstStoredAfter(iteration int) int {
	n := s.StoredSamples()
	if n == 0 || iteration >= s.LastStored {
		return n
	}

	// Number of stored samples with iteration > target, counting back from LastStored.
	after := (s.LastStored - iteration + s.Thin - 1) / s.Thin

	return max(n-after, 0)
}

// StoredBytes estimates the in-memory size of stored samples across all chains.
func (s *RunState) StoredBytes() int64 {
	const float64Size = 8

	perSample := int64(s.NDim()+2) * float64Size

	return perSample * int64(s.StoredSamples()) * int64(len(s.Chains))
}

func (s *RunState) loadRNG() (*rand.PCG, error) {
	pcg := &rand.PCG{}

	err := pcg.UnmarshalBinary(s.RNG)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRNGState, err)
	}

	return pcg, nil
}
