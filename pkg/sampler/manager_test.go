package sampler

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gaussianPosterior is a unit normal restricted to a [-10, 10] box.
type gaussianPosterior struct {
	poisoned atomic.Bool
	vanished atomic.Bool
}

func (g *gaussianPosterior) LogPrior(params []float64) float64 {
	for _, v := range params {
		if v < -10 || v > 10 {
			return math.Inf(-1)
		}
	}

	return 0
}

func (g *gaussianPosterior) LogLikelihood(params []float64) float64 {
	if g.poisoned.Load() {
		return math.NaN()
	}

	if g.vanished.Load() {
		return math.Inf(-1)
	}

	var sum float64
	for _, v := range params {
		sum += v * v
	}

	return -0.5 * sum
}

type boxInit struct{ ndim int }

func (b boxInit) Initial(rng *rand.Rand) []float64 {
	out := make([]float64, b.ndim)
	for i := range out {
		out[i] = rng.Float64()*2 - 1
	}

	return out
}

func newTestManager(t *testing.T, workers int, seed uint64) (*Manager, *RunState, *gaussianPosterior) {
	t.Helper()

	ladder, err := GeometricLadder(3, 4)
	require.NoError(t, err)

	state, err := NewRunState([]string{"x", "y"}, ladder, 8, seed)
	require.NoError(t, err)

	post := &gaussianPosterior{}
	mgr := NewManager(state, post, workers)

	require.NoError(t, mgr.Initialize(context.Background(), boxInit{ndim: 2}))

	return mgr, state, post
}

func TestNewRunState_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewRunState(nil, Ladder{1}, 4, 1)
	require.ErrorIs(t, err, ErrNoParams)

	_, err = NewRunState([]string{"x"}, Ladder{1}, 3, 1)
	require.ErrorIs(t, err, ErrInvalidWalkers)

	_, err = NewRunState([]string{"x"}, Ladder{1, 2}, 4, 1)
	require.ErrorIs(t, err, ErrInvalidLadder)

	state, err := NewRunState([]string{"x", "y"}, Ladder{1, 0.5}, 4, 1)
	require.NoError(t, err)
	assert.Len(t, state.Chains, 8)
	assert.Equal(t, 1, state.Thin)
	assert.Equal(t, 2, state.NDim())
	assert.Len(t, state.SwapsProposed, 1)
}

func TestManager_Advance_AppendsOneSamplePerIteration(t *testing.T) {
	t.Parallel()

	mgr, state, _ := newTestManager(t, 2, 7)

	require.NoError(t, mgr.Advance(context.Background(), 5))

	assert.Equal(t, 5, mgr.CurrentIteration())
	assert.Equal(t, 5, state.LastStored)

	for i := range state.Chains {
		chain := &state.Chains[i]
		assert.Equal(t, 5, chain.Len())
		assert.Len(t, chain.Samples, 5*state.NDim())
		assert.Equal(t, 5, chain.Proposed)

		for j := range chain.Len() {
			assert.False(t, math.IsInf(chain.LogPosterior(j), 0))
		}
	}

	assert.Equal(t, []int{40, 40}, state.SwapsProposed)
}

func TestManager_Advance_DeterministicAcrossWorkerCounts(t *testing.T) {
	t.Parallel()

	serial, serialState, _ := newTestManager(t, 1, 42)
	parallel, parallelState, _ := newTestManager(t, 8, 42)

	require.NoError(t, serial.Advance(context.Background(), 20))
	require.NoError(t, parallel.Advance(context.Background(), 20))

	assert.Empty(t, cmp.Diff(serialState, parallelState))
}

func TestManager_Advance_CanceledBatchIsDiscarded(t *testing.T) {
	t.Parallel()

	mgr, state, _ := newTestManager(t, 2, 3)
	require.NoError(t, mgr.Advance(context.Background(), 3))

	before := cloneState(t, state)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := mgr.Advance(ctx, 4)
	require.ErrorIs(t, err, context.Canceled)

	assert.Empty(t, cmp.Diff(before, state))
}

func TestManager_Advance_Diverged(t *testing.T) {
	t.Parallel()

	mgr, state, post := newTestManager(t, 4, 11)
	require.NoError(t, mgr.Advance(context.Background(), 2))

	before := cloneState(t, state)

	post.poisoned.Store(true)

	err := mgr.Advance(context.Background(), 3)
	require.ErrorIs(t, err, ErrSamplerDiverged)

	var divErr *DivergedError
	require.True(t, errors.As(err, &divErr))
	assert.Equal(t, 0, divErr.Temperature)
	assert.Equal(t, 3, divErr.Iteration)

	assert.Empty(t, cmp.Diff(before, state))
}

func TestManager_Advance_DivergedOnVanishingLikelihood(t *testing.T) {
	t.Parallel()

	mgr, state, post := newTestManager(t, 2, 23)
	require.NoError(t, mgr.Advance(context.Background(), 2))

	before := cloneState(t, state)

	post.vanished.Store(true)

	err := mgr.Advance(context.Background(), 2)

	var divErr *DivergedError
	require.ErrorAs(t, err, &divErr)
	assert.Equal(t, 3, divErr.Iteration)
	assert.Empty(t, cmp.Diff(before, state))
}

func TestDiverging(t *testing.T) {
	t.Parallel()

	inf := math.Inf(1)

	tests := []struct {
		name     string
		logPrior float64
		logL     float64
		want     bool
	}{
		{name: "finite", logPrior: 0, logL: -3, want: false},
		{name: "outside_support", logPrior: -inf, logL: -inf, want: false},
		{name: "nan_prior", logPrior: math.NaN(), logL: 0, want: true},
		{name: "inf_prior", logPrior: inf, logL: 0, want: true},
		{name: "nan_likelihood", logPrior: 0, logL: math.NaN(), want: true},
		{name: "inf_likelihood", logPrior: 0, logL: inf, want: true},
		{name: "vanishing_likelihood", logPrior: 0, logL: -inf, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, diverging(tt.logPrior, tt.logL))
		})
	}
}

func TestManager_Advance_RespectsThinning(t *testing.T) {
	t.Parallel()

	mgr, state, _ := newTestManager(t, 2, 5)
	require.NoError(t, mgr.Advance(context.Background(), 4))

	state.Thin = 3

	require.NoError(t, mgr.Advance(context.Background(), 7))

	// Stored at 1..4, then 7 and 10.
	assert.Equal(t, 6, state.StoredSamples())
	assert.Equal(t, 10, state.LastStored)
	assert.Equal(t, 11, state.Iteration)
}

func TestManager_SamplesSince(t *testing.T) {
	t.Parallel()

	mgr, state, _ := newTestManager(t, 2, 9)
	require.NoError(t, mgr.Advance(context.Background(), 6))

	since := mgr.SamplesSince(4)
	require.Len(t, since, len(state.Chains))

	for i, samples := range since {
		assert.Len(t, samples, 2*state.NDim())
		assert.Equal(t, state.Chains[i].Samples[4*state.NDim():], samples)
	}

	assert.Empty(t, mgr.SamplesSince(6)[0])
}

func TestRunState_StoredIndexing(t *testing.T) {
	t.Parallel()

	state := &RunState{
		Params:     []string{"x"},
		NWalkers:   2,
		Chains:     []Chain{{LogLikelihood: make([]float64, 4)}, {LogLikelihood: make([]float64, 4)}},
		Thin:       5,
		LastStored: 40,
	}

	assert.Equal(t, 25, state.StoredIteration(0))
	assert.Equal(t, 40, state.StoredIteration(3))
	assert.Equal(t, 0, state.FirstStoredAfter(0))
	assert.Equal(t, 1, state.FirstStoredAfter(25))
	assert.Equal(t, 1, state.FirstStoredAfter(26))
	assert.Equal(t, 2, state.FirstStoredAfter(30))
	assert.Equal(t, 4, state.FirstStoredAfter(40))
}

func TestLadder(t *testing.T) {
	t.Parallel()

	ladder, err := GeometricLadder(4, 8)
	require.NoError(t, err)
	require.Len(t, ladder, 4)
	assert.InDelta(t, 1.0, ladder[0], 1e-12)
	assert.InDelta(t, 0.125, ladder[3], 1e-12)
	assert.InDeltaSlice(t, []float64{1, 2, 4, 8}, ladder.Temperatures(), 1e-9)

	def, err := GeometricLadder(3, 0)
	require.NoError(t, err)
	assert.InDelta(t, 0.25, def[2], 1e-12)

	_, err = NewLadder([]float64{1, 0.5, 0.5})
	require.ErrorIs(t, err, ErrInvalidLadder)

	_, err = NewLadder([]float64{0.9})
	require.ErrorIs(t, err, ErrInvalidLadder)

	single, err := GeometricLadder(1, 0)
	require.NoError(t, err)
	assert.Equal(t, Ladder{1}, single)
}

func cloneState(t *testing.T, state *RunState) *RunState {
	t.Helper()

	out := *state
	out.Params = append([]string(nil), state.Params...)
	out.Betas = append(Ladder(nil), state.Betas...)
	out.RNG = append([]byte(nil), state.RNG...)
	out.SwapsProposed = append([]int(nil), state.SwapsProposed...)
	out.SwapsAccepted = append([]int(nil), state.SwapsAccepted...)
	out.Chains = make([]Chain, len(state.Chains))

	for i, c := range state.Chains {
		out.Chains[i] = Chain{
			Samples:              append([]float64(nil), c.Samples...),
			LogLikelihood:        append([]float64(nil), c.LogLikelihood...),
			LogPrior:             append([]float64(nil), c.LogPrior...),
			Position:             append([]float64(nil), c.Position...),
			CurrentLogLikelihood: c.CurrentLogLikelihood,
			CurrentLogPrior:      c.CurrentLogPrior,
			Accepted:             c.Accepted,
			Proposed:             c.Proposed,
		}
	}

	return &out
}
