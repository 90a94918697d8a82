package sampler

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"runtime"
	"sync"
)

// ErrInitialization indicates walkers could not be placed on finite posterior points.
var ErrInitialization = errors.New("could not initialize walkers")

// stretchScale is the Goodman-Weare stretch move scale parameter a.
const stretchScale = 2.0

// maxInitialDraws bounds redraws of a starting position with non-finite posterior.
const maxInitialDraws = 1000

// Manager owns a RunState and serializes every mutation of it.
type Manager struct {
	mu        sync.Mutex
	state     *RunState
	posterior Posterior
	workers   int
}

// NewManager creates a manager. Non-positive workers uses the CPU count.
func NewManager(state *RunState, posterior Posterior, workers int) *Manager {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	return &Manager{state: state, posterior: posterior, workers: workers}
}

// CurrentIteration returns the number of completed iterations.
func (m *Manager) CurrentIteration() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state.Iteration
}

// SamplesSince returns copies of the stored samples taken after iteration,
// one flattened slice per chain.
func (m *Manager) SamplesSince(iteration int) [][]float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	ndim := m.state.NDim()
	from := m.state.FirstStoredAfter(iteration)
	out := make([][]float64, len(m.state.Chains))

	for i := range m.state.Chains {
		src := m.state.Chains[i].Samples[from*ndim:]
		out[i] = append([]float64(nil), src...)
	}

	return out
}

// Locked runs fn with exclusive access to the run state.
func (m *Manager) Locked(fn func(*RunState) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return fn(m.state)
}

// Initialize places every walker on a point with finite prior and likelihood.
func (m *Manager) Initialize(ctx context.Context, init Initializer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	state := m.state

	pcg, err := state.loadRNG()
	if err != nil {
		return err
	}

	rng := rand.New(pcg)
	pending := make([]int, len(state.Chains))

	for i := range pending {
		pending[i] = i
	}

	for draw := 0; len(pending) > 0; draw++ {
		if draw >= maxInitialDraws {
			return fmt.Errorf("%w: %d walkers still non-finite after %d draws", ErrInitialization, len(pending), maxInitialDraws)
		}

		ctxErr := ctx.Err()
		if ctxErr != nil {
			return ctxErr
		}

		props := make([]proposal, len(pending))
		for k, chainIdx := range pending {
			props[k] = proposal{chain: chainIdx, params: init.Initial(rng)}
		}

		evaluate(m.posterior, props, m.workers)

		pending = pending[:0]

		for k := range props {
			p := &props[k]
			if !finite(p.logPrior) || !finite(p.logL) {
				pending = append(pending, p.chain)

				continue
			}

			chain := &state.Chains[p.chain]
			chain.Position = p.params
			chain.CurrentLogPrior = p.logPrior
			chain.CurrentLogLikelihood = p.logL
		}
	}

	rngState, err := pcg.MarshalBinary()
	if err != nil {
		return fmt.Errorf("marshal rng: %w", err)
	}

	state.RNG = rngState

	return nil
}

// Advance runs n iterations. The run state is only modified if all n
// iterations complete; cancellation or divergence discards the batch.
func (m *Manager) Advance(ctx context.Context, n int) error {
	if n <= 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	b, err := newBatch(m.state)
	if err != nil {
		return err
	}

	for range n {
		ctxErr := ctx.Err()
		if ctxErr != nil {
			return fmt.Errorf("batch discarded at iteration %d: %w", b.iteration, ctxErr)
		}

		stepErr := b.step(m.posterior, m.workers)
		if stepErr != nil {
			return stepErr
		}
	}

	return b.commit()
}

// proposal is one posterior evaluation request.
type proposal struct {
	chain    int
	params   []float64
	logZ     float64
	logU     float64
	logPrior float64
	logL     float64
}

// evaluate fills logPrior and logL for every proposal using a bounded worker pool.
// It returns once every evaluation has finished.
func evaluate(posterior Posterior, props []proposal, workers int) {
	eval := func(p *proposal) {
		p.logPrior = posterior.LogPrior(p.params)
		if math.IsInf(p.logPrior, -1) {
			p.logL = math.Inf(-1)

			return
		}

		p.logL = posterior.LogLikelihood(p.params)
	}

	workers = min(workers, len(props))
	if workers <= 1 {
		for i := range props {
			eval(&props[i])
		}

		return
	}

	jobs := make(chan int)

	var wg sync.WaitGroup

	for range workers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for i := range jobs {
				eval(&props[i])
			}
		}()
	}

	for i := range props {
		jobs <- i
	}

	close(jobs)
	wg.Wait()
}

// batch stages the evolution of a run state until commit.
type batch struct {
	state *RunState
	pcg   *rand.PCG
	rng   *rand.Rand

	pos      [][]float64
	logL     []float64
	logPrior []float64
	accepted []int
	proposed []int

	swapsProposed []int
	swapsAccepted []int

	iteration  int
	lastStored int

	samples  [][]float64
	storedL  [][]float64
	storedLP [][]float64
}

func newBatch(state *RunState) (*batch, error) {
	pcg, err := state.loadRNG()
	if err != nil {
		return nil, err
	}

	n := len(state.Chains)
	b := &batch{
		state:         state,
		pcg:           pcg,
		rng:           rand.New(pcg),
		pos:           make([][]float64, n),
		logL:          make([]float64, n),
		logPrior:      make([]float64, n),
		accepted:      make([]int, n),
		proposed:      make([]int, n),
		swapsProposed: append([]int(nil), state.SwapsProposed...),
		swapsAccepted: append([]int(nil), state.SwapsAccepted...),
		iteration:     state.Iteration,
		lastStored:    state.LastStored,
		samples:       make([][]float64, n),
		storedL:       make([][]float64, n),
		storedLP:      make([][]float64, n),
	}

	for i := range state.Chains {
		chain := &state.Chains[i]
		b.pos[i] = append([]float64(nil), chain.Position...)
		b.logL[i] = chain.CurrentLogLikelihood
		b.logPrior[i] = chain.CurrentLogPrior
		b.accepted[i] = chain.Accepted
		b.proposed[i] = chain.Proposed
	}

	return b, nil
}

// step performs one iteration: two stretch half-steps, then temperature swaps.
func (b *batch) step(posterior Posterior, workers int) error {
	nw := b.state.NWalkers
	half := nw / 2

	for set := range 2 {
		props := b.propose(set*half, (1-set)*half, half)

		evaluate(posterior, props, workers)

		divErr := b.checkDivergence(props, half)
		if divErr != nil {
			return divErr
		}

		b.accept(props)
	}

	b.swap()

	b.iteration++
	if b.iteration-b.lastStored == b.state.Thin {
		b.store()
		b.lastStored = b.iteration
	}

	return nil
}

// propose draws stretch moves for walkers [start, start+size) against the
// complementary half starting at other, for every temperature.
func (b *batch) propose(start, other, size int) []proposal {
	ndim := b.state.NDim()
	props := make([]proposal, 0, b.state.NTemps()*size)

	for t := range b.state.NTemps() {
		base := t * b.state.NWalkers

		for k := start; k < start+size; k++ {
			j := base + other + b.rng.IntN(size)
			u := b.rng.Float64()
			z := math.Pow((stretchScale-1)*u+1, 2) / stretchScale

			params := make([]float64, ndim)
			for d := range params {
				params[d] = b.pos[j][d] + z*(b.pos[base+k][d]-b.pos[j][d])
			}

			props = append(props, proposal{
				chain:  base + k,
				params: params,
				logZ:   float64(ndim-1) * math.Log(z),
				logU:   math.Log(b.rng.Float64()),
			})
		}
	}

	return props
}

func (b *batch) checkDivergence(props []proposal, perTemp int) error {
	for t := range b.state.NTemps() {
		bad := 0

		for _, p := range props[t*perTemp : (t+1)*perTemp] {
			if diverging(p.logPrior, p.logL) {
				bad++
			}
		}

		if bad == perTemp {
			return &DivergedError{Temperature: t, Beta: b.state.Betas[t], Iteration: b.iteration + 1}
		}
	}

	return nil
}

func (b *batch) accept(props []proposal) {
	for k := range props {
		p := &props[k]
		c := p.chain
		b.proposed[c]++

		if !finite(p.logPrior) || !finite(p.logL) {
			continue
		}

		beta := b.state.Betas[c/b.state.NWalkers]
		lnpdiff := p.logZ + beta*(p.logL-b.logL[c]) + p.logPrior - b.logPrior[c]

		if p.logU < lnpdiff {
			b.pos[c] = p.params
			b.logL[c] = p.logL
			b.logPrior[c] = p.logPrior
			b.accepted[c]++
		}
	}
}

// swap proposes exchanges between adjacent temperatures for every walker,
// from the hottest pair down to the coldest.
func (b *batch) swap() {
	nw := b.state.NWalkers
	betas := b.state.Betas

	for w := range nw {
		for t := len(betas) - 1; t > 0; t-- {
			cold := (t-1)*nw + w
			hot := t*nw + w

			b.swapsProposed[t-1]++

			raccept := (betas[t-1] - betas[t]) * (b.logL[hot] - b.logL[cold])
			if math.Log(b.rng.Float64()) < raccept {
				b.pos[cold], b.pos[hot] = b.pos[hot], b.pos[cold]
				b.logL[cold], b.logL[hot] = b.logL[hot], b.logL[cold]
				b.logPrior[cold], b.logPrior[hot] = b.logPrior[hot], b.logPrior[cold]
				b.swapsAccepted[t-1]++
			}
		}
	}
}

func (b *batch) store() {
	for i := range b.pos {
		b.samples[i] = append(b.samples[i], b.pos[i]...)
		b.storedL[i] = append(b.storedL[i], b.logL[i])
		b.storedLP[i] = append(b.storedLP[i], b.logPrior[i])
	}
}

// commit merges the staged batch into the run state.
func (b *batch) commit() error {
	rngState, err := b.pcg.MarshalBinary()
	if err != nil {
		return fmt.Errorf("marshal rng: %w", err)
	}

	state := b.state

	for i := range state.Chains {
		chain := &state.Chains[i]
		chain.Samples = append(chain.Samples, b.samples[i]...)
		chain.LogLikelihood = append(chain.LogLikelihood, b.storedL[i]...)
		chain.LogPrior = append(chain.LogPrior, b.storedLP[i]...)
		chain.Position = b.pos[i]
		chain.CurrentLogLikelihood = b.logL[i]
		chain.CurrentLogPrior = b.logPrior[i]
		chain.Accepted = b.accepted[i]
		chain.Proposed = b.proposed[i]
	}

	state.SwapsProposed = b.swapsProposed
	state.SwapsAccepted = b.swapsAccepted
	state.Iteration = b.iteration
	state.LastStored = b.lastStored
	state.RNG = rngState

	return nil
}
