// Package model provides analytic test posteriors over a uniform prior box.
// They exercise the sampler end to end; they are not a likelihood library.
package model

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/Sumatoshi-tech/gwinfer/pkg/config"
	"github.com/Sumatoshi-tech/gwinfer/pkg/sampler"
)

// ErrUnknownModel is returned for model names without an implementation.
var ErrUnknownModel = errors.New("unknown model")

// Model is a posterior that can also draw walker starting points.
type Model interface {
	sampler.Posterior
	sampler.Initializer

	Name() string
}

// Box is a uniform prior over an axis-aligned box.
type Box struct {
	Min []float64
	Max []float64

	logVolume float64
}

// NewBox returns the uniform prior on [lo[i], hi[i]] for every dimension.
func NewBox(lo, hi []float64) (*Box, error) {
	if len(lo) != len(hi) || len(lo) == 0 {
		return nil, fmt.Errorf("prior box: %d lower and %d upper bounds", len(lo), len(hi))
	}

	var logVolume float64

	for i := range lo {
		if !(lo[i] < hi[i]) {
			return nil, fmt.Errorf("prior box: dimension %d: min %g not below max %g", i, lo[i], hi[i])
		}

		logVolume += math.Log(hi[i] - lo[i])
	}

	return &Box{Min: lo, Max: hi, logVolume: logVolume}, nil
}

// LogPrior returns -log(volume) inside the box and -Inf outside.
func (b *Box) LogPrior(params []float64) float64 {
	for i, v := range params {
		if v < b.Min[i] || v > b.Max[i] {
			return math.Inf(-1)
		}
	}

	return -b.logVolume
}

// Initial draws a point uniformly from the box.
func (b *Box) Initial(rng *rand.Rand) []float64 {
	out := make([]float64, len(b.Min))
	for i := range out {
		out[i] = b.Min[i] + rng.Float64()*(b.Max[i]-b.Min[i])
	}

	return out
}

// Normal is an uncorrelated multivariate normal likelihood.
type Normal struct {
	*Box

	Mean  []float64
	Sigma []float64
}

// Name implements Model.
func (n *Normal) Name() string { return config.ModelNormal }

// LogLikelihood implements sampler.Posterior.
func (n *Normal) LogLikelihood(params []float64) float64 {
	var sum float64

	for i, v := range params {
		z := (v - n.Mean[i]) / n.Sigma[i]
		sum += z * z
	}

	return -0.5 * sum
}

// Rosenbrock is the negated N-dimensional Rosenbrock function. Its maximum
// is 0 at (1, ..., 1).
type Rosenbrock struct {
	*Box
}

// Name implements Model.
func (r *Rosenbrock) Name() string { return config.ModelRosenbrock }

// LogLikelihood implements sampler.Posterior.
func (r *Rosenbrock) LogLikelihood(params []float64) float64 {
	var sum float64

	for i := range len(params) - 1 {
		a := params[i+1] - params[i]*params[i]
		b := 1 - params[i]
		sum += 100*a*a + b*b
	}

	return -sum
}

// Eggbox is the multimodal log-likelihood (2 + prod cos(x_i/2))^5.
type Eggbox struct {
	*Box
}

// Name implements Model.
func (e *Eggbox) Name() string { return config.ModelEggbox }

// LogLikelihood implements sampler.Posterior.
func (e *Eggbox) LogLikelihood(params []float64) float64 {
	prod := 1.0
	for _, v := range params {
		prod *= math.Cos(v / 2)
	}

	return math.Pow(2+prod, 5)
}

// New builds the model and prior named by cfg. Parameters appear in
// cfg.VariableParams order.
func New(cfg *config.Config) (Model, error) {
	ndim := len(cfg.VariableParams)
	lo := make([]float64, ndim)
	hi := make([]float64, ndim)

	for i, param := range cfg.VariableParams {
		prior, ok := cfg.PriorFor(param)
		if !ok {
			return nil, fmt.Errorf("%w: %s", config.ErrMissingPrior, param)
		}

		lo[i], hi[i] = prior.Min, prior.Max
	}

	box, err := NewBox(lo, hi)
	if err != nil {
		return nil, err
	}

	switch cfg.Model.Name {
	case config.ModelNormal:
		mean := make([]float64, ndim)
		sigma := make([]float64, ndim)

		for i, param := range cfg.VariableParams {
			mean[i] = cfg.Model.MeanOf(param)
			sigma[i] = cfg.Model.SigmaOf(param)
		}

		return &Normal{Box: box, Mean: mean, Sigma: sigma}, nil
	case config.ModelRosenbrock:
		return &Rosenbrock{Box: box}, nil
	case config.ModelEggbox:
		return &Eggbox{Box: box}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, cfg.Model.Name)
	}
}
