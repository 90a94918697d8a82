package sampler

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidLadder indicates a temperature ladder that is not strictly decreasing from 1.0.
var ErrInvalidLadder = errors.New("invalid temperature ladder")

// DefaultMaxTemperatureStep is the temperature ratio between adjacent rungs
// used when no maximum temperature is configured.
const DefaultMaxTemperatureStep = 2.0

// Ladder is an ordered sequence of inverse temperatures (betas).
// Index 0 is the posterior rung (beta = 1).
type Ladder []float64

// NewLadder validates betas and returns them as a Ladder.
func NewLadder(betas []float64) (Ladder, error) {
	if len(betas) == 0 {
		return nil, fmt.Errorf("%w: no temperatures", ErrInvalidLadder)
	}

	if betas[0] != 1 {
		return nil, fmt.Errorf("%w: first beta must be 1, got %g", ErrInvalidLadder, betas[0])
	}

	for i := 1; i < len(betas); i++ {
		if !(betas[i] > 0) || betas[i] >= betas[i-1] {
			return nil, fmt.Errorf("%w: beta[%d]=%g must be positive and below beta[%d]=%g",
				ErrInvalidLadder, i, betas[i], i-1, betas[i-1])
		}
	}

	out := make(Ladder, len(betas))
	copy(out, betas)

	return out, nil
}

// GeometricLadder builds ntemps betas spaced geometrically between 1 and 1/maxTemperature.
// A non-positive maxTemperature doubles the temperature at every rung.
func GeometricLadder(ntemps int, maxTemperature float64) (Ladder, error) {
	if ntemps < 1 {
		return nil, fmt.Errorf("%w: ntemps must be positive, got %d", ErrInvalidLadder, ntemps)
	}

	if ntemps == 1 {
		return Ladder{1}, nil
	}

	if maxTemperature <= 0 {
		maxTemperature = math.Pow(DefaultMaxTemperatureStep, float64(ntemps-1))
	}

	if maxTemperature <= 1 || math.IsInf(maxTemperature, 0) {
		return nil, fmt.Errorf("%w: max temperature must be finite and above 1, got %g", ErrInvalidLadder, maxTemperature)
	}

	betas := make([]float64, ntemps)
	for i := range betas {
		betas[i] = math.Pow(maxTemperature, -float64(i)/float64(ntemps-1))
	}

	betas[0] = 1

	return NewLadder(betas)
}

// NTemps returns the number of rungs.
func (l Ladder) NTemps() int {
	return len(l)
}

// Temperatures returns 1/beta for every rung.
func (l Ladder) Temperatures() []float64 {
	temps := make([]float64, len(l))
	for i, beta := range l {
		temps[i] = 1 / beta
	}

	return temps
}
