package sampler

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
)

// ErrSamplerDiverged is the sentinel matched by [DivergedError].
var ErrSamplerDiverged = errors.New("sampler diverged")

// Posterior evaluates the log prior and log likelihood of a parameter vector.
// Implementations must be safe for concurrent use.
type Posterior interface {
	// LogPrior returns the log prior density; -Inf outside the prior support.
	LogPrior(params []float64) float64

	// LogLikelihood returns the log likelihood.
	LogLikelihood(params []float64) float64
}

// Initializer draws starting positions for walkers.
type Initializer interface {
	Initial(rng *rand.Rand) []float64
}

// DivergedError reports that every walker at a temperature produced a
// non-finite posterior value.
type DivergedError struct {
	Temperature int
	Beta        float64
	Iteration   int
}

func (e *DivergedError) Error() string {
	return fmt.Sprintf("%s: all walkers non-finite at temperature %d (beta=%g) in iteration %d",
		ErrSamplerDiverged, e.Temperature, e.Beta, e.Iteration)
}

func (e *DivergedError) Unwrap() error {
	return ErrSamplerDiverged
}

// diverging reports a proposal whose posterior is non-finite for a reason
// other than lying outside the prior support. A -Inf prior is an ordinary
// rejection; NaN or +Inf anywhere, or a non-finite likelihood inside the
// support, is not.
func diverging(logPrior, logL float64) bool {
	if math.IsNaN(logPrior) || math.IsInf(logPrior, 1) {
		return true
	}

	return !math.IsInf(logPrior, -1) && !finite(logL)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
