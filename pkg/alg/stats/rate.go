package stats

import "time"

// IterationRate tracks a smoothed wall-clock cost per sampler iteration from
// batch timings and projects the time left in a run.
type IterationRate struct {
	alpha    float64
	seconds  float64
	observed bool
}

// NewIterationRate creates a rate whose latest batch carries weight alpha in (0, 1].
func NewIterationRate(alpha float64) *IterationRate {
	return &IterationRate{alpha: alpha}
}

// Observe records a batch of iterations that took elapsed. Empty batches
// are ignored. The first batch sets the rate outright.
func (r *IterationRate) Observe(elapsed time.Duration, iterations int) {
	if iterations <= 0 {
		return
	}

	perIteration := elapsed.Seconds() / float64(iterations)

	if !r.observed {
		r.seconds = perIteration
		r.observed = true

		return
	}

	r.seconds = r.alpha*perIteration + (1-r.alpha)*r.seconds
}

// PerIteration returns the smoothed cost of one iteration, 0 before any batch.
func (r *IterationRate) PerIteration() time.Duration {
	return time.Duration(r.seconds * float64(time.Second))
}

// Remaining projects how long the given number of iterations will take.
// It reports false until a batch has been observed.
func (r *IterationRate) Remaining(iterations int) (time.Duration, bool) {
	if !r.observed {
		return 0, false
	}

	return time.Duration(r.seconds * float64(max(iterations, 0)) * float64(time.Second)), true
}
