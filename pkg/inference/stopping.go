package inference

import (
	"fmt"

	"github.com/Sumatoshi-tech/gwinfer/pkg/config"
)

// StoppingCondition ends a run. A zero field is unset; when both are set the
// run stops at whichever is reached first.
type StoppingCondition struct {
	// NIterations stops the run exactly at this iteration.
	NIterations int

	// EffectiveNSamples stops the run once this many independent posterior
	// samples exist. Checked only at checkpoint boundaries.
	EffectiveNSamples int
}

// StoppingFromConfig returns the stopping condition configured in cfg.
func StoppingFromConfig(cfg *config.Config) StoppingCondition {
	return StoppingCondition{
		NIterations:       cfg.Sampler.NIterations,
		EffectiveNSamples: cfg.Sampler.EffectiveNSamples,
	}
}

// Validate checks the condition against the checkpoint interval. Errors wrap
// config.ErrConfiguration.
func (s StoppingCondition) Validate(checkpointInterval int) error {
	if s.NIterations <= 0 && s.EffectiveNSamples <= 0 {
		return fmt.Errorf("%w: %w", config.ErrConfiguration, config.ErrNoStoppingCondition)
	}

	if s.EffectiveNSamples > 0 && checkpointInterval <= 0 {
		return fmt.Errorf("%w: %w", config.ErrConfiguration, config.ErrNeedCheckpointInterval)
	}

	return nil
}

// Reached reports whether a run at iteration with effectiveSamples
// independent samples is done, and why.
func (s StoppingCondition) Reached(iteration, effectiveSamples int) (bool, string) {
	if s.NIterations > 0 && iteration >= s.NIterations {
		return true, "niterations"
	}

	if s.EffectiveNSamples > 0 && effectiveSamples >= s.EffectiveNSamples {
		return true, "effective-nsamples"
	}

	return false, ""
}

// nextBatch returns the number of iterations to run before the next
// checkpoint boundary.
func (s StoppingCondition) nextBatch(iteration, checkpointInterval int) int {
	n := checkpointInterval

	if s.NIterations > 0 {
		remaining := s.NIterations - iteration
		if n <= 0 || n > remaining {
			n = remaining
		}
	}

	return n
}
