package config

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/Sumatoshi-tech/gwinfer/pkg/sampler"
)

// Sentinel validation errors. Each is reported wrapped together with ErrConfiguration.
var (
	ErrNoStoppingCondition    = errors.New("one of niterations or effective-nsamples is required")
	ErrNeedCheckpointInterval = errors.New("effective-nsamples requires checkpoint-interval")
	ErrMissingPrior           = errors.New("variable parameter has no prior")
	ErrInvalidPrior           = errors.New("invalid prior bounds")
	ErrInvalidWalkers         = errors.New("invalid nwalkers")
	ErrInvalidModel           = errors.New("invalid model")
	ErrInvalidLedger          = errors.New("invalid ledger settings")
)

var knownModels = []string{ModelNormal, ModelRosenbrock, ModelEggbox}

// Validate checks every semantic constraint the schema cannot express.
func (c *Config) Validate() error {
	err := errors.Join(
		c.validateModel(),
		c.validatePriors(),
		c.Sampler.validate(),
		c.Ledger.validate(),
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	_, err = c.Sampler.BurnInEvaluator()

	return err
}

func (c *Config) validateModel() error {
	if !slices.Contains(knownModels, c.Model.Name) {
		return fmt.Errorf("%w: unknown model %q", ErrInvalidModel, c.Model.Name)
	}

	if c.Model.Name == ModelRosenbrock && len(c.VariableParams) < 2 {
		return fmt.Errorf("%w: %s needs at least two parameters", ErrInvalidModel, ModelRosenbrock)
	}

	for _, param := range c.VariableParams {
		sigma := c.Model.SigmaOf(param)
		if !(sigma > 0) || math.IsInf(sigma, 0) {
			return fmt.Errorf("%w: sigma of %s must be positive, got %g", ErrInvalidModel, param, sigma)
		}
	}

	return nil
}

func (c *Config) validatePriors() error {
	if len(c.VariableParams) == 0 {
		return sampler.ErrNoParams
	}

	for _, param := range c.VariableParams {
		prior, ok := c.PriorFor(param)
		if !ok {
			return fmt.Errorf("%w: %s", ErrMissingPrior, param)
		}

		if prior.Name != PriorUniform {
			return fmt.Errorf("%w: %s: unsupported distribution %q", ErrInvalidPrior, param, prior.Name)
		}

		if !(prior.Min < prior.Max) || math.IsInf(prior.Min, 0) || math.IsInf(prior.Max, 0) {
			return fmt.Errorf("%w: %s: min %g must be below max %g", ErrInvalidPrior, param, prior.Min, prior.Max)
		}
	}

	return nil
}

func (s SamplerConfig) validate() error {
	var errs []error

	if s.NWalkers < 2 || s.NWalkers%2 != 0 {
		errs = append(errs, fmt.Errorf("%w: must be even and at least 2, got %d", ErrInvalidWalkers, s.NWalkers))
	}

	if s.NIterations <= 0 && s.EffectiveNSamples <= 0 {
		errs = append(errs, ErrNoStoppingCondition)
	}

	if s.EffectiveNSamples > 0 && s.CheckpointInterval <= 0 {
		errs = append(errs, ErrNeedCheckpointInterval)
	}

	if len(s.Betas) > 0 && s.NTemps > 1 && s.NTemps != len(s.Betas) {
		errs = append(errs, fmt.Errorf("%w: ntemps %d disagrees with %d betas",
			sampler.ErrInvalidLadder, s.NTemps, len(s.Betas)))
	}

	_, err := s.Ladder()
	if err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func (l LedgerConfig) validate() error {
	switch l.Backend {
	case "", LedgerNone:
		return nil
	case LedgerSQLite, LedgerPostgres:
		if l.DSN == "" {
			return fmt.Errorf("%w: %s backend needs dsn", ErrInvalidLedger, l.Backend)
		}
	case LedgerRedis:
		if l.Addr == "" {
			return fmt.Errorf("%w: redis backend needs addr", ErrInvalidLedger)
		}
	default:
		return fmt.Errorf("%w: unknown backend %q", ErrInvalidLedger, l.Backend)
	}

	return nil
}
