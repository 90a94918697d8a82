package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Fingerprint returns the canonical text of every setting a resumed run must
// share with the run that wrote the checkpoint: the model, the parameters and
// their priors, the ensemble size and the temperature ladder. Stopping
// conditions, checkpoint cadence and worker count may change between resumes.
// One setting per line so mismatches diff cleanly.
func (c *Config) Fingerprint() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "model.name=%s\n", c.Model.Name)
	fmt.Fprintf(&sb, "variable_params=%s\n", strings.Join(c.VariableParams, ","))

	for _, param := range c.VariableParams {
		if c.Model.Name == ModelNormal {
			fmt.Fprintf(&sb, "model.mean.%s=%s\n", param, formatFloat(c.Model.MeanOf(param)))
			fmt.Fprintf(&sb, "model.sigma.%s=%s\n", param, formatFloat(c.Model.SigmaOf(param)))
		}

		prior, _ := c.PriorFor(param)
		fmt.Fprintf(&sb, "prior.%s=%s[%s,%s]\n", param, prior.Name, formatFloat(prior.Min), formatFloat(prior.Max))
	}

	fmt.Fprintf(&sb, "sampler.name=%s\n", c.Sampler.Name)
	fmt.Fprintf(&sb, "sampler.nwalkers=%d\n", c.Sampler.NWalkers)

	ladder, err := c.Sampler.Ladder()
	if err != nil {
		fmt.Fprintf(&sb, "sampler.betas=invalid\n")

		return sb.String()
	}

	betas := make([]string, len(ladder))
	for i, beta := range ladder {
		betas[i] = formatFloat(beta)
	}

	fmt.Fprintf(&sb, "sampler.betas=%s\n", strings.Join(betas, ","))

	return sb.String()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
