// Package config loads and validates gwinfer run configuration files.
package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/Sumatoshi-tech/gwinfer/pkg/burnin"
	"github.com/Sumatoshi-tech/gwinfer/pkg/sampler"
)

// ErrConfiguration marks every configuration problem detected before sampling.
var ErrConfiguration = errors.New("configuration error")

const envPrefix = "GWINFER"

// Config holds a complete run configuration.
type Config struct {
	Model          ModelConfig            `mapstructure:"model"`
	VariableParams []string               `mapstructure:"variable_params"`
	Prior          map[string]PriorConfig `mapstructure:"prior"`
	Sampler        SamplerConfig          `mapstructure:"sampler"`
	Ledger         LedgerConfig           `mapstructure:"ledger"`
}

// ModelConfig selects the analytic test model.
type ModelConfig struct {
	Name  string             `mapstructure:"name"`
	Mean  map[string]float64 `mapstructure:"mean"`
	Sigma map[string]float64 `mapstructure:"sigma"`
}

// PriorConfig is the prior of one variable parameter.
type PriorConfig struct {
	Name string  `mapstructure:"name"`
	Min  float64 `mapstructure:"min"`
	Max  float64 `mapstructure:"max"`
}

// SamplerConfig holds the sampler settings. Zero means absent for every
// optional integer setting.
type SamplerConfig struct {
	Name               string       `mapstructure:"name"`
	NWalkers           int          `mapstructure:"nwalkers"`
	NTemps             int          `mapstructure:"ntemps"`
	MaxTemperature     float64      `mapstructure:"max-temperature"`
	Betas              []float64    `mapstructure:"betas"`
	CheckpointInterval int          `mapstructure:"checkpoint-interval"`
	NIterations        int          `mapstructure:"niterations"`
	EffectiveNSamples  int          `mapstructure:"effective-nsamples"`
	MaxSamplesPerChain int          `mapstructure:"max-samples-per-chain"`
	NProcesses         int          `mapstructure:"nprocesses"`
	Seed               uint64       `mapstructure:"seed"`
	BurnIn             BurnInConfig `mapstructure:"burn-in"`
}

// BurnInConfig configures the burn-in evaluator.
type BurnInConfig struct {
	Test          string  `mapstructure:"burn-in-test"`
	NACLs         float64 `mapstructure:"nacls"`
	MinIterations int     `mapstructure:"min-iterations"`
}

// LedgerConfig selects the run ledger backend.
type LedgerConfig struct {
	Backend string `mapstructure:"backend"`
	DSN     string `mapstructure:"dsn"`
	Addr    string `mapstructure:"addr"`
	Prefix  string `mapstructure:"prefix"`
}

// LoadConfig reads path, validates it against the embedded schema, applies
// defaults and GWINFER_ environment overrides, then validates the result.
// Every validation failure wraps ErrConfiguration.
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var doc any

	err = yaml.Unmarshal(raw, &doc)
	if err != nil {
		return nil, fmt.Errorf("%w: parse %s: %w", ErrConfiguration, path, err)
	}

	err = validateSchema(doc)
	if err != nil {
		return nil, err
	}

	viperCfg := viper.New()
	setDefaults(viperCfg)

	viperCfg.SetConfigFile(path)
	viperCfg.SetConfigType("yaml")
	viperCfg.SetEnvPrefix(envPrefix)
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viperCfg.AutomaticEnv()

	err = viperCfg.ReadInConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config

	err = viperCfg.Unmarshal(&config)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal config: %w", ErrConfiguration, err)
	}

	err = config.Validate()
	if err != nil {
		return nil, err
	}

	return &config, nil
}

// setDefaults sets default configuration values.
func setDefaults(viperCfg *viper.Viper) {
	viperCfg.SetDefault("sampler.name", DefaultSamplerName)
	viperCfg.SetDefault("sampler.nwalkers", DefaultNWalkers)
	viperCfg.SetDefault("sampler.ntemps", DefaultNTemps)
	viperCfg.SetDefault("sampler.max-temperature", 0.0)
	viperCfg.SetDefault("sampler.checkpoint-interval", 0)
	viperCfg.SetDefault("sampler.niterations", 0)
	viperCfg.SetDefault("sampler.effective-nsamples", 0)
	viperCfg.SetDefault("sampler.max-samples-per-chain", 0)
	viperCfg.SetDefault("sampler.nprocesses", 0)
	viperCfg.SetDefault("sampler.seed", 0)
	viperCfg.SetDefault("sampler.burn-in.burn-in-test", "")
	viperCfg.SetDefault("sampler.burn-in.nacls", burnin.DefaultNACLs)
	viperCfg.SetDefault("sampler.burn-in.min-iterations", 0)

	viperCfg.SetDefault("ledger.backend", LedgerNone)
	viperCfg.SetDefault("ledger.dsn", "")
	viperCfg.SetDefault("ledger.addr", "")
	viperCfg.SetDefault("ledger.prefix", DefaultLedgerPrefix)
}

// PriorFor returns the prior of param. Keys are matched case-insensitively
// because the loader folds map keys to lower case.
func (c *Config) PriorFor(param string) (PriorConfig, bool) {
	if prior, ok := c.Prior[param]; ok {
		return prior, true
	}

	prior, ok := c.Prior[strings.ToLower(param)]

	return prior, ok
}

// lookupParam reads a per-parameter model setting with the same key folding as PriorFor.
func lookupParam(values map[string]float64, param string) (float64, bool) {
	if v, ok := values[param]; ok {
		return v, true
	}

	v, ok := values[strings.ToLower(param)]

	return v, ok
}

// MeanOf returns the configured mean of param, 0 when unset.
func (m ModelConfig) MeanOf(param string) float64 {
	v, _ := lookupParam(m.Mean, param)

	return v
}

// SigmaOf returns the configured standard deviation of param, 1 when unset.
func (m ModelConfig) SigmaOf(param string) float64 {
	v, ok := lookupParam(m.Sigma, param)
	if !ok {
		return 1
	}

	return v
}

// Ladder builds the temperature ladder from explicit betas or from ntemps
// and max-temperature.
func (s SamplerConfig) Ladder() (sampler.Ladder, error) {
	if len(s.Betas) > 0 {
		return sampler.NewLadder(s.Betas)
	}

	return sampler.GeometricLadder(max(s.NTemps, 1), s.MaxTemperature)
}

// Workers returns the number of posterior evaluation workers.
func (s SamplerConfig) Workers() int {
	if s.NProcesses <= 0 {
		return runtime.NumCPU()
	}

	return s.NProcesses
}

// BurnInRegistry returns the built-in burn-in tests configured by the file.
func (s SamplerConfig) BurnInRegistry() burnin.Registry {
	return burnin.DefaultRegistry(burnin.Options{
		NACLs:         s.BurnIn.NACLs,
		MinIterations: s.BurnIn.MinIterations,
	})
}

// BurnInEvaluator parses the burn-in expression. It returns nil when no
// burn-in test is configured.
func (s SamplerConfig) BurnInEvaluator() (*burnin.Evaluator, error) {
	expr := strings.TrimSpace(s.BurnIn.Test)
	if expr == "" {
		return nil, nil //nolint:nilnil // no expression means no evaluator
	}

	eval, err := burnin.NewEvaluator(expr, s.BurnInRegistry())
	if err != nil {
		return nil, fmt.Errorf("%w: burn-in-test: %w", ErrConfiguration, err)
	}

	return eval, nil
}
