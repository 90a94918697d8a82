package config

// Sampler defaults.
const (
	DefaultSamplerName = "emcee_pt"
	DefaultNWalkers    = 100
	DefaultNTemps      = 1
)

// Model names.
const (
	ModelNormal     = "test_normal"
	ModelRosenbrock = "test_rosenbrock"
	ModelEggbox     = "test_eggbox"
)

// PriorUniform is the only supported prior distribution.
const PriorUniform = "uniform"

// Ledger backends.
const (
	LedgerNone     = "none"
	LedgerSQLite   = "sqlite"
	LedgerRedis    = "redis"
	LedgerPostgres = "postgres"
)

// DefaultLedgerPrefix is the key prefix of the Redis ledger.
const DefaultLedgerPrefix = "gwinfer:"
