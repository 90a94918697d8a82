// Package report renders checkpoint and output files for people: summary
// tables, JSON or YAML documents and HTML trace plots.
package report

import (
	"fmt"
	"os"

	"github.com/Sumatoshi-tech/gwinfer/pkg/alg/stats"
	"github.com/Sumatoshi-tech/gwinfer/pkg/checkpoint"
	"github.com/Sumatoshi-tech/gwinfer/pkg/persist"
)

// ParamSummary holds posterior statistics of one variable parameter.
type ParamSummary struct {
	Name   string  `json:"name"   yaml:"name"`
	Mean   float64 `json:"mean"   yaml:"mean"`
	StdDev float64 `json:"stddev" yaml:"stddev"`
	P05    float64 `json:"p05"    yaml:"p05"`
	Median float64 `json:"median" yaml:"median"`
	P95    float64 `json:"p95"    yaml:"p95"`
}

// Summary describes one record file.
type Summary struct {
	Path           string `json:"path"            yaml:"path"`
	FileSize       int64  `json:"file_size"       yaml:"file_size"`
	FormatVersion  uint16 `json:"format_version"  yaml:"format_version"`
	Codec          string `json:"codec"           yaml:"codec"`
	CompressedSize int64  `json:"compressed_size" yaml:"compressed_size"`

	RunID     string `json:"run_id"     yaml:"run_id"`
	Model     string `json:"model"      yaml:"model"`
	CreatedAt string `json:"created_at" yaml:"created_at"`

	Iteration     int       `json:"iteration"      yaml:"iteration"`
	Thin          int       `json:"thin"           yaml:"thin"`
	StoredSamples int       `json:"stored_samples" yaml:"stored_samples"`
	StoredBytes   int64     `json:"stored_bytes"   yaml:"stored_bytes"`
	NWalkers      int       `json:"nwalkers"       yaml:"nwalkers"`
	Betas         []float64 `json:"betas"          yaml:"betas"`
	Temperatures  []float64 `json:"temperatures"   yaml:"temperatures"`

	BurnedIn         bool    `json:"burned_in"         yaml:"burned_in"`
	BurnInIteration  int     `json:"burn_in_iteration" yaml:"burn_in_iteration"`
	EffectiveSamples int     `json:"effective_samples" yaml:"effective_samples"`
	ACL              float64 `json:"acl"               yaml:"acl"`

	AcceptanceFraction float64   `json:"acceptance_fraction"         yaml:"acceptance_fraction"`
	SwapAcceptance     []float64 `json:"swap_acceptance,omitempty"   yaml:"swap_acceptance,omitempty"`

	Params []ParamSummary `json:"params" yaml:"params"`
}

// Load reads the record at path and summarizes it.
func Load(path string) (*Summary, *checkpoint.Record, error) {
	rec, info, err := checkpoint.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", path, err)
	}

	fi, err := os.Stat(path)
	if err != nil {
		return nil, nil, fmt.Errorf("stat %s: %w", path, err)
	}

	s := Summarize(rec, info)
	s.Path = path
	s.FileSize = fi.Size()

	return s, rec, nil
}

// Summarize computes a summary of rec. Parameter statistics use the
// posterior chains after burn-in, or every stored sample before burn-in.
func Summarize(rec *checkpoint.Record, info persist.Info) *Summary {
	state := &rec.State

	s := &Summary{
		FormatVersion:    info.Version,
		Codec:            info.Codec,
		CompressedSize:   info.CompressedSize,
		RunID:            rec.Metadata.RunID,
		Model:            rec.Metadata.Model,
		CreatedAt:        rec.Metadata.CreatedAt,
		Iteration:        state.Iteration,
		Thin:             state.Thin,
		StoredSamples:    state.StoredSamples(),
		StoredBytes:      state.StoredBytes(),
		NWalkers:         state.NWalkers,
		Betas:            append([]float64(nil), state.Betas...),
		Temperatures:     state.Betas.Temperatures(),
		BurnedIn:         state.BurnIn.BurnedIn,
		BurnInIteration:  state.BurnIn.Iteration,
		EffectiveSamples: rec.Metadata.EffectiveSamples,
		ACL:              rec.Metadata.ACL,
	}

	chains := state.PosteriorChains()

	acceptance := make([]float64, len(chains))
	for i := range chains {
		acceptance[i] = chains[i].AcceptanceFraction()
	}

	s.AcceptanceFraction = stats.Mean(acceptance)

	for i, proposed := range state.SwapsProposed {
		rate := 0.0
		if proposed > 0 {
			rate = float64(state.SwapsAccepted[i]) / float64(proposed)
		}

		s.SwapAcceptance = append(s.SwapAcceptance, rate)
	}

	from := 0
	if state.BurnIn.BurnedIn {
		from = state.FirstStoredAfter(state.BurnIn.Iteration)
	}

	ndim := state.NDim()

	for d, name := range state.Params {
		values := make([]float64, 0, len(chains)*(state.StoredSamples()-from))

		for i := range chains {
			for j := from; j < chains[i].Len(); j++ {
				values = append(values, chains[i].Sample(j, ndim)[d])
			}
		}

		mean, stddev := stats.MeanStdDev(values)

		s.Params = append(s.Params, ParamSummary{
			Name:   name,
			Mean:   mean,
			StdDev: stddev,
			P05:    stats.Percentile(values, stats.PercentileP05),
			Median: stats.Median(values),
			P95:    stats.Percentile(values, stats.PercentileP95),
		})
	}

	return s
}
