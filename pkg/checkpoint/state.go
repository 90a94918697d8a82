// Package checkpoint persists sampler run state so an interrupted run can
// resume. A run writes {output}.checkpoint at every checkpoint interval,
// keeps the previous one as {output}.bkup, and promotes the checkpoint to
// {output} when the run completes.
package checkpoint

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/Sumatoshi-tech/gwinfer/pkg/sampler"
)

// MetadataVersion is the current checkpoint metadata format version.
const MetadataVersion = 1

// Metadata describes a checkpoint for validation, resume and inspection.
type Metadata struct {
	Version           int    `json:"version"`
	RunID             string `json:"run_id"`
	CreatedAt         string `json:"created_at"`
	Model             string `json:"model"`
	ConfigFingerprint string `json:"config_fingerprint"`

	Iteration     int `json:"iteration"`
	Thin          int `json:"thin"`
	StoredSamples int `json:"stored_samples"`

	BurnedIn         bool    `json:"burned_in"`
	BurnInIteration  int     `json:"burn_in_iteration"`
	EffectiveSamples int     `json:"effective_samples"`
	ACL              float64 `json:"acl"`
}

// Record is the unit written to checkpoint, backup and output files.
type Record struct {
	Metadata Metadata         `json:"metadata"`
	State    sampler.RunState `json:"state"`
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// NewRecord snapshots state with meta. Iteration, stride and burn-in fields
// of meta are filled from state. An unknown ACL is stored as 0. The record
// shares slices with state, so it must be written before state changes.
func NewRecord(state *sampler.RunState, meta Metadata) *Record {
	meta.Version = MetadataVersion
	meta.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	meta.Iteration = state.Iteration
	meta.Thin = state.Thin
	meta.StoredSamples = state.StoredSamples()
	meta.BurnedIn = state.BurnIn.BurnedIn
	meta.BurnInIteration = state.BurnIn.Iteration

	if math.IsInf(meta.ACL, 0) || math.IsNaN(meta.ACL) {
		meta.ACL = 0
	}

	return &Record{Metadata: meta, State: *state}
}
