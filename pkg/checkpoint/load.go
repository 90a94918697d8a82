package checkpoint

import (
	"errors"
	"fmt"

	"github.com/Sumatoshi-tech/gwinfer/pkg/persist"
)

// ReadFile reads a record from any checkpoint, backup or output file.
// Corruption wraps [persist.ErrCorrupted].
func ReadFile(path string) (*Record, persist.Info, error) {
	return persist.NewPersister[Record](nil).Load(path)
}

// LoadLatest loads the most recent checkpoint for output. When only a
// backup exists and output has not been written it is loaded instead. A
// backup next to an existing output belongs to a finished run and is
// ignored. A corrupted checkpoint is reported as [ErrCheckpointCorrupted] so
// the caller can decide to fall back to [LoadBackup]. It returns
// [ErrNoCheckpoint] when there is nothing to resume.
func LoadLatest(output string) (*Record, error) {
	paths := PathsFor(output)

	if !fileExists(paths.Checkpoint) {
		if fileExists(paths.Backup) && !fileExists(paths.Output) {
			return LoadBackup(output)
		}

		return nil, ErrNoCheckpoint
	}

	rec, _, err := ReadFile(paths.Checkpoint)
	if errors.Is(err, persist.ErrCorrupted) {
		return nil, fmt.Errorf("%w: %s: %w", ErrCheckpointCorrupted, paths.Checkpoint, err)
	}

	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}

	return rec, nil
}

// LoadBackup loads {output}.bkup. A corrupted backup is reported as
// [ErrBackupCorrupted].
func LoadBackup(output string) (*Record, error) {
	paths := PathsFor(output)

	if !fileExists(paths.Backup) {
		return nil, fmt.Errorf("%w: no backup at %s", ErrNoCheckpoint, paths.Backup)
	}

	rec, _, err := ReadFile(paths.Backup)
	if errors.Is(err, persist.ErrCorrupted) {
		return nil, fmt.Errorf("%w: %s: %w", ErrBackupCorrupted, paths.Backup, err)
	}

	if err != nil {
		return nil, fmt.Errorf("load backup: %w", err)
	}

	return rec, nil
}
