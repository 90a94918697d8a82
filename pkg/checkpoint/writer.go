package checkpoint

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/Sumatoshi-tech/gwinfer/pkg/persist"
)

// Sentinel errors for checkpoint I/O.
var (
	ErrCheckpointWrite     = errors.New("checkpoint write failed")
	ErrCheckpointCorrupted = errors.New("checkpoint corrupted")
	ErrBackupCorrupted     = errors.New("checkpoint and backup both corrupted")
	ErrNoCheckpoint        = errors.New("no checkpoint found")
)

// File suffixes appended to the output path.
const (
	CheckpointSuffix = ".checkpoint"
	BackupSuffix     = ".bkup"
	tmpSuffix        = ".tmp"
)

// Paths lists every file a run writes for one output path.
type Paths struct {
	Output        string
	Checkpoint    string
	Backup        string
	CheckpointTmp string
	BackupTmp     string
}

// PathsFor returns the file layout for output.
func PathsFor(output string) Paths {
	return Paths{
		Output:        output,
		Checkpoint:    output + CheckpointSuffix,
		Backup:        output + BackupSuffix,
		CheckpointTmp: output + CheckpointSuffix + tmpSuffix,
		BackupTmp:     output + BackupSuffix + tmpSuffix,
	}
}

// Writer writes checkpoints for one output path.
type Writer struct {
	paths        Paths
	persister    *persist.Persister[Record]
	retainBackup bool
	rename       func(oldpath, newpath string) error
}

// Option configures a Writer.
type Option func(*Writer)

// WithRetainBackup keeps {output}.bkup after the run is finalized.
func WithRetainBackup(retain bool) Option {
	return func(w *Writer) {
		w.retainBackup = retain
	}
}

// NewWriter creates a checkpoint writer. A nil codec selects gob.
func NewWriter(output string, codec persist.Codec, opts ...Option) *Writer {
	if codec == nil {
		codec = persist.NewGobCodec()
	}

	w := &Writer{
		paths:     PathsFor(output),
		persister: persist.NewPersister[Record](codec),
		rename:    os.Rename,
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// Paths returns the writer's file layout.
func (w *Writer) Paths() Paths {
	return w.paths
}

// Checkpoint writes rec as the new checkpoint. The previous checkpoint is
// staged as {output}.bkup.tmp, the new record is renamed into place, and
// only then does the staged copy replace the backup. A failure before the
// new record is in place leaves the existing checkpoint and backup
// untouched. A failure replacing the backup afterwards keeps the new
// checkpoint and the older backup. Either way the error wraps
// [ErrCheckpointWrite].
func (w *Writer) Checkpoint(rec *Record) error {
	saveErr := w.persister.Save(w.paths.CheckpointTmp, rec)
	if saveErr != nil {
		w.removeTemp()

		return fmt.Errorf("%w: %w", ErrCheckpointWrite, saveErr)
	}

	staged := fileExists(w.paths.Checkpoint)
	if staged {
		copyErr := copyFileSync(w.paths.Checkpoint, w.paths.BackupTmp)
		if copyErr != nil {
			w.removeTemp()

			return fmt.Errorf("%w: backup: %w", ErrCheckpointWrite, copyErr)
		}
	}

	renameErr := w.rename(w.paths.CheckpointTmp, w.paths.Checkpoint)
	if renameErr != nil {
		w.removeTemp()

		return fmt.Errorf("%w: %w", ErrCheckpointWrite, renameErr)
	}

	if staged {
		backupErr := w.rename(w.paths.BackupTmp, w.paths.Backup)
		if backupErr != nil {
			w.removeTemp()

			return fmt.Errorf("%w: rename backup: %w", ErrCheckpointWrite, backupErr)
		}
	}

	syncErr := syncDir(filepath.Dir(w.paths.Checkpoint))
	if syncErr != nil {
		return fmt.Errorf("%w: %w", ErrCheckpointWrite, syncErr)
	}

	return nil
}

// Finalize promotes the checkpoint to the output path and removes the
// backup unless it is retained.
func (w *Writer) Finalize() error {
	if !fileExists(w.paths.Checkpoint) {
		return fmt.Errorf("finalize %s: %w", w.paths.Output, ErrNoCheckpoint)
	}

	err := w.rename(w.paths.Checkpoint, w.paths.Output)
	if err != nil {
		return fmt.Errorf("promote checkpoint: %w", err)
	}

	if !w.retainBackup {
		removeErr := os.Remove(w.paths.Backup)
		if removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
			return fmt.Errorf("remove backup: %w", removeErr)
		}
	}

	return syncDir(filepath.Dir(w.paths.Output))
}

// Clear removes the checkpoint, the backup and any temporary files left by
// an interrupted write. The final output is never touched.
func (w *Writer) Clear() error {
	for _, path := range []string{w.paths.Checkpoint, w.paths.Backup, w.paths.CheckpointTmp, w.paths.BackupTmp} {
		err := os.Remove(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", path, err)
		}
	}

	return nil
}

func (w *Writer) removeTemp() {
	_ = os.Remove(w.paths.CheckpointTmp)
	_ = os.Remove(w.paths.BackupTmp)
}

func copyFileSync(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, persist.FileMode)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}

	_, err = io.Copy(out, in)
	if err == nil {
		err = out.Sync()
	}

	closeErr := out.Close()
	if err != nil {
		return fmt.Errorf("copy to %s: %w", dst, err)
	}

	if closeErr != nil {
		return fmt.Errorf("close %s: %w", dst, closeErr)
	}

	return nil
}

func syncDir(dir string) error {
	handle, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("open dir: %w", err)
	}
	defer handle.Close()

	err = handle.Sync()
	if err != nil {
		return fmt.Errorf("sync dir: %w", err)
	}

	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)

	return err == nil && info.Mode().IsRegular()
}
