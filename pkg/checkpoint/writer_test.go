package checkpoint

import (
	"context"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/gwinfer/pkg/persist"
	"github.com/Sumatoshi-tech/gwinfer/pkg/sampler"
)

type normalPosterior struct{}

func (normalPosterior) LogPrior(params []float64) float64 {
	for _, v := range params {
		if math.Abs(v) > 5 {
			return math.Inf(-1)
		}
	}

	return 0
}

func (normalPosterior) LogLikelihood(params []float64) float64 {
	return -0.5 * (params[0]*params[0] + params[1]*params[1])
}

type unitInit struct{}

func (unitInit) Initial(rng *rand.Rand) []float64 {
	return []float64{rng.Float64(), rng.Float64()}
}

// newManager returns a manager over a small two-temperature run.
func newManager(t *testing.T) *sampler.Manager {
	t.Helper()

	state, err := sampler.NewRunState([]string{"x", "y"}, sampler.Ladder{1, 0.5}, 4, 17)
	require.NoError(t, err)

	mgr := sampler.NewManager(state, normalPosterior{}, 2)
	require.NoError(t, mgr.Initialize(context.Background(), unitInit{}))

	return mgr
}

// recordAt advances mgr to iteration and snapshots a record of it.
func recordAt(t *testing.T, mgr *sampler.Manager, iteration int) *Record {
	t.Helper()

	require.NoError(t, mgr.Advance(context.Background(), iteration-mgr.CurrentIteration()))

	var rec *Record

	require.NoError(t, mgr.Locked(func(state *sampler.RunState) error {
		state.BurnIn = sampler.BurnInStatus{BurnedIn: true, Iteration: iteration / 2}
		rec = NewRecord(cloneState(state), Metadata{RunID: "run-1", ACL: 3, EffectiveSamples: 8})

		return nil
	}))

	return rec
}

// cloneState copies the parts of state that later iterations mutate.
func cloneState(state *sampler.RunState) *sampler.RunState {
	out := *state
	out.Chains = append([]sampler.Chain(nil), state.Chains...)

	for i := range out.Chains {
		out.Chains[i].Samples = append([]float64(nil), state.Chains[i].Samples...)
		out.Chains[i].LogLikelihood = append([]float64(nil), state.Chains[i].LogLikelihood...)
		out.Chains[i].LogPrior = append([]float64(nil), state.Chains[i].LogPrior...)
		out.Chains[i].Position = append([]float64(nil), state.Chains[i].Position...)
	}

	out.RNG = append([]byte(nil), state.RNG...)

	return &out
}

func TestWriter_RoundTrip(t *testing.T) {
	t.Parallel()

	for _, codec := range []persist.Codec{persist.NewGobCodec(), persist.NewJSONCodec()} {
		t.Run(codec.Name(), func(t *testing.T) {
			t.Parallel()

			output := filepath.Join(t.TempDir(), "samples.rec")
			w := NewWriter(output, codec)
			rec := recordAt(t, newManager(t), 6)

			require.NoError(t, w.Checkpoint(rec))

			loaded, err := LoadLatest(output)
			require.NoError(t, err)

			assert.Empty(t, cmp.Diff(rec.State, loaded.State))
			assert.Equal(t, rec.Metadata, loaded.Metadata)
			assert.Equal(t, 6, loaded.Metadata.Iteration)
			assert.Equal(t, 6, loaded.Metadata.StoredSamples)
			assert.Equal(t, 3, loaded.Metadata.BurnInIteration)
			assert.NoFileExists(t, w.Paths().CheckpointTmp)
			assert.NoFileExists(t, w.Paths().Backup)
		})
	}
}

func TestWriter_BackupRotation(t *testing.T) {
	t.Parallel()

	output := filepath.Join(t.TempDir(), "samples.rec")
	w := NewWriter(output, nil)
	mgr := newManager(t)

	require.NoError(t, w.Checkpoint(recordAt(t, mgr, 2)))
	require.NoError(t, w.Checkpoint(recordAt(t, mgr, 4)))

	latest, err := LoadLatest(output)
	require.NoError(t, err)
	assert.Equal(t, 4, latest.State.Iteration)

	backup, err := LoadBackup(output)
	require.NoError(t, err)
	assert.Equal(t, 2, backup.State.Iteration)

	require.NoError(t, w.Checkpoint(recordAt(t, mgr, 6)))

	backup, err = LoadBackup(output)
	require.NoError(t, err)
	assert.Equal(t, 4, backup.State.Iteration)
	assert.NoFileExists(t, w.Paths().BackupTmp)
}

func TestLoadLatest_CorruptedFallsBackToBackup(t *testing.T) {
	t.Parallel()

	output := filepath.Join(t.TempDir(), "samples.rec")
	w := NewWriter(output, nil)
	mgr := newManager(t)

	require.NoError(t, w.Checkpoint(recordAt(t, mgr, 2)))
	require.NoError(t, w.Checkpoint(recordAt(t, mgr, 4)))

	truncate(t, w.Paths().Checkpoint)

	_, err := LoadLatest(output)
	require.ErrorIs(t, err, ErrCheckpointCorrupted)
	require.ErrorIs(t, err, persist.ErrCorrupted)

	backup, err := LoadBackup(output)
	require.NoError(t, err)
	assert.Equal(t, 2, backup.State.Iteration)

	truncate(t, w.Paths().Backup)

	_, err = LoadBackup(output)
	require.ErrorIs(t, err, ErrBackupCorrupted)
}

func TestLoadLatest_OnlyBackup(t *testing.T) {
	t.Parallel()

	output := filepath.Join(t.TempDir(), "samples.rec")
	w := NewWriter(output, nil)
	mgr := newManager(t)

	require.NoError(t, w.Checkpoint(recordAt(t, mgr, 2)))
	require.NoError(t, w.Checkpoint(recordAt(t, mgr, 4)))
	require.NoError(t, os.Remove(w.Paths().Checkpoint))

	rec, err := LoadLatest(output)
	require.NoError(t, err)
	assert.Equal(t, 2, rec.State.Iteration)
}

func TestLoadLatest_IgnoresBackupOfFinishedRun(t *testing.T) {
	t.Parallel()

	output := filepath.Join(t.TempDir(), "samples.rec")
	w := NewWriter(output, nil, WithRetainBackup(true))
	mgr := newManager(t)

	require.NoError(t, w.Checkpoint(recordAt(t, mgr, 2)))
	require.NoError(t, w.Checkpoint(recordAt(t, mgr, 4)))
	require.NoError(t, w.Finalize())
	require.FileExists(t, w.Paths().Backup)

	_, err := LoadLatest(output)
	require.ErrorIs(t, err, ErrNoCheckpoint)
}

func TestLoadLatest_NoCheckpoint(t *testing.T) {
	t.Parallel()

	output := filepath.Join(t.TempDir(), "samples.rec")

	_, err := LoadLatest(output)
	require.ErrorIs(t, err, ErrNoCheckpoint)

	_, err = LoadBackup(output)
	require.ErrorIs(t, err, ErrNoCheckpoint)
}

func TestWriter_FailedWriteLeavesPriorFiles(t *testing.T) {
	t.Parallel()

	output := filepath.Join(t.TempDir(), "samples.rec")
	w := NewWriter(output, nil)
	mgr := newManager(t)

	require.NoError(t, w.Checkpoint(recordAt(t, mgr, 2)))
	require.NoError(t, w.Checkpoint(recordAt(t, mgr, 4)))

	checkpointBefore := readBytes(t, w.Paths().Checkpoint)
	backupBefore := readBytes(t, w.Paths().Backup)

	// A directory in place of the temporary file makes the write fail.
	require.NoError(t, os.Mkdir(w.Paths().CheckpointTmp, 0o750))

	err := w.Checkpoint(recordAt(t, mgr, 6))
	require.ErrorIs(t, err, ErrCheckpointWrite)

	assert.Equal(t, checkpointBefore, readBytes(t, w.Paths().Checkpoint))
	assert.Equal(t, backupBefore, readBytes(t, w.Paths().Backup))
	assert.NoDirExists(t, w.Paths().CheckpointTmp)

	// The next interval succeeds.
	require.NoError(t, w.Checkpoint(recordAt(t, mgr, 8)))

	rec, err := LoadLatest(output)
	require.NoError(t, err)
	assert.Equal(t, 8, rec.State.Iteration)
}

func TestWriter_FailedBackupLeavesPriorFiles(t *testing.T) {
	t.Parallel()

	output := filepath.Join(t.TempDir(), "samples.rec")
	w := NewWriter(output, nil)
	mgr := newManager(t)

	require.NoError(t, w.Checkpoint(recordAt(t, mgr, 2)))
	require.NoError(t, w.Checkpoint(recordAt(t, mgr, 4)))

	checkpointBefore := readBytes(t, w.Paths().Checkpoint)
	backupBefore := readBytes(t, w.Paths().Backup)

	require.NoError(t, os.Mkdir(w.Paths().BackupTmp, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(w.Paths().BackupTmp, "keep"), []byte("x"), 0o600))

	err := w.Checkpoint(recordAt(t, mgr, 6))
	require.ErrorIs(t, err, ErrCheckpointWrite)

	assert.Equal(t, checkpointBefore, readBytes(t, w.Paths().Checkpoint))
	assert.Equal(t, backupBefore, readBytes(t, w.Paths().Backup))
	assert.NoFileExists(t, w.Paths().CheckpointTmp)
}

// failRenameTo makes w's renames onto target fail.
func failRenameTo(w *Writer, target string) {
	w.rename = func(oldpath, newpath string) error {
		if newpath == target {
			return &os.LinkError{Op: "rename", Old: oldpath, New: newpath, Err: os.ErrPermission}
		}

		return os.Rename(oldpath, newpath)
	}
}

func TestWriter_FailedRenameLeavesPriorFiles(t *testing.T) {
	t.Parallel()

	output := filepath.Join(t.TempDir(), "samples.rec")
	w := NewWriter(output, nil)
	mgr := newManager(t)

	require.NoError(t, w.Checkpoint(recordAt(t, mgr, 2)))
	require.NoError(t, w.Checkpoint(recordAt(t, mgr, 4)))

	checkpointBefore := readBytes(t, w.Paths().Checkpoint)
	backupBefore := readBytes(t, w.Paths().Backup)

	failRenameTo(w, w.Paths().Checkpoint)

	err := w.Checkpoint(recordAt(t, mgr, 6))
	require.ErrorIs(t, err, ErrCheckpointWrite)

	assert.Equal(t, checkpointBefore, readBytes(t, w.Paths().Checkpoint))
	assert.Equal(t, backupBefore, readBytes(t, w.Paths().Backup))
	assert.NoFileExists(t, w.Paths().CheckpointTmp)
	assert.NoFileExists(t, w.Paths().BackupTmp)
}

func TestWriter_FailedBackupRenameKeepsNewCheckpoint(t *testing.T) {
	t.Parallel()

	output := filepath.Join(t.TempDir(), "samples.rec")
	w := NewWriter(output, nil)
	mgr := newManager(t)

	require.NoError(t, w.Checkpoint(recordAt(t, mgr, 2)))
	require.NoError(t, w.Checkpoint(recordAt(t, mgr, 4)))

	failRenameTo(w, w.Paths().Backup)

	err := w.Checkpoint(recordAt(t, mgr, 6))
	require.ErrorIs(t, err, ErrCheckpointWrite)

	latest, err := LoadLatest(output)
	require.NoError(t, err)
	assert.Equal(t, 6, latest.State.Iteration)

	backup, err := LoadBackup(output)
	require.NoError(t, err)
	assert.Equal(t, 2, backup.State.Iteration)
	assert.NoFileExists(t, w.Paths().BackupTmp)
}

func TestWriter_Finalize(t *testing.T) {
	t.Parallel()

	output := filepath.Join(t.TempDir(), "samples.rec")
	w := NewWriter(output, nil)
	mgr := newManager(t)

	require.NoError(t, w.Checkpoint(recordAt(t, mgr, 2)))
	require.NoError(t, w.Checkpoint(recordAt(t, mgr, 4)))
	require.NoError(t, w.Finalize())

	assert.NoFileExists(t, w.Paths().Checkpoint)
	assert.NoFileExists(t, w.Paths().Backup)

	rec, _, err := ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t, 4, rec.State.Iteration)

	require.ErrorIs(t, w.Finalize(), ErrNoCheckpoint)
}

func TestWriter_FinalizeRetainsBackup(t *testing.T) {
	t.Parallel()

	output := filepath.Join(t.TempDir(), "samples.rec")
	w := NewWriter(output, nil, WithRetainBackup(true))
	mgr := newManager(t)

	require.NoError(t, w.Checkpoint(recordAt(t, mgr, 2)))
	require.NoError(t, w.Checkpoint(recordAt(t, mgr, 4)))
	require.NoError(t, w.Finalize())

	assert.FileExists(t, output)
	assert.FileExists(t, w.Paths().Backup)
}

func TestWriter_Clear(t *testing.T) {
	t.Parallel()

	output := filepath.Join(t.TempDir(), "samples.rec")
	w := NewWriter(output, nil)
	mgr := newManager(t)

	require.NoError(t, w.Checkpoint(recordAt(t, mgr, 2)))
	require.NoError(t, w.Checkpoint(recordAt(t, mgr, 4)))
	require.NoError(t, os.WriteFile(w.Paths().CheckpointTmp, []byte("partial"), 0o600))

	require.NoError(t, w.Clear())

	assert.NoFileExists(t, w.Paths().Checkpoint)
	assert.NoFileExists(t, w.Paths().Backup)
	assert.NoFileExists(t, w.Paths().CheckpointTmp)
	require.NoError(t, w.Clear())
}

func TestNewRecord_UnknownACL(t *testing.T) {
	t.Parallel()

	state, err := sampler.NewRunState([]string{"x"}, sampler.Ladder{1}, 2, 1)
	require.NoError(t, err)

	rec := NewRecord(state, Metadata{ACL: math.Inf(1)})

	assert.InDelta(t, 0.0, rec.Metadata.ACL, 0)
	assert.Equal(t, MetadataVersion, rec.Metadata.Version)
	assert.NotEmpty(t, rec.Metadata.CreatedAt)
	assert.Len(t, NewRunID(), 36)
}

func truncate(t *testing.T, path string) {
	t.Helper()

	data := readBytes(t, path)
	require.NoError(t, os.WriteFile(path, data[:len(data)/2], 0o600))
}

func readBytes(t *testing.T, path string) []byte {
	t.Helper()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	return data
}
