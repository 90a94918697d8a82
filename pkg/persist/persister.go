package persist

import (
	"bufio"
	"fmt"
	"os"
)

// FileMode is the permission of record files.
const FileMode = 0o644

// Persister handles record file I/O for a specific state type using a Codec.
type Persister[T any] struct {
	codec Codec
}

// NewPersister creates a persister with the given codec.
func NewPersister[T any](codec Codec) *Persister[T] {
	return &Persister[T]{codec: codec}
}

// Codec returns the codec new records are written with.
func (p *Persister[T]) Codec() Codec {
	return p.codec
}

// Save writes state to path and fsyncs it. A failed save may leave a
// partial file at path; callers write to a temporary name and rename.
func (p *Persister[T]) Save(path string, state *T) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, FileMode)
	if err != nil {
		return fmt.Errorf("create record file: %w", err)
	}

	buffered := bufio.NewWriter(file)

	err = Encode(buffered, p.codec, state)
	if err == nil {
		err = buffered.Flush()
	}

	if err == nil {
		err = file.Sync()
	}

	closeErr := file.Close()
	if err != nil {
		return fmt.Errorf("write record file: %w", err)
	}

	if closeErr != nil {
		return fmt.Errorf("close record file: %w", closeErr)
	}

	return nil
}

// Load reads a record from path. The record's own codec is used, whatever
// codec the persister writes with.
func (p *Persister[T]) Load(path string) (*T, Info, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, Info{}, fmt.Errorf("open record file: %w", err)
	}
	defer file.Close()

	var state T

	info, err := Decode(bufio.NewReader(file), &state)
	if err != nil {
		return nil, Info{}, err
	}

	return &state, info, nil
}
