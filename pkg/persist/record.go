package persist

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"
)

// ErrCorrupted is returned when a record fails framing or checksum validation.
var ErrCorrupted = errors.New("corrupted record")

// FormatVersion is the current record framing version.
const FormatVersion uint16 = 1

// MaxPayloadSize bounds the compressed payload a header may declare.
const MaxPayloadSize = 4 << 30

// recordMagic opens every record.
var recordMagic = [4]byte{'G', 'W', 'C', 'K'}

// header precedes the compressed payload of a record.
type header struct {
	Magic    [4]byte
	Version  uint16
	Codec    uint8
	_        uint8
	Checksum [sha256.Size]byte
	Length   uint64
}

// Info describes a decoded record frame.
type Info struct {
	Version        uint16
	Codec          string
	CompressedSize int64
}

// Encode writes state to w as a framed record: header, then an LZ4 frame of
// the codec output. The checksum covers the compressed payload.
func Encode(w io.Writer, codec Codec, state any) error {
	var payload bytes.Buffer

	zw := lz4.NewWriter(&payload)

	err := codec.Encode(zw, state)
	if err != nil {
		return err
	}

	err = zw.Close()
	if err != nil {
		return fmt.Errorf("lz4 close: %w", err)
	}

	hdr := header{
		Magic:    recordMagic,
		Version:  FormatVersion,
		Codec:    codec.ID(),
		Checksum: sha256.Sum256(payload.Bytes()),
		Length:   uint64(payload.Len()),
	}

	err = binary.Write(w, binary.LittleEndian, &hdr)
	if err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	_, err = w.Write(payload.Bytes())
	if err != nil {
		return fmt.Errorf("write payload: %w", err)
	}

	return nil
}

// Decode reads a framed record from r into state, which must be a pointer.
// Any framing, checksum or decoding failure wraps [ErrCorrupted].
func Decode(r io.Reader, state any) (Info, error) {
	var hdr header

	err := binary.Read(r, binary.LittleEndian, &hdr)
	if err != nil {
		return Info{}, fmt.Errorf("%w: read header: %w", ErrCorrupted, err)
	}

	if hdr.Magic != recordMagic {
		return Info{}, fmt.Errorf("%w: bad magic %q", ErrCorrupted, hdr.Magic[:])
	}

	if hdr.Version != FormatVersion {
		return Info{}, fmt.Errorf("%w: unsupported format version %d", ErrCorrupted, hdr.Version)
	}

	codec, err := CodecByID(hdr.Codec)
	if err != nil {
		return Info{}, fmt.Errorf("%w: %w", ErrCorrupted, err)
	}

	if hdr.Length > MaxPayloadSize {
		return Info{}, fmt.Errorf("%w: declared payload of %d bytes exceeds %d", ErrCorrupted, hdr.Length, uint64(MaxPayloadSize))
	}

	// Read one byte past the declared length to detect trailing data.
	payload, err := io.ReadAll(io.LimitReader(r, int64(hdr.Length)+1))
	if err != nil {
		return Info{}, fmt.Errorf("%w: read payload: %w", ErrCorrupted, err)
	}

	if uint64(len(payload)) != hdr.Length {
		return Info{}, fmt.Errorf("%w: payload is %d bytes, header declares %d", ErrCorrupted, len(payload), hdr.Length)
	}

	if sha256.Sum256(payload) != hdr.Checksum {
		return Info{}, fmt.Errorf("%w: checksum mismatch", ErrCorrupted)
	}

	err = codec.Decode(lz4.NewReader(bytes.NewReader(payload)), state)
	if err != nil {
		return Info{}, fmt.Errorf("%w: %w", ErrCorrupted, err)
	}

	return Info{Version: hdr.Version, Codec: codec.Name(), CompressedSize: int64(hdr.Length)}, nil
}
