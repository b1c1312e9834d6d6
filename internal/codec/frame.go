package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/golang/snappy"

	"github.com/fluxbridge/fluxbridge/pkg/types"
)

// Wire framing: [4-byte big-endian unsigned length L][L bytes payload].
// L = 0 is the end-of-stream marker and carries no payload. The payload is
// the Snappy-compressed table encoding; the length prefix covers the
// compressed bytes.

// MaxFrameSize caps a single frame's payload. A length above it is treated
// as a protocol error rather than an allocation request.
const MaxFrameSize = 256 << 20

// ErrEndOfStream is returned by ReadTable when the end-of-stream marker is
// read in place of a table frame.
var ErrEndOfStream = errors.New("codec: end of stream")

// WriteTable encodes, compresses, and frames one table onto w.
func WriteTable(w io.Writer, t *types.Table) error {
	raw, err := Encode(t)
	if err != nil {
		return err
	}
	payload := snappy.Encode(nil, raw)
	return WriteFrame(w, payload)
}

// WriteFrame writes one length-prefixed frame. The payload must be non-empty;
// use WriteEndMarker for the terminator.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) == 0 {
		return fmt.Errorf("codec: empty payload is reserved for the end marker")
	}
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("codec: payload of %d bytes exceeds frame limit", len(payload))
	}
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(payload)))
	if _, err := w.Write(prefix[:]); err != nil {
		return fmt.Errorf("codec: failed to write frame length: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("codec: failed to write frame payload: %w", err)
	}
	return nil
}

// WriteEndMarker writes the zero-length end-of-stream marker.
func WriteEndMarker(w io.Writer) error {
	var prefix [4]byte
	if _, err := w.Write(prefix[:]); err != nil {
		return fmt.Errorf("codec: failed to write end marker: %w", err)
	}
	return nil
}

// ReadFrame reads one frame payload. It returns ErrEndOfStream for the
// zero-length marker and io.EOF if the stream closes cleanly between frames.
func ReadFrame(r io.Reader) ([]byte, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("codec: %w: truncated frame length: %v", types.ErrProtocol, err)
	}
	length := binary.BigEndian.Uint32(prefix[:])
	if length == 0 {
		return nil, ErrEndOfStream
	}
	if length > MaxFrameSize {
		return nil, fmt.Errorf("codec: %w: frame length %d exceeds limit", types.ErrProtocol, length)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("codec: %w: truncated frame payload: %v", types.ErrProtocol, err)
	}
	return payload, nil
}

// ReadTable reads one framed table: frame, snappy decompression, then table
// decoding. Returns ErrEndOfStream at the marker.
func ReadTable(r io.Reader) (*types.Table, error) {
	payload, err := ReadFrame(r)
	if err != nil {
		return nil, err
	}
	// The claimed decompressed size obeys the same frame limit as the
	// compressed bytes, so a tiny frame cannot demand a huge buffer.
	decodedLen, err := snappy.DecodedLen(payload)
	if err != nil {
		return nil, fmt.Errorf("codec: %w: snappy decompress failed: %v", types.ErrProtocol, err)
	}
	if decodedLen > MaxFrameSize {
		return nil, fmt.Errorf("codec: %w: decompressed size %d exceeds frame limit", types.ErrProtocol, decodedLen)
	}
	raw, err := snappy.Decode(nil, payload)
	if err != nil {
		return nil, fmt.Errorf("codec: %w: snappy decompress failed: %v", types.ErrProtocol, err)
	}
	return Decode(raw)
}
