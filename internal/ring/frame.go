package ring

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxFrameSize caps a single frame. Collection frames carry every sealed row
// of the union, so the cap is generous; anything beyond it is a protocol
// violation rather than a legitimate payload.
const MaxFrameSize = 256 << 20

// WriteFrame writes a length-prefixed blob: 4-byte big-endian length followed
// by the payload.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("frame of %d bytes exceeds limit", len(payload))
	}
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("writing frame header: %v", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("writing frame payload: %v", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed blob.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("reading frame header: %v", err)
	}
	size := binary.BigEndian.Uint32(header[:])
	if size > MaxFrameSize {
		return nil, fmt.Errorf("frame of %d bytes exceeds limit", size)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("reading frame payload: %v", err)
	}
	return payload, nil
}
