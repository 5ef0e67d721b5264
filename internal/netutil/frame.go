// Package netutil implements the length-prefixed multi-frame transport
// underlying the three sockets of spec §6 (command_endpoint, intake,
// worker_endpoint). original_source uses ZeroMQ's native multi-frame
// messages; no pack example vendors a Go ZeroMQ binding (checked every
// go.mod in the retrieval set), so this package reproduces ZeroMQ's
// multi-frame message boundary over plain net.Conn, the one place
// SPEC_FULL.md reaches for stdlib networking instead of a pack dependency
// (see SPEC_FULL.md §5, DESIGN.md).
package netutil

import (
	"encoding/binary"
	"io"

	"golang.org/x/xerrors"
)

// maxFrameLen bounds a single frame to defend against a corrupt peer
// forcing an unbounded allocation; no message in spec §4.1's vocabulary
// approaches this size.
const maxFrameLen = 256 << 20

// WriteFrames writes one multi-frame message: a big-endian uint32 frame
// count, followed by each frame as a big-endian uint32 length prefix and
// its bytes.
func WriteFrames(w io.Writer, frames ...[]byte) error {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(frames)))
	if _, err := w.Write(hdr[:]); err != nil {
		return xerrors.Errorf("netutil: write frame count: %w", err)
	}
	for _, f := range frames {
		binary.BigEndian.PutUint32(hdr[:], uint32(len(f)))
		if _, err := w.Write(hdr[:]); err != nil {
			return xerrors.Errorf("netutil: write frame length: %w", err)
		}
		if _, err := w.Write(f); err != nil {
			return xerrors.Errorf("netutil: write frame body: %w", err)
		}
	}
	return nil
}

// ReadFrames reads back one message written by WriteFrames.
func ReadFrames(r io.Reader) ([][]byte, error) {
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	frames := make([][]byte, n)
	for i := range frames {
		flen, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		if flen > maxFrameLen {
			return nil, xerrors.Errorf("netutil: frame length %d exceeds max %d", flen, maxFrameLen)
		}
		buf := make([]byte, flen)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, xerrors.Errorf("netutil: read frame body: %w", err)
		}
		frames[i] = buf
	}
	return frames, nil
}

func readUint32(r io.Reader) (uint32, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, xerrors.Errorf("netutil: read length prefix: %w", err)
	}
	return binary.BigEndian.Uint32(hdr[:]), nil
}
